package multimutex

import (
	"fmt"
	"sync"
)

// cntMutex is a mutex with a count of the goroutines currently holding or
// waiting for it. It is used to decide when the mutex can be removed from the
// set again.
type cntMutex struct {
	cnt int
	sync.Mutex
}

// Mutex is a set of mutexes keyed by an arbitrary comparable identifier. It
// is used for making sure only one goroutine gets given the mutex per key,
// while operations under different keys proceed fully in parallel. Payments
// and contract instances are both serialized this way.
type Mutex[T comparable] struct {
	// mutexes is a map of keys to a cntMutex. The cntMutex for a given key
	// will hold the mutex to be used by all callers requesting access for
	// the key, in addition to the count of callers.
	mutexes map[T]*cntMutex

	// mapMtx is used to give synchronize concurrent access to the mutexes
	// map.
	mapMtx sync.Mutex
}

// NewMutex creates a new multi mutex.
func NewMutex[T comparable]() *Mutex[T] {
	return &Mutex[T]{
		mutexes: make(map[T]*cntMutex),
	}
}

// Lock locks the mutex by the given key. If the mutex is already locked by
// this key, Lock blocks until the mutex is available.
func (m *Mutex[T]) Lock(key T) {
	m.mapMtx.Lock()
	mtx, ok := m.mutexes[key]
	if ok {
		// If the mutex already existed in the map, we increment its
		// counter, to indicate that there now is one more goroutine
		// waiting for it.
		mtx.cnt++
	} else {
		// If it was not in the map, it means no other goroutine has
		// locked the mutex for this key, and we can create a new
		// mutex with count 1 and add it to the map.
		mtx = &cntMutex{
			cnt: 1,
		}
		m.mutexes[key] = mtx
	}
	m.mapMtx.Unlock()

	mtx.Lock()
}

// Unlock unlocks the mutex by the given key. It is a run-time error if the
// mutex is not locked by the key on entry to Unlock.
func (m *Mutex[T]) Unlock(key T) {
	m.mapMtx.Lock()

	mtx, ok := m.mutexes[key]
	if !ok {
		// The mutex not existing in the map means an unlock for a key
		// not currently locked was attempted.
		panic(fmt.Sprintf("double unlock for key %v", key))
	}

	// Decrement the counter. If the count goes to zero, it means this
	// caller was the last one to wait for the mutex, and we can delete it
	// from the map. We can do this safely since we are under the mapMtx,
	// meaning that all other goroutines waiting for the mutex already have
	// incremented it, or will create a new mutex when they get the mapMtx.
	mtx.cnt--
	if mtx.cnt == 0 {
		delete(m.mutexes, key)
	}
	m.mapMtx.Unlock()

	mtx.Unlock()
}
