package routing

import (
	"fmt"
	"sync"

	"github.com/cloudflare/circl/kem"

	"github.com/pqlnc/pqlnd/lntypes"
	"github.com/pqlnc/pqlnd/sphinx"
)

// PaymentState is the aggregate outcome of a payment across all of its
// paths.
type PaymentState uint8

const (
	// PaymentInFlight means at least one path is still live and no path
	// has failed.
	PaymentInFlight PaymentState = iota

	// PaymentSucceeded means every path settled.
	PaymentSucceeded

	// PaymentFailed means at least one path failed or timed out and the
	// remaining paths have been released.
	PaymentFailed
)

// Terminal returns true once the payment's outcome can no longer change.
func (s PaymentState) Terminal() bool {
	return s != PaymentInFlight
}

// String returns a human readable representation of the payment state.
func (s PaymentState) String() string {
	switch s {
	case PaymentInFlight:
		return "InFlight"
	case PaymentSucceeded:
		return "Succeeded"
	case PaymentFailed:
		return "Failed"
	default:
		return fmt.Sprintf("PaymentState(%d)", s)
	}
}

// pathState tracks one path of a payment.
type pathState uint8

const (
	pathInFlight pathState = iota
	pathSettled
	pathFailed
)

// path is one routed shard of a payment.
type path struct {
	index int
	route *Route

	// amount is the amount delivered to the destination over this path,
	// excluding fees.
	amount uint64

	// preimage is the path's settlement secret, derived from the
	// payment's root secret. Its hash is the commitment carried by every
	// hash locked hop of this path.
	preimage lntypes.Preimage
	hash     lntypes.Hash

	// sessionKey seeds the path's onion packet. Together with circuit it
	// is also what the origin needs to peel a returned error onion.
	sessionKey [32]byte
	circuit    []kem.PublicKey

	packet *sphinx.OnionPacket

	// contracts holds one registry id per hop, in route order.
	contracts []lntypes.Hash

	state pathState
}

// payment is the internal record of one logical transfer, possibly split
// across several paths. All mutable fields are guarded by the manager's
// per-payment mutex.
type payment struct {
	id lntypes.Hash

	// rootSecret is the one secret all per-path material is derived
	// from.
	rootSecret lntypes.Preimage

	totalAmount uint64

	paths []*path

	// stateMtx guards state, which status queries read without holding
	// the per-payment mutex.
	stateMtx sync.RWMutex
	state    PaymentState

	// done is closed exactly once, when the payment reaches a terminal
	// state.
	done chan struct{}
}

// currentState returns the aggregate state of the payment.
func (p *payment) currentState() PaymentState {
	p.stateMtx.RLock()
	defer p.stateMtx.RUnlock()

	return p.state
}

// fetchPath returns the path with the given index.
func (p *payment) fetchPath(idx int) (*path, error) {
	if idx < 0 || idx >= len(p.paths) {
		return nil, fmt.Errorf("%w: no path %d", ErrPaymentNotFound,
			idx)
	}

	return p.paths[idx], nil
}

// livePaths counts the paths that are neither settled nor failed.
func (p *payment) livePaths() int {
	var n int
	for _, s := range p.paths {
		if s.state == pathInFlight {
			n++
		}
	}

	return n
}

// settledPaths counts the paths that settled.
func (p *payment) settledPaths() int {
	var n int
	for _, s := range p.paths {
		if s.state == pathSettled {
			n++
		}
	}

	return n
}

// resolve recomputes the aggregate state from the per-path states. It must
// run under the payment's lock so that no path transition can interleave
// with the aggregation.
func (p *payment) resolve() PaymentState {
	p.stateMtx.Lock()
	defer p.stateMtx.Unlock()

	if p.state.Terminal() {
		return p.state
	}

	settled := p.settledPaths()
	switch {
	case settled == len(p.paths):
		p.state = PaymentSucceeded
		close(p.done)

	case p.livePaths() == 0:
		// Some path failed and nothing is in flight anymore.
		p.state = PaymentFailed
		close(p.done)
	}

	return p.state
}
