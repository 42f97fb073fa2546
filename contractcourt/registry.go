package contractcourt

import (
	"crypto/rand"
	"fmt"
	"sync"

	"github.com/pqlnc/pqlnd/lntypes"
	"github.com/pqlnc/pqlnd/multimutex"
)

// LedgerDriver is the channel balance store. The registry mutates a balance
// only through a settled contract, and at most once per contract instance.
type LedgerDriver interface {
	// ApplySettlement moves the contract amount across the channel.
	ApplySettlement(chanID lntypes.ChannelID, amount uint64) error
}

// Signer verifies channel update signatures for state update contracts. The
// signature algorithm itself is opaque to this package.
type Signer interface {
	// SignUpdate signs the passed message for the channel.
	SignUpdate(chanID lntypes.ChannelID, msg []byte) ([]byte, error)

	// VerifyUpdate checks a signature over the passed message.
	VerifyUpdate(chanID lntypes.ChannelID, msg []byte, sig []byte) bool
}

// RegistryConfig holds the registry's external collaborators.
type RegistryConfig struct {
	// Ledger applies settled amounts to channel balances.
	Ledger LedgerDriver

	// Signer verifies state update signatures. May be nil if no state
	// update contracts are proposed.
	Signer Signer
}

// Registry tracks every live contract instance and drives each through its
// lifecycle. Operations on distinct contracts proceed in parallel;
// operations on the same contract are serialized by a per-contract mutex.
type Registry struct {
	cfg RegistryConfig

	mtx       sync.RWMutex
	contracts map[lntypes.Hash]*contract

	// contractMtx serializes lifecycle operations per contract id.
	contractMtx *multimutex.Mutex[lntypes.Hash]

	// bestHeight is the latest height pushed in via NotifyHeight,
	// guarded by mtx.
	bestHeight uint32
}

// NewRegistry creates a new contract registry.
func NewRegistry(cfg RegistryConfig) *Registry {
	return &Registry{
		cfg:         cfg,
		contracts:   make(map[lntypes.Hash]*contract),
		contractMtx: multimutex.NewMutex[lntypes.Hash](),
	}
}

// Propose registers a new contract in state Proposed and returns its id.
func (r *Registry) Propose(terms ContractTerms) (lntypes.Hash, error) {
	if err := terms.validate(); err != nil {
		return lntypes.ZeroHash, err
	}

	var id lntypes.Hash
	if _, err := rand.Read(id[:]); err != nil {
		return lntypes.ZeroHash, err
	}

	c := &contract{
		id:      id,
		terms:   terms,
		state:   StateProposed,
		timeout: terms.Timeout,
	}

	// State update contracts have no per-payment deadline until locked.
	if terms.Kind == KindStateUpdate {
		c.timeout = 0
	}

	r.mtx.Lock()
	r.contracts[id] = c
	r.mtx.Unlock()

	log.Debugf("Contract(%v): proposed %v for %d units on chan %v",
		id, terms.Kind, terms.Amount, terms.ChannelID)

	return id, nil
}

// Lock commits a proposed contract, moving the amount in flight.
func (r *Registry) Lock(id lntypes.Hash) error {
	r.contractMtx.Lock(id)
	defer r.contractMtx.Unlock(id)

	c, err := r.fetch(id)
	if err != nil {
		return err
	}

	if err := c.transition(StateLocked); err != nil {
		return err
	}

	// The state update variant's deadline starts at the lock height.
	if c.terms.Kind == KindStateUpdate {
		c.timeout = r.currentHeight() +
			c.terms.StateUpdate.SettlementDelay
	}

	return nil
}

// Settle resolves a locked contract with the presented proof. The proof is
// verified against the contract's commitment before any state changes, and
// the channel ledger is mutated exactly once per contract.
func (r *Registry) Settle(id lntypes.Hash, proof Proof) error {
	r.contractMtx.Lock(id)
	defer r.contractMtx.Unlock(id)

	c, err := r.fetch(id)
	if err != nil {
		return err
	}

	if c.state != StateLocked {
		return fmt.Errorf("%w: settle of contract %v in state %v",
			ErrInvalidTransition, id, c.state)
	}

	height := r.currentHeight()

	switch c.terms.Kind {
	case KindHashLock:
		err = verifyHashLock(c.terms.HashLock, proof, height,
			c.timeout)

	case KindPointLock:
		_, err = verifyPointLock(c.terms.PointLock, proof, height,
			c.timeout)

	case KindStateUpdate:
		if r.cfg.Signer == nil {
			return fmt.Errorf("no signer configured for state " +
				"update contracts")
		}
		err = verifyStateUpdate(c.terms.StateUpdate,
			c.terms.ChannelID, proof, r.cfg.Signer)
	}
	if err != nil {
		return err
	}

	log.Tracef("Contract(%v) settling with proof: %v", id,
		spewLogClosure(proof))

	// Apply the ledger before transitioning, so that a ledger failure
	// leaves the contract Locked and the settle retryable with the same
	// proof.
	if !c.ledgerApplied {
		err := r.cfg.Ledger.ApplySettlement(
			c.terms.ChannelID, c.terms.Amount,
		)
		if err != nil {
			return err
		}
		c.ledgerApplied = true
	}

	return c.transition(StateSettled)
}

// Fail cancels a non-terminal contract, releasing the reserved amount. No
// ledger mutation occurs.
func (r *Registry) Fail(id lntypes.Hash, reason error) error {
	r.contractMtx.Lock(id)
	defer r.contractMtx.Unlock(id)

	c, err := r.fetch(id)
	if err != nil {
		return err
	}

	if err := c.transition(StateFailed); err != nil {
		return err
	}

	log.Debugf("Contract(%v) failed: %v", id, reason)

	return nil
}

// CheckTimeout transitions the contract to TimedOut if its deadline has
// elapsed at the passed height. It reports whether the contract timed out
// during this call.
func (r *Registry) CheckTimeout(id lntypes.Hash, height uint32) (bool, error) {
	r.contractMtx.Lock(id)
	defer r.contractMtx.Unlock(id)

	c, err := r.fetch(id)
	if err != nil {
		return false, err
	}

	if c.state.Terminal() {
		return false, nil
	}

	if c.timeout == 0 || height <= c.timeout {
		return false, nil
	}

	if err := c.transition(StateTimedOut); err != nil {
		return false, err
	}

	return true, nil
}

// NotifyHeight records a new best height and sweeps every live contract for
// elapsed deadlines. The ids of contracts that timed out are returned.
func (r *Registry) NotifyHeight(height uint32) []lntypes.Hash {
	r.mtx.Lock()
	if height <= r.bestHeight {
		r.mtx.Unlock()
		return nil
	}
	r.bestHeight = height

	ids := make([]lntypes.Hash, 0, len(r.contracts))
	for id := range r.contracts {
		ids = append(ids, id)
	}
	r.mtx.Unlock()

	var timedOut []lntypes.Hash
	for _, id := range ids {
		expired, err := r.CheckTimeout(id, height)
		if err != nil {
			continue
		}
		if expired {
			timedOut = append(timedOut, id)
		}
	}

	if len(timedOut) > 0 {
		log.Infof("Height %d timed out %d contract(s)", height,
			len(timedOut))
	}

	return timedOut
}

// State returns the current lifecycle state of a contract.
func (r *Registry) State(id lntypes.Hash) (State, error) {
	r.mtx.RLock()
	defer r.mtx.RUnlock()

	c, ok := r.contracts[id]
	if !ok {
		return 0, ErrContractNotFound
	}

	return c.state, nil
}

// Release drops a terminal contract from the registry. A payment calls this
// for each of its contracts once the payment itself is terminal.
func (r *Registry) Release(id lntypes.Hash) error {
	r.contractMtx.Lock(id)
	defer r.contractMtx.Unlock(id)

	r.mtx.Lock()
	defer r.mtx.Unlock()

	c, ok := r.contracts[id]
	if !ok {
		return ErrContractNotFound
	}

	if !c.state.Terminal() {
		return fmt.Errorf("%w: release of live contract %v in "+
			"state %v", ErrInvalidTransition, id, c.state)
	}

	delete(r.contracts, id)

	return nil
}

// fetch returns the live contract record for id. Callers must hold the
// per-contract mutex.
func (r *Registry) fetch(id lntypes.Hash) (*contract, error) {
	r.mtx.RLock()
	defer r.mtx.RUnlock()

	c, ok := r.contracts[id]
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrContractNotFound, id)
	}

	return c, nil
}

// currentHeight returns the latest height pushed into the registry.
func (r *Registry) currentHeight() uint32 {
	r.mtx.RLock()
	defer r.mtx.RUnlock()

	return r.bestHeight
}
