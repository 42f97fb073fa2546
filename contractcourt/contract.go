package contractcourt

import (
	"fmt"

	"github.com/pqlnc/pqlnd/lntypes"
)

// State describes the lifecycle position of a contract. Contracts move
// strictly forward: Proposed to Locked, then to exactly one of the three
// terminal states. A terminal state is never left.
type State uint8

const (
	// StateProposed is the initial state of a freshly registered
	// contract. The amount is reserved but not yet committed.
	StateProposed State = iota

	// StateLocked means both channel endpoints have committed to the
	// contract and the locked amount is in flight.
	StateLocked

	// StateSettled means a valid proof was presented before the deadline
	// and the locked amount moved forward.
	StateSettled

	// StateFailed means the contract was cancelled before settlement and
	// the locked amount returned to the proposer.
	StateFailed

	// StateTimedOut means the deadline elapsed with no valid proof.
	StateTimedOut
)

// Terminal returns true if no further transition is permitted from s.
func (s State) Terminal() bool {
	switch s {
	case StateSettled, StateFailed, StateTimedOut:
		return true
	}

	return false
}

// String returns a human readable representation of the state.
func (s State) String() string {
	switch s {
	case StateProposed:
		return "Proposed"
	case StateLocked:
		return "Locked"
	case StateSettled:
		return "Settled"
	case StateFailed:
		return "Failed"
	case StateTimedOut:
		return "TimedOut"
	default:
		return fmt.Sprintf("State(%d)", s)
	}
}

// Kind selects which commitment primitive a contract uses. The lifecycle is
// identical across kinds; only the settlement proof differs.
type Kind uint8

const (
	// KindHashLock commits to the hash of a secret. Settlement reveals
	// the secret.
	KindHashLock Kind = iota

	// KindPointLock commits to a curve point. Settlement reveals the
	// point's discrete log, completing a pre-shared adaptor signature.
	KindPointLock

	// KindStateUpdate carries no per-payment commitment. Settlement
	// publishes the latest numbered channel update.
	KindStateUpdate
)

// String returns a human readable representation of the contract kind.
func (k Kind) String() string {
	switch k {
	case KindHashLock:
		return "HashLock"
	case KindPointLock:
		return "PointLock"
	case KindStateUpdate:
		return "StateUpdate"
	default:
		return fmt.Sprintf("Kind(%d)", k)
	}
}

// ContractTerms describes a contract to be proposed on a channel. Exactly
// one of the variant term structs must be set, matching Kind.
type ContractTerms struct {
	// ChannelID identifies the channel the contract rides on.
	ChannelID lntypes.ChannelID

	// Amount is the number of units locked by the contract.
	Amount uint64

	// Timeout is the absolute height after which the contract may be
	// timed out. Ignored for KindStateUpdate, which derives its deadline
	// from the settlement delay instead.
	Timeout uint32

	// Kind selects the commitment primitive.
	Kind Kind

	// HashLock holds the terms for KindHashLock contracts.
	HashLock *HashLockTerms

	// PointLock holds the terms for KindPointLock contracts.
	PointLock *PointLockTerms

	// StateUpdate holds the terms for KindStateUpdate contracts.
	StateUpdate *StateUpdateTerms
}

// validate checks that the variant terms match the declared kind.
func (t *ContractTerms) validate() error {
	switch t.Kind {
	case KindHashLock:
		if t.HashLock == nil {
			return fmt.Errorf("%w: missing hash lock terms",
				ErrInvalidProof)
		}

	case KindPointLock:
		if t.PointLock == nil || t.PointLock.PaymentPoint == nil ||
			t.PointLock.AdaptorSig == nil {

			return fmt.Errorf("%w: missing point lock terms",
				ErrInvalidProof)
		}

	case KindStateUpdate:
		if t.StateUpdate == nil {
			return fmt.Errorf("%w: missing state update terms",
				ErrInvalidProof)
		}

	default:
		return fmt.Errorf("unknown contract kind %v", t.Kind)
	}

	return nil
}

// Proof carries the settlement material for a contract. Which field is
// consulted depends on the contract's kind.
type Proof struct {
	// Preimage settles a hash locked contract.
	Preimage *lntypes.Preimage

	// Scalar settles a point locked contract. It must be the discrete
	// log of the contract's payment point.
	Scalar *Scalar

	// Update settles a state update contract.
	Update *ChannelUpdate
}

// contract is the internal record tracked by the registry. All fields after
// construction are guarded by the registry's per-contract mutex.
type contract struct {
	id    lntypes.Hash
	terms ContractTerms

	state State

	// timeout is the effective deadline. For state update contracts it
	// is zero until lock, at which point the settlement delay is added
	// to the current height.
	timeout uint32

	// ledgerApplied guards the single permitted balance mutation.
	ledgerApplied bool
}

// transition moves the contract to the next state after checking the move is
// permitted. On rejection the contract is unchanged.
func (c *contract) transition(next State) error {
	if c.state.Terminal() {
		return fmt.Errorf("%w: contract %v is %v", ErrInvalidTransition,
			c.id, c.state)
	}

	switch {
	case next == StateLocked && c.state == StateProposed:
	case next.Terminal():
	default:
		return fmt.Errorf("%w: %v -> %v", ErrInvalidTransition,
			c.state, next)
	}

	log.Debugf("Contract(%v): %v -> %v", c.id, c.state, next)
	c.state = next

	return nil
}
