package contractcourt

import "errors"

var (
	// ErrContractNotFound is returned when an operation references a
	// contract id that was never proposed, or that has already been
	// released by its owning payment.
	ErrContractNotFound = errors.New("contract not found")

	// ErrInvalidTransition is returned when a lifecycle operation is
	// attempted from a state that doesn't permit it. The contract is
	// left exactly as it was.
	ErrInvalidTransition = errors.New("invalid contract transition")

	// ErrInvalidProof is returned when the settlement material presented
	// doesn't satisfy the contract's commitment.
	ErrInvalidProof = errors.New("invalid settlement proof")

	// ErrUpdateRegression is returned when a state update contract is
	// presented with an update older than the one it has already seen.
	ErrUpdateRegression = errors.New("channel update number regressed")
)
