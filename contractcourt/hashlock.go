package contractcourt

import (
	"fmt"

	"github.com/pqlnc/pqlnd/lntypes"
)

// HashLockTerms commits a contract to the hash of a secret. Every hop of a
// payment carries the same hash, which makes hops correlatable by a party
// that sits on more than one of them. Point locked contracts avoid this.
type HashLockTerms struct {
	// PaymentHash is the commitment. Settlement requires the matching
	// preimage.
	PaymentHash lntypes.Hash
}

// verifyHashLock checks the presented preimage against the commitment and
// the contract's deadline.
func verifyHashLock(terms *HashLockTerms, proof Proof, height,
	timeout uint32) error {

	if proof.Preimage == nil {
		return fmt.Errorf("%w: no preimage presented", ErrInvalidProof)
	}

	if !proof.Preimage.Matches(terms.PaymentHash) {
		return fmt.Errorf("%w: preimage does not match hash %v",
			ErrInvalidProof, terms.PaymentHash)
	}

	if timeout != 0 && height > timeout {
		return fmt.Errorf("%w: reveal at height %d is past deadline %d",
			ErrInvalidProof, height, timeout)
	}

	return nil
}
