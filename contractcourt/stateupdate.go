package contractcourt

import (
	"encoding/binary"
	"fmt"

	"github.com/pqlnc/pqlnd/lntypes"
)

// StateUpdateTerms configures a contract that carries no per-payment
// commitment. The channel has a single monotonically increasing update
// number; any later update invalidates all earlier ones, so settlement is
// just publishing the latest signed update.
type StateUpdateTerms struct {
	// UpdateNumber is the highest update number seen when the contract
	// was proposed.
	UpdateNumber uint64

	// SettlementDelay is the number of blocks that must elapse after an
	// update is published before it becomes final. The contract's
	// deadline is the lock height plus this delay.
	SettlementDelay uint32
}

// ChannelUpdate is a signed channel state, the settlement proof of a state
// update contract.
type ChannelUpdate struct {
	// Number is the update's sequence number.
	Number uint64

	// Sig is the counterparty's signature over the update.
	Sig []byte
}

// UpdateSigMsg returns the message a channel update signature covers. It is
// what a Signer implementation is asked to sign or verify.
func UpdateSigMsg(chanID lntypes.ChannelID, number uint64) []byte {
	msg := make([]byte, 0, len(chanID)+8)
	msg = append(msg, chanID[:]...)
	msg = binary.BigEndian.AppendUint64(msg, number)

	return msg
}

// verifyStateUpdate checks that the presented update is at least as recent
// as every update the contract has seen, and that its signature verifies.
func verifyStateUpdate(terms *StateUpdateTerms, chanID lntypes.ChannelID,
	proof Proof, signer Signer) error {

	if proof.Update == nil {
		return fmt.Errorf("%w: no channel update presented",
			ErrInvalidProof)
	}

	if proof.Update.Number < terms.UpdateNumber {
		return fmt.Errorf("%w: update %d older than %d",
			ErrUpdateRegression, proof.Update.Number,
			terms.UpdateNumber)
	}

	msg := UpdateSigMsg(chanID, proof.Update.Number)
	if !signer.VerifyUpdate(chanID, msg, proof.Update.Sig) {
		return fmt.Errorf("%w: bad signature on update %d",
			ErrInvalidProof, proof.Update.Number)
	}

	return nil
}
