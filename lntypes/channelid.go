package lntypes

import (
	"encoding/hex"
	"fmt"
)

// ChannelIDSize is the size of a serialized channel identifier.
const ChannelIDSize = 32

// ChannelID uniquely identifies a payment channel between two endpoints. It
// is carried in the clear inside each hop's forwarding instruction to name
// the outgoing channel the hop should forward over.
type ChannelID [ChannelIDSize]byte

// MakeChannelID returns a new ChannelID from a byte slice. An error is
// returned if the number of bytes passed in is not ChannelIDSize.
func MakeChannelID(b []byte) (ChannelID, error) {
	if len(b) != ChannelIDSize {
		return ChannelID{}, fmt.Errorf("invalid channel id length of "+
			"%v, want %v", len(b), ChannelIDSize)
	}

	var cid ChannelID
	copy(cid[:], b)

	return cid, nil
}

// String returns the ChannelID as a hexadecimal string.
func (c ChannelID) String() string {
	return hex.EncodeToString(c[:])
}
