package lntypes

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// PreimageSize of array used to store preimages.
const PreimageSize = 32

// Preimage is used in several of the payment messages and common structures.
// It represents a payment preimage: the secret whose sha256 hash is the
// commitment a hash-locked contract is opened against.
type Preimage [PreimageSize]byte

// String returns the Preimage as a hexadecimal string.
func (p Preimage) String() string {
	return hex.EncodeToString(p[:])
}

// RandomPreimage returns a preimage of cryptographically random bytes.
func RandomPreimage() (*Preimage, error) {
	var preimage Preimage
	if _, err := rand.Read(preimage[:]); err != nil {
		return nil, err
	}

	return &preimage, nil
}

// MakePreimage returns a new Preimage from a bytes slice. An error is
// returned if the number of bytes passed in is not PreimageSize.
func MakePreimage(newPreimage []byte) (Preimage, error) {
	nplen := len(newPreimage)
	if nplen != PreimageSize {
		return Preimage{}, fmt.Errorf("invalid preimage length of %v, "+
			"want %v", nplen, PreimageSize)
	}

	var preimage Preimage
	copy(preimage[:], newPreimage)

	return preimage, nil
}

// Hash returns the sha256 hash of the preimage.
func (p *Preimage) Hash() Hash {
	return Hash(sha256.Sum256(p[:]))
}

// Matches returns whether this preimage is the preimage of the given hash.
func (p *Preimage) Matches(h Hash) bool {
	return h == p.Hash()
}
