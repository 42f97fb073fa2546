package sphinx

import (
	"crypto/hmac"
	"crypto/sha256"
	"fmt"

	"github.com/cloudflare/circl/kem"
	"github.com/cloudflare/circl/kem/mlkem/mlkem768"
)

// DefaultScheme is the key encapsulation mechanism packets are built with
// unless the caller selects another scheme. All nodes on a route must agree
// on the scheme out of band, since it fixes the packet geometry.
func DefaultScheme() kem.Scheme {
	return mlkem768.Scheme()
}

// SingleKeyKEM is an abstraction interface that hides the implementation of
// the decapsulation operation against a specific private key. We use this
// abstraction for the long term keys which we eventually want to be able to
// keep in a hardware module.
type SingleKeyKEM interface {
	// PubKey returns the public key of the private key that is abstracted
	// away by the interface.
	PubKey() kem.PublicKey

	// Decapsulate recovers the shared secret transported by the given
	// ciphertext. The output returned is the sha256 of the raw
	// encapsulated secret.
	Decapsulate(ciphertext []byte) (Hash256, error)
}

// PrivKeyKEM is an implementation of the SingleKeyKEM in which we do have
// the full private key in memory.
type PrivKeyKEM struct {
	// Scheme is the KEM scheme the key belongs to.
	Scheme kem.Scheme

	// PrivKey is the private key that is used for decapsulation.
	PrivKey kem.PrivateKey
}

// PubKey returns the public key of the wrapped private key.
//
// NOTE: This is part of the SingleKeyKEM interface.
func (p *PrivKeyKEM) PubKey() kem.PublicKey {
	return p.PrivKey.Public()
}

// Decapsulate recovers the shared secret transported by the given
// ciphertext.
//
// NOTE: This is part of the SingleKeyKEM interface.
func (p *PrivKeyKEM) Decapsulate(ciphertext []byte) (Hash256, error) {
	rawSecret, err := p.Scheme.Decapsulate(p.PrivKey, ciphertext)
	if err != nil {
		return Hash256{}, ErrDecapsulationFailed
	}

	return sha256.Sum256(rawSecret), nil
}

// encapSeed derives the deterministic encapsulation seed for the hop at the
// given route position. The derivation is one-way in the session key, and
// per-hop seeds are mutually independent, so rebuilding a packet with the
// same session key reproduces it exactly while leaking nothing across hops.
func encapSeed(sessionKey [32]byte, hopIndex int, seedLen int) []byte {
	seed := make([]byte, 0, seedLen)

	var counter byte
	for len(seed) < seedLen {
		mac := hmac.New(sha256.New, sessionKey[:])
		mac.Write([]byte("kemseed"))
		mac.Write([]byte{byte(hopIndex), counter})
		seed = mac.Sum(seed)
		counter++
	}

	return seed[:seedLen]
}

// GenerateSharedSecrets performs one key encapsulation per hop of the route,
// yielding the per-hop shared secrets along with the ciphertexts that let
// each hop recover its secret. Encapsulation randomness is derived from the
// session key and the hop index, so the operation is deterministic per
// session.
func GenerateSharedSecrets(scheme kem.Scheme, paymentPath []kem.PublicKey,
	sessionKey [32]byte) ([]Hash256, [][]byte, error) {

	numHops := len(paymentPath)
	hopSharedSecrets := make([]Hash256, numHops)
	ciphertexts := make([][]byte, numHops)

	for i := 0; i < numHops; i++ {
		seed := encapSeed(sessionKey, i, scheme.EncapsulationSeedSize())

		ct, rawSecret, err := scheme.EncapsulateDeterministically(
			paymentPath[i], seed,
		)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: hop %d: %v",
				ErrKeyExchangeFailed, i, err)
		}

		ciphertexts[i] = ct
		hopSharedSecrets[i] = sha256.Sum256(rawSecret)
	}

	return hopSharedSecrets, ciphertexts, nil
}
