package sphinx

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/cloudflare/circl/kem"
)

// Circuit is used encapsulate the data needed to re-derive the per-hop
// shared secrets of an established onion route: the session key the packet
// was built with and the KEM public keys of all hops, in route order.
type Circuit struct {
	// SessionKey is the key the onion packet for this route was built
	// with. Together with the hop keys it deterministically reproduces
	// every per-hop shared secret.
	SessionKey [32]byte

	// PaymentPath is the set of KEM public keys for the hops in the
	// route.
	PaymentPath []kem.PublicKey
}

// DecryptedError contains the decrypted error message and its sender.
type DecryptedError struct {
	// SenderIdx is the position of the error sending node in the path,
	// starting at 1 for the first hop after the origin.
	SenderIdx int

	// Message is the decrypted error message.
	Message []byte
}

// onionEncrypt obfuscates the data with the ammag stream of the passed
// shared secret. As we use a stream cipher, calling onionEncrypt on an
// already encrypted piece of data will decrypt it.
func onionEncrypt(sharedSecret *Hash256, data []byte) []byte {
	p := make([]byte, len(data))

	ammagKey := generateKey("ammag", sharedSecret)
	streamBytes := generateCipherStream(ammagKey, uint(len(data)))
	xor(p, data, streamBytes)

	return p
}

// minOnionErrorLength is the minimally expected length of the onion error
// message. Including padding, all failure messages on the wire are at least
// 256 bytes. We then add the size of the sha256 HMAC as well.
const minOnionErrorLength = 2 + 2 + 256 + sha256.Size

// OnionErrorEncrypter is a struct that's used to implement the layered
// encryption of failure messages: applied once with an authenticating tag by
// the failing hop, and once more by every hop the failure passes through on
// its way back to the origin.
type OnionErrorEncrypter struct {
	sharedSecret Hash256
}

// NewOnionErrorEncrypter creates new instance of the onion encrypter backed
// by the passed shared secret, as recovered when processing the onion packet
// of the failed forward.
func NewOnionErrorEncrypter(sharedSecret Hash256) *OnionErrorEncrypter {
	return &OnionErrorEncrypter{
		sharedSecret: sharedSecret,
	}
}

// EncryptError is used to make data obfuscation using the generated shared
// secret.
//
// It is used either by the failing node in order to make the initial
// obfuscation with the creation of the hmac, or by the forwarding nodes for
// backward failure obfuscation of the encrypted error blob. By obfuscating
// the failure on every node in the path we are adding an additional barrier
// for malicious nodes to retrieve valuable information about the failure and
// its origin.
func (o *OnionErrorEncrypter) EncryptError(initial bool, data []byte) []byte {
	if initial {
		umKey := generateKey("um", &o.sharedSecret)
		hash := hmac.New(sha256.New, umKey[:])
		hash.Write(data)
		h := hash.Sum(nil)
		data = append(h, data...)
	}

	return onionEncrypt(&o.sharedSecret, data)
}

// OnionErrorDecrypter is a struct that's used to decrypt onion errors in
// response to failed payment routing attempts, at the origin of the packet.
type OnionErrorDecrypter struct {
	scheme  kem.Scheme
	circuit *Circuit
}

// NewOnionErrorDecrypter creates new instance of onion decrypter.
func NewOnionErrorDecrypter(scheme kem.Scheme,
	circuit *Circuit) *OnionErrorDecrypter {

	return &OnionErrorDecrypter{
		scheme:  scheme,
		circuit: circuit,
	}
}

// DecryptError attempts to decrypt the passed encrypted error response. The
// onion failure is encrypted in backward manner, starting from the node
// where error have occurred. As a result, in order to decrypt the error we
// need get all shared secret and apply decryption in the reverse order.
func (o *OnionErrorDecrypter) DecryptError(encryptedData []byte) (
	*DecryptedError, error) {

	// Ensure the error message length is as expected.
	if len(encryptedData) < minOnionErrorLength {
		return nil, fmt.Errorf("invalid error length: "+
			"expected at least %v got %v", minOnionErrorLength,
			len(encryptedData))
	}

	sharedSecrets, _, err := GenerateSharedSecrets(
		o.scheme, o.circuit.PaymentPath, o.circuit.SessionKey,
	)
	if err != nil {
		return nil, fmt.Errorf("error generating shared secret: %w",
			err)
	}

	var (
		sender      int
		msg         []byte
		dummySecret Hash256
	)
	copy(dummySecret[:], bytes.Repeat([]byte{1}, 32))

	// We'll iterate a constant amount of hops to ensure that we don't
	// give away any timing information pertaining to the position in the
	// route that the error emanated from.
	for i := 0; i < NumMaxHops; i++ {
		var sharedSecret Hash256

		// If we've already found the sender, then we'll use our dummy
		// secret to continue decryption attempts to fill out the rest
		// of the loop. Otherwise, we'll use the next shared secret in
		// line.
		if sender != 0 || i > len(sharedSecrets)-1 {
			sharedSecret = dummySecret
		} else {
			sharedSecret = sharedSecrets[i]
		}

		// With the shared secret, we'll now strip off a layer of
		// encryption from the encrypted error payload.
		encryptedData = onionEncrypt(&sharedSecret, encryptedData)

		// Next, we'll need to separate the data, from the MAC itself
		// so we can reconstruct and verify it.
		expectedMac := encryptedData[:sha256.Size]
		data := encryptedData[sha256.Size:]

		// With the data split, we'll now re-generate the MAC using
		// its specified key.
		umKey := generateKey("um", &sharedSecret)
		h := hmac.New(sha256.New, umKey[:])
		h.Write(data)

		// If the MAC matches up, then we've found the sender of the
		// error and have also obtained the fully decrypted message.
		realMac := h.Sum(nil)
		if hmac.Equal(realMac, expectedMac) && sender == 0 {
			sender = i + 1
			msg = data
		}
	}

	// If the sender index is still zero, then we haven't found the
	// sender, meaning we've failed to decrypt.
	if sender == 0 {
		return nil, errors.New("unable to retrieve onion failure")
	}

	return &DecryptedError{
		SenderIdx: sender,
		Message:   msg,
	}, nil
}
