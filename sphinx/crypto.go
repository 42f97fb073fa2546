package sphinx

import (
	"crypto/hmac"
	"crypto/sha256"

	"golang.org/x/crypto/chacha20"
)

const (
	// HMACSize is the length of the HMACs used to verify the integrity of
	// the onion. Any value lower than 32 will truncate the HMAC both
	// during onion creation as well as during the verification.
	HMACSize = 32

	// keyLen is the length of the keys used to generate cipher streams
	// and compute integrity tags. Since we use SHA256 to generate the
	// keys, the maximum length currently is 32 bytes.
	keyLen = 32
)

// Hash256 is a statically sized, 32-byte array, typically containing the
// output of a SHA256 hash.
type Hash256 [sha256.Size]byte

// zeroHMAC is the special HMAC value that allows the final node to determine
// if it is the payment destination or not.
var zeroHMAC [HMACSize]byte

// calcMac calculates HMAC-SHA-256 over the message using the passed secret
// key as input to the HMAC.
func calcMac(key [keyLen]byte, msg ...[]byte) [HMACSize]byte {
	mac := hmac.New(sha256.New, key[:])
	for _, m := range msg {
		mac.Write(m)
	}
	h := mac.Sum(nil)

	var tag [HMACSize]byte
	copy(tag[:], h[:HMACSize])

	return tag
}

// xor computes the byte wise XOR of a and b, storing the result in dst. Only
// the first `min(len(a), len(b))` bytes will be xor'd.
func xor(dst, a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		dst[i] = a[i] ^ b[i]
	}
	return n
}

// generateKey generates a new key for usage in Sphinx packet
// construction/processing based off of the denoted keyType. Within Sphinx
// various keys are used within the same onion packet for padding generation,
// MAC generation, and encryption/decryption.
func generateKey(keyType string, sharedKey *Hash256) [keyLen]byte {
	mac := hmac.New(sha256.New, []byte(keyType))
	mac.Write(sharedKey[:])
	h := mac.Sum(nil)

	var key [keyLen]byte
	copy(key[:], h[:keyLen])

	return key
}

// generateCipherStream generates a stream of cryptographic pseudo-random
// bytes intended to be used to encrypt a message using a one-time-pad like
// construction.
func generateCipherStream(key [keyLen]byte, numBytes uint) []byte {
	var nonce [chacha20.NonceSize]byte
	cipher, err := chacha20.NewUnauthenticatedCipher(key[:], nonce[:])
	if err != nil {
		panic(err)
	}

	output := make([]byte, numBytes)
	cipher.XORKeyStream(output, output)

	return output
}

// generateHeaderPadding derives the bytes for padding a layered region of
// the header to ensure it remains fixed sized throughout route transit. At
// each step, we add one slot of padding of zeroes, concatenate it to the
// previous filler, then decrypt it (XOR) with the stream keyed by the
// current hop's key of the given type. When encrypting the region we
// essentially do the reverse of this operation: we "encrypt" the padding,
// and drop one slot worth of zeroes. As nodes process the region they add
// the padding back in order to decrypt the next layer, eventually leaving
// only the original "filler" bytes produced by this function at the last
// hop. Using this methodology, the size of the region stays constant at
// each hop.
func generateHeaderPadding(keyType string, numHops, slotSize int,
	sharedSecrets []Hash256) []byte {

	streamLen := uint((NumMaxHops + 1) * slotSize)

	filler := make([]byte, (numHops-1)*slotSize)
	for i := 1; i < numHops; i++ {
		totalFillerSize := ((NumMaxHops - i) + 1) * slotSize

		streamKey := generateKey(keyType, &sharedSecrets[i-1])
		streamBytes := generateCipherStream(streamKey, streamLen)

		xor(
			filler, filler,
			streamBytes[totalFillerSize:totalFillerSize+i*slotSize],
		)
	}
	return filler
}

// rightShift shifts the byte-slice by the given number of bytes to the right
// and 0-fill the resulting gap.
func rightShift(slice []byte, num int) {
	for i := len(slice) - num - 1; i >= 0; i-- {
		slice[num+i] = slice[i]
	}

	for i := 0; i < num; i++ {
		slice[i] = 0
	}
}
