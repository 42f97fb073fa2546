package sphinx

import "errors"

var (
	// ErrMaxRouteLength is returned when a route requested exceeds the
	// fixed hop ceiling. Rejected before any cryptographic work begins.
	ErrMaxRouteLength = errors.New("sphinx: route has too many hops")

	// ErrEmptyRoute is returned when packet construction is attempted
	// with no hops at all.
	ErrEmptyRoute = errors.New("sphinx: route must contain at least one " +
		"hop")

	// ErrKeyExchangeFailed is returned when the key encapsulation against
	// one of the hop public keys fails.
	ErrKeyExchangeFailed = errors.New("sphinx: key encapsulation failed")

	// ErrPayloadOverflow is returned when a hop's forwarding instruction
	// does not fit within its fixed-size slot. This is a hard
	// precondition violation on the caller's part.
	ErrPayloadOverflow = errors.New("sphinx: hop payload exceeds slot " +
		"size")

	// ErrInvalidOnionVersion is returned when the version byte of the
	// onion packet doesn't match a version we know how to process.
	ErrInvalidOnionVersion = errors.New("sphinx: unknown packet version")

	// ErrInvalidOnionHMAC is returned when the integrity tag computed over
	// the packet header does not match the tag carried in the packet. The
	// packet must be dropped, never forwarded.
	ErrInvalidOnionHMAC = errors.New("sphinx: invalid header integrity " +
		"tag")

	// ErrDecapsulationFailed is returned when the ephemeral key material
	// in the packet cannot be decapsulated with the local private key.
	ErrDecapsulationFailed = errors.New("sphinx: unable to decapsulate " +
		"ephemeral key")

	// ErrMalformedPayload is returned when the bytes of a packet or hop
	// payload cannot be parsed into their fixed wire structure.
	ErrMalformedPayload = errors.New("sphinx: malformed payload")
)
