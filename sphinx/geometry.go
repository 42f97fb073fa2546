package sphinx

import (
	"github.com/cloudflare/circl/kem"
)

// Geometry describes the exact byte layout of an onion packet for one KEM
// scheme. Every field is a protocol-wide constant once the scheme and hop
// ceiling are agreed on: any two valid packets of the same version have
// identical length.
type Geometry struct {
	// CiphertextSize is the size of one KEM ciphertext, which is both the
	// size of the ephemeral key slot and of each blinded key slot.
	CiphertextSize int

	// BlindedKeysSize is the size of the layered region carrying the
	// encapsulated key material for the downstream hops, one slot per
	// supported hop.
	BlindedKeysSize int

	// RoutingInfoSize is the size of the layered routing blob.
	RoutingInfoSize int

	// PacketSize is the total wire size of a packet: version byte,
	// ephemeral ciphertext, blinded keys, routing blob and integrity tag.
	PacketSize int
}

// NewGeometry computes the packet geometry for the given KEM scheme.
func NewGeometry(scheme kem.Scheme) *Geometry {
	ctSize := scheme.CiphertextSize()

	return &Geometry{
		CiphertextSize:  ctSize,
		BlindedKeysSize: NumMaxHops * ctSize,
		RoutingInfoSize: routingInfoSize,
		PacketSize: 1 + ctSize + NumMaxHops*ctSize +
			routingInfoSize + HMACSize,
	}
}

// blindedKeysStreamBytes is the number of stream cipher bytes needed for one
// blinded keys layer, including the slot-sized tail used to fill the gap
// left when a hop strips the ciphertext destined to its successor.
func (g *Geometry) blindedKeysStreamBytes() uint {
	return uint(g.BlindedKeysSize + g.CiphertextSize)
}
