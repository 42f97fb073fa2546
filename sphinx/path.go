package sphinx

import (
	"encoding/binary"
	"io"

	"github.com/cloudflare/circl/kem"

	"github.com/pqlnc/pqlnd/lntypes"
)

const (
	// NumMaxHops is the maximum number of hops a route through the
	// network may have. The packet geometry is sized for this many hops
	// regardless of the true route length, which is what keeps the packet
	// length from leaking the route length.
	NumMaxHops = 8

	// RealmSize is the number of bytes that the realm tag occupies.
	RealmSize = 2

	// AmtForwardSize is the number of bytes that the amount to forward
	// occupies.
	AmtForwardSize = 8

	// OutgoingTimeoutSize is the number of bytes that the outgoing
	// timeout height occupies.
	OutgoingTimeoutSize = 4

	// NumPaddingBytes is the number of zero bytes a serialized forwarding
	// instruction is padded with to fill its fixed slot. Callers may
	// claim this space for extra instruction data instead.
	NumPaddingBytes = 18

	// HopDataSize is the fixed size of the serialized forwarding
	// instruction for one hop: 2 byte realm, 32 byte channel id, 8 byte
	// amount to forward, 4 byte outgoing timeout and padding.
	HopDataSize = RealmSize + lntypes.ChannelIDSize + AmtForwardSize +
		OutgoingTimeoutSize + NumPaddingBytes

	// HopSlotSize is the full size of one hop's slot within the routing
	// blob: the forwarding instruction followed by the integrity tag the
	// next packet must carry.
	HopSlotSize = HopDataSize + HMACSize

	// routingInfoSize is the fixed size of the routing blob. This
	// consists of a HopDataSize byte instruction and a HMACSize byte tag
	// for each hop of the route, the first slot in cleartext and the
	// following slots increasingly obfuscated. In case fewer than
	// NumMaxHops are used, the remainder is filled with pseudo-random
	// padding, also obfuscated.
	routingInfoSize = NumMaxHops * HopSlotSize

	// routingStreamBytes is the number of bytes produced by the stream
	// cipher for one routing blob layer. The last HopSlotSize bytes are
	// only used to fill the gap left when a hop strips its own slot.
	routingStreamBytes = routingInfoSize + HopSlotSize
)

// HopData is the forwarding instruction destined for an individual hop. It
// is serialized into a fixed size slot at every hop so that slot sizes never
// reveal a node's position within the route.
type HopData struct {
	// Realm denotes how the instruction bytes are to be interpreted by
	// the processing hop.
	Realm [RealmSize]byte

	// NextChannel is the channel over which the packet should be
	// forwarded next.
	NextChannel lntypes.ChannelID

	// ForwardAmount is the amount that the next hop should forward. This
	// value takes into account the fee required by this particular hop,
	// and the cumulative fee for the remainder of the route.
	ForwardAmount uint64

	// OutgoingTimeout is the value of the outgoing absolute time-lock
	// height that should be attached to the forwarded contract.
	OutgoingTimeout uint32

	// ExtraBytes is the set of otherwise-padding bytes within the slot.
	// Higher level applications may package additional data here.
	ExtraBytes [NumPaddingBytes]byte
}

// NewHopData assembles a forwarding instruction, placing the optional extra
// data into the slot's padding region. ErrPayloadOverflow is returned if the
// extra data cannot fit.
func NewHopData(realm [RealmSize]byte, nextChan lntypes.ChannelID,
	fwdAmt uint64, timeout uint32, extra []byte) (HopData, error) {

	if len(extra) > NumPaddingBytes {
		return HopData{}, ErrPayloadOverflow
	}

	hd := HopData{
		Realm:           realm,
		NextChannel:     nextChan,
		ForwardAmount:   fwdAmt,
		OutgoingTimeout: timeout,
	}
	copy(hd.ExtraBytes[:], extra)

	return hd, nil
}

// Encode writes the serialized version of the target HopData into the passed
// io.Writer. Exactly HopDataSize bytes are written.
func (hd *HopData) Encode(w io.Writer) error {
	if _, err := w.Write(hd.Realm[:]); err != nil {
		return err
	}

	if _, err := w.Write(hd.NextChannel[:]); err != nil {
		return err
	}

	if err := binary.Write(w, binary.BigEndian, hd.ForwardAmount); err != nil {
		return err
	}

	if err := binary.Write(w, binary.BigEndian, hd.OutgoingTimeout); err != nil {
		return err
	}

	if _, err := w.Write(hd.ExtraBytes[:]); err != nil {
		return err
	}

	return nil
}

// Decode deserializes the encoded HopData contained in the passed io.Reader
// instance to the target empty HopData instance.
func (hd *HopData) Decode(r io.Reader) error {
	if _, err := io.ReadFull(r, hd.Realm[:]); err != nil {
		return ErrMalformedPayload
	}

	if _, err := io.ReadFull(r, hd.NextChannel[:]); err != nil {
		return ErrMalformedPayload
	}

	err := binary.Read(r, binary.BigEndian, &hd.ForwardAmount)
	if err != nil {
		return ErrMalformedPayload
	}

	err = binary.Read(r, binary.BigEndian, &hd.OutgoingTimeout)
	if err != nil {
		return ErrMalformedPayload
	}

	if _, err := io.ReadFull(r, hd.ExtraBytes[:]); err != nil {
		return ErrMalformedPayload
	}

	return nil
}

// OnionHop represents an abstract hop within the network. Each hop contains
// the KEM public key of the node, along with the forwarding instruction to
// be delivered to it.
type OnionHop struct {
	// NodePub is the KEM public key of this hop.
	NodePub kem.PublicKey

	// HopData is the instruction to be delivered to this hop.
	HopData HopData
}

// IsEmpty returns true if the hop isn't populated.
func (o OnionHop) IsEmpty() bool {
	return o.NodePub == nil
}

// PaymentPath represents a series of hops within the network starting at the
// first hop adjacent to the sender. Any unpopulated trailing hops are
// ignored.
type PaymentPath [NumMaxHops]OnionHop

// NodeKeys returns a slice pointing to the KEM public key of each populated
// hop within the path.
func (p *PaymentPath) NodeKeys() []kem.PublicKey {
	nodeKeys := make([]kem.PublicKey, p.TrueRouteLength())
	for i := 0; i < len(nodeKeys); i++ {
		nodeKeys[i] = p[i].NodePub
	}

	return nodeKeys
}

// TrueRouteLength returns the "true" length of the PaymentPath: the number
// of populated hops before the first empty one.
func (p *PaymentPath) TrueRouteLength() int {
	for i := 0; i < NumMaxHops; i++ {
		if p[i].IsEmpty() {
			return i
		}
	}

	return NumMaxHops
}
