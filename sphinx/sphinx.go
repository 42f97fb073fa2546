package sphinx

import (
	"bytes"
	"crypto/hmac"
	"io"

	"github.com/cloudflare/circl/kem"
)

// BaseVersion represents the current supported version of the onion packet.
const BaseVersion = 0

// OnionPacket is the onion wrapped hop-to-hop routing information necessary
// to propagate a payment through the network without intermediate nodes
// having knowledge of their position within the route, the source, the
// destination, and finally the identities of the past/future nodes in the
// route. At each hop the ephemeral ciphertext is decapsulated by the node to
// arrive at the shared secret established with the source. The derived
// secret key is used to check the integrity tag of the entire header,
// decrypt the next set of routing information, and unveil the ciphertext
// destined to the next node in the path. Since all the key material for the
// downstream hops travels under the layered blinding streams, no two links
// ever carry the same ephemeral bytes, which prevents hop correlation by a
// passive observer watching multiple links.
type OnionPacket struct {
	// Version denotes the version of this onion packet. The version
	// indicates how a receiver of the packet should interpret the bytes
	// following this version byte.
	Version byte

	// EphemeralKey is the KEM ciphertext that the processing hop
	// decapsulates with its private key to derive the shared secret used
	// to check the integrity tag on the packet and decrypt the routing
	// information.
	EphemeralKey []byte

	// BlindedKeys carries one ciphertext slot per supported hop,
	// layer-encrypted so that exactly one slot becomes visible to each
	// hop: the ciphertext its successor will decapsulate.
	BlindedKeys []byte

	// RoutingInfo is the full routing information for this onion packet.
	// This encodes all the forwarding instructions for this current hop
	// and all the hops in the route.
	RoutingInfo [routingInfoSize]byte

	// HeaderMAC is an HMAC computed with the shared secret over the
	// blinded keys, the routing blob and the associated data for this
	// route. Including the associated data lets each hop authenticate
	// higher-level data that is critical for the forwarding of this
	// contract.
	HeaderMAC [HMACSize]byte
}

// Encode serializes the raw bytes of the onion packet into the passed
// io.Writer. The form encoded within the passed io.Writer is suitable for
// either storing on disk, or sending over the network.
func (f *OnionPacket) Encode(w io.Writer) error {
	if _, err := w.Write([]byte{f.Version}); err != nil {
		return err
	}

	if _, err := w.Write(f.EphemeralKey); err != nil {
		return err
	}

	if _, err := w.Write(f.BlindedKeys); err != nil {
		return err
	}

	if _, err := w.Write(f.RoutingInfo[:]); err != nil {
		return err
	}

	if _, err := w.Write(f.HeaderMAC[:]); err != nil {
		return err
	}

	return nil
}

// Decode fully populates the target OnionPacket from the raw bytes encoded
// within the io.Reader, using the passed geometry to size the KEM regions.
// In the case of any decoding errors, an error will be returned. If the
// method succeeds, then the new OnionPacket is ready to be processed by an
// instance of Router.
func (f *OnionPacket) Decode(geo *Geometry, r io.Reader) error {
	var buf [1]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return ErrMalformedPayload
	}
	f.Version = buf[0]

	// If the version of the onion packet protocol is unknown to us, then
	// the remaining bytes cannot be interpreted.
	if f.Version != BaseVersion {
		return ErrInvalidOnionVersion
	}

	f.EphemeralKey = make([]byte, geo.CiphertextSize)
	if _, err := io.ReadFull(r, f.EphemeralKey); err != nil {
		return ErrMalformedPayload
	}

	f.BlindedKeys = make([]byte, geo.BlindedKeysSize)
	if _, err := io.ReadFull(r, f.BlindedKeys); err != nil {
		return ErrMalformedPayload
	}

	if _, err := io.ReadFull(r, f.RoutingInfo[:]); err != nil {
		return ErrMalformedPayload
	}

	if _, err := io.ReadFull(r, f.HeaderMAC[:]); err != nil {
		return ErrMalformedPayload
	}

	return nil
}

// NewOnionPacket creates a new onion packet which is capable of obliviously
// routing a payment through the hop sequence outlined by paymentPath. One
// key encapsulation is performed per hop, seeded deterministically from
// sessionKey, and the routing blob plus blinded key region are built from
// the last hop backward so that each hop can only remove its own layer.
func NewOnionPacket(scheme kem.Scheme, paymentPath *PaymentPath,
	sessionKey [32]byte, assocData []byte) (*OnionPacket, error) {

	numHops := paymentPath.TrueRouteLength()
	switch {
	case numHops == 0:
		return nil, ErrEmptyRoute
	case numHops > NumMaxHops:
		return nil, ErrMaxRouteLength
	}

	geo := NewGeometry(scheme)

	hopSharedSecrets, ciphertexts, err := GenerateSharedSecrets(
		scheme, paymentPath.NodeKeys(), sessionKey,
	)
	if err != nil {
		return nil, err
	}

	// Generate the padding, called "filler strings" in the paper, for
	// both layered regions of the header.
	routingFiller := generateHeaderPadding(
		"rho", numHops, HopSlotSize, hopSharedSecrets,
	)
	keyFiller := generateHeaderPadding(
		"um", numHops, geo.CiphertextSize, hopSharedSecrets,
	)

	// Unused space in both regions is prefilled from a padding stream
	// bound to the session key, so that a short route is
	// indistinguishable from a full-length one.
	sessionSecret := Hash256(sessionKey)
	padStream := generateCipherStream(
		generateKey("pad", &sessionSecret),
		uint(routingInfoSize+geo.BlindedKeysSize),
	)

	var (
		mixHeader  [routingInfoSize]byte
		nextHmac   [HMACSize]byte
		hopslotBuf bytes.Buffer
	)
	copy(mixHeader[:], padStream[:routingInfoSize])
	blindedKeys := make([]byte, geo.BlindedKeysSize)
	copy(blindedKeys, padStream[routingInfoSize:])

	// Now we compute the routing information for each hop, along with the
	// integrity tag over the entire constructed header using the shared
	// key for that hop.
	for i := numHops - 1; i >= 0; i-- {
		rhoKey := generateKey("rho", &hopSharedSecrets[i])
		muKey := generateKey("mu", &hopSharedSecrets[i])
		umKey := generateKey("um", &hopSharedSecrets[i])

		// Before we assemble this layer, we'll shift the current blob
		// to the right in order to make room for this hop's slot. The
		// tag embedded in the slot is the one the *next* packet must
		// carry; for the final hop it stays all-zero, which is how
		// the destination recognizes itself.
		rightShift(mixHeader[:], HopSlotSize)

		hopslotBuf.Reset()
		err := paymentPath[i].HopData.Encode(&hopslotBuf)
		if err != nil {
			return nil, err
		}
		hopslotBuf.Write(nextHmac[:])
		copy(mixHeader[:], hopslotBuf.Bytes())

		rhoStream := generateCipherStream(rhoKey, routingStreamBytes)
		xor(mixHeader[:], mixHeader[:], rhoStream[:routingInfoSize])

		// The blinded key region is layered the same way, except that
		// the slot carries the ciphertext destined to the successor
		// hop rather than an instruction. The final hop has no
		// successor, so its slot stays zero under the shift.
		rightShift(blindedKeys, geo.CiphertextSize)
		if i < numHops-1 {
			copy(blindedKeys, ciphertexts[i+1])
		}

		umStream := generateCipherStream(
			umKey, geo.blindedKeysStreamBytes(),
		)
		xor(blindedKeys, blindedKeys, umStream[:geo.BlindedKeysSize])

		// If this is the outermost layer for the "last" hop, then
		// we'll override the tail of both regions with their fillers
		// so that every hop's gap fill lines up during processing.
		if i == numHops-1 {
			copy(
				mixHeader[len(mixHeader)-len(routingFiller):],
				routingFiller,
			)
			copy(
				blindedKeys[len(blindedKeys)-len(keyFiller):],
				keyFiller,
			)
		}

		// The tag for this layer covers both layered regions plus the
		// optional associated data, which allows higher level
		// applications to prevent replay attacks.
		nextHmac = calcMac(muKey, blindedKeys, mixHeader[:], assocData)
	}

	return &OnionPacket{
		Version:      BaseVersion,
		EphemeralKey: ciphertexts[0],
		BlindedKeys:  blindedKeys,
		RoutingInfo:  mixHeader,
		HeaderMAC:    nextHmac,
	}, nil
}

// ProcessCode is an enum-like type which describes to the high-level package
// what action should be taken after processing a packet.
type ProcessCode int

const (
	// ExitNode indicates that the node which processed the packet is the
	// destination of the route.
	ExitNode ProcessCode = iota

	// MoreHops indicates that there are additional hops left within the
	// route, and the resulting packet should be forwarded.
	MoreHops
)

// String returns a human readable string for each of the ProcessCodes.
func (p ProcessCode) String() string {
	switch p {
	case ExitNode:
		return "ExitNode"
	case MoreHops:
		return "MoreHops"
	default:
		return "Unknown"
	}
}

// ProcessedPacket encapsulates the resulting state generated after
// processing an OnionPacket. A processed packet signals either the
// successful processing of a packet destined for us, or the extraction of a
// set of forwarding instructions for the next hop.
type ProcessedPacket struct {
	// Action represents the action the caller should take after
	// processing the packet.
	Action ProcessCode

	// ForwardingInstructions is this hop's instruction, valid for both
	// exit and forwarding hops.
	ForwardingInstructions HopData

	// NextPacket is the onion packet that should be forwarded to the
	// next hop. This field is only populated if Action is MoreHops.
	NextPacket *OnionPacket

	// SharedSecret is the secret established with the origin of the
	// packet. A hop that must report a failure uses it to key the error
	// onion it sends back.
	SharedSecret Hash256
}

// Router is an onion router within the network. The router is capable of
// processing onion packets, and if an instruction to forward is found it can
// derive the packet for the next hop.
type Router struct {
	scheme   kem.Scheme
	geo      *Geometry
	onionKey SingleKeyKEM
}

// NewRouter creates a new instance of a Router with the given KEM scheme and
// long-term node key.
func NewRouter(scheme kem.Scheme, nodeKey SingleKeyKEM) *Router {
	return &Router{
		scheme:   scheme,
		geo:      NewGeometry(scheme),
		onionKey: nodeKey,
	}
}

// Geometry returns the packet geometry the router operates on.
func (r *Router) Geometry() *Geometry {
	return r.geo
}

// ProcessOnionPacket processes an incoming onion packet which has been
// forwarded to the target router. The integrity tag is verified in constant
// time before any payload bytes are interpreted; only then is one layer of
// encryption removed. If the integrity tag doesn't match, the packet must be
// dropped and never forwarded, as accepting it would open the door to
// tagging attacks.
func (r *Router) ProcessOnionPacket(onionPkt *OnionPacket,
	assocData []byte) (*ProcessedPacket, error) {

	if onionPkt.Version != BaseVersion {
		return nil, ErrInvalidOnionVersion
	}
	if len(onionPkt.EphemeralKey) != r.geo.CiphertextSize ||
		len(onionPkt.BlindedKeys) != r.geo.BlindedKeysSize {

		return nil, ErrMalformedPayload
	}

	sharedSecret, err := r.onionKey.Decapsulate(onionPkt.EphemeralKey)
	if err != nil {
		return nil, err
	}

	// Using the derived shared secret, ensure the integrity of the
	// routing information by checking the attached tag without leaking
	// timing information.
	muKey := generateKey("mu", &sharedSecret)
	calculatedMac := calcMac(
		muKey, onionPkt.BlindedKeys, onionPkt.RoutingInfo[:],
		assocData,
	)
	if !hmac.Equal(onionPkt.HeaderMAC[:], calculatedMac[:]) {
		return nil, ErrInvalidOnionHMAC
	}

	// Attach the padding zeroes in order to properly strip an encryption
	// layer off the routing info, revealing the routing information for
	// the next hop.
	var hopInfo [routingStreamBytes]byte
	copy(hopInfo[:], onionPkt.RoutingInfo[:])

	rhoKey := generateKey("rho", &sharedSecret)
	rhoStream := generateCipherStream(rhoKey, routingStreamBytes)
	xor(hopInfo[:], hopInfo[:], rhoStream)

	// With the tag checked and the blob decrypted, parse out this hop's
	// instruction along with the tag the next packet must carry.
	var hopData HopData
	err = hopData.Decode(bytes.NewReader(hopInfo[:HopDataSize]))
	if err != nil {
		return nil, err
	}

	var nextMac [HMACSize]byte
	copy(nextMac[:], hopInfo[HopDataSize:HopSlotSize])

	// Strip our layer off the blinded key region as well, unveiling the
	// ciphertext the successor hop will decapsulate.
	umKey := generateKey("um", &sharedSecret)
	umStream := generateCipherStream(
		umKey, r.geo.blindedKeysStreamBytes(),
	)

	keyInfo := make([]byte, r.geo.BlindedKeysSize+r.geo.CiphertextSize)
	copy(keyInfo, onionPkt.BlindedKeys)
	xor(keyInfo, keyInfo, umStream)

	// The presence of the all-zero tag in our slot indicates that we're
	// the intended destination of this packet.
	if bytes.Equal(nextMac[:], zeroHMAC[:]) {
		return &ProcessedPacket{
			Action:                 ExitNode,
			ForwardingInstructions: hopData,
			SharedSecret:           sharedSecret,
		}, nil
	}

	// With the necessary items extracted, we'll copy of the onion packet
	// for the next node, snipping off our per-hop data.
	var nextMixHeader [routingInfoSize]byte
	copy(nextMixHeader[:], hopInfo[HopSlotSize:])

	nextPkt := &OnionPacket{
		Version:      onionPkt.Version,
		EphemeralKey: keyInfo[:r.geo.CiphertextSize],
		BlindedKeys:  keyInfo[r.geo.CiphertextSize:],
		RoutingInfo:  nextMixHeader,
		HeaderMAC:    nextMac,
	}

	return &ProcessedPacket{
		Action:                 MoreHops,
		ForwardingInstructions: hopData,
		NextPacket:             nextPkt,
		SharedSecret:           sharedSecret,
	}, nil
}
