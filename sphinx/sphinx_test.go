package sphinx

import (
	"bytes"
	"testing"

	"github.com/cloudflare/circl/kem"
	"github.com/stretchr/testify/require"

	"github.com/pqlnc/pqlnd/lntypes"
)

// testRoute holds the node keys and routers for a test route, along with the
// payment path handed to the packet builder.
type testRoute struct {
	routers []*Router
	path    *PaymentPath
}

// newTestRoute generates a fresh route of the given length with randomly
// generated node keys and deterministic per-hop instructions.
func newTestRoute(t *testing.T, numHops int) *testRoute {
	t.Helper()

	scheme := DefaultScheme()

	route := &testRoute{
		path: &PaymentPath{},
	}
	for i := 0; i < numHops; i++ {
		pub, priv, err := scheme.GenerateKeyPair()
		require.NoError(t, err, "unable to generate node key")

		route.routers = append(route.routers, NewRouter(
			scheme, &PrivKeyKEM{Scheme: scheme, PrivKey: priv},
		))

		var chanID lntypes.ChannelID
		chanID[0] = byte(i + 1)

		hopData, err := NewHopData(
			[RealmSize]byte{0x00, 0x01}, chanID,
			uint64(10000*(numHops-i)), uint32(600+10*i), nil,
		)
		require.NoError(t, err)

		route.path[i] = OnionHop{
			NodePub: pub,
			HopData: hopData,
		}
	}

	return route
}

// TestSphinxCorrectness checks that a packet built for routes of every
// permitted length peels hop by hop back into the original instruction
// sequence, with the final hop recognizing itself.
func TestSphinxCorrectness(t *testing.T) {
	t.Parallel()

	for numHops := 1; numHops <= NumMaxHops; numHops++ {
		route := newTestRoute(t, numHops)

		sessionKey := [32]byte{0x03, byte(numHops)}
		assocData := []byte("associated data")

		pkt, err := NewOnionPacket(
			DefaultScheme(), route.path, sessionKey, assocData,
		)
		require.NoError(t, err, "unable to build onion packet")

		for i := 0; i < numHops; i++ {
			processed, err := route.routers[i].ProcessOnionPacket(
				pkt, assocData,
			)
			require.NoErrorf(t, err, "hop %d rejected packet", i)

			require.Equal(
				t, route.path[i].HopData,
				processed.ForwardingInstructions,
				"hop %d recovered wrong instruction", i,
			)

			if i == numHops-1 {
				require.Equal(t, ExitNode, processed.Action)
				require.Nil(t, processed.NextPacket)
				continue
			}

			require.Equal(t, MoreHops, processed.Action)
			require.NotNil(t, processed.NextPacket)

			// No two links may carry the same ephemeral bytes.
			require.NotEqual(
				t, pkt.EphemeralKey,
				processed.NextPacket.EphemeralKey,
			)

			pkt = processed.NextPacket
		}
	}
}

// TestSphinxPacketLengthInvariance asserts the central size property: any
// two packets of the same version have identical byte length, regardless of
// the true route length.
func TestSphinxPacketLengthInvariance(t *testing.T) {
	t.Parallel()

	geo := NewGeometry(DefaultScheme())

	var lengths []int
	for numHops := 1; numHops <= NumMaxHops; numHops++ {
		route := newTestRoute(t, numHops)

		pkt, err := NewOnionPacket(
			DefaultScheme(), route.path, [32]byte{0x07}, nil,
		)
		require.NoError(t, err)

		var b bytes.Buffer
		require.NoError(t, pkt.Encode(&b))

		lengths = append(lengths, b.Len())
	}

	for _, l := range lengths {
		require.Equal(t, geo.PacketSize, l)
	}
}

// TestSphinxSingleByteTamper checks that flipping any header region byte is
// caught by the next hop's integrity check before anything is interpreted.
func TestSphinxSingleByteTamper(t *testing.T) {
	t.Parallel()

	route := newTestRoute(t, 3)

	pkt, err := NewOnionPacket(
		DefaultScheme(), route.path, [32]byte{0x11}, nil,
	)
	require.NoError(t, err)

	// Tamper with a byte of the routing blob.
	pkt.RoutingInfo[routingInfoSize/2] ^= 0x01
	_, err = route.routers[0].ProcessOnionPacket(pkt, nil)
	require.ErrorIs(t, err, ErrInvalidOnionHMAC)

	pkt.RoutingInfo[routingInfoSize/2] ^= 0x01

	// Tamper with a byte of the blinded key region.
	pkt.BlindedKeys[0] ^= 0x01
	_, err = route.routers[0].ProcessOnionPacket(pkt, nil)
	require.ErrorIs(t, err, ErrInvalidOnionHMAC)

	pkt.BlindedKeys[0] ^= 0x01

	// Undisturbed, the packet processes fine.
	_, err = route.routers[0].ProcessOnionPacket(pkt, nil)
	require.NoError(t, err)
}

// TestSphinxAssocData checks that a hop presented with different associated
// data than the packet was built over rejects the packet.
func TestSphinxAssocData(t *testing.T) {
	t.Parallel()

	route := newTestRoute(t, 2)

	pkt, err := NewOnionPacket(
		DefaultScheme(), route.path, [32]byte{0x21},
		[]byte("it was a dark and stormy night"),
	)
	require.NoError(t, err)

	_, err = route.routers[0].ProcessOnionPacket(
		pkt, []byte("something else"),
	)
	require.ErrorIs(t, err, ErrInvalidOnionHMAC)
}

// TestSphinxEncodeDecode asserts that an encoded packet decodes back to an
// identical packet.
func TestSphinxEncodeDecode(t *testing.T) {
	t.Parallel()

	route := newTestRoute(t, 5)

	pkt, err := NewOnionPacket(
		DefaultScheme(), route.path, [32]byte{0x31}, nil,
	)
	require.NoError(t, err)

	var b bytes.Buffer
	require.NoError(t, pkt.Encode(&b))

	geo := NewGeometry(DefaultScheme())
	var pkt2 OnionPacket
	require.NoError(t, pkt2.Decode(geo, &b))

	require.Equal(t, pkt, &pkt2)
}

// TestSphinxWrongKeyRejected checks that a node that isn't on the route
// cannot peel the packet: decapsulation with the wrong key yields a secret
// whose integrity tag cannot match.
func TestSphinxWrongKeyRejected(t *testing.T) {
	t.Parallel()

	route := newTestRoute(t, 2)

	pkt, err := NewOnionPacket(
		DefaultScheme(), route.path, [32]byte{0x41}, nil,
	)
	require.NoError(t, err)

	// The second hop's key cannot open the first layer.
	_, err = route.routers[1].ProcessOnionPacket(pkt, nil)
	require.ErrorIs(t, err, ErrInvalidOnionHMAC)
}

// TestEmptyRouteRejected checks the policy error for a zero-hop route.
func TestEmptyRouteRejected(t *testing.T) {
	t.Parallel()

	_, err := NewOnionPacket(
		DefaultScheme(), &PaymentPath{}, [32]byte{0x51}, nil,
	)
	require.ErrorIs(t, err, ErrEmptyRoute)
}

// TestHopDataOverflow checks that extra instruction data that cannot fit in
// the slot's padding space is rejected before any cryptographic work.
func TestHopDataOverflow(t *testing.T) {
	t.Parallel()

	var chanID lntypes.ChannelID
	_, err := NewHopData(
		[RealmSize]byte{}, chanID, 1, 1,
		bytes.Repeat([]byte{0xaa}, NumPaddingBytes+1),
	)
	require.ErrorIs(t, err, ErrPayloadOverflow)
}

// TestDeterministicConstruction asserts that rebuilding a packet with the
// same session key yields identical bytes, while a different session key
// yields unrelated ones.
func TestDeterministicConstruction(t *testing.T) {
	t.Parallel()

	route := newTestRoute(t, 3)

	pkt1, err := NewOnionPacket(
		DefaultScheme(), route.path, [32]byte{0x61}, nil,
	)
	require.NoError(t, err)

	pkt2, err := NewOnionPacket(
		DefaultScheme(), route.path, [32]byte{0x61}, nil,
	)
	require.NoError(t, err)
	require.Equal(t, pkt1, pkt2)

	pkt3, err := NewOnionPacket(
		DefaultScheme(), route.path, [32]byte{0x62}, nil,
	)
	require.NoError(t, err)
	require.NotEqual(t, pkt1.EphemeralKey, pkt3.EphemeralKey)
}

// nodeKeysFromRoute is a helper returning the KEM public keys of a route.
func nodeKeysFromRoute(route *testRoute) []kem.PublicKey {
	return route.path.NodeKeys()
}

// TestOnionErrorCycle checks that a failure originated at each possible hop
// travels back through every predecessor's obfuscation layer and is
// recovered intact at the origin, attributed to the right hop.
func TestOnionErrorCycle(t *testing.T) {
	t.Parallel()

	const numHops = 4
	route := newTestRoute(t, numHops)
	sessionKey := [32]byte{0x71}
	assocData := []byte("ad")

	pkt, err := NewOnionPacket(
		DefaultScheme(), route.path, sessionKey, assocData,
	)
	require.NoError(t, err)

	// Walk the route once, remembering each hop's recovered shared
	// secret the way a real hop would when it must report a failure.
	secrets := make([]Hash256, numHops)
	current := pkt
	for i := 0; i < numHops; i++ {
		processed, err := route.routers[i].ProcessOnionPacket(
			current, assocData,
		)
		require.NoError(t, err)

		secrets[i] = processed.SharedSecret
		current = processed.NextPacket
	}

	for failingHop := 0; failingHop < numHops; failingHop++ {
		wire, err := EncodeFailureMessage(FailureMessage{
			Code: CodeTemporaryChannelFailure,
			Data: []byte{0xde, 0xad},
		})
		require.NoError(t, err)

		// The failing hop applies the initial layer including the
		// authenticating tag, then each hop on the way back adds its
		// own obfuscation layer.
		enc := NewOnionErrorEncrypter(secrets[failingHop])
		blob := enc.EncryptError(true, wire)
		for i := failingHop - 1; i >= 0; i-- {
			enc := NewOnionErrorEncrypter(secrets[i])
			blob = enc.EncryptError(false, blob)
		}

		dec := NewOnionErrorDecrypter(DefaultScheme(), &Circuit{
			SessionKey:  sessionKey,
			PaymentPath: nodeKeysFromRoute(route),
		})
		decrypted, err := dec.DecryptError(blob)
		require.NoError(t, err)
		require.Equal(t, failingHop+1, decrypted.SenderIdx)

		msg, err := DecodeFailureMessage(decrypted.Message)
		require.NoError(t, err)
		require.Equal(t, CodeTemporaryChannelFailure, msg.Code)
		require.Equal(t, []byte{0xde, 0xad}, msg.Data)
	}
}
