package routing

import (
	"crypto/sha256"
	"encoding/binary"

	"github.com/cloudflare/circl/kem"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"

	"github.com/pqlnc/pqlnd/lntypes"
	"github.com/pqlnc/pqlnd/sphinx"
)

// Hop is one forwarding step of a route.
type Hop struct {
	// ChannelID identifies the channel this hop forwards over.
	ChannelID lntypes.ChannelID

	// NodeKey is the hop's KEM public key, used to build the onion
	// layer addressed to it.
	NodeKey kem.PublicKey

	// Fee is the amount this hop charges for forwarding.
	Fee uint64

	// TimeoutDelta is the number of blocks this hop requires between
	// its incoming and outgoing deadlines.
	TimeoutDelta uint32
}

// Route is an ordered hop sequence from the origin to the destination.
type Route struct {
	// Hops are the forwarding steps in order. The last hop is the
	// destination.
	Hops []*Hop

	// Capacity is the smallest channel capacity along the route, used
	// to weight capacity based splits.
	Capacity uint64
}

// TotalFees sums the forwarding fees of every hop on the route.
func (r *Route) TotalFees() uint64 {
	var fees uint64
	for _, hop := range r.Hops {
		fees += hop.Fee
	}

	return fees
}

// RouteSource produces candidate routes for a payment. The graph and the
// pathfinding algorithm behind it are not this package's concern.
type RouteSource interface {
	// FindRoutes returns up to maxPaths routes to the destination able
	// to carry the given amount, best first.
	FindRoutes(dest []byte, amount uint64, maxPaths int) ([]*Route, error)
}

// Derivation tags for per-path material. All path material descends from
// the payment's root secret through one-way derivation, so compromising one
// path reveals nothing about its siblings.
const (
	deriveTagSecret  = 0x01
	deriveTagSession = 0x02
	deriveTagScalar  = 0x03
	deriveTagAdaptor = 0x04
)

// derivePathBytes derives 32 bytes bound to the root secret, a purpose tag,
// the path index and a hop index.
func derivePathBytes(root lntypes.Preimage, tag byte, pathIdx int,
	hopIdx int) [32]byte {

	var buf [32 + 1 + 4 + 4]byte
	copy(buf[:32], root[:])
	buf[32] = tag
	binary.BigEndian.PutUint32(buf[33:37], uint32(pathIdx))
	binary.BigEndian.PutUint32(buf[37:41], uint32(hopIdx))

	return sha256.Sum256(buf[:])
}

// pathPreimage derives the settlement preimage for one path.
func pathPreimage(root lntypes.Preimage, pathIdx int) lntypes.Preimage {
	return derivePathBytes(root, deriveTagSecret, pathIdx, 0)
}

// pathSessionKey derives the onion session key for one path.
func pathSessionKey(root lntypes.Preimage, pathIdx int) [32]byte {
	return derivePathBytes(root, deriveTagSession, pathIdx, 0)
}

// pathScalar derives the point lock scalar for one hop of one path. Every
// hop gets an independent scalar, which is what removes the cross-hop
// correlation of hash locks.
func pathScalar(root lntypes.Preimage, pathIdx, hopIdx int,
	tag byte) *secp256k1.ModNScalar {

	raw := derivePathBytes(root, tag, pathIdx, hopIdx)

	var s secp256k1.ModNScalar
	s.SetByteSlice(raw[:])

	return &s
}

// buildPaymentPath assembles the per-hop onion instructions for a route
// carrying amt to the destination, with the final deadline at finalTimeout.
// Amounts and deadlines accumulate backward so each hop can take its fee
// and its timeout delta.
func buildPaymentPath(route *Route, amt uint64,
	finalTimeout uint32) (*sphinx.PaymentPath, []uint64, []uint32, error) {

	numHops := len(route.Hops)

	// incomingAmts[i] is the amount hop i receives, incomingTimeouts[i]
	// the deadline of its incoming contract.
	incomingAmts := make([]uint64, numHops)
	incomingTimeouts := make([]uint32, numHops)

	outAmt := amt
	outTimeout := finalTimeout
	for i := numHops - 1; i >= 0; i-- {
		incomingAmts[i] = outAmt
		incomingTimeouts[i] = outTimeout

		outAmt += route.Hops[i].Fee
		outTimeout += route.Hops[i].TimeoutDelta
	}

	var path sphinx.PaymentPath
	for i := 0; i < numHops; i++ {
		// The instruction at hop i names the channel to forward over
		// next. The final hop forwards nowhere.
		var nextChan lntypes.ChannelID
		fwdAmt := incomingAmts[i]
		fwdTimeout := incomingTimeouts[i]
		if i < numHops-1 {
			nextChan = route.Hops[i+1].ChannelID
			fwdAmt = incomingAmts[i+1]
			fwdTimeout = incomingTimeouts[i+1]
		}

		hopData, err := sphinx.NewHopData(
			[sphinx.RealmSize]byte{}, nextChan, fwdAmt,
			fwdTimeout, nil,
		)
		if err != nil {
			return nil, nil, nil, err
		}

		path[i] = sphinx.OnionHop{
			NodePub: route.Hops[i].NodeKey,
			HopData: hopData,
		}
	}

	return &path, incomingAmts, incomingTimeouts, nil
}
