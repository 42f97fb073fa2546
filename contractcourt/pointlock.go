package contractcourt

import (
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// Scalar is a secp256k1 scalar, the discrete log material revealed when a
// point locked contract settles.
type Scalar = secp256k1.ModNScalar

// AdaptorSig is the pre-shared partial signature of a point locked contract.
// It is incomplete on its own: only a party holding the discrete log of the
// payment point can turn it into a valid signature.
type AdaptorSig struct {
	// SPrime is the partial s value. The completed signature's s value
	// is SPrime plus the payment point's discrete log.
	SPrime Scalar
}

// PointLockTerms commits a contract to a curve point. Each hop on a path
// uses an independently chosen point, so observing two hops of the same
// payment reveals no common value.
type PointLockTerms struct {
	// PaymentPoint is the commitment point P. Settlement requires its
	// discrete log t, with t*G == P.
	PaymentPoint *btcec.PublicKey

	// AdaptorSig is the partial signature that the revealed scalar
	// completes.
	AdaptorSig *AdaptorSig
}

// verifyPointLock checks that the presented scalar is the discrete log of
// the commitment point and that the completed signature is consistent with
// the adaptor. On success the completed s value is returned so the caller
// can store it as the settlement proof.
func verifyPointLock(terms *PointLockTerms, proof Proof, height,
	timeout uint32) (*Scalar, error) {

	if proof.Scalar == nil {
		return nil, fmt.Errorf("%w: no scalar presented",
			ErrInvalidProof)
	}

	if timeout != 0 && height > timeout {
		return nil, fmt.Errorf("%w: reveal at height %d is past "+
			"deadline %d", ErrInvalidProof, height, timeout)
	}

	// The scalar must be the discrete log of the payment point.
	revealed := secp256k1.NewPrivateKey(proof.Scalar).PubKey()
	if !revealed.IsEqual(terms.PaymentPoint) {
		return nil, fmt.Errorf("%w: scalar is not the discrete log "+
			"of the payment point", ErrInvalidProof)
	}

	// Complete the adaptor signature: s = s' + t.
	var s Scalar
	s.Add2(&terms.AdaptorSig.SPrime, proof.Scalar)

	// The completed value must satisfy s*G == s'*G + P. This catches a
	// corrupted adaptor before it is stored as proof.
	var sG, sPrimeG, sum secp256k1.JacobianPoint
	secp256k1.ScalarBaseMultNonConst(&s, &sG)
	secp256k1.ScalarBaseMultNonConst(&terms.AdaptorSig.SPrime, &sPrimeG)

	var p secp256k1.JacobianPoint
	terms.PaymentPoint.AsJacobian(&p)
	secp256k1.AddNonConst(&sPrimeG, &p, &sum)

	sG.ToAffine()
	sum.ToAffine()
	if !sG.X.Equals(&sum.X) || !sG.Y.Equals(&sum.Y) {
		return nil, fmt.Errorf("%w: completed signature inconsistent "+
			"with adaptor", ErrInvalidProof)
	}

	return &s, nil
}
