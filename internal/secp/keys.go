package secp

import (
	"crypto/sha256"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
)

// DerivePub returns the compressed public key sk*G.
func DerivePub(sk Scalar) (Point, error) {
	s, err := scalarOf(sk)
	if err != nil {
		return Point{}, err
	}
	var p secp256k1.JacobianPoint
	secp256k1.ScalarBaseMultNonConst(s, &p)
	return pointBytes(&p)
}

// PrivateAdd returns (a + b) mod n, failing if the result is zero.
func PrivateAdd(a, b Scalar) (Scalar, error) {
	sa, err := scalarOfAny(a)
	if err != nil {
		return Scalar{}, err
	}
	sb, err := scalarOfAny(b)
	if err != nil {
		return Scalar{}, err
	}
	sa.Add(sb)
	if sa.IsZero() {
		return Scalar{}, fmt.Errorf("%w: sum is zero", ErrInvalidScalar)
	}
	return scalarBytes(sa), nil
}

// PrivateSub returns (a - b) mod n, failing if the result is zero.
func PrivateSub(a, b Scalar) (Scalar, error) {
	sa, err := scalarOfAny(a)
	if err != nil {
		return Scalar{}, err
	}
	sb, err := scalarOfAny(b)
	if err != nil {
		return Scalar{}, err
	}
	sb.Negate()
	sa.Add(sb)
	if sa.IsZero() {
		return Scalar{}, fmt.Errorf("%w: difference is zero", ErrInvalidScalar)
	}
	return scalarBytes(sa), nil
}

// PointAddScalar returns P + s*G.
func PointAddScalar(p Point, s Scalar) (Point, error) {
	jp, err := pointOf(p)
	if err != nil {
		return Point{}, err
	}
	sc, err := scalarOf(s)
	if err != nil {
		return Point{}, err
	}
	var sg, sum secp256k1.JacobianPoint
	secp256k1.ScalarBaseMultNonConst(sc, &sg)
	secp256k1.AddNonConst(jp, &sg, &sum)
	return pointBytes(&sum)
}

// PointMultiply returns s*P.
func PointMultiply(p Point, s Scalar) (Point, error) {
	jp, err := pointOf(p)
	if err != nil {
		return Point{}, err
	}
	sc, err := scalarOf(s)
	if err != nil {
		return Point{}, err
	}
	var prod secp256k1.JacobianPoint
	secp256k1.ScalarMultNonConst(sc, jp, &prod)
	return pointBytes(&prod)
}

// SharedSecret computes the common ECDH secret SHA256(compressed(s*P)).
// This is the single-hash form used for destination-key derivation.
func SharedSecret(p Point, s Scalar) ([32]byte, error) {
	prod, err := PointMultiply(p, s)
	if err != nil {
		return [32]byte{}, err
	}
	out := sha256.Sum256(prod[:])
	Zero(prod[:])
	return out, nil
}

// RangeproofNonce computes the double-hashed ECDH secret
// SHA256(SHA256(compressed(s*P))). It seeds range-proof rewinding and is
// deliberately a distinct operation from SharedSecret: the two must never
// be interchanged or receiver rewind breaks.
func RangeproofNonce(p Point, s Scalar) ([32]byte, error) {
	shared, err := SharedSecret(p, s)
	if err != nil {
		return [32]byte{}, err
	}
	out := sha256.Sum256(shared[:])
	Zero(shared[:])
	return out, nil
}

// EcdsaSign produces a DER-encoded ECDSA signature over hash.
func EcdsaSign(hash [32]byte, sk Scalar) ([]byte, error) {
	if _, err := scalarOf(sk); err != nil {
		return nil, err
	}
	priv := secp256k1.PrivKeyFromBytes(sk[:])
	defer priv.Zero()
	sig := ecdsa.Sign(priv, hash[:])
	return sig.Serialize(), nil
}

// EcdsaSignCompact produces a 64-byte r||s signature over hash.
func EcdsaSignCompact(hash [32]byte, sk Scalar) ([64]byte, error) {
	var out [64]byte
	if _, err := scalarOf(sk); err != nil {
		return out, err
	}
	priv := secp256k1.PrivKeyFromBytes(sk[:])
	defer priv.Zero()
	sig := ecdsa.SignCompact(priv, hash[:], true)
	// SignCompact prepends a one-byte recovery code.
	copy(out[:], sig[1:])
	return out, nil
}
