// Package secp is the typed cryptographic facade for the engine. It wraps
// the decred secp256k1 primitives with the fixed-size key, commitment and
// proof operations the wallet layers consume: stealth key derivation, ECDH,
// Pedersen commitments, Borromean range proofs and MLSAG ring signatures.
//
// Callers must invoke Initialize once before using any other function.
package secp

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"sync"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

const (
	// ScalarSize is the byte length of a curve-order scalar.
	ScalarSize = 32

	// PointSize is the byte length of a compressed curve point.
	PointSize = 33

	// CommitmentSize is the byte length of a serialized Pedersen commitment.
	CommitmentSize = 33

	// KeyImageSize is the byte length of a linkable key image.
	KeyImageSize = 33
)

var (
	// ErrInvalidScalar is returned when a scalar is zero or not reduced
	// mod the curve order.
	ErrInvalidScalar = errors.New("secp: invalid scalar")

	// ErrInvalidPoint is returned when a compressed point fails to parse.
	ErrInvalidPoint = errors.New("secp: invalid point")

	// ErrProofRejected is returned when a range proof fails to sign,
	// verify or rewind.
	ErrProofRejected = errors.New("secp: range proof rejected")

	// ErrMlsagInvalid is returned when an MLSAG fails to generate or verify.
	ErrMlsagInvalid = errors.New("secp: mlsag invalid")
)

// Scalar is a 32-byte curve-order element. Secret keys and blinding factors
// are Scalars; a zero Scalar is never a valid secret.
type Scalar [ScalarSize]byte

// Point is a 33-byte compressed curve point (0x02/0x03 prefix).
type Point [PointSize]byte

// Commitment is a 33-byte Pedersen commitment (0x08/0x09 prefix).
type Commitment [CommitmentSize]byte

// KeyImage is the 33-byte linkable tag x*Hp(P) preventing double spends.
type KeyImage [KeyImageSize]byte

var (
	initOnce sync.Once

	// generatorH is the value generator for Pedersen commitments. It is a
	// NUMS point derived from hashing the standard generator, so nobody
	// knows its discrete log with respect to G.
	generatorH secp256k1.JacobianPoint
)

// Initialize sets up the process-wide curve context (the value generator H).
// It is safe to call multiple times from any goroutine; only the first call
// does work. Every other function in this package assumes Initialize has run.
func Initialize() {
	initOnce.Do(func() {
		deriveGeneratorH()
	})
}

// deriveGeneratorH derives H by hashing the compressed base generator and
// mapping the digest to a curve point via try-and-increment with even y.
func deriveGeneratorH() {
	var one secp256k1.ModNScalar
	one.SetInt(1)
	var g secp256k1.JacobianPoint
	secp256k1.ScalarBaseMultNonConst(&one, &g)
	g.ToAffine()
	gser := secp256k1.NewPublicKey(&g.X, &g.Y).SerializeCompressed()

	seed := sha256.Sum256(gser)
	for counter := 0; counter < 256; counter++ {
		candidate := make([]byte, PointSize)
		candidate[0] = 0x02
		copy(candidate[1:], seed[:])

		pub, err := secp256k1.ParsePubKey(candidate)
		if err == nil {
			pub.AsJacobian(&generatorH)
			return
		}
		seed = sha256.Sum256(append(seed[:], byte(counter)))
	}
	panic("secp: failed to derive generator H")
}

// Zero overwrites b with zero bytes. Use it to scrub secrets before they go
// out of scope.
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// Wipe scrubs a Scalar in place.
func (s *Scalar) Wipe() {
	Zero(s[:])
}

// IsZero reports whether the scalar is all zero bytes.
func (s *Scalar) IsZero() bool {
	for _, b := range s {
		if b != 0 {
			return false
		}
	}
	return true
}

// NewRandomScalar draws a uniformly random non-zero scalar from the
// cryptographic RNG, rejecting candidates at or above the curve order.
func NewRandomScalar() (Scalar, error) {
	var out Scalar
	for {
		if _, err := rand.Read(out[:]); err != nil {
			return Scalar{}, fmt.Errorf("secp: rng failure: %w", err)
		}
		var s secp256k1.ModNScalar
		overflow := s.SetBytes((*[32]byte)(&out))
		if overflow == 0 && !s.IsZero() {
			return out, nil
		}
	}
}

// ParseScalar validates that b is a 32-byte reduced, non-zero scalar.
func ParseScalar(b []byte) (Scalar, error) {
	if len(b) != ScalarSize {
		return Scalar{}, fmt.Errorf("%w: want %d bytes, got %d", ErrInvalidScalar, ScalarSize, len(b))
	}
	var out Scalar
	copy(out[:], b)
	var s secp256k1.ModNScalar
	if s.SetBytes((*[32]byte)(&out)) != 0 || s.IsZero() {
		return Scalar{}, ErrInvalidScalar
	}
	return out, nil
}

// ParsePoint validates that b is a 33-byte compressed point on the curve.
func ParsePoint(b []byte) (Point, error) {
	if len(b) != PointSize {
		return Point{}, fmt.Errorf("%w: want %d bytes, got %d", ErrInvalidPoint, PointSize, len(b))
	}
	if b[0] != 0x02 && b[0] != 0x03 {
		return Point{}, fmt.Errorf("%w: bad prefix 0x%02x", ErrInvalidPoint, b[0])
	}
	if _, err := secp256k1.ParsePubKey(b); err != nil {
		return Point{}, fmt.Errorf("%w: %v", ErrInvalidPoint, err)
	}
	var out Point
	copy(out[:], b)
	return out, nil
}

// scalarOf loads a Scalar into a ModNScalar, rejecting overflow and zero.
func scalarOf(s Scalar) (*secp256k1.ModNScalar, error) {
	var out secp256k1.ModNScalar
	if out.SetBytes((*[32]byte)(&s)) != 0 {
		return nil, ErrInvalidScalar
	}
	if out.IsZero() {
		return nil, ErrInvalidScalar
	}
	return &out, nil
}

// scalarOfAny loads a Scalar without the zero check. Blinds summed to zero
// are legal in intermediate arithmetic, unlike secret keys.
func scalarOfAny(s Scalar) (*secp256k1.ModNScalar, error) {
	var out secp256k1.ModNScalar
	if out.SetBytes((*[32]byte)(&s)) != 0 {
		return nil, ErrInvalidScalar
	}
	return &out, nil
}

// scalarBytes serializes a ModNScalar back into a Scalar.
func scalarBytes(s *secp256k1.ModNScalar) Scalar {
	return Scalar(s.Bytes())
}

// pointOf parses a compressed Point into a Jacobian point.
func pointOf(p Point) (*secp256k1.JacobianPoint, error) {
	pub, err := secp256k1.ParsePubKey(p[:])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPoint, err)
	}
	var out secp256k1.JacobianPoint
	pub.AsJacobian(&out)
	return &out, nil
}

// pointBytes serializes a Jacobian point to its compressed form. It fails on
// the point at infinity, which has no compressed encoding.
func pointBytes(p *secp256k1.JacobianPoint) (Point, error) {
	if (p.X.IsZero() && p.Y.IsZero()) || p.Z.IsZero() {
		return Point{}, fmt.Errorf("%w: point at infinity", ErrInvalidPoint)
	}
	p.ToAffine()
	pub := secp256k1.NewPublicKey(&p.X, &p.Y)
	var out Point
	copy(out[:], pub.SerializeCompressed())
	return out, nil
}

// negatePoint negates p in place.
func negatePoint(p *secp256k1.JacobianPoint) {
	p.Y.Negate(1)
	p.Y.Normalize()
}
