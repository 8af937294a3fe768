package secp

import (
	"encoding/binary"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// Pedersen commitments are C = blind*G + value*H, serialized in 33 bytes
// with an 0x08/0x09 prefix so they cannot be confused with public keys.

// scalarFromUint64 loads a uint64 into a ModNScalar.
func scalarFromUint64(v uint64) *secp256k1.ModNScalar {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	var s secp256k1.ModNScalar
	s.SetByteSlice(buf[:])
	return &s
}

// commitPoint computes blind*G + value*H as a Jacobian point.
func commitPoint(value uint64, blind *secp256k1.ModNScalar) *secp256k1.JacobianPoint {
	var out secp256k1.JacobianPoint
	if value == 0 {
		secp256k1.ScalarBaseMultNonConst(blind, &out)
		return &out
	}
	var bg, vh secp256k1.JacobianPoint
	secp256k1.ScalarBaseMultNonConst(blind, &bg)
	secp256k1.ScalarMultNonConst(scalarFromUint64(value), &generatorH, &vh)
	secp256k1.AddNonConst(&bg, &vh, &out)
	return &out
}

// commitBytes serializes a commitment point with the 0x08/0x09 prefix.
func commitBytes(p *secp256k1.JacobianPoint) (Commitment, error) {
	pt, err := pointBytes(p)
	if err != nil {
		return Commitment{}, err
	}
	var out Commitment
	copy(out[:], pt[:])
	out[0] = 0x08 | (pt[0] & 0x01)
	return out, nil
}

// commitJacobian parses a serialized commitment back into a Jacobian point.
func commitJacobian(c Commitment) (*secp256k1.JacobianPoint, error) {
	if c[0] != 0x08 && c[0] != 0x09 {
		return nil, fmt.Errorf("%w: bad commitment prefix 0x%02x", ErrInvalidPoint, c[0])
	}
	var compressed Point
	copy(compressed[:], c[:])
	compressed[0] = 0x02 | (c[0] & 0x01)
	return pointOf(compressed)
}

// ParseCommitment validates a serialized 33-byte Pedersen commitment.
func ParseCommitment(b []byte) (Commitment, error) {
	if len(b) != CommitmentSize {
		return Commitment{}, fmt.Errorf("%w: want %d bytes, got %d", ErrInvalidPoint, CommitmentSize, len(b))
	}
	var out Commitment
	copy(out[:], b)
	if _, err := commitJacobian(out); err != nil {
		return Commitment{}, err
	}
	return out, nil
}

// PedersenCommit commits to value with the given blinding factor.
func PedersenCommit(value uint64, blind Scalar) (Commitment, error) {
	b, err := scalarOfAny(blind)
	if err != nil {
		return Commitment{}, err
	}
	if b.IsZero() && value == 0 {
		return Commitment{}, fmt.Errorf("%w: empty commitment", ErrInvalidScalar)
	}
	return commitBytes(commitPoint(value, b))
}

// PedersenBlindSum returns the signed sum of blinding factors: the first
// nPositive entries are added, the remainder subtracted, all mod n. A zero
// result is returned as-is; callers decide whether zero is acceptable.
func PedersenBlindSum(blinds []Scalar, nPositive int) (Scalar, error) {
	if nPositive < 0 || nPositive > len(blinds) {
		return Scalar{}, fmt.Errorf("%w: nPositive %d out of range", ErrInvalidScalar, nPositive)
	}
	var sum secp256k1.ModNScalar
	for i, blind := range blinds {
		b, err := scalarOfAny(blind)
		if err != nil {
			return Scalar{}, fmt.Errorf("blind %d: %w", i, err)
		}
		if i >= nPositive {
			b.Negate()
		}
		sum.Add(b)
	}
	return scalarBytes(&sum), nil
}

// CommitmentAdd returns a + b as commitment points.
func CommitmentAdd(a, b Commitment) (Commitment, error) {
	pa, err := commitJacobian(a)
	if err != nil {
		return Commitment{}, err
	}
	pb, err := commitJacobian(b)
	if err != nil {
		return Commitment{}, err
	}
	var sum secp256k1.JacobianPoint
	secp256k1.AddNonConst(pa, pb, &sum)
	return commitBytes(&sum)
}

// CommitmentSub returns a - b as commitment points.
func CommitmentSub(a, b Commitment) (Commitment, error) {
	pa, err := commitJacobian(a)
	if err != nil {
		return Commitment{}, err
	}
	pb, err := commitJacobian(b)
	if err != nil {
		return Commitment{}, err
	}
	negatePoint(pb)
	var diff secp256k1.JacobianPoint
	secp256k1.AddNonConst(pa, pb, &diff)
	return commitBytes(&diff)
}
