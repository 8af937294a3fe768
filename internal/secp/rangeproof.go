package secp

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"
	"math/bits"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// Range proofs commit each base-4 digit of the (scaled) value in its own
// sub-commitment and prove digit membership with a Borromean ring signature.
// The sender's payload (value, blind, message) rides along encrypted under
// the shared rangeproof nonce so the receiver can rewind the proof.
//
// Layout:
//
//	exp:u8 | mantissa:u8 | minValue:u64LE | e0:32 |
//	digitCommits[(nRings-1)*33] | s[nCandidates*32] | encryptedPayload
//
// The last digit commitment is implied: it is the total commitment minus
// minValue*H minus the explicit digit commitments.

const (
	rangeProofHeaderSize = 1 + 1 + 8 + 32

	// rangePayloadFixed is the fixed part of the rewind payload:
	// value(8) || blind(32) || msgLen(2).
	rangePayloadFixed = 8 + ScalarSize + 2

	// MaxRangeProofMessage bounds the caller-supplied message carried in
	// the rewind payload.
	MaxRangeProofMessage = 128

	maxRangeExp = 18
)

// RangeProofParams are the proof shape knobs selected per output.
type RangeProofParams struct {
	MinValue uint64
	Exp      int
	MinBits  int
}

// ringGeometry returns the ring count and per-ring candidate counts for a
// mantissa of the given bit width. Rings cover two bits (base 4) except a
// trailing odd bit, which gets a binary ring.
func ringGeometry(mantissa int) (nRings int, digits []int) {
	nRings = (mantissa + 1) / 2
	digits = make([]int, nRings)
	for i := range digits {
		digits[i] = 4
	}
	if mantissa%2 == 1 {
		digits[nRings-1] = 2
	}
	return nRings, digits
}

// pow10 returns 10^exp for exp in [0,18].
func pow10(exp int) uint64 {
	out := uint64(1)
	for i := 0; i < exp; i++ {
		out *= 10
	}
	return out
}

// rangeMaxValue computes minValue + (2^mantissa - 1) * 10^exp, saturating
// at the maximum representable value.
func rangeMaxValue(minValue uint64, exp, mantissa int) uint64 {
	if mantissa >= 64 {
		return math.MaxUint64
	}
	mantMax := uint64(1)<<uint(mantissa) - 1
	hi, lo := bits.Mul64(mantMax, pow10(exp))
	if hi != 0 {
		return math.MaxUint64
	}
	out, carry := bits.Add64(lo, minValue, 0)
	if carry != 0 {
		return math.MaxUint64
	}
	return out
}

// digitWeights returns the scalar weight 4^i * 10^exp of each ring's digit.
func digitWeights(nRings, exp int) []secp256k1.ModNScalar {
	weights := make([]secp256k1.ModNScalar, nRings)
	four := new(secp256k1.ModNScalar)
	four.SetInt(4)
	w := scalarFromUint64(pow10(exp))
	for i := 0; i < nRings; i++ {
		weights[i].Set(w)
		w.Mul(four)
	}
	return weights
}

// digitRing builds the candidate pubkeys of ring i: P_j = C_i - j*weight*H,
// so the candidate at the true digit index opens to blind*G.
func digitRing(commit *secp256k1.JacobianPoint, weight *secp256k1.ModNScalar, candidates int) ([]*secp256k1.JacobianPoint, error) {
	var step secp256k1.JacobianPoint
	secp256k1.ScalarMultNonConst(weight, &generatorH, &step)
	negatePoint(&step)

	ring := make([]*secp256k1.JacobianPoint, candidates)
	cur := *commit
	for j := 0; j < candidates; j++ {
		cp := cur
		ring[j] = &cp
		var next secp256k1.JacobianPoint
		secp256k1.AddNonConst(&cur, &step, &next)
		cur = next
	}
	return ring, nil
}

// rangeBindingHash binds the proof context: the commitment, the header
// fields and every digit commitment.
func rangeBindingHash(commit Commitment, exp, mantissa int, minValue uint64, digitCommits []Commitment) [32]byte {
	h := sha256.New()
	h.Write(commit[:])
	h.Write([]byte{byte(exp), byte(mantissa)})
	var mv [8]byte
	binary.LittleEndian.PutUint64(mv[:], minValue)
	h.Write(mv[:])
	for _, dc := range digitCommits {
		h.Write(dc[:])
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// SignRangeProof proves that commit hides a value in
// [minValue, minValue + (2^minBits-1)*10^exp] and embeds the rewind payload
// encrypted under nonce. The commitment must open to (value, blind).
func SignRangeProof(commit Commitment, value uint64, blind Scalar, nonce [32]byte,
	message []byte, params RangeProofParams) ([]byte, error) {

	exp, mantissa, minValue := params.Exp, params.MinBits, params.MinValue
	if exp < 0 || exp > maxRangeExp {
		return nil, fmt.Errorf("%w: exp %d out of range", ErrProofRejected, exp)
	}
	if mantissa < 1 || mantissa > 64 {
		return nil, fmt.Errorf("%w: mantissa %d out of range", ErrProofRejected, mantissa)
	}
	if len(message) > MaxRangeProofMessage {
		return nil, fmt.Errorf("%w: message too long", ErrProofRejected)
	}
	if value < minValue {
		return nil, fmt.Errorf("%w: value below minimum", ErrProofRejected)
	}
	scale := pow10(exp)
	scaled := value - minValue
	if scaled%scale != 0 {
		return nil, fmt.Errorf("%w: value not divisible by 10^%d", ErrProofRejected, exp)
	}
	mantissaV := scaled / scale
	if mantissa < 64 && mantissaV >= uint64(1)<<uint(mantissa) {
		return nil, fmt.Errorf("%w: value exceeds %d mantissa bits", ErrProofRejected, mantissa)
	}

	totalBlind, err := scalarOfAny(blind)
	if err != nil {
		return nil, err
	}

	nRings, digits := ringGeometry(mantissa)
	weights := digitWeights(nRings, exp)

	// Per-ring blinds: rings 1..n-1 come from the nonce stream, ring 0
	// absorbs the remainder so the digit commitments sum to the total.
	blindStream := newPrfStream(nonce, "rangeproof/blinds")
	ringBlinds := make([]*secp256k1.ModNScalar, nRings)
	rest := new(secp256k1.ModNScalar)
	for i := 1; i < nRings; i++ {
		ringBlinds[i] = blindStream.nextScalar()
		rest.Add(ringBlinds[i])
	}
	rest.Negate()
	rest.Add(totalBlind)
	if rest.IsZero() {
		return nil, fmt.Errorf("%w: degenerate ring blind", ErrProofRejected)
	}
	ringBlinds[0] = rest

	// Digit commitments and rings.
	realIdx := make([]int, nRings)
	digitCommits := make([]Commitment, nRings)
	pubs := make([][]*secp256k1.JacobianPoint, nRings)
	rem := mantissaV
	for i := 0; i < nRings; i++ {
		d := int(rem & 0x03)
		if digits[i] == 2 {
			d = int(rem & 0x01)
		}
		rem >>= 2
		realIdx[i] = d

		var dv secp256k1.ModNScalar
		dv.SetInt(uint32(d))
		dv.Mul(&weights[i])

		var bg, dh, ci secp256k1.JacobianPoint
		secp256k1.ScalarBaseMultNonConst(ringBlinds[i], &bg)
		if d == 0 {
			ci = bg
		} else {
			secp256k1.ScalarMultNonConst(&dv, &generatorH, &dh)
			secp256k1.AddNonConst(&bg, &dh, &ci)
		}
		digitCommits[i], err = commitBytes(&ci)
		if err != nil {
			return nil, err
		}
		ciParsed, err := commitJacobian(digitCommits[i])
		if err != nil {
			return nil, err
		}
		pubs[i], err = digitRing(ciParsed, &weights[i], digits[i])
		if err != nil {
			return nil, err
		}
	}

	m := rangeBindingHash(commit, exp, mantissa, minValue, digitCommits)
	seedStream := newPrfStream(nonce, "rangeproof/seed")
	seed := seedStream.next32()
	sig, err := borromeanSign(seed, m, pubs, ringBlinds, realIdx)
	if err != nil {
		return nil, err
	}

	// Assemble.
	proof := make([]byte, 0, rangeProofHeaderSize+(nRings-1)*CommitmentSize+len(sig.s)*ScalarSize+rangePayloadFixed+len(message))
	proof = append(proof, byte(exp), byte(mantissa))
	var mv [8]byte
	binary.LittleEndian.PutUint64(mv[:], minValue)
	proof = append(proof, mv[:]...)
	proof = append(proof, sig.e0[:]...)
	for i := 0; i < nRings-1; i++ {
		proof = append(proof, digitCommits[i][:]...)
	}
	for i := range sig.s {
		sb := scalarBytes(&sig.s[i])
		proof = append(proof, sb[:]...)
	}

	payload := make([]byte, rangePayloadFixed+len(message))
	binary.LittleEndian.PutUint64(payload[:8], value)
	copy(payload[8:40], blind[:])
	binary.LittleEndian.PutUint16(payload[40:42], uint16(len(message)))
	copy(payload[42:], message)
	newPrfStream(nonce, "rangeproof/payload").xorBytes(payload)
	proof = append(proof, payload...)

	return proof, nil
}

// parsedRangeProof is the decoded wire form of a proof.
type parsedRangeProof struct {
	exp          int
	mantissa     int
	minValue     uint64
	sig          borromeanSig
	digitCommits []Commitment
	payload      []byte
}

// parseRangeProof splits a proof against the commitment it claims to cover,
// reconstructing the implied final digit commitment.
func parseRangeProof(commit Commitment, proof []byte) (*parsedRangeProof, [][]*secp256k1.JacobianPoint, error) {
	if len(proof) < rangeProofHeaderSize {
		return nil, nil, fmt.Errorf("%w: truncated header", ErrProofRejected)
	}
	out := &parsedRangeProof{
		exp:      int(proof[0]),
		mantissa: int(proof[1]),
		minValue: binary.LittleEndian.Uint64(proof[2:10]),
	}
	if out.exp > maxRangeExp || out.mantissa < 1 || out.mantissa > 64 {
		return nil, nil, fmt.Errorf("%w: bad proof parameters", ErrProofRejected)
	}
	copy(out.sig.e0[:], proof[10:42])

	nRings, digits := ringGeometry(out.mantissa)
	nCandidates := 0
	for _, d := range digits {
		nCandidates += d
	}
	off := rangeProofHeaderSize
	need := (nRings-1)*CommitmentSize + nCandidates*ScalarSize + rangePayloadFixed
	if len(proof)-off < need {
		return nil, nil, fmt.Errorf("%w: truncated proof", ErrProofRejected)
	}

	out.digitCommits = make([]Commitment, nRings)
	var sum *secp256k1.JacobianPoint
	for i := 0; i < nRings-1; i++ {
		dc, err := ParseCommitment(proof[off : off+CommitmentSize])
		if err != nil {
			return nil, nil, fmt.Errorf("digit commitment %d: %w", i, err)
		}
		out.digitCommits[i] = dc
		off += CommitmentSize
		jp, err := commitJacobian(dc)
		if err != nil {
			return nil, nil, err
		}
		if sum == nil {
			sum = jp
		} else {
			var next secp256k1.JacobianPoint
			secp256k1.AddNonConst(sum, jp, &next)
			sum = &next
		}
	}

	// Implied last ring commitment: commit - minValue*H - sum(explicit).
	total, err := commitJacobian(commit)
	if err != nil {
		return nil, nil, err
	}
	if out.minValue != 0 {
		var mvH secp256k1.JacobianPoint
		secp256k1.ScalarMultNonConst(scalarFromUint64(out.minValue), &generatorH, &mvH)
		negatePoint(&mvH)
		var adj secp256k1.JacobianPoint
		secp256k1.AddNonConst(total, &mvH, &adj)
		total = &adj
	}
	last := *total
	if sum != nil {
		neg := *sum
		negatePoint(&neg)
		var diff secp256k1.JacobianPoint
		secp256k1.AddNonConst(total, &neg, &diff)
		last = diff
	}
	lastCommit, err := commitBytes(&last)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: degenerate digit sum", ErrProofRejected)
	}
	out.digitCommits[nRings-1] = lastCommit

	out.sig.s = make([]secp256k1.ModNScalar, nCandidates)
	for i := 0; i < nCandidates; i++ {
		var block [32]byte
		copy(block[:], proof[off:off+ScalarSize])
		if out.sig.s[i].SetBytes(&block) != 0 {
			return nil, nil, fmt.Errorf("%w: s value overflow", ErrProofRejected)
		}
		off += ScalarSize
	}
	out.payload = proof[off:]

	weights := digitWeights(nRings, out.exp)
	pubs := make([][]*secp256k1.JacobianPoint, nRings)
	for i := 0; i < nRings; i++ {
		jp, err := commitJacobian(out.digitCommits[i])
		if err != nil {
			return nil, nil, err
		}
		pubs[i], err = digitRing(jp, &weights[i], digits[i])
		if err != nil {
			return nil, nil, err
		}
	}
	return out, pubs, nil
}

// VerifyRangeProof checks proof against commit and returns the proven
// value bounds.
func VerifyRangeProof(commit Commitment, proof []byte) (minValue, maxValue uint64, err error) {
	parsed, pubs, err := parseRangeProof(commit, proof)
	if err != nil {
		return 0, 0, err
	}
	m := rangeBindingHash(commit, parsed.exp, parsed.mantissa, parsed.minValue, parsed.digitCommits)
	if !borromeanVerify(&parsed.sig, m, pubs) {
		return 0, 0, fmt.Errorf("%w: borromean verification failed", ErrProofRejected)
	}
	return parsed.minValue, rangeMaxValue(parsed.minValue, parsed.exp, parsed.mantissa), nil
}

// RewindResult is the payload recovered from a proof by its rightful
// receiver.
type RewindResult struct {
	Value    uint64
	Blind    Scalar
	MinValue uint64
	MaxValue uint64
	Message  []byte
}

// RewindRangeProof verifies proof and decrypts the embedded payload with
// nonce. It fails unless the recovered (value, blind) reopen the commitment,
// so a wrong nonce cannot yield a bogus success.
func RewindRangeProof(nonce [32]byte, commit Commitment, proof []byte) (*RewindResult, error) {
	parsed, pubs, err := parseRangeProof(commit, proof)
	if err != nil {
		return nil, err
	}
	m := rangeBindingHash(commit, parsed.exp, parsed.mantissa, parsed.minValue, parsed.digitCommits)
	if !borromeanVerify(&parsed.sig, m, pubs) {
		return nil, fmt.Errorf("%w: borromean verification failed", ErrProofRejected)
	}

	payload := make([]byte, len(parsed.payload))
	copy(payload, parsed.payload)
	newPrfStream(nonce, "rangeproof/payload").xorBytes(payload)
	if len(payload) < rangePayloadFixed {
		return nil, fmt.Errorf("%w: truncated payload", ErrProofRejected)
	}
	msgLen := int(binary.LittleEndian.Uint16(payload[40:42]))
	if msgLen != len(payload)-rangePayloadFixed {
		return nil, fmt.Errorf("%w: rewind nonce mismatch", ErrProofRejected)
	}

	res := &RewindResult{
		Value:    binary.LittleEndian.Uint64(payload[:8]),
		MinValue: parsed.minValue,
		MaxValue: rangeMaxValue(parsed.minValue, parsed.exp, parsed.mantissa),
		Message:  append([]byte(nil), payload[42:]...),
	}
	copy(res.Blind[:], payload[8:40])

	recomputed, err := PedersenCommit(res.Value, res.Blind)
	if err != nil || recomputed != commit {
		return nil, fmt.Errorf("%w: rewound opening does not match commitment", ErrProofRejected)
	}
	return res, nil
}
