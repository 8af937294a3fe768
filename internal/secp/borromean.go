package secp

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// Borromean ring signatures over the digit rings of a range proof. Each ring
// proves its digit commitment opens to one of the ring's candidate values
// without revealing which; the rings share a single binding hash e0.

// prfStream is a deterministic HMAC-SHA256 expansion of a 32-byte seed.
// Signers draw ring nonces and forged s-values from it; rewinders replay the
// same stream from the shared nonce.
type prfStream struct {
	key     [32]byte
	counter uint32
}

func newPrfStream(seed [32]byte, label string) *prfStream {
	mac := hmac.New(sha256.New, seed[:])
	mac.Write([]byte(label))
	st := &prfStream{}
	copy(st.key[:], mac.Sum(nil))
	return st
}

// next32 returns the next 32-byte block of the stream.
func (p *prfStream) next32() [32]byte {
	var ctr [4]byte
	binary.LittleEndian.PutUint32(ctr[:], p.counter)
	p.counter++
	mac := hmac.New(sha256.New, p.key[:])
	mac.Write(ctr[:])
	var out [32]byte
	copy(out[:], mac.Sum(nil))
	return out
}

// nextScalar returns the next non-zero reduced scalar of the stream.
func (p *prfStream) nextScalar() *secp256k1.ModNScalar {
	for {
		block := p.next32()
		var s secp256k1.ModNScalar
		if s.SetBytes(&block) == 0 && !s.IsZero() {
			return &s
		}
	}
}

// xorBytes XORs successive stream blocks into dst.
func (p *prfStream) xorBytes(dst []byte) {
	for off := 0; off < len(dst); off += 32 {
		block := p.next32()
		for i := 0; i < 32 && off+i < len(dst); i++ {
			dst[off+i] ^= block[i]
		}
	}
}

// hashE derives the challenge scalar for position (ring, index) from the
// previous link r and the binding message m.
func hashE(r []byte, m [32]byte, ring, index int) *secp256k1.ModNScalar {
	h := sha256.New()
	h.Write(r)
	h.Write(m[:])
	var pos [8]byte
	binary.LittleEndian.PutUint32(pos[:4], uint32(ring))
	binary.LittleEndian.PutUint32(pos[4:], uint32(index))
	h.Write(pos[:])
	var digest [32]byte
	copy(digest[:], h.Sum(nil))
	var e secp256k1.ModNScalar
	e.SetBytes(&digest)
	if e.IsZero() {
		e.SetInt(1)
	}
	return &e
}

// linkPoint computes s*G + e*P, the next link in a ring chain.
func linkPoint(s, e *secp256k1.ModNScalar, p *secp256k1.JacobianPoint) (Point, error) {
	var sg, ep, sum secp256k1.JacobianPoint
	secp256k1.ScalarBaseMultNonConst(s, &sg)
	secp256k1.ScalarMultNonConst(e, p, &ep)
	secp256k1.AddNonConst(&sg, &ep, &sum)
	return pointBytes(&sum)
}

// borromeanSig holds a Borromean signature: the shared hash e0 and one
// s-value per candidate across all rings.
type borromeanSig struct {
	e0 [32]byte
	s  []secp256k1.ModNScalar
}

// borromeanSign signs the rings described by pubs, where pubs[i][j] is
// candidate j of ring i, secrets[i] opens ring i at index realIdx[i], and m
// binds the signature to the proof context. Forged s-values and ring nonces
// come from the seeded stream so the signature stays deterministic for a
// given seed.
func borromeanSign(seed [32]byte, m [32]byte, pubs [][]*secp256k1.JacobianPoint,
	secrets []*secp256k1.ModNScalar, realIdx []int) (*borromeanSig, error) {

	nRings := len(pubs)
	kStream := newPrfStream(seed, "borromean/k")
	sStream := newPrfStream(seed, "borromean/s")

	ks := make([]*secp256k1.ModNScalar, nRings)
	sVals := make([][]*secp256k1.ModNScalar, nRings)
	finals := make([]Point, nRings)

	// Forward pass: from each ring's real index to its last candidate,
	// collecting the final link that feeds the shared hash.
	for i := 0; i < nRings; i++ {
		ring := pubs[i]
		sVals[i] = make([]*secp256k1.ModNScalar, len(ring))
		ks[i] = kStream.nextScalar()

		var kg secp256k1.JacobianPoint
		secp256k1.ScalarBaseMultNonConst(ks[i], &kg)
		r, err := pointBytes(&kg)
		if err != nil {
			return nil, err
		}
		for j := realIdx[i] + 1; j < len(ring); j++ {
			e := hashE(r[:], m, i, j)
			s := sStream.nextScalar()
			sVals[i][j] = s
			r, err = linkPoint(s, e, ring[j])
			if err != nil {
				return nil, err
			}
		}
		finals[i] = r
	}

	e0 := hashE0(finals, m)

	// Closing pass: chain from index 0 with forged s-values, then solve for
	// the real s so the chain meets the nonce link computed above.
	sig := &borromeanSig{e0: e0}
	for i := 0; i < nRings; i++ {
		ring := pubs[i]
		e := hashE(e0[:], m, i, 0)
		for j := 0; j < realIdx[i]; j++ {
			s := sStream.nextScalar()
			sVals[i][j] = s
			r, err := linkPoint(s, e, ring[j])
			if err != nil {
				return nil, err
			}
			e = hashE(r[:], m, i, j+1)
		}
		// s = k - e*x closes the ring at the real index.
		var ex secp256k1.ModNScalar
		ex.Mul2(e, secrets[i]).Negate()
		ex.Add(ks[i])
		if ex.IsZero() {
			return nil, ErrProofRejected
		}
		sClosed := new(secp256k1.ModNScalar)
		sClosed.Set(&ex)
		sVals[i][realIdx[i]] = sClosed
	}

	for i := 0; i < nRings; i++ {
		for j := 0; j < len(pubs[i]); j++ {
			sig.s = append(sig.s, *sVals[i][j])
		}
	}
	return sig, nil
}

// borromeanVerify recomputes every ring chain from e0 and checks that the
// final links hash back to e0.
func borromeanVerify(sig *borromeanSig, m [32]byte, pubs [][]*secp256k1.JacobianPoint) bool {
	finals := make([]Point, len(pubs))
	idx := 0
	for i, ring := range pubs {
		e := hashE(sig.e0[:], m, i, 0)
		var r Point
		for j := 0; j < len(ring); j++ {
			if idx >= len(sig.s) {
				return false
			}
			s := sig.s[idx]
			idx++
			var err error
			r, err = linkPoint(&s, e, ring[j])
			if err != nil {
				return false
			}
			e = hashE(r[:], m, i, j+1)
		}
		finals[i] = r
	}
	if idx != len(sig.s) {
		return false
	}
	e0 := hashE0(finals, m)
	return e0 == sig.e0
}

// hashE0 binds the final links of every ring into the shared hash.
func hashE0(finals []Point, m [32]byte) [32]byte {
	h := sha256.New()
	for _, f := range finals {
		h.Write(f[:])
	}
	h.Write(m[:])
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}
