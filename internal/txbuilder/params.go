// Package txbuilder composes spendable outputs into signed transactions:
// coin selection, RingCT output construction, ring assembly, MLSAG signing
// for single- and multi-input spends, CT-input ECDSA signing, and send
// planning around the hard input limit.
package txbuilder

import (
	"crypto/rand"
	"encoding/binary"
	"math/bits"

	"github.com/rawblock/veil-light-engine/internal/secp"
)

const (
	// MinRingSize, MaxRingSize bound the anonymity set per input;
	// DefaultRingSize is used when the caller does not choose.
	MinRingSize     = 3
	MaxRingSize     = 32
	DefaultRingSize = 11

	// MaxInputs is the hard per-transaction real-input limit.
	MaxInputs = 32

	// ConsolidationThreshold is the UTXO count above which the wallet is
	// graded fragmented.
	ConsolidationThreshold = 10

	// DefaultFeePerKB is the flat fee rate in base units per serialized
	// kilobyte.
	DefaultFeePerKB uint64 = 100_000
)

// cryptoRandIntn returns a uniformly random int in [0, n) from the
// cryptographic RNG, via rejection sampling.
func cryptoRandIntn(n int) int {
	if n <= 1 {
		return 0
	}
	max := ^uint64(0)
	limit := max - max%uint64(n)
	var buf [8]byte
	for {
		if _, err := rand.Read(buf[:]); err != nil {
			// The RNG failing is unrecoverable for a privacy wallet.
			panic("txbuilder: crypto rng failure: " + err.Error())
		}
		v := binary.BigEndian.Uint64(buf[:])
		if v < limit {
			return int(v % uint64(n))
		}
	}
}

// cryptoShuffle permutes s in place with a Fisher-Yates shuffle driven by
// the cryptographic RNG. Input selection order is privacy relevant, so the
// weaker math/rand source is never acceptable here.
func cryptoShuffle[T any](s []T) {
	for i := len(s) - 1; i > 0; i-- {
		j := cryptoRandIntn(i + 1)
		s[i], s[j] = s[j], s[i]
	}
}

// countTrailingDecimalZeros returns the largest k with 10^k dividing v.
func countTrailingDecimalZeros(v uint64) int {
	k := 0
	for v != 0 && v%10 == 0 {
		v /= 10
		k++
	}
	return k
}

// selectRangeProofParams picks the (exp, minBits) shape of an output's
// range proof. The exact algorithm is load-bearing for interoperable proof
// sizes and must not be "improved":
//
//   - zero values get a random exponent in [0,5) and 32 mantissa bits,
//     occasionally widened;
//   - otherwise the exponent is drawn between half and all of the value's
//     trailing decimal zeros, and the mantissa covers the scaled value's
//     bit length (counted from the MSB), floored at 32 and rounded up to a
//     multiple of 4 below 63.
func selectRangeProofParams(value uint64) secp.RangeProofParams {
	params := secp.RangeProofParams{MinValue: 0}

	if value == 0 {
		params.Exp = cryptoRandIntn(5)
		params.MinBits = 32
		if cryptoRandIntn(10) == 0 {
			params.MinBits += cryptoRandIntn(5)
		}
		return params
	}

	k := countTrailingDecimalZeros(value)
	params.Exp = k/2 + cryptoRandIntn(k-k/2+1)
	scaled := value
	for i := 0; i < params.Exp; i++ {
		scaled /= 10
	}

	// Bit length of the scaled value, i.e. 64 minus the leading-zero
	// count. The reference names this a trailing-zero count but scans
	// from the most significant bit; preserving that semantic is required
	// for wire compatibility.
	bitsReq := 64 - bits.LeadingZeros64(scaled)
	params.MinBits = bitsReq
	if params.MinBits < 32 {
		params.MinBits = 32
	}
	for params.MinBits < 63 && params.MinBits%4 != 0 {
		params.MinBits++
	}
	return params
}
