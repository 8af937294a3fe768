package txbuilder

import (
	"fmt"

	"github.com/rawblock/veil-light-engine/pkg/models"
)

// estimateTxSize approximates the serialized size of a transaction with
// nIn ring inputs and nOut outputs at the given ring size with a fixed
// linear model. It does not account for range-proof or MLSAG witness sizes,
// so a built transaction serializes larger than the estimate; the flat fee
// rate is applied to it without iterative convergence.
func estimateTxSize(nIn, nOut, ringSize int) int {
	return 100 + nIn*(ringSize*33+100) + nOut*156
}

// feeForSize applies the per-kilobyte rate, rounding the size up to whole
// kilobytes.
func feeForSize(size int, feePerKB uint64) uint64 {
	kb := uint64(size+999) / 1000
	return kb * feePerKB
}

// selectionResult is the outcome of coin selection.
type selectionResult struct {
	utxos  []*models.UTXO
	total  uint64
	fee    uint64
	change uint64
}

// selectCoins picks inputs covering amount plus the estimated fee. The
// candidate order is shuffled with the cryptographic RNG first: input
// choice leaks wallet structure, so it must not be deterministic.
func selectCoins(available []*models.UTXO, amount uint64, feePerKB uint64, ringSize, nOut int) (*selectionResult, error) {
	if len(available) == 0 {
		return nil, fmt.Errorf("%w: wallet has no spendable outputs", ErrInsufficientFunds)
	}

	shuffled := make([]*models.UTXO, len(available))
	copy(shuffled, available)
	cryptoShuffle(shuffled)

	var picked []*models.UTXO
	var total uint64
	for _, utxo := range shuffled {
		picked = append(picked, utxo)
		total += utxo.Amount

		fee := feeForSize(estimateTxSize(len(picked), nOut, ringSize), feePerKB)
		if total >= amount+fee {
			return &selectionResult{
				utxos:  picked,
				total:  total,
				fee:    fee,
				change: total - amount - fee,
			}, nil
		}
		if len(picked) >= MaxInputs {
			return nil, fmt.Errorf("%w: %d inputs reached without covering %d; consolidate first",
				ErrTooManyInputs, MaxInputs, amount)
		}
	}
	return nil, fmt.Errorf("%w: have %d, need %d plus fees", ErrInsufficientFunds, total, amount)
}

// EstimateFee exposes the selection fee model for planners and API
// surfaces.
func EstimateFee(nIn, nOut, ringSize int, feePerKB uint64) uint64 {
	return feeForSize(estimateTxSize(nIn, nOut, ringSize), feePerKB)
}
