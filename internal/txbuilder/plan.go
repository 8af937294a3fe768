package txbuilder

import (
	"fmt"

	"github.com/rawblock/veil-light-engine/pkg/models"
)

// AssessWalletHealth grades UTXO fragmentation by output count: up to
// ConsolidationThreshold is healthy, up to the 32-input cap is fragmented,
// and above the cap (no single transaction spends everything) is critical.
// Fragmented and critical wallets are flagged for consolidation.
func AssessWalletHealth(utxoCount int) models.WalletHealth {
	health := models.WalletHealth{
		UtxoCount:        utxoCount,
		SpendableInOneTx: utxoCount,
	}
	if utxoCount > MaxInputs {
		health.SpendableInOneTx = MaxInputs
	}
	switch {
	case utxoCount > MaxInputs:
		health.Grade = models.HealthCritical
		health.NeedsConsolidation = true
	case utxoCount > ConsolidationThreshold:
		health.Grade = models.HealthFragmented
		health.NeedsConsolidation = true
	default:
		health.Grade = models.HealthHealthy
	}
	return health
}

// PlanSend decomposes a send that would exceed the input limit into a
// sequence of transactions: consolidation sweeps back to the wallet
// followed by the final payment. It only plans; nothing is built or
// broadcast, and fees are estimates from the selection model.
func PlanSend(spendable []*models.UTXO, amount uint64, feePerKB uint64, ringSize int) (*models.SendPlan, error) {
	if ringSize == 0 {
		ringSize = DefaultRingSize
	}
	if feePerKB == 0 {
		feePerKB = DefaultFeePerKB
	}

	var total uint64
	for _, u := range spendable {
		total += u.Amount
	}

	// Try the single-transaction shape first; a plan is only needed when
	// selection hits the input cap.
	if _, err := selectCoins(spendable, amount, feePerKB, ringSize, 3); err == nil {
		fee := EstimateFee(1, 3, ringSize, feePerKB)
		return &models.SendPlan{
			Transactions: []models.SendDescriptor{{
				Amount:   amount,
				Fee:      fee,
				RingSize: ringSize,
			}},
			TotalAmount: amount,
			TotalFees:   fee,
		}, nil
	}

	// Sweep batches of MaxInputs back to self until the remainder fits in
	// one spend.
	pool := make([]*models.UTXO, len(spendable))
	copy(pool, spendable)
	cryptoShuffle(pool)

	plan := &models.SendPlan{TotalAmount: amount}
	remaining := pool
	for len(remaining) > MaxInputs {
		batch := remaining[:MaxInputs]
		remaining = remaining[MaxInputs:]

		var batchTotal uint64
		images := make([]string, 0, len(batch))
		for _, u := range batch {
			batchTotal += u.Amount
			images = append(images, u.KeyImageHex())
		}
		fee := EstimateFee(len(batch), 2, ringSize, feePerKB)
		if batchTotal <= fee {
			return nil, fmt.Errorf("%w: consolidation batch worth %d cannot pay fee %d",
				ErrInsufficientFunds, batchTotal, fee)
		}
		plan.Transactions = append(plan.Transactions, models.SendDescriptor{
			Amount:     batchTotal - fee,
			Fee:        fee,
			NumInputs:  len(batch),
			KeyImages:  images,
			IsSweep:    true,
			RingSize:   ringSize,
			TargetSelf: true,
		})
		plan.TotalFees += fee
	}

	finalFee := EstimateFee(len(remaining), 3, ringSize, feePerKB)
	var sweptTotal uint64
	for _, d := range plan.Transactions {
		sweptTotal += d.Amount
	}
	var remainingTotal uint64
	for _, u := range remaining {
		remainingTotal += u.Amount
	}
	if sweptTotal+remainingTotal < amount+finalFee {
		return nil, fmt.Errorf("%w: balance %d cannot cover %d plus planned fees",
			ErrInsufficientFunds, total, amount)
	}
	plan.Transactions = append(plan.Transactions, models.SendDescriptor{
		Amount:   amount,
		Fee:      finalFee,
		RingSize: ringSize,
	})
	plan.TotalFees += finalFee
	return plan, nil
}
