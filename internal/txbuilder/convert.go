package txbuilder

import (
	"encoding/hex"
	"fmt"
	"log"

	"github.com/rawblock/veil-light-engine/internal/stealth"
	"github.com/rawblock/veil-light-engine/internal/wire"
	"github.com/rawblock/veil-light-engine/pkg/models"
)

// ConvertParams drives a CT → RingCT conversion: conventional ECDSA-signed
// inputs spending CT outpoints, RingCT outputs moving the whole value into
// the anon set.
type ConvertParams struct {
	Wallet   *stealth.Wallet
	Inputs   []*models.CTUTXO
	FeePerKB uint64
	LockTime uint32
}

// estimateConvertSize approximates a conversion transaction: legacy inputs
// (outpoint + scriptSig ≈ 180 bytes) and RingCT outputs.
func estimateConvertSize(nIn, nOut int) int {
	return 100 + nIn*180 + nOut*156
}

// BuildConvert moves CT outputs into the RingCT anon set. Every input is
// spent by ECDSA over the legacy sighash with the stealth-derived output
// spend key; the whole value minus fee becomes a fresh RingCT output to the
// wallet's own address.
func BuildConvert(params ConvertParams) (*BuiltTx, error) {
	if params.Wallet == nil {
		return nil, fmt.Errorf("%w: missing wallet", ErrValidation)
	}
	if len(params.Inputs) == 0 {
		return nil, fmt.Errorf("%w: no ct inputs", ErrValidation)
	}
	if len(params.Inputs) > MaxInputs {
		return nil, fmt.Errorf("%w: %d ct inputs above the %d limit", ErrTooManyInputs, len(params.Inputs), MaxInputs)
	}
	feePerKB := params.FeePerKB
	if feePerKB == 0 {
		feePerKB = DefaultFeePerKB
	}

	var total uint64
	for _, u := range params.Inputs {
		if u.Amount == 0 || u.Amount > wire.MaxMoney {
			return nil, fmt.Errorf("%w: ct input %s amount out of range", ErrValidation, u.Outpoint())
		}
		total += u.Amount
	}
	fee := feeForSize(estimateConvertSize(len(params.Inputs), 2), feePerKB)
	if total <= fee {
		return nil, fmt.Errorf("%w: ct inputs worth %d cannot pay fee %d", ErrInsufficientFunds, total, fee)
	}

	tx := &wire.MsgTx{Version: 2, LockTime: params.LockTime}
	for _, u := range params.Inputs {
		in, err := NewCTTxIn(u)
		if err != nil {
			return nil, err
		}
		tx.Inputs = append(tx.Inputs, in)
	}

	selfAddr, err := stealth.DecodeAddress(params.Wallet.Address)
	if err != nil {
		return nil, fmt.Errorf("%w: own address: %v", ErrValidation, err)
	}
	draft, err := NewRingCTDraft(selfAddr, total-fee)
	if err != nil {
		return nil, err
	}
	tx.Outputs = []wire.TxOut{NewFeeDraft(fee).Output, draft.Output}

	// Sign after all outputs are final: the legacy sighash commits to them.
	for i, u := range params.Inputs {
		if err := SignCTInput(tx, i, u, params.Wallet); err != nil {
			return nil, fmt.Errorf("ct input %d: %w", i, err)
		}
	}

	raw := tx.Serialize()
	txid := tx.TxID()
	log.Printf("[TxBuilder] Built ct-convert tx %s: %d inputs, value %d, fee %d",
		txid[:16], len(tx.Inputs), total-fee, fee)

	return &BuiltTx{
		Tx:     tx,
		Hex:    hex.EncodeToString(raw),
		TxID:   txid,
		Fee:    fee,
		Change: 0,
	}, nil
}

// BuildConsolidation sweeps up to MaxInputs RingCT outputs back to the
// wallet's own address in one transaction, reducing fragmentation. It is
// the executor for the sweep descriptors PlanSend emits.
func BuildConsolidation(wallet *stealth.Wallet, inputs []*models.UTXO, decoys []Decoy, feePerKB uint64, ringSize int) (*BuiltTx, error) {
	if len(inputs) == 0 {
		return nil, fmt.Errorf("%w: nothing to consolidate", ErrValidation)
	}
	if len(inputs) > MaxInputs {
		inputs = inputs[:MaxInputs]
	}
	if feePerKB == 0 {
		feePerKB = DefaultFeePerKB
	}
	if ringSize == 0 {
		ringSize = DefaultRingSize
	}

	var total uint64
	for _, u := range inputs {
		total += u.Amount
	}
	// Match the selection estimate (recipient + fee record + change slot)
	// so the inner build's own fee math cannot come out higher.
	fee := feeForSize(estimateTxSize(len(inputs), 3, ringSize), feePerKB)
	if total <= fee {
		return nil, fmt.Errorf("%w: inputs worth %d cannot pay fee %d", ErrInsufficientFunds, total, fee)
	}

	// A sweep is a normal build addressed to self, forced to consume the
	// given inputs by offering exactly those as spendable.
	built, err := Build(BuildParams{
		Wallet:     wallet,
		Spendable:  inputs,
		Recipients: []Recipient{{Address: wallet.Address, Amount: total - fee}},
		Decoys:     decoys,
		FeePerKB:   feePerKB,
		RingSize:   ringSize,
	})
	if err != nil {
		return nil, err
	}
	return built, nil
}
