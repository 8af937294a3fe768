package txbuilder

import (
	"errors"
	"fmt"
	"testing"

	"github.com/rawblock/veil-light-engine/internal/scanner"
	"github.com/rawblock/veil-light-engine/internal/secp"
	"github.com/rawblock/veil-light-engine/internal/stealth"
	"github.com/rawblock/veil-light-engine/internal/wire"
	"github.com/rawblock/veil-light-engine/pkg/models"
)

// makeOwnedCTUTXO fabricates a received CT output with an honestly derived
// one-time spend key.
func makeOwnedCTUTXO(t *testing.T, w *stealth.Wallet, amount uint64, seq int) *models.CTUTXO {
	t.Helper()

	addr, err := stealth.DecodeAddress(w.Address)
	if err != nil {
		t.Fatalf("DecodeAddress() error: %v", err)
	}
	eph, err := stealth.GenerateEphemeral(addr)
	if err != nil {
		t.Fatalf("GenerateEphemeral() error: %v", err)
	}
	spendKey, err := stealth.RecoverDestinationSecret(w.SpendSecret, w.ScanSecret, eph.Public)
	if err != nil {
		t.Fatalf("RecoverDestinationSecret() error: %v", err)
	}
	pub, err := secp.DerivePub(spendKey)
	if err != nil {
		t.Fatalf("DerivePub() error: %v", err)
	}
	blind, _ := secp.NewRandomScalar()
	commit, err := secp.PedersenCommit(amount, blind)
	if err != nil {
		t.Fatalf("PedersenCommit() error: %v", err)
	}

	return &models.CTUTXO{
		TxID:         fmt.Sprintf("%064x", 0xc0ffee+seq),
		Vout:         uint32(seq),
		Amount:       amount,
		Commitment:   commit,
		Blind:        blind,
		PubKey:       pub,
		EphemeralPub: eph.Public,
		ScriptPubKey: wire.P2PKHScript(pub),
	}
}

func TestBuildConvert(t *testing.T) {
	w, err := stealth.CreateWallet()
	if err != nil {
		t.Fatalf("CreateWallet() error: %v", err)
	}

	inputs := []*models.CTUTXO{
		makeOwnedCTUTXO(t, w, 400_000_000, 0),
		makeOwnedCTUTXO(t, w, 350_000_000, 1),
	}
	built, err := BuildConvert(ConvertParams{Wallet: w, Inputs: inputs})
	if err != nil {
		t.Fatalf("BuildConvert() error: %v", err)
	}

	if len(built.Tx.Inputs) != 2 {
		t.Fatalf("got %d inputs, want 2", len(built.Tx.Inputs))
	}
	for i, in := range built.Tx.Inputs {
		if in.IsAnonInput() {
			t.Errorf("input %d must be a conventional outpoint", i)
		}
		if len(in.ScriptSig) == 0 {
			t.Errorf("input %d unsigned", i)
		}
		if len(in.ScriptWitness) != 0 {
			t.Errorf("input %d must not carry a witness", i)
		}
	}

	// Fee record plus one RingCT output carrying total - fee.
	if len(built.Tx.Outputs) != 2 {
		t.Fatalf("got %d outputs, want 2", len(built.Tx.Outputs))
	}
	feeOut, ok := built.Tx.Outputs[0].(*wire.TxOutData)
	if !ok {
		t.Fatal("first output is not the fee record")
	}
	fee, err := wire.FeeFromOutput(feeOut)
	if err != nil || fee != built.Fee {
		t.Errorf("fee record = (%d, %v), want %d", fee, err, built.Fee)
	}
	ringct, ok := built.Tx.Outputs[1].(*wire.TxOutRingCT)
	if !ok {
		t.Fatal("second output is not ringct")
	}

	// The wallet must detect the converted output as its own, for the full
	// converted amount.
	owned, err := scanner.DetectRingCT(scanner.KeysFromWallet(w), ringct)
	if err != nil {
		t.Fatalf("DetectRingCT() error: %v", err)
	}
	if owned == nil {
		t.Fatal("converted output not detected by owner")
	}
	if owned.Amount != 750_000_000-built.Fee {
		t.Errorf("converted amount = %d, want %d", owned.Amount, 750_000_000-built.Fee)
	}

	// Serialized form round-trips and has no witness flag.
	raw := built.Tx.Serialize()
	if raw[2] != 0 {
		t.Error("conversion transaction must not set the witness flag")
	}
	if _, err := wire.Deserialize(raw); err != nil {
		t.Fatalf("Deserialize() error: %v", err)
	}
}

func TestBuildConvertValidation(t *testing.T) {
	w, _ := stealth.CreateWallet()

	if _, err := BuildConvert(ConvertParams{Wallet: w}); !errors.Is(err, ErrValidation) {
		t.Errorf("empty inputs: error = %v, want ErrValidation", err)
	}

	dust := []*models.CTUTXO{makeOwnedCTUTXO(t, w, 10, 0)}
	if _, err := BuildConvert(ConvertParams{Wallet: w, Inputs: dust}); !errors.Is(err, ErrInsufficientFunds) {
		t.Errorf("dust inputs: error = %v, want ErrInsufficientFunds", err)
	}

	var many []*models.CTUTXO
	for i := 0; i < MaxInputs+1; i++ {
		many = append(many, makeOwnedCTUTXO(t, w, 1_000_000, i))
	}
	if _, err := BuildConvert(ConvertParams{Wallet: w, Inputs: many}); !errors.Is(err, ErrTooManyInputs) {
		t.Errorf("too many inputs: error = %v, want ErrTooManyInputs", err)
	}
}

func TestBuildConsolidation(t *testing.T) {
	w, _ := stealth.CreateWallet()

	var inputs []*models.UTXO
	for i := 0; i < 4; i++ {
		inputs = append(inputs, makeOwnedUTXO(t, w, 200_000_000, uint64(i)))
	}
	built, err := BuildConsolidation(w, inputs, makeDecoys(t, 40, 1000), DefaultFeePerKB, 5)
	if err != nil {
		t.Fatalf("BuildConsolidation() error: %v", err)
	}

	if len(built.Tx.Inputs) != 4 {
		t.Fatalf("sweep used %d inputs, want all 4", len(built.Tx.Inputs))
	}

	// All value minus fee lands back at the wallet in one detectable
	// output; no separate change output should exist.
	var ringctOuts []*wire.TxOutRingCT
	for _, out := range built.Tx.Outputs {
		if rc, ok := out.(*wire.TxOutRingCT); ok {
			ringctOuts = append(ringctOuts, rc)
		}
	}
	if len(ringctOuts) != 1 {
		t.Fatalf("sweep emitted %d ringct outputs, want 1", len(ringctOuts))
	}
	owned, err := scanner.DetectRingCT(scanner.KeysFromWallet(w), ringctOuts[0])
	if err != nil {
		t.Fatalf("DetectRingCT() error: %v", err)
	}
	if owned == nil {
		t.Fatal("sweep output not owned by the wallet")
	}
	if owned.Amount != 800_000_000-built.Fee {
		t.Errorf("sweep amount = %d, want %d", owned.Amount, 800_000_000-built.Fee)
	}
}
