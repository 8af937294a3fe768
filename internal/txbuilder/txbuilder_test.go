package txbuilder

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"testing"

	"github.com/rawblock/veil-light-engine/internal/secp"
	"github.com/rawblock/veil-light-engine/internal/stealth"
	"github.com/rawblock/veil-light-engine/internal/wire"
	"github.com/rawblock/veil-light-engine/pkg/models"
)

func TestMain(m *testing.M) {
	secp.Initialize()
	m.Run()
}

// makeOwnedUTXO simulates receiving amount: it constructs a RingCT output
// to the wallet and materializes the owned UTXO the way the scanner would.
func makeOwnedUTXO(t *testing.T, w *stealth.Wallet, amount, ringctIndex uint64) *models.UTXO {
	t.Helper()

	addr, err := stealth.DecodeAddress(w.Address)
	if err != nil {
		t.Fatalf("DecodeAddress() error: %v", err)
	}
	draft, err := NewRingCTDraft(addr, amount)
	if err != nil {
		t.Fatalf("NewRingCTDraft() error: %v", err)
	}
	out := draft.Output.(*wire.TxOutRingCT)

	var ephemeralPub secp.Point
	copy(ephemeralPub[:], out.Data[:secp.PointSize])
	destSecret, err := stealth.RecoverDestinationSecret(w.SpendSecret, w.ScanSecret, ephemeralPub)
	if err != nil {
		t.Fatalf("RecoverDestinationSecret() error: %v", err)
	}
	keyImage, err := secp.ComputeKeyImage(out.DestPub, destSecret)
	if err != nil {
		t.Fatalf("ComputeKeyImage() error: %v", err)
	}

	return &models.UTXO{
		TxID:         fmt.Sprintf("%064x", ringctIndex),
		Vout:         0,
		Amount:       amount,
		Commitment:   out.Commitment,
		Blind:        draft.Blind,
		PubKey:       out.DestPub,
		EphemeralPub: ephemeralPub,
		KeyImage:     keyImage,
		RingCTIndex:  ringctIndex,
	}
}

// makeDecoys fabricates a decoy pool with well-formed keys and
// commitments at ascending indices starting after base.
func makeDecoys(t *testing.T, n int, base uint64) []Decoy {
	t.Helper()
	decoys := make([]Decoy, n)
	for i := range decoys {
		sk, err := secp.NewRandomScalar()
		if err != nil {
			t.Fatalf("NewRandomScalar() error: %v", err)
		}
		pub, err := secp.DerivePub(sk)
		if err != nil {
			t.Fatalf("DerivePub() error: %v", err)
		}
		blind, _ := secp.NewRandomScalar()
		commit, err := secp.PedersenCommit(uint64(1000+i), blind)
		if err != nil {
			t.Fatalf("PedersenCommit() error: %v", err)
		}
		decoys[i] = Decoy{PubKey: pub, Commitment: commit, Index: base + uint64(i) + 1}
	}
	return decoys
}

func decodeIndexVector(t *testing.T, blob []byte, ringSize int) []uint64 {
	t.Helper()
	indices := make([]uint64, 0, ringSize)
	for off := 0; off < len(blob); {
		v, n, err := wire.ReadUvarint128(blob[off:])
		if err != nil {
			t.Fatalf("ReadUvarint128() error: %v", err)
		}
		indices = append(indices, v)
		off += n
	}
	if len(indices) != ringSize {
		t.Fatalf("index vector has %d entries, want %d", len(indices), ringSize)
	}
	return indices
}

func TestBuildSingleInputSend(t *testing.T) {
	w, err := stealth.CreateWallet()
	if err != nil {
		t.Fatalf("CreateWallet() error: %v", err)
	}
	recipient, _ := stealth.CreateWallet()

	const ringSize = 11
	utxo := makeOwnedUTXO(t, w, 2_000_000_000, 500)

	built, err := Build(BuildParams{
		Wallet:     w,
		Spendable:  []*models.UTXO{utxo},
		Recipients: []Recipient{{Address: recipient.Address, Amount: 1_000_000_000}},
		Decoys:     makeDecoys(t, 10, 1000),
		RingSize:   ringSize,
	})
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}

	// Exactly three outputs: fee data, recipient ringct, change ringct.
	if len(built.Tx.Outputs) != 3 {
		t.Fatalf("got %d outputs, want 3", len(built.Tx.Outputs))
	}
	feeOut, ok := built.Tx.Outputs[0].(*wire.TxOutData)
	if !ok {
		t.Fatal("first output is not the fee data output")
	}
	wantFeeData := wire.AppendUvarint128([]byte{wire.DataFee}, built.Fee)
	if !bytes.Equal(feeOut.Data, wantFeeData) {
		t.Errorf("fee encoding = %x, want %x", feeOut.Data, wantFeeData)
	}
	for i := 1; i < 3; i++ {
		if _, ok := built.Tx.Outputs[i].(*wire.TxOutRingCT); !ok {
			t.Errorf("output %d is not ringct", i)
		}
	}

	// Amount conservation.
	if built.Change != 2_000_000_000-1_000_000_000-built.Fee {
		t.Errorf("change = %d, want %d", built.Change, 2_000_000_000-1_000_000_000-built.Fee)
	}

	// Input shape: anon marker, ring geometry, key image on the data stack.
	in := built.Tx.Inputs[0]
	if !in.IsAnonInput() {
		t.Fatal("input is not anon-marked")
	}
	nInputs, gotRing := in.AnonInfo()
	if nInputs != 1 || gotRing != ringSize {
		t.Errorf("AnonInfo() = (%d, %d), want (1, %d)", nInputs, gotRing, ringSize)
	}
	img, err := in.KeyImage()
	if err != nil {
		t.Fatalf("KeyImage() error: %v", err)
	}
	if img != utxo.KeyImage {
		t.Error("witness key image does not match the spent utxo")
	}

	// Witness: 11 LEB128 indices including the real one, then c0||s.
	indices := decodeIndexVector(t, in.ScriptWitness[0], ringSize)
	found := false
	for _, idx := range indices {
		if idx == utxo.RingCTIndex {
			found = true
		}
	}
	if !found {
		t.Error("real utxo index missing from witness index vector")
	}
	wantBlobLen := 32 + ringSize*2*32
	if len(in.ScriptWitness[1]) != wantBlobLen {
		t.Errorf("mlsag blob length = %d, want %d", len(in.ScriptWitness[1]), wantBlobLen)
	}

	// TxID is the reversed double-SHA of the serialized bytes.
	raw, err := hex.DecodeString(built.Hex)
	if err != nil {
		t.Fatalf("built hex invalid: %v", err)
	}
	if wire.TxIDFromBytes(raw) != built.TxID {
		t.Error("TxID does not match reverse(doubleSha256(hex))")
	}

	// The serialized transaction round-trips.
	parsed, err := wire.Deserialize(raw)
	if err != nil {
		t.Fatalf("Deserialize() error: %v", err)
	}
	if parsed.TxID() != built.TxID {
		t.Error("round-tripped txid mismatch")
	}
}

func TestBuildMultiInputSend(t *testing.T) {
	w, _ := stealth.CreateWallet()
	recipient, _ := stealth.CreateWallet()

	const ringSize = 5
	utxos := []*models.UTXO{
		makeOwnedUTXO(t, w, 600_000_000, 10),
		makeOwnedUTXO(t, w, 600_000_000, 11),
	}

	built, err := Build(BuildParams{
		Wallet:     w,
		Spendable:  utxos,
		Recipients: []Recipient{{Address: recipient.Address, Amount: 1_000_000_000}},
		Decoys:     makeDecoys(t, 30, 100),
		RingSize:   ringSize,
	})
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}
	if len(built.Tx.Inputs) != 2 {
		t.Fatalf("got %d inputs, want 2", len(built.Tx.Inputs))
	}

	singleBlobLen := 32 + ringSize*2*32
	seenDecoys := make(map[uint64]int)
	var splitCommitSum secp.Commitment
	for i, in := range built.Tx.Inputs {
		// Each multi-input blob carries the 33-byte split commitment after
		// c0||s.
		blob := in.ScriptWitness[1]
		if len(blob) != singleBlobLen+33 {
			t.Errorf("input %d blob length = %d, want %d", i, len(blob), singleBlobLen+33)
		}
		splitCommit, err := secp.ParseCommitment(blob[singleBlobLen:])
		if err != nil {
			t.Fatalf("input %d split commitment: %v", i, err)
		}
		if i == 0 {
			splitCommitSum = splitCommit
		} else {
			splitCommitSum, err = secp.CommitmentAdd(splitCommitSum, splitCommit)
			if err != nil {
				t.Fatalf("CommitmentAdd() error: %v", err)
			}
		}

		for _, idx := range decodeIndexVector(t, in.ScriptWitness[0], ringSize) {
			seenDecoys[idx]++
		}
	}

	// No ring member index may repeat across inputs.
	for idx, count := range seenDecoys {
		if count > 1 {
			t.Errorf("ring index %d used %d times across inputs", idx, count)
		}
	}

	// The split commitments must sum to the output commitment sum
	// (fee commitment included), proving the blind bookkeeping balances.
	var zeroBlind secp.Scalar
	outSum, err := secp.PedersenCommit(built.Fee, zeroBlind)
	if err != nil {
		t.Fatalf("fee commit error: %v", err)
	}
	for _, out := range built.Tx.Outputs {
		ringct, ok := out.(*wire.TxOutRingCT)
		if !ok {
			continue
		}
		outSum, err = secp.CommitmentAdd(outSum, ringct.Commitment)
		if err != nil {
			t.Fatalf("CommitmentAdd() error: %v", err)
		}
	}
	if splitCommitSum != outSum {
		t.Error("split commitments do not sum to the output commitment sum")
	}
}

func TestBuildValidation(t *testing.T) {
	w, _ := stealth.CreateWallet()
	recipient, _ := stealth.CreateWallet()
	utxo := makeOwnedUTXO(t, w, 1_000_000, 1)

	tests := []struct {
		name    string
		mutate  func(*BuildParams)
		wantErr error
	}{
		{"no recipients", func(p *BuildParams) { p.Recipients = nil }, ErrValidation},
		{"zero amount", func(p *BuildParams) { p.Recipients[0].Amount = 0 }, ErrValidation},
		{"bad address", func(p *BuildParams) { p.Recipients[0].Address = "bv1nonsense" }, ErrValidation},
		{"ring too small", func(p *BuildParams) { p.RingSize = 2 }, ErrValidation},
		{"ring too large", func(p *BuildParams) { p.RingSize = 40 }, ErrValidation},
		{"insufficient funds", func(p *BuildParams) { p.Recipients[0].Amount = 5_000_000 }, ErrInsufficientFunds},
		{"decoy shortage", func(p *BuildParams) { p.Decoys = p.Decoys[:2] }, ErrDecoyShortage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params := BuildParams{
				Wallet:     w,
				Spendable:  []*models.UTXO{utxo},
				Recipients: []Recipient{{Address: recipient.Address, Amount: 100_000}},
				Decoys:     makeDecoys(t, 10, 50),
				RingSize:   5,
			}
			tt.mutate(&params)
			_, err := Build(params)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Build() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestSelectCoinsTooManyInputs(t *testing.T) {
	w, _ := stealth.CreateWallet()
	var utxos []*models.UTXO
	for i := 0; i < 40; i++ {
		utxos = append(utxos, makeOwnedUTXO(t, w, 1_000_000, uint64(i)))
	}
	// 40M total but any 32 inputs only reach 32M; asking for 35M must
	// fail on the input cap, not on funds.
	_, err := selectCoins(utxos, 35_000_000, DefaultFeePerKB, DefaultRingSize, 3)
	if !errors.Is(err, ErrTooManyInputs) {
		t.Errorf("selectCoins() error = %v, want ErrTooManyInputs", err)
	}
}

func TestRingAssemblerExclusions(t *testing.T) {
	w, _ := stealth.CreateWallet()
	real1 := makeOwnedUTXO(t, w, 1000, 5)
	real2 := makeOwnedUTXO(t, w, 2000, 6)
	pool := makeDecoys(t, 8, 100)

	// Poison the pool with the second real output's pubkey; it must never
	// be chosen as a decoy.
	poisoned := append(pool, Decoy{PubKey: real2.PubKey, Commitment: real2.Commitment, Index: 6})

	a := newRingAssembler(poisoned, []*models.UTXO{real1, real2}, 4)
	r1, err := a.assemble(real1)
	if err != nil {
		t.Fatalf("assemble() error: %v", err)
	}
	r2, err := a.assemble(real2)
	if err != nil {
		t.Fatalf("assemble() error: %v", err)
	}

	used := make(map[uint64]bool)
	for _, rg := range []*ring{r1, r2} {
		for i, m := range rg.members {
			if i == rg.secretIndex {
				continue
			}
			if m.PubKey == real1.PubKey || m.PubKey == real2.PubKey {
				t.Error("real output pubkey appeared as a decoy")
			}
			if used[m.Index] {
				t.Errorf("decoy index %d reused across rings", m.Index)
			}
			used[m.Index] = true
		}
	}

	if r1.members[r1.secretIndex].PubKey != real1.PubKey {
		t.Error("real member not at the secret index")
	}
}

func TestRangeProofParamSelection(t *testing.T) {
	values := []uint64{0, 1, 9, 10, 100, 12345, 1_000_000_000, 2_000_000_000,
		100_000_000_000, 21_000_000 * 100_000_000}
	for _, v := range values {
		for trial := 0; trial < 20; trial++ {
			p := selectRangeProofParams(v)
			if p.Exp < 0 || p.Exp > 18 {
				t.Fatalf("value %d: exp %d outside [0,18]", v, p.Exp)
			}
			if p.MinBits < 32 || p.MinBits > 64 {
				t.Fatalf("value %d: minBits %d outside [32,64]", v, p.MinBits)
			}
			if p.MinBits < 63 && p.MinBits%4 != 0 {
				t.Fatalf("value %d: minBits %d below 63 not a multiple of 4", v, p.MinBits)
			}
			if v != 0 {
				scale := uint64(1)
				for i := 0; i < p.Exp; i++ {
					scale *= 10
				}
				if v%scale != 0 {
					t.Fatalf("value %d not divisible by selected 10^%d", v, p.Exp)
				}
			}
		}
	}
}

func TestRangeProofParamPinnedValues(t *testing.T) {
	// 1_000_000_000 = 10^9: k=9, exp in [4,9], scaled fits well under 32
	// bits, so minBits pins to 32.
	for trial := 0; trial < 50; trial++ {
		p := selectRangeProofParams(1_000_000_000)
		if p.Exp < 4 || p.Exp > 9 {
			t.Fatalf("exp %d outside [4,9] for 1e9", p.Exp)
		}
		if p.MinBits != 32 {
			t.Fatalf("minBits %d, want 32 for 1e9", p.MinBits)
		}
	}
	// 12345 has no trailing zeros: exp must be 0.
	for trial := 0; trial < 20; trial++ {
		if p := selectRangeProofParams(12345); p.Exp != 0 {
			t.Fatalf("exp %d, want 0 for 12345", p.Exp)
		}
	}
	// Max supply: 2.1e15 = 21 * 10^14: k=14, scaled value at exp=14 is 21
	// (5 bits), minBits still 32.
	for trial := 0; trial < 20; trial++ {
		p := selectRangeProofParams(21_000_000 * 100_000_000)
		if p.Exp < 7 || p.Exp > 14 {
			t.Fatalf("exp %d outside [7,14] for max supply", p.Exp)
		}
	}
}

func TestCTSigning(t *testing.T) {
	w, _ := stealth.CreateWallet()
	addr, _ := stealth.DecodeAddress(w.Address)

	// Fabricate a received CT output: derive its one-time key honestly.
	eph, err := stealth.GenerateEphemeral(addr)
	if err != nil {
		t.Fatalf("GenerateEphemeral() error: %v", err)
	}
	spendKey, err := stealth.RecoverDestinationSecret(w.SpendSecret, w.ScanSecret, eph.Public)
	if err != nil {
		t.Fatalf("RecoverDestinationSecret() error: %v", err)
	}
	pub, _ := secp.DerivePub(spendKey)
	blind, _ := secp.NewRandomScalar()
	commit, _ := secp.PedersenCommit(50_000, blind)

	utxo := &models.CTUTXO{
		TxID:         "aa" + "00" + "11" + fmt.Sprintf("%058x", 7),
		Vout:         1,
		Amount:       50_000,
		Commitment:   commit,
		Blind:        blind,
		PubKey:       pub,
		EphemeralPub: eph.Public,
		ScriptPubKey: wire.P2PKHScript(pub),
	}

	in, err := NewCTTxIn(utxo)
	if err != nil {
		t.Fatalf("NewCTTxIn() error: %v", err)
	}
	if in.IsAnonInput() {
		t.Fatal("CT input must not be anon-marked")
	}

	tx := &wire.MsgTx{
		Version: 2,
		Inputs:  []*wire.TxIn{in},
		Outputs: []wire.TxOut{&wire.TxOutStandard{Value: 40_000, ScriptPubKey: wire.P2PKHScript(pub)}},
	}
	if err := SignCTInput(tx, 0, utxo, w); err != nil {
		t.Fatalf("SignCTInput() error: %v", err)
	}

	sig := tx.Inputs[0].ScriptSig
	if len(sig) == 0 {
		t.Fatal("scriptSig empty after signing")
	}
	// Last 34 bytes push the compressed pubkey.
	if sig[len(sig)-34] != 33 || !bytes.Equal(sig[len(sig)-33:], pub[:]) {
		t.Error("scriptSig does not end with the output pubkey push")
	}
	// The first push ends with the sighash type byte.
	sigPushLen := int(sig[0])
	if sig[sigPushLen] != wire.SigHashAll {
		t.Error("signature push does not carry SIGHASH_ALL")
	}
}

func TestPlanSendAndHealth(t *testing.T) {
	w, _ := stealth.CreateWallet()

	var utxos []*models.UTXO
	for i := 0; i < 70; i++ {
		utxos = append(utxos, makeOwnedUTXO(t, w, 100_000_000, uint64(i)))
	}

	// 70 x 1 coin; sending 50 coins needs more than 32 inputs, so the
	// planner must emit sweeps plus a final send.
	plan, err := PlanSend(utxos, 50*100_000_000, DefaultFeePerKB, 5)
	if err != nil {
		t.Fatalf("PlanSend() error: %v", err)
	}
	if len(plan.Transactions) < 2 {
		t.Fatalf("plan has %d transactions, want sweeps plus final send", len(plan.Transactions))
	}
	var fees uint64
	for i, d := range plan.Transactions {
		fees += d.Fee
		if i < len(plan.Transactions)-1 {
			if !d.IsSweep || !d.TargetSelf {
				t.Errorf("transaction %d should be a self-sweep", i)
			}
			if d.NumInputs > MaxInputs {
				t.Errorf("sweep %d uses %d inputs, above the limit", i, d.NumInputs)
			}
		}
	}
	if plan.TotalFees != fees {
		t.Errorf("TotalFees = %d, want %d", plan.TotalFees, fees)
	}

	// A small send fits in one transaction.
	single, err := PlanSend(utxos[:5], 100_000_000, DefaultFeePerKB, 5)
	if err != nil {
		t.Fatalf("PlanSend(small) error: %v", err)
	}
	if len(single.Transactions) != 1 {
		t.Errorf("small plan has %d transactions, want 1", len(single.Transactions))
	}

	tests := []struct {
		count int
		grade string
	}{
		{3, models.HealthHealthy},
		{10, models.HealthHealthy},
		{11, models.HealthFragmented},
		{32, models.HealthFragmented},
		{33, models.HealthCritical},
	}
	for _, tt := range tests {
		if h := AssessWalletHealth(tt.count); h.Grade != tt.grade {
			t.Errorf("AssessWalletHealth(%d) = %s, want %s", tt.count, h.Grade, tt.grade)
		}
	}
}
