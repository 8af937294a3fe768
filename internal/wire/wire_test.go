package wire

import (
	"bytes"
	"encoding/hex"
	"reflect"
	"testing"

	"github.com/rawblock/veil-light-engine/internal/secp"
)

func TestMain(m *testing.M) {
	secp.Initialize()
	m.Run()
}

func TestVarIntRoundTrip(t *testing.T) {
	tests := []struct {
		value uint64
		size  int
	}{
		{0, 1},
		{0xfc, 1},
		{0xfd, 3},
		{0xffff, 3},
		{0x10000, 5},
		{0xffffffff, 5},
		{0x100000000, 9},
		{0xffffffffffffffff, 9},
	}
	for _, tt := range tests {
		encoded := AppendVarInt(nil, tt.value)
		if len(encoded) != tt.size {
			t.Errorf("AppendVarInt(%d) length = %d, want %d", tt.value, len(encoded), tt.size)
		}
		decoded, n, err := ReadVarInt(encoded)
		if err != nil {
			t.Fatalf("ReadVarInt(%d) error: %v", tt.value, err)
		}
		if decoded != tt.value || n != tt.size {
			t.Errorf("ReadVarInt = (%d, %d), want (%d, %d)", decoded, n, tt.value, tt.size)
		}
	}
}

func TestUvarint128(t *testing.T) {
	tests := []struct {
		value   uint64
		encoded []byte
	}{
		{0, []byte{0x00}},
		{1, []byte{0x01}},
		{127, []byte{0x7f}},
		{128, []byte{0x80, 0x01}},
		{300, []byte{0xac, 0x02}},
		{100_000_000, []byte{0x80, 0xc2, 0xd7, 0x2f}},
	}
	for _, tt := range tests {
		got := AppendUvarint128(nil, tt.value)
		if !bytes.Equal(got, tt.encoded) {
			t.Errorf("AppendUvarint128(%d) = %x, want %x", tt.value, got, tt.encoded)
		}
		decoded, n, err := ReadUvarint128(tt.encoded)
		if err != nil {
			t.Fatalf("ReadUvarint128(%x) error: %v", tt.encoded, err)
		}
		if decoded != tt.value || n != len(tt.encoded) {
			t.Errorf("ReadUvarint128(%x) = (%d, %d), want (%d, %d)", tt.encoded, decoded, n, tt.value, len(tt.encoded))
		}
	}

	if _, _, err := ReadUvarint128([]byte{0x80, 0x80}); err == nil {
		t.Error("unterminated LEB128 should fail")
	}
}

func TestFeeOutput(t *testing.T) {
	out := NewFeeOutput(5_000_000)
	if out.Data[0] != DataFee {
		t.Errorf("fee marker = 0x%02x, want 0x%02x", out.Data[0], DataFee)
	}
	fee, err := FeeFromOutput(out)
	if err != nil {
		t.Fatalf("FeeFromOutput() error: %v", err)
	}
	if fee != 5_000_000 {
		t.Errorf("fee = %d, want 5000000", fee)
	}

	if _, err := FeeFromOutput(&TxOutData{Data: []byte{0x01, 0x02}}); err == nil {
		t.Error("non-fee data output should fail")
	}
}

func mustPoint(t *testing.T) secp.Point {
	t.Helper()
	sk, err := secp.NewRandomScalar()
	if err != nil {
		t.Fatalf("NewRandomScalar() error: %v", err)
	}
	p, err := secp.DerivePub(sk)
	if err != nil {
		t.Fatalf("DerivePub() error: %v", err)
	}
	return p
}

func mustCommit(t *testing.T, value uint64) secp.Commitment {
	t.Helper()
	blind, err := secp.NewRandomScalar()
	if err != nil {
		t.Fatalf("NewRandomScalar() error: %v", err)
	}
	c, err := secp.PedersenCommit(value, blind)
	if err != nil {
		t.Fatalf("PedersenCommit() error: %v", err)
	}
	return c
}

// buildSampleTx assembles a representative anon-spending transaction with
// all four output families.
func buildSampleTx(t *testing.T) *MsgTx {
	t.Helper()

	var img secp.KeyImage
	img[0] = 0x02
	for i := 1; i < len(img); i++ {
		img[i] = byte(i)
	}
	in := NewAnonTxIn(1, 11, img)
	in.ScriptWitness = [][]byte{
		AppendUvarint128(AppendUvarint128(nil, 12345), 99),
		bytes.Repeat([]byte{0xab}, 96),
	}

	ephemeralPub := mustPoint(t)
	return &MsgTx{
		Version:  2,
		TxType:   1,
		LockTime: 0,
		Inputs:   []*TxIn{in},
		Outputs: []TxOut{
			NewFeeOutput(120_000),
			&TxOutRingCT{
				DestPub:    mustPoint(t),
				Commitment: mustCommit(t, 1_000_000_000),
				Data:       append([]byte(nil), ephemeralPub[:]...),
				RangeProof: bytes.Repeat([]byte{0x11}, 300),
			},
			&TxOutCT{
				Commitment:   mustCommit(t, 42),
				Data:         []byte{0x01, 0x02, 0x03},
				ScriptPubKey: bytes.Repeat([]byte{0x51}, 25),
				RangeProof:   bytes.Repeat([]byte{0x22}, 128),
			},
			&TxOutStandard{Value: 777, ScriptPubKey: []byte{0x6a}},
		},
	}
}

func TestSerializeRoundTrip(t *testing.T) {
	tx := buildSampleTx(t)

	raw := tx.Serialize()
	parsed, err := Deserialize(raw)
	if err != nil {
		t.Fatalf("Deserialize() error: %v", err)
	}
	if !reflect.DeepEqual(tx, parsed) {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", parsed, tx)
	}

	// Witness flag and per-input witness layout.
	if raw[2] != 1 {
		t.Errorf("hasWitness byte = %d, want 1", raw[2])
	}

	// Serialization is deterministic.
	if !bytes.Equal(raw, parsed.Serialize()) {
		t.Error("reserialization differs")
	}
}

func TestDeserializeRejectsDamage(t *testing.T) {
	raw := buildSampleTx(t).Serialize()

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"truncated", raw[:len(raw)/2]},
		{"trailing bytes", append(append([]byte(nil), raw...), 0x00)},
		{"bad witness flag", func() []byte {
			c := append([]byte(nil), raw...)
			c[2] = 7
			return c
		}()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Deserialize(tt.data); err == nil {
				t.Error("Deserialize should fail")
			}
		})
	}
}

func TestAnonInputPacking(t *testing.T) {
	var img secp.KeyImage
	img[0] = 0x03
	in := NewAnonTxIn(1, 11, img)

	if !in.IsAnonInput() {
		t.Fatal("anon input not detected")
	}
	nInputs, ringSize := in.AnonInfo()
	if nInputs != 1 || ringSize != 11 {
		t.Errorf("AnonInfo() = (%d, %d), want (1, 11)", nInputs, ringSize)
	}
	for _, b := range in.PrevOut.Hash[8:] {
		if b != 0 {
			t.Fatal("prevout hash bytes 8..32 must be zero")
		}
	}
	got, err := in.KeyImage()
	if err != nil {
		t.Fatalf("KeyImage() error: %v", err)
	}
	if got != img {
		t.Error("key image round trip mismatch")
	}
}

func TestOutputsHashOrderSensitivity(t *testing.T) {
	tx := buildSampleTx(t)
	h1 := tx.OutputsHash()

	// Equal ordering, equal hash.
	if h2 := tx.OutputsHash(); h1 != h2 {
		t.Error("outputs hash is not deterministic")
	}

	// Reordering outputs must change the preimage.
	tx.Outputs[0], tx.Outputs[1] = tx.Outputs[1], tx.Outputs[0]
	if h3 := tx.OutputsHash(); h1 == h3 {
		t.Error("outputs hash ignores output order")
	}
}

func TestTxIDMatchesReversedDoubleSha(t *testing.T) {
	tx := buildSampleTx(t)
	raw := tx.Serialize()

	dsh := secp.DoubleSha256(raw)
	for i, j := 0, len(dsh)-1; i < j; i, j = i+1, j-1 {
		dsh[i], dsh[j] = dsh[j], dsh[i]
	}
	want := hex.EncodeToString(dsh[:])
	if got := tx.TxID(); got != want {
		t.Errorf("TxID() = %s, want %s", got, want)
	}
	if got := TxIDFromBytes(raw); got != want {
		t.Errorf("TxIDFromBytes() = %s, want %s", got, want)
	}
}

func TestLegacySigHash(t *testing.T) {
	pub := mustPoint(t)
	script := P2PKHScript(pub)
	if len(script) != 25 {
		t.Fatalf("P2PKH script length = %d, want 25", len(script))
	}

	tx := &MsgTx{
		Version: 2,
		Inputs: []*TxIn{
			{PrevOut: OutPoint{N: 0}, Sequence: 0xffffffff},
			{PrevOut: OutPoint{N: 1}, Sequence: 0xffffffff},
		},
		Outputs: []TxOut{&TxOutStandard{Value: 100, ScriptPubKey: []byte{0x6a}}},
	}
	tx.Inputs[0].PrevOut.Hash[0] = 0xaa
	tx.Inputs[1].PrevOut.Hash[0] = 0xbb

	h0, err := LegacySigHash(tx, 0, script, SigHashAll)
	if err != nil {
		t.Fatalf("LegacySigHash() error: %v", err)
	}
	h1, err := LegacySigHash(tx, 1, script, SigHashAll)
	if err != nil {
		t.Fatalf("LegacySigHash() error: %v", err)
	}
	if h0 == h1 {
		t.Error("sighash must depend on the signed input position")
	}

	if _, err := LegacySigHash(tx, 5, script, SigHashAll); err == nil {
		t.Error("out-of-range sign index should fail")
	}
}
