package wire

import (
	"encoding/hex"
	"testing"
)

func TestSummarize(t *testing.T) {
	tx := buildSampleTx(t)
	raw := tx.Serialize()

	summary, err := Summarize(raw)
	if err != nil {
		t.Fatalf("Summarize() error: %v", err)
	}

	if summary.TxID != tx.TxID() {
		t.Errorf("TxID = %s, want %s", summary.TxID, tx.TxID())
	}
	if summary.Size != len(raw) {
		t.Errorf("Size = %d, want %d", summary.Size, len(raw))
	}
	if summary.NumInputs != 1 || summary.NumOutputs != 4 {
		t.Errorf("counts = (%d, %d), want (1, 4)", summary.NumInputs, summary.NumOutputs)
	}
	if summary.Fee != 120_000 {
		t.Errorf("Fee = %d, want 120000 from the fee record", summary.Fee)
	}

	in := summary.Inputs[0]
	if !in.Anon || in.RingSize != 11 || in.MlsagInputs != 1 {
		t.Errorf("input summary = %+v", in)
	}
	if !in.HasWitness || in.KeyImage == "" {
		t.Error("anon input summary missing witness/key image")
	}

	wantTypes := []string{"data", "ringct", "ct", "standard"}
	for i, want := range wantTypes {
		if summary.Outputs[i].Type != want {
			t.Errorf("output %d type = %s, want %s", i, summary.Outputs[i].Type, want)
		}
	}
	if summary.Outputs[1].Commitment == "" || summary.Outputs[1].DestPub == "" {
		t.Error("ringct summary missing commitment/destPub")
	}
	if summary.Outputs[3].Value != 777 {
		t.Errorf("standard output value = %d, want 777", summary.Outputs[3].Value)
	}

	// Hex front door and damage handling.
	if _, err := SummarizeHex(hex.EncodeToString(raw)); err != nil {
		t.Errorf("SummarizeHex() error: %v", err)
	}
	if _, err := SummarizeHex("zz"); err == nil {
		t.Error("bad hex should fail")
	}
	if _, err := Summarize(raw[:10]); err == nil {
		t.Error("truncated bytes should fail")
	}
}
