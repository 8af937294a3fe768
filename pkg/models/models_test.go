package models

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestUTXOMarshalOmitsBlind(t *testing.T) {
	u := &UTXO{
		TxID:        "deadbeef",
		Vout:        2,
		Amount:      1_000_000_000,
		RingCTIndex: 99,
	}
	u.Blind[0] = 0x5a
	u.Blind[31] = 0xa5
	u.KeyImage[0] = 0x02

	raw, err := json.Marshal(u)
	if err != nil {
		t.Fatalf("Marshal() error: %v", err)
	}
	s := string(raw)
	if strings.Contains(strings.ToLower(s), "blind") {
		t.Errorf("marshaled UTXO leaks the blind field: %s", s)
	}
	if !strings.Contains(s, `"keyImage":"02`) {
		t.Errorf("key image missing or not hex: %s", s)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("Unmarshal() error: %v", err)
	}
	if decoded["amount"].(float64) != 1_000_000_000 {
		t.Error("amount round trip failed")
	}
}

func TestCTUTXOOutpoint(t *testing.T) {
	u := &CTUTXO{TxID: "ff00", Vout: 7}
	if u.Outpoint() != "ff00:7" {
		t.Errorf("Outpoint() = %q, want ff00:7", u.Outpoint())
	}
}

func TestWalletHealthZeroValue(t *testing.T) {
	// The type must be serializable for API responses.
	h := WalletHealth{Grade: HealthHealthy}
	raw, err := json.Marshal(h)
	if err != nil {
		t.Fatalf("Marshal() error: %v", err)
	}
	if !strings.Contains(string(raw), HealthHealthy) {
		t.Errorf("grade missing: %s", raw)
	}
}
