package veild

import (
	"encoding/json"
	"testing"
)

func TestSplitURL(t *testing.T) {
	tests := []struct {
		name       string
		url        string
		wantHost   string
		wantNoTLS  bool
		wantErr    bool
	}{
		{"bare host", "localhost:58810", "localhost:58810", true, false},
		{"http", "http://node.example:58810", "node.example:58810", true, false},
		{"https", "https://node.example", "node.example", false, false},
		{"bad scheme", "ftp://node.example", "", false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			host, noTLS, err := splitURL(tt.url)
			if (err != nil) != tt.wantErr {
				t.Fatalf("splitURL(%q) error = %v, wantErr %v", tt.url, err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if host != tt.wantHost || noTLS != tt.wantNoTLS {
				t.Errorf("splitURL(%q) = (%q, %v), want (%q, %v)", tt.url, host, noTLS, tt.wantHost, tt.wantNoTLS)
			}
		})
	}
}

func TestAnonOutputRingIndexFallback(t *testing.T) {
	u := func(v uint64) *uint64 { return &v }

	tests := []struct {
		name string
		out  AnonOutput
		want uint64
		ok   bool
	}{
		{"prefers ringctindex", AnonOutput{RingCTIndex: u(1), Index: u(2), GlobalIndex: u(3)}, 1, true},
		{"falls back to index", AnonOutput{Index: u(2), GlobalIndex: u(3)}, 2, true},
		{"falls back to global_index", AnonOutput{GlobalIndex: u(3)}, 3, true},
		{"no index at all", AnonOutput{}, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tt.out.RingIndex()
			if got != tt.want || ok != tt.ok {
				t.Errorf("RingIndex() = (%d, %v), want (%d, %v)", got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestAmountUnmarshal(t *testing.T) {
	tests := []struct {
		name    string
		json    string
		want    uint64
		wantErr bool
	}{
		{"number", `123456`, 123456, false},
		{"string", `"123456"`, 123456, false},
		{"null", `null`, 0, false},
		{"float", `12.5`, 0, true},
		{"garbage", `"12x"`, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var a Amount
			err := json.Unmarshal([]byte(tt.json), &a)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Unmarshal(%s) error = %v, wantErr %v", tt.json, err, tt.wantErr)
			}
			if err == nil && uint64(a) != tt.want {
				t.Errorf("Amount = %d, want %d", a, tt.want)
			}
		})
	}
}

func TestWatchOnlyTxesDecode(t *testing.T) {
	payload := `{"anon":[{"raw":"abcd","amount":"500","dbindex":7,"ringct_index":42}],"stealth":[]}`
	var page WatchOnlyTxes
	if err := json.Unmarshal([]byte(payload), &page); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if len(page.Anon) != 1 {
		t.Fatalf("got %d anon records, want 1", len(page.Anon))
	}
	rec := page.Anon[0]
	if rec.Raw != "abcd" || rec.DBIndex != 7 {
		t.Errorf("record = %+v", rec)
	}
	if rec.Amount == nil || uint64(*rec.Amount) != 500 {
		t.Error("string amount metadata not decoded")
	}
	if rec.RingCTIndex == nil || *rec.RingCTIndex != 42 {
		t.Error("ringct_index not decoded")
	}
}
