package balance

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"testing"

	"github.com/rawblock/veil-light-engine/internal/scanner"
	"github.com/rawblock/veil-light-engine/internal/secp"
	"github.com/rawblock/veil-light-engine/internal/stealth"
	"github.com/rawblock/veil-light-engine/internal/veild"
	"github.com/rawblock/veil-light-engine/internal/wire"
	"github.com/rawblock/veil-light-engine/pkg/models"
)

func TestMain(m *testing.M) {
	secp.Initialize()
	m.Run()
}

// fakeNode serves canned watch-only pages and records key-image queries.
type fakeNode struct {
	pages        map[uint64][]veild.WatchOnlyRecord
	spent        map[string]bool
	queried      []string
	pageErrAt    *uint64
	keyImageErr  bool
}

func (f *fakeNode) GetWatchOnlyTxes(_ context.Context, _ string, offset uint64) (*veild.WatchOnlyTxes, error) {
	if f.pageErrAt != nil && offset == *f.pageErrAt {
		return nil, errors.New("node unavailable")
	}
	return &veild.WatchOnlyTxes{Anon: f.pages[offset]}, nil
}

func (f *fakeNode) CheckKeyImages(_ context.Context, images []string) ([]veild.KeyImageStatus, error) {
	if f.keyImageErr {
		return nil, errors.New("node unavailable")
	}
	out := make([]veild.KeyImageStatus, len(images))
	for i, img := range images {
		f.queried = append(f.queried, img)
		out[i] = veild.KeyImageStatus{Status: "valid", Spent: f.spent[img]}
	}
	return out, nil
}

// makeRecord builds one owned anon watch-only record for the wallet and
// returns it with its key image.
func makeRecord(t *testing.T, w *stealth.Wallet, amount, dbIndex uint64) (veild.WatchOnlyRecord, string) {
	t.Helper()

	addr, err := stealth.DecodeAddress(w.Address)
	if err != nil {
		t.Fatalf("DecodeAddress() error: %v", err)
	}
	eph, err := stealth.GenerateEphemeral(addr)
	if err != nil {
		t.Fatalf("GenerateEphemeral() error: %v", err)
	}
	blind, _ := secp.NewRandomScalar()
	commit, err := secp.PedersenCommit(amount, blind)
	if err != nil {
		t.Fatalf("PedersenCommit() error: %v", err)
	}
	nonce, _ := secp.RangeproofNonce(eph.DestPub, eph.Secret)
	proof, err := secp.SignRangeProof(commit, amount, blind, nonce, nil, secp.RangeProofParams{MinBits: 32})
	if err != nil {
		t.Fatalf("SignRangeProof() error: %v", err)
	}

	raw := make([]byte, 0, 256)
	raw = binary.LittleEndian.AppendUint64(raw, dbIndex)
	raw = binary.LittleEndian.AppendUint32(raw, uint32(scanner.RecordAnon))
	raw = append(raw, make([]byte, 34)...) // scan secret + flags
	var txHash [32]byte
	txHash[0] = byte(dbIndex)
	raw = append(raw, txHash[:]...)
	raw = binary.LittleEndian.AppendUint32(raw, 0)
	raw = append(raw, eph.DestPub[:]...)
	raw = append(raw, commit[:]...)
	raw = wire.AppendVarInt(raw, secp.PointSize)
	raw = append(raw, eph.Public[:]...)
	raw = wire.AppendVarInt(raw, uint64(len(proof)))
	raw = append(raw, proof...)

	destSecret, err := stealth.RecoverDestinationSecret(w.SpendSecret, w.ScanSecret, eph.Public)
	if err != nil {
		t.Fatalf("RecoverDestinationSecret() error: %v", err)
	}
	img, err := secp.ComputeKeyImage(eph.DestPub, destSecret)
	if err != nil {
		t.Fatalf("ComputeKeyImage() error: %v", err)
	}
	return veild.WatchOnlyRecord{Raw: hex.EncodeToString(raw), DBIndex: dbIndex}, hex.EncodeToString(img[:])
}

func TestGetBalanceFiltersSpent(t *testing.T) {
	w, err := stealth.CreateWallet()
	if err != nil {
		t.Fatalf("CreateWallet() error: %v", err)
	}
	keys := scanner.KeysFromWallet(w)

	rec1, _ := makeRecord(t, w, 700, 10)
	rec2, ki2 := makeRecord(t, w, 300, 11)

	node := &fakeNode{
		pages: map[uint64][]veild.WatchOnlyRecord{0: {rec1, rec2}},
		spent: map[string]bool{ki2: true},
	}

	var streamed int
	res, err := GetBalance(context.Background(), keys, w.ScanHex(), node, Options{
		OnUtxoDiscovered: func(batch []*models.UTXO) { streamed += len(batch) },
	})
	if err != nil {
		t.Fatalf("GetBalance() error: %v", err)
	}
	if res.TotalBalance != 700 {
		t.Errorf("TotalBalance = %d, want 700", res.TotalBalance)
	}
	if len(res.UTXOs) != 1 {
		t.Fatalf("got %d utxos, want 1", len(res.UTXOs))
	}
	if res.OwnedOutputsFound != 2 || res.TotalOutputsScanned != 2 {
		t.Errorf("counters = (%d owned, %d scanned), want (2, 2)", res.OwnedOutputsFound, res.TotalOutputsScanned)
	}
	if res.LastProcessedIndex != 12 {
		t.Errorf("LastProcessedIndex = %d, want 12", res.LastProcessedIndex)
	}
	if len(res.SpentKeyImages) != 1 || res.SpentKeyImages[0] != ki2 {
		t.Errorf("SpentKeyImages = %v, want [%s]", res.SpentKeyImages, ki2)
	}
	if streamed != 1 {
		t.Errorf("callback streamed %d utxos, want 1", streamed)
	}
}

func TestGetBalanceSpentCacheSkipsQueries(t *testing.T) {
	w, _ := stealth.CreateWallet()
	keys := scanner.KeysFromWallet(w)

	rec1, ki1 := makeRecord(t, w, 700, 10)
	rec2, ki2 := makeRecord(t, w, 300, 11)

	node := &fakeNode{
		pages: map[uint64][]veild.WatchOnlyRecord{0: {rec1, rec2}},
		spent: map[string]bool{ki2: true},
	}
	first, err := GetBalance(context.Background(), keys, w.ScanHex(), node, Options{})
	if err != nil {
		t.Fatalf("GetBalance() error: %v", err)
	}

	// Second scan seeded with the first scan's spent set: ki2 must not be
	// re-queried, and the result must be identical.
	cached := &fakeNode{
		pages: node.pages,
		spent: node.spent,
	}
	second, err := GetBalance(context.Background(), keys, w.ScanHex(), cached, Options{
		KnownSpentKeyImages: first.SpentKeyImages,
	})
	if err != nil {
		t.Fatalf("GetBalance(cached) error: %v", err)
	}
	if second.TotalBalance != first.TotalBalance {
		t.Errorf("cached balance %d != first %d", second.TotalBalance, first.TotalBalance)
	}
	if second.LastProcessedIndex < first.LastProcessedIndex {
		t.Error("LastProcessedIndex went backwards")
	}
	for _, img := range cached.queried {
		if img == ki2 {
			t.Error("cached spent key image was re-queried")
		}
	}
	if len(cached.queried) != 1 || cached.queried[0] != ki1 {
		t.Errorf("queried = %v, want only %s", cached.queried, ki1)
	}
}

func TestGetBalancePaginates(t *testing.T) {
	w, _ := stealth.CreateWallet()
	keys := scanner.KeysFromWallet(w)

	// A full first page forces a second fetch at the advanced offset.
	full := make([]veild.WatchOnlyRecord, 0, nodePageSize)
	rec, _ := makeRecord(t, w, 50, 0)
	full = append(full, rec)
	for i := 1; i < nodePageSize; i++ {
		// Padding records for another wallet: parse fails ownership, not
		// the scan.
		other, _ := stealth.CreateWallet()
		orec, _ := makeRecord(t, other, 1, uint64(i))
		full = append(full, orec)
		if i >= 3 {
			// Keep the fixture cheap: reuse the last record.
			for j := i + 1; j < nodePageSize; j++ {
				dup := orec
				dup.DBIndex = uint64(j)
				full = append(full, dup)
			}
			break
		}
	}
	// Fix DBIndex continuity for the reused records.
	for i := range full {
		full[i].DBIndex = uint64(i)
	}
	rec2, _ := makeRecord(t, w, 25, uint64(nodePageSize))

	node := &fakeNode{pages: map[uint64][]veild.WatchOnlyRecord{
		0:            full,
		nodePageSize: {rec2},
	}}

	res, err := GetBalance(context.Background(), keys, w.ScanHex(), node, Options{})
	if err != nil {
		t.Fatalf("GetBalance() error: %v", err)
	}
	if res.TotalBalance != 75 {
		t.Errorf("TotalBalance = %d, want 75", res.TotalBalance)
	}
	if res.LastProcessedIndex != nodePageSize+1 {
		t.Errorf("LastProcessedIndex = %d, want %d", res.LastProcessedIndex, nodePageSize+1)
	}
}

func TestGetBalancePreservesIndexOnFailure(t *testing.T) {
	w, _ := stealth.CreateWallet()
	keys := scanner.KeysFromWallet(w)

	rec, _ := makeRecord(t, w, 10, 5)
	full := make([]veild.WatchOnlyRecord, nodePageSize)
	for i := range full {
		full[i] = rec
		full[i].DBIndex = uint64(i)
	}
	failAt := uint64(nodePageSize)
	node := &fakeNode{
		pages:     map[uint64][]veild.WatchOnlyRecord{0: full},
		pageErrAt: &failAt,
	}

	res, err := GetBalance(context.Background(), keys, w.ScanHex(), node, Options{})
	if err == nil {
		t.Fatal("expected scan failure")
	}
	if res.LastProcessedIndex != nodePageSize {
		t.Errorf("LastProcessedIndex = %d, want %d for resume", res.LastProcessedIndex, nodePageSize)
	}
}
