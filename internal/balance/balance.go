// Package balance drives paginated watch-only scans against the node and
// aggregates unspent outputs: record parsing, key-image spent filtering
// with caching, per-page callback streaming and resumable progress.
package balance

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/rawblock/veil-light-engine/internal/scanner"
	"github.com/rawblock/veil-light-engine/internal/veild"
	"github.com/rawblock/veil-light-engine/pkg/models"
)

// nodePageSize is the fixed page size of the watch-only stream; a short
// page signals the end of the stream.
const nodePageSize = 1000

// DefaultBatchSize caps one checkkeyimages sub-batch.
const DefaultBatchSize = 1000

// NodeClient is the RPC slice the aggregator needs.
type NodeClient interface {
	GetWatchOnlyTxes(ctx context.Context, scanHex string, offset uint64) (*veild.WatchOnlyTxes, error)
	CheckKeyImages(ctx context.Context, images []string) ([]veild.KeyImageStatus, error)
}

// Options tune one scan. KnownSpentKeyImages seeds the spent cache so
// previously resolved images are never re-queried; OnUtxoDiscovered is
// invoked once per page that yields unspent outputs, after spent filtering,
// before the next page is fetched. Pages with none trigger no call.
type Options struct {
	KnownSpentKeyImages []string
	StartIndex          uint64
	BatchSize           int
	OnUtxoDiscovered    func([]*models.UTXO)
	Sink                Sink
}

// Result is the aggregate outcome of a scan. On an RPC failure mid-scan
// the partial result is still returned with LastProcessedIndex preserved
// so the caller can resume.
type Result struct {
	TotalBalance        uint64          `json:"totalBalance"`
	UTXOs               []*models.UTXO  `json:"utxos"`
	LastProcessedIndex  uint64          `json:"lastProcessedIndex"`
	SpentKeyImages      []string        `json:"spentKeyImages"`
	TotalOutputsScanned int             `json:"totalOutputsScanned"`
	OwnedOutputsFound   int             `json:"ownedOutputsFound"`
}

// Per-wallet scan serialization: concurrent scans of the same scan key
// would race on LastProcessedIndex monotonicity.
var scanLocks sync.Map

func lockFor(scanHex string) *sync.Mutex {
	mu, _ := scanLocks.LoadOrStore(scanHex, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// GetBalance scans the anon watch-only stream for the wallet and returns
// its unspent RingCT outputs. Pages are processed strictly sequentially in
// RPC-returned order; LastProcessedIndex is monotonic.
func GetBalance(ctx context.Context, keys scanner.Keys, scanHex string, client NodeClient, opts Options) (*Result, error) {
	mu := lockFor(scanHex)
	mu.Lock()
	defer mu.Unlock()

	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	spent := make(map[string]bool, len(opts.KnownSpentKeyImages))
	for _, img := range opts.KnownSpentKeyImages {
		spent[img] = true
	}

	result := &Result{LastProcessedIndex: opts.StartIndex}
	currentIndex := opts.StartIndex

	for {
		select {
		case <-ctx.Done():
			return result, fmt.Errorf("balance: scan cancelled: %w", ctx.Err())
		default:
		}

		page, err := client.GetWatchOnlyTxes(ctx, scanHex, currentIndex)
		if err != nil {
			return result, fmt.Errorf("balance: page at %d: %w", currentIndex, err)
		}
		records := page.Anon
		result.TotalOutputsScanned += len(records)

		// Parse and detect ownership.
		var candidates []*models.UTXO
		for _, rec := range records {
			utxo, err := scanner.ScanAnonRecord(keys, rec)
			if err != nil {
				log.Printf("[BalanceScanner] Warning: skipping malformed record at dbindex %d: %v", rec.DBIndex, err)
				continue
			}
			if utxo != nil {
				candidates = append(candidates, utxo)
			}
		}
		result.OwnedOutputsFound += len(candidates)

		// Resolve spent status for images the cache does not know yet.
		unknown := make([]string, 0, len(candidates))
		for _, u := range candidates {
			img := u.KeyImageHex()
			if _, known := spent[img]; !known {
				unknown = append(unknown, img)
			}
		}
		for start := 0; start < len(unknown); start += batchSize {
			end := start + batchSize
			if end > len(unknown) {
				end = len(unknown)
			}
			batch := unknown[start:end]
			statuses, err := client.CheckKeyImages(ctx, batch)
			if err != nil {
				return result, fmt.Errorf("balance: checkkeyimages at %d: %w", currentIndex, err)
			}
			for i, status := range statuses {
				spent[batch[i]] = status.IsSpent()
			}
		}

		// Filter and accumulate, preserving RPC return order.
		var unspent []*models.UTXO
		for _, u := range candidates {
			if spent[u.KeyImageHex()] {
				continue
			}
			unspent = append(unspent, u)
			result.TotalBalance += u.Amount
		}
		result.UTXOs = append(result.UTXOs, unspent...)
		opts.notify(unspent)

		if len(records) > 0 {
			currentIndex = records[len(records)-1].DBIndex + 1
			result.LastProcessedIndex = currentIndex
		}
		if len(records) < nodePageSize {
			break
		}
	}

	for img, isSpent := range spent {
		if isSpent {
			result.SpentKeyImages = append(result.SpentKeyImages, img)
		}
	}
	log.Printf("[BalanceScanner] Scan complete: %d outputs scanned, %d owned, %d unspent, balance %d",
		result.TotalOutputsScanned, result.OwnedOutputsFound, len(result.UTXOs), result.TotalBalance)
	return result, nil
}

// CTResult is the CT-stream analog of Result, keyed by outpoints.
type CTResult struct {
	TotalBalance        uint64           `json:"totalBalance"`
	UTXOs               []*models.CTUTXO `json:"utxos"`
	LastProcessedIndex  uint64           `json:"lastProcessedIndex"`
	SpentOutpoints      []string         `json:"spentOutpoints"`
	TotalOutputsScanned int              `json:"totalOutputsScanned"`
	OwnedOutputsFound   int              `json:"ownedOutputsFound"`
}

// CTOptions tune a CT scan. There is no key-image RPC for CT outputs;
// spent status comes entirely from the caller's outpoint cache.
type CTOptions struct {
	KnownSpentOutpoints []string
	StartIndex          uint64
	OnUtxoDiscovered    func([]*models.CTUTXO)
}

// GetBalanceCT scans the stealth record stream with outpoint-based spent
// filtering, mirroring GetBalance page by page.
func GetBalanceCT(ctx context.Context, keys scanner.Keys, scanHex string, client NodeClient, opts CTOptions) (*CTResult, error) {
	mu := lockFor("ct/" + scanHex)
	mu.Lock()
	defer mu.Unlock()

	spent := make(map[string]bool, len(opts.KnownSpentOutpoints))
	for _, op := range opts.KnownSpentOutpoints {
		spent[op] = true
	}

	result := &CTResult{LastProcessedIndex: opts.StartIndex, SpentOutpoints: opts.KnownSpentOutpoints}
	currentIndex := opts.StartIndex

	for {
		select {
		case <-ctx.Done():
			return result, fmt.Errorf("balance: ct scan cancelled: %w", ctx.Err())
		default:
		}

		page, err := client.GetWatchOnlyTxes(ctx, scanHex, currentIndex)
		if err != nil {
			return result, fmt.Errorf("balance: ct page at %d: %w", currentIndex, err)
		}
		records := page.Stealth
		result.TotalOutputsScanned += len(records)

		var unspent []*models.CTUTXO
		for _, rec := range records {
			utxo, err := scanner.ScanStealthRecord(keys, rec)
			if err != nil {
				log.Printf("[BalanceScanner] Warning: skipping malformed ct record at dbindex %d: %v", rec.DBIndex, err)
				continue
			}
			if utxo == nil {
				continue
			}
			result.OwnedOutputsFound++
			if spent[utxo.Outpoint()] {
				continue
			}
			unspent = append(unspent, utxo)
			result.TotalBalance += utxo.Amount
		}
		result.UTXOs = append(result.UTXOs, unspent...)
		if opts.OnUtxoDiscovered != nil && len(unspent) > 0 {
			opts.OnUtxoDiscovered(unspent)
		}

		if len(records) > 0 {
			currentIndex = records[len(records)-1].DBIndex + 1
			result.LastProcessedIndex = currentIndex
		}
		if len(records) < nodePageSize {
			break
		}
	}
	return result, nil
}
