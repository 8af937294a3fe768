package api

import (
	"sync"
)

// ScanProgress is the pollable counterpart of the ScanProgressEvent
// WebSocket push, keyed by scan public key so a frontend can check on a
// wallet without holding the socket open.
type ScanProgress struct {
	ScanID             string `json:"scanId,omitempty"`
	Running            bool   `json:"running"`
	LastProcessedIndex uint64 `json:"lastProcessedIndex"`
	OutputsScanned     int    `json:"outputsScanned"`
	OwnedFound         int    `json:"ownedFound"`
	UnspentFound       int    `json:"unspentFound"`
}

// progressTracker keeps the latest scan state per scan pubkey. Entries are
// overwritten by newer scans of the same wallet; there is no eviction —
// the set of wallets an engine instance serves is small.
type progressTracker struct {
	mu    sync.Mutex
	scans map[string]*ScanProgress
}

func newProgressTracker() *progressTracker {
	return &progressTracker{scans: make(map[string]*ScanProgress)}
}

// begin marks a scan as running for the wallet.
func (p *progressTracker) begin(scanPub, scanID string, startIndex uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scans[scanPub] = &ScanProgress{
		ScanID:             scanID,
		Running:            true,
		LastProcessedIndex: startIndex,
	}
}

// advance accumulates per-page counters while the scan runs.
func (p *progressTracker) advance(scanPub string, unspentDelta int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if s, ok := p.scans[scanPub]; ok {
		s.UnspentFound += unspentDelta
	}
}

// finish records the terminal state of a scan, successful or aborted.
func (p *progressTracker) finish(scanPub string, lastIndex uint64, scanned, owned, unspent int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.scans[scanPub]
	if !ok {
		s = &ScanProgress{}
		p.scans[scanPub] = s
	}
	s.Running = false
	s.LastProcessedIndex = lastIndex
	s.OutputsScanned = scanned
	s.OwnedFound = owned
	s.UnspentFound = unspent
}

// get returns the latest state for a wallet, if any scan has run.
func (p *progressTracker) get(scanPub string) (ScanProgress, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.scans[scanPub]
	if !ok {
		return ScanProgress{}, false
	}
	return *s, true
}
