package api

import (
	"encoding/json"
	"log"
	"time"

	"github.com/rawblock/veil-light-engine/pkg/models"
)

// WebSocket event envelopes pushed to subscribed clients during scans and
// sends. Secrets never appear here; UTXO marshaling already strips blinds.

// UtxoDiscoveredEvent streams each post-filter page of a balance scan.
type UtxoDiscoveredEvent struct {
	Type      string         `json:"type"` // "utxo_discovered"
	ScanID    string         `json:"scanId"`
	UTXOs     []*models.UTXO `json:"utxos"`
	Timestamp string         `json:"timestamp"`
}

// ScanProgressEvent reports scan progress; handleBalance broadcasts it once,
// with Done set, when the scan ends.
type ScanProgressEvent struct {
	Type               string `json:"type"` // "scan_progress"
	ScanID             string `json:"scanId"`
	LastProcessedIndex uint64 `json:"lastProcessedIndex"`
	OutputsScanned     int    `json:"outputsScanned"`
	OwnedFound         int    `json:"ownedFound"`
	Done               bool   `json:"done"`
	Timestamp          string `json:"timestamp"`
}

// TxBroadcastEvent announces a successful send.
type TxBroadcastEvent struct {
	Type      string `json:"type"` // "tx_broadcast"
	TxID      string `json:"txid"`
	Fee       uint64 `json:"fee"`
	Timestamp string `json:"timestamp"`
}

// broadcastEvent marshals and pushes an event to every client.
func broadcastEvent(hub *Hub, event interface{}) {
	if hub == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		log.Printf("[API] Failed to marshal ws event: %v", err)
		return
	}
	hub.Broadcast(data)
}

func eventTimestamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}
