package api

import (
	"encoding/hex"
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/rawblock/veil-light-engine/internal/balance"
	"github.com/rawblock/veil-light-engine/internal/scanner"
	"github.com/rawblock/veil-light-engine/internal/stealth"
	"github.com/rawblock/veil-light-engine/internal/txbuilder"
	"github.com/rawblock/veil-light-engine/internal/wire"
	"github.com/rawblock/veil-light-engine/pkg/models"
)

// walletResponse is the non-secret-by-default wallet view. Key material is
// echoed back only on explicit create/restore calls, never logged.
type walletResponse struct {
	Address  string `json:"address"`
	SpendKey string `json:"spendKey,omitempty"`
	ScanKey  string `json:"scanKey,omitempty"`
	SpendPub string `json:"spendPub"`
	ScanPub  string `json:"scanPub"`
}

func (h *APIHandler) handleCreateWallet(c *gin.Context) {
	w, err := stealth.CreateWallet()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "wallet generation failed"})
		return
	}
	defer w.Wipe()

	log.Printf("[API] Created wallet %s... (scan pub %s...)", w.Address[:12], w.ScanPubHex()[:8])
	c.JSON(http.StatusOK, walletResponse{
		Address:  w.Address,
		SpendKey: w.SpendHex(),
		ScanKey:  w.ScanHex(),
		SpendPub: w.SpendPubHex(),
		ScanPub:  w.ScanPubHex(),
	})
}

type restoreRequest struct {
	SpendKey string `json:"spendKey" binding:"required"`
	ScanKey  string `json:"scanKey" binding:"required"`
}

func (h *APIHandler) handleRestoreWallet(c *gin.Context) {
	var req restoreRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "spendKey and scanKey are required"})
		return
	}
	w, err := stealth.RestoreWallet(req.SpendKey, req.ScanKey)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	defer w.Wipe()

	c.JSON(http.StatusOK, walletResponse{
		Address:  w.Address,
		SpendPub: w.SpendPubHex(),
		ScanPub:  w.ScanPubHex(),
	})
}

type importRequest struct {
	ScanKey         string `json:"scanKey" binding:"required"`
	SpendPub        string `json:"spendPub" binding:"required"`
	FromBlockOrTime int64  `json:"fromBlockOrTime"`
}

// handleImportWallet registers the wallet with the node's watch-only
// service so watch-only records start flowing.
func (h *APIHandler) handleImportWallet(c *gin.Context) {
	if h.veilClient == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "node unavailable"})
		return
	}
	var req importRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "scanKey and spendPub are required"})
		return
	}
	if err := h.veilClient.ImportLightwalletAddress(c.Request.Context(), req.ScanKey, req.SpendPub, req.FromBlockOrTime); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	status, err := h.veilClient.GetWatchOnlyStatus(c.Request.Context(), req.ScanKey, req.SpendPub)
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"imported": true})
		return
	}
	c.JSON(http.StatusOK, gin.H{"imported": true, "status": status})
}

// handleScanProgress reports the latest scan state for a wallet by scan
// public key: the pollable counterpart of the scan_progress WebSocket
// event. Falls back to the persisted checkpoint when this instance has
// not scanned the wallet yet.
func (h *APIHandler) handleScanProgress(c *gin.Context) {
	scanPub := c.Query("scanPub")
	if scanPub == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "scanPub query parameter required"})
		return
	}
	if state, ok := h.progress.get(scanPub); ok {
		c.JSON(http.StatusOK, state)
		return
	}
	if h.dbStore != nil {
		if idx, err := h.dbStore.LoadScanCheckpoint(c.Request.Context(), scanPub); err == nil && idx > 0 {
			c.JSON(http.StatusOK, ScanProgress{LastProcessedIndex: idx})
			return
		}
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "no scan recorded for this wallet"})
}

func (h *APIHandler) handleValidateAddress(c *gin.Context) {
	addr := c.Query("address")
	if addr == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "address query parameter required"})
		return
	}
	c.JSON(http.StatusOK, stealth.ValidateAddress(addr))
}

// handleDescribeTx fetches a transaction from the node and returns its
// decoded structural summary. Blinded amounts remain hidden; only the fee
// record is cleartext.
func (h *APIHandler) handleDescribeTx(c *gin.Context) {
	if h.veilClient == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "node unavailable"})
		return
	}
	txid := c.Param("txid")
	raw, err := h.veilClient.GetRawTransaction(c.Request.Context(), txid)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	summary, err := wire.SummarizeHex(raw)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (h *APIHandler) handleNodeStatus(c *gin.Context) {
	if h.veilClient == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "node unavailable"})
		return
	}
	info, err := h.veilClient.GetBlockchainInfo(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, info)
}

type balanceRequest struct {
	SpendKey   string `json:"spendKey" binding:"required"`
	ScanKey    string `json:"scanKey" binding:"required"`
	StartIndex uint64 `json:"startIndex"`
	FromCache  bool   `json:"fromCache"`
}

// handleBalance runs a full balance scan, streaming discoveries over the
// WebSocket hub and persisting checkpoint plus spent set when a database
// is attached.
func (h *APIHandler) handleBalance(c *gin.Context) {
	if h.veilClient == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "node unavailable"})
		return
	}
	var req balanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "spendKey and scanKey are required"})
		return
	}
	w, err := stealth.RestoreWallet(req.SpendKey, req.ScanKey)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	defer w.Wipe()

	ctx := c.Request.Context()
	scanID := uuid.NewString()
	scanPub := w.ScanPubHex()
	opts := balance.Options{StartIndex: req.StartIndex}

	if h.dbStore != nil {
		if known, err := h.dbStore.LoadSpentKeyImages(ctx, scanPub); err == nil {
			opts.KnownSpentKeyImages = known
		}
		if req.FromCache && req.StartIndex == 0 {
			if idx, err := h.dbStore.LoadScanCheckpoint(ctx, scanPub); err == nil {
				opts.StartIndex = idx
			}
		}
	}
	opts.OnUtxoDiscovered = func(batch []*models.UTXO) {
		h.progress.advance(scanPub, len(batch))
		broadcastEvent(h.wsHub, UtxoDiscoveredEvent{
			Type:      "utxo_discovered",
			ScanID:    scanID,
			UTXOs:     batch,
			Timestamp: eventTimestamp(),
		})
	}

	h.progress.begin(scanPub, scanID, opts.StartIndex)
	res, err := balance.GetBalance(ctx, scanner.KeysFromWallet(w), w.ScanHex(), h.veilClient, opts)
	if res != nil {
		h.progress.finish(scanPub, res.LastProcessedIndex, res.TotalOutputsScanned, res.OwnedOutputsFound, len(res.UTXOs))
	}
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{
			"error":              err.Error(),
			"lastProcessedIndex": res.LastProcessedIndex,
		})
		return
	}

	if h.dbStore != nil {
		if err := h.dbStore.SaveSpentKeyImages(ctx, scanPub, res.SpentKeyImages); err != nil {
			log.Printf("[API] Warning: failed to persist spent key images: %v", err)
		}
		if err := h.dbStore.SaveUTXOs(ctx, scanPub, res.UTXOs); err != nil {
			log.Printf("[API] Warning: failed to persist utxo cache: %v", err)
		}
		if err := h.dbStore.SaveScanCheckpoint(ctx, scanPub, res.LastProcessedIndex); err != nil {
			log.Printf("[API] Warning: failed to persist scan checkpoint: %v", err)
		}
		if _, err := h.dbStore.PruneSpentUTXOs(ctx, scanPub); err != nil {
			log.Printf("[API] Warning: failed to prune spent utxos: %v", err)
		}
	}

	broadcastEvent(h.wsHub, ScanProgressEvent{
		Type:               "scan_progress",
		ScanID:             scanID,
		LastProcessedIndex: res.LastProcessedIndex,
		OutputsScanned:     res.TotalOutputsScanned,
		OwnedFound:         res.OwnedOutputsFound,
		Done:               true,
		Timestamp:          eventTimestamp(),
	})

	health := txbuilder.AssessWalletHealth(len(res.UTXOs))
	c.JSON(http.StatusOK, gin.H{
		"result": res,
		"health": health,
	})
}

type sendRequest struct {
	SpendKey  string `json:"spendKey" binding:"required"`
	ScanKey   string `json:"scanKey" binding:"required"`
	ToAddress string `json:"toAddress" binding:"required"`
	Amount    uint64 `json:"amount" binding:"required"`
	RingSize  int    `json:"ringSize"`
	FeePerKB  uint64 `json:"feePerKb"`
	DryRun    bool   `json:"dryRun"`
}

// handleSend scans for spendable outputs, builds and broadcasts a RingCT
// send. When the spend would exceed the input limit it returns a
// multi-transaction plan instead of failing.
func (h *APIHandler) handleSend(c *gin.Context) {
	if h.veilClient == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "node unavailable"})
		return
	}
	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "spendKey, scanKey, toAddress and amount are required"})
		return
	}
	w, err := stealth.RestoreWallet(req.SpendKey, req.ScanKey)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	defer w.Wipe()

	ctx := c.Request.Context()
	ringSize := req.RingSize
	if ringSize == 0 {
		ringSize = txbuilder.DefaultRingSize
	}

	// Fresh scan for spendable outputs; sending from a stale cache risks
	// reusing spent inputs.
	scanRes, err := balance.GetBalance(ctx, scanner.KeysFromWallet(w), w.ScanHex(), h.veilClient, balance.Options{})
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	// Request decoys for the worst-case input count; ring assembly drops
	// conflicting candidates, so slack here is cheap.
	decoyOutputs, err := h.veilClient.GetAnonOutputs(ctx, txbuilder.MaxInputs, ringSize)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	built, err := txbuilder.Build(txbuilder.BuildParams{
		Wallet:     w,
		Spendable:  scanRes.UTXOs,
		Recipients: []txbuilder.Recipient{{Address: req.ToAddress, Amount: req.Amount}},
		Decoys:     txbuilder.DecoysFromRPC(decoyOutputs),
		FeePerKB:   req.FeePerKB,
		RingSize:   ringSize,
	})
	if err != nil {
		// Too many inputs becomes a plan, not a failure.
		if errors.Is(err, txbuilder.ErrTooManyInputs) {
			plan, planErr := txbuilder.PlanSend(scanRes.UTXOs, req.Amount, req.FeePerKB, ringSize)
			if planErr != nil {
				c.JSON(http.StatusUnprocessableEntity, gin.H{"error": planErr.Error()})
				return
			}
			c.JSON(http.StatusOK, gin.H{"plan": plan})
			return
		}
		status := http.StatusUnprocessableEntity
		if errors.Is(err, txbuilder.ErrValidation) {
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	if req.DryRun {
		c.JSON(http.StatusOK, gin.H{
			"txid":   built.TxID,
			"fee":    built.Fee,
			"change": built.Change,
			"hex":    built.Hex,
			"dryRun": true,
		})
		return
	}

	txid, err := h.veilClient.SendRawTransaction(ctx, built.Hex)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	// Mark the consumed images spent locally so a cached balance cannot
	// offer them again before the node confirms.
	if h.dbStore != nil {
		spent := make([]string, 0, len(built.SpentKeyImages))
		for _, img := range built.SpentKeyImages {
			spent = append(spent, hex.EncodeToString(img[:]))
		}
		if err := h.dbStore.SaveSpentKeyImages(ctx, w.ScanPubHex(), spent); err != nil {
			log.Printf("[API] Warning: failed to persist spent key images after send: %v", err)
		}
	}

	broadcastEvent(h.wsHub, TxBroadcastEvent{
		Type:      "tx_broadcast",
		TxID:      txid,
		Fee:       built.Fee,
		Timestamp: eventTimestamp(),
	})
	c.JSON(http.StatusOK, gin.H{"txid": txid, "fee": built.Fee, "change": built.Change})
}
