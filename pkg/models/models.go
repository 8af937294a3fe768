// Package models holds the JSON-facing shared types of the engine: owned
// outputs, balance summaries, send plans and wallet health grades.
package models

import (
	"encoding/hex"
	"encoding/json"
	"strconv"

	"github.com/rawblock/veil-light-engine/internal/secp"
)

// UTXO is an owned, spendable RingCT output materialized from a watch-only
// record. Commitment always opens to (Amount, Blind); KeyImage is
// deterministic from PubKey and the wallet's destination secret.
type UTXO struct {
	TxID         string
	Vout         uint32
	Amount       uint64
	Commitment   secp.Commitment
	Blind        secp.Scalar
	PubKey       secp.Point
	EphemeralPub secp.Point
	KeyImage     secp.KeyImage
	RingCTIndex  uint64
}

// KeyImageHex returns the key image in the hex form the node RPC expects.
func (u *UTXO) KeyImageHex() string {
	return hex.EncodeToString(u.KeyImage[:])
}

// MarshalJSON renders byte fields as hex. The blind is deliberately
// omitted: it is secret material and has no business in API responses.
func (u *UTXO) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		TxID         string `json:"txid"`
		Vout         uint32 `json:"vout"`
		Amount       uint64 `json:"amount"`
		Commitment   string `json:"commitment"`
		PubKey       string `json:"pubkey"`
		EphemeralPub string `json:"ephemeralPub"`
		KeyImage     string `json:"keyImage"`
		RingCTIndex  uint64 `json:"ringctIndex"`
	}{
		TxID:         u.TxID,
		Vout:         u.Vout,
		Amount:       u.Amount,
		Commitment:   hex.EncodeToString(u.Commitment[:]),
		PubKey:       hex.EncodeToString(u.PubKey[:]),
		EphemeralPub: hex.EncodeToString(u.EphemeralPub[:]),
		KeyImage:     u.KeyImageHex(),
		RingCTIndex:  u.RingCTIndex,
	})
}

// CTUTXO is an owned Confidential Transaction output. It is spent by
// outpoint rather than key image and carries the P2PKH script needed for
// legacy signing.
type CTUTXO struct {
	TxID         string
	Vout         uint32
	Amount       uint64
	Commitment   secp.Commitment
	Blind        secp.Scalar
	PubKey       secp.Point
	EphemeralPub secp.Point
	ScriptPubKey []byte
}

// Outpoint returns the "txid:vout" spent-status cache key.
func (u *CTUTXO) Outpoint() string {
	return u.TxID + ":" + strconv.FormatUint(uint64(u.Vout), 10)
}

// Wallet health grades relative to the consolidation threshold and the
// hard 32-input consensus limit.
const (
	HealthHealthy    = "healthy"
	HealthFragmented = "fragmented"
	HealthCritical   = "critical"
)

// WalletHealth summarizes UTXO fragmentation for user-facing surfaces.
type WalletHealth struct {
	Grade              string `json:"grade"`
	UtxoCount          int    `json:"utxoCount"`
	SpendableInOneTx   int    `json:"spendableInOneTx"`
	NeedsConsolidation bool   `json:"needsConsolidation"`
}

// SendDescriptor is one transaction of a send plan: the amount it delivers
// and the inputs it consumes.
type SendDescriptor struct {
	Amount     uint64   `json:"amount"`
	Fee        uint64   `json:"fee"`
	NumInputs  int      `json:"numInputs"`
	KeyImages  []string `json:"keyImages"`
	IsSweep    bool     `json:"isSweep,omitempty"`
	RingSize   int      `json:"ringSize"`
	TargetSelf bool     `json:"targetSelf,omitempty"`
}

// SendPlan is the multi-transaction decomposition produced when a single
// build would exceed the input limit.
type SendPlan struct {
	Transactions []SendDescriptor `json:"transactions"`
	TotalAmount  uint64           `json:"totalAmount"`
	TotalFees    uint64           `json:"totalFees"`
}
