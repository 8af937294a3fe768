package veild

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
)

// AnonOutput is one decoy candidate from getanonoutputs. Node versions
// disagree on the index field name, so all three spellings are captured.
type AnonOutput struct {
	Pubkey      string  `json:"pubkey"`
	Commitment  string  `json:"commitment"`
	RingCTIndex *uint64 `json:"ringctindex"`
	Index       *uint64 `json:"index"`
	GlobalIndex *uint64 `json:"global_index"`
	TxID        string  `json:"txid,omitempty"`
	Vout        *uint32 `json:"vout,omitempty"`
}

// RingIndex resolves the blockchain index of the output, preferring
// ringctindex, then index, then global_index.
func (o *AnonOutput) RingIndex() (uint64, bool) {
	for _, idx := range []*uint64{o.RingCTIndex, o.Index, o.GlobalIndex} {
		if idx != nil {
			return *idx, true
		}
	}
	return 0, false
}

// GetAnonOutputs fetches decoy ring members for nInputs inputs of the
// given ring size.
func (c *Client) GetAnonOutputs(ctx context.Context, nInputs, ringSize int) ([]AnonOutput, error) {
	var out []AnonOutput
	if err := c.call(ctx, "getanonoutputs", &out, nInputs, ringSize); err != nil {
		return nil, err
	}
	return out, nil
}

// SendRawTransaction broadcasts a serialized transaction and returns its
// txid in display order.
func (c *Client) SendRawTransaction(ctx context.Context, txHex string) (string, error) {
	var txid string
	if err := c.call(ctx, "sendrawtransaction", &txid, txHex); err != nil {
		return "", err
	}
	return txid, nil
}

// BlockchainInfo is the subset of getblockchaininfo the engine surfaces.
type BlockchainInfo struct {
	Chain                string  `json:"chain"`
	Blocks               int64   `json:"blocks"`
	BestBlockHash        string  `json:"bestblockhash"`
	VerificationProgress float64 `json:"verificationprogress"`
	ChainWork            string  `json:"chainwork"`
}

// GetBlockchainInfo returns the node's chain state.
func (c *Client) GetBlockchainInfo(ctx context.Context) (*BlockchainInfo, error) {
	out := &BlockchainInfo{}
	if err := c.call(ctx, "getblockchaininfo", out); err != nil {
		return nil, err
	}
	return out, nil
}

// KeyImageStatus is the spent state of one key image, in request order.
type KeyImageStatus struct {
	Status         string `json:"status"`
	Spent          bool   `json:"spent"`
	SpentInMempool bool   `json:"spentinmempool"`
	TxID           string `json:"txid,omitempty"`
	Msg            string `json:"msg,omitempty"`
}

// IsSpent reports whether the image is spent on-chain or in the mempool.
func (s *KeyImageStatus) IsSpent() bool {
	return s.Spent || s.SpentInMempool
}

// CheckKeyImages queries spent status for a batch of hex key images.
func (c *Client) CheckKeyImages(ctx context.Context, images []string) ([]KeyImageStatus, error) {
	var out []KeyImageStatus
	if err := c.call(ctx, "checkkeyimages", &out, images); err != nil {
		return nil, err
	}
	if len(out) != len(images) {
		return nil, fmt.Errorf("%w: checkkeyimages: %d results for %d images", ErrRPC, len(out), len(images))
	}
	return out, nil
}

// Amount is a satoshi value the node may deliver as a JSON number or
// string.
type Amount uint64

// UnmarshalJSON accepts 123, "123" and null.
func (a *Amount) UnmarshalJSON(b []byte) error {
	s := string(b)
	if s == "null" {
		return nil
	}
	s = unquote(s)
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return fmt.Errorf("bad amount %q: %w", s, err)
	}
	*a = Amount(v)
	return nil
}

func unquote(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}

// WatchOnlyRecord is one entry of the watch-only stream. Raw holds the
// node-encoded record; Amount and Blind are optional plaintext metadata
// that override range-proof rewinding when present.
type WatchOnlyRecord struct {
	Raw         string  `json:"raw"`
	Amount      *Amount `json:"amount,omitempty"`
	Blind       string  `json:"blind,omitempty"`
	RingCTIndex *uint64 `json:"ringct_index,omitempty"`
	DBIndex     uint64  `json:"dbindex"`
	TxID        string  `json:"txid,omitempty"`
}

// WatchOnlyTxes is one page of the watch-only stream, split by output
// family.
type WatchOnlyTxes struct {
	Anon    []WatchOnlyRecord `json:"anon"`
	Stealth []WatchOnlyRecord `json:"stealth"`
}

// GetWatchOnlyTxes fetches a page of watch-only records for a scan key,
// starting at offset.
func (c *Client) GetWatchOnlyTxes(ctx context.Context, scanHex string, offset uint64) (*WatchOnlyTxes, error) {
	out := &WatchOnlyTxes{}
	if err := c.call(ctx, "getwatchonlytxes", out, scanHex, offset); err != nil {
		return nil, err
	}
	return out, nil
}

// ImportLightwalletAddress registers a scan/spend key pair with the node's
// watch-only service. fromBlockOrTime may be a height or a unix timestamp.
func (c *Client) ImportLightwalletAddress(ctx context.Context, scanHex, spendPubHex string, fromBlockOrTime int64) error {
	return c.call(ctx, "importlightwalletaddress", nil, scanHex, spendPubHex, fromBlockOrTime)
}

// WatchOnlyStatus reports the node-side scan progress for an imported
// address.
type WatchOnlyStatus struct {
	Stakes  json.RawMessage `json:"stakes,omitempty"`
	Scanned bool            `json:"scanned"`
	Height  int64           `json:"height,omitempty"`
}

// GetWatchOnlyStatus queries the watch-only import state for a key pair.
func (c *Client) GetWatchOnlyStatus(ctx context.Context, scanHex, spendPubHex string) (*WatchOnlyStatus, error) {
	out := &WatchOnlyStatus{}
	if err := c.call(ctx, "getwatchonlystatus", out, scanHex, spendPubHex); err != nil {
		return nil, err
	}
	return out, nil
}

// GetRawTransaction fetches a raw transaction hex by display-order txid.
func (c *Client) GetRawTransaction(ctx context.Context, txid string) (string, error) {
	var out string
	if err := c.call(ctx, "getrawtransaction", &out, txid); err != nil {
		return "", err
	}
	return out, nil
}

// GetBlockHash resolves a height to a block hash.
func (c *Client) GetBlockHash(ctx context.Context, height int64) (string, error) {
	var out string
	if err := c.call(ctx, "getblockhash", &out, height); err != nil {
		return "", err
	}
	return out, nil
}

// GetBlock fetches a block by hash with verbose transaction ids.
func (c *Client) GetBlock(ctx context.Context, hash string) (json.RawMessage, error) {
	var out json.RawMessage
	if err := c.call(ctx, "getblock", &out, hash); err != nil {
		return nil, err
	}
	return out, nil
}

// UnspentOutput is one listunspent entry, used for CT outpoint spent
// checks.
type UnspentOutput struct {
	TxID          string  `json:"txid"`
	Vout          uint32  `json:"vout"`
	Address       string  `json:"address,omitempty"`
	ScriptPubKey  string  `json:"scriptPubKey,omitempty"`
	Amount        float64 `json:"amount"`
	Confirmations int64   `json:"confirmations"`
}

// ListUnspent queries the node's unspent set.
func (c *Client) ListUnspent(ctx context.Context) ([]UnspentOutput, error) {
	var out []UnspentOutput
	if err := c.call(ctx, "listunspent", &out); err != nil {
		return nil, err
	}
	return out, nil
}
