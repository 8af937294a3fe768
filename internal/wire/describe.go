package wire

import (
	"encoding/hex"
	"fmt"
)

// Transaction inspection for API surfaces and debugging: a decoded,
// JSON-friendly summary that exposes structure without any secret
// material (amounts of blinded outputs stay hidden by construction).

// InputSummary describes one input.
type InputSummary struct {
	Anon        bool   `json:"anon"`
	RingSize    uint32 `json:"ringSize,omitempty"`
	MlsagInputs uint32 `json:"mlsagInputs,omitempty"`
	KeyImage    string `json:"keyImage,omitempty"`
	PrevTxID    string `json:"prevTxid,omitempty"`
	PrevVout    uint32 `json:"prevVout,omitempty"`
	HasWitness  bool   `json:"hasWitness"`
}

// OutputSummary describes one output.
type OutputSummary struct {
	Type       string `json:"type"`
	Value      uint64 `json:"value,omitempty"`
	Commitment string `json:"commitment,omitempty"`
	DestPub    string `json:"destPub,omitempty"`
	DataHex    string `json:"data,omitempty"`
	ProofSize  int    `json:"proofSize,omitempty"`
}

// TxSummary is the decoded view of a serialized transaction.
type TxSummary struct {
	TxID       string          `json:"txid"`
	Version    uint8           `json:"version"`
	TxType     uint8           `json:"txType"`
	LockTime   uint32          `json:"lockTime"`
	Size       int             `json:"size"`
	Fee        uint64          `json:"fee,omitempty"`
	NumInputs  int             `json:"numInputs"`
	NumOutputs int             `json:"numOutputs"`
	Inputs     []InputSummary  `json:"inputs"`
	Outputs    []OutputSummary `json:"outputs"`
}

// Summarize decodes raw transaction bytes into a summary.
func Summarize(raw []byte) (*TxSummary, error) {
	tx, err := Deserialize(raw)
	if err != nil {
		return nil, err
	}

	out := &TxSummary{
		TxID:       TxIDFromBytes(raw),
		Version:    tx.Version,
		TxType:     tx.TxType,
		LockTime:   tx.LockTime,
		Size:       len(raw),
		NumInputs:  len(tx.Inputs),
		NumOutputs: len(tx.Outputs),
	}

	for _, in := range tx.Inputs {
		s := InputSummary{Anon: in.IsAnonInput(), HasWitness: len(in.ScriptWitness) > 0}
		if s.Anon {
			s.MlsagInputs, s.RingSize = in.AnonInfo()
			if img, err := in.KeyImage(); err == nil {
				s.KeyImage = hex.EncodeToString(img[:])
			}
		} else {
			s.PrevTxID = displayHash(in.PrevOut.Hash)
			s.PrevVout = in.PrevOut.N
		}
		out.Inputs = append(out.Inputs, s)
	}

	for _, o := range tx.Outputs {
		s := OutputSummary{Type: o.Type().String()}
		switch v := o.(type) {
		case *TxOutStandard:
			s.Value = v.Value
		case *TxOutCT:
			s.Commitment = hex.EncodeToString(v.Commitment[:])
			s.ProofSize = len(v.RangeProof)
		case *TxOutRingCT:
			s.Commitment = hex.EncodeToString(v.Commitment[:])
			s.DestPub = hex.EncodeToString(v.DestPub[:])
			s.ProofSize = len(v.RangeProof)
		case *TxOutData:
			s.DataHex = hex.EncodeToString(v.Data)
			if fee, err := FeeFromOutput(v); err == nil {
				out.Fee = fee
			}
		}
		out.Outputs = append(out.Outputs, s)
	}
	return out, nil
}

// SummarizeHex decodes a hex-encoded transaction.
func SummarizeHex(txHex string) (*TxSummary, error) {
	raw, err := hex.DecodeString(txHex)
	if err != nil {
		return nil, fmt.Errorf("%w: bad hex: %v", ErrMalformedTx, err)
	}
	return Summarize(raw)
}

// displayHash renders a wire-order hash in reversed (display) hex.
func displayHash(h [32]byte) string {
	var reversed [32]byte
	for i, b := range h {
		reversed[len(h)-1-i] = b
	}
	return hex.EncodeToString(reversed[:])
}
