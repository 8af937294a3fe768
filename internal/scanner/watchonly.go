// Package scanner turns the node's opaque watch-only records into owned
// UTXOs: it decodes each record, runs receiver detection against the
// wallet keys, rewinds range proofs to recover amounts and blinds, and
// computes spend key images.
package scanner

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/rawblock/veil-light-engine/internal/secp"
	"github.com/rawblock/veil-light-engine/internal/wire"
)

// Watch-only record types as delivered by the node.
const (
	RecordStealth int32 = 0
	RecordAnon    int32 = 1
)

// ErrMalformedRecord is returned when a watch-only record fails to decode.
var ErrMalformedRecord = errors.New("scanner: malformed watch-only record")

// WatchOnlyTx is a decoded watch-only record: the chain location of a
// candidate output plus, for anon records, the RingCT output payload.
type WatchOnlyTx struct {
	RingCTIndex uint64
	Type        int32
	ScanSecret  [32]byte
	TxHash      [32]byte
	TxIndex     uint32
	RingCT      *wire.TxOutRingCT
}

// ParseWatchOnlyTx decodes the node's binary watch-only record layout:
//
//	ringctIndex:u64LE | type:i32LE | scanSecret:32 | flags:2 |
//	txHash:32 | txIndex:u32LE | [anon: ringct output payload]
func ParseWatchOnlyTx(raw []byte) (*WatchOnlyTx, error) {
	const fixed = 8 + 4 + 32 + 2 + 32 + 4
	if len(raw) < fixed {
		return nil, fmt.Errorf("%w: %d bytes, want at least %d", ErrMalformedRecord, len(raw), fixed)
	}

	out := &WatchOnlyTx{
		RingCTIndex: binary.LittleEndian.Uint64(raw[0:8]),
		Type:        int32(binary.LittleEndian.Uint32(raw[8:12])),
	}
	copy(out.ScanSecret[:], raw[12:44])
	// Two unused flag bytes at 44:46.
	copy(out.TxHash[:], raw[46:78])
	out.TxIndex = binary.LittleEndian.Uint32(raw[78:82])

	// Anon records always carry an output payload; stealth records carry
	// the same framing when the node ships the output inline.
	if out.Type == RecordAnon || (out.Type == RecordStealth && len(raw) > fixed) {
		rest := raw[fixed:]
		if len(rest) < secp.PointSize+secp.CommitmentSize {
			return nil, fmt.Errorf("%w: truncated output payload", ErrMalformedRecord)
		}
		ringct := &wire.TxOutRingCT{}
		copy(ringct.DestPub[:], rest[:secp.PointSize])
		pos := secp.PointSize
		copy(ringct.Commitment[:], rest[pos:pos+secp.CommitmentSize])
		pos += secp.CommitmentSize

		vData, n, err := readVarBytes(rest[pos:])
		if err != nil {
			return nil, fmt.Errorf("%w: vData: %v", ErrMalformedRecord, err)
		}
		ringct.Data = vData
		pos += n

		proof, n, err := readVarBytes(rest[pos:])
		if err != nil {
			return nil, fmt.Errorf("%w: rangeproof: %v", ErrMalformedRecord, err)
		}
		ringct.RangeProof = proof
		out.RingCT = ringct
	}
	return out, nil
}

// ParseWatchOnlyTxHex decodes a hex-encoded record as delivered over RPC.
func ParseWatchOnlyTxHex(rawHex string) (*WatchOnlyTx, error) {
	raw, err := hex.DecodeString(rawHex)
	if err != nil {
		return nil, fmt.Errorf("%w: bad hex: %v", ErrMalformedRecord, err)
	}
	return ParseWatchOnlyTx(raw)
}

func readVarBytes(b []byte) ([]byte, int, error) {
	n, off, err := wire.ReadVarInt(b)
	if err != nil {
		return nil, 0, err
	}
	if uint64(len(b)-off) < n {
		return nil, 0, fmt.Errorf("byte string exceeds buffer")
	}
	return append([]byte(nil), b[off:off+int(n)]...), off + int(n), nil
}

// GetID returns the record's transaction hash in display order (reversed
// hex), matching the txid strings the node RPC speaks.
func (w *WatchOnlyTx) GetID() string {
	var reversed [32]byte
	for i, b := range w.TxHash {
		reversed[len(reversed)-1-i] = b
	}
	return hex.EncodeToString(reversed[:])
}
