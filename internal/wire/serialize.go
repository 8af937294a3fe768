package wire

import (
	"encoding/binary"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/rawblock/veil-light-engine/internal/secp"
)

func (o *TxOutStandard) appendData(b []byte) []byte {
	b = binary.LittleEndian.AppendUint64(b, o.Value)
	return appendBytes(b, o.ScriptPubKey)
}

func (o *TxOutCT) appendData(b []byte) []byte {
	b = append(b, o.Commitment[:]...)
	b = appendBytes(b, o.Data)
	b = appendBytes(b, o.ScriptPubKey)
	return appendBytes(b, o.RangeProof)
}

func (o *TxOutRingCT) appendData(b []byte) []byte {
	b = append(b, o.DestPub[:]...)
	b = append(b, o.Commitment[:]...)
	b = appendBytes(b, o.Data)
	return appendBytes(b, o.RangeProof)
}

func (o *TxOutData) appendData(b []byte) []byte {
	return appendBytes(b, o.Data)
}

// SerializeOutputData returns an output's payload without the type byte,
// the exact bytes fed to the outputs-hash preimage.
func SerializeOutputData(out TxOut) []byte {
	return out.appendData(nil)
}

func appendTxIn(b []byte, in *TxIn) []byte {
	b = append(b, in.PrevOut.Hash[:]...)
	b = binary.LittleEndian.AppendUint32(b, in.PrevOut.N)
	b = appendBytes(b, in.ScriptSig)
	b = binary.LittleEndian.AppendUint32(b, in.Sequence)
	if in.IsAnonInput() {
		b = appendStack(b, in.ScriptData)
	}
	return b
}

func readTxIn(b []byte) (*TxIn, int, error) {
	if len(b) < 36 {
		return nil, 0, fmt.Errorf("%w: short input", ErrMalformedTx)
	}
	in := &TxIn{}
	copy(in.PrevOut.Hash[:], b[:32])
	in.PrevOut.N = getU32(b[32:36])
	off := 36

	script, n, err := readBytes(b[off:])
	if err != nil {
		return nil, 0, err
	}
	in.ScriptSig = script
	off += n

	if len(b[off:]) < 4 {
		return nil, 0, fmt.Errorf("%w: short sequence", ErrMalformedTx)
	}
	in.Sequence = getU32(b[off : off+4])
	off += 4

	if in.IsAnonInput() {
		stack, n, err := readStack(b[off:])
		if err != nil {
			return nil, 0, err
		}
		in.ScriptData = stack
		off += n
	}
	return in, off, nil
}

// appendTxOut writes the type byte followed by the payload.
func appendTxOut(b []byte, out TxOut) []byte {
	b = append(b, byte(out.Type()))
	return out.appendData(b)
}

func readTxOut(b []byte) (TxOut, int, error) {
	if len(b) == 0 {
		return nil, 0, fmt.Errorf("%w: missing output type", ErrMalformedTx)
	}
	typ := OutputType(b[0])
	off := 1
	rest := b[off:]

	switch typ {
	case OutputStandard:
		if len(rest) < 8 {
			return nil, 0, fmt.Errorf("%w: short standard output", ErrMalformedTx)
		}
		out := &TxOutStandard{Value: binary.LittleEndian.Uint64(rest[:8])}
		script, n, err := readBytes(rest[8:])
		if err != nil {
			return nil, 0, err
		}
		out.ScriptPubKey = script
		return out, off + 8 + n, nil

	case OutputCT:
		if len(rest) < secp.CommitmentSize {
			return nil, 0, fmt.Errorf("%w: short ct output", ErrMalformedTx)
		}
		out := &TxOutCT{}
		copy(out.Commitment[:], rest[:secp.CommitmentSize])
		pos := secp.CommitmentSize
		for _, field := range []*[]byte{&out.Data, &out.ScriptPubKey, &out.RangeProof} {
			item, n, err := readBytes(rest[pos:])
			if err != nil {
				return nil, 0, err
			}
			*field = item
			pos += n
		}
		return out, off + pos, nil

	case OutputRingCT:
		if len(rest) < secp.PointSize+secp.CommitmentSize {
			return nil, 0, fmt.Errorf("%w: short ringct output", ErrMalformedTx)
		}
		out := &TxOutRingCT{}
		copy(out.DestPub[:], rest[:secp.PointSize])
		pos := secp.PointSize
		copy(out.Commitment[:], rest[pos:pos+secp.CommitmentSize])
		pos += secp.CommitmentSize
		for _, field := range []*[]byte{&out.Data, &out.RangeProof} {
			item, n, err := readBytes(rest[pos:])
			if err != nil {
				return nil, 0, err
			}
			*field = item
			pos += n
		}
		return out, off + pos, nil

	case OutputData:
		data, n, err := readBytes(rest)
		if err != nil {
			return nil, 0, err
		}
		return &TxOutData{Data: data}, off + n, nil

	default:
		return nil, 0, fmt.Errorf("%w: unknown output type %d", ErrMalformedTx, typ)
	}
}

// Serialize encodes the full transaction, witness included.
func (tx *MsgTx) Serialize() []byte {
	hasWitness := tx.HasWitness()

	b := make([]byte, 0, 512)
	b = append(b, tx.Version, tx.TxType)
	if hasWitness {
		b = append(b, 1)
	} else {
		b = append(b, 0)
	}
	b = binary.LittleEndian.AppendUint32(b, tx.LockTime)

	b = AppendVarInt(b, uint64(len(tx.Inputs)))
	for _, in := range tx.Inputs {
		b = appendTxIn(b, in)
	}
	b = AppendVarInt(b, uint64(len(tx.Outputs)))
	for _, out := range tx.Outputs {
		b = appendTxOut(b, out)
	}
	if hasWitness {
		for _, in := range tx.Inputs {
			b = appendStack(b, in.ScriptWitness)
		}
	}
	return b
}

// Deserialize parses a serialized transaction, rejecting trailing bytes.
func Deserialize(b []byte) (*MsgTx, error) {
	if len(b) < 7 {
		return nil, fmt.Errorf("%w: short header", ErrMalformedTx)
	}
	tx := &MsgTx{Version: b[0], TxType: b[1]}
	hasWitness := b[2]
	if hasWitness > 1 {
		return nil, fmt.Errorf("%w: bad witness flag %d", ErrMalformedTx, hasWitness)
	}
	tx.LockTime = getU32(b[3:7])
	off := 7

	nIn, n, err := ReadVarInt(b[off:])
	if err != nil {
		return nil, err
	}
	off += n
	if nIn > uint64(len(b)) {
		return nil, fmt.Errorf("%w: absurd input count", ErrMalformedTx)
	}
	for i := uint64(0); i < nIn; i++ {
		in, n, err := readTxIn(b[off:])
		if err != nil {
			return nil, fmt.Errorf("input %d: %w", i, err)
		}
		tx.Inputs = append(tx.Inputs, in)
		off += n
	}

	nOut, n, err := ReadVarInt(b[off:])
	if err != nil {
		return nil, err
	}
	off += n
	if nOut > uint64(len(b)) {
		return nil, fmt.Errorf("%w: absurd output count", ErrMalformedTx)
	}
	for i := uint64(0); i < nOut; i++ {
		out, n, err := readTxOut(b[off:])
		if err != nil {
			return nil, fmt.Errorf("output %d: %w", i, err)
		}
		tx.Outputs = append(tx.Outputs, out)
		off += n
	}

	if hasWitness == 1 {
		for i := range tx.Inputs {
			stack, n, err := readStack(b[off:])
			if err != nil {
				return nil, fmt.Errorf("witness %d: %w", i, err)
			}
			tx.Inputs[i].ScriptWitness = stack
			off += n
		}
	}
	if off != len(b) {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrMalformedTx, len(b)-off)
	}
	return tx, nil
}

// OutputsHash computes the iterative signing preimage over the outputs:
//
//	h = 0
//	for each output: h = dsha(dsha(outputData) || h)
//
// Every input's MLSAG signs this digest, binding all outputs including the
// fee record.
func (tx *MsgTx) OutputsHash() [32]byte {
	var h [32]byte
	for _, out := range tx.Outputs {
		dsh := secp.DoubleSha256(SerializeOutputData(out))
		buf := make([]byte, 0, 64)
		buf = append(buf, dsh[:]...)
		buf = append(buf, h[:]...)
		h = secp.DoubleSha256(buf)
	}
	return h
}

// TxID returns the display-order (reversed hex) id of the serialized
// transaction.
func (tx *MsgTx) TxID() string {
	return chainhash.DoubleHashH(tx.Serialize()).String()
}

// TxIDFromBytes returns the display-order txid of raw transaction bytes.
func TxIDFromBytes(raw []byte) string {
	return chainhash.DoubleHashH(raw).String()
}
