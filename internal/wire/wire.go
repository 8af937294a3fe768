// Package wire defines the transaction data model and its byte-exact
// binary encoding: versioned headers, anon (RingCT) and standard inputs,
// the four tagged output families, witness stacks, the iterative outputs
// hash and the legacy CT signature hash.
package wire

import (
	"errors"
	"fmt"

	"github.com/rawblock/veil-light-engine/internal/secp"
)

// OutputType tags the four output families on the wire.
type OutputType uint8

const (
	OutputNull     OutputType = 0
	OutputStandard OutputType = 1
	OutputCT       OutputType = 2
	OutputRingCT   OutputType = 3
	OutputData     OutputType = 4
)

const (
	// AnonMarker is the prevout.n sentinel that flags a RingCT-spending
	// input. Such inputs carry a scriptData stack (key image) and pack
	// (nInputsInMlsag, ringSize) into the first 8 prevout hash bytes.
	AnonMarker uint32 = 0xffffffa0

	// DataFee is the first vData byte of the fee OUTPUT_DATA record.
	DataFee byte = 0x06

	// MaxMoney is the supply cap in base units (21M coins at 1e8).
	MaxMoney uint64 = 21_000_000 * 100_000_000

	// SigHashAll is the only sighash type the engine produces.
	SigHashAll byte = 0x01
)

// ErrMalformedTx is returned when a transaction fails to deserialize.
var ErrMalformedTx = errors.New("wire: malformed transaction")

func (t OutputType) String() string {
	switch t {
	case OutputStandard:
		return "standard"
	case OutputCT:
		return "ct"
	case OutputRingCT:
		return "ringct"
	case OutputData:
		return "data"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

// OutPoint references a previous output by transaction hash and index.
type OutPoint struct {
	Hash [32]byte
	N    uint32
}

// TxIn is a transaction input. RingCT-spending inputs use the AnonMarker
// sentinel in PrevOut.N, push the key image on the ScriptData stack and
// carry the ring indices plus MLSAG blob in the witness stack. CT-spending
// inputs are conventional outpoints with a scriptSig.
type TxIn struct {
	PrevOut       OutPoint
	ScriptSig     []byte
	Sequence      uint32
	ScriptData    [][]byte
	ScriptWitness [][]byte
}

// IsAnonInput reports whether the input spends RingCT outputs.
func (in *TxIn) IsAnonInput() bool {
	return in.PrevOut.N == AnonMarker
}

// NewAnonTxIn builds a RingCT-spending input for a single-MLSAG ring of
// the given size, with the key image on the data stack.
func NewAnonTxIn(nInputsInMlsag, ringSize uint32, keyImage secp.KeyImage) *TxIn {
	in := &TxIn{
		PrevOut:    OutPoint{N: AnonMarker},
		Sequence:   0xffffffff,
		ScriptData: [][]byte{append([]byte(nil), keyImage[:]...)},
	}
	putU32(in.PrevOut.Hash[0:4], nInputsInMlsag)
	putU32(in.PrevOut.Hash[4:8], ringSize)
	return in
}

// AnonInfo unpacks (nInputsInMlsag, ringSize) from an anon input's prevout
// hash.
func (in *TxIn) AnonInfo() (nInputs, ringSize uint32) {
	return getU32(in.PrevOut.Hash[0:4]), getU32(in.PrevOut.Hash[4:8])
}

// KeyImage returns the key image of an anon input, if present.
func (in *TxIn) KeyImage() (secp.KeyImage, error) {
	var img secp.KeyImage
	if len(in.ScriptData) == 0 || len(in.ScriptData[0]) != secp.KeyImageSize {
		return img, fmt.Errorf("%w: missing key image", ErrMalformedTx)
	}
	copy(img[:], in.ScriptData[0])
	return img, nil
}

// TxOut is the tagged output variant. Concrete arms are TxOutStandard,
// TxOutCT, TxOutRingCT and TxOutData; the serializer dispatches on Type.
type TxOut interface {
	Type() OutputType

	// appendData appends the output payload without its type byte, the
	// form shared by the wire encoding and the outputs-hash preimage.
	appendData(b []byte) []byte
}

// TxOutStandard is a plain value output with a script.
type TxOutStandard struct {
	Value        uint64
	ScriptPubKey []byte
}

// TxOutCT is a Confidential Transaction output: blinded amount, standard
// script.
type TxOutCT struct {
	Commitment   secp.Commitment
	Data         []byte
	ScriptPubKey []byte
	RangeProof   []byte
}

// TxOutRingCT is a RingCT output: one-time destination key and blinded
// amount, no script.
type TxOutRingCT struct {
	DestPub    secp.Point
	Commitment secp.Commitment
	Data       []byte
	RangeProof []byte
}

// TxOutData carries non-value data; the fee record is its only producer
// in this engine.
type TxOutData struct {
	Data []byte
}

func (*TxOutStandard) Type() OutputType { return OutputStandard }
func (*TxOutCT) Type() OutputType       { return OutputCT }
func (*TxOutRingCT) Type() OutputType   { return OutputRingCT }
func (*TxOutData) Type() OutputType     { return OutputData }

// NewFeeOutput encodes fee as the canonical [DataFee, LEB128(fee)] data
// output.
func NewFeeOutput(fee uint64) *TxOutData {
	return &TxOutData{Data: AppendUvarint128([]byte{DataFee}, fee)}
}

// FeeFromOutput decodes the fee from a fee data output.
func FeeFromOutput(out *TxOutData) (uint64, error) {
	if len(out.Data) < 2 || out.Data[0] != DataFee {
		return 0, fmt.Errorf("%w: not a fee data output", ErrMalformedTx)
	}
	fee, n, err := ReadUvarint128(out.Data[1:])
	if err != nil || n != len(out.Data)-1 {
		return 0, fmt.Errorf("%w: bad fee encoding", ErrMalformedTx)
	}
	return fee, nil
}

// MsgTx is a wire transaction. HasWitness is implied by the presence of
// witness stacks; serialization writes one witness entry per input when
// any input carries one.
type MsgTx struct {
	Version  uint8
	TxType   uint8
	LockTime uint32
	Inputs   []*TxIn
	Outputs  []TxOut
}

// HasWitness reports whether any input carries a witness stack.
func (tx *MsgTx) HasWitness() bool {
	for _, in := range tx.Inputs {
		if len(in.ScriptWitness) > 0 {
			return true
		}
	}
	return false
}
