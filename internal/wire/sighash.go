package wire

import (
	"encoding/binary"
	"fmt"

	"github.com/rawblock/veil-light-engine/internal/secp"
)

// LegacySigHash computes the Bitcoin-legacy signature preimage for a
// CT-spending input: the transaction with every scriptSig emptied except
// the signed input, which carries the spent output's scriptPubKey, followed
// by the sighash type, double hashed.
func LegacySigHash(tx *MsgTx, signIdx int, scriptCode []byte, hashType byte) ([32]byte, error) {
	if signIdx < 0 || signIdx >= len(tx.Inputs) {
		return [32]byte{}, fmt.Errorf("%w: sign index %d out of range", ErrMalformedTx, signIdx)
	}

	b := make([]byte, 0, 256)
	version := uint32(tx.Version) | uint32(tx.TxType)<<8
	b = binary.LittleEndian.AppendUint32(b, version)

	b = AppendVarInt(b, uint64(len(tx.Inputs)))
	for i, in := range tx.Inputs {
		b = append(b, in.PrevOut.Hash[:]...)
		b = binary.LittleEndian.AppendUint32(b, in.PrevOut.N)
		if i == signIdx {
			b = appendBytes(b, scriptCode)
		} else {
			b = append(b, 0x00)
		}
		b = binary.LittleEndian.AppendUint32(b, in.Sequence)
	}

	b = AppendVarInt(b, uint64(len(tx.Outputs)))
	for _, out := range tx.Outputs {
		b = out.appendData(b)
	}

	b = binary.LittleEndian.AppendUint32(b, tx.LockTime)
	b = binary.LittleEndian.AppendUint32(b, uint32(hashType))

	return secp.DoubleSha256(b), nil
}

// P2PKHScript builds the canonical 25-byte pay-to-pubkey-hash script for a
// compressed public key.
func P2PKHScript(pub secp.Point) []byte {
	h := secp.Hash160(pub[:])
	script := make([]byte, 0, 25)
	script = append(script, 0x76, 0xa9, 0x14) // OP_DUP OP_HASH160 push20
	script = append(script, h[:]...)
	script = append(script, 0x88, 0xac) // OP_EQUALVERIFY OP_CHECKSIG
	return script
}

// PushData returns the minimal script push of data (sizes < 76 only, which
// covers signatures and pubkeys).
func PushData(data []byte) []byte {
	out := make([]byte, 0, len(data)+1)
	out = append(out, byte(len(data)))
	return append(out, data...)
}
