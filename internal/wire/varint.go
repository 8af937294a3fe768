package wire

import (
	"encoding/binary"
	"fmt"
)

// Two variable-length integer encodings coexist on the wire: Bitcoin-style
// varints prefix every length field, while LEB128 encodes ring indices and
// the fee value inside data payloads.

func putU32(b []byte, v uint32) {
	binary.LittleEndian.PutUint32(b, v)
}

func getU32(b []byte) uint32 {
	return binary.LittleEndian.Uint32(b)
}

// AppendVarInt appends the Bitcoin-style varint encoding of v.
func AppendVarInt(b []byte, v uint64) []byte {
	switch {
	case v < 0xfd:
		return append(b, byte(v))
	case v <= 0xffff:
		b = append(b, 0xfd)
		return binary.LittleEndian.AppendUint16(b, uint16(v))
	case v <= 0xffffffff:
		b = append(b, 0xfe)
		return binary.LittleEndian.AppendUint32(b, uint32(v))
	default:
		b = append(b, 0xff)
		return binary.LittleEndian.AppendUint64(b, v)
	}
}

// ReadVarInt decodes a Bitcoin-style varint from the front of b, returning
// the value and the number of bytes consumed.
func ReadVarInt(b []byte) (uint64, int, error) {
	if len(b) == 0 {
		return 0, 0, fmt.Errorf("%w: empty varint", ErrMalformedTx)
	}
	switch b[0] {
	case 0xfd:
		if len(b) < 3 {
			return 0, 0, fmt.Errorf("%w: short varint", ErrMalformedTx)
		}
		return uint64(binary.LittleEndian.Uint16(b[1:3])), 3, nil
	case 0xfe:
		if len(b) < 5 {
			return 0, 0, fmt.Errorf("%w: short varint", ErrMalformedTx)
		}
		return uint64(binary.LittleEndian.Uint32(b[1:5])), 5, nil
	case 0xff:
		if len(b) < 9 {
			return 0, 0, fmt.Errorf("%w: short varint", ErrMalformedTx)
		}
		return binary.LittleEndian.Uint64(b[1:9]), 9, nil
	default:
		return uint64(b[0]), 1, nil
	}
}

// AppendUvarint128 appends the LEB128 encoding of v: little-endian 7-bit
// groups with the continuation bit set on all but the last byte.
func AppendUvarint128(b []byte, v uint64) []byte {
	for v >= 0x80 {
		b = append(b, byte(v)|0x80)
		v >>= 7
	}
	return append(b, byte(v))
}

// ReadUvarint128 decodes a LEB128 value from the front of b, returning the
// value and the number of bytes consumed.
func ReadUvarint128(b []byte) (uint64, int, error) {
	var v uint64
	for i := 0; i < len(b); i++ {
		if i >= 10 {
			break
		}
		c := b[i]
		if i == 9 && c > 0x01 {
			return 0, 0, fmt.Errorf("%w: leb128 overflow", ErrMalformedTx)
		}
		v |= uint64(c&0x7f) << (7 * uint(i))
		if c&0x80 == 0 {
			return v, i + 1, nil
		}
	}
	return 0, 0, fmt.Errorf("%w: unterminated leb128", ErrMalformedTx)
}

// appendBytes appends a varint length prefix followed by the raw bytes.
func appendBytes(b, data []byte) []byte {
	b = AppendVarInt(b, uint64(len(data)))
	return append(b, data...)
}

// readBytes decodes a varint-prefixed byte string from the front of b.
func readBytes(b []byte) ([]byte, int, error) {
	n, off, err := ReadVarInt(b)
	if err != nil {
		return nil, 0, err
	}
	if uint64(len(b)-off) < n {
		return nil, 0, fmt.Errorf("%w: byte string exceeds buffer", ErrMalformedTx)
	}
	out := append([]byte(nil), b[off:off+int(n)]...)
	return out, off + int(n), nil
}

// appendStack appends a varint item count followed by each varint-prefixed
// stack item.
func appendStack(b []byte, stack [][]byte) []byte {
	b = AppendVarInt(b, uint64(len(stack)))
	for _, item := range stack {
		b = appendBytes(b, item)
	}
	return b
}

// readStack decodes a serialized stack from the front of b.
func readStack(b []byte) ([][]byte, int, error) {
	count, off, err := ReadVarInt(b)
	if err != nil {
		return nil, 0, err
	}
	if count > uint64(len(b)) {
		return nil, 0, fmt.Errorf("%w: absurd stack size", ErrMalformedTx)
	}
	stack := make([][]byte, 0, count)
	for i := uint64(0); i < count; i++ {
		item, n, err := readBytes(b[off:])
		if err != nil {
			return nil, 0, err
		}
		stack = append(stack, item)
		off += n
	}
	return stack, off, nil
}
