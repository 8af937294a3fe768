// Package stealth implements Veil stealth addresses and the one-time key
// exchange built on them: bech32 address encoding, wallet key management,
// sender-side ephemeral key generation and receiver-side destination key
// recovery.
package stealth

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil/bech32"

	"github.com/rawblock/veil-light-engine/internal/secp"
)

const (
	// AddressHRP is the bech32 human-readable part of a stealth address.
	AddressHRP = "sv"

	// MinAddressLength and MaxAddressLength bound the encoded address.
	MinAddressLength = 60
	MaxAddressLength = 122
)

// ErrInvalidAddress is returned for malformed or out-of-range addresses.
var ErrInvalidAddress = errors.New("stealth: invalid address")

// Address is the decoded payload of a stealth address: the receiver's scan
// and spend public keys plus the prefix options.
type Address struct {
	Options        byte
	ScanPub        secp.Point
	SpendPub       secp.Point
	NumSigs        byte
	PrefixBits     byte
	PrefixBitfield uint32
}

// Encode serializes the address payload and encodes it with bech32 under
// the "sv" HRP.
func (a *Address) Encode() (string, error) {
	payload := make([]byte, 0, 70+4)
	payload = append(payload, a.Options)
	payload = append(payload, a.ScanPub[:]...)
	payload = append(payload, 1) // one spend key
	payload = append(payload, a.SpendPub[:]...)
	payload = append(payload, a.NumSigs)
	payload = append(payload, a.PrefixBits)
	if a.PrefixBits > 0 {
		nBytes := (int(a.PrefixBits) + 7) / 8
		var field [4]byte
		binary.BigEndian.PutUint32(field[:], a.PrefixBitfield)
		payload = append(payload, field[4-nBytes:]...)
	}

	converted, err := bech32.ConvertBits(payload, 8, 5, true)
	if err != nil {
		return "", fmt.Errorf("stealth: convert bits: %w", err)
	}
	encoded, err := bech32.Encode(AddressHRP, converted)
	if err != nil {
		return "", fmt.Errorf("stealth: bech32 encode: %w", err)
	}
	return encoded, nil
}

// DecodeAddress parses a bech32 stealth address back into its payload.
func DecodeAddress(addr string) (*Address, error) {
	if !strings.HasPrefix(strings.ToLower(addr), AddressHRP+"1") {
		return nil, fmt.Errorf("%w: missing %s1 prefix", ErrInvalidAddress, AddressHRP)
	}
	if len(addr) < MinAddressLength {
		return nil, fmt.Errorf("%w: too short (%d chars)", ErrInvalidAddress, len(addr))
	}
	if len(addr) > MaxAddressLength {
		return nil, fmt.Errorf("%w: too long (%d chars)", ErrInvalidAddress, len(addr))
	}

	hrp, data, err := bech32.DecodeNoLimit(addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	if hrp != AddressHRP {
		return nil, fmt.Errorf("%w: unexpected prefix %q", ErrInvalidAddress, hrp)
	}
	payload, err := bech32.ConvertBits(data, 5, 8, false)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}

	// options(1) scanPub(33) nSpendKeys(1) spendPub(33) nSigs(1) prefixBits(1)
	if len(payload) < 70 {
		return nil, fmt.Errorf("%w: payload too short (%d bytes)", ErrInvalidAddress, len(payload))
	}
	out := &Address{Options: payload[0]}

	scanPub, err := secp.ParsePoint(payload[1:34])
	if err != nil {
		return nil, fmt.Errorf("%w: scan pubkey: %v", ErrInvalidAddress, err)
	}
	out.ScanPub = scanPub

	if payload[34] != 1 {
		return nil, fmt.Errorf("%w: unsupported spend key count %d", ErrInvalidAddress, payload[34])
	}
	spendPub, err := secp.ParsePoint(payload[35:68])
	if err != nil {
		return nil, fmt.Errorf("%w: spend pubkey: %v", ErrInvalidAddress, err)
	}
	out.SpendPub = spendPub

	out.NumSigs = payload[68]
	out.PrefixBits = payload[69]
	if out.PrefixBits > 0 {
		nBytes := (int(out.PrefixBits) + 7) / 8
		if len(payload) < 70+nBytes {
			return nil, fmt.Errorf("%w: truncated prefix bitfield", ErrInvalidAddress)
		}
		var field [4]byte
		copy(field[4-nBytes:], payload[70:70+nBytes])
		out.PrefixBitfield = binary.BigEndian.Uint32(field[:])
	}
	return out, nil
}

// ValidationResult is the outcome of ValidateAddress, shaped for API
// responses.
type ValidationResult struct {
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
}

// ValidateAddress reports whether addr is a well-formed stealth address.
func ValidateAddress(addr string) ValidationResult {
	if _, err := DecodeAddress(addr); err != nil {
		return ValidationResult{Valid: false, Error: err.Error()}
	}
	return ValidationResult{Valid: true}
}

// IsValidAddress is a convenience wrapper around ValidateAddress.
func IsValidAddress(addr string) bool {
	return ValidateAddress(addr).Valid
}
