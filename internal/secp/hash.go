package secp

import (
	"crypto/sha256"

	"golang.org/x/crypto/ripemd160"
	"golang.org/x/crypto/sha3"
)

// Sha256 returns the SHA-256 digest of b.
func Sha256(b []byte) [32]byte {
	return sha256.Sum256(b)
}

// DoubleSha256 returns SHA256(SHA256(b)).
func DoubleSha256(b []byte) [32]byte {
	first := sha256.Sum256(b)
	return sha256.Sum256(first[:])
}

// Hash160 returns RIPEMD160(SHA256(b)), the standard P2PKH key hash.
func Hash160(b []byte) [20]byte {
	first := sha256.Sum256(b)
	h := ripemd160.New()
	h.Write(first[:])
	var out [20]byte
	copy(out[:], h.Sum(nil))
	return out
}

// Keccak256 returns the legacy Keccak-256 digest of b.
func Keccak256(b []byte) [32]byte {
	h := sha3.NewLegacyKeccak256()
	h.Write(b)
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}
