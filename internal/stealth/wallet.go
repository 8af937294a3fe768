package stealth

import (
	"encoding/hex"
	"fmt"

	"github.com/rawblock/veil-light-engine/internal/secp"
)

// Wallet holds the two key pairs of a stealth wallet. The scan secret lets
// a watch-only service detect incoming outputs; the spend secret is needed
// to derive destination secrets and sign.
type Wallet struct {
	SpendSecret secp.Scalar
	ScanSecret  secp.Scalar
	SpendPub    secp.Point
	ScanPub     secp.Point
	Address     string
}

// CreateWallet samples two fresh key pairs and encodes their stealth
// address.
func CreateWallet() (*Wallet, error) {
	spendSecret, err := secp.NewRandomScalar()
	if err != nil {
		return nil, err
	}
	scanSecret, err := secp.NewRandomScalar()
	if err != nil {
		return nil, err
	}
	return walletFromSecrets(spendSecret, scanSecret)
}

// RestoreWallet rebuilds a wallet from hex-encoded spend and scan secrets.
func RestoreWallet(spendHex, scanHex string) (*Wallet, error) {
	spendSecret, err := parseSecretHex(spendHex)
	if err != nil {
		return nil, fmt.Errorf("spend key: %w", err)
	}
	scanSecret, err := parseSecretHex(scanHex)
	if err != nil {
		return nil, fmt.Errorf("scan key: %w", err)
	}
	return walletFromSecrets(spendSecret, scanSecret)
}

func parseSecretHex(h string) (secp.Scalar, error) {
	raw, err := hex.DecodeString(h)
	if err != nil {
		return secp.Scalar{}, fmt.Errorf("%w: %v", secp.ErrInvalidScalar, err)
	}
	return secp.ParseScalar(raw)
}

func walletFromSecrets(spendSecret, scanSecret secp.Scalar) (*Wallet, error) {
	spendPub, err := secp.DerivePub(spendSecret)
	if err != nil {
		return nil, err
	}
	scanPub, err := secp.DerivePub(scanSecret)
	if err != nil {
		return nil, err
	}
	addr := &Address{ScanPub: scanPub, SpendPub: spendPub}
	encoded, err := addr.Encode()
	if err != nil {
		return nil, err
	}
	return &Wallet{
		SpendSecret: spendSecret,
		ScanSecret:  scanSecret,
		SpendPub:    spendPub,
		ScanPub:     scanPub,
		Address:     encoded,
	}, nil
}

// SpendHex returns the spend secret as hex.
func (w *Wallet) SpendHex() string {
	return hex.EncodeToString(w.SpendSecret[:])
}

// ScanHex returns the scan secret as hex.
func (w *Wallet) ScanHex() string {
	return hex.EncodeToString(w.ScanSecret[:])
}

// ScanPubHex returns the scan public key as hex, the form the watch-only
// node RPC expects.
func (w *Wallet) ScanPubHex() string {
	return hex.EncodeToString(w.ScanPub[:])
}

// SpendPubHex returns the spend public key as hex.
func (w *Wallet) SpendPubHex() string {
	return hex.EncodeToString(w.SpendPub[:])
}

// Wipe scrubs the wallet's secret material.
func (w *Wallet) Wipe() {
	w.SpendSecret.Wipe()
	w.ScanSecret.Wipe()
}
