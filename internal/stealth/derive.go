package stealth

import (
	"fmt"

	"github.com/rawblock/veil-light-engine/internal/secp"
)

// Ephemeral is the sender-side result of the one-time key exchange for a
// single output: a fresh ephemeral key pair, the ECDH shared secret with
// the receiver's scan key, and the derived one-time destination key.
type Ephemeral struct {
	Secret  secp.Scalar
	Public  secp.Point
	Shared  [32]byte
	DestPub secp.Point
}

// GenerateEphemeral performs the sender side of the exchange against a
// decoded stealth address:
//
//	shared  = SHA256(ephemeralSecret * scanPub)
//	destPub = spendPub + shared*G
func GenerateEphemeral(addr *Address) (*Ephemeral, error) {
	secret, err := secp.NewRandomScalar()
	if err != nil {
		return nil, err
	}
	public, err := secp.DerivePub(secret)
	if err != nil {
		return nil, err
	}
	shared, err := secp.SharedSecret(addr.ScanPub, secret)
	if err != nil {
		return nil, err
	}
	sharedScalar, err := secp.ParseScalar(shared[:])
	if err != nil {
		return nil, fmt.Errorf("stealth: shared secret unusable as scalar: %w", err)
	}
	destPub, err := secp.PointAddScalar(addr.SpendPub, sharedScalar)
	if err != nil {
		return nil, err
	}
	return &Ephemeral{Secret: secret, Public: public, Shared: shared, DestPub: destPub}, nil
}

// Wipe scrubs the ephemeral secret material.
func (e *Ephemeral) Wipe() {
	e.Secret.Wipe()
	secp.Zero(e.Shared[:])
}

// RecoverDestinationSecret performs the receiver side: given the published
// ephemeral public key, it recomputes the shared secret with the scan
// secret and offsets the spend secret by it.
//
//	shared     = SHA256(scanSecret * ephemeralPub)
//	destSecret = spendSecret + shared
//
// The same derivation produces the spend key for received CT outputs.
func RecoverDestinationSecret(spendSecret, scanSecret secp.Scalar, ephemeralPub secp.Point) (secp.Scalar, error) {
	shared, err := secp.SharedSecret(ephemeralPub, scanSecret)
	if err != nil {
		return secp.Scalar{}, err
	}
	defer secp.Zero(shared[:])
	sharedScalar, err := secp.ParseScalar(shared[:])
	if err != nil {
		return secp.Scalar{}, fmt.Errorf("stealth: shared secret unusable as scalar: %w", err)
	}
	return secp.PrivateAdd(spendSecret, sharedScalar)
}

// ExpectedDestination computes the destination pubkey a receiver expects
// for a published ephemeral key, without touching the spend secret. Used by
// the scanner for ownership checks on watch-only records.
func ExpectedDestination(spendPub secp.Point, scanSecret secp.Scalar, ephemeralPub secp.Point) (secp.Point, error) {
	shared, err := secp.SharedSecret(ephemeralPub, scanSecret)
	if err != nil {
		return secp.Point{}, err
	}
	defer secp.Zero(shared[:])
	sharedScalar, err := secp.ParseScalar(shared[:])
	if err != nil {
		return secp.Point{}, fmt.Errorf("stealth: shared secret unusable as scalar: %w", err)
	}
	return secp.PointAddScalar(spendPub, sharedScalar)
}
