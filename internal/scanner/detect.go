package scanner

import (
	"encoding/hex"
	"fmt"

	"github.com/rawblock/veil-light-engine/internal/secp"
	"github.com/rawblock/veil-light-engine/internal/stealth"
	"github.com/rawblock/veil-light-engine/internal/veild"
	"github.com/rawblock/veil-light-engine/internal/wire"
	"github.com/rawblock/veil-light-engine/pkg/models"
)

// Keys is the wallet material receiver detection needs.
type Keys struct {
	SpendSecret secp.Scalar
	ScanSecret  secp.Scalar
	SpendPub    secp.Point
}

// KeysFromWallet extracts detection keys from a stealth wallet.
func KeysFromWallet(w *stealth.Wallet) Keys {
	return Keys{SpendSecret: w.SpendSecret, ScanSecret: w.ScanSecret, SpendPub: w.SpendPub}
}

// OwnedRingCT is a successfully detected RingCT output with its recovered
// secrets.
type OwnedRingCT struct {
	DestSecret   secp.Scalar
	KeyImage     secp.KeyImage
	EphemeralPub secp.Point
	Amount       uint64
	Blind        secp.Scalar
	Rewound      bool
}

// DetectRingCT runs receiver detection on a RingCT output. It returns
// (nil, nil) when the output simply is not ours; an error means the output
// claimed to be ours but its cryptographic material is inconsistent.
//
// Detection derives the expected one-time destination from the published
// ephemeral key and compares; on a match the destination secret, key image
// and (when the proof rewinds) amount and blind are recovered.
func DetectRingCT(keys Keys, out *wire.TxOutRingCT) (*OwnedRingCT, error) {
	if len(out.Data) < secp.PointSize {
		return nil, nil
	}
	ephemeralPub, err := secp.ParsePoint(out.Data[:secp.PointSize])
	if err != nil {
		return nil, nil
	}

	expected, err := stealth.ExpectedDestination(keys.SpendPub, keys.ScanSecret, ephemeralPub)
	if err != nil {
		return nil, err
	}
	if expected != out.DestPub {
		return nil, nil
	}

	destSecret, err := stealth.RecoverDestinationSecret(keys.SpendSecret, keys.ScanSecret, ephemeralPub)
	if err != nil {
		return nil, err
	}
	derived, err := secp.DerivePub(destSecret)
	if err != nil {
		return nil, err
	}
	if derived != out.DestPub {
		return nil, fmt.Errorf("scanner: destination pubkey mismatch after recovery: %w", secp.ErrInvalidPoint)
	}

	keyImage, err := secp.ComputeKeyImage(out.DestPub, destSecret)
	if err != nil {
		return nil, err
	}

	owned := &OwnedRingCT{
		DestSecret:   destSecret,
		KeyImage:     keyImage,
		EphemeralPub: ephemeralPub,
	}

	// Rewind with the double-hashed ECDH nonce. Failure is tolerated: RPC
	// metadata may still supply the amount and blind.
	nonce, err := secp.RangeproofNonce(ephemeralPub, destSecret)
	if err != nil {
		return nil, err
	}
	if res, err := secp.RewindRangeProof(nonce, out.Commitment, out.RangeProof); err == nil {
		owned.Amount = res.Value
		owned.Blind = res.Blind
		owned.Rewound = true
	}
	return owned, nil
}

// OwnedCT is a successfully detected CT output.
type OwnedCT struct {
	SpendKey     secp.Scalar
	EphemeralPub secp.Point
	Amount       uint64
	Blind        secp.Scalar
}

// DetectCT runs receiver detection on a CT output. CT outputs carry no
// destination key to compare, so a successful rewind with the scan-derived
// nonce is itself the ownership proof.
func DetectCT(keys Keys, out *wire.TxOutCT) (*OwnedCT, error) {
	if len(out.Data) < secp.PointSize {
		return nil, nil
	}
	// CT vData may carry a leading type tag before the ephemeral key.
	ephemeralBytes := out.Data[:secp.PointSize]
	if out.Data[0] != 0x02 && out.Data[0] != 0x03 && len(out.Data) > secp.PointSize {
		ephemeralBytes = out.Data[1 : 1+secp.PointSize]
	}
	ephemeralPub, err := secp.ParsePoint(ephemeralBytes)
	if err != nil {
		return nil, nil
	}

	shared, err := secp.SharedSecret(ephemeralPub, keys.ScanSecret)
	if err != nil {
		return nil, err
	}
	nonce := secp.Sha256(shared[:])
	res, err := secp.RewindRangeProof(nonce, out.Commitment, out.RangeProof)
	if err != nil {
		return nil, nil
	}

	spendKey, err := stealth.RecoverDestinationSecret(keys.SpendSecret, keys.ScanSecret, ephemeralPub)
	if err != nil {
		return nil, err
	}
	return &OwnedCT{
		SpendKey:     spendKey,
		EphemeralPub: ephemeralPub,
		Amount:       res.Value,
		Blind:        res.Blind,
	}, nil
}

// ScanAnonRecord decodes one anon watch-only record and materializes a
// UTXO when the output belongs to the wallet. RPC-supplied amount and
// blind metadata override rewind results. Records that are not ours or
// that lack essential fields return (nil, nil).
func ScanAnonRecord(keys Keys, rec veild.WatchOnlyRecord) (*models.UTXO, error) {
	parsed, err := ParseWatchOnlyTxHex(rec.Raw)
	if err != nil {
		return nil, err
	}
	if parsed.Type != RecordAnon || parsed.RingCT == nil {
		return nil, nil
	}

	owned, err := DetectRingCT(keys, parsed.RingCT)
	if err != nil || owned == nil {
		return nil, err
	}

	utxo := &models.UTXO{
		TxID:         parsed.GetID(),
		Vout:         parsed.TxIndex,
		Amount:       owned.Amount,
		Commitment:   parsed.RingCT.Commitment,
		Blind:        owned.Blind,
		PubKey:       parsed.RingCT.DestPub,
		EphemeralPub: owned.EphemeralPub,
		KeyImage:     owned.KeyImage,
		RingCTIndex:  parsed.RingCTIndex,
	}
	if rec.RingCTIndex != nil {
		utxo.RingCTIndex = *rec.RingCTIndex
	}
	if rec.Amount != nil {
		utxo.Amount = uint64(*rec.Amount)
	}
	if rec.Blind != "" {
		if raw, err := hex.DecodeString(rec.Blind); err == nil && len(raw) == secp.ScalarSize {
			copy(utxo.Blind[:], raw)
		}
	}
	if !owned.Rewound && rec.Amount == nil {
		// Neither rewind nor metadata produced an amount; the output is
		// unusable for spending.
		return nil, nil
	}
	return utxo, nil
}

// ScanStealthRecord decodes one stealth (CT) watch-only record into a CT
// UTXO when owned. The node delivers the CT output payload in the same
// anon record framing.
func ScanStealthRecord(keys Keys, rec veild.WatchOnlyRecord) (*models.CTUTXO, error) {
	parsed, err := ParseWatchOnlyTxHex(rec.Raw)
	if err != nil {
		return nil, err
	}
	if parsed.Type != RecordStealth || parsed.RingCT == nil {
		return nil, nil
	}

	// Stealth records reuse the payload framing with the output pubkey in
	// the destination slot; rebuild the CT view of it.
	ct := &wire.TxOutCT{
		Commitment: parsed.RingCT.Commitment,
		Data:       parsed.RingCT.Data,
		RangeProof: parsed.RingCT.RangeProof,
	}
	owned, err := DetectCT(keys, ct)
	if err != nil || owned == nil {
		return nil, err
	}

	pub, err := secp.DerivePub(owned.SpendKey)
	if err != nil {
		return nil, err
	}
	utxo := &models.CTUTXO{
		TxID:         parsed.GetID(),
		Vout:         parsed.TxIndex,
		Amount:       owned.Amount,
		Commitment:   ct.Commitment,
		Blind:        owned.Blind,
		PubKey:       pub,
		EphemeralPub: owned.EphemeralPub,
		ScriptPubKey: wire.P2PKHScript(pub),
	}
	if rec.Amount != nil {
		utxo.Amount = uint64(*rec.Amount)
	}
	return utxo, nil
}
