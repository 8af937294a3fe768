package txbuilder

import (
	"encoding/hex"
	"fmt"

	"github.com/rawblock/veil-light-engine/internal/secp"
	"github.com/rawblock/veil-light-engine/internal/stealth"
	"github.com/rawblock/veil-light-engine/internal/wire"
	"github.com/rawblock/veil-light-engine/pkg/models"
)

// SignCTInput signs a CT-spending input with ECDSA over the legacy
// sighash. The output spend key is the stealth offset of the wallet spend
// secret by the output's ephemeral ECDH secret. The scriptSig becomes
// [sig||sighashType, pubkey].
func SignCTInput(tx *wire.MsgTx, inputIdx int, utxo *models.CTUTXO, wallet *stealth.Wallet) error {
	if inputIdx < 0 || inputIdx >= len(tx.Inputs) {
		return fmt.Errorf("%w: input index %d out of range", ErrValidation, inputIdx)
	}

	spendKey, err := stealth.RecoverDestinationSecret(wallet.SpendSecret, wallet.ScanSecret, utxo.EphemeralPub)
	if err != nil {
		return err
	}
	defer spendKey.Wipe()

	pub, err := secp.DerivePub(spendKey)
	if err != nil {
		return err
	}
	if pub != utxo.PubKey {
		return fmt.Errorf("%w: derived CT spend key does not match output", secp.ErrInvalidPoint)
	}

	hash, err := wire.LegacySigHash(tx, inputIdx, utxo.ScriptPubKey, wire.SigHashAll)
	if err != nil {
		return err
	}
	sig, err := secp.EcdsaSign(hash, spendKey)
	if err != nil {
		return err
	}

	scriptSig := wire.PushData(append(sig, wire.SigHashAll))
	scriptSig = append(scriptSig, wire.PushData(pub[:])...)
	tx.Inputs[inputIdx].ScriptSig = scriptSig
	return nil
}

// NewCTTxIn builds a conventional input spending a CT outpoint. The txid
// is display order and gets reversed into wire order.
func NewCTTxIn(utxo *models.CTUTXO) (*wire.TxIn, error) {
	hash, err := displayTxIDToHash(utxo.TxID)
	if err != nil {
		return nil, err
	}
	return &wire.TxIn{
		PrevOut:  wire.OutPoint{Hash: hash, N: utxo.Vout},
		Sequence: 0xffffffff,
	}, nil
}

func displayTxIDToHash(txid string) ([32]byte, error) {
	var out [32]byte
	raw, err := hex.DecodeString(txid)
	if err != nil || len(raw) != 32 {
		return out, fmt.Errorf("%w: txid %q", ErrValidation, txid)
	}
	for i, b := range raw {
		out[31-i] = b
	}
	return out, nil
}
