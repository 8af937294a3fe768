package txbuilder

import (
	"errors"
	"fmt"

	"github.com/rawblock/veil-light-engine/internal/secp"
	"github.com/rawblock/veil-light-engine/internal/stealth"
	"github.com/rawblock/veil-light-engine/internal/wire"
)

var (
	// ErrValidation covers malformed addresses, bad amounts and
	// out-of-range ring sizes.
	ErrValidation = errors.New("txbuilder: invalid input")

	// ErrInsufficientFunds means coin selection cannot cover
	// amount plus fee.
	ErrInsufficientFunds = errors.New("txbuilder: insufficient funds")

	// ErrTooManyInputs means covering the amount needs more than the
	// hard input limit; consolidate or use a send plan.
	ErrTooManyInputs = errors.New("txbuilder: too many inputs required")

	// ErrDecoyShortage means the decoy pool cannot supply enough
	// non-conflicting ring members.
	ErrDecoyShortage = errors.New("txbuilder: decoy pool exhausted")
)

// OutputDraft owns an output under construction together with its blinding
// factor. The blind never travels on the finished output; it only feeds
// the MLSAG blind sums.
type OutputDraft struct {
	Output wire.TxOut
	Blind  secp.Scalar
	Amount uint64
}

// Commitment returns the draft's Pedersen commitment, if its output family
// carries one.
func (d *OutputDraft) Commitment() (secp.Commitment, bool) {
	switch o := d.Output.(type) {
	case *wire.TxOutRingCT:
		return o.Commitment, true
	case *wire.TxOutCT:
		return o.Commitment, true
	default:
		return secp.Commitment{}, false
	}
}

// NewRingCTDraft builds a complete RingCT output to the given stealth
// address: one-time destination, Pedersen commitment, range proof signed
// under the double-hashed ECDH nonce, ephemeral pubkey in vData.
func NewRingCTDraft(addr *stealth.Address, amount uint64) (*OutputDraft, error) {
	if amount > wire.MaxMoney {
		return nil, fmt.Errorf("%w: amount %d above max money", ErrValidation, amount)
	}

	eph, err := stealth.GenerateEphemeral(addr)
	if err != nil {
		return nil, err
	}
	defer eph.Wipe()

	blind, err := secp.NewRandomScalar()
	if err != nil {
		return nil, err
	}
	commit, err := secp.PedersenCommit(amount, blind)
	if err != nil {
		return nil, err
	}

	// The nonce is the double-hashed ECDH secret; the receiver recomputes
	// it from the ephemeral pubkey and their destination secret to rewind.
	nonce, err := secp.RangeproofNonce(eph.DestPub, eph.Secret)
	if err != nil {
		return nil, err
	}
	proof, err := secp.SignRangeProof(commit, amount, blind, nonce, nil, selectRangeProofParams(amount))
	if err != nil {
		return nil, err
	}

	out := &wire.TxOutRingCT{
		DestPub:    eph.DestPub,
		Commitment: commit,
		Data:       append([]byte(nil), eph.Public[:]...),
		RangeProof: proof,
	}
	return &OutputDraft{Output: out, Blind: blind, Amount: amount}, nil
}

// NewFeeDraft builds the fee data output. Its commitment uses an all-zero
// blind so verifiers can recompute it from the cleartext fee; the zero
// blind still participates in the MLSAG blind sums.
func NewFeeDraft(fee uint64) *OutputDraft {
	return &OutputDraft{Output: wire.NewFeeOutput(fee), Amount: fee}
}

// FeeCommitment computes the zero-blind commitment of a draft fee output.
func (d *OutputDraft) FeeCommitment() (secp.Commitment, error) {
	dataOut, ok := d.Output.(*wire.TxOutData)
	if !ok {
		return secp.Commitment{}, fmt.Errorf("%w: not a fee output", ErrValidation)
	}
	fee, err := wire.FeeFromOutput(dataOut)
	if err != nil {
		return secp.Commitment{}, err
	}
	var zeroBlind secp.Scalar
	return secp.PedersenCommit(fee, zeroBlind)
}
