package txbuilder

import (
	"encoding/hex"
	"fmt"
	"log"

	"github.com/rawblock/veil-light-engine/internal/secp"
	"github.com/rawblock/veil-light-engine/internal/stealth"
	"github.com/rawblock/veil-light-engine/internal/wire"
	"github.com/rawblock/veil-light-engine/pkg/models"
)

// Recipient is one payment destination.
type Recipient struct {
	Address string
	Amount  uint64
}

// BuildParams drives one transaction build. Decoys must hold enough
// non-conflicting ring members for every input; fetch them with
// GetAnonOutputs before building.
type BuildParams struct {
	Wallet     *stealth.Wallet
	Spendable  []*models.UTXO
	Recipients []Recipient
	Decoys     []Decoy
	FeePerKB   uint64
	RingSize   int
	LockTime   uint32
}

// BuiltTx is a fully signed, serialized transaction ready for broadcast.
type BuiltTx struct {
	Tx             *wire.MsgTx
	Hex            string
	TxID           string
	Fee            uint64
	Change         uint64
	SpentKeyImages []secp.KeyImage
}

// build stages, in order. A failed stage aborts the whole build; there is
// no partial commit.
type buildStage int

const (
	stageInit buildStage = iota
	stageValidated
	stageSelected
	stageOutputsBuilt
	stageInputsAssembled
	stageSigned
	stageSerialized
)

type builder struct {
	params BuildParams
	stage  buildStage

	target    uint64
	selection *selectionResult
	drafts    []*OutputDraft // fee first, then recipients, then change
	tx        *wire.MsgTx
	rings     []*ring
	destSecrets []secp.Scalar
}

// Build runs the whole pipeline: validate, select coins, construct
// outputs, assemble rings, sign every input's MLSAG and serialize.
func Build(params BuildParams) (*BuiltTx, error) {
	b := &builder{params: params}
	steps := []func() error{
		b.validate,
		b.selectCoins,
		b.buildOutputs,
		b.assembleInputs,
		b.sign,
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return nil, err
		}
	}
	return b.serialize()
}

func (b *builder) validate() error {
	if b.params.Wallet == nil {
		return fmt.Errorf("%w: missing wallet", ErrValidation)
	}
	if len(b.params.Recipients) == 0 {
		return fmt.Errorf("%w: no recipients", ErrValidation)
	}
	if b.params.RingSize == 0 {
		b.params.RingSize = DefaultRingSize
	}
	if b.params.RingSize < MinRingSize || b.params.RingSize > MaxRingSize {
		return fmt.Errorf("%w: ring size %d outside [%d,%d]", ErrValidation, b.params.RingSize, MinRingSize, MaxRingSize)
	}
	if b.params.FeePerKB == 0 {
		b.params.FeePerKB = DefaultFeePerKB
	}
	for _, r := range b.params.Recipients {
		if r.Amount == 0 || r.Amount > wire.MaxMoney {
			return fmt.Errorf("%w: recipient amount %d out of range", ErrValidation, r.Amount)
		}
		if !stealth.IsValidAddress(r.Address) {
			return fmt.Errorf("%w: recipient address %q", ErrValidation, r.Address)
		}
		b.target += r.Amount
	}
	b.stage = stageValidated
	return nil
}

func (b *builder) selectCoins() error {
	// Output count estimate: recipients + fee record + change.
	nOut := len(b.params.Recipients) + 2
	sel, err := selectCoins(b.params.Spendable, b.target, b.params.FeePerKB, b.params.RingSize, nOut)
	if err != nil {
		return err
	}
	b.selection = sel
	b.stage = stageSelected
	return nil
}

func (b *builder) buildOutputs() error {
	drafts := make([]*OutputDraft, 0, len(b.params.Recipients)+2)
	drafts = append(drafts, NewFeeDraft(b.selection.fee))

	for _, r := range b.params.Recipients {
		addr, err := stealth.DecodeAddress(r.Address)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrValidation, err)
		}
		draft, err := NewRingCTDraft(addr, r.Amount)
		if err != nil {
			return err
		}
		drafts = append(drafts, draft)
	}

	if b.selection.change > 0 {
		selfAddr, err := stealth.DecodeAddress(b.params.Wallet.Address)
		if err != nil {
			return fmt.Errorf("%w: own address: %v", ErrValidation, err)
		}
		changeDraft, err := NewRingCTDraft(selfAddr, b.selection.change)
		if err != nil {
			return err
		}
		drafts = append(drafts, changeDraft)
	}

	b.drafts = drafts
	b.tx = &wire.MsgTx{Version: 2, LockTime: b.params.LockTime}
	for _, d := range drafts {
		b.tx.Outputs = append(b.tx.Outputs, d.Output)
	}
	b.stage = stageOutputsBuilt
	return nil
}

// assembleInputs builds one ring per selected UTXO, recovers destination
// secrets, computes key images and writes the anon input skeletons.
func (b *builder) assembleInputs() error {
	assembler := newRingAssembler(b.params.Decoys, b.selection.utxos, b.params.RingSize)
	wallet := b.params.Wallet

	for _, utxo := range b.selection.utxos {
		rg, err := assembler.assemble(utxo)
		if err != nil {
			return err
		}

		destSecret, err := stealth.RecoverDestinationSecret(wallet.SpendSecret, wallet.ScanSecret, utxo.EphemeralPub)
		if err != nil {
			return err
		}
		derived, err := secp.DerivePub(destSecret)
		if err != nil {
			return err
		}
		if derived != utxo.PubKey {
			return fmt.Errorf("%w: utxo %s:%d destination key mismatch", secp.ErrMlsagInvalid, utxo.TxID, utxo.Vout)
		}
		keyImage, err := secp.ComputeKeyImage(utxo.PubKey, destSecret)
		if err != nil {
			return err
		}

		in := wire.NewAnonTxIn(1, uint32(b.params.RingSize), keyImage)
		b.tx.Inputs = append(b.tx.Inputs, in)
		b.rings = append(b.rings, rg)
		b.destSecrets = append(b.destSecrets, destSecret)
	}
	b.stage = stageInputsAssembled
	return nil
}

// outputBlindList returns the fee blind (zero) followed by every
// commitment-bearing draft's blind, in output order.
func (b *builder) outputBlindList() ([]secp.Scalar, []secp.Commitment, error) {
	blinds := make([]secp.Scalar, 0, len(b.drafts))
	commits := make([]secp.Commitment, 0, len(b.drafts))

	feeCommit, err := b.drafts[0].FeeCommitment()
	if err != nil {
		return nil, nil, err
	}
	var feeBlind secp.Scalar
	blinds = append(blinds, feeBlind)
	commits = append(commits, feeCommit)

	for _, d := range b.drafts[1:] {
		commit, ok := d.Commitment()
		if !ok {
			continue
		}
		blinds = append(blinds, d.Blind)
		commits = append(commits, commit)
	}
	return blinds, commits, nil
}

// sign produces and verifies one MLSAG per input and writes the witness
// stacks. Single-input transactions balance directly against the output
// commitments; multi-input transactions use per-input split commitments
// whose blinds sum to the output blind sum.
func (b *builder) sign() error {
	preimage := b.tx.OutputsHash()
	outBlinds, outCommits, err := b.outputBlindList()
	if err != nil {
		return err
	}

	numInputs := len(b.selection.utxos)
	if numInputs == 1 {
		if err := b.signSingle(preimage[:], outBlinds, outCommits); err != nil {
			return err
		}
	} else {
		if err := b.signMulti(preimage[:], outBlinds); err != nil {
			return err
		}
	}
	b.stage = stageSigned
	return nil
}

// signSingle drives the one-input MLSAG: two rows, the ring's pubkeys on
// row 0 and the input-minus-outputs commitment summary on row 1.
func (b *builder) signSingle(preimage []byte, outBlinds []secp.Scalar, outCommits []secp.Commitment) error {
	utxo := b.selection.utxos[0]
	rg := b.rings[0]
	nCols := b.params.RingSize
	const nRows = 2

	m := make([]byte, nCols*nRows*secp.PointSize)
	inCommits := make([]secp.Commitment, nCols)
	for col, member := range rg.members {
		copy(m[col*secp.PointSize:], member.PubKey[:])
		inCommits[col] = member.Commitment
	}

	blinds := append([]secp.Scalar{utxo.Blind}, outBlinds...)
	sk, err := secp.PrepareMlsag(m, inCommits, outCommits, blinds, len(outCommits), nCols, nRows)
	if err != nil {
		return err
	}

	secretKeys := []secp.Scalar{b.destSecrets[0], sk}
	nonce, err := secp.NewRandomScalar()
	if err != nil {
		return err
	}
	images, c0, s, err := secp.GenerateMlsag([32]byte(nonce), preimage, nCols, nRows, rg.secretIndex, secretKeys, m)
	if err != nil {
		return err
	}
	if err := secp.VerifyMlsag(preimage, nCols, nRows, m, images, c0, s); err != nil {
		return err
	}

	b.tx.Inputs[0].ScriptWitness = buildWitness(rg.indices(), c0, s, nil)
	return nil
}

// signMulti drives the split-commitment scheme: every input signs against
// a synthetic single-output commitment to its own value, and the split
// blinds are constructed to sum to the output blind sum so the whole
// transaction balances.
func (b *builder) signMulti(preimage []byte, outBlinds []secp.Scalar) error {
	numInputs := len(b.selection.utxos)
	nCols := b.params.RingSize
	const nRows = 2

	// Split blinds: random for all but the last input, which absorbs
	// sum(outputBlinds) - sum(priorSplitBlinds).
	splitBlinds := make([]secp.Scalar, numInputs)
	for i := 0; i < numInputs-1; i++ {
		blind, err := secp.NewRandomScalar()
		if err != nil {
			return err
		}
		splitBlinds[i] = blind
	}
	lastInput := append(append([]secp.Scalar{}, outBlinds...), splitBlinds[:numInputs-1]...)
	last, err := secp.PedersenBlindSum(lastInput, len(outBlinds))
	if err != nil {
		return err
	}
	splitBlinds[numInputs-1] = last

	for i, utxo := range b.selection.utxos {
		rg := b.rings[i]
		splitCommit, err := secp.PedersenCommit(utxo.Amount, splitBlinds[i])
		if err != nil {
			return err
		}

		m := make([]byte, nCols*nRows*secp.PointSize)
		inCommits := make([]secp.Commitment, nCols)
		for col, member := range rg.members {
			copy(m[col*secp.PointSize:], member.PubKey[:])
			inCommits[col] = member.Commitment
		}

		blinds := []secp.Scalar{utxo.Blind, splitBlinds[i]}
		sk, err := secp.PrepareMlsag(m, inCommits, []secp.Commitment{splitCommit}, blinds, 1, nCols, nRows)
		if err != nil {
			return fmt.Errorf("input %d: %w", i, err)
		}

		secretKeys := []secp.Scalar{b.destSecrets[i], sk}
		nonce, err := secp.NewRandomScalar()
		if err != nil {
			return err
		}
		images, c0, s, err := secp.GenerateMlsag([32]byte(nonce), preimage, nCols, nRows, rg.secretIndex, secretKeys, m)
		if err != nil {
			return fmt.Errorf("input %d: %w", i, err)
		}
		if err := secp.VerifyMlsag(preimage, nCols, nRows, m, images, c0, s); err != nil {
			return fmt.Errorf("input %d: %w", i, err)
		}

		// The input keeps its precomputed key image; the generator's
		// reported images are not written back.
		b.tx.Inputs[i].ScriptWitness = buildWitness(rg.indices(), c0, s, splitCommit[:])
	}
	return nil
}

// buildWitness encodes the two witness stack items: the LEB128 ring index
// vector and the MLSAG blob (c0 || s [|| splitCommit]).
func buildWitness(indices []uint64, c0 [32]byte, s []secp.Scalar, splitCommit []byte) [][]byte {
	var idxBlob []byte
	for _, idx := range indices {
		idxBlob = wire.AppendUvarint128(idxBlob, idx)
	}

	blob := make([]byte, 0, 32+len(s)*32+len(splitCommit))
	blob = append(blob, c0[:]...)
	for _, sv := range s {
		blob = append(blob, sv[:]...)
	}
	blob = append(blob, splitCommit...)

	return [][]byte{idxBlob, blob}
}

func (b *builder) serialize() (*BuiltTx, error) {
	raw := b.tx.Serialize()
	txid := b.tx.TxID()

	images := make([]secp.KeyImage, 0, len(b.tx.Inputs))
	for _, in := range b.tx.Inputs {
		img, err := in.KeyImage()
		if err != nil {
			return nil, err
		}
		images = append(images, img)
	}
	b.stage = stageSerialized

	log.Printf("[TxBuilder] Built tx %s: %d inputs, %d outputs, fee %d, %d bytes",
		txid[:16], len(b.tx.Inputs), len(b.tx.Outputs), b.selection.fee, len(raw))

	return &BuiltTx{
		Tx:             b.tx,
		Hex:            hex.EncodeToString(raw),
		TxID:           txid,
		Fee:            b.selection.fee,
		Change:         b.selection.change,
		SpentKeyImages: images,
	}, nil
}
