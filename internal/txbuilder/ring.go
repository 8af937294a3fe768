package txbuilder

import (
	"encoding/hex"
	"fmt"

	"github.com/rawblock/veil-light-engine/internal/secp"
	"github.com/rawblock/veil-light-engine/internal/veild"
	"github.com/rawblock/veil-light-engine/pkg/models"
)

// Decoy is one usable ring member from the node's anon output set.
type Decoy struct {
	PubKey     secp.Point
	Commitment secp.Commitment
	Index      uint64
}

// DecoysFromRPC converts getanonoutputs results into typed decoys,
// dropping entries with malformed keys or missing indices.
func DecoysFromRPC(outputs []veild.AnonOutput) []Decoy {
	decoys := make([]Decoy, 0, len(outputs))
	for _, o := range outputs {
		idx, ok := o.RingIndex()
		if !ok {
			continue
		}
		pubRaw, err := hex.DecodeString(o.Pubkey)
		if err != nil {
			continue
		}
		pub, err := secp.ParsePoint(pubRaw)
		if err != nil {
			continue
		}
		commitRaw, err := hex.DecodeString(o.Commitment)
		if err != nil {
			continue
		}
		commit, err := secp.ParseCommitment(commitRaw)
		if err != nil {
			continue
		}
		decoys = append(decoys, Decoy{PubKey: pub, Commitment: commit, Index: idx})
	}
	return decoys
}

// ring is one input's assembled anonymity set: column-ordered members with
// the real UTXO at secretIndex. The column order is final once built; the
// witness index vector mirrors it exactly.
type ring struct {
	members     []Decoy
	secretIndex int
}

// ringAssembler tracks cross-input decoy exclusions while building one
// ring per real input.
type ringAssembler struct {
	pool      []Decoy
	realPubs  map[secp.Point]struct{}
	usedIdxs  map[uint64]struct{}
	ringSize  int
}

func newRingAssembler(pool []Decoy, spending []*models.UTXO, ringSize int) *ringAssembler {
	realPubs := make(map[secp.Point]struct{}, len(spending))
	for _, u := range spending {
		realPubs[u.PubKey] = struct{}{}
	}
	return &ringAssembler{
		pool:     pool,
		realPubs: realPubs,
		usedIdxs: make(map[uint64]struct{}),
		ringSize: ringSize,
	}
}

// assemble builds the ring for one real UTXO: a fresh random secret
// position, ringSize-1 decoys excluding any real input pubkey and any decoy
// already used by an earlier input of this transaction.
func (a *ringAssembler) assemble(real *models.UTXO) (*ring, error) {
	candidates := make([]Decoy, 0, len(a.pool))
	for _, d := range a.pool {
		if _, taken := a.usedIdxs[d.Index]; taken {
			continue
		}
		if _, isReal := a.realPubs[d.PubKey]; isReal {
			continue
		}
		if d.Index == real.RingCTIndex {
			continue
		}
		candidates = append(candidates, d)
	}
	need := a.ringSize - 1
	if len(candidates) < need {
		return nil, fmt.Errorf("%w: need %d decoys, pool offers %d", ErrDecoyShortage, need, len(candidates))
	}

	cryptoShuffle(candidates)
	chosen := candidates[:need]
	for _, d := range chosen {
		a.usedIdxs[d.Index] = struct{}{}
	}

	// Place the real member at an independent random position. The decoys
	// keep their shuffled order; reordering after this point would desync
	// the witness index vector from the signed columns.
	secretIndex := cryptoRandIntn(a.ringSize)
	members := make([]Decoy, 0, a.ringSize)
	members = append(members, chosen[:secretIndex]...)
	members = append(members, Decoy{
		PubKey:     real.PubKey,
		Commitment: real.Commitment,
		Index:      real.RingCTIndex,
	})
	members = append(members, chosen[secretIndex:]...)

	return &ring{members: members, secretIndex: secretIndex}, nil
}

// indices returns the blockchain index of every column in witness order.
func (r *ring) indices() []uint64 {
	out := make([]uint64, len(r.members))
	for i, m := range r.members {
		out[i] = m.Index
	}
	return out
}
