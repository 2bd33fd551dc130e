package blockchain

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/mosaicnetworks/ledgerd/src/common"
	"github.com/mosaicnetworks/ledgerd/src/ledger"
	"github.com/mosaicnetworks/ledgerd/src/store"
)

// ErrMissingInput is returned by Verifier implementations when an input does
// not reference an unspent output of the snapshot.
var ErrMissingInput = errors.New("input not found in unspent set")

// Verifier executes the authorisation logic of transactions and consensus
// payloads against a snapshot.
type Verifier interface {
	Verify(tx *ledger.Transaction, snap *store.Snapshot) error
	VerifyConsensus(p *ledger.ConsensusPayload, snap *store.Snapshot) error
}

// WitnessVerifier checks that every input is signed by the owner of the
// output it spends, and that consensus payloads are signed by a validator.
type WitnessVerifier struct {
	// Validators is the list of public keys allowed to sign consensus
	// payloads, indexed by ValidatorIndex. Any signer is accepted when empty.
	Validators [][]byte
}

// NewWitnessVerifier ...
func NewWitnessVerifier(validators [][]byte) *WitnessVerifier {
	return &WitnessVerifier{Validators: validators}
}

// Verify implements Verifier.
func (v *WitnessVerifier) Verify(tx *ledger.Transaction, snap *store.Snapshot) error {
	if len(tx.Witnesses) != len(tx.Inputs) {
		return fmt.Errorf("%d witnesses for %d inputs", len(tx.Witnesses), len(tx.Inputs))
	}

	hash := tx.Hash()

	for i, in := range tx.Inputs {
		out, err := snap.GetUnspent(in.Outpoint())
		if err != nil {
			if common.IsStore(err, common.KeyNotFound) {
				return fmt.Errorf("input %d (%s): %w", i, in.Outpoint(), ErrMissingInput)
			}
			return err
		}

		w := tx.Witnesses[i]
		if !bytes.Equal(w.PubKey, out.Owner) {
			return fmt.Errorf("input %d witness is not the output owner", i)
		}
		if !w.Verify(hash) {
			return fmt.Errorf("input %d signature does not verify", i)
		}
	}

	return nil
}

// VerifyConsensus implements Verifier.
func (v *WitnessVerifier) VerifyConsensus(p *ledger.ConsensusPayload, snap *store.Snapshot) error {
	if len(v.Validators) > 0 {
		if int(p.ValidatorIndex) >= len(v.Validators) {
			return fmt.Errorf("validator index %d out of range", p.ValidatorIndex)
		}
		if !bytes.Equal(v.Validators[p.ValidatorIndex], p.Witness.PubKey) {
			return fmt.Errorf("payload not signed by validator %d", p.ValidatorIndex)
		}
	}
	if !p.Witness.Verify(p.Hash()) {
		return errors.New("consensus payload signature does not verify")
	}
	return nil
}
