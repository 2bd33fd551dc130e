package ledger

import (
	"crypto/ecdsa"

	"github.com/mosaicnetworks/ledgerd/src/common"
	"github.com/mosaicnetworks/ledgerd/src/crypto/keys"
)

// Witness proves that the owner of PubKey authorised an item.
type Witness struct {
	PubKey    []byte
	Signature []byte
}

// NewWitness signs hash with priv.
func NewWitness(priv *ecdsa.PrivateKey, hash common.Hash) (Witness, error) {
	sig, err := keys.Sign(priv, hash[:])
	if err != nil {
		return Witness{}, err
	}
	return Witness{
		PubKey:    keys.FromPublicKey(&priv.PublicKey),
		Signature: sig,
	}, nil
}

// Verify checks the signature against hash.
func (w Witness) Verify(hash common.Hash) bool {
	return keys.Verify(w.PubKey, hash[:], w.Signature)
}
