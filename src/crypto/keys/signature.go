package keys

import (
	"crypto/ecdsa"

	"github.com/btcsuite/btcd/btcec"
)

// Sign produces a deterministic (RFC6979) DER encoded signature of hash.
func Sign(priv *ecdsa.PrivateKey, hash []byte) ([]byte, error) {
	sig, err := (*btcec.PrivateKey)(priv).Sign(hash)
	if err != nil {
		return nil, err
	}
	return sig.Serialize(), nil
}

// Verify checks that sig is a DER signature of hash by the owner of the
// serialized public key pub. Malformed keys or signatures do not verify.
func Verify(pub []byte, hash []byte, sig []byte) bool {
	pubKey, err := btcec.ParsePubKey(pub, btcec.S256())
	if err != nil {
		return false
	}
	signature, err := btcec.ParseDERSignature(sig, btcec.S256())
	if err != nil {
		return false
	}
	return signature.Verify(hash, pubKey)
}
