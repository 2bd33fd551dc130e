package keys

import (
	"crypto/ecdsa"

	"github.com/btcsuite/btcd/btcec"
	"github.com/mosaicnetworks/ledgerd/src/common"
)

// PublicKeyLength is the size of a compressed secp256k1 public key.
const PublicKeyLength = 33

// FromPublicKey serializes a public key in its compressed form.
func FromPublicKey(pub *ecdsa.PublicKey) []byte {
	if pub == nil || pub.X == nil || pub.Y == nil {
		return nil
	}
	return (*btcec.PublicKey)(pub).SerializeCompressed()
}

// ToPublicKey parses a compressed or uncompressed public key.
func ToPublicKey(pub []byte) (*ecdsa.PublicKey, error) {
	key, err := btcec.ParsePubKey(pub, btcec.S256())
	if err != nil {
		return nil, err
	}
	return key.ToECDSA(), nil
}

// PublicKeyHex returns the hexadecimal reprentation of the compressed form of
// the public key
func PublicKeyHex(pub *ecdsa.PublicKey) string {
	return common.EncodeToString(FromPublicKey(pub))
}
