package common

import (
	"bytes"
	"encoding/hex"
	"fmt"
)

// HashLength is the size in bytes of every content identifier in the ledger.
const HashLength = 32

// Hash is a 256-bit content identifier. Transactions, blocks, headers and
// consensus payloads are all addressed by their Hash.
type Hash [HashLength]byte

// ZeroHash is the hash of nothing. It is the previous-hash of the genesis
// block.
var ZeroHash Hash

// BytesToHash copies b into a Hash. If b is longer than HashLength only the
// first HashLength bytes are used.
func BytesToHash(b []byte) Hash {
	var h Hash
	copy(h[:], b)
	return h
}

// HexToHash parses the lowercase or uppercase hex form of a Hash, with or
// without the 0x prefix.
func HexToHash(s string) (Hash, error) {
	if len(s) >= 2 && (s[:2] == "0x" || s[:2] == "0X") {
		s = s[2:]
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return ZeroHash, err
	}
	if len(b) != HashLength {
		return ZeroHash, fmt.Errorf("invalid hash length %d, want %d", len(b), HashLength)
	}
	return BytesToHash(b), nil
}

// Bytes returns a copy of the underlying bytes.
func (h Hash) Bytes() []byte {
	b := make([]byte, HashLength)
	copy(b, h[:])
	return b
}

// IsZero ...
func (h Hash) IsZero() bool {
	return h == ZeroHash
}

// Less orders hashes bytewise.
func (h Hash) Less(o Hash) bool {
	return bytes.Compare(h[:], o[:]) < 0
}

// String returns the lowercase hex form of the hash.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// Short returns the first 8 hex characters. Used in logs.
func (h Hash) Short() string {
	return hex.EncodeToString(h[:4])
}

// MarshalText implements encoding.TextMarshaler so hashes render as hex in
// JSON documents.
func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (h *Hash) UnmarshalText(text []byte) error {
	res, err := HexToHash(string(text))
	if err != nil {
		return err
	}
	*h = res
	return nil
}
