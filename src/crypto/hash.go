package crypto

import (
	"crypto/sha256"
)

// SHA256 returns the SHA256 hash of the data.
func SHA256(data []byte) []byte {
	hasher := sha256.New()
	hasher.Write(data)
	hash := hasher.Sum(nil)
	return hash
}

// DoubleSHA256 returns SHA256(SHA256(data)). Every content identifier in the
// ledger and the wire checksum are derived from it.
func DoubleSHA256(data []byte) []byte {
	first := sha256.Sum256(data)
	second := sha256.Sum256(first[:])
	return second[:]
}

// Checksum returns the first 4 bytes of DoubleSHA256(data).
func Checksum(data []byte) [4]byte {
	var c [4]byte
	copy(c[:], DoubleSHA256(data))
	return c
}

// SimpleHashFromTwoHashes returns the double SHA256 hash of the concatenation
// of left and right data. Used to build Merkle trees.
func SimpleHashFromTwoHashes(left []byte, right []byte) []byte {
	var hasher = sha256.New()
	hasher.Write(left)
	hasher.Write(right)
	first := hasher.Sum(nil)
	second := sha256.Sum256(first)
	return second[:]
}
