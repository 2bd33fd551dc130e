package ledger

import (
	"github.com/mosaicnetworks/ledgerd/src/common"
	"github.com/mosaicnetworks/ledgerd/src/crypto"
)

// MerkleRoot computes the root of a binary Merkle tree over hashes. Odd levels
// duplicate their last element. The root of an empty list is the zero hash.
func MerkleRoot(hashes []common.Hash) common.Hash {
	if len(hashes) == 0 {
		return common.ZeroHash
	}

	level := make([]common.Hash, len(hashes))
	copy(level, hashes)

	for len(level) > 1 {
		if len(level)%2 == 1 {
			level = append(level, level[len(level)-1])
		}
		next := make([]common.Hash, 0, len(level)/2)
		for i := 0; i < len(level); i += 2 {
			next = append(next, common.BytesToHash(
				crypto.SimpleHashFromTwoHashes(level[i][:], level[i+1][:])))
		}
		level = next
	}

	return level[0]
}
