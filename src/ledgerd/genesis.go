package ledgerd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/mosaicnetworks/ledgerd/src/common"
	"github.com/mosaicnetworks/ledgerd/src/ledger"
)

// GenesisAlloc credits Value to the public key Owner, in 0X hex form, in the
// genesis block.
type GenesisAlloc struct {
	Owner string `json:"owner"`
	Value uint64 `json:"value"`
}

// LoadGenesis builds the genesis block from the allocation file at path. A
// missing file yields a genesis block without outputs. Nodes of one network
// must use the same file.
func LoadGenesis(path string) (*ledger.Block, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return ledger.NewGenesisBlock(nil), nil
	}
	if err != nil {
		return nil, err
	}

	var allocs []GenesisAlloc
	if err := json.Unmarshal(data, &allocs); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	outputs := make([]ledger.Output, 0, len(allocs))
	for i, a := range allocs {
		owner, err := common.DecodeFromString(a.Owner)
		if err != nil {
			return nil, fmt.Errorf("genesis allocation %d: %w", i, err)
		}
		outputs = append(outputs, ledger.Output{Value: a.Value, Owner: owner})
	}

	return ledger.NewGenesisBlock(outputs), nil
}

// WriteGenesis saves allocs to path in the format read by LoadGenesis.
func WriteGenesis(path string, allocs []GenesisAlloc) error {
	data, err := json.MarshalIndent(allocs, "", "\t")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}
