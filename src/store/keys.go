package store

import (
	"fmt"

	"github.com/mosaicnetworks/ledgerd/src/common"
	"github.com/mosaicnetworks/ledgerd/src/ledger"
)

const (
	blockPrefix        = "block"
	blockHeightPrefix  = "bheight"
	headerPrefix       = "header"
	headerHeightPrefix = "hheight"
	txPrefix           = "tx"
	utxoPrefix         = "utxo"
	blockTipKey        = "meta_blocktip"
	headerTipKey       = "meta_headertip"
)

func blockKey(hash common.Hash) []byte {
	return []byte(fmt.Sprintf("%s_%s", blockPrefix, hash))
}

func blockHeightKey(height uint32) []byte {
	return []byte(fmt.Sprintf("%s_%010d", blockHeightPrefix, height))
}

func headerKey(hash common.Hash) []byte {
	return []byte(fmt.Sprintf("%s_%s", headerPrefix, hash))
}

func headerHeightKey(height uint32) []byte {
	return []byte(fmt.Sprintf("%s_%010d", headerHeightPrefix, height))
}

func txKey(hash common.Hash) []byte {
	return []byte(fmt.Sprintf("%s_%s", txPrefix, hash))
}

func utxoKey(op ledger.Outpoint) []byte {
	return []byte(fmt.Sprintf("%s_%s_%05d", utxoPrefix, op.Hash, op.Index))
}

func utxoKeyPrefix() []byte {
	return []byte(utxoPrefix + "_")
}

// parseUtxoKey is the inverse of utxoKey.
func parseUtxoKey(key []byte) (ledger.Outpoint, error) {
	var op ledger.Outpoint
	s := string(key)
	prefix := utxoPrefix + "_"
	if len(s) != len(prefix)+2*common.HashLength+1+5 {
		return op, fmt.Errorf("malformed utxo key %q", s)
	}
	h, err := common.HexToHash(s[len(prefix) : len(prefix)+2*common.HashLength])
	if err != nil {
		return op, err
	}
	var idx uint16
	if _, err := fmt.Sscanf(s[len(prefix)+2*common.HashLength+1:], "%05d", &idx); err != nil {
		return op, err
	}
	op.Hash = h
	op.Index = idx
	return op, nil
}
