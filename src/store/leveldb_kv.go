package store

import (
	"github.com/mosaicnetworks/ledgerd/src/common"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// LevelDBKV is an alternative persistent backend.
type LevelDBKV struct {
	db   *leveldb.DB
	path string
}

// NewLevelDBKV opens or creates a leveldb database in path.
func NewLevelDBKV(path string) (*LevelDBKV, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, err
	}
	return &LevelDBKV{db: db, path: path}, nil
}

// Get implements KV.
func (s *LevelDBKV) Get(key []byte) ([]byte, error) {
	v, err := s.db.Get(key, nil)
	if err == leveldb.ErrNotFound {
		return nil, common.NewStoreErr("LevelDBKV", common.KeyNotFound, string(key))
	}
	return v, err
}

// Iterate implements KV.
func (s *LevelDBKV) Iterate(prefix []byte, fn func(key, value []byte) error) error {
	iter := s.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer iter.Release()

	for iter.Next() {
		k := append([]byte(nil), iter.Key()...)
		v := append([]byte(nil), iter.Value()...)
		if err := fn(k, v); err != nil {
			return err
		}
	}
	return iter.Error()
}

// Write implements KV. The batch maps onto a leveldb.Batch, which is
// applied atomically.
func (s *LevelDBKV) Write(batch *Batch) error {
	b := new(leveldb.Batch)
	for _, op := range batch.ops {
		if op.delete {
			b.Delete(op.key)
		} else {
			b.Put(op.key, op.value)
		}
	}
	return s.db.Write(b, nil)
}

// Close implements KV.
func (s *LevelDBKV) Close() error {
	return s.db.Close()
}
