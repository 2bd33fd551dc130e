package store

import (
	"github.com/dgraph-io/badger"
	"github.com/mosaicnetworks/ledgerd/src/common"
	"github.com/sirupsen/logrus"
)

// BadgerKV is the default persistent backend.
type BadgerKV struct {
	db   *badger.DB
	path string
}

// NewBadgerKV opens or creates a badger database in path.
func NewBadgerKV(path string, logger *logrus.Entry) (*BadgerKV, error) {
	opts := badger.DefaultOptions(path)
	opts.SyncWrites = false
	if logger != nil {
		opts.Logger = logger.WithField("backend", "badger")
	}

	handle, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}

	return &BadgerKV{
		db:   handle,
		path: path,
	}, nil
}

// Get implements KV.
func (s *BadgerKV) Get(key []byte) ([]byte, error) {
	var res []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		res, err = item.ValueCopy(nil)
		return err
	})
	return res, mapError(err, "BadgerKV", string(key))
}

// Iterate implements KV.
func (s *BadgerKV) Iterate(prefix []byte, fn func(key, value []byte) error) error {
	return s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			v, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if err := fn(item.KeyCopy(nil), v); err != nil {
				return err
			}
		}
		return nil
	})
}

// Write implements KV. The whole batch is one badger transaction.
func (s *BadgerKV) Write(batch *Batch) error {
	return s.db.Update(func(txn *badger.Txn) error {
		for _, op := range batch.ops {
			var err error
			if op.delete {
				err = txn.Delete(op.key)
			} else {
				err = txn.Set(op.key, op.value)
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// Close implements KV.
func (s *BadgerKV) Close() error {
	return s.db.Close()
}

// Path ...
func (s *BadgerKV) Path() string {
	return s.path
}

func isDBKeyNotFound(err error) bool {
	return err == badger.ErrKeyNotFound
}

func mapError(err error, name, key string) error {
	if err != nil {
		if isDBKeyNotFound(err) {
			return common.NewStoreErr(name, common.KeyNotFound, key)
		}
	}
	return err
}
