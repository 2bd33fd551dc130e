package store

import (
	"bytes"
	"errors"
	"sync"

	"github.com/mosaicnetworks/ledgerd/src/common"
	"github.com/mosaicnetworks/ledgerd/src/ledger"
	"github.com/sirupsen/logrus"
)

// ErrStaleSnapshot is returned by Commit when another snapshot was committed
// after this one was taken.
var ErrStaleSnapshot = errors.New("snapshot is stale")

// recentHeaders is the number of committed headers kept in memory. Header
// sync and locators read the top of the header chain over and over.
const recentHeaders = 2000

// retainedVersions is how many commits a snapshot may fall behind and still
// be read.
const retainedVersions = 256

// undoEntry holds the values a commit overwrote, keyed by key. A nil value
// means the key was absent.
type undoEntry struct {
	version uint64
	prior   map[string][]byte
}

// Store is the ledger persistence layer. One writer takes snapshots and
// commits them in turn; any number of readers query the last committed state.
type Store struct {
	kv     KV
	logger *logrus.Entry

	l         sync.RWMutex
	version   uint64
	blockTip  ChainTip
	headerTip ChainTip

	recent *common.RollingIndex[*ledger.Header]

	// oldest first
	undo []undoEntry
}

// NewStore loads the chain tips from kv.
func NewStore(kv KV, logger *logrus.Entry) (*Store, error) {
	s := &Store{
		kv:     kv,
		logger: logger,
		recent: common.NewRollingIndex[*ledger.Header]("Header", recentHeaders),
	}

	var err error
	if s.blockTip, err = loadTip(kv, blockTipKey); err != nil {
		return nil, err
	}
	if s.headerTip, err = loadTip(kv, headerTipKey); err != nil {
		return nil, err
	}

	logger.WithFields(logrus.Fields{
		"height":        s.blockTip.Height,
		"header_height": s.headerTip.Height,
		"empty":         s.blockTip.Empty,
	}).Debug("Loaded store")

	return s, nil
}

func loadTip(kv KV, key string) (ChainTip, error) {
	raw, err := kv.Get([]byte(key))
	if err != nil {
		if common.IsStore(err, common.KeyNotFound) {
			return ChainTip{Empty: true}, nil
		}
		return ChainTip{}, err
	}
	var tip ChainTip
	if err := ledger.Decode(raw, &tip); err != nil {
		return ChainTip{}, common.NewStoreErr("ChainTip", common.Corrupted, key)
	}
	return tip, nil
}

// GetSnapshot returns a fresh view of the last committed state.
func (s *Store) GetSnapshot() *Snapshot {
	s.l.RLock()
	defer s.l.RUnlock()
	return newSnapshot(s, s.version, s.blockTip, s.headerTip)
}

// readAt returns the value key had once version was committed.
func (s *Store) readAt(key []byte, version uint64) ([]byte, error) {
	s.l.RLock()
	defer s.l.RUnlock()

	if version < s.version {
		if len(s.undo) == 0 || version+1 < s.undo[0].version {
			return nil, common.NewStoreErr("Snapshot", common.TooLate, string(key))
		}
		for _, u := range s.undo {
			if u.version <= version {
				continue
			}
			if v, ok := u.prior[string(key)]; ok {
				if v == nil {
					return nil, common.NewStoreErr("Snapshot", common.KeyNotFound, string(key))
				}
				return v, nil
			}
		}
	}

	return s.kv.Get(key)
}

// priorValues reads the current value of every key batch touches.
func (s *Store) priorValues(batch *Batch) (map[string][]byte, error) {
	prior := make(map[string][]byte, len(batch.ops))
	for _, op := range batch.ops {
		v, err := s.kv.Get(op.key)
		switch {
		case err == nil:
			prior[string(op.key)] = v
		case common.IsStore(err, common.KeyNotFound):
			prior[string(op.key)] = nil
		default:
			return nil, err
		}
	}
	return prior, nil
}

// Commit writes every change of snap atomically.
func (s *Store) Commit(snap *Snapshot) error {
	s.l.Lock()
	defer s.l.Unlock()

	if snap.version != s.version {
		return ErrStaleSnapshot
	}

	if !snap.Dirty() {
		return nil
	}

	batch := snap.batch()
	prior, err := s.priorValues(batch)
	if err != nil {
		return err
	}

	if err := s.kv.Write(batch); err != nil {
		return err
	}

	s.version++
	s.undo = append(s.undo, undoEntry{version: s.version, prior: prior})
	if len(s.undo) > retainedVersions {
		s.undo[0] = undoEntry{}
		s.undo = s.undo[1:]
	}
	s.blockTip = snap.blockTip
	s.headerTip = snap.headerTip

	for _, h := range snap.headers {
		if err := s.recent.Set(h, int(h.Index)); err != nil {
			// the window only grows at its top
			s.recent = common.NewRollingIndex[*ledger.Header]("Header", recentHeaders)
			s.recent.Set(h, int(h.Index))
		}
	}

	return nil
}

// InitGenesis stores genesis if the store is empty, and otherwise checks that
// the stored genesis matches.
func (s *Store) InitGenesis(genesis *ledger.Block) error {
	snap := s.GetSnapshot()
	if !snap.Empty() {
		stored, err := snap.GetBlockHash(0)
		if err != nil {
			return err
		}
		if stored != genesis.Hash() {
			return errors.New("stored genesis block does not match configuration")
		}
		return nil
	}

	if err := snap.AddBlock(genesis, nil); err != nil {
		return err
	}
	return s.Commit(snap)
}

// Height returns the index of the last committed block.
func (s *Store) Height() uint32 {
	s.l.RLock()
	defer s.l.RUnlock()
	return s.blockTip.Height
}

// CurrentHash returns the hash of the last committed block.
func (s *Store) CurrentHash() common.Hash {
	s.l.RLock()
	defer s.l.RUnlock()
	return s.blockTip.Hash
}

// HeaderHeight returns the index of the last committed header.
func (s *Store) HeaderHeight() uint32 {
	s.l.RLock()
	defer s.l.RUnlock()
	return s.headerTip.Height
}

// GetBlock ...
func (s *Store) GetBlock(hash common.Hash) (*ledger.Block, error) {
	return s.GetSnapshot().GetBlock(hash)
}

// GetBlockByHeight ...
func (s *Store) GetBlockByHeight(height uint32) (*ledger.Block, error) {
	snap := s.GetSnapshot()
	hash, err := snap.GetBlockHash(height)
	if err != nil {
		return nil, err
	}
	return snap.GetBlock(hash)
}

// GetHeader returns the header at height in the header chain.
func (s *Store) GetHeader(height uint32) (*ledger.Header, error) {
	s.l.RLock()
	h, err := s.recent.GetItem(int(height))
	s.l.RUnlock()
	if err == nil {
		c := *h
		return &c, nil
	}
	return s.GetSnapshot().GetHeaderByHeight(height)
}

// GetTransaction ...
func (s *Store) GetTransaction(hash common.Hash) (*ledger.Transaction, uint32, error) {
	return s.GetSnapshot().GetTransaction(hash)
}

// Unspent is an unspent output together with where it lives.
type Unspent struct {
	Outpoint ledger.Outpoint
	Output   ledger.Output
}

// UnspentOutputs lists the unspent outputs owned by owner. It scans the
// whole unspent set.
func (s *Store) UnspentOutputs(owner []byte) ([]Unspent, error) {
	res := []Unspent{}
	err := s.kv.Iterate(utxoKeyPrefix(), func(key, value []byte) error {
		var out ledger.Output
		if err := ledger.Decode(value, &out); err != nil {
			return common.NewStoreErr("Utxo", common.Corrupted, string(key))
		}
		if !bytes.Equal(out.Owner, owner) {
			return nil
		}
		op, err := parseUtxoKey(key)
		if err != nil {
			return err
		}
		res = append(res, Unspent{Outpoint: op, Output: out})
		return nil
	})
	return res, err
}

// Close ...
func (s *Store) Close() error {
	return s.kv.Close()
}
