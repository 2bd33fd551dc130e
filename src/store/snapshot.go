package store

import (
	"fmt"

	"github.com/golang/snappy"
	"github.com/mosaicnetworks/ledgerd/src/common"
	"github.com/mosaicnetworks/ledgerd/src/ledger"
)

// ChainTip is the head of the block chain or of the header chain.
type ChainTip struct {
	Hash   common.Hash
	Height uint32
	// Empty is set before the genesis block is stored.
	Empty bool
}

// TxLocation points at a transaction inside a stored block.
type TxLocation struct {
	Height   uint32
	Position uint16
}

// Snapshot is a point-in-time view of the ledger with a private write
// overlay. Reads see the overlay first, then the state as of the commit the
// Snapshot was taken at, even if later snapshots have been committed since.
// Nothing reaches the backend until the Snapshot is handed to Store.Commit;
// dropping it discards every change.
//
// A Snapshot is not safe for concurrent use.
type Snapshot struct {
	store   *Store
	version uint64

	blockTip  ChainTip
	headerTip ChainTip

	writes  map[string][]byte
	deletes map[string]struct{}
	order   []string

	// headers added, in order
	headers []*ledger.Header
}

func newSnapshot(store *Store, version uint64, blockTip, headerTip ChainTip) *Snapshot {
	return &Snapshot{
		store:     store,
		version:   version,
		blockTip:  blockTip,
		headerTip: headerTip,
		writes:    make(map[string][]byte),
		deletes:   make(map[string]struct{}),
	}
}

// Height is the index of the last block, 0 before genesis.
func (s *Snapshot) Height() uint32 {
	return s.blockTip.Height
}

// CurrentHash is the hash of the last block.
func (s *Snapshot) CurrentHash() common.Hash {
	return s.blockTip.Hash
}

// Empty reports whether the genesis block has not been added yet.
func (s *Snapshot) Empty() bool {
	return s.blockTip.Empty
}

// BlockTip ...
func (s *Snapshot) BlockTip() ChainTip {
	return s.blockTip
}

// HeaderTip is the head of the header chain. It is never behind BlockTip.
func (s *Snapshot) HeaderTip() ChainTip {
	return s.headerTip
}

// Dirty reports whether the snapshot holds uncommitted changes.
func (s *Snapshot) Dirty() bool {
	return len(s.order) > 0
}

func (s *Snapshot) get(key []byte) ([]byte, error) {
	k := string(key)
	if _, ok := s.deletes[k]; ok {
		return nil, common.NewStoreErr("Snapshot", common.KeyNotFound, k)
	}
	if v, ok := s.writes[k]; ok {
		return v, nil
	}
	return s.store.readAt(key, s.version)
}

func (s *Snapshot) put(key, value []byte) {
	k := string(key)
	delete(s.deletes, k)
	s.writes[k] = value
	s.order = append(s.order, k)
}

func (s *Snapshot) del(key []byte) {
	k := string(key)
	delete(s.writes, k)
	s.deletes[k] = struct{}{}
	s.order = append(s.order, k)
}

func (s *Snapshot) has(key []byte) (bool, error) {
	_, err := s.get(key)
	if err == nil {
		return true, nil
	}
	if common.IsStore(err, common.KeyNotFound) {
		return false, nil
	}
	return false, err
}

// batch turns the overlay into a Batch, replaying operations in order and
// keeping only the last one per key.
func (s *Snapshot) batch() *Batch {
	b := NewBatch()
	seen := make(map[string]struct{}, len(s.order))
	for i := len(s.order) - 1; i >= 0; i-- {
		k := s.order[i]
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		if _, ok := s.deletes[k]; ok {
			b.Delete([]byte(k))
		} else {
			b.Put([]byte(k), s.writes[k])
		}
	}
	return b
}

//==============================================================================
// Reads

// GetUnspent returns the unspent output at op.
func (s *Snapshot) GetUnspent(op ledger.Outpoint) (*ledger.Output, error) {
	raw, err := s.get(utxoKey(op))
	if err != nil {
		return nil, err
	}
	out := new(ledger.Output)
	if err := ledger.Decode(raw, out); err != nil {
		return nil, common.NewStoreErr("Utxo", common.Corrupted, op.String())
	}
	return out, nil
}

// GetBlock ...
func (s *Snapshot) GetBlock(hash common.Hash) (*ledger.Block, error) {
	raw, err := s.get(blockKey(hash))
	if err != nil {
		return nil, err
	}
	return decodeBlock(raw, hash)
}

// ContainsBlock ...
func (s *Snapshot) ContainsBlock(hash common.Hash) (bool, error) {
	return s.has(blockKey(hash))
}

// GetBlockHash returns the hash of the block at height.
func (s *Snapshot) GetBlockHash(height uint32) (common.Hash, error) {
	raw, err := s.get(blockHeightKey(height))
	if err != nil {
		return common.ZeroHash, err
	}
	return common.BytesToHash(raw), nil
}

// GetHeader ...
func (s *Snapshot) GetHeader(hash common.Hash) (*ledger.Header, error) {
	raw, err := s.get(headerKey(hash))
	if err != nil {
		return nil, err
	}
	h := new(ledger.Header)
	if err := h.Unmarshal(raw); err != nil {
		return nil, common.NewStoreErr("Header", common.Corrupted, hash.String())
	}
	return h, nil
}

// GetHeaderHash returns the hash of the header chain at height.
func (s *Snapshot) GetHeaderHash(height uint32) (common.Hash, error) {
	raw, err := s.get(headerHeightKey(height))
	if err != nil {
		return common.ZeroHash, err
	}
	return common.BytesToHash(raw), nil
}

// GetHeaderByHeight ...
func (s *Snapshot) GetHeaderByHeight(height uint32) (*ledger.Header, error) {
	hash, err := s.GetHeaderHash(height)
	if err != nil {
		return nil, err
	}
	return s.GetHeader(hash)
}

// ContainsHeader ...
func (s *Snapshot) ContainsHeader(hash common.Hash) (bool, error) {
	return s.has(headerKey(hash))
}

// GetTxLocation ...
func (s *Snapshot) GetTxLocation(hash common.Hash) (*TxLocation, error) {
	raw, err := s.get(txKey(hash))
	if err != nil {
		return nil, err
	}
	loc := new(TxLocation)
	if err := ledger.Decode(raw, loc); err != nil {
		return nil, common.NewStoreErr("TxLocation", common.Corrupted, hash.String())
	}
	return loc, nil
}

// ContainsTransaction reports whether hash is in a committed block.
func (s *Snapshot) ContainsTransaction(hash common.Hash) (bool, error) {
	return s.has(txKey(hash))
}

// GetTransaction returns a confirmed transaction and the height of its block.
func (s *Snapshot) GetTransaction(hash common.Hash) (*ledger.Transaction, uint32, error) {
	loc, err := s.GetTxLocation(hash)
	if err != nil {
		return nil, 0, err
	}
	bh, err := s.GetBlockHash(loc.Height)
	if err != nil {
		return nil, 0, err
	}
	block, err := s.GetBlock(bh)
	if err != nil {
		return nil, 0, err
	}
	if int(loc.Position) >= len(block.Transactions) {
		return nil, 0, common.NewStoreErr("Transaction", common.Corrupted, hash.String())
	}
	return block.Transactions[loc.Position], loc.Height, nil
}

//==============================================================================
// Writes

// AddHeader extends the header chain by one.
func (s *Snapshot) AddHeader(h *ledger.Header) error {
	hash := h.Hash()

	if s.headerTip.Empty {
		if h.Index != 0 || !h.PrevHash.IsZero() {
			return fmt.Errorf("first header must be genesis, got index %d", h.Index)
		}
	} else if h.Index != s.headerTip.Height+1 || h.PrevHash != s.headerTip.Hash {
		return fmt.Errorf("header %d (%s) does not extend header tip %d (%s)",
			h.Index, hash.Short(), s.headerTip.Height, s.headerTip.Hash.Short())
	}

	raw, err := h.Marshal()
	if err != nil {
		return err
	}
	s.put(headerKey(hash), raw)
	s.put(headerHeightKey(h.Index), hash.Bytes())

	c := *h
	s.headers = append(s.headers, &c)

	s.headerTip = ChainTip{Hash: hash, Height: h.Index}
	return s.putTip(headerTipKey, s.headerTip)
}

// AddBlock applies b on top of the current block tip: spent outputs are
// removed, new outputs are created and the block, header and transaction
// indexes are updated. If check is not nil it is called for every
// transaction before it is applied, so it observes the outputs created by
// the transactions before it in the block. AddBlock fails if b does not
// extend the tip, if check fails or if a transaction spends an output which
// is not unspent; the snapshot must then be discarded.
func (s *Snapshot) AddBlock(b *ledger.Block, check func(tx *ledger.Transaction) error) error {
	hash := b.Hash()

	if s.blockTip.Empty {
		if b.Header.Index != 0 || !b.Header.PrevHash.IsZero() {
			return fmt.Errorf("first block must be genesis, got index %d", b.Header.Index)
		}
	} else if b.Header.Index != s.blockTip.Height+1 || b.Header.PrevHash != s.blockTip.Hash {
		return fmt.Errorf("block %d (%s) does not extend tip %d (%s)",
			b.Header.Index, hash.Short(), s.blockTip.Height, s.blockTip.Hash.Short())
	}

	for pos, tx := range b.Transactions {
		if check != nil {
			if err := check(tx); err != nil {
				return err
			}
		}
		if err := s.applyTransaction(tx, b.Header.Index, uint16(pos)); err != nil {
			return err
		}
	}

	raw, err := encodeBlock(b)
	if err != nil {
		return err
	}
	s.put(blockKey(hash), raw)
	s.put(blockHeightKey(b.Header.Index), hash.Bytes())

	// blocks may arrive without their header having been synced first
	if s.headerTip.Empty || b.Header.Index > s.headerTip.Height {
		if err := s.AddHeader(&b.Header); err != nil {
			return err
		}
	} else {
		indexed, err := s.GetHeaderHash(b.Header.Index)
		if err != nil {
			return err
		}
		if indexed != hash {
			return fmt.Errorf("block %d (%s) conflicts with header %s", b.Header.Index, hash.Short(), indexed.Short())
		}
	}

	s.blockTip = ChainTip{Hash: hash, Height: b.Header.Index}
	return s.putTip(blockTipKey, s.blockTip)
}

func (s *Snapshot) applyTransaction(tx *ledger.Transaction, height uint32, pos uint16) error {
	txHash := tx.Hash()

	for _, in := range tx.Inputs {
		op := in.Outpoint()
		key := utxoKey(op)
		ok, err := s.has(key)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("transaction %s spends missing output %s", txHash.Short(), op)
		}
		s.del(key)
	}

	for i, out := range tx.Outputs {
		raw, err := ledger.Encode(&out)
		if err != nil {
			return err
		}
		s.put(utxoKey(ledger.Outpoint{Hash: txHash, Index: uint16(i)}), raw)
	}

	loc, err := ledger.Encode(&TxLocation{Height: height, Position: pos})
	if err != nil {
		return err
	}
	s.put(txKey(txHash), loc)
	return nil
}

func (s *Snapshot) putTip(key string, tip ChainTip) error {
	raw, err := ledger.Encode(&tip)
	if err != nil {
		return err
	}
	s.put([]byte(key), raw)
	return nil
}

// Blocks are the bulk of the database; they are stored snappy compressed.
func encodeBlock(b *ledger.Block) ([]byte, error) {
	raw, err := b.Marshal()
	if err != nil {
		return nil, err
	}
	return snappy.Encode(nil, raw), nil
}

func decodeBlock(raw []byte, hash common.Hash) (*ledger.Block, error) {
	plain, err := snappy.Decode(nil, raw)
	if err != nil {
		return nil, common.NewStoreErr("Block", common.Corrupted, hash.String())
	}
	b := new(ledger.Block)
	if err := b.Unmarshal(plain); err != nil {
		return nil, common.NewStoreErr("Block", common.Corrupted, hash.String())
	}
	return b, nil
}
