package store

// KV is the persistence backend of the ledger. Writes are only ever applied
// through a Batch so that a block is committed entirely or not at all.
type KV interface {
	// Get returns a common.StoreErr of type KeyNotFound for missing keys.
	Get(key []byte) ([]byte, error)
	// Iterate calls fn for every key with the given prefix, in key order,
	// until fn returns an error.
	Iterate(prefix []byte, fn func(key, value []byte) error) error
	// Write applies every operation of the batch atomically.
	Write(batch *Batch) error
	Close() error
}

type batchOp struct {
	key    []byte
	value  []byte
	delete bool
}

// Batch is an ordered list of puts and deletes.
type Batch struct {
	ops []batchOp
}

// NewBatch ...
func NewBatch() *Batch {
	return &Batch{}
}

// Put ...
func (b *Batch) Put(key, value []byte) {
	b.ops = append(b.ops, batchOp{key: key, value: value})
}

// Delete ...
func (b *Batch) Delete(key []byte) {
	b.ops = append(b.ops, batchOp{key: key, delete: true})
}

// Len ...
func (b *Batch) Len() int {
	return len(b.ops)
}
