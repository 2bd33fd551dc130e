package store

import (
	"sort"
	"strings"
	"sync"

	"github.com/mosaicnetworks/ledgerd/src/common"
)

// InmemKV keeps everything in a map. It is used in tests and by nodes which
// do not need to survive a restart.
type InmemKV struct {
	l      sync.RWMutex
	data   map[string][]byte
	closed bool
}

// NewInmemKV ...
func NewInmemKV() *InmemKV {
	return &InmemKV{
		data: make(map[string][]byte),
	}
}

// Get implements KV.
func (s *InmemKV) Get(key []byte) ([]byte, error) {
	s.l.RLock()
	defer s.l.RUnlock()

	if s.closed {
		return nil, common.NewStoreErr("InmemKV", common.Closed, string(key))
	}

	v, ok := s.data[string(key)]
	if !ok {
		return nil, common.NewStoreErr("InmemKV", common.KeyNotFound, string(key))
	}
	return append([]byte(nil), v...), nil
}

// Iterate implements KV.
func (s *InmemKV) Iterate(prefix []byte, fn func(key, value []byte) error) error {
	s.l.RLock()
	p := string(prefix)
	keys := []string{}
	for k := range s.data {
		if strings.HasPrefix(k, p) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	values := make([][]byte, len(keys))
	for i, k := range keys {
		values[i] = append([]byte(nil), s.data[k]...)
	}
	s.l.RUnlock()

	for i, k := range keys {
		if err := fn([]byte(k), values[i]); err != nil {
			return err
		}
	}
	return nil
}

// Write implements KV.
func (s *InmemKV) Write(batch *Batch) error {
	s.l.Lock()
	defer s.l.Unlock()

	if s.closed {
		return common.NewStoreErr("InmemKV", common.Closed, "")
	}

	for _, op := range batch.ops {
		if op.delete {
			delete(s.data, string(op.key))
		} else {
			s.data[string(op.key)] = append([]byte(nil), op.value...)
		}
	}
	return nil
}

// Close implements KV.
func (s *InmemKV) Close() error {
	s.l.Lock()
	defer s.l.Unlock()
	s.closed = true
	return nil
}
