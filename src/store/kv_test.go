package store

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/mosaicnetworks/ledgerd/src/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type kvFactory struct {
	name string
	open func(t *testing.T) KV
}

func kvBackends() []kvFactory {
	return []kvFactory{
		{"inmem", func(t *testing.T) KV { return NewInmemKV() }},
		{"badger", func(t *testing.T) KV {
			kv, err := NewBadgerKV(filepath.Join(t.TempDir(), "badger"), common.NewTestEntry(t, "badger"))
			require.NoError(t, err)
			return kv
		}},
		{"leveldb", func(t *testing.T) KV {
			kv, err := NewLevelDBKV(filepath.Join(t.TempDir(), "leveldb"))
			require.NoError(t, err)
			return kv
		}},
	}
}

func TestKVContract(t *testing.T) {
	for _, backend := range kvBackends() {
		t.Run(backend.name, func(t *testing.T) {
			kv := backend.open(t)
			defer kv.Close()

			_, err := kv.Get([]byte("missing"))
			assert.True(t, common.IsStore(err, common.KeyNotFound), "got %v", err)

			b := NewBatch()
			for i := 0; i < 5; i++ {
				b.Put([]byte(fmt.Sprintf("p_%d", i)), []byte{byte(i)})
			}
			b.Put([]byte("q_0"), []byte("other"))
			b.Delete([]byte("p_3"))
			require.NoError(t, kv.Write(b))

			v, err := kv.Get([]byte("p_1"))
			require.NoError(t, err)
			assert.Equal(t, []byte{1}, v)

			_, err = kv.Get([]byte("p_3"))
			assert.True(t, common.IsStore(err, common.KeyNotFound))

			var keys []string
			err = kv.Iterate([]byte("p_"), func(k, v []byte) error {
				keys = append(keys, string(k))
				return nil
			})
			require.NoError(t, err)
			assert.Equal(t, []string{"p_0", "p_1", "p_2", "p_4"}, keys)

			stop := fmt.Errorf("stop")
			count := 0
			err = kv.Iterate([]byte("p_"), func(k, v []byte) error {
				count++
				return stop
			})
			assert.Equal(t, stop, err)
			assert.Equal(t, 1, count)
		})
	}
}
