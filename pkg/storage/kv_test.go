package storage

import (
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func backends(t *testing.T) map[string]KV {
	t.Helper()
	disk, err := NewPebbleKV(filepath.Join(t.TempDir(), "state"))
	require.NoError(t, err)
	mem, err := NewMemPebbleKV()
	require.NoError(t, err)
	t.Cleanup(func() {
		disk.Close()
		mem.Close()
	})
	return map[string]KV{
		"map":        NewMemKV(),
		"pebble":     disk,
		"pebble-vfs": mem,
	}
}

func TestKVApplyAndGet(t *testing.T) {
	for name, kv := range backends(t) {
		t.Run(name, func(t *testing.T) {
			v, err := kv.Get([]byte("missing"))
			require.NoError(t, err)
			assert.Nil(t, v)

			require.NoError(t, kv.Apply(map[string][]byte{
				"a": []byte("1"),
				"b": []byte("2"),
			}))
			v, err = kv.Get([]byte("a"))
			require.NoError(t, err)
			assert.Equal(t, []byte("1"), v)

			require.NoError(t, kv.Apply(map[string][]byte{"a": nil}))
			v, err = kv.Get([]byte("a"))
			require.NoError(t, err)
			assert.Nil(t, v)
		})
	}
}

func TestKVIteratePrefix(t *testing.T) {
	alice := common.HexToAddress("0x1111111111111111111111111111111111111111")
	bob := common.HexToAddress("0x2222222222222222222222222222222222222222")

	for name, kv := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, kv.Apply(map[string][]byte{
				string(ContractKey(alice, "fill/2")): []byte("second"),
				string(ContractKey(alice, "fill/1")): []byte("first"),
				string(ContractKey(alice, "other")):  []byte("x"),
				string(ContractKey(bob, "fill/1")):   []byte("bob"),
			}))

			var got []string
			err := kv.Iterate(ContractKey(alice, "fill/"), func(_, v []byte) bool {
				got = append(got, string(v))
				return true
			})
			require.NoError(t, err)
			assert.Equal(t, []string{"first", "second"}, got)

			got = got[:0]
			err = kv.Iterate(ContractPrefix(alice), func(_, v []byte) bool {
				got = append(got, string(v))
				return len(got) < 2
			})
			require.NoError(t, err)
			assert.Len(t, got, 2)
		})
	}
}

func TestKeyUpperBound(t *testing.T) {
	assert.Equal(t, []byte("c:0x1;"), KeyUpperBound([]byte("c:0x1:")))
	assert.Equal(t, []byte{0x02}, KeyUpperBound([]byte{0x01, 0xff}))
	assert.Nil(t, KeyUpperBound([]byte{0xff, 0xff}))
}

func TestMemKVClosed(t *testing.T) {
	kv := NewMemKV()
	require.NoError(t, kv.Close())
	_, err := kv.Get([]byte("a"))
	assert.ErrorIs(t, err, ErrClosed)
}
