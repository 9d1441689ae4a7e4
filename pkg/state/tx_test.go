package state

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/irswap/pkg/storage"
)

var contract = common.HexToAddress("0x00000000000000000000000000000000000000c1")

func TestReadYourWrites(t *testing.T) {
	kv := storage.NewMemKV()
	tx := NewTx(kv)
	st := tx.Storage(contract, false)

	require.NoError(t, st.SetBig("remaining/x", big.NewInt(7)))
	v, ok, err := st.GetBig("remaining/x")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(7), v.Int64())

	raw, err := kv.Get(storage.ContractKey(contract, "remaining/x"))
	require.NoError(t, err)
	assert.Nil(t, raw, "backend untouched before commit")

	require.NoError(t, tx.Commit())
	raw, err = kv.Get(storage.ContractKey(contract, "remaining/x"))
	require.NoError(t, err)
	assert.Equal(t, []byte("7"), raw)
}

func TestDiscardLeavesBackendUntouched(t *testing.T) {
	kv := storage.NewMemKV()
	tx := NewTx(kv)
	require.NoError(t, tx.Storage(contract, false).SetUint64("nonce/a", 3))
	tx.AddLog("event")
	tx.Discard()

	raw, err := kv.Get(storage.ContractKey(contract, "nonce/a"))
	require.NoError(t, err)
	assert.Nil(t, raw)
	assert.ErrorIs(t, tx.Commit(), ErrCommitted)
}

func TestRevertToSnapshot(t *testing.T) {
	tx := NewTx(storage.NewMemKV())
	st := tx.Storage(contract, false)

	require.NoError(t, st.SetUint64("n", 1))
	tx.AddLog("first")
	snap := tx.Snapshot()

	require.NoError(t, st.SetUint64("n", 2))
	require.NoError(t, st.SetUint64("m", 5))
	tx.AddLog("second")

	tx.RevertToSnapshot(snap)

	n, err := st.GetUint64("n")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), n)
	m, err := st.GetUint64("m")
	require.NoError(t, err)
	assert.Zero(t, m)
	assert.Equal(t, []any{"first"}, tx.Logs())
	assert.Equal(t, 1, tx.Dirty())
}

func TestReadOnlyStorage(t *testing.T) {
	tx := NewTx(storage.NewMemKV())
	err := tx.Storage(contract, true).SetUint64("n", 1)
	assert.True(t, errors.Is(err, ErrReadOnly))
}

func TestJSONRoundTripThroughTx(t *testing.T) {
	type pair struct {
		Fixed    string `json:"fixed"`
		Variable string `json:"variable"`
	}
	tx := NewTx(storage.NewMemKV())
	st := tx.Storage(contract, false)

	ok, err := st.GetJSON("participant/x", &pair{})
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, st.SetJSON("participant/x", pair{Fixed: "9", Variable: "1"}))
	var got pair
	ok, err = st.GetJSON("participant/x", &got)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, pair{Fixed: "9", Variable: "1"}, got)
}
