package orderbook

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fp "github.com/uhyunpark/irswap/pkg/fixedpoint"
	"github.com/uhyunpark/irswap/pkg/order"
)

var (
	dai  = common.HexToAddress("0x00000000000000000000000000000000000000da")
	cDai = common.HexToAddress("0x000000000000000000000000000000000000cda1")
	usdc = common.HexToAddress("0x00000000000000000000000000000000000000c0")

	now = time.Unix(1_700_000_000, 0)
)

func mkOrder(salt, fixed, variable int64, fixedTaker bool) *order.Order {
	return &order.Order{
		Salt:            big.NewInt(salt),
		Asset:           dai,
		UnderlyingAsset: cDai,
		FixedTokens:     big.NewInt(fixed),
		VariableTokens:  big.NewInt(variable),
		IsFixedTaker:    fixedTaker,
		BeginTimestamp:  big.NewInt(now.Unix()),
		EndTimestamp:    big.NewInt(now.Unix() + 365*24*60*60),
	}
}

func hashOf(n byte) common.Hash { return common.BytesToHash([]byte{n}) }

func hashes(entries []Entry) []common.Hash {
	out := make([]common.Hash, len(entries))
	for i, e := range entries {
		out[i] = e.Hash
	}
	return out
}

func TestRate(t *testing.T) {
	r, err := Rate(mkOrder(1, 5, 100, true))
	require.NoError(t, err)
	want, err := fp.FromFraction(5, 100)
	require.NoError(t, err)
	assert.Equal(t, want, r)

	_, err = Rate(mkOrder(1, 5, 0, true))
	assert.ErrorIs(t, err, ErrZeroNotional)
}

func TestBestOrdering(t *testing.T) {
	b := New(0)
	m := Market{Asset: dai, UnderlyingAsset: cDai}

	tests := []struct {
		hash       byte
		fixed      int64
		fixedTaker bool
	}{
		{1, 4, true},
		{2, 6, true},
		{3, 6, true}, // same rate as 2, admitted later
		{4, 5, false},
		{5, 3, false},
		{6, 7, false},
	}
	for _, tt := range tests {
		_, err := b.Add(hashOf(tt.hash), mkOrder(int64(tt.hash), tt.fixed, 100, tt.fixedTaker), []byte{tt.hash}, now)
		require.NoError(t, err)
	}
	require.Equal(t, 6, b.Len())

	// Fixed takers want the most fixed per variable.
	assert.Equal(t, []common.Hash{hashOf(2), hashOf(3), hashOf(1)}, hashes(b.Best(m, true, 0)))
	// Variable takers want the least.
	assert.Equal(t, []common.Hash{hashOf(5), hashOf(4), hashOf(6)}, hashes(b.Best(m, false, 0)))

	assert.Equal(t, []common.Hash{hashOf(5), hashOf(4)}, hashes(b.Best(m, false, 2)))
	assert.Equal(t, []common.Hash{hashOf(2)}, hashes(b.Best(m, true, 1)))
	assert.Empty(t, b.Best(Market{Asset: usdc}, true, 0))
}

func TestAddRejectsDuplicatesAndOverflow(t *testing.T) {
	b := New(2)
	_, err := b.Add(hashOf(1), mkOrder(1, 5, 100, true), nil, now)
	require.NoError(t, err)
	_, err = b.Add(hashOf(1), mkOrder(1, 5, 100, true), nil, now)
	assert.ErrorIs(t, err, ErrDuplicate)

	_, err = b.Add(hashOf(2), mkOrder(2, 5, 100, true), nil, now)
	require.NoError(t, err)
	_, err = b.Add(hashOf(3), mkOrder(3, 5, 100, true), nil, now)
	assert.ErrorIs(t, err, ErrFull)
}

func TestRemove(t *testing.T) {
	b := New(0)
	m := Market{Asset: dai, UnderlyingAsset: cDai}
	for i := byte(1); i <= 4; i++ {
		_, err := b.Add(hashOf(i), mkOrder(int64(i), int64(i), 100, true), nil, now)
		require.NoError(t, err)
	}

	assert.True(t, b.Remove(hashOf(3)))
	assert.False(t, b.Remove(hashOf(3)))
	_, ok := b.Get(hashOf(3))
	assert.False(t, ok)
	assert.Equal(t, []common.Hash{hashOf(4), hashOf(2), hashOf(1)}, hashes(b.Best(m, true, 0)))

	// The heap stays consistent after removing the top.
	assert.True(t, b.Remove(hashOf(4)))
	assert.Equal(t, []common.Hash{hashOf(2)}, hashes(b.Best(m, true, 1)))

	b.Remove(hashOf(1))
	b.Remove(hashOf(2))
	assert.Zero(t, b.Len())
	assert.Empty(t, b.markets)
}

func TestPruneExpired(t *testing.T) {
	b := New(0)
	short := mkOrder(1, 5, 100, true)
	short.EndTimestamp = big.NewInt(now.Unix() + 60)
	_, err := b.Add(hashOf(1), short, nil, now)
	require.NoError(t, err)
	_, err = b.Add(hashOf(2), mkOrder(2, 5, 100, false), nil, now)
	require.NoError(t, err)

	assert.Zero(t, b.PruneExpired(uint64(now.Unix())+59))
	assert.Equal(t, 1, b.PruneExpired(uint64(now.Unix())+60))
	_, ok := b.Get(hashOf(2))
	assert.True(t, ok)
	assert.Equal(t, 1, b.Len())
}

func TestEntriesAreCopies(t *testing.T) {
	b := New(0)
	sig := []byte{1, 2, 3}
	e, err := b.Add(hashOf(1), mkOrder(1, 5, 100, true), sig, now)
	require.NoError(t, err)
	sig[0] = 9
	assert.Equal(t, byte(1), e.Signature[0])

	got, ok := b.Get(hashOf(1))
	require.True(t, ok)
	assert.Equal(t, e.Seq, got.Seq)
	assert.Equal(t, now, got.Added)
}
