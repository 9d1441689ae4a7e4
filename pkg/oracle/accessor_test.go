package oracle

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/irswap/pkg/fixedpoint"
)

var pair = Pair{
	Asset:           common.HexToAddress("0x00000000000000000000000000000000000a55e7"),
	UnderlyingAsset: common.HexToAddress("0x0000000000000000000000000000000000000da1"),
}

func rate(t *testing.T, s string) *big.Int {
	t.Helper()
	v, err := fixedpoint.Parse(s)
	require.NoError(t, err)
	return v
}

// seeded records 5% from t=1000, 10% from t=2000 and 0% from t=3000.
func seeded(t *testing.T) *History {
	t.Helper()
	h := NewHistory()
	for _, r := range []struct {
		ts   uint64
		rate string
	}{{1000, "0.05"}, {2000, "0.10"}, {3000, "0"}} {
		_, err := h.Record(pair, r.ts, rate(t, r.rate))
		require.NoError(t, err)
	}
	return h
}

func requireWithin(t *testing.T, want, got *big.Int, ulps int64) {
	t.Helper()
	d := new(big.Int).Sub(want, got)
	require.True(t, d.Abs(d).Cmp(big.NewInt(ulps)) <= 0, "want %s got %s", fixedpoint.String(want), fixedpoint.String(got))
}

func TestRecordAccumulates(t *testing.T) {
	h := seeded(t)
	obs, err := h.Observation(pair, 1)
	require.NoError(t, err)
	want, _ := fixedpoint.Mul(rate(t, "0.05"), fixedpoint.FromInt(1000))
	assert.Equal(t, want, obs.Cumulative)

	_, err = h.Record(pair, 3000, rate(t, "0.01"))
	assert.ErrorIs(t, err, ErrStaleObservation)

	_, err = h.Record(pair, 4000, rate(t, "-0.01"))
	assert.ErrorIs(t, err, ErrNegativeRate)

	_, err = h.Observation(pair, 7)
	assert.ErrorIs(t, err, ErrUnknownRound)
}

func TestAverageAPYWithinOneSegment(t *testing.T) {
	a := NewAccessor(seeded(t), 0)
	apy, _, err := a.GetAverageAccruedAPYBetweenTimestamps(pair, 1000, 2000)
	require.NoError(t, err)
	assert.Equal(t, rate(t, "0.05"), apy)

	apy, _, err = a.GetAverageAccruedAPYBetweenTimestamps(pair, 1200, 1300)
	require.NoError(t, err)
	assert.Equal(t, rate(t, "0.05"), apy)
}

func TestAverageAPYAcrossSegments(t *testing.T) {
	a := NewAccessor(seeded(t), 0)
	apy, _, err := a.GetAverageAccruedAPYBetweenTimestamps(pair, 1500, 2500)
	require.NoError(t, err)

	mid := new(big.Int).Add(rate(t, "0.05"), rate(t, "0.10"))
	mid.Rsh(mid, 1)
	requireWithin(t, mid, apy, 1)
}

func TestAverageAPYExtrapolatesLastRound(t *testing.T) {
	a := NewAccessor(seeded(t), 0)
	apy, _, err := a.GetAverageAccruedAPYBetweenTimestamps(pair, 3000, 9000)
	require.NoError(t, err)
	assert.Zero(t, apy.Sign())

	apy, _, err = a.GetAverageAccruedAPYBetweenTimestamps(pair, 2500, 3500)
	require.NoError(t, err)
	requireWithin(t, rate(t, "0.05"), apy, 1)
}

func TestWindowErrors(t *testing.T) {
	a := NewAccessor(seeded(t), 0)

	_, _, err := a.GetAverageAccruedAPYBetweenTimestamps(pair, 999, 2000)
	assert.ErrorIs(t, err, ErrOracleDataUnavailable)

	_, _, err = a.GetAverageAccruedAPYBetweenTimestamps(pair, 2000, 2000)
	assert.ErrorIs(t, err, ErrInvalidWindow)

	_, _, err = a.GetAverageAccruedAPYBetweenTimestamps(pair, 2000, 1500)
	assert.ErrorIs(t, err, ErrInvalidWindow)

	_, _, err = a.GetAverageAccruedAPYBetweenTimestamps(Pair{}, 1000, 2000)
	assert.ErrorIs(t, err, ErrOracleDataUnavailable)
}

func TestEWMA(t *testing.T) {
	h := seeded(t)
	low, high := rate(t, "0.05"), rate(t, "0.10")

	_, ewma, err := NewAccessor(h, time.Hour).GetAverageAccruedAPYBetweenTimestamps(pair, 1000, 2999)
	require.NoError(t, err)
	assert.True(t, ewma.Cmp(low) > 0 && ewma.Cmp(high) < 0, "ewma %s outside (5%%, 10%%)", fixedpoint.String(ewma))

	// A short time constant tracks the latest rate.
	_, ewma, err = NewAccessor(h, time.Second).GetAverageAccruedAPYBetweenTimestamps(pair, 1000, 2999)
	require.NoError(t, err)
	requireWithin(t, high, ewma, 1<<8)

	// Without smoothing the EWMA is the rate in force at end.
	_, ewma, err = NewAccessor(h, 0).GetAverageAccruedAPYBetweenTimestamps(pair, 1000, 2500)
	require.NoError(t, err)
	assert.Equal(t, high, ewma)
}

func TestFloorFindsEveryRound(t *testing.T) {
	h := NewHistory()
	for i := uint64(0); i < 50; i++ {
		_, err := h.Record(pair, 100+i*10, rate(t, "0.01"))
		require.NoError(t, err)
	}
	a := NewAccessor(h, 0)
	for i := uint64(0); i < 50; i++ {
		for _, ts := range []uint64{100 + i*10, 100 + i*10 + 9} {
			obs, err := a.floor(pair, 49, ts)
			require.NoError(t, err)
			assert.Equal(t, i, obs.Round, "t=%d", ts)
		}
	}
}
