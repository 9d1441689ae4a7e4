package oracle

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/uhyunpark/irswap/pkg/fixedpoint"
)

// History is an in-memory RateOracle fed by Record. Safe for concurrent use.
type History struct {
	mu     sync.RWMutex
	series map[Pair][]Observation
}

func NewHistory() *History {
	return &History{series: make(map[Pair][]Observation)}
}

// Record appends a round with the given rate starting at timestamp and
// returns it with its cumulative index filled in.
func (h *History) Record(pair Pair, timestamp uint64, rate *big.Int) (Observation, error) {
	if rate.Sign() < 0 {
		return Observation{}, ErrNegativeRate
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	rounds := h.series[pair]
	obs := Observation{
		Round:      uint64(len(rounds)),
		Timestamp:  timestamp,
		Rate:       new(big.Int).Set(rate),
		Cumulative: fixedpoint.Zero(),
	}
	if n := len(rounds); n > 0 {
		prev := rounds[n-1]
		if timestamp <= prev.Timestamp {
			return Observation{}, fmt.Errorf("%w: %d <= %d", ErrStaleObservation, timestamp, prev.Timestamp)
		}
		cum, err := accrue(prev, timestamp)
		if err != nil {
			return Observation{}, err
		}
		obs.Cumulative = cum
	}
	h.series[pair] = append(rounds, obs)
	return obs, nil
}

func (h *History) LatestRound(pair Pair) (uint64, bool, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := len(h.series[pair])
	if n == 0 {
		return 0, false, nil
	}
	return uint64(n - 1), true, nil
}

func (h *History) Observation(pair Pair, round uint64) (Observation, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	rounds := h.series[pair]
	if round >= uint64(len(rounds)) {
		return Observation{}, fmt.Errorf("%w: %d", ErrUnknownRound, round)
	}
	return rounds[round], nil
}

// accrue extends obs's cumulative index to time at obs's rate.
func accrue(obs Observation, at uint64) (*big.Int, error) {
	dt, err := fixedpoint.FromUint64(at - obs.Timestamp)
	if err != nil {
		return nil, err
	}
	grown, err := fixedpoint.Mul(obs.Rate, dt)
	if err != nil {
		return nil, err
	}
	return fixedpoint.Add(obs.Cumulative, grown)
}

var _ RateOracle = (*History)(nil)
