package oracle

import (
	"fmt"
	"math/big"
	"time"

	"github.com/uhyunpark/irswap/pkg/fixedpoint"
)

// Accessor derives window averages from a RateOracle.
type Accessor struct {
	oracle RateOracle
	// ewmaWindow is the EWMA time constant in seconds; 0 disables smoothing.
	ewmaWindow uint64
}

func NewAccessor(o RateOracle, ewmaWindow time.Duration) *Accessor {
	return &Accessor{oracle: o, ewmaWindow: uint64(ewmaWindow / time.Second)}
}

func (a *Accessor) Oracle() RateOracle { return a.oracle }

// GetAverageAccruedAPYBetweenTimestamps returns the time-weighted average
// rate over [start, end] and an exponentially weighted moving average of
// the rates in force during the window.
func (a *Accessor) GetAverageAccruedAPYBetweenTimestamps(pair Pair, start, end uint64) (apy, ewma *big.Int, err error) {
	if end <= start {
		return nil, nil, fmt.Errorf("%w: [%d, %d]", ErrInvalidWindow, start, end)
	}
	latest, ok, err := a.oracle.LatestRound(pair)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, nil, ErrOracleDataUnavailable
	}

	startObs, err := a.floor(pair, latest, start)
	if err != nil {
		return nil, nil, err
	}
	endObs, err := a.floor(pair, latest, end)
	if err != nil {
		return nil, nil, err
	}

	cumStart, err := accrue(startObs, start)
	if err != nil {
		return nil, nil, err
	}
	cumEnd, err := accrue(endObs, end)
	if err != nil {
		return nil, nil, err
	}
	diff, err := fixedpoint.Sub(cumEnd, cumStart)
	if err != nil {
		return nil, nil, err
	}
	span, err := fixedpoint.FromUint64(end - start)
	if err != nil {
		return nil, nil, err
	}
	if apy, err = fixedpoint.Div(diff, span); err != nil {
		return nil, nil, err
	}

	if ewma, err = a.ewma(pair, startObs, endObs.Round, start, end); err != nil {
		return nil, nil, err
	}
	return apy, ewma, nil
}

// floor binary-searches the last round at or before t.
func (a *Accessor) floor(pair Pair, latest, t uint64) (Observation, error) {
	first, err := a.oracle.Observation(pair, 0)
	if err != nil {
		return Observation{}, err
	}
	if first.Timestamp > t {
		return Observation{}, fmt.Errorf("%w: first round at %d, start %d", ErrOracleDataUnavailable, first.Timestamp, t)
	}

	lo, hi := uint64(0), latest
	found := first
	for lo < hi {
		mid := lo + (hi-lo+1)/2
		obs, err := a.oracle.Observation(pair, mid)
		if err != nil {
			return Observation{}, err
		}
		if obs.Timestamp <= t {
			lo, found = mid, obs
		} else {
			hi = mid - 1
		}
	}
	if found.Round != lo {
		return a.oracle.Observation(pair, lo)
	}
	return found, nil
}

// ewma walks the rounds in the window. Each segment pulls the average
// toward the rate in force with weight 1 - e^(-dt/window).
func (a *Accessor) ewma(pair Pair, from Observation, toRound, start, end uint64) (*big.Int, error) {
	avg := new(big.Int).Set(from.Rate)
	rate := from.Rate
	last := start

	for r := from.Round + 1; r <= toRound; r++ {
		obs, err := a.oracle.Observation(pair, r)
		if err != nil {
			return nil, err
		}
		if avg, err = a.blend(avg, rate, obs.Timestamp-last); err != nil {
			return nil, err
		}
		rate, last = obs.Rate, obs.Timestamp
	}
	return a.blend(avg, rate, end-last)
}

func (a *Accessor) blend(avg, rate *big.Int, dt uint64) (*big.Int, error) {
	if dt == 0 {
		return avg, nil
	}
	if a.ewmaWindow == 0 {
		return new(big.Int).Set(rate), nil
	}
	x, err := fixedpoint.DivU(new(big.Int).SetUint64(dt), new(big.Int).SetUint64(a.ewmaWindow))
	if err != nil {
		return nil, err
	}
	decay, err := fixedpoint.ExpNeg(x)
	if err != nil {
		return nil, err
	}
	weight, err := fixedpoint.Sub(fixedpoint.One(), decay)
	if err != nil {
		return nil, err
	}
	gap, err := fixedpoint.Sub(rate, avg)
	if err != nil {
		return nil, err
	}
	step, err := fixedpoint.Mul(weight, gap)
	if err != nil {
		return nil, err
	}
	return fixedpoint.Add(avg, step)
}
