// Package margin sizes the collateral an IRS position must post.
//
// The model stresses the average accrued APY into a band. The band's
// centre mean-reverts toward alpha at speed beta over the remaining term,
// its half-widths are lowerMul/upperMul standard deviations of an
// Ornstein-Uhlenbeck rate with volatility sigma, and the asset's bound
// multipliers clip it around the centre. The margin is the worst loss
// of the position at either edge of the band. All arithmetic is 64.64.
package margin

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	fp "github.com/uhyunpark/irswap/pkg/fixedpoint"
	"github.com/uhyunpark/irswap/pkg/oracle"
)

var (
	ErrNegativeParameter = errors.New("margin: negative model parameter")
	ErrBoundMultiplier   = errors.New("margin: bound multiplier must be zero or at least one")
)

// AssetInfo holds the statistical parameters of an asset, all 64.64.
// A zero bound multiplier disables that clip.
type AssetInfo struct {
	Asset           common.Address `json:"asset"`
	UnderlyingAsset common.Address `json:"underlyingAsset"`
	Alpha           *big.Int       `json:"alpha"`
	Beta            *big.Int       `json:"beta"`
	Sigma           *big.Int       `json:"sigma"`
	LowerBoundMul   *big.Int       `json:"lowerBoundMul"`
	UpperBoundMul   *big.Int       `json:"upperBoundMul"`
}

// OrderInfo is the slice of a position the margin depends on.
type OrderInfo struct {
	OrderHash        common.Hash
	BeginTimestamp   uint64
	EndTimestamp     uint64
	IsOrderDefaulted bool
	Term             *big.Int // 64.64, signed
	FixedTokens      *big.Int
	VariableTokens   *big.Int
	ForFixedTaker    bool // the position receives the fixed leg
}

// OracleInfo tells the calculator where and when to read rates.
type OracleInfo struct {
	Accessor  *oracle.Accessor
	Timestamp uint64
	// Lookback is the APY window used for swaps that have not started.
	Lookback uint64
}

// Band is a stressed rate range.
type Band struct {
	Mean  *big.Int `json:"mean"`
	Std   *big.Int `json:"std"`
	Lower *big.Int `json:"lower"`
	Upper *big.Int `json:"upper"`
}

func orZero(x *big.Int) *big.Int {
	if x == nil {
		return new(big.Int)
	}
	return x
}

// Validate checks the parameter ranges the model relies on.
func (a AssetInfo) Validate() error {
	for _, v := range []*big.Int{a.Alpha, a.Beta, a.Sigma} {
		if orZero(v).Sign() < 0 {
			return ErrNegativeParameter
		}
	}
	for _, v := range []*big.Int{a.LowerBoundMul, a.UpperBoundMul} {
		v = orZero(v)
		if v.Sign() != 0 && v.Cmp(fp.One()) < 0 {
			return ErrBoundMultiplier
		}
	}
	return nil
}

// StressBand computes the band for an average rate apy over a term of
// length tau (in years, 64.64). lowerMul and upperMul are the number of
// standard deviations below and above the centre.
func StressBand(apy *big.Int, asset AssetInfo, tau, lowerMul, upperMul *big.Int) (Band, error) {
	if err := asset.Validate(); err != nil {
		return Band{}, err
	}
	if lowerMul.Sign() < 0 || upperMul.Sign() < 0 {
		return Band{}, ErrNegativeParameter
	}
	alpha, beta, sigma := orZero(asset.Alpha), orZero(asset.Beta), orZero(asset.Sigma)

	absTau, err := fp.Abs(tau)
	if err != nil {
		return Band{}, err
	}

	// mean = apy*e^(-beta*tau) + alpha*(1 - e^(-beta*tau))
	bt, err := fp.Mul(beta, absTau)
	if err != nil {
		return Band{}, err
	}
	decay, err := fp.ExpNeg(bt)
	if err != nil {
		return Band{}, err
	}
	kept, err := fp.Mul(apy, decay)
	if err != nil {
		return Band{}, err
	}
	rest, err := fp.Sub(fp.One(), decay)
	if err != nil {
		return Band{}, err
	}
	pulled, err := fp.Mul(alpha, rest)
	if err != nil {
		return Band{}, err
	}
	mean, err := fp.Add(kept, pulled)
	if err != nil {
		return Band{}, err
	}
	if mean.Sign() < 0 {
		mean = fp.Zero()
	}

	variance, err := ouVariance(beta, absTau)
	if err != nil {
		return Band{}, err
	}
	root, err := fp.Sqrt(variance)
	if err != nil {
		return Band{}, err
	}
	std, err := fp.Mul(sigma, root)
	if err != nil {
		return Band{}, err
	}

	up, err := fp.Mul(upperMul, std)
	if err != nil {
		return Band{}, err
	}
	upper, err := fp.Add(mean, up)
	if err != nil {
		return Band{}, err
	}
	if m := orZero(asset.UpperBoundMul); m.Sign() > 0 && mean.Sign() > 0 {
		capped, err := fp.Mul(mean, m)
		if err != nil {
			return Band{}, err
		}
		upper = fp.MinOf(upper, capped)
	}

	down, err := fp.Mul(lowerMul, std)
	if err != nil {
		return Band{}, err
	}
	lower, err := fp.Sub(mean, down)
	if err != nil {
		return Band{}, err
	}
	if m := orZero(asset.LowerBoundMul); m.Sign() > 0 {
		floor, err := fp.Div(mean, m)
		if err != nil {
			return Band{}, err
		}
		lower = fp.MaxOf(lower, floor)
	}
	lower = fp.MaxOf(lower, fp.Zero())

	return Band{Mean: mean, Std: std, Lower: lower, Upper: upper}, nil
}

// ouVariance is (1 - e^(-2*beta*tau)) / (2*beta), or tau when beta is 0.
func ouVariance(beta, tau *big.Int) (*big.Int, error) {
	if beta.Sign() == 0 {
		return new(big.Int).Set(tau), nil
	}
	twoBeta, err := fp.Add(beta, beta)
	if err != nil {
		return nil, err
	}
	x, err := fp.Mul(twoBeta, tau)
	if err != nil {
		return nil, err
	}
	decay, err := fp.ExpNeg(x)
	if err != nil {
		return nil, err
	}
	num, err := fp.Sub(fp.One(), decay)
	if err != nil {
		return nil, err
	}
	return fp.Div(num, twoBeta)
}

// GetReturnAfterMaturity is the net token flow of a position at rate r
// over term: the fixed leg pays fixedTokens*term, the variable leg pays
// variableTokens*r*term. The fixed receiver earns the fixed leg and pays
// the variable one; the variable receiver the reverse.
func GetReturnAfterMaturity(fixedTokens, variableTokens, rate *big.Int, forFixedTaker bool, term *big.Int) (*big.Int, error) {
	fixedLeg, err := fp.MulI(term, fixedTokens)
	if err != nil {
		return nil, err
	}
	rt, err := fp.Mul(rate, term)
	if err != nil {
		return nil, err
	}
	variableLeg, err := fp.MulI(rt, variableTokens)
	if err != nil {
		return nil, err
	}
	if forFixedTaker {
		return new(big.Int).Sub(fixedLeg, variableLeg), nil
	}
	return new(big.Int).Sub(variableLeg, fixedLeg), nil
}

// RemainingTerm scales term by the unelapsed share of [begin, end].
func RemainingTerm(term *big.Int, begin, end, now uint64) (*big.Int, error) {
	if now >= end {
		return fp.Zero(), nil
	}
	if now <= begin {
		return new(big.Int).Set(term), nil
	}
	share, err := fp.DivU(new(big.Int).SetUint64(end-now), new(big.Int).SetUint64(end-begin))
	if err != nil {
		return nil, err
	}
	return fp.Mul(term, share)
}

// GetMarginReqWithMuls returns the collateral, in tokens, that covers the
// position's loss anywhere inside the stressed band.
func GetMarginReqWithMuls(oi OracleInfo, order OrderInfo, asset AssetInfo, lowerMul, upperMul *big.Int) (*big.Int, error) {
	if order.IsOrderDefaulted || oi.Timestamp >= order.EndTimestamp {
		return new(big.Int), nil
	}

	tau, err := RemainingTerm(orZero(order.Term), order.BeginTimestamp, order.EndTimestamp, oi.Timestamp)
	if err != nil {
		return nil, err
	}
	band, err := BandAt(oi, order, asset, tau, lowerMul, upperMul)
	if err != nil {
		return nil, err
	}

	worst := new(big.Int)
	for _, r := range []*big.Int{band.Lower, band.Upper} {
		ret, err := GetReturnAfterMaturity(orZero(order.FixedTokens), orZero(order.VariableTokens), r, order.ForFixedTaker, tau)
		if err != nil {
			return nil, err
		}
		if loss := new(big.Int).Neg(ret); loss.Cmp(worst) > 0 {
			worst = loss
		}
	}
	return worst, nil
}

// BandAt reads the accrued APY for the order's window and stresses it.
func BandAt(oi OracleInfo, order OrderInfo, asset AssetInfo, tau, lowerMul, upperMul *big.Int) (Band, error) {
	start := order.BeginTimestamp
	if oi.Timestamp <= start {
		if oi.Lookback == 0 || oi.Lookback > oi.Timestamp {
			return Band{}, oracle.ErrInvalidWindow
		}
		start = oi.Timestamp - oi.Lookback
	}
	pair := oracle.Pair{Asset: asset.Asset, UnderlyingAsset: asset.UnderlyingAsset}
	apy, _, err := oi.Accessor.GetAverageAccruedAPYBetweenTimestamps(pair, start, oi.Timestamp)
	if err != nil {
		return Band{}, err
	}
	return StressBand(apy, asset, tau, lowerMul, upperMul)
}
