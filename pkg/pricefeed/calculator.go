package pricefeed

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"

	"github.com/uhyunpark/irswap/pkg/calldata"
	"github.com/uhyunpark/irswap/pkg/host"
)

const (
	// SpreadDenominator scales spreads: 1e9 is a spread of 1.0.
	SpreadDenominator = 1_000_000_000
	// Staleness is how old an answer may be before it is refused.
	Staleness = 30 * time.Minute
	// MaxDecimalsScale bounds |decimalsScale|; 10^78 exceeds uint256.
	MaxDecimalsScale = 77
)

var (
	ErrStaleData        = errors.New("CC: stale data")
	ErrDecimalsMismatch = errors.New("CC: oracle decimals don't match")
	ErrBadAnswer        = errors.New("CC: non-positive answer")
	ErrScaleOutOfRange  = errors.New("CC: decimals scale out of range")
	ErrPriceOverflow    = errors.New("CC: result overflows uint256")
)

// InverseMask is the top bit of inverseAndSpread.
var InverseMask = new(big.Int).Lsh(big.NewInt(1), 255)

// ABI holds the calculator methods for composition into a host router.
const ABI = `
	{"type":"function","name":"singlePrice","stateMutability":"view","inputs":[{"name":"oracle","type":"address"},{"name":"inverseAndSpread","type":"uint256"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"doublePrice","stateMutability":"view","inputs":[{"name":"oracle1","type":"address"},{"name":"oracle2","type":"address"},{"name":"spread","type":"uint256"},{"name":"decimalsScale","type":"int256"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]}`

var (
	aggregatorABI = mustParse(AggregatorABI)
	calculatorABI = mustParse("[" + ABI + "]")
)

func mustParse(s string) abi.ABI {
	a, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic(err)
	}
	return a
}

// Env is what the calculators need from a call frame.
type Env interface {
	StaticCall(to common.Address, input []byte) ([]byte, error)
	Time() uint64
}

// InverseAndSpread packs the singlePrice flag word.
func InverseAndSpread(inverse bool, spread *big.Int) *big.Int {
	v := new(big.Int).Set(spread)
	if inverse {
		v.Or(v, InverseMask)
	}
	return v
}

func viewCall(env Env, oracle common.Address, method string) ([]any, error) {
	input, err := aggregatorABI.Pack(method)
	if err != nil {
		return nil, err
	}
	out, err := env.StaticCall(oracle, input)
	if err != nil {
		return nil, fmt.Errorf("pricefeed: %s on %s: %w", method, oracle.Hex(), err)
	}
	return aggregatorABI.Unpack(method, out)
}

func decimals(env Env, oracle common.Address) (uint8, error) {
	vals, err := viewCall(env, oracle, "decimals")
	if err != nil {
		return 0, err
	}
	return vals[0].(uint8), nil
}

// latest returns a fresh, positive answer.
func latest(env Env, oracle common.Address) (*big.Int, error) {
	vals, err := viewCall(env, oracle, "latestRoundData")
	if err != nil {
		return nil, err
	}
	answer, updatedAt := vals[1].(*big.Int), vals[3].(*big.Int)
	limit := new(big.Int).Add(updatedAt, big.NewInt(int64(Staleness/time.Second)))
	if limit.Cmp(new(big.Int).SetUint64(env.Time())) <= 0 {
		return nil, fmt.Errorf("%w: %s updated at %s", ErrStaleData, oracle.Hex(), updatedAt)
	}
	if answer.Sign() <= 0 {
		return nil, ErrBadAnswer
	}
	return answer, nil
}

func pow10(n uint64) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), new(big.Int).SetUint64(n), nil)
}

func fitUint256(v *big.Int) (*big.Int, error) {
	if v.Cmp(math.MaxBig256) > 0 {
		return nil, ErrPriceOverflow
	}
	return v, nil
}

// SinglePrice prices amount with one oracle. Without the inverse flag the
// result is amount*spread*answer/10^decimals/1e9; with it the answer
// divides instead.
func SinglePrice(env Env, oracle common.Address, inverseAndSpread, amount *big.Int) (*big.Int, error) {
	answer, err := latest(env, oracle)
	if err != nil {
		return nil, err
	}
	dec, err := decimals(env, oracle)
	if err != nil {
		return nil, err
	}
	inverse := new(big.Int).And(inverseAndSpread, InverseMask).Sign() != 0
	spread := new(big.Int).AndNot(inverseAndSpread, InverseMask)

	v := new(big.Int).Mul(amount, spread)
	if inverse {
		v.Mul(v, pow10(uint64(dec)))
		v.Quo(v, answer)
	} else {
		v.Mul(v, answer)
		v.Quo(v, pow10(uint64(dec)))
	}
	return fitUint256(v.Quo(v, big.NewInt(SpreadDenominator)))
}

// DoublePrice prices amount through oracle1/oracle2, shifting the result
// by decimalsScale powers of ten. Both oracles must share decimals.
func DoublePrice(env Env, oracle1, oracle2 common.Address, spread, decimalsScale, amount *big.Int) (*big.Int, error) {
	if new(big.Int).Abs(decimalsScale).Cmp(big.NewInt(MaxDecimalsScale)) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrScaleOutOfRange, decimalsScale)
	}
	d1, err := decimals(env, oracle1)
	if err != nil {
		return nil, err
	}
	d2, err := decimals(env, oracle2)
	if err != nil {
		return nil, err
	}
	if d1 != d2 {
		return nil, ErrDecimalsMismatch
	}
	a1, err := latest(env, oracle1)
	if err != nil {
		return nil, err
	}
	a2, err := latest(env, oracle2)
	if err != nil {
		return nil, err
	}

	v := new(big.Int).Mul(amount, spread)
	v.Mul(v, a1)
	switch decimalsScale.Sign() {
	case 1:
		v.Mul(v, pow10(decimalsScale.Uint64()))
		v.Quo(v, a2)
	case -1:
		v.Quo(v, a2)
		v.Quo(v, pow10(new(big.Int).Neg(decimalsScale).Uint64()))
	default:
		v.Quo(v, a2)
	}
	return fitUint256(v.Quo(v, big.NewInt(SpreadDenominator)))
}

// SinglePriceTemplate is a singlePrice call with the amount left off,
// ready for an order's getter field.
func SinglePriceTemplate(oracle common.Address, inverse bool, spread *big.Int) ([]byte, error) {
	return calldata.Template(&calculatorABI, "singlePrice", oracle, InverseAndSpread(inverse, spread))
}

// PackDoublePrice encodes a full doublePrice call, e.g. for a predicate.
func PackDoublePrice(oracle1, oracle2 common.Address, spread, decimalsScale, amount *big.Int) ([]byte, error) {
	return calculatorABI.Pack("doublePrice", oracle1, oracle2, spread, decimalsScale, amount)
}

// Register binds the calculator methods on r.
func Register(r *host.Router) {
	r.Handle("singlePrice", func(env *host.Env, args []any) ([]any, error) {
		v, err := SinglePrice(env, args[0].(common.Address), args[1].(*big.Int), args[2].(*big.Int))
		return []any{v}, err
	})
	r.Handle("doublePrice", func(env *host.Env, args []any) ([]any, error) {
		v, err := DoublePrice(env, args[0].(common.Address), args[1].(common.Address), args[2].(*big.Int), args[3].(*big.Int), args[4].(*big.Int))
		return []any{v}, err
	})
}
