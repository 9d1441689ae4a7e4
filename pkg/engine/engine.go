// Package engine is the IRS limit order protocol contract.
//
// Makers sign orders off-chain. Takers present them with an amount for
// one side; the engine resolves the other side through the order's
// getter templates, tracks the unfilled remainder per order hash, credits
// both parties' fixed and variable legs, and pulls the margin each side
// must post. Everything a fill does happens in one host transaction.
package engine

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"go.uber.org/zap"

	"github.com/uhyunpark/irswap/pkg/calldata"
	"github.com/uhyunpark/irswap/pkg/host"
	"github.com/uhyunpark/irswap/pkg/metrics"
	"github.com/uhyunpark/irswap/pkg/nonce"
	"github.com/uhyunpark/irswap/pkg/oracle"
	"github.com/uhyunpark/irswap/pkg/order"
	"github.com/uhyunpark/irswap/pkg/predicate"
	"github.com/uhyunpark/irswap/pkg/pricefeed"
	"github.com/uhyunpark/irswap/pkg/util"
)

var (
	ErrBadSignature           = errors.New("LOP: bad signature")
	ErrAmbiguousFillDirection = errors.New("LOP: only one amount should be 0")
	ErrPrivateOrder           = errors.New("LOP: private order")
	ErrPredicateFalse         = errors.New("LOP: predicate returned false")
	ErrZeroAmountSwap         = errors.New("LOP: can't swap 0 amount")
	ErrWrongAmount            = errors.New("LOP: wrong amount")
	ErrThresholdNotMet        = errors.New("LOP: threshold not met")
	ErrAccessDenied           = errors.New("LOP: access denied")
	ErrUnknownOrder           = errors.New("LOP: unknown order")
	ErrTransferFailed         = errors.New("LOP: margin transfer failed")
	ErrAmountOverflow         = errors.New("LOP: amount overflow")

	ErrAmbiguousAmount     = calldata.ErrAmbiguousAmount
	ErrGetAmountCallFailed = calldata.ErrGetAmountCallFailed
	ErrInvalidTimestamps   = order.ErrInvalidTimestamps
)

// Config describes one deployment.
type Config struct {
	ChainID *big.Int
	Address common.Address
	// Owner may set asset parameters.
	Owner common.Address
	// LowerMul and UpperMul are the stress widths in standard deviations, 64.64.
	LowerMul *big.Int
	UpperMul *big.Int
	// APYLookback is the rate window for swaps that have not started yet.
	APYLookback time.Duration
}

type Engine struct {
	*host.Router
	cfg     Config
	host    *host.Host
	hasher  *order.Hasher
	rates   *oracle.Accessor
	logger  *zap.Logger
	metrics *metrics.Metrics
}

type Option func(*Engine)

func WithLogger(l *zap.Logger) Option { return func(e *Engine) { e.logger = util.OrNop(l) } }

func WithMetrics(m *metrics.Metrics) Option { return func(e *Engine) { e.metrics = m } }

// New builds the engine and deploys it on h at cfg.Address.
func New(h *host.Host, rates *oracle.Accessor, cfg Config, opts ...Option) (*Engine, error) {
	if cfg.ChainID == nil {
		return nil, fmt.Errorf("engine: chain id required")
	}
	if rates == nil {
		return nil, fmt.Errorf("engine: rate accessor required")
	}
	if cfg.LowerMul == nil {
		cfg.LowerMul = new(big.Int)
	}
	if cfg.UpperMul == nil {
		cfg.UpperMul = new(big.Int)
	}
	hasher, err := order.NewHasher(cfg.ChainID, cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("engine: order domain: %w", err)
	}
	r, err := host.NewRouter(ABI)
	if err != nil {
		return nil, err
	}
	e := &Engine{
		Router: r,
		cfg:    cfg,
		host:   h,
		hasher: hasher,
		rates:  rates,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}

	predicate.Register(r)
	nonce.Register(r)
	pricefeed.Register(r)
	e.register()

	h.Deploy(cfg.Address, e)
	return e, nil
}

func (e *Engine) Address() common.Address { return e.cfg.Address }

func (e *Engine) Config() Config { return e.cfg }

func (e *Engine) Hasher() *order.Hasher { return e.hasher }

func (e *Engine) register() {
	r := e.Router
	fill := func(env *host.Env, args []any, target common.Address, permit []byte) ([]any, error) {
		// A zero threshold on the wire means unbounded.
		threshold := args[4].(*big.Int)
		if threshold.Sign() == 0 {
			threshold = nil
		}
		req := FillRequest{
			Order:       decodeOrder(args[0]),
			Signature:   args[1].([]byte),
			MakerAmount: args[2].(*big.Int),
			TakerAmount: args[3].(*big.Int),
			Threshold:   threshold,
			Target:      target,
			Permit:      permit,
		}
		f, err := e.fill(env, req)
		if err != nil {
			return nil, err
		}
		return []any{f.MakerAmount, f.TakerAmount}, nil
	}
	r.Handle("fillOrder", func(env *host.Env, args []any) ([]any, error) {
		return fill(env, args, common.Address{}, nil)
	})
	r.Handle("fillOrderTo", func(env *host.Env, args []any) ([]any, error) {
		return fill(env, args, args[5].(common.Address), nil)
	})
	r.Handle("fillOrderToWithPermit", func(env *host.Env, args []any) ([]any, error) {
		return fill(env, args, args[5].(common.Address), args[6].([]byte))
	})
	r.Handle("cancelOrder", func(env *host.Env, args []any) ([]any, error) {
		_, err := e.cancel(env, decodeOrder(args[0]))
		return nil, err
	})
	r.Handle("hashOrder", func(_ *host.Env, args []any) ([]any, error) {
		h, err := e.hasher.Hash(decodeOrder(args[0]))
		return []any{[32]byte(h)}, err
	})
	r.Handle("DOMAIN_SEPARATOR", func(*host.Env, []any) ([]any, error) {
		return []any{[32]byte(e.hasher.DomainSeparator())}, nil
	})
	r.Handle("remaining", func(env *host.Env, args []any) ([]any, error) {
		rem, ok, err := env.Storage().GetBig(remainingKey(args[0].([32]byte)))
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ErrUnknownOrder
		}
		return []any{rem}, nil
	})
	r.Handle("orderParticipantFixedTokens", func(env *host.Env, args []any) ([]any, error) {
		p, err := loadParticipant(env, args[0].([32]byte), args[1].(common.Address))
		return []any{p.FixedTokens}, err
	})
	r.Handle("orderParticipantVariableTokens", func(env *host.Env, args []any) ([]any, error) {
		p, err := loadParticipant(env, args[0].([32]byte), args[1].(common.Address))
		return []any{p.VariableTokens}, err
	})
	r.Handle("getMakerAmount", func(_ *host.Env, args []any) ([]any, error) {
		v, err := GetMakerAmount(args[0].(*big.Int), args[1].(*big.Int), args[2].(*big.Int))
		return []any{v}, err
	})
	r.Handle("getTakerAmount", func(_ *host.Env, args []any) ([]any, error) {
		v, err := GetTakerAmount(args[0].(*big.Int), args[1].(*big.Int), args[2].(*big.Int))
		return []any{v}, err
	})
	setter := func(p Param) host.Handler {
		return func(env *host.Env, args []any) ([]any, error) {
			return nil, e.setAsset(env, args[0].(common.Address), p, args[1].(*big.Int))
		}
	}
	r.Handle("setAssetAlpha", setter(ParamAlpha))
	r.Handle("setAssetBeta", setter(ParamBeta))
	r.Handle("setAssetSigma", setter(ParamSigma))
	r.Handle("setAssetLowerBoundMul", setter(ParamLowerBoundMul))
	r.Handle("setAssetUpperBoundMul", setter(ParamUpperBoundMul))
	r.Handle("marginRequirement", func(env *host.Env, args []any) ([]any, error) {
		o := decodeOrder(args[0])
		v, err := e.marginRequirement(env, o, args[1].(*big.Int), args[2].(*big.Int), args[3].(bool))
		return []any{v}, err
	})
}

// GetMakerAmount scales a taker amount to the maker side, rounding up.
func GetMakerAmount(orderMakerAmount, orderTakerAmount, swapTakerAmount *big.Int) (*big.Int, error) {
	if orderTakerAmount.Sign() == 0 {
		return nil, fmt.Errorf("engine: zero order taker amount")
	}
	num := new(big.Int).Mul(swapTakerAmount, orderMakerAmount)
	num.Add(num, orderTakerAmount)
	num.Sub(num, big.NewInt(1))
	return checkUint256(num.Quo(num, orderTakerAmount))
}

// GetTakerAmount scales a maker amount to the taker side, rounding down.
func GetTakerAmount(orderMakerAmount, orderTakerAmount, swapMakerAmount *big.Int) (*big.Int, error) {
	if orderMakerAmount.Sign() == 0 {
		return nil, fmt.Errorf("engine: zero order maker amount")
	}
	num := new(big.Int).Mul(swapMakerAmount, orderTakerAmount)
	return checkUint256(num.Quo(num, orderMakerAmount))
}

func checkUint256(v *big.Int) (*big.Int, error) {
	if v.Sign() < 0 || v.Cmp(math.MaxBig256) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrAmountOverflow, v)
	}
	return v, nil
}
