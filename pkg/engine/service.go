package engine

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/uhyunpark/irswap/pkg/calldata"
	"github.com/uhyunpark/irswap/pkg/host"
	"github.com/uhyunpark/irswap/pkg/nonce"
	"github.com/uhyunpark/irswap/pkg/oracle"
	"github.com/uhyunpark/irswap/pkg/order"
	"github.com/uhyunpark/irswap/pkg/storage"
	"github.com/uhyunpark/irswap/pkg/token"
)

// FillOrder fills req.Order on behalf of taker as one transaction.
func (e *Engine) FillOrder(ctx context.Context, taker common.Address, req FillRequest) (*Fill, error) {
	started := time.Now()
	var f *Fill
	err := e.host.Execute(ctx, taker, e.cfg.Address, func(env *host.Env) error {
		var err error
		f, err = e.fill(env, req)
		return err
	})
	if err != nil {
		e.metrics.ObserveFill(started, rejectReason(err))
		e.logger.Debug("fill rejected", zap.String("taker", taker.Hex()), zap.Error(err))
		return nil, err
	}
	e.metrics.ObserveFill(started, "")
	e.metrics.ObserveMargin("maker", bigFloat(f.MakerMargin))
	e.metrics.ObserveMargin("taker", bigFloat(f.TakerMargin))
	e.logger.Debug("order filled",
		zap.String("order", f.OrderHash.Hex()),
		zap.String("taker", taker.Hex()),
		zap.Stringer("making", f.MakerAmount),
		zap.Stringer("taking", f.TakerAmount),
		zap.Stringer("remaining", f.Remaining),
	)
	return f, nil
}

// CancelOrder zeroes the remainder of o. Only its maker may.
func (e *Engine) CancelOrder(ctx context.Context, maker common.Address, o *order.Order) (*Canceled, error) {
	var c *Canceled
	err := e.host.Execute(ctx, maker, e.cfg.Address, func(env *host.Env) error {
		var err error
		c, err = e.cancel(env, o)
		return err
	})
	if err != nil {
		return nil, err
	}
	e.metrics.ObserveCancel()
	e.logger.Debug("order cancelled", zap.String("order", c.OrderHash.Hex()), zap.Stringer("remaining", c.RemainingBefore))
	return c, nil
}

func (e *Engine) IncreaseNonce(ctx context.Context, maker common.Address) (uint64, error) {
	return e.AdvanceNonce(ctx, maker, 1)
}

// AdvanceNonce bumps maker's nonce by amount, revoking every order
// pinned to the old value.
func (e *Engine) AdvanceNonce(ctx context.Context, maker common.Address, amount uint8) (uint64, error) {
	var n uint64
	err := e.host.Execute(ctx, maker, e.cfg.Address, func(env *host.Env) error {
		var err error
		n, err = nonce.Advance(env, amount)
		return err
	})
	if err != nil {
		return 0, err
	}
	e.metrics.ObserveNonceIncrement()
	return n, nil
}

func (e *Engine) Nonce(ctx context.Context, maker common.Address) (uint64, error) {
	var n uint64
	err := e.view(ctx, func(env *host.Env) error {
		var err error
		n, err = nonce.Get(env.Storage(), maker)
		return err
	})
	return n, err
}

// Remaining returns the unfilled maker amount of hash. known is false for
// an order that was never filled or cancelled.
func (e *Engine) Remaining(ctx context.Context, hash common.Hash) (amount *big.Int, known bool, err error) {
	err = e.view(ctx, func(env *host.Env) error {
		amount, known, err = env.Storage().GetBig(remainingKey(hash))
		return err
	})
	return amount, known, err
}

// RemainingFor is Remaining with the order's full maker amount standing
// in for unseen orders.
func (e *Engine) RemainingFor(ctx context.Context, o *order.Order) (*big.Int, error) {
	hash, err := e.hasher.Hash(o)
	if err != nil {
		return nil, err
	}
	rem, known, err := e.Remaining(ctx, hash)
	if err != nil {
		return nil, err
	}
	if !known {
		rem, _ = o.ReferenceAmounts()
	}
	return rem, nil
}

func (e *Engine) Participant(ctx context.Context, hash common.Hash, who common.Address) (Participant, error) {
	var p Participant
	err := e.view(ctx, func(env *host.Env) error {
		var err error
		p, err = loadParticipant(env, hash, who)
		return err
	})
	return p, err
}

// Now is the current block time in unix seconds.
func (e *Engine) Now() uint64 { return e.host.Now() }

func (e *Engine) HashOrder(o *order.Order) (common.Hash, error) { return e.hasher.Hash(o) }

func (e *Engine) DomainSeparator() common.Hash { return e.hasher.DomainSeparator() }

// SetAssetParam sets one margin parameter; sender must be the owner.
func (e *Engine) SetAssetParam(ctx context.Context, sender, asset common.Address, param Param, value *big.Int) error {
	err := e.host.Execute(ctx, sender, e.cfg.Address, func(env *host.Env) error {
		return e.setAsset(env, asset, param, value)
	})
	if err == nil {
		e.logger.Info("asset parameter updated", zap.String("asset", asset.Hex()), zap.String("param", string(param)), zap.Stringer("value", value))
	}
	return err
}

func (e *Engine) Asset(ctx context.Context, asset common.Address) (AssetParams, error) {
	var p AssetParams
	err := e.view(ctx, func(env *host.Env) error {
		var err error
		p, err = loadAsset(env, asset)
		return err
	})
	return p, err
}

// MarginRequirement quotes the margin one side of a fill of o would post
// at the current block time.
func (e *Engine) MarginRequirement(ctx context.Context, o *order.Order, making, taking *big.Int, forFixedTaker bool) (*big.Int, error) {
	var m *big.Int
	err := e.view(ctx, func(env *host.Env) error {
		var err error
		m, err = e.marginRequirement(env, o, making, taking, forFixedTaker)
		return err
	})
	return m, err
}

// Fills lists the committed fills of hash in execution order.
func (e *Engine) Fills(ctx context.Context, hash common.Hash) ([]Fill, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var (
		out       []Fill
		decodeErr error
	)
	prefix := storage.ContractKey(e.cfg.Address, fillPrefix(hash))
	err := e.host.Backend().Iterate(prefix, func(_, v []byte) bool {
		var f Fill
		if decodeErr = json.Unmarshal(v, &f); decodeErr != nil {
			return false
		}
		out = append(out, f)
		return true
	})
	if err != nil {
		return nil, err
	}
	return out, decodeErr
}

func (e *Engine) view(ctx context.Context, fn func(env *host.Env) error) error {
	return e.host.View(ctx, e.cfg.Address, e.cfg.Address, fn)
}

// rejectReason maps a fill error onto a bounded label set.
func rejectReason(err error) string {
	for _, r := range []struct {
		err   error
		label string
	}{
		{ErrBadSignature, "bad_signature"},
		{ErrAmbiguousFillDirection, "ambiguous_direction"},
		{ErrPrivateOrder, "private_order"},
		{ErrPredicateFalse, "predicate_false"},
		{ErrZeroAmountSwap, "zero_amount"},
		{ErrThresholdNotMet, "threshold"},
		{ErrWrongAmount, "wrong_amount"},
		{calldata.ErrGetAmountCallFailed, "getter_failed"},
		{token.ErrPermitExpired, "permit"},
		{token.ErrPermitInvalidSignature, "permit"},
		{token.ErrInsufficientBalance, "margin_transfer"},
		{token.ErrInsufficientAllowance, "margin_transfer"},
		{ErrTransferFailed, "margin_transfer"},
		{oracle.ErrOracleDataUnavailable, "oracle"},
		{oracle.ErrInvalidWindow, "oracle"},
		{order.ErrInvalidTimestamps, "invalid_order"},
	} {
		if errors.Is(err, r.err) {
			return r.label
		}
	}
	return "other"
}

func bigFloat(x *big.Int) float64 {
	if x == nil {
		return 0
	}
	f, _ := new(big.Float).SetInt(x).Float64()
	return f
}
