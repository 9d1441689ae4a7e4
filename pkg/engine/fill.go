package engine

import (
	"errors"
	"fmt"
	"math"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/irswap/pkg/calldata"
	"github.com/uhyunpark/irswap/pkg/host"
	"github.com/uhyunpark/irswap/pkg/margin"
	"github.com/uhyunpark/irswap/pkg/order"
	"github.com/uhyunpark/irswap/pkg/predicate"
	"github.com/uhyunpark/irswap/pkg/token"
)

// fill executes one fill inside env. Any error leaves the transaction to
// be discarded by the caller.
func (e *Engine) fill(env *host.Env, req FillRequest) (*Fill, error) {
	o := req.Order
	if o == nil {
		return nil, fmt.Errorf("engine: nil order")
	}
	if err := o.Validate(); err != nil {
		return nil, err
	}
	hash, err := e.hasher.Hash(o)
	if err != nil {
		return nil, err
	}
	signer, err := e.hasher.Signer(o, req.Signature)
	if err != nil || signer != o.Maker {
		return nil, ErrBadSignature
	}

	making, taking := new(big.Int).Set(orZero(req.MakerAmount)), new(big.Int).Set(orZero(req.TakerAmount))
	if (making.Sign() == 0) == (taking.Sign() == 0) {
		return nil, ErrAmbiguousFillDirection
	}
	if o.IsPrivate() && o.AllowedSender != env.Caller() {
		return nil, ErrPrivateOrder
	}
	ok, err := predicate.Evaluate(env, env.Self(), o.Predicate)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPredicateFalse, err)
	}
	if !ok {
		return nil, ErrPredicateFalse
	}

	st := env.Storage()
	makerRef, takerRef := o.ReferenceAmounts()
	remaining, seen, err := st.GetBig(remainingKey(hash))
	if err != nil {
		return nil, err
	}
	if !seen {
		remaining = new(big.Int).Set(makerRef)
	}
	if remaining.Sign() == 0 {
		return nil, fmt.Errorf("%w: order is filled or cancelled", ErrWrongAmount)
	}

	if making.Sign() > 0 {
		if making.Cmp(remaining) > 0 {
			making.Set(remaining)
		}
		if taking, err = e.resolve(env, o.GetTakerAmount, making, makerRef, takerRef); err != nil {
			return nil, err
		}
		if req.Threshold != nil && taking.Cmp(req.Threshold) > 0 {
			return nil, fmt.Errorf("%w: taking %s > %s", ErrThresholdNotMet, taking, req.Threshold)
		}
	} else {
		if making, err = e.resolve(env, o.GetMakerAmount, taking, takerRef, makerRef); err != nil {
			return nil, err
		}
		if making.Cmp(remaining) > 0 {
			making.Set(remaining)
			if taking, err = e.resolve(env, o.GetTakerAmount, making, makerRef, takerRef); err != nil {
				return nil, err
			}
		}
		if req.Threshold != nil && making.Cmp(req.Threshold) < 0 {
			return nil, fmt.Errorf("%w: making %s < %s", ErrThresholdNotMet, making, req.Threshold)
		}
	}
	if making.Sign() == 0 || taking.Sign() == 0 {
		return nil, ErrZeroAmountSwap
	}

	left := new(big.Int).Sub(remaining, making)
	if err := st.SetBig(remainingKey(hash), left); err != nil {
		return nil, err
	}

	if !seen && len(o.Permit) > 0 {
		if err := runPermit(env, o.Permit); err != nil {
			return nil, err
		}
	}
	if len(req.Permit) > 0 {
		if err := runPermit(env, req.Permit); err != nil {
			return nil, err
		}
	}

	target := req.Target
	if target == (common.Address{}) {
		target = env.Caller()
	}
	fixed, variable := o.Legs(making, taking)
	if err := credit(env, hash, o.EffectiveReceiver(), fixed, variable); err != nil {
		return nil, err
	}
	if err := credit(env, hash, target, fixed, variable); err != nil {
		return nil, err
	}

	assetParams, err := loadAsset(env, o.Asset)
	if err != nil {
		return nil, err
	}
	makerMargin, err := e.margin(env, o, hash, assetParams, fixed, variable, !o.IsFixedTaker)
	if err != nil {
		return nil, err
	}
	takerMargin, err := e.margin(env, o, hash, assetParams, fixed, variable, o.IsFixedTaker)
	if err != nil {
		return nil, err
	}
	if err := pull(env, o.Asset, o.Maker, makerMargin, o.MakerAssetData); err != nil {
		return nil, fmt.Errorf("maker margin: %w", err)
	}
	if err := pull(env, o.Asset, env.Caller(), takerMargin, o.TakerAssetData); err != nil {
		return nil, fmt.Errorf("taker margin: %w", err)
	}

	if len(o.Interaction) > 0 {
		to, data, err := calldata.SplitTarget(o.Interaction)
		if err != nil {
			return nil, err
		}
		input, err := PackNotifyFillOrder(env.Caller(), o.Asset, o.UnderlyingAsset, o.IsFixedTaker, making, taking, data)
		if err != nil {
			return nil, err
		}
		if _, err := env.Call(to, input); err != nil {
			return nil, fmt.Errorf("interaction: %w", err)
		}
	}

	seq, err := st.GetUint64(keyFillSeq)
	if err != nil {
		return nil, err
	}
	seq++
	if err := st.SetUint64(keyFillSeq, seq); err != nil {
		return nil, err
	}
	f := &Fill{
		Seq:            seq,
		OrderHash:      hash,
		Maker:          o.Maker,
		Receiver:       o.EffectiveReceiver(),
		Taker:          env.Caller(),
		Target:         target,
		MakerAmount:    making,
		TakerAmount:    taking,
		Remaining:      left,
		FixedTokens:    fixed,
		VariableTokens: variable,
		MakerMargin:    makerMargin,
		TakerMargin:    takerMargin,
		Time:           env.Time(),
	}
	if err := st.SetJSON(fillKey(hash, seq), f); err != nil {
		return nil, err
	}
	if err := env.Emit(EventOrderFilled, f); err != nil {
		return nil, err
	}
	return f, nil
}

// resolve runs a getter template against the engine itself.
func (e *Engine) resolve(env *host.Env, template []byte, amount, referenceIn, referenceOut *big.Int) (*big.Int, error) {
	v, err := calldata.Resolve(env, env.Self(), template, amount, referenceIn, referenceOut)
	if errors.Is(err, calldata.ErrAmbiguousAmount) {
		return nil, fmt.Errorf("%w: %w", ErrWrongAmount, err)
	}
	return v, err
}

// runPermit executes a target-prefixed permit blob.
func runPermit(env *host.Env, blob []byte) error {
	to, args, err := calldata.SplitTarget(blob)
	if err != nil {
		return err
	}
	_, err = env.Call(to, token.PermitCall(args))
	return err
}

func credit(env *host.Env, hash common.Hash, who common.Address, fixed, variable *big.Int) error {
	p, err := loadParticipant(env, hash, who)
	if err != nil {
		return err
	}
	p.FixedTokens.Add(p.FixedTokens, fixed)
	p.VariableTokens.Add(p.VariableTokens, variable)
	return env.Storage().SetJSON(participantKey(hash, who), p)
}

func loadParticipant(env *host.Env, hash common.Hash, who common.Address) (Participant, error) {
	var p Participant
	if _, err := env.Storage().GetJSON(participantKey(hash, who), &p); err != nil {
		return Participant{}, err
	}
	p.FixedTokens = new(big.Int).Set(orZero(p.FixedTokens))
	p.VariableTokens = new(big.Int).Set(orZero(p.VariableTokens))
	return p, nil
}

// pull moves amount of asset from one party to the engine. suffix is
// appended to the transferFrom calldata untouched.
func pull(env *host.Env, asset, from common.Address, amount *big.Int, suffix []byte) error {
	if amount.Sign() == 0 {
		return nil
	}
	input, err := token.Pack("transferFrom", from, env.Self(), amount)
	if err != nil {
		return err
	}
	out, err := env.Call(asset, append(input, suffix...))
	if err != nil {
		return err
	}
	ok, err := calldata.DecodeBool(out)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrTransferFailed, err)
	}
	if !ok {
		return ErrTransferFailed
	}
	return nil
}

// margin sizes the collateral for one side of a fill of o.
func (e *Engine) margin(env *host.Env, o *order.Order, hash common.Hash, params AssetParams, fixed, variable *big.Int, forFixedTaker bool) (*big.Int, error) {
	oi := margin.OracleInfo{
		Accessor:  e.rates,
		Timestamp: env.Time(),
		Lookback:  uint64(e.cfg.APYLookback / time.Second),
	}
	info := margin.OrderInfo{
		OrderHash:      hash,
		BeginTimestamp: clampUint64(o.BeginTimestamp),
		EndTimestamp:   clampUint64(o.EndTimestamp),
		Term:           orZero(o.T),
		FixedTokens:    fixed,
		VariableTokens: variable,
		ForFixedTaker:  forFixedTaker,
	}
	return margin.GetMarginReqWithMuls(oi, info, params.info(o), e.cfg.LowerMul, e.cfg.UpperMul)
}

func (e *Engine) marginRequirement(env *host.Env, o *order.Order, making, taking *big.Int, forFixedTaker bool) (*big.Int, error) {
	if err := o.Validate(); err != nil {
		return nil, err
	}
	hash, err := e.hasher.Hash(o)
	if err != nil {
		return nil, err
	}
	params, err := loadAsset(env, o.Asset)
	if err != nil {
		return nil, err
	}
	fixed, variable := o.Legs(orZero(making), orZero(taking))
	return e.margin(env, o, hash, params, fixed, variable, forFixedTaker)
}

func clampUint64(x *big.Int) uint64 {
	x = orZero(x)
	if !x.IsUint64() {
		return math.MaxUint64
	}
	return x.Uint64()
}

// cancel zeroes the remainder of an order the caller made.
func (e *Engine) cancel(env *host.Env, o *order.Order) (*Canceled, error) {
	if o == nil {
		return nil, fmt.Errorf("engine: nil order")
	}
	if env.Caller() != o.Maker {
		return nil, ErrAccessDenied
	}
	hash, err := e.hasher.Hash(o)
	if err != nil {
		return nil, err
	}
	st := env.Storage()
	before, seen, err := st.GetBig(remainingKey(hash))
	if err != nil {
		return nil, err
	}
	if !seen {
		before, _ = o.ReferenceAmounts()
	}
	if err := st.SetBig(remainingKey(hash), new(big.Int)); err != nil {
		return nil, err
	}
	c := &Canceled{OrderHash: hash, Maker: o.Maker, RemainingBefore: before}
	if before.Sign() > 0 {
		if err := env.Emit(EventOrderCanceled, c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func loadAsset(env *host.Env, asset common.Address) (AssetParams, error) {
	var p AssetParams
	_, err := env.Storage().GetJSON(assetKey(asset), &p)
	return p, err
}

// setAsset updates one margin parameter of asset. Only the owner may.
func (e *Engine) setAsset(env *host.Env, asset common.Address, param Param, value *big.Int) error {
	if env.Caller() != e.cfg.Owner {
		return ErrAccessDenied
	}
	p, err := loadAsset(env, asset)
	if err != nil {
		return err
	}
	v := new(big.Int).Set(value)
	switch param {
	case ParamAlpha:
		p.Alpha = v
	case ParamBeta:
		p.Beta = v
	case ParamSigma:
		p.Sigma = v
	case ParamLowerBoundMul:
		p.LowerBoundMul = v
	case ParamUpperBoundMul:
		p.UpperBoundMul = v
	default:
		return fmt.Errorf("engine: unknown asset parameter %q", param)
	}
	if err := p.info(&order.Order{Asset: asset}).Validate(); err != nil {
		return err
	}
	if err := env.Storage().SetJSON(assetKey(asset), p); err != nil {
		return err
	}
	return env.Emit(EventAssetUpdated, AssetUpdated{Asset: asset, Param: param, Value: v})
}
