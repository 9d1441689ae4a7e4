package engine

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/irswap/pkg/margin"
	"github.com/uhyunpark/irswap/pkg/order"
)

const (
	EventOrderFilled   = "OrderFilled"
	EventOrderCanceled = "OrderCanceled"
	EventAssetUpdated  = "AssetUpdated"
)

// FillRequest is one presentation of a signed order.
type FillRequest struct {
	Order       *order.Order
	Signature   []byte
	MakerAmount *big.Int
	TakerAmount *big.Int
	// Threshold bounds the resolved counter-amount. A nil threshold skips
	// the check; zero is a real bound.
	Threshold *big.Int
	// Target is credited with the taker's legs. Zero means the caller.
	Target common.Address
	// Permit is a taker permit blob run before margin is pulled.
	Permit []byte
}

// Fill is the committed record of one fill and the OrderFilled payload.
type Fill struct {
	Seq            uint64         `json:"seq"`
	OrderHash      common.Hash    `json:"orderHash"`
	Maker          common.Address `json:"maker"`
	Receiver       common.Address `json:"receiver"`
	Taker          common.Address `json:"taker"`
	Target         common.Address `json:"target"`
	MakerAmount    *big.Int       `json:"makerAmount"`
	TakerAmount    *big.Int       `json:"takerAmount"`
	Remaining      *big.Int       `json:"remaining"`
	FixedTokens    *big.Int       `json:"fixedTokens"`
	VariableTokens *big.Int       `json:"variableTokens"`
	MakerMargin    *big.Int       `json:"makerMargin"`
	TakerMargin    *big.Int       `json:"takerMargin"`
	Time           uint64         `json:"time"`
}

type Canceled struct {
	OrderHash       common.Hash    `json:"orderHash"`
	Maker           common.Address `json:"maker"`
	RemainingBefore *big.Int       `json:"remainingBefore"`
}

// Participant is what one address has been credited by one order across
// all of its fills. It only grows.
type Participant struct {
	FixedTokens    *big.Int `json:"fixedTokens"`
	VariableTokens *big.Int `json:"variableTokens"`
}

// AssetParams are the owner-set margin parameters of an asset, 64.64.
type AssetParams struct {
	Alpha         *big.Int `json:"alpha"`
	Beta          *big.Int `json:"beta"`
	Sigma         *big.Int `json:"sigma"`
	LowerBoundMul *big.Int `json:"lowerBoundMul"`
	UpperBoundMul *big.Int `json:"upperBoundMul"`
}

func (p AssetParams) info(o *order.Order) margin.AssetInfo {
	return margin.AssetInfo{
		Asset:           o.Asset,
		UnderlyingAsset: o.UnderlyingAsset,
		Alpha:           orZero(p.Alpha),
		Beta:            orZero(p.Beta),
		Sigma:           orZero(p.Sigma),
		LowerBoundMul:   orZero(p.LowerBoundMul),
		UpperBoundMul:   orZero(p.UpperBoundMul),
	}
}

// Param names one asset parameter.
type Param string

const (
	ParamAlpha         Param = "alpha"
	ParamBeta          Param = "beta"
	ParamSigma         Param = "sigma"
	ParamLowerBoundMul Param = "lowerBoundMul"
	ParamUpperBoundMul Param = "upperBoundMul"
)

type AssetUpdated struct {
	Asset common.Address `json:"asset"`
	Param Param          `json:"param"`
	Value *big.Int       `json:"value"`
}

func orZero(x *big.Int) *big.Int {
	if x == nil {
		return new(big.Int)
	}
	return x
}
