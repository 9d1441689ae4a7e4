package engine

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/irswap/pkg/calldata"
	"github.com/uhyunpark/irswap/pkg/nonce"
	"github.com/uhyunpark/irswap/pkg/order"
	"github.com/uhyunpark/irswap/pkg/predicate"
	"github.com/uhyunpark/irswap/pkg/pricefeed"
)

// orderTuple mirrors order.Order with the field types the ABI decoder
// produces. Field order follows order.Types.
type orderTuple struct {
	Salt            *big.Int
	Asset           common.Address
	UnderlyingAsset common.Address
	Maker           common.Address
	Receiver        common.Address
	AllowedSender   common.Address
	FixedTokens     *big.Int
	VariableTokens  *big.Int
	IsFixedTaker    bool
	BeginTimestamp  *big.Int
	EndTimestamp    *big.Int
	T               *big.Int
	MakerAssetData  []byte
	TakerAssetData  []byte
	GetMakerAmount  []byte
	GetTakerAmount  []byte
	Predicate       []byte
	Permit          []byte
	Interaction     []byte
}

func toTuple(o *order.Order) orderTuple {
	return orderTuple{
		Salt:            orZero(o.Salt),
		Asset:           o.Asset,
		UnderlyingAsset: o.UnderlyingAsset,
		Maker:           o.Maker,
		Receiver:        o.Receiver,
		AllowedSender:   o.AllowedSender,
		FixedTokens:     orZero(o.FixedTokens),
		VariableTokens:  orZero(o.VariableTokens),
		IsFixedTaker:    o.IsFixedTaker,
		BeginTimestamp:  orZero(o.BeginTimestamp),
		EndTimestamp:    orZero(o.EndTimestamp),
		T:               orZero(o.T),
		MakerAssetData:  o.MakerAssetData,
		TakerAssetData:  o.TakerAssetData,
		GetMakerAmount:  o.GetMakerAmount,
		GetTakerAmount:  o.GetTakerAmount,
		Predicate:       o.Predicate,
		Permit:          o.Permit,
		Interaction:     o.Interaction,
	}
}

func (t *orderTuple) order() *order.Order {
	return &order.Order{
		Salt:            t.Salt,
		Asset:           t.Asset,
		UnderlyingAsset: t.UnderlyingAsset,
		Maker:           t.Maker,
		Receiver:        t.Receiver,
		AllowedSender:   t.AllowedSender,
		FixedTokens:     t.FixedTokens,
		VariableTokens:  t.VariableTokens,
		IsFixedTaker:    t.IsFixedTaker,
		BeginTimestamp:  t.BeginTimestamp,
		EndTimestamp:    t.EndTimestamp,
		T:               t.T,
		MakerAssetData:  t.MakerAssetData,
		TakerAssetData:  t.TakerAssetData,
		GetMakerAmount:  t.GetMakerAmount,
		GetTakerAmount:  t.GetTakerAmount,
		Predicate:       t.Predicate,
		Permit:          t.Permit,
		Interaction:     t.Interaction,
	}
}

func decodeOrder(arg any) *order.Order {
	return abi.ConvertType(arg, new(orderTuple)).(*orderTuple).order()
}

// orderComponents renders the Order tuple from the typed-data field list,
// so the ABI and the EIP-712 type cannot drift apart.
func orderComponents() string {
	fields := order.Types[order.PrimaryType]
	parts := make([]string, len(fields))
	for i, f := range fields {
		parts[i] = fmt.Sprintf(`{"name":%q,"type":%q}`, f.Name, f.Type)
	}
	return `{"name":"order","type":"tuple","components":[` + strings.Join(parts, ",") + `]}`
}

const engineMethods = `
	{"type":"function","name":"fillOrder","inputs":[%[1]s,{"name":"signature","type":"bytes"},{"name":"makingAmount","type":"uint256"},{"name":"takingAmount","type":"uint256"},{"name":"thresholdAmount","type":"uint256"}],"outputs":[{"name":"","type":"uint256"},{"name":"","type":"uint256"}]},
	{"type":"function","name":"fillOrderTo","inputs":[%[1]s,{"name":"signature","type":"bytes"},{"name":"makingAmount","type":"uint256"},{"name":"takingAmount","type":"uint256"},{"name":"thresholdAmount","type":"uint256"},{"name":"target","type":"address"}],"outputs":[{"name":"","type":"uint256"},{"name":"","type":"uint256"}]},
	{"type":"function","name":"fillOrderToWithPermit","inputs":[%[1]s,{"name":"signature","type":"bytes"},{"name":"makingAmount","type":"uint256"},{"name":"takingAmount","type":"uint256"},{"name":"thresholdAmount","type":"uint256"},{"name":"target","type":"address"},{"name":"permit","type":"bytes"}],"outputs":[{"name":"","type":"uint256"},{"name":"","type":"uint256"}]},
	{"type":"function","name":"cancelOrder","inputs":[%[1]s],"outputs":[]},
	{"type":"function","name":"hashOrder","stateMutability":"view","inputs":[%[1]s],"outputs":[{"name":"","type":"bytes32"}]},
	{"type":"function","name":"marginRequirement","stateMutability":"view","inputs":[%[1]s,{"name":"makingAmount","type":"uint256"},{"name":"takingAmount","type":"uint256"},{"name":"forFixedTaker","type":"bool"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"DOMAIN_SEPARATOR","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"bytes32"}]},
	{"type":"function","name":"remaining","stateMutability":"view","inputs":[{"name":"orderHash","type":"bytes32"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"orderParticipantFixedTokens","stateMutability":"view","inputs":[{"name":"orderHash","type":"bytes32"},{"name":"participant","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"orderParticipantVariableTokens","stateMutability":"view","inputs":[{"name":"orderHash","type":"bytes32"},{"name":"participant","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"getMakerAmount","stateMutability":"view","inputs":[{"name":"orderMakerAmount","type":"uint256"},{"name":"orderTakerAmount","type":"uint256"},{"name":"swapTakerAmount","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"getTakerAmount","stateMutability":"view","inputs":[{"name":"orderMakerAmount","type":"uint256"},{"name":"orderTakerAmount","type":"uint256"},{"name":"swapMakerAmount","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"setAssetAlpha","inputs":[{"name":"asset","type":"address"},{"name":"value","type":"int128"}],"outputs":[]},
	{"type":"function","name":"setAssetBeta","inputs":[{"name":"asset","type":"address"},{"name":"value","type":"int128"}],"outputs":[]},
	{"type":"function","name":"setAssetSigma","inputs":[{"name":"asset","type":"address"},{"name":"value","type":"int128"}],"outputs":[]},
	{"type":"function","name":"setAssetLowerBoundMul","inputs":[{"name":"asset","type":"address"},{"name":"value","type":"int128"}],"outputs":[]},
	{"type":"function","name":"setAssetUpperBoundMul","inputs":[{"name":"asset","type":"address"},{"name":"value","type":"int128"}],"outputs":[]}`

// ABI is the full engine interface: its own methods plus the predicate
// helpers, the nonce table and the price calculators it hosts.
var ABI = "[" + strings.Join([]string{
	fmt.Sprintf(engineMethods, orderComponents()),
	predicate.ABI,
	nonce.ABI,
	pricefeed.ABI,
}, ",") + "]"

// InteractionABI is implemented by contracts named in an order's
// interaction field.
const InteractionABI = `[
	{"type":"function","name":"notifyFillOrder","inputs":[
		{"name":"taker","type":"address"},
		{"name":"asset","type":"address"},
		{"name":"underlyingAsset","type":"address"},
		{"name":"isFixedTaker","type":"bool"},
		{"name":"makingAmount","type":"uint256"},
		{"name":"takingAmount","type":"uint256"},
		{"name":"interactiveData","type":"bytes"}],"outputs":[]}
]`

var (
	engineABI      = mustParse(ABI)
	interactionABI = mustParse(InteractionABI)
)

func mustParse(s string) abi.ABI {
	a, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic(err)
	}
	return a
}

// Pack encodes a call to an engine method. Order arguments are passed as
// *order.Order.
func Pack(method string, args ...any) ([]byte, error) {
	for i, a := range args {
		if o, ok := a.(*order.Order); ok {
			args[i] = toTuple(o)
		}
	}
	return engineABI.Pack(method, args...)
}

// Unpack decodes the outputs of an engine method.
func Unpack(method string, out []byte) ([]any, error) {
	return engineABI.Unpack(method, out)
}

// MakerAmountTemplate is a getMakerAmount call with the amount left off.
func MakerAmountTemplate(orderMakerAmount, orderTakerAmount *big.Int) ([]byte, error) {
	return calldata.Template(&engineABI, "getMakerAmount", orderMakerAmount, orderTakerAmount)
}

// TakerAmountTemplate is a getTakerAmount call with the amount left off.
func TakerAmountTemplate(orderMakerAmount, orderTakerAmount *big.Int) ([]byte, error) {
	return calldata.Template(&engineABI, "getTakerAmount", orderMakerAmount, orderTakerAmount)
}

// PackNotifyFillOrder encodes the interaction callback.
func PackNotifyFillOrder(taker, asset, underlying common.Address, isFixedTaker bool, making, taking *big.Int, data []byte) ([]byte, error) {
	return interactionABI.Pack("notifyFillOrder", taker, asset, underlying, isFixedTaker, making, taking, data)
}
