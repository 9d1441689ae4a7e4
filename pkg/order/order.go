// Package order defines the signed IRS limit order and its typed-data hash.
package order

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/uhyunpark/irswap/pkg/crypto"
)

const (
	DomainName    = "IRS Limit Order Protocol"
	DomainVersion = "1"
	PrimaryType   = "Order"
)

var ErrInvalidTimestamps = errors.New("order: beginTimestamp must be before endTimestamp")

// Types is the EIP-712 type set. Field order is part of the hash.
var Types = apitypes.Types{
	PrimaryType: []apitypes.Type{
		{Name: "salt", Type: "uint256"},
		{Name: "asset", Type: "address"},
		{Name: "underlyingAsset", Type: "address"},
		{Name: "maker", Type: "address"},
		{Name: "receiver", Type: "address"},
		{Name: "allowedSender", Type: "address"},
		{Name: "fixedTokens", Type: "uint256"},
		{Name: "variableTokens", Type: "uint256"},
		{Name: "isFixedTaker", Type: "bool"},
		{Name: "beginTimestamp", Type: "uint256"},
		{Name: "endTimestamp", Type: "uint256"},
		{Name: "t", Type: "int128"},
		{Name: "makerAssetData", Type: "bytes"},
		{Name: "takerAssetData", Type: "bytes"},
		{Name: "getMakerAmount", Type: "bytes"},
		{Name: "getTakerAmount", Type: "bytes"},
		{Name: "predicate", Type: "bytes"},
		{Name: "permit", Type: "bytes"},
		{Name: "interaction", Type: "bytes"},
	},
}

// Order is immutable once signed. Integers are JSON numbers, byte blobs
// are 0x-prefixed hex.
type Order struct {
	Salt            *big.Int       `json:"salt"`
	Asset           common.Address `json:"asset"`
	UnderlyingAsset common.Address `json:"underlyingAsset"`
	Maker           common.Address `json:"maker"`
	Receiver        common.Address `json:"receiver"`
	AllowedSender   common.Address `json:"allowedSender"`
	FixedTokens     *big.Int       `json:"fixedTokens"`
	VariableTokens  *big.Int       `json:"variableTokens"`
	IsFixedTaker    bool           `json:"isFixedTaker"`
	BeginTimestamp  *big.Int       `json:"beginTimestamp"`
	EndTimestamp    *big.Int       `json:"endTimestamp"`
	T               *big.Int       `json:"t"` // 64.64 term factor
	MakerAssetData  hexutil.Bytes  `json:"makerAssetData"`
	TakerAssetData  hexutil.Bytes  `json:"takerAssetData"`
	GetMakerAmount  hexutil.Bytes  `json:"getMakerAmount"`
	GetTakerAmount  hexutil.Bytes  `json:"getTakerAmount"`
	Predicate       hexutil.Bytes  `json:"predicate"`
	Permit          hexutil.Bytes  `json:"permit"`
	Interaction     hexutil.Bytes  `json:"interaction"`
}

func orZero(x *big.Int) *big.Int {
	if x == nil {
		return new(big.Int)
	}
	return x
}

// Validate checks the structural invariants that do not need state.
func (o *Order) Validate() error {
	if orZero(o.BeginTimestamp).Cmp(orZero(o.EndTimestamp)) >= 0 {
		return ErrInvalidTimestamps
	}
	for name, v := range map[string]*big.Int{
		"salt":           o.Salt,
		"fixedTokens":    o.FixedTokens,
		"variableTokens": o.VariableTokens,
		"beginTimestamp": o.BeginTimestamp,
	} {
		if orZero(v).Sign() < 0 {
			return fmt.Errorf("order: %s must not be negative", name)
		}
	}
	return nil
}

// ReferenceAmounts returns the order's maker and taker totals. The maker
// gives the leg the taker receives.
func (o *Order) ReferenceAmounts() (makerAmount, takerAmount *big.Int) {
	if o.IsFixedTaker {
		return new(big.Int).Set(orZero(o.FixedTokens)), new(big.Int).Set(orZero(o.VariableTokens))
	}
	return new(big.Int).Set(orZero(o.VariableTokens)), new(big.Int).Set(orZero(o.FixedTokens))
}

// Legs maps resolved maker/taker amounts of a fill onto the fixed and
// variable legs.
func (o *Order) Legs(makerAmount, takerAmount *big.Int) (fixed, variable *big.Int) {
	if o.IsFixedTaker {
		return makerAmount, takerAmount
	}
	return takerAmount, makerAmount
}

// EffectiveReceiver is the receiver, or the maker when none is set.
func (o *Order) EffectiveReceiver() common.Address {
	if o.Receiver == (common.Address{}) {
		return o.Maker
	}
	return o.Receiver
}

// IsPrivate reports whether only AllowedSender may fill.
func (o *Order) IsPrivate() bool {
	return o.AllowedSender != (common.Address{})
}

// Message is the EIP-712 message of the order.
func (o *Order) Message() apitypes.TypedDataMessage {
	return apitypes.TypedDataMessage{
		"salt":            orZero(o.Salt),
		"asset":           o.Asset.Hex(),
		"underlyingAsset": o.UnderlyingAsset.Hex(),
		"maker":           o.Maker.Hex(),
		"receiver":        o.Receiver.Hex(),
		"allowedSender":   o.AllowedSender.Hex(),
		"fixedTokens":     orZero(o.FixedTokens),
		"variableTokens":  orZero(o.VariableTokens),
		"isFixedTaker":    o.IsFixedTaker,
		"beginTimestamp":  orZero(o.BeginTimestamp),
		"endTimestamp":    orZero(o.EndTimestamp),
		"t":               orZero(o.T),
		"makerAssetData":  hexutil.Encode(o.MakerAssetData),
		"takerAssetData":  hexutil.Encode(o.TakerAssetData),
		"getMakerAmount":  hexutil.Encode(o.GetMakerAmount),
		"getTakerAmount":  hexutil.Encode(o.GetTakerAmount),
		"predicate":       hexutil.Encode(o.Predicate),
		"permit":          hexutil.Encode(o.Permit),
		"interaction":     hexutil.Encode(o.Interaction),
	}
}

// Hasher computes order hashes for one deployment.
type Hasher struct {
	typed *crypto.TypedHasher
}

// NewHasher builds the hasher for the protocol deployed at verifyingContract.
func NewHasher(chainID *big.Int, verifyingContract common.Address) (*Hasher, error) {
	typed, err := crypto.NewTypedHasher(crypto.Domain{
		Name:              DomainName,
		Version:           DomainVersion,
		ChainID:           chainID,
		VerifyingContract: verifyingContract,
	}, Types)
	if err != nil {
		return nil, err
	}
	return &Hasher{typed: typed}, nil
}

func (h *Hasher) DomainSeparator() common.Hash { return h.typed.DomainSeparator() }

// Hash is the digest a maker signs and the key of all per-order state.
func (h *Hasher) Hash(o *Order) (common.Hash, error) {
	return h.typed.Digest(PrimaryType, o.Message())
}

// Sign returns the maker's signature over o.
func (h *Hasher) Sign(signer *crypto.Signer, o *Order) ([]byte, error) {
	return h.typed.Sign(signer, PrimaryType, o.Message())
}

// Signer recovers the address that produced signature for o.
func (h *Hasher) Signer(o *Order, signature []byte) (common.Address, error) {
	return h.typed.Recover(PrimaryType, o.Message(), signature)
}

// ToJSON renders o as eth_signTypedData_v4 input.
func (h *Hasher) ToJSON(o *Order) (string, error) {
	return h.typed.ToJSON(PrimaryType, o.Message())
}
