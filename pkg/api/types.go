package api

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/uhyunpark/irswap/pkg/order"
	"github.com/uhyunpark/irswap/pkg/orderbook"
)

// API request and response types. Integers are JSON numbers decoded into
// *big.Int, byte blobs are 0x-prefixed hex.

// ==============================
// REST Request Types
// ==============================

// HashRequest is the payload for POST /api/v1/orders/hash.
type HashRequest struct {
	Order *order.Order `json:"order"`
}

// SubmitOrderRequest is the payload for POST /api/v1/orders. The maker's
// order signature is all the authorization a resting order needs.
type SubmitOrderRequest struct {
	Order     *order.Order  `json:"order"`
	Signature hexutil.Bytes `json:"signature"`
}

// FillRequest is the payload for POST /api/v1/orders/fill. Sender and
// SenderSignature identify the taker; see ActionMessage.
type FillRequest struct {
	Order           *order.Order   `json:"order"`
	Signature       hexutil.Bytes  `json:"signature"` // maker's EIP-712 signature
	MakerAmount     *big.Int       `json:"makerAmount"`
	TakerAmount     *big.Int       `json:"takerAmount"`
	Threshold       *big.Int       `json:"threshold,omitempty"` // omitted = unbounded
	Target          common.Address `json:"target"`
	Permit          hexutil.Bytes  `json:"permit,omitempty"`
	Sender          common.Address `json:"sender"`
	SenderSignature hexutil.Bytes  `json:"senderSignature"`
}

// CancelRequest is the payload for POST /api/v1/orders/cancel.
type CancelRequest struct {
	Order           *order.Order  `json:"order"`
	SenderSignature hexutil.Bytes `json:"senderSignature"`
}

// NonceRequest is the payload for POST /api/v1/nonces/{address}/advance.
type NonceRequest struct {
	Amount          uint8         `json:"amount"`
	SenderSignature hexutil.Bytes `json:"senderSignature"`
}

// MarginQuoteRequest is the payload for POST /api/v1/margin/quote.
type MarginQuoteRequest struct {
	Order         *order.Order `json:"order"`
	MakerAmount   *big.Int     `json:"makerAmount"`
	TakerAmount   *big.Int     `json:"takerAmount"`
	ForFixedTaker bool         `json:"forFixedTaker"`
}

// ==============================
// REST Response Types
// ==============================

// OrderHashResponse carries the hash and the typed data a wallet signs.
type OrderHashResponse struct {
	OrderHash common.Hash `json:"orderHash"`
	TypedData string      `json:"typedData"` // eth_signTypedData_v4 input
}

// BookEntryResponse is a resting order with its live remaining amount.
type BookEntryResponse struct {
	orderbook.Entry
	RateDecimal string   `json:"rateDecimal"`
	Remaining   *big.Int `json:"remaining"`
}

type RemainingResponse struct {
	OrderHash common.Hash `json:"orderHash"`
	Remaining *big.Int    `json:"remaining"`
	Known     bool        `json:"known"` // false until first fill or cancel
}

type ParticipantResponse struct {
	OrderHash      common.Hash    `json:"orderHash"`
	Participant    common.Address `json:"participant"`
	FixedTokens    *big.Int       `json:"fixedTokens"`
	VariableTokens *big.Int       `json:"variableTokens"`
}

type NonceResponse struct {
	Maker common.Address `json:"maker"`
	Nonce uint64         `json:"nonce"`
}

// AssetResponse renders the 64.64 parameters as decimals next to the raw
// values.
type AssetResponse struct {
	Asset         common.Address `json:"asset"`
	Alpha         string         `json:"alpha"`
	Beta          string         `json:"beta"`
	Sigma         string         `json:"sigma"`
	LowerBoundMul string         `json:"lowerBoundMul"`
	UpperBoundMul string         `json:"upperBoundMul"`
	Raw           any            `json:"raw"`
}

type MarginQuoteResponse struct {
	Margin *big.Int `json:"margin"`
}

type DomainResponse struct {
	ChainID         *big.Int       `json:"chainId"`
	Address         common.Address `json:"verifyingContract"`
	DomainSeparator common.Hash    `json:"domainSeparator"`
}

// ==============================
// WebSocket Message Types
// ==============================

// WSSubscribeRequest is sent by client to subscribe to channels
type WSSubscribeRequest struct {
	Op       string   `json:"op"`       // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"` // e.g., ["fills", "fills:0x...", "cancels"]
}

// EventUpdate wraps a committed engine event.
type EventUpdate struct {
	Type string `json:"type"` // event name, e.g. "OrderFilled"
	Time uint64 `json:"time"`
	Data any    `json:"data"`
}

// ErrorResponse is returned for all errors
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
