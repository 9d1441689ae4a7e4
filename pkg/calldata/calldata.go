// Package calldata handles the encoded call templates carried by orders.
//
// A template is ABI calldata (selector plus leading arguments) with the
// final uint256 word left off. At fill time the amount is appended as that
// word and the call is made read-only against the resolving contract.
// Blobs that address another contract carry the 20-byte target first.
package calldata

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

const WordSize = 32

var (
	ErrAmbiguousAmount     = errors.New("calldata: empty amount template on a partial fill")
	ErrGetAmountCallFailed = errors.New("calldata: amount getter call failed")
	ErrNoTarget            = errors.New("calldata: blob shorter than target address")
	ErrBadResult           = errors.New("calldata: malformed call result")
)

var maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// Caller performs read-only calls; *host.Env satisfies it.
type Caller interface {
	StaticCall(to common.Address, input []byte) ([]byte, error)
}

// CutLastArg drops the final argument word of packed calldata.
func CutLastArg(data []byte) []byte {
	if len(data) < WordSize {
		return nil
	}
	return append([]byte(nil), data[:len(data)-WordSize]...)
}

// Word encodes a non-negative integer as one ABI word.
func Word(x *big.Int) []byte {
	return common.LeftPadBytes(x.Bytes(), WordSize)
}

// AppendAmount completes a template with amount as its last argument.
func AppendAmount(template []byte, amount *big.Int) []byte {
	out := make([]byte, 0, len(template)+WordSize)
	out = append(out, template...)
	return append(out, Word(amount)...)
}

// Template packs method with all but its last argument.
func Template(a *abi.ABI, method string, args ...any) ([]byte, error) {
	packed, err := a.Pack(method, append(args, new(big.Int))...)
	if err != nil {
		return nil, err
	}
	return CutLastArg(packed), nil
}

// WithTarget prefixes data with the address it is meant for.
func WithTarget(target common.Address, data []byte) []byte {
	out := make([]byte, 0, common.AddressLength+len(data))
	out = append(out, target.Bytes()...)
	return append(out, data...)
}

// SplitTarget is the inverse of WithTarget.
func SplitTarget(blob []byte) (common.Address, []byte, error) {
	if len(blob) < common.AddressLength {
		return common.Address{}, nil, ErrNoTarget
	}
	return common.BytesToAddress(blob[:common.AddressLength]), blob[common.AddressLength:], nil
}

// DecodeUint256 reads the first result word.
func DecodeUint256(out []byte) (*big.Int, error) {
	if len(out) < WordSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrBadResult, len(out))
	}
	return new(big.Int).SetBytes(out[:WordSize]), nil
}

// DecodeBool reads the first result word as a strict ABI bool.
func DecodeBool(out []byte) (bool, error) {
	v, err := DecodeUint256(out)
	if err != nil {
		return false, err
	}
	switch {
	case v.Sign() == 0:
		return false, nil
	case v.IsUint64() && v.Uint64() == 1:
		return true, nil
	}
	return false, fmt.Errorf("%w: not a bool", ErrBadResult)
}

// CallAmount completes template with amount, calls target read-only and
// decodes the uint256 it returns.
func CallAmount(c Caller, target common.Address, template []byte, amount *big.Int) (*big.Int, error) {
	if amount.Sign() < 0 || amount.Cmp(maxUint256) > 0 {
		return nil, fmt.Errorf("%w: amount out of range", ErrGetAmountCallFailed)
	}
	out, err := c.StaticCall(target, AppendAmount(template, amount))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrGetAmountCallFailed, err)
	}
	v, err := DecodeUint256(out)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrGetAmountCallFailed, err)
	}
	return v, nil
}

// Resolve converts amount on one side of an order into the other side.
//
// With a template the call is delegated to CallAmount. An empty template
// is the identity on exact fills: amount must equal referenceIn and the
// result is referenceOut. Any other amount fails with ErrAmbiguousAmount.
func Resolve(c Caller, target common.Address, template []byte, amount, referenceIn, referenceOut *big.Int) (*big.Int, error) {
	if len(template) == 0 {
		if amount.Cmp(referenceIn) != 0 {
			return nil, ErrAmbiguousAmount
		}
		return new(big.Int).Set(referenceOut), nil
	}
	return CallAmount(c, target, template, amount)
}
