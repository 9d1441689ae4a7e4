// Package predicate evaluates the boolean gate attached to an order.
//
// A predicate is calldata for one of the helper methods below, executed
// read-only against the protocol contract itself. Composite nodes (and,
// or) fan out to arbitrary targets, so a predicate tree can mix protocol
// state (nonces, time) with state read from other contracts.
package predicate

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/irswap/pkg/calldata"
	"github.com/uhyunpark/irswap/pkg/host"
	"github.com/uhyunpark/irswap/pkg/nonce"
)

var (
	ErrArrayLengthMismatch = errors.New("predicate: input array size mismatch")
	ErrCallFailed          = errors.New("predicate: subcall failed")
)

// ABI lists the helper methods exposed by the hosting contract.
const ABI = `
	{"type":"function","name":"and","stateMutability":"view","inputs":[{"name":"targets","type":"address[]"},{"name":"data","type":"bytes[]"}],"outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"or","stateMutability":"view","inputs":[{"name":"targets","type":"address[]"},{"name":"data","type":"bytes[]"}],"outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"eq","stateMutability":"view","inputs":[{"name":"value","type":"uint256"},{"name":"target","type":"address"},{"name":"data","type":"bytes"}],"outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"lt","stateMutability":"view","inputs":[{"name":"value","type":"uint256"},{"name":"target","type":"address"},{"name":"data","type":"bytes"}],"outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"gt","stateMutability":"view","inputs":[{"name":"value","type":"uint256"},{"name":"target","type":"address"},{"name":"data","type":"bytes"}],"outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"timestampBelow","stateMutability":"view","inputs":[{"name":"time","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"nonceEquals","stateMutability":"view","inputs":[{"name":"makerAddress","type":"address"},{"name":"makerNonce","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"arbitraryStaticCall","stateMutability":"view","inputs":[{"name":"target","type":"address"},{"name":"data","type":"bytes"}],"outputs":[{"name":"","type":"uint256"}]}`

var helpers = func() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader("[" + ABI + "]"))
	if err != nil {
		panic(err)
	}
	return parsed
}()

// And is true iff every call succeeds and returns true. It stops at the
// first call that does not.
func And(c calldata.Caller, targets []common.Address, data [][]byte) (bool, error) {
	if len(targets) != len(data) {
		return false, ErrArrayLengthMismatch
	}
	for i := range targets {
		if !callBool(c, targets[i], data[i]) {
			return false, nil
		}
	}
	return true, nil
}

// Or is true iff some call succeeds and returns true. It stops at the
// first one that does.
func Or(c calldata.Caller, targets []common.Address, data [][]byte) (bool, error) {
	if len(targets) != len(data) {
		return false, ErrArrayLengthMismatch
	}
	for i := range targets {
		if callBool(c, targets[i], data[i]) {
			return true, nil
		}
	}
	return false, nil
}

func callBool(c calldata.Caller, target common.Address, data []byte) bool {
	out, err := c.StaticCall(target, data)
	if err != nil {
		return false
	}
	ok, err := calldata.DecodeBool(out)
	return err == nil && ok
}

// Compare calls target and returns cmp(result, value).
func Compare(c calldata.Caller, target common.Address, data []byte, value *big.Int) (int, error) {
	result, err := ArbitraryStaticCall(c, target, data)
	if err != nil {
		return 0, err
	}
	return result.Cmp(value), nil
}

// ArbitraryStaticCall calls target read-only and decodes a uint256.
func ArbitraryStaticCall(c calldata.Caller, target common.Address, data []byte) (*big.Int, error) {
	out, err := c.StaticCall(target, data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCallFailed, err)
	}
	v, err := calldata.DecodeUint256(out)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCallFailed, err)
	}
	return v, nil
}

// Evaluate runs an order predicate against self. Empty predicates hold.
func Evaluate(c calldata.Caller, self common.Address, predicate []byte) (bool, error) {
	if len(predicate) == 0 {
		return true, nil
	}
	out, err := c.StaticCall(self, predicate)
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrCallFailed, err)
	}
	ok, err := calldata.DecodeBool(out)
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrCallFailed, err)
	}
	return ok, nil
}

// Register binds the helper methods on r.
func Register(r *host.Router) {
	r.Handle("and", func(env *host.Env, args []any) ([]any, error) {
		ok, err := And(env, args[0].([]common.Address), args[1].([][]byte))
		return []any{ok}, err
	})
	r.Handle("or", func(env *host.Env, args []any) ([]any, error) {
		ok, err := Or(env, args[0].([]common.Address), args[1].([][]byte))
		return []any{ok}, err
	})
	compare := func(want func(int) bool) host.Handler {
		return func(env *host.Env, args []any) ([]any, error) {
			cmp, err := Compare(env, args[1].(common.Address), args[2].([]byte), args[0].(*big.Int))
			if err != nil {
				return nil, err
			}
			return []any{want(cmp)}, nil
		}
	}
	r.Handle("eq", compare(func(c int) bool { return c == 0 }))
	r.Handle("lt", compare(func(c int) bool { return c < 0 }))
	r.Handle("gt", compare(func(c int) bool { return c > 0 }))
	r.Handle("timestampBelow", func(env *host.Env, args []any) ([]any, error) {
		limit := args[0].(*big.Int)
		return []any{new(big.Int).SetUint64(env.Time()).Cmp(limit) < 0}, nil
	})
	r.Handle("nonceEquals", func(env *host.Env, args []any) ([]any, error) {
		ok, err := nonce.Equals(env.Storage(), args[0].(common.Address), args[1].(*big.Int))
		return []any{ok}, err
	})
	r.Handle("arbitraryStaticCall", func(env *host.Env, args []any) ([]any, error) {
		v, err := ArbitraryStaticCall(env, args[0].(common.Address), args[1].([]byte))
		return []any{v}, err
	})
}
