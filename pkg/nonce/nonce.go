// Package nonce keeps the per-maker invalidation counter that
// nonceEquals predicates read. A maker bumps its own counter to revoke
// every order whose predicate pinned the old value.
package nonce

import (
	"errors"
	"fmt"
	"math"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/irswap/pkg/host"
	"github.com/uhyunpark/irswap/pkg/state"
)

// EventIncreased is emitted with an Increased payload.
const EventIncreased = "NonceIncreased"

var (
	ErrOverflow   = errors.New("nonce: counter overflow")
	ErrZeroAmount = errors.New("nonce: amount must be at least 1")
)

// ABI lists the nonce methods exposed by the hosting contract.
const ABI = `
	{"type":"function","name":"nonce","stateMutability":"view","inputs":[{"name":"maker","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"increaseNonce","inputs":[],"outputs":[]},
	{"type":"function","name":"advanceNonce","inputs":[{"name":"amount","type":"uint8"}],"outputs":[]}`

type Increased struct {
	Maker    common.Address `json:"maker"`
	NewNonce uint64         `json:"newNonce"`
}

// Env is the slice of a call frame the nonce table needs.
type Env interface {
	Caller() common.Address
	Storage() *state.Storage
	Emit(name string, data any) error
}

func key(maker common.Address) string {
	return "nonce/" + maker.Hex()
}

// Get returns maker's current nonce; unseen makers are at zero.
func Get(st *state.Storage, maker common.Address) (uint64, error) {
	return st.GetUint64(key(maker))
}

// Equals reports whether maker's nonce is exactly n.
func Equals(st *state.Storage, maker common.Address, n *big.Int) (bool, error) {
	cur, err := Get(st, maker)
	if err != nil {
		return false, err
	}
	return n.IsUint64() && n.Uint64() == cur, nil
}

// Increase bumps the caller's nonce by one.
func Increase(env Env) (uint64, error) {
	return Advance(env, 1)
}

// Advance bumps the caller's nonce by amount (1..255) and emits
// NonceIncreased.
func Advance(env Env, amount uint8) (uint64, error) {
	if amount == 0 {
		return 0, ErrZeroAmount
	}
	maker := env.Caller()
	st := env.Storage()
	cur, err := Get(st, maker)
	if err != nil {
		return 0, err
	}
	if cur > math.MaxUint64-uint64(amount) {
		return 0, ErrOverflow
	}
	next := cur + uint64(amount)
	if err := st.SetUint64(key(maker), next); err != nil {
		return 0, fmt.Errorf("nonce: store: %w", err)
	}
	if err := env.Emit(EventIncreased, Increased{Maker: maker, NewNonce: next}); err != nil {
		return 0, err
	}
	return next, nil
}

// Register binds the ABI methods on r.
func Register(r *host.Router) {
	r.Handle("nonce", func(env *host.Env, args []any) ([]any, error) {
		n, err := Get(env.Storage(), args[0].(common.Address))
		return []any{new(big.Int).SetUint64(n)}, err
	})
	r.Handle("increaseNonce", func(env *host.Env, _ []any) ([]any, error) {
		_, err := Increase(env)
		return nil, err
	})
	r.Handle("advanceNonce", func(env *host.Env, args []any) ([]any, error) {
		_, err := Advance(env, args[0].(uint8))
		return nil, err
	})
}
