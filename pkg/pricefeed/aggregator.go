// Package pricefeed provides a Chainlink-style price aggregator contract
// and the calculators that turn its answers into order amounts.
package pricefeed

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/irswap/pkg/host"
)

const EventAnswerUpdated = "AnswerUpdated"

var ErrNotOwner = errors.New("pricefeed: caller is not the owner")

// AggregatorABI is the subset of AggregatorV3Interface the calculators
// read, plus the owner's setter.
const AggregatorABI = `[
	{"type":"function","name":"decimals","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]},
	{"type":"function","name":"latestRoundData","stateMutability":"view","inputs":[],"outputs":[
		{"name":"roundId","type":"uint80"},
		{"name":"answer","type":"int256"},
		{"name":"startedAt","type":"uint256"},
		{"name":"updatedAt","type":"uint256"},
		{"name":"answeredInRound","type":"uint80"}]},
	{"type":"function","name":"setAnswer","inputs":[{"name":"answer","type":"int256"}],"outputs":[]}
]`

type AnswerUpdated struct {
	Round     uint64   `json:"round"`
	Answer    *big.Int `json:"answer"`
	UpdatedAt uint64   `json:"updatedAt"`
}

// Round is one published answer.
type Round struct {
	ID        uint64   `json:"id"`
	Answer    *big.Int `json:"answer"`
	UpdatedAt uint64   `json:"updatedAt"`
}

// Aggregator publishes answers set by its owner.
type Aggregator struct {
	*host.Router
	decimals uint8
	owner    common.Address
}

func NewAggregator(decimals uint8, owner common.Address) *Aggregator {
	a := &Aggregator{Router: host.MustRouter(AggregatorABI), decimals: decimals, owner: owner}
	a.Handle("decimals", func(*host.Env, []any) ([]any, error) {
		return []any{a.decimals}, nil
	})
	a.Handle("latestRoundData", func(env *host.Env, _ []any) ([]any, error) {
		var r Round
		if _, err := env.Storage().GetJSON("latest", &r); err != nil {
			return nil, err
		}
		if r.Answer == nil {
			r.Answer = new(big.Int)
		}
		id := new(big.Int).SetUint64(r.ID)
		at := new(big.Int).SetUint64(r.UpdatedAt)
		return []any{id, r.Answer, at, at, id}, nil
	})
	a.Handle("setAnswer", func(env *host.Env, args []any) ([]any, error) {
		return nil, a.setAnswer(env, args[0].(*big.Int))
	})
	return a
}

func (a *Aggregator) setAnswer(env *host.Env, answer *big.Int) error {
	if env.Caller() != a.owner {
		return ErrNotOwner
	}
	st := env.Storage()
	var r Round
	if _, err := st.GetJSON("latest", &r); err != nil {
		return err
	}
	r = Round{ID: r.ID + 1, Answer: new(big.Int).Set(answer), UpdatedAt: env.Time()}
	if err := st.SetJSON("latest", r); err != nil {
		return err
	}
	return env.Emit(EventAnswerUpdated, AnswerUpdated{Round: r.ID, Answer: r.Answer, UpdatedAt: r.UpdatedAt})
}
