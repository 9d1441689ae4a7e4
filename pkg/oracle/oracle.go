// Package oracle reads historical rate observations and turns them into
// time-weighted APYs.
//
// An observation carries the instantaneous annualized rate of an
// asset/underlying pair and the cumulative rate index at that moment:
// cumulative(t) is the integral of the rate over time, in 64.64
// rate-seconds. Between observations the rate is held constant, so the
// index is linear on every segment.
package oracle

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrOracleDataUnavailable = errors.New("oracle: no observation at or before start")
	ErrInvalidWindow         = errors.New("oracle: end must be after start")
	ErrUnknownRound          = errors.New("oracle: unknown round")
	ErrStaleObservation      = errors.New("oracle: observation not after previous round")
	ErrNegativeRate          = errors.New("oracle: negative rate")
)

// Pair identifies a rate series.
type Pair struct {
	Asset           common.Address `json:"asset"`
	UnderlyingAsset common.Address `json:"underlyingAsset"`
}

// Observation is one oracle round.
type Observation struct {
	Round      uint64   `json:"round"`
	Timestamp  uint64   `json:"timestamp"`
	Rate       *big.Int `json:"rate"`       // 64.64 annualized rate
	Cumulative *big.Int `json:"cumulative"` // 64.64 rate-seconds since the first round
}

// RateOracle exposes a pair's round history. Rounds are numbered from
// zero without gaps and have strictly increasing timestamps.
type RateOracle interface {
	LatestRound(pair Pair) (round uint64, ok bool, err error)
	Observation(pair Pair, round uint64) (Observation, error)
}
