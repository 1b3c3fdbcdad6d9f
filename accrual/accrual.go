package accrual

import (
	"math/big"

	"golang.org/x/exp/slices"

	"github.com/tonstable/risk-client/types"
)

// Engine replays the protocol's piecewise-linear interest schedule.
type Engine struct {
	denom types.Denominations
}

func New(denom types.Denominations) *Engine {
	return &Engine{denom: denom}
}

// Accrue returns the interest a principal accrues from lastUpdate to
// queryTime. Each segment between checkpoints accrues at the rate of the
// checkpoint that opened it and is truncated on its own, the same way the
// contract books it. Checkpoints after queryTime are not applied.
func (e *Engine) Accrue(queryTime int64, timeline types.ApyTimeline, principal *big.Int, lastUpdate int64) *big.Int {
	accrued := new(big.Int)
	if principal == nil || principal.Sign() == 0 {
		return accrued
	}

	if !slices.IsSortedFunc(timeline, byTimestamp) {
		timeline = slices.Clone(timeline)
		slices.SortStableFunc(timeline, byTimestamp)
	}

	rate := new(big.Int)
	for _, cp := range timeline {
		if cp.Timestamp > queryTime {
			break
		}
		if cp.Timestamp > lastUpdate {
			accrued.Add(accrued, e.segment(principal, cp.Timestamp-lastUpdate, rate))
			lastUpdate = cp.Timestamp
		}
		rate = cp.Rate
	}
	if queryTime > lastUpdate {
		accrued.Add(accrued, e.segment(principal, queryTime-lastUpdate, rate))
	}
	return accrued
}

// TotalDebt sums principals and interest over debts. Interest is the
// snapshotted accrued amount of each debt plus what accrued since its start.
func (e *Engine) TotalDebt(queryTime int64, timeline types.ApyTimeline, debts map[types.Key]*types.Debt) (principal, interest *big.Int) {
	principal, interest = new(big.Int), new(big.Int)
	for _, d := range debts {
		if d == nil {
			continue
		}
		if d.Principal != nil {
			principal.Add(principal, d.Principal)
		}
		if d.AccruedInterest != nil {
			interest.Add(interest, d.AccruedInterest)
		}
		interest.Add(interest, e.Accrue(queryTime, timeline, d.Principal, d.StartTs))
	}
	return principal, interest
}

func (e *Engine) segment(principal *big.Int, seconds int64, rate *big.Int) *big.Int {
	if rate == nil || rate.Sign() == 0 {
		return new(big.Int)
	}
	v := new(big.Int).Mul(principal, big.NewInt(seconds))
	v.Mul(v, rate)
	divisor := new(big.Int).Mul(big.NewInt(types.SecondsPerYear), e.denom.RatioInt())
	return v.Quo(v, divisor)
}

func byTimestamp(a, b types.ApyCheckpoint) int {
	switch {
	case a.Timestamp < b.Timestamp:
		return -1
	case a.Timestamp > b.Timestamp:
		return 1
	}
	return 0
}
