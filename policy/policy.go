package policy

import (
	"math/big"

	"github.com/pkg/errors"

	"github.com/tonstable/risk-client/types"
)

// MaxSearches bounds the liquidation sizing bisection.
const MaxSearches = 32

var ErrDivisionByZero = errors.New("division by zero")

type Regime int

const (
	RegimeNone Regime = iota
	// RegimeSevere gives the liquidator the whole penalty.
	RegimeSevere
	// RegimeFull applies the configured penalty and split.
	RegimeFull
	// RegimeInterpolated shrinks the penalty to what the collateral covers.
	RegimeInterpolated
)

type Penalty struct {
	Ratio      *big.Int `json:"ratio"`
	SplitRatio *big.Int `json:"splitRatio"`
	Regime     Regime   `json:"regime"`
}

type Engine struct {
	denom types.Denominations
}

func New(denom types.Denominations) *Engine {
	return &Engine{denom: denom}
}

// CapitalAdequacy is collateral*LINE_DENOM/debt.
func (e *Engine) CapitalAdequacy(collateral, debt *big.Int) (*big.Int, error) {
	if debt == nil || debt.Sign() == 0 {
		return nil, errors.Wrap(ErrDivisionByZero, "capital adequacy of a debt-free position")
	}
	v := new(big.Int).Mul(collateral, e.denom.LineInt())
	return v.Quo(v, debt), nil
}

// CheckTrigger reports whether the position is below the liquidation line.
func (e *Engine) CheckTrigger(collateral, debt *big.Int, liquidationLine int64) (adequacy *big.Int, liquidatable bool, err error) {
	adequacy, err = e.CapitalAdequacy(collateral, debt)
	if err != nil {
		return nil, false, err
	}
	return adequacy, adequacy.Cmp(big.NewInt(liquidationLine)) < 0, nil
}

// DecidePenalty picks the penalty and split ratios for a position at the
// given capital adequacy. Regimes are tried in order and the first regime's
// bound is inclusive.
func (e *Engine) DecidePenalty(adequacy, penalty, split *big.Int) (Penalty, error) {
	ratioDenom := e.denom.RatioInt()

	adequacyRatio := new(big.Int).Mul(adequacy, ratioDenom)
	adequacyRatio.Quo(adequacyRatio, e.denom.LineInt())

	gains := new(big.Int).Mul(penalty, split)
	gains.Quo(gains, ratioDenom)

	switch {
	case adequacyRatio.Cmp(new(big.Int).Add(ratioDenom, gains)) <= 0:
		return Penalty{Ratio: gains, SplitRatio: ratioDenom, Regime: RegimeSevere}, nil
	case adequacyRatio.Cmp(new(big.Int).Add(ratioDenom, penalty)) >= 0:
		return Penalty{Ratio: new(big.Int).Set(penalty), SplitRatio: new(big.Int).Set(split), Regime: RegimeFull}, nil
	}

	ratio := new(big.Int).Sub(adequacyRatio, ratioDenom)
	if ratio.Sign() == 0 {
		return Penalty{}, errors.Wrap(ErrDivisionByZero, "interpolated penalty ratio")
	}
	splitRatio := new(big.Int).Mul(split, penalty)
	splitRatio.Quo(splitRatio, ratio)
	return Penalty{Ratio: ratio, SplitRatio: splitRatio, Regime: RegimeInterpolated}, nil
}

// OutstandingDebt finds the smallest amount of debt whose removal, together
// with the collateral it costs at penaltyRatio, lifts the position to
// targetLine. It returns the amount and the number of bisection steps taken.
// A position already at the target needs nothing; one whose collateral cannot
// cover a step's cost is liquidated in full.
func (e *Engine) OutstandingDebt(penaltyRatio *big.Int, targetLine int64, totalDebt, collateral *big.Int) (*big.Int, int, error) {
	adequacy, err := e.CapitalAdequacy(collateral, totalDebt)
	if err != nil {
		return nil, 0, err
	}
	target := big.NewInt(targetLine)
	if adequacy.Cmp(target) >= 0 {
		return new(big.Int), 0, nil
	}

	var (
		ratioDenom = e.denom.RatioInt()
		costRatio  = new(big.Int).Add(ratioDenom, penaltyRatio)
		two        = big.NewInt(2)

		low       = new(big.Int)
		high      = new(big.Int).Set(totalDebt)
		candidate *big.Int
	)
	for searches := 1; searches <= MaxSearches; searches++ {
		removed := new(big.Int).Add(low, high)
		removed.Quo(removed, two)

		reduced := new(big.Int).Mul(removed, costRatio)
		reduced.Quo(reduced, ratioDenom)
		if collateral.Cmp(reduced) <= 0 {
			return new(big.Int).Set(totalDebt), searches, nil
		}

		remainingDebt := new(big.Int).Sub(totalDebt, removed)
		remaining := new(big.Int).Sub(collateral, reduced)
		after := remaining.Mul(remaining, e.denom.LineInt())
		after.Quo(after, remainingDebt)

		if after.Cmp(target) >= 0 {
			high = removed
			if candidate == nil || candidate.Cmp(removed) > 0 {
				candidate = removed
			}
		} else {
			low = removed
		}
	}

	if candidate == nil {
		return new(big.Int).Set(totalDebt), MaxSearches, nil
	}
	return candidate, MaxSearches, nil
}
