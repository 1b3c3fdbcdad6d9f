package policy

import (
	"math/big"

	"github.com/pkg/errors"

	"github.com/tonstable/risk-client/types"
)

type Outcome int

const (
	// OutcomeSkip covers positions with nothing to liquidate, such as those
	// without debt.
	OutcomeSkip Outcome = iota
	OutcomeSolvent
	OutcomeLiquidate
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSkip:
		return "skip"
	case OutcomeSolvent:
		return "solvent"
	case OutcomeLiquidate:
		return "liquidate"
	}
	return "unknown"
}

func (o Outcome) MarshalText() ([]byte, error) { return []byte(o.String()), nil }

// Decision is the result of evaluating one position.
type Decision struct {
	Outcome    Outcome  `json:"outcome"`
	Collateral *big.Int `json:"collateralValue"`
	Principal  *big.Int `json:"principal"`
	Interest   *big.Int `json:"interest"`
	TotalDebt  *big.Int `json:"totalDebt"`
	Adequacy   *big.Int `json:"capitalAdequacy,omitempty"`
	Penalty    *Penalty `json:"penalty,omitempty"`
	// Amount is the debt to liquidate.
	Amount   *big.Int `json:"amount,omitempty"`
	Searches int      `json:"searches,omitempty"`
}

// Evaluate runs the trigger check, the penalty decision and the sizing
// search for a position whose collateral value and debt are already known.
// Division by zero anywhere in the pipeline is reported as a skip.
func (e *Engine) Evaluate(collateral, principal, interest *big.Int, state *types.ProtocolState) (*Decision, error) {
	d := &Decision{
		Outcome:    OutcomeSkip,
		Collateral: collateral,
		Principal:  principal,
		Interest:   interest,
		TotalDebt:  new(big.Int).Add(principal, interest),
	}

	adequacy, liquidatable, err := e.CheckTrigger(collateral, d.TotalDebt, state.PositionLiquidationLine)
	if errors.Is(err, ErrDivisionByZero) {
		return d, nil
	}
	if err != nil {
		return nil, err
	}
	d.Adequacy = adequacy
	if !liquidatable {
		d.Outcome = OutcomeSolvent
		return d, nil
	}

	penalty, err := e.DecidePenalty(adequacy, state.LiquidationPenalty, state.LiquidationPenaltySplit)
	if errors.Is(err, ErrDivisionByZero) {
		return d, nil
	}
	if err != nil {
		return nil, err
	}
	d.Penalty = &penalty

	amount, searches, err := e.OutstandingDebt(penalty.Ratio, state.OutstandingLine(), d.TotalDebt, collateral)
	if errors.Is(err, ErrDivisionByZero) {
		return d, nil
	}
	if err != nil {
		return nil, err
	}
	d.Amount = amount
	d.Searches = searches
	if amount.Sign() > 0 {
		d.Outcome = OutcomeLiquidate
	}
	return d, nil
}
