package decoder

import (
	"math/big"

	"github.com/pkg/errors"

	"github.com/tonstable/risk-client/cell"
	"github.com/tonstable/risk-client/chain"
	"github.com/tonstable/risk-client/types"
)

// ParsePositionCell decodes one item of the get_all_positions list.
func ParsePositionCell(c *cell.Cell) (*types.Position, error) {
	s := c.BeginParse()
	config, err := s.LoadRef()
	if err != nil {
		return nil, errors.Wrap(err, "position config")
	}
	stateCell, err := s.LoadRef()
	if err != nil {
		return nil, errors.Wrap(err, "position state")
	}
	if err := s.EndParse(); err != nil {
		return nil, errors.Wrap(err, "position")
	}

	cs := config.BeginParse()
	owner, err := cs.LoadAddress()
	if err != nil {
		return nil, errors.Wrap(err, "position owner")
	}
	createdAt, err := cs.LoadUint(types.BitsTimestamp)
	if err != nil {
		return nil, errors.Wrap(err, "position created at")
	}
	if err := cs.EndParse(); err != nil {
		return nil, errors.Wrap(err, "position config")
	}

	ss := stateCell.BeginParse()
	state, err := ss.LoadUint(8)
	if err != nil {
		return nil, errors.Wrap(err, "position state")
	}
	credit, err := ss.LoadCoins()
	if err != nil {
		return nil, errors.Wrap(err, "position credit")
	}
	collateralRoot, err := ss.LoadMaybeRef()
	if err != nil {
		return nil, errors.Wrap(err, "position collateral")
	}
	debtsRoot, err := ss.LoadMaybeRef()
	if err != nil {
		return nil, errors.Wrap(err, "position debts")
	}
	if err := ss.EndParse(); err != nil {
		return nil, errors.Wrap(err, "position state")
	}

	p := &types.Position{
		Owner:     owner,
		CreatedAt: int64(createdAt),
		State:     uint8(state),
		Credit:    credit,
	}
	if p.Collateral, err = ParseCollateral(collateralRoot); err != nil {
		return nil, err
	}
	if p.Debts, err = ParseDebts(debtsRoot); err != nil {
		return nil, err
	}
	return p, nil
}

// DecodePositionList decodes the cell items of a get_all_positions result,
// skipping anything that is not a cell.
func DecodePositionList(items []cell.TupleItem) ([]*types.Position, error) {
	positions := make([]*types.Position, 0, len(items))
	for i, item := range items {
		if item.Kind != cell.TupleCell {
			continue
		}
		p, err := ParsePositionCell(item.Cell)
		if err != nil {
			return nil, errors.Wrapf(err, "position %d", i)
		}
		positions = append(positions, p)
	}
	return positions, nil
}

// DecodePositionView consumes the get_position_state result.
func DecodePositionView(stack *chain.Stack) (*types.PositionView, error) {
	var (
		view = &types.PositionView{}
		err  error
	)

	if view.Owner, err = stack.ReadAddress(); err != nil {
		return nil, errors.Wrap(err, "owner")
	}
	if view.CreatedAt, err = stack.ReadNumber(); err != nil {
		return nil, errors.Wrap(err, "created at")
	}
	state, err := stack.ReadNumber()
	if err != nil {
		return nil, errors.Wrap(err, "state")
	}
	if state < 0 || state > 0xff {
		return nil, errors.Wrapf(cell.ErrMalformedCell, "state %d", state)
	}
	view.State = uint8(state)
	if view.Credit, err = stack.ReadBigNumber(); err != nil {
		return nil, errors.Wrap(err, "credit")
	}
	if view.TotalDebt, err = stack.ReadBigNumber(); err != nil {
		return nil, errors.Wrap(err, "total debt")
	}
	collateralRoot, err := stack.ReadCellOpt()
	if err != nil {
		return nil, errors.Wrap(err, "collateral")
	}
	debtsRoot, err := stack.ReadCellOpt()
	if err != nil {
		return nil, errors.Wrap(err, "debts")
	}
	if view.OutstandingDebt, err = stack.ReadBigNumber(); err != nil {
		return nil, errors.Wrap(err, "outstanding debt")
	}
	if view.InterestDebt, err = stack.ReadBigNumber(); err != nil {
		return nil, errors.Wrap(err, "interest debt")
	}

	if view.Collateral, err = ParseCollateral(collateralRoot); err != nil {
		return nil, err
	}
	if view.Debts, err = ParseDebts(debtsRoot); err != nil {
		return nil, err
	}
	return view, nil
}

func ParseCollateral(root *cell.Cell) (map[types.Key]*big.Int, error) {
	collateral, err := parseCoinsDict(root)
	if err != nil {
		return nil, errors.Wrap(err, "collateral")
	}
	return collateral, nil
}

func ParseDebts(root *cell.Cell) (map[types.Key]*types.Debt, error) {
	dict, err := cell.ParseDict(root, types.BitsKey, cell.CellValue())
	if err != nil {
		return nil, errors.Wrap(err, "debts")
	}

	debts := make(map[types.Key]*types.Debt, dict.Len())
	for _, e := range dict.Entries() {
		key := types.KeyFromInt(e.Key)
		d, err := ParseDebt(e.Value)
		if err != nil {
			return nil, errors.Wrapf(err, "debt %s", key)
		}
		debts[key] = d
	}
	return debts, nil
}

// ParseDebt decodes a debt record. Records written before creation times
// were tracked end after the accrued interest.
func ParseDebt(c *cell.Cell) (*types.Debt, error) {
	s := c.BeginParse()
	principal, err := s.LoadCoins()
	if err != nil {
		return nil, err
	}
	startTs, err := s.LoadUint(types.BitsTimestamp)
	if err != nil {
		return nil, err
	}
	accrued, err := s.LoadCoins()
	if err != nil {
		return nil, err
	}

	d := &types.Debt{
		Principal:       principal,
		StartTs:         int64(startTs),
		AccruedInterest: accrued,
	}
	if s.RemainingBits() >= types.BitsTimestamp {
		createdAt, err := s.LoadUint(types.BitsTimestamp)
		if err != nil {
			return nil, err
		}
		ts := int64(createdAt)
		d.CreatedAt = &ts
	}
	return d, nil
}

// DecodeCustodyTokens consumes the get_user_stucked_token result. A null
// dictionary means the user has nothing in custody.
func DecodeCustodyTokens(stack *chain.Stack) ([]types.CustodyToken, error) {
	root, err := stack.ReadCellOpt()
	if err != nil {
		return nil, errors.Wrap(err, "custody tokens")
	}
	dict, err := cell.ParseDict(root, types.BitsKey, cell.CellValue())
	if err != nil {
		return nil, errors.Wrap(err, "custody tokens")
	}

	tokens := make([]types.CustodyToken, 0, dict.Len())
	for _, e := range dict.Entries() {
		s := e.Value.BeginParse()
		minter, err := s.LoadAddress()
		if err != nil {
			return nil, errors.Wrap(err, "custody token minter")
		}
		amount, err := s.LoadCoins()
		if err != nil {
			return nil, errors.Wrap(err, "custody token amount")
		}
		tokens = append(tokens, types.CustodyToken{Minter: minter, Amount: amount})
	}
	return tokens, nil
}

func DecodeAccruedProfits(stack *chain.Stack) (*types.AccruedProfits, error) {
	var (
		profits = &types.AccruedProfits{}
		err     error
	)
	if profits.TotalAccrued, err = stack.ReadBigNumber(); err != nil {
		return nil, errors.Wrap(err, "total accrued")
	}
	if profits.LastUpdated, err = stack.ReadNumber(); err != nil {
		return nil, errors.Wrap(err, "last updated")
	}
	if profits.Extracted, err = stack.ReadBigNumber(); err != nil {
		return nil, errors.Wrap(err, "extracted")
	}
	return profits, nil
}
