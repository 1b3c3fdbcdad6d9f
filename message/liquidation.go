package message

import (
	"math/big"

	"github.com/pkg/errors"

	"github.com/tonstable/risk-client/cell"
	"github.com/tonstable/risk-client/types"
)

var ErrInsufficientValue = errors.New("value not enough")

// LiquidationRequest is the forward payload the contract receives with the
// liquidator's stablecoins.
type LiquidationRequest struct {
	Owner       *cell.Address
	Collaterals []*cell.Address
	Amount      *big.Int
	AmountType  AmountType
	// Prices and ExchangeRatios are signed attestation cells passed through
	// as received. ExchangeRatios is only sent along with Prices.
	Prices         *cell.Cell
	ExchangeRatios *cell.Cell
}

func (r *LiquidationRequest) Build() (*cell.Cell, error) {
	if r.Owner == nil {
		return nil, errors.New("liquidation request without position owner")
	}

	items := make([]cell.TupleItem, 0, len(r.Collaterals))
	for _, minter := range r.Collaterals {
		c, err := cell.AddressCell(minter)
		if err != nil {
			return nil, err
		}
		items = append(items, cell.CellItem(c))
	}
	collaterals, err := cell.SerializeTuple(items)
	if err != nil {
		return nil, errors.Wrap(err, "collateral list")
	}

	b := cell.BeginCell().
		StoreUint(OpLiquidate, types.BitsOp).
		StoreAddress(r.Owner).
		StoreRef(collaterals).
		StoreCoins(r.Amount).
		StoreUint(uint64(r.AmountType), 1)
	if r.Prices != nil {
		b.StoreRef(r.Prices)
		if r.ExchangeRatios != nil {
			b.StoreRef(r.ExchangeRatios)
		}
	}
	return b.EndCell()
}

// JettonTransfer is the standard jetton wallet transfer body.
type JettonTransfer struct {
	QueryID             uint64
	Amount              *big.Int
	Destination         *cell.Address
	ResponseDestination *cell.Address
	CustomPayload       *cell.Cell
	ForwardAmount       *big.Int
	ForwardPayload      *cell.Cell
}

func (t *JettonTransfer) Build() (*cell.Cell, error) {
	return cell.BeginCell().
		StoreUint(OpJettonTransfer, types.BitsOp).
		StoreUint(t.QueryID, types.BitsQueryID).
		StoreCoins(t.Amount).
		StoreAddress(t.Destination).
		StoreAddress(t.ResponseDestination).
		StoreMaybeRef(t.CustomPayload).
		StoreCoins(t.ForwardAmount).
		StoreMaybeRef(t.ForwardPayload).
		EndCell()
}

// Liquidation is a complete liquidation: the stablecoin transfer to the
// contract carrying the request.
type Liquidation struct {
	Request  LiquidationRequest
	Contract *cell.Address
	// Capital is the stablecoin amount transferred.
	Capital *big.Int
	// Value is the TON attached to the transfer.
	Value   *big.Int
	QueryID uint64
}

// Body checks the attached value and builds the jetton transfer body. The
// contract is both the recipient and the response destination.
func (l *Liquidation) Body() (*cell.Cell, error) {
	required := RequiredLiquidationValue(len(l.Request.Collaterals))
	if l.Value == nil || l.Value.Cmp(required) < 0 {
		return nil, errors.Wrapf(ErrInsufficientValue, "attached %s, required %s", l.Value, required)
	}

	payload, err := l.Request.Build()
	if err != nil {
		return nil, errors.Wrap(err, "liquidation request")
	}
	transfer := JettonTransfer{
		QueryID:             l.QueryID,
		Amount:              l.Capital,
		Destination:         l.Contract,
		ResponseDestination: l.Contract,
		CustomPayload:       cell.EmptyCell(),
		ForwardAmount:       CalcLiquidateFee(len(l.Request.Collaterals)),
		ForwardPayload:      payload,
	}
	return transfer.Build()
}
