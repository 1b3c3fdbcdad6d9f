package valuation

import (
	"math/big"

	"github.com/pkg/errors"

	"github.com/tonstable/risk-client/cell"
	"github.com/tonstable/risk-client/types"
)

var ErrMissingPrice = errors.New("missing price")

// Holding is one collateral line of a position at current prices.
type Holding struct {
	Key           types.Key     `json:"key"`
	Minter        *cell.Address `json:"minterAddress,omitempty"`
	Amount        *big.Int      `json:"amount"`
	Price         *big.Int      `json:"price"`
	Value         *big.Int      `json:"value"`
	ExchangeRatio *big.Int      `json:"exchangeRatio,omitempty"`
}

type Valuer struct {
	denom types.Denominations
}

func New(denom types.Denominations) *Valuer {
	return &Valuer{denom: denom}
}

// ValueOf sums amount*price over the allow-listed assets the position holds
// and divides by PRICE_DENOM once, so only the total is truncated. Holdings
// outside the allow-list are ignored. A held allow-listed asset without a
// price is an error rather than a zero valuation.
func (v *Valuer) ValueOf(position *types.Position, prices map[types.Key]*big.Int, assets []types.Key) (*big.Int, error) {
	holdings, err := v.Holdings(position, prices, assets, nil)
	if err != nil {
		return nil, err
	}
	return v.Total(holdings), nil
}

// Total is the collateral value of holdings, truncated once. It can exceed
// the sum of the per-holding values.
func (v *Valuer) Total(holdings []Holding) *big.Int {
	total := new(big.Int)
	product := new(big.Int)
	for _, h := range holdings {
		total.Add(total, product.Mul(h.Amount, h.Price))
	}
	return total.Quo(total, v.denom.PriceInt())
}

// Holdings reports the per-asset breakdown behind ValueOf, in allow-list
// order. Each Value is truncated on its own and is informational.
// Exchange ratios are filled from supported when it lists the asset.
func (v *Valuer) Holdings(position *types.Position, prices map[types.Key]*big.Int, assets []types.Key, supported map[types.Key]*types.SupportedAsset) ([]Holding, error) {
	if position == nil {
		return nil, nil
	}

	var (
		holdings = make([]Holding, 0, len(assets))
		seen     = make(map[types.Key]bool, len(assets))
	)
	for _, key := range assets {
		if seen[key] {
			continue
		}
		seen[key] = true

		amount, ok := position.Collateral[key]
		if !ok || amount == nil || amount.Sign() == 0 {
			continue
		}
		price, ok := prices[key]
		if !ok || price == nil {
			return nil, errors.Wrapf(ErrMissingPrice, "asset %s", key)
		}

		value := new(big.Int).Mul(amount, price)
		value.Quo(value, v.denom.PriceInt())

		h := Holding{Key: key, Amount: amount, Price: price, Value: value}
		if a, ok := supported[key]; ok {
			h.Minter = a.Minter
			h.ExchangeRatio = a.Params.ExchangeRatio
		}
		holdings = append(holdings, h)
	}
	return holdings, nil
}
