package decoder

import (
	"math/big"

	"github.com/pkg/errors"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/tonstable/risk-client/cell"
	"github.com/tonstable/risk-client/types"
)

// PriceRecord is one entry of the on-ledger price dictionary.
type PriceRecord struct {
	Minter    *cell.Address
	Price     *big.Int
	Timestamp int64
}

func EncodeMinter(m *types.Minter) (*cell.Cell, error) {
	return cell.BeginCell().
		StoreAddress(m.Address).
		StoreRef(orEmpty(m.MinterCode)).
		StoreRef(orEmpty(m.WalletCode)).
		EndCell()
}

func EncodeSupportedAsset(a *types.SupportedAsset) (*cell.Cell, error) {
	wrapped, err := maybeAddressCell(a.Params.WrappedMinter)
	if err != nil {
		return nil, err
	}
	feed, err := maybeAddressCell(a.Params.PriceFeed)
	if err != nil {
		return nil, err
	}
	extended, err := cell.BeginCell().StoreMaybeRef(wrapped).StoreMaybeRef(feed).EndCell()
	if err != nil {
		return nil, err
	}
	params, err := cell.BeginCell().
		StoreUint(uint64(a.Params.AssetType), types.BitsType).
		StoreBigUint(a.Params.ExchangeRatio, types.BitsRatio).
		StoreUint(uint64(a.Params.ExchangeRatioTs), types.BitsTimestamp).
		StoreRef(extended).
		EndCell()
	if err != nil {
		return nil, errors.Wrap(err, "asset params")
	}
	return cell.BeginCell().
		StoreAddress(a.Minter).
		StoreRef(orEmpty(a.WalletCode)).
		StoreRef(params).
		EndCell()
}

// EncodeSupportedAssets returns the dictionary root keyed by each asset's
// key; nil when assets is empty.
func EncodeSupportedAssets(assets map[types.Key]*types.SupportedAsset) (*cell.Cell, error) {
	dict := cell.NewDictionary(types.BitsKey, cell.CellValue())
	for key, a := range assets {
		c, err := EncodeSupportedAsset(a)
		if err != nil {
			return nil, errors.Wrapf(err, "supported asset %s", key)
		}
		if err := dict.Set(key.Int(), c); err != nil {
			return nil, err
		}
	}
	return dict.Root()
}

// EncodePrice lays the price out behind a reference, the way the ledger
// stores it.
func EncodePrice(r PriceRecord) (*cell.Cell, error) {
	data, err := cell.BeginCell().
		StoreBigUint(r.Price, types.BitsPriceValue).
		StoreUint(uint64(r.Timestamp), types.BitsTimestamp).
		EndCell()
	if err != nil {
		return nil, err
	}
	return cell.BeginCell().StoreAddress(r.Minter).StoreRef(data).EndCell()
}

func EncodePrices(records []PriceRecord) (*cell.Cell, error) {
	dict := cell.NewDictionary(types.BitsKey, cell.CellValue())
	for _, r := range records {
		key, err := types.AssetKey(r.Minter)
		if err != nil {
			return nil, err
		}
		c, err := EncodePrice(r)
		if err != nil {
			return nil, errors.Wrapf(err, "price %s", key)
		}
		if err := dict.Set(key.Int(), c); err != nil {
			return nil, err
		}
	}
	return dict.Root()
}

func EncodeApyTimeline(timeline types.ApyTimeline) (*cell.Cell, error) {
	dict := cell.NewDictionary(types.BitsTimestamp, cell.UintValue(types.BitsRatio))
	for _, cp := range timeline {
		if cp.Timestamp < 0 {
			return nil, errors.Wrapf(cell.ErrValueOutOfRange, "checkpoint at %d", cp.Timestamp)
		}
		if err := dict.Set(big.NewInt(cp.Timestamp), cp.Rate); err != nil {
			return nil, err
		}
	}
	return dict.Root()
}

func EncodeDebt(d *types.Debt) (*cell.Cell, error) {
	b := cell.BeginCell().
		StoreCoins(d.Principal).
		StoreUint(uint64(d.StartTs), types.BitsTimestamp).
		StoreCoins(d.AccruedInterest)
	if d.CreatedAt != nil {
		b.StoreUint(uint64(*d.CreatedAt), types.BitsTimestamp)
	}
	return b.EndCell()
}

func EncodeCollateral(collateral map[types.Key]*big.Int) (*cell.Cell, error) {
	return encodeCoinsDict(collateral)
}

func EncodeDebts(debts map[types.Key]*types.Debt) (*cell.Cell, error) {
	dict := cell.NewDictionary(types.BitsKey, cell.CellValue())
	for key, d := range debts {
		c, err := EncodeDebt(d)
		if err != nil {
			return nil, errors.Wrapf(err, "debt %s", key)
		}
		if err := dict.Set(key.Int(), c); err != nil {
			return nil, err
		}
	}
	return dict.Root()
}

func EncodePosition(p *types.Position) (*cell.Cell, error) {
	config, err := cell.BeginCell().
		StoreAddress(p.Owner).
		StoreUint(uint64(p.CreatedAt), types.BitsTimestamp).
		EndCell()
	if err != nil {
		return nil, errors.Wrap(err, "position config")
	}
	collateral, err := EncodeCollateral(p.Collateral)
	if err != nil {
		return nil, err
	}
	debts, err := EncodeDebts(p.Debts)
	if err != nil {
		return nil, err
	}
	state, err := cell.BeginCell().
		StoreUint(uint64(p.State), 8).
		StoreCoins(p.Credit).
		StoreMaybeRef(collateral).
		StoreMaybeRef(debts).
		EndCell()
	if err != nil {
		return nil, errors.Wrap(err, "position state")
	}
	return cell.BeginCell().StoreRef(config).StoreRef(state).EndCell()
}

// EncodeStats builds the stats cell from per-asset deposit and borrow
// totals.
func EncodeStats(deposits, borrows map[types.Key]*big.Int) (*cell.Cell, error) {
	depositsRoot, err := encodeCoinsDict(deposits)
	if err != nil {
		return nil, errors.Wrap(err, "total deposits")
	}
	borrowsRoot, err := encodeCoinsDict(borrows)
	if err != nil {
		return nil, errors.Wrap(err, "total borrows")
	}
	return cell.BeginCell().StoreMaybeRef(depositsRoot).StoreMaybeRef(borrowsRoot).EndCell()
}

// ProtocolStateStack renders state as the get_singleton_state result.
// Prices are attributed to the supported asset sharing their key, or to the
// native coin.
func ProtocolStateStack(state *types.ProtocolState, priceTs int64) ([]cell.TupleItem, error) {
	owner, err := cell.AddressSliceItem(state.Owner)
	if err != nil {
		return nil, err
	}
	feeController, err := cell.AddressSliceItem(state.FeeController)
	if err != nil {
		return nil, err
	}
	protocolAccount, err := cell.AddressSliceItem(state.ProtocolAccount)
	if err != nil {
		return nil, err
	}

	minter := cell.NullItem()
	borrows := map[types.Key]*big.Int{}
	if state.Minter != nil {
		c, err := EncodeMinter(state.Minter)
		if err != nil {
			return nil, err
		}
		minter = cell.CellItem(c)
		key, err := types.AssetKey(state.Minter.Address)
		if err != nil {
			return nil, err
		}
		if state.TotalBorrows != nil {
			borrows[key] = state.TotalBorrows
		}
	}
	stats, err := EncodeStats(state.TotalDeposits, borrows)
	if err != nil {
		return nil, err
	}
	assets, err := EncodeSupportedAssets(state.SupportedAssets)
	if err != nil {
		return nil, err
	}

	nativeKey, err := types.AssetKey(nil)
	if err != nil {
		return nil, err
	}
	records := make([]PriceRecord, 0, len(state.Prices))
	for key, price := range state.Prices {
		r := PriceRecord{Price: price, Timestamp: priceTs}
		if a, ok := state.SupportedAssets[key]; ok {
			r.Minter = a.Minter
		} else if key != nativeKey {
			return nil, errors.Errorf("price %s has no supported asset", key)
		}
		records = append(records, r)
	}
	prices, err := EncodePrices(records)
	if err != nil {
		return nil, err
	}
	apy, err := EncodeApyTimeline(state.ApyTimeline)
	if err != nil {
		return nil, err
	}

	return []cell.TupleItem{
		owner,
		feeController,
		protocolAccount,
		minter,
		cell.CellItem(stats),
		optCell(assets),
		optCell(prices),
		cell.IntItem(big.NewInt(state.PositionSafeLine)),
		cell.IntItem(big.NewInt(state.PositionLiquidationLine)),
		optCell(apy),
		cell.IntItem(state.LiquidationPenalty),
		cell.IntItem(state.LiquidationPenaltySplit),
	}, nil
}

// PositionViewStack renders view as the get_position_state result.
func PositionViewStack(view *types.PositionView) ([]cell.TupleItem, error) {
	owner, err := cell.AddressSliceItem(view.Owner)
	if err != nil {
		return nil, err
	}
	collateral, err := EncodeCollateral(view.Collateral)
	if err != nil {
		return nil, err
	}
	debts, err := EncodeDebts(view.Debts)
	if err != nil {
		return nil, err
	}
	return []cell.TupleItem{
		owner,
		cell.IntItem(big.NewInt(view.CreatedAt)),
		cell.IntItem(big.NewInt(int64(view.State))),
		cell.IntItem(view.Credit),
		cell.IntItem(view.TotalDebt),
		optCell(collateral),
		optCell(debts),
		cell.IntItem(view.OutstandingDebt),
		cell.IntItem(view.InterestDebt),
	}, nil
}

// SortedKeys returns the keys of m in dictionary order.
func SortedKeys[V any](m map[types.Key]V) []types.Key {
	keys := maps.Keys(m)
	slices.SortFunc(keys, func(a, b types.Key) int {
		return a.Int().Cmp(b.Int())
	})
	return keys
}

func encodeCoinsDict(m map[types.Key]*big.Int) (*cell.Cell, error) {
	dict := cell.NewDictionary(types.BitsKey, cell.CellValue())
	for key, amount := range m {
		c, err := cell.BeginCell().StoreCoins(amount).EndCell()
		if err != nil {
			return nil, errors.Wrapf(err, "entry %s", key)
		}
		if err := dict.Set(key.Int(), c); err != nil {
			return nil, err
		}
	}
	return dict.Root()
}

func maybeAddressCell(a *cell.Address) (*cell.Cell, error) {
	if a == nil {
		return nil, nil
	}
	return cell.AddressCell(a)
}

func orEmpty(c *cell.Cell) *cell.Cell {
	if c == nil {
		return cell.EmptyCell()
	}
	return c
}

func optCell(c *cell.Cell) cell.TupleItem {
	if c == nil {
		return cell.NullItem()
	}
	return cell.CellItem(c)
}
