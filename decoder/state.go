package decoder

import (
	"math/big"

	"github.com/pkg/errors"

	"github.com/tonstable/risk-client/cell"
	"github.com/tonstable/risk-client/chain"
	"github.com/tonstable/risk-client/types"
)

// DecodeProtocolState consumes the get_singleton_state result.
func DecodeProtocolState(stack *chain.Stack) (*types.ProtocolState, error) {
	var (
		state = &types.ProtocolState{}
		err   error
	)

	if state.Owner, err = stack.ReadAddress(); err != nil {
		return nil, errors.Wrap(err, "owner")
	}
	if state.FeeController, err = stack.ReadAddress(); err != nil {
		return nil, errors.Wrap(err, "fee controller")
	}
	if state.ProtocolAccount, err = stack.ReadAddress(); err != nil {
		return nil, errors.Wrap(err, "protocol account")
	}
	minterCell, err := stack.ReadCellOpt()
	if err != nil {
		return nil, errors.Wrap(err, "minter")
	}
	stats, err := stack.ReadCell()
	if err != nil {
		return nil, errors.Wrap(err, "stats")
	}
	assetsRoot, err := stack.ReadCellOpt()
	if err != nil {
		return nil, errors.Wrap(err, "supported assets")
	}
	pricesRoot, err := stack.ReadCellOpt()
	if err != nil {
		return nil, errors.Wrap(err, "prices")
	}
	if state.PositionSafeLine, err = stack.ReadNumber(); err != nil {
		return nil, errors.Wrap(err, "safe line")
	}
	if state.PositionLiquidationLine, err = stack.ReadNumber(); err != nil {
		return nil, errors.Wrap(err, "liquidation line")
	}
	apyRoot, err := stack.ReadCellOpt()
	if err != nil {
		return nil, errors.Wrap(err, "apy timeline")
	}
	if state.LiquidationPenalty, err = stack.ReadBigNumber(); err != nil {
		return nil, errors.Wrap(err, "liquidation penalty")
	}
	if state.LiquidationPenaltySplit, err = stack.ReadBigNumber(); err != nil {
		return nil, errors.Wrap(err, "liquidation penalty split")
	}

	if minterCell != nil {
		if state.Minter, err = ParseMinter(minterCell); err != nil {
			return nil, errors.Wrap(err, "minter")
		}
	}
	if state.SupportedAssets, err = ParseSupportedAssets(assetsRoot); err != nil {
		return nil, err
	}
	if state.Prices, err = ParsePrices(pricesRoot); err != nil {
		return nil, err
	}
	if state.ApyTimeline, err = ParseApyTimeline(apyRoot); err != nil {
		return nil, err
	}
	if err = parseStats(stats, state); err != nil {
		return nil, errors.Wrap(err, "stats")
	}
	return state, nil
}

func ParseMinter(c *cell.Cell) (*types.Minter, error) {
	s := c.BeginParse()
	address, err := s.LoadAddress()
	if err != nil {
		return nil, err
	}
	minterCode, err := s.LoadRef()
	if err != nil {
		return nil, err
	}
	walletCode, err := s.LoadRef()
	if err != nil {
		return nil, err
	}
	return &types.Minter{Address: address, MinterCode: minterCode, WalletCode: walletCode}, nil
}

// parseStats fills total deposits for every supported asset, zero when the
// deposits dictionary has no entry, and total borrows of the stablecoin.
// Without a deposits dictionary no deposits are reported.
func parseStats(c *cell.Cell, state *types.ProtocolState) error {
	s := c.BeginParse()
	depositsRoot, err := s.LoadMaybeRef()
	if err != nil {
		return err
	}
	borrowsRoot, err := s.LoadMaybeRef()
	if err != nil {
		return err
	}

	deposits, err := parseCoinsDict(depositsRoot)
	if err != nil {
		return errors.Wrap(err, "total deposits")
	}
	state.TotalDeposits = make(map[types.Key]*big.Int, len(state.SupportedAssets))
	for key := range state.SupportedAssets {
		if depositsRoot == nil {
			break
		}
		amount, ok := deposits[key]
		if !ok {
			amount = new(big.Int)
		}
		state.TotalDeposits[key] = amount
	}

	borrows, err := parseCoinsDict(borrowsRoot)
	if err != nil {
		return errors.Wrap(err, "total borrows")
	}
	state.TotalBorrows = new(big.Int)
	if state.Minter != nil {
		key, err := types.AssetKey(state.Minter.Address)
		if err != nil {
			return err
		}
		if amount, ok := borrows[key]; ok {
			state.TotalBorrows = amount
		}
	}
	return nil
}

// ParseSupportedAssets decodes the supported-asset dictionary rooted at root.
func ParseSupportedAssets(root *cell.Cell) (map[types.Key]*types.SupportedAsset, error) {
	dict, err := cell.ParseDict(root, types.BitsKey, cell.CellValue())
	if err != nil {
		return nil, errors.Wrap(err, "supported assets")
	}

	assets := make(map[types.Key]*types.SupportedAsset, dict.Len())
	for _, e := range dict.Entries() {
		key := types.KeyFromInt(e.Key)
		asset, err := parseSupportedAsset(key, e.Value)
		if err != nil {
			return nil, errors.Wrapf(err, "supported asset %s", key)
		}
		assets[key] = asset
	}
	return assets, nil
}

func parseSupportedAsset(key types.Key, c *cell.Cell) (*types.SupportedAsset, error) {
	s := c.BeginParse()
	minter, err := s.LoadAddress()
	if err != nil {
		return nil, err
	}
	walletCode, err := s.LoadRef()
	if err != nil {
		return nil, err
	}
	paramsCell, err := s.LoadRef()
	if err != nil {
		return nil, err
	}

	params, err := parseAssetParams(paramsCell)
	if err != nil {
		return nil, errors.Wrap(err, "params")
	}
	return &types.SupportedAsset{
		Key:        key,
		Minter:     minter,
		WalletCode: walletCode,
		Params:     *params,
	}, nil
}

func parseAssetParams(c *cell.Cell) (*types.AssetParams, error) {
	s := c.BeginParse()
	assetType, err := s.LoadUint(types.BitsType)
	if err != nil {
		return nil, err
	}
	ratio, err := s.LoadBigUint(types.BitsRatio)
	if err != nil {
		return nil, err
	}
	ratioTs, err := s.LoadUint(types.BitsTimestamp)
	if err != nil {
		return nil, err
	}
	extended, err := s.LoadRef()
	if err != nil {
		return nil, err
	}
	if err := s.EndParse(); err != nil {
		return nil, err
	}

	es := extended.BeginParse()
	wrapped, err := loadMaybeAddressRef(es)
	if err != nil {
		return nil, errors.Wrap(err, "wrapped minter")
	}
	feed, err := loadMaybeAddressRef(es)
	if err != nil {
		return nil, errors.Wrap(err, "price feed")
	}

	return &types.AssetParams{
		AssetType:       uint8(assetType),
		ExchangeRatio:   ratio,
		ExchangeRatioTs: int64(ratioTs),
		WrappedMinter:   wrapped,
		PriceFeed:       feed,
	}, nil
}

// loadMaybeAddressRef reads an optional reference to a cell holding a single
// address. Absence decodes to nil.
func loadMaybeAddressRef(s *cell.Slice) (*cell.Address, error) {
	ref, err := s.LoadMaybeRef()
	if err != nil || ref == nil {
		return nil, err
	}
	return ref.BeginParse().LoadAddress()
}

// ParsePrices decodes the price dictionary. Entries are re-keyed by the asset
// key of the minter they carry.
func ParsePrices(root *cell.Cell) (map[types.Key]*big.Int, error) {
	records, err := ParsePriceRecords(root)
	if err != nil {
		return nil, err
	}
	prices := make(map[types.Key]*big.Int, len(records))
	for _, r := range records {
		key, err := types.AssetKey(r.Minter)
		if err != nil {
			return nil, err
		}
		prices[key] = r.Price
	}
	return prices, nil
}

func ParsePriceRecords(root *cell.Cell) ([]PriceRecord, error) {
	dict, err := cell.ParseDict(root, types.BitsKey, cell.CellValue())
	if err != nil {
		return nil, errors.Wrap(err, "prices")
	}

	records := make([]PriceRecord, 0, dict.Len())
	for _, e := range dict.Entries() {
		r, err := parsePriceRecord(e.Value)
		if err != nil {
			return nil, errors.Wrapf(err, "price %s", types.KeyFromInt(e.Key))
		}
		records = append(records, r)
	}
	return records, nil
}

func parsePriceRecord(c *cell.Cell) (PriceRecord, error) {
	s := c.BeginParse()
	minter, err := s.LoadMaybeAddress()
	if err != nil {
		return PriceRecord{}, err
	}
	data, err := s.LoadRef()
	if err != nil {
		return PriceRecord{}, err
	}

	ds := data.BeginParse()
	price, err := ds.LoadBigUint(types.BitsPriceValue)
	if err != nil {
		return PriceRecord{}, err
	}
	ts, err := ds.LoadUint(types.BitsTimestamp)
	if err != nil {
		return PriceRecord{}, err
	}
	return PriceRecord{Minter: minter, Price: price, Timestamp: int64(ts)}, nil
}

// ParseApyTimeline decodes the timestamp → rate dictionary rooted at root.
// Dictionary order makes the timeline ascending.
func ParseApyTimeline(root *cell.Cell) (types.ApyTimeline, error) {
	dict, err := cell.ParseDict(root, types.BitsTimestamp, cell.UintValue(types.BitsRatio))
	if err != nil {
		return nil, errors.Wrap(err, "apy timeline")
	}

	timeline := make(types.ApyTimeline, 0, dict.Len())
	for _, e := range dict.Entries() {
		timeline = append(timeline, types.ApyCheckpoint{Timestamp: e.Key.Int64(), Rate: e.Value})
	}
	return timeline, nil
}

// parseCoinsDict decodes an address-keyed dictionary whose values are cells
// starting with a coins amount.
func parseCoinsDict(root *cell.Cell) (map[types.Key]*big.Int, error) {
	dict, err := cell.ParseDict(root, types.BitsKey, cell.CellValue())
	if err != nil {
		return nil, err
	}

	out := make(map[types.Key]*big.Int, dict.Len())
	for _, e := range dict.Entries() {
		amount, err := e.Value.BeginParse().LoadCoins()
		if err != nil {
			return nil, errors.Wrapf(err, "entry %s", types.KeyFromInt(e.Key))
		}
		out[types.KeyFromInt(e.Key)] = amount
	}
	return out, nil
}
