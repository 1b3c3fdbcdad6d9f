package decoder_test

import (
	"math/big"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/test-go/testify/require"

	"github.com/tonstable/risk-client/cell"
	"github.com/tonstable/risk-client/chain"
	"github.com/tonstable/risk-client/decoder"
	"github.com/tonstable/risk-client/types"
)

var (
	stton   = cell.MustParseAddress("EQAv0PrfHU6U621bR3grc0_gtSaTJjyW8jfGHQRYsj6r1aYa")
	stable  = cell.MustParseAddress("EQDM1pwnzPipG7aOUCqT040kZDZl83svyCIDwRwh9pTHLm7W")
	tston   = rawAddress("22")
	owner   = rawAddress("aa")
	fees    = rawAddress("bb")
	account = rawAddress("cc")
	feed    = rawAddress("dd")
)

func rawAddress(b string) *cell.Address {
	return cell.MustParseAddress("0:" + strings.Repeat(b, 32))
}

func key(t *testing.T, a *cell.Address) types.Key {
	k, err := types.AssetKey(a)
	require.NoError(t, err)
	return k
}

func requireInt(t *testing.T, want int64, got *big.Int) {
	t.Helper()
	require.NotNil(t, got)
	require.Equal(t, big.NewInt(want).String(), got.String())
}

func TestAssetKeyOfNativeCoin(t *testing.T) {
	require.Equal(t,
		"a1bb2a842d54edb8942f95bedaf53923d2d788d698232cfb256571e9e8b10a86",
		key(t, nil).String())
	require.Equal(t,
		"f5d677a4afb1fed2b0dd5192d8fc88d9ea8fd913882a505854f200174cefeb44",
		key(t, stton).String())
}

func samplePosition(t *testing.T, collateral, debts int) *types.Position {
	p := &types.Position{
		Owner:      owner,
		CreatedAt:  1_700_000_000,
		State:      1,
		Credit:     big.NewInt(12_345),
		Collateral: map[types.Key]*big.Int{},
		Debts:      map[types.Key]*types.Debt{},
	}
	minters := []*cell.Address{nil, stton, tston}
	for i := 0; i < collateral; i++ {
		p.Collateral[key(t, minters[i])] = big.NewInt(int64(i+1) * 1_000_000_000)
	}
	created := int64(1_700_000_100)
	for i := 0; i < debts; i++ {
		d := &types.Debt{
			Principal:       big.NewInt(int64(i+1) * 500_000_000),
			StartTs:         1_700_000_000 + int64(i),
			AccruedInterest: big.NewInt(int64(i) * 7),
		}
		if i%2 == 0 {
			d.CreatedAt = &created
		}
		p.Debts[key(t, minters[i])] = d
	}
	return p
}

func TestPositionRoundTrip(t *testing.T) {
	for _, size := range []int{0, 1, 3} {
		p := samplePosition(t, size, size)

		encoded, err := decoder.EncodePosition(p)
		require.NoError(t, err)

		decoded, err := decoder.ParsePositionCell(encoded)
		require.NoError(t, err)
		require.True(t, decoded.Owner.Equal(p.Owner))
		require.Equal(t, p.CreatedAt, decoded.CreatedAt)
		require.Equal(t, p.State, decoded.State)
		requireInt(t, 12_345, decoded.Credit)
		require.Len(t, decoded.Collateral, size)
		require.Len(t, decoded.Debts, size)

		for k, amount := range p.Collateral {
			require.Equal(t, amount.String(), decoded.Collateral[k].String())
		}
		for k, d := range p.Debts {
			got := decoded.Debts[k]
			require.NotNil(t, got)
			require.Equal(t, d.Principal.String(), got.Principal.String())
			require.Equal(t, d.StartTs, got.StartTs)
			require.Equal(t, d.AccruedInterest.String(), got.AccruedInterest.String())
			require.Equal(t, d.CreatedAt, got.CreatedAt)
		}

		reencoded, err := decoder.EncodePosition(decoded)
		require.NoError(t, err)
		require.Equal(t, encoded.Hash(), reencoded.Hash())
	}
}

func TestPositionRejectsTrailingData(t *testing.T) {
	p := samplePosition(t, 1, 1)
	encoded, err := decoder.EncodePosition(p)
	require.NoError(t, err)

	s := encoded.BeginParse()
	padded, err := cell.BeginCell().StoreSlice(s).StoreUint(1, 1).EndCell()
	require.NoError(t, err)

	_, err = decoder.ParsePositionCell(padded)
	require.True(t, errors.Is(err, cell.ErrMalformedCell))

	_, err = decoder.ParsePositionCell(cell.EmptyCell())
	require.True(t, errors.Is(err, cell.ErrMalformedCell))
}

func TestDebtWithoutCreationTime(t *testing.T) {
	c, err := cell.BeginCell().
		StoreCoins(big.NewInt(100)).
		StoreUint(50, 32).
		StoreCoins(big.NewInt(3)).
		EndCell()
	require.NoError(t, err)

	d, err := decoder.ParseDebt(c)
	require.NoError(t, err)
	requireInt(t, 100, d.Principal)
	require.Equal(t, int64(50), d.StartTs)
	requireInt(t, 3, d.AccruedInterest)
	require.Nil(t, d.CreatedAt)
}

func sampleAssets(t *testing.T) map[types.Key]*types.SupportedAsset {
	walletCode, err := cell.BeginCell().StoreUint(0xc0de, 16).EndCell()
	require.NoError(t, err)

	return map[types.Key]*types.SupportedAsset{
		key(t, stton): {
			Key:        key(t, stton),
			Minter:     stton,
			WalletCode: walletCode,
			Params: types.AssetParams{
				AssetType:       types.AssetTypeWrapTON,
				ExchangeRatio:   big.NewInt(105_000_000),
				ExchangeRatioTs: 1_700_000_000,
				WrappedMinter:   tston,
				PriceFeed:       feed,
			},
		},
		key(t, tston): {
			Key:        key(t, tston),
			Minter:     tston,
			WalletCode: walletCode,
			Params: types.AssetParams{
				AssetType:     types.AssetTypeSimple,
				ExchangeRatio: big.NewInt(100_000_000),
			},
		},
	}
}

func TestSupportedAssetsRoundTrip(t *testing.T) {
	assets := sampleAssets(t)

	root, err := decoder.EncodeSupportedAssets(assets)
	require.NoError(t, err)

	decoded, err := decoder.ParseSupportedAssets(root)
	require.NoError(t, err)
	require.Len(t, decoded, 2)

	wrapped := decoded[key(t, stton)]
	require.NotNil(t, wrapped)
	require.Equal(t, key(t, stton), wrapped.Key)
	require.True(t, wrapped.Minter.Equal(stton))
	require.Equal(t, uint8(types.AssetTypeWrapTON), wrapped.Params.AssetType)
	requireInt(t, 105_000_000, wrapped.Params.ExchangeRatio)
	require.Equal(t, int64(1_700_000_000), wrapped.Params.ExchangeRatioTs)
	require.True(t, wrapped.Params.WrappedMinter.Equal(tston))
	require.True(t, wrapped.Params.PriceFeed.Equal(feed))

	simple := decoded[key(t, tston)]
	require.NotNil(t, simple)
	require.Nil(t, simple.Params.WrappedMinter)
	require.Nil(t, simple.Params.PriceFeed)

	empty, err := decoder.ParseSupportedAssets(nil)
	require.NoError(t, err)
	require.Empty(t, empty)
}

func TestSupportedAssetParamsAreStrict(t *testing.T) {
	extended, err := cell.BeginCell().StoreBit(false).StoreBit(false).EndCell()
	require.NoError(t, err)
	params, err := cell.BeginCell().
		StoreUint(2, 8).
		StoreUint(100_000_000, 64).
		StoreUint(0, 32).
		StoreRef(extended).
		StoreUint(0, 1).
		EndCell()
	require.NoError(t, err)
	value, err := cell.BeginCell().
		StoreAddress(stton).
		StoreRef(cell.EmptyCell()).
		StoreRef(params).
		EndCell()
	require.NoError(t, err)

	dict := cell.NewDictionary(types.BitsKey, cell.CellValue())
	require.NoError(t, dict.Set(key(t, stton).Int(), value))
	root, err := dict.Root()
	require.NoError(t, err)

	_, err = decoder.ParseSupportedAssets(root)
	require.True(t, errors.Is(err, cell.ErrMalformedCell))
}

func TestPriceIsStoredBehindReference(t *testing.T) {
	c, err := decoder.EncodePrice(decoder.PriceRecord{Minter: stton, Price: big.NewInt(250_000_000), Timestamp: 42})
	require.NoError(t, err)
	require.Equal(t, 267, c.BitLen())
	require.Equal(t, 1, c.RefCount())
	require.Equal(t, 256+32, c.Ref(0).BitLen())

	root, err := decoder.EncodePrices([]decoder.PriceRecord{
		{Minter: nil, Price: big.NewInt(550_000_000), Timestamp: 42},
		{Minter: stton, Price: big.NewInt(250_000_000), Timestamp: 43},
	})
	require.NoError(t, err)

	records, err := decoder.ParsePriceRecords(root)
	require.NoError(t, err)
	require.Len(t, records, 2)

	prices, err := decoder.ParsePrices(root)
	require.NoError(t, err)
	requireInt(t, 550_000_000, prices[key(t, nil)])
	requireInt(t, 250_000_000, prices[key(t, stton)])
}

func TestApyTimelineRoundTrip(t *testing.T) {
	timeline := types.ApyTimeline{
		{Timestamp: 2_000, Rate: big.NewInt(10_000_000)},
		{Timestamp: 1_000, Rate: big.NewInt(5_000_000)},
	}
	root, err := decoder.EncodeApyTimeline(timeline)
	require.NoError(t, err)

	decoded, err := decoder.ParseApyTimeline(root)
	require.NoError(t, err)
	require.Len(t, decoded, 2)
	require.Equal(t, int64(1_000), decoded[0].Timestamp)
	requireInt(t, 5_000_000, decoded[0].Rate)
	require.Equal(t, int64(2_000), decoded[1].Timestamp)
	requireInt(t, 10_000_000, decoded[1].Rate)

	empty, err := decoder.ParseApyTimeline(nil)
	require.NoError(t, err)
	require.Empty(t, empty)
}

func sampleState(t *testing.T) *types.ProtocolState {
	code, err := cell.BeginCell().StoreUint(1, 8).EndCell()
	require.NoError(t, err)

	return &types.ProtocolState{
		Owner:           owner,
		FeeController:   fees,
		ProtocolAccount: account,
		Minter:          &types.Minter{Address: stable, MinterCode: code, WalletCode: code},
		TotalDeposits: map[types.Key]*big.Int{
			key(t, stton): big.NewInt(9_000_000_000),
		},
		TotalBorrows:    big.NewInt(4_000_000_000),
		SupportedAssets: sampleAssets(t),
		Prices: map[types.Key]*big.Int{
			key(t, nil):   big.NewInt(550_000_000),
			key(t, stton): big.NewInt(580_000_000),
		},
		PositionSafeLine:        12_000,
		PositionLiquidationLine: 10_000,
		ApyTimeline: types.ApyTimeline{
			{Timestamp: 1_000, Rate: big.NewInt(5_000_000)},
		},
		LiquidationPenalty:      big.NewInt(10_000_000),
		LiquidationPenaltySplit: big.NewInt(50_000_000),
	}
}

func TestProtocolStateRoundTrip(t *testing.T) {
	state := sampleState(t)

	items, err := decoder.ProtocolStateStack(state, 1_700_000_000)
	require.NoError(t, err)
	require.Len(t, items, 12)

	decoded, err := decoder.DecodeProtocolState(chain.NewStack(items...))
	require.NoError(t, err)

	require.True(t, decoded.Owner.Equal(owner))
	require.True(t, decoded.FeeController.Equal(fees))
	require.True(t, decoded.ProtocolAccount.Equal(account))
	require.NotNil(t, decoded.Minter)
	require.True(t, decoded.Minter.Address.Equal(stable))
	require.Len(t, decoded.SupportedAssets, 2)
	require.Equal(t, int64(12_000), decoded.PositionSafeLine)
	require.Equal(t, int64(10_000), decoded.PositionLiquidationLine)
	require.Equal(t, int64(11_000), decoded.OutstandingLine())
	require.Len(t, decoded.ApyTimeline, 1)
	requireInt(t, 10_000_000, decoded.LiquidationPenalty)
	requireInt(t, 50_000_000, decoded.LiquidationPenaltySplit)

	// every supported asset gets a deposit total, zero when the ledger has none
	require.Len(t, decoded.TotalDeposits, 2)
	requireInt(t, 9_000_000_000, decoded.TotalDeposits[key(t, stton)])
	requireInt(t, 0, decoded.TotalDeposits[key(t, tston)])
	requireInt(t, 4_000_000_000, decoded.TotalBorrows)

	require.Len(t, decoded.Prices, 2)
	requireInt(t, 550_000_000, decoded.Prices[key(t, nil)])
	requireInt(t, 580_000_000, decoded.Prices[key(t, stton)])
}

func TestProtocolStateWithoutOptionalParts(t *testing.T) {
	state := sampleState(t)
	state.Minter = nil
	state.SupportedAssets = nil
	state.TotalDeposits = nil
	state.Prices = nil
	state.ApyTimeline = nil

	items, err := decoder.ProtocolStateStack(state, 0)
	require.NoError(t, err)
	require.Equal(t, cell.TupleNull, items[3].Kind)
	require.Equal(t, cell.TupleNull, items[5].Kind)
	require.Equal(t, cell.TupleNull, items[6].Kind)
	require.Equal(t, cell.TupleNull, items[9].Kind)

	decoded, err := decoder.DecodeProtocolState(chain.NewStack(items...))
	require.NoError(t, err)
	require.Nil(t, decoded.Minter)
	require.Empty(t, decoded.SupportedAssets)
	require.Empty(t, decoded.Prices)
	require.Empty(t, decoded.ApyTimeline)
	require.Empty(t, decoded.TotalDeposits)
	requireInt(t, 0, decoded.TotalBorrows)
}

func TestProtocolStateWithoutDeposits(t *testing.T) {
	state := sampleState(t)
	state.TotalDeposits = nil

	items, err := decoder.ProtocolStateStack(state, 0)
	require.NoError(t, err)
	decoded, err := decoder.DecodeProtocolState(chain.NewStack(items...))
	require.NoError(t, err)
	require.Len(t, decoded.SupportedAssets, 2)
	// no zero entries are made up for the supported assets
	require.Empty(t, decoded.TotalDeposits)
}

func TestProtocolStateTruncatedStack(t *testing.T) {
	items, err := decoder.ProtocolStateStack(sampleState(t), 0)
	require.NoError(t, err)

	_, err = decoder.DecodeProtocolState(chain.NewStack(items[:8]...))
	require.True(t, errors.Is(err, cell.ErrMalformedCell))
}

func TestPositionViewRoundTrip(t *testing.T) {
	view := &types.PositionView{
		Position:        *samplePosition(t, 2, 1),
		TotalDebt:       big.NewInt(500_000_000),
		OutstandingDebt: big.NewInt(0),
		InterestDebt:    big.NewInt(12),
	}
	items, err := decoder.PositionViewStack(view)
	require.NoError(t, err)

	decoded, err := decoder.DecodePositionView(chain.NewStack(items...))
	require.NoError(t, err)
	require.True(t, decoded.Owner.Equal(owner))
	require.Equal(t, uint8(1), decoded.State)
	requireInt(t, 500_000_000, decoded.TotalDebt)
	requireInt(t, 0, decoded.OutstandingDebt)
	requireInt(t, 12, decoded.InterestDebt)
	require.Len(t, decoded.Collateral, 2)
	require.Len(t, decoded.Debts, 1)
}

func TestDecodePositionListSkipsNonCells(t *testing.T) {
	first, err := decoder.EncodePosition(samplePosition(t, 1, 0))
	require.NoError(t, err)
	second, err := decoder.EncodePosition(samplePosition(t, 2, 2))
	require.NoError(t, err)

	stack := chain.NewStack(chain.LispList(
		cell.CellItem(first),
		cell.IntItem(big.NewInt(5)),
		cell.CellItem(second),
	))
	items, err := stack.ReadLispList()
	require.NoError(t, err)

	positions, err := decoder.DecodePositionList(items)
	require.NoError(t, err)
	require.Len(t, positions, 2)
	require.Len(t, positions[1].Debts, 2)
}

func TestDecodeCustodyTokens(t *testing.T) {
	dict := cell.NewDictionary(types.BitsKey, cell.CellValue())
	for i, minter := range []*cell.Address{stton, tston} {
		c, err := cell.BeginCell().StoreAddress(minter).StoreCoins(big.NewInt(int64(i + 1))).EndCell()
		require.NoError(t, err)
		require.NoError(t, dict.Set(key(t, minter).Int(), c))
	}
	root, err := dict.Root()
	require.NoError(t, err)

	tokens, err := decoder.DecodeCustodyTokens(chain.NewStack(cell.CellItem(root)))
	require.NoError(t, err)
	require.Len(t, tokens, 2)

	total := new(big.Int)
	for _, tok := range tokens {
		total.Add(total, tok.Amount)
	}
	requireInt(t, 3, total)

	none, err := decoder.DecodeCustodyTokens(chain.NewStack(cell.NullItem()))
	require.NoError(t, err)
	require.Empty(t, none)
}

func TestDecodeAccruedProfits(t *testing.T) {
	profits, err := decoder.DecodeAccruedProfits(chain.NewStack(
		cell.IntItem(big.NewInt(1_000)),
		cell.IntItem(big.NewInt(1_700_000_000)),
		cell.IntItem(big.NewInt(400)),
	))
	require.NoError(t, err)
	requireInt(t, 1_000, profits.TotalAccrued)
	require.Equal(t, int64(1_700_000_000), profits.LastUpdated)
	requireInt(t, 400, profits.Extracted)
}

func TestSortedKeys(t *testing.T) {
	m := map[types.Key]int{
		types.KeyFromInt(big.NewInt(3)): 3,
		types.KeyFromInt(big.NewInt(1)): 1,
		types.KeyFromInt(big.NewInt(2)): 2,
	}
	keys := decoder.SortedKeys(m)
	require.Len(t, keys, 3)
	for i, k := range keys {
		require.Equal(t, i+1, m[k])
	}
}
