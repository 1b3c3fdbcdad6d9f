package valuation_test

import (
	"math/big"
	"testing"

	"github.com/pkg/errors"
	"github.com/test-go/testify/require"

	"github.com/tonstable/risk-client/cell"
	"github.com/tonstable/risk-client/types"
	"github.com/tonstable/risk-client/valuation"
)

var (
	native  = types.KeyFromInt(big.NewInt(1))
	stton   = types.KeyFromInt(big.NewInt(2))
	tston   = types.KeyFromInt(big.NewInt(3))
	unknown = types.KeyFromInt(big.NewInt(4))
)

func position() *types.Position {
	return &types.Position{
		Collateral: map[types.Key]*big.Int{
			native:  big.NewInt(3),
			stton:   big.NewInt(1_000_000_000),
			tston:   big.NewInt(0),
			unknown: big.NewInt(5_000_000_000),
		},
	}
}

func prices() map[types.Key]*big.Int {
	return map[types.Key]*big.Int{
		native:  big.NewInt(550_000_000),
		stton:   big.NewInt(580_000_001),
		unknown: big.NewInt(100_000_000),
	}
}

func TestValueOf(t *testing.T) {
	v := valuation.New(types.DefaultDenominations())

	total, err := v.ValueOf(position(), prices(), []types.Key{native, stton, tston})
	require.NoError(t, err)
	// 3*5.5 + 1e9*5.80000001 = 5800000026.5
	require.Equal(t, "5800000026", total.String())
}

func TestValueOfTruncatesTotalOnce(t *testing.T) {
	v := valuation.New(types.DefaultDenominations())
	p := &types.Position{Collateral: map[types.Key]*big.Int{
		native: big.NewInt(1),
		stton:  big.NewInt(1),
		tston:  big.NewInt(1),
	}}
	px := map[types.Key]*big.Int{
		native: big.NewInt(70_000_000),
		stton:  big.NewInt(70_000_000),
		tston:  big.NewInt(70_000_000),
	}
	assets := []types.Key{native, stton, tston}

	total, err := v.ValueOf(p, px, assets)
	require.NoError(t, err)
	// 3*0.7 rather than 0+0+0
	require.Equal(t, "2", total.String())

	holdings, err := v.Holdings(p, px, assets, nil)
	require.NoError(t, err)
	require.Len(t, holdings, 3)
	for _, h := range holdings {
		require.Zero(t, h.Value.Sign())
	}
	require.Equal(t, "2", v.Total(holdings).String())

	px[tston] = big.NewInt(60_000_000)
	total, err = v.ValueOf(p, px, assets)
	require.NoError(t, err)
	require.Equal(t, "2", total.String())
}

func TestValueOfIgnoresAssetsOutsideAllowList(t *testing.T) {
	v := valuation.New(types.DefaultDenominations())

	total, err := v.ValueOf(position(), prices(), []types.Key{stton})
	require.NoError(t, err)
	require.Equal(t, "5800000010", total.String())

	total, err = v.ValueOf(position(), prices(), nil)
	require.NoError(t, err)
	require.Zero(t, total.Sign())
}

func TestValueOfMissingPrice(t *testing.T) {
	v := valuation.New(types.DefaultDenominations())
	p := prices()
	delete(p, stton)

	_, err := v.ValueOf(position(), p, []types.Key{native, stton})
	require.True(t, errors.Is(err, valuation.ErrMissingPrice))

	// no price is needed for an asset the position does not hold
	_, err = v.ValueOf(position(), p, []types.Key{native, tston})
	require.NoError(t, err)
}

func TestHoldingsBreakdown(t *testing.T) {
	v := valuation.New(types.DefaultDenominations())
	minter := cell.MustParseAddress("EQAv0PrfHU6U621bR3grc0_gtSaTJjyW8jfGHQRYsj6r1aYa")
	supported := map[types.Key]*types.SupportedAsset{
		stton: {Key: stton, Minter: minter, Params: types.AssetParams{ExchangeRatio: big.NewInt(105_000_000)}},
	}

	holdings, err := v.Holdings(position(), prices(), []types.Key{stton, native, stton}, supported)
	require.NoError(t, err)
	require.Len(t, holdings, 2)

	require.Equal(t, stton, holdings[0].Key)
	require.True(t, holdings[0].Minter.Equal(minter))
	require.Equal(t, "105000000", holdings[0].ExchangeRatio.String())
	require.Equal(t, "5800000010", holdings[0].Value.String())

	require.Equal(t, native, holdings[1].Key)
	require.Nil(t, holdings[1].Minter)
	require.Equal(t, "16", holdings[1].Value.String())
}
