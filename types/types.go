package types

import (
	"encoding/hex"
	"math/big"

	"github.com/tonstable/risk-client/cell"
)

// Key is the 256-bit dictionary key the ledger derives from an address.
type Key [32]byte

func KeyFromInt(v *big.Int) Key {
	var k Key
	if v != nil {
		v.FillBytes(k[:])
	}
	return k
}

// AssetKey returns the key of a minter address; nil is the native coin.
func AssetKey(a *cell.Address) (Key, error) {
	h, err := cell.AddressHash(a)
	if err != nil {
		return Key{}, err
	}
	return KeyFromInt(h), nil
}

func (k Key) Int() *big.Int { return new(big.Int).SetBytes(k[:]) }

func (k Key) String() string { return hex.EncodeToString(k[:]) }

func (k Key) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

type ApyCheckpoint struct {
	Timestamp int64    `json:"ts"`
	Rate      *big.Int `json:"rate"`
}

// ApyTimeline is ordered by non-decreasing timestamp. Each rate applies from
// its timestamp until the next checkpoint.
type ApyTimeline []ApyCheckpoint

type Minter struct {
	Address    *cell.Address `json:"address"`
	MinterCode *cell.Cell    `json:"-"`
	WalletCode *cell.Cell    `json:"-"`
}

type AssetParams struct {
	AssetType       uint8         `json:"assetType"`
	ExchangeRatio   *big.Int      `json:"exchangeRatio"`
	ExchangeRatioTs int64         `json:"exchangeRatioTs"`
	WrappedMinter   *cell.Address `json:"wrappedMinterAddress,omitempty"`
	PriceFeed       *cell.Address `json:"priceFeedAddress,omitempty"`
}

type SupportedAsset struct {
	Key        Key           `json:"key"`
	Minter     *cell.Address `json:"minterAddress"`
	WalletCode *cell.Cell    `json:"-"`
	Params     AssetParams   `json:"params"`
}

// ProtocolState is a snapshot of the singleton contract's configuration and
// aggregate statistics.
type ProtocolState struct {
	Owner                   *cell.Address           `json:"owner"`
	FeeController           *cell.Address           `json:"feeController"`
	ProtocolAccount         *cell.Address           `json:"protocolAccount"`
	Minter                  *Minter                 `json:"minter,omitempty"`
	TotalDeposits           map[Key]*big.Int        `json:"totalDeposits"`
	TotalBorrows            *big.Int                `json:"totalBorrows"`
	SupportedAssets         map[Key]*SupportedAsset `json:"supportedAssets"`
	Prices                  map[Key]*big.Int        `json:"prices"`
	PositionSafeLine        int64                   `json:"positionSafeLine"`
	PositionLiquidationLine int64                   `json:"positionLiquidationLine"`
	ApyTimeline             ApyTimeline             `json:"apyTimeline"`
	LiquidationPenalty      *big.Int                `json:"liquidationPenalty"`
	LiquidationPenaltySplit *big.Int                `json:"liquidationPenaltySplit"`
}

// OutstandingLine is the adequacy a liquidation has to restore, halfway
// between the safe line and the liquidation line.
func (s *ProtocolState) OutstandingLine() int64 {
	return (s.PositionSafeLine + s.PositionLiquidationLine) / 2
}

type Debt struct {
	Principal       *big.Int `json:"principal"`
	StartTs         int64    `json:"startTs"`
	AccruedInterest *big.Int `json:"accruedInterest"`
	CreatedAt       *int64   `json:"createdAt,omitempty"`
}

type Position struct {
	Owner      *cell.Address    `json:"owner"`
	CreatedAt  int64            `json:"createdAt"`
	State      uint8            `json:"state"`
	Credit     *big.Int         `json:"credit"`
	Collateral map[Key]*big.Int `json:"collateral"`
	Debts      map[Key]*Debt    `json:"debts"`
}

// PositionView is a position as reported by the position state get method,
// together with the contract's own debt figures.
type PositionView struct {
	Position
	TotalDebt       *big.Int `json:"totalDebt"`
	OutstandingDebt *big.Int `json:"outstandingDebt"`
	InterestDebt    *big.Int `json:"interestDebt"`
}

type CustodyToken struct {
	Minter *cell.Address `json:"minterAddress"`
	Amount *big.Int      `json:"amount"`
}

type AccruedProfits struct {
	TotalAccrued *big.Int `json:"totalAccrued"`
	LastUpdated  int64    `json:"lastUpdated"`
	Extracted    *big.Int `json:"extracted"`
}

// CollateralAsset is an allow-listed collateral: the feed symbol it is priced
// under and its minter. A nil minter is the native coin.
type CollateralAsset struct {
	Symbol string        `json:"symbol"`
	Minter *cell.Address `json:"minterAddress,omitempty"`
	Key    Key           `json:"key"`
}

func NewCollateralAsset(symbol string, minter *cell.Address) (CollateralAsset, error) {
	key, err := AssetKey(minter)
	if err != nil {
		return CollateralAsset{}, err
	}
	return CollateralAsset{Symbol: symbol, Minter: minter, Key: key}, nil
}
