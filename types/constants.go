package types

import "math/big"

// SecondsPerYear has no leap-year adjustment; the contract accrues with the
// same constant.
const SecondsPerYear = 365 * 86400

const (
	BitsOp         = 32
	BitsQueryID    = 64
	BitsRatio      = 64
	BitsType       = 8
	BitsPriceValue = 256
	BitsTimestamp  = 32
	BitsKey        = 256
	BitsLine       = 32

	BytesPubkey    = 32
	BytesSignature = 64
)

const (
	AssetTypeWrapTON = 1
	AssetTypeSimple  = 2
	AssetTypeWrap    = 3
)

// Denominations are the protocol's fixed-point scales. The value is copied
// into every component that needs it and never mutated.
type Denominations struct {
	Ratio int64
	Price int64
	Line  int64
}

func DefaultDenominations() Denominations {
	return Denominations{
		Ratio: 100_000_000,
		Price: 100_000_000,
		Line:  10_000,
	}
}

func (d Denominations) RatioInt() *big.Int { return big.NewInt(d.Ratio) }

func (d Denominations) PriceInt() *big.Int { return big.NewInt(d.Price) }

func (d Denominations) LineInt() *big.Int { return big.NewInt(d.Line) }
