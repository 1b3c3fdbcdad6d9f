package cell

import (
	"math"
	"math/big"

	"github.com/pkg/errors"
)

type TupleKind int

const (
	TupleNull TupleKind = iota
	TupleInt
	TupleCell
	TupleSlice
	TupleTuple
)

func (k TupleKind) String() string {
	switch k {
	case TupleNull:
		return "null"
	case TupleInt:
		return "int"
	case TupleCell:
		return "cell"
	case TupleSlice:
		return "slice"
	case TupleTuple:
		return "tuple"
	}
	return "unknown"
}

// TupleItem is one value of a virtual machine stack or tuple.
type TupleItem struct {
	Kind  TupleKind
	Int   *big.Int
	Cell  *Cell
	Items []TupleItem
}

func NullItem() TupleItem { return TupleItem{Kind: TupleNull} }

func IntItem(v *big.Int) TupleItem { return TupleItem{Kind: TupleInt, Int: v} }

func CellItem(c *Cell) TupleItem { return TupleItem{Kind: TupleCell, Cell: c} }

func SliceItem(c *Cell) TupleItem { return TupleItem{Kind: TupleSlice, Cell: c} }

func TupleOf(items ...TupleItem) TupleItem { return TupleItem{Kind: TupleTuple, Items: items} }

// AddressSliceItem wraps an address in a slice item, the form get methods
// take address arguments in.
func AddressSliceItem(a *Address) (TupleItem, error) {
	c, err := AddressCell(a)
	if err != nil {
		return TupleItem{}, err
	}
	return SliceItem(c), nil
}

var (
	minInt64 = big.NewInt(math.MinInt64)
	maxInt64 = big.NewInt(math.MaxInt64)
)

// SerializeTuple encodes items as a VmStack: a 24-bit depth followed by the
// items, last item inline and the rest chained through the first reference.
func SerializeTuple(items []TupleItem) (*Cell, error) {
	b := BeginCell().StoreUint(uint64(len(items)), 24)
	if err := serializeTupleTail(b, items); err != nil {
		return nil, err
	}
	return b.EndCell()
}

func serializeTupleTail(b *Builder, items []TupleItem) error {
	if len(items) == 0 {
		return nil
	}
	tail := BeginCell()
	if err := serializeTupleTail(tail, items[:len(items)-1]); err != nil {
		return err
	}
	tc, err := tail.EndCell()
	if err != nil {
		return err
	}
	b.StoreRef(tc)
	return serializeTupleItem(b, items[len(items)-1])
}

func serializeTupleItem(b *Builder, item TupleItem) error {
	switch item.Kind {
	case TupleNull:
		b.StoreUint(0x00, 8)
	case TupleInt:
		v := item.Int
		if v == nil {
			v = new(big.Int)
		}
		if v.Cmp(minInt64) >= 0 && v.Cmp(maxInt64) <= 0 {
			b.StoreUint(0x01, 8).StoreBigInt(v, 64)
		} else {
			b.StoreUint(0x0100, 15).StoreBigInt(v, 257)
		}
	case TupleCell:
		if item.Cell == nil {
			return errors.Wrap(ErrMalformedCell, "nil cell tuple item")
		}
		b.StoreUint(0x03, 8).StoreRef(item.Cell)
	case TupleSlice:
		if item.Cell == nil {
			return errors.Wrap(ErrMalformedCell, "nil slice tuple item")
		}
		b.StoreUint(0x04, 8).
			StoreUint(0, 10).
			StoreUint(uint64(item.Cell.BitLen()), 10).
			StoreUint(0, 3).
			StoreUint(uint64(item.Cell.RefCount()), 3).
			StoreRef(item.Cell)
	default:
		return errors.Errorf("tuple item of kind %s cannot be serialized", item.Kind)
	}
	return b.Err()
}
