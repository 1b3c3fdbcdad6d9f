package chain

import (
	"encoding/hex"
	"math/big"

	"github.com/pkg/errors"

	"github.com/tonstable/risk-client/cell"
)

// Stack is a read cursor over the values returned by a get method.
type Stack struct {
	items []cell.TupleItem
	pos   int
}

func NewStack(items ...cell.TupleItem) *Stack {
	return &Stack{items: items}
}

func (s *Stack) Remaining() int { return len(s.items) - s.pos }

// Fingerprint is the hex hash of the whole stack serialized as a tuple,
// regardless of how much of it has been read.
func (s *Stack) Fingerprint() (string, error) {
	c, err := cell.SerializeTuple(s.items)
	if err != nil {
		return "", errors.Wrap(err, "serialize stack")
	}
	return hex.EncodeToString(c.Hash()), nil
}

func (s *Stack) next() (cell.TupleItem, error) {
	if s.pos >= len(s.items) {
		return cell.TupleItem{}, errors.Wrapf(cell.ErrMalformedCell, "stack exhausted after %d items", len(s.items))
	}
	item := s.items[s.pos]
	s.pos++
	return item, nil
}

func (s *Stack) ReadBigNumberOpt() (*big.Int, error) {
	item, err := s.next()
	if err != nil {
		return nil, err
	}
	switch item.Kind {
	case cell.TupleNull:
		return nil, nil
	case cell.TupleInt:
		if item.Int == nil {
			return new(big.Int), nil
		}
		return new(big.Int).Set(item.Int), nil
	}
	return nil, errors.Wrapf(cell.ErrMalformedCell, "stack item %d: expected int, got %s", s.pos-1, item.Kind)
}

func (s *Stack) ReadBigNumber() (*big.Int, error) {
	v, err := s.ReadBigNumberOpt()
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, errors.Wrapf(cell.ErrMalformedCell, "stack item %d: unexpected null", s.pos-1)
	}
	return v, nil
}

func (s *Stack) ReadNumber() (int64, error) {
	v, err := s.ReadBigNumber()
	if err != nil {
		return 0, err
	}
	if !v.IsInt64() {
		return 0, errors.Wrapf(cell.ErrMalformedCell, "stack item %d: %s overflows int64", s.pos-1, v)
	}
	return v.Int64(), nil
}

// ReadCellOpt accepts cell and slice items; null reads as nil.
func (s *Stack) ReadCellOpt() (*cell.Cell, error) {
	item, err := s.next()
	if err != nil {
		return nil, err
	}
	switch item.Kind {
	case cell.TupleNull:
		return nil, nil
	case cell.TupleCell, cell.TupleSlice:
		return item.Cell, nil
	}
	return nil, errors.Wrapf(cell.ErrMalformedCell, "stack item %d: expected cell, got %s", s.pos-1, item.Kind)
}

func (s *Stack) ReadCell() (*cell.Cell, error) {
	c, err := s.ReadCellOpt()
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, errors.Wrapf(cell.ErrMalformedCell, "stack item %d: unexpected null", s.pos-1)
	}
	return c, nil
}

func (s *Stack) ReadAddressOpt() (*cell.Address, error) {
	c, err := s.ReadCellOpt()
	if err != nil || c == nil {
		return nil, err
	}
	return c.BeginParse().LoadMaybeAddress()
}

func (s *Stack) ReadAddress() (*cell.Address, error) {
	c, err := s.ReadCell()
	if err != nil {
		return nil, err
	}
	return c.BeginParse().LoadAddress()
}

// ReadLispList reads a null-terminated chain of [head, tail] pairs.
func (s *Stack) ReadLispList() ([]cell.TupleItem, error) {
	item, err := s.next()
	if err != nil {
		return nil, err
	}

	var out []cell.TupleItem
	for item.Kind != cell.TupleNull {
		if item.Kind != cell.TupleTuple || len(item.Items) != 2 {
			return nil, errors.Wrapf(cell.ErrMalformedCell, "lisp list node of kind %s with %d items", item.Kind, len(item.Items))
		}
		out = append(out, item.Items[0])
		item = item.Items[1]
	}
	return out, nil
}

// LispList builds the [head, tail] chain ReadLispList consumes.
func LispList(items ...cell.TupleItem) cell.TupleItem {
	list := cell.NullItem()
	for i := len(items) - 1; i >= 0; i-- {
		list = cell.TupleOf(items[i], list)
	}
	return list
}
