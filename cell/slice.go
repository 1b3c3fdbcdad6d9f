package cell

import (
	"math/big"

	"github.com/pkg/errors"
)

// Slice is a read cursor over a Cell. Every read that would run past the end
// of the cell fails with ErrMalformedCell.
type Slice struct {
	cell   *Cell
	bitPos int
	refPos int
}

func (s *Slice) RemainingBits() int { return s.cell.bits - s.bitPos }

func (s *Slice) RemainingRefs() int { return len(s.cell.refs) - s.refPos }

func (s *Slice) overrun(want int) error {
	return errors.Wrapf(ErrMalformedCell, "read %d bits at %d of %d", want, s.bitPos, s.cell.bits)
}

func (s *Slice) LoadBit() (bool, error) {
	if s.RemainingBits() < 1 {
		return false, s.overrun(1)
	}
	v := s.cell.bit(s.bitPos)
	s.bitPos++
	return v, nil
}

// LoadUint reads an unsigned integer of n bits (n <= 64).
func (s *Slice) LoadUint(n int) (uint64, error) {
	if n < 0 || n > 64 {
		return 0, errors.Wrapf(ErrValueOutOfRange, "uint width %d", n)
	}
	if s.RemainingBits() < n {
		return 0, s.overrun(n)
	}
	var v uint64
	for i := 0; i < n; i++ {
		v <<= 1
		if s.cell.bit(s.bitPos + i) {
			v |= 1
		}
	}
	s.bitPos += n
	return v, nil
}

func (s *Slice) LoadBigUint(n int) (*big.Int, error) {
	if n < 0 {
		return nil, errors.Wrapf(ErrValueOutOfRange, "uint width %d", n)
	}
	if s.RemainingBits() < n {
		return nil, s.overrun(n)
	}
	v := new(big.Int)
	for i := 0; i < n; i++ {
		v.Lsh(v, 1)
		if s.cell.bit(s.bitPos + i) {
			v.SetBit(v, 0, 1)
		}
	}
	s.bitPos += n
	return v, nil
}

func (s *Slice) LoadBigInt(n int) (*big.Int, error) {
	v, err := s.LoadBigUint(n)
	if err != nil {
		return nil, err
	}
	if n > 0 && v.Bit(n-1) == 1 {
		v.Sub(v, new(big.Int).Lsh(big.NewInt(1), uint(n)))
	}
	return v, nil
}

func (s *Slice) LoadInt(n int) (int64, error) {
	if n > 64 {
		return 0, errors.Wrapf(ErrValueOutOfRange, "int width %d", n)
	}
	v, err := s.LoadBigInt(n)
	if err != nil {
		return 0, err
	}
	return v.Int64(), nil
}

func (s *Slice) LoadCoins() (*big.Int, error) {
	size, err := s.LoadUint(4)
	if err != nil {
		return nil, err
	}
	return s.LoadBigUint(int(size) * 8)
}

func (s *Slice) LoadBuffer(n int) ([]byte, error) {
	if s.RemainingBits() < n*8 {
		return nil, s.overrun(n * 8)
	}
	out := make([]byte, n)
	for i := range out {
		v, _ := s.LoadUint(8)
		out[i] = byte(v)
	}
	return out, nil
}

// LoadMaybeAddress reads addr_none as nil and a standard internal address
// otherwise. External and variable-length addresses are rejected.
func (s *Slice) LoadMaybeAddress() (*Address, error) {
	tag, err := s.LoadUint(2)
	if err != nil {
		return nil, err
	}
	switch tag {
	case 0b00:
		return nil, nil
	case 0b10:
	default:
		return nil, errors.Wrapf(ErrMalformedCell, "unsupported address tag %02b", tag)
	}

	anycast, err := s.LoadBit()
	if err != nil {
		return nil, err
	}
	if anycast {
		return nil, errors.Wrap(ErrMalformedCell, "anycast address")
	}
	wc, err := s.LoadInt(8)
	if err != nil {
		return nil, err
	}
	hash, err := s.LoadBuffer(32)
	if err != nil {
		return nil, err
	}

	a := &Address{Workchain: int8(wc)}
	copy(a.Hash[:], hash)
	return a, nil
}

func (s *Slice) LoadAddress() (*Address, error) {
	a, err := s.LoadMaybeAddress()
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, errors.Wrap(ErrMalformedCell, "expected internal address, got addr_none")
	}
	return a, nil
}

func (s *Slice) LoadRef() (*Cell, error) {
	if s.RemainingRefs() < 1 {
		return nil, errors.Wrapf(ErrMalformedCell, "read ref %d of %d", s.refPos, len(s.cell.refs))
	}
	c := s.cell.refs[s.refPos]
	s.refPos++
	return c, nil
}

// LoadMaybeRef reads a presence bit and, when set, the following reference.
func (s *Slice) LoadMaybeRef() (*Cell, error) {
	present, err := s.LoadBit()
	if err != nil {
		return nil, err
	}
	if !present {
		return nil, nil
	}
	return s.LoadRef()
}

// EndParse fails when unread bits or references remain.
func (s *Slice) EndParse() error {
	if s.RemainingBits() != 0 || s.RemainingRefs() != 0 {
		return errors.Wrapf(ErrMalformedCell, "%d bits and %d refs left unread", s.RemainingBits(), s.RemainingRefs())
	}
	return nil
}
