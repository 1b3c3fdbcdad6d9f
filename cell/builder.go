package cell

import (
	"math/big"

	"github.com/pkg/errors"
)

// Builder accumulates bits and references for a new Cell. The first failing
// store is remembered and reported by EndCell, so calls can be chained.
type Builder struct {
	data []byte
	bits int
	refs []*Cell
	err  error
}

func BeginCell() *Builder {
	return &Builder{data: make([]byte, 0, 128)}
}

func (b *Builder) fail(err error) *Builder {
	if b.err == nil {
		b.err = err
	}
	return b
}

// Err returns the first error recorded by a store operation.
func (b *Builder) Err() error { return b.err }

func (b *Builder) BitsUsed() int { return b.bits }

func (b *Builder) RefsUsed() int { return len(b.refs) }

func (b *Builder) BitsLeft() int { return MaxBits - b.bits }

func (b *Builder) reserve(n int) bool {
	if b.err != nil {
		return false
	}
	if b.bits+n > MaxBits {
		b.fail(errors.Wrapf(ErrCellOverflow, "store %d bits at %d", n, b.bits))
		return false
	}
	return true
}

func (b *Builder) appendBit(v bool) {
	if b.bits%8 == 0 {
		b.data = append(b.data, 0)
	}
	if v {
		b.data[b.bits/8] |= 1 << (7 - b.bits%8)
	}
	b.bits++
}

func (b *Builder) StoreBit(v bool) *Builder {
	if !b.reserve(1) {
		return b
	}
	b.appendBit(v)
	return b
}

// StoreUint stores v as an unsigned integer of n bits (n <= 64).
func (b *Builder) StoreUint(v uint64, n int) *Builder {
	if n < 0 || n > 64 {
		return b.fail(errors.Wrapf(ErrValueOutOfRange, "uint width %d", n))
	}
	if n < 64 && v>>uint(n) != 0 {
		return b.fail(errors.Wrapf(ErrValueOutOfRange, "%d does not fit in %d bits", v, n))
	}
	if !b.reserve(n) {
		return b
	}
	for i := n - 1; i >= 0; i-- {
		b.appendBit(v>>uint(i)&1 == 1)
	}
	return b
}

// StoreBigUint stores a non-negative integer of arbitrary width.
func (b *Builder) StoreBigUint(v *big.Int, n int) *Builder {
	if v == nil {
		v = new(big.Int)
	}
	if v.Sign() < 0 || v.BitLen() > n {
		return b.fail(errors.Wrapf(ErrValueOutOfRange, "%s does not fit in %d bits", v, n))
	}
	if !b.reserve(n) {
		return b
	}
	for i := n - 1; i >= 0; i-- {
		b.appendBit(v.Bit(i) == 1)
	}
	return b
}

func (b *Builder) StoreInt(v int64, n int) *Builder {
	return b.StoreBigInt(big.NewInt(v), n)
}

// StoreBigInt stores v in n-bit two's complement.
func (b *Builder) StoreBigInt(v *big.Int, n int) *Builder {
	if v == nil {
		v = new(big.Int)
	}
	if n <= 0 {
		return b.fail(errors.Wrapf(ErrValueOutOfRange, "int width %d", n))
	}
	limit := new(big.Int).Lsh(big.NewInt(1), uint(n-1))
	lower := new(big.Int).Neg(limit)
	if v.Cmp(lower) < 0 || v.Cmp(limit) >= 0 {
		return b.fail(errors.Wrapf(ErrValueOutOfRange, "%s does not fit in int%d", v, n))
	}
	u := new(big.Int).Set(v)
	if u.Sign() < 0 {
		u.Add(u, new(big.Int).Lsh(big.NewInt(1), uint(n)))
	}
	return b.StoreBigUint(u, n)
}

// StoreCoins stores a VarUInteger 16 amount: a 4-bit byte length followed by
// that many bytes.
func (b *Builder) StoreCoins(v *big.Int) *Builder {
	if v == nil || v.Sign() == 0 {
		return b.StoreUint(0, 4)
	}
	if v.Sign() < 0 {
		return b.fail(errors.Wrapf(ErrValueOutOfRange, "negative coins %s", v))
	}
	size := (v.BitLen() + 7) / 8
	if size > 15 {
		return b.fail(errors.Wrapf(ErrValueOutOfRange, "coins %s too large", v))
	}
	return b.StoreUint(uint64(size), 4).StoreBigUint(v, size*8)
}

// StoreAddress stores a standard internal address, or addr_none for nil.
func (b *Builder) StoreAddress(a *Address) *Builder {
	if a == nil {
		return b.StoreUint(0, 2)
	}
	return b.StoreUint(0b10, 2).
		StoreBit(false).
		StoreInt(int64(a.Workchain), 8).
		StoreBuffer(a.Hash[:])
}

func (b *Builder) StoreBuffer(p []byte) *Builder {
	if !b.reserve(len(p) * 8) {
		return b
	}
	for _, x := range p {
		for i := 7; i >= 0; i-- {
			b.appendBit(x>>uint(i)&1 == 1)
		}
	}
	return b
}

func (b *Builder) StoreRef(c *Cell) *Builder {
	if b.err != nil {
		return b
	}
	if c == nil {
		return b.fail(errors.Wrap(ErrMalformedCell, "store nil reference"))
	}
	if len(b.refs) >= MaxRefs {
		return b.fail(errors.Wrapf(ErrCellOverflow, "more than %d refs", MaxRefs))
	}
	b.refs = append(b.refs, c)
	return b
}

// StoreMaybeRef stores a presence bit followed by the reference when c is
// not nil.
func (b *Builder) StoreMaybeRef(c *Cell) *Builder {
	if c == nil {
		return b.StoreBit(false)
	}
	return b.StoreBit(true).StoreRef(c)
}

// StoreSlice appends the unread bits and references of s.
func (b *Builder) StoreSlice(s *Slice) *Builder {
	if s == nil {
		return b
	}
	n := s.RemainingBits()
	if !b.reserve(n) {
		return b
	}
	for i := 0; i < n; i++ {
		b.appendBit(s.cell.bit(s.bitPos + i))
	}
	for i := s.refPos; i < len(s.cell.refs); i++ {
		b.StoreRef(s.cell.refs[i])
	}
	return b
}

func (b *Builder) EndCell() (*Cell, error) {
	if b.err != nil {
		return nil, b.err
	}
	return newCell(b.data, b.bits, b.refs)
}
