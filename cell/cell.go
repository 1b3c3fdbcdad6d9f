package cell

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"math/big"
	"strings"

	"github.com/pkg/errors"
)

const (
	// MaxBits is the data capacity of a single ordinary cell.
	MaxBits = 1023
	// MaxRefs is the maximum number of child references per cell.
	MaxRefs = 4
)

var (
	ErrMalformedCell   = errors.New("malformed cell")
	ErrCellOverflow    = errors.New("cell overflow")
	ErrValueOutOfRange = errors.New("value out of range")
)

// Cell is an immutable node of the ledger's tree-structured binary format.
// Its hash and depth are fixed at construction.
type Cell struct {
	data  []byte
	bits  int
	refs  []*Cell
	hash  [32]byte
	depth uint16
}

func newCell(data []byte, bits int, refs []*Cell) (*Cell, error) {
	if bits > MaxBits {
		return nil, errors.Wrapf(ErrCellOverflow, "%d bits", bits)
	}
	if len(refs) > MaxRefs {
		return nil, errors.Wrapf(ErrCellOverflow, "%d refs", len(refs))
	}

	c := &Cell{
		data: make([]byte, (bits+7)/8),
		bits: bits,
		refs: make([]*Cell, len(refs)),
	}
	copy(c.data, data)
	copy(c.refs, refs)
	// bits past the end of the payload must be zero for the hash to be canonical
	if rem := bits % 8; rem != 0 {
		c.data[len(c.data)-1] &= byte(0xff << (8 - rem))
	}

	for _, r := range c.refs {
		if r == nil {
			return nil, errors.Wrap(ErrMalformedCell, "nil reference")
		}
		if r.depth+1 > c.depth {
			c.depth = r.depth + 1
		}
	}
	c.hash = sha256.Sum256(c.repr())

	return c, nil
}

// EmptyCell returns a cell with no data and no references.
func EmptyCell() *Cell {
	c, _ := newCell(nil, 0, nil)
	return c
}

func (c *Cell) descriptors() (byte, byte) {
	d1 := byte(len(c.refs))
	d2 := byte((c.bits+7)/8 + c.bits/8)
	return d1, d2
}

// paddedData returns the payload with the completion tag appended when the
// bit length is not byte aligned.
func (c *Cell) paddedData() []byte {
	out := make([]byte, len(c.data))
	copy(out, c.data)
	if rem := c.bits % 8; rem != 0 {
		out[len(out)-1] |= 1 << (7 - rem)
	}
	return out
}

func (c *Cell) repr() []byte {
	d1, d2 := c.descriptors()
	out := make([]byte, 0, 2+len(c.data)+len(c.refs)*(2+32))
	out = append(out, d1, d2)
	out = append(out, c.paddedData()...)
	for _, r := range c.refs {
		out = binary.BigEndian.AppendUint16(out, r.depth)
	}
	for _, r := range c.refs {
		out = append(out, r.hash[:]...)
	}
	return out
}

func (c *Cell) BitLen() int { return c.bits }

func (c *Cell) RefCount() int { return len(c.refs) }

// Ref returns the i-th child or nil when out of range.
func (c *Cell) Ref(i int) *Cell {
	if i < 0 || i >= len(c.refs) {
		return nil
	}
	return c.refs[i]
}

// Data returns a copy of the payload bytes; the last byte is zero padded.
func (c *Cell) Data() []byte {
	out := make([]byte, len(c.data))
	copy(out, c.data)
	return out
}

func (c *Cell) Depth() uint16 { return c.depth }

// Hash returns the representation hash of the cell.
func (c *Cell) Hash() []byte {
	out := make([]byte, 32)
	copy(out, c.hash[:])
	return out
}

// HashInt returns the representation hash as an unsigned 256-bit integer.
func (c *Cell) HashInt() *big.Int {
	return new(big.Int).SetBytes(c.hash[:])
}

// Equal reports structural equality, which for cells is hash equality.
func (c *Cell) Equal(o *Cell) bool {
	if c == nil || o == nil {
		return c == o
	}
	return c.hash == o.hash
}

func (c *Cell) BeginParse() *Slice {
	return &Slice{cell: c}
}

func (c *Cell) bit(i int) bool {
	return c.data[i/8]>>(7-i%8)&1 == 1
}

// String renders the cell tree in the x{...} notation used by ledger tooling.
func (c *Cell) String() string {
	var sb strings.Builder
	c.dump(&sb, 0)
	return sb.String()
}

func (c *Cell) dump(sb *strings.Builder, indent int) {
	sb.WriteString(strings.Repeat(" ", indent))
	sb.WriteString("x{")
	sb.WriteString(c.hexBits())
	sb.WriteString("}\n")
	for _, r := range c.refs {
		r.dump(sb, indent+1)
	}
}

func (c *Cell) hexBits() string {
	if c.bits%4 == 0 {
		return strings.ToUpper(hex.EncodeToString(c.data))[:c.bits/4]
	}
	padded := c.paddedData()
	nibbles := (c.bits + 3) / 4
	s := strings.ToUpper(hex.EncodeToString(padded))
	return s[:nibbles] + "_"
}
