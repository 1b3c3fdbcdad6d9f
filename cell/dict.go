package cell

import (
	"math/big"
	"math/bits"
	"sort"

	"github.com/pkg/errors"
	"golang.org/x/exp/slices"
)

// DictValue describes how dictionary leaf values are laid out.
type DictValue[V any] struct {
	Store func(b *Builder, v V) *Builder
	Load  func(s *Slice) (V, error)
}

// UintValue stores values inline as n-bit unsigned integers.
func UintValue(n int) DictValue[*big.Int] {
	return DictValue[*big.Int]{
		Store: func(b *Builder, v *big.Int) *Builder { return b.StoreBigUint(v, n) },
		Load:  func(s *Slice) (*big.Int, error) { return s.LoadBigUint(n) },
	}
}

// CellValue stores each value as a child reference of its leaf.
func CellValue() DictValue[*Cell] {
	return DictValue[*Cell]{
		Store: func(b *Builder, v *Cell) *Builder { return b.StoreRef(v) },
		Load:  func(s *Slice) (*Cell, error) { return s.LoadRef() },
	}
}

type DictEntry[V any] struct {
	Key   *big.Int
	Value V
}

// Dictionary is an ordered map from fixed-width unsigned keys to values,
// serialized as the ledger's label/fork binary trie. Entries are always kept
// in ascending key order, which is the trie's canonical order.
type Dictionary[V any] struct {
	keyBits int
	value   DictValue[V]
	entries []DictEntry[V]
}

func NewDictionary[V any](keyBits int, value DictValue[V]) *Dictionary[V] {
	return &Dictionary[V]{keyBits: keyBits, value: value}
}

func (d *Dictionary[V]) KeyBits() int { return d.keyBits }

func (d *Dictionary[V]) Len() int { return len(d.entries) }

func (d *Dictionary[V]) search(key *big.Int) (int, bool) {
	i := sort.Search(len(d.entries), func(i int) bool {
		return d.entries[i].Key.Cmp(key) >= 0
	})
	return i, i < len(d.entries) && d.entries[i].Key.Cmp(key) == 0
}

// Set inserts or replaces the value for key.
func (d *Dictionary[V]) Set(key *big.Int, v V) error {
	if key == nil || key.Sign() < 0 || key.BitLen() > d.keyBits {
		return errors.Wrapf(ErrValueOutOfRange, "key %v does not fit in %d bits", key, d.keyBits)
	}
	i, found := d.search(key)
	if found {
		d.entries[i].Value = v
		return nil
	}
	d.entries = slices.Insert(d.entries, i, DictEntry[V]{Key: new(big.Int).Set(key), Value: v})
	return nil
}

func (d *Dictionary[V]) Get(key *big.Int) (V, bool) {
	var zero V
	if key == nil {
		return zero, false
	}
	i, found := d.search(key)
	if !found {
		return zero, false
	}
	return d.entries[i].Value, true
}

func (d *Dictionary[V]) Delete(key *big.Int) bool {
	if key == nil {
		return false
	}
	i, found := d.search(key)
	if found {
		d.entries = slices.Delete(d.entries, i, i+1)
	}
	return found
}

// Keys returns copies of the keys in ascending order.
func (d *Dictionary[V]) Keys() []*big.Int {
	out := make([]*big.Int, len(d.entries))
	for i, e := range d.entries {
		out[i] = new(big.Int).Set(e.Key)
	}
	return out
}

// Entries returns the entries in ascending key order.
func (d *Dictionary[V]) Entries() []DictEntry[V] {
	out := make([]DictEntry[V], len(d.entries))
	copy(out, d.entries)
	return out
}

// Root serializes the dictionary into its root cell; nil for an empty one.
func (d *Dictionary[V]) Root() (*Cell, error) {
	if len(d.entries) == 0 {
		return nil, nil
	}
	keys := make([][]byte, len(d.entries))
	values := make([]V, len(d.entries))
	for i, e := range d.entries {
		keys[i] = keyBits(e.Key, d.keyBits)
		values[i] = e.Value
	}
	b := BeginCell()
	if err := d.writeEdge(b, keys, values, d.keyBits); err != nil {
		return nil, err
	}
	return b.EndCell()
}

// StoreDict stores the dictionary as HashmapE: a presence bit followed by a
// reference to the root.
func StoreDict[V any](b *Builder, d *Dictionary[V]) *Builder {
	if d == nil {
		return b.StoreBit(false)
	}
	root, err := d.Root()
	if err != nil {
		return b.fail(err)
	}
	return b.StoreMaybeRef(root)
}

// LoadDict reads a HashmapE dictionary from s.
func LoadDict[V any](s *Slice, keyBits int, value DictValue[V]) (*Dictionary[V], error) {
	root, err := s.LoadMaybeRef()
	if err != nil {
		return nil, err
	}
	return ParseDict(root, keyBits, value)
}

// ParseDict walks a dictionary given its root cell. A nil root is an empty
// dictionary.
func ParseDict[V any](root *Cell, keyBits int, value DictValue[V]) (*Dictionary[V], error) {
	d := NewDictionary(keyBits, value)
	if root == nil {
		return d, nil
	}
	if err := d.parseEdge(root.BeginParse(), keyBits, nil); err != nil {
		return nil, err
	}
	for i := 1; i < len(d.entries); i++ {
		if d.entries[i-1].Key.Cmp(d.entries[i].Key) >= 0 {
			return nil, errors.Wrapf(ErrMalformedCell, "dictionary key %s out of order", d.entries[i].Key)
		}
	}
	return d, nil
}

func (d *Dictionary[V]) writeEdge(b *Builder, keys [][]byte, values []V, n int) error {
	label := commonPrefix(keys)
	writeLabel(b, label, n)
	if len(keys) == 1 {
		d.value.Store(b, values[0])
		return b.Err()
	}

	// keys are sorted, so the fork splits them into one contiguous run per side
	p := len(label)
	split := sort.Search(len(keys), func(i int) bool { return keys[i][p] == 1 })
	left := make([][]byte, split)
	right := make([][]byte, len(keys)-split)
	for i, k := range keys {
		if i < split {
			left[i] = k[p+1:]
		} else {
			right[i-split] = k[p+1:]
		}
	}

	rest := n - p - 1
	lb := BeginCell()
	if err := d.writeEdge(lb, left, values[:split], rest); err != nil {
		return err
	}
	lc, err := lb.EndCell()
	if err != nil {
		return err
	}
	rb := BeginCell()
	if err := d.writeEdge(rb, right, values[split:], rest); err != nil {
		return err
	}
	rc, err := rb.EndCell()
	if err != nil {
		return err
	}
	b.StoreRef(lc).StoreRef(rc)
	return b.Err()
}

func (d *Dictionary[V]) parseEdge(s *Slice, n int, prefix []byte) error {
	label, err := readLabel(s, n)
	if err != nil {
		return err
	}
	key := append(append([]byte{}, prefix...), label...)
	rest := n - len(label)

	if rest == 0 {
		v, err := d.value.Load(s)
		if err != nil {
			return err
		}
		if err := s.EndParse(); err != nil {
			return errors.Wrap(err, "dictionary leaf")
		}
		d.entries = append(d.entries, DictEntry[V]{Key: keyFromBits(key), Value: v})
		return nil
	}

	left, err := s.LoadRef()
	if err != nil {
		return err
	}
	right, err := s.LoadRef()
	if err != nil {
		return err
	}
	if err := s.EndParse(); err != nil {
		return errors.Wrap(err, "dictionary fork")
	}
	if err := d.parseEdge(left.BeginParse(), rest-1, append(key, 0)); err != nil {
		return err
	}
	return d.parseEdge(right.BeginParse(), rest-1, append(key, 1))
}

// labelLenBits is ceil(log2(n+1)), the width of hml_long and hml_same lengths.
func labelLenBits(n int) int {
	return bits.Len(uint(n))
}

func writeLabel(b *Builder, label []byte, n int) {
	shortLen := 2 + 2*len(label)
	longLen := 2 + labelLenBits(n) + len(label)
	sameLen := 3 + labelLenBits(n)

	kind, size := "short", shortLen
	if longLen < size {
		kind, size = "long", longLen
	}
	if isSame(label) && sameLen < size {
		kind = "same"
	}

	switch kind {
	case "short":
		b.StoreBit(false)
		for range label {
			b.StoreBit(true)
		}
		b.StoreBit(false)
		for _, x := range label {
			b.StoreBit(x == 1)
		}
	case "long":
		b.StoreUint(0b10, 2).StoreUint(uint64(len(label)), labelLenBits(n))
		for _, x := range label {
			b.StoreBit(x == 1)
		}
	case "same":
		b.StoreUint(0b11, 2).StoreBit(label[0] == 1).StoreUint(uint64(len(label)), labelLenBits(n))
	}
}

func readLabel(s *Slice, n int) ([]byte, error) {
	first, err := s.LoadBit()
	if err != nil {
		return nil, err
	}

	if !first {
		length := 0
		for {
			bit, err := s.LoadBit()
			if err != nil {
				return nil, err
			}
			if !bit {
				break
			}
			length++
			if length > n {
				return nil, errors.Wrapf(ErrMalformedCell, "label longer than %d bits", n)
			}
		}
		return loadLabelBits(s, length)
	}

	second, err := s.LoadBit()
	if err != nil {
		return nil, err
	}
	if !second {
		length, err := s.LoadUint(labelLenBits(n))
		if err != nil {
			return nil, err
		}
		if int(length) > n {
			return nil, errors.Wrapf(ErrMalformedCell, "label of %d bits exceeds %d", length, n)
		}
		return loadLabelBits(s, int(length))
	}

	v, err := s.LoadBit()
	if err != nil {
		return nil, err
	}
	length, err := s.LoadUint(labelLenBits(n))
	if err != nil {
		return nil, err
	}
	if int(length) > n {
		return nil, errors.Wrapf(ErrMalformedCell, "label of %d bits exceeds %d", length, n)
	}
	label := make([]byte, length)
	if v {
		for i := range label {
			label[i] = 1
		}
	}
	return label, nil
}

func loadLabelBits(s *Slice, n int) ([]byte, error) {
	out := make([]byte, n)
	for i := range out {
		bit, err := s.LoadBit()
		if err != nil {
			return nil, err
		}
		if bit {
			out[i] = 1
		}
	}
	return out, nil
}

func isSame(label []byte) bool {
	if len(label) == 0 {
		return false
	}
	for _, x := range label[1:] {
		if x != label[0] {
			return false
		}
	}
	return true
}

func commonPrefix(keys [][]byte) []byte {
	if len(keys) == 1 {
		return keys[0]
	}
	first := keys[0]
	n := len(first)
	for _, k := range keys[1:] {
		i := 0
		for i < n && k[i] == first[i] {
			i++
		}
		n = i
	}
	return first[:n]
}

func keyBits(key *big.Int, n int) []byte {
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		out[i] = byte(key.Bit(n - 1 - i))
	}
	return out
}

func keyFromBits(bitsOf []byte) *big.Int {
	v := new(big.Int)
	for _, x := range bitsOf {
		v.Lsh(v, 1)
		if x == 1 {
			v.SetBit(v, 0, 1)
		}
	}
	return v
}
