package cell

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"hash/crc32"
	"math/bits"
	"strings"

	"github.com/pkg/errors"
)

var bocMagic = []byte{0xb5, 0xee, 0x9c, 0x72}

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// SerializeBoc encodes the tree rooted at root as a single-root bag of cells.
// Identical subtrees are stored once.
func SerializeBoc(root *Cell, withCRC bool) ([]byte, error) {
	if root == nil {
		return nil, errors.Wrap(ErrMalformedCell, "serialize nil cell")
	}

	cells := topologicalOrder(root)
	index := make(map[[32]byte]int, len(cells))
	for i, c := range cells {
		index[c.hash] = i
	}

	sizeBytes := byteWidth(len(cells))
	total := 0
	for _, c := range cells {
		total += 2 + len(c.data) + len(c.refs)*sizeBytes
	}
	offBytes := byteWidth(total)

	var buf bytes.Buffer
	buf.Write(bocMagic)
	flags := byte(sizeBytes)
	if withCRC {
		flags |= 0x40
	}
	buf.WriteByte(flags)
	buf.WriteByte(byte(offBytes))
	writeUintN(&buf, uint64(len(cells)), sizeBytes)
	writeUintN(&buf, 1, sizeBytes)
	writeUintN(&buf, 0, sizeBytes)
	writeUintN(&buf, uint64(total), offBytes)
	writeUintN(&buf, 0, sizeBytes)

	for _, c := range cells {
		d1, d2 := c.descriptors()
		buf.WriteByte(d1)
		buf.WriteByte(d2)
		buf.Write(c.paddedData())
		for _, r := range c.refs {
			writeUintN(&buf, uint64(index[r.hash]), sizeBytes)
		}
	}

	if withCRC {
		sum := crc32.Checksum(buf.Bytes(), castagnoli)
		var tail [4]byte
		binary.LittleEndian.PutUint32(tail[:], sum)
		buf.Write(tail[:])
	}
	return buf.Bytes(), nil
}

// ParseBoc decodes a bag of cells and returns its roots.
func ParseBoc(data []byte) ([]*Cell, error) {
	r := &bocReader{data: data}
	magic := r.next(4)
	if r.err != nil || !bytes.Equal(magic, bocMagic) {
		return nil, errors.Wrap(ErrMalformedCell, "bad boc magic")
	}

	flags := r.next(1)
	if r.err != nil {
		return nil, r.err
	}
	hasIdx := flags[0]&0x80 != 0
	hasCRC := flags[0]&0x40 != 0
	sizeBytes := int(flags[0] & 0x07)
	if sizeBytes == 0 || sizeBytes > 4 {
		return nil, errors.Wrapf(ErrMalformedCell, "boc size bytes %d", sizeBytes)
	}
	offBytes := int(r.uint(1))
	if offBytes == 0 || offBytes > 8 {
		return nil, errors.Wrapf(ErrMalformedCell, "boc offset bytes %d", offBytes)
	}

	cellCount := int(r.uint(sizeBytes))
	rootCount := int(r.uint(sizeBytes))
	absent := int(r.uint(sizeBytes))
	totalSize := int(r.uint(offBytes))
	if r.err != nil {
		return nil, r.err
	}
	if rootCount < 1 || rootCount > cellCount || absent != 0 {
		return nil, errors.Wrapf(ErrMalformedCell, "boc header: %d cells, %d roots, %d absent", cellCount, rootCount, absent)
	}
	// every cell takes at least its two descriptor bytes
	if remaining := len(data) - r.pos; cellCount > remaining/2 || totalSize > remaining {
		return nil, errors.Wrapf(ErrMalformedCell, "boc header claims %d cells in %d bytes", cellCount, totalSize)
	}

	roots := make([]int, rootCount)
	for i := range roots {
		roots[i] = int(r.uint(sizeBytes))
	}
	if hasIdx {
		r.next(cellCount * offBytes)
	}
	body := r.next(totalSize)
	if r.err != nil {
		return nil, r.err
	}
	if hasCRC {
		end := r.pos
		sum := r.next(4)
		if r.err != nil {
			return nil, r.err
		}
		if crc32.Checksum(data[:end], castagnoli) != binary.LittleEndian.Uint32(sum) {
			return nil, errors.Wrap(ErrMalformedCell, "boc crc32c mismatch")
		}
	}

	type rawCell struct {
		data []byte
		bits int
		refs []int
		hash []byte
	}
	raws := make([]rawCell, cellCount)
	br := &bocReader{data: body}
	for i := 0; i < cellCount; i++ {
		desc := br.next(2)
		if br.err != nil {
			return nil, br.err
		}
		d1, d2 := desc[0], desc[1]
		if d1&0x08 != 0 {
			return nil, errors.Wrapf(ErrMalformedCell, "exotic cell %d not supported", i)
		}
		refCount := int(d1 & 0x07)
		if refCount > MaxRefs {
			return nil, errors.Wrapf(ErrMalformedCell, "cell %d has %d refs", i, refCount)
		}
		if d1>>5 != 0 {
			return nil, errors.Wrapf(ErrMalformedCell, "cell %d has level %d", i, d1>>5)
		}
		var stored []byte
		if d1&0x10 != 0 {
			// one representation hash and one depth for a level 0 cell
			hashes := br.next(32 + 2)
			if br.err != nil {
				return nil, br.err
			}
			stored = hashes[:32]
		}
		dataLen := (int(d2) + 1) / 2
		payload := br.next(dataLen)
		if br.err != nil {
			return nil, br.err
		}
		bitLen := dataLen * 8
		if d2%2 == 1 {
			last := payload[dataLen-1]
			if last == 0 {
				return nil, errors.Wrapf(ErrMalformedCell, "cell %d missing completion tag", i)
			}
			bitLen -= bits.TrailingZeros8(last) + 1
		}
		refs := make([]int, refCount)
		for j := range refs {
			refs[j] = int(br.uint(sizeBytes))
			if refs[j] <= i || refs[j] >= cellCount {
				return nil, errors.Wrapf(ErrMalformedCell, "cell %d references %d", i, refs[j])
			}
		}
		raws[i] = rawCell{data: payload, bits: bitLen, refs: refs, hash: stored}
	}
	if br.err != nil {
		return nil, br.err
	}

	// children always follow their parents, so build from the back
	built := make([]*Cell, cellCount)
	for i := cellCount - 1; i >= 0; i-- {
		refs := make([]*Cell, len(raws[i].refs))
		for j, idx := range raws[i].refs {
			refs[j] = built[idx]
		}
		c, err := newCell(raws[i].data, raws[i].bits, refs)
		if err != nil {
			return nil, err
		}
		if raws[i].hash != nil && !bytes.Equal(raws[i].hash, c.Hash()) {
			return nil, errors.Wrapf(ErrMalformedCell, "cell %d stored hash mismatch", i)
		}
		built[i] = c
	}

	out := make([]*Cell, rootCount)
	for i, idx := range roots {
		if idx >= cellCount {
			return nil, errors.Wrapf(ErrMalformedCell, "root index %d", idx)
		}
		out[i] = built[idx]
	}
	return out, nil
}

// FromBoc returns the first root of a bag of cells.
func FromBoc(data []byte) (*Cell, error) {
	roots, err := ParseBoc(data)
	if err != nil {
		return nil, err
	}
	return roots[0], nil
}

// FromBocHex decodes a hex encoded bag of cells and returns its first root.
func FromBocHex(s string) (*Cell, error) {
	data, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(s), "0x"))
	if err != nil {
		return nil, errors.Wrap(ErrMalformedCell, err.Error())
	}
	return FromBoc(data)
}

// ToBocHex serializes c with a checksum and hex encodes the result.
func ToBocHex(c *Cell) (string, error) {
	data, err := SerializeBoc(c, true)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(data), nil
}

// topologicalOrder lists every distinct cell once with parents before
// children, breadth-first discovery then depth-first finishing order.
func topologicalOrder(root *Cell) []*Cell {
	all := make(map[[32]byte]*Cell)
	var discovered [][32]byte

	queue := []*Cell{root}
	for len(queue) > 0 {
		c := queue[0]
		queue = queue[1:]
		if _, ok := all[c.hash]; ok {
			continue
		}
		all[c.hash] = c
		discovered = append(discovered, c.hash)
		queue = append(queue, c.refs...)
	}

	pending := make(map[[32]byte]bool, len(all))
	for h := range all {
		pending[h] = true
	}
	sorted := make([]*Cell, 0, len(all))
	var visit func(h [32]byte)
	visit = func(h [32]byte) {
		if !pending[h] {
			return
		}
		c := all[h]
		for i := len(c.refs) - 1; i >= 0; i-- {
			visit(c.refs[i].hash)
		}
		sorted = append(sorted, c)
		delete(pending, h)
	}
	for _, h := range discovered {
		visit(h)
	}

	for i, j := 0, len(sorted)-1; i < j; i, j = i+1, j-1 {
		sorted[i], sorted[j] = sorted[j], sorted[i]
	}
	return sorted
}

func byteWidth(n int) int {
	w := (bits.Len(uint(n)) + 7) / 8
	if w == 0 {
		return 1
	}
	return w
}

func writeUintN(buf *bytes.Buffer, v uint64, n int) {
	for i := n - 1; i >= 0; i-- {
		buf.WriteByte(byte(v >> (8 * uint(i))))
	}
}

type bocReader struct {
	data []byte
	pos  int
	err  error
}

func (r *bocReader) next(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.pos+n > len(r.data) {
		r.err = errors.Wrapf(ErrMalformedCell, "boc truncated at %d (+%d of %d)", r.pos, n, len(r.data))
		return nil
	}
	out := r.data[r.pos : r.pos+n]
	r.pos += n
	return out
}

func (r *bocReader) uint(n int) uint64 {
	p := r.next(n)
	var v uint64
	for _, x := range p {
		v = v<<8 | uint64(x)
	}
	return v
}
