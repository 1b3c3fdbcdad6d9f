package cell

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

const (
	tagBounceable    = 0x11
	tagNonBounceable = 0x51
	tagTestOnly      = 0x80
)

var ErrInvalidAddress = errors.New("invalid address")

// Address is a standard internal ledger address.
type Address struct {
	Workchain int8
	Hash      [32]byte
}

// ParseAddress accepts the raw "wc:hex" form and the 48-character
// user-friendly form in either base64 alphabet.
func ParseAddress(s string) (*Address, error) {
	s = strings.TrimSpace(s)
	if strings.Contains(s, ":") {
		return parseRawAddress(s)
	}
	return parseFriendlyAddress(s)
}

// MustParseAddress is ParseAddress for compile-time constants.
func MustParseAddress(s string) *Address {
	a, err := ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return a
}

func parseRawAddress(s string) (*Address, error) {
	parts := strings.SplitN(s, ":", 2)
	wc, err := strconv.ParseInt(parts[0], 10, 8)
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidAddress, "workchain %q", parts[0])
	}
	hash, err := hex.DecodeString(parts[1])
	if err != nil || len(hash) != 32 {
		return nil, errors.Wrapf(ErrInvalidAddress, "hash %q", parts[1])
	}
	a := &Address{Workchain: int8(wc)}
	copy(a.Hash[:], hash)
	return a, nil
}

func parseFriendlyAddress(s string) (*Address, error) {
	if len(s) != 48 {
		return nil, errors.Wrapf(ErrInvalidAddress, "%q has length %d", s, len(s))
	}
	raw, err := base64.URLEncoding.DecodeString(strings.NewReplacer("+", "-", "/", "_").Replace(s))
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidAddress, "%q: %v", s, err)
	}
	if len(raw) != 36 {
		return nil, errors.Wrapf(ErrInvalidAddress, "%q decodes to %d bytes", s, len(raw))
	}
	if crc16(raw[:34]) != binary.BigEndian.Uint16(raw[34:]) {
		return nil, errors.Wrapf(ErrInvalidAddress, "%q checksum mismatch", s)
	}
	tag := raw[0] &^ tagTestOnly
	if tag != tagBounceable && tag != tagNonBounceable {
		return nil, errors.Wrapf(ErrInvalidAddress, "%q unknown tag %#x", s, raw[0])
	}

	a := &Address{Workchain: int8(raw[1])}
	copy(a.Hash[:], raw[2:34])
	return a, nil
}

// Friendly renders the url-safe user-friendly form.
func (a *Address) Friendly(bounceable, testOnly bool) string {
	raw := make([]byte, 36)
	raw[0] = tagNonBounceable
	if bounceable {
		raw[0] = tagBounceable
	}
	if testOnly {
		raw[0] |= tagTestOnly
	}
	raw[1] = byte(a.Workchain)
	copy(raw[2:34], a.Hash[:])
	binary.BigEndian.PutUint16(raw[34:], crc16(raw[:34]))
	return base64.URLEncoding.EncodeToString(raw)
}

func (a *Address) Raw() string {
	return fmt.Sprintf("%d:%s", a.Workchain, hex.EncodeToString(a.Hash[:]))
}

func (a *Address) String() string {
	if a == nil {
		return "addr_none"
	}
	return a.Friendly(true, false)
}

func (a *Address) Equal(o *Address) bool {
	if a == nil || o == nil {
		return a == o
	}
	return a.Workchain == o.Workchain && a.Hash == o.Hash
}

// AddressCell returns a cell holding only the address; nil encodes addr_none.
func AddressCell(a *Address) (*Cell, error) {
	return BeginCell().StoreAddress(a).EndCell()
}

// AddressHash is the representation hash of AddressCell(a) as an unsigned
// integer. The ledger keys its address-indexed dictionaries by it.
func AddressHash(a *Address) (*big.Int, error) {
	c, err := AddressCell(a)
	if err != nil {
		return nil, err
	}
	return c.HashInt(), nil
}

func crc16(data []byte) uint16 {
	var crc uint16
	for _, b := range data {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := ParseAddress(string(text))
	if err != nil {
		return err
	}
	*a = *parsed
	return nil
}
