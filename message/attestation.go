package message

import (
	"crypto/ed25519"
	"math/big"

	"github.com/pkg/errors"

	"github.com/tonstable/risk-client/cell"
	"github.com/tonstable/risk-client/types"
)

var ErrBadSignature = errors.New("bad attestation signature")

// PriceData is one attested price. A nil minter prices the native coin.
type PriceData struct {
	Minter    *cell.Address
	Price     *big.Int
	Timestamp int64
}

type ExchangeRatioData struct {
	Minter    *cell.Address
	Ratio     *big.Int
	Timestamp int64
}

// PackUnsignedPrices lays out a price attestation: a tuple of price cells
// and the signer's public key.
func PackUnsignedPrices(data []PriceData, signer ed25519.PublicKey) (*cell.Cell, error) {
	items := make([]cell.TupleItem, 0, len(data))
	for _, d := range data {
		var minter *cell.Cell
		if d.Minter != nil {
			c, err := cell.AddressCell(d.Minter)
			if err != nil {
				return nil, err
			}
			minter = c
		}
		c, err := cell.BeginCell().
			StoreMaybeRef(minter).
			StoreBigUint(d.Price, types.BitsPriceValue).
			StoreUint(uint64(d.Timestamp), types.BitsTimestamp).
			EndCell()
		if err != nil {
			return nil, errors.Wrap(err, "price data")
		}
		items = append(items, cell.CellItem(c))
	}
	return packUnsigned(items, signer)
}

func PackUnsignedExchangeRatios(data []ExchangeRatioData, signer ed25519.PublicKey) (*cell.Cell, error) {
	items := make([]cell.TupleItem, 0, len(data))
	for _, d := range data {
		c, err := cell.BeginCell().
			StoreAddress(d.Minter).
			StoreBigUint(d.Ratio, types.BitsRatio).
			StoreUint(uint64(d.Timestamp), types.BitsTimestamp).
			EndCell()
		if err != nil {
			return nil, errors.Wrap(err, "exchange ratio data")
		}
		items = append(items, cell.CellItem(c))
	}
	return packUnsigned(items, signer)
}

func packUnsigned(items []cell.TupleItem, signer ed25519.PublicKey) (*cell.Cell, error) {
	if len(signer) != types.BytesPubkey {
		return nil, errors.Errorf("signer public key has %d bytes", len(signer))
	}
	tuple, err := cell.SerializeTuple(items)
	if err != nil {
		return nil, err
	}
	return cell.BeginCell().StoreRef(tuple).StoreBuffer(signer).EndCell()
}

// PackSigned signs the hash of an unsigned attestation.
func PackSigned(unsigned *cell.Cell, key ed25519.PrivateKey) (*cell.Cell, error) {
	if len(key) != ed25519.PrivateKeySize {
		return nil, errors.Errorf("signing key has %d bytes", len(key))
	}
	signature := ed25519.Sign(key, unsigned.Hash())
	return cell.BeginCell().StoreRef(unsigned).StoreBuffer(signature).EndCell()
}

// VerifySigned checks a signed attestation against the public key it
// embeds and returns the unsigned part.
func VerifySigned(signed *cell.Cell) (*cell.Cell, error) {
	s := signed.BeginParse()
	unsigned, err := s.LoadRef()
	if err != nil {
		return nil, err
	}
	signature, err := s.LoadBuffer(types.BytesSignature)
	if err != nil {
		return nil, err
	}

	us := unsigned.BeginParse()
	if _, err := us.LoadRef(); err != nil {
		return nil, err
	}
	pubkey, err := us.LoadBuffer(types.BytesPubkey)
	if err != nil {
		return nil, err
	}
	if !ed25519.Verify(pubkey, unsigned.Hash(), signature) {
		return nil, ErrBadSignature
	}
	return unsigned, nil
}
