package market

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// CurrencyKind distinguishes the payment currencies a listing can be priced in.
type CurrencyKind uint8

const (
	CurrencyNative CurrencyKind = iota
	CurrencyToken
)

// Currency is the payment currency of a listing. Token is only meaningful for
// CurrencyToken and must be non-zero in that case.
type Currency struct {
	Kind  CurrencyKind
	Token [20]byte
}

// Native returns the native currency variant.
func Native() Currency { return Currency{Kind: CurrencyNative} }

// Token returns the token currency variant for the supplied token address.
func Token(addr [20]byte) Currency { return Currency{Kind: CurrencyToken, Token: addr} }

// ParseCurrency maps a raw currency reference onto the tagged variant. The zero
// address designates the native currency.
func ParseCurrency(ref [20]byte) Currency {
	if ref == ([20]byte{}) {
		return Native()
	}
	return Token(ref)
}

// IsNative reports whether the currency is the native currency.
func (c Currency) IsNative() bool { return c.Kind == CurrencyNative }

// Valid reports whether the variant is well formed.
func (c Currency) Valid() bool {
	switch c.Kind {
	case CurrencyNative:
		return c.Token == ([20]byte{})
	case CurrencyToken:
		return c.Token != ([20]byte{})
	default:
		return false
	}
}

func (c Currency) String() string {
	if c.IsNative() {
		return "native"
	}
	return "token:" + hex.EncodeToString(c.Token[:])
}

// Status tracks a listing through its lifecycle.
type Status uint8

const (
	StatusActive Status = iota
	StatusSold
	StatusCancelled
)

// Valid reports whether the status value is within the supported range.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusSold, StatusCancelled:
		return true
	default:
		return false
	}
}

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusSold:
		return "sold"
	case StatusCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// AssetRef identifies a unique asset within a collection.
type AssetRef struct {
	Collection [20]byte
	ID         uint256.Int
}

// NewAssetRef builds a reference from a collection address and asset id. A nil
// id maps to zero.
func NewAssetRef(collection [20]byte, id *uint256.Int) AssetRef {
	ref := AssetRef{Collection: collection}
	if id != nil {
		ref.ID = *id
	}
	return ref
}

func (r AssetRef) String() string {
	return hex.EncodeToString(r.Collection[:]) + "/" + r.ID.Dec()
}

// Listing is a seller's offer to transfer an escrowed asset for a fixed price.
// The ID is the keccak256 hash of the asset reference, the seller and the
// creation time.
type Listing struct {
	ID         [32]byte
	Collection [20]byte
	AssetID    uint256.Int
	Seller     [20]byte
	Currency   Currency
	Price      *big.Int
	Status     Status
	CreatedAt  int64
}

// Ref returns the asset reference the listing is keyed by.
func (l *Listing) Ref() AssetRef {
	return AssetRef{Collection: l.Collection, ID: l.AssetID}
}

// Clone returns a deep copy of the listing so callers can mutate the copy
// without affecting the stored instance.
func (l *Listing) Clone() *Listing {
	if l == nil {
		return nil
	}
	clone := *l
	if l.Price != nil {
		clone.Price = new(big.Int).Set(l.Price)
	} else {
		clone.Price = big.NewInt(0)
	}
	return &clone
}

// SanitizeListing validates the supplied listing and returns a cloned instance.
// The function does not mutate the original value.
func SanitizeListing(l *Listing) (*Listing, error) {
	if l == nil {
		return nil, fmt.Errorf("market: nil listing")
	}
	clone := l.Clone()
	if clone.Price.Sign() <= 0 {
		return nil, ErrInvalidPrice
	}
	if !clone.Currency.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedCurrency, clone.Currency)
	}
	if !clone.Status.Valid() {
		return nil, fmt.Errorf("market: invalid listing status: %d", clone.Status)
	}
	if clone.Seller == ([20]byte{}) {
		return nil, fmt.Errorf("market: listing seller required")
	}
	return clone, nil
}

// DeriveListingID computes the deterministic listing identifier.
func DeriveListingID(collection [20]byte, assetID *uint256.Int, seller [20]byte, createdAt int64) [32]byte {
	var id32 [32]byte
	if assetID != nil {
		id32 = assetID.Bytes32()
	}
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(createdAt))
	return ethcrypto.Keccak256Hash(collection[:], id32[:], seller[:], ts[:])
}
