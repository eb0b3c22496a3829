package market

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"

	"nftmarket/storage"
)

var listingPrefix = []byte("market/listing/")

type listingRecord struct {
	ID         [32]byte
	Collection [20]byte
	AssetID    [32]byte
	Seller     [20]byte
	Kind       uint8
	Token      [20]byte
	Price      *big.Int
	Status     uint8
	CreatedAt  uint64
}

// DBStore is a ListingStore persisted in a key-value database using RLP
// encoded records.
type DBStore struct {
	mu sync.Mutex
	db storage.Database
}

// NewDBStore creates a listing store backed by the provided database.
func NewDBStore(db storage.Database) *DBStore {
	return &DBStore{db: db}
}

func listingKey(collection [20]byte, assetID *uint256.Int) []byte {
	var id32 [32]byte
	if assetID != nil {
		id32 = assetID.Bytes32()
	}
	key := make([]byte, 0, len(listingPrefix)+len(collection)+len(id32))
	key = append(key, listingPrefix...)
	key = append(key, collection[:]...)
	return append(key, id32[:]...)
}

func (s *DBStore) Get(collection [20]byte, assetID *uint256.Int) (*Listing, bool, error) {
	if s == nil || s.db == nil {
		return nil, false, fmt.Errorf("market: listing database uninitialised")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(listingKey(collection, assetID))
}

func (s *DBStore) Put(listing *Listing) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("market: listing database uninitialised")
	}
	sanitized, err := SanitizeListing(listing)
	if err != nil {
		return err
	}
	if sanitized.CreatedAt < 0 {
		return fmt.Errorf("market: listing timestamp must not be negative")
	}
	key := listingKey(sanitized.Collection, &sanitized.AssetID)
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok, err := s.load(key)
	if err != nil {
		return err
	}
	if ok && existing.Status == StatusActive {
		return ErrDuplicateActiveListing
	}
	encoded, err := rlp.EncodeToBytes(&listingRecord{
		ID:         sanitized.ID,
		Collection: sanitized.Collection,
		AssetID:    sanitized.AssetID.Bytes32(),
		Seller:     sanitized.Seller,
		Kind:       uint8(sanitized.Currency.Kind),
		Token:      sanitized.Currency.Token,
		Price:      sanitized.Price,
		Status:     uint8(sanitized.Status),
		CreatedAt:  uint64(sanitized.CreatedAt),
	})
	if err != nil {
		return fmt.Errorf("market: encode listing: %w", err)
	}
	return s.db.Put(key, encoded)
}

func (s *DBStore) Remove(collection [20]byte, assetID *uint256.Int) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("market: listing database uninitialised")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Delete(listingKey(collection, assetID))
}

// load must be called with s.mu held.
func (s *DBStore) load(key []byte) (*Listing, bool, error) {
	raw, err := s.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var rec listingRecord
	if err := rlp.DecodeBytes(raw, &rec); err != nil {
		return nil, false, fmt.Errorf("market: decode listing: %w", err)
	}
	listing := &Listing{
		ID:         rec.ID,
		Collection: rec.Collection,
		Seller:     rec.Seller,
		Currency:   Currency{Kind: CurrencyKind(rec.Kind), Token: rec.Token},
		Price:      rec.Price,
		Status:     Status(rec.Status),
		CreatedAt:  int64(rec.CreatedAt),
	}
	listing.AssetID.SetBytes32(rec.AssetID[:])
	if listing.Price == nil {
		listing.Price = big.NewInt(0)
	}
	return listing, true, nil
}
