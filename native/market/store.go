package market

import (
	"sync"

	"github.com/holiman/uint256"
)

// ListingStore persists active listings keyed by asset reference. Stores never
// consult the asset registry; custody is the engine's concern.
type ListingStore interface {
	Get(collection [20]byte, assetID *uint256.Int) (*Listing, bool, error)
	// Put inserts the listing. It fails with ErrDuplicateActiveListing when an
	// active listing already exists for the same asset.
	Put(*Listing) error
	// Remove deletes the listing for the asset. Removing an absent listing is a
	// no-op.
	Remove(collection [20]byte, assetID *uint256.Int) error
}

// MemoryStore is a ListingStore kept in process memory.
type MemoryStore struct {
	mu       sync.RWMutex
	listings map[AssetRef]*Listing
}

// NewMemoryStore creates an empty in-memory listing store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{listings: make(map[AssetRef]*Listing)}
}

func (s *MemoryStore) Get(collection [20]byte, assetID *uint256.Int) (*Listing, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	listing, ok := s.listings[NewAssetRef(collection, assetID)]
	if !ok {
		return nil, false, nil
	}
	return listing.Clone(), true, nil
}

func (s *MemoryStore) Put(listing *Listing) error {
	sanitized, err := SanitizeListing(listing)
	if err != nil {
		return err
	}
	ref := sanitized.Ref()
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.listings[ref]; ok && existing.Status == StatusActive {
		return ErrDuplicateActiveListing
	}
	s.listings[ref] = sanitized
	return nil
}

func (s *MemoryStore) Remove(collection [20]byte, assetID *uint256.Int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.listings, NewAssetRef(collection, assetID))
	return nil
}

// Len returns the number of stored listings.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.listings)
}
