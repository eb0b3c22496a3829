package registry

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/holiman/uint256"

	coreerrors "nftmarket/core/errors"
	"nftmarket/core/events"
	"nftmarket/crypto"
)

var (
	ErrCollectionExists  = errors.New("registry: collection already exists")
	ErrUnknownCollection = errors.New("registry: unknown collection")
	ErrInvalidRecipient  = errors.New("registry: recipient must not be the zero address")
)

type asset struct {
	holder   [20]byte
	approved [20]byte
	uri      string
}

type collection struct {
	address [20]byte
	name    string
	symbol  string
	lastID  uint256.Int
	assets  map[uint256.Int]*asset
}

// Collection describes a registered asset collection.
type Collection struct {
	Address [20]byte
	Name    string
	Symbol  string
	Minted  uint64
}

// Registry is an in-process unique-asset registry. Every asset has exactly one
// holder and at most one outstanding transfer approval, which is cleared
// whenever the asset moves.
type Registry struct {
	mu          sync.RWMutex
	collections map[[20]byte]*collection
	emitter     events.Emitter
}

// NewRegistry creates an empty registry with a no-op emitter.
func NewRegistry() *Registry {
	return &Registry{
		collections: make(map[[20]byte]*collection),
		emitter:     events.NoopEmitter{},
	}
}

// SetEmitter configures the event emitter used by the registry. Passing nil
// resets the emitter to a no-op implementation.
func (r *Registry) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		r.emitter = events.NoopEmitter{}
		return
	}
	r.emitter = emitter
}

func (r *Registry) emit(evt events.Event) {
	if r == nil || r.emitter == nil {
		return
	}
	r.emitter.Emit(evt)
}

// CreateCollection registers a new collection. The collection address is
// derived from its name and symbol.
func (r *Registry) CreateCollection(name, symbol string) ([20]byte, error) {
	name = strings.TrimSpace(name)
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if name == "" || symbol == "" {
		return [20]byte{}, fmt.Errorf("registry: collection name and symbol required")
	}
	addr := crypto.DeriveAddress("collection/" + name + "/" + symbol)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.collections[addr]; exists {
		return [20]byte{}, ErrCollectionExists
	}
	r.collections[addr] = &collection{
		address: addr,
		name:    name,
		symbol:  symbol,
		assets:  make(map[uint256.Int]*asset),
	}
	return addr, nil
}

// Collection returns the metadata for a registered collection.
func (r *Registry) Collection(addr [20]byte) (Collection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.collections[addr]
	if !ok {
		return Collection{}, false
	}
	return Collection{Address: c.address, Name: c.name, Symbol: c.symbol, Minted: c.lastID.Uint64()}, true
}

// Mint creates the next asset in the collection and assigns it to the
// recipient. Identifiers are sequential and start at 1.
func (r *Registry) Mint(collectionAddr, to [20]byte, uri string) (*uint256.Int, error) {
	if to == ([20]byte{}) {
		return nil, ErrInvalidRecipient
	}
	r.mu.Lock()
	c, ok := r.collections[collectionAddr]
	if !ok {
		r.mu.Unlock()
		return nil, ErrUnknownCollection
	}
	id := new(uint256.Int).AddUint64(&c.lastID, 1)
	c.lastID = *id
	c.assets[*id] = &asset{holder: to, uri: strings.TrimSpace(uri)}
	r.mu.Unlock()

	r.emit(events.AssetMinted{Collection: collectionAddr, ID: *id, To: to, URI: strings.TrimSpace(uri)})
	return id.Clone(), nil
}

// Approve grants the approved address the right to transfer the asset on the
// holder's behalf. Only the current holder may approve. Approving the zero
// address clears the approval.
func (r *Registry) Approve(collectionAddr [20]byte, id *uint256.Int, caller, approved [20]byte) error {
	r.mu.Lock()
	a, err := r.lookup(collectionAddr, id)
	if err != nil {
		r.mu.Unlock()
		return err
	}
	if a.holder != caller {
		r.mu.Unlock()
		return fmt.Errorf("registry: approve by non-holder: %w", coreerrors.ErrNotAuthorized)
	}
	a.approved = approved
	r.mu.Unlock()

	r.emit(events.AssetApproved{Collection: collectionAddr, ID: *id, Holder: caller, Approved: approved})
	return nil
}

// HolderOf returns the current holder of the asset.
func (r *Registry) HolderOf(collectionAddr [20]byte, id *uint256.Int) ([20]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, err := r.lookup(collectionAddr, id)
	if err != nil {
		return [20]byte{}, err
	}
	return a.holder, nil
}

// ApprovalOf returns the approved address for the asset, if any.
func (r *Registry) ApprovalOf(collectionAddr [20]byte, id *uint256.Int) ([20]byte, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, err := r.lookup(collectionAddr, id)
	if err != nil {
		return [20]byte{}, false, err
	}
	return a.approved, a.approved != ([20]byte{}), nil
}

// TokenURI returns the metadata URI recorded at mint time.
func (r *Registry) TokenURI(collectionAddr [20]byte, id *uint256.Int) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, err := r.lookup(collectionAddr, id)
	if err != nil {
		return "", err
	}
	return a.uri, nil
}

// BalanceOf counts the assets of the collection currently held by owner.
func (r *Registry) BalanceOf(collectionAddr, owner [20]byte) (uint64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.collections[collectionAddr]
	if !ok {
		return 0, ErrUnknownCollection
	}
	var count uint64
	for _, a := range c.assets {
		if a.holder == owner {
			count++
		}
	}
	return count, nil
}

// TransferCustody moves the asset from its holder to the recipient. The caller
// must be the holder or the approved party, and from must match the holder.
// The outstanding approval is cleared on every successful transfer.
func (r *Registry) TransferCustody(collectionAddr [20]byte, id *uint256.Int, from, to, caller [20]byte) error {
	if to == ([20]byte{}) {
		return ErrInvalidRecipient
	}
	r.mu.Lock()
	a, err := r.lookup(collectionAddr, id)
	if err != nil {
		r.mu.Unlock()
		return err
	}
	if a.holder != from {
		r.mu.Unlock()
		return fmt.Errorf("registry: transfer from non-holder: %w", coreerrors.ErrNotAuthorized)
	}
	if caller != a.holder && (a.approved == ([20]byte{}) || caller != a.approved) {
		r.mu.Unlock()
		return fmt.Errorf("registry: caller neither holder nor approved: %w", coreerrors.ErrNotAuthorized)
	}
	a.holder = to
	a.approved = [20]byte{}
	r.mu.Unlock()

	r.emit(events.AssetTransferred{Collection: collectionAddr, ID: *id, From: from, To: to, Caller: caller})
	return nil
}

// lookup must be called with r.mu held.
func (r *Registry) lookup(collectionAddr [20]byte, id *uint256.Int) (*asset, error) {
	if id == nil {
		return nil, fmt.Errorf("registry: nil asset id: %w", coreerrors.ErrNoSuchAsset)
	}
	c, ok := r.collections[collectionAddr]
	if !ok {
		return nil, fmt.Errorf("%w: %w", ErrUnknownCollection, coreerrors.ErrNoSuchAsset)
	}
	a, ok := c.assets[*id]
	if !ok {
		return nil, fmt.Errorf("registry: asset %s: %w", id.Dec(), coreerrors.ErrNoSuchAsset)
	}
	return a, nil
}
