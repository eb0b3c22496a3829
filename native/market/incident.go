package market

import (
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"

	"github.com/holiman/uint256"
)

var ErrIncidentNotFound = errors.New("market: incident not found")

// Incident records a settlement that left the registry, the ledgers and the
// listing store out of step. While an incident is open for an asset the
// engine refuses to buy or cancel it.
type Incident struct {
	ID         string   `json:"id"`
	Stage      string   `json:"stage"`
	Collection [20]byte `json:"collection"`
	AssetID    string   `json:"assetId"`
	ListingID  [32]byte `json:"listingId"`
	Seller     [20]byte `json:"seller"`
	Buyer      [20]byte `json:"buyer"`
	// Recipient is the account the asset still has to reach: the buyer for
	// deliver and finalize incidents, the previous holder for restore ones.
	Recipient  [20]byte `json:"recipient"`
	Currency   Currency `json:"currency"`
	Amount     *big.Int `json:"amount"`
	Cause      string   `json:"cause"`
	CreatedAt  int64    `json:"createdAt"`
	ResolvedAt int64    `json:"resolvedAt,omitempty"`
}

// Open reports whether the incident still awaits resolution.
func (i *Incident) Open() bool { return i != nil && i.ResolvedAt == 0 }

// Ref returns the asset reference the incident is frozen on.
func (i *Incident) Ref() (AssetRef, error) {
	id, err := uint256.FromDecimal(i.AssetID)
	if err != nil {
		return AssetRef{}, fmt.Errorf("market: incident %s asset id: %w", i.ID, err)
	}
	return NewAssetRef(i.Collection, id), nil
}

// Clone returns a deep copy of the incident.
func (i *Incident) Clone() *Incident {
	if i == nil {
		return nil
	}
	clone := *i
	if i.Amount != nil {
		clone.Amount = new(big.Int).Set(i.Amount)
	}
	return &clone
}

// IncidentLog stores settlement incidents.
type IncidentLog interface {
	Record(*Incident) error
	// OpenFor returns the unresolved incident for the asset, if any.
	OpenFor(ref AssetRef) (*Incident, bool, error)
	Resolve(id string, at int64) error
	List() ([]*Incident, error)
}

// MemoryIncidentLog keeps incidents in process memory.
type MemoryIncidentLog struct {
	mu        sync.RWMutex
	incidents map[string]*Incident
}

// NewMemoryIncidentLog creates an empty in-memory incident log.
func NewMemoryIncidentLog() *MemoryIncidentLog {
	return &MemoryIncidentLog{incidents: make(map[string]*Incident)}
}

func (m *MemoryIncidentLog) Record(incident *Incident) error {
	if incident == nil || incident.ID == "" {
		return fmt.Errorf("market: incident id required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.incidents[incident.ID] = incident.Clone()
	return nil
}

func (m *MemoryIncidentLog) OpenFor(ref AssetRef) (*Incident, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	assetID := ref.ID.Dec()
	for _, incident := range m.incidents {
		if incident.Open() && incident.Collection == ref.Collection && incident.AssetID == assetID {
			return incident.Clone(), true, nil
		}
	}
	return nil, false, nil
}

func (m *MemoryIncidentLog) Resolve(id string, at int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	incident, ok := m.incidents[id]
	if !ok {
		return ErrIncidentNotFound
	}
	incident.ResolvedAt = at
	return nil
}

func (m *MemoryIncidentLog) List() ([]*Incident, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Incident, 0, len(m.incidents))
	for _, incident := range m.incidents {
		out = append(out, incident.Clone())
	}
	sortIncidents(out)
	return out, nil
}

func sortIncidents(incidents []*Incident) {
	sort.Slice(incidents, func(i, j int) bool {
		if incidents[i].CreatedAt != incidents[j].CreatedAt {
			return incidents[i].CreatedAt < incidents[j].CreatedAt
		}
		return incidents[i].ID < incidents[j].ID
	})
}
