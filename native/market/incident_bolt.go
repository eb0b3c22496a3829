package market

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketIncidents = []byte("incidents")
	// bucketOpen indexes unresolved incidents by asset reference.
	bucketOpen = []byte("incidents_open")
)

// BoltIncidentLog persists incidents in a BoltDB file so frozen assets stay
// frozen across restarts.
type BoltIncidentLog struct {
	db *bolt.DB
}

// OpenBoltIncidentLog opens (or creates) the incident log at path.
func OpenBoltIncidentLog(path string, options *bolt.Options) (*BoltIncidentLog, error) {
	if options == nil {
		options = &bolt.Options{Timeout: time.Second}
	} else if options.Timeout == 0 {
		options.Timeout = time.Second
	}
	db, err := bolt.Open(path, 0o600, options)
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketIncidents, bucketOpen} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &BoltIncidentLog{db: db}, nil
}

// Close releases the underlying Bolt database handle.
func (b *BoltIncidentLog) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}

func openKey(ref AssetRef) []byte {
	return []byte(ref.String())
}

func (b *BoltIncidentLog) Record(incident *Incident) error {
	if incident == nil || incident.ID == "" {
		return fmt.Errorf("market: incident id required")
	}
	ref, err := incident.Ref()
	if err != nil {
		return err
	}
	encoded, err := json.Marshal(incident)
	if err != nil {
		return err
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketIncidents).Put([]byte(incident.ID), encoded); err != nil {
			return err
		}
		if incident.Open() {
			return tx.Bucket(bucketOpen).Put(openKey(ref), []byte(incident.ID))
		}
		return nil
	})
}

func (b *BoltIncidentLog) OpenFor(ref AssetRef) (*Incident, bool, error) {
	var found *Incident
	err := b.db.View(func(tx *bolt.Tx) error {
		id := tx.Bucket(bucketOpen).Get(openKey(ref))
		if id == nil {
			return nil
		}
		raw := tx.Bucket(bucketIncidents).Get(id)
		if raw == nil {
			return fmt.Errorf("market: open index points at missing incident %s", id)
		}
		var incident Incident
		if err := json.Unmarshal(raw, &incident); err != nil {
			return err
		}
		found = &incident
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return found, found != nil, nil
}

func (b *BoltIncidentLog) Resolve(id string, at int64) error {
	err := b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketIncidents)
		raw := bucket.Get([]byte(id))
		if raw == nil {
			return ErrIncidentNotFound
		}
		var incident Incident
		if err := json.Unmarshal(raw, &incident); err != nil {
			return err
		}
		incident.ResolvedAt = at
		encoded, err := json.Marshal(&incident)
		if err != nil {
			return err
		}
		if err := bucket.Put([]byte(id), encoded); err != nil {
			return err
		}
		ref, err := incident.Ref()
		if err != nil {
			return err
		}
		return tx.Bucket(bucketOpen).Delete(openKey(ref))
	})
	if errors.Is(err, ErrIncidentNotFound) {
		return ErrIncidentNotFound
	}
	return err
}

func (b *BoltIncidentLog) List() ([]*Incident, error) {
	var out []*Incident
	err := b.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketIncidents).ForEach(func(_, raw []byte) error {
			var incident Incident
			if err := json.Unmarshal(raw, &incident); err != nil {
				return err
			}
			out = append(out, &incident)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sortIncidents(out)
	return out, nil
}
