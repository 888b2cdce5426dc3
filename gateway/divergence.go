package gateway

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.etcd.io/bbolt"
)

const divergenceRingCap = 200

var bucketDivergence = []byte("divergence")

// DivergenceRecord captures one poll's merkle-root comparison across the
// fleet.
type DivergenceRecord struct {
	Timestamp       time.Time         `json:"timestamp"`
	IsDivergent     bool              `json:"is_divergent"`
	MerkleRoots     map[string]string `json:"merkle_roots"`
	ReachableNodeIDs []string         `json:"reachable_node_ids"`
}

// DivergenceTracker maintains the bounded in-memory ring of divergence
// history, persisted into the gateway's bbolt store (§10.4) so it survives
// a restart. Persistence here is gateway bookkeeping only; it never holds
// node replica state.
type DivergenceTracker struct {
	mu             sync.Mutex
	db             *bbolt.DB
	ring           []DivergenceRecord
	divergedSince  *time.Time
}

// NewDivergenceTracker loads any ring previously persisted at db (which
// must already have bucketDivergence created).
func NewDivergenceTracker(db *bbolt.DB) (*DivergenceTracker, error) {
	t := &DivergenceTracker{db: db}
	if err := t.load(); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *DivergenceTracker) load() error {
	return t.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketDivergence)
		if bucket == nil {
			return fmt.Errorf("divergence bucket not found")
		}
		return bucket.ForEach(func(k, v []byte) error {
			var rec DivergenceRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("decode divergence record: %w", err)
			}
			t.ring = append(t.ring, rec)
			if !rec.IsDivergent {
				t.divergedSince = nil
			} else if t.divergedSince == nil {
				ts := rec.Timestamp
				t.divergedSince = &ts
			}
			return nil
		})
	})
}

// Record appends a new DivergenceRecord, trimming the ring to its cap and
// persisting the trimmed ring to bbolt.
func (t *DivergenceTracker) Record(isDivergent bool, roots map[string]string, reachable []string) DivergenceRecord {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec := DivergenceRecord{
		Timestamp:        time.Now(),
		IsDivergent:      isDivergent,
		MerkleRoots:      roots,
		ReachableNodeIDs: reachable,
	}
	t.ring = append(t.ring, rec)
	if len(t.ring) > divergenceRingCap {
		t.ring = t.ring[len(t.ring)-divergenceRingCap:]
	}

	if isDivergent {
		if t.divergedSince == nil {
			ts := rec.Timestamp
			t.divergedSince = &ts
		}
	} else {
		t.divergedSince = nil
	}

	_ = t.persistLocked()
	return rec
}

func (t *DivergenceTracker) persistLocked() error {
	return t.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketDivergence)
		if bucket == nil {
			return fmt.Errorf("divergence bucket not found")
		}
		c := bucket.Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			if err := bucket.Delete(k); err != nil {
				return err
			}
		}
		for i, rec := range t.ring {
			data, err := json.Marshal(rec)
			if err != nil {
				return err
			}
			key := fmt.Sprintf("%08d", i)
			if err := bucket.Put([]byte(key), data); err != nil {
				return err
			}
		}
		return nil
	})
}

// Log returns the ring newest-first.
func (t *DivergenceTracker) Log() []DivergenceRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]DivergenceRecord, len(t.ring))
	for i, rec := range t.ring {
		out[len(t.ring)-1-i] = rec
	}
	return out
}

// DurationSeconds returns seconds since divergence began, or 0 if the
// fleet is currently synced.
func (t *DivergenceTracker) DurationSeconds() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.divergedSince == nil {
		return 0
	}
	return time.Since(*t.divergedSince).Seconds()
}
