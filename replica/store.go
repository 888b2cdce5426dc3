// Package replica implements ReplicaStore: the mutex-guarded owner of a
// node's CRDTs, hash-chain log, and Merkle digest cache. Grounded on
// gossip/gossip.go's GossipState (one struct owning mutable state behind a
// single mutex, with a separate read-only snapshot type for safe copying
// across goroutines) and original_source/src/crdt/state.py's NodeState
// (category-routed event recording, merge, merkle_root).
package replica

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shghadge/collaborative-edge-mesh/crdt"
	"github.com/shghadge/collaborative-edge-mesh/ledger"
	"github.com/shghadge/collaborative-edge-mesh/merkle"
)

// ErrInvalidReplica is returned by Merge when the incoming wire payload is
// malformed.
var ErrInvalidReplica = errors.New("replica: invalid replica payload")

// MergeReport summarizes the effect of a Merge call.
type MergeReport struct {
	NewEvents      int `json:"new_events"`
	RegisterUpdates int `json:"register_updates"`
	CounterUpdates int `json:"counter_updates"`
}

// VerifyResult mirrors ledger.VerifyResult at the replica boundary.
type VerifyResult struct {
	Valid       bool    `json:"valid"`
	FirstBadSeq *uint64 `json:"first_bad_seq,omitempty"`
}

// eventIngestedPayload is the log entry recorded for every local ingest.
type eventIngestedPayload struct {
	Event crdt.Event `json:"event"`
}

// mergeAppliedPayload is the log entry recorded for every newly observed
// event absorbed from a merge.
type mergeAppliedPayload struct {
	EventID    string `json:"event_id"`
	FromNodeID string `json:"from_node_id"`
}

// Store is a node's ReplicaStore.
type Store struct {
	mu sync.Mutex

	nodeID  string
	version uint64

	events           *crdt.ORSet
	counters         map[string]*crdt.GCounter
	resourceCounters map[string]*crdt.PNCounter
	registers        map[string]*crdt.LWWRegister

	log *ledger.HashChainLog

	digestValid bool
	cachedRoot  merkle.Root
}

// Open opens (or creates) the hash-chain log at logPath and reconstructs
// the CRDT state and the version counter by replaying its EVENT_INGESTED
// records.
func Open(nodeID, logPath string) (*Store, error) {
	log, err := ledger.Open(logPath)
	if err != nil {
		return nil, err
	}

	s := &Store{
		nodeID:           nodeID,
		events:           crdt.NewORSet(),
		counters:         make(map[string]*crdt.GCounter),
		resourceCounters: make(map[string]*crdt.PNCounter),
		registers:        make(map[string]*crdt.LWWRegister),
		log:              log,
	}

	if err := s.replayFromLog(); err != nil {
		log.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) replayFromLog() error {
	for _, rec := range s.log.Entries(0) {
		var envelope struct {
			Kind ledger.Kind     `json:"kind"`
			Data json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(rec.Entry, &envelope); err != nil {
			return fmt.Errorf("replica: decode log entry at seq %d: %w", rec.Seq, err)
		}
		if envelope.Kind != ledger.KindEventIngest {
			continue
		}
		var payload eventIngestedPayload
		if err := json.Unmarshal(envelope.Data, &payload); err != nil {
			return fmt.Errorf("replica: decode EVENT_INGESTED at seq %d: %w", rec.Seq, err)
		}
		s.applyIngestedEventLocked(payload.Event)
		s.version++
	}
	return nil
}

// applyIngestedEventLocked applies the CRDT-side effects of ingesting e
// without touching the log. Used both by IngestEvent (after a fresh log
// append) and by replayFromLog (reconstructing state from history).
func (s *Store) applyIngestedEventLocked(e crdt.Event) {
	tag := e.Tag()
	s.events.Add(tag, e)

	regKey := e.Type + "@" + e.Location
	reg, ok := s.registers[regKey]
	if !ok {
		reg = crdt.NewLWWRegister()
		s.registers[regKey] = reg
	}
	reg.Set(e.Value, e.TimestampMS, e.NodeOrigin)

	counter, ok := s.counters["events_total"]
	if !ok {
		counter = crdt.NewGCounter()
		s.counters["events_total"] = counter
	}
	counter.Increment(e.NodeOrigin, 1)

	if e.Category == crdt.CategoryResource {
		if delta, ok := numericDelta(e.Metadata); ok {
			pn, ok := s.resourceCounters[e.Type]
			if !ok {
				pn = crdt.NewPNCounter()
				s.resourceCounters[e.Type] = pn
			}
			pn.Apply(e.NodeOrigin, delta)
		}
	}
}

func numericDelta(metadata map[string]any) (int64, bool) {
	raw, ok := metadata["delta"]
	if !ok {
		return 0, false
	}
	switch v := raw.(type) {
	case float64:
		return int64(v), true
	case int64:
		return v, true
	case int:
		return int64(v), true
	default:
		return 0, false
	}
}

// IngestEvent assigns event_id/timestamp, mutates the ORSet/LWWRegister/
// GCounter (and PNCounter for resource-category events carrying a signed
// delta), appends an EVENT_INGESTED log record, and returns the Event.
func (s *Store) IngestEvent(eventType string, value any, location string, metadata map[string]any, category crdt.Category) (crdt.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if category == "" {
		category = crdt.CategoryGeneral
	}

	e := crdt.Event{
		EventID:     uuid.NewString(),
		NodeOrigin:  s.nodeID,
		Type:        eventType,
		Value:       value,
		Location:    location,
		Metadata:    metadata,
		TimestampMS: time.Now().UnixMilli(),
		Category:    category,
	}

	if _, err := s.log.Append(ledger.KindEventIngest, eventIngestedPayload{Event: e}); err != nil {
		return crdt.Event{}, fmt.Errorf("replica: append log: %w", err)
	}

	s.applyIngestedEventLocked(e)
	s.version++
	s.invalidateLocked()

	return e, nil
}

// Merge applies CRDT merges from other into the store. Merges never
// increment version; they do invalidate the digest cache.
func (s *Store) Merge(other ReplicaWire) (MergeReport, error) {
	incomingEvents, err := eventsFromWire(other.Events)
	if err != nil {
		return MergeReport{}, fmt.Errorf("%w: %v", ErrInvalidReplica, err)
	}
	incomingCounters := countersFromWire(other.Counters)
	incomingResourceCounters := resourceCountersFromWire(other.ResourceCounters)
	incomingRegisters := registersFromWire(other.Registers)

	s.mu.Lock()
	defer s.mu.Unlock()

	before := s.events.ElementsByID()
	s.events.Merge(incomingEvents)
	after := s.events.ElementsByID()

	report := MergeReport{}
	for id, e := range after {
		if _, existed := before[id]; !existed {
			report.NewEvents++
			if _, err := s.log.Append(ledger.KindMergeApplied, mergeAppliedPayload{EventID: id, FromNodeID: e.NodeOrigin}); err != nil {
				return report, fmt.Errorf("replica: append merge log: %w", err)
			}
		}
	}

	for key, incoming := range incomingCounters {
		existing, ok := s.counters[key]
		if !ok {
			s.counters[key] = incoming.Clone()
			if incoming.Value() > 0 {
				report.CounterUpdates++
			}
			continue
		}
		before := existing.Value()
		existing.Merge(incoming)
		if existing.Value() != before {
			report.CounterUpdates++
		}
	}

	for key, incoming := range incomingResourceCounters {
		existing, ok := s.resourceCounters[key]
		if !ok {
			s.resourceCounters[key] = incoming.Clone()
			report.CounterUpdates++
			continue
		}
		before := existing.Value()
		existing.Merge(incoming)
		if existing.Value() != before {
			report.CounterUpdates++
		}
	}

	for key, incoming := range incomingRegisters {
		existing, ok := s.registers[key]
		if !ok {
			s.registers[key] = incoming
			report.RegisterUpdates++
			continue
		}
		before := existing.Value
		existing.Merge(incoming)
		if !reflect.DeepEqual(existing.Value, before) {
			report.RegisterUpdates++
		}
	}

	s.invalidateLocked()
	return report, nil
}

func (s *Store) invalidateLocked() {
	s.digestValid = false
}

// MerkleRoot recomputes the digest if invalidated, otherwise returns the
// cached value.
func (s *Store) MerkleRoot() merkle.Root {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.merkleRootLocked()
}

func (s *Store) merkleRootLocked() merkle.Root {
	if !s.digestValid {
		s.cachedRoot = merkle.Compute(s.events, s.counters, s.resourceCounters, s.registers)
		s.digestValid = true
	}
	return s.cachedRoot
}

// Snapshot returns a deterministic, canonicalized ReplicaWire.
func (s *Store) Snapshot() (ReplicaWire, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	eventsWire, err := eventsToWire(s.events)
	if err != nil {
		return ReplicaWire{}, err
	}

	return ReplicaWire{
		NodeID:           s.nodeID,
		Version:          s.version,
		Events:           eventsWire,
		Counters:         countersToWire(s.counters),
		ResourceCounters: resourceCountersToWire(s.resourceCounters),
		Registers:        registersToWire(s.registers),
		MerkleRoot:       s.merkleRootLocked().Hex(),
	}, nil
}

// VerifyLog recomputes every hash in the log and reports the first
// mismatch, if any.
func (s *Store) VerifyLog() VerifyResult {
	r := s.log.VerifyLog()
	return VerifyResult{Valid: r.Valid, FirstBadSeq: r.FirstBadSeq}
}

// LogTail returns the n most recent log records.
func (s *Store) LogTail(n int) []ledger.Record {
	return s.log.LogTail(n)
}

// LogEntries returns log records with seq >= since.
func (s *Store) LogEntries(since uint64) []ledger.Record {
	return s.log.Entries(since)
}

// LogLatestHash returns the hash of the most recent log record.
func (s *Store) LogLatestHash() string {
	return s.log.LatestHash()
}

// LogLen returns the number of log records, including genesis.
func (s *Store) LogLen() int {
	return s.log.Len()
}

// EventCount returns the number of live events, used for /status.
func (s *Store) EventCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events.ElementsByID())
}

// NodeID returns the store's owning node_id.
func (s *Store) NodeID() string { return s.nodeID }

// Version returns the current local version counter.
func (s *Store) Version() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// Close releases the underlying log file.
func (s *Store) Close() error {
	return s.log.Close()
}
