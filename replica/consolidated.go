package replica

import (
	"sync"

	"github.com/shghadge/collaborative-edge-mesh/crdt"
	"github.com/shghadge/collaborative-edge-mesh/merkle"
)

// Consolidated is the gateway's Merger target: the same CRDTs a Store
// holds, merged from every reachable node's snapshot, but with no
// hash-chain log and no local version counter — it is rebuilt from
// scratch on every poll, never persisted as replica state (only the
// gateway's own divergence/scenario bookkeeping is persisted, in
// gateway/store.go). Grounded on
// original_source/src/services/gateway.py's merged_state, a bare NodeState
// used purely as a merge target.
type Consolidated struct {
	mu sync.Mutex

	events           *crdt.ORSet
	counters         map[string]*crdt.GCounter
	resourceCounters map[string]*crdt.PNCounter
	registers        map[string]*crdt.LWWRegister

	digestValid bool
	cachedRoot  merkle.Root
}

// NewConsolidated returns an empty consolidation target.
func NewConsolidated() *Consolidated {
	return &Consolidated{
		events:           crdt.NewORSet(),
		counters:         make(map[string]*crdt.GCounter),
		resourceCounters: make(map[string]*crdt.PNCounter),
		registers:        make(map[string]*crdt.LWWRegister),
	}
}

// Merge absorbs other's wire-encoded state.
func (c *Consolidated) Merge(other ReplicaWire) error {
	incomingEvents, err := eventsFromWire(other.Events)
	if err != nil {
		return err
	}
	incomingCounters := countersFromWire(other.Counters)
	incomingResourceCounters := resourceCountersFromWire(other.ResourceCounters)
	incomingRegisters := registersFromWire(other.Registers)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.events.Merge(incomingEvents)

	for key, incoming := range incomingCounters {
		if existing, ok := c.counters[key]; ok {
			existing.Merge(incoming)
		} else {
			c.counters[key] = incoming.Clone()
		}
	}
	for key, incoming := range incomingResourceCounters {
		if existing, ok := c.resourceCounters[key]; ok {
			existing.Merge(incoming)
		} else {
			c.resourceCounters[key] = incoming.Clone()
		}
	}
	for key, incoming := range incomingRegisters {
		if existing, ok := c.registers[key]; ok {
			existing.Merge(incoming)
		} else {
			c.registers[key] = incoming
		}
	}

	c.digestValid = false
	return nil
}

// MerkleRoot recomputes (or returns the cached) digest over the
// consolidated state.
func (c *Consolidated) MerkleRoot() merkle.Root {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.digestValid {
		c.cachedRoot = merkle.Compute(c.events, c.counters, c.resourceCounters, c.registers)
		c.digestValid = true
	}
	return c.cachedRoot
}

// Snapshot returns the consolidated state as a ReplicaWire, node_id set to
// "gateway" and version left at 0 since the gateway does not version its
// merged view.
func (c *Consolidated) Snapshot() (ReplicaWire, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	eventsWire, err := eventsToWire(c.events)
	if err != nil {
		return ReplicaWire{}, err
	}
	return ReplicaWire{
		NodeID:           "gateway",
		Events:           eventsWire,
		Counters:         countersToWire(c.counters),
		ResourceCounters: resourceCountersToWire(c.resourceCounters),
		Registers:        registersToWire(c.registers),
		MerkleRoot:       c.cachedRootHex(),
	}, nil
}

func (c *Consolidated) cachedRootHex() string {
	if !c.digestValid {
		c.cachedRoot = merkle.Compute(c.events, c.counters, c.resourceCounters, c.registers)
		c.digestValid = true
	}
	return c.cachedRoot.Hex()
}
