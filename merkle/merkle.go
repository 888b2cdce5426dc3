// Package merkle computes the Merkle digest used as a node's convergence
// fingerprint: a canonical serialization of the replica's semantic state
// (never the log), reduced through a pairwise Merkle tree.
//
// Grounded on original_source/src/crdt/state.py's merkle_root(), which
// hashes sorted per-CRDT-type leaves and reduces them pairwise — adopted
// here instead of a single flat hash because it is more specifically a
// tree-shaped digest rather than one flat hash.
package merkle

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"

	"github.com/shghadge/collaborative-edge-mesh/crdt"
)

// Root is a 32-byte SHA-256 digest.
type Root [32]byte

// Hex returns the lowercase 64-character hex encoding of the root.
func (r Root) Hex() string {
	return hex.EncodeToString(r[:])
}

// Compute builds the Merkle root over the given replica components. The
// log is deliberately excluded: two nodes reaching the same semantic state
// via different ingestion orders must fingerprint-match.
func Compute(
	events *crdt.ORSet,
	counters map[string]*crdt.GCounter,
	resourceCounters map[string]*crdt.PNCounter,
	registers map[string]*crdt.LWWRegister,
) Root {
	leaves := map[string][]byte{
		"counters":          countersLeaf(counters),
		"events":            eventsLeaf(events),
		"registers":         registersLeaf(registers),
		"resource_counters": resourceCountersLeaf(resourceCounters),
	}

	names := make([]string, 0, len(leaves))
	for name := range leaves {
		names = append(names, name)
	}
	sort.Strings(names)

	ordered := make([][]byte, len(names))
	for i, name := range names {
		ordered[i] = leaves[name]
	}

	return reduce(ordered)
}

func eventsLeaf(events *crdt.ORSet) []byte {
	var list []crdt.Event
	if events != nil {
		byID := events.ElementsByID()
		list = make([]crdt.Event, 0, len(byID))
		for _, e := range byID {
			list = append(list, e)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].EventID < list[j].EventID })
	return leafHash(list)
}

func countersLeaf(counters map[string]*crdt.GCounter) []byte {
	keys := sortedKeys(counters)
	type entry struct {
		Key    string            `json:"key"`
		Counts map[string]uint64 `json:"counts"`
	}
	out := make([]entry, 0, len(keys))
	for _, k := range keys {
		out = append(out, entry{Key: k, Counts: counters[k].Counts})
	}
	return leafHash(out)
}

func resourceCountersLeaf(counters map[string]*crdt.PNCounter) []byte {
	keys := sortedKeys(counters)
	type entry struct {
		Key string         `json:"key"`
		Inc map[string]uint64 `json:"inc"`
		Dec map[string]uint64 `json:"dec"`
	}
	out := make([]entry, 0, len(keys))
	for _, k := range keys {
		c := counters[k]
		out = append(out, entry{Key: k, Inc: c.Inc.Counts, Dec: c.Dec.Counts})
	}
	return leafHash(out)
}

func registersLeaf(registers map[string]*crdt.LWWRegister) []byte {
	keys := sortedKeys(registers)
	type entry struct {
		Key    string `json:"key"`
		Value  any    `json:"value"`
		TSMs   int64  `json:"ts_ms"`
		NodeID string `json:"node_id"`
	}
	out := make([]entry, 0, len(keys))
	for _, k := range keys {
		r := registers[k]
		out = append(out, entry{Key: k, Value: r.Value, TSMs: r.TSMs, NodeID: r.NodeID})
	}
	return leafHash(out)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func leafHash(v any) []byte {
	data, _ := json.Marshal(v)
	sum := sha256.Sum256(data)
	return sum[:]
}

func reduce(leaves [][]byte) Root {
	if len(leaves) == 0 {
		return sha256.Sum256(nil)
	}
	level := leaves
	for len(level) > 1 {
		next := make([][]byte, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i+1 < len(level) {
				next = append(next, concatHash(level[i], level[i+1]))
			} else {
				next = append(next, concatHash(level[i], level[i]))
			}
		}
		level = next
	}
	var root Root
	copy(root[:], level[0])
	return root
}

func concatHash(a, b []byte) []byte {
	h := sha256.New()
	h.Write(a)
	h.Write(b)
	return h.Sum(nil)
}
