package replica

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/shghadge/collaborative-edge-mesh/crdt"
)

// WireEvents is the "events" field of a ReplicaWire: an ORSet serialized as
// add-tag/event pairs plus a flat list of removed tags.
type WireEvents struct {
	Adds    [][2]json.RawMessage `json:"adds"`
	Removes []string             `json:"removes"`
}

// WirePNCounter is the "inc"/"dec" half-counters of a resource PNCounter.
type WirePNCounter struct {
	Inc map[string]uint64 `json:"inc"`
	Dec map[string]uint64 `json:"dec"`
}

// WireRegister is a single LWWRegister entry on the wire.
type WireRegister struct {
	Value  any    `json:"value"`
	TSMs   int64  `json:"ts_ms"`
	NodeID string `json:"node_id"`
}

// ReplicaWire is the canonical, transport-ready serialization of a Replica
// (spec §6): snapshots, gossip STATE payloads, and /merge request bodies
// all use this shape.
type ReplicaWire struct {
	NodeID           string                     `json:"node_id"`
	Version          uint64                     `json:"version"`
	Events           WireEvents                 `json:"events"`
	Counters         map[string]map[string]uint64 `json:"counters"`
	ResourceCounters map[string]WirePNCounter   `json:"resource_counters"`
	Registers        map[string]WireRegister    `json:"registers"`
	MerkleRoot       string                     `json:"merkle_root"`
}

func eventsToWire(events *crdt.ORSet) (WireEvents, error) {
	out := WireEvents{Adds: make([][2]json.RawMessage, 0, len(events.Adds)), Removes: make([]string, 0, len(events.Removes))}
	tags := make([]string, 0, len(events.Adds))
	for tag := range events.Adds {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	for _, tag := range tags {
		e := events.Adds[tag]
		tagRaw, err := json.Marshal(tag)
		if err != nil {
			return out, err
		}
		evRaw, err := json.Marshal(e)
		if err != nil {
			return out, err
		}
		out.Adds = append(out.Adds, [2]json.RawMessage{tagRaw, evRaw})
	}
	for tag := range events.Removes {
		out.Removes = append(out.Removes, tag)
	}
	sort.Strings(out.Removes)
	return out, nil
}

func eventsFromWire(w WireEvents) (*crdt.ORSet, error) {
	set := crdt.NewORSet()
	for _, pair := range w.Adds {
		var tag string
		if err := json.Unmarshal(pair[0], &tag); err != nil {
			return nil, fmt.Errorf("replica: decode add tag: %w", err)
		}
		var e crdt.Event
		if err := json.Unmarshal(pair[1], &e); err != nil {
			return nil, fmt.Errorf("replica: decode add event: %w", err)
		}
		set.Add(tag, e)
	}
	for _, tag := range w.Removes {
		set.Remove(tag)
	}
	return set, nil
}

func countersToWire(counters map[string]*crdt.GCounter) map[string]map[string]uint64 {
	out := make(map[string]map[string]uint64, len(counters))
	for k, c := range counters {
		out[k] = c.Counts
	}
	return out
}

func countersFromWire(w map[string]map[string]uint64) map[string]*crdt.GCounter {
	out := make(map[string]*crdt.GCounter, len(w))
	for k, counts := range w {
		g := crdt.NewGCounter()
		for node, v := range counts {
			g.Counts[node] = v
		}
		out[k] = g
	}
	return out
}

func resourceCountersToWire(counters map[string]*crdt.PNCounter) map[string]WirePNCounter {
	out := make(map[string]WirePNCounter, len(counters))
	for k, c := range counters {
		out[k] = WirePNCounter{Inc: c.Inc.Counts, Dec: c.Dec.Counts}
	}
	return out
}

func resourceCountersFromWire(w map[string]WirePNCounter) map[string]*crdt.PNCounter {
	out := make(map[string]*crdt.PNCounter, len(w))
	for k, wc := range w {
		p := crdt.NewPNCounter()
		for node, v := range wc.Inc {
			p.Inc.Counts[node] = v
		}
		for node, v := range wc.Dec {
			p.Dec.Counts[node] = v
		}
		out[k] = p
	}
	return out
}

func registersToWire(registers map[string]*crdt.LWWRegister) map[string]WireRegister {
	out := make(map[string]WireRegister, len(registers))
	for k, r := range registers {
		if !r.IsSet() {
			continue
		}
		out[k] = WireRegister{Value: r.Value, TSMs: r.TSMs, NodeID: r.NodeID}
	}
	return out
}

func registersFromWire(w map[string]WireRegister) map[string]*crdt.LWWRegister {
	out := make(map[string]*crdt.LWWRegister, len(w))
	for k, wr := range w {
		r := crdt.NewLWWRegister()
		r.Set(wr.Value, wr.TSMs, wr.NodeID)
		out[k] = r
	}
	return out
}
