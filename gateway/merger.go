package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/shghadge/collaborative-edge-mesh/internal/logging"
	"github.com/shghadge/collaborative-edge-mesh/replica"
)

// PollResult is what one FleetPoller tick produces after the Merger and
// DivergenceTracker have both run over it.
type PollResult struct {
	MergedState   replica.ReplicaWire `json:"merged_state"`
	PerNodeRoots  map[string]string   `json:"per_node_roots"`
	MergedRoot    string              `json:"merged_root"`
	Reachable     []string            `json:"reachable_node_ids"`
	Divergence    DivergenceRecord    `json:"divergence"`
	MergeTimeMS   float64             `json:"merge_time_ms"`
}

// Merger owns the pollOnce cycle: fetch every node's snapshot, fold it into
// a fresh Consolidated replica, and hand the result to the
// DivergenceTracker and MetricsRegistry. Grounded on gateway.py's
// poll_once/merge_nodes pair.
type Merger struct {
	poller     *FleetPoller
	divergence *DivergenceTracker
	metrics    *MetricsRegistry
	log        logging.Logger

	mu         sync.Mutex
	lastResult *PollResult
}

// NewMerger wires a Merger to its collaborators.
func NewMerger(poller *FleetPoller, divergence *DivergenceTracker, metrics *MetricsRegistry) *Merger {
	return &Merger{poller: poller, divergence: divergence, metrics: metrics, log: logging.For("merger")}
}

// PollOnce runs a single fetch-merge-record cycle and returns its result.
func (m *Merger) PollOnce(ctx context.Context) PollResult {
	m.metrics.IncCounter("polls_started", 1)
	started := time.Now()

	roster := m.poller.Roster()
	consolidated := replica.NewConsolidated()
	reachable := make([]string, 0, len(roster))
	roots := make(map[string]string, len(roster))

	type fetched struct {
		nodeID string
		snap   replica.ReplicaWire
		ok     bool
	}
	results := make(chan fetched, len(roster))
	var wg sync.WaitGroup
	for nodeID := range roster {
		wg.Add(1)
		go func(nodeID string) {
			defer wg.Done()
			snap, ok := m.poller.FetchSnapshot(ctx, nodeID)
			results <- fetched{nodeID: nodeID, snap: snap, ok: ok}
		}(nodeID)
	}
	wg.Wait()
	close(results)

	for f := range results {
		nodeID, snap, ok := f.nodeID, f.snap, f.ok
		if !ok {
			m.metrics.IncCounter("state_merges_failed", 1)
			continue
		}
		if err := consolidated.Merge(snap); err != nil {
			m.log.Error("merge_failed", "node_id", nodeID, "error", err)
			m.metrics.IncCounter("state_merges_failed", 1)
			continue
		}
		m.metrics.IncCounter("state_merges_successful", 1)
		reachable = append(reachable, nodeID)
		roots[nodeID] = snap.MerkleRoot
	}

	mergedState, err := consolidated.Snapshot()
	if err != nil {
		m.log.Error("consolidated_snapshot_failed", "error", err)
		m.metrics.IncCounter("polls_failed", 1)
		elapsedMS := time.Since(started).Seconds() * 1000
		m.metrics.SetGauge("last_merge_duration_ms", elapsedMS)
		result := PollResult{Reachable: reachable, PerNodeRoots: roots}
		m.setLastResult(&result)
		return result
	}

	distinct := make(map[string]struct{}, len(roots))
	for _, root := range roots {
		distinct[root] = struct{}{}
	}
	isDivergent := len(distinct) > 1
	if !isDivergent && len(reachable) > 1 {
		m.metrics.IncCounter("total_convergence_events", 1)
	}

	rec := m.divergence.Record(isDivergent, roots, reachable)

	elapsedMS := time.Since(started).Seconds() * 1000
	m.metrics.RecordSample("merge_time_ms", elapsedMS)
	m.metrics.SetGauge("last_merge_duration_ms", elapsedMS)
	m.metrics.SetGauge("last_reachable_nodes", float64(len(reachable)))
	m.metrics.IncCounter("polls_completed", 1)

	result := PollResult{
		MergedState:  mergedState,
		PerNodeRoots: roots,
		MergedRoot:   mergedState.MerkleRoot,
		Reachable:    reachable,
		Divergence:   rec,
		MergeTimeMS:  elapsedMS,
	}
	m.setLastResult(&result)
	return result
}

func (m *Merger) setLastResult(result *PollResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastResult = result
}

// LastResult returns the most recent PollOnce result, or nil if no poll has
// run yet.
func (m *Merger) LastResult() *PollResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastResult
}
