package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"

	"github.com/shghadge/collaborative-edge-mesh/internal/logging"
	"github.com/shghadge/collaborative-edge-mesh/internal/orchestrator"
)

const maxScenarioHistory = 500

// Status values a scenario result can carry.
const (
	StatusOK      = "ok"
	StatusPartial = "partial"
	StatusFailed  = "failed"
	StatusBusy    = "busy"
)

// ErrBusy is returned when a scenario or chaos operation is attempted while
// operation_mutex is already held by another run.
var ErrBusy = fmt.Errorf("gateway: another scenario or chaos operation is in progress")

// ScenarioResult is the structured result every scripted scenario returns,
// grounded on scenarios.py's result dict shape plus the supplemental
// action_id/started_at/finished_at fields.
type ScenarioResult struct {
	ActionID   string                 `json:"action_id"`
	Action     string                 `json:"action"`
	Status     string                 `json:"status"`
	StartedAt  time.Time              `json:"started_at"`
	FinishedAt time.Time              `json:"finished_at"`
	Converged  bool                   `json:"converged,omitempty"`
	Message    string                 `json:"message,omitempty"`
	Extra      map[string]interface{} `json:"extra,omitempty"`
}

// ScenarioRunner executes the two scripted state machines, serialized
// through a single gateway-wide mutex shared with ChaosController-driven
// one-off operations.
type ScenarioRunner struct {
	opMu  sync.Mutex
	db    *bbolt.DB
	chaos *ChaosController
	merger *Merger
	log   logging.Logger
}

// NewScenarioRunner wires a runner to its collaborators.
func NewScenarioRunner(db *bbolt.DB, chaos *ChaosController, merger *Merger) *ScenarioRunner {
	return &ScenarioRunner{db: db, chaos: chaos, merger: merger, log: logging.For("scenarios")}
}

// TryLock attempts to acquire the gateway-wide operation mutex without
// blocking, returning ErrBusy if it's already held. Callers (both chaos
// one-offs and scenarios) must pair a successful TryLock with Unlock.
func (r *ScenarioRunner) TryLock() error {
	if !r.opMu.TryLock() {
		return ErrBusy
	}
	return nil
}

// Unlock releases the operation mutex.
func (r *ScenarioRunner) Unlock() {
	r.opMu.Unlock()
}

func (r *ScenarioRunner) logState(actionID, state string) {
	r.log.Info("scenario_state", "action_id", actionID, "state", state)
}

// SplitBrainThenHeal runs the START -> PARTITIONING -> PARTITIONED ->
// HEALING -> VERIFYING -> DONE state machine.
func (r *ScenarioRunner) SplitBrainThenHeal(ctx context.Context, isolateSeconds int, verifyPolls int) ScenarioResult {
	actionID := uuid.NewString()
	result := ScenarioResult{ActionID: actionID, Action: "split-brain-then-heal", StartedAt: time.Now()}

	r.logState(actionID, "START")

	groupA, groupB, err := r.chaos.SplitBrain(ctx)
	if err != nil {
		result.Status = StatusFailed
		result.Message = err.Error()
		result.FinishedAt = time.Now()
		r.persist(result)
		return result
	}
	r.logState(actionID, "PARTITIONING")
	r.logState(actionID, "PARTITIONED")
	result.Extra = map[string]interface{}{"group_a": groupA, "group_b": groupB}

	select {
	case <-time.After(time.Duration(isolateSeconds) * time.Second):
	case <-ctx.Done():
		result.Status = StatusPartial
		result.Message = "deadline exceeded during isolation window"
		result.FinishedAt = time.Now()
		r.persist(result)
		return result
	}

	r.logState(actionID, "HEALING")
	r.chaos.HealAll(ctx)

	r.logState(actionID, "VERIFYING")
	converged := false
	for i := 0; i < verifyPolls; i++ {
		poll := r.merger.PollOnce(ctx)
		if !poll.Divergence.IsDivergent {
			converged = true
			break
		}
	}

	r.logState(actionID, "DONE")
	result.Converged = converged
	result.FinishedAt = time.Now()
	if verifyPolls == 0 {
		result.Status = StatusPartial
	} else if converged {
		result.Status = StatusOK
	} else {
		result.Status = StatusPartial
	}
	r.persist(result)
	return result
}

// BootstrapConverge creates createNodes nodes, seeds eventsPerNode
// synthetic round-robin events into each, then polls until every reachable
// node's per-node root agrees (or verifyPolls is exhausted).
func (r *ScenarioRunner) BootstrapConverge(ctx context.Context, createNodes, eventsPerNode, verifyPolls int) ScenarioResult {
	actionID := uuid.NewString()
	result := ScenarioResult{ActionID: actionID, Action: "bootstrap-converge", StartedAt: time.Now()}

	r.logState(actionID, "START")
	descs, failures := r.chaos.CreateBatch(ctx, createNodes)
	if len(descs) == 0 && createNodes > 0 {
		result.Status = StatusFailed
		result.Message = "no nodes could be created"
		result.FinishedAt = time.Now()
		r.persist(result)
		return result
	}

	successful, failed := r.seedEvents(ctx, descs, eventsPerNode)

	converged := false
	for i := 0; i < verifyPolls; i++ {
		poll := r.merger.PollOnce(ctx)
		if !poll.Divergence.IsDivergent {
			converged = true
			break
		}
	}

	result.Converged = converged
	result.FinishedAt = time.Now()
	result.Extra = map[string]interface{}{
		"successful_events": successful,
		"failed_events":      failed,
		"create_failures":    failures,
	}
	switch {
	case verifyPolls == 0:
		result.Status = StatusPartial
	case converged:
		result.Status = StatusOK
	default:
		result.Status = StatusPartial
	}
	r.logState(actionID, "DONE")
	r.persist(result)
	return result
}

var roundRobinEventTypes = []string{"water_level", "road_status", "shelter_capacity", "incident_report"}

// seedEvents posts eventsPerNode synthetic events (round-robin over
// roundRobinEventTypes) to each created node's /event endpoint, grounded on
// scenarios.py's bootstrap_converge seeding loop.
func (r *ScenarioRunner) seedEvents(ctx context.Context, descs []orchestrator.NodeDescriptor, eventsPerNode int) (successful, failed int) {
	client := &http.Client{Timeout: 2 * time.Second}
	for _, desc := range descs {
		for i := 0; i < eventsPerNode; i++ {
			eventType := roundRobinEventTypes[i%len(roundRobinEventTypes)]
			body, err := json.Marshal(map[string]interface{}{
				"type":     eventType,
				"value":    i,
				"location": desc.NodeID,
			})
			if err != nil {
				failed++
				continue
			}
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, desc.URL+"/event", bytes.NewReader(body))
			if err != nil {
				failed++
				continue
			}
			req.Header.Set("Content-Type", "application/json")
			resp, err := client.Do(req)
			if err != nil {
				failed++
				continue
			}
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				successful++
			} else {
				failed++
			}
		}
	}
	return successful, failed
}

func (r *ScenarioRunner) persist(result ScenarioResult) {
	if err := r.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketScenarios)
		if bucket == nil {
			return fmt.Errorf("scenarios bucket not found")
		}
		data, err := json.Marshal(result)
		if err != nil {
			return err
		}
		if err := bucket.Put([]byte(result.ActionID), data); err != nil {
			return err
		}
		return r.trimLocked(bucket)
	}); err != nil {
		r.log.Error("persist_scenario_failed", "action_id", result.ActionID, "error", err)
	}
}

func (r *ScenarioRunner) trimLocked(bucket *bbolt.Bucket) error {
	n := bucket.Stats().KeyN
	if n <= maxScenarioHistory {
		return nil
	}
	type entry struct {
		key      []byte
		finished time.Time
	}
	entries := make([]entry, 0, n)
	if err := bucket.ForEach(func(k, v []byte) error {
		var res ScenarioResult
		if err := json.Unmarshal(v, &res); err != nil {
			return err
		}
		entries = append(entries, entry{key: append([]byte(nil), k...), finished: res.FinishedAt})
		return nil
	}); err != nil {
		return err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].finished.Before(entries[j].finished) })
	for _, e := range entries[:len(entries)-maxScenarioHistory] {
		if err := bucket.Delete(e.key); err != nil {
			return err
		}
	}
	return nil
}

// History returns every persisted scenario result, most recently inserted
// order is not guaranteed by bbolt's byte-ordered keys (action_id is a
// random uuid), so callers needing recency should sort on FinishedAt.
func (r *ScenarioRunner) History() ([]ScenarioResult, error) {
	var out []ScenarioResult
	err := r.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketScenarios)
		if bucket == nil {
			return fmt.Errorf("scenarios bucket not found")
		}
		return bucket.ForEach(func(_, v []byte) error {
			var res ScenarioResult
			if err := json.Unmarshal(v, &res); err != nil {
				return err
			}
			out = append(out, res)
			return nil
		})
	})
	return out, err
}
