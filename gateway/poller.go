package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/shghadge/collaborative-edge-mesh/internal/logging"
	"github.com/shghadge/collaborative-edge-mesh/replica"
)

// NodeHealth is the gateway's per-node bookkeeping, grounded on
// gateway.py's node_health dict: it drives the "unreachable after 3
// consecutive failures" rule and the retry backoff.
type NodeHealth struct {
	NodeID              string    `json:"node_id"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastError           string    `json:"last_error,omitempty"`
	LastSuccessAt       time.Time `json:"last_success_at,omitempty"`
	LastLatencyMS       float64   `json:"last_latency_ms"`
	BackoffUntil        time.Time `json:"backoff_until,omitempty"`
}

type registeredNode struct {
	url         string
	lastMerkle  string
	lastVersion *uint64
}

// FleetPoller owns the node roster and fetches nodes' merkle roots
// (FetchMerkleRoots) and full snapshots (FetchSnapshot, called by the
// Merger on every poll tick).
type FleetPoller struct {
	mu     sync.Mutex
	nodes  map[string]*registeredNode
	health map[string]*NodeHealth

	client       *http.Client
	fetchTimeout time.Duration
	retryBackoff time.Duration
	maxRetries   int

	metrics *MetricsRegistry
	log     logging.Logger
}

// NewFleetPoller builds a poller with no registered nodes yet.
func NewFleetPoller(fetchTimeout time.Duration, metrics *MetricsRegistry) *FleetPoller {
	return &FleetPoller{
		nodes:        make(map[string]*registeredNode),
		health:       make(map[string]*NodeHealth),
		client:       &http.Client{Timeout: fetchTimeout},
		fetchTimeout: fetchTimeout,
		retryBackoff: 100 * time.Millisecond,
		maxRetries:   2,
		metrics:      metrics,
		log:          logging.For("fleet_poller"),
	}
}

// RegisterNode adds or replaces a node's polling URL.
func (p *FleetPoller) RegisterNode(nodeID, url string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nodes[nodeID] = &registeredNode{url: url}
	if _, ok := p.health[nodeID]; !ok {
		p.health[nodeID] = &NodeHealth{NodeID: nodeID}
	}
	p.log.Info("node_registered", "node_id", nodeID, "url", url)
}

// UnregisterNode removes a node from the roster.
func (p *FleetPoller) UnregisterNode(nodeID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.nodes, nodeID)
	delete(p.health, nodeID)
	p.log.Info("node_unregistered", "node_id", nodeID)
}

// Roster returns a copy of node_id -> url.
func (p *FleetPoller) Roster() map[string]string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]string, len(p.nodes))
	for id, n := range p.nodes {
		out[id] = n.url
	}
	return out
}

// Health returns a copy of every node's NodeHealth.
func (p *FleetPoller) Health() map[string]NodeHealth {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]NodeHealth, len(p.health))
	for id, h := range p.health {
		out[id] = *h
	}
	return out
}

// FetchMerkleRoots fetches /state/merkle from every registered node,
// skipping nodes currently in backoff. Unreachable nodes map to
// "unreachable".
func (p *FleetPoller) FetchMerkleRoots(ctx context.Context) map[string]string {
	roster := p.Roster()
	roots := make(map[string]string, len(roster))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for nodeID, url := range roster {
		wg.Add(1)
		go func(nodeID, url string) {
			defer wg.Done()
			var body struct {
				MerkleRoot string `json:"merkle_root"`
			}
			root := "unreachable"
			if p.getJSONWithRetry(ctx, nodeID, url+"/state/merkle", &body) {
				root = body.MerkleRoot
			}
			mu.Lock()
			roots[nodeID] = root
			mu.Unlock()
		}(nodeID, url)
	}
	wg.Wait()
	return roots
}

// FetchSnapshot fetches the full ReplicaWire from one node, respecting
// stale-version skip: if the node's reported version regressed versus the
// last accepted one, the caller should skip merging it.
func (p *FleetPoller) FetchSnapshot(ctx context.Context, nodeID string) (replica.ReplicaWire, bool) {
	p.mu.Lock()
	url, ok := p.nodes[nodeID]
	p.mu.Unlock()
	if !ok {
		return replica.ReplicaWire{}, false
	}

	var snap replica.ReplicaWire
	if !p.getJSONWithRetry(ctx, nodeID, url.url+"/state/snapshot", &snap) {
		return replica.ReplicaWire{}, false
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	reg := p.nodes[nodeID]
	if reg.lastVersion != nil && snap.Version < *reg.lastVersion {
		p.metrics.IncCounter("stale_state_skips", 1)
		p.log.Info("stale_state_skipped", "node_id", nodeID, "incoming_version", snap.Version, "last_version", *reg.lastVersion)
		return replica.ReplicaWire{}, false
	}
	v := snap.Version
	reg.lastVersion = &v
	reg.lastMerkle = snap.MerkleRoot
	return snap, true
}

// getJSONWithRetry issues a GET, retrying up to maxRetries times (so at
// most maxRetries+1 attempts total) with an exponential backoff that
// triples on each successive retry (100ms, 300ms, ...), honoring the
// node's current backoff window, and updates NodeHealth on both success
// and failure paths.
func (p *FleetPoller) getJSONWithRetry(ctx context.Context, nodeID, url string, out any) bool {
	p.mu.Lock()
	h, ok := p.health[nodeID]
	if !ok {
		h = &NodeHealth{NodeID: nodeID}
		p.health[nodeID] = h
	}
	inBackoff := !h.BackoffUntil.IsZero() && time.Now().Before(h.BackoffUntil)
	if inBackoff {
		h.ConsecutiveFailures++
	}
	p.mu.Unlock()
	if inBackoff {
		return false
	}

	var lastErr error
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		p.metrics.IncCounter("total_http_requests", 1)
		started := time.Now()

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			lastErr = err
		} else if resp, err := p.client.Do(req); err != nil {
			lastErr = err
		} else {
			func() {
				defer resp.Body.Close()
				lastErr = json.NewDecoder(resp.Body).Decode(out)
			}()
			if lastErr == nil {
				latency := time.Since(started).Seconds() * 1000
				p.metrics.IncCounter("total_http_success", 1)
				p.markSuccess(nodeID, latency)
				return true
			}
		}

		p.metrics.IncCounter("total_http_failures", 1)
		if attempt < p.maxRetries {
			p.metrics.IncCounter("http_retries", 1)
			time.Sleep(p.retryBackoffFor(attempt))
		}
	}

	p.markFailure(nodeID, lastErr)
	p.log.Error("http_request_failed", "node_id", nodeID, "url", url, "error", fmt.Sprint(lastErr))
	return false
}

// retryBackoffFor returns the sleep before the (attempt+1)th retry: the
// base backoff tripled once per successive retry, e.g. 100ms, 300ms.
func (p *FleetPoller) retryBackoffFor(attempt int) time.Duration {
	backoff := p.retryBackoff
	for i := 0; i < attempt; i++ {
		backoff *= 3
	}
	return backoff
}

func (p *FleetPoller) markSuccess(nodeID string, latencyMS float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	h := p.health[nodeID]
	h.ConsecutiveFailures = 0
	h.LastError = ""
	h.LastSuccessAt = time.Now()
	h.LastLatencyMS = latencyMS
	h.BackoffUntil = time.Time{}
}

func (p *FleetPoller) markFailure(nodeID string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	h := p.health[nodeID]
	h.ConsecutiveFailures++
	if err != nil {
		h.LastError = err.Error()
	}
	backoff := time.Duration(h.ConsecutiveFailures) * 2 * time.Second
	h.BackoffUntil = time.Now().Add(backoff)
}

// IsUnreachable reports whether a node has failed 3 or more consecutive
// polls.
func (p *FleetPoller) IsUnreachable(nodeID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	h, ok := p.health[nodeID]
	return ok && h.ConsecutiveFailures >= 3
}
