package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.etcd.io/bbolt"

	"github.com/shghadge/collaborative-edge-mesh/internal/config"
	"github.com/shghadge/collaborative-edge-mesh/internal/logging"
	"github.com/shghadge/collaborative-edge-mesh/internal/orchestrator"
)

// Gateway wires FleetPoller, Merger, DivergenceTracker, ChaosController,
// MetricsRegistry, ScenarioRunner and the bbolt operational store into one
// process exposing the gateway HTTP surface (§6).
type Gateway struct {
	cfg config.GatewayConfig
	log logging.Logger

	db         *bbolt.DB
	orch       orchestrator.Port
	poller     *FleetPoller
	merger     *Merger
	divergence *DivergenceTracker
	metrics    *MetricsRegistry
	chaos      *ChaosController
	scenarios  *ScenarioRunner

	httpServer *http.Server
	cancel     context.CancelFunc
}

// New builds a Gateway from cfg. Nothing runs (no poll loop, no HTTP
// listener) until Start is called.
func New(cfg config.GatewayConfig, orch orchestrator.Port) (*Gateway, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	db, err := OpenStore(cfg.BboltPath)
	if err != nil {
		return nil, fmt.Errorf("gateway: %w", err)
	}

	metrics := NewMetricsRegistry()
	divergence, err := NewDivergenceTracker(db)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("gateway: load divergence tracker: %w", err)
	}
	poller := NewFleetPoller(cfg.FetchTimeout, metrics)
	merger := NewMerger(poller, divergence, metrics)
	chaos := NewChaosController(orch, poller)
	scenarios := NewScenarioRunner(db, chaos, merger)

	g := &Gateway{
		cfg:        cfg,
		log:        logging.For("gateway").With("gateway_id", cfg.GatewayID),
		db:         db,
		orch:       orch,
		poller:     poller,
		merger:     merger,
		divergence: divergence,
		metrics:    metrics,
		chaos:      chaos,
		scenarios:  scenarios,
	}
	g.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler: g.Handler(),
	}
	return g, nil
}

// Start launches the periodic poll loop and the HTTP API listener.
func (g *Gateway) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	g.cancel = cancel

	go g.pollLoop(ctx)
	go func() {
		g.log.Info("http_listening", "addr", g.httpServer.Addr)
		if err := g.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			g.log.Error("http_server_failed", "error", err)
		}
	}()
	return nil
}

// Stop shuts down the HTTP listener, poll loop, and bbolt store.
func (g *Gateway) Stop() error {
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	httpErr := g.httpServer.Shutdown(shutdownCtx)
	if g.cancel != nil {
		g.cancel()
	}
	dbErr := g.db.Close()
	return errors.Join(httpErr, dbErr)
}

func (g *Gateway) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(g.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.merger.PollOnce(ctx)
		}
	}
}

// Handler builds the ServeMux exposing the gateway HTTP surface.
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /nodes", g.handleListNodes)
	mux.HandleFunc("POST /nodes", g.handleCreateNode)
	mux.HandleFunc("DELETE /nodes/{id}", g.handleDeleteNode)
	mux.HandleFunc("POST /nodes/batch", g.handleCreateBatch)
	mux.HandleFunc("POST /nodes/{id}/partition", g.handleIsolateNode)
	mux.HandleFunc("DELETE /nodes/{id}/partition", g.handleHealNode)

	mux.HandleFunc("POST /partition/split-brain", g.handleSplitBrain)
	mux.HandleFunc("POST /partition/heal-all", g.handleHealAll)

	mux.HandleFunc("GET /gateway/status", g.handleStatus)
	mux.HandleFunc("POST /gateway/poll", g.handlePoll)
	mux.HandleFunc("GET /gateway/merged-state", g.handleMergedState)
	mux.HandleFunc("GET /gateway/divergence", g.handleDivergence)
	mux.HandleFunc("GET /gateway/metrics", g.handleMetrics)
	mux.HandleFunc("GET /gateway/runtime-metrics", g.handleRuntimeMetrics)
	mux.HandleFunc("GET /gateway/metrics/prom", promhttp.HandlerFor(g.metrics.PromRegistry(), promhttp.HandlerOpts{}).ServeHTTP)

	mux.HandleFunc("POST /scenarios/split-brain-heal", g.handleScenarioSplitBrainHeal)
	mux.HandleFunc("POST /scenarios/bootstrap-converge", g.handleScenarioBootstrapConverge)

	return mux
}

func (g *Gateway) handleListNodes(w http.ResponseWriter, r *http.Request) {
	nodes, err := g.chaos.List(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, StatusFailed, err.Error())
		return
	}
	for i := range nodes {
		if nodes[i].Status == orchestrator.StatusRunning && g.poller.IsUnreachable(nodes[i].NodeID) {
			nodes[i].Status = orchestrator.StatusUnreachable
		}
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].NodeID < nodes[j].NodeID })
	writeJSON(w, http.StatusOK, nodes)
}

func (g *Gateway) handleCreateNode(w http.ResponseWriter, r *http.Request) {
	nodeID := r.URL.Query().Get("node_id")
	desc, err := g.chaos.CreateNode(r.Context(), nodeID)
	if err != nil {
		writeError(w, http.StatusBadGateway, StatusFailed, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, desc)
}

func (g *Gateway) handleDeleteNode(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := g.chaos.RemoveNode(r.Context(), id); err != nil {
		writeError(w, http.StatusBadGateway, StatusFailed, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "removed", "node_id": id})
}

func (g *Gateway) handleCreateBatch(w http.ResponseWriter, r *http.Request) {
	count, err := strconv.Atoi(r.URL.Query().Get("count"))
	if err != nil || count <= 0 {
		writeError(w, http.StatusBadRequest, "InvalidInput", "count must be a positive integer")
		return
	}
	descs, failures := g.chaos.CreateBatch(r.Context(), count)
	writeJSON(w, http.StatusOK, map[string]any{
		"requested":     count,
		"created_count": len(descs),
		"created":       descs,
		"failures":      failures,
	})
}

func (g *Gateway) handleIsolateNode(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := g.chaos.IsolateNode(r.Context(), id); err != nil {
		writeError(w, http.StatusBadGateway, StatusFailed, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "isolated", "node_id": id})
}

func (g *Gateway) handleHealNode(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := g.orch.Heal(r.Context(), id); err != nil {
		writeError(w, http.StatusBadGateway, StatusFailed, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "healed", "node_id": id})
}

func (g *Gateway) handleSplitBrain(w http.ResponseWriter, r *http.Request) {
	if err := g.scenarios.TryLock(); err != nil {
		writeError(w, http.StatusConflict, StatusBusy, err.Error())
		return
	}
	defer g.scenarios.Unlock()

	groupA, groupB, err := g.chaos.SplitBrain(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, StatusFailed, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": StatusOK, "group_a": groupA, "group_b": groupB})
}

func (g *Gateway) handleHealAll(w http.ResponseWriter, r *http.Request) {
	if err := g.scenarios.TryLock(); err != nil {
		writeError(w, http.StatusConflict, StatusBusy, err.Error())
		return
	}
	defer g.scenarios.Unlock()

	healed := g.chaos.HealAll(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"status": StatusOK, "healed": healed})
}

func (g *Gateway) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"gateway_id":    g.cfg.GatewayID,
		"roster_size":   len(g.poller.Roster()),
		"orchestrator":  g.cfg.Orchestrator,
		"poll_interval": g.cfg.PollInterval.String(),
	})
}

func (g *Gateway) handlePoll(w http.ResponseWriter, r *http.Request) {
	result := g.merger.PollOnce(r.Context())
	writeJSON(w, http.StatusOK, result)
}

func (g *Gateway) handleMergedState(w http.ResponseWriter, r *http.Request) {
	last := g.merger.LastResult()
	if last == nil {
		writeError(w, http.StatusServiceUnavailable, "NoPollYet", "no poll has completed yet")
		return
	}
	writeJSON(w, http.StatusOK, last.MergedState)
}

func (g *Gateway) handleDivergence(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"log":                        g.divergence.Log(),
		"divergence_duration_seconds": g.divergence.DurationSeconds(),
	})
}

func (g *Gateway) handleMetrics(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if name == "" {
		writeJSON(w, http.StatusOK, g.metrics.Counters())
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    name,
		"samples": g.metrics.Samples(name, limit),
	})
}

func (g *Gateway) handleRuntimeMetrics(w http.ResponseWriter, r *http.Request) {
	nodes, _ := g.chaos.List(r.Context())
	managed := 0
	for _, n := range nodes {
		if n.Managed {
			managed++
		}
	}
	unreachable := 0
	for nodeID := range g.poller.Roster() {
		if g.poller.IsUnreachable(nodeID) {
			unreachable++
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"node_health":                 g.poller.Health(),
		"roster_size":                 len(g.poller.Roster()),
		"managed_node_count":          managed,
		"unreachable_node_count":      unreachable,
		"divergence_duration_seconds": g.divergence.DurationSeconds(),
		"counters":                    g.metrics.Counters(),
	})
}

func (g *Gateway) handleScenarioSplitBrainHeal(w http.ResponseWriter, r *http.Request) {
	if err := g.scenarios.TryLock(); err != nil {
		writeError(w, http.StatusConflict, StatusBusy, err.Error())
		return
	}
	defer g.scenarios.Unlock()

	isolateSeconds, _ := strconv.Atoi(r.URL.Query().Get("isolate_seconds"))
	verifyPolls, _ := strconv.Atoi(r.URL.Query().Get("verify_polls"))

	ctx, cancel := context.WithTimeout(r.Context(), 60*time.Second)
	defer cancel()
	result := g.scenarios.SplitBrainThenHeal(ctx, isolateSeconds, verifyPolls)
	writeScenarioResult(w, result)
}

func (g *Gateway) handleScenarioBootstrapConverge(w http.ResponseWriter, r *http.Request) {
	if err := g.scenarios.TryLock(); err != nil {
		writeError(w, http.StatusConflict, StatusBusy, err.Error())
		return
	}
	defer g.scenarios.Unlock()

	createNodes, _ := strconv.Atoi(r.URL.Query().Get("create_nodes"))
	eventsPerNode, _ := strconv.Atoi(r.URL.Query().Get("events_per_node"))
	verifyPolls, _ := strconv.Atoi(r.URL.Query().Get("verify_polls"))

	ctx, cancel := context.WithTimeout(r.Context(), 60*time.Second)
	defer cancel()
	result := g.scenarios.BootstrapConverge(ctx, createNodes, eventsPerNode, verifyPolls)
	writeScenarioResult(w, result)
}

func writeScenarioResult(w http.ResponseWriter, result ScenarioResult) {
	status := http.StatusOK
	if result.Status == StatusFailed {
		status = http.StatusBadGateway
	}
	writeJSON(w, status, result)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, kind, message string) {
	writeJSON(w, status, map[string]string{"status": kind, "message": message})
}
