// Package intake implements IntakeService: the thin HTTP boundary over a
// node's ReplicaStore. Grounded on original_source/src/services/intake.py
// for the endpoint set (including the supplemental /health, /log, /merge
// endpoints SPEC_FULL.md adds); routed with net/http's ServeMux method
// patterns since no example repo in the pack imports an HTTP router.
package intake

import (
	"encoding/json"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/shghadge/collaborative-edge-mesh/crdt"
	"github.com/shghadge/collaborative-edge-mesh/internal/logging"
	"github.com/shghadge/collaborative-edge-mesh/replica"
)

const (
	maxLocationLen    = 128
	maxMetadataSize   = 64 * 1024
	maxValueStringLen = 256
)

// Service is a node's IntakeService.
type Service struct {
	store     *replica.Store
	nodeID    string
	peers     []string
	isolated  *atomic.Bool
	startTime time.Time
	log       logging.Logger
}

// New builds an IntakeService over store. isolated is a shared flag the
// node's chaos/orchestrator hook flips; it may be nil.
func New(store *replica.Store, nodeID string, peers []string, isolated *atomic.Bool) *Service {
	if isolated == nil {
		isolated = &atomic.Bool{}
	}
	return &Service{
		store:     store,
		nodeID:    nodeID,
		peers:     peers,
		isolated:  isolated,
		startTime: time.Now(),
		log:       logging.For("intake").With("node_id", nodeID),
	}
}

// Handler returns the http.Handler exposing the node HTTP surface (§6).
func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /event", s.handleEvent)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /state/merkle", s.handleMerkle)
	mux.HandleFunc("GET /state/snapshot", s.handleSnapshot)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /log", s.handleLog)
	mux.HandleFunc("POST /merge", s.handleMerge)
	return mux
}

type eventRequest struct {
	Type     string         `json:"type"`
	Value    any            `json:"value"`
	Location string         `json:"location"`
	Metadata map[string]any `json:"metadata"`
	Category string         `json:"category"`
}

func (s *Service) handleEvent(w http.ResponseWriter, r *http.Request) {
	var req eventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "InvalidInput", "malformed request body")
		return
	}
	if req.Type == "" {
		writeError(w, http.StatusBadRequest, "InvalidInput", "type must be non-empty")
		return
	}
	if !isScalarOrShortString(req.Value) {
		writeError(w, http.StatusBadRequest, "InvalidInput", "value must be a JSON scalar or a short string")
		return
	}
	if len(req.Location) > maxLocationLen {
		writeError(w, http.StatusBadRequest, "InvalidInput", "location exceeds maximum length")
		return
	}
	if req.Metadata != nil {
		encoded, err := json.Marshal(req.Metadata)
		if err != nil || len(encoded) > maxMetadataSize {
			writeError(w, http.StatusBadRequest, "InvalidInput", "metadata exceeds maximum size")
			return
		}
	}

	category := crdt.Category(req.Category)
	event, err := s.store.IngestEvent(req.Type, req.Value, req.Location, req.Metadata, category)
	if err != nil {
		s.log.Error("ingest_failed", "error", err)
		writeError(w, http.StatusInternalServerError, "InternalError", err.Error())
		return
	}

	s.log.Info("event_received", "event_id", event.EventID, "type", event.Type, "category", event.Category)
	writeJSON(w, http.StatusOK, map[string]any{
		"event_id":    event.EventID,
		"merkle_root": s.store.MerkleRoot().Hex(),
	})
}

func (s *Service) handleStatus(w http.ResponseWriter, r *http.Request) {
	root := s.store.MerkleRoot().Hex()
	writeJSON(w, http.StatusOK, map[string]any{
		"node_id":            s.nodeID,
		"peers":              s.peers,
		"event_count":        s.store.EventCount(),
		"merkle_root_prefix": root[:12],
		"isolated":           s.isolated.Load(),
	})
}

func (s *Service) handleMerkle(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"merkle_root": s.store.MerkleRoot().Hex()})
}

func (s *Service) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := s.store.Snapshot()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "InternalError", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Service) handleLog(w http.ResponseWriter, r *http.Request) {
	since := parseUintQuery(r, "since", 0)
	limit := int(parseUintQuery(r, "limit", 100))

	entries := s.store.LogEntries(since)
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"entries":     entries,
		"total":       s.store.LogLen(),
		"valid":       s.store.VerifyLog().Valid,
		"latest_hash": s.store.LogLatestHash(),
	})
}

func (s *Service) handleMerge(w http.ResponseWriter, r *http.Request) {
	var wire replica.ReplicaWire
	if err := json.NewDecoder(r.Body).Decode(&wire); err != nil {
		writeError(w, http.StatusBadRequest, "InvalidInput", "malformed replica payload")
		return
	}

	report, err := s.store.Merge(wire)
	if err != nil {
		s.log.Error("merge_failed", "from_node", wire.NodeID, "error", err)
		writeError(w, http.StatusBadRequest, "InvalidReplica", err.Error())
		return
	}

	s.log.Info("state_merged", "from_node", wire.NodeID, "new_events", report.NewEvents)
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "merged",
		"version":     s.store.Version(),
		"merkle_root": s.store.MerkleRoot().Hex(),
	})
}

// isScalarOrShortString reports whether v decodes to a JSON scalar (number,
// bool, nil) or a string no longer than maxValueStringLen. Arrays and
// objects are rejected: they'd land in an LWWRegister as a dynamic
// []interface{}/map[string]interface{} that a later Merge cannot safely
// compare.
func isScalarOrShortString(v any) bool {
	switch val := v.(type) {
	case nil, bool, float64:
		return true
	case string:
		return len(val) <= maxValueStringLen
	default:
		return false
	}
}

func parseUintQuery(r *http.Request, name string, fallback uint64) uint64 {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return fallback
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, kind, message string) {
	writeJSON(w, status, map[string]string{"error": kind, "message": message})
}
