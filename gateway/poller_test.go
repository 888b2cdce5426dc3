package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shghadge/collaborative-edge-mesh/replica"
)

func newTestMetrics() *MetricsRegistry {
	return NewMetricsRegistry()
}

func TestFleetPollerFetchMerkleRootsReportsReachableAndUnreachable(t *testing.T) {
	okServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"merkle_root":"abc123"}`))
	}))
	defer okServer.Close()

	p := NewFleetPoller(500*time.Millisecond, newTestMetrics())
	p.RegisterNode("node-a", okServer.URL)
	p.RegisterNode("node-b", "http://127.0.0.1:1") // nothing listening

	roots := p.FetchMerkleRoots(context.Background())
	assert.Equal(t, "abc123", roots["node-a"])
	assert.Equal(t, "unreachable", roots["node-b"])
}

func TestFleetPollerFetchSnapshotSkipsStaleVersion(t *testing.T) {
	version := uint64(5)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wire := replica.ReplicaWire{NodeID: "node-a", Version: version, MerkleRoot: "root"}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(wire)
	}))
	defer server.Close()

	p := NewFleetPoller(500*time.Millisecond, newTestMetrics())
	p.RegisterNode("node-a", server.URL)

	_, ok := p.FetchSnapshot(context.Background(), "node-a")
	require.True(t, ok)

	version = 2 // regression
	_, ok = p.FetchSnapshot(context.Background(), "node-a")
	assert.False(t, ok)
}

func TestFleetPollerMarksUnreachableAfterThreeFailures(t *testing.T) {
	p := NewFleetPoller(50*time.Millisecond, newTestMetrics())
	p.RegisterNode("node-a", "http://127.0.0.1:1")

	for i := 0; i < 3; i++ {
		p.FetchMerkleRoots(context.Background())
	}
	assert.True(t, p.IsUnreachable("node-a"))
}

func TestFleetPollerUnregisterNodeDropsFromRoster(t *testing.T) {
	p := NewFleetPoller(time.Second, newTestMetrics())
	p.RegisterNode("node-a", "http://example.invalid")
	p.UnregisterNode("node-a")
	assert.Empty(t, p.Roster())
}
