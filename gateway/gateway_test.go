package gateway

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shghadge/collaborative-edge-mesh/internal/config"
	"github.com/shghadge/collaborative-edge-mesh/internal/orchestrator"
)

func newTestGateway(t *testing.T) *Gateway {
	t.Helper()
	cfg := config.DefaultGatewayConfig()
	cfg.BboltPath = filepath.Join(t.TempDir(), "gw.db")
	cfg.Orchestrator = "fake"
	cfg.PollInterval = time.Hour // don't let the background loop race with the test
	g, err := New(cfg, orchestrator.NewFake())
	require.NoError(t, err)
	t.Cleanup(func() { g.Stop() })
	return g
}

func TestGatewayCreateAndListNodes(t *testing.T) {
	g := newTestGateway(t)
	server := httptest.NewServer(g.Handler())
	defer server.Close()

	resp, err := http.Post(server.URL+"/nodes", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(server.URL + "/nodes")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestGatewayBatchCreateRejectsInvalidCount(t *testing.T) {
	g := newTestGateway(t)
	server := httptest.NewServer(g.Handler())
	defer server.Close()

	resp, err := http.Post(server.URL+"/nodes/batch?count=0", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGatewayStatusReportsRosterSize(t *testing.T) {
	g := newTestGateway(t)
	server := httptest.NewServer(g.Handler())
	defer server.Close()

	resp, err := http.Get(server.URL + "/gateway/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestGatewayMergedStateReturns503BeforeFirstPoll(t *testing.T) {
	g := newTestGateway(t)
	server := httptest.NewServer(g.Handler())
	defer server.Close()

	resp, err := http.Get(server.URL + "/gateway/merged-state")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestGatewayPollTriggersMergeAndPopulatesMergedState(t *testing.T) {
	g := newTestGateway(t)
	server := httptest.NewServer(g.Handler())
	defer server.Close()

	resp, err := http.Post(server.URL+"/gateway/poll", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(server.URL + "/gateway/merged-state")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestGatewaySecondConcurrentScenarioReturnsBusy(t *testing.T) {
	g := newTestGateway(t)
	require.NoError(t, g.scenarios.TryLock())
	defer g.scenarios.Unlock()

	server := httptest.NewServer(g.Handler())
	defer server.Close()

	resp, err := http.Post(server.URL+"/partition/heal-all", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestGatewayMetricsEndpointDefaultsToCounters(t *testing.T) {
	g := newTestGateway(t)
	server := httptest.NewServer(g.Handler())
	defer server.Close()

	resp, err := http.Get(server.URL + "/gateway/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestGatewayPromMetricsEndpointServesPlaintext(t *testing.T) {
	g := newTestGateway(t)
	server := httptest.NewServer(g.Handler())
	defer server.Close()

	resp, err := http.Get(server.URL + "/gateway/metrics/prom")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
