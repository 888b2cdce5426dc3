package intake

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shghadge/collaborative-edge-mesh/replica"
)

func newTestService(t *testing.T) (*Service, *replica.Store) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "node.log")
	store, err := replica.Open("node-1", path)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return New(store, "node-1", []string{"node-2:9000"}, &atomic.Bool{}), store
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestPostEventAccepted(t *testing.T) {
	svc, store := newTestService(t)
	h := svc.Handler()

	rec := doJSON(t, h, http.MethodPost, "/event", eventRequest{
		Type:     "water_level",
		Value:    3.4,
		Location: "bridge_north",
	})

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp["event_id"])
	assert.Equal(t, 1, store.EventCount())
}

func TestPostEventRejectsEmptyType(t *testing.T) {
	svc, _ := newTestService(t)
	rec := doJSON(t, svc.Handler(), http.MethodPost, "/event", eventRequest{Location: "x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPostEventRejectsOverlongLocation(t *testing.T) {
	svc, _ := newTestService(t)
	rec := doJSON(t, svc.Handler(), http.MethodPost, "/event", eventRequest{
		Type:     "water_level",
		Location: strings.Repeat("x", maxLocationLen+1),
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetStatusReportsCounts(t *testing.T) {
	svc, _ := newTestService(t)
	h := svc.Handler()
	doJSON(t, h, http.MethodPost, "/event", eventRequest{Type: "t", Location: "l"})

	rec := doJSON(t, h, http.MethodGet, "/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "node-1", resp["node_id"])
	assert.EqualValues(t, 1, resp["event_count"])
	assert.Equal(t, false, resp["isolated"])
}

func TestMergeEndpointAbsorbsSnapshot(t *testing.T) {
	svcA, storeA := newTestService(t)
	_, storeB := newTestService(t)

	_, err := storeB.IngestEvent("shelter_capacity", nil, "shelter_1", map[string]any{"delta": -5.0}, "resource")
	require.NoError(t, err)
	snap, err := storeB.Snapshot()
	require.NoError(t, err)

	rec := doJSON(t, svcA.Handler(), http.MethodPost, "/merge", snap)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, 1, storeA.EventCount())
	assert.Equal(t, storeA.MerkleRoot(), storeB.MerkleRoot())
}

func TestMergeEndpointRejectsMalformedBody(t *testing.T) {
	svc, _ := newTestService(t)
	req := httptest.NewRequest(http.MethodPost, "/merge", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	svc.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLogEndpointReportsValidChain(t *testing.T) {
	svc, _ := newTestService(t)
	h := svc.Handler()
	doJSON(t, h, http.MethodPost, "/event", eventRequest{Type: "t", Location: "l"})

	rec := doJSON(t, h, http.MethodGet, "/log?since=0&limit=10", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, true, resp["valid"])
	assert.NotEmpty(t, resp["latest_hash"])
}

func TestHealthEndpointReportsOK(t *testing.T) {
	svc, _ := newTestService(t)
	rec := doJSON(t, svc.Handler(), http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}
