package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cuemby/golem-executor/pkg/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeShardTable struct {
	leader bool
}

func (f *fakeShardTable) IsLeader() bool { return f.leader }

func TestNewHealthServerRegistersRoutes(t *testing.T) {
	hs := NewHealthServer(nil)
	require.NotNil(t, hs)
	require.NotNil(t, hs.mux)

	for _, path := range []string{"/health", "/ready", "/live", "/metrics"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		w := httptest.NewRecorder()
		hs.mux.ServeHTTP(w, req)
		assert.NotEqual(t, http.StatusNotFound, w.Code, "path %s should be registered", path)
	}

	req := httptest.NewRequest(http.MethodGet, "/nonexistent", nil)
	w := httptest.NewRecorder()
	hs.mux.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestNewHealthServerRegistersAPIComponent(t *testing.T) {
	NewHealthServer(nil)

	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	w := httptest.NewRecorder()
	metrics.ReadyHandler()(w, req)

	var status metrics.HealthStatus
	require.NoError(t, json.NewDecoder(w.Body).Decode(&status))
	assert.Equal(t, "ready", status.Components["api"])
}

func TestNewHealthServerNilShardLeavesShardManagerUnregistered(t *testing.T) {
	hs := NewHealthServer(nil)
	hs.RefreshShardHealth() // no-op with nil shard source

	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	w := httptest.NewRecorder()
	hs.mux.ServeHTTP(w, req)

	var status metrics.HealthStatus
	require.NoError(t, json.NewDecoder(w.Body).Decode(&status))
	assert.Equal(t, "not registered", status.Components["shard-manager"])
}

func TestRefreshShardHealthKeepsShardManagerReadyAcrossLeadership(t *testing.T) {
	shard := &fakeShardTable{leader: false}
	hs := NewHealthServer(shard)

	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	w := httptest.NewRecorder()
	hs.mux.ServeHTTP(w, req)
	var status metrics.HealthStatus
	require.NoError(t, json.NewDecoder(w.Body).Decode(&status))
	assert.Equal(t, "ready", status.Components["shard-manager"])

	shard.leader = true
	hs.RefreshShardHealth()

	w = httptest.NewRecorder()
	hs.mux.ServeHTTP(w, req)
	require.NoError(t, json.NewDecoder(w.Body).Decode(&status))
	assert.Equal(t, "ready", status.Components["shard-manager"])
}

func TestGetHandlerServesHealth(t *testing.T) {
	hs := NewHealthServer(nil)
	handler := hs.GetHandler()
	require.NotNil(t, handler)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSetComponentHealthUpdatesReadiness(t *testing.T) {
	NewHealthServer(nil)
	metrics.RegisterComponent("oplog", false, "store not open")

	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	w := httptest.NewRecorder()
	metrics.ReadyHandler()(w, req)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	SetComponentHealth("oplog", true, "")

	w = httptest.NewRecorder()
	metrics.ReadyHandler()(w, req)

	var status metrics.HealthStatus
	require.NoError(t, json.NewDecoder(w.Body).Decode(&status))
	assert.Equal(t, "ready", status.Components["oplog"])
}

func TestHealthServerConcurrentRequests(t *testing.T) {
	hs := NewHealthServer(&fakeShardTable{leader: true})

	done := make(chan bool, 20)
	for i := 0; i < 10; i++ {
		go func() {
			req := httptest.NewRequest(http.MethodGet, "/health", nil)
			w := httptest.NewRecorder()
			hs.mux.ServeHTTP(w, req)
			assert.Equal(t, http.StatusOK, w.Code)
			done <- true
		}()
	}
	for i := 0; i < 10; i++ {
		go func() {
			req := httptest.NewRequest(http.MethodGet, "/ready", nil)
			w := httptest.NewRecorder()
			hs.mux.ServeHTTP(w, req)
			assert.Contains(t, []int{http.StatusOK, http.StatusServiceUnavailable}, w.Code)
			done <- true
		}()
	}
	for i := 0; i < 20; i++ {
		<-done
	}
}

func BenchmarkHealthHandler(b *testing.B) {
	hs := NewHealthServer(nil)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		w := httptest.NewRecorder()
		hs.mux.ServeHTTP(w, req)
	}
}
