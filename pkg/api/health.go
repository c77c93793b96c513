package api

import (
	"net/http"
	"time"

	"github.com/cuemby/golem-executor/pkg/metrics"
)

// HealthServer provides the HTTP health/readiness/metrics endpoints a pod
// exposes alongside its gRPC executor API.
type HealthServer struct {
	shard ShardTableSource
	mux   *http.ServeMux
}

// ShardTableSource reports whether this pod's shard manager replica holds
// Raft leadership (pkg/shardmanager.Service satisfies this; a worker-executor
// pod that doesn't run a shard manager replica passes nil).
type ShardTableSource interface {
	IsLeader() bool
}

// NewHealthServer builds the HTTP mux for /health, /ready, and /metrics.
// shard may be nil for a worker-executor process that doesn't embed a shard
// manager replica.
func NewHealthServer(shard ShardTableSource) *HealthServer {
	mux := http.NewServeMux()
	hs := &HealthServer{shard: shard, mux: mux}

	mux.Handle("/health", metrics.HealthHandler())
	mux.Handle("/ready", metrics.ReadyHandler())
	mux.Handle("/live", metrics.LivenessHandler())
	mux.Handle("/metrics", metrics.Handler())

	metrics.RegisterComponent("api", true, "")
	hs.RefreshShardHealth()
	return hs
}

// RefreshShardHealth updates the "shard-manager" readiness component from
// the current leadership state. With no shard manager replica (a plain
// worker-executor pod, nil shard source) it does nothing, so that component
// never registers and GetReadiness reports "not registered" for it, matching a
// worker-executor's actual dependency surface.
func (hs *HealthServer) RefreshShardHealth() {
	if hs.shard == nil {
		return
	}
	if hs.shard.IsLeader() {
		metrics.RegisterComponent("shard-manager", true, "leader")
	} else {
		metrics.RegisterComponent("shard-manager", true, "follower")
	}
}

// Start starts the health check HTTP server, blocking until it stops.
func (hs *HealthServer) Start(addr string) error {
	server := &http.Server{
		Addr:         addr,
		Handler:      hs.mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return server.ListenAndServe()
}

// GetHandler returns the HTTP handler for embedding in other servers.
func (hs *HealthServer) GetHandler() http.Handler {
	return hs.mux
}

// Handle mounts an extra route on the same mux /health, /ready, /live,
// and /metrics are served from — used by cmd/golem-shard-manager to also
// serve pkg/shardmanager.Service.TableHandler without a second listener.
func (hs *HealthServer) Handle(pattern string, handler http.Handler) {
	hs.mux.Handle(pattern, handler)
}

// SetComponentHealth is a thin re-export of metrics.UpdateComponent so
// callers that only import pkg/api need not also import pkg/metrics to
// report a subsystem's health.
func SetComponentHealth(name string, healthy bool, message string) {
	metrics.UpdateComponent(name, healthy, message)
}
