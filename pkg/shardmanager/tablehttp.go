package shardmanager

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cuemby/golem-executor/pkg/types"
)

// TableHandler serves the current routing table as JSON, polled by
// worker-executor pods that don't embed a shard manager replica of their
// own. Mirrors the plain net/http handler style pkg/metrics already uses
// for /health and /metrics rather than standing up a dedicated gRPC
// streaming service for what is, in practice, an infrequently-changing
// small JSON document.
func (s *Service) TableHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(s.Table()); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}
}

// TablePoller periodically fetches a routing table from a shard manager's
// TableHandler endpoint and hands it to a sink, giving a worker-executor
// pod a fresh services.ShardService.AcceptRoutingTable view without
// embedding Raft itself.
type TablePoller struct {
	addr     string
	client   *http.Client
	sink     func(*types.RoutingTable)
	interval time.Duration
	stopCh   chan struct{}
}

// NewTablePoller builds a poller that GETs addr every interval and calls
// sink with the decoded table. addr is a shard manager's health/metrics
// listener, e.g. "http://shard-manager:9090/shard-table".
func NewTablePoller(addr string, interval time.Duration, sink func(*types.RoutingTable)) *TablePoller {
	return &TablePoller{
		addr:     addr,
		client:   &http.Client{Timeout: 5 * time.Second},
		sink:     sink,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the polling loop in the background, fetching immediately
// before waiting out the first interval.
func (p *TablePoller) Start() {
	go func() {
		p.poll()
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				p.poll()
			case <-p.stopCh:
				return
			}
		}
	}()
}

// Stop ends the polling loop.
func (p *TablePoller) Stop() {
	close(p.stopCh)
}

func (p *TablePoller) poll() {
	resp, err := p.client.Get(p.addr)
	if err != nil {
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return
	}
	var table types.RoutingTable
	if err := json.NewDecoder(resp.Body).Decode(&table); err != nil {
		return
	}
	p.sink(&table)
}

type podRequest struct {
	Pod types.PodID `json:"pod"`
}

// RegisterHandler accepts {"pod": "..."} POSTs from worker-executor pods
// announcing themselves, applying RegisterPod through Raft so every
// replica's FSM picks up the new pod before the next rebalance cycle.
func (s *Service) RegisterHandler() http.HandlerFunc {
	return s.podHandler(s.RegisterPod)
}

// DeregisterHandler is RegisterHandler's counterpart for graceful pod
// shutdown, freeing its shards for redistribution on the next cycle.
func (s *Service) DeregisterHandler() http.HandlerFunc {
	return s.podHandler(s.DeregisterPod)
}

func (s *Service) podHandler(apply func(types.PodID) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req podRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := apply(req.Pod); err != nil {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

type addVoterRequest struct {
	NodeID  string `json:"node_id"`
	Address string `json:"address"`
}

// AddVoterHandler lets an operator add a new Raft peer to the cluster by
// POSTing {"node_id": "...", "address": "..."} to the current leader,
// rather than requiring shell access to run AddVoter in-process.
func (s *Service) AddVoterHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req addVoterRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := s.AddVoter(req.NodeID, req.Address); err != nil {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// AddVoterOnManager POSTs a join request to a shard manager's
// AddVoterHandler endpoint, the CLI side of "golem-shard-manager add-voter".
func AddVoterOnManager(addr, nodeID, nodeAddr string) error {
	body, err := json.Marshal(addVoterRequest{NodeID: nodeID, Address: nodeAddr})
	if err != nil {
		return err
	}
	resp, err := http.Post(addr, "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("shardmanager: add voter %s: unexpected status %d", nodeID, resp.StatusCode)
	}
	return nil
}

// RegisterPodWithManager POSTs pod to a shard manager's RegisterHandler
// endpoint, the worker-executor side of the announce flow on startup.
func RegisterPodWithManager(addr string, pod types.PodID) error {
	return postPod(addr, pod)
}

// DeregisterPodWithManager POSTs pod to a shard manager's DeregisterHandler
// endpoint on graceful worker-executor shutdown.
func DeregisterPodWithManager(addr string, pod types.PodID) error {
	return postPod(addr, pod)
}

func postPod(addr string, pod types.PodID) error {
	body, err := json.Marshal(podRequest{Pod: pod})
	if err != nil {
		return err
	}
	resp, err := http.Post(addr, "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("shardmanager: register pod %s: unexpected status %d", pod, resp.StatusCode)
	}
	return nil
}
