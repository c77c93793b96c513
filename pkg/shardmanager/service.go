package shardmanager

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/cuemby/golem-executor/pkg/apierr"
	"github.com/cuemby/golem-executor/pkg/log"
	"github.com/cuemby/golem-executor/pkg/types"
	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"
)

// Service wraps a Raft-replicated FSM and the periodic rebalance loop that
// keeps the RoutingTable within band as pods join and leave. Grounded on
// the teacher's Manager.Bootstrap/Join (raft.NewTCPTransport +
// raft.NewFileSnapshotStore + raftboltdb log/stable stores), generalized
// from cluster-wide container state to the shard routing table.
type Service struct {
	nodeID   string
	bindAddr string
	dataDir  string

	raft              *raft.Raft
	fsm               *FSM
	threshold         float64
	rebalanceInterval time.Duration

	stopCh chan struct{}
}

// Config configures a new shard manager Service.
type Config struct {
	NodeID     string
	BindAddr   string
	DataDir    string
	ShardCount int
	Threshold         float64 // fractional load imbalance that triggers a move; 0.1 is a reasonable default
	RebalanceInterval time.Duration
}

// NewService constructs a Service with an as-yet-unstarted Raft instance.
func NewService(cfg Config) *Service {
	if cfg.Threshold == 0 {
		cfg.Threshold = 0.1
	}
	if cfg.RebalanceInterval == 0 {
		cfg.RebalanceInterval = 10 * time.Second
	}
	return &Service{
		nodeID:            cfg.NodeID,
		bindAddr:          cfg.BindAddr,
		dataDir:           cfg.DataDir,
		fsm:               NewFSM(cfg.ShardCount),
		threshold:         cfg.Threshold,
		rebalanceInterval: cfg.RebalanceInterval,
		stopCh:            make(chan struct{}),
	}
}

// Bootstrap initializes a new single-node Raft cluster for the shard
// manager control plane, matching the teacher's Manager.Bootstrap timeout
// tuning for sub-10s failover.
func (s *Service) Bootstrap() error {
	r, transport, err := s.newRaft()
	if err != nil {
		return err
	}
	s.raft = r

	configuration := raft.Configuration{
		Servers: []raft.Server{{ID: raft.ServerID(s.nodeID), Address: transport.LocalAddr()}},
	}
	if err := s.raft.BootstrapCluster(configuration).Error(); err != nil {
		return fmt.Errorf("shardmanager bootstrap: %w", err)
	}
	return nil
}

// Join starts this node's Raft instance without bootstrapping a new
// cluster; the caller is expected to add it as a voter on the existing
// leader out of band (e.g. via the operator API).
func (s *Service) Join() error {
	r, _, err := s.newRaft()
	if err != nil {
		return err
	}
	s.raft = r
	return nil
}

func (s *Service) newRaft() (*raft.Raft, *raft.NetworkTransport, error) {
	config := raft.DefaultConfig()
	config.LocalID = raft.ServerID(s.nodeID)
	config.HeartbeatTimeout = 500 * time.Millisecond
	config.ElectionTimeout = 500 * time.Millisecond
	config.CommitTimeout = 50 * time.Millisecond
	config.LeaderLeaseTimeout = 250 * time.Millisecond

	addr, err := net.ResolveTCPAddr("tcp", s.bindAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("shardmanager: resolve bind address: %w", err)
	}
	transport, err := raft.NewTCPTransport(s.bindAddr, addr, 3, 10*time.Second, os.Stderr)
	if err != nil {
		return nil, nil, fmt.Errorf("shardmanager: create transport: %w", err)
	}
	snapshotStore, err := raft.NewFileSnapshotStore(s.dataDir, 2, os.Stderr)
	if err != nil {
		return nil, nil, fmt.Errorf("shardmanager: create snapshot store: %w", err)
	}
	logStore, err := raftboltdb.NewBoltStore(filepath.Join(s.dataDir, "raft-log.db"))
	if err != nil {
		return nil, nil, fmt.Errorf("shardmanager: create log store: %w", err)
	}
	stableStore, err := raftboltdb.NewBoltStore(filepath.Join(s.dataDir, "raft-stable.db"))
	if err != nil {
		return nil, nil, fmt.Errorf("shardmanager: create stable store: %w", err)
	}

	r, err := raft.NewRaft(config, s.fsm, logStore, stableStore, snapshotStore, transport)
	if err != nil {
		return nil, nil, fmt.Errorf("shardmanager: create raft: %w", err)
	}
	return r, transport, nil
}

// AddVoter adds a new shard manager peer to the Raft cluster. Leader-only.
func (s *Service) AddVoter(nodeID, address string) error {
	if !s.IsLeader() {
		return fmt.Errorf("shardmanager: not leader, current leader %s", s.raft.Leader())
	}
	return s.raft.AddVoter(raft.ServerID(nodeID), raft.ServerAddress(address), 0, 10*time.Second).Error()
}

// IsLeader reports whether this node is the current Raft leader.
func (s *Service) IsLeader() bool {
	return s.raft != nil && s.raft.State() == raft.Leader
}

func (s *Service) apply(op string, data interface{}) error {
	if !s.IsLeader() {
		return fmt.Errorf("shardmanager: not leader")
	}
	encoded, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("shardmanager: encode command: %w", err)
	}
	cmd := Command{Op: op, Data: encoded}
	raw, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("shardmanager: encode envelope: %w", err)
	}
	future := s.raft.Apply(raw, 5*time.Second)
	if err := future.Error(); err != nil {
		return fmt.Errorf("shardmanager: apply: %w", err)
	}
	if errResp, ok := future.Response().(error); ok && errResp != nil {
		return fmt.Errorf("shardmanager: fsm rejected command: %w", errResp)
	}
	return nil
}

// RegisterPod adds pod to the cluster's pod set, triggering the next
// rebalance cycle to assign it shards.
func (s *Service) RegisterPod(pod types.PodID) error {
	return s.apply(opRegisterPod, registerPodArgs{Pod: pod})
}

// DeregisterPod removes pod from the pod set; its shards become
// unassigned candidates for redistribution.
func (s *Service) DeregisterPod(pod types.PodID) error {
	return s.apply(opDeregisterPod, registerPodArgs{Pod: pod})
}

// Table returns the current authoritative routing table.
func (s *Service) Table() *types.RoutingTable {
	return s.fsm.Table()
}

// Owner returns the pod that owns the shard id is hashed into, or an
// ErrNotFound-wrapping error if that shard is currently unassigned.
func (s *Service) Owner(id types.OwnedWorkerID) (types.PodID, error) {
	table := s.fsm.Table()
	shard := table.HashWorker(id)
	owner, ok := table.Assignments[shard]
	if !ok {
		return "", fmt.Errorf("shard %d unassigned: %w", shard, apierr.ErrNotFound)
	}
	return owner, nil
}

// RebalanceOnce computes and applies one rebalance cycle against the
// current table and pod set. Leader-only; no-op (empty plan) if already
// balanced.
func (s *Service) RebalanceOnce() error {
	if !s.IsLeader() {
		return nil
	}
	table := s.fsm.Table()
	pods := s.fsm.Pods()
	plan := Rebalance(table, pods, s.threshold)
	if len(plan.Moves) == 0 {
		return nil
	}
	log.WithComponent("shardmanager").Info().Int("moves", len(plan.Moves)).Msg("applying rebalance plan")
	for _, move := range plan.Moves {
		log.WithShard(int(move.Shard)).Debug().Str("from", string(move.From)).Str("to", string(move.To)).Msg("reassigning shard")
	}
	return s.apply(opApplyPlan, applyPlanArgs{Moves: plan.Moves})
}

// Start begins the periodic rebalance loop at the configured interval.
func (s *Service) Start() {
	go s.run(s.rebalanceInterval)
}

// Stop stops the periodic rebalance loop and shuts down Raft.
func (s *Service) Stop() error {
	close(s.stopCh)
	if s.raft != nil {
		return s.raft.Shutdown().Error()
	}
	return nil
}

func (s *Service) run(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	logger := log.WithComponent("shardmanager")

	for {
		select {
		case <-ticker.C:
			if err := s.RebalanceOnce(); err != nil {
				logger.Error().Err(err).Msg("rebalance cycle failed")
			}
		case <-s.stopCh:
			return
		}
	}
}
