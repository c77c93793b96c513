package shardmanager

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/cuemby/golem-executor/pkg/types"
	"github.com/hashicorp/raft"
)

// Command is a Raft log entry: an operation name plus its JSON-encoded
// arguments. Generalized from the teacher's WarrenFSM Command{Op, Data},
// which applies the same Op/Data envelope to node/service/task mutations;
// here it carries shard-table mutations instead.
type Command struct {
	Op   string          `json:"op"`
	Data json.RawMessage `json:"data"`
}

const (
	opRegisterPod   = "register_pod"
	opDeregisterPod = "deregister_pod"
	opApplyPlan     = "apply_plan"
)

// FSM is the Raft finite state machine backing the authoritative
// RoutingTable: pod registration and rebalance plans are the only mutations,
// applied one at a time under mu.
type FSM struct {
	mu     sync.RWMutex
	table  *types.RoutingTable
	pods   map[types.PodID]bool
}

// NewFSM creates an FSM for a ring of shardCount shards, with no pods yet
// registered.
func NewFSM(shardCount int) *FSM {
	return &FSM{
		table: types.NewRoutingTable(shardCount),
		pods:  make(map[types.PodID]bool),
	}
}

type registerPodArgs struct {
	Pod types.PodID `json:"pod"`
}

type applyPlanArgs struct {
	Moves []Move `json:"moves"`
}

// Apply applies one committed Raft log entry to the FSM.
func (f *FSM) Apply(entry *raft.Log) interface{} {
	var cmd Command
	if err := json.Unmarshal(entry.Data, &cmd); err != nil {
		return fmt.Errorf("shardmanager fsm: unmarshal command: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	switch cmd.Op {
	case opRegisterPod:
		var args registerPodArgs
		if err := json.Unmarshal(cmd.Data, &args); err != nil {
			return err
		}
		f.pods[args.Pod] = true
		return nil

	case opDeregisterPod:
		var args registerPodArgs
		if err := json.Unmarshal(cmd.Data, &args); err != nil {
			return err
		}
		delete(f.pods, args.Pod)
		return nil

	case opApplyPlan:
		var args applyPlanArgs
		if err := json.Unmarshal(cmd.Data, &args); err != nil {
			return err
		}
		f.table = Apply(f.table, Plan{Moves: args.Moves})
		return nil

	default:
		return fmt.Errorf("shardmanager fsm: unknown op %q", cmd.Op)
	}
}

// Snapshot captures the current table and pod set.
func (f *FSM) Snapshot() (raft.FSMSnapshot, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	pods := make([]types.PodID, 0, len(f.pods))
	for p := range f.pods {
		pods = append(pods, p)
	}

	return &snapshot{
		Table: f.table.Clone(),
		Pods:  pods,
	}, nil
}

// Restore replaces the FSM's state with a previously captured snapshot.
func (f *FSM) Restore(rc io.ReadCloser) error {
	defer rc.Close()

	var snap snapshot
	if err := json.NewDecoder(rc).Decode(&snap); err != nil {
		return fmt.Errorf("shardmanager fsm: decode snapshot: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.table = snap.Table
	f.pods = make(map[types.PodID]bool, len(snap.Pods))
	for _, p := range snap.Pods {
		f.pods[p] = true
	}
	return nil
}

// Table returns a snapshot of the current routing table.
func (f *FSM) Table() *types.RoutingTable {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.table.Clone()
}

// Pods returns the currently registered pods, in a stable order.
func (f *FSM) Pods() []types.PodID {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]types.PodID, 0, len(f.pods))
	for p := range f.pods {
		out = append(out, p)
	}
	sort.Slice(out, func(a, b int) bool { return out[a] < out[b] })
	return out
}

type snapshot struct {
	Table *types.RoutingTable
	Pods  []types.PodID
}

func (s *snapshot) Persist(sink raft.SnapshotSink) error {
	err := func() error {
		if err := json.NewEncoder(sink).Encode(s); err != nil {
			return err
		}
		return sink.Close()
	}()
	if err != nil {
		sink.Cancel()
	}
	return err
}

func (s *snapshot) Release() {}
