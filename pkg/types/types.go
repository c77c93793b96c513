// Package types holds the domain model shared by every worker-executor
// package: component and worker identity, the shard routing table, and the
// cached worker status record. Nothing in this package knows how to persist
// or replay anything; it is the vocabulary the other packages share.
package types

import (
	"fmt"
	"time"
)

// ComponentID identifies an immutable, versioned WASM component.
type ComponentID string

// ComponentVersion is the monotonically increasing revision of a component.
type ComponentVersion uint64

// WorkerID identifies a live instance of a component.
type WorkerID struct {
	ComponentID ComponentID
	Name        string
}

func (w WorkerID) String() string {
	return fmt.Sprintf("%s/%s", w.ComponentID, w.Name)
}

// OwnedWorkerID pairs a WorkerID with the project/environment that owns it,
// the unit access isolation is checked against.
type OwnedWorkerID struct {
	WorkerID  WorkerID
	ProjectID string
}

func (o OwnedWorkerID) String() string {
	return fmt.Sprintf("%s:%s", o.ProjectID, o.WorkerID)
}

// ComponentDurability controls whether a worker's effects are oplogged.
type ComponentDurability string

const (
	DurabilityDurable  ComponentDurability = "durable"
	DurabilityEphemeral ComponentDurability = "ephemeral"
)

// Component is an immutable, versioned WASM component definition.
type Component struct {
	ID              ComponentID
	Version         ComponentVersion
	Durability      ComponentDurability
	Exports         []string
	MemoryPages     uint32 // declared linear-memory requirement, in 64KiB pages
	InitialEnv      map[string]string
	InitialFiles    []string
	DynamicLinks    []string
	CreatedAt       time.Time
}

// ShardID is one bucket of the fixed N-shard hash ring.
type ShardID uint32

// PodID identifies one executor process.
type PodID string

// RoutingTable is the authoritative, copy-on-write shard → pod assignment.
// Readers snapshot a *RoutingTable via an atomic pointer; writers always
// build and install a new one rather than mutating in place.
type RoutingTable struct {
	ShardCount  int
	Assignments map[ShardID]PodID
}

// NewRoutingTable builds an empty table for the given shard count.
func NewRoutingTable(shardCount int) *RoutingTable {
	return &RoutingTable{
		ShardCount:  shardCount,
		Assignments: make(map[ShardID]PodID, shardCount),
	}
}

// Clone returns a deep copy suitable for copy-on-write updates.
func (rt *RoutingTable) Clone() *RoutingTable {
	out := &RoutingTable{
		ShardCount:  rt.ShardCount,
		Assignments: make(map[ShardID]PodID, len(rt.Assignments)),
	}
	for k, v := range rt.Assignments {
		out.Assignments[k] = v
	}
	return out
}

// ShardsByPod groups the table by owner, for rebalancing and status reporting.
func (rt *RoutingTable) ShardsByPod() map[PodID][]ShardID {
	out := make(map[PodID][]ShardID)
	for shard, pod := range rt.Assignments {
		out[pod] = append(out[pod], shard)
	}
	return out
}

// HashWorker maps a worker id into [0, ShardCount) using FNV-1a over the
// owned worker id's string form, giving deterministic, restart-stable
// placement on the fixed-size hash ring.
func (rt *RoutingTable) HashWorker(id OwnedWorkerID) ShardID {
	return ShardID(fnv1a(id.String()) % uint32(rt.ShardCount))
}

func fnv1a(s string) uint32 {
	const offset32 = 2166136261
	const prime32 = 16777619
	h := uint32(offset32)
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= prime32
	}
	return h
}

// WorkerLifecycleStatus is the cached, rebuildable status recorded in
// WorkerStatusRecord. Unlike ExecutionStatus (in-memory only, see package
// worker), this value is derivable by replaying the oplog from scratch.
type WorkerLifecycleStatus string

const (
	StatusIdle      WorkerLifecycleStatus = "idle"
	StatusRunning   WorkerLifecycleStatus = "running"
	StatusSuspended WorkerLifecycleStatus = "suspended"
	StatusInterrupted WorkerLifecycleStatus = "interrupted"
	StatusExited    WorkerLifecycleStatus = "exited"
	StatusFailed    WorkerLifecycleStatus = "failed"
	StatusRetrying  WorkerLifecycleStatus = "retrying"
)

// RetryPolicy controls automatic rescheduling after a worker transitions to
// Failed. Carried forward from the original implementation's ChangeRetryPolicy
// oplog entry (dropped by the distilled spec but present upstream).
type RetryPolicy struct {
	MaxAttempts int
	MinDelay    time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
}

// DefaultRetryPolicy mirrors the upstream default: 3 attempts, exponential
// backoff from 1s to 60s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		MinDelay:    time.Second,
		MaxDelay:    60 * time.Second,
		Multiplier:  2.0,
	}
}

// WorkerStatusRecord is the derived, cached summary of a worker, rebuildable
// from its oplog and persisted opportunistically so that get_metadata doesn't
// require a full replay.
type WorkerStatusRecord struct {
	WorkerID           OwnedWorkerID
	ComponentVersion   ComponentVersion
	Status             WorkerLifecycleStatus
	LastError          string
	RetryCount         int
	RetryPolicy        RetryPolicy
	PendingInvocations int
	PendingUpdate      *PendingUpdateInfo
	OwnedResources     []string
	TotalMemoryPages   uint32
	ActivePlugins      []string
	LastOplogIndex     uint64
	UpdatedAt          time.Time
}

// UpdateMode selects the component-update strategy.
type UpdateMode string

const (
	UpdateModeAutomatic UpdateMode = "automatic"
	UpdateModeSnapshot  UpdateMode = "snapshot"
)

// PendingUpdateInfo mirrors an in-flight PendingUpdate oplog entry.
type PendingUpdateInfo struct {
	TargetVersion ComponentVersion
	Mode          UpdateMode
}
