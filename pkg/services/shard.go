package services

import (
	"fmt"
	"sync/atomic"

	"github.com/cuemby/golem-executor/pkg/apierr"
	"github.com/cuemby/golem-executor/pkg/types"
)

// ShardService answers "does this pod own the shard id hashes to", and
// accepts pushed routing-table updates from the shard manager.
type ShardService interface {
	// CheckWorker returns nil if this pod owns id's shard, or a
	// *apierr.ShardRedirectError naming the owning pod otherwise.
	CheckWorker(id types.OwnedWorkerID) error
	AcceptRoutingTable(table *types.RoutingTable)
}

// CachedShardService holds a copy-on-write snapshot of the cluster's
// RoutingTable, pushed by the shard manager rather than queried on every
// call, behind an atomic.Pointer[RoutingTable] swap.
type CachedShardService struct {
	localPod types.PodID
	table    atomic.Pointer[types.RoutingTable]
}

// NewCachedShardService constructs a ShardService for localPod, with an
// empty initial routing table until AcceptRoutingTable is called.
func NewCachedShardService(localPod types.PodID) *CachedShardService {
	s := &CachedShardService{localPod: localPod}
	s.table.Store(types.NewRoutingTable(0))
	return s
}

func (s *CachedShardService) AcceptRoutingTable(table *types.RoutingTable) {
	s.table.Store(table)
}

func (s *CachedShardService) CheckWorker(id types.OwnedWorkerID) error {
	table := s.table.Load()
	shard := table.HashWorker(id)
	owner, ok := table.Assignments[shard]
	if !ok {
		return &apierr.ShardRedirectError{Shard: shard, Owner: ""}
	}
	if owner != s.localPod {
		return &apierr.ShardRedirectError{Shard: shard, Owner: owner}
	}
	return nil
}

// Owner satisfies workerproxy.ShardResolver off the same cached table
// CheckWorker consults, so a worker-executor pod needs only one
// routing-table cache for both its local-ownership check and its
// cross-pod proxy's shard lookups.
func (s *CachedShardService) Owner(id types.OwnedWorkerID) (types.PodID, error) {
	table := s.table.Load()
	shard := table.HashWorker(id)
	owner, ok := table.Assignments[shard]
	if !ok {
		return "", fmt.Errorf("shard %d unassigned: %w", shard, apierr.ErrNotFound)
	}
	return owner, nil
}
