package metrics

import (
	"time"

	"github.com/cuemby/golem-executor/pkg/types"
)

// ActiveWorkerLister reports how many workers a pod currently holds active
// (pkg/worker.ActiveWorkers.Len satisfies this).
type ActiveWorkerLister interface {
	Len() int
}

// ShardTableSource reports the current routing table and leadership state
// (pkg/shardmanager.Service satisfies this).
type ShardTableSource interface {
	Table() *types.RoutingTable
	IsLeader() bool
}

// Collector periodically samples golem's in-process state into the
// package's gauges, mirroring the teacher's Collector (ticker + manager
// polling), generalized from "poll the Raft-backed Manager for cluster
// counts" to "poll the active worker set and shard routing table for
// worker-executor/shard-manager gauges". Either source may be nil when
// a given process only plays one of the two roles.
type Collector struct {
	workers    ActiveWorkerLister
	shardTable ShardTableSource
	interval   time.Duration
	stopCh     chan struct{}
}

// NewCollector constructs a Collector. Pass nil for whichever source this
// process does not have (a worker-executor has no ShardTableSource, a
// shard-manager replica has no ActiveWorkerLister).
func NewCollector(workers ActiveWorkerLister, shardTable ShardTableSource, interval time.Duration) *Collector {
	return &Collector{
		workers:    workers,
		shardTable: shardTable,
		interval:   interval,
		stopCh:     make(chan struct{}),
	}
}

// Start begins the periodic collection loop.
func (c *Collector) Start() {
	ticker := time.NewTicker(c.interval)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	if c.workers != nil {
		ActiveWorkersTotal.Set(float64(c.workers.Len()))
	}
	if c.shardTable != nil {
		c.collectShardMetrics()
	}
}

func (c *Collector) collectShardMetrics() {
	if c.shardTable.IsLeader() {
		ShardManagerIsLeader.Set(1)
	} else {
		ShardManagerIsLeader.Set(0)
	}

	table := c.shardTable.Table()
	if table == nil {
		return
	}

	byPod := table.ShardsByPod()
	for pod, shards := range byPod {
		ShardsAssignedTotal.WithLabelValues(string(pod)).Set(float64(len(shards)))
	}
	ShardsUnassignedTotal.Set(float64(table.ShardCount - len(table.Assignments)))
}
