/*
Package shardmanager implements the cluster-wide shard RoutingTable and
the pure rebalancing function that moves shards between pods as the
fleet changes, replicated via hashicorp/raft.

Grounded on the rebalance algorithm below and on the teacher's
pkg/manager (WarrenFSM's Command{Op, Data} envelope, Raft bootstrap/join
timeout tuning) generalized from cluster-wide node/service/task state to
shard ownership.
*/
package shardmanager
