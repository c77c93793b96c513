package shardmanager

import (
	"testing"

	"github.com/cuemby/golem-executor/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tableWith(shardCount int, assignments map[types.ShardID]types.PodID) *types.RoutingTable {
	t := types.NewRoutingTable(shardCount)
	for shard, pod := range assignments {
		t.Assignments[shard] = pod
	}
	return t
}

func TestRebalanceEmptyPlanWhenZeroPods(t *testing.T) {
	table := tableWith(9, map[types.ShardID]types.PodID{0: "p0", 1: "p0"})
	plan := Rebalance(table, nil, 0)
	// with no pods to balance onto, no move is planned
	assert.Empty(t, plan.Moves)
}

func TestRebalanceSinglePodGetsAssignmentsOnly(t *testing.T) {
	table := types.NewRoutingTable(4)
	plan := Rebalance(table, []types.PodID{"p0"}, 0)
	assert.Len(t, plan.Moves, 4)
	for _, m := range plan.Moves {
		assert.Equal(t, types.PodID(""), m.From)
		assert.Equal(t, types.PodID("p0"), m.To)
	}
}

func TestRebalanceTwoToThreePodsNineShards(t *testing.T) {
	initial := tableWith(9, map[types.ShardID]types.PodID{
		0: "p0", 1: "p0", 2: "p0", 3: "p0", 4: "p0",
		5: "p1", 6: "p1", 7: "p1", 8: "p1",
	})

	plan := Rebalance(initial, []types.PodID{"p0", "p1", "p2"}, 0)
	balanced := Apply(initial, plan)

	byPod := balanced.ShardsByPod()
	assert.Len(t, byPod["p0"], 3)
	assert.Len(t, byPod["p1"], 3)
	assert.Len(t, byPod["p2"], 3)

	again := Rebalance(balanced, []types.PodID{"p0", "p1", "p2"}, 0)
	assert.Empty(t, again.Moves, "rebalancing an already-balanced table must be a no-op")
}

func TestRebalancePodRemovalUnassignsItsShards(t *testing.T) {
	initial := tableWith(6, map[types.ShardID]types.PodID{
		0: "p0", 1: "p0", 2: "p0",
		3: "p1", 4: "p1", 5: "p1",
	})

	plan := Rebalance(initial, []types.PodID{"p0"}, 0)
	result := Apply(initial, plan)
	byPod := result.ShardsByPod()

	require.Len(t, byPod["p0"], 6)
	assert.NotContains(t, byPod, types.PodID("p1"))
}
