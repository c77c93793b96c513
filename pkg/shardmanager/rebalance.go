// Package shardmanager implements the cluster-wide RoutingTable and the
// pure rebalancing function that decides which shards move when the pod
// fleet changes, replicated across the control plane with hashicorp/raft.
package shardmanager

import (
	"math"
	"sort"

	"github.com/cuemby/golem-executor/pkg/types"
)

// Move is one shard changing ownership: unassigned from From (empty string
// if the shard had no prior owner) and assigned to To.
type Move struct {
	Shard types.ShardID
	From  types.PodID // "" if previously unassigned
	To    types.PodID
}

// Plan is the output of Rebalance: the moves required to bring a routing
// table into band around N/pod_count.
type Plan struct {
	Moves []Move
}

// Rebalance computes the moves needed to balance table across pods within
// threshold t:
//  1. optimal = N / pod_count, lower = floor(optimal*(1-t)); no upper bound
//     is computed or enforced, so a pod that already holds more than
//     optimal keeps its extra shards unless an under-lower pod takes them
//  2. unassigned shards are distributed: first fill empty pods round-robin up to
//     optimal, then distribute remaining round-robin across all pods
//  3. for each pod under lower, repeatedly move one shard from the largest
//     over-lower pod until it reaches the band or no source remains over the band
//
// Pods present in table.Assignments but absent from pods lose their entire
// assignment (unassignment-only moves with To == ""). With no pods at all the
// plan is empty and the table is left as it is.
func Rebalance(table *types.RoutingTable, pods []types.PodID, t float64) Plan {
	if len(pods) == 0 {
		return Plan{}
	}

	podSet := make(map[types.PodID]bool, len(pods))
	for _, p := range pods {
		podSet[p] = true
	}

	byPod := make(map[types.PodID][]types.ShardID)
	for _, p := range pods {
		byPod[p] = nil
	}
	var unassigned []types.ShardID
	var plan Plan

	for shard := types.ShardID(0); shard < types.ShardID(table.ShardCount); shard++ {
		owner, ok := table.Assignments[shard]
		if !ok {
			unassigned = append(unassigned, shard)
			continue
		}
		if !podSet[owner] {
			plan.Moves = append(plan.Moves, Move{Shard: shard, From: owner, To: ""})
			unassigned = append(unassigned, shard)
			continue
		}
		byPod[owner] = append(byPod[owner], shard)
	}

	if len(pods) == 1 {
		only := pods[0]
		for _, shard := range unassigned {
			plan.Moves = append(plan.Moves, Move{Shard: shard, To: only})
		}
		return plan
	}

	optimal := float64(table.ShardCount) / float64(len(pods))
	lower := int(math.Floor(optimal * (1 - t)))

	distributeUnassigned(pods, byPod, unassigned, int(optimal), &plan)

	rebalanceUnderLower(pods, byPod, lower, &plan)

	return plan
}

// distributeUnassigned fills empty pods round-robin up to target, then
// spreads any remainder round-robin across all pods.
func distributeUnassigned(pods []types.PodID, byPod map[types.PodID][]types.ShardID, unassigned []types.ShardID, target int, plan *Plan) {
	i := 0

	sortedPods := append([]types.PodID(nil), pods...)
	sort.Slice(sortedPods, func(a, b int) bool { return sortedPods[a] < sortedPods[b] })

	for _, pod := range sortedPods {
		for len(byPod[pod]) < target && i < len(unassigned) {
			assign(pod, unassigned[i], byPod, plan)
			i++
		}
	}

	for i < len(unassigned) {
		pod := sortedPods[i%len(sortedPods)]
		assign(pod, unassigned[i], byPod, plan)
		i++
	}
}

func assign(pod types.PodID, shard types.ShardID, byPod map[types.PodID][]types.ShardID, plan *Plan) {
	byPod[pod] = append(byPod[pod], shard)
	plan.Moves = append(plan.Moves, Move{Shard: shard, To: pod})
}

// rebalanceUnderLower moves shards one at a time from the largest
// over-lower pod into each under-lower pod until the band is satisfied or
// no donor remains.
func rebalanceUnderLower(pods []types.PodID, byPod map[types.PodID][]types.ShardID, lower int, plan *Plan) {
	sortedPods := append([]types.PodID(nil), pods...)
	sort.Slice(sortedPods, func(a, b int) bool { return sortedPods[a] < sortedPods[b] })

	for _, pod := range sortedPods {
		for len(byPod[pod]) < lower {
			donor, ok := largestOverLower(sortedPods, byPod, lower)
			if !ok {
				break
			}
			shards := byPod[donor]
			shard := shards[len(shards)-1]
			byPod[donor] = shards[:len(shards)-1]
			byPod[pod] = append(byPod[pod], shard)
			plan.Moves = append(plan.Moves, Move{Shard: shard, From: donor, To: pod})
		}
	}
}

func largestOverLower(pods []types.PodID, byPod map[types.PodID][]types.ShardID, lower int) (types.PodID, bool) {
	var best types.PodID
	bestLen := lower
	found := false
	for _, p := range pods {
		if len(byPod[p]) > bestLen {
			best = p
			bestLen = len(byPod[p])
			found = true
		}
	}
	return best, found
}

func removeAllPlan(table *types.RoutingTable) Plan {
	var plan Plan
	for shard, owner := range table.Assignments {
		plan.Moves = append(plan.Moves, Move{Shard: shard, From: owner, To: ""})
	}
	return plan
}

// Apply returns a new RoutingTable with plan's moves applied. Unassignment
// moves (To == "") delete the entry from the table.
func Apply(table *types.RoutingTable, plan Plan) *types.RoutingTable {
	out := table.Clone()
	for _, m := range plan.Moves {
		if m.To == "" {
			delete(out.Assignments, m.Shard)
			continue
		}
		out.Assignments[m.Shard] = m.To
	}
	return out
}
