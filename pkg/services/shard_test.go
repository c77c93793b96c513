package services

import (
	"testing"

	"github.com/cuemby/golem-executor/pkg/apierr"
	"github.com/cuemby/golem-executor/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckWorkerOkWhenLocalPodOwnsShard(t *testing.T) {
	svc := NewCachedShardService("pod-a")
	table := types.NewRoutingTable(4)
	owned := types.OwnedWorkerID{ProjectID: "p1", WorkerID: types.WorkerID{ComponentID: "c1", Name: "w1"}}
	table.Assignments[table.HashWorker(owned)] = "pod-a"
	svc.AcceptRoutingTable(table)

	require.NoError(t, svc.CheckWorker(owned))
}

func TestCheckWorkerRedirectsWhenAnotherPodOwnsShard(t *testing.T) {
	svc := NewCachedShardService("pod-a")
	table := types.NewRoutingTable(4)
	owned := types.OwnedWorkerID{ProjectID: "p1", WorkerID: types.WorkerID{ComponentID: "c1", Name: "w1"}}
	table.Assignments[table.HashWorker(owned)] = "pod-b"
	svc.AcceptRoutingTable(table)

	err := svc.CheckWorker(owned)
	require.Error(t, err)
	redirect, ok := apierr.AsShardRedirect(err)
	require.True(t, ok)
	assert.Equal(t, types.PodID("pod-b"), redirect.Owner)
}

func TestCheckWorkerRedirectsWhenShardUnassigned(t *testing.T) {
	svc := NewCachedShardService("pod-a")
	svc.AcceptRoutingTable(types.NewRoutingTable(4))

	owned := types.OwnedWorkerID{ProjectID: "p1", WorkerID: types.WorkerID{ComponentID: "c1", Name: "w1"}}
	err := svc.CheckWorker(owned)
	require.Error(t, err)
	_, ok := apierr.AsShardRedirect(err)
	assert.True(t, ok)
}
