package services

import (
	"context"
	"testing"
	"time"

	"github.com/cuemby/golem-executor/pkg/apierr"
	"github.com/cuemby/golem-executor/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPromiseCreateCompleteAwait(t *testing.T) {
	svc := NewInMemoryPromiseService()
	owned := types.OwnedWorkerID{ProjectID: "p1", WorkerID: types.WorkerID{ComponentID: "c1", Name: "w1"}}

	token, err := svc.Create(owned, "promise-1")
	require.NoError(t, err)

	go func() {
		time.Sleep(5 * time.Millisecond)
		require.NoError(t, svc.Complete(token, []byte("result")))
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	payload, err := svc.Await(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, []byte("result"), payload)
}

func TestPromiseAwaitTimesOutIfNeverCompleted(t *testing.T) {
	svc := NewInMemoryPromiseService()
	owned := types.OwnedWorkerID{ProjectID: "p1", WorkerID: types.WorkerID{ComponentID: "c1", Name: "w1"}}
	token, err := svc.Create(owned, "promise-1")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	_, err = svc.Await(ctx, token)
	require.Error(t, err)
}

func TestPromiseCompleteUnknownTokenReturnsNotFound(t *testing.T) {
	svc := NewInMemoryPromiseService()
	err := svc.Complete("never-created", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, apierr.ErrNotFound)
}

func TestPromiseCompleteIsIdempotent(t *testing.T) {
	svc := NewInMemoryPromiseService()
	owned := types.OwnedWorkerID{ProjectID: "p1", WorkerID: types.WorkerID{ComponentID: "c1", Name: "w1"}}
	token, err := svc.Create(owned, "promise-1")
	require.NoError(t, err)

	require.NoError(t, svc.Complete(token, []byte("first")))
	require.NoError(t, svc.Complete(token, []byte("second")))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	payload, err := svc.Await(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, []byte("first"), payload, "second Complete call must not overwrite the first payload")
}
