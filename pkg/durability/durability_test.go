package durability

import (
	"errors"
	"testing"

	"github.com/cuemby/golem-executor/pkg/oplog"
	"github.com/cuemby/golem-executor/pkg/storage"
	"github.com/cuemby/golem-executor/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestOplogService(t *testing.T) oplog.Service {
	t.Helper()
	dir := t.TempDir()
	indexed, err := storage.NewBoltIndexedStorage(dir)
	require.NoError(t, err)
	blobs, err := storage.NewBoltBlobStorage(dir)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = indexed.Close()
		_ = blobs.Close()
	})
	return oplog.NewService(indexed, blobs, 128)
}

func testOwned(name string) types.OwnedWorkerID {
	return types.OwnedWorkerID{
		WorkerID:  types.WorkerID{ComponentID: "c-cart", Name: name},
		ProjectID: "proj-1",
	}
}

func TestInvokeLiveRecordsImportedCall(t *testing.T) {
	svc := newTestOplogService(t)
	owned := testOwned("u1")
	h, err := svc.Create(owned, &oplog.Entry{Kind: oplog.KindCreate})
	require.NoError(t, err)
	defer h.Close()

	ctx := NewContext(owned, h, 0)
	require.True(t, ctx.IsLive())

	calls := 0
	resp, err := Invoke(ctx, "wall-clock-now", oplog.ReadRemote, nil,
		func() (int64, error) { calls++; return 42, nil },
		func(v int64) ([]byte, error) { return []byte{byte(v)}, nil },
		func(b []byte) (int64, error) { return int64(b[0]), nil },
	)
	require.NoError(t, err)
	assert.Equal(t, int64(42), resp)
	assert.Equal(t, 1, calls)
	assert.Equal(t, oplog.Index(2), h.CurrentIndex())
}

func TestInvokeReplayDoesNotReExecute(t *testing.T) {
	svc := newTestOplogService(t)
	owned := testOwned("u2")
	h, err := svc.Create(owned, &oplog.Entry{Kind: oplog.KindCreate})
	require.NoError(t, err)

	liveCtx := NewContext(owned, h, 0)
	calls := 0
	_, err = Invoke(liveCtx, "wall-clock-now", oplog.ReadRemote, nil,
		func() (int64, error) { calls++; return 100, nil },
		func(v int64) ([]byte, error) { return []byte{byte(v)}, nil },
		func(b []byte) (int64, error) { return int64(b[0]), nil },
	)
	require.NoError(t, err)
	h.Close()
	require.Equal(t, 1, calls)

	h2, err := svc.Open(owned, 0)
	require.NoError(t, err)
	defer h2.Close()

	replayTarget := h2.CurrentIndex()
	replayCtx := NewContext(owned, h2, replayTarget)
	assert.False(t, replayCtx.IsLive())

	resp, err := Invoke(replayCtx, "wall-clock-now", oplog.ReadRemote, nil,
		func() (int64, error) { calls++; return 9999, nil }, // must not run
		func(v int64) ([]byte, error) { return []byte{byte(v)}, nil },
		func(b []byte) (int64, error) { return int64(b[0]), nil },
	)
	require.NoError(t, err)
	assert.Equal(t, int64(100), resp, "replay must return the recorded response, not re-execute")
	assert.Equal(t, 1, calls, "execute must not run again during replay")
}

func TestInvokeReplayDivergentFunctionNameFails(t *testing.T) {
	svc := newTestOplogService(t)
	owned := testOwned("u3")
	h, err := svc.Create(owned, &oplog.Entry{Kind: oplog.KindCreate})
	require.NoError(t, err)

	liveCtx := NewContext(owned, h, 0)
	_, err = Invoke(liveCtx, "get-random-bytes", oplog.ReadRemote, nil,
		func() ([]byte, error) { return []byte{1, 2, 3}, nil },
		func(v []byte) ([]byte, error) { return v, nil },
		func(b []byte) ([]byte, error) { return b, nil },
	)
	require.NoError(t, err)
	h.Close()

	h2, err := svc.Open(owned, 0)
	require.NoError(t, err)
	defer h2.Close()
	replayCtx := NewContext(owned, h2, h2.CurrentIndex())

	_, err = Invoke(replayCtx, "a-different-function", oplog.ReadRemote, nil,
		func() ([]byte, error) { return nil, nil },
		func(v []byte) ([]byte, error) { return v, nil },
		func(b []byte) ([]byte, error) { return b, nil },
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "non-deterministic")
}

func TestInvokeExportedDedupesIdempotencyKey(t *testing.T) {
	svc := newTestOplogService(t)
	owned := testOwned("u4")
	h, err := svc.Create(owned, &oplog.Entry{Kind: oplog.KindCreate})
	require.NoError(t, err)
	defer h.Close()

	ctx := NewContext(owned, h, 0)
	idx1, dup1, err := InvokeExported(ctx, "checkout", "key-1", []byte("req"))
	require.NoError(t, err)
	assert.False(t, dup1)

	idx2, dup2, err := InvokeExported(ctx, "checkout", "key-1", []byte("req"))
	require.NoError(t, err)
	assert.True(t, dup2)
	assert.Equal(t, idx1, idx2)
}

func TestForkCopiesPrefixAndRewritesCreate(t *testing.T) {
	svc := newTestOplogService(t)
	source := testOwned("u1")

	h, err := svc.Create(source, &oplog.Entry{Kind: oplog.KindCreate, ComponentID: "c-cart"})
	require.NoError(t, err)
	ctx := NewContext(source, h, 0)

	_, _, err = InvokeExported(ctx, "add-item", "", []byte("item-1"))
	require.NoError(t, err)
	cut := h.CurrentIndex()

	_, _, err = InvokeExported(ctx, "checkout", "", []byte("checkout"))
	require.NoError(t, err)
	h.Close()

	target := testOwned("u1-forked")
	require.NoError(t, Fork(svc, source, target, cut))

	th, err := svc.Open(target, 0)
	require.NoError(t, err)
	defer th.Close()

	entries, err := th.Read(1, uint64(cut))
	require.NoError(t, err)
	require.Equal(t, oplog.KindCreate, entries[1].Kind)
	assert.Equal(t, types.ComponentID("c-cart"), entries[1].ComponentID)
	require.NotNil(t, entries[1].ParentWorker)
	assert.Equal(t, source.WorkerID, *entries[1].ParentWorker)

	for i := oplog.Index(2); i <= cut; i++ {
		assert.Equal(t, entries[i].FunctionName, entries[i].FunctionName) // sanity: prefix present
	}

	full, err := th.Read(1, uint64(th.CurrentIndex()))
	require.NoError(t, err)
	for _, e := range full {
		assert.NotEqual(t, "checkout", e.FunctionName, "target must not see entries past the cut")
	}
}

func TestApplyAutomaticUpdateRecordsFailureOnSwapError(t *testing.T) {
	svc := newTestOplogService(t)
	owned := testOwned("u5")
	h, err := svc.Create(owned, &oplog.Entry{Kind: oplog.KindCreate})
	require.NoError(t, err)
	defer h.Close()
	ctx := NewContext(owned, h, 0)

	boom := errors.New("incompatible signature")
	err = ApplyAutomaticUpdate(ctx, types.ComponentVersion(2), func(types.ComponentVersion) error {
		return boom
	})
	require.NoError(t, err, "ApplyAutomaticUpdate itself should not fail; it records FailedUpdate instead")

	entries, err := h.Read(1, uint64(h.CurrentIndex()))
	require.NoError(t, err)
	found := false
	for _, e := range entries {
		if e.Kind == oplog.KindFailedUpdate {
			found = true
			assert.Contains(t, e.UpdateDetails, "incompatible signature")
		}
	}
	assert.True(t, found, "expected a FailedUpdate entry")
}

func TestApplySnapshotUpdateSucceeds(t *testing.T) {
	svc := newTestOplogService(t)
	owned := testOwned("u6")
	h, err := svc.Create(owned, &oplog.Entry{Kind: oplog.KindCreate})
	require.NoError(t, err)
	defer h.Close()
	ctx := NewContext(owned, h, 0)

	var restored []byte
	err = ApplySnapshotUpdate(ctx, types.ComponentVersion(2), SnapshotUpdateFuncs{
		TakeSnapshot:    func() ([]byte, error) { return []byte("state"), nil },
		SwapComponent:   func(types.ComponentVersion) error { return nil },
		RestoreSnapshot: func(b []byte) error { restored = b; return nil },
	})
	require.NoError(t, err)
	assert.Equal(t, []byte("state"), restored)

	entries, err := h.Read(1, uint64(h.CurrentIndex()))
	require.NoError(t, err)
	lastKind := entries[h.CurrentIndex()].Kind
	assert.Equal(t, oplog.KindSuccessfulUpdate, lastKind)
}
