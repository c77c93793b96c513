package api

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/cuemby/golem-executor/pkg/apierr"
	"github.com/cuemby/golem-executor/pkg/events"
	"github.com/cuemby/golem-executor/pkg/oplog"
	"github.com/cuemby/golem-executor/pkg/services"
	"github.com/cuemby/golem-executor/pkg/storage"
	"github.com/cuemby/golem-executor/pkg/types"
	"github.com/cuemby/golem-executor/pkg/worker"
	"github.com/cuemby/golem-executor/pkg/workerproxy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const testPod = types.PodID("pod-1")

type echoInstance struct{}

func (echoInstance) Invoke(functionName string, input []byte) ([]byte, int64, error) {
	return append([]byte(functionName+":"), input...), 10, nil
}
func (echoInstance) Close() error { return nil }

type localResolver struct{ pod types.PodID }

func (r localResolver) Owner(types.OwnedWorkerID) (types.PodID, error) { return r.pod, nil }

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

func newTestShardService(t *testing.T) services.ShardService {
	t.Helper()
	svc := services.NewCachedShardService(testPod)
	table := types.NewRoutingTable(1)
	table.Assignments[0] = testPod
	svc.AcceptRoutingTable(table)
	return svc
}

func newTestComponentService(t *testing.T) services.ComponentService {
	t.Helper()
	dir := t.TempDir()
	blobs, err := storage.NewBoltBlobStorage(dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = blobs.Close() })
	svc, err := services.NewBlobComponentService(blobs)
	require.NoError(t, err)
	require.NoError(t, svc.Put(&types.Component{ID: "c-cart", Version: 1, Durability: types.DurabilityDurable}))
	return svc
}

func newTestExecutor(t *testing.T) *Executor {
	t.Helper()
	oplogSvc := newTestOplogService(t)
	broker := events.NewBroker()
	broker.Start()
	t.Cleanup(broker.Stop)

	factory := func(owned types.OwnedWorkerID, version types.ComponentVersion) (worker.Instance, error) {
		return echoInstance{}, nil
	}
	workers := worker.NewActiveWorkers(oplogSvc, broker, factory, 10)
	proxy := workerproxy.NewProxy(testPod, localResolver{pod: testPod}, workers, oplogSvc, nil, nil)

	return NewExecutor(newTestComponentService(t), newTestShardService(t), workers, proxy, oplogSvc)
}

func testOwned(name string) types.OwnedWorkerID {
	return types.OwnedWorkerID{WorkerID: types.WorkerID{ComponentID: "c-cart", Name: name}, ProjectID: "p1"}
}

func TestCreateWorkerResolvesLatestVersion(t *testing.T) {
	e := newTestExecutor(t)
	resp, err := e.CreateWorker(&CreateWorkerRequest{ProjectID: "p1", WorkerName: "u1", ComponentID: "c-cart"})
	require.NoError(t, err)
	assert.Equal(t, "c-cart/u1", resp.WorkerID)
}

func TestInvokeAndAwaitRunsAgainstNewlyCreatedWorker(t *testing.T) {
	e := newTestExecutor(t)
	_, err := e.CreateWorker(&CreateWorkerRequest{ProjectID: "p1", WorkerName: "u1", ComponentID: "c-cart"})
	require.NoError(t, err)

	resp, err := e.InvokeAndAwait(context.Background(), &InvokeAndAwaitRequest{
		Owned:        testOwned("u1"),
		FunctionName: "add-item",
		Input:        []byte("G1001"),
	})
	require.NoError(t, err)
	assert.Equal(t, "add-item:G1001", string(resp.Output))
}

func TestInvokeWithoutCreateWorkerFirstFails(t *testing.T) {
	e := newTestExecutor(t)
	_, err := e.Invoke(&InvokeRequest{Owned: testOwned("ghost"), FunctionName: "noop"})
	assert.ErrorIs(t, err, apierr.ErrNotFound)
}

func TestGetMetadataFailsForNeverCreatedWorker(t *testing.T) {
	e := newTestExecutor(t)
	_, err := e.GetMetadata(&GetMetadataRequest{Owned: testOwned("u2")})
	assert.ErrorIs(t, err, apierr.ErrNotFound)
}

// TestGetMetadataReattachesEvictedWorker simulates what a restart leaves
// behind: the worker's oplog is on disk but the active set holding it is
// gone. GetMetadata must reattach from the oplog rather than treating it as
// never-created.
func TestGetMetadataReattachesEvictedWorker(t *testing.T) {
	e := newTestExecutor(t)
	_, err := e.CreateWorker(&CreateWorkerRequest{ProjectID: "p1", WorkerName: "u2", ComponentID: "c-cart"})
	require.NoError(t, err)

	e.workers.Evict(testOwned("u2").WorkerID)
	require.Equal(t, 0, e.workers.Len())

	resp, err := e.GetMetadata(&GetMetadataRequest{Owned: testOwned("u2")})
	require.NoError(t, err)
	require.NotNil(t, resp.Status)
	assert.Equal(t, types.ComponentVersion(1), resp.Status.ComponentVersion)
}

// TestInvokeReattachesWorkerAfterRestart covers the scenario a fresh
// ActiveWorkers over the same oplog service stands in for: create a worker,
// drop it from the in-memory set the way a pod restart would, then invoke
// it again and expect it to come back rather than fail as not-active.
func TestInvokeReattachesWorkerAfterRestart(t *testing.T) {
	e := newTestExecutor(t)
	_, err := e.CreateWorker(&CreateWorkerRequest{ProjectID: "p1", WorkerName: "u7", ComponentID: "c-cart"})
	require.NoError(t, err)

	e.workers.Evict(testOwned("u7").WorkerID)

	resp, err := e.InvokeAndAwait(context.Background(), &InvokeAndAwaitRequest{
		Owned:        testOwned("u7"),
		FunctionName: "add-item",
		Input:        []byte("G1002"),
	})
	require.NoError(t, err)
	assert.Equal(t, "add-item:G1002", string(resp.Output))

	_, err = e.Invoke(&InvokeRequest{Owned: testOwned("u7"), FunctionName: "add-item"})
	require.NoError(t, err)
}

func TestInterruptThenResumeRequiresForce(t *testing.T) {
	e := newTestExecutor(t)
	_, err := e.CreateWorker(&CreateWorkerRequest{ProjectID: "p1", WorkerName: "u3", ComponentID: "c-cart"})
	require.NoError(t, err)

	_, err = e.Interrupt(&InterruptRequest{Owned: testOwned("u3")})
	require.NoError(t, err)

	_, err = e.Resume(&ResumeRequest{Owned: testOwned("u3"), Force: false})
	assert.ErrorIs(t, err, apierr.ErrWorkerInterrupted)

	_, err = e.Resume(&ResumeRequest{Owned: testOwned("u3"), Force: true})
	assert.NoError(t, err)
}

func TestDeleteDropsOplog(t *testing.T) {
	e := newTestExecutor(t)
	_, err := e.CreateWorker(&CreateWorkerRequest{ProjectID: "p1", WorkerName: "u4", ComponentID: "c-cart"})
	require.NoError(t, err)
	_, err = e.InvokeAndAwait(context.Background(), &InvokeAndAwaitRequest{
		Owned: testOwned("u4"), FunctionName: "add-item", Input: []byte("x"),
	})
	require.NoError(t, err)

	_, err = e.Delete(&DeleteRequest{Owned: testOwned("u4")})
	require.NoError(t, err)

	// Dropping every entry removes the stream, so the oplog is gone.
	_, err = e.GetOplog(&GetOplogRequest{Owned: testOwned("u4"), Count: 10})
	require.Error(t, err)
	assert.ErrorIs(t, err, apierr.ErrNotFound)
}

func TestForkCopiesOplogPrefix(t *testing.T) {
	e := newTestExecutor(t)
	_, err := e.CreateWorker(&CreateWorkerRequest{ProjectID: "p1", WorkerName: "src", ComponentID: "c-cart"})
	require.NoError(t, err)
	_, err = e.InvokeAndAwait(context.Background(), &InvokeAndAwaitRequest{
		Owned: testOwned("src"), FunctionName: "add-item", Input: []byte("x"),
	})
	require.NoError(t, err)

	_, err = e.Fork(context.Background(), &ForkRequest{Source: testOwned("src"), Target: testOwned("dst"), Cut: 1})
	require.NoError(t, err)

	got, err := e.GetOplog(&GetOplogRequest{Owned: testOwned("dst"), Count: 10})
	require.NoError(t, err)
	assert.NotEmpty(t, got.Entries)
}

func TestUpdateRecordsPendingUpdateEntry(t *testing.T) {
	e := newTestExecutor(t)
	_, err := e.CreateWorker(&CreateWorkerRequest{ProjectID: "p1", WorkerName: "u5", ComponentID: "c-cart"})
	require.NoError(t, err)

	resp, err := e.Update(&UpdateRequest{Owned: testOwned("u5"), TargetVersion: 2, Mode: types.UpdateModeAutomatic})
	require.NoError(t, err)
	assert.NotZero(t, resp.OplogIndex)
}

func TestSearchOplogFiltersByFunctionName(t *testing.T) {
	e := newTestExecutor(t)
	_, err := e.CreateWorker(&CreateWorkerRequest{ProjectID: "p1", WorkerName: "u6", ComponentID: "c-cart"})
	require.NoError(t, err)
	_, err = e.InvokeAndAwait(context.Background(), &InvokeAndAwaitRequest{
		Owned: testOwned("u6"), FunctionName: "add-item", Input: []byte("x"),
	})
	require.NoError(t, err)

	resp, err := e.SearchOplog(&SearchOplogRequest{Owned: testOwned("u6"), Query: "add-item"})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Entries)

	resp, err = e.SearchOplog(&SearchOplogRequest{Owned: testOwned("u6"), Query: "no-such-function"})
	require.NoError(t, err)
	assert.Empty(t, resp.Entries)
}

func TestServerRoundTripsCreateWorkerAndInvokeAndAwait(t *testing.T) {
	e := newTestExecutor(t)
	srv := NewServer(e, nil)

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = srv.grpc.Serve(lis) }()
	defer srv.Stop()

	conn, err := grpc.NewClient(lis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()
	client := NewClient(conn)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	createResp, err := client.CreateWorker(ctx, &CreateWorkerRequest{ProjectID: "p1", WorkerName: "rt", ComponentID: "c-cart"})
	require.NoError(t, err)
	assert.Equal(t, "c-cart/rt", createResp.WorkerID)

	invokeResp, err := client.InvokeAndAwait(ctx, &InvokeAndAwaitRequest{
		Owned: testOwned("rt"), FunctionName: "add-item", Input: []byte("y"),
	})
	require.NoError(t, err)
	assert.Equal(t, "add-item:y", string(invokeResp.Output))
}

func TestIsReadOnlyMethod(t *testing.T) {
	assert.True(t, isReadOnlyMethod("/golem.api.Executor/GetMetadata"))
	assert.True(t, isReadOnlyMethod("/golem.api.Executor/GetOplog"))
	assert.True(t, isReadOnlyMethod("/golem.api.Executor/SearchOplog"))
	assert.False(t, isReadOnlyMethod("/golem.api.Executor/CreateWorker"))
	assert.False(t, isReadOnlyMethod("/golem.api.Executor/Delete"))
}
