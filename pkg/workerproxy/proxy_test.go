package workerproxy

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/cuemby/golem-executor/pkg/oplog"
	"github.com/cuemby/golem-executor/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"
)

type fakeResolver struct {
	owner types.PodID
	err   error
}

func (f *fakeResolver) Owner(types.OwnedWorkerID) (types.PodID, error) {
	return f.owner, f.err
}

type fakeLocal struct {
	output []byte
	idx    oplog.Index
	err    error

	forkCalls int
}

func (f *fakeLocal) InvokeLocal(ctx context.Context, owned types.OwnedWorkerID, functionName, idempotencyKey string, input []byte) ([]byte, oplog.Index, error) {
	return f.output, f.idx, f.err
}

func testOwned(name string) types.OwnedWorkerID {
	return types.OwnedWorkerID{
		ProjectID: "proj-1",
		WorkerID:  types.WorkerID{ComponentID: types.ComponentID("comp-1"), Name: name},
	}
}

func TestInvokeDispatchesLocallyWhenPodOwnsShard(t *testing.T) {
	local := &fakeLocal{output: []byte("ok"), idx: 7}
	p := NewProxy("pod-a", &fakeResolver{owner: "pod-a"}, local, nil, nil, nil)

	output, idx, err := p.Invoke(context.Background(), testOwned("w1"), "run", "key-1", []byte("in"))
	require.NoError(t, err)
	assert.Equal(t, []byte("ok"), output)
	assert.Equal(t, oplog.Index(7), idx)
}

func TestInvokeReturnsResolveError(t *testing.T) {
	p := NewProxy("pod-a", &fakeResolver{err: errors.New("boom")}, &fakeLocal{}, nil, nil, nil)
	_, _, err := p.Invoke(context.Background(), testOwned("w1"), "run", "key-1", nil)
	require.Error(t, err)
}

// remoteHarness wires a Server to an in-memory bufconn listener so Proxy's
// remote path can be exercised without a real network socket.
type remoteHarness struct {
	listener *bufconn.Listener
	server   *grpc.Server
}

func startRemoteHarness(t *testing.T, local LocalDispatch) *remoteHarness {
	t.Helper()
	lis := bufconn.Listen(1024 * 1024)
	s := grpc.NewServer()
	NewServer(local, nil).Attach(s)
	go func() { _ = s.Serve(lis) }()
	t.Cleanup(s.Stop)
	return &remoteHarness{listener: lis, server: s}
}

func TestInvokeDispatchesRemotelyOverGRPC(t *testing.T) {
	local := &fakeLocal{output: []byte("remote-ok"), idx: 3}
	harness := startRemoteHarness(t, local)

	p := NewProxy("pod-a", &fakeResolver{owner: "pod-b"}, &fakeLocal{}, nil, map[types.PodID]string{"pod-b": "bufnet"}, nil)
	p.conns["pod-b"] = dialBufconn(t, harness.listener)

	output, idx, err := p.Invoke(context.Background(), testOwned("w1"), "run", "key-1", []byte("in"))
	require.NoError(t, err)
	assert.Equal(t, []byte("remote-ok"), output)
	assert.Equal(t, oplog.Index(3), idx)
}

func TestInvokeSurfacesRemoteApplicationError(t *testing.T) {
	local := &fakeLocal{err: errors.New("remote trap")}
	harness := startRemoteHarness(t, local)

	p := NewProxy("pod-a", &fakeResolver{owner: "pod-b"}, &fakeLocal{}, nil, map[types.PodID]string{"pod-b": "bufnet"}, nil)
	p.conns["pod-b"] = dialBufconn(t, harness.listener)

	_, _, err := p.Invoke(context.Background(), testOwned("w1"), "run", "key-1", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "remote trap")
}

func dialBufconn(t *testing.T, lis *bufconn.Listener) *grpc.ClientConn {
	t.Helper()
	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}
