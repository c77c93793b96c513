package workerproxy

import (
	"context"
	"crypto/tls"
	"fmt"
	"sync"

	"github.com/cuemby/golem-executor/pkg/durability"
	"github.com/cuemby/golem-executor/pkg/oplog"
	"github.com/cuemby/golem-executor/pkg/types"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
)

// ShardResolver answers "which pod owns this worker" from the shard
// manager's routing table (pkg/shardmanager.Service.Owner satisfies this).
type ShardResolver interface {
	Owner(id types.OwnedWorkerID) (types.PodID, error)
}

// LocalDispatch runs an invocation against a worker already active (or
// activatable) on this pod. pkg/worker.ActiveWorkers is adapted to this
// interface by its own package.
type LocalDispatch interface {
	InvokeLocal(ctx context.Context, owned types.OwnedWorkerID, functionName, idempotencyKey string, input []byte) (output []byte, idx oplog.Index, err error)
}

// Proxy resolves WorkerId -> ShardId -> PodID via the shard manager and
// either dispatches in-process (same pod) or over gRPC (remote pod),
// matching the teacher's pkg/client mTLS dial pattern generalized from
// "CLI talks to the manager" to "pod talks to pod".
type Proxy struct {
	localPod types.PodID
	resolver ShardResolver
	local    LocalDispatch
	oplogSvc oplog.Service

	podAddrs map[types.PodID]string
	dialTLS  *tls.Config // nil dials insecure, for tests/dev

	mu    sync.Mutex
	conns map[types.PodID]*grpc.ClientConn
}

// NewProxy constructs a Proxy. podAddrs maps every known PodID to its
// worker-RPC listen address; dialTLS may be nil to dial insecurely (tests,
// single-process dev deployments).
func NewProxy(localPod types.PodID, resolver ShardResolver, local LocalDispatch, svc oplog.Service, podAddrs map[types.PodID]string, dialTLS *tls.Config) *Proxy {
	return &Proxy{
		localPod: localPod,
		resolver: resolver,
		local:    local,
		oplogSvc: svc,
		podAddrs: podAddrs,
		dialTLS:  dialTLS,
		conns:    make(map[types.PodID]*grpc.ClientConn),
	}
}

// Invoke runs functionName against owned, locally if this pod owns its
// shard, otherwise forwarding to the owning pod.
func (p *Proxy) Invoke(ctx context.Context, owned types.OwnedWorkerID, functionName, idempotencyKey string, input []byte) ([]byte, oplog.Index, error) {
	pod, err := p.resolver.Owner(owned)
	if err != nil {
		return nil, 0, fmt.Errorf("workerproxy: resolve owner: %w", err)
	}
	if pod == p.localPod {
		return p.local.InvokeLocal(ctx, owned, functionName, idempotencyKey, input)
	}

	conn, err := p.connFor(pod)
	if err != nil {
		return nil, 0, err
	}
	resp, err := newRPCClient(conn).Invoke(ctx, &InvokeRequest{
		Owned:          owned,
		FunctionName:   functionName,
		IdempotencyKey: idempotencyKey,
		Input:          input,
	})
	if err != nil {
		return nil, 0, fmt.Errorf("workerproxy: remote invoke on pod %s: %w", pod, err)
	}
	if resp.Err != "" {
		return nil, resp.OplogIndex, fmt.Errorf("workerproxy: remote invoke failed: %s", resp.Err)
	}
	return resp.Output, resp.OplogIndex, nil
}

// Fork creates targetOwned as a copy of sourceOwned's oplog prefix [1, cut],
// locally if this pod owns the target shard, otherwise forwarding the fork
// request to the owning pod.
func (p *Proxy) Fork(ctx context.Context, sourceOwned, targetOwned types.OwnedWorkerID, cut oplog.Index) error {
	pod, err := p.resolver.Owner(targetOwned)
	if err != nil {
		return fmt.Errorf("workerproxy: resolve fork target owner: %w", err)
	}
	if pod == p.localPod {
		return durability.Fork(p.oplogSvc, sourceOwned, targetOwned, cut)
	}

	conn, err := p.connFor(pod)
	if err != nil {
		return err
	}
	resp, err := newRPCClient(conn).Fork(ctx, &ForkRequest{Source: sourceOwned, Target: targetOwned, Cut: cut})
	if err != nil {
		return fmt.Errorf("workerproxy: remote fork on pod %s: %w", pod, err)
	}
	if resp.Err != "" {
		return fmt.Errorf("workerproxy: remote fork failed: %s", resp.Err)
	}
	return nil
}

func (p *Proxy) connFor(pod types.PodID) (*grpc.ClientConn, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if conn, ok := p.conns[pod]; ok {
		return conn, nil
	}
	addr, ok := p.podAddrs[pod]
	if !ok {
		return nil, fmt.Errorf("workerproxy: no address known for pod %s", pod)
	}

	var creds credentials.TransportCredentials
	if p.dialTLS != nil {
		creds = credentials.NewTLS(p.dialTLS)
	} else {
		creds = insecure.NewCredentials()
	}
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("workerproxy: dial pod %s at %s: %w", pod, addr, err)
	}
	p.conns[pod] = conn
	return conn, nil
}

// Close shuts down every cached outbound connection.
func (p *Proxy) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var firstErr error
	for pod, conn := range p.conns {
		if err := conn.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("workerproxy: close conn to %s: %w", pod, err)
		}
	}
	p.conns = make(map[types.PodID]*grpc.ClientConn)
	return firstErr
}
