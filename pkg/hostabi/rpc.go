package hostabi

import (
	"context"
	"fmt"
	"sync"

	"github.com/cuemby/golem-executor/pkg/durability"
	"github.com/cuemby/golem-executor/pkg/oplog"
	"github.com/cuemby/golem-executor/pkg/types"
)

// Invoker is the subset of pkg/workerproxy.Proxy the RPC bindings need:
// route a call to whichever pod owns the target worker, local or remote.
type Invoker interface {
	Invoke(ctx context.Context, owned types.OwnedWorkerID, functionName, idempotencyKey string, input []byte) ([]byte, oplog.Index, error)
}

// RPCHandle is golem:rpc/types' typed handle to a remote worker: every
// invocation it makes is addressed at Target regardless of which pod
// currently owns it.
type RPCHandle struct {
	Target types.OwnedWorkerID
}

// Dial returns a handle bound to target. Unlike a network dial this never
// fails up front — resolution happens per call, since ownership can move
// between a Dial and the first invocation.
func Dial(target types.OwnedWorkerID) RPCHandle {
	return RPCHandle{Target: target}
}

// CancellationToken lets a caller abandon an in-flight InvokeAsync call.
// Canceling does not retract the call on the remote worker — it only stops
// this caller from waiting on the result, matching golem:rpc/types'
// fire-and-forget-after-cancel semantics.
type CancellationToken struct {
	cancel context.CancelFunc
}

// Cancel detaches the caller from the pending invocation.
func (t CancellationToken) Cancel() { t.cancel() }

// FutureInvokeResult is the golem:rpc/types handle an async invocation
// returns immediately; Get blocks until the call resolves or is canceled.
type FutureInvokeResult struct {
	done   chan struct{}
	output []byte
	idx    oplog.Index
	err    error
}

// Get blocks until the invocation this future represents completes.
func (f *FutureInvokeResult) Get() ([]byte, oplog.Index, error) {
	<-f.done
	return f.output, f.idx, f.err
}

// InvokeAndAwait performs a synchronous remote invocation, the common case
// for golem:rpc/types' invoke-and-await export. The call is itself
// non-deterministic (the remote worker's reply depends on its own state),
// so it goes through durability.Invoke with WriteRemote: live execution
// calls out over inv, replay returns the previously recorded response
// without touching the network.
func (h RPCHandle) InvokeAndAwait(ctx *durability.Context, inv Invoker, functionName, idempotencyKey string, input []byte) ([]byte, error) {
	type result struct {
		output []byte
		idx    oplog.Index
	}
	res, err := durability.Invoke[result](
		ctx,
		fmt.Sprintf("golem:rpc/types.invoke-and-await(%s)", h.Target),
		oplog.WriteRemote,
		input,
		func() (result, error) {
			out, idx, err := inv.Invoke(context.Background(), h.Target, functionName, idempotencyKey, input)
			return result{output: out, idx: idx}, err
		},
		func(r result) ([]byte, error) { return r.output, nil },
		func(b []byte) (result, error) { return result{output: b}, nil },
	)
	return res.output, err
}

// InvokeAsync starts functionName on h.Target without blocking, returning a
// future the caller can Get() later and a token to abandon the wait. The
// underlying call is still recorded through InvokeAndAwait's durability
// wrapper on the goroutine that performs it, so replay still sees exactly
// one ImportedFunctionInvoked entry regardless of how the caller awaited it.
func (h RPCHandle) InvokeAsync(ctx *durability.Context, inv Invoker, functionName, idempotencyKey string, input []byte) (*FutureInvokeResult, CancellationToken) {
	runCtx, cancel := context.WithCancel(context.Background())
	future := &FutureInvokeResult{done: make(chan struct{})}

	var once sync.Once
	go func() {
		out, err := h.InvokeAndAwait(ctx, inv, functionName, idempotencyKey, input)
		once.Do(func() {
			future.output = out
			future.err = err
			close(future.done)
		})
	}()
	go func() {
		<-runCtx.Done()
		once.Do(func() {
			future.err = runCtx.Err()
			close(future.done)
		})
	}()

	return future, CancellationToken{cancel: cancel}
}
