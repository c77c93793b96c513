package api

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/cuemby/golem-executor/pkg/apierr"
	"github.com/cuemby/golem-executor/pkg/metrics"
	"github.com/cuemby/golem-executor/pkg/oplog"
	"github.com/cuemby/golem-executor/pkg/services"
	"github.com/cuemby/golem-executor/pkg/types"
	"github.com/cuemby/golem-executor/pkg/worker"
	"github.com/cuemby/golem-executor/pkg/workerproxy"
)

// Executor is the business-logic layer behind the operator-facing API:
// create/invoke/interrupt/resume/delete/fork/update a worker, and read its
// metadata or oplog. It holds no wire-protocol knowledge; Server adapts it
// to gRPC.
type Executor struct {
	components services.ComponentService
	shard      services.ShardService
	workers    *worker.ActiveWorkers
	proxy      *workerproxy.Proxy
	oplogSvc   oplog.Service
}

// NewExecutor wires an Executor over this pod's component catalog, shard
// ownership check, local active-worker set, cross-pod invocation proxy, and
// oplog service.
func NewExecutor(components services.ComponentService, shard services.ShardService, workers *worker.ActiveWorkers, proxy *workerproxy.Proxy, oplogSvc oplog.Service) *Executor {
	return &Executor{
		components: components,
		shard:      shard,
		workers:    workers,
		proxy:      proxy,
		oplogSvc:   oplogSvc,
	}
}

func owned(projectID string, componentID types.ComponentID, name string) types.OwnedWorkerID {
	return types.OwnedWorkerID{WorkerID: types.WorkerID{ComponentID: componentID, Name: name}, ProjectID: projectID}
}

// CreateWorker resolves req's component version and creates (or returns the
// existing) worker, activating it on this pod. Callers whose worker hashes
// to a shard this pod doesn't own get back an *apierr.ShardRedirectError.
func (e *Executor) CreateWorker(req *CreateWorkerRequest) (*CreateWorkerResponse, error) {
	ownedID := owned(req.ProjectID, req.ComponentID, req.WorkerName)
	if err := e.shard.CheckWorker(ownedID); err != nil {
		return nil, err
	}

	version := req.ComponentVersion
	if version == 0 {
		v, err := e.components.LatestVersion(req.ComponentID)
		if err != nil {
			return nil, fmt.Errorf("api: resolve latest version for %s: %w", req.ComponentID, err)
		}
		version = v
	}
	component, err := e.components.Get(req.ComponentID, version)
	if err != nil {
		return nil, fmt.Errorf("api: get component %s version %d: %w", req.ComponentID, version, err)
	}

	w, err := e.workers.GetOrCreateSuspended(ownedID, component)
	if err != nil {
		return nil, fmt.Errorf("api: create worker %s: %w", ownedID, err)
	}
	if err := e.workers.EnsureInstantiated(w, component.Version); err != nil {
		return nil, fmt.Errorf("api: instantiate worker %s: %w", ownedID, err)
	}
	return &CreateWorkerResponse{WorkerID: ownedID.WorkerID.String()}, nil
}

// reactivateLocal brings owned into this pod's active set if this pod owns
// its shard and it's reattachable from an existing oplog, instantiating it
// if it was just loaded. It does not create a worker that has never
// existed: that is CreateWorker's job, and a caller invoking or reading the
// metadata of a worker nobody ever created should see ErrNotFound, not a
// silent creation. If the shard belongs to another pod, it's left alone
// here - the caller's own ownership check (or the proxy, for Invoke) is
// what actually routes the request, and that pod reactivates it the same
// way on its side.
func (e *Executor) reactivateLocal(id types.OwnedWorkerID) error {
	if err := e.shard.CheckWorker(id); err != nil {
		if _, redirect := apierr.AsShardRedirect(err); redirect {
			return nil
		}
		return err
	}
	w, err := e.workers.GetOrCreateSuspended(id, nil)
	if err != nil {
		return fmt.Errorf("api: reactivate worker %s: %w", id, err)
	}
	if err := e.workers.EnsureInstantiated(w, w.Status().ComponentVersion); err != nil {
		return fmt.Errorf("api: instantiate worker %s: %w", id, err)
	}
	return nil
}

// InvokeAndAwait dispatches functionName against req.Owned, locally or via
// the cross-pod proxy, and waits for its result. A worker that exists on
// disk but isn't active on this pod yet (e.g. right after a restart) is
// reattached before dispatch.
func (e *Executor) InvokeAndAwait(ctx context.Context, req *InvokeAndAwaitRequest) (*InvokeAndAwaitResponse, error) {
	if err := e.reactivateLocal(req.Owned); err != nil {
		return nil, err
	}
	timer := metrics.NewTimer()
	output, idx, err := e.proxy.Invoke(ctx, req.Owned, req.FunctionName, req.IdempotencyKey, req.Input)
	timer.ObserveDuration(metrics.InvocationDuration)
	if err != nil {
		metrics.WorkerInvocationsTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	metrics.WorkerInvocationsTotal.WithLabelValues("success").Inc()
	return &InvokeAndAwaitResponse{Output: output, OplogIndex: idx}, nil
}

// Invoke schedules functionName against req.Owned without waiting for its
// result. Errors from the eventual execution are only observable through
// GetMetadata or a subsequent invoke_and_await on the same idempotency key.
// Like InvokeAndAwait, a worker that exists on disk but isn't active yet is
// reattached before the function is scheduled.
func (e *Executor) Invoke(req *InvokeRequest) (*InvokeResponse, error) {
	if err := e.reactivateLocal(req.Owned); err != nil {
		return nil, err
	}
	go func() {
		timer := metrics.NewTimer()
		_, _, err := e.proxy.Invoke(context.Background(), req.Owned, req.FunctionName, req.IdempotencyKey, req.Input)
		timer.ObserveDuration(metrics.InvocationDuration)
		if err != nil {
			metrics.WorkerInvocationsTotal.WithLabelValues("error").Inc()
			return
		}
		metrics.WorkerInvocationsTotal.WithLabelValues("success").Inc()
	}()
	return &InvokeResponse{}, nil
}

// GetMetadata returns req.Owned's current status record, reattaching it
// into this pod's active set if it wasn't already (mirroring get_or_create's
// "loading a worker just to read its status" cost).
func (e *Executor) GetMetadata(req *GetMetadataRequest) (*GetMetadataResponse, error) {
	if err := e.shard.CheckWorker(req.Owned); err != nil {
		return nil, err
	}
	w, err := e.workers.GetOrCreateSuspended(req.Owned, nil)
	if err != nil {
		return nil, fmt.Errorf("api: get metadata for %s: %w", req.Owned, err)
	}
	status := w.Status()
	return &GetMetadataResponse{Status: &status}, nil
}

// Interrupt asks req.Owned, if active on this pod, to stop at its next safe
// point.
func (e *Executor) Interrupt(req *InterruptRequest) (*InterruptResponse, error) {
	if err := e.shard.CheckWorker(req.Owned); err != nil {
		return nil, err
	}
	w, ok := e.workers.Get(req.Owned.WorkerID)
	if !ok {
		return nil, fmt.Errorf("api: worker %s is not active on this pod: %w", req.Owned, apierr.ErrNotFound)
	}
	w.Interrupt()
	return &InterruptResponse{}, nil
}

// Resume brings req.Owned back to Running, per WorkerProxy.resume(worker_id,
// force).
func (e *Executor) Resume(req *ResumeRequest) (*ResumeResponse, error) {
	if err := e.shard.CheckWorker(req.Owned); err != nil {
		return nil, err
	}
	if _, err := e.workers.Resume(req.Owned, req.Force); err != nil {
		return nil, fmt.Errorf("api: resume worker %s: %w", req.Owned, err)
	}
	return &ResumeResponse{}, nil
}

// Delete evicts req.Owned from the active set and drops its entire oplog.
// The oplog layer has no dedicated tombstone entry, so delete is expressed
// as a full-prefix DropPrefix up to the stream's current index (see
// DESIGN.md).
func (e *Executor) Delete(req *DeleteRequest) (*DeleteResponse, error) {
	if err := e.shard.CheckWorker(req.Owned); err != nil {
		return nil, err
	}
	e.workers.Evict(req.Owned.WorkerID)

	h, err := e.oplogSvc.Open(req.Owned, 0)
	if err != nil {
		return nil, fmt.Errorf("api: open oplog for delete of %s: %w", req.Owned, err)
	}
	defer h.Close()
	if err := h.DropPrefix(h.CurrentIndex()); err != nil {
		return nil, fmt.Errorf("api: delete worker %s: %w", req.Owned, err)
	}
	return &DeleteResponse{}, nil
}

// Fork copies req.Source's oplog prefix [1, req.Cut] into req.Target,
// locally or via the cross-pod proxy depending on which pod owns Target's
// shard.
func (e *Executor) Fork(ctx context.Context, req *ForkRequest) (*ForkResponse, error) {
	if err := e.proxy.Fork(ctx, req.Source, req.Target, req.Cut); err != nil {
		return nil, err
	}
	return &ForkResponse{}, nil
}

// Update records a PendingUpdate oplog entry for req.Owned requesting it
// switch to req.TargetVersion via req.Mode. Applying the swap is a
// replay-engine concern this codebase does not implement (see DESIGN.md);
// this only durably records the request.
func (e *Executor) Update(req *UpdateRequest) (*UpdateResponse, error) {
	if err := e.shard.CheckWorker(req.Owned); err != nil {
		return nil, err
	}
	w, ok := e.workers.Get(req.Owned.WorkerID)
	if !ok {
		return nil, fmt.Errorf("api: worker %s is not active on this pod: %w", req.Owned, apierr.ErrNotFound)
	}
	idx, err := w.RequestUpdate(req.TargetVersion, req.Mode)
	if err != nil {
		metrics.UpdatesAppliedTotal.WithLabelValues(string(req.Mode), "error").Inc()
		return nil, fmt.Errorf("api: request update for %s: %w", req.Owned, err)
	}
	metrics.UpdatesAppliedTotal.WithLabelValues(string(req.Mode), "requested").Inc()
	return &UpdateResponse{OplogIndex: idx}, nil
}

// GetOplog reads a contiguous range of req.Owned's oplog.
func (e *Executor) GetOplog(req *GetOplogRequest) (*GetOplogResponse, error) {
	if err := e.shard.CheckWorker(req.Owned); err != nil {
		return nil, err
	}
	h, err := e.oplogSvc.Open(req.Owned, 0)
	if err != nil {
		return nil, fmt.Errorf("api: open oplog for %s: %w", req.Owned, err)
	}
	defer h.Close()

	from := req.From
	if from == 0 {
		from = 1
	}
	entries, err := h.Read(from, uint64(req.Count))
	if err != nil {
		return nil, fmt.Errorf("api: read oplog for %s: %w", req.Owned, err)
	}
	return &GetOplogResponse{Entries: entries}, nil
}

// SearchOplog scans req.Owned's full oplog for entries whose function name,
// log message, or error message contains req.Query, returned in ascending
// index order.
func (e *Executor) SearchOplog(req *SearchOplogRequest) (*SearchOplogResponse, error) {
	if err := e.shard.CheckWorker(req.Owned); err != nil {
		return nil, err
	}
	h, err := e.oplogSvc.Open(req.Owned, 0)
	if err != nil {
		return nil, fmt.Errorf("api: open oplog for %s: %w", req.Owned, err)
	}
	defer h.Close()

	entries, err := h.Read(1, uint64(h.CurrentIndex()))
	if err != nil {
		return nil, fmt.Errorf("api: read oplog for %s: %w", req.Owned, err)
	}

	matched := make([]*oplog.Entry, 0, len(entries))
	for _, entry := range entries {
		if matchesQuery(entry, req.Query) {
			matched = append(matched, entry)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].Index < matched[j].Index })
	return &SearchOplogResponse{Entries: matched}, nil
}

func matchesQuery(e *oplog.Entry, query string) bool {
	if query == "" {
		return true
	}
	return strings.Contains(e.FunctionName, query) ||
		strings.Contains(e.LogMessage, query) ||
		strings.Contains(e.ErrorMessage, query)
}
