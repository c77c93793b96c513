// Package worker implements the per-pod active worker set: loading a
// worker's oplog, driving it through replay to live, queuing invocations,
// and transitioning it through its lifecycle states.
package worker

import (
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/golem-executor/pkg/apierr"
	"github.com/cuemby/golem-executor/pkg/durability"
	"github.com/cuemby/golem-executor/pkg/events"
	"github.com/cuemby/golem-executor/pkg/log"
	"github.com/cuemby/golem-executor/pkg/oplog"
	"github.com/cuemby/golem-executor/pkg/types"
)

// ExecutionStatus is the in-memory-only run state guarded by a single
// writer lock. It is distinct from WorkerLifecycleStatus,
// which is the persisted, rebuildable-from-oplog status record.
type ExecutionStatus int

const (
	ExecutionLoading ExecutionStatus = iota
	ExecutionRunning
	ExecutionSuspended
	ExecutionInterrupting
	ExecutionInterrupted
)

func (s ExecutionStatus) String() string {
	switch s {
	case ExecutionLoading:
		return "loading"
	case ExecutionRunning:
		return "running"
	case ExecutionSuspended:
		return "suspended"
	case ExecutionInterrupting:
		return "interrupting"
	case ExecutionInterrupted:
		return "interrupted"
	default:
		return "unknown"
	}
}

// Instance is the WASM-facing side of a worker: instantiating a component
// and invoking an exported function on it. Implemented by pkg/hostabi;
// kept as an interface here so the worker lifecycle does not depend on a
// concrete WASM engine.
type Instance interface {
	Invoke(functionName string, input []byte) (output []byte, consumedFuel int64, err error)
	Close() error
}

// InstanceFactory instantiates a component at a given version for a worker.
type InstanceFactory func(owned types.OwnedWorkerID, version types.ComponentVersion) (Instance, error)

// Worker is one active, in-memory worker: its durable context, its current
// instance, its execution status, and a FIFO invocation queue. Mirrors the
// teacher's per-unit struct (guarded map entry + mutex + stopCh) generalized
// from a container process to a durable WASM worker.
type Worker struct {
	Owned   types.OwnedWorkerID
	oplogH  oplog.Handle
	ctx     *durability.Context
	broker  *events.Broker

	mu       sync.Mutex
	instance Instance
	status   ExecutionStatus
	version  types.ComponentVersion
	queue    []Invocation
	notify   chan struct{}
	stopCh   chan struct{}
	stopped  bool

	statusRecord types.WorkerStatusRecord
}

// Invocation is a queued exported-function call.
type Invocation struct {
	FunctionName   string
	IdempotencyKey string
	Input          []byte
	Result         chan InvocationResult
}

// InvocationResult is delivered on Invocation.Result once processed.
type InvocationResult struct {
	Output     []byte
	Err        error
	OplogIndex oplog.Index // index of this invocation's ExportedFunctionInvoked entry
}

// Load opens the worker's existing oplog handle (it does not create one),
// reads the Create entry for the component version, and returns a Worker in
// ExecutionLoading state; the rest of the oplog is not replayed here. The
// caller is responsible for calling Activate once an Instance is ready.
func Load(svc oplog.Service, owned types.OwnedWorkerID, broker *events.Broker) (*Worker, error) {
	h, err := svc.Open(owned, 0)
	if err != nil {
		return nil, fmt.Errorf("load worker %s: %w", owned, err)
	}

	replayTarget := h.CurrentIndex()
	ctx := durability.NewContext(owned, h, replayTarget)

	var version types.ComponentVersion
	if entries, err := h.Read(1, 1); err == nil {
		if created, ok := entries[1]; ok && created.Kind == oplog.KindCreate {
			version = created.ComponentVersion
		}
	}

	w := &Worker{
		Owned:   owned,
		oplogH:  h,
		ctx:     ctx,
		broker:  broker,
		status:  ExecutionLoading,
		version: version,
		notify:  make(chan struct{}, 1),
		stopCh:  make(chan struct{}),
	}
	w.statusRecord = types.WorkerStatusRecord{
		WorkerID:         owned,
		ComponentVersion: version,
		Status:           types.StatusIdle,
		RetryPolicy:      types.DefaultRetryPolicy(),
		LastOplogIndex:   uint64(replayTarget),
		UpdatedAt:        time.Now(),
	}
	return w, nil
}

// CreateNew creates a brand-new worker's oplog stream and returns it in
// ExecutionLoading state (with an empty replay window, so IsLive is
// immediately true).
func CreateNew(svc oplog.Service, owned types.OwnedWorkerID, component types.Component, broker *events.Broker) (*Worker, error) {
	h, err := svc.Create(owned, &oplog.Entry{
		Kind:               oplog.KindCreate,
		ComponentID:        component.ID,
		ComponentVersion:    component.Version,
		InitialMemoryPages: component.MemoryPages,
	})
	if err != nil {
		return nil, fmt.Errorf("create worker %s: %w", owned, err)
	}

	ctx := durability.NewContext(owned, h, 0)
	w := &Worker{
		Owned:   owned,
		oplogH:  h,
		ctx:     ctx,
		broker:  broker,
		status:  ExecutionLoading,
		version: component.Version,
		notify:  make(chan struct{}, 1),
		stopCh:  make(chan struct{}),
	}
	w.statusRecord = types.WorkerStatusRecord{
		WorkerID:         owned,
		ComponentVersion: component.Version,
		Status:           types.StatusIdle,
		RetryPolicy:      types.DefaultRetryPolicy(),
		LastOplogIndex:   1,
		UpdatedAt:        time.Now(),
	}
	return w, nil
}

// Activate installs the instantiated component and starts the worker's
// invocation-processing goroutine, transitioning it to Running.
func (w *Worker) Activate(instance Instance) {
	w.mu.Lock()
	w.instance = instance
	w.status = ExecutionRunning
	w.mu.Unlock()

	go w.processLoop()
	w.publish(events.EventWorkerResumed, "")
}

// Enqueue appends an invocation to the queue and wakes the process loop.
// Enqueue does not deduplicate: a retried request whose idempotency key is
// already recorded is detected by durability.InvokeExported when the process
// loop runs it, and its Result receives apierr.ErrAlreadyExists.
func (w *Worker) Enqueue(inv Invocation) {
	w.mu.Lock()
	w.queue = append(w.queue, inv)
	w.mu.Unlock()
	select {
	case w.notify <- struct{}{}:
	default:
	}
}

func (w *Worker) processLoop() {
	for {
		w.mu.Lock()
		if len(w.queue) == 0 || w.status != ExecutionRunning {
			w.mu.Unlock()
			select {
			case <-w.notify:
				continue
			case <-w.stopCh:
				return
			}
		}
		inv := w.queue[0]
		w.queue = w.queue[1:]
		w.mu.Unlock()

		w.runInvocation(inv)
	}
}

func (w *Worker) runInvocation(inv Invocation) {
	idx, dup, err := durability.InvokeExported(w.ctx, inv.FunctionName, inv.IdempotencyKey, inv.Input)
	if err != nil {
		w.fail(err)
		inv.Result <- InvocationResult{Err: err}
		return
	}
	if dup {
		inv.Result <- InvocationResult{Err: fmt.Errorf("invocation %s already completed: %w", inv.IdempotencyKey, apierr.ErrAlreadyExists), OplogIndex: idx}
		return
	}

	w.publish(events.EventInvocationStarted, inv.FunctionName)

	w.mu.Lock()
	instance := w.instance
	w.mu.Unlock()

	output, fuel, execErr := instance.Invoke(inv.FunctionName, inv.Input)
	if execErr != nil {
		w.fail(execErr)
		inv.Result <- InvocationResult{Err: execErr}
		return
	}

	completedIdx, err := durability.CompleteExported(w.ctx, inv.FunctionName, output, fuel)
	if err != nil {
		w.fail(err)
		inv.Result <- InvocationResult{Err: err}
		return
	}

	w.mu.Lock()
	w.statusRecord.LastOplogIndex = uint64(w.oplogH.CurrentIndex())
	w.statusRecord.UpdatedAt = time.Now()
	w.mu.Unlock()

	w.publish(events.EventInvocationResult, inv.FunctionName)
	inv.Result <- InvocationResult{Output: output, OplogIndex: completedIdx}
}

// Interrupt requests the worker stop processing at the next safe point.
// Moves ExecutionStatus from Running to Interrupting and wakes the process
// loop, which takes no further invocations while the status is not Running.
func (w *Worker) Interrupt() {
	w.mu.Lock()
	if w.status == ExecutionRunning {
		w.status = ExecutionInterrupting
	}
	w.mu.Unlock()
	select {
	case w.notify <- struct{}{}:
	default:
	}
}

// Resume transitions a suspended or interrupted worker back to Running so
// its process loop resumes draining the invocation queue. Resuming a
// worker that was explicitly interrupted requires force; without it the
// worker stays interrupted, matching WorkerProxy.resume(worker_id, force)'s
// distinction between a routine suspend (LRU eviction, idle timeout) and a
// deliberate interrupt the caller must consciously override.
func (w *Worker) Resume(force bool) error {
	w.mu.Lock()
	switch w.status {
	case ExecutionRunning:
		w.mu.Unlock()
		return nil
	case ExecutionSuspended:
		w.status = ExecutionRunning
	case ExecutionInterrupting, ExecutionInterrupted:
		if !force {
			w.mu.Unlock()
			return fmt.Errorf("worker %s is interrupted: %w", w.Owned, apierr.ErrWorkerInterrupted)
		}
		w.status = ExecutionRunning
	default:
		w.mu.Unlock()
		return fmt.Errorf("worker %s cannot resume from state %s", w.Owned, w.status)
	}
	w.mu.Unlock()

	select {
	case w.notify <- struct{}{}:
	default:
	}
	w.publish(events.EventWorkerResumed, "")
	return nil
}

// RequestUpdate records a PendingUpdate oplog entry requesting the worker
// switch to targetVersion via mode. Applying the swap itself
// is a replay-engine concern this codebase does not implement; this only
// durably records the request, mirroring pkg/hostabi.Host.RequestUpdate's
// scope for the host-ABI-initiated path.
func (w *Worker) RequestUpdate(targetVersion types.ComponentVersion, mode types.UpdateMode) (oplog.Index, error) {
	return durability.RequestUpdate(w.ctx, targetVersion, mode)
}

// Suspend records a Suspend entry and moves the worker out of the active
// set's running state; the caller (ActiveWorkers) is responsible for
// eviction bookkeeping.
func (w *Worker) Suspend() error {
	w.mu.Lock()
	w.status = ExecutionSuspended
	w.mu.Unlock()
	_, err := w.ctx.Oplog.Add(&oplog.Entry{Kind: oplog.KindSuspend}, oplog.CommitDurableOnly)
	w.publish(events.EventWorkerSuspended, "")
	return err
}

func (w *Worker) fail(err error) {
	w.mu.Lock()
	w.statusRecord.Status = types.StatusFailed
	w.statusRecord.LastError = err.Error()
	w.mu.Unlock()
	durability.RecordFatal(w.ctx, err)
	w.publish(events.EventWorkerFailed, err.Error())
}

func (w *Worker) publish(t events.EventType, msg string) {
	if w.broker == nil {
		return
	}
	w.broker.Publish(&events.Event{
		Type:      t,
		WorkerID:  w.Owned.WorkerID.String(),
		Timestamp: time.Now(),
		Message:   msg,
	})
}

// Status returns a snapshot of the worker's persisted status record.
func (w *Worker) Status() types.WorkerStatusRecord {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.statusRecord
}

// ExecutionState returns the current in-memory execution status.
func (w *Worker) ExecutionState() ExecutionStatus {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

// Close releases the oplog handle and stops the process loop. Logs at debug
// level; eviction is a routine, expected event, not a failure.
func (w *Worker) Close() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.stopped = true
	w.mu.Unlock()

	close(w.stopCh)
	if w.instance != nil {
		_ = w.instance.Close()
	}
	w.oplogH.Close()
	log.WithWorker(w.Owned.String()).Debug().Msg("worker evicted")
}
