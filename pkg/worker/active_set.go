package worker

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/cuemby/golem-executor/pkg/apierr"
	"github.com/cuemby/golem-executor/pkg/events"
	"github.com/cuemby/golem-executor/pkg/log"
	"github.com/cuemby/golem-executor/pkg/oplog"
	"github.com/cuemby/golem-executor/pkg/types"
)

// ActiveWorkers is the bounded, LRU-evicted set of in-memory Worker
// instances a pod holds for the shards it owns: workers are evicted via
// LRU under memory pressure, not destroyed — their durable state lives
// entirely in the oplog. A mutex-guarded map of structs, generalized to an
// LRU so the active set can be bounded by capacity rather than growing
// forever.
type ActiveWorkers struct {
	svc      oplog.Service
	broker   *events.Broker
	capacity int
	factory  InstanceFactory

	mu      sync.Mutex
	entries map[types.WorkerID]*list.Element
	order   *list.List // front = most recently used
}

type activeEntry struct {
	id     types.WorkerID
	worker *Worker
}

// NewActiveWorkers builds an active set bounded to capacity concurrently
// loaded workers per pod.
func NewActiveWorkers(svc oplog.Service, broker *events.Broker, factory InstanceFactory, capacity int) *ActiveWorkers {
	return &ActiveWorkers{
		svc:      svc,
		broker:   broker,
		capacity: capacity,
		factory:  factory,
		entries:  make(map[types.WorkerID]*list.Element),
		order:    list.New(),
	}
}

// GetOrCreateSuspended returns the worker for owned: from the active set if
// it's already there, otherwise reattached from its existing oplog, and
// only if no oplog exists yet and component is non-nil does it create a new
// one. This makes the common restart path - a pod comes back up with an
// empty active set and a caller (create_worker, invoke, get_metadata) asks
// for a worker whose oplog already exists on disk - reattach instead of
// failing with an already-exists error. A freshly loaded/created worker is
// left in ExecutionLoading/Suspended until the caller instantiates it and
// calls Activate, separating "is there a worker record" from "is there a
// running WASM instance".
func (a *ActiveWorkers) GetOrCreateSuspended(owned types.OwnedWorkerID, component *types.Component) (*Worker, error) {
	a.mu.Lock()
	if el, ok := a.entries[owned.WorkerID]; ok {
		a.order.MoveToFront(el)
		w := el.Value.(*activeEntry).worker
		a.mu.Unlock()
		return w, nil
	}
	a.mu.Unlock()

	w, err := Load(a.svc, owned, a.broker)
	if errors.Is(err, apierr.ErrNotFound) && component != nil {
		w, err = CreateNew(a.svc, owned, *component, a.broker)
	}
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if el, ok := a.entries[owned.WorkerID]; ok {
		// another caller raced us to load/create; keep theirs, drop ours
		a.order.MoveToFront(el)
		w.Close()
		return el.Value.(*activeEntry).worker, nil
	}

	el := a.order.PushFront(&activeEntry{id: owned.WorkerID, worker: w})
	a.entries[owned.WorkerID] = el
	a.evictLocked()
	return w, nil
}

// evictLocked drops least-recently-used workers past capacity. Must be
// called with a.mu held.
func (a *ActiveWorkers) evictLocked() {
	for a.order.Len() > a.capacity {
		back := a.order.Back()
		if back == nil {
			return
		}
		entry := back.Value.(*activeEntry)
		a.order.Remove(back)
		delete(a.entries, entry.id)
		log.WithWorker(entry.id.String()).Debug().Msg("evicting under capacity pressure")
		go entry.worker.Close()
	}
}

// Evict explicitly removes a worker from the active set (e.g. after an
// interrupt or delete), closing its oplog handle.
func (a *ActiveWorkers) Evict(id types.WorkerID) {
	a.mu.Lock()
	el, ok := a.entries[id]
	if !ok {
		a.mu.Unlock()
		return
	}
	a.order.Remove(el)
	delete(a.entries, id)
	a.mu.Unlock()

	el.Value.(*activeEntry).worker.Close()
}

// Get returns the currently active worker for id, if any.
func (a *ActiveWorkers) Get(id types.WorkerID) (*Worker, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	el, ok := a.entries[id]
	if !ok {
		return nil, false
	}
	a.order.MoveToFront(el)
	return el.Value.(*activeEntry).worker, true
}

// Len reports how many workers are currently active.
func (a *ActiveWorkers) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.order.Len()
}

// EnsureInstantiated instantiates and activates w if it has not already
// been given a running instance, using the active set's configured
// InstanceFactory. Safe to call repeatedly; a no-op once activated.
func (a *ActiveWorkers) EnsureInstantiated(w *Worker, version types.ComponentVersion) error {
	if w.ExecutionState() != ExecutionLoading {
		return nil
	}
	if a.factory == nil {
		return errNoFactory
	}
	instance, err := a.factory(w.Owned, version)
	if err != nil {
		return fmt.Errorf("instantiate worker %s: %w", w.Owned, err)
	}
	w.Activate(instance)
	return nil
}

// InvokeLocal runs functionName against an already-active worker on this
// pod and waits for its result, satisfying pkg/workerproxy.LocalDispatch.
// It does not instantiate or create workers — by the time a proxy
// dispatches here, the worker is expected to already be in the active set
// (created and activated via the caller-facing API, pkg/api).
func (a *ActiveWorkers) InvokeLocal(ctx context.Context, owned types.OwnedWorkerID, functionName, idempotencyKey string, input []byte) ([]byte, oplog.Index, error) {
	w, ok := a.Get(owned.WorkerID)
	if !ok {
		return nil, 0, fmt.Errorf("active workers: worker %s not active on this pod: %w", owned, apierr.ErrNotFound)
	}

	result := make(chan InvocationResult, 1)
	w.Enqueue(Invocation{
		FunctionName:   functionName,
		IdempotencyKey: idempotencyKey,
		Input:          input,
		Result:         result,
	})

	select {
	case res := <-result:
		return res.Output, res.OplogIndex, res.Err
	case <-ctx.Done():
		return nil, 0, ctx.Err()
	}
}

// Resume brings owned back to Running, loading it into the active set and
// instantiating it via the configured InstanceFactory if it isn't already
// there. force is passed through to Worker.Resume: a worker that was
// explicitly interrupted only resumes when the caller forces it, matching
// WorkerProxy.resume(worker_id, force)'s contract.
func (a *ActiveWorkers) Resume(owned types.OwnedWorkerID, force bool) (*Worker, error) {
	w, err := a.GetOrCreateSuspended(owned, nil)
	if err != nil {
		return nil, err
	}

	if w.ExecutionState() == ExecutionLoading {
		if err := a.EnsureInstantiated(w, w.Status().ComponentVersion); err != nil {
			return nil, err
		}
		return w, nil
	}

	if err := w.Resume(force); err != nil {
		return nil, err
	}
	return w, nil
}

// Close evicts every active worker, for pod shutdown.
func (a *ActiveWorkers) Close() error {
	a.mu.Lock()
	var workers []*Worker
	for el := a.order.Front(); el != nil; el = el.Next() {
		workers = append(workers, el.Value.(*activeEntry).worker)
	}
	a.entries = make(map[types.WorkerID]*list.Element)
	a.order = list.New()
	a.mu.Unlock()

	for _, w := range workers {
		w.Close()
	}
	return nil
}

// errNoFactory is returned by callers that forgot to configure an
// InstanceFactory before activating a loaded worker.
var errNoFactory = fmt.Errorf("active workers: no instance factory configured")
