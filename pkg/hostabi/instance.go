package hostabi

import (
	"fmt"

	"github.com/cuemby/golem-executor/pkg/durability"
	"github.com/cuemby/golem-executor/pkg/limits"
	"github.com/cuemby/golem-executor/pkg/oplog"
	"github.com/cuemby/golem-executor/pkg/types"
	"github.com/cuemby/golem-executor/pkg/worker"
)

// ExportedFunc is one component export a simulated instance dispatches to,
// given the host-import surface bound to the calling worker's durability
// context. This stands in for a real component-model export since no
// wasmtime/wazero-equivalent exists anywhere in the pack (see DESIGN.md).
type ExportedFunc func(host *Host, input []byte) ([]byte, error)

// Exports maps a component's exported function names to their
// implementations, keyed by component id.
type Exports map[types.ComponentID]map[string]ExportedFunc

// Instance adapts a Host and a registered function table to
// worker.Instance, giving worker.ActiveWorkers' InstanceFactory something
// concrete to instantiate.
type Instance struct {
	host    *Host
	oplogH  oplog.Handle
	funcs   map[string]ExportedFunc
	limiter *limits.Limiter
	project string
}

var _ worker.Instance = (*Instance)(nil)

// NewInstance builds an Instance bound to ctx's durability context,
// dispatching exported calls through funcs. limiter may be nil to skip
// fuel accounting (tests, single-tenant dev runs). h is the oplog handle
// backing ctx; Close releases it.
func NewInstance(ctx *durability.Context, h oplog.Handle, funcs map[string]ExportedFunc, limiter *limits.Limiter, project string) *Instance {
	return &Instance{host: NewHost(ctx), oplogH: h, funcs: funcs, limiter: limiter, project: project}
}

// Invoke dispatches functionName, borrowing fuel proportional to input size
// before running it — a stand-in for the instruction-count metering a real
// engine would enforce, tripping the same fuel-exhaustion trap.
func (i *Instance) Invoke(functionName string, input []byte) ([]byte, int64, error) {
	fn, ok := i.funcs[functionName]
	if !ok {
		return nil, 0, fmt.Errorf("hostabi: component has no export %q", functionName)
	}
	fuel := int64(len(input)) + 1
	if i.limiter != nil {
		if err := i.limiter.BorrowFuel(i.project, fuel); err != nil {
			return nil, 0, err
		}
	}
	out, err := fn(i.host, input)
	return out, fuel, err
}

// Close releases this instance's own reference to the shared oplog handle
// it opened in NewFactory. The Worker holds a separate reference opened by
// Load/CreateNew, so this only drops the instance's share of the refcount.
func (i *Instance) Close() error {
	i.oplogH.Close()
	return nil
}

// NewFactory builds a worker.InstanceFactory over svc, dispatching each
// component version to its registered Exports. limiter charges each
// instance's fuel against the worker's OwnedWorkerID.ProjectID.
func NewFactory(svc oplog.Service, exports Exports, limiter *limits.Limiter) worker.InstanceFactory {
	return func(owned types.OwnedWorkerID, version types.ComponentVersion) (worker.Instance, error) {
		funcs, ok := exports[owned.ComponentID]
		if !ok {
			return nil, fmt.Errorf("hostabi: no exports registered for component %s", owned.ComponentID)
		}
		h, err := svc.Open(owned, 0)
		if err != nil {
			return nil, fmt.Errorf("hostabi: open oplog for %s: %w", owned, err)
		}
		ctx := durability.NewContext(owned, h, h.CurrentIndex())
		return NewInstance(ctx, h, funcs, limiter, owned.ProjectID), nil
	}
}
