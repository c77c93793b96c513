package api

import (
	"github.com/cuemby/golem-executor/pkg/oplog"
	"github.com/cuemby/golem-executor/pkg/types"
)

// CreateWorkerRequest names the component and worker name to instantiate.
// ComponentVersion of 0 means "resolve the component's latest version".
type CreateWorkerRequest struct {
	ProjectID        string
	WorkerName       string
	ComponentID      types.ComponentID
	ComponentVersion types.ComponentVersion
}

// CreateWorkerResponse reports the worker the request created.
type CreateWorkerResponse struct {
	WorkerID string
	Err      string
}

// InvokeAndAwaitRequest runs functionName and waits for its result.
type InvokeAndAwaitRequest struct {
	Owned          types.OwnedWorkerID
	FunctionName   string
	IdempotencyKey string
	Input          []byte
}

// InvokeAndAwaitResponse carries the completed invocation's result.
type InvokeAndAwaitResponse struct {
	Output     []byte
	OplogIndex oplog.Index
	Err        string
}

// InvokeRequest schedules functionName without waiting for completion.
type InvokeRequest struct {
	Owned          types.OwnedWorkerID
	FunctionName   string
	IdempotencyKey string
	Input          []byte
}

// InvokeResponse acknowledges that invoke was scheduled; Err is only set
// when scheduling itself failed (e.g. the worker doesn't exist), never for
// the eventual result of the call.
type InvokeResponse struct {
	Err string
}

// GetMetadataRequest asks for a worker's current status record.
type GetMetadataRequest struct {
	Owned types.OwnedWorkerID
}

// GetMetadataResponse carries the worker's status, or Err if it doesn't
// exist or is owned by another pod.
type GetMetadataResponse struct {
	Status *types.WorkerStatusRecord
	Err    string
}

// InterruptRequest asks an active worker to stop at its next safe point.
type InterruptRequest struct {
	Owned types.OwnedWorkerID
}

// InterruptResponse acknowledges an interrupt request.
type InterruptResponse struct {
	Err string
}

// ResumeRequest brings a worker back to Running. Force overrides an
// explicit interrupt; without it, an interrupted worker stays interrupted.
type ResumeRequest struct {
	Owned types.OwnedWorkerID
	Force bool
}

// ResumeResponse acknowledges a resume request.
type ResumeResponse struct {
	Err string
}

// DeleteRequest removes a worker and discards its oplog.
type DeleteRequest struct {
	Owned types.OwnedWorkerID
}

// DeleteResponse acknowledges a delete request.
type DeleteResponse struct {
	Err string
}

// ForkRequest copies Source's oplog prefix [1, Cut] into a brand-new worker
// Target.
type ForkRequest struct {
	Source types.OwnedWorkerID
	Target types.OwnedWorkerID
	Cut    oplog.Index
}

// ForkResponse acknowledges a fork request.
type ForkResponse struct {
	Err string
}

// UpdateRequest requests a worker switch to TargetVersion via Mode.
type UpdateRequest struct {
	Owned         types.OwnedWorkerID
	TargetVersion types.ComponentVersion
	Mode          types.UpdateMode
}

// UpdateResponse carries the oplog index of the recorded PendingUpdate entry.
type UpdateResponse struct {
	OplogIndex oplog.Index
	Err        string
}

// GetOplogRequest reads a contiguous range of a worker's oplog, starting at
// From (1-based) for up to Count entries.
type GetOplogRequest struct {
	Owned types.OwnedWorkerID
	From  uint64
	Count int
}

// GetOplogResponse carries the requested entries, keyed by index.
type GetOplogResponse struct {
	Entries map[oplog.Index]*oplog.Entry
	Err     string
}

// SearchOplogRequest filters a worker's full oplog for entries whose
// function name, log message, or error message contains Query.
type SearchOplogRequest struct {
	Owned types.OwnedWorkerID
	Query string
}

// SearchOplogResponse carries the matching entries, in ascending index order.
type SearchOplogResponse struct {
	Entries []*oplog.Entry
	Err     string
}
