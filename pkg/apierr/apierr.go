// Package apierr collects the sentinel errors shared across the worker
// executor's own error taxonomy. Most call sites just
// wrap one of these with fmt.Errorf("...: %w", err); only ShardRedirectError
// carries structured data a caller needs to act on.
package apierr

import (
	"errors"
	"fmt"

	"github.com/cuemby/golem-executor/pkg/types"
)

var (
	// ErrInvalidRequest marks malformed caller input. Never retried.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrNotFound marks a missing worker, component, or promise.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists marks a create on an id that's already in use.
	ErrAlreadyExists = errors.New("already exists")

	// ErrOutOfResources marks a fuel, memory, or quota exhaustion.
	ErrOutOfResources = errors.New("out of resources")

	// ErrNonDeterministicExecution marks a replay divergence: fatal, requires
	// manual intervention.
	ErrNonDeterministicExecution = errors.New("non-deterministic execution during replay")

	// ErrStorageUnavailable marks a storage backend failure. Retried by the
	// service layer for hint writes; fatal for durable writes.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrWorkerTrap marks an unrecoverable WASM trap from user code.
	ErrWorkerTrap = errors.New("worker trap")

	// ErrWorkerInterrupted marks an explicit interrupt, not a failure.
	ErrWorkerInterrupted = errors.New("worker interrupted")

	// ErrComponentParseFailed marks a component that failed to load.
	ErrComponentParseFailed = errors.New("component parse failed")

	// ErrComponentInstantiationFailed marks an instantiation failure.
	ErrComponentInstantiationFailed = errors.New("component instantiation failed")
)

// ShardRedirectError is returned by a pod that does not own the requested
// worker's shard; the caller should retry against Owner.
type ShardRedirectError struct {
	Shard types.ShardID
	Owner types.PodID
}

func (e *ShardRedirectError) Error() string {
	return fmt.Sprintf("shard %d is owned by pod %s, not this pod", e.Shard, e.Owner)
}

// AsShardRedirect reports whether err is (or wraps) a *ShardRedirectError.
func AsShardRedirect(err error) (*ShardRedirectError, bool) {
	var redirect *ShardRedirectError
	if errors.As(err, &redirect) {
		return redirect, true
	}
	return nil, false
}
