package hostabi

import (
	"encoding/binary"
	"fmt"

	"github.com/cuemby/golem-executor/pkg/durability"
	"github.com/cuemby/golem-executor/pkg/oplog"
	"github.com/cuemby/golem-executor/pkg/types"
	"github.com/google/uuid"
)

// Host binds golem:api/host against a single worker's durability context.
// One Host is constructed per active Instance and lives as long as the
// instance does.
type Host struct {
	ctx *durability.Context
}

// NewHost wraps ctx, the worker's live/replay state, in the host-function
// surface a component's imports are bound to.
func NewHost(ctx *durability.Context) *Host {
	return &Host{ctx: ctx}
}

// GetSelf returns the worker's own id, matching spec.md's golem:api/host
// "get_self". It is pure data already known to the context, so it is not
// recorded to the oplog — replaying it yields the same answer without a
// durability wrapper.
func (h *Host) GetSelf() types.OwnedWorkerID {
	return h.ctx.Owned
}

// GenerateIdempotencyKey produces a fresh key a worker can attach to an
// outbound call it wants deduplicated across retries. Random-number
// generation is non-deterministic, so it is recorded through
// durability.Invoke like any other host import: live execution draws a new
// uuid and records it, replay returns the one already recorded.
func (h *Host) GenerateIdempotencyKey() (string, error) {
	return durability.Invoke[string](
		h.ctx,
		"golem:api/host.generate-idempotency-key",
		oplog.WriteLocal,
		nil,
		func() (string, error) { return uuid.NewString(), nil },
		func(s string) ([]byte, error) { return []byte(s), nil },
		func(b []byte) (string, error) { return string(b), nil },
	)
}

// PushSpan enters a new invocation-context span, used by tracing imports
// that want sub-invocation causality without a full host call round trip.
func (h *Host) PushSpan(spanID string) { h.ctx.PushSpan(spanID) }

// PopSpan exits the current invocation-context span.
func (h *Host) PopSpan() { h.ctx.PopSpan() }

// CurrentSpan returns the innermost active span id, or "" outside any span.
func (h *Host) CurrentSpan() string { return h.ctx.CurrentSpan() }

// Fork implements golem:api/host.fork: the calling (source) worker's half
// of a fork. The target worker's oplog copy is produced by the caller
// (pkg/worker/pkg/api, which has the oplog.Service and the new worker id
// this Host is not given); Fork here only records and returns the value the
// source worker's own call resolves to.
func (h *Host) Fork() (durability.ForkResult, error) {
	return durability.ForkCallResult(h.ctx)
}

// RequestUpdate implements golem:api/host's update-trigger import: a
// running worker asking to be updated to targetVersion using mode. It
// records a PendingUpdate oplog entry; applying the update is the update
// pipeline's job (pkg/worker), not this call's.
func (h *Host) RequestUpdate(targetVersion types.ComponentVersion, mode types.UpdateMode) (oplog.Index, error) {
	return durability.RequestUpdate(h.ctx, targetVersion, mode)
}

// MonotonicClockNow implements the wasi-clocks-style monotonic-time import
// golem:api/host re-exports with durability: live execution reads real
// nanoseconds since an arbitrary epoch, replay returns what was recorded.
// Components that branch on elapsed time must see the same values on
// replay, which is exactly what routing this through durability.Invoke
// guarantees.
func (h *Host) MonotonicClockNow(nowFn func() uint64) (uint64, error) {
	return durability.Invoke[uint64](
		h.ctx,
		"golem:api/host.monotonic-clock-now",
		oplog.WriteLocal,
		nil,
		func() (uint64, error) { return nowFn(), nil },
		func(v uint64) ([]byte, error) {
			b := make([]byte, 8)
			binary.BigEndian.PutUint64(b, v)
			return b, nil
		},
		func(b []byte) (uint64, error) {
			if len(b) != 8 {
				return 0, fmt.Errorf("monotonic-clock-now: malformed recorded value")
			}
			return binary.BigEndian.Uint64(b), nil
		},
	)
}
