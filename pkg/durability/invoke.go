package durability

import (
	"fmt"

	"github.com/cuemby/golem-executor/pkg/oplog"
)

// commitLevelFor maps a DurableFunctionType to the commit level its
// ImportedFunctionInvoked/Completed pair should use. WriteRemoteBatched calls
// are allowed to coalesce like hints; everything that mutates local or remote
// state the worker depends on for correctness commits durably.
func commitLevelFor(t oplog.DurableFunctionType) oplog.CommitLevel {
	if t == oplog.WriteRemoteBatched {
		return oplog.CommitHint
	}
	return oplog.CommitDurableOnly
}

// Invoke is the generic host-call wrapper every durable import binds to. In
// live mode it runs execute, serializes the response, and records an
// ImportedFunctionInvoked/request and implicit completion pair to the oplog.
// In replay mode it instead consults the next oplog entry, skips execute
// entirely, and deserializes the recorded response. This is the Durability[T]
// abstraction that is the host ABI's single load-bearing primitive:
// every non-deterministic import (clock reads, random bytes,
// outbound RPC, file IO) goes through exactly this function.
func Invoke[Resp any](
	ctx *Context,
	functionName string,
	durabilityType oplog.DurableFunctionType,
	request []byte,
	execute func() (Resp, error),
	serialize func(Resp) ([]byte, error),
	deserialize func([]byte) (Resp, error),
) (Resp, error) {
	var zero Resp

	if ctx.IsLive() {
		return invokeLive(ctx, functionName, durabilityType, request, execute, serialize)
	}

	entry, ok, err := ctx.NextReplayEntry()
	if err != nil {
		return zero, err
	}
	if !ok {
		ctx.EnterLive()
		return invokeLive(ctx, functionName, durabilityType, request, execute, serialize)
	}
	if entry.Kind != oplog.KindImportedFunctionInvoked {
		return zero, nonDeterministic(functionName, fmt.Sprintf("expected imported-function-invoked entry, found %s", entry.Kind))
	}
	if entry.FunctionName != functionName {
		return zero, nonDeterministic(functionName, fmt.Sprintf("replay expected call to %q, worker called %q", entry.FunctionName, functionName))
	}

	raw, err := ctx.Oplog.DownloadPayload(ctx.Owned, entry.ResponsePayload)
	if err != nil {
		return zero, fmt.Errorf("replay %s: download recorded response: %w", functionName, err)
	}
	return deserialize(raw)
}

func invokeLive[Resp any](
	ctx *Context,
	functionName string,
	durabilityType oplog.DurableFunctionType,
	request []byte,
	execute func() (Resp, error),
	serialize func(Resp) ([]byte, error),
) (Resp, error) {
	var zero Resp

	reqPayload, err := ctx.Oplog.UploadPayload(ctx.Owned, request)
	if err != nil {
		return zero, fmt.Errorf("invoke %s: upload request: %w", functionName, err)
	}

	resp, execErr := execute()

	respBytes, err := serialize(resp)
	if err != nil {
		return zero, fmt.Errorf("invoke %s: serialize response: %w", functionName, err)
	}
	respPayload, err := ctx.Oplog.UploadPayload(ctx.Owned, respBytes)
	if err != nil {
		return zero, fmt.Errorf("invoke %s: upload response: %w", functionName, err)
	}

	_, addErr := ctx.Oplog.Add(&oplog.Entry{
		Kind:           oplog.KindImportedFunctionInvoked,
		FunctionName:   functionName,
		Durability:     durabilityType,
		RequestPayload: reqPayload,
		ResponsePayload: respPayload,
	}, commitLevelFor(durabilityType))
	if addErr != nil {
		return zero, fmt.Errorf("invoke %s: record call: %w", functionName, addErr)
	}

	if execErr != nil {
		return resp, execErr
	}
	return resp, nil
}

// InvokeExported wraps a top-level ExportedFunctionInvoked call with
// idempotency-key dedup: if the key was already used for a
// completed invocation, the prior result is not re-derived here — callers
// consult the worker's status/oplog directly. This function only records the
// new invocation when the key is unused.
func InvokeExported(ctx *Context, functionName, idempotencyKey string, input []byte) (oplog.Index, bool, error) {
	if idempotencyKey != "" {
		if idx, seen := ctx.CheckIdempotencyKey(idempotencyKey); seen {
			return idx, true, nil
		}
	}

	reqPayload, err := ctx.Oplog.UploadPayload(ctx.Owned, input)
	if err != nil {
		return 0, false, fmt.Errorf("invoke exported %s: %w", functionName, err)
	}

	idx, err := ctx.Oplog.Add(&oplog.Entry{
		Kind:           oplog.KindExportedFunctionInvoked,
		FunctionName:   functionName,
		IdempotencyKey: idempotencyKey,
		InputPayload:   reqPayload,
	}, oplog.CommitAlways)
	if err != nil {
		return 0, false, err
	}
	ctx.RecordIdempotencyKey(idempotencyKey, idx)
	return idx, false, nil
}

// CompleteExported records the ExportedFunctionCompleted entry that closes
// out an invocation started with InvokeExported.
func CompleteExported(ctx *Context, functionName string, output []byte, consumedFuel int64) (oplog.Index, error) {
	respPayload, err := ctx.Oplog.UploadPayload(ctx.Owned, output)
	if err != nil {
		return 0, fmt.Errorf("complete exported %s: %w", functionName, err)
	}
	return ctx.Oplog.Add(&oplog.Entry{
		Kind:            oplog.KindExportedFunctionCompleted,
		FunctionName:    functionName,
		ResponsePayload: respPayload,
		ConsumedFuel:    consumedFuel,
	}, oplog.CommitAlways)
}

// RecordFatal appends an Error entry, used whenever live execution or replay
// validation hits an unrecoverable condition. Callers are responsible for
// transitioning the worker's status afterward.
func RecordFatal(ctx *Context, err error) {
	_, _ = ctx.Oplog.Add(&oplog.Entry{Kind: oplog.KindError, ErrorMessage: err.Error()}, oplog.CommitAlways)
}
