package durability

import (
	"fmt"

	"github.com/cuemby/golem-executor/pkg/oplog"
	"github.com/cuemby/golem-executor/pkg/types"
)

// ForkResult is the value a golem:api/host.fork call resolves to, which
// differs between the source and the newly created worker even though both
// replay from the same shared prefix.
type ForkResult string

const (
	ForkResultOriginal ForkResult = "original"
	ForkResultForked    ForkResult = "forked"
)

// Fork creates targetOwned as a copy of source's oplog entries [1..=cut].
// The copied Create entry keeps its fields and gains ParentWorker set to the
// source worker id; Entry has no worker id field of its own, so the target
// is identified only by the stream it is written to. Fork then appends a
// synthetic host.fork ImportedFunctionInvoked entry to the target stream
// only; the source side's entry is written by ForkCallResult. The target's
// entry carries no response payload, and nothing in this package returns
// ForkResultForked.
func Fork(svc oplog.Service, sourceOwned, targetOwned types.OwnedWorkerID, cut oplog.Index) error {
	sourceHandle, err := svc.Open(sourceOwned, 0)
	if err != nil {
		return fmt.Errorf("fork: open source %s: %w", sourceOwned, err)
	}
	defer sourceHandle.Close()

	entries, err := sourceHandle.Read(1, uint64(cut))
	if err != nil {
		return fmt.Errorf("fork: read source prefix: %w", err)
	}
	if _, ok := entries[1]; !ok || entries[1].Kind != oplog.KindCreate {
		return fmt.Errorf("fork: source %s has no Create entry at index 1", sourceOwned)
	}

	createEntry := *entries[1]
	createEntry.ParentWorker = &sourceOwned.WorkerID

	targetHandle, err := svc.Create(targetOwned, &createEntry)
	if err != nil {
		return fmt.Errorf("fork: create target %s: %w", targetOwned, err)
	}
	defer targetHandle.Close()

	for i := oplog.Index(2); i <= cut; i++ {
		e, ok := entries[i]
		if !ok {
			return fmt.Errorf("fork: source %s missing entry at index %d within cut %d", sourceOwned, i, cut)
		}
		copied := *e
		if _, err := targetHandle.Add(&copied, oplog.CommitDurableOnly); err != nil {
			return fmt.Errorf("fork: copy entry %d to target: %w", i, err)
		}
	}

	if _, err := targetHandle.Add(&oplog.Entry{
		Kind:         oplog.KindImportedFunctionInvoked,
		FunctionName: "golem:api/host.fork",
		Durability:   oplog.WriteLocal,
	}, oplog.CommitDurableOnly); err != nil {
		return fmt.Errorf("fork: record target-side host.fork: %w", err)
	}

	return nil
}

// ForkCallResult returns the value the invoking context should observe from
// its own golem:api/host.fork call, and records it to the source oplog. This
// is called on the source worker immediately after Fork succeeds.
func ForkCallResult(ctx *Context) (ForkResult, error) {
	_, err := ctx.Oplog.Add(&oplog.Entry{
		Kind:         oplog.KindImportedFunctionInvoked,
		FunctionName: "golem:api/host.fork",
		Durability:   oplog.WriteLocal,
	}, oplog.CommitDurableOnly)
	if err != nil {
		return "", fmt.Errorf("fork: record source-side host.fork: %w", err)
	}
	return ForkResultOriginal, nil
}
