package durability

import (
	"fmt"

	"github.com/cuemby/golem-executor/pkg/oplog"
	"github.com/cuemby/golem-executor/pkg/types"
)

// RequestUpdate appends a PendingUpdate entry recording the operator's
// request to move a worker to targetVersion via mode. The actual swap
// happens later, during replay, via ApplyAutomaticUpdate or
// ApplySnapshotUpdate.
func RequestUpdate(ctx *Context, targetVersion types.ComponentVersion, mode types.UpdateMode) (oplog.Index, error) {
	return ctx.Oplog.Add(&oplog.Entry{
		Kind:          oplog.KindPendingUpdate,
		TargetVersion: targetVersion,
		UpdateMode:    mode,
	}, oplog.CommitAlways)
}

// SafeUpdateBoundary reports whether idx is a point at which an Automatic
// update may be applied: the entry at idx is an EndAtomicRegion, an
// ExportedFunctionCompleted (the end of a top-level invocation) or the
// Create entry. Only the entry at idx is inspected. Applying an
// update mid-atomic-region or mid-invocation would observe a different
// component's code partway through a unit of work the worker already
// committed to.
func SafeUpdateBoundary(entries map[oplog.Index]*oplog.Entry, idx oplog.Index) bool {
	e, ok := entries[idx]
	if !ok {
		return false
	}
	switch e.Kind {
	case oplog.KindEndAtomicRegion, oplog.KindExportedFunctionCompleted, oplog.KindCreate:
		return true
	default:
		return false
	}
}

// ApplyAutomaticUpdate performs an Automatic-mode update: the caller supplies
// swapComponent to actually repoint the running instance at the new
// component version once the replay engine has reached a safe boundary. On
// success a SuccessfulUpdate entry is recorded.
func ApplyAutomaticUpdate(ctx *Context, targetVersion types.ComponentVersion, swapComponent func(types.ComponentVersion) error) error {
	if err := swapComponent(targetVersion); err != nil {
		_, addErr := ctx.Oplog.Add(&oplog.Entry{
			Kind:          oplog.KindFailedUpdate,
			TargetVersion: targetVersion,
			UpdateDetails: err.Error(),
		}, oplog.CommitAlways)
		if addErr != nil {
			return fmt.Errorf("automatic update failed, and recording FailedUpdate also failed: %w (original: %v)", addErr, err)
		}
		return nil
	}

	_, err := ctx.Oplog.Add(&oplog.Entry{
		Kind:          oplog.KindSuccessfulUpdate,
		TargetVersion: targetVersion,
	}, oplog.CommitAlways)
	return err
}

// SnapshotUpdateFuncs names the two exports a Snapshot-based update calls on
// the old and new components.
type SnapshotUpdateFuncs struct {
	// TakeSnapshot is called on the currently running (old-version) instance.
	TakeSnapshot func() ([]byte, error)
	// RestoreSnapshot is called on the newly instantiated (new-version) one.
	RestoreSnapshot func([]byte) error
	// SwapComponent repoints the worker's instance at the new version before
	// RestoreSnapshot runs.
	SwapComponent func(types.ComponentVersion) error
}

// ApplySnapshotUpdate performs a Snapshot-based update: snapshot the old
// instance, swap components, restore into the new instance. Any failure at
// any step records FailedUpdate and leaves the worker on the old version.
func ApplySnapshotUpdate(ctx *Context, targetVersion types.ComponentVersion, fns SnapshotUpdateFuncs) error {
	snapshot, err := fns.TakeSnapshot()
	if err != nil {
		return recordFailedUpdate(ctx, targetVersion, fmt.Sprintf("snapshot export failed: %v", err))
	}

	if err := fns.SwapComponent(targetVersion); err != nil {
		return recordFailedUpdate(ctx, targetVersion, fmt.Sprintf("component swap failed: %v", err))
	}

	if err := fns.RestoreSnapshot(snapshot); err != nil {
		return recordFailedUpdate(ctx, targetVersion, fmt.Sprintf("restore export failed: %v", err))
	}

	_, err = ctx.Oplog.Add(&oplog.Entry{
		Kind:          oplog.KindSuccessfulUpdate,
		TargetVersion: targetVersion,
	}, oplog.CommitAlways)
	return err
}

func recordFailedUpdate(ctx *Context, targetVersion types.ComponentVersion, details string) error {
	_, err := ctx.Oplog.Add(&oplog.Entry{
		Kind:          oplog.KindFailedUpdate,
		TargetVersion: targetVersion,
		UpdateDetails: details,
	}, oplog.CommitAlways)
	return err
}
