package durability

import "github.com/cuemby/golem-executor/pkg/oplog"

// BeginAtomicRegion and EndAtomicRegion fence a multi-step host interaction
// (e.g. a multi-call RPC batch) so that a crash partway through causes the
// whole region to re-execute on replay rather than resuming mid-region.
func BeginAtomicRegion(ctx *Context) (oplog.Index, error) {
	return ctx.Oplog.Add(&oplog.Entry{Kind: oplog.KindBeginAtomicRegion}, oplog.CommitDurableOnly)
}

// EndAtomicRegion closes the region opened by BeginAtomicRegion.
func EndAtomicRegion(ctx *Context) (oplog.Index, error) {
	return ctx.Oplog.Add(&oplog.Entry{Kind: oplog.KindEndAtomicRegion}, oplog.CommitDurableOnly)
}

// InAtomicRegion scans entries for an unterminated BeginAtomicRegion at or
// before idx, used by replay to recognize that a crash happened mid-region
// and the whole region must be redone rather than resumed.
func InAtomicRegion(entries map[oplog.Index]*oplog.Entry, upTo oplog.Index) (oplog.Index, bool) {
	depth := 0
	var openedAt oplog.Index
	for i := oplog.Index(1); i <= upTo; i++ {
		e, ok := entries[i]
		if !ok {
			continue
		}
		switch e.Kind {
		case oplog.KindBeginAtomicRegion:
			if depth == 0 {
				openedAt = i
			}
			depth++
		case oplog.KindEndAtomicRegion:
			if depth > 0 {
				depth--
			}
		}
	}
	return openedAt, depth > 0
}
