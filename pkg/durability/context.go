package durability

import (
	"fmt"
	"sync"

	"github.com/cuemby/golem-executor/pkg/apierr"
	"github.com/cuemby/golem-executor/pkg/oplog"
	"github.com/cuemby/golem-executor/pkg/types"
)

// Context is the per-worker state the durable host ABI wrapper consults on
// every host call: whether the worker is live or replaying, and if
// replaying, where the replay cursor is. This generalizes the single
// is_live() flag into the one object every host binding holds a
// reference to.
type Context struct {
	Owned types.OwnedWorkerID
	Oplog oplog.Handle

	mu           sync.Mutex
	replayTarget oplog.Index // length of the oplog when this context was (re)loaded
	replayCursor oplog.Index // next index replay will consult; 0 once replay is exhausted
	seenKeys     map[string]oplog.Index
	spanStack    []string
}

// NewContext builds a context in replay mode if replayTarget > 1 (there is
// history beyond the Create entry to catch up on), or live mode otherwise
// (a brand-new worker).
func NewContext(owned types.OwnedWorkerID, h oplog.Handle, replayTarget oplog.Index) *Context {
	c := &Context{
		Owned:        owned,
		Oplog:        h,
		replayTarget: replayTarget,
		seenKeys:     make(map[string]oplog.Index),
	}
	// Index 1 is always the Create entry, which no host call consumes, so
	// host-call replay starts at index 2.
	if replayTarget > 0 {
		c.replayCursor = 2
	}
	return c
}

// IsLive reports whether host calls should execute-and-record (true) or
// consult-and-skip (false, replay mode).
func (c *Context) IsLive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.replayCursor == 0 || c.replayCursor > c.replayTarget
}

// EnterLive transitions the context out of replay once the tape is exhausted.
func (c *Context) EnterLive() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.replayCursor = 0
}

// NextReplayEntry returns the next oplog entry the replay cursor should
// consult, advancing the cursor. Returns (nil, false) once replay is done.
func (c *Context) NextReplayEntry() (*oplog.Entry, bool, error) {
	c.mu.Lock()
	if c.replayCursor == 0 || c.replayCursor > c.replayTarget {
		c.mu.Unlock()
		return nil, false, nil
	}
	idx := c.replayCursor
	c.mu.Unlock()

	entries, err := c.Oplog.Read(uint64(idx), 1)
	if err != nil {
		return nil, false, err
	}
	entry, ok := entries[idx]
	if !ok {
		return nil, false, fmt.Errorf("replay: missing oplog entry at index %d", idx)
	}

	c.mu.Lock()
	c.replayCursor = idx + 1
	if c.replayCursor > c.replayTarget {
		c.replayCursor = 0 // exhausted; next IsLive() call flips to live
	}
	c.mu.Unlock()

	return entry, true, nil
}

// Jump inserts a Jump entry and advances the replay cursor to `to`, skipping
// the range in between (used by updates and manual rewinds).
func (c *Context) Jump(from, to oplog.Index) error {
	if _, err := c.Oplog.Add(&oplog.Entry{Kind: oplog.KindJump, JumpFrom: from, JumpTo: to}, oplog.CommitDurableOnly); err != nil {
		return err
	}
	c.mu.Lock()
	c.replayCursor = to
	c.mu.Unlock()
	return nil
}

// CheckIdempotencyKey reports whether key has already been recorded for a
// top-level invocation, and if so, at which index. Used to dedupe retries of
// ExportedFunctionInvoked.
func (c *Context) CheckIdempotencyKey(key string) (oplog.Index, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx, ok := c.seenKeys[key]
	return idx, ok
}

// RecordIdempotencyKey remembers that key was used for the invocation at idx.
func (c *Context) RecordIdempotencyKey(key string, idx oplog.Index) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if key != "" {
		c.seenKeys[key] = idx
	}
}

// PushSpan enters a new invocation-context span.
func (c *Context) PushSpan(spanID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.spanStack = append(c.spanStack, spanID)
}

// PopSpan exits the current invocation-context span.
func (c *Context) PopSpan() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.spanStack) > 0 {
		c.spanStack = c.spanStack[:len(c.spanStack)-1]
	}
}

// CurrentSpan returns the innermost span id, or "" if the stack is empty.
func (c *Context) CurrentSpan() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.spanStack) == 0 {
		return ""
	}
	return c.spanStack[len(c.spanStack)-1]
}

// nonDeterministic wraps apierr.ErrNonDeterministicExecution with detail
// about which function diverged, for the Failed worker's error message.
func nonDeterministic(functionName string, reason string) error {
	return fmt.Errorf("%s: %w (%s)", functionName, apierr.ErrNonDeterministicExecution, reason)
}
