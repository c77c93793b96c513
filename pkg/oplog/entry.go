package oplog

import (
	"time"

	"github.com/cuemby/golem-executor/pkg/types"
)

// Index is a dense, monotonic, 1-based oplog position. Index 1 is always Create.
type Index uint64

// Kind tags which of Entry's fields are meaningful. Every kind shares the
// single flat Entry struct.
type Kind string

const (
	KindCreate                   Kind = "create"
	KindExportedFunctionInvoked  Kind = "exported_function_invoked"
	KindExportedFunctionCompleted Kind = "exported_function_completed"
	KindImportedFunctionInvoked  Kind = "imported_function_invoked"
	KindJump                     Kind = "jump"
	KindSuspend                  Kind = "suspend"
	KindResume                   Kind = "resume"
	KindInterrupt                Kind = "interrupt"
	KindError                    Kind = "error"
	KindRestart                  Kind = "restart"
	KindPendingUpdate            Kind = "pending_update"
	KindSuccessfulUpdate         Kind = "successful_update"
	KindFailedUpdate             Kind = "failed_update"
	KindChangeRetryPolicy        Kind = "change_retry_policy"
	KindBeginAtomicRegion        Kind = "begin_atomic_region"
	KindEndAtomicRegion          Kind = "end_atomic_region"
	KindCreatePromise            Kind = "create_promise"
	KindCompletePromise          Kind = "complete_promise"
	KindGrowMemory               Kind = "grow_memory"
	KindLog                      Kind = "log"
)

// hintKinds mirrors the original implementation's is_hint() classification:
// entries whose loss on crash is tolerable because nothing depends on them
// for correctness, only for observability.
var hintKinds = map[Kind]bool{
	KindLog: true,
}

// IsHintEntry reports whether losing this entry on crash is acceptable.
// Everything that isn't a hint is durable and must survive a crash.
func IsHintEntry(e *Entry) bool {
	return hintKinds[e.Kind]
}

// DurableFunctionType classifies an ImportedFunctionInvoked call for replay
// and atomic-region purposes.
type DurableFunctionType string

const (
	WriteLocal        DurableFunctionType = "write_local"
	WriteRemote        DurableFunctionType = "write_remote"
	ReadRemote         DurableFunctionType = "read_remote"
	WriteRemoteBatched DurableFunctionType = "write_remote_batched"
)

// Payload is either Inline or External (content-addressed blob).
type Payload struct {
	Inline    []byte // nil when external
	PayloadID string // set when external
	MD5       []byte // set when external
}

// IsExternal reports whether this payload was uploaded to blob storage.
func (p Payload) IsExternal() bool {
	return p.PayloadID != ""
}

// Entry is the tagged union of all oplog entry kinds. Only the fields
// relevant to Kind are populated; this mirrors the original's enum-of-structs
// shape without requiring Go interfaces for what is, in practice, always
// switched on Kind by both the writer and the replay engine.
type Entry struct {
	Index Index
	Kind  Kind

	// Create
	ComponentID      types.ComponentID
	ComponentVersion types.ComponentVersion
	Env              map[string]string
	ParentWorker     *types.WorkerID
	InitialMemoryPages uint32

	// ExportedFunctionInvoked / ExportedFunctionCompleted
	IdempotencyKey     string
	FunctionName       string
	InputPayload       *Payload
	ResponsePayload    *Payload
	ConsumedFuel       int64
	InvocationContext  []SpanAttr

	// ImportedFunctionInvoked
	RequestPayload *Payload
	Durability     DurableFunctionType

	// Jump
	JumpFrom Index
	JumpTo   Index

	// Error / Restart
	ErrorMessage string

	// PendingUpdate / SuccessfulUpdate / FailedUpdate
	TargetVersion types.ComponentVersion
	UpdateMode    types.UpdateMode
	UpdateDetails string

	// ChangeRetryPolicy
	RetryPolicy types.RetryPolicy

	// CreatePromise / CompletePromise
	PromiseID      string
	PromisePayload *Payload

	// GrowMemory
	GrownPages uint32

	// Log
	LogLevel   string
	LogMessage string

	Timestamp time.Time
}

// SpanAttr is one key/value attribute set on an invocation-context span.
type SpanAttr struct {
	SpanID string
	Key    string
	Value  string
}
