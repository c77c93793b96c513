// Package hostabi implements the worker-facing host functions Golem exposes
// to a running component: golem:api/host (idempotency keys, invocation
// spans, update requests, get-self, fork), golem:rpc/types (typed remote
// invocation handles, cancellation, future results), and golem:rdbms/*
// (durable query execution). Calls that read the outside world (idempotency
// keys, the clock, RPC, rdbms) route through pkg/durability.Invoke so that
// live execution and replay share one recording/consulting path; GetSelf
// and the span stack are local reads, and Fork and RequestUpdate append
// their oplog entries directly. There is no embedded WASM engine — components
// call these as plain Go methods through the same table a wasmtime host
// module would bind them to.
package hostabi
