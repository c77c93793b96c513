// Package workerproxy resolves a worker id to the pod that owns its shard
// and dispatches invocations and forks there, in-process if this pod is the
// owner or over gRPC otherwise.
package workerproxy
