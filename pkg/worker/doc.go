/*
Package worker implements the per-pod active worker set: loading a
worker's durable context from its oplog, instantiating its component,
queuing and running invocations, and evicting idle workers under memory
pressure via LRU.

Grounded on the teacher's pkg/worker/worker.go, whose
mutex-guarded map-of-structs and ticker/stopCh goroutine shape is kept and
generalized: one map entry per active unit becomes one LRU entry per
worker, and the container lifecycle (pull image, mount secrets, run)
becomes the worker lifecycle (load oplog, instantiate, process queue).
*/
package worker
