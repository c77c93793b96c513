/*
Package oplog implements the per-worker append-only log: entry encoding,
commit batching, external payload handling, and the reference-counted handle
registry that lets multiple callers share one open stream per worker.

Grounded on the original implementation's PrimaryOplogService
(golem-worker-executor/src/services/oplog/primary.rs): one logical stream per
worker keyed "{component_id}:{worker_name}", inline-vs-external payloads
decided by a size threshold, and a hint/durable split that lets log lines be
dropped on a storage error while everything else is fatal.
*/
package oplog
