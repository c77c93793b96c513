/*
Package storage implements the two abstract storage primitives the rest
of the codebase builds on: IndexedStorage (an ordered, append-only log
keyed by namespace+key,
backing the oplog) and BlobStorage (a byte store keyed by namespace+path,
backing externalized oplog payloads and component records). Both are
interfaces so a future non-bbolt backend is a second implementation, not a
rewrite of the callers.
*/
package storage
