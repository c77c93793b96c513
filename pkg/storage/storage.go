// Package storage defines the two abstract primitives the rest of the
// executor is built on: IndexedStorage, an ordered append-only
// log keyed by (namespace, key), and BlobStorage, a byte store keyed by
// caller-chosen (namespace, path). The oplog service and its payload store
// go through these interfaces rather than talking to bbolt directly (the
// timer scheduler's event store uses bbolt itself), mirroring the teacher's
// Store-interface/BoltStore split.
package storage

import "time"

// IndexedStorage is an ordered, append-only key-value log. A (namespace, key)
// pair names one logical stream; entries within it are addressed by a dense
// ascending id.
type IndexedStorage interface {
	// Append adds entry at id, which must be exactly one greater than the
	// stream's current last id (or 1 for a new stream).
	Append(ns, key string, id uint64, entry []byte) error

	// Read returns entries with id in [from, to], in ascending order.
	Read(ns, key string, from, to uint64) (map[uint64][]byte, error)

	// LastID returns the highest id written to the stream, or 0 if empty.
	LastID(ns, key string) (uint64, error)

	// Length returns the number of entries currently in the stream.
	Length(ns, key string) (uint64, error)

	// DropPrefix deletes all entries with id <= lastDropped.
	DropPrefix(ns, key string, lastDropped uint64) error

	// Exists reports whether the stream has any entries.
	Exists(ns, key string) (bool, error)

	// Delete removes the stream entirely.
	Delete(ns, key string) error

	// Scan enumerates keys in ns matching pattern, paged by cursor.
	Scan(ns, pattern string, cursor uint64, count int) (keys []string, nextCursor uint64, err error)

	// NumberOfReplicas reports how many storage replicas acknowledge writes.
	// The local bbolt backend is single-node, so this is always 1.
	NumberOfReplicas() (int, error)

	// WaitForReplicas blocks until count replicas have acknowledged the
	// latest committed write to ns/key, or timeout elapses.
	WaitForReplicas(ns, key string, count int, timeout time.Duration) (bool, error)
}

// BlobStorage is a byte store keyed by (namespace, path), used for externalized oplog
// payloads and any other blob too large to inline.
type BlobStorage interface {
	PutRaw(ns, path string, data []byte) error
	GetRaw(ns, path string) ([]byte, bool, error)
	Delete(ns, path string) error
	List(ns, prefix string) ([]string, error)
}
