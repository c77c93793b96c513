package storage

import (
	"encoding/binary"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"
)

// BoltIndexedStorage implements IndexedStorage on top of go.etcd.io/bbolt.
// Namespaces map to top-level buckets; each key within a namespace is a
// nested bucket whose entries are keyed by an 8-byte big-endian id, giving
// bbolt's native key ordering the same ascending-id semantics the interface
// promises.
type BoltIndexedStorage struct {
	db *bolt.DB
}

// NewBoltIndexedStorage opens (creating if necessary) a bbolt database at
// dataDir/indexed.db for use as the IndexedStorage backend.
func NewBoltIndexedStorage(dataDir string) (*BoltIndexedStorage, error) {
	path := filepath.Join(dataDir, "indexed.db")
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("open indexed storage: %w", err)
	}
	return &BoltIndexedStorage{db: db}, nil
}

// Close closes the underlying database.
func (s *BoltIndexedStorage) Close() error {
	return s.db.Close()
}

func idKey(id uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, id)
	return b
}

func idFromKey(k []byte) uint64 {
	return binary.BigEndian.Uint64(k)
}

func (s *BoltIndexedStorage) streamBucket(tx *bolt.Tx, ns, key string, create bool) (*bolt.Bucket, error) {
	var nsBucket *bolt.Bucket
	var err error
	if create {
		nsBucket, err = tx.CreateBucketIfNotExists([]byte(ns))
	} else {
		nsBucket = tx.Bucket([]byte(ns))
	}
	if err != nil {
		return nil, err
	}
	if nsBucket == nil {
		return nil, nil
	}
	if create {
		return nsBucket.CreateBucketIfNotExists([]byte(key))
	}
	return nsBucket.Bucket([]byte(key)), nil
}

func (s *BoltIndexedStorage) Append(ns, key string, id uint64, entry []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := s.streamBucket(tx, ns, key, true)
		if err != nil {
			return err
		}
		return b.Put(idKey(id), entry)
	})
}

func (s *BoltIndexedStorage) Read(ns, key string, from, to uint64) (map[uint64][]byte, error) {
	out := make(map[uint64][]byte)
	err := s.db.View(func(tx *bolt.Tx) error {
		b, err := s.streamBucket(tx, ns, key, false)
		if err != nil || b == nil {
			return err
		}
		c := b.Cursor()
		for k, v := c.Seek(idKey(from)); k != nil; k, v = c.Next() {
			id := idFromKey(k)
			if id > to {
				break
			}
			cp := make([]byte, len(v))
			copy(cp, v)
			out[id] = cp
		}
		return nil
	})
	return out, err
}

func (s *BoltIndexedStorage) LastID(ns, key string) (uint64, error) {
	var last uint64
	err := s.db.View(func(tx *bolt.Tx) error {
		b, err := s.streamBucket(tx, ns, key, false)
		if err != nil || b == nil {
			return err
		}
		k, _ := b.Cursor().Last()
		if k != nil {
			last = idFromKey(k)
		}
		return nil
	})
	return last, err
}

func (s *BoltIndexedStorage) Length(ns, key string) (uint64, error) {
	var n uint64
	err := s.db.View(func(tx *bolt.Tx) error {
		b, err := s.streamBucket(tx, ns, key, false)
		if err != nil || b == nil {
			return err
		}
		n = uint64(b.Stats().KeyN)
		return nil
	})
	return n, err
}

func (s *BoltIndexedStorage) DropPrefix(ns, key string, lastDropped uint64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := s.streamBucket(tx, ns, key, false)
		if err != nil || b == nil {
			return err
		}
		c := b.Cursor()
		var toDelete [][]byte
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			if idFromKey(k) > lastDropped {
				break
			}
			cp := make([]byte, len(k))
			copy(cp, k)
			toDelete = append(toDelete, cp)
		}
		for _, k := range toDelete {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		if b.Stats().KeyN == len(toDelete) {
			nsBucket := tx.Bucket([]byte(ns))
			return nsBucket.DeleteBucket([]byte(key))
		}
		return nil
	})
}

func (s *BoltIndexedStorage) Exists(ns, key string) (bool, error) {
	exists := false
	err := s.db.View(func(tx *bolt.Tx) error {
		b, err := s.streamBucket(tx, ns, key, false)
		if err != nil {
			return err
		}
		exists = b != nil
		return nil
	})
	return exists, err
}

func (s *BoltIndexedStorage) Delete(ns, key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		nsBucket := tx.Bucket([]byte(ns))
		if nsBucket == nil {
			return nil
		}
		if nsBucket.Bucket([]byte(key)) == nil {
			return nil
		}
		return nsBucket.DeleteBucket([]byte(key))
	})
}

func (s *BoltIndexedStorage) Scan(ns, pattern string, cursor uint64, count int) ([]string, uint64, error) {
	var keys []string
	var next uint64
	prefix := strings.TrimSuffix(pattern, "*")
	err := s.db.View(func(tx *bolt.Tx) error {
		nsBucket := tx.Bucket([]byte(ns))
		if nsBucket == nil {
			return nil
		}
		c := nsBucket.Cursor()
		i := uint64(0)
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if v != nil {
				continue // only nested buckets (streams) are scan targets
			}
			if i < cursor {
				i++
				continue
			}
			if strings.HasPrefix(string(k), prefix) {
				keys = append(keys, string(k))
			}
			i++
			if len(keys) >= count {
				next = i
				return nil
			}
		}
		return nil
	})
	return keys, next, err
}

func (s *BoltIndexedStorage) NumberOfReplicas() (int, error) {
	return 1, nil
}

func (s *BoltIndexedStorage) WaitForReplicas(_, _ string, count int, _ time.Duration) (bool, error) {
	return count <= 1, nil
}

// BoltBlobStorage implements BlobStorage on top of go.etcd.io/bbolt, used
// for externalized oplog payloads in single-node / local deployments.
type BoltBlobStorage struct {
	db *bolt.DB
}

// NewBoltBlobStorage opens (creating if necessary) a bbolt database at
// dataDir/blobs.db for use as the BlobStorage backend.
func NewBoltBlobStorage(dataDir string) (*BoltBlobStorage, error) {
	path := filepath.Join(dataDir, "blobs.db")
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("open blob storage: %w", err)
	}
	return &BoltBlobStorage{db: db}, nil
}

// Close closes the underlying database.
func (s *BoltBlobStorage) Close() error {
	return s.db.Close()
}

func (s *BoltBlobStorage) PutRaw(ns, path string, data []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(ns))
		if err != nil {
			return err
		}
		return b.Put([]byte(path), data)
	})
}

func (s *BoltBlobStorage) GetRaw(ns, path string) ([]byte, bool, error) {
	var out []byte
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(ns))
		if b == nil {
			return nil
		}
		v := b.Get([]byte(path))
		if v == nil {
			return nil
		}
		out = make([]byte, len(v))
		copy(out, v)
		found = true
		return nil
	})
	return out, found, err
}

func (s *BoltBlobStorage) Delete(ns, path string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(ns))
		if b == nil {
			return nil
		}
		return b.Delete([]byte(path))
	})
}

func (s *BoltBlobStorage) List(ns, prefix string) ([]string, error) {
	var keys []string
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(ns))
		if b == nil {
			return nil
		}
		c := b.Cursor()
		bp := []byte(prefix)
		for k, _ := c.Seek(bp); k != nil && strings.HasPrefix(string(k), prefix); k, _ = c.Next() {
			keys = append(keys, string(k))
		}
		return nil
	})
	return keys, err
}
