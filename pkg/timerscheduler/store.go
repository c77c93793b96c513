package timerscheduler

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/golem-executor/pkg/apierr"
	bolt "go.etcd.io/bbolt"
)

const eventsBucket = "timerscheduler-events"

// BoltEventStore persists scheduled events in a bbolt bucket, one key per
// event id. Grounded on pkg/storage's bbolt usage, reused directly here
// rather than duplicated since the access pattern (get/put/delete/scan by
// key) is identical.
type BoltEventStore struct {
	db *bolt.DB
}

// NewBoltEventStore opens (creating if necessary) a bucket for scheduled
// events within an already-open bbolt database.
func NewBoltEventStore(db *bolt.DB) (*BoltEventStore, error) {
	err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(eventsBucket))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("timerscheduler: create bucket: %w", err)
	}
	return &BoltEventStore{db: db}, nil
}

func (s *BoltEventStore) Put(event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("timerscheduler: encode event: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(eventsBucket)).Put([]byte(event.ID), data)
	})
}

func (s *BoltEventStore) Delete(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(eventsBucket))
		if b.Get([]byte(id)) == nil {
			return fmt.Errorf("timerscheduler: event %s: %w", id, apierr.ErrNotFound)
		}
		return b.Delete([]byte(id))
	})
}

func (s *BoltEventStore) ListDue(before time.Time) ([]Event, error) {
	all, err := s.ListAll()
	if err != nil {
		return nil, err
	}
	var due []Event
	for _, e := range all {
		if !e.FireAt.After(before) {
			due = append(due, e)
		}
	}
	return due, nil
}

func (s *BoltEventStore) ListAll() ([]Event, error) {
	var out []Event
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(eventsBucket))
		return b.ForEach(func(k, v []byte) error {
			var e Event
			if err := json.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("timerscheduler: decode event %s: %w", k, err)
			}
			out = append(out, e)
			return nil
		})
	})
	return out, err
}

// MemoryEventStore is an in-process EventStore for tests and single-process
// embedding where durability across restarts is not required.
type MemoryEventStore struct {
	mu     sync.Mutex
	events map[string]Event
}

// NewMemoryEventStore constructs an empty in-memory store.
func NewMemoryEventStore() *MemoryEventStore {
	return &MemoryEventStore{events: make(map[string]Event)}
}

func (s *MemoryEventStore) Put(event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[event.ID] = event
	return nil
}

func (s *MemoryEventStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.events[id]; !ok {
		return fmt.Errorf("timerscheduler: event %s: %w", id, apierr.ErrNotFound)
	}
	delete(s.events, id)
	return nil
}

func (s *MemoryEventStore) ListDue(before time.Time) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []Event
	for _, e := range s.events {
		if !e.FireAt.After(before) {
			due = append(due, e)
		}
	}
	return due, nil
}

func (s *MemoryEventStore) ListAll() ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e)
	}
	return out, nil
}
