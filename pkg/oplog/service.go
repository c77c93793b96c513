package oplog

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"path"
	"sync"
	"time"

	"github.com/cuemby/golem-executor/pkg/apierr"
	"github.com/cuemby/golem-executor/pkg/log"
	"github.com/cuemby/golem-executor/pkg/storage"
	"github.com/cuemby/golem-executor/pkg/types"
	"github.com/google/uuid"
)

const (
	namespace = "oplog"

	// maxPayloadInline is the default inline/external threshold in bytes.
	maxPayloadInline = 1024
)

// CommitLevel controls how eagerly Add's buffered entries are flushed.
type CommitLevel int

const (
	// CommitAlways forces an immediate flush regardless of buffer contents.
	CommitAlways CommitLevel = iota
	// CommitDurableOnly flushes only if the buffer holds a non-hint entry.
	CommitDurableOnly
	// CommitHint defers the flush (subject to maxOperationsBeforeCommit).
	CommitHint
)

// Service is the oplog contract: persist entries per worker,
// serve range reads, manage external payloads, and coordinate commits.
type Service interface {
	Create(owned types.OwnedWorkerID, createEntry *Entry) (Handle, error)
	Open(owned types.OwnedWorkerID, lastKnownIndex Index) (Handle, error)
	ScanForComponent(componentID types.ComponentID, cursor uint64, count int) ([]types.WorkerID, uint64, error)
}

// Handle is a reference-counted, per-worker view of an open oplog stream.
// Multiple callers opening the same worker share the same underlying state,
// idempotent across multiple callers opening the same worker.
type Handle interface {
	Add(entry *Entry, level CommitLevel) (Index, error)
	Read(from, n uint64) (map[Index]*Entry, error)
	DropPrefix(lastDropped Index) error
	CurrentIndex() Index
	LastAddedNonHintEntry() (Index, bool)
	WaitForReplicas(count int, timeout time.Duration) (bool, error)
	UploadPayload(owned types.OwnedWorkerID, data []byte) (*Payload, error)
	DownloadPayload(owned types.OwnedWorkerID, payload *Payload) ([]byte, error)
	Close()
}

type service struct {
	indexed storage.IndexedStorage
	blobs   storage.BlobStorage

	maxOpsBeforeCommit uint64
	maxPayloadInline    int

	mu    sync.Mutex
	open  map[types.WorkerID]*openOplog
}

// NewService constructs the primary oplog service on top of the given
// storage backends, grounded on the original implementation's
// PrimaryOplogService.
func NewService(indexed storage.IndexedStorage, blobs storage.BlobStorage, maxOpsBeforeCommit uint64) Service {
	return &service{
		indexed:             indexed,
		blobs:               blobs,
		maxOpsBeforeCommit:  maxOpsBeforeCommit,
		maxPayloadInline:    maxPayloadInline,
		open:                make(map[types.WorkerID]*openOplog),
	}
}

func streamKey(owned types.OwnedWorkerID) string {
	return fmt.Sprintf("%s:%s", owned.WorkerID.ComponentID, owned.WorkerID.Name)
}

func (s *service) Create(owned types.OwnedWorkerID, createEntry *Entry) (Handle, error) {
	exists, err := s.indexed.Exists(namespace, streamKey(owned))
	if err != nil {
		return nil, fmt.Errorf("oplog create: %w", err)
	}
	if exists {
		return nil, fmt.Errorf("oplog create %s: %w", owned, apierr.ErrAlreadyExists)
	}

	h := s.acquire(owned)
	if createEntry == nil {
		createEntry = &Entry{Kind: KindCreate}
	}
	createEntry.Index = 1
	if _, err := h.Add(createEntry, CommitAlways); err != nil {
		s.release(owned)
		return nil, err
	}
	return h, nil
}

func (s *service) Open(owned types.OwnedWorkerID, lastKnownIndex Index) (Handle, error) {
	exists, err := s.indexed.Exists(namespace, streamKey(owned))
	if err != nil {
		return nil, fmt.Errorf("oplog open: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("oplog open %s: %w", owned, apierr.ErrNotFound)
	}
	return s.acquire(owned), nil
}

func (s *service) ScanForComponent(componentID types.ComponentID, cursor uint64, count int) ([]types.WorkerID, uint64, error) {
	pattern := string(componentID) + ":*"
	keys, next, err := s.indexed.Scan(namespace, pattern, cursor, count)
	if err != nil {
		return nil, 0, err
	}
	workers := make([]types.WorkerID, 0, len(keys))
	for _, k := range keys {
		idx := len(componentID) + 1
		if idx > len(k) {
			continue
		}
		workers = append(workers, types.WorkerID{ComponentID: componentID, Name: k[idx:]})
	}
	return workers, next, nil
}

// acquire returns the shared handle for owned, opening a new one if this is
// the first caller. Mirrors the teacher's pattern of a registry guarding
// shared mutable state behind one mutex per entry, generalized from a
// cluster-wide FSM to a per-worker oplog handle.
func (s *service) acquire(owned types.OwnedWorkerID) *openOplog {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.open[owned.WorkerID]
	if ok {
		h.refs++
		return h
	}
	h = &openOplog{
		svc:   s,
		owned: owned,
		key:   streamKey(owned),
	}
	lastID, _ := s.indexed.LastID(namespace, h.key)
	h.current = Index(lastID)
	h.refs = 1
	s.open[owned.WorkerID] = h
	return h
}

func (s *service) release(owned types.OwnedWorkerID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.open[owned.WorkerID]
	if !ok {
		return
	}
	h.refs--
	if h.refs <= 0 {
		delete(s.open, owned.WorkerID)
	}
}

// openOplog is the shared, reference-counted state behind a Handle.
type openOplog struct {
	svc   *service
	owned types.OwnedWorkerID
	key   string

	mu               sync.Mutex
	current          Index
	buffer           []*Entry
	lastNonHint      Index
	hasNonHint       bool
	refs             int
	closed           bool
}

func (h *openOplog) Add(entry *Entry, level CommitLevel) (Index, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.current++
	entry.Index = h.current
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	h.buffer = append(h.buffer, entry)
	if !IsHintEntry(entry) {
		h.lastNonHint = entry.Index
		h.hasNonHint = true
	}

	shouldCommit := level == CommitAlways ||
		(level == CommitDurableOnly && !IsHintEntry(entry)) ||
		uint64(len(h.buffer)) >= h.svc.maxOpsBeforeCommit

	if shouldCommit {
		if err := h.commitLocked(); err != nil {
			return entry.Index, err
		}
	}
	return entry.Index, nil
}

func (h *openOplog) commitLocked() error {
	for _, e := range h.buffer {
		data, err := encodeEntry(e)
		if err != nil {
			return fmt.Errorf("oplog encode: %w", err)
		}
		if err := h.svc.indexed.Append(namespace, h.key, uint64(e.Index), data); err != nil {
			if IsHintEntry(e) {
				log.WithComponent("oplog").Warn().Err(err).Str("worker", h.owned.String()).Msg("dropping hint entry after storage error")
				continue
			}
			return fmt.Errorf("oplog append durable entry: %w: %w", apierr.ErrStorageUnavailable, err)
		}
	}
	h.buffer = h.buffer[:0]
	return nil
}

func (h *openOplog) Read(from, n uint64) (map[Index]*Entry, error) {
	raw, err := h.svc.indexed.Read(namespace, h.key, from, from+n-1)
	if err != nil {
		return nil, err
	}
	out := make(map[Index]*Entry, len(raw))
	for id, data := range raw {
		e, err := decodeEntry(data)
		if err != nil {
			return nil, fmt.Errorf("oplog decode index %d: %w", id, err)
		}
		out[Index(id)] = e
	}
	return out, nil
}

func (h *openOplog) DropPrefix(lastDropped Index) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.svc.indexed.DropPrefix(namespace, h.key, uint64(lastDropped))
}

func (h *openOplog) CurrentIndex() Index {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.current
}

func (h *openOplog) LastAddedNonHintEntry() (Index, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastNonHint, h.hasNonHint
}

func (h *openOplog) WaitForReplicas(count int, timeout time.Duration) (bool, error) {
	return h.svc.indexed.WaitForReplicas(namespace, h.key, count, timeout)
}

func (h *openOplog) UploadPayload(owned types.OwnedWorkerID, data []byte) (*Payload, error) {
	if len(data) <= h.svc.maxPayloadInline {
		return &Payload{Inline: data}, nil
	}
	sum := md5.Sum(data)
	hexSum := hex.EncodeToString(sum[:])
	id := uuid.NewString()
	blobPath := path.Join(owned.ProjectID, owned.WorkerID.String(), hexSum, id)
	if err := h.svc.blobs.PutRaw("oplog-payload", blobPath, data); err != nil {
		return nil, fmt.Errorf("upload payload: %w", err)
	}
	return &Payload{PayloadID: id, MD5: sum[:]}, nil
}

func (h *openOplog) DownloadPayload(owned types.OwnedWorkerID, payload *Payload) ([]byte, error) {
	if !payload.IsExternal() {
		return payload.Inline, nil
	}
	hexSum := hex.EncodeToString(payload.MD5)
	blobPath := path.Join(owned.ProjectID, owned.WorkerID.String(), hexSum, payload.PayloadID)
	data, found, err := h.svc.blobs.GetRaw("oplog-payload", blobPath)
	if err != nil {
		return nil, fmt.Errorf("download payload: %w", err)
	}
	if !found {
		return nil, fmt.Errorf("download payload %s: %w", payload.PayloadID, apierr.ErrNotFound)
	}
	return data, nil
}

func (h *openOplog) Close() {
	h.mu.Lock()
	if !h.closed && len(h.buffer) > 0 {
		_ = h.commitLocked()
	}
	h.closed = true
	h.mu.Unlock()
	h.svc.release(h.owned)
}
