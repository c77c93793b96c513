package services

import (
	"context"
	"fmt"
	"sync"

	"github.com/cuemby/golem-executor/pkg/apierr"
	"github.com/cuemby/golem-executor/pkg/types"
	"github.com/google/uuid"
)

// PromiseService creates, completes, and awaits durable promises — the
// resource handle a worker blocks on while waiting for an external signal
// (an RPC reply, a scheduled wakeup).
type PromiseService interface {
	Create(workerID types.OwnedWorkerID, promiseID string) (string, error)
	Complete(token string, payload []byte) error
	Await(ctx context.Context, token string) ([]byte, error)
}

type promiseState struct {
	workerID  types.OwnedWorkerID
	promiseID string
	done      chan struct{}
	payload   []byte
	completed bool
}

// InMemoryPromiseService implements PromiseService with tokens resolved
// through closed channels, matching the style of pkg/events.Broker's
// channel-based fan-out rather than a poll loop. Tokens do not survive a
// process restart; durable across-restart promise state lives in the
// issuing worker's oplog (a PromiseCompletion entry), which is replayed
// independently of this in-memory index.
type InMemoryPromiseService struct {
	mu       sync.Mutex
	promises map[string]*promiseState
}

// NewInMemoryPromiseService constructs an empty promise table.
func NewInMemoryPromiseService() *InMemoryPromiseService {
	return &InMemoryPromiseService{promises: make(map[string]*promiseState)}
}

// Create issues a new token for (workerID, promiseID).
func (s *InMemoryPromiseService) Create(workerID types.OwnedWorkerID, promiseID string) (string, error) {
	token := uuid.NewString()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.promises[token] = &promiseState{
		workerID:  workerID,
		promiseID: promiseID,
		done:      make(chan struct{}),
	}
	return token, nil
}

// Complete resolves token with payload, waking every Await call blocked on
// it. Completing an already-completed token is a no-op, matching the
// oplog's own idempotent-append semantics for completion entries.
func (s *InMemoryPromiseService) Complete(token string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.promises[token]
	if !ok {
		return fmt.Errorf("services: unknown promise token %q: %w", token, apierr.ErrNotFound)
	}
	if st.completed {
		return nil
	}
	st.payload = payload
	st.completed = true
	close(st.done)
	return nil
}

// Await blocks until token is completed or ctx is canceled.
func (s *InMemoryPromiseService) Await(ctx context.Context, token string) ([]byte, error) {
	s.mu.Lock()
	st, ok := s.promises[token]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("services: unknown promise token %q: %w", token, apierr.ErrNotFound)
	}

	select {
	case <-st.done:
		s.mu.Lock()
		payload := st.payload
		s.mu.Unlock()
		return payload, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
