// Package timerscheduler tracks time-based and signal-based wakeups for
// suspended workers: promise completions, scheduled invocations, and
// archival sweeps. Grounded on the teacher's pkg/scheduler ticker/run/stopCh
// loop shape, generalized from "reconcile desired container replica count"
// to "fire due timers and post triggers to their target workers".
package timerscheduler

import (
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/golem-executor/pkg/log"
	"github.com/cuemby/golem-executor/pkg/types"
	"github.com/rs/zerolog"
)

// Kind identifies which of the three event kinds a ScheduledEvent
// represents.
type Kind string

const (
	KindPromiseCompletion Kind = "promise_completion"
	KindScheduledInvocation Kind = "scheduled_invocation"
	KindArchive           Kind = "archive"
)

// Event is one persisted, time- or signal-triggered wakeup.
type Event struct {
	ID         string
	Kind       Kind
	WorkerID   types.OwnedWorkerID
	FireAt     time.Time
	PromiseID  string // set for KindPromiseCompletion
	FunctionName string // set for KindScheduledInvocation
	Input      []byte
	Fired      bool
}

// Trigger is posted to a worker when one of its events fires.
type Trigger struct {
	EventID      string
	Kind         Kind
	WorkerID     types.OwnedWorkerID
	PromiseID    string
	FunctionName string
	Input        []byte
}

// TriggerSink receives triggers as they fire. Implemented by the active
// worker set (or a thin adapter over it) so this package does not depend
// on pkg/worker directly.
type TriggerSink interface {
	Post(Trigger)
}

// EventStore persists scheduled events so the scheduler survives restarts.
// Grounded on the storage abstraction the rest of the codebase uses:
// in-process implementations are interchangeable, swappable at
// construction time.
type EventStore interface {
	Put(Event) error
	Delete(id string) error
	ListDue(before time.Time) ([]Event, error)
	ListAll() ([]Event, error)
}

// Service is the scheduler: a persisted set of events and a ticker-driven
// loop that fires due ones exactly once.
type Service struct {
	store  EventStore
	sink   TriggerSink
	logger zerolog.Logger

	mu      sync.Mutex
	stopCh  chan struct{}
	started bool
}

// NewService constructs a scheduler over store, posting fired triggers to
// sink.
func NewService(store EventStore, sink TriggerSink) *Service {
	return &Service{
		store:  store,
		sink:   sink,
		logger: log.WithComponent("timerscheduler"),
		stopCh: make(chan struct{}),
	}
}

// Schedule persists a new event. Scheduling the same id twice is a no-op
// (idempotent across restarts) — the second call returns nil without
// altering the first event's FireAt.
func (s *Service) Schedule(event Event) error {
	existing, err := s.store.ListAll()
	if err != nil {
		return fmt.Errorf("timerscheduler: list existing: %w", err)
	}
	for _, e := range existing {
		if e.ID == event.ID {
			return nil
		}
	}
	return s.store.Put(event)
}

// Cancel removes a not-yet-fired event. Returns apierr.ErrNotFound if no
// such event exists.
func (s *Service) Cancel(id string) error {
	return s.store.Delete(id)
}

// Start begins the periodic fire-due-events loop.
func (s *Service) Start(interval time.Duration) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()
	go s.run(interval)
}

// Stop stops the loop.
func (s *Service) Stop() {
	close(s.stopCh)
}

func (s *Service) run(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.fireDue(); err != nil {
				s.logger.Error().Err(err).Msg("fire-due cycle failed")
			}
		case <-s.stopCh:
			return
		}
	}
}

func (s *Service) fireDue() error {
	due, err := s.store.ListDue(time.Now())
	if err != nil {
		return fmt.Errorf("timerscheduler: list due: %w", err)
	}
	for _, e := range due {
		s.sink.Post(Trigger{
			EventID:      e.ID,
			Kind:         e.Kind,
			WorkerID:     e.WorkerID,
			PromiseID:    e.PromiseID,
			FunctionName: e.FunctionName,
			Input:        e.Input,
		})
		if err := s.store.Delete(e.ID); err != nil {
			s.logger.Error().Err(err).Str("event_id", e.ID).Msg("failed to delete fired event")
		}
	}
	return nil
}
