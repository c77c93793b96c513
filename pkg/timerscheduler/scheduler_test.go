package timerscheduler

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/cuemby/golem-executor/pkg/apierr"
	"github.com/cuemby/golem-executor/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"
)

type recordingSink struct {
	triggers []Trigger
}

func (s *recordingSink) Post(t Trigger) {
	s.triggers = append(s.triggers, t)
}

func testOwned(name string) types.OwnedWorkerID {
	return types.OwnedWorkerID{
		ProjectID: "proj-1",
		WorkerID: types.WorkerID{
			ComponentID: types.ComponentID("comp-1"),
			Name:        name,
		},
	}
}

func TestScheduleIsIdempotentAcrossDuplicateIDs(t *testing.T) {
	store := NewMemoryEventStore()
	sink := &recordingSink{}
	svc := NewService(store, sink)

	first := Event{ID: "ev-1", Kind: KindPromiseCompletion, WorkerID: testOwned("w1"), FireAt: time.Now().Add(time.Hour)}
	later := Event{ID: "ev-1", Kind: KindPromiseCompletion, WorkerID: testOwned("w1"), FireAt: time.Now().Add(48 * time.Hour)}

	require.NoError(t, svc.Schedule(first))
	require.NoError(t, svc.Schedule(later))

	all, err := store.ListAll()
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.True(t, all[0].FireAt.Before(time.Now().Add(2*time.Hour)), "second Schedule call must not overwrite the first event's FireAt")
}

func TestFireDuePostsTriggerAndRemovesEvent(t *testing.T) {
	store := NewMemoryEventStore()
	sink := &recordingSink{}
	svc := NewService(store, sink)

	past := Event{
		ID:           "ev-due",
		Kind:         KindScheduledInvocation,
		WorkerID:     testOwned("w1"),
		FireAt:       time.Now().Add(-time.Second),
		FunctionName: "run-job",
	}
	future := Event{
		ID:       "ev-future",
		Kind:     KindPromiseCompletion,
		WorkerID: testOwned("w1"),
		FireAt:   time.Now().Add(time.Hour),
	}
	require.NoError(t, svc.Schedule(past))
	require.NoError(t, svc.Schedule(future))

	require.NoError(t, svc.fireDue())

	require.Len(t, sink.triggers, 1)
	assert.Equal(t, "ev-due", sink.triggers[0].EventID)
	assert.Equal(t, "run-job", sink.triggers[0].FunctionName)

	remaining, err := store.ListAll()
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, "ev-future", remaining[0].ID)
}

func TestCancelUnknownEventReturnsNotFound(t *testing.T) {
	store := NewMemoryEventStore()
	svc := NewService(store, &recordingSink{})

	err := svc.Cancel("never-scheduled")
	require.Error(t, err)
	assert.ErrorIs(t, err, apierr.ErrNotFound)
}

func TestCancelRemovesEventBeforeItFires(t *testing.T) {
	store := NewMemoryEventStore()
	sink := &recordingSink{}
	svc := NewService(store, sink)

	ev := Event{ID: "ev-cancel", Kind: KindArchive, WorkerID: testOwned("w1"), FireAt: time.Now().Add(-time.Minute)}
	require.NoError(t, svc.Schedule(ev))
	require.NoError(t, svc.Cancel("ev-cancel"))

	require.NoError(t, svc.fireDue())
	assert.Empty(t, sink.triggers)
}

func TestBoltEventStoreRoundTripsAndReportsNotFound(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "timerscheduler.db")
	db, err := bolt.Open(dbPath, 0600, nil)
	require.NoError(t, err)
	defer db.Close()

	store, err := NewBoltEventStore(db)
	require.NoError(t, err)

	ev := Event{ID: "ev-bolt", Kind: KindPromiseCompletion, WorkerID: testOwned("w1"), FireAt: time.Now().Add(-time.Minute), PromiseID: "p1"}
	require.NoError(t, store.Put(ev))

	due, err := store.ListDue(time.Now())
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "p1", due[0].PromiseID)

	require.NoError(t, store.Delete("ev-bolt"))

	err = store.Delete("ev-bolt")
	assert.ErrorIs(t, err, apierr.ErrNotFound)
}

func TestStartStopDoesNotPanicWithNoEvents(t *testing.T) {
	svc := NewService(NewMemoryEventStore(), &recordingSink{})
	svc.Start(5 * time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	svc.Stop()
}
