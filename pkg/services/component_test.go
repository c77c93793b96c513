package services

import (
	"testing"
	"time"

	"github.com/cuemby/golem-executor/pkg/apierr"
	"github.com/cuemby/golem-executor/pkg/storage"
	"github.com/cuemby/golem-executor/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBlobStorage(t *testing.T) storage.BlobStorage {
	t.Helper()
	s, err := storage.NewBoltBlobStorage(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestComponentServicePutGetRoundTrips(t *testing.T) {
	svc, err := NewBlobComponentService(newTestBlobStorage(t))
	require.NoError(t, err)

	c := &types.Component{ID: "comp-1", Version: 1, Durability: types.DurabilityDurable, CreatedAt: time.Now()}
	require.NoError(t, svc.Put(c))

	got, err := svc.Get("comp-1", 1)
	require.NoError(t, err)
	assert.Equal(t, c.ID, got.ID)
	assert.Equal(t, c.Version, got.Version)
}

func TestComponentServiceGetMissingReturnsNotFound(t *testing.T) {
	svc, err := NewBlobComponentService(newTestBlobStorage(t))
	require.NoError(t, err)

	_, err = svc.Get("missing", 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, apierr.ErrNotFound)
}

func TestComponentServiceLatestVersionTracksHighest(t *testing.T) {
	svc, err := NewBlobComponentService(newTestBlobStorage(t))
	require.NoError(t, err)

	require.NoError(t, svc.Put(&types.Component{ID: "comp-1", Version: 1}))
	require.NoError(t, svc.Put(&types.Component{ID: "comp-1", Version: 3}))
	require.NoError(t, svc.Put(&types.Component{ID: "comp-1", Version: 2}))

	latest, err := svc.LatestVersion("comp-1")
	require.NoError(t, err)
	assert.Equal(t, types.ComponentVersion(3), latest)
}

func TestComponentServiceResolveByName(t *testing.T) {
	svc, err := NewBlobComponentService(newTestBlobStorage(t))
	require.NoError(t, err)

	svc.RegisterName("my-worker", "comp-1")
	id, err := svc.ResolveByName("my-worker", nil)
	require.NoError(t, err)
	assert.Equal(t, types.ComponentID("comp-1"), id)

	_, err = svc.ResolveByName("never-registered", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, apierr.ErrNotFound)
}

func TestComponentServiceRebuildsIndexesFromExistingStorage(t *testing.T) {
	blob := newTestBlobStorage(t)
	svc, err := NewBlobComponentService(blob)
	require.NoError(t, err)
	require.NoError(t, svc.Put(&types.Component{ID: "comp-1", Version: 5}))

	reopened, err := NewBlobComponentService(blob)
	require.NoError(t, err)
	latest, err := reopened.LatestVersion("comp-1")
	require.NoError(t, err)
	assert.Equal(t, types.ComponentVersion(5), latest)
}
