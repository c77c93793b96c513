package limits

import (
	"testing"
	"time"

	"github.com/cuemby/golem-executor/pkg/apierr"
	specs "github.com/opencontainers/runtime-spec/specs-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBorrowFuelUnlimitedWhenNoQuotaConfigured(t *testing.T) {
	l := NewLimiter(time.Hour)
	require.NoError(t, l.BorrowFuel("proj-unconfigured", 1_000_000))
}

func TestBorrowFuelExhaustionReturnsOutOfResources(t *testing.T) {
	l := NewLimiter(time.Hour)
	l.SetQuota("proj-1", Quota{MaxFuelPerTick: 100})

	require.NoError(t, l.BorrowFuel("proj-1", 60))
	require.NoError(t, l.BorrowFuel("proj-1", 40))

	err := l.BorrowFuel("proj-1", 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, apierr.ErrOutOfResources)
}

func TestRefillAllRestoresFuelToCeiling(t *testing.T) {
	l := NewLimiter(time.Hour)
	l.SetQuota("proj-1", Quota{MaxFuelPerTick: 100})
	require.NoError(t, l.BorrowFuel("proj-1", 100))
	require.Error(t, l.BorrowFuel("proj-1", 1))

	l.refillAll()
	require.NoError(t, l.BorrowFuel("proj-1", 100))
}

func TestGrowMemoryRejectsOverLimitAndReleaseRestoresRoom(t *testing.T) {
	l := NewLimiter(time.Hour)
	l.SetQuota("proj-1", Quota{MaxMemoryBytes: 1024})

	require.NoError(t, l.GrowMemory("proj-1", 1024))
	err := l.GrowMemory("proj-1", 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, apierr.ErrOutOfResources)

	l.ReleaseMemory("proj-1", 512)
	require.NoError(t, l.GrowMemory("proj-1", 512))
}

func TestQuotaFromResourcesDerivesFuelAndMemory(t *testing.T) {
	quota := int64(200_000)
	period := uint64(100_000)
	memLimit := int64(64 * 1024 * 1024)

	q := QuotaFromResources(&specs.LinuxResources{
		CPU:    &specs.LinuxCPU{Quota: &quota, Period: &period},
		Memory: &specs.LinuxMemory{Limit: &memLimit},
	})

	assert.Equal(t, int64(2_000_000), q.MaxFuelPerTick)
	assert.Equal(t, memLimit, q.MaxMemoryBytes)
}

func TestQuotaFromResourcesNilIsZeroValue(t *testing.T) {
	assert.Equal(t, Quota{}, QuotaFromResources(nil))
}

func TestStartStopRefillLoopDoesNotPanic(t *testing.T) {
	l := NewLimiter(5 * time.Millisecond)
	l.SetQuota("proj-1", Quota{MaxFuelPerTick: 10})
	l.Start()
	time.Sleep(20 * time.Millisecond)
	l.Stop()
}
