package limits

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuemby/golem-executor/pkg/apierr"
	"github.com/cuemby/golem-executor/pkg/log"
	"github.com/cuemby/golem-executor/pkg/metrics"
	specs "github.com/opencontainers/runtime-spec/specs-go"
	"github.com/rs/zerolog"
)

// Quota is a project's resource budget: a fuel allowance refilled every
// tick (modeling the instruction-count budget a real WASM engine would
// enforce when it traps on exhaustion) and a hard memory ceiling.
type Quota struct {
	MaxFuelPerTick  int64
	MaxMemoryBytes  int64
}

// QuotaFromResources derives a Quota from an OCI LinuxResources document,
// repurposing the teacher's container resource-limit shape (carried over
// from pkg/runtime/containerd.go's use of specs-go) as the per-project
// limit record: CPU quota/period becomes the fuel-per-tick allowance and
// Memory.Limit becomes the memory ceiling.
func QuotaFromResources(r *specs.LinuxResources) Quota {
	var q Quota
	if r == nil {
		return q
	}
	if r.CPU != nil && r.CPU.Quota != nil && r.CPU.Period != nil && *r.CPU.Period > 0 {
		q.MaxFuelPerTick = (*r.CPU.Quota * 1_000_000) / int64(*r.CPU.Period)
	}
	if r.Memory != nil && r.Memory.Limit != nil {
		q.MaxMemoryBytes = *r.Memory.Limit
	}
	return q
}

type projectState struct {
	quota        Quota
	fuelRemaining atomic.Int64
	memoryInUse   atomic.Int64
}

// Limiter tracks per-project fuel and memory usage against configured
// quotas. BorrowFuel is called on every worker invocation (from
// pkg/hostabi's Instance.Invoke), so it and GrowMemory use lock-free atomics on
// the hot path; only quota registration takes the map mutex.
type Limiter struct {
	mu       sync.RWMutex
	projects map[string]*projectState
	logger   zerolog.Logger

	refillInterval time.Duration
	stopCh         chan struct{}
}

// NewLimiter constructs a Limiter whose fuel allowances refill every
// refillInterval once Start is called.
func NewLimiter(refillInterval time.Duration) *Limiter {
	return &Limiter{
		projects:       make(map[string]*projectState),
		logger:         log.WithComponent("limits"),
		refillInterval: refillInterval,
		stopCh:         make(chan struct{}),
	}
}

// SetQuota installs or replaces project's quota, immediately refilling its
// fuel allowance to the new ceiling.
func (l *Limiter) SetQuota(project string, q Quota) {
	l.mu.Lock()
	defer l.mu.Unlock()
	st, ok := l.projects[project]
	if !ok {
		st = &projectState{}
		l.projects[project] = st
	}
	st.quota = q
	st.fuelRemaining.Store(q.MaxFuelPerTick)
}

func (l *Limiter) stateFor(project string) *projectState {
	l.mu.RLock()
	st, ok := l.projects[project]
	l.mu.RUnlock()
	if ok {
		return st
	}
	return nil
}

// BorrowFuel attempts to deduct amount from project's remaining fuel
// allowance, returning apierr.ErrOutOfResources if insufficient fuel
// remains. A project with no quota
// registered is treated as unlimited (SetQuota was never called for it),
// matching the original implementation's "fuel limits are opt-in per
// project" default.
func (l *Limiter) BorrowFuel(project string, amount int64) error {
	st := l.stateFor(project)
	if st == nil || st.quota.MaxFuelPerTick <= 0 {
		return nil
	}
	if st.fuelRemaining.Add(-amount) < 0 {
		st.fuelRemaining.Add(amount)
		metrics.FuelExhaustedTotal.WithLabelValues(project).Inc()
		return fmt.Errorf("limits: project %s fuel exhausted: %w", project, apierr.ErrOutOfResources)
	}
	return nil
}

// GrowMemory attempts to reserve deltaBytes against project's memory
// ceiling, returning apierr.ErrOutOfResources if it would exceed the
// configured limit. A project with no configured ceiling is unlimited.
func (l *Limiter) GrowMemory(project string, deltaBytes int64) error {
	st := l.stateFor(project)
	if st == nil || st.quota.MaxMemoryBytes <= 0 {
		return nil
	}
	if st.memoryInUse.Add(deltaBytes) > st.quota.MaxMemoryBytes {
		st.memoryInUse.Add(-deltaBytes)
		metrics.MemoryLimitExceededTotal.WithLabelValues(project).Inc()
		return fmt.Errorf("limits: project %s memory limit exceeded: %w", project, apierr.ErrOutOfResources)
	}
	return nil
}

// ReleaseMemory returns deltaBytes to project's available memory budget,
// called when a worker shrinks or is evicted.
func (l *Limiter) ReleaseMemory(project string, deltaBytes int64) {
	if st := l.stateFor(project); st != nil {
		st.memoryInUse.Add(-deltaBytes)
	}
}

// Start begins the periodic fuel-refill loop.
func (l *Limiter) Start() {
	go l.run()
}

// Stop stops the refill loop.
func (l *Limiter) Stop() {
	close(l.stopCh)
}

func (l *Limiter) run() {
	ticker := time.NewTicker(l.refillInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.refillAll()
		case <-l.stopCh:
			return
		}
	}
}

func (l *Limiter) refillAll() {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for project, st := range l.projects {
		if st.quota.MaxFuelPerTick <= 0 {
			continue
		}
		st.fuelRemaining.Store(st.quota.MaxFuelPerTick)
		l.logger.Debug().Str("project", project).Int64("fuel", st.quota.MaxFuelPerTick).Msg("refilled project fuel")
	}
}
