package cache

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/saiset-co/sai-voice-cache/types"
)

type ManagerState int32

const (
	ManagerStateStopped ManagerState = iota
	ManagerStateStarting
	ManagerStateRunning
	ManagerStateStopping
)

const remoteWriteTimeout = 30 * time.Second

// Tiers bundles the stores handed to the manager, fastest first. Remote
// may be nil when no durable store is configured.
type Tiers struct {
	Memory types.TierStore
	Disk   types.TierStore
	Remote types.TierStore
}

// Manager orchestrates lookup-with-promotion and write-through across
// the tiers and owns request coalescing: at most one generator runs per
// key, concurrent callers share its result.
type Manager struct {
	ctx             context.Context
	cancel          context.CancelFunc
	logger          types.Logger
	metrics         types.MetricsRecorder
	flags           *types.DegradedFlags
	memory          types.TierStore
	disk            types.TierStore
	remote          types.TierStore
	ttl             time.Duration
	group           singleflight.Group
	remoteWrites    sync.WaitGroup
	state           atomic.Value
	shutdownTimeout time.Duration
	nowFn           func() time.Time

	totalRequests uint64
	memoryHits    uint64
	diskHits      uint64
	remoteHits    uint64
	misses        uint64
	generated     uint64
	promotions    uint64
}

func NewManager(ctx context.Context, logger types.Logger, metrics types.MetricsRecorder, flags *types.DegradedFlags, tiers Tiers, ttl time.Duration) (*Manager, error) {
	if ttl <= 0 {
		return nil, types.Errorf(types.ErrConfigInvalidTTL, "cache ttl: %s", ttl)
	}
	if tiers.Memory == nil || tiers.Disk == nil {
		return nil, types.Errorf(types.ErrConfigInvalidSize, "memory and disk tiers are required")
	}

	if flags == nil {
		flags = &types.DegradedFlags{}
	}
	if metrics == nil {
		metrics = noopRecorder{}
	}

	managerCtx, cancel := context.WithCancel(ctx)

	m := &Manager{
		ctx:             managerCtx,
		cancel:          cancel,
		logger:          logger,
		metrics:         metrics,
		flags:           flags,
		memory:          tiers.Memory,
		disk:            tiers.Disk,
		remote:          tiers.Remote,
		ttl:             ttl,
		shutdownTimeout: 10 * time.Second,
		nowFn:           time.Now,
	}

	m.state.Store(ManagerStateStopped)

	return m, nil
}

func (m *Manager) Start() error {
	if !m.transitionState(ManagerStateStopped, ManagerStateStarting) {
		m.logger.Warn("Cache manager is already running")
		return types.ErrManagerAlreadyRunning
	}

	defer func() {
		if m.getState() == ManagerStateStarting {
			m.setState(ManagerStateRunning)
		}
	}()

	m.logger.Info("Tiered cache manager started",
		zap.Duration("ttl", m.ttl),
		zap.Bool("remote_tier", m.remote != nil))
	return nil
}

func (m *Manager) Stop() error {
	if !m.transitionState(ManagerStateRunning, ManagerStateStopping) {
		m.logger.Warn("Cache manager is not running")
		return types.ErrManagerNotRunning
	}

	defer func() {
		m.setState(ManagerStateStopped)
		m.cancel()
	}()

	done := make(chan struct{})
	go func() {
		m.remoteWrites.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.logger.Info("Cache manager stopped gracefully")
	case <-time.After(m.shutdownTimeout):
		m.logger.Warn("Cache manager stop timeout, pending remote writes abandoned")
	}

	return nil
}

func (m *Manager) IsRunning() bool {
	return m.getState() == ManagerStateRunning
}

// GetOrCreate probes Memory, Disk, then Remote in that fixed order and
// stops at the first live hit, promoting it into the faster tiers. On a
// full miss the generator runs at most once per key regardless of how
// many callers arrive concurrently; every waiter receives the same
// payload or the same error. Write-through of a generated payload is
// synchronous for Memory and Disk; the Remote write is issued
// asynchronously and its failure is logged and metered only.
func (m *Manager) GetOrCreate(ctx context.Context, key string, generate types.Generator) ([]byte, types.Tier, error) {
	if key == "" {
		return nil, "", types.ErrCacheKeyEmpty
	}

	atomic.AddUint64(&m.totalRequests, 1)

	for _, tier := range m.probeOrder() {
		entry, err := tier.Get(ctx, key)
		if err == nil {
			m.recordHit(tier.Name())
			m.promote(ctx, entry, tier.Name())
			return entry.Payload, tier.Name(), nil
		}

		if types.IsMiss(err) {
			continue
		}

		// Transient tier failure: fall back to the next tier.
		m.logger.Warn("Tier lookup failed, falling through",
			zap.String("tier", string(tier.Name())),
			zap.String("key", key),
			zap.Error(err))
		m.metrics.Record("cache_tier_error", 1, types.UnitCount,
			map[string]string{"tier": string(tier.Name())})
	}

	atomic.AddUint64(&m.misses, 1)
	m.metrics.Record("cache_miss", 1, types.UnitCount, nil)

	if generate == nil {
		return nil, "", types.ErrGeneratorIsNil
	}

	if m.flags.GenerationDisabled() {
		return nil, "", types.ErrCacheOnlyMode
	}

	payload, err := m.coalesce(ctx, key, generate)
	if err != nil {
		return nil, "", err
	}

	atomic.AddUint64(&m.generated, 1)
	m.metrics.Record("cache_generated", 1, types.UnitCount, nil)

	m.writeThrough(ctx, key, payload)

	return payload, types.TierGenerated, nil
}

func (m *Manager) Stats() types.CacheStats {
	stats := types.CacheStats{
		TotalRequests: atomic.LoadUint64(&m.totalRequests),
		MemoryHits:    atomic.LoadUint64(&m.memoryHits),
		DiskHits:      atomic.LoadUint64(&m.diskHits),
		RemoteHits:    atomic.LoadUint64(&m.remoteHits),
		Misses:        atomic.LoadUint64(&m.misses),
		Generated:     atomic.LoadUint64(&m.generated),
		Promotions:    atomic.LoadUint64(&m.promotions),
	}

	for _, tier := range []types.TierStore{m.memory, m.disk} {
		if counter, ok := tier.(interface{ Evictions() uint64 }); ok {
			stats.Evictions += counter.Evictions()
		}
	}

	return stats
}

// Sweep proactively removes expired entries from the memory and disk
// tiers. It runs on its own schedule and never blocks foreground reads
// or writes beyond per-tier locking.
func (m *Manager) Sweep() int {
	cutoff := m.nowFn().Add(-m.ttl)

	removed := 0
	for _, tier := range []types.TierStore{m.memory, m.disk} {
		if sweeper, ok := tier.(types.SweepableTier); ok {
			removed += sweeper.RemoveExpired(cutoff)
		}
	}

	if removed > 0 {
		m.logger.Debug("Expiry sweep completed", zap.Int("removed", removed))
		m.metrics.Record("cache_swept", float64(removed), types.UnitCount, nil)
	}

	return removed
}

func (m *Manager) probeOrder() []types.TierStore {
	order := []types.TierStore{m.memory, m.disk}
	if m.remote != nil && !m.flags.RemoteBypassed() {
		order = append(order, m.remote)
	}
	return order
}

func (m *Manager) coalesce(ctx context.Context, key string, generate types.Generator) ([]byte, error) {
	ch := m.group.DoChan(key, func() (interface{}, error) {
		return generate(ctx, key)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			// Keep the generator's error in the chain so callers can
			// still classify it as transient or fatal.
			return nil, fmt.Errorf("%w: %w", types.ErrGenerationFailed, res.Err)
		}
		return res.Val.([]byte), nil
	case <-ctx.Done():
		// The leader keeps running for any other waiters; this caller
		// leaves with its own cancellation error.
		return nil, ctx.Err()
	}
}

// promote copies a hit into every tier faster than the one that served
// it. Best-effort: a failed promotion is logged, never surfaced.
func (m *Manager) promote(ctx context.Context, entry *types.CacheEntry, hitTier types.Tier) {
	if hitTier == types.TierMemory {
		return
	}

	targets := []types.TierStore{m.memory}
	if hitTier == types.TierRemote {
		targets = append(targets, m.disk)
	}

	for _, target := range targets {
		if err := target.Put(ctx, entry.Key, entry.Payload, entry.CreatedAt); err != nil {
			m.logger.Warn("Promotion failed",
				zap.String("tier", string(target.Name())),
				zap.String("key", entry.Key),
				zap.Error(err))
			continue
		}
		atomic.AddUint64(&m.promotions, 1)
	}
}

func (m *Manager) writeThrough(ctx context.Context, key string, payload []byte) {
	createdAt := m.nowFn()

	for _, tier := range []types.TierStore{m.memory, m.disk} {
		if err := tier.Put(ctx, key, payload, createdAt); err != nil {
			m.logger.Warn("Write-through failed",
				zap.String("tier", string(tier.Name())),
				zap.String("key", key),
				zap.Error(err))
			m.metrics.Record("cache_write_error", 1, types.UnitCount,
				map[string]string{"tier": string(tier.Name())})
		}
	}

	if m.remote == nil || m.flags.RemoteBypassed() {
		return
	}

	m.remoteWrites.Add(1)
	go func() {
		defer m.remoteWrites.Done()

		writeCtx, cancel := context.WithTimeout(m.ctx, remoteWriteTimeout)
		defer cancel()

		if err := m.remote.Put(writeCtx, key, payload, createdAt); err != nil {
			m.logger.Warn("Remote write-through failed",
				zap.String("key", key),
				zap.Error(err))
			m.metrics.Record("cache_write_error", 1, types.UnitCount,
				map[string]string{"tier": string(types.TierRemote)})
		}
	}()
}

func (m *Manager) recordHit(tier types.Tier) {
	switch tier {
	case types.TierMemory:
		atomic.AddUint64(&m.memoryHits, 1)
	case types.TierDisk:
		atomic.AddUint64(&m.diskHits, 1)
	case types.TierRemote:
		atomic.AddUint64(&m.remoteHits, 1)
	}

	m.metrics.Record("cache_hit", 1, types.UnitCount, map[string]string{"tier": string(tier)})
}

func (m *Manager) getState() ManagerState {
	return m.state.Load().(ManagerState)
}

func (m *Manager) setState(newState ManagerState) bool {
	currentState := m.getState()
	return m.state.CompareAndSwap(currentState, newState)
}

func (m *Manager) transitionState(from, to ManagerState) bool {
	return m.state.CompareAndSwap(from, to)
}

type noopRecorder struct{}

func (noopRecorder) Record(string, float64, string, map[string]string) {}
