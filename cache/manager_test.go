package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-voice-cache/logger"
	"github.com/saiset-co/sai-voice-cache/metrics"
	"github.com/saiset-co/sai-voice-cache/types"
)

type recordingTier struct {
	types.TierStore
	gets uint64
}

func (r *recordingTier) Get(ctx context.Context, key string) (*types.CacheEntry, error) {
	atomic.AddUint64(&r.gets, 1)
	return r.TierStore.Get(ctx, key)
}

func newTestManager(t *testing.T, flags *types.DegradedFlags, remote types.TierStore) (*Manager, *MemoryTier, *DiskTier) {
	t.Helper()

	log := logger.NewZapWrapper(zap.NewNop())

	memory, err := NewMemoryTier(log, 16, time.Hour)
	require.NoError(t, err)

	disk, err := NewDiskTier(log, t.TempDir(), 16, time.Hour)
	require.NoError(t, err)

	manager, err := NewManager(context.Background(), log, metrics.NewMemoryRecorder(), flags, Tiers{
		Memory: memory,
		Disk:   disk,
		Remote: remote,
	}, time.Hour)
	require.NoError(t, err)

	require.NoError(t, manager.Start())
	t.Cleanup(func() { _ = manager.Stop() })

	return manager, memory, disk
}

func staticGenerator(payload []byte) types.Generator {
	return func(context.Context, string) ([]byte, error) {
		return payload, nil
	}
}

func TestManagerGeneratesOnFullMiss(t *testing.T) {
	manager, memory, disk := newTestManager(t, nil, nil)
	ctx := context.Background()

	payload, tier, err := manager.GetOrCreate(ctx, "alert-1", staticGenerator([]byte("audio")))
	require.NoError(t, err)
	assert.Equal(t, []byte("audio"), payload)
	assert.Equal(t, types.TierGenerated, tier)

	// Write-through landed in both synchronous tiers.
	assert.True(t, memory.Exists(ctx, "alert-1"))
	assert.True(t, disk.Exists(ctx, "alert-1"))
}

func TestManagerServesFromMemory(t *testing.T) {
	manager, _, _ := newTestManager(t, nil, nil)
	ctx := context.Background()

	_, _, err := manager.GetOrCreate(ctx, "alert-1", staticGenerator([]byte("audio")))
	require.NoError(t, err)

	var calls uint64
	payload, tier, err := manager.GetOrCreate(ctx, "alert-1", func(context.Context, string) ([]byte, error) {
		atomic.AddUint64(&calls, 1)
		return nil, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []byte("audio"), payload)
	assert.Equal(t, types.TierMemory, tier)
	assert.Equal(t, uint64(0), atomic.LoadUint64(&calls))
}

func TestManagerPromotesDiskHitToMemory(t *testing.T) {
	manager, memory, disk := newTestManager(t, nil, nil)
	ctx := context.Background()

	require.NoError(t, disk.Put(ctx, "alert-1", []byte("audio"), time.Now()))
	assert.False(t, memory.Exists(ctx, "alert-1"))

	payload, tier, err := manager.GetOrCreate(ctx, "alert-1", nil)
	require.NoError(t, err)
	assert.Equal(t, []byte("audio"), payload)
	assert.Equal(t, types.TierDisk, tier)

	assert.True(t, memory.Exists(ctx, "alert-1"))
	assert.Equal(t, uint64(1), manager.Stats().Promotions)
}

func TestManagerPromotesRemoteHitToMemoryAndDisk(t *testing.T) {
	provider := newFakeStorageProvider()
	provider.put("alert-1", []byte("audio"), time.Now())

	remote, err := NewRemoteTier(provider, time.Hour)
	require.NoError(t, err)

	manager, memory, disk := newTestManager(t, nil, remote)
	ctx := context.Background()

	payload, tier, err := manager.GetOrCreate(ctx, "alert-1", nil)
	require.NoError(t, err)
	assert.Equal(t, []byte("audio"), payload)
	assert.Equal(t, types.TierRemote, tier)

	assert.True(t, memory.Exists(ctx, "alert-1"))
	assert.True(t, disk.Exists(ctx, "alert-1"))
	assert.Equal(t, uint64(2), manager.Stats().Promotions)
}

func TestManagerCoalescesConcurrentGenerations(t *testing.T) {
	manager, _, _ := newTestManager(t, nil, nil)

	var calls uint64
	generator := func(context.Context, string) ([]byte, error) {
		atomic.AddUint64(&calls, 1)
		time.Sleep(100 * time.Millisecond)
		return []byte("audio"), nil
	}

	const workers = 20
	var wg sync.WaitGroup
	results := make([][]byte, workers)
	errs := make([]error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _, errs[i] = manager.GetOrCreate(context.Background(), "shared", generator)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, uint64(1), atomic.LoadUint64(&calls))
	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, []byte("audio"), results[i])
	}
}

func TestManagerGenerationFailureSharedByWaiters(t *testing.T) {
	manager, memory, disk := newTestManager(t, nil, nil)
	ctx := context.Background()

	_, _, err := manager.GetOrCreate(ctx, "broken", func(context.Context, string) ([]byte, error) {
		return nil, types.ErrTransientDependency
	})
	assert.ErrorIs(t, err, types.ErrGenerationFailed)

	// The generator's own error stays in the chain so callers can tell
	// transient failures from fatal ones.
	assert.ErrorIs(t, err, types.ErrTransientDependency)

	// Nothing was cached for the failed generation.
	assert.False(t, memory.Exists(ctx, "broken"))
	assert.False(t, disk.Exists(ctx, "broken"))
}

func TestManagerCacheOnlyMode(t *testing.T) {
	flags := &types.DegradedFlags{}
	manager, _, disk := newTestManager(t, flags, nil)
	ctx := context.Background()

	require.NoError(t, disk.Put(ctx, "cached", []byte("audio"), time.Now()))

	flags.SetGenerationDisabled(true)

	// Cached content still serves.
	payload, _, err := manager.GetOrCreate(ctx, "cached", staticGenerator([]byte("new")))
	require.NoError(t, err)
	assert.Equal(t, []byte("audio"), payload)

	// A full miss cannot generate.
	_, _, err = manager.GetOrCreate(ctx, "uncached", staticGenerator([]byte("new")))
	assert.ErrorIs(t, err, types.ErrCacheOnlyMode)
}

func TestManagerSkipsRemoteWhenBypassed(t *testing.T) {
	provider := newFakeStorageProvider()
	provider.put("alert-1", []byte("remote-audio"), time.Now())

	inner, err := NewRemoteTier(provider, time.Hour)
	require.NoError(t, err)
	remote := &recordingTier{TierStore: inner}

	flags := &types.DegradedFlags{}
	flags.SetRemoteBypassed(true)

	manager, _, _ := newTestManager(t, flags, remote)

	payload, tier, err := manager.GetOrCreate(context.Background(), "alert-1", staticGenerator([]byte("generated")))
	require.NoError(t, err)
	assert.Equal(t, []byte("generated"), payload)
	assert.Equal(t, types.TierGenerated, tier)
	assert.Equal(t, uint64(0), atomic.LoadUint64(&remote.gets))
}

func TestManagerAsyncRemoteWriteThrough(t *testing.T) {
	provider := newFakeStorageProvider()
	remote, err := NewRemoteTier(provider, time.Hour)
	require.NoError(t, err)

	manager, _, _ := newTestManager(t, nil, remote)

	_, _, err = manager.GetOrCreate(context.Background(), "alert-1", staticGenerator([]byte("audio")))
	require.NoError(t, err)

	manager.remoteWrites.Wait()
	assert.True(t, provider.has("alert-1"))
}

func TestManagerNilGeneratorOnMiss(t *testing.T) {
	manager, _, _ := newTestManager(t, nil, nil)

	_, _, err := manager.GetOrCreate(context.Background(), "absent", nil)
	assert.ErrorIs(t, err, types.ErrGeneratorIsNil)
}

func TestManagerEmptyKey(t *testing.T) {
	manager, _, _ := newTestManager(t, nil, nil)

	_, _, err := manager.GetOrCreate(context.Background(), "", staticGenerator([]byte("a")))
	assert.ErrorIs(t, err, types.ErrCacheKeyEmpty)
}

func TestManagerStats(t *testing.T) {
	manager, _, disk := newTestManager(t, nil, nil)
	ctx := context.Background()

	require.NoError(t, disk.Put(ctx, "disk-hit", []byte("a"), time.Now()))

	_, _, err := manager.GetOrCreate(ctx, "disk-hit", nil)
	require.NoError(t, err)

	_, _, err = manager.GetOrCreate(ctx, "generated", staticGenerator([]byte("b")))
	require.NoError(t, err)

	_, _, err = manager.GetOrCreate(ctx, "generated", nil)
	require.NoError(t, err)

	stats := manager.Stats()
	assert.Equal(t, uint64(3), stats.TotalRequests)
	assert.Equal(t, uint64(1), stats.DiskHits)
	assert.Equal(t, uint64(1), stats.MemoryHits)
	assert.Equal(t, uint64(1), stats.Misses)
	assert.Equal(t, uint64(1), stats.Generated)
}

func TestManagerSweep(t *testing.T) {
	manager, memory, disk := newTestManager(t, nil, nil)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, memory.Put(ctx, "old-mem", []byte("a"), now.Add(-2*time.Hour)))
	require.NoError(t, disk.Put(ctx, "old-disk", []byte("b"), now.Add(-2*time.Hour)))
	require.NoError(t, memory.Put(ctx, "fresh", []byte("c"), now))

	removed := manager.Sweep()

	assert.Equal(t, 2, removed)
	assert.True(t, memory.Exists(ctx, "fresh"))
	assert.False(t, memory.Exists(ctx, "old-mem"))
	assert.False(t, disk.Exists(ctx, "old-disk"))
}

func TestManagerWaiterCancellation(t *testing.T) {
	manager, _, _ := newTestManager(t, nil, nil)

	release := make(chan struct{})
	generator := func(context.Context, string) ([]byte, error) {
		<-release
		return []byte("audio"), nil
	}

	leaderDone := make(chan error, 1)
	go func() {
		_, _, err := manager.GetOrCreate(context.Background(), "slow", generator)
		leaderDone <- err
	}()

	// Give the leader time to occupy the flight.
	time.Sleep(20 * time.Millisecond)

	waiterCtx, cancel := context.WithCancel(context.Background())
	waiterDone := make(chan error, 1)
	go func() {
		_, _, err := manager.GetOrCreate(waiterCtx, "slow", generator)
		waiterDone <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-waiterDone:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("cancelled waiter did not return")
	}

	// The leader is unaffected by the waiter's cancellation.
	close(release)
	select {
	case err := <-leaderDone:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("leader did not finish")
	}
}

func TestManagerEndToEndAlertScenario(t *testing.T) {
	manager, _, _ := newTestManager(t, nil, nil)
	ctx := context.Background()

	key := DeriveKey("Emergency alert: road closure on Highway 99", "Joanna", "mp3", "neural")

	var calls uint64
	generator := func(context.Context, string) ([]byte, error) {
		atomic.AddUint64(&calls, 1)
		return []byte("synthesized-mp3"), nil
	}

	first, tier, err := manager.GetOrCreate(ctx, key, generator)
	require.NoError(t, err)
	assert.Equal(t, types.TierGenerated, tier)

	// Re-phrased only by case and whitespace: same key, served hot.
	sameKey := DeriveKey("  emergency alert: ROAD CLOSURE on highway 99 ", "Joanna", "mp3", "neural")
	require.Equal(t, key, sameKey)

	second, tier, err := manager.GetOrCreate(ctx, sameKey, generator)
	require.NoError(t, err)
	assert.Equal(t, types.TierMemory, tier)
	assert.Equal(t, first, second)
	assert.Equal(t, uint64(1), atomic.LoadUint64(&calls))
}
