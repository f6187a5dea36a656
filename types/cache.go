package types

import (
	"context"
	"time"
)

type Tier string

const (
	TierMemory Tier = "memory"
	TierDisk   Tier = "disk"
	TierRemote Tier = "remote"

	// TierGenerated marks a payload that was produced by the generator
	// rather than served from any store.
	TierGenerated Tier = "generated"
)

// CacheEntry is owned exclusively by the tier that returned it. Promotion
// copies the payload into a faster tier; the original is untouched.
type CacheEntry struct {
	Key       string    `json:"key"`
	Payload   []byte    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
	SizeBytes int64     `json:"size_bytes"`
	Tier      Tier      `json:"tier"`
}

// TierStore is the uniform per-tier storage contract. Get returns
// ErrTierMiss when the key is absent and ErrEntryExpired when the stored
// entry outlived the TTL; both count as a miss for the caller.
type TierStore interface {
	Name() Tier
	Get(ctx context.Context, key string) (*CacheEntry, error)
	Put(ctx context.Context, key string, payload []byte, createdAt time.Time) error
	Exists(ctx context.Context, key string) bool
	Remove(ctx context.Context, key string) error
}

// SweepableTier is implemented by tiers that support proactive expiry
// sweeps (memory, disk). The remote tier expires lazily and never sweeps.
type SweepableTier interface {
	RemoveExpired(olderThan time.Time) int
}

// Generator produces a payload for a key that missed every tier.
type Generator func(ctx context.Context, key string) ([]byte, error)

type CacheManager interface {
	LifecycleManager
	GetOrCreate(ctx context.Context, key string, generate Generator) ([]byte, Tier, error)
	Stats() CacheStats
	Sweep() int
}

// CacheStats counters are monotonically increasing for the process lifetime.
type CacheStats struct {
	TotalRequests uint64 `json:"total_requests"`
	MemoryHits    uint64 `json:"memory_hits"`
	DiskHits      uint64 `json:"disk_hits"`
	RemoteHits    uint64 `json:"remote_hits"`
	Misses        uint64 `json:"misses"`
	Generated     uint64 `json:"generated"`
	Promotions    uint64 `json:"promotions"`
	Evictions     uint64 `json:"evictions"`
}
