package cache

import (
	"container/list"
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/saiset-co/sai-voice-cache/types"
)

// MemoryTier is the in-process tier: a bounded map with strict LRU
// eviction. Every hit touches recency; a put at capacity evicts the
// least-recently-used entry, not the earliest-inserted one.
type MemoryTier struct {
	capacity  int
	ttl       time.Duration
	logger    types.Logger
	items     map[string]*list.Element
	recency   *list.List
	mu        sync.Mutex
	evictions uint64
	nowFn     func() time.Time
}

type memoryEntry struct {
	key       string
	payload   []byte
	createdAt time.Time
}

func NewMemoryTier(logger types.Logger, capacity int, ttl time.Duration) (*MemoryTier, error) {
	if capacity <= 0 {
		return nil, types.Errorf(types.ErrConfigInvalidSize, "memory tier capacity: %d", capacity)
	}
	if ttl <= 0 {
		return nil, types.Errorf(types.ErrConfigInvalidTTL, "memory tier ttl: %s", ttl)
	}

	return &MemoryTier{
		capacity: capacity,
		ttl:      ttl,
		logger:   logger,
		items:    make(map[string]*list.Element, capacity),
		recency:  list.New(),
		nowFn:    time.Now,
	}, nil
}

func (t *MemoryTier) Name() types.Tier {
	return types.TierMemory
}

func (t *MemoryTier) Get(_ context.Context, key string) (*types.CacheEntry, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	elem, ok := t.items[key]
	if !ok {
		return nil, types.ErrTierMiss
	}

	entry := elem.Value.(*memoryEntry)
	if t.nowFn().Sub(entry.createdAt) >= t.ttl {
		t.removeElement(elem)
		return nil, types.ErrEntryExpired
	}

	t.recency.MoveToFront(elem)

	return &types.CacheEntry{
		Key:       entry.key,
		Payload:   entry.payload,
		CreatedAt: entry.createdAt,
		SizeBytes: int64(len(entry.payload)),
		Tier:      types.TierMemory,
	}, nil
}

func (t *MemoryTier) Put(_ context.Context, key string, payload []byte, createdAt time.Time) error {
	if key == "" {
		return types.ErrCacheKeyEmpty
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if elem, ok := t.items[key]; ok {
		entry := elem.Value.(*memoryEntry)
		entry.payload = payload
		entry.createdAt = createdAt
		t.recency.MoveToFront(elem)
		return nil
	}

	if t.recency.Len() >= t.capacity {
		t.evictOldest()
	}

	elem := t.recency.PushFront(&memoryEntry{
		key:       key,
		payload:   payload,
		createdAt: createdAt,
	})
	t.items[key] = elem

	return nil
}

func (t *MemoryTier) Exists(_ context.Context, key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	elem, ok := t.items[key]
	if !ok {
		return false
	}

	return t.nowFn().Sub(elem.Value.(*memoryEntry).createdAt) < t.ttl
}

func (t *MemoryTier) Remove(_ context.Context, key string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if elem, ok := t.items[key]; ok {
		t.removeElement(elem)
	}
	return nil
}

// RemoveExpired drops every entry whose createdAt is at or before the
// cutoff. Used by the background sweep.
func (t *MemoryTier) RemoveExpired(olderThan time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	elem := t.recency.Back()
	for elem != nil {
		prev := elem.Prev()
		if !elem.Value.(*memoryEntry).createdAt.After(olderThan) {
			t.removeElement(elem)
			removed++
		}
		elem = prev
	}

	return removed
}

func (t *MemoryTier) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.recency.Len()
}

func (t *MemoryTier) Evictions() uint64 {
	return atomic.LoadUint64(&t.evictions)
}

func (t *MemoryTier) evictOldest() {
	elem := t.recency.Back()
	if elem == nil {
		return
	}
	t.removeElement(elem)
	atomic.AddUint64(&t.evictions, 1)
}

func (t *MemoryTier) removeElement(elem *list.Element) {
	entry := elem.Value.(*memoryEntry)
	t.recency.Remove(elem)
	delete(t.items, entry.key)
}
