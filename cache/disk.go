package cache

import (
	"container/list"
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-voice-cache/types"
	"github.com/saiset-co/sai-voice-cache/utils"
)

const (
	payloadSuffix  = ".audio"
	metadataSuffix = ".meta.json"
)

// diskMetadata is the persisted sidecar record for one payload file.
type diskMetadata struct {
	Timestamp int64  `json:"timestamp"`
	SizeBytes int64  `json:"sizeBytes"`
	Key       string `json:"key"`
}

// DiskTier persists each entry as a payload record plus a metadata
// record under a stable naming convention derived from the key. At
// startup the metadata records are scanned to reconstruct the recency
// index; payloads are never read eagerly. Eviction semantics match the
// memory tier, operating on the reconstructed index.
type DiskTier struct {
	baseDir   string
	capacity  int
	ttl       time.Duration
	logger    types.Logger
	items     map[string]*list.Element
	recency   *list.List
	mu        sync.Mutex
	evictions uint64
	nowFn     func() time.Time
}

type diskEntry struct {
	key       string
	createdAt time.Time
	sizeBytes int64
}

func NewDiskTier(logger types.Logger, baseDir string, capacity int, ttl time.Duration) (*DiskTier, error) {
	if capacity <= 0 {
		return nil, types.Errorf(types.ErrConfigInvalidSize, "disk tier capacity: %d", capacity)
	}
	if ttl <= 0 {
		return nil, types.Errorf(types.ErrConfigInvalidTTL, "disk tier ttl: %s", ttl)
	}

	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, types.WrapError(err, "failed to create cache directory")
	}

	t := &DiskTier{
		baseDir:  baseDir,
		capacity: capacity,
		ttl:      ttl,
		logger:   logger,
		items:    make(map[string]*list.Element),
		recency:  list.New(),
		nowFn:    time.Now,
	}

	if err := t.rebuildIndex(); err != nil {
		return nil, err
	}

	return t, nil
}

func (t *DiskTier) Name() types.Tier {
	return types.TierDisk
}

func (t *DiskTier) Get(_ context.Context, key string) (*types.CacheEntry, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	elem, ok := t.items[key]
	if !ok {
		return nil, types.ErrTierMiss
	}

	entry := elem.Value.(*diskEntry)
	if t.nowFn().Sub(entry.createdAt) >= t.ttl {
		t.removeRecordsLocked(elem)
		return nil, types.ErrEntryExpired
	}

	payload, err := os.ReadFile(t.payloadPath(key))
	if err != nil {
		// Unreadable payload record: drop the entry and report a miss.
		t.logger.Warn("Dropping corrupted disk cache entry",
			zap.String("key", key),
			zap.Error(types.WrapError(err, types.ErrEntryCorrupted.Error())))
		t.removeRecordsLocked(elem)
		return nil, types.ErrTierMiss
	}

	if int64(len(payload)) != entry.sizeBytes {
		t.logger.Warn("Disk cache entry size mismatch, dropping",
			zap.String("key", key),
			zap.Int64("expected", entry.sizeBytes),
			zap.Int("actual", len(payload)))
		t.removeRecordsLocked(elem)
		return nil, types.ErrTierMiss
	}

	t.recency.MoveToFront(elem)

	return &types.CacheEntry{
		Key:       key,
		Payload:   payload,
		CreatedAt: entry.createdAt,
		SizeBytes: entry.sizeBytes,
		Tier:      types.TierDisk,
	}, nil
}

func (t *DiskTier) Put(_ context.Context, key string, payload []byte, createdAt time.Time) error {
	if key == "" {
		return types.ErrCacheKeyEmpty
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if elem, ok := t.items[key]; ok {
		t.removeIndexLocked(elem)
	}

	for t.recency.Len() >= t.capacity {
		t.evictOldestLocked()
	}

	if err := t.writeRecords(key, payload, createdAt); err != nil {
		return err
	}

	elem := t.recency.PushFront(&diskEntry{
		key:       key,
		createdAt: createdAt,
		sizeBytes: int64(len(payload)),
	})
	t.items[key] = elem

	return nil
}

func (t *DiskTier) Exists(_ context.Context, key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	elem, ok := t.items[key]
	if !ok {
		return false
	}

	return t.nowFn().Sub(elem.Value.(*diskEntry).createdAt) < t.ttl
}

func (t *DiskTier) Remove(_ context.Context, key string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if elem, ok := t.items[key]; ok {
		t.removeRecordsLocked(elem)
	}
	return nil
}

func (t *DiskTier) RemoveExpired(olderThan time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	elem := t.recency.Back()
	for elem != nil {
		prev := elem.Prev()
		if !elem.Value.(*diskEntry).createdAt.After(olderThan) {
			t.removeRecordsLocked(elem)
			removed++
		}
		elem = prev
	}

	return removed
}

func (t *DiskTier) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.recency.Len()
}

func (t *DiskTier) Evictions() uint64 {
	return atomic.LoadUint64(&t.evictions)
}

// rebuildIndex scans persisted metadata records and reconstructs the
// recency index ordered by persisted timestamp. Records without a
// readable sidecar or without a payload file are discarded.
func (t *DiskTier) rebuildIndex() error {
	dirEntries, err := os.ReadDir(t.baseDir)
	if err != nil {
		return types.WrapError(err, "failed to scan cache directory")
	}

	entries := make([]*diskEntry, 0, len(dirEntries))

	for _, de := range dirEntries {
		if de.IsDir() || !strings.HasSuffix(de.Name(), metadataSuffix) {
			continue
		}

		data, err := os.ReadFile(filepath.Join(t.baseDir, de.Name()))
		if err != nil {
			t.logger.Warn("Skipping unreadable cache metadata", zap.String("file", de.Name()), zap.Error(err))
			continue
		}

		var meta diskMetadata
		if err := utils.Unmarshal(data, &meta); err != nil || meta.Key == "" {
			t.logger.Warn("Skipping malformed cache metadata", zap.String("file", de.Name()))
			t.removeFiles(strings.TrimSuffix(de.Name(), metadataSuffix))
			continue
		}

		if _, err := os.Stat(t.payloadPath(meta.Key)); err != nil {
			// Metadata without a payload record is a miss; clean it up.
			t.removeFiles(meta.Key)
			continue
		}

		entries = append(entries, &diskEntry{
			key:       meta.Key,
			createdAt: time.UnixMilli(meta.Timestamp),
			sizeBytes: meta.SizeBytes,
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].createdAt.Before(entries[j].createdAt)
	})

	for _, entry := range entries {
		elem := t.recency.PushFront(entry)
		t.items[entry.key] = elem
	}

	// The directory may hold more entries than the configured capacity
	// allows, e.g. after the capacity was lowered. Evict oldest-first
	// until the occupancy bound holds again.
	trimmed := 0
	for t.recency.Len() > t.capacity {
		t.evictOldestLocked()
		trimmed++
	}

	if len(entries) > 0 {
		t.logger.Info("Disk cache index rebuilt",
			zap.Int("entries", len(entries)),
			zap.Int("trimmed", trimmed))
	}

	return nil
}

func (t *DiskTier) writeRecords(key string, payload []byte, createdAt time.Time) error {
	if err := t.writeFileAtomic(t.payloadPath(key), payload); err != nil {
		return types.WrapError(err, "failed to write payload record")
	}

	meta := diskMetadata{
		Timestamp: createdAt.UnixMilli(),
		SizeBytes: int64(len(payload)),
		Key:       key,
	}

	data, err := utils.Marshal(meta)
	if err != nil {
		t.removeFiles(key)
		return types.WrapError(err, "failed to encode metadata record")
	}

	if err := t.writeFileAtomic(t.metadataPath(key), data); err != nil {
		t.removeFiles(key)
		return types.WrapError(err, "failed to write metadata record")
	}

	return nil
}

func (t *DiskTier) writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func (t *DiskTier) payloadPath(key string) string {
	return filepath.Join(t.baseDir, key+payloadSuffix)
}

func (t *DiskTier) metadataPath(key string) string {
	return filepath.Join(t.baseDir, key+metadataSuffix)
}

func (t *DiskTier) evictOldestLocked() {
	elem := t.recency.Back()
	if elem == nil {
		return
	}
	t.removeRecordsLocked(elem)
	atomic.AddUint64(&t.evictions, 1)
}

func (t *DiskTier) removeIndexLocked(elem *list.Element) {
	entry := elem.Value.(*diskEntry)
	t.recency.Remove(elem)
	delete(t.items, entry.key)
}

func (t *DiskTier) removeRecordsLocked(elem *list.Element) {
	entry := elem.Value.(*diskEntry)
	t.removeIndexLocked(elem)
	t.removeFiles(entry.key)
}

func (t *DiskTier) removeFiles(key string) {
	_ = os.Remove(t.payloadPath(key))
	_ = os.Remove(t.metadataPath(key))
}
