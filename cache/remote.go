package cache

import (
	"context"
	"strconv"
	"time"

	"github.com/saiset-co/sai-voice-cache/types"
)

// RemoteTier is the durable tier behind the ObjectStorageProvider. It
// enforces no capacity bound of its own and never proactively cleans
// itself: an object older than the TTL is reported as a miss and left in
// place for the provider's own lifecycle rules.
type RemoteTier struct {
	provider types.ObjectStorageProvider
	ttl      time.Duration
	nowFn    func() time.Time
}

func NewRemoteTier(provider types.ObjectStorageProvider, ttl time.Duration) (*RemoteTier, error) {
	if provider == nil {
		return nil, types.Errorf(types.ErrStorageUnavailable, "object storage provider is nil")
	}
	if ttl <= 0 {
		return nil, types.Errorf(types.ErrConfigInvalidTTL, "remote tier ttl: %s", ttl)
	}

	return &RemoteTier{
		provider: provider,
		ttl:      ttl,
		nowFn:    time.Now,
	}, nil
}

func (t *RemoteTier) Name() types.Tier {
	return types.TierRemote
}

// Get fetches metadata first so an expired object is detected without
// transferring its payload.
func (t *RemoteTier) Get(ctx context.Context, key string) (*types.CacheEntry, error) {
	meta, err := t.provider.HeadMetadata(ctx, key)
	if err != nil {
		if types.IsError(err, types.ErrObjectNotFound) {
			return nil, types.ErrTierMiss
		}
		return nil, types.WrapError(types.ErrTransientDependency, err.Error())
	}

	if t.nowFn().Sub(meta.LastModified) >= t.ttl {
		return nil, types.ErrEntryExpired
	}

	payload, meta, err := t.provider.Get(ctx, key)
	if err != nil {
		if types.IsError(err, types.ErrObjectNotFound) {
			return nil, types.ErrTierMiss
		}
		return nil, types.WrapError(types.ErrTransientDependency, err.Error())
	}

	return &types.CacheEntry{
		Key:       key,
		Payload:   payload,
		CreatedAt: meta.LastModified,
		SizeBytes: int64(len(payload)),
		Tier:      types.TierRemote,
	}, nil
}

func (t *RemoteTier) Put(ctx context.Context, key string, payload []byte, createdAt time.Time) error {
	metadata := map[string]string{
		"created-at": strconv.FormatInt(createdAt.UnixMilli(), 10),
		"size-bytes": strconv.Itoa(len(payload)),
	}

	if err := t.provider.Put(ctx, key, payload, metadata); err != nil {
		return types.WrapError(types.ErrTransientDependency, err.Error())
	}
	return nil
}

func (t *RemoteTier) Exists(ctx context.Context, key string) bool {
	meta, err := t.provider.HeadMetadata(ctx, key)
	if err != nil {
		return false
	}
	return t.nowFn().Sub(meta.LastModified) < t.ttl
}

func (t *RemoteTier) Remove(ctx context.Context, key string) error {
	// The provider owns object lifecycle; the cache never deletes
	// remotely. Expired objects are simply reported as misses.
	return nil
}
