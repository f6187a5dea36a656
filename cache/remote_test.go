package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saiset-co/sai-voice-cache/types"
)

type fakeStorageProvider struct {
	mu      sync.Mutex
	objects map[string]fakeObject
	getErr  error
	headErr error
	putErr  error
	removed []string
}

type fakeObject struct {
	payload  []byte
	modified time.Time
	metadata map[string]string
}

func newFakeStorageProvider() *fakeStorageProvider {
	return &fakeStorageProvider{objects: make(map[string]fakeObject)}
}

func (f *fakeStorageProvider) Get(_ context.Context, key string) ([]byte, types.ObjectMetadata, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.getErr != nil {
		return nil, types.ObjectMetadata{}, f.getErr
	}

	obj, ok := f.objects[key]
	if !ok {
		return nil, types.ObjectMetadata{}, types.ErrObjectNotFound
	}

	return obj.payload, types.ObjectMetadata{LastModified: obj.modified, SizeBytes: int64(len(obj.payload))}, nil
}

func (f *fakeStorageProvider) Put(_ context.Context, key string, payload []byte, metadata map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.putErr != nil {
		return f.putErr
	}

	f.objects[key] = fakeObject{payload: payload, modified: time.Now(), metadata: metadata}
	return nil
}

func (f *fakeStorageProvider) HeadMetadata(_ context.Context, key string) (types.ObjectMetadata, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.headErr != nil {
		return types.ObjectMetadata{}, f.headErr
	}

	obj, ok := f.objects[key]
	if !ok {
		return types.ObjectMetadata{}, types.ErrObjectNotFound
	}

	return types.ObjectMetadata{LastModified: obj.modified, SizeBytes: int64(len(obj.payload))}, nil
}

func (f *fakeStorageProvider) Ping(context.Context) error {
	return nil
}

func (f *fakeStorageProvider) put(key string, payload []byte, modified time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = fakeObject{payload: payload, modified: modified}
}

func (f *fakeStorageProvider) has(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.objects[key]
	return ok
}

func TestRemoteTierGet(t *testing.T) {
	provider := newFakeStorageProvider()
	provider.put("alert-1", []byte("audio"), time.Now())

	tier, err := NewRemoteTier(provider, time.Hour)
	require.NoError(t, err)

	entry, err := tier.Get(context.Background(), "alert-1")
	require.NoError(t, err)
	assert.Equal(t, []byte("audio"), entry.Payload)
	assert.Equal(t, types.TierRemote, entry.Tier)
}

func TestRemoteTierMiss(t *testing.T) {
	tier, err := NewRemoteTier(newFakeStorageProvider(), time.Hour)
	require.NoError(t, err)

	_, err = tier.Get(context.Background(), "absent")
	assert.ErrorIs(t, err, types.ErrTierMiss)
}

func TestRemoteTierExpiredObjectIsNotDeleted(t *testing.T) {
	provider := newFakeStorageProvider()
	provider.put("stale", []byte("audio"), time.Now().Add(-2*time.Hour))

	tier, err := NewRemoteTier(provider, time.Hour)
	require.NoError(t, err)

	_, err = tier.Get(context.Background(), "stale")
	assert.ErrorIs(t, err, types.ErrEntryExpired)

	// The object stays in storage; its lifecycle belongs to the provider.
	assert.True(t, provider.has("stale"))
}

func TestRemoteTierProviderErrorIsTransient(t *testing.T) {
	provider := newFakeStorageProvider()
	provider.headErr = types.ErrStorageUnavailable

	tier, err := NewRemoteTier(provider, time.Hour)
	require.NoError(t, err)

	_, err = tier.Get(context.Background(), "any")
	assert.ErrorIs(t, err, types.ErrTransientDependency)
	assert.False(t, types.IsMiss(err))
}

func TestRemoteTierPutAttachesMetadata(t *testing.T) {
	provider := newFakeStorageProvider()

	tier, err := NewRemoteTier(provider, time.Hour)
	require.NoError(t, err)

	createdAt := time.Now()
	require.NoError(t, tier.Put(context.Background(), "alert-1", []byte("audio"), createdAt))

	obj := provider.objects["alert-1"]
	assert.Equal(t, []byte("audio"), obj.payload)
	assert.Contains(t, obj.metadata, "created-at")
	assert.Equal(t, "5", obj.metadata["size-bytes"])
}

func TestRemoteTierExists(t *testing.T) {
	provider := newFakeStorageProvider()
	provider.put("fresh", []byte("a"), time.Now())
	provider.put("stale", []byte("b"), time.Now().Add(-2*time.Hour))

	tier, err := NewRemoteTier(provider, time.Hour)
	require.NoError(t, err)

	ctx := context.Background()
	assert.True(t, tier.Exists(ctx, "fresh"))
	assert.False(t, tier.Exists(ctx, "stale"))
	assert.False(t, tier.Exists(ctx, "absent"))
}
