package providers

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/saiset-co/sai-voice-cache/types"
)

const redisKeyPrefix = "voice-cache:"

// RedisStorageProvider backs the remote tier with a redis hash per
// entry: the payload plus a modification timestamp so metadata reads
// stay cheap.
type RedisStorageProvider struct {
	client *redis.Client
	nowFn  func() time.Time
}

func NewRedisStorageProvider(config *types.StorageProviderConfig) (*RedisStorageProvider, error) {
	if config == nil || config.Endpoint == "" {
		return nil, types.Errorf(types.ErrStorageUnavailable, "redis endpoint is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     config.Endpoint,
		Password: config.SecretKey,
	})

	return &RedisStorageProvider{
		client: client,
		nowFn:  time.Now,
	}, nil
}

func (p *RedisStorageProvider) Get(ctx context.Context, key string) ([]byte, types.ObjectMetadata, error) {
	values, err := p.client.HMGet(ctx, redisKeyPrefix+key, "payload", "mtime").Result()
	if err != nil {
		return nil, types.ObjectMetadata{}, types.WrapError(types.ErrTransientDependency, err.Error())
	}

	if values[0] == nil {
		return nil, types.ObjectMetadata{}, types.ErrObjectNotFound
	}

	payload := []byte(values[0].(string))
	meta := types.ObjectMetadata{SizeBytes: int64(len(payload))}

	if values[1] != nil {
		if millis, err := strconv.ParseInt(values[1].(string), 10, 64); err == nil {
			meta.LastModified = time.UnixMilli(millis)
		}
	}

	return payload, meta, nil
}

func (p *RedisStorageProvider) Put(ctx context.Context, key string, payload []byte, metadata map[string]string) error {
	fields := map[string]interface{}{
		"payload": payload,
		"mtime":   strconv.FormatInt(p.nowFn().UnixMilli(), 10),
	}
	for name, value := range metadata {
		fields["meta:"+name] = value
	}

	if err := p.client.HSet(ctx, redisKeyPrefix+key, fields).Err(); err != nil {
		return types.WrapError(types.ErrTransientDependency, err.Error())
	}

	return nil
}

func (p *RedisStorageProvider) HeadMetadata(ctx context.Context, key string) (types.ObjectMetadata, error) {
	mtime, err := p.client.HGet(ctx, redisKeyPrefix+key, "mtime").Result()
	if err == redis.Nil {
		return types.ObjectMetadata{}, types.ErrObjectNotFound
	}
	if err != nil {
		return types.ObjectMetadata{}, types.WrapError(types.ErrTransientDependency, err.Error())
	}

	millis, err := strconv.ParseInt(mtime, 10, 64)
	if err != nil {
		return types.ObjectMetadata{}, types.ErrObjectNotFound
	}

	size, err := p.client.HStrLen(ctx, redisKeyPrefix+key, "payload").Result()
	if err != nil {
		return types.ObjectMetadata{}, types.WrapError(types.ErrTransientDependency, err.Error())
	}

	return types.ObjectMetadata{
		LastModified: time.UnixMilli(millis),
		SizeBytes:    size,
	}, nil
}

func (p *RedisStorageProvider) Ping(ctx context.Context) error {
	if err := p.client.Ping(ctx).Err(); err != nil {
		return types.WrapError(types.ErrTransientDependency, err.Error())
	}
	return nil
}

func (p *RedisStorageProvider) Close() error {
	return p.client.Close()
}
