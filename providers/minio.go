package providers

import (
	"bytes"
	"context"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/saiset-co/sai-voice-cache/types"
)

// MinioStorageProvider backs the remote tier with S3-compatible object
// storage. Object keys map one-to-one to cache keys inside a single
// bucket.
type MinioStorageProvider struct {
	client *minio.Client
	bucket string
}

func NewMinioStorageProvider(config *types.StorageProviderConfig) (*MinioStorageProvider, error) {
	if config == nil || config.Endpoint == "" || config.Bucket == "" {
		return nil, types.Errorf(types.ErrStorageUnavailable, "minio endpoint and bucket are required")
	}

	client, err := minio.New(config.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(config.AccessKey, config.SecretKey, ""),
		Secure: config.UseTLS,
	})
	if err != nil {
		return nil, types.WrapError(err, "failed to create minio client")
	}

	return &MinioStorageProvider{
		client: client,
		bucket: config.Bucket,
	}, nil
}

func (p *MinioStorageProvider) Get(ctx context.Context, key string) ([]byte, types.ObjectMetadata, error) {
	obj, err := p.client.GetObject(ctx, p.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, types.ObjectMetadata{}, p.translate(err)
	}
	defer obj.Close()

	payload, err := io.ReadAll(obj)
	if err != nil {
		return nil, types.ObjectMetadata{}, p.translate(err)
	}

	stat, err := obj.Stat()
	if err != nil {
		return nil, types.ObjectMetadata{}, p.translate(err)
	}

	return payload, types.ObjectMetadata{
		LastModified: stat.LastModified,
		SizeBytes:    stat.Size,
	}, nil
}

func (p *MinioStorageProvider) Put(ctx context.Context, key string, payload []byte, metadata map[string]string) error {
	_, err := p.client.PutObject(ctx, p.bucket, key, bytes.NewReader(payload), int64(len(payload)), minio.PutObjectOptions{
		ContentType:  "audio/mpeg",
		UserMetadata: metadata,
	})
	if err != nil {
		return p.translate(err)
	}

	return nil
}

func (p *MinioStorageProvider) HeadMetadata(ctx context.Context, key string) (types.ObjectMetadata, error) {
	stat, err := p.client.StatObject(ctx, p.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return types.ObjectMetadata{}, p.translate(err)
	}

	return types.ObjectMetadata{
		LastModified: stat.LastModified,
		SizeBytes:    stat.Size,
	}, nil
}

func (p *MinioStorageProvider) Ping(ctx context.Context) error {
	exists, err := p.client.BucketExists(ctx, p.bucket)
	if err != nil {
		return types.WrapError(types.ErrTransientDependency, err.Error())
	}
	if !exists {
		return types.Errorf(types.ErrStorageUnavailable, "bucket %s does not exist", p.bucket)
	}
	return nil
}

func (p *MinioStorageProvider) translate(err error) error {
	resp := minio.ToErrorResponse(err)
	if resp.Code == "NoSuchKey" || resp.Code == "NotFound" {
		return types.ErrObjectNotFound
	}
	return types.WrapError(types.ErrTransientDependency, err.Error())
}
