package objstore

import (
	"bytes"
	"context"
	"io"
	"sort"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/oakvale/lakehouse-jobs/internal/resilience"
)

// MinioConfig locates an S3-compatible endpoint.
type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
}

// NewMinioClient creates a client for cfg. No request is made.
func NewMinioClient(cfg MinioConfig) (*minio.Client, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, eris.Wrapf(err, "objstore: minio client for %s", cfg.Endpoint)
	}
	return client, nil
}

// MinioBucket implements Bucket on one bucket of a minio client.
type MinioBucket struct {
	client  *minio.Client
	bucket  string
	breaker *resilience.Breaker
	log     *zap.Logger
}

// OpenMinioBucket returns a Bucket for name, creating the bucket if missing.
// The existence check is retried while the endpoint comes up.
func OpenMinioBucket(ctx context.Context, client *minio.Client, name, region string) (*MinioBucket, error) {
	log := zap.L().With(zap.String("component", "objstore"), zap.String("bucket", name))

	retry := resilience.BucketPolicy()
	retry.OnRetry = resilience.LogRetries("minio", "ensure_bucket")

	err := resilience.Retry(ctx, retry, func(ctx context.Context) error {
		exists, err := client.BucketExists(ctx, name)
		if err != nil {
			return eris.Wrapf(err, "objstore: bucket exists %s", name)
		}
		if exists {
			return nil
		}
		if err := client.MakeBucket(ctx, name, minio.MakeBucketOptions{Region: region}); err != nil {
			return eris.Wrapf(err, "objstore: make bucket %s", name)
		}
		log.Info("created bucket")
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &MinioBucket{
		client:  client,
		bucket:  name,
		breaker: resilience.NewBreaker("minio:" + name),
		log:     log,
	}, nil
}

// Name returns the bucket name.
func (b *MinioBucket) Name() string { return b.bucket }

// Put uploads body to key, failing fast while the circuit is open.
func (b *MinioBucket) Put(ctx context.Context, key string, body []byte, opts PutOptions) error {
	return b.breaker.Call(ctx, func(ctx context.Context) error {
		_, err := b.client.PutObject(ctx, b.bucket, key, bytes.NewReader(body), int64(len(body)), minio.PutObjectOptions{
			ContentType:     opts.ContentType,
			ContentEncoding: opts.ContentEncoding,
			UserMetadata:    opts.Metadata,
		})
		return eris.Wrapf(err, "objstore: put %s/%s", b.bucket, key)
	})
}

// Get downloads key. Missing keys yield ErrNotFound.
func (b *MinioBucket) Get(ctx context.Context, key string) ([]byte, error) {
	obj, err := b.client.GetObject(ctx, b.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, b.getErr(err, key)
	}
	defer obj.Close() //nolint:errcheck

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, b.getErr(err, key)
	}
	return data, nil
}

func (b *MinioBucket) getErr(err error, key string) error {
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return eris.Wrapf(ErrNotFound, "objstore: get %s/%s", b.bucket, key)
	}
	return eris.Wrapf(err, "objstore: get %s/%s", b.bucket, key)
}

// List returns all keys under prefix.
func (b *MinioBucket) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	for obj := range b.client.ListObjects(ctx, b.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, eris.Wrapf(obj.Err, "objstore: list %s/%s", b.bucket, prefix)
		}
		keys = append(keys, obj.Key)
	}
	sort.Strings(keys)
	return keys, nil
}
