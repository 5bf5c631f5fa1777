package minio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/mwantia/filer/pkg/backend"
	"github.com/mwantia/filer/pkg/log"
	"github.com/mwantia/filer/pkg/metadata"
)

const (
	AttributeBucket = "bucket"
	metaVisibility  = "Visibility"
)

type Config struct {
	Endpoint     string
	AccessKey    string
	SecretKey    string
	SessionToken string
	Region       string
	Bucket       string
	Prefix       string
	UseSSL       bool
}

func (c Config) Validate() error {
	if c.Endpoint == "" {
		return errors.New("endpoint is required")
	}
	if c.Bucket == "" {
		return errors.New("bucket is required")
	}
	return nil
}

// Backend stores objects in a MinIO (or any S3 compatible) bucket.
type Backend struct {
	name   string
	client *minio.Client
	bucket string
	prefix string
	log    log.LoggerService
}

var (
	_ backend.Backend   = (*Backend)(nil)
	_ backend.URLSigner = (*Backend)(nil)
)

func New(name string, cfg Config, logger log.LoggerService) (*Backend, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("minio backend '%s': %w", name, err)
	}

	opts := &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, cfg.SessionToken),
		Secure: cfg.UseSSL,
	}
	if cfg.Region != "" {
		opts.Region = cfg.Region
	}

	client, err := minio.New(cfg.Endpoint, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	return NewWithClient(name, client, cfg.Bucket, cfg.Prefix, logger), nil
}

func NewWithClient(name string, client *minio.Client, bucket, prefix string, logger log.LoggerService) *Backend {
	return &Backend{
		name:   name,
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
		log:    logger,
	}
}

func (b *Backend) Name() string {
	return b.name
}

// EnsureBucket creates the configured bucket when it does not exist yet.
func (b *Backend) EnsureBucket(ctx context.Context, region string) error {
	exists, err := b.client.BucketExists(ctx, b.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket '%s': %w", b.bucket, err)
	}
	if exists {
		return nil
	}

	if err := b.client.MakeBucket(ctx, b.bucket, minio.MakeBucketOptions{Region: region}); err != nil {
		return fmt.Errorf("failed to create bucket '%s': %w", b.bucket, err)
	}
	b.log.Info("Created bucket '%s'", b.bucket)
	return nil
}

func (b *Backend) Write(ctx context.Context, key string, r io.Reader, size int64, opts backend.Options) (metadata.Locator, error) {
	_, err := b.client.PutObject(ctx, b.bucket, b.object(key), r, size, putOptions(opts))
	if err != nil {
		return metadata.Locator{}, fmt.Errorf("failed to put '%s': %w", key, err)
	}
	return b.locator(key), nil
}

func (b *Backend) Read(ctx context.Context, locator metadata.Locator) (io.ReadCloser, error) {
	bucket := b.bucketOf(locator)

	obj, err := b.client.GetObject(ctx, bucket, b.object(locator.Key), minio.GetObjectOptions{})
	if err != nil {
		return nil, mapError(err)
	}

	// GetObject is lazy, stat surfaces a missing object before the first read.
	if _, err := obj.Stat(); err != nil {
		_ = obj.Close()
		return nil, mapError(err)
	}
	return obj, nil
}

func (b *Backend) Copy(ctx context.Context, src metadata.Locator, key string, opts backend.Options) (metadata.Locator, error) {
	dst := minio.CopyDestOptions{
		Bucket: b.bucket,
		Object: b.object(key),
	}
	if opts.Visibility != "" {
		dst.UserMetadata = map[string]string{metaVisibility: string(opts.Visibility)}
		dst.ReplaceMetadata = true
	}

	_, err := b.client.CopyObject(ctx, dst, minio.CopySrcOptions{
		Bucket: b.bucketOf(src),
		Object: b.object(src.Key),
	})
	if err != nil {
		return metadata.Locator{}, fmt.Errorf("failed to copy '%s' to '%s': %w", src.Key, key, mapError(err))
	}
	return b.locator(key), nil
}

func (b *Backend) Delete(ctx context.Context, locator metadata.Locator) error {
	err := b.client.RemoveObject(ctx, b.bucketOf(locator), b.object(locator.Key), minio.RemoveObjectOptions{})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("failed to remove '%s': %w", locator.Key, err)
	}
	return nil
}

func (b *Backend) Exists(ctx context.Context, key string) (bool, error) {
	_, err := b.client.StatObject(ctx, b.bucket, b.object(key), minio.StatObjectOptions{})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (b *Backend) Stat(ctx context.Context, key string) (*backend.ObjectInfo, error) {
	info, err := b.client.StatObject(ctx, b.bucket, b.object(key), minio.StatObjectOptions{})
	if err != nil {
		return nil, mapError(err)
	}

	return &backend.ObjectInfo{
		Locator:    b.locator(key),
		Attributes: attributes(key, info),
	}, nil
}

func (b *Backend) TemporaryURL(ctx context.Context, locator metadata.Locator, expiration time.Duration, opts backend.Options) (string, error) {
	params := url.Values{}
	if disposition, ok := opts.Extra[backend.ExtraContentDisposition]; ok {
		params.Set("response-content-disposition", disposition)
	}
	if opts.ContentType != "" {
		params.Set("response-content-type", opts.ContentType)
	}

	u, err := b.client.PresignedGetObject(ctx, b.bucketOf(locator), b.object(locator.Key), expiration, params)
	if err != nil {
		return "", fmt.Errorf("failed to presign '%s': %w", locator.Key, err)
	}
	return u.String(), nil
}

func (b *Backend) object(key string) string {
	key = strings.TrimPrefix(key, "/")
	if b.prefix == "" {
		return key
	}
	return path.Join(b.prefix, key)
}

func (b *Backend) locator(key string) metadata.Locator {
	return metadata.Locator{
		Key:        key,
		Attributes: map[string]string{AttributeBucket: b.bucket},
	}
}

func (b *Backend) bucketOf(locator metadata.Locator) string {
	if bucket := locator.Attributes[AttributeBucket]; bucket != "" {
		return bucket
	}
	return b.bucket
}

func putOptions(opts backend.Options) minio.PutObjectOptions {
	put := minio.PutObjectOptions{
		ContentType: opts.ContentType,
	}
	if opts.Visibility != "" {
		put.UserMetadata = map[string]string{metaVisibility: string(opts.Visibility)}
	}
	if cacheControl, ok := opts.Extra[backend.ExtraCacheControl]; ok {
		put.CacheControl = cacheControl
	}
	if disposition, ok := opts.Extra[backend.ExtraContentDisposition]; ok {
		put.ContentDisposition = disposition
	}
	return put
}

func attributes(key string, info minio.ObjectInfo) metadata.Attributes {
	attrs := metadata.Attributes{
		Path:         key,
		Size:         info.Size,
		Mimetype:     info.ContentType,
		LastModified: info.LastModified.UTC(),
	}

	// Multipart etags are not content hashes.
	if etag := strings.Trim(info.ETag, `"`); etag != "" && !strings.Contains(etag, "-") {
		attrs.Hash = etag
	}

	for k, v := range info.UserMetadata {
		if strings.EqualFold(k, metaVisibility) {
			if visibility, err := metadata.ParseVisibility(v); err == nil {
				attrs.Visibility = visibility
			}
		}
	}
	return attrs
}

func isNotFound(err error) bool {
	code := minio.ToErrorResponse(err).Code
	return code == "NoSuchKey" || code == "NotFound"
}

func mapError(err error) error {
	if isNotFound(err) {
		return backend.ErrNotFound
	}
	return err
}
