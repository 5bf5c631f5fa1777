package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/mwantia/filer/pkg/backend"
	"github.com/mwantia/filer/pkg/log"
	"github.com/mwantia/filer/pkg/metadata"
)

const (
	AttributeBucket = "bucket"
	metaVisibility  = "visibility"
)

type Config struct {
	Region         string
	Endpoint       string
	AccessKey      string
	SecretKey      string
	Bucket         string
	Prefix         string
	ForcePathStyle bool
	// PublicACL applies the public-read canned ACL to public objects.
	PublicACL bool
}

// Backend stores objects in an AWS S3 bucket.
type Backend struct {
	name      string
	client    *s3.Client
	uploader  *manager.Uploader
	presigner *s3.PresignClient
	bucket    string
	prefix    string
	publicACL bool
	log       log.LoggerService
}

var (
	_ backend.Backend   = (*Backend)(nil)
	_ backend.URLSigner = (*Backend)(nil)
)

func New(ctx context.Context, name string, cfg Config, logger log.LoggerService) (*Backend, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 backend '%s': bucket is required", name)
	}

	loaders := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" {
		loaders = append(loaders, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loaders...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		if cfg.ForcePathStyle {
			o.UsePathStyle = true
		}
	})

	b := NewWithClient(name, client, cfg.Bucket, cfg.Prefix, logger)
	b.publicACL = cfg.PublicACL
	return b, nil
}

func NewWithClient(name string, client *s3.Client, bucket, prefix string, logger log.LoggerService) *Backend {
	return &Backend{
		name:      name,
		client:    client,
		uploader:  manager.NewUploader(client),
		presigner: s3.NewPresignClient(client),
		bucket:    bucket,
		prefix:    strings.Trim(prefix, "/"),
		log:       logger,
	}
}

func (b *Backend) Name() string {
	return b.name
}

// Write uploads through the transfer manager so unsized readers work as
// well, large bodies are sent as multipart uploads.
func (b *Backend) Write(ctx context.Context, key string, r io.Reader, size int64, opts backend.Options) (metadata.Locator, error) {
	input := b.putInput(key, opts)
	input.Body = r

	if _, err := b.uploader.Upload(ctx, input); err != nil {
		return metadata.Locator{}, fmt.Errorf("failed to upload '%s': %w", key, err)
	}
	return b.locator(key), nil
}

func (b *Backend) Read(ctx context.Context, locator metadata.Locator) (io.ReadCloser, error) {
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucketOf(locator)),
		Key:    aws.String(b.object(locator.Key)),
	})
	if err != nil {
		return nil, mapError(err)
	}
	return out.Body, nil
}

func (b *Backend) Copy(ctx context.Context, src metadata.Locator, key string, opts backend.Options) (metadata.Locator, error) {
	input := &s3.CopyObjectInput{
		Bucket:     aws.String(b.bucket),
		Key:        aws.String(b.object(key)),
		CopySource: aws.String(copySource(b.bucketOf(src), b.object(src.Key))),
	}
	if opts.Visibility != "" {
		input.MetadataDirective = types.MetadataDirectiveReplace
		input.Metadata = map[string]string{metaVisibility: string(opts.Visibility)}
		if opts.ContentType != "" {
			input.ContentType = aws.String(opts.ContentType)
		}
		if b.publicACL && opts.Visibility == metadata.VisibilityPublic {
			input.ACL = types.ObjectCannedACLPublicRead
		}
	}

	if _, err := b.client.CopyObject(ctx, input); err != nil {
		return metadata.Locator{}, fmt.Errorf("failed to copy '%s' to '%s': %w", src.Key, key, mapError(err))
	}
	return b.locator(key), nil
}

func (b *Backend) Delete(ctx context.Context, locator metadata.Locator) error {
	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucketOf(locator)),
		Key:    aws.String(b.object(locator.Key)),
	})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("failed to delete '%s': %w", locator.Key, err)
	}
	return nil
}

func (b *Backend) Exists(ctx context.Context, key string) (bool, error) {
	_, err := b.head(ctx, key)
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (b *Backend) Stat(ctx context.Context, key string) (*backend.ObjectInfo, error) {
	out, err := b.head(ctx, key)
	if err != nil {
		return nil, mapError(err)
	}

	return &backend.ObjectInfo{
		Locator:    b.locator(key),
		Attributes: attributes(key, out),
	}, nil
}

func (b *Backend) TemporaryURL(ctx context.Context, locator metadata.Locator, expiration time.Duration, opts backend.Options) (string, error) {
	input := &s3.GetObjectInput{
		Bucket: aws.String(b.bucketOf(locator)),
		Key:    aws.String(b.object(locator.Key)),
	}
	if disposition, ok := opts.Extra[backend.ExtraContentDisposition]; ok {
		input.ResponseContentDisposition = aws.String(disposition)
	}
	if opts.ContentType != "" {
		input.ResponseContentType = aws.String(opts.ContentType)
	}

	req, err := b.presigner.PresignGetObject(ctx, input, s3.WithPresignExpires(expiration))
	if err != nil {
		return "", fmt.Errorf("failed to presign '%s': %w", locator.Key, err)
	}
	return req.URL, nil
}

func (b *Backend) head(ctx context.Context, key string) (*s3.HeadObjectOutput, error) {
	return b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.object(key)),
	})
}

func (b *Backend) putInput(key string, opts backend.Options) *s3.PutObjectInput {
	input := &s3.PutObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.object(key)),
	}
	if opts.ContentType != "" {
		input.ContentType = aws.String(opts.ContentType)
	}
	if opts.Visibility != "" {
		input.Metadata = map[string]string{metaVisibility: string(opts.Visibility)}
	}
	if b.publicACL && opts.Visibility == metadata.VisibilityPublic {
		input.ACL = types.ObjectCannedACLPublicRead
	}
	if cacheControl, ok := opts.Extra[backend.ExtraCacheControl]; ok {
		input.CacheControl = aws.String(cacheControl)
	}
	if disposition, ok := opts.Extra[backend.ExtraContentDisposition]; ok {
		input.ContentDisposition = aws.String(disposition)
	}
	return input
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

func copySource(bucket, object string) string {
	return bucket + "/" + (&url.URL{Path: object}).EscapedPath()
}

func attributes(key string, out *s3.HeadObjectOutput) metadata.Attributes {
	attrs := metadata.Attributes{
		Path:     key,
		Size:     aws.ToInt64(out.ContentLength),
		Mimetype: aws.ToString(out.ContentType),
	}
	if out.LastModified != nil {
		attrs.LastModified = out.LastModified.UTC()
	}

	// Multipart etags are not content hashes.
	if etag := strings.Trim(aws.ToString(out.ETag), `"`); etag != "" && !strings.Contains(etag, "-") {
		attrs.Hash = etag
	}

	if visibility, err := metadata.ParseVisibility(out.Metadata[metaVisibility]); err == nil {
		attrs.Visibility = visibility
	}
	return attrs
}

func isNotFound(err error) bool {
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var nsk *types.NoSuchKey
	return errors.As(err, &nsk)
}

func mapError(err error) error {
	if isNotFound(err) {
		return backend.ErrNotFound
	}
	return err
}
