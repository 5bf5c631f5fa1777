package s3

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/mwantia/filer/pkg/backend"
	"github.com/mwantia/filer/pkg/log"
	"github.com/mwantia/filer/pkg/metadata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestBackend(t *testing.T, prefix string) *Backend {
	t.Helper()

	client := s3.New(s3.Options{
		Region:       "eu-central-1",
		Credentials:  credentials.NewStaticCredentialsProvider("AKID", "SECRET", ""),
		BaseEndpoint: aws.String("http://localhost:4566"),
		UsePathStyle: true,
	})
	return NewWithClient("s3", client, "files", prefix, log.NewNopLogger())
}

func TestNew_RequiresBucket(t *testing.T) {
	_, err := New(context.Background(), "s3", Config{Region: "eu-central-1"}, log.NewNopLogger())
	assert.Error(t, err)
}

func TestBackend_PutInput(t *testing.T) {
	b := setupTestBackend(t, "filer")
	b.publicACL = true

	input := b.putInput("ab/cd/x.txt", backend.Options{
		ContentType: "text/plain",
		Visibility:  metadata.VisibilityPublic,
		Extra:       map[string]string{backend.ExtraCacheControl: "no-cache"},
	})

	assert.Equal(t, "files", aws.ToString(input.Bucket))
	assert.Equal(t, "filer/ab/cd/x.txt", aws.ToString(input.Key))
	assert.Equal(t, "text/plain", aws.ToString(input.ContentType))
	assert.Equal(t, "no-cache", aws.ToString(input.CacheControl))
	assert.Equal(t, types.ObjectCannedACLPublicRead, input.ACL)
	assert.Equal(t, "public", input.Metadata[metaVisibility])

	private := b.putInput("a.txt", backend.Options{Visibility: metadata.VisibilityPrivate})
	assert.Empty(t, private.ACL)
}

func TestCopySource(t *testing.T) {
	assert.Equal(t, "files/ab/cd/x.txt", copySource("files", "ab/cd/x.txt"))
	assert.Equal(t, "files/docs/a%20b.txt", copySource("files", "docs/a b.txt"))
}

func TestAttributes(t *testing.T) {
	modified := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	attrs := attributes("legacy.bin", &s3.HeadObjectOutput{
		ContentLength: aws.Int64(10),
		ContentType:   aws.String("application/octet-stream"),
		ETag:          aws.String(`"781e5e245d69b566979b86e28d23f2c7"`),
		LastModified:  aws.Time(modified),
		Metadata:      map[string]string{metaVisibility: "public"},
	})

	assert.Equal(t, int64(10), attrs.Size)
	assert.Equal(t, "781e5e245d69b566979b86e28d23f2c7", attrs.Hash)
	assert.Equal(t, metadata.VisibilityPublic, attrs.Visibility)
	assert.Equal(t, modified, attrs.LastModified)

	empty := attributes("x", &s3.HeadObjectOutput{ETag: aws.String(`"abc-2"`)})
	assert.Empty(t, empty.Hash)
	assert.Empty(t, empty.Visibility)
	assert.True(t, empty.LastModified.IsZero())
}

func TestMapError(t *testing.T) {
	assert.ErrorIs(t, mapError(&types.NotFound{}), backend.ErrNotFound)
	assert.ErrorIs(t, mapError(fmt.Errorf("head: %w", &types.NoSuchKey{})), backend.ErrNotFound)

	other := errors.New("throttled")
	assert.Equal(t, other, mapError(other))
}

func TestBackend_TemporaryURL(t *testing.T) {
	b := setupTestBackend(t, "")

	raw, err := b.TemporaryURL(context.Background(), b.locator("ab/cd/x.txt"), 10*time.Minute, backend.Options{})
	require.NoError(t, err)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "/files/ab/cd/x.txt", u.Path)
	assert.Equal(t, "600", u.Query().Get("X-Amz-Expires"))
}
