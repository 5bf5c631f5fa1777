package agent

import (
	"context"
	"fmt"

	config "github.com/mwantia/filer/internal/config/server"
	"github.com/mwantia/filer/pkg/backend"
	"github.com/mwantia/filer/pkg/backend/local"
	"github.com/mwantia/filer/pkg/backend/minio"
	"github.com/mwantia/filer/pkg/backend/s3"
	"github.com/mwantia/filer/pkg/log"
)

// NewBackend builds a physical backend from its configuration entry.
func NewBackend(ctx context.Context, cfg config.BackendServerConfig, logger log.LoggerService) (backend.Backend, error) {
	switch cfg.Type {
	case "local":
		return local.NewOs(cfg.Name, cfg.Local.Root, logger)

	case "minio":
		b, err := minio.New(cfg.Name, minio.Config{
			Endpoint:  cfg.Minio.Endpoint,
			AccessKey: cfg.Minio.AccessKey,
			SecretKey: cfg.Minio.SecretKey,
			Region:    cfg.Minio.Region,
			Bucket:    cfg.Minio.Bucket,
			Prefix:    cfg.Minio.Prefix,
			UseSSL:    cfg.Minio.UseSSL,
		}, logger)
		if err != nil {
			return nil, err
		}
		if cfg.Minio.CreateBucket {
			if err := b.EnsureBucket(ctx, cfg.Minio.Region); err != nil {
				return nil, err
			}
		}
		return b, nil

	case "s3":
		return s3.New(ctx, cfg.Name, s3.Config{
			Region:         cfg.S3.Region,
			Endpoint:       cfg.S3.Endpoint,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			Bucket:         cfg.S3.Bucket,
			Prefix:         cfg.S3.Prefix,
			ForcePathStyle: cfg.S3.ForcePathStyle,
			PublicACL:      cfg.S3.PublicACL,
		}, logger)

	default:
		return nil, fmt.Errorf("backend '%s': unsupported type '%s'", cfg.Name, cfg.Type)
	}
}
