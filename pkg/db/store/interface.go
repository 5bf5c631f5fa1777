package store

import (
	"context"
	"errors"

	"github.com/mwantia/filer/pkg/metadata"
)

// ErrNotFound is returned when no record exists for a path.
var ErrNotFound = errors.New("record not found")

// MetadataIndex is the authoritative path -> record index.
type MetadataIndex interface {
	// Record upserts the record by path. The previous record at the same path
	// is replaced as a whole; concurrent calls resolve as last writer wins.
	Record(ctx context.Context, record *metadata.Record) error

	// Get returns ErrNotFound when the path is not indexed.
	Get(ctx context.Context, path string) (*metadata.Record, error)

	Exists(ctx context.Context, path string) (bool, error)

	Delete(ctx context.Context, path string) error

	// Rename moves a record to a new path and replaces any record already
	// stored there. Returns ErrNotFound when oldPath is not indexed.
	Rename(ctx context.Context, oldPath, newPath string) error

	List(ctx context.Context, prefix string, recursive bool) ([]*metadata.Record, error)

	SetVisibility(ctx context.Context, path string, visibility metadata.Visibility) error
}

// MetadataStore adds connection lifecycle to the index.
type MetadataStore interface {
	MetadataIndex

	Connect(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error
	Health(ctx context.Context) error
}
