package backend

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/mwantia/filer/pkg/metadata"
)

var (
	// ErrNotFound is returned by Stat and Read when the backend does not hold the object.
	ErrNotFound = errors.New("object not found")
	// ErrNotSupported is returned when a backend lacks an optional capability.
	ErrNotSupported = errors.New("operation not supported by backend")
	// ErrUnknownBackend is returned when a name is not configured.
	ErrUnknownBackend = errors.New("unknown backend")
)

// Options are passed through to physical writes and copies.
type Options struct {
	ContentType string
	Visibility  metadata.Visibility
	Extra       map[string]string
}

// Common keys inside Options.Extra.
const (
	ExtraCacheControl       = "cache_control"
	ExtraContentDisposition = "content_disposition"
)

// ObjectInfo is what a backend reports about an object it holds.
type ObjectInfo struct {
	Locator    metadata.Locator
	Attributes metadata.Attributes
}

// Backend is a single named physical store. Keys are relative to the
// backend's own root or prefix; locators returned by a backend are the only
// thing passed back to it for I/O.
type Backend interface {
	Name() string

	Write(ctx context.Context, key string, r io.Reader, size int64, opts Options) (metadata.Locator, error)
	Read(ctx context.Context, locator metadata.Locator) (io.ReadCloser, error)
	Copy(ctx context.Context, src metadata.Locator, key string, opts Options) (metadata.Locator, error)

	// Delete succeeds when the object is already gone.
	Delete(ctx context.Context, locator metadata.Locator) error

	Exists(ctx context.Context, key string) (bool, error)
	Stat(ctx context.Context, key string) (*ObjectInfo, error)
}

// URLSigner is implemented by backends able to hand out temporary URLs.
type URLSigner interface {
	TemporaryURL(ctx context.Context, locator metadata.Locator, expiration time.Duration, opts Options) (string, error)
}

// LegacyAttributes is one legacy backend's answer for a probed path.
type LegacyAttributes struct {
	Backend    string
	Locator    metadata.Locator
	Attributes metadata.Attributes
}

// Resolver performs physical I/O against the configured backends on behalf
// of the orchestrator. All reads go through a backing location, never a path.
type Resolver interface {
	Write(ctx context.Context, path string, data []byte, opts Options) (*metadata.BackingLocation, error)
	WriteStream(ctx context.Context, path string, stream io.ReadSeeker, opts Options) (*metadata.BackingLocation, error)

	Read(ctx context.Context, backing *metadata.BackingLocation) ([]byte, error)
	ReadStream(ctx context.Context, backing *metadata.BackingLocation) (io.ReadCloser, error)

	Copy(ctx context.Context, backing *metadata.BackingLocation, destination string, opts Options) (*metadata.BackingLocation, error)
	Delete(ctx context.Context, path string, backing *metadata.BackingLocation) error

	// Has is a cheap presence probe across the legacy backends.
	Has(ctx context.Context, path string) (bool, error)

	// LegacyMetadata probes every legacy backend and returns the reporting
	// ones in configuration order. An empty result means no backend holds
	// the path.
	LegacyMetadata(ctx context.Context, path string) ([]LegacyAttributes, error)

	// HasLegacy reports whether any legacy backend is configured.
	HasLegacy() bool

	Backend(name string) (Backend, error)
}
