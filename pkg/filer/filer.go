package filer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/mwantia/filer/pkg/backend"
	"github.com/mwantia/filer/pkg/db/store"
	"github.com/mwantia/filer/pkg/log"
	"github.com/mwantia/filer/pkg/metadata"
)

type Config struct {
	// LegacyEnabled turns on lazy migration from the resolver's legacy backends.
	LegacyEnabled bool
	// OnMigrate is called after a legacy file has been recorded in the index.
	OnMigrate func(path string, backends []string)
}

// Options apply to writes, copies and temporary urls.
type Options struct {
	Visibility metadata.Visibility
	Extra      map[string]string
}

// Filer addresses files by logical path. Every physical operation goes
// through the backing location stored in the index, never the path itself.
type Filer struct {
	cfg      Config
	index    store.MetadataIndex
	resolver backend.Resolver
	log      log.LoggerService
}

func New(index store.MetadataIndex, resolver backend.Resolver, cfg Config, logger log.LoggerService) *Filer {
	return &Filer{
		cfg:      cfg,
		index:    index,
		resolver: resolver,
		log:      logger,
	}
}

// Write stores data at p, fully replacing any existing record.
func (f *Filer) Write(ctx context.Context, p string, data []byte, opts Options) error {
	p, err := clean(p)
	if err != nil {
		return err
	}
	if err := opts.validate(); err != nil {
		return err
	}

	record, err := metadata.FromContent(p, metadata.Bytes(data))
	if err != nil {
		return err
	}
	f.applyOptions(record, opts)

	previous := f.indexed(ctx, p)

	backing, err := f.resolver.Write(ctx, p, data, f.backendOptions(record, opts))
	if err != nil {
		return err
	}
	if err := f.persist(ctx, record, backing); err != nil {
		return err
	}

	f.release(ctx, previous)
	return nil
}

// WriteStream behaves like Write for seekable content. The stream is measured
// and hashed without being loaded into memory.
func (f *Filer) WriteStream(ctx context.Context, p string, stream io.ReadSeeker, opts Options) error {
	p, err := clean(p)
	if err != nil {
		return err
	}
	if err := opts.validate(); err != nil {
		return err
	}

	record, err := metadata.FromContent(p, metadata.Stream(stream))
	if err != nil {
		return err
	}
	f.applyOptions(record, opts)

	previous := f.indexed(ctx, p)

	backing, err := f.resolver.WriteStream(ctx, p, stream, f.backendOptions(record, opts))
	if err != nil {
		return err
	}
	if err := f.persist(ctx, record, backing); err != nil {
		return err
	}

	f.release(ctx, previous)
	return nil
}

func (f *Filer) persist(ctx context.Context, record *metadata.Record, backing *metadata.BackingLocation) error {
	record.Backing = backing
	if err := f.index.Record(ctx, record); err != nil {
		return fmt.Errorf("failed to record '%s': %w", record.Path, err)
	}

	f.log.Debug("Stored %s", record)
	return nil
}

func (f *Filer) Read(ctx context.Context, p string) ([]byte, error) {
	record, err := f.resolvePath(ctx, p)
	if err != nil {
		return nil, err
	}

	data, err := f.resolver.Read(ctx, record.Backing)
	if err != nil {
		return nil, &ReadError{Path: record.Path, Reason: "unable to read contents", Err: err}
	}
	return data, nil
}

func (f *Filer) ReadStream(ctx context.Context, p string) (io.ReadCloser, error) {
	record, err := f.resolvePath(ctx, p)
	if err != nil {
		return nil, err
	}

	rc, err := f.resolver.ReadStream(ctx, record.Backing)
	if err != nil {
		return nil, &ReadError{Path: record.Path, Reason: "unable to open stream", Err: err}
	}
	return rc, nil
}

// Copy duplicates the source physically and records the copy at dst. A
// source without any record is not an error; there is nothing to copy.
func (f *Filer) Copy(ctx context.Context, src, dst string, opts Options) error {
	dst, err := clean(dst)
	if err != nil {
		return err
	}
	if err := opts.validate(); err != nil {
		return err
	}

	record, err := f.resolvePath(ctx, src)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			f.log.Debug("Nothing to copy at '%s'", src)
			return nil
		}
		return err
	}

	copied := record.WithPath(dst)
	copied.ID = ""
	now := time.Now().UTC()
	copied.CreatedAt, copied.UpdatedAt, copied.Timestamp = now, now, now
	f.applyOptions(copied, opts)

	previous := f.indexed(ctx, dst)

	backing, err := f.resolver.Copy(ctx, record.Backing, dst, f.backendOptions(copied, opts))
	if err != nil {
		return &CopyError{Source: record.Path, Destination: dst, Err: err}
	}
	if err := f.persist(ctx, copied, backing); err != nil {
		return err
	}

	f.release(ctx, previous)
	return nil
}

// Delete removes the object from every backend holding it, then drops the
// index entry. A legacy-only file is deleted without being migrated first.
func (f *Filer) Delete(ctx context.Context, p string) error {
	p, err := clean(p)
	if err != nil {
		return err
	}

	record, err := f.resolve(ctx, p, false)
	if err != nil {
		return err
	}

	if err := f.resolver.Delete(ctx, p, record.Backing); err != nil {
		return err
	}
	if err := f.index.Delete(ctx, p); err != nil {
		return fmt.Errorf("failed to remove '%s' from index: %w", p, err)
	}

	f.log.Debug("Deleted '%s'", p)
	return nil
}

// Move renames the record only; locators are path independent and the
// bytes stay where they are. An existing record at dst is replaced and its
// objects released, and dst itself is never migrated.
func (f *Filer) Move(ctx context.Context, src, dst string, opts Options) error {
	dst, err := clean(dst)
	if err != nil {
		return err
	}
	if err := opts.validate(); err != nil {
		return err
	}

	record, err := f.resolvePath(ctx, src)
	if err != nil {
		return err
	}

	var previous *metadata.Record
	if dst != record.Path {
		previous = f.indexed(ctx, dst)
	}

	if err := f.index.Rename(ctx, record.Path, dst); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return notFound(record.Path)
		}
		return err
	}
	f.release(ctx, previous)

	if opts.Visibility != "" && opts.Visibility != record.Visibility {
		return f.index.SetVisibility(ctx, dst, opts.Visibility)
	}
	return nil
}

// FileExists answers from the index and falls back to a presence probe on
// the legacy backends. The probe never migrates.
func (f *Filer) FileExists(ctx context.Context, p string) (bool, error) {
	p, err := clean(p)
	if err != nil {
		return false, err
	}

	exists, err := f.index.Exists(ctx, p)
	if err != nil || exists {
		return exists, err
	}

	if !f.legacyEnabled() {
		return false, nil
	}
	return f.resolver.Has(ctx, p)
}

func (f *Filer) SetVisibility(ctx context.Context, p string, visibility metadata.Visibility) error {
	if _, err := metadata.ParseVisibility(string(visibility)); err != nil {
		return err
	}

	record, err := f.resolvePath(ctx, p)
	if err != nil {
		return err
	}

	if err := f.index.SetVisibility(ctx, record.Path, visibility); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return notFound(record.Path)
		}
		return err
	}
	return nil
}

// GetMetadata returns the attributes of p. The backing location is exposed
// as an extra attribute.
func (f *Filer) GetMetadata(ctx context.Context, p string) (metadata.Attributes, error) {
	record, err := f.resolvePath(ctx, p)
	if err != nil {
		return metadata.Attributes{}, err
	}
	return record.Attributes(), nil
}

func (f *Filer) Visibility(ctx context.Context, p string) (metadata.Visibility, error) {
	attrs, err := f.GetMetadata(ctx, p)
	return attrs.Visibility, err
}

func (f *Filer) MimeType(ctx context.Context, p string) (string, error) {
	attrs, err := f.GetMetadata(ctx, p)
	return attrs.Mimetype, err
}

func (f *Filer) LastModified(ctx context.Context, p string) (time.Time, error) {
	attrs, err := f.GetMetadata(ctx, p)
	return attrs.LastModified, err
}

func (f *Filer) FileSize(ctx context.Context, p string) (int64, error) {
	attrs, err := f.GetMetadata(ctx, p)
	return attrs.Size, err
}

// ListContents is served from the index alone. Directories are virtual and
// never listed.
func (f *Filer) ListContents(ctx context.Context, prefix string, recursive bool) ([]metadata.Attributes, error) {
	records, err := f.index.List(ctx, prefix, recursive)
	if err != nil {
		return nil, err
	}

	contents := make([]metadata.Attributes, 0, len(records))
	for _, record := range records {
		contents = append(contents, record.Attributes())
	}
	return contents, nil
}

// Any prefix is implicitly a directory.
func (f *Filer) DirectoryExists(ctx context.Context, p string) (bool, error) {
	return true, nil
}

func (f *Filer) CreateDirectory(ctx context.Context, p string) error {
	return nil
}

func (f *Filer) DeleteDirectory(ctx context.Context, p string) error {
	return nil
}

// TemporaryURL delegates to the primary backend of the record.
func (f *Filer) TemporaryURL(ctx context.Context, p string, expiration time.Duration, opts Options) (string, error) {
	handle, locator, err := f.BackingFor(ctx, p)
	if err != nil {
		return "", err
	}

	signer, ok := handle.(backend.URLSigner)
	if !ok {
		return "", fmt.Errorf("temporary url for '%s' on '%s': %w", p, handle.Name(), backend.ErrNotSupported)
	}
	return signer.TemporaryURL(ctx, locator, expiration, backend.Options{Extra: opts.Extra})
}

// BackingFor returns the primary backend holding p and its locator there.
func (f *Filer) BackingFor(ctx context.Context, p string) (backend.Backend, metadata.Locator, error) {
	record, err := f.resolvePath(ctx, p)
	if err != nil {
		return nil, metadata.Locator{}, err
	}

	primary, ok := record.Backing.Primary()
	if !ok {
		return nil, metadata.Locator{}, fmt.Errorf("record '%s' has no backing", record.Path)
	}

	handle, err := f.resolver.Backend(primary.Backend)
	if err != nil {
		return nil, metadata.Locator{}, err
	}
	return handle, primary.Locator, nil
}

func (f *Filer) resolvePath(ctx context.Context, p string) (*metadata.Record, error) {
	p, err := clean(p)
	if err != nil {
		return nil, err
	}
	return f.resolve(ctx, p, true)
}

// resolve looks p up in the index and falls back to the legacy backends.
// Attributes come from the first reporting backend in configuration order;
// every reporting backend contributes a backing entry. With persist the
// synthesized record is upserted, so concurrent first resolutions of the
// same path converge on a single record.
func (f *Filer) resolve(ctx context.Context, p string, persist bool) (*metadata.Record, error) {
	record, err := f.index.Get(ctx, p)
	if err == nil {
		return record, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	if !f.legacyEnabled() {
		return nil, notFound(p)
	}

	found, err := f.resolver.LegacyMetadata(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("failed to probe legacy backends for '%s': %w", p, err)
	}
	if len(found) == 0 {
		return nil, notFound(p)
	}

	record = metadata.FromLegacyAttributes(p, found[0].Attributes)
	for _, legacy := range found {
		record.Backing.Add(legacy.Backend, legacy.Locator)
	}

	if !persist {
		return record, nil
	}

	if err := f.index.Record(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to record migrated '%s': %w", p, err)
	}

	f.log.Info("Migrated '%s' from %v", p, record.Backing.Names())
	if f.cfg.OnMigrate != nil {
		f.cfg.OnMigrate(p, record.Backing.Names())
	}
	return record, nil
}

// indexed returns the record currently indexed at p, or nil. Legacy
// backends are not consulted.
func (f *Filer) indexed(ctx context.Context, p string) *metadata.Record {
	record, err := f.index.Get(ctx, p)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			f.log.Warn("Unable to look up replaced record '%s': %v", p, err)
		}
		return nil
	}
	return record
}

// release removes the objects of a record that was replaced in the index.
// Failures only leave orphaned objects behind and are logged.
func (f *Filer) release(ctx context.Context, replaced *metadata.Record) {
	if replaced == nil {
		return
	}
	if err := f.resolver.Delete(ctx, replaced.Path, replaced.Backing); err != nil {
		f.log.Warn("Failed to release replaced objects of '%s' on %v: %v", replaced.Path, replaced.Backing.Names(), err)
	}
}

func (f *Filer) legacyEnabled() bool {
	return f.cfg.LegacyEnabled && f.resolver.HasLegacy()
}

func (opts Options) validate() error {
	if opts.Visibility == "" {
		return nil
	}
	_, err := metadata.ParseVisibility(string(opts.Visibility))
	return err
}

func (f *Filer) applyOptions(record *metadata.Record, opts Options) {
	if opts.Visibility != "" {
		record.Visibility = opts.Visibility
	}
}

func (f *Filer) backendOptions(record *metadata.Record, opts Options) backend.Options {
	return backend.Options{
		ContentType: record.Mimetype,
		Visibility:  record.Visibility,
		Extra:       opts.Extra,
	}
}

func clean(p string) (string, error) {
	cleaned := strings.TrimPrefix(path.Clean("/"+p), "/")
	if cleaned == "" {
		return "", fmt.Errorf("%w: '%s'", ErrInvalidPath, p)
	}
	return cleaned, nil
}
