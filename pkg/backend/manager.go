package backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/google/uuid"
	"github.com/mwantia/filer/pkg/log"
	"github.com/mwantia/filer/pkg/metadata"
	"golang.org/x/sync/errgroup"
)

type Mode string

const (
	// ModePrimary writes to the first write backend only.
	ModePrimary Mode = "primary"
	// ModeMirror writes to every write backend.
	ModeMirror Mode = "mirror"
)

const DefaultProbeConcurrency = 4

type Config struct {
	Mode             Mode
	WriteBackends    []string
	LegacyBackends   []string
	ProbeConcurrency int
}

// Manager resolves physical I/O across a set of named backends.
type Manager struct {
	cfg      Config
	backends map[string]Backend
	writers  []Backend
	legacy   []Backend
	log      log.LoggerService
}

var _ Resolver = (*Manager)(nil)

func NewManager(cfg Config, backends []Backend, logger log.LoggerService) (*Manager, error) {
	if cfg.Mode == "" {
		cfg.Mode = ModePrimary
	}
	if cfg.Mode != ModePrimary && cfg.Mode != ModeMirror {
		return nil, fmt.Errorf("unknown write mode '%s'", cfg.Mode)
	}
	if cfg.ProbeConcurrency <= 0 {
		cfg.ProbeConcurrency = DefaultProbeConcurrency
	}
	if len(cfg.WriteBackends) == 0 {
		return nil, fmt.Errorf("at least one write backend is required")
	}

	m := &Manager{
		cfg:      cfg,
		backends: make(map[string]Backend, len(backends)),
		log:      logger,
	}

	for _, b := range backends {
		if _, exists := m.backends[b.Name()]; exists {
			return nil, fmt.Errorf("backend '%s' is configured twice", b.Name())
		}
		m.backends[b.Name()] = b
	}

	for _, name := range cfg.WriteBackends {
		b, err := m.Backend(name)
		if err != nil {
			return nil, fmt.Errorf("write backend: %w", err)
		}
		m.writers = append(m.writers, b)
	}

	for _, name := range cfg.LegacyBackends {
		b, err := m.Backend(name)
		if err != nil {
			return nil, fmt.Errorf("legacy backend: %w", err)
		}
		m.legacy = append(m.legacy, b)
	}

	return m, nil
}

func (m *Manager) Backend(name string) (Backend, error) {
	b, ok := m.backends[name]
	if !ok {
		return nil, fmt.Errorf("%w '%s'", ErrUnknownBackend, name)
	}
	return b, nil
}

func (m *Manager) HasLegacy() bool {
	return len(m.legacy) > 0
}

func (m *Manager) Write(ctx context.Context, path string, data []byte, opts Options) (*metadata.BackingLocation, error) {
	return m.write(ctx, path, metadata.Bytes(data), opts)
}

func (m *Manager) WriteStream(ctx context.Context, path string, stream io.ReadSeeker, opts Options) (*metadata.BackingLocation, error) {
	return m.write(ctx, path, metadata.Stream(stream), opts)
}

func (m *Manager) write(ctx context.Context, path string, content metadata.Content, opts Options) (*metadata.BackingLocation, error) {
	size, err := content.Size()
	if err != nil {
		return nil, err
	}
	if opts.ContentType == "" {
		opts.ContentType = metadata.DetectMimetype(path, content)
	}

	targets := m.writers
	if m.cfg.Mode == ModePrimary {
		targets = m.writers[:1]
	}

	key := ObjectKey(path)
	backing := metadata.NewBackingLocation()

	var errs []error
	for _, b := range targets {
		r, err := content.Reader()
		if err != nil {
			return nil, err
		}

		locator, err := b.Write(ctx, key, r, size, opts)
		if err != nil {
			if m.cfg.Mode == ModePrimary {
				return nil, err
			}
			m.log.Warn("Failed to mirror '%s' to '%s': %v", path, b.Name(), err)
			errs = append(errs, err)
			continue
		}
		backing.Add(b.Name(), locator)
	}

	if backing.IsEmpty() {
		return nil, errors.Join(errs...)
	}

	m.log.Debug("Wrote '%s' as '%s' to %v", path, key, backing.Names())
	return backing, nil
}

func (m *Manager) Read(ctx context.Context, backing *metadata.BackingLocation) ([]byte, error) {
	rc, err := m.ReadStream(ctx, backing)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, rc); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ReadStream returns the first backing entry that can be opened, in order.
func (m *Manager) ReadStream(ctx context.Context, backing *metadata.BackingLocation) (io.ReadCloser, error) {
	if backing.IsEmpty() {
		return nil, fmt.Errorf("backing location is empty")
	}

	var errs []error
	for _, entry := range backing.Entries() {
		b, err := m.Backend(entry.Backend)
		if err != nil {
			errs = append(errs, err)
			continue
		}

		rc, err := b.Read(ctx, entry.Locator)
		if err == nil {
			return rc, nil
		}

		m.log.Debug("Failed to read '%s' from '%s': %v", entry.Locator.Key, entry.Backend, err)
		errs = append(errs, fmt.Errorf("%s: %w", entry.Backend, err))
	}

	return nil, errors.Join(errs...)
}

// Copy duplicates the object within every backend holding the source. Copies
// already made are removed again when one backend fails.
func (m *Manager) Copy(ctx context.Context, backing *metadata.BackingLocation, destination string, opts Options) (*metadata.BackingLocation, error) {
	if backing.IsEmpty() {
		return nil, fmt.Errorf("backing location is empty")
	}

	key := ObjectKey(destination)
	copied := metadata.NewBackingLocation()

	for _, entry := range backing.Entries() {
		b, err := m.Backend(entry.Backend)
		if err == nil {
			var locator metadata.Locator
			if locator, err = b.Copy(ctx, entry.Locator, key, opts); err == nil {
				copied.Add(entry.Backend, locator)
				continue
			}
		}

		if cleanupErr := m.delete(ctx, copied); cleanupErr != nil {
			m.log.Warn("Failed to clean up partial copy of '%s': %v", destination, cleanupErr)
		}
		return nil, fmt.Errorf("%s: %w", entry.Backend, err)
	}

	return copied, nil
}

func (m *Manager) Delete(ctx context.Context, path string, backing *metadata.BackingLocation) error {
	if err := m.delete(ctx, backing); err != nil {
		return err
	}

	m.log.Debug("Deleted '%s' from %v", path, backing.Names())
	return nil
}

func (m *Manager) delete(ctx context.Context, backing *metadata.BackingLocation) error {
	var errs []error
	for _, entry := range backing.Entries() {
		b, err := m.Backend(entry.Backend)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := b.Delete(ctx, entry.Locator); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) Has(ctx context.Context, path string) (bool, error) {
	var errs []error
	for _, b := range m.legacy {
		exists, err := b.Exists(ctx, path)
		if err != nil {
			m.log.Warn("Failed to probe '%s' on '%s': %v", path, b.Name(), err)
			errs = append(errs, err)
			continue
		}
		if exists {
			return true, nil
		}
	}

	if len(errs) > 0 && len(errs) == len(m.legacy) {
		return false, errors.Join(errs...)
	}
	return false, nil
}

// LegacyMetadata probes the legacy backends concurrently. A failing backend
// is logged and skipped; an error is only returned when every probe failed.
func (m *Manager) LegacyMetadata(ctx context.Context, path string) ([]LegacyAttributes, error) {
	if len(m.legacy) == 0 {
		return nil, nil
	}

	infos := make([]*ObjectInfo, len(m.legacy))
	errs := make([]error, len(m.legacy))

	var g errgroup.Group
	g.SetLimit(m.cfg.ProbeConcurrency)

	for i, b := range m.legacy {
		g.Go(func() error {
			info, err := b.Stat(ctx, path)
			switch {
			case errors.Is(err, ErrNotFound):
			case err != nil:
				m.log.Warn("Failed to probe '%s' on '%s': %v", path, b.Name(), err)
				errs[i] = fmt.Errorf("%s: %w", b.Name(), err)
			default:
				infos[i] = info
			}
			return nil
		})
	}
	_ = g.Wait()

	var (
		failed  []error
		results []LegacyAttributes
	)
	for i, b := range m.legacy {
		if errs[i] != nil {
			failed = append(failed, errs[i])
			continue
		}
		if infos[i] != nil {
			results = append(results, LegacyAttributes{
				Backend:    b.Name(),
				Locator:    infos[i].Locator,
				Attributes: infos[i].Attributes,
			})
		}
	}

	if len(failed) == len(m.legacy) {
		return nil, errors.Join(failed...)
	}
	return results, nil
}

// ObjectKey derives a fresh path independent object key. Only the extension
// of path is kept.
func ObjectKey(p string) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return id[0:2] + "/" + id[2:4] + "/" + id + strings.ToLower(path.Ext(p))
}
