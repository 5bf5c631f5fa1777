package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"strings"

	"github.com/mwantia/filer/pkg/backend"
	"github.com/mwantia/filer/pkg/log"
	"github.com/mwantia/filer/pkg/metadata"
	"github.com/spf13/afero"
)

const (
	PublicFilePerm  fs.FileMode = 0o644
	PrivateFilePerm fs.FileMode = 0o600
)

// Backend stores objects as files on an afero filesystem.
type Backend struct {
	name string
	fs   afero.Fs
	log  log.LoggerService
}

var _ backend.Backend = (*Backend)(nil)

func New(name string, filesystem afero.Fs, logger log.LoggerService) *Backend {
	return &Backend{
		name: name,
		fs:   filesystem,
		log:  logger,
	}
}

// NewOs roots the backend at a directory on the host filesystem.
func NewOs(name, root string, logger log.LoggerService) (*Backend, error) {
	if root == "" {
		return nil, fmt.Errorf("local backend '%s' requires a root directory", name)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create root '%s': %w", root, err)
	}
	return New(name, afero.NewBasePathFs(afero.NewOsFs(), root), logger), nil
}

func (b *Backend) Name() string {
	return b.name
}

func (b *Backend) Write(ctx context.Context, key string, r io.Reader, size int64, opts backend.Options) (metadata.Locator, error) {
	key = clean(key)
	if err := afero.WriteReader(b.fs, key, r); err != nil {
		return metadata.Locator{}, fmt.Errorf("failed to write '%s': %w", key, err)
	}
	if err := b.fs.Chmod(key, perm(opts.Visibility)); err != nil {
		return metadata.Locator{}, fmt.Errorf("failed to set permissions of '%s': %w", key, err)
	}
	return metadata.Locator{Key: key}, nil
}

func (b *Backend) Read(ctx context.Context, locator metadata.Locator) (io.ReadCloser, error) {
	f, err := b.fs.Open(clean(locator.Key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, backend.ErrNotFound
		}
		return nil, err
	}
	return f, nil
}

func (b *Backend) Copy(ctx context.Context, src metadata.Locator, key string, opts backend.Options) (metadata.Locator, error) {
	source, err := b.Read(ctx, src)
	if err != nil {
		return metadata.Locator{}, err
	}
	defer source.Close()

	if opts.Visibility == "" {
		if info, err := b.fs.Stat(clean(src.Key)); err == nil {
			opts.Visibility = visibility(info.Mode())
		}
	}
	return b.Write(ctx, key, source, -1, opts)
}

func (b *Backend) Delete(ctx context.Context, locator metadata.Locator) error {
	err := b.fs.Remove(clean(locator.Key))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete '%s': %w", locator.Key, err)
	}
	return nil
}

func (b *Backend) Exists(ctx context.Context, key string) (bool, error) {
	info, err := b.fs.Stat(clean(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return !info.IsDir(), nil
}

// Stat reports the attributes of a file, including its md5 and sniffed
// mimetype.
func (b *Backend) Stat(ctx context.Context, key string) (*backend.ObjectInfo, error) {
	key = clean(key)

	f, err := b.fs.Open(key)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, backend.ErrNotFound
		}
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, backend.ErrNotFound
	}

	content := metadata.Stream(f)
	hash, err := content.Hash()
	if err != nil {
		return nil, err
	}

	return &backend.ObjectInfo{
		Locator: metadata.Locator{Key: key},
		Attributes: metadata.Attributes{
			Path:         key,
			Size:         info.Size(),
			Hash:         hash,
			Mimetype:     metadata.DetectMimetype(key, content),
			Visibility:   visibility(info.Mode()),
			LastModified: info.ModTime().UTC(),
		},
	}, nil
}

func clean(key string) string {
	return strings.TrimPrefix(path.Clean("/"+key), "/")
}

func perm(v metadata.Visibility) fs.FileMode {
	if v == metadata.VisibilityPublic {
		return PublicFilePerm
	}
	return PrivateFilePerm
}

func visibility(mode fs.FileMode) metadata.Visibility {
	if mode.Perm()&0o044 != 0 {
		return metadata.VisibilityPublic
	}
	return metadata.VisibilityPrivate
}
