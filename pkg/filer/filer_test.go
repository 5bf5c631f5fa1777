package filer_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mwantia/filer/pkg/backend"
	"github.com/mwantia/filer/pkg/backend/local"
	"github.com/mwantia/filer/pkg/db/store"
	"github.com/mwantia/filer/pkg/filer"
	"github.com/mwantia/filer/pkg/log"
	"github.com/mwantia/filer/pkg/metadata"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockResolver implements backend.Resolver for testing
type MockResolver struct {
	mock.Mock
}

func (m *MockResolver) Write(ctx context.Context, path string, data []byte, opts backend.Options) (*metadata.BackingLocation, error) {
	args := m.Called(ctx, path, data, opts)
	backing, _ := args.Get(0).(*metadata.BackingLocation)
	return backing, args.Error(1)
}

func (m *MockResolver) WriteStream(ctx context.Context, path string, stream io.ReadSeeker, opts backend.Options) (*metadata.BackingLocation, error) {
	args := m.Called(ctx, path, stream, opts)
	backing, _ := args.Get(0).(*metadata.BackingLocation)
	return backing, args.Error(1)
}

func (m *MockResolver) Read(ctx context.Context, backing *metadata.BackingLocation) ([]byte, error) {
	args := m.Called(ctx, backing)
	data, _ := args.Get(0).([]byte)
	return data, args.Error(1)
}

func (m *MockResolver) ReadStream(ctx context.Context, backing *metadata.BackingLocation) (io.ReadCloser, error) {
	args := m.Called(ctx, backing)
	rc, _ := args.Get(0).(io.ReadCloser)
	return rc, args.Error(1)
}

func (m *MockResolver) Copy(ctx context.Context, backing *metadata.BackingLocation, destination string, opts backend.Options) (*metadata.BackingLocation, error) {
	args := m.Called(ctx, backing, destination, opts)
	copied, _ := args.Get(0).(*metadata.BackingLocation)
	return copied, args.Error(1)
}

func (m *MockResolver) Delete(ctx context.Context, path string, backing *metadata.BackingLocation) error {
	args := m.Called(ctx, path, backing)
	return args.Error(0)
}

func (m *MockResolver) Has(ctx context.Context, path string) (bool, error) {
	args := m.Called(ctx, path)
	return args.Bool(0), args.Error(1)
}

func (m *MockResolver) LegacyMetadata(ctx context.Context, path string) ([]backend.LegacyAttributes, error) {
	args := m.Called(ctx, path)
	found, _ := args.Get(0).([]backend.LegacyAttributes)
	return found, args.Error(1)
}

func (m *MockResolver) HasLegacy() bool {
	return m.Called().Bool(0)
}

func (m *MockResolver) Backend(name string) (backend.Backend, error) {
	args := m.Called(name)
	b, _ := args.Get(0).(backend.Backend)
	return b, args.Error(1)
}

func setupTestIndex(t *testing.T) *store.SQLiteStore {
	t.Helper()

	s, err := store.NewSQLiteStore(store.SQLiteConfig{
		Path:        filepath.Join(t.TempDir(), "filer.db"),
		BusyTimeout: 5 * time.Second,
	}, log.NewNopLogger())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, s.Connect(ctx))
	require.NoError(t, s.Migrate(ctx))

	t.Cleanup(func() {
		_ = s.Close()
	})
	return s
}

type testEnv struct {
	filer   *filer.Filer
	index   *store.SQLiteStore
	primary afero.Fs
	legacy  afero.Fs
}

// setupTestFiler wires a real index and manager with a primary memory
// backend and one legacy memory backend.
func setupTestFiler(t *testing.T) *testEnv {
	t.Helper()

	logger := log.NewNopLogger()
	primaryFs := afero.NewMemMapFs()
	legacyFs := afero.NewMemMapFs()

	manager, err := backend.NewManager(backend.Config{
		WriteBackends:  []string{"primary"},
		LegacyBackends: []string{"legacy"},
	}, []backend.Backend{
		local.New("primary", primaryFs, logger),
		local.New("legacy", legacyFs, logger),
	}, logger)
	require.NoError(t, err)

	index := setupTestIndex(t)
	return &testEnv{
		filer:   filer.New(index, manager, filer.Config{LegacyEnabled: true}, logger),
		index:   index,
		primary: primaryFs,
		legacy:  legacyFs,
	}
}

// objects counts the files stored on fs.
func objects(t *testing.T, fs afero.Fs) int {
	t.Helper()

	count := 0
	require.NoError(t, afero.Walk(fs, "/", func(_ string, info os.FileInfo, err error) error {
		if err == nil && !info.IsDir() {
			count++
		}
		return err
	}))
	return count
}

func TestFiler_WriteScenario(t *testing.T) {
	env := setupTestFiler(t)
	ctx := context.Background()

	require.NoError(t, env.filer.Write(ctx, "a.txt", []byte("hello"), filer.Options{}))

	attrs, err := env.filer.GetMetadata(ctx, "a.txt")
	require.NoError(t, err)
	assert.Equal(t, int64(5), attrs.Size)
	assert.Equal(t, "5d41402abc4b2a76b9719d911017c592", attrs.Hash)
	assert.Equal(t, metadata.VisibilityPrivate, attrs.Visibility)
	assert.Contains(t, attrs.Backing, "primary")
}

func TestFiler_WriteReadRoundTrip(t *testing.T) {
	env := setupTestFiler(t)
	ctx := context.Background()

	sizes := []int{0, 1, 5, 64*1024 + 3, 3 * 1024 * 1024}
	for _, size := range sizes {
		content := bytes.Repeat([]byte("0123456789abcdef"), size/16+1)[:size]

		require.NoError(t, env.filer.Write(ctx, "bytes.bin", content, filer.Options{}))
		got, err := env.filer.Read(ctx, "bytes.bin")
		require.NoError(t, err)
		assert.Equal(t, content, got, "bytes of size %d", size)

		stream := bytes.NewReader(content)
		require.NoError(t, env.filer.WriteStream(ctx, "stream.bin", stream, filer.Options{}))

		rc, err := env.filer.ReadStream(ctx, "stream.bin")
		require.NoError(t, err)
		streamed, err := io.ReadAll(rc)
		require.NoError(t, err)
		require.NoError(t, rc.Close())
		assert.Equal(t, content, streamed, "stream of size %d", size)

		size1, err := env.filer.FileSize(ctx, "bytes.bin")
		require.NoError(t, err)
		size2, err := env.filer.FileSize(ctx, "stream.bin")
		require.NoError(t, err)
		assert.Equal(t, int64(size), size1)
		assert.Equal(t, size1, size2)
	}
}

func TestFiler_WriteReplacesRecord(t *testing.T) {
	env := setupTestFiler(t)
	ctx := context.Background()

	require.NoError(t, env.filer.Write(ctx, "a.txt", []byte("hello"), filer.Options{Visibility: metadata.VisibilityPublic}))
	require.NoError(t, env.filer.Write(ctx, "a.txt", []byte("bye"), filer.Options{}))

	data, err := env.filer.Read(ctx, "a.txt")
	require.NoError(t, err)
	assert.Equal(t, "bye", string(data))

	visibility, err := env.filer.Visibility(ctx, "a.txt")
	require.NoError(t, err)
	assert.Equal(t, metadata.VisibilityPrivate, visibility)
}

func TestFiler_RejectsUnknownVisibility(t *testing.T) {
	env := setupTestFiler(t)
	ctx := context.Background()
	bogus := filer.Options{Visibility: "bogus"}

	require.NoError(t, env.filer.Write(ctx, "dir/good.txt", []byte("hello"), filer.Options{}))

	assert.ErrorIs(t, env.filer.Write(ctx, "dir/bad.txt", []byte("hello"), bogus), metadata.ErrInvalidVisibility)
	assert.ErrorIs(t, env.filer.WriteStream(ctx, "dir/bad.txt", bytes.NewReader([]byte("hello")), bogus), metadata.ErrInvalidVisibility)
	assert.ErrorIs(t, env.filer.Copy(ctx, "dir/good.txt", "dir/bad.txt", bogus), metadata.ErrInvalidVisibility)
	assert.ErrorIs(t, env.filer.Move(ctx, "dir/good.txt", "dir/moved.txt", bogus), metadata.ErrInvalidVisibility)

	// Nothing was stored or renamed.
	assert.Equal(t, 1, objects(t, env.primary))

	exists, err := env.filer.FileExists(ctx, "dir/bad.txt")
	require.NoError(t, err)
	assert.False(t, exists)

	contents, err := env.filer.ListContents(ctx, "dir", false)
	require.NoError(t, err)
	require.Len(t, contents, 1)
	assert.Equal(t, "dir/good.txt", contents[0].Path)

	data, err := env.filer.Read(ctx, "dir/good.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestFiler_OverwriteReleasesReplacedObjects(t *testing.T) {
	env := setupTestFiler(t)
	ctx := context.Background()

	require.NoError(t, env.filer.Write(ctx, "a.txt", []byte("one"), filer.Options{}))
	require.NoError(t, env.filer.Write(ctx, "a.txt", []byte("two"), filer.Options{}))
	require.NoError(t, env.filer.WriteStream(ctx, "a.txt", bytes.NewReader([]byte("three")), filer.Options{}))
	assert.Equal(t, 1, objects(t, env.primary))

	require.NoError(t, env.filer.Write(ctx, "b.txt", []byte("other"), filer.Options{}))
	require.NoError(t, env.filer.Copy(ctx, "a.txt", "b.txt", filer.Options{}))
	assert.Equal(t, 2, objects(t, env.primary))

	require.NoError(t, env.filer.Write(ctx, "c.txt", []byte("moved"), filer.Options{}))
	require.NoError(t, env.filer.Move(ctx, "c.txt", "a.txt", filer.Options{}))
	assert.Equal(t, 2, objects(t, env.primary))

	data, err := env.filer.Read(ctx, "a.txt")
	require.NoError(t, err)
	assert.Equal(t, "moved", string(data))

	data, err = env.filer.Read(ctx, "b.txt")
	require.NoError(t, err)
	assert.Equal(t, "three", string(data))
}

func TestFiler_MoveOntoItselfKeepsObjects(t *testing.T) {
	env := setupTestFiler(t)
	ctx := context.Background()

	require.NoError(t, env.filer.Write(ctx, "a.txt", []byte("hello"), filer.Options{}))
	require.NoError(t, env.filer.Move(ctx, "a.txt", "/a.txt", filer.Options{}))

	data, err := env.filer.Read(ctx, "a.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestFiler_ReleaseFailureIsLogged(t *testing.T) {
	index := setupTestIndex(t)
	resolver := &MockResolver{}
	f := filer.New(index, resolver, filer.Config{}, log.NewNopLogger())
	ctx := context.Background()

	first := metadata.NewBackingLocation().Add("primary", metadata.Locator{Key: "k1"})
	second := metadata.NewBackingLocation().Add("primary", metadata.Locator{Key: "k2"})
	resolver.On("Write", mock.Anything, "a.txt", mock.Anything, mock.Anything).Return(first, nil).Once()
	resolver.On("Write", mock.Anything, "a.txt", mock.Anything, mock.Anything).Return(second, nil).Once()
	resolver.On("Delete", mock.Anything, "a.txt", mock.Anything).Return(errors.New("offline")).Once()

	require.NoError(t, f.Write(ctx, "a.txt", []byte("one"), filer.Options{}))
	require.NoError(t, f.Write(ctx, "a.txt", []byte("two"), filer.Options{}))

	record, err := index.Get(ctx, "a.txt")
	require.NoError(t, err)
	primary, ok := record.Backing.Primary()
	require.True(t, ok)
	assert.Equal(t, "k2", primary.Locator.Key)
	resolver.AssertExpectations(t)
}

func TestFiler_CleansPaths(t *testing.T) {
	env := setupTestFiler(t)
	ctx := context.Background()

	require.NoError(t, env.filer.Write(ctx, "/docs//a.txt", []byte("x"), filer.Options{}))

	exists, err := env.filer.FileExists(ctx, "docs/a.txt")
	require.NoError(t, err)
	assert.True(t, exists)

	assert.ErrorIs(t, env.filer.Write(ctx, "/", []byte("x"), filer.Options{}), filer.ErrInvalidPath)
}

func TestFiler_Copy(t *testing.T) {
	env := setupTestFiler(t)
	ctx := context.Background()

	require.NoError(t, env.filer.Write(ctx, "a.txt", []byte("hello"), filer.Options{Visibility: metadata.VisibilityPublic}))
	source, err := env.filer.GetMetadata(ctx, "a.txt")
	require.NoError(t, err)

	require.NoError(t, env.filer.Copy(ctx, "a.txt", "b.txt", filer.Options{}))

	copied, err := env.filer.GetMetadata(ctx, "b.txt")
	require.NoError(t, err)
	assert.Equal(t, source.Hash, copied.Hash)
	assert.Equal(t, source.Mimetype, copied.Mimetype)
	assert.Equal(t, metadata.VisibilityPublic, copied.Visibility)
	assert.NotEqual(t, source.Backing["primary"].Key, copied.Backing["primary"].Key)

	after, err := env.filer.GetMetadata(ctx, "a.txt")
	require.NoError(t, err)
	assert.Equal(t, source, after)

	// The copy outlives its source.
	require.NoError(t, env.filer.Delete(ctx, "a.txt"))
	data, err := env.filer.Read(ctx, "b.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestFiler_CopyMissingSourceIsNoop(t *testing.T) {
	env := setupTestFiler(t)
	ctx := context.Background()

	require.NoError(t, env.filer.Copy(ctx, "missing.txt", "b.txt", filer.Options{}))

	exists, err := env.filer.FileExists(ctx, "b.txt")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestFiler_CopyFailure(t *testing.T) {
	index := setupTestIndex(t)
	resolver := &MockResolver{}
	f := filer.New(index, resolver, filer.Config{}, log.NewNopLogger())
	ctx := context.Background()

	backing := metadata.NewBackingLocation().Add("primary", metadata.Locator{Key: "k"})
	resolver.On("Write", mock.Anything, "a.txt", mock.Anything, mock.Anything).Return(backing, nil)
	require.NoError(t, f.Write(ctx, "a.txt", []byte("hello"), filer.Options{}))

	cause := errors.New("quota exceeded")
	resolver.On("Copy", mock.Anything, mock.Anything, "b.txt", mock.Anything).Return(nil, cause)

	err := f.Copy(ctx, "a.txt", "b.txt", filer.Options{})

	var copyErr *filer.CopyError
	require.ErrorAs(t, err, &copyErr)
	assert.Equal(t, "a.txt", copyErr.Source)
	assert.Equal(t, "b.txt", copyErr.Destination)
	assert.ErrorIs(t, err, cause)

	exists, err := index.Exists(ctx, "b.txt")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestFiler_Move(t *testing.T) {
	env := setupTestFiler(t)
	ctx := context.Background()

	require.NoError(t, env.filer.Write(ctx, "a.txt", []byte("hello"), filer.Options{}))
	before, err := env.filer.Read(ctx, "a.txt")
	require.NoError(t, err)

	require.NoError(t, env.filer.Move(ctx, "a.txt", "dir/b.txt", filer.Options{}))

	after, err := env.filer.Read(ctx, "dir/b.txt")
	require.NoError(t, err)
	assert.Equal(t, before, after)

	_, err = env.filer.Read(ctx, "a.txt")
	assert.ErrorIs(t, err, filer.ErrRecordNotFound)
}

func TestFiler_MoveMissingSource(t *testing.T) {
	env := setupTestFiler(t)

	err := env.filer.Move(context.Background(), "missing.txt", "b.txt", filer.Options{})
	assert.ErrorIs(t, err, filer.ErrRecordNotFound)
}

func TestFiler_MoveNeverMigratesDestination(t *testing.T) {
	index := setupTestIndex(t)
	resolver := &MockResolver{}
	resolver.On("HasLegacy").Return(true)
	f := filer.New(index, resolver, filer.Config{LegacyEnabled: true}, log.NewNopLogger())
	ctx := context.Background()

	backing := metadata.NewBackingLocation().Add("primary", metadata.Locator{Key: "k"})
	resolver.On("Write", mock.Anything, "a.txt", mock.Anything, mock.Anything).Return(backing, nil)
	require.NoError(t, f.Write(ctx, "a.txt", []byte("hello"), filer.Options{}))

	require.NoError(t, f.Move(ctx, "a.txt", "b.txt", filer.Options{}))

	resolver.AssertNotCalled(t, "LegacyMetadata", mock.Anything, "b.txt")
	resolver.AssertNotCalled(t, "Has", mock.Anything, "b.txt")

	record, err := index.Get(ctx, "b.txt")
	require.NoError(t, err)
	assert.Equal(t, []string{"primary"}, record.Backing.Names())
}

func TestFiler_MoveReplacesDestination(t *testing.T) {
	env := setupTestFiler(t)
	ctx := context.Background()

	require.NoError(t, env.filer.Write(ctx, "a.txt", []byte("source"), filer.Options{}))
	require.NoError(t, env.filer.Write(ctx, "b.txt", []byte("destination"), filer.Options{}))

	require.NoError(t, env.filer.Move(ctx, "a.txt", "b.txt", filer.Options{Visibility: metadata.VisibilityPublic}))

	data, err := env.filer.Read(ctx, "b.txt")
	require.NoError(t, err)
	assert.Equal(t, "source", string(data))

	visibility, err := env.filer.Visibility(ctx, "b.txt")
	require.NoError(t, err)
	assert.Equal(t, metadata.VisibilityPublic, visibility)
}

func TestFiler_FileExistsAroundDelete(t *testing.T) {
	env := setupTestFiler(t)
	ctx := context.Background()

	require.NoError(t, env.filer.Write(ctx, "a.txt", []byte("hello"), filer.Options{}))

	exists, err := env.filer.FileExists(ctx, "a.txt")
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, env.filer.Delete(ctx, "a.txt"))

	exists, err = env.filer.FileExists(ctx, "a.txt")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestFiler_DeleteMissing(t *testing.T) {
	env := setupTestFiler(t)

	err := env.filer.Delete(context.Background(), "missing.txt")
	assert.ErrorIs(t, err, filer.ErrRecordNotFound)
}

func TestFiler_DeletePropagatesRawError(t *testing.T) {
	index := setupTestIndex(t)
	resolver := &MockResolver{}
	f := filer.New(index, resolver, filer.Config{}, log.NewNopLogger())
	ctx := context.Background()

	backing := metadata.NewBackingLocation().Add("primary", metadata.Locator{Key: "k"})
	resolver.On("Write", mock.Anything, "a.txt", mock.Anything, mock.Anything).Return(backing, nil)
	require.NoError(t, f.Write(ctx, "a.txt", []byte("hello"), filer.Options{}))

	cause := errors.New("permission denied")
	resolver.On("Delete", mock.Anything, "a.txt", mock.Anything).Return(cause)

	err := f.Delete(ctx, "a.txt")
	assert.Same(t, cause, err)

	// The record stays when the physical delete failed.
	exists, err := index.Exists(ctx, "a.txt")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestFiler_WritePropagatesRawError(t *testing.T) {
	index := setupTestIndex(t)
	resolver := &MockResolver{}
	f := filer.New(index, resolver, filer.Config{}, log.NewNopLogger())
	ctx := context.Background()

	cause := errors.New("disk full")
	resolver.On("Write", mock.Anything, "a.txt", mock.Anything, mock.Anything).Return(nil, cause)
	resolver.On("WriteStream", mock.Anything, "a.txt", mock.Anything, mock.Anything).Return(nil, cause)

	assert.Same(t, cause, f.Write(ctx, "a.txt", []byte("hello"), filer.Options{}))
	assert.Same(t, cause, f.WriteStream(ctx, "a.txt", strings.NewReader("hello"), filer.Options{}))

	exists, err := index.Exists(ctx, "a.txt")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestFiler_ReadFailureIsWrapped(t *testing.T) {
	index := setupTestIndex(t)
	resolver := &MockResolver{}
	f := filer.New(index, resolver, filer.Config{}, log.NewNopLogger())
	ctx := context.Background()

	backing := metadata.NewBackingLocation().Add("primary", metadata.Locator{Key: "k"})
	resolver.On("Write", mock.Anything, "a.txt", mock.Anything, mock.Anything).Return(backing, nil)
	require.NoError(t, f.Write(ctx, "a.txt", []byte("hello"), filer.Options{}))

	cause := errors.New("connection reset")
	resolver.On("Read", mock.Anything, mock.Anything).Return(nil, cause)
	resolver.On("ReadStream", mock.Anything, mock.Anything).Return(nil, cause)

	_, err := f.Read(ctx, "a.txt")
	var readErr *filer.ReadError
	require.ErrorAs(t, err, &readErr)
	assert.Equal(t, "a.txt", readErr.Path)
	assert.ErrorIs(t, err, cause)

	_, err = f.ReadStream(ctx, "a.txt")
	require.ErrorAs(t, err, &readErr)
	assert.ErrorIs(t, err, cause)
}

func TestFiler_ReadMissing(t *testing.T) {
	env := setupTestFiler(t)

	_, err := env.filer.Read(context.Background(), "missing.txt")
	assert.ErrorIs(t, err, filer.ErrRecordNotFound)
}

func TestFiler_LegacyMigrationScenario(t *testing.T) {
	index := setupTestIndex(t)
	resolver := &MockResolver{}
	f := filer.New(index, resolver, filer.Config{LegacyEnabled: true}, log.NewNopLogger())
	ctx := context.Background()

	modified := time.Date(2022, 5, 1, 8, 0, 0, 0, time.UTC)
	resolver.On("HasLegacy").Return(true)
	resolver.On("LegacyMetadata", mock.Anything, "legacy.bin").Return([]backend.LegacyAttributes{
		{
			Backend:    "old-disk",
			Locator:    metadata.Locator{Key: "legacy.bin"},
			Attributes: metadata.Attributes{Path: "legacy.bin", Size: 10, LastModified: modified},
		},
	}, nil).Once()
	resolver.On("Read", mock.Anything, mock.Anything).Return([]byte("0123456789"), nil).Once()

	data, err := f.Read(ctx, "legacy.bin")
	require.NoError(t, err)
	assert.Equal(t, "0123456789", string(data))

	// Everything from here on is answered by the index alone.
	resolver.ExpectedCalls = nil
	resolver.Calls = nil

	exists, err := f.FileExists(ctx, "legacy.bin")
	require.NoError(t, err)
	assert.True(t, exists)

	attrs, err := f.GetMetadata(ctx, "legacy.bin")
	require.NoError(t, err)
	assert.Equal(t, int64(10), attrs.Size)
	assert.Equal(t, metadata.DefaultMimetype, attrs.Mimetype)
	assert.Equal(t, modified, attrs.LastModified)
	assert.Equal(t, "legacy.bin", attrs.Backing["old-disk"].Key)

	resolver.AssertNotCalled(t, "HasLegacy")
	resolver.AssertNotCalled(t, "Has", mock.Anything, mock.Anything)
	resolver.AssertNotCalled(t, "LegacyMetadata", mock.Anything, mock.Anything)
}

func TestFiler_LegacyMigrationFromBackends(t *testing.T) {
	env := setupTestFiler(t)
	ctx := context.Background()

	require.NoError(t, afero.WriteReader(env.legacy, "archive/legacy.bin", strings.NewReader("0123456789")))

	exists, err := env.filer.FileExists(ctx, "archive/legacy.bin")
	require.NoError(t, err)
	assert.True(t, exists)

	// The presence probe does not migrate.
	indexed, err := env.index.Exists(ctx, "archive/legacy.bin")
	require.NoError(t, err)
	assert.False(t, indexed)

	data, err := env.filer.Read(ctx, "/archive/legacy.bin")
	require.NoError(t, err)
	assert.Equal(t, "0123456789", string(data))

	record, err := env.index.Get(ctx, "archive/legacy.bin")
	require.NoError(t, err)
	assert.Equal(t, []string{"legacy"}, record.Backing.Names())
	assert.Equal(t, "781e5e245d69b566979b86e28d23f2c7", record.Hash)

	contents, err := env.filer.ListContents(ctx, "archive", false)
	require.NoError(t, err)
	require.Len(t, contents, 1)
	assert.Equal(t, "archive/legacy.bin", contents[0].Path)
}

func TestFiler_OnMigrate(t *testing.T) {
	index := setupTestIndex(t)
	resolver := new(MockResolver)

	var migrated []string
	f := filer.New(index, resolver, filer.Config{
		LegacyEnabled: true,
		OnMigrate: func(path string, backends []string) {
			migrated = append(migrated, path+"@"+strings.Join(backends, ","))
		},
	}, log.NewNopLogger())
	ctx := context.Background()

	resolver.On("HasLegacy").Return(true)
	resolver.On("LegacyMetadata", ctx, "old.txt").Return([]backend.LegacyAttributes{
		{Backend: "archive", Locator: metadata.Locator{Key: "old.txt"}, Attributes: metadata.Attributes{Size: 3}},
	}, nil).Once()

	_, err := f.FileSize(ctx, "old.txt")
	require.NoError(t, err)
	_, err = f.FileSize(ctx, "old.txt")
	require.NoError(t, err)

	assert.Equal(t, []string{"old.txt@archive"}, migrated)
	resolver.AssertExpectations(t)
}

func TestFiler_LegacyAttributesFromFirstReportingBackend(t *testing.T) {
	index := setupTestIndex(t)
	resolver := &MockResolver{}
	f := filer.New(index, resolver, filer.Config{LegacyEnabled: true}, log.NewNopLogger())
	ctx := context.Background()

	resolver.On("HasLegacy").Return(true)
	resolver.On("LegacyMetadata", mock.Anything, "legacy.bin").Return([]backend.LegacyAttributes{
		{Backend: "first", Locator: metadata.Locator{Key: "legacy.bin"}, Attributes: metadata.Attributes{Size: 10, Mimetype: "application/x-first"}},
		{Backend: "second", Locator: metadata.Locator{Key: "legacy.bin"}, Attributes: metadata.Attributes{Size: 99, Mimetype: "application/x-second"}},
	}, nil)

	attrs, err := f.GetMetadata(ctx, "legacy.bin")
	require.NoError(t, err)
	assert.Equal(t, int64(10), attrs.Size)
	assert.Equal(t, "application/x-first", attrs.Mimetype)

	record, err := index.Get(ctx, "legacy.bin")
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second"}, record.Backing.Names())
}

func TestFiler_LegacyDisabled(t *testing.T) {
	index := setupTestIndex(t)
	resolver := &MockResolver{}
	f := filer.New(index, resolver, filer.Config{LegacyEnabled: false}, log.NewNopLogger())
	ctx := context.Background()

	_, err := f.Read(ctx, "legacy.bin")
	assert.ErrorIs(t, err, filer.ErrRecordNotFound)

	exists, err := f.FileExists(ctx, "legacy.bin")
	require.NoError(t, err)
	assert.False(t, exists)

	resolver.AssertNotCalled(t, "LegacyMetadata", mock.Anything, mock.Anything)
	resolver.AssertNotCalled(t, "Has", mock.Anything, mock.Anything)
}

func TestFiler_LegacyProbeFailure(t *testing.T) {
	index := setupTestIndex(t)
	resolver := &MockResolver{}
	f := filer.New(index, resolver, filer.Config{LegacyEnabled: true}, log.NewNopLogger())

	resolver.On("HasLegacy").Return(true)
	resolver.On("LegacyMetadata", mock.Anything, "legacy.bin").Return(nil, errors.New("all probes failed"))

	_, err := f.Read(context.Background(), "legacy.bin")
	require.Error(t, err)
	assert.NotErrorIs(t, err, filer.ErrRecordNotFound)
}

func TestFiler_ConcurrentFirstResolution(t *testing.T) {
	env := setupTestFiler(t)
	ctx := context.Background()

	require.NoError(t, afero.WriteReader(env.legacy, "legacy.bin", strings.NewReader("0123456789")))

	const workers = 8
	var wg sync.WaitGroup
	errs := make([]error, workers)
	results := make([][]byte, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = env.filer.Read(ctx, "legacy.bin")
		}(i)
	}
	wg.Wait()

	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "0123456789", string(results[i]))
	}

	contents, err := env.filer.ListContents(ctx, "", true)
	require.NoError(t, err)
	require.Len(t, contents, 1)
	assert.Equal(t, "legacy.bin", contents[0].Path)
}

func TestFiler_DeleteLegacyOnlyFile(t *testing.T) {
	env := setupTestFiler(t)
	ctx := context.Background()

	require.NoError(t, afero.WriteReader(env.legacy, "legacy.bin", strings.NewReader("0123456789")))
	require.NoError(t, env.filer.Delete(ctx, "legacy.bin"))

	exists, err := afero.Exists(env.legacy, "legacy.bin")
	require.NoError(t, err)
	assert.False(t, exists)

	exists, err = env.filer.FileExists(ctx, "legacy.bin")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestFiler_SetVisibility(t *testing.T) {
	env := setupTestFiler(t)
	ctx := context.Background()

	require.NoError(t, env.filer.Write(ctx, "a.txt", []byte("hello"), filer.Options{}))
	require.NoError(t, env.filer.SetVisibility(ctx, "a.txt", metadata.VisibilityPublic))

	visibility, err := env.filer.Visibility(ctx, "a.txt")
	require.NoError(t, err)
	assert.Equal(t, metadata.VisibilityPublic, visibility)

	assert.Error(t, env.filer.SetVisibility(ctx, "a.txt", "world-readable"))
	assert.ErrorIs(t, env.filer.SetVisibility(ctx, "missing.txt", metadata.VisibilityPublic), filer.ErrRecordNotFound)
}

func TestFiler_AttributeProjections(t *testing.T) {
	env := setupTestFiler(t)
	ctx := context.Background()

	before := time.Now().UTC().Add(-time.Second)
	require.NoError(t, env.filer.Write(ctx, "notes.txt", []byte("hello"), filer.Options{}))

	mimetype, err := env.filer.MimeType(ctx, "notes.txt")
	require.NoError(t, err)
	assert.Contains(t, mimetype, "text/plain")

	size, err := env.filer.FileSize(ctx, "notes.txt")
	require.NoError(t, err)
	assert.Equal(t, int64(5), size)

	modified, err := env.filer.LastModified(ctx, "notes.txt")
	require.NoError(t, err)
	assert.True(t, modified.After(before))

	_, err = env.filer.FileSize(ctx, "missing.txt")
	assert.ErrorIs(t, err, filer.ErrRecordNotFound)
}

func TestFiler_ListContents(t *testing.T) {
	env := setupTestFiler(t)
	ctx := context.Background()

	for _, p := range []string{"a.txt", "docs/b.txt", "docs/deep/c.txt"} {
		require.NoError(t, env.filer.Write(ctx, p, []byte(p), filer.Options{}))
	}

	shallow, err := env.filer.ListContents(ctx, "docs", false)
	require.NoError(t, err)
	require.Len(t, shallow, 1)
	assert.Equal(t, "docs/b.txt", shallow[0].Path)

	deep, err := env.filer.ListContents(ctx, "docs", true)
	require.NoError(t, err)
	assert.Len(t, deep, 2)
}

func TestFiler_DirectoriesAreVirtual(t *testing.T) {
	env := setupTestFiler(t)
	ctx := context.Background()

	exists, err := env.filer.DirectoryExists(ctx, "anything/at/all")
	require.NoError(t, err)
	assert.True(t, exists)

	assert.NoError(t, env.filer.CreateDirectory(ctx, "docs"))
	assert.NoError(t, env.filer.DeleteDirectory(ctx, "docs"))
}

func TestFiler_TemporaryURLNotSupported(t *testing.T) {
	env := setupTestFiler(t)
	ctx := context.Background()

	require.NoError(t, env.filer.Write(ctx, "a.txt", []byte("hello"), filer.Options{}))

	_, err := env.filer.TemporaryURL(ctx, "a.txt", time.Minute, filer.Options{})
	assert.ErrorIs(t, err, backend.ErrNotSupported)
}

type signingBackend struct {
	backend.Backend
}

func (s *signingBackend) TemporaryURL(ctx context.Context, locator metadata.Locator, expiration time.Duration, opts backend.Options) (string, error) {
	return "https://cdn.example.com/" + locator.Key + "?ttl=" + expiration.String(), nil
}

func TestFiler_TemporaryURLUsesPrimaryBackend(t *testing.T) {
	index := setupTestIndex(t)
	resolver := &MockResolver{}
	f := filer.New(index, resolver, filer.Config{}, log.NewNopLogger())
	ctx := context.Background()

	backing := metadata.NewBackingLocation().
		Add("cdn", metadata.Locator{Key: "ab/cd/obj.txt"}).
		Add("disk", metadata.Locator{Key: "other"})
	resolver.On("Write", mock.Anything, "a.txt", mock.Anything, mock.Anything).Return(backing, nil)
	require.NoError(t, f.Write(ctx, "a.txt", []byte("hello"), filer.Options{}))

	cdn := &signingBackend{Backend: local.New("cdn", afero.NewMemMapFs(), log.NewNopLogger())}
	resolver.On("Backend", "cdn").Return(cdn, nil)

	url, err := f.TemporaryURL(ctx, "a.txt", time.Minute, filer.Options{})
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/ab/cd/obj.txt?ttl=1m0s", url)

	handle, locator, err := f.BackingFor(ctx, "a.txt")
	require.NoError(t, err)
	assert.Equal(t, "cdn", handle.Name())
	assert.Equal(t, "ab/cd/obj.txt", locator.Key)

	resolver.AssertNotCalled(t, "Backend", "disk")
}
