package backend

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/mwantia/filer/pkg/metadata"
)

// Observer receives the outcome of every call made to an instrumented backend.
// Status is one of "success", "not_found" or "error".
type Observer interface {
	ObserveBackend(backend, operation, status string, elapsed time.Duration)
}

type instrumented struct {
	Backend
	obs Observer
}

// Instrument reports every call made to b to obs. Temporary urls are passed
// through when b supports them.
func Instrument(b Backend, obs Observer) Backend {
	if obs == nil {
		return b
	}
	return &instrumented{Backend: b, obs: obs}
}

func (i *instrumented) observe(operation string, started time.Time, err error) {
	status := "success"
	switch {
	case errors.Is(err, ErrNotFound):
		status = "not_found"
	case err != nil:
		status = "error"
	}
	i.obs.ObserveBackend(i.Name(), operation, status, time.Since(started))
}

func (i *instrumented) Write(ctx context.Context, key string, r io.Reader, size int64, opts Options) (metadata.Locator, error) {
	started := time.Now()
	locator, err := i.Backend.Write(ctx, key, r, size, opts)
	i.observe("write", started, err)
	return locator, err
}

func (i *instrumented) Read(ctx context.Context, locator metadata.Locator) (io.ReadCloser, error) {
	started := time.Now()
	rc, err := i.Backend.Read(ctx, locator)
	i.observe("read", started, err)
	return rc, err
}

func (i *instrumented) Copy(ctx context.Context, src metadata.Locator, key string, opts Options) (metadata.Locator, error) {
	started := time.Now()
	locator, err := i.Backend.Copy(ctx, src, key, opts)
	i.observe("copy", started, err)
	return locator, err
}

func (i *instrumented) Delete(ctx context.Context, locator metadata.Locator) error {
	started := time.Now()
	err := i.Backend.Delete(ctx, locator)
	i.observe("delete", started, err)
	return err
}

func (i *instrumented) Exists(ctx context.Context, key string) (bool, error) {
	started := time.Now()
	exists, err := i.Backend.Exists(ctx, key)
	i.observe("exists", started, err)
	return exists, err
}

func (i *instrumented) Stat(ctx context.Context, key string) (*ObjectInfo, error) {
	started := time.Now()
	info, err := i.Backend.Stat(ctx, key)
	i.observe("stat", started, err)
	return info, err
}

func (i *instrumented) TemporaryURL(ctx context.Context, locator metadata.Locator, expiration time.Duration, opts Options) (string, error) {
	signer, ok := i.Backend.(URLSigner)
	if !ok {
		return "", ErrNotSupported
	}

	started := time.Now()
	url, err := signer.TemporaryURL(ctx, locator, expiration, opts)
	i.observe("temporary_url", started, err)
	return url, err
}
