package filer

import (
	"errors"
	"fmt"
)

var (
	// ErrRecordNotFound is returned when no record resolves for a path,
	// neither from the index nor from any legacy backend.
	ErrRecordNotFound = errors.New("record not found")
	ErrInvalidPath    = errors.New("invalid path")
)

// ReadError wraps a physical read failure.
type ReadError struct {
	Path   string
	Reason string
	Err    error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("unable to read file at '%s': %s: %v", e.Path, e.Reason, e.Err)
}

func (e *ReadError) Unwrap() error {
	return e.Err
}

// CopyError wraps a physical copy failure.
type CopyError struct {
	Source      string
	Destination string
	Err         error
}

func (e *CopyError) Error() string {
	return fmt.Sprintf("unable to copy '%s' to '%s': %v", e.Source, e.Destination, e.Err)
}

func (e *CopyError) Unwrap() error {
	return e.Err
}

func notFound(path string) error {
	return fmt.Errorf("%w: '%s'", ErrRecordNotFound, path)
}
