package metadata

import (
	"fmt"
	"time"
)

// Structured is the persisted form of a record.
//
// Timestamps are unix seconds. When Timestamp is missing, UpdatedAt and then
// CreatedAt are used instead.
type Structured struct {
	ID         string           `json:"id,omitempty"`
	Path       string           `json:"path"`
	Hash       string           `json:"hash"`
	Mimetype   string           `json:"mimetype,omitempty"`
	Visibility string           `json:"visibility,omitempty"`
	Size       *int64           `json:"size"`
	Backing    *BackingLocation `json:"backing"`
	Timestamp  int64            `json:"timestamp,omitempty"`
	CreatedAt  int64            `json:"created_at,omitempty"`
	UpdatedAt  int64            `json:"updated_at,omitempty"`
}

// ConstructionError reports which field prevented a record from being built.
type ConstructionError struct {
	Path   string
	Field  string
	Reason string
}

func (e *ConstructionError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("invalid record: field '%s' %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid record '%s': field '%s' %s", e.Path, e.Field, e.Reason)
}

func (r *Record) ToStructured() Structured {
	size := r.Size
	return Structured{
		ID:         r.ID,
		Path:       r.Path,
		Hash:       r.Hash,
		Mimetype:   r.Mimetype,
		Visibility: string(r.Visibility),
		Size:       &size,
		Backing:    r.Backing.Clone(),
		Timestamp:  r.Timestamp.Unix(),
		CreatedAt:  r.CreatedAt.Unix(),
		UpdatedAt:  r.UpdatedAt.Unix(),
	}
}

// Restore strictly rebuilds a record from its persisted form. Path, size and
// at least one backing entry are required; mimetype, visibility and the
// timestamps fall back to explicit defaults.
func Restore(s Structured) (*Record, error) {
	if s.Path == "" {
		return nil, &ConstructionError{Field: "path", Reason: "is required"}
	}
	if s.Size == nil {
		return nil, &ConstructionError{Path: s.Path, Field: "size", Reason: "is required"}
	}
	if *s.Size < 0 {
		return nil, &ConstructionError{Path: s.Path, Field: "size", Reason: "must not be negative"}
	}
	if s.Backing.IsEmpty() {
		return nil, &ConstructionError{Path: s.Path, Field: "backing", Reason: "must contain at least one backend"}
	}

	visibility := VisibilityPrivate
	if s.Visibility != "" {
		parsed, err := ParseVisibility(s.Visibility)
		if err != nil {
			return nil, &ConstructionError{Path: s.Path, Field: "visibility", Reason: err.Error()}
		}
		visibility = parsed
	}

	mimetype := s.Mimetype
	if mimetype == "" {
		mimetype = DefaultMimetype
	}

	var timestamp int64
	for _, candidate := range []int64{s.Timestamp, s.UpdatedAt, s.CreatedAt} {
		if candidate > 0 {
			timestamp = candidate
			break
		}
	}
	if timestamp == 0 {
		return nil, &ConstructionError{Path: s.Path, Field: "timestamp", Reason: "is required (or updated_at/created_at)"}
	}

	createdAt := orDefault(s.CreatedAt, timestamp)
	updatedAt := orDefault(s.UpdatedAt, timestamp)

	return &Record{
		ID:         s.ID,
		Path:       s.Path,
		Mimetype:   mimetype,
		Size:       *s.Size,
		Hash:       s.Hash,
		Visibility: visibility,
		CreatedAt:  time.Unix(createdAt, 0).UTC(),
		UpdatedAt:  time.Unix(updatedAt, 0).UTC(),
		Timestamp:  time.Unix(timestamp, 0).UTC(),
		Backing:    s.Backing.Clone(),
	}, nil
}

func orDefault(value, fallback int64) int64 {
	if value > 0 {
		return value
	}
	return fallback
}
