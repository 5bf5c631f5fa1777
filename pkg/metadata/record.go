package metadata

import (
	"errors"
	"fmt"
	"time"
)

type Visibility string

const (
	VisibilityPrivate Visibility = "private"
	VisibilityPublic  Visibility = "public"
)

var ErrInvalidVisibility = errors.New("unknown visibility")

func ParseVisibility(value string) (Visibility, error) {
	switch Visibility(value) {
	case VisibilityPrivate, VisibilityPublic:
		return Visibility(value), nil
	default:
		return "", fmt.Errorf("%w '%s'", ErrInvalidVisibility, value)
	}
}

// Record describes one logical file independently of where its bytes live.
//
// Size and Hash are always derived from content and never set by callers.
// A persisted record always has at least one backing entry.
type Record struct {
	ID         string
	Path       string
	Mimetype   string
	Size       int64
	Hash       string
	Visibility Visibility

	CreatedAt time.Time
	UpdatedAt time.Time
	Timestamp time.Time

	Backing *BackingLocation
}

// FromContent builds a fresh record for path by measuring content.
// The returned record has no backing yet.
func FromContent(path string, content Content) (*Record, error) {
	size, err := content.Size()
	if err != nil {
		return nil, err
	}

	hash, err := content.Hash()
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	return &Record{
		Path:       path,
		Mimetype:   DetectMimetype(path, content),
		Size:       size,
		Hash:       hash,
		Visibility: VisibilityPrivate,
		CreatedAt:  now,
		UpdatedAt:  now,
		Timestamp:  now,
		Backing:    NewBackingLocation(),
	}, nil
}

// FromLegacyAttributes imports the attributes a legacy backend reported for
// path. The returned record has no backing yet.
func FromLegacyAttributes(path string, attrs Attributes) *Record {
	mimetype := attrs.Mimetype
	if mimetype == "" {
		mimetype = DefaultMimetype
	}

	visibility, err := ParseVisibility(string(attrs.Visibility))
	if err != nil {
		visibility = VisibilityPrivate
	}

	timestamp := attrs.LastModified.UTC()
	if attrs.LastModified.IsZero() {
		timestamp = time.Now().UTC()
	}

	return &Record{
		Path:       path,
		Mimetype:   mimetype,
		Size:       attrs.Size,
		Hash:       attrs.Hash,
		Visibility: visibility,
		CreatedAt:  timestamp,
		UpdatedAt:  timestamp,
		Timestamp:  timestamp,
		Backing:    NewBackingLocation(),
	}
}

// UpdateContents re-derives size, hash and timestamps from new content in
// place. Path, ID, visibility and backing stay untouched.
func (r *Record) UpdateContents(content Content) error {
	size, err := content.Size()
	if err != nil {
		return err
	}

	hash, err := content.Hash()
	if err != nil {
		return err
	}

	now := time.Now().UTC()

	r.Size = size
	r.Hash = hash
	r.Mimetype = DetectMimetype(r.Path, content)
	r.UpdatedAt = now
	r.Timestamp = now
	return nil
}

// Clone returns a deep copy of the record.
func (r *Record) Clone() *Record {
	clone := *r
	if r.Backing != nil {
		clone.Backing = r.Backing.Clone()
	}
	return &clone
}

// WithPath returns a copy of the record addressed by path.
func (r *Record) WithPath(path string) *Record {
	clone := r.Clone()
	clone.Path = path
	return clone
}

// Attributes projects the record onto the attribute set exposed to callers.
func (r *Record) Attributes() Attributes {
	return Attributes{
		Path:         r.Path,
		Size:         r.Size,
		Hash:         r.Hash,
		Mimetype:     r.Mimetype,
		Visibility:   r.Visibility,
		LastModified: r.Timestamp,
		Backing:      r.Backing.ToStructured(),
	}
}

func (r *Record) String() string {
	return fmt.Sprintf("%s (%d bytes, %s, backends=%v)", r.Path, r.Size, r.Mimetype, r.Backing.Names())
}
