package metadata

import "time"

// Attributes is the flat attribute set of a file. Backends report it for
// objects they hold, and records project onto it for callers.
type Attributes struct {
	Path         string             `json:"path"                yaml:"path"`
	Size         int64              `json:"size"                yaml:"size"`
	Hash         string             `json:"hash,omitempty"      yaml:"hash,omitempty"`
	Mimetype     string             `json:"mimetype,omitempty"  yaml:"mimetype,omitempty"`
	Visibility   Visibility         `json:"visibility,omitempty" yaml:"visibility,omitempty"`
	LastModified time.Time          `json:"last_modified"       yaml:"last_modified"`
	Backing      map[string]Locator `json:"backing,omitempty"   yaml:"backing,omitempty"`
}
