package models

import (
	"time"
)

// File is the persisted form of a metadata.Record. The path is the unique
// key; Backing holds the JSON encoded backing location.
type File struct {
	ID   string `gorm:"primaryKey;type:text"`
	Path string `gorm:"type:text;not null;uniqueIndex:idx_files_path"`

	// File metadata
	Size       int64  `gorm:"not null"`
	MD5Hash    string `gorm:"type:text"`
	Mimetype   string `gorm:"type:text;not null"`
	Visibility string `gorm:"type:text;not null;default:private"`
	Backing    string `gorm:"type:text;not null"`

	// Timestamps
	ModifiedAt time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
