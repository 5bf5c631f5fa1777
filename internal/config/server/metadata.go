package server

import (
	"fmt"
	"time"
)

// MetadataServerConfig holds metadata store configuration
type MetadataServerConfig struct {
	Type   string               `mapstructure:"type"   yaml:"type"`
	SQLite MetadataSQLiteConfig `mapstructure:"sqlite" yaml:"sqlite"`
}

// MetadataSQLiteConfig holds SQLite-specific configuration
type MetadataSQLiteConfig struct {
	Path        string `mapstructure:"path"         yaml:"path"`
	BusyTimeout string `mapstructure:"busy_timeout" yaml:"busy_timeout"`
}

func (cfg MetadataServerConfig) Validate() error {
	switch cfg.Type {
	case "sqlite":
		if cfg.SQLite.Path == "" {
			return fmt.Errorf("sqlite.path is required")
		}
		if cfg.SQLite.BusyTimeout != "" {
			if _, err := time.ParseDuration(cfg.SQLite.BusyTimeout); err != nil {
				return fmt.Errorf("sqlite.busy_timeout: %w", err)
			}
		}
		return nil
	default:
		return fmt.Errorf("unsupported metadata type '%s'", cfg.Type)
	}
}
