package server

import (
	"fmt"
	"strings"
)

type MetricsServerConfig struct {
	Enabled   bool   `mapstructure:"enabled"   yaml:"enabled"`
	Address   string `mapstructure:"address"   yaml:"address"`
	Path      string `mapstructure:"path"      yaml:"path"`
	Namespace string `mapstructure:"namespace" yaml:"namespace"`
}

func (cfg MetricsServerConfig) Validate() error {
	if !cfg.Enabled {
		return nil
	}
	if cfg.Address == "" {
		return fmt.Errorf("address is required")
	}
	if !strings.HasPrefix(cfg.Path, "/") {
		return fmt.Errorf("path '%s' must start with '/'", cfg.Path)
	}
	return nil
}
