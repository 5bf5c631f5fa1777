package server

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type BaseServerConfig struct {
	ShutdownTimeout string `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`

	Log      LogServerConfig       `mapstructure:"log"      yaml:"log"`
	Metadata MetadataServerConfig  `mapstructure:"metadata" yaml:"metadata"`
	Backends []BackendServerConfig `mapstructure:"backends" yaml:"backends"`
	Strategy StrategyServerConfig  `mapstructure:"strategy" yaml:"strategy"`
	Metrics  MetricsServerConfig   `mapstructure:"metrics"  yaml:"metrics"`
}

func LoadServerConfig() (*BaseServerConfig, error) {
	cfg := &BaseServerConfig{}

	setDefaults()

	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if len(cfg.Backends) == 0 {
		cfg.Backends = GetServerDefault().Backends
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (cfg *BaseServerConfig) Validate() error {
	if _, err := time.ParseDuration(cfg.ShutdownTimeout); err != nil {
		return fmt.Errorf("shutdown_timeout: %w", err)
	}

	if err := cfg.Log.Validate(); err != nil {
		return fmt.Errorf("log: %w", err)
	}

	if err := cfg.Metadata.Validate(); err != nil {
		return fmt.Errorf("metadata: %w", err)
	}

	names := make(map[string]bool, len(cfg.Backends))
	for i, backend := range cfg.Backends {
		if err := backend.Validate(); err != nil {
			return fmt.Errorf("backends[%d]: %w", i, err)
		}
		if names[backend.Name] {
			return fmt.Errorf("backends[%d]: name '%s' is used twice", i, backend.Name)
		}
		names[backend.Name] = true
	}

	if err := cfg.Metrics.Validate(); err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	return cfg.Strategy.Validate(names)
}
