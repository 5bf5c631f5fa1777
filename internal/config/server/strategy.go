package server

import "fmt"

type StrategyServerConfig struct {
	Mode             string   `mapstructure:"mode"              yaml:"mode"`
	WriteBackends    []string `mapstructure:"write_backends"    yaml:"write_backends"`
	LegacyBackends   []string `mapstructure:"legacy_backends"   yaml:"legacy_backends"`
	LegacyEnabled    bool     `mapstructure:"legacy_enabled"    yaml:"legacy_enabled"`
	ProbeConcurrency int      `mapstructure:"probe_concurrency" yaml:"probe_concurrency"`
}

// Validate checks every referenced backend against the configured names.
func (cfg StrategyServerConfig) Validate(backends map[string]bool) error {
	if cfg.Mode != "primary" && cfg.Mode != "mirror" {
		return fmt.Errorf("strategy.mode must be 'primary' or 'mirror', got '%s'", cfg.Mode)
	}
	if len(cfg.WriteBackends) == 0 {
		return fmt.Errorf("strategy.write_backends must not be empty")
	}

	for _, name := range cfg.WriteBackends {
		if !backends[name] {
			return fmt.Errorf("strategy.write_backends: unknown backend '%s'", name)
		}
	}
	for _, name := range cfg.LegacyBackends {
		if !backends[name] {
			return fmt.Errorf("strategy.legacy_backends: unknown backend '%s'", name)
		}
	}
	return nil
}
