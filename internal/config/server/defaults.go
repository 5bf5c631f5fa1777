package server

import "github.com/spf13/viper"

func GetServerDefault() BaseServerConfig {
	return BaseServerConfig{
		ShutdownTimeout: "10s",

		Log: LogServerConfig{
			Level:      "INFO",
			TimeFormat: "2006-01-02 15:04:05",
			File:       "",
			NoColor:    false,
			JSON:       false,
			NoTerminal: false,
			Rotation: LogServerRotationConfig{
				MaxSize:    128,
				MaxBackups: 5,
				MaxAge:     16,
				Compress:   false,
			},
		},

		Metadata: MetadataServerConfig{
			Type: "sqlite",
			SQLite: MetadataSQLiteConfig{
				Path:        "./data/filer.db",
				BusyTimeout: "5s",
			},
		},

		Backends: []BackendServerConfig{
			{
				Name: "local",
				Type: "local",
				Local: LocalBackendConfig{
					Root: "./data/objects",
				},
			},
		},

		Strategy: StrategyServerConfig{
			Mode:             "primary",
			WriteBackends:    []string{"local"},
			LegacyBackends:   []string{},
			LegacyEnabled:    true,
			ProbeConcurrency: 4,
		},

		Metrics: MetricsServerConfig{
			Enabled:   false,
			Address:   ":9180",
			Path:      "/metrics",
			Namespace: "filer",
		},
	}
}

func setDefaults() {
	defaults := GetServerDefault()

	viper.SetDefault("shutdown_timeout", defaults.ShutdownTimeout)

	viper.SetDefault("log.level", defaults.Log.Level)
	viper.SetDefault("log.time_format", defaults.Log.TimeFormat)
	viper.SetDefault("log.file", defaults.Log.File)
	viper.SetDefault("log.no_color", defaults.Log.NoColor)
	viper.SetDefault("log.json", defaults.Log.JSON)
	viper.SetDefault("log.no_terminal", defaults.Log.NoTerminal)
	viper.SetDefault("log.rotation.max_size", defaults.Log.Rotation.MaxSize)
	viper.SetDefault("log.rotation.max_backups", defaults.Log.Rotation.MaxBackups)
	viper.SetDefault("log.rotation.max_age", defaults.Log.Rotation.MaxAge)
	viper.SetDefault("log.rotation.compress", defaults.Log.Rotation.Compress)

	viper.SetDefault("metadata.type", defaults.Metadata.Type)
	viper.SetDefault("metadata.sqlite.path", defaults.Metadata.SQLite.Path)
	viper.SetDefault("metadata.sqlite.busy_timeout", defaults.Metadata.SQLite.BusyTimeout)

	// Backends are a list and get their default after unmarshalling.
	viper.SetDefault("strategy.mode", defaults.Strategy.Mode)
	viper.SetDefault("strategy.write_backends", defaults.Strategy.WriteBackends)
	viper.SetDefault("strategy.legacy_backends", defaults.Strategy.LegacyBackends)
	viper.SetDefault("strategy.legacy_enabled", defaults.Strategy.LegacyEnabled)
	viper.SetDefault("strategy.probe_concurrency", defaults.Strategy.ProbeConcurrency)

	viper.SetDefault("metrics.enabled", defaults.Metrics.Enabled)
	viper.SetDefault("metrics.address", defaults.Metrics.Address)
	viper.SetDefault("metrics.path", defaults.Metrics.Path)
	viper.SetDefault("metrics.namespace", defaults.Metrics.Namespace)
}
