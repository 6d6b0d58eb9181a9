package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/yndnr/farmsync-go/internal/core/service"
	"github.com/yndnr/farmsync-go/internal/remote"
	"github.com/yndnr/farmsync-go/internal/storage"
	"github.com/yndnr/farmsync-go/internal/telemetry/logger"
)

// Default values.
const (
	DefaultCipher          = "auto"
	DefaultSyncInterval    = 15 * time.Minute
	DefaultProbeInterval   = 30 * time.Second
	DefaultMetricsAddr     = "127.0.0.1:9464"
	DefaultShutdownTimeout = 10 * time.Second
	DefaultFileName        = "farmsync.yaml"
)

// Dir returns the per-user farmsync directory, e.g. ~/.config/farmsync.
func Dir() string {
	base, err := os.UserConfigDir()
	if err != nil {
		base = "."
	}
	return filepath.Join(base, "farmsync")
}

// DefaultPath returns the default configuration file.
func DefaultPath() string {
	return filepath.Join(Dir(), DefaultFileName)
}

// Default returns the default configuration. The tenant is never
// defaulted; it must be configured.
func Default() *Config {
	return &Config{
		Storage: StorageSection{
			DataDir: filepath.Join(Dir(), "data"),
			Badger:  storage.DefaultBadgerConfig(),
			Cipher:  DefaultCipher,
		},
		Remote: remote.DefaultConfig(),
		Auth:   *service.DefaultAuthConfig(),
		Sync:   *service.DefaultSyncConfig(),
		Agent: AgentSection{
			SyncInterval:    DefaultSyncInterval,
			ProbeInterval:   DefaultProbeInterval,
			MetricsAddr:     DefaultMetricsAddr,
			ShutdownTimeout: DefaultShutdownTimeout,
		},
		Log: logger.DefaultConfig(),
	}
}
