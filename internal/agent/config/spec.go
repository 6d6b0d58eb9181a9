package config

import (
	"time"

	"github.com/yndnr/farmsync-go/internal/core/service"
	"github.com/yndnr/farmsync-go/internal/remote"
	"github.com/yndnr/farmsync-go/internal/storage"
	"github.com/yndnr/farmsync-go/internal/telemetry/logger"
)

// Config is the root configuration of the farmsync CLI and agent.
type Config struct {
	Tenant  TenantSection      `koanf:"tenant"`
	Storage StorageSection     `koanf:"storage"`
	Remote  remote.Config      `koanf:"remote"`
	Auth    service.AuthConfig `koanf:"auth"`
	Sync    service.SyncConfig `koanf:"sync"`
	Agent   AgentSection       `koanf:"agent"`
	Log     logger.Config      `koanf:"log"`
}

// TenantSection names the cooperative this device serves.
type TenantSection struct {
	ID     string `koanf:"id"`
	Domain string `koanf:"domain"`
}

// StorageSection configures the on-device database.
type StorageSection struct {
	DataDir  string               `koanf:"data_dir"`
	InMemory bool                 `koanf:"in_memory"`
	Badger   storage.BadgerConfig `koanf:"badger"`

	// EncryptionKey is a hex-encoded 32-byte key sealing every stored
	// value. Empty stores values in clear.
	EncryptionKey string `koanf:"encryption_key"`

	// Cipher is auto, aes-gcm or chacha20-poly1305.
	Cipher string `koanf:"cipher"`
}

// KV returns the engine configuration of the section.
func (s StorageSection) KV() storage.KVConfig {
	return storage.KVConfig{
		Dir:      s.DataDir,
		InMemory: s.InMemory,
		Badger:   s.Badger,
	}
}

// AgentSection configures the long-running agent.
type AgentSection struct {
	// SyncInterval is the period of background sync attempts.
	SyncInterval time.Duration `koanf:"sync_interval"`

	// ProbeInterval is how often connectivity is checked to detect the
	// offline to online transition.
	ProbeInterval time.Duration `koanf:"probe_interval"`

	// MetricsAddr serves /metrics; empty disables it.
	MetricsAddr string `koanf:"metrics_addr"`

	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}
