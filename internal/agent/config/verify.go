package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/yndnr/farmsync-go/internal/core/domain"
	"github.com/yndnr/farmsync-go/internal/telemetry/logger"
	"github.com/yndnr/farmsync-go/pkg/crypto/adaptive"
)

// Verify validates cfg. All problems are reported together.
func Verify(cfg *Config) error {
	var errs []error
	errs = append(errs, verifyTenant(&cfg.Tenant)...)
	errs = append(errs, verifyStorage(&cfg.Storage)...)
	if err := cfg.Remote.Verify(); err != nil {
		errs = append(errs, err)
	}
	errs = append(errs, verifyAuth(cfg)...)
	errs = append(errs, verifySync(cfg)...)
	errs = append(errs, verifyAgent(&cfg.Agent)...)
	if _, err := logger.ParseLevel(cfg.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	switch cfg.Log.Format {
	case "", "json", "text", "console":
	default:
		errs = append(errs, fmt.Errorf("log.format must be json or text, got %q", cfg.Log.Format))
	}
	return errors.Join(errs...)
}

func verifyTenant(t *TenantSection) []error {
	if t.ID == "" {
		return []error{errors.New("tenant.id is required")}
	}
	return nil
}

func verifyStorage(s *StorageSection) []error {
	var errs []error
	if s.DataDir == "" && !s.InMemory {
		errs = append(errs, errors.New("storage.data_dir is required unless storage.in_memory is set"))
	}
	if _, err := time.ParseDuration(s.Badger.GCInterval); err != nil {
		errs = append(errs, fmt.Errorf("storage.badger.gc_interval: %w", err))
	}
	if s.Badger.GCThreshold <= 0 || s.Badger.GCThreshold >= 1 {
		errs = append(errs, errors.New("storage.badger.gc_threshold must be in (0, 1)"))
	}
	if s.EncryptionKey != "" {
		key, err := hex.DecodeString(s.EncryptionKey)
		if err != nil || len(key) != 32 {
			errs = append(errs, errors.New("storage.encryption_key must be 64 hex characters"))
		}
	}
	switch adaptive.CipherType(s.Cipher) {
	case "", DefaultCipher, adaptive.CipherAESGCM, adaptive.CipherChaCha20:
	default:
		errs = append(errs, fmt.Errorf("storage.cipher: unknown cipher %q", s.Cipher))
	}
	return errs
}

func verifyAuth(cfg *Config) []error {
	a := &cfg.Auth
	var errs []error
	if a.OnlineSessionTTL <= 0 || a.OfflineSessionTTL <= 0 || a.CredentialTTL <= 0 {
		errs = append(errs, errors.New("auth session and credential TTLs must be positive"))
	}
	if a.MaxFailedAttempts < 1 {
		errs = append(errs, errors.New("auth.max_failed_attempts must be at least 1"))
	}
	if a.LockoutDuration < 0 {
		errs = append(errs, errors.New("auth.lockout_duration must not be negative"))
	}
	if a.PINSalt == "" {
		errs = append(errs, errors.New("auth.pin_salt is required"))
	} else if a.PINSalt != domain.DefaultPINSalt && len(a.PINSalt) < 8 {
		errs = append(errs, errors.New("auth.pin_salt must be at least 8 characters"))
	}
	return errs
}

func verifySync(cfg *Config) []error {
	s := &cfg.Sync
	var errs []error
	if s.MinInterval < 0 {
		errs = append(errs, errors.New("sync.min_interval must not be negative"))
	}
	if s.PageSize < 1 || s.PageSize > 1000 {
		errs = append(errs, errors.New("sync.page_size must be between 1 and 1000"))
	}
	if s.MaxPages < 1 {
		errs = append(errs, errors.New("sync.max_pages must be at least 1"))
	}
	return errs
}

func verifyAgent(a *AgentSection) []error {
	var errs []error
	if a.SyncInterval < time.Second {
		errs = append(errs, errors.New("agent.sync_interval must be at least 1s"))
	}
	if a.ProbeInterval < time.Second {
		errs = append(errs, errors.New("agent.probe_interval must be at least 1s"))
	}
	if a.MetricsAddr != "" {
		if _, _, err := net.SplitHostPort(a.MetricsAddr); err != nil {
			errs = append(errs, fmt.Errorf("agent.metrics_addr: %w", err))
		}
	}
	if a.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("agent.shutdown_timeout must be positive"))
	}
	return errs
}
