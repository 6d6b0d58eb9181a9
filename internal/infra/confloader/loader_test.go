package confloader

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

type testConfig struct {
	Tenant struct {
		ID string `koanf:"id"`
	} `koanf:"tenant"`
	Auth struct {
		OfflineSessionTTL time.Duration `koanf:"offline_session_ttl"`
		MaxFailedAttempts int           `koanf:"max_failed_attempts"`
	} `koanf:"auth"`
	Log struct {
		Level string `koanf:"level"`
	} `koanf:"log"`
}

func defaults() *testConfig {
	cfg := &testConfig{}
	cfg.Auth.OfflineSessionTTL = 7 * 24 * time.Hour
	cfg.Auth.MaxFailedAttempts = 3
	cfg.Log.Level = "info"
	return cfg
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "farmsync.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoader_Load(t *testing.T) {
	path := writeConfig(t, `
tenant:
  id: coop-a
auth:
  offline_session_ttl: 72h
`)

	cfg := defaults()
	if err := NewLoader(WithConfigFile(path, false)).Load(cfg); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Tenant.ID != "coop-a" {
		t.Errorf("tenant.id = %q", cfg.Tenant.ID)
	}
	if cfg.Auth.OfflineSessionTTL != 72*time.Hour {
		t.Errorf("offline_session_ttl = %v", cfg.Auth.OfflineSessionTTL)
	}
	if cfg.Auth.MaxFailedAttempts != 3 {
		t.Errorf("max_failed_attempts default lost: %d", cfg.Auth.MaxFailedAttempts)
	}
}

func TestLoader_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "log:\n  level: warn\nauth:\n  max_failed_attempts: 5\n")
	t.Setenv("FARMSYNC_LOG__LEVEL", "debug")
	t.Setenv("FARMSYNC_AUTH__OFFLINE_SESSION_TTL", "36h")
	t.Setenv("OTHER_LOG__LEVEL", "error")

	cfg := defaults()
	if err := NewLoader(WithConfigFile(path, false)).Load(cfg); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Log.Level != "debug" {
		t.Errorf("log.level = %q, want env override", cfg.Log.Level)
	}
	if cfg.Auth.OfflineSessionTTL != 36*time.Hour {
		t.Errorf("offline_session_ttl = %v", cfg.Auth.OfflineSessionTTL)
	}
	if cfg.Auth.MaxFailedAttempts != 5 {
		t.Errorf("max_failed_attempts = %d, want file value", cfg.Auth.MaxFailedAttempts)
	}
}

func TestLoader_CustomPrefix(t *testing.T) {
	t.Setenv("FSTEST_TENANT__ID", "coop-b")

	cfg := defaults()
	if err := NewLoader(WithEnvPrefix("FSTEST_")).Load(cfg); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Tenant.ID != "coop-b" {
		t.Errorf("tenant.id = %q", cfg.Tenant.ID)
	}
}

func TestLoader_MissingFile(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "absent.yaml")

	if err := NewLoader(WithConfigFile(missing, false)).Load(defaults()); err == nil {
		t.Error("required missing file: expected error")
	}

	cfg := defaults()
	if err := NewLoader(WithConfigFile(missing, true)).Load(cfg); err != nil {
		t.Errorf("optional missing file: error = %v", err)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("defaults changed: %q", cfg.Log.Level)
	}
}

func TestLoader_BadYAML(t *testing.T) {
	path := writeConfig(t, "tenant: [unclosed\n")
	if err := NewLoader(WithConfigFile(path, true)).Load(defaults()); err == nil {
		t.Error("expected parse error")
	}
}

func TestLoader_LoadMap(t *testing.T) {
	t.Setenv("FARMSYNC_LOG__LEVEL", "warn")

	l := NewLoader()
	if err := l.LoadEnv(); err != nil {
		t.Fatal(err)
	}
	if err := l.LoadMap(map[string]any{"log.level": "error", "tenant.id": "coop-c"}); err != nil {
		t.Fatal(err)
	}
	if err := l.LoadMap(nil); err != nil {
		t.Fatal(err)
	}

	cfg := defaults()
	if err := l.Unmarshal(cfg); err != nil {
		t.Fatal(err)
	}
	if cfg.Log.Level != "error" || cfg.Tenant.ID != "coop-c" {
		t.Errorf("overrides not applied: %+v", cfg)
	}

	keys := map[string]bool{}
	for _, k := range l.Keys() {
		keys[k] = true
	}
	if !keys["tenant.id"] || !keys["log.level"] {
		t.Errorf("Keys() = %v", l.Keys())
	}
}
