package remote

import (
	"fmt"
	"net/url"
	"time"
)

// Config configures the remote client.
type Config struct {
	// BaseURL is the API root, e.g. https://api.farmsync.example.
	BaseURL string `koanf:"base_url"`

	// APIKey is sent as a bearer token when set.
	APIKey string `koanf:"api_key"`

	// Timeout bounds each request, including reading the body.
	Timeout time.Duration `koanf:"timeout"`

	// ProbeTimeout bounds the /healthz connectivity probe.
	ProbeTimeout time.Duration `koanf:"probe_timeout"`

	// RateLimit is the sustained requests per second; 0 disables limiting.
	RateLimit float64 `koanf:"rate_limit"`
	Burst     int     `koanf:"burst"`

	TLS TLSConfig `koanf:"tls"`
}

// TLSConfig selects custom trust roots and an optional client certificate.
type TLSConfig struct {
	CAFile          string `koanf:"ca_file"`
	CADir           string `koanf:"ca_dir"`
	SkipSystemRoots bool   `koanf:"skip_system_roots"`
	CertFile        string `koanf:"cert_file"`
	KeyFile         string `koanf:"key_file"`
	ServerName      string `koanf:"server_name"`
}

// DefaultConfig returns the defaults used on field devices: slow links are
// the norm, so timeouts are generous and the probe is quick.
func DefaultConfig() Config {
	return Config{
		BaseURL:      "http://127.0.0.1:8080",
		Timeout:      20 * time.Second,
		ProbeTimeout: 3 * time.Second,
		RateLimit:    10,
		Burst:        20,
	}
}

// Verify checks the configuration.
func (c *Config) Verify() error {
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("remote.base_url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("remote.base_url: scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("remote.base_url: missing host")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("remote.timeout must be positive")
	}
	if c.ProbeTimeout <= 0 {
		return fmt.Errorf("remote.probe_timeout must be positive")
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("remote.rate_limit must not be negative")
	}
	if c.RateLimit > 0 && c.Burst < 1 {
		return fmt.Errorf("remote.burst must be at least 1 when rate_limit is set")
	}
	if (c.TLS.CertFile == "") != (c.TLS.KeyFile == "") {
		return fmt.Errorf("remote.tls.cert_file and remote.tls.key_file must be set together")
	}
	return nil
}
