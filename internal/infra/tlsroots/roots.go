package tlsroots

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var (
	// ErrNoCertsFound is returned when a PEM bundle holds no certificate.
	ErrNoCertsFound = errors.New("tlsroots: no certificates found in PEM data")

	// ErrIncompleteKeyPair is returned when only one of cert/key is set.
	ErrIncompleteKeyPair = errors.New("tlsroots: client cert and key must be set together")
)

// Pool is a set of trusted root certificates.
type Pool struct {
	certs *x509.CertPool
	added int
}

// NewPool returns a pool seeded with the system roots. Platforms without a
// readable system store get an empty pool.
func NewPool() *Pool {
	certs, err := x509.SystemCertPool()
	if err != nil {
		certs = x509.NewCertPool()
	}
	return &Pool{certs: certs}
}

// NewEmptyPool returns a pool that trusts nothing until certificates are added.
func NewEmptyPool() *Pool {
	return &Pool{certs: x509.NewCertPool()}
}

// AddPEM adds every CERTIFICATE block of pemData.
func (p *Pool) AddPEM(pemData []byte) error {
	n := 0
	for len(pemData) > 0 {
		var block *pem.Block
		block, pemData = pem.Decode(pemData)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return fmt.Errorf("tlsroots: parse certificate: %w", err)
		}
		p.certs.AddCert(cert)
		n++
	}
	if n == 0 {
		return ErrNoCertsFound
	}
	p.added += n
	return nil
}

// AddFile adds the certificates of one PEM file.
func (p *Pool) AddFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("tlsroots: read %s: %w", path, err)
	}
	if err := p.AddPEM(data); err != nil {
		return fmt.Errorf("%w (%s)", err, path)
	}
	return nil
}

// AddDir adds every .pem, .crt and .cer file of dir. Files that fail to
// parse are returned joined; valid files are still added.
func (p *Pool) AddDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("tlsroots: read dir %s: %w", dir, err)
	}

	var errs []error
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(entry.Name())) {
		case ".pem", ".crt", ".cer":
			if err := p.AddFile(filepath.Join(dir, entry.Name())); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// Added returns how many certificates were added beyond the system roots.
func (p *Pool) Added() int {
	return p.added
}

// CertPool returns the underlying x509 pool.
func (p *Pool) CertPool() *x509.CertPool {
	return p.certs
}

// ClientOptions selects the trust roots and the optional client identity.
type ClientOptions struct {
	// CAFile and CADir add private roots, e.g. a cooperative's own CA.
	CAFile string
	CADir  string

	// SkipSystemRoots trusts only CAFile and CADir.
	SkipSystemRoots bool

	// CertFile and KeyFile enable mutual TLS.
	CertFile string
	KeyFile  string

	ServerName string
}

// Enabled reports whether anything differs from the default TLS config.
func (o ClientOptions) Enabled() bool {
	return o.CAFile != "" || o.CADir != "" || o.SkipSystemRoots ||
		o.CertFile != "" || o.KeyFile != "" || o.ServerName != ""
}

// ClientConfig builds a client TLS config from opts. When a client key pair
// is configured the returned KeyPair serves it; the caller owns the
// KeyPair and may Watch it for rotation. KeyPair is nil otherwise.
func ClientConfig(opts ClientOptions, kpOpts ...KeyPairOption) (*tls.Config, *KeyPair, error) {
	pool := NewPool()
	if opts.SkipSystemRoots {
		pool = NewEmptyPool()
	}
	if opts.CAFile != "" {
		if err := pool.AddFile(opts.CAFile); err != nil {
			return nil, nil, err
		}
	}
	if opts.CADir != "" {
		if err := pool.AddDir(opts.CADir); err != nil {
			return nil, nil, err
		}
	}

	cfg := &tls.Config{
		RootCAs:    pool.CertPool(),
		ServerName: opts.ServerName,
		MinVersion: tls.VersionTLS12,
	}

	if (opts.CertFile == "") != (opts.KeyFile == "") {
		return nil, nil, ErrIncompleteKeyPair
	}
	if opts.CertFile == "" {
		return cfg, nil, nil
	}

	kp, err := LoadKeyPair(opts.CertFile, opts.KeyFile, kpOpts...)
	if err != nil {
		return nil, nil, err
	}
	cfg.GetClientCertificate = kp.GetClientCertificate
	return cfg, kp, nil
}
