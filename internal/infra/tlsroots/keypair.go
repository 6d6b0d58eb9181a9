package tlsroots

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// KeyPair holds the client certificate presented to the remote API.
type KeyPair struct {
	certFile string
	keyFile  string
	logger   *slog.Logger
	settle   time.Duration

	mu   sync.RWMutex
	cert *tls.Certificate
}

// KeyPairOption configures a KeyPair.
type KeyPairOption func(*KeyPair)

// WithLogger sets the logger used for reload events.
func WithLogger(logger *slog.Logger) KeyPairOption {
	return func(k *KeyPair) {
		k.logger = logger
	}
}

// WithSettleDelay sets how long Watch waits after a file event before
// reloading, so that a cert and key written back to back load together.
func WithSettleDelay(d time.Duration) KeyPairOption {
	return func(k *KeyPair) {
		k.settle = d
	}
}

// LoadKeyPair reads certFile and keyFile.
func LoadKeyPair(certFile, keyFile string, opts ...KeyPairOption) (*KeyPair, error) {
	k := &KeyPair{
		certFile: certFile,
		keyFile:  keyFile,
		logger:   slog.Default(),
		settle:   200 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(k)
	}
	if err := k.Reload(); err != nil {
		return nil, err
	}
	return k, nil
}

// GetClientCertificate implements tls.Config.GetClientCertificate.
func (k *KeyPair) GetClientCertificate(*tls.CertificateRequestInfo) (*tls.Certificate, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.cert, nil
}

// Reload re-reads the key pair. On failure the previous pair stays active.
func (k *KeyPair) Reload() error {
	cert, err := tls.LoadX509KeyPair(k.certFile, k.keyFile)
	if err != nil {
		return fmt.Errorf("tlsroots: load key pair: %w", err)
	}
	k.mu.Lock()
	k.cert = &cert
	k.mu.Unlock()
	return nil
}

// Watch reloads the key pair whenever either file is written or replaced.
// It blocks until ctx is done.
func (k *KeyPair) Watch(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("tlsroots: create watcher: %w", err)
	}
	defer fw.Close()

	// Directories, not files: editors and cert managers replace by rename.
	dirs := map[string]struct{}{
		filepath.Dir(k.certFile): {},
		filepath.Dir(k.keyFile):  {},
	}
	for dir := range dirs {
		if err := fw.Add(dir); err != nil {
			return fmt.Errorf("tlsroots: watch %s: %w", dir, err)
		}
	}

	names := map[string]struct{}{
		filepath.Base(k.certFile): {},
		filepath.Base(k.keyFile):  {},
	}

	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if _, ours := names[filepath.Base(event.Name)]; !ours {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if pending == nil {
				pending = time.After(k.settle)
			}

		case <-pending:
			pending = nil
			if err := k.Reload(); err != nil {
				k.logger.Error("client certificate reload failed", "cert_file", k.certFile, "error", err)
				continue
			}
			k.logger.Info("client certificate reloaded", "cert_file", k.certFile)

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			k.logger.Warn("client certificate watcher error", "error", err)
		}
	}
}
