// Package tlsutil serves the gateway's HTTPS listener certificate and
// reloads it when the key pair on disk is rotated.
package tlsutil

import (
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const reloadDebounce = 300 * time.Millisecond

// KeyPair holds the current certificate for a cert/key file pair. It watches
// the files' directories so atomic swaps (rename or symlink flips, as done
// by mounted secrets) are picked up as well as in-place writes.
type KeyPair struct {
	mu       sync.RWMutex
	cert     *tls.Certificate
	certFile string
	keyFile  string
	logger   *slog.Logger

	watcher  *fsnotify.Watcher
	done     chan struct{}
	stopOnce sync.Once
	loopDone sync.WaitGroup
	onReload func()
}

// Load reads the key pair and starts watching it. The initial load must
// succeed; later failed reloads keep the previous certificate.
func Load(certFile, keyFile string, logger *slog.Logger) (*KeyPair, error) {
	return load(certFile, keyFile, logger, nil)
}

func load(certFile, keyFile string, logger *slog.Logger, onReload func()) (*KeyPair, error) {
	kp := &KeyPair{
		certFile: certFile,
		keyFile:  keyFile,
		logger:   logger,
		done:     make(chan struct{}),
		onReload: onReload,
	}
	if err := kp.read(); err != nil {
		return nil, fmt.Errorf("load key pair: %w", err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	dirs := map[string]struct{}{filepath.Dir(certFile): {}, filepath.Dir(keyFile): {}}
	for dir := range dirs {
		if err := w.Add(dir); err != nil {
			w.Close()
			return nil, fmt.Errorf("watch %s: %w", dir, err)
		}
	}
	kp.watcher = w
	kp.loopDone.Add(1)
	go kp.watch()

	logger.Info("TLS key pair loaded", "cert_file", certFile, "key_file", keyFile)
	return kp, nil
}

// ServerConfig returns a TLS 1.2+ server config that always presents the
// current certificate.
func (kp *KeyPair) ServerConfig() *tls.Config {
	return &tls.Config{
		MinVersion:     tls.VersionTLS12,
		GetCertificate: kp.GetCertificate,
	}
}

// GetCertificate implements tls.Config.GetCertificate.
func (kp *KeyPair) GetCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	kp.mu.RLock()
	defer kp.mu.RUnlock()
	return kp.cert, nil
}

// Reload rereads the key pair from disk.
func (kp *KeyPair) Reload() error {
	if err := kp.read(); err != nil {
		kp.logger.Error("TLS key pair reload failed, keeping current", "error", err, "cert_file", kp.certFile)
		return err
	}
	kp.logger.Info("TLS key pair reloaded", "cert_file", kp.certFile)
	if kp.onReload != nil {
		kp.onReload()
	}
	return nil
}

// Close stops watching. Safe to call more than once.
func (kp *KeyPair) Close() error {
	var err error
	kp.stopOnce.Do(func() {
		close(kp.done)
		err = kp.watcher.Close()
		kp.loopDone.Wait()
	})
	return err
}

func (kp *KeyPair) read() error {
	cert, err := tls.LoadX509KeyPair(kp.certFile, kp.keyFile)
	if err != nil {
		return err
	}
	kp.mu.Lock()
	kp.cert = &cert
	kp.mu.Unlock()
	return nil
}

// relevant reports whether an event touches the cert or key file. Events on
// any other entry of a watched directory are ignored, except the "..data"
// symlink flip used by mounted secrets.
func (kp *KeyPair) relevant(ev fsnotify.Event) bool {
	if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
		return false
	}
	name := filepath.Clean(ev.Name)
	return name == filepath.Clean(kp.certFile) ||
		name == filepath.Clean(kp.keyFile) ||
		filepath.Base(name) == "..data"
}

func (kp *KeyPair) watch() {
	defer kp.loopDone.Done()

	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case ev, ok := <-kp.watcher.Events:
			if !ok {
				return
			}
			if !kp.relevant(ev) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(reloadDebounce, func() { kp.Reload() }) //nolint:errcheck
		case err, ok := <-kp.watcher.Errors:
			if !ok {
				return
			}
			if !errors.Is(err, fsnotify.ErrEventOverflow) {
				kp.logger.Error("TLS watcher error", "error", err)
			}
		case <-kp.done:
			return
		}
	}
}
