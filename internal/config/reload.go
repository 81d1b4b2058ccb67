package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"slices"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const reloadDebounce = 300 * time.Millisecond

// Reloader keeps the active configuration and replaces it when the file
// changes or, on Unix, when the process receives SIGHUP. Only rate limits
// and the log level are applied live; other changes are reported as
// needing a restart.
type Reloader struct {
	mu        sync.RWMutex
	current   *Config
	path      string
	logger    *slog.Logger
	callbacks []func(*Config)

	watcher  *fsnotify.Watcher
	signals  chan os.Signal
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewReloader creates a Reloader for the file at path, starting from initial.
func NewReloader(path string, initial *Config, logger *slog.Logger) *Reloader {
	return &Reloader{
		current: initial,
		path:    path,
		logger:  logger,
		stop:    make(chan struct{}),
	}
}

// Current returns the active configuration.
func (r *Reloader) Current() *Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

// OnReload registers fn to run with every successfully loaded config.
func (r *Reloader) OnReload(fn func(*Config)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.callbacks = append(r.callbacks, fn)
}

// Start watches the config file's directory, so saves that replace the file
// and mounted ConfigMap symlink swaps are seen, and subscribes to SIGHUP.
func (r *Reloader) Start() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create config watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(r.path)); err != nil {
		w.Close()
		return fmt.Errorf("watch %s: %w", r.path, err)
	}
	r.watcher = w
	r.signals = reloadSignals()

	r.wg.Add(1)
	go r.loop()
	r.logger.Info("config hot reload enabled", "path", r.path)
	return nil
}

// Stop ends watching and waits for the watch loop to exit. It is safe to
// call more than once and without Start.
func (r *Reloader) Stop() {
	r.stopOnce.Do(func() {
		close(r.stop)
		if r.watcher != nil {
			r.watcher.Close()
		}
		r.wg.Wait()
		stopSignals(r.signals)
	})
}

// Reload reads and validates the file. An invalid file leaves the current
// config in place and callbacks are not run.
func (r *Reloader) Reload() error {
	next, err := Load(r.path)
	if err != nil {
		r.logger.Error("config reload failed, keeping current config", "path", r.path, "error", err)
		return err
	}

	r.mu.Lock()
	prev := r.current
	r.current = next
	callbacks := slices.Clone(r.callbacks)
	r.mu.Unlock()

	applied, restart := changes(prev, next)
	r.logger.Info("configuration reloaded", "applied", applied)
	if len(restart) > 0 {
		r.logger.Warn("config changes need a restart to take effect", "sections", restart)
	}

	for _, fn := range callbacks {
		fn(next)
	}
	return nil
}

func (r *Reloader) relevant(ev fsnotify.Event) bool {
	if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
		return false
	}
	name := filepath.Base(ev.Name)
	return name == filepath.Base(r.path) || name == "..data"
}

func (r *Reloader) loop() {
	defer r.wg.Done()

	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case ev, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			if !r.relevant(ev) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(reloadDebounce, func() { r.Reload() }) //nolint:errcheck
		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			r.logger.Error("config watcher error", "error", err)
		case <-r.signals:
			r.logger.Info("SIGHUP received")
			r.Reload() //nolint:errcheck
		case <-r.stop:
			return
		}
	}
}

// changes lists the top-level sections that differ between prev and next,
// split into those applied live and those that need a restart.
func changes(prev, next *Config) (applied, restart []string) {
	if !reflect.DeepEqual(prev.RateLimit, next.RateLimit) {
		applied = append(applied, "rate_limit")
	}
	if prev.Logging.SlogLevel() != next.Logging.SlogLevel() {
		applied = append(applied, "logging.level")
	}

	prevLog, nextLog := prev.Logging, next.Logging
	prevLog.Level, nextLog.Level = "", ""

	sections := []struct {
		name       string
		prev, next any
	}{
		{"env", prev.Env, next.Env},
		{"server", prev.Server, next.Server},
		{"metrics", prev.Metrics, next.Metrics},
		{"logging", prevLog, nextLog},
		{"backends", prev.Backends, next.Backends},
		{"broker", prev.Broker, next.Broker},
		{"cache", prev.Cache, next.Cache},
		{"cookie", prev.Cookie, next.Cookie},
		{"auth", prev.Auth, next.Auth},
		{"circuit_breaker", prev.CircuitBreaker, next.CircuitBreaker},
		{"inspect", prev.Inspect, next.Inspect},
	}
	for _, s := range sections {
		if !reflect.DeepEqual(s.prev, s.next) {
			restart = append(restart, s.name)
		}
	}
	return applied, restart
}
