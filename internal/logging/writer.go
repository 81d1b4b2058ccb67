// Package logging builds the gateway's structured logger and the output it
// writes to: stdout, stderr or a size-rotated log file.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dskow/api-gateway/internal/config"
)

const backupTimeFormat = "20060102-150405.000"

// Open returns the log destination named by cfg.Output. Closing the result
// is a no-op for stdout and stderr.
func Open(cfg config.LoggingConfig) (io.WriteCloser, error) {
	switch cfg.Output {
	case "", "stdout":
		return nopCloser{os.Stdout}, nil
	case "stderr":
		return nopCloser{os.Stderr}, nil
	default:
		return NewRotatingWriter(cfg.Output, cfg.MaxSizeMB, cfg.MaxBackups, cfg.MaxAgeDays)
	}
}

// New returns a JSON logger on w whose level follows level, tagged with the
// gateway's service name.
func New(w io.Writer, level *slog.LevelVar) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})).With("service", "api-gateway")
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

// RotatingWriter writes to a file and moves it aside once it would grow past
// a size limit. Moved files are named <base>-<timestamp><ext>; the newest
// maxBackups younger than maxAge are kept.
type RotatingWriter struct {
	mu       sync.Mutex
	path     string
	file     *os.File
	size     int64
	maxBytes int64

	maxBackups int
	maxAge     time.Duration
	now        func() time.Time
	pruning    sync.WaitGroup
}

// NewRotatingWriter opens path for appending, creating its directory.
func NewRotatingWriter(path string, maxSizeMB, maxBackups, maxAgeDays int) (*RotatingWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	w := &RotatingWriter{
		path:       path,
		maxBytes:   int64(maxSizeMB) << 20,
		maxBackups: maxBackups,
		maxAge:     time.Duration(maxAgeDays) * 24 * time.Hour,
		now:        time.Now,
	}
	if err := w.open(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *RotatingWriter) open() error {
	f, err := os.OpenFile(w.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("stat log file: %w", err)
	}
	w.file, w.size = f, info.Size()
	return nil
}

func (w *RotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.size > 0 && w.size+int64(len(p)) > w.maxBytes {
		if err := w.rotate(); err != nil {
			return 0, err
		}
	}
	n, err := w.file.Write(p)
	w.size += int64(n)
	return n, err
}

// Close waits for pending pruning and closes the file.
func (w *RotatingWriter) Close() error {
	w.pruning.Wait()
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}

func (w *RotatingWriter) split() (dir, base, ext string) {
	dir = filepath.Dir(w.path)
	ext = filepath.Ext(w.path)
	base = strings.TrimSuffix(filepath.Base(w.path), ext)
	if ext == "" {
		ext = ".log"
	}
	return dir, base, ext
}

func (w *RotatingWriter) backupName() string {
	dir, base, ext := w.split()
	return filepath.Join(dir, base+"-"+w.now().Format(backupTimeFormat)+ext)
}

func (w *RotatingWriter) rotate() error {
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("close log file: %w", err)
	}
	if err := os.Rename(w.path, w.backupName()); err != nil {
		return fmt.Errorf("rotate log file: %w", err)
	}
	if err := w.open(); err != nil {
		return err
	}
	now := w.now()
	w.pruning.Add(1)
	go func() {
		defer w.pruning.Done()
		w.prune(now)
	}()
	return nil
}

// backups returns the rotated files, oldest first.
func (w *RotatingWriter) backups() []string {
	dir, base, ext := w.split()
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	current := filepath.Base(w.path)
	var out []string
	for _, e := range entries {
		name := e.Name()
		if name != current && strings.HasPrefix(name, base+"-") && strings.HasSuffix(name, ext) {
			out = append(out, filepath.Join(dir, name))
		}
	}
	sort.Strings(out)
	return out
}

func (w *RotatingWriter) prune(now time.Time) {
	files := w.backups()
	if w.maxBackups > 0 && len(files) > w.maxBackups {
		for _, f := range files[:len(files)-w.maxBackups] {
			os.Remove(f) //nolint:errcheck
		}
		files = files[len(files)-w.maxBackups:]
	}
	if w.maxAge <= 0 {
		return
	}
	cutoff := now.Add(-w.maxAge)
	for _, f := range files {
		if info, err := os.Stat(f); err == nil && info.ModTime().Before(cutoff) {
			os.Remove(f) //nolint:errcheck
		}
	}
}
