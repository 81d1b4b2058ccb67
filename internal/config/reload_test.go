package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"
)

const baseConfig = `
auth:
  access_secret: "test-secret"
backends:
  menu: { addr: "menu:50051" }
  user: { addr: "user:50052" }
  media: { addr: "media:50053" }
broker:
  url: "nats://nats:4222"
`

const validConfig = baseConfig + `
logging:
  level: info
rate_limit:
  requests_per_second: 100
  burst_size: 50
`

const validConfigUpdated = baseConfig + `
logging:
  level: debug
rate_limit:
  requests_per_second: 200
  burst_size: 100
  overrides:
    - path_prefix: "/auth"
      requests_per_second: 5
      burst_size: 10
`

type reloadFixture struct {
	r    *Reloader
	path string
	logs *bytes.Buffer
}

func newReloadFixture(t *testing.T, content string) *reloadFixture {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	initial, err := Load(path)
	if err != nil {
		t.Fatalf("load initial config: %v", err)
	}
	var logs bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logs, nil))
	return &reloadFixture{r: NewReloader(path, initial, logger), path: path, logs: &logs}
}

func (f *reloadFixture) write(t *testing.T, content string) {
	t.Helper()
	if err := os.WriteFile(f.path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func TestReloader_Reload(t *testing.T) {
	f := newReloadFixture(t, validConfig)

	var got *Config
	f.r.OnReload(func(cfg *Config) { got = cfg })

	f.write(t, validConfigUpdated)
	if err := f.r.Reload(); err != nil {
		t.Fatalf("reload: %v", err)
	}

	if got == nil {
		t.Fatal("callback not called")
	}
	if got != f.r.Current() {
		t.Error("callback config differs from Current()")
	}
	if got.RateLimit.RequestsPerSecond != 200 || got.RateLimit.BurstSize != 100 {
		t.Errorf("rate limit = %+v, want 200/100", got.RateLimit)
	}
	if !strings.Contains(f.logs.String(), `"applied":["rate_limit","logging.level"]`) {
		t.Errorf("expected applied sections in log, got %s", f.logs.String())
	}
}

func TestReloader_Reload_InvalidKeepsCurrent(t *testing.T) {
	f := newReloadFixture(t, validConfig)

	called := false
	f.r.OnReload(func(*Config) { called = true })

	f.write(t, "server:\n  port: -1\n")
	if err := f.r.Reload(); err == nil {
		t.Fatal("expected reload error")
	}

	if called {
		t.Error("callback called for invalid config")
	}
	if rps := f.r.Current().RateLimit.RequestsPerSecond; rps != 100 {
		t.Errorf("rps = %v, want original 100", rps)
	}
	if !strings.Contains(f.logs.String(), "config reload failed") {
		t.Error("expected failure to be logged")
	}
}

func TestReloader_Reload_WarnsOnRestartOnlyChanges(t *testing.T) {
	f := newReloadFixture(t, validConfig)

	f.write(t, strings.Replace(validConfig, "menu:50051", "menu-v2:50051", 1))
	if err := f.r.Reload(); err != nil {
		t.Fatalf("reload: %v", err)
	}

	if !strings.Contains(f.logs.String(), `"sections":["backends"]`) {
		t.Errorf("expected restart warning for backends, got %s", f.logs.String())
	}
}

func TestReloader_WatchesReplacedFile(t *testing.T) {
	f := newReloadFixture(t, validConfig)

	done := make(chan *Config, 1)
	f.r.OnReload(func(cfg *Config) {
		select {
		case done <- cfg:
		default:
		}
	})
	if err := f.r.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer f.r.Stop()

	// Editors and secret mounts replace the file rather than write it.
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, []byte(validConfigUpdated), 0o644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		t.Fatalf("rename: %v", err)
	}

	select {
	case cfg := <-done:
		if cfg.RateLimit.RequestsPerSecond != 200 {
			t.Errorf("rps = %v, want 200", cfg.RateLimit.RequestsPerSecond)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("replaced config was not picked up")
	}
}

func TestReloader_IgnoresSiblingFiles(t *testing.T) {
	f := newReloadFixture(t, validConfig)

	called := make(chan struct{}, 1)
	f.r.OnReload(func(*Config) { called <- struct{}{} })
	if err := f.r.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer f.r.Stop()

	other := filepath.Join(filepath.Dir(f.path), "notes.txt")
	if err := os.WriteFile(other, []byte("x"), 0o644); err != nil {
		t.Fatalf("write sibling: %v", err)
	}

	select {
	case <-called:
		t.Fatal("reload triggered by unrelated file")
	case <-time.After(2 * reloadDebounce):
	}
}

func TestReloader_StopIsIdempotent(t *testing.T) {
	f := newReloadFixture(t, validConfig)
	f.r.Stop()
	f.r.Stop()

	g := newReloadFixture(t, validConfig)
	if err := g.r.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	g.r.Stop()
	g.r.Stop()
}

func TestChanges(t *testing.T) {
	base, err := LoadFromBytes([]byte(validConfig))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	tests := []struct {
		name        string
		mutate      func(*Config)
		wantApplied []string
		wantRestart []string
	}{
		{
			name:   "no change",
			mutate: func(*Config) {},
		},
		{
			name:        "burst only",
			mutate:      func(c *Config) { c.RateLimit.BurstSize = 1 },
			wantApplied: []string{"rate_limit"},
		},
		{
			name:        "log level",
			mutate:      func(c *Config) { c.Logging.Level = "error" },
			wantApplied: []string{"logging.level"},
		},
		{
			name:        "log output",
			mutate:      func(c *Config) { c.Logging.Output = "stderr" },
			wantRestart: []string{"logging"},
		},
		{
			name: "secret and cookie",
			mutate: func(c *Config) {
				c.Auth.AccessSecret = "rotated"
				c.Cookie.Domain = "example.com"
			},
			wantRestart: []string{"cookie", "auth"},
		},
		{
			name:        "tls files",
			mutate:      func(c *Config) { c.Server.TLS.CertFile = "/tls/cert.pem" },
			wantRestart: []string{"server"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next := *base
			tt.mutate(&next)
			applied, restart := changes(base, &next)
			if !slices.Equal(applied, tt.wantApplied) {
				t.Errorf("applied = %v, want %v", applied, tt.wantApplied)
			}
			if !slices.Equal(restart, tt.wantRestart) {
				t.Errorf("restart = %v, want %v", restart, tt.wantRestart)
			}
		})
	}
}
