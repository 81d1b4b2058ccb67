// Package config provides YAML configuration loading with validation,
// ${VAR} substitution and environment overrides for the API gateway.
package config

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"gopkg.in/yaml.v3"
)

// EnvProduction is the environment name that turns on Secure cookies.
const EnvProduction = "production"

// Config is the top-level gateway configuration.
type Config struct {
	Env            string               `yaml:"env" json:"env" env:"NODE_ENV"`
	Server         ServerConfig         `yaml:"server" json:"server"`
	Metrics        MetricsConfig        `yaml:"metrics" json:"metrics"`
	Logging        LoggingConfig        `yaml:"logging" json:"logging"`
	RateLimit      RateLimitConfig      `yaml:"rate_limit" json:"rate_limit"`
	Auth           AuthConfig           `yaml:"auth" json:"auth"`
	Cookie         CookieConfig         `yaml:"cookie" json:"cookie"`
	Backends       BackendsConfig       `yaml:"backends" json:"backends"`
	Broker         BrokerConfig         `yaml:"broker" json:"broker"`
	Cache          CacheConfig          `yaml:"cache" json:"cache"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker" json:"circuit_breaker"`
	Inspect        InspectConfig        `yaml:"inspect" json:"inspect"`

	// Warnings holds non-fatal config issues detected during loading.
	// Stored on the Config itself (not a package-level var) so it is
	// safe to call Load concurrently from the hot-reload goroutine.
	Warnings []string `yaml:"-" json:"-"`
}

// IsProduction reports whether the gateway runs in the production environment.
func (c *Config) IsProduction() bool {
	return c.Env == EnvProduction
}

// MetricsConfig holds Prometheus metrics endpoint settings.
// Enabled defaults to true; set to false to disable metrics.
type MetricsConfig struct {
	Enabled *bool  `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
}

// IsEnabled returns whether metrics are enabled (defaults to true).
func (m MetricsConfig) IsEnabled() bool {
	if m.Enabled == nil {
		return true
	}
	return *m.Enabled
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port" json:"port" env:"HTTP_PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout" json:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
	TrustedProxies  []string      `yaml:"trusted_proxies" json:"trusted_proxies"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes" json:"max_body_bytes"`
	GlobalTimeoutMs int           `yaml:"global_timeout_ms" json:"global_timeout_ms"`
	AllowedOrigins  []string      `yaml:"allowed_origins" json:"allowed_origins"`
	TLS             TLSConfig     `yaml:"tls" json:"tls"`
}

// TLSConfig enables HTTPS when both files are set. The pair is reloaded
// when either file changes on disk.
type TLSConfig struct {
	CertFile string `yaml:"cert_file" json:"cert_file" env:"TLS_CERT_FILE"`
	KeyFile  string `yaml:"key_file" json:"key_file" env:"TLS_KEY_FILE"`
	// MinVersion is "1.2" or "1.3"; default "1.2".
	MinVersion string `yaml:"min_version" json:"min_version"`
}

// MinTLSVersion returns MinVersion as a crypto/tls constant.
func (t TLSConfig) MinTLSVersion() uint16 {
	if t.MinVersion == "1.3" {
		return tls.VersionTLS13
	}
	return tls.VersionTLS12
}

// Enabled reports whether HTTPS is configured.
func (t TLSConfig) Enabled() bool { return t.CertFile != "" && t.KeyFile != "" }

// GlobalTimeout returns the global request deadline as a time.Duration.
// Returns 0 (disabled) when GlobalTimeoutMs is not set.
func (s ServerConfig) GlobalTimeout() time.Duration {
	if s.GlobalTimeoutMs <= 0 {
		return 0
	}
	return time.Duration(s.GlobalTimeoutMs) * time.Millisecond
}

// LoggingConfig holds log level, output and rotation settings.
type LoggingConfig struct {
	Level           string `yaml:"level" json:"level" env:"LOG_LEVEL"`            // "debug", "info", "warn", "error"; default: "info"
	Output          string `yaml:"output" json:"output"`                          // "stdout", "stderr", or file path; default: "stdout"
	MaxSizeMB       int    `yaml:"max_size_mb" json:"max_size_mb"`               // max log file size before rotation; default: 100
	MaxBackups      int    `yaml:"max_backups" json:"max_backups"`               // number of rotated files to keep; default: 3
	MaxAgeDays      int    `yaml:"max_age_days" json:"max_age_days"`             // max days to retain rotated files; default: 30
	BodyLogging     bool   `yaml:"body_logging" json:"body_logging"`             // log request/response bodies; default: false
	MaxBodyLogBytes int    `yaml:"max_body_log_bytes" json:"max_body_log_bytes"` // max bytes of body to log; default: 4096
}

// SlogLevel converts Level to a slog.Level.
func (l LoggingConfig) SlogLevel() slog.Level {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// RateLimitConfig holds the global rate limiter settings and per-prefix
// overrides.
type RateLimitConfig struct {
	RequestsPerSecond float64        `yaml:"requests_per_second" json:"requests_per_second"`
	BurstSize         int            `yaml:"burst_size" json:"burst_size"`
	Overrides         []RateOverride `yaml:"overrides" json:"overrides,omitempty"`
}

// RateOverride applies a dedicated limit to requests under PathPrefix.
type RateOverride struct {
	PathPrefix        string  `yaml:"path_prefix" json:"path_prefix"`
	RequestsPerSecond float64 `yaml:"requests_per_second" json:"requests_per_second"`
	BurstSize         int     `yaml:"burst_size" json:"burst_size"`
}

// AuthConfig holds access-token validation settings.
type AuthConfig struct {
	AccessSecret string `yaml:"access_secret" json:"-" env:"JWT_ACCESS_SECRET"`
}

// CookieConfig holds refresh-token cookie settings.
type CookieConfig struct {
	Name       string `yaml:"name" json:"name"`
	Domain     string `yaml:"domain" json:"domain" env:"COOKIE_DOMAIN"`
	TTLSeconds int    `yaml:"ttl_seconds" json:"ttl_seconds" env:"COOKIE_TTL"`
}

// TTL returns the cookie lifetime.
func (c CookieConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// BackendsConfig holds the gRPC addresses of the backend services.
type BackendsConfig struct {
	Menu  BackendConfig `yaml:"menu" json:"menu" env-prefix:"MENU_"`
	User  BackendConfig `yaml:"user" json:"user" env-prefix:"USER_"`
	Media BackendConfig `yaml:"media" json:"media" env-prefix:"MEDIA_"`
}

// BackendConfig describes one gRPC backend.
type BackendConfig struct {
	Addr      string `yaml:"addr" json:"addr" env:"MICROSERVICE_GRPC_URL"`
	TimeoutMs int    `yaml:"timeout_ms" json:"timeout_ms"`
}

// Timeout returns the per-call timeout as a time.Duration.
func (b BackendConfig) Timeout() time.Duration {
	if b.TimeoutMs <= 0 {
		return 10 * time.Second
	}
	return time.Duration(b.TimeoutMs) * time.Millisecond
}

// BrokerConfig holds NATS settings for the notification service.
type BrokerConfig struct {
	URL             string `yaml:"url" json:"url" env:"NATS_URL"`
	HealthSubject   string `yaml:"health_subject" json:"health_subject"`
	HealthTimeoutMs int    `yaml:"health_timeout_ms" json:"health_timeout_ms"`
}

// HealthTimeout returns the notification probe timeout.
func (b BrokerConfig) HealthTimeout() time.Duration {
	return time.Duration(b.HealthTimeoutMs) * time.Millisecond
}

// CacheConfig holds response cache settings. An empty RedisAddr selects the
// in-process cache.
type CacheConfig struct {
	RedisAddr     string        `yaml:"redis_addr" json:"redis_addr" env:"REDIS_ADDR"`
	RedisPassword string        `yaml:"redis_password" json:"-" env:"REDIS_PASSWORD"`
	RedisDB       int           `yaml:"redis_db" json:"redis_db"`
	FullMenuTTL   time.Duration `yaml:"full_menu_ttl" json:"full_menu_ttl"`
}

// CircuitBreakerConfig holds circuit breaker settings applied to every backend.
type CircuitBreakerConfig struct {
	WindowSize       int           `yaml:"window_size" json:"window_size"`
	FailureThreshold float64       `yaml:"failure_threshold" json:"failure_threshold"`
	ResetTimeout     time.Duration `yaml:"reset_timeout" json:"reset_timeout"`
	HalfOpenMax      int           `yaml:"half_open_max" json:"half_open_max"`
}

// InspectConfig holds the operator inspection endpoints under /internal.
type InspectConfig struct {
	Enabled     bool     `yaml:"enabled" json:"enabled"`           // default: false
	IPAllowlist []string `yaml:"ip_allowlist" json:"ip_allowlist"` // CIDR notation
}

var envVarRe = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns in s with the corresponding
// environment variable value.
func expandEnvVars(s string) string {
	return envVarRe.ReplaceAllStringFunc(s, func(match string) string {
		key := match[2 : len(match)-1]
		if val, ok := os.LookupEnv(key); ok {
			return val
		}
		return match
	})
}

// Load reads a YAML configuration file, applies ${VAR} substitution and
// environment overrides, sets defaults, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	cfg, err := parse(data)
	if err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

// LoadFromBytes parses configuration from raw YAML bytes. Useful for testing.
func LoadFromBytes(data []byte) (*Config, error) {
	return parse(data)
}

func parse(data []byte) (*Config, error) {
	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	// Variables named in env tags override the file.
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("reading environment: %w", err)
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	cfg.Warnings = collectWarnings(&cfg)

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Env == "" {
		cfg.Env = "development"
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}

	// Logging defaults
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}
	if cfg.Logging.MaxSizeMB == 0 {
		cfg.Logging.MaxSizeMB = 100
	}
	if cfg.Logging.MaxBackups == 0 {
		cfg.Logging.MaxBackups = 3
	}
	if cfg.Logging.MaxAgeDays == 0 {
		cfg.Logging.MaxAgeDays = 30
	}
	if cfg.Logging.MaxBodyLogBytes == 0 {
		cfg.Logging.MaxBodyLogBytes = 4096
	}

	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 15 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 15 * time.Second
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}
	if cfg.Server.MaxBodyBytes == 0 {
		cfg.Server.MaxBodyBytes = 2 << 20 // 2 MB leaves room for a 1 MB avatar plus multipart framing
	}
	if len(cfg.Server.AllowedOrigins) == 0 {
		cfg.Server.AllowedOrigins = []string{"*"}
	}
	if cfg.RateLimit.RequestsPerSecond == 0 {
		cfg.RateLimit.RequestsPerSecond = 100
	}
	if cfg.RateLimit.BurstSize == 0 {
		cfg.RateLimit.BurstSize = 50
	}

	if cfg.Cookie.Name == "" {
		cfg.Cookie.Name = "refresh_token"
	}
	if cfg.Cookie.TTLSeconds == 0 {
		cfg.Cookie.TTLSeconds = 7 * 24 * 60 * 60
	}

	for _, b := range []*BackendConfig{&cfg.Backends.Menu, &cfg.Backends.User, &cfg.Backends.Media} {
		if b.TimeoutMs == 0 {
			b.TimeoutMs = 10000
		}
	}

	if cfg.Broker.HealthSubject == "" {
		cfg.Broker.HealthSubject = "health.check"
	}
	if cfg.Broker.HealthTimeoutMs == 0 {
		cfg.Broker.HealthTimeoutMs = 3000
	}

	if cfg.Cache.FullMenuTTL == 0 {
		cfg.Cache.FullMenuTTL = 60 * time.Second
	}

	// Circuit breaker defaults
	cb := &cfg.CircuitBreaker
	if cb.WindowSize == 0 {
		cb.WindowSize = 10
	}
	if cb.FailureThreshold == 0 {
		cb.FailureThreshold = 0.5
	}
	if cb.ResetTimeout == 0 {
		cb.ResetTimeout = 30 * time.Second
	}
	if cb.HalfOpenMax == 0 {
		cb.HalfOpenMax = 2
	}
}

func validate(cfg *Config) error {
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", cfg.Server.Port)
	}
	if cfg.Server.MaxBodyBytes < 0 {
		return fmt.Errorf("server.max_body_bytes must be positive")
	}
	if cfg.Server.GlobalTimeoutMs < 0 {
		return fmt.Errorf("server.global_timeout_ms must be non-negative")
	}
	for i, cidr := range cfg.Server.TrustedProxies {
		if _, _, err := net.ParseCIDR(cidr); err != nil {
			return fmt.Errorf("server.trusted_proxies[%d]: invalid CIDR %q: %w", i, cidr, err)
		}
	}
	if (cfg.Server.TLS.CertFile == "") != (cfg.Server.TLS.KeyFile == "") {
		return fmt.Errorf("server.tls.cert_file and server.tls.key_file must be set together")
	}
	if v := cfg.Server.TLS.MinVersion; v != "" && v != "1.2" && v != "1.3" {
		return fmt.Errorf("server.tls.min_version must be \"1.2\" or \"1.3\", got %q", v)
	}

	if cfg.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("rate_limit.requests_per_second must be positive")
	}
	if cfg.RateLimit.BurstSize <= 0 {
		return fmt.Errorf("rate_limit.burst_size must be positive")
	}
	seen := make(map[string]bool)
	for i, o := range cfg.RateLimit.Overrides {
		if !strings.HasPrefix(o.PathPrefix, "/") {
			return fmt.Errorf("rate_limit.overrides[%d].path_prefix must start with /", i)
		}
		if o.RequestsPerSecond <= 0 || o.BurstSize <= 0 {
			return fmt.Errorf("rate_limit.overrides[%d]: requests_per_second and burst_size must be positive", i)
		}
		if seen[o.PathPrefix] {
			return fmt.Errorf("duplicate rate_limit override path_prefix: %s", o.PathPrefix)
		}
		seen[o.PathPrefix] = true
	}

	if cfg.Auth.AccessSecret == "" {
		return fmt.Errorf("auth.access_secret is required")
	}
	if cfg.Cookie.TTLSeconds < 0 {
		return fmt.Errorf("cookie.ttl_seconds must be positive")
	}

	backends := map[string]BackendConfig{
		"menu":  cfg.Backends.Menu,
		"user":  cfg.Backends.User,
		"media": cfg.Backends.Media,
	}
	for name, b := range backends {
		if b.Addr == "" {
			return fmt.Errorf("backends.%s.addr is required", name)
		}
		if b.TimeoutMs < 0 {
			return fmt.Errorf("backends.%s.timeout_ms must be non-negative", name)
		}
	}

	if cfg.Broker.URL == "" {
		return fmt.Errorf("broker.url is required")
	}
	if cfg.Broker.HealthTimeoutMs < 0 {
		return fmt.Errorf("broker.health_timeout_ms must be non-negative")
	}
	if cfg.Cache.FullMenuTTL < 0 {
		return fmt.Errorf("cache.full_menu_ttl must be non-negative")
	}

	// Circuit breaker validation
	cb := cfg.CircuitBreaker
	if cb.WindowSize < 1 {
		return fmt.Errorf("circuit_breaker.window_size must be positive")
	}
	if cb.FailureThreshold <= 0 || cb.FailureThreshold > 1 {
		return fmt.Errorf("circuit_breaker.failure_threshold must be between 0 (exclusive) and 1 (inclusive)")
	}
	if cb.ResetTimeout <= 0 {
		return fmt.Errorf("circuit_breaker.reset_timeout must be positive")
	}
	if cb.HalfOpenMax < 1 {
		return fmt.Errorf("circuit_breaker.half_open_max must be positive")
	}

	if cfg.Inspect.Enabled {
		if len(cfg.Inspect.IPAllowlist) == 0 {
			return fmt.Errorf("inspect.ip_allowlist is required when inspect is enabled")
		}
		for i, cidr := range cfg.Inspect.IPAllowlist {
			if _, _, err := net.ParseCIDR(cidr); err != nil {
				return fmt.Errorf("inspect.ip_allowlist[%d]: invalid CIDR %q: %w", i, cidr, err)
			}
		}
	}

	// Logging validation
	if cfg.Logging.Output != "stdout" && cfg.Logging.Output != "stderr" {
		if cfg.Logging.MaxSizeMB < 1 {
			return fmt.Errorf("logging.max_size_mb must be positive when output is a file path")
		}
	}
	if cfg.Logging.BodyLogging && cfg.Logging.MaxBodyLogBytes < 1 {
		return fmt.Errorf("logging.max_body_log_bytes must be positive when body_logging is enabled")
	}

	return nil
}

func collectWarnings(cfg *Config) []string {
	var warnings []string
	if strings.Contains(cfg.Auth.AccessSecret, "${") {
		warnings = append(warnings, "auth.access_secret contains unresolved environment variable")
	}
	if cfg.IsProduction() && cfg.Cookie.Domain == "" {
		warnings = append(warnings, "cookie.domain is empty in production; refresh cookie will be host-only")
	}
	if cfg.Cache.RedisAddr == "" {
		warnings = append(warnings, "cache.redis_addr is empty; using in-process cache")
	}
	return warnings
}
