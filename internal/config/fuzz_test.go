package config

import "testing"

func FuzzLoadFromBytes(f *testing.F) {
	// Seed corpus: valid configs
	f.Add([]byte(minimal))
	f.Add([]byte(minimal + `
server:
  port: 9090
rate_limit:
  overrides:
    - path_prefix: "/auth"
      requests_per_second: 5
      burst_size: 10
`))

	// Edge cases
	f.Add([]byte(``))
	f.Add([]byte(`backends: {}`))
	f.Add([]byte(`server: { port: 0 }`))
	f.Add([]byte(`cookie: { ttl_seconds: -5 }`))

	f.Fuzz(func(t *testing.T, data []byte) {
		// LoadFromBytes must never panic regardless of input.
		cfg, err := LoadFromBytes(data)
		if err != nil {
			return
		}
		// If parsing succeeded, verify invariants that validation should enforce.
		if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
			t.Errorf("invalid port escaped validation: %d", cfg.Server.Port)
		}
		if cfg.RateLimit.RequestsPerSecond <= 0 {
			t.Errorf("non-positive rps escaped validation: %f", cfg.RateLimit.RequestsPerSecond)
		}
		if cfg.Auth.AccessSecret == "" {
			t.Error("empty access secret escaped validation")
		}
		if cfg.Cookie.TTLSeconds < 0 {
			t.Errorf("negative cookie ttl escaped validation: %d", cfg.Cookie.TTLSeconds)
		}
	})
}
