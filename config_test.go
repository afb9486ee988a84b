package tokengate

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func validTestConfig() Config {
	cfg := DefaultConfig()
	cfg.JWT.Secret = "dGVzdC1zZWNyZXQtdGVzdC1zZWNyZXQtdGVzdC1zZWNyZXQ="
	return cfg
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantValid bool
	}{
		{name: "defaults with secret", mutate: func(*Config) {}, wantValid: true},
		{
			name:      "missing secret",
			mutate:    func(c *Config) { c.JWT.Secret = "" },
			wantValid: false,
		},
		{
			name:      "jwt leeway valid",
			mutate:    func(c *Config) { c.JWT.Leeway = 45 * time.Second },
			wantValid: true,
		},
		{
			name:      "jwt leeway invalid",
			mutate:    func(c *Config) { c.JWT.Leeway = 3 * time.Minute },
			wantValid: false,
		},
		{
			name:      "jwt signing invalid",
			mutate:    func(c *Config) { c.JWT.SigningMethod = "rs256" },
			wantValid: false,
		},
		{
			name:      "ed25519 without keys",
			mutate:    func(c *Config) { c.JWT.SigningMethod = "ed25519" },
			wantValid: false,
		},
		{
			name:      "refresh shorter than access",
			mutate:    func(c *Config) { c.Refresh.TTL = time.Minute },
			wantValid: false,
		},
		{
			name:      "rate limit zero window",
			mutate:    func(c *Config) { c.RateLimit.Window = 0 },
			wantValid: false,
		},
		{
			name: "rate limit zero window while disabled",
			mutate: func(c *Config) {
				c.RateLimit.Enabled = false
				c.RateLimit.Window = 0
			},
			wantValid: true,
		},
		{
			name:      "rate limit prefix collides with refresh",
			mutate:    func(c *Config) { c.RateLimit.Prefix = c.Refresh.Prefix },
			wantValid: false,
		},
		{
			name:      "same site strict",
			mutate:    func(c *Config) { c.Cookie.SameSite = "Strict" },
			wantValid: true,
		},
		{
			name:      "same site unknown",
			mutate:    func(c *Config) { c.Cookie.SameSite = "sometimes" },
			wantValid: false,
		},
		{
			name: "same site none without secure",
			mutate: func(c *Config) {
				c.Cookie.SameSite = "none"
				c.Cookie.Secure = false
			},
			wantValid: false,
		},
		{
			name:      "store timeout zero",
			mutate:    func(c *Config) { c.Store.OpTimeout = 0 },
			wantValid: false,
		},
		{
			name: "tooling without ttl",
			mutate: func(c *Config) {
				c.Tooling.Enabled = true
				c.Tooling.LongLivedTTL = 0
			},
			wantValid: false,
		},
		{
			name:      "log level invalid",
			mutate:    func(c *Config) { c.Log.Level = "loud" },
			wantValid: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validTestConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantValid && err != nil {
				t.Fatalf("expected valid config, got %v", err)
			}
			if !tt.wantValid {
				if err == nil {
					t.Fatal("expected invalid config")
				}
				if !errors.Is(err, ErrInvalidConfig) {
					t.Fatalf("expected ErrInvalidConfig, got %v", err)
				}
			}
		})
	}
}

func TestSignerConfigDecodesSecret(t *testing.T) {
	cfg := validTestConfig()
	sc, err := cfg.SignerConfig()
	if err != nil {
		t.Fatalf("signer config: %v", err)
	}
	if string(sc.PrivateKey) != "test-secret-test-secret-test-secret" {
		t.Fatalf("unexpected decoded secret %q", sc.PrivateKey)
	}

	cfg.JWT.Secret = "%%%"
	if _, err := cfg.SignerConfig(); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestLoadConfigFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokengate.yaml")
	data := []byte(`
jwt:
  secret: dGVzdC1zZWNyZXQtdGVzdC1zZWNyZXQtdGVzdC1zZWNyZXQ=
  access_ttl: 15m
refresh:
  ttl: 48h
rate_limit:
  read_limit: 10
  rules:
    read_patterns: ["/api/v1/items", "/api/v1/items/*"]
cookie:
  same_site: strict
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("TOKENGATE_RATE_LIMIT_WRITE_AUTH_LIMIT", "7")
	t.Setenv("TOKENGATE_SERVER_ADDR", ":9999")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.JWT.AccessTTL != 15*time.Minute || cfg.Refresh.TTL != 48*time.Hour {
		t.Fatalf("unexpected ttls: %v %v", cfg.JWT.AccessTTL, cfg.Refresh.TTL)
	}
	if cfg.RateLimit.ReadLimit != 10 || cfg.RateLimit.WriteAuthLimit != 7 {
		t.Fatalf("unexpected limits: %d %d", cfg.RateLimit.ReadLimit, cfg.RateLimit.WriteAuthLimit)
	}
	if len(cfg.RateLimit.Rules.ReadPatterns) != 2 {
		t.Fatalf("unexpected read patterns: %v", cfg.RateLimit.Rules.ReadPatterns)
	}
	if cfg.Cookie.SameSite != "strict" || cfg.Cookie.Name != "refreshToken" {
		t.Fatalf("unexpected cookie config: %+v", cfg.Cookie)
	}
	if cfg.Server.Addr != ":9999" {
		t.Fatalf("expected env override, got %q", cfg.Server.Addr)
	}
	if cfg.Store.OpTimeout != 500*time.Millisecond {
		t.Fatalf("expected default op timeout, got %v", cfg.Store.OpTimeout)
	}
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	t.Setenv("TOKENGATE_JWT_SECRET", "")
	if _, err := LoadConfig(""); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig without a secret, got %v", err)
	}
}
