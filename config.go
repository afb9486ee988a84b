package tokengate

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/MrEthical07/tokengate/jwt"
	"github.com/MrEthical07/tokengate/logging"
	"github.com/MrEthical07/tokengate/ratelimit"
	"github.com/MrEthical07/tokengate/refresh"
	"github.com/spf13/viper"
)

// Config is the full service configuration. Use [DefaultConfig] as a base and
// [LoadConfig] to read it from a file and the environment.
type Config struct {
	JWT       JWTConfig       `mapstructure:"jwt"`
	Refresh   RefreshConfig   `mapstructure:"refresh"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Cookie    CookieConfig    `mapstructure:"cookie"`
	Store     StoreConfig     `mapstructure:"store"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Audit     AuditConfig     `mapstructure:"audit"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Tooling   ToolingConfig   `mapstructure:"tooling"`
	Log       logging.Config  `mapstructure:"log"`
	Server    ServerConfig    `mapstructure:"server"`
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig configures token signing.
type JWTConfig struct {
	SigningMethod string `mapstructure:"signing_method"` // "hs256" (default) or "ed25519"
	// Secret is the base64-encoded HS256 key.
	Secret string `mapstructure:"secret"`
	// PrivateKey and PublicKey are PEM-encoded Ed25519 keys.
	PrivateKey string        `mapstructure:"private_key"`
	PublicKey  string        `mapstructure:"public_key"`
	KeyID      string        `mapstructure:"key_id"`
	Issuer     string        `mapstructure:"issuer"`
	Audience   string        `mapstructure:"audience"`
	// Leeway tolerates clock skew on iat only; exp is always exact.
	Leeway     time.Duration `mapstructure:"leeway"`
	AccessTTL  time.Duration `mapstructure:"access_ttl"`
}

/*
====================================
REFRESH CONFIG
====================================
*/

// RefreshConfig configures refresh token lifetime and Redis key layout.
type RefreshConfig struct {
	TTL        time.Duration `mapstructure:"ttl"`
	Prefix     string        `mapstructure:"prefix"`
	UserPrefix string        `mapstructure:"user_prefix"`
}

/*
====================================
RATE LIMIT CONFIG
====================================
*/

// RateLimitConfig configures admission control.
type RateLimitConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Prefix         string        `mapstructure:"prefix"`
	Window         time.Duration `mapstructure:"window"`
	ReadLimit      int64         `mapstructure:"read_limit"`
	WriteAuthLimit int64         `mapstructure:"write_auth_limit"`
	// TrustForwardedHeaders keys by X-Forwarded-For / X-Real-IP. Enable only
	// behind a proxy that sets them.
	TrustForwardedHeaders bool            `mapstructure:"trust_forwarded_headers"`
	Rules                 ratelimit.Rules `mapstructure:"rules"`
}

// LimiterConfig converts the tier thresholds for [ratelimit.NewLimiter].
func (c RateLimitConfig) LimiterConfig() ratelimit.LimiterConfig {
	return ratelimit.LimiterConfig{
		Read:      ratelimit.TierLimit{Limit: c.ReadLimit, Window: c.Window},
		WriteAuth: ratelimit.TierLimit{Limit: c.WriteAuthLimit, Window: c.Window},
	}
}

/*
====================================
COOKIE CONFIG
====================================
*/

// CookieConfig controls the refresh token cookie.
type CookieConfig struct {
	Name     string `mapstructure:"name"`
	Domain   string `mapstructure:"domain"`
	Secure   bool   `mapstructure:"secure"`
	SameSite string `mapstructure:"same_site"` // lax | strict | none
	// MaxAge defaults to the refresh TTL when zero.
	MaxAge time.Duration `mapstructure:"max_age"`
}

/*
====================================
STORE / REDIS CONFIG
====================================
*/

// StoreConfig bounds every Redis round trip.
type StoreConfig struct {
	OpTimeout time.Duration `mapstructure:"op_timeout"`
}

// RedisConfig describes the Redis connection used by cmd/tokengate.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

/*
====================================
AUDIT / METRICS CONFIG
====================================
*/

// AuditConfig controls the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool `mapstructure:"enabled"`
	BufferSize int  `mapstructure:"buffer_size"`
	DropIfFull bool `mapstructure:"drop_if_full"`
}

// MetricsConfig toggles in-process counters.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

/*
====================================
TOOLING / SERVER CONFIG
====================================
*/

// ToolingConfig controls operator-only token issuance.
type ToolingConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	LongLivedTTL time.Duration `mapstructure:"long_lived_ttl"`
}

// ServerConfig configures the HTTP listener of cmd/tokengate.
type ServerConfig struct {
	Addr              string        `mapstructure:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns a config with every default filled in. JWT keys are
// left empty and must be supplied.
func DefaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			SigningMethod: "hs256",
			AccessTTL:     30 * time.Minute,
			Leeway:        0,
		},
		Refresh: RefreshConfig{
			TTL:        7 * 24 * time.Hour,
			Prefix:     "rt",
			UserPrefix: "rtu:",
		},
		RateLimit: RateLimitConfig{
			Enabled:        true,
			Prefix:         "rl",
			Window:         time.Minute,
			ReadLimit:      180,
			WriteAuthLimit: 60,
			Rules:          ratelimit.DefaultRules(),
		},
		Cookie: CookieConfig{
			Name:     "refreshToken",
			Secure:   true,
			SameSite: "lax",
		},
		Store: StoreConfig{
			OpTimeout: 500 * time.Millisecond,
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
		Tooling: ToolingConfig{
			Enabled:      false,
			LongLivedTTL: 10 * 365 * 24 * time.Hour,
		},
		Log: logging.DefaultConfig(),
		Server: ServerConfig{
			Addr:              ":8080",
			ReadHeaderTimeout: 5 * time.Second,
			ShutdownTimeout:   10 * time.Second,
		},
	}
}

/*
====================================
VALIDATION
====================================
*/

// Validate checks cross-field constraints. Every failure wraps [ErrInvalidConfig].
func (c *Config) Validate() error {
	if err := c.validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

func (c *Config) validate() error {
	// JWT
	if c.JWT.AccessTTL <= 0 {
		return errors.New("JWT AccessTTL must be > 0")
	}
	switch c.JWT.SigningMethod {
	case "hs256":
		if c.JWT.Secret == "" {
			return errors.New("hs256 requires Secret")
		}
	case "ed25519":
		if c.JWT.PrivateKey == "" || c.JWT.PublicKey == "" {
			return errors.New("ed25519 requires PrivateKey and PublicKey")
		}
	default:
		return errors.New("unsupported JWT signing method")
	}
	if c.JWT.Leeway < 0 || c.JWT.Leeway > 2*time.Minute {
		return errors.New("JWT Leeway must be between 0 and 2m")
	}

	// Refresh
	if c.Refresh.TTL <= 0 {
		return errors.New("Refresh TTL must be > 0")
	}
	if c.Refresh.TTL <= c.JWT.AccessTTL {
		return errors.New("Refresh TTL must be longer than JWT AccessTTL")
	}
	if c.Refresh.Prefix == "" || c.Refresh.UserPrefix == "" {
		return errors.New("Refresh Prefix and UserPrefix must be set")
	}

	// Rate limit
	if c.RateLimit.Enabled {
		if c.RateLimit.Window <= 0 {
			return errors.New("RateLimit Window must be > 0")
		}
		if c.RateLimit.ReadLimit <= 0 || c.RateLimit.WriteAuthLimit <= 0 {
			return errors.New("RateLimit limits must be > 0")
		}
		if c.RateLimit.Prefix == "" {
			return errors.New("RateLimit Prefix must be set")
		}
		if c.RateLimit.Prefix == c.Refresh.Prefix {
			return errors.New("RateLimit Prefix must differ from Refresh Prefix")
		}
	}

	// Cookie
	if c.Cookie.Name == "" {
		return errors.New("Cookie Name must be set")
	}
	if _, err := parseSameSite(c.Cookie.SameSite); err != nil {
		return err
	}
	if strings.EqualFold(c.Cookie.SameSite, "none") && !c.Cookie.Secure {
		return errors.New("Cookie SameSite=none requires Secure")
	}
	if c.Cookie.MaxAge < 0 {
		return errors.New("Cookie MaxAge must be >= 0")
	}

	// Store
	if c.Store.OpTimeout <= 0 {
		return errors.New("Store OpTimeout must be > 0")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0")
	}

	// Tooling
	if c.Tooling.Enabled && c.Tooling.LongLivedTTL <= 0 {
		return errors.New("Tooling LongLivedTTL must be > 0")
	}

	return c.Log.Validate()
}

func parseSameSite(v string) (http.SameSite, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "lax":
		return http.SameSiteLaxMode, nil
	case "strict":
		return http.SameSiteStrictMode, nil
	case "none":
		return http.SameSiteNoneMode, nil
	default:
		return 0, fmt.Errorf("unsupported Cookie SameSite %q", v)
	}
}

// SignerConfig converts the JWT section for [jwt.NewSigner].
func (c *Config) SignerConfig() (jwt.Config, error) {
	cfg := jwt.Config{
		SigningMethod: jwt.SigningMethod(c.JWT.SigningMethod),
		Issuer:        c.JWT.Issuer,
		Audience:      c.JWT.Audience,
		Leeway:        c.JWT.Leeway,
		KeyID:         c.JWT.KeyID,
	}
	switch cfg.SigningMethod {
	case jwt.MethodHS256:
		secret, err := jwt.DecodeSecret(c.JWT.Secret)
		if err != nil {
			return jwt.Config{}, fmt.Errorf("%w: JWT Secret: %v", ErrInvalidConfig, err)
		}
		cfg.PrivateKey = secret
	default:
		cfg.PrivateKey = []byte(c.JWT.PrivateKey)
		cfg.PublicKey = []byte(c.JWT.PublicKey)
	}
	return cfg, nil
}

// RefreshStoreConfig converts the refresh section for [refresh.NewStore].
func (c *Config) RefreshStoreConfig() refresh.Config {
	return refresh.Config{
		Prefix:     c.Refresh.Prefix,
		UserPrefix: c.Refresh.UserPrefix,
		OpTimeout:  c.Store.OpTimeout,
	}
}

/*
====================================
LOADING
====================================
*/

// LoadConfig reads path (YAML, JSON or TOML) over [DefaultConfig] and applies
// TOKENGATE_* environment overrides, e.g. TOKENGATE_JWT_SECRET. An empty path
// reads the environment only.
func LoadConfig(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("TOKENGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v, DefaultConfig())

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// setDefaults registers every leaf key so AutomaticEnv can override keys
// absent from the file.
func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("jwt.signing_method", d.JWT.SigningMethod)
	v.SetDefault("jwt.secret", d.JWT.Secret)
	v.SetDefault("jwt.private_key", d.JWT.PrivateKey)
	v.SetDefault("jwt.public_key", d.JWT.PublicKey)
	v.SetDefault("jwt.key_id", d.JWT.KeyID)
	v.SetDefault("jwt.issuer", d.JWT.Issuer)
	v.SetDefault("jwt.audience", d.JWT.Audience)
	v.SetDefault("jwt.leeway", d.JWT.Leeway)
	v.SetDefault("jwt.access_ttl", d.JWT.AccessTTL)

	v.SetDefault("refresh.ttl", d.Refresh.TTL)
	v.SetDefault("refresh.prefix", d.Refresh.Prefix)
	v.SetDefault("refresh.user_prefix", d.Refresh.UserPrefix)

	v.SetDefault("rate_limit.enabled", d.RateLimit.Enabled)
	v.SetDefault("rate_limit.prefix", d.RateLimit.Prefix)
	v.SetDefault("rate_limit.window", d.RateLimit.Window)
	v.SetDefault("rate_limit.read_limit", d.RateLimit.ReadLimit)
	v.SetDefault("rate_limit.write_auth_limit", d.RateLimit.WriteAuthLimit)
	v.SetDefault("rate_limit.trust_forwarded_headers", d.RateLimit.TrustForwardedHeaders)
	v.SetDefault("rate_limit.rules.read_patterns", d.RateLimit.Rules.ReadPatterns)
	v.SetDefault("rate_limit.rules.write_auth_patterns", d.RateLimit.Rules.WriteAuthPatterns)
	v.SetDefault("rate_limit.rules.high_latency_reads", d.RateLimit.Rules.HighLatencyReads)

	v.SetDefault("cookie.name", d.Cookie.Name)
	v.SetDefault("cookie.domain", d.Cookie.Domain)
	v.SetDefault("cookie.secure", d.Cookie.Secure)
	v.SetDefault("cookie.same_site", d.Cookie.SameSite)
	v.SetDefault("cookie.max_age", d.Cookie.MaxAge)

	v.SetDefault("store.op_timeout", d.Store.OpTimeout)

	v.SetDefault("redis.addr", d.Redis.Addr)
	v.SetDefault("redis.password", d.Redis.Password)
	v.SetDefault("redis.db", d.Redis.DB)

	v.SetDefault("audit.enabled", d.Audit.Enabled)
	v.SetDefault("audit.buffer_size", d.Audit.BufferSize)
	v.SetDefault("audit.drop_if_full", d.Audit.DropIfFull)

	v.SetDefault("metrics.enabled", d.Metrics.Enabled)

	v.SetDefault("tooling.enabled", d.Tooling.Enabled)
	v.SetDefault("tooling.long_lived_ttl", d.Tooling.LongLivedTTL)

	v.SetDefault("log.service", d.Log.Service)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.encoding", d.Log.Encoding)
	v.SetDefault("log.stdout", d.Log.Stdout)
	v.SetDefault("log.file.path", d.Log.File.Path)
	v.SetDefault("log.file.max_size", d.Log.File.MaxSizeMB)
	v.SetDefault("log.file.max_backups", d.Log.File.MaxBackups)
	v.SetDefault("log.file.max_age", d.Log.File.MaxAgeDays)
	v.SetDefault("log.file.compress", d.Log.File.Compress)
	v.SetDefault("log.enable_metric", d.Log.EnableMetric)

	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.read_header_timeout", d.Server.ReadHeaderTimeout)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)
}
