package tokengate

import (
	"errors"
	"time"

	"github.com/MrEthical07/tokengate/internal/audit"
	"github.com/MrEthical07/tokengate/internal/flows"
	"github.com/MrEthical07/tokengate/jwt"
	"github.com/MrEthical07/tokengate/logging"
	"github.com/MrEthical07/tokengate/ratelimit"
	"github.com/MrEthical07/tokengate/refresh"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Builder assembles a [Service]. Configure it during initialization and call
// Build once.
type Builder struct {
	config    Config
	redis     redis.UniversalClient
	logger    *zap.Logger
	auditSink AuditSink
	now       func() time.Time

	built bool
}

// New returns a Builder seeded with [DefaultConfig].
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the client shared by the refresh store and the rate limiter.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithLogger sets the service logger. Nil means no logging.
func (b *Builder) WithLogger(logger *zap.Logger) *Builder {
	b.logger = logger
	return b
}

// WithAuditSink sets the audit destination. It only takes effect when
// Audit.Enabled is set in the config.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithClock overrides the signing and verification clock.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// WithMetricsEnabled toggles in-process counters.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// Build validates the configuration and wires every component.
func (b *Builder) Build() (*Service, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}
	if b.redis == nil {
		return nil, errors.New("redis client required")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// -------- SIGNER --------
	signerCfg, err := cfg.SignerConfig()
	if err != nil {
		return nil, err
	}
	signerCfg.Now = b.now
	signer, err := jwt.NewSigner(signerCfg)
	if err != nil {
		return nil, err
	}

	// -------- REFRESH STORE --------
	store := refresh.NewStore(b.redis, signer, cfg.RefreshStoreConfig())

	// -------- RATE LIMITING --------
	var (
		classifier *ratelimit.Classifier
		limiter    *ratelimit.Limiter
	)
	if cfg.RateLimit.Enabled {
		classifier, err = ratelimit.NewClassifier(cfg.RateLimit.Rules, signer)
		if err != nil {
			return nil, err
		}
		counter := ratelimit.NewCounter(b.redis, ratelimit.CounterConfig{
			Prefix:    cfg.RateLimit.Prefix,
			OpTimeout: cfg.Store.OpTimeout,
		})
		limiter = ratelimit.NewLimiter(counter, cfg.RateLimit.LimiterConfig())
	}

	logger := logging.OrNop(b.logger).Named("tokengate")

	s := &Service{
		config:     cfg,
		signer:     signer,
		store:      store,
		classifier: classifier,
		limiter:    limiter,
		metrics:    NewMetrics(cfg.Metrics),
		logger:     logger,
		audit: audit.NewDispatcher(audit.Config{
			Enabled:    cfg.Audit.Enabled,
			BufferSize: cfg.Audit.BufferSize,
			DropIfFull: cfg.Audit.DropIfFull,
		}, b.auditSink),
	}

	s.flows = flows.Deps{
		Refresh: flows.RefreshDeps{
			Verifier:    signer,
			Store:       store,
			IssueAccess: s.issueAccessDefault,
			RefreshTTL:  cfg.Refresh.TTL,
			Warn:        logger.Sugar().Warnw,
		},
		Logout: flows.LogoutDeps{
			Verifier: signer,
			Store:    store,
		},
	}

	b.built = true
	return s, nil
}

// cloneConfig copies the slices inside cfg so later edits by the caller do not
// leak into a built Service.
func cloneConfig(cfg Config) Config {
	out := cfg
	out.RateLimit.Rules = ratelimit.Rules{
		ReadPatterns:      append([]string(nil), cfg.RateLimit.Rules.ReadPatterns...),
		WriteAuthPatterns: append([]string(nil), cfg.RateLimit.Rules.WriteAuthPatterns...),
		HighLatencyReads:  append([]string(nil), cfg.RateLimit.Rules.HighLatencyReads...),
	}
	return out
}
