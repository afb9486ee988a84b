package ratelimit

import (
	"context"
	"time"
)

// TierLimit is the threshold of one tier.
type TierLimit struct {
	Limit  int64
	Window time.Duration
}

// LimiterConfig holds the per-tier thresholds.
type LimiterConfig struct {
	Read      TierLimit
	WriteAuth TierLimit
}

// DefaultLimiterConfig returns 180 reads and 60 write/auth calls per minute.
func DefaultLimiterConfig() LimiterConfig {
	return LimiterConfig{
		Read:      TierLimit{Limit: 180, Window: time.Minute},
		WriteAuth: TierLimit{Limit: 60, Window: time.Minute},
	}
}

// Limiter charges classified requests to the counter of their tier.
type Limiter struct {
	counter *Counter
	config  LimiterConfig
}

// NewLimiter creates a [Limiter] over counter.
func NewLimiter(counter *Counter, cfg LimiterConfig) *Limiter {
	return &Limiter{counter: counter, config: cfg}
}

// Allow admits or denies c. [TierNone] is always admitted without touching
// the store.
func (l *Limiter) Allow(ctx context.Context, c Classification) (Decision, error) {
	var tl TierLimit
	switch c.Tier {
	case TierRead:
		tl = l.config.Read
	case TierWriteAuth:
		tl = l.config.WriteAuth
	default:
		return Decision{Allowed: true}, nil
	}
	return l.counter.Allow(ctx, c.Tier.String()+":"+c.Key, tl.Limit, tl.Window)
}
