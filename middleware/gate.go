package middleware

import (
	"context"
	"math"
	"net/http"
	"strconv"

	"github.com/MrEthical07/tokengate"
	"github.com/MrEthical07/tokengate/internal/respond"
	"github.com/MrEthical07/tokengate/logging"
	"github.com/MrEthical07/tokengate/ratelimit"
	"go.uber.org/zap"
)

const (
	codeTooManyRequests      = "TOO_MANY_REQUESTS"
	codeRateLimitUnavailable = "RATE_LIMIT_UNAVAILABLE"
)

// Classifier maps a request to a tier and limit key. [ratelimit.Classifier]
// satisfies it.
type Classifier interface {
	Classify(req ratelimit.Request) ratelimit.Classification
}

// Limiter charges a classified request. [ratelimit.Limiter] satisfies it.
type Limiter interface {
	Allow(ctx context.Context, c ratelimit.Classification) (ratelimit.Decision, error)
}

// GateConfig configures [Gate].
type GateConfig struct {
	// Classifier nil disables admission control.
	Classifier Classifier
	Limiter    Limiter
	// Verifier nil skips bearer verification.
	Verifier Verifier
	Logger   *zap.Logger
	// TrustForwardedHeaders keys by X-Forwarded-For / X-Real-IP.
	TrustForwardedHeaders bool
	// OnDecision observes every limiter call, e.g. [tokengate.Service.ObserveAdmission].
	OnDecision func(ctx context.Context, c ratelimit.Classification, d ratelimit.Decision, err error)
}

// Gate runs admission control ahead of every handler, then verifies the bearer
// token when one is present.
//
// A denied request gets 429 with Retry-After. A limiter failure gets 503: the
// gate fails closed. A bearer token that does not verify never blocks here;
// routes that need identity add [RequireAuth].
func Gate(cfg GateConfig) func(http.Handler) http.Handler {
	logger := logging.OrNop(cfg.Logger).Named("gate")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			addr := ratelimit.ClientAddr(r, cfg.TrustForwardedHeaders)
			bearer, hasBearer := BearerToken(r.Header.Get("Authorization"))
			ctx := tokengate.WithClientIP(r.Context(), addr)

			// The bearer is verified at most once per request; the classifier
			// reuses the outcome.
			var identity *tokengate.AuthResult
			if hasBearer && cfg.Verifier != nil {
				if claims, err := cfg.Verifier.VerifyAccess(bearer); err == nil {
					identity = authResultFromClaims(claims)
				}
			}

			if cfg.Classifier != nil && cfg.Limiter != nil {
				req := ratelimit.Request{
					Method:     r.Method,
					Path:       r.URL.Path,
					ClientAddr: addr,
				}
				switch {
				case identity != nil:
					req.Subject = identity.UserID
				case cfg.Verifier == nil:
					req.BearerToken = bearer
				}
				c := cfg.Classifier.Classify(req)

				if c.Tier != ratelimit.TierNone {
					d, err := cfg.Limiter.Allow(ctx, c)
					if cfg.OnDecision != nil {
						cfg.OnDecision(ctx, c, d, err)
					}

					if err != nil {
						logger.Warn("rate limit check failed, rejecting request",
							zap.String("pattern", c.Pattern),
							zap.Stringer("tier", c.Tier),
							zap.Error(err),
						)
						respond.Error(w, http.StatusServiceUnavailable, codeRateLimitUnavailable,
							"rate limiting is temporarily unavailable")
						return
					}

					setLimitHeaders(w, d)
					if !d.Allowed {
						logger.Debug("request rate limited",
							zap.String("key", c.Key),
							zap.Int64("count", d.Count),
							zap.Int64("limit", d.Limit),
						)
						w.Header().Set("Retry-After", strconv.FormatInt(retryAfterSeconds(d), 10))
						respond.Error(w, http.StatusTooManyRequests, codeTooManyRequests,
							"too many requests, try again later")
						return
					}
				}
			}

			if identity != nil {
				ctx = WithAuthResult(ctx, identity)
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func setLimitHeaders(w http.ResponseWriter, d ratelimit.Decision) {
	if d.Limit <= 0 {
		return
	}
	remaining := d.Limit - d.Count
	if remaining < 0 {
		remaining = 0
	}
	w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(d.Limit, 10))
	w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))
}

// retryAfterSeconds rounds the window remainder up, with a floor of one second.
func retryAfterSeconds(d ratelimit.Decision) int64 {
	secs := int64(math.Ceil(d.ResetAfter.Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}
