package httpapi

import (
	"context"
	"errors"
	"net/http"

	"github.com/MrEthical07/tokengate"
	"github.com/MrEthical07/tokengate/logging"
	"github.com/MrEthical07/tokengate/middleware"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// Authenticator exchanges a login request for an identity. Return
// [ErrAuthenticationFailed] for bad credentials.
type Authenticator interface {
	Authenticate(ctx context.Context, r *http.Request) (userID string, role tokengate.Role, err error)
}

// AuthenticatorFunc adapts a function to [Authenticator].
type AuthenticatorFunc func(ctx context.Context, r *http.Request) (string, tokengate.Role, error)

func (f AuthenticatorFunc) Authenticate(ctx context.Context, r *http.Request) (string, tokengate.Role, error) {
	return f(ctx, r)
}

// Options configures [NewRouter].
type Options struct {
	Service       *tokengate.Service
	Authenticator Authenticator
	Logger        *zap.Logger
	// Mount registers business routes behind the same gate.
	Mount func(r chi.Router)
}

// NewRouter builds the chi router. The gate runs first on every route,
// including routes added through Options.Mount.
func NewRouter(opts Options) (http.Handler, error) {
	if opts.Service == nil {
		return nil, tokengate.ErrServiceNotReady
	}
	if opts.Authenticator == nil {
		return nil, errors.New("httpapi: authenticator required")
	}

	svc := opts.Service
	cfg := svc.Config()
	logger := logging.OrNop(opts.Logger).Named("httpapi")

	h := &handler{
		svc:     svc,
		auth:    opts.Authenticator,
		cookie:  cfg.Cookie,
		refresh: cfg.Refresh.TTL,
		logger:  logger,
	}

	gate := middleware.GateConfig{
		Verifier:              svc,
		Logger:                logger,
		TrustForwardedHeaders: cfg.RateLimit.TrustForwardedHeaders,
		OnDecision:            svc.ObserveAdmission,
	}
	if c, l := svc.Classifier(), svc.Limiter(); c != nil && l != nil {
		gate.Classifier = c
		gate.Limiter = l
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(middleware.Gate(gate))

	r.Get("/healthz", h.health)
	r.Post("/api/v1/auth/tokens", h.login)
	r.Post("/api/auth/refresh", h.rotate)
	r.With(middleware.RequireAuth()).Post("/api/auth/logout", h.logout)
	if cfg.Tooling.Enabled {
		r.Post("/api/v1/test/tokens", h.testTokens)
	}

	if opts.Mount != nil {
		opts.Mount(r)
	}
	return r, nil
}
