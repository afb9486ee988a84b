package tokengate

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/MrEthical07/tokengate/internal/audit"
	"github.com/MrEthical07/tokengate/internal/flows"
	"github.com/MrEthical07/tokengate/jwt"
	"github.com/MrEthical07/tokengate/ratelimit"
	"github.com/MrEthical07/tokengate/refresh"
	"go.uber.org/zap"
)

// Service issues, rotates and revokes token pairs. Build it with [New].
// It holds no per-user state; all coordination happens in Redis.
type Service struct {
	config     Config
	signer     *jwt.Signer
	store      *refresh.Store
	classifier *ratelimit.Classifier
	limiter    *ratelimit.Limiter
	audit      *audit.Dispatcher
	metrics    *Metrics
	logger     *zap.Logger
	flows      flows.Deps
}

// Close drains the audit dispatcher.
func (s *Service) Close() {
	if s == nil {
		return
	}
	if s.audit != nil {
		s.audit.Close()
	}
}

// Shutdown drains the audit dispatcher until ctx is done.
func (s *Service) Shutdown(ctx context.Context) error {
	if s == nil || s.audit == nil {
		return nil
	}
	return s.audit.Shutdown(ctx)
}

// AuditDropped reports audit events lost to a full buffer.
func (s *Service) AuditDropped() uint64 {
	if s == nil || s.audit == nil {
		return 0
	}
	return s.audit.Dropped()
}

// MetricsSnapshot returns a copy of the in-process counters.
func (s *Service) MetricsSnapshot() MetricsSnapshot {
	if s == nil || s.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return s.metrics.Snapshot()
}

// Config returns the validated configuration the service was built with.
func (s *Service) Config() Config { return s.config }

// Signer exposes the token signer, e.g. for request-gate bearer verification.
func (s *Service) Signer() *jwt.Signer { return s.signer }

// Store exposes the refresh store for operator tooling.
func (s *Service) Store() *refresh.Store { return s.store }

// Classifier is nil when rate limiting is disabled.
func (s *Service) Classifier() *ratelimit.Classifier { return s.classifier }

// Limiter is nil when rate limiting is disabled.
func (s *Service) Limiter() *ratelimit.Limiter { return s.limiter }

// Logger returns the service logger.
func (s *Service) Logger() *zap.Logger { return s.logger }

func (s *Service) metricInc(id MetricID) {
	if s == nil || s.metrics == nil {
		return
	}
	s.metrics.Inc(id)
}

/*
====================================
ISSUANCE
====================================
*/

// Issue creates a new token pair for userID at login or registration. The
// refresh record is written before the pair is returned.
func (s *Service) Issue(ctx context.Context, userID string, role Role, opts ...IssueOption) (*TokenPair, error) {
	if s == nil || s.signer == nil {
		return nil, ErrServiceNotReady
	}

	o := issueOptions{
		accessTTL:  s.config.JWT.AccessTTL,
		refreshTTL: s.config.Refresh.TTL,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	pair, err := s.issuePair(ctx, userID, role, o)
	if err != nil {
		s.metricInc(MetricIssueFailure)
		s.emitAudit(ctx, AuditEventTokenIssued, false, userID, "", err, nil)
		return nil, err
	}

	s.metricInc(MetricIssueSuccess)
	s.emitAudit(ctx, AuditEventTokenIssued, true, userID, refresh.TokenID(pair.RefreshToken), nil, func() map[string]string {
		return map[string]string{"role": role.String()}
	})
	return pair, nil
}

// IssueLongLived issues a pair whose tokens both live for
// Tooling.LongLivedTTL. It exists for operators and test environments and
// fails with [ErrToolingDisabled] unless tooling is enabled.
func (s *Service) IssueLongLived(ctx context.Context, userID string, role Role) (*TokenPair, error) {
	if s == nil || s.signer == nil {
		return nil, ErrServiceNotReady
	}
	if !s.config.Tooling.Enabled {
		return nil, ErrToolingDisabled
	}

	ttl := s.config.Tooling.LongLivedTTL
	pair, err := s.issuePair(ctx, userID, role, issueOptions{accessTTL: ttl, refreshTTL: ttl})
	if err != nil {
		s.metricInc(MetricIssueFailure)
		s.emitAudit(ctx, AuditEventTokenIssuedLongLived, false, userID, "", err, nil)
		return nil, err
	}

	s.metricInc(MetricLongLivedIssued)
	s.logger.Warn("long-lived token pair issued",
		zap.String("user_id", userID),
		zap.Stringer("role", role),
		zap.Duration("ttl", ttl),
	)
	s.emitAudit(ctx, AuditEventTokenIssuedLongLived, true, userID, refresh.TokenID(pair.RefreshToken), nil, func() map[string]string {
		return map[string]string{"role": role.String(), "ttl": ttl.String()}
	})
	return pair, nil
}

func (s *Service) issuePair(ctx context.Context, userID string, role Role, o issueOptions) (*TokenPair, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, errors.New("user id required")
	}
	if !role.Valid() {
		return nil, jwt.ErrInvalidRole
	}

	access, accessExp, err := s.issueAccess(userID, role, o.accessTTL)
	if err != nil {
		return nil, err
	}

	refreshToken, rec, err := s.store.Create(ctx, userID, role, o.refreshTTL)
	if err != nil {
		if errors.Is(err, refresh.ErrStoreUnavailable) {
			return nil, errors.Join(ErrStoreUnavailable, err)
		}
		return nil, err
	}

	return &TokenPair{
		AccessToken:      access,
		RefreshToken:     refreshToken,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: rec.ExpiresAt,
	}, nil
}

func (s *Service) issueAccess(userID string, role Role, ttl time.Duration) (string, time.Time, error) {
	token, claims, err := s.signer.MintAccess(userID, role, ttl)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, claims.ExpiresAt.Time, nil
}

func (s *Service) issueAccessDefault(userID string, role Role) (string, time.Time, error) {
	return s.issueAccess(userID, role, s.config.JWT.AccessTTL)
}

/*
====================================
ROTATION
====================================
*/

// Refresh redeems refreshToken and returns a new pair. The presented token is
// consumed whether or not later steps succeed.
//
// Errors: [ErrTokenExpired] for an authentic but expired token; otherwise
// [ErrTokenInvalid], joined with [ErrRefreshReuse] when a replay revoked the
// user's tokens and with [ErrStoreUnavailable] when Redis failed.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	if s == nil || s.store == nil {
		return nil, ErrServiceNotReady
	}

	start := time.Now()
	res := flows.RunRefresh(ctx, refreshToken, s.flows.Refresh)
	if s.metrics != nil {
		s.metrics.Observe(MetricRefreshLatency, time.Since(start))
	}

	switch res.Failure {
	case flows.RefreshFailureNone:
		s.metricInc(MetricRefreshSuccess)
		s.emitAudit(ctx, AuditEventRefreshSuccess, true, res.UserID, res.TokenID, nil, nil)
		return &TokenPair{
			AccessToken:      res.AccessToken,
			RefreshToken:     res.RefreshToken,
			AccessExpiresAt:  res.AccessExpiresAt,
			RefreshExpiresAt: res.RefreshExpiresAt,
		}, nil

	case flows.RefreshFailureExpired:
		s.metricInc(MetricRefreshExpired)
		s.emitAudit(ctx, AuditEventRefreshExpired, false, res.UserID, res.TokenID, ErrTokenExpired, nil)
		return nil, ErrTokenExpired

	case flows.RefreshFailureReuse:
		s.metricInc(MetricRefreshReuseDetected)
		if s.metrics != nil {
			s.metrics.Add(MetricTokensRevoked, uint64(res.Revoked))
		}
		err := errors.Join(ErrTokenInvalid, ErrRefreshReuse)
		if res.Err != nil {
			err = errors.Join(err, ErrStoreUnavailable)
		}
		s.logger.Error("refresh token reuse detected, revoked all tokens of user",
			zap.String("user_id", res.UserID),
			zap.String("token_id", res.TokenID),
			zap.Int("revoked", res.Revoked),
			zap.String("ip", clientIPFromContext(ctx)),
			zap.NamedError("revoke_error", res.Err),
		)
		s.emitAudit(ctx, AuditEventRefreshReuseDetected, false, res.UserID, res.TokenID, err, func() map[string]string {
			return map[string]string{"revoked": strconv.Itoa(res.Revoked)}
		})
		return nil, err

	case flows.RefreshFailureStore:
		s.metricInc(MetricRefreshStoreFailure)
		err := errors.Join(ErrTokenInvalid, ErrStoreUnavailable)
		s.logger.Warn("refresh rejected, token store unavailable",
			zap.String("token_id", res.TokenID),
			zap.Error(res.Err),
		)
		s.emitAudit(ctx, AuditEventRefreshInvalid, false, res.UserID, res.TokenID, err, reasonMetadata(res.Failure))
		return nil, err

	case flows.RefreshFailureIssue:
		s.metricInc(MetricIssueFailure)
		s.logger.Error("refresh consumed token but could not issue a new pair",
			zap.String("user_id", res.UserID),
			zap.String("token_id", res.TokenID),
			zap.Error(res.Err),
		)
		s.emitAudit(ctx, AuditEventRefreshInvalid, false, res.UserID, res.TokenID, ErrTokenInvalid, reasonMetadata(res.Failure))
		return nil, ErrTokenInvalid

	default:
		s.metricInc(MetricRefreshInvalid)
		s.logger.Debug("refresh rejected",
			zap.Stringer("reason", res.Failure),
			zap.String("token_id", res.TokenID),
			zap.Error(res.Err),
		)
		s.emitAudit(ctx, AuditEventRefreshInvalid, false, res.UserID, res.TokenID, ErrTokenInvalid, reasonMetadata(res.Failure))
		return nil, ErrTokenInvalid
	}
}

func reasonMetadata(kind flows.RefreshFailureKind) func() map[string]string {
	return func() map[string]string {
		return map[string]string{"reason": kind.String()}
	}
}

/*
====================================
REVOCATION
====================================
*/

// Logout deletes the record of refreshToken. Tokens that do not verify are
// ignored and nil is returned, so a stale cookie never blocks a logout.
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	if s == nil || s.store == nil {
		return ErrServiceNotReady
	}

	res := flows.RunLogout(ctx, refreshToken, s.flows.Logout)
	if res.Skipped {
		return nil
	}
	if res.Err != nil {
		err := fmt.Errorf("%w: %v", ErrStoreUnavailable, res.Err)
		s.emitAudit(ctx, AuditEventLogout, false, res.UserID, res.TokenID, err, nil)
		return err
	}

	s.metricInc(MetricLogout)
	s.emitAudit(ctx, AuditEventLogout, true, res.UserID, res.TokenID, nil, nil)
	return nil
}

// LogoutAll deletes every refresh token of userID, used or not, and returns
// how many were removed. Account withdrawal uses it too.
func (s *Service) LogoutAll(ctx context.Context, userID string) (int, error) {
	if s == nil || s.store == nil {
		return 0, ErrServiceNotReady
	}

	removed, err := flows.RunLogoutAll(ctx, userID, s.flows.Logout)
	if err != nil {
		if errors.Is(err, refresh.ErrStoreUnavailable) {
			err = errors.Join(ErrStoreUnavailable, err)
		}
		s.emitAudit(ctx, AuditEventLogoutAll, false, userID, "", err, nil)
		return 0, err
	}

	s.metricInc(MetricLogoutAll)
	if s.metrics != nil {
		s.metrics.Add(MetricTokensRevoked, uint64(removed))
	}
	s.emitAudit(ctx, AuditEventLogoutAll, true, userID, "", nil, func() map[string]string {
		return map[string]string{"revoked": strconv.Itoa(removed)}
	})
	return removed, nil
}

/*
====================================
VERIFICATION
====================================
*/

// VerifyAccess checks an access token. It returns [ErrTokenExpired] for an
// authentic expired token and [ErrTokenInvalid] for everything else.
func (s *Service) VerifyAccess(token string) (*jwt.Claims, error) {
	if s == nil || s.signer == nil {
		return nil, ErrServiceNotReady
	}

	claims, err := s.signer.VerifyAccess(token)
	if err != nil {
		s.metricInc(MetricAccessRejected)
		if errors.Is(err, jwt.ErrExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}
	s.metricInc(MetricAccessVerified)
	return claims, nil
}

// ObserveAdmission records the outcome of a request-gate decision. It is
// meant to be installed as the gate's decision hook.
func (s *Service) ObserveAdmission(ctx context.Context, c ratelimit.Classification, d ratelimit.Decision, err error) {
	if s == nil || c.Tier == ratelimit.TierNone {
		return
	}

	switch {
	case err != nil:
		s.metricInc(MetricRateLimitUnavailable)
		s.logger.Warn("rate limit store unavailable, request denied",
			zap.Stringer("tier", c.Tier),
			zap.String("pattern", c.Pattern),
			zap.Error(err),
		)
		s.emitAudit(ctx, AuditEventRateLimited, false, "", "", ErrStoreUnavailable, func() map[string]string {
			return map[string]string{"tier": c.Tier.String(), "pattern": c.Pattern}
		})
	case !d.Allowed:
		s.metricInc(MetricRateLimitDenied)
		s.emitAudit(ctx, AuditEventRateLimited, false, "", "", ErrRateLimited, func() map[string]string {
			return map[string]string{
				"tier":    c.Tier.String(),
				"pattern": c.Pattern,
				"key":     c.Key,
				"count":   strconv.FormatInt(d.Count, 10),
			}
		})
	default:
		s.metricInc(MetricRateLimitAllowed)
	}
}
