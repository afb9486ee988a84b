package tokengate

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/MrEthical07/tokengate/internal/audit"
	"go.uber.org/zap"
)

// Audit types are defined in internal/audit and re-exported here.
type (
	AuditEvent     = audit.Event
	AuditSink      = audit.Sink
	NoOpSink       = audit.NoOpSink
	ChannelSink    = audit.ChannelSink
	JSONWriterSink = audit.JSONWriterSink
	ZapSink        = audit.ZapSink
)

// NewChannelSink returns a sink that buffers events for a consumer goroutine.
func NewChannelSink(buffer int) *ChannelSink { return audit.NewChannelSink(buffer) }

// NewJSONWriterSink returns a sink writing one JSON object per line.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink { return audit.NewJSONWriterSink(w) }

// NewZapSink returns a sink logging each event through logger.
func NewZapSink(logger *zap.Logger) *ZapSink { return audit.NewZapSink(logger) }

const (
	AuditEventTokenIssued          = "token_issued"
	AuditEventTokenIssuedLongLived = "token_issued_long_lived"
	AuditEventRefreshSuccess       = "refresh_success"
	AuditEventRefreshExpired       = "refresh_expired"
	AuditEventRefreshInvalid       = "refresh_invalid"
	AuditEventRefreshReuseDetected = "refresh_reuse_detected"
	AuditEventLogout               = "logout"
	AuditEventLogoutAll            = "logout_all"
	AuditEventRateLimited          = "rate_limited"
)

// AuditErrorCode is the stable, secret-free error label stored in events.
type AuditErrorCode string

const (
	auditErrTokenExpired     AuditErrorCode = "token_expired"
	auditErrTokenInvalid     AuditErrorCode = "token_invalid"
	auditErrRefreshReuse     AuditErrorCode = "refresh_reuse"
	auditErrRateLimited      AuditErrorCode = "rate_limited"
	auditErrStoreUnavailable AuditErrorCode = "store_unavailable"
	auditErrInternal         AuditErrorCode = "internal_error"
)

func (s *Service) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	userID string,
	tokenID string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if s == nil || s.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		UserID:    userID,
		TokenID:   tokenID,
		IP:        clientIPFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	s.audit.Emit(ctx, event)
}

// auditErrorCode checks the most specific classification first: a reuse or
// store failure is always joined with ErrTokenInvalid.
func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrRefreshReuse):
		return auditErrRefreshReuse
	case errors.Is(err, ErrStoreUnavailable):
		return auditErrStoreUnavailable
	case errors.Is(err, ErrTokenExpired):
		return auditErrTokenExpired
	case errors.Is(err, ErrTokenInvalid):
		return auditErrTokenInvalid
	case errors.Is(err, ErrRateLimited):
		return auditErrRateLimited
	default:
		return auditErrInternal
	}
}
