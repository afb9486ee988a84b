package httpapi

import (
	"errors"
	"net/http"

	"github.com/MrEthical07/tokengate"
	"github.com/MrEthical07/tokengate/internal/respond"
	"github.com/MrEthical07/tokengate/jwt"
	"go.uber.org/zap"
)

// ErrAuthenticationFailed is returned by an [Authenticator] for bad
// credentials. Any other Authenticator error is treated as internal.
var ErrAuthenticationFailed = errors.New("authentication failed")

var errBadRequest = errors.New("bad request")

const (
	codeUnauthorized       = "UNAUTHORIZED"
	codeInvalidCredentials = "INVALID_CREDENTIALS"
	codeBadRequest         = "BAD_REQUEST"
	codeNotFound           = "NOT_FOUND"
	codeTooManyRequests    = "TOO_MANY_REQUESTS"
	codeUnavailable        = "SERVICE_UNAVAILABLE"
	codeInternal           = "INTERNAL_ERROR"

	msgUnauthorized = "authentication required"
)

type apiError struct {
	status  int
	code    string
	message string
}

// classify maps a service error to its HTTP form. Token errors are checked
// first so a rotation that failed on Redis still reads as a plain 401.
func classify(err error) apiError {
	switch {
	case errors.Is(err, tokengate.ErrTokenInvalid), errors.Is(err, tokengate.ErrTokenExpired):
		return apiError{http.StatusUnauthorized, codeUnauthorized, msgUnauthorized}
	case errors.Is(err, ErrAuthenticationFailed):
		return apiError{http.StatusUnauthorized, codeInvalidCredentials, "invalid credentials"}
	case errors.Is(err, errBadRequest), errors.Is(err, jwt.ErrInvalidRole):
		return apiError{http.StatusBadRequest, codeBadRequest, "malformed request"}
	case errors.Is(err, tokengate.ErrToolingDisabled):
		return apiError{http.StatusNotFound, codeNotFound, "not found"}
	case errors.Is(err, tokengate.ErrRateLimited):
		return apiError{http.StatusTooManyRequests, codeTooManyRequests, "too many requests, try again later"}
	case errors.Is(err, tokengate.ErrStoreUnavailable), errors.Is(err, tokengate.ErrServiceNotReady):
		return apiError{http.StatusServiceUnavailable, codeUnavailable, "service temporarily unavailable"}
	default:
		return apiError{http.StatusInternalServerError, codeInternal, "internal error"}
	}
}

func (h *handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	e := classify(err)
	if e.status >= http.StatusInternalServerError {
		h.logger.Warn("request failed",
			zap.String("path", r.URL.Path),
			zap.Int("status", e.status),
			zap.Error(err),
		)
	}
	respond.Error(w, e.status, e.code, e.message)
}
