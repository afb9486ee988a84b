package tokengate

import "errors"

var (
	// ErrTokenExpired is returned for an authentic token past its expiry.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenInvalid is returned for every other token failure. Refresh
	// failures of any kind, including store outages, surface as this error.
	ErrTokenInvalid = errors.New("invalid token")
	// ErrRefreshReuse marks a replayed refresh token. It is always joined with
	// ErrTokenInvalid and is meant for audit and logging, not for clients.
	ErrRefreshReuse = errors.New("refresh token reuse detected")
	// ErrRateLimited is returned when an admission check denies a request.
	ErrRateLimited = errors.New("rate limited")
	// ErrStoreUnavailable is joined to errors caused by a Redis failure or timeout.
	ErrStoreUnavailable = errors.New("token store unavailable")
	// ErrInvalidConfig wraps configuration validation failures.
	ErrInvalidConfig = errors.New("invalid config")
	// ErrToolingDisabled is returned by operator-only issuance when tooling is off.
	ErrToolingDisabled = errors.New("operator tooling disabled")
	// ErrServiceNotReady is returned by methods on a nil or unbuilt Service.
	ErrServiceNotReady = errors.New("service not initialized")
)
