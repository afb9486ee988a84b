// Package tokengate manages bearer credentials for an HTTP API: short-lived
// signed access tokens and long-lived, single-use refresh tokens that rotate on
// every redemption. Redeeming a refresh token twice revokes every refresh token
// of its owner.
//
// A [Service] is assembled with [Builder] and is safe for concurrent use.
// Refresh state lives in Redis (see package refresh); admission control for
// the same API lives in package ratelimit and its HTTP gate in package
// middleware.
//
// # Failure policy
//
// Every refresh failure, including a Redis outage, is reported as
// [ErrTokenInvalid]. Nothing is retried and nothing is cached in process.
package tokengate
