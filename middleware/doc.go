// Package middleware exposes the net/http request gate and identity guards.
//
// # Components
//
//   - [Gate]: admission control (classify, count, 429/503) followed by optional
//     bearer verification that places an identity in the request context.
//   - [Guard]: mandatory bearer verification for routes outside the gate.
//   - [RequireAuth], [RequireRole]: reject requests lacking a suitable identity.
//
// # Architecture boundaries
//
// This package translates HTTP semantics into classifier, limiter and verifier
// calls. Counting and token checks are delegated to the ratelimit and jwt
// packages.
//
// # What this package must NOT do
//
//   - Parse or create JWTs directly.
//   - Access Redis directly.
//   - Let a limiter failure through: the gate fails closed.
package middleware
