// Package refresh stores the server-side state of rotating refresh tokens in Redis.
//
// # Record layout
//
// Each token maps to a hash at <prefix>:<base64url(sha256(token))> holding the
// owner, role, issue and expiry times (unix ms), and a used flag. The store TTL
// equals the token TTL; expiry is the only sweep. A per-user set indexes the
// record keys so every token of a user can be revoked at once.
//
// # Architecture boundaries
//
// This package owns persistence and the atomic used-flag transition. Rotation
// policy and reuse handling live in the root package.
package refresh
