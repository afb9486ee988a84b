// Package httpapi mounts the token endpoints on a chi router behind the
// request gate.
//
// Routes:
//
//	POST /api/v1/auth/tokens   login: Authenticator, then a new pair
//	POST /api/auth/refresh     rotate the refresh cookie
//	POST /api/auth/logout      revoke the cookie token, or all with ?all=true
//	POST /api/v1/test/tokens   operator issuance, only with tooling enabled
//	GET  /healthz              liveness
//
// Every body is the {"success","code","message","data"} envelope. Token
// failures of any kind are a 401 with one generic message.
package httpapi
