// Package jwt issues and verifies signed access and refresh tokens. Verification
// distinguishes an expired-but-authentic token from every other failure so callers
// can answer "refresh me" and "log in again" differently.
//
// Importing this package sets golang-jwt's process-global TimePrecision to one
// millisecond, which affects every other user of golang-jwt in the same binary.
// golang-jwt v5 has no per-parser option for it.
package jwt
