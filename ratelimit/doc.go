// Package ratelimit implements admission control: classifying requests into
// cost tiers and counting them in Redis fixed windows.
//
// # Architecture boundaries
//
// The package makes decisions only. Writing 429/503 responses belongs to the
// HTTP gate in the middleware package.
package ratelimit
