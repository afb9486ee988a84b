// Package logging builds the zap loggers used across tokengate: JSON or
// console encoding, optional rotated file output, and a Prometheus counter of
// entries per level.
package logging
