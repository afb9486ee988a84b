package logging

import (
	"fmt"
	"strings"
)

// FileConfig controls rotated file output.
type FileConfig struct {
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// Config describes a logger.
type Config struct {
	Service string `mapstructure:"service"`
	// Level is one of debug, info, warn, error.
	Level string `mapstructure:"level"`
	// Encoding is json or console.
	Encoding     string     `mapstructure:"encoding"`
	Stdout       bool       `mapstructure:"stdout"`
	File         FileConfig `mapstructure:"file"`
	EnableMetric bool       `mapstructure:"enable_metric"`
}

// DefaultConfig logs JSON at info level to stdout.
func DefaultConfig() Config {
	return Config{
		Service:  "tokengate",
		Level:    "info",
		Encoding: "json",
		Stdout:   true,
		File: FileConfig{
			MaxSizeMB:  100,
			MaxBackups: 60,
			MaxAgeDays: 30,
		},
	}
}

// Validate checks the config and fills file rotation defaults.
func (c *Config) Validate() error {
	if c.Service == "" {
		return fmt.Errorf("log service must not be empty")
	}
	switch strings.ToLower(c.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log level must be debug, info, warn or error, got %q", c.Level)
	}
	switch strings.ToLower(c.Encoding) {
	case "json", "console":
	default:
		return fmt.Errorf("log encoding must be json or console, got %q", c.Encoding)
	}
	if !c.Stdout && c.File.Path == "" {
		return fmt.Errorf("log file path is required when stdout is disabled")
	}
	if c.File.Path != "" {
		if c.File.MaxSizeMB <= 0 {
			c.File.MaxSizeMB = 100
		}
		if c.File.MaxBackups < 0 {
			c.File.MaxBackups = 60
		}
		if c.File.MaxAgeDays < 0 {
			c.File.MaxAgeDays = 30
		}
	}
	return nil
}
