package logger

import (
	"io"
	"os"
)

// Config holds logger configuration.
type Config struct {
	Level       string    // debug, info, warn, error
	Format      string    // json, text
	Output      io.Writer // explicit destination, overrides stdout and file
	ServiceName string

	// Environment is local, dev or prod. File output is skipped in local.
	Environment string

	File FileConfig
}

// FileConfig configures rotated file output.
type FileConfig struct {
	Path       string
	Only       bool // do not also write to stdout
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// DefaultConfig returns JSON logs at info level on stdout.
func DefaultConfig() *Config {
	return &Config{
		Level:       "info",
		Format:      "json",
		Output:      os.Stdout,
		ServiceName: "framescope",
		Environment: "local",
		File: FileConfig{
			Path:       "/var/log/framescope/app.log",
			MaxSizeMB:  100,
			MaxBackups: 7,
			MaxAgeDays: 30,
			Compress:   true,
		},
	}
}
