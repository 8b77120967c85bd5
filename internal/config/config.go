// Package config holds process-level configuration for a kitchen run:
// search paths, default backend, log template, scatter worker cap. Grounded
// on the teacher's internal/config.ServerConfig — a plain defaulted struct,
// not a parsed file format.
package config

import (
	"os"
	"strconv"

	"github.com/caracal/kitchen/internal/loader"
)

// RunConfig holds the settings that shape one invocation of the Step
// Scheduler, independent of any particular recipe document.
type RunConfig struct {
	LogLevel  string // debug, info, warn, error
	LogFormat string // text, json

	// SearchPaths are consulted when resolving bare _include/_use
	// filenames (spec §4.1), populated from STIMELA_INCLUDE.
	SearchPaths []string

	// Backend is the process-wide default execution backend (spec §4.8's
	// lowest-priority fallback before "first available").
	Backend string

	// LogDir, if set, roots per-step log files (strftime-templated by the
	// Step Scheduler); empty disables file logging.
	LogDir string

	// StatusAddr, if set, starts the optional live-progress SSE server
	// (internal/statusserver) listening on this address.
	StatusAddr string

	// MaxScatter is loaded with the rest of the configuration, but nothing
	// applies it: the scheduler sizes for-loop concurrency from each step's
	// scatter directive alone, and scatter -1 runs every iteration at once.
	MaxScatter int

	// MaxOpenFiles, if non-zero, caps RLIMIT_NOFILE on locally-spawned
	// processes (spec §4.8); 0 leaves the inherited limit untouched.
	MaxOpenFiles int
}

// DefaultRunConfig returns sensible defaults, with STIMELA_INCLUDE already
// read from the environment.
func DefaultRunConfig() RunConfig {
	return RunConfig{
		LogLevel:    "info",
		LogFormat:   "text",
		SearchPaths: loader.SearchPathsFromEnv(),
		Backend:     "local",
		MaxScatter:  0,
	}
}

// ApplyEnv overlays recognized KITCHEN_* environment variables onto cfg,
// letting callers avoid re-deriving flag defaults in tests.
func (cfg *RunConfig) ApplyEnv() {
	if v := os.Getenv("KITCHEN_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("KITCHEN_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
	if v := os.Getenv("KITCHEN_BACKEND"); v != "" {
		cfg.Backend = v
	}
	if v := os.Getenv("KITCHEN_LOG_DIR"); v != "" {
		cfg.LogDir = v
	}
	if v := os.Getenv("KITCHEN_STATUS_ADDR"); v != "" {
		cfg.StatusAddr = v
	}
	if v := os.Getenv("KITCHEN_MAX_SCATTER"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxScatter = n
		}
	}
	if v := os.Getenv("KITCHEN_MAX_OPEN_FILES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxOpenFiles = n
		}
	}
}
