package main

import (
	"io"
	"log/slog"
	"os"

	"github.com/vogtb/rsheet/packages/config"
)

const logLevelEnv = "RSHEET_LOG_LEVEL"

// newLogger builds the process logger. RSHEET_LOG_LEVEL, when set, wins
// over the configured level.
func newLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	if env := os.Getenv(logLevelEnv); env != "" {
		override := config.LogConfig{Level: env, Format: cfg.Format}
		if err := override.Validate(); err == nil {
			cfg = override
		}
	}

	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
