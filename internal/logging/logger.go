// Package logging builds the process-wide slog logger for the two node
// binaries. Dev runs get a colourised console handler with source locations
// for bench work; prod runs emit JSON for log shippers, tagged with the node
// name and build version.
package logging

import (
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"

	"github.com/tm2space/tm2-manha-firmware/internal/config"
)

// New returns the root logger for a node. The handler follows APP_ENV, the
// level follows LOG_LEVEL; both are resolved by config.Load.
func New(cfg config.Config, version string, node string) *slog.Logger {
	if cfg.AppEnv == "dev" {
		h := tint.NewHandler(os.Stdout, &tint.Options{
			Level:      cfg.LogLevel,
			AddSource:  true,
			TimeFormat: time.Kitchen,
		})
		return slog.New(h).With("node", node)
	}

	h := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	})
	return slog.New(h).With(
		"node", node,
		"version", version,
		"env", cfg.AppEnv,
	)
}
