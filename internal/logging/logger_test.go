package logging

import (
	"context"
	"log/slog"
	"testing"

	"github.com/tm2space/tm2-manha-firmware/internal/config"
)

func TestNewDevUsesConsoleHandler(t *testing.T) {
	cfg := config.Config{AppEnv: "dev", LogLevel: slog.LevelDebug}
	logger := New(cfg, "v1.2.3", "satkit")

	if _, ok := logger.Handler().(*slog.JSONHandler); ok {
		t.Error("dev environment got the JSON handler")
	}
	if !logger.Handler().Enabled(context.Background(), slog.LevelDebug) {
		t.Error("debug level not enabled despite LOG_LEVEL=debug")
	}
}

func TestNewProdUsesJSONHandler(t *testing.T) {
	cfg := config.Config{AppEnv: "prod", LogLevel: slog.LevelWarn}
	logger := New(cfg, "v1.2.3", "groundstation")

	if _, ok := logger.Handler().(*slog.JSONHandler); !ok {
		t.Errorf("prod environment got %T; want the JSON handler", logger.Handler())
	}
	if logger.Handler().Enabled(context.Background(), slog.LevelInfo) {
		t.Error("info level enabled despite LOG_LEVEL=warn")
	}
	if !logger.Handler().Enabled(context.Background(), slog.LevelError) {
		t.Error("error level not enabled")
	}
}
