package telemetry

import (
	"log/slog"
	"os"
)

// InitSlog installs the default slog handler for CLIs and tests.
// verbose enables debug logging, which also turns on per-request
// HTTP logging in restyutil.
func InitSlog(verbose bool) {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})))
}
