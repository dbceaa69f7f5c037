// Package obs contains observability utilities such as logging.
package obs

import (
	"log/slog"
	"os"
	"strings"
)

var level = new(slog.LevelVar)

// Logger is the global structured logger used by the service and the cart engine.
//
// It writes JSON to stdout until InitLogger replaces it, so packages can log
// before main has finished wiring.
var Logger = newLogger()

func newLogger() *slog.Logger {
	h := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	return slog.New(h)
}

// InitLogger initializes the global Logger with a JSON handler at the current level (info by default).
func InitLogger() {
	Logger = newLogger()
}

// SetLevel changes the minimum level of the global Logger. Unknown names keep info.
func SetLevel(name string) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		level.Set(slog.LevelDebug)
	case "warn", "warning":
		level.Set(slog.LevelWarn)
	case "error":
		level.Set(slog.LevelError)
	default:
		level.Set(slog.LevelInfo)
	}
}
