// Package logger configures the process-wide slog logger and provides the
// fiber and gorm adapters that share its output.
package logger

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

var levelVar slog.LevelVar

// InitFromEnv configures slog from LOG_LEVEL, LOG_FORMAT and SERVICE_NAME.
func InitFromEnv() *slog.Logger {
	return Init(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"), os.Getenv("SERVICE_NAME"))
}

// Init builds a JSON (default) or text handler on stdout, tags every record
// with the service name and installs the result as the slog default.
func Init(level, format, service string) *slog.Logger {
	levelVar.Set(parseLevel(level))
	opts := &slog.HandlerOptions{Level: &levelVar}

	var handler slog.Handler
	if strings.EqualFold(strings.TrimSpace(format), "text") {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	if strings.TrimSpace(service) == "" {
		service = serviceFromArgs()
	}
	log := slog.New(handler).With("service", service)
	slog.SetDefault(log)
	return log
}

// SetLevel adjusts the level of an already-initialized logger.
func SetLevel(level string) {
	levelVar.Set(parseLevel(level))
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func serviceFromArgs() string {
	if len(os.Args) == 0 {
		return "app"
	}
	name := filepath.Base(os.Args[0])
	if name == "" || name == "." || name == string(filepath.Separator) {
		return "app"
	}
	return name
}
