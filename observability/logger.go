package observability

import (
	"log/slog"
	"os"
)

// Logger is the process-wide structured logger. main wires it up once;
// the accessors below fall back to a text logger so library code and
// tests never hit a nil logger.
var Logger *slog.Logger

// InitLogger sets up the global logger at info level. Production gets
// JSON lines, development gets human-readable text.
func InitLogger(production bool) {
	InitLoggerWithLevel(production, slog.LevelInfo)
}

func InitLoggerWithLevel(production bool, level slog.Level) {
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler = slog.NewTextHandler(os.Stdout, opts)
	if production {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	Logger = slog.New(handler)
	slog.SetDefault(Logger)
}

func get() *slog.Logger {
	if Logger == nil {
		InitLogger(false)
	}
	return Logger
}

func Debug(msg string, args ...any) { get().Debug(msg, args...) }
func Info(msg string, args ...any)  { get().Info(msg, args...) }
func Warn(msg string, args ...any)  { get().Warn(msg, args...) }
func Error(msg string, args ...any) { get().Error(msg, args...) }

// Fatal logs at error level and exits the process.
func Fatal(msg string, args ...any) {
	get().Error(msg, args...)
	os.Exit(1)
}

// WithService tags log lines with the tenant service they concern.
func WithService(serviceID string) *slog.Logger {
	return get().With("service_id", serviceID)
}

// WithKey tags log lines with the API key they concern. Only the key id is
// ever logged, never the secret or its hash.
func WithKey(keyID string) *slog.Logger {
	return get().With("api_key_id", keyID)
}
