package log

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Setup installs the default logger. Unknown levels fall back to info, and any format
// other than "json" writes text.
func Setup(logLevel string, format ...string) {
	slog.SetDefault(New(os.Stderr, logLevel, format...))
}

func New(w io.Writer, logLevel string, format ...string) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(logLevel))); err != nil {
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	if len(format) > 0 && strings.EqualFold(format[0], "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}

	return slog.New(slog.NewTextHandler(w, opts))
}

func WithModule(module string) *slog.Logger {
	return slog.With("module", module)
}
