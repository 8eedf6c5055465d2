package config

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	slogmulti "github.com/samber/slog-multi"
)

// AppName is stamped on every record so shared log files stay attributable.
const AppName = "assetcheck"

// secretKeys are attribute keys whose values never reach a log sink.
var secretKeys = map[string]bool{
	"token":         true,
	"access_token":  true,
	"refresh_token": true,
	"api_key":       true,
	"client_secret": true,
	"password":      true,
}

// SetupLogger logs text to stderr and JSON to logFile for one binary, named
// by component. A log file that cannot be opened leaves stderr only.
// The returned func closes the file.
func SetupLogger(component, logFile string, level slog.Level) (*slog.Logger, func() error) {
	noop := func() error { return nil }
	if logFile == "" {
		return NewLogger(component, level, os.Stderr, nil), noop
	}
	if dir := filepath.Dir(logFile); dir != "." {
		_ = os.MkdirAll(dir, 0o755)
	}
	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		logger := NewLogger(component, level, os.Stderr, nil)
		logger.Warn("log file unavailable, logging to stderr", "file", logFile, "error", err)
		return logger, noop
	}
	return NewLogger(component, level, os.Stderr, file), file.Close
}

// NewLogger fans records out to a text handler on stderr and, when file is
// non-nil, a JSON handler on file. Secret attributes are redacted first.
func NewLogger(component string, level slog.Level, stderr, file io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	handlers := []slog.Handler{slog.NewTextHandler(stderr, opts)}
	if file != nil {
		handlers = append(handlers, slog.NewJSONHandler(file, opts))
	}
	h := slogmulti.Pipe(slogmulti.NewHandleInlineMiddleware(redact)).Handler(slogmulti.Fanout(handlers...))
	logger := slog.New(h).With("app", AppName)
	if component != "" {
		logger = logger.With("component", component)
	}
	return logger
}

func redact(ctx context.Context, r slog.Record, next func(context.Context, slog.Record) error) error {
	clean := slog.NewRecord(r.Time, r.Level, r.Message, r.PC)
	r.Attrs(func(a slog.Attr) bool {
		if secretKeys[strings.ToLower(a.Key)] {
			a.Value = slog.StringValue("[redacted]")
		}
		clean.AddAttrs(a)
		return true
	})
	return next(ctx, clean)
}
