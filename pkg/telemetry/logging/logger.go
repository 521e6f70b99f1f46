package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// LogFormat selects the handler.
type LogFormat string

// Supported formats. Console is an alias for text.
const (
	FormatJSON    LogFormat = "json"
	FormatText    LogFormat = "text"
	FormatConsole LogFormat = "console"
)

// Config configures New. Level and Format are case-insensitive; empty means
// info and json.
type Config struct {
	Level     string
	Format    string
	AddSource bool

	// Writer receives log lines. Default: os.Stdout
	Writer io.Writer
}

// New creates a *slog.Logger whose handler appends the request, user and
// limit kind fields stored in the context of every *Context call.
func New(cfg Config) (*slog.Logger, error) {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	format, err := parseFormat(cfg.Format)
	if err != nil {
		return nil, err
	}

	w := cfg.Writer
	if w == nil {
		w = os.Stdout
	}
	opts := &slog.HandlerOptions{Level: level, AddSource: cfg.AddSource}

	var handler slog.Handler = slog.NewJSONHandler(w, opts)
	if format != FormatJSON {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(NewContextHandler(handler)), nil
}

// ContextHandler decorates another handler with context fields.
type ContextHandler struct {
	next slog.Handler
}

// NewContextHandler wraps next.
func NewContextHandler(next slog.Handler) *ContextHandler {
	return &ContextHandler{next: next}
}

// Enabled implements slog.Handler.
func (h *ContextHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

// Handle implements slog.Handler.
func (h *ContextHandler) Handle(ctx context.Context, r slog.Record) error {
	if attrs := extractContextFields(ctx); len(attrs) > 0 {
		r = r.Clone()
		r.AddAttrs(attrs...)
	}
	return h.next.Handle(ctx, r)
}

// WithAttrs implements slog.Handler.
func (h *ContextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ContextHandler{next: h.next.WithAttrs(attrs)}
}

// WithGroup implements slog.Handler.
func (h *ContextHandler) WithGroup(name string) slog.Handler {
	return &ContextHandler{next: h.next.WithGroup(name)}
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
}

func parseFormat(s string) (LogFormat, error) {
	switch f := LogFormat(strings.ToLower(s)); f {
	case "":
		return FormatJSON, nil
	case FormatJSON, FormatText, FormatConsole:
		return f, nil
	}
	return FormatJSON, fmt.Errorf("unknown log format %q", s)
}
