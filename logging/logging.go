// Package logging holds the process logger and the context logger.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"

	"github.com/m-mizutani/clog"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/masq"
)

var defaultLogger atomic.Pointer[slog.Logger]

func init() {
	defaultLogger.Store(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// Default returns the process logger. It discards output until SetDefault
// is called.
func Default() *slog.Logger {
	return defaultLogger.Load()
}

// SetDefault replaces the process logger.
func SetDefault(logger *slog.Logger) {
	if logger != nil {
		defaultLogger.Store(logger)
	}
}

type ctxKey struct{}

// With returns ctx carrying logger.
func With(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, logger)
}

// From returns the logger carried by ctx, or Default().
func From(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok && logger != nil {
		return logger
	}
	return Default()
}

// Config selects the handler built by New.
type Config struct {
	// Level is one of debug, info, warn, error. Default: info.
	Level string

	// Format is "console" (clog) or "json". Default: console.
	Format string

	// Output defaults to os.Stderr.
	Output io.Writer

	// NoColor disables console colors.
	NoColor bool
}

// New builds a logger from cfg. Attributes named like secrets (api_key,
// APIKey, token) are masked in every format.
func New(cfg Config) (*slog.Logger, error) {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	w := cfg.Output
	if w == nil {
		w = os.Stderr
	}

	filter := masq.New(
		masq.WithFieldName("APIKey"),
		masq.WithFieldName("api_key"),
		masq.WithFieldName("token"),
	)

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "", "console":
		handler = &maskHandler{
			Handler: clog.New(
				clog.WithWriter(w),
				clog.WithLevel(level),
				clog.WithColor(!cfg.NoColor),
			),
			replace: filter,
		}
	case "json":
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{
			Level:       level,
			ReplaceAttr: filter,
		})
	default:
		return nil, goerr.New("unknown log format", goerr.V("format", cfg.Format))
	}

	return slog.New(handler), nil
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
	return 0, goerr.New("unknown log level", goerr.V("level", s))
}

// maskHandler applies replace to every attribute before delegating.
type maskHandler struct {
	slog.Handler
	replace func(groups []string, a slog.Attr) slog.Attr
	groups  []string
}

func (h *maskHandler) Handle(ctx context.Context, r slog.Record) error {
	masked := slog.NewRecord(r.Time, r.Level, r.Message, r.PC)
	r.Attrs(func(a slog.Attr) bool {
		masked.AddAttrs(h.replace(h.groups, a))
		return true
	})
	return h.Handler.Handle(ctx, masked)
}

func (h *maskHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		out[i] = h.replace(h.groups, a)
	}
	return &maskHandler{Handler: h.Handler.WithAttrs(out), replace: h.replace, groups: h.groups}
}

func (h *maskHandler) WithGroup(name string) slog.Handler {
	groups := append(append([]string(nil), h.groups...), name)
	return &maskHandler{Handler: h.Handler.WithGroup(name), replace: h.replace, groups: groups}
}
