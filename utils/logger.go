package utils

import (
	"context"
	"io"
	"log/slog"
	"os"
)

type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
	DebugCtx(ctx context.Context, msg string, args ...any)
	InfoCtx(ctx context.Context, msg string, args ...any)
	WarnCtx(ctx context.Context, msg string, args ...any)
	ErrorCtx(ctx context.Context, msg string, args ...any)
}

const prefix = "[preview] "

// DefaultLogger prefixes every message and appends the arguments attached
// to the context with WithDefaultArgs.
type DefaultLogger struct {
	logger *slog.Logger
}

// NewDefaultLogger writes text records to stderr.
func NewDefaultLogger(level slog.Level) *DefaultLogger {
	return NewLogger(os.Stderr, level, false)
}

// NewLogger writes to w, as JSON lines when asJSON is set.
func NewLogger(w io.Writer, level slog.Level, asJSON bool) *DefaultLogger {
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler = slog.NewTextHandler(w, opts)
	if asJSON {
		h = slog.NewJSONHandler(w, opts)
	}
	return &DefaultLogger{logger: slog.New(h)}
}

// With returns a logger that adds args to every record.
func (d *DefaultLogger) With(args ...any) *DefaultLogger {
	return &DefaultLogger{logger: d.logger.With(args...)}
}

type defaultArgsKey struct{}

func defaultArgs(ctx context.Context) []any {
	args, _ := ctx.Value(defaultArgsKey{}).([]any)
	return args
}

// WithDefaultArgs attaches args that the ...Ctx methods append to each
// record logged with ctx.
func WithDefaultArgs(ctx context.Context, args ...any) context.Context {
	prev := defaultArgs(ctx)
	merged := make([]any, 0, len(prev)+len(args))
	merged = append(append(merged, prev...), args...)
	return context.WithValue(ctx, defaultArgsKey{}, merged)
}

func (d *DefaultLogger) log(ctx context.Context, level slog.Level, msg string, args []any) {
	if !d.logger.Enabled(ctx, level) {
		return
	}
	args = append(args, defaultArgs(ctx)...)
	d.logger.Log(ctx, level, prefix+msg, args...)
}

func (d *DefaultLogger) Debug(msg string, args ...any) { d.log(context.Background(), slog.LevelDebug, msg, args) }
func (d *DefaultLogger) Info(msg string, args ...any)  { d.log(context.Background(), slog.LevelInfo, msg, args) }
func (d *DefaultLogger) Warn(msg string, args ...any)  { d.log(context.Background(), slog.LevelWarn, msg, args) }
func (d *DefaultLogger) Error(msg string, args ...any) { d.log(context.Background(), slog.LevelError, msg, args) }

func (d *DefaultLogger) DebugCtx(ctx context.Context, msg string, args ...any) {
	d.log(ctx, slog.LevelDebug, msg, args)
}

func (d *DefaultLogger) InfoCtx(ctx context.Context, msg string, args ...any) {
	d.log(ctx, slog.LevelInfo, msg, args)
}

func (d *DefaultLogger) WarnCtx(ctx context.Context, msg string, args ...any) {
	d.log(ctx, slog.LevelWarn, msg, args)
}

func (d *DefaultLogger) ErrorCtx(ctx context.Context, msg string, args ...any) {
	d.log(ctx, slog.LevelError, msg, args)
}
