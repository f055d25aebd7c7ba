// Package logger wraps zerolog with request-scoped fields carried on the
// context. Handlers and services enrich the context as they learn more about
// a request; every entry written with that context inherits the fields.
package logger

import (
	"context"
	"io"
	"os"
	"runtime/debug"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

type Options struct {
	ServiceName string
	Level       zerolog.Level
	// WarnStack attaches a stack trace to warnings as well as errors.
	WarnStack bool
	// Console switches to zerolog's human-readable writer for local runs.
	Console bool
	Output  io.Writer
}

type Logger struct {
	base      zerolog.Logger
	warnStack bool
}

type (
	entryKey     struct{}
	requestIDKey struct{}
)

func New(opts Options) *Logger {
	level := opts.Level
	if level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	out := opts.Output
	if out == nil {
		out = os.Stdout
	}
	if opts.Console {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.TimeOnly}
	}
	zerolog.TimeFieldFormat = time.RFC3339Nano

	base := zerolog.New(out).
		Level(level).
		With().
		Timestamp().
		Str("service", opts.ServiceName).
		Logger()
	return &Logger{base: base, warnStack: opts.WarnStack}
}

// Nop discards everything.
func Nop() *Logger {
	return &Logger{base: zerolog.Nop()}
}

// ParseLevel maps a config string to a level, falling back to info.
func ParseLevel(value string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(value)))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

var discard = zerolog.Nop()

// entry resolves the logger for ctx. A nil *Logger discards.
func (l *Logger) entry(ctx context.Context) *zerolog.Logger {
	if l == nil {
		return &discard
	}
	if ctx != nil {
		if e, ok := ctx.Value(entryKey{}).(*zerolog.Logger); ok {
			return e
		}
	}
	return &l.base
}

func (l *Logger) WithField(ctx context.Context, key string, value any) context.Context {
	return l.WithFields(ctx, map[string]any{key: value})
}

// WithFields returns a child context whose entries carry fields. The parent
// context is not modified.
func (l *Logger) WithFields(ctx context.Context, fields map[string]any) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	child := l.entry(ctx).With().Fields(fields).Logger()
	return context.WithValue(ctx, entryKey{}, &child)
}

// WithRequestID tags entries with id and records it for RequestID.
func (l *Logger) WithRequestID(ctx context.Context, id string) context.Context {
	ctx = l.WithField(ctx, "request_id", id)
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestID returns the id stored by WithRequestID, or "".
func RequestID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func (l *Logger) WithUserID(ctx context.Context, userID string) context.Context {
	return l.WithField(ctx, "user_id", userID)
}

func (l *Logger) WithSessionID(ctx context.Context, sessionID string) context.Context {
	return l.WithField(ctx, "session_id", sessionID)
}

func (l *Logger) WithCartID(ctx context.Context, cartID string) context.Context {
	return l.WithField(ctx, "cart_id", cartID)
}

// WithOrder tags entries with the order id and, when known, the
// customer-facing number.
func (l *Logger) WithOrder(ctx context.Context, orderID, orderNumber string) context.Context {
	fields := map[string]any{"order_id": orderID}
	if orderNumber != "" {
		fields["order_number"] = orderNumber
	}
	return l.WithFields(ctx, fields)
}

func (l *Logger) Info(ctx context.Context, msg string) {
	l.entry(ctx).Info().Msg(msg)
}

func (l *Logger) Warn(ctx context.Context, msg string) {
	ev := l.entry(ctx).Warn()
	if l != nil && l.warnStack {
		ev = ev.Str("stack", stack())
	}
	ev.Msg(msg)
}

// Error always records a stack trace.
func (l *Logger) Error(ctx context.Context, msg string, err error) {
	l.entry(ctx).Error().Err(err).Str("stack", stack()).Msg(msg)
}

func stack() string {
	return strings.TrimSpace(string(debug.Stack()))
}
