// Package logging is the slog setup shared by the CLI and the conversion,
// rendering and indexing packages. Logs go to stderr so that command output
// on stdout stays machine-readable.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
)

// ContextKey keys values this package reads from a context.
type ContextKey string

// PechaIDKey carries the id of the pecha being processed.
const PechaIDKey ContextKey = "pecha_id"

// Level is a verbosity threshold.
type Level int

// Levels, from most to least verbose.
const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var slogLevels = map[Level]slog.Level{
	LevelDebug: slog.LevelDebug,
	LevelInfo:  slog.LevelInfo,
	LevelWarn:  slog.LevelWarn,
	LevelError: slog.LevelError,
}

// Format selects the handler.
type Format int

const (
	FormatJSON Format = iota
	FormatText
)

var (
	mu     sync.Mutex
	level  = LevelInfo
	format = FormatText
	output io.Writer = os.Stderr
	logger *slog.Logger
)

func init() {
	InitLogger(LevelInfo, FormatText)
}

// ParseLevel maps "debug", "info", "warn" and "error" onto a Level.
// Unknown names yield LevelInfo.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	}
	return LevelInfo
}

// ParseFormat maps "json" onto FormatJSON and anything else onto FormatText.
func ParseFormat(s string) Format {
	if strings.EqualFold(strings.TrimSpace(s), "json") {
		return FormatJSON
	}
	return FormatText
}

// InitLogger replaces the process logger. It also becomes slog's default.
func InitLogger(l Level, f Format) {
	mu.Lock()
	defer mu.Unlock()
	level, format = l, f
	rebuild()
}

// SetOutput redirects logging, keeping level and format. nil means stderr.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	if w == nil {
		w = os.Stderr
	}
	output = w
	rebuild()
}

func rebuild() {
	sl, ok := slogLevels[level]
	if !ok {
		sl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{
		Level: sl,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				return slog.String(slog.TimeKey, a.Value.Time().Format(time.RFC3339))
			}
			return a
		},
	}
	var h slog.Handler = slog.NewTextHandler(output, opts)
	if format == FormatJSON {
		h = slog.NewJSONHandler(output, opts)
	}
	logger = slog.New(h)
	slog.SetDefault(logger)
}

// WithPechaID returns ctx carrying pechaID for the *Context helpers.
func WithPechaID(ctx context.Context, pechaID string) context.Context {
	return context.WithValue(ctx, PechaIDKey, pechaID)
}

// GetPechaID returns the pecha id stored by WithPechaID, or "".
func GetPechaID(ctx context.Context) string {
	id, _ := ctx.Value(PechaIDKey).(string)
	return id
}

// LoggerFromContext returns the process logger annotated with the values
// found in ctx.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if id := GetPechaID(ctx); id != "" {
		return logger.With("pecha_id", id)
	}
	return logger
}

func Debug(msg string, args ...any) { logger.Debug(msg, args...) }
func Info(msg string, args ...any)  { logger.Info(msg, args...) }
func Warn(msg string, args ...any)  { logger.Warn(msg, args...) }
func Error(msg string, args ...any) { logger.Error(msg, args...) }

func DebugContext(ctx context.Context, msg string, args ...any) {
	LoggerFromContext(ctx).DebugContext(ctx, msg, args...)
}

func InfoContext(ctx context.Context, msg string, args ...any) {
	LoggerFromContext(ctx).InfoContext(ctx, msg, args...)
}

func WarnContext(ctx context.Context, msg string, args ...any) {
	LoggerFromContext(ctx).WarnContext(ctx, msg, args...)
}

func ErrorContext(ctx context.Context, msg string, args ...any) {
	LoggerFromContext(ctx).ErrorContext(ctx, msg, args...)
}

// event logs msg with the fixed attributes first.
func event(l slog.Level, msg string, fixed []any, args []any) {
	logger.Log(context.Background(), l, msg, append(fixed, args...)...)
}

// ConversionEvent logs one stage of a pecha conversion.
func ConversionEvent(pechaID, volume, stage string, args ...any) {
	event(slog.LevelInfo, "conversion", []any{"pecha_id", pechaID, "volume", volume, "stage", stage}, args)
}

// ConversionError logs a pecha that failed to convert.
func ConversionError(pechaID, operation string, err error, args ...any) {
	event(slog.LevelError, "conversion_error", []any{"pecha_id", pechaID, "operation", operation, "error", err.Error()}, args)
}

// RenderEvent logs a written Markdown file.
func RenderEvent(documentID, path string, duration time.Duration, args ...any) {
	event(slog.LevelInfo, "render", []any{"document_id", documentID, "path", path, "duration_ms", duration.Milliseconds()}, args)
}
