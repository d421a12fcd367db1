// Package observability holds the process-wide logger, Prometheus
// collectors and tracer.
package observability

import (
	"context"
	"log/slog"
	"os"
	"time"
)

// Logger wraps slog.Logger to provide specialized logging methods.
type Logger struct {
	*slog.Logger
}

// GlobalLogger is the default logger instance for the application.
var GlobalLogger *Logger

func init() {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	GlobalLogger = &Logger{Logger: slog.New(&contextHandler{Handler: handler})}
}

// SetLogger replaces the global logger. The handler is wrapped so request
// and trace identifiers stored in the context are attached to every record.
func SetLogger(h slog.Handler) {
	GlobalLogger = &Logger{Logger: slog.New(&contextHandler{Handler: h})}
	slog.SetDefault(GlobalLogger.Logger)
}

type ctxKey int

const (
	requestIDKey ctxKey = iota
	userIDKey
)

// WithRequestID returns a new context carrying the request ID.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// WithUserID returns a new context carrying the authenticated moderator.
func WithUserID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, userIDKey, id)
}

// ExtractRequestID returns the request ID from the context if set.
func ExtractRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// ExtractUserID returns the moderator subject from the context if set.
func ExtractUserID(ctx context.Context) string {
	if id, ok := ctx.Value(userIDKey).(string); ok {
		return id
	}
	return ""
}

type contextHandler struct {
	slog.Handler
}

func (h *contextHandler) Handle(ctx context.Context, r slog.Record) error {
	if id := ExtractRequestID(ctx); id != "" {
		r.AddAttrs(slog.String("request_id", id))
	}
	if id := ExtractUserID(ctx); id != "" {
		r.AddAttrs(slog.String("user_id", id))
	}
	if traceID := TraceIDFromContext(ctx); traceID != "" {
		r.AddAttrs(slog.String("trace_id", traceID))
	}
	return h.Handler.Handle(ctx, r)
}

func (h *contextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &contextHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h *contextHandler) WithGroup(name string) slog.Handler {
	return &contextHandler{Handler: h.Handler.WithGroup(name)}
}

// StoreLogger tags repository log lines with the backing table or index.
// Successful reads and writes log at debug level.
type StoreLogger struct {
	store string
}

// NewStoreLogger returns a StoreLogger for the named table or index.
func NewStoreLogger(store string) *StoreLogger {
	return &StoreLogger{store: store}
}

func (l *StoreLogger) attrs(op string, extra []slog.Attr) []slog.Attr {
	return append([]slog.Attr{slog.String("store", l.store), slog.String("op", op)}, extra...)
}

// Write logs a completed mutation.
func (l *StoreLogger) Write(ctx context.Context, op string, attrs ...slog.Attr) {
	GlobalLogger.LogAttrs(ctx, slog.LevelDebug, "store write", l.attrs(op, attrs)...)
}

// Read logs a completed read or scan.
func (l *StoreLogger) Read(ctx context.Context, op string, attrs ...slog.Attr) {
	GlobalLogger.LogAttrs(ctx, slog.LevelDebug, "store read", l.attrs(op, attrs)...)
}

// Fail logs a failed store call.
func (l *StoreLogger) Fail(ctx context.Context, op string, err error, attrs ...slog.Attr) {
	attrs = append(attrs, slog.String("error", err.Error()))
	GlobalLogger.LogAttrs(ctx, slog.LevelError, "store error", l.attrs(op, attrs)...)
}

// Job logs the lifecycle of one background run, such as a reconciliation
// sweep, with its elapsed time on completion.
type Job struct {
	name    string
	started time.Time
}

// StartJob logs the start of name and returns a handle for its outcome.
func StartJob(ctx context.Context, name string) *Job {
	GlobalLogger.LogAttrs(ctx, slog.LevelInfo, "job started", slog.String("job", name))
	return &Job{name: name, started: time.Now()}
}

// Done logs successful completion.
func (j *Job) Done(ctx context.Context, attrs ...slog.Attr) {
	attrs = append(attrs, slog.String("job", j.name), slog.Duration("elapsed", time.Since(j.started)))
	GlobalLogger.LogAttrs(ctx, slog.LevelInfo, "job completed", attrs...)
}

// Failed logs an aborted run.
func (j *Job) Failed(ctx context.Context, err error, attrs ...slog.Attr) {
	attrs = append(attrs,
		slog.String("job", j.name),
		slog.Duration("elapsed", time.Since(j.started)),
		slog.String("error", err.Error()),
	)
	GlobalLogger.LogAttrs(ctx, slog.LevelError, "job failed", attrs...)
}
