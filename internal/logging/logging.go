// Package logging wraps logrus with request-scoped trace and session fields.
package logging

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type contextKey string

const (
	TraceIDKey   contextKey = "trace_id"
	SessionIDKey contextKey = "session_id"
	UserIDKey    contextKey = "user_id"
	RoleKey      contextKey = "role"
)

// Logger is a logrus logger bound to a service name.
type Logger struct {
	*logrus.Logger
	service string
}

// New creates a logger. level is a logrus level name, format is "json" or "text".
func New(service, level, format string) *Logger {
	l := logrus.New()
	l.SetOutput(os.Stdout)

	lvl, err := logrus.ParseLevel(strings.ToLower(level))
	if err != nil {
		lvl = logrus.InfoLevel
	}
	l.SetLevel(lvl)

	if strings.EqualFold(format, "text") {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		l.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	}

	return &Logger{Logger: l, service: service}
}

// NewNop returns a logger that discards everything. Used by tests.
func NewNop() *Logger {
	l := New("test", "panic", "json")
	l.SetOutput(io.Discard)
	return l
}

// Service returns the bound service name.
func (l *Logger) Service() string {
	return l.service
}

// WithContext returns an entry carrying the service name and any trace,
// session or user id found in ctx.
func (l *Logger) WithContext(ctx context.Context) *logrus.Entry {
	entry := l.Logger.WithField("service", l.service)
	if ctx == nil {
		return entry
	}
	if traceID := GetTraceID(ctx); traceID != "" {
		entry = entry.WithField(string(TraceIDKey), traceID)
	}
	if sessionID := GetSessionID(ctx); sessionID != "" {
		entry = entry.WithField(string(SessionIDKey), sessionID)
	}
	if userID := GetUserID(ctx); userID != "" {
		entry = entry.WithField(string(UserIDKey), userID)
	}
	return entry.WithContext(ctx)
}

// LogRequest logs a finished HTTP request.
func (l *Logger) LogRequest(ctx context.Context, method, path string, status int, duration time.Duration) {
	entry := l.WithContext(ctx).WithFields(logrus.Fields{
		"method":      method,
		"path":        path,
		"status":      status,
		"duration_ms": duration.Milliseconds(),
	})
	switch {
	case status >= 500:
		entry.Error("request failed")
	case status >= 400:
		entry.Warn("request rejected")
	default:
		entry.Info("request completed")
	}
}

// LogSecurityEvent logs an auth or abuse related event.
func (l *Logger) LogSecurityEvent(ctx context.Context, event string, fields map[string]interface{}) {
	l.WithContext(ctx).WithField("security_event", event).WithFields(fields).Warn("security event")
}

// NewTraceID generates a new trace id.
func NewTraceID() string {
	return uuid.New().String()
}

func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

func GetTraceID(ctx context.Context) string {
	v, _ := ctx.Value(TraceIDKey).(string)
	return v
}

func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, SessionIDKey, sessionID)
}

func GetSessionID(ctx context.Context) string {
	v, _ := ctx.Value(SessionIDKey).(string)
	return v
}

func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

func GetUserID(ctx context.Context) string {
	v, _ := ctx.Value(UserIDKey).(string)
	return v
}

func GetRole(ctx context.Context) string {
	v, _ := ctx.Value(RoleKey).(string)
	return v
}
