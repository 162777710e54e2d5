package tracing

import (
	"context"

	"github.com/google/uuid"
)

// ContextKey is the type for context keys
type ContextKey string

const (
	// TraceIDKey is the context key for trace ID
	TraceIDKey ContextKey = "trace_id"
	// ConnIDKey is the context key for the producer connection ID
	ConnIDKey ContextKey = "conn_id"
	// SessionIDKey is the context key for the recording session ID
	SessionIDKey ContextKey = "session_id"
	// StreamKindKey is the context key for the stream kind of a recording
	StreamKindKey ContextKey = "stream_kind"
)

// TraceContext holds tracing information
type TraceContext struct {
	TraceID    string
	ConnID     string
	SessionID  string
	StreamKind string
}

// NewTraceID generates a new trace ID
func NewTraceID() string {
	return uuid.New().String()
}

// WithTraceID adds a trace ID to the context
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// WithConnID adds a connection ID to the context
func WithConnID(ctx context.Context, connID string) context.Context {
	return context.WithValue(ctx, ConnIDKey, connID)
}

// WithSessionID adds a recording session ID to the context
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, SessionIDKey, sessionID)
}

// WithStreamKind adds a stream kind to the context
func WithStreamKind(ctx context.Context, kind string) context.Context {
	return context.WithValue(ctx, StreamKindKey, kind)
}

func value(ctx context.Context, key ContextKey) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}

// GetTraceID retrieves the trace ID from the context
func GetTraceID(ctx context.Context) string {
	return value(ctx, TraceIDKey)
}

// GetConnID retrieves the connection ID from the context
func GetConnID(ctx context.Context) string {
	return value(ctx, ConnIDKey)
}

// GetSessionID retrieves the recording session ID from the context
func GetSessionID(ctx context.Context) string {
	return value(ctx, SessionIDKey)
}

// GetStreamKind retrieves the stream kind from the context
func GetStreamKind(ctx context.Context) string {
	return value(ctx, StreamKindKey)
}

// FromContext extracts all tracing information from the context
func FromContext(ctx context.Context) *TraceContext {
	return &TraceContext{
		TraceID:    GetTraceID(ctx),
		ConnID:     GetConnID(ctx),
		SessionID:  GetSessionID(ctx),
		StreamKind: GetStreamKind(ctx),
	}
}

// NewContext creates a new context with tracing information
func NewContext(ctx context.Context, tc *TraceContext) context.Context {
	if tc.TraceID != "" {
		ctx = WithTraceID(ctx, tc.TraceID)
	}
	if tc.ConnID != "" {
		ctx = WithConnID(ctx, tc.ConnID)
	}
	if tc.SessionID != "" {
		ctx = WithSessionID(ctx, tc.SessionID)
	}
	if tc.StreamKind != "" {
		ctx = WithStreamKind(ctx, tc.StreamKind)
	}
	return ctx
}

// NewConnectionContext creates the root context for a producer connection
func NewConnectionContext(ctx context.Context, connID string) context.Context {
	ctx = WithTraceID(ctx, NewTraceID())
	return WithConnID(ctx, connID)
}

// Detach copies tracing values onto a fresh background context so work that
// outlives the connection (finalization, transcoding) keeps its log fields
// without inheriting the connection's cancellation.
func Detach(ctx context.Context) context.Context {
	return NewContext(context.Background(), FromContext(ctx))
}
