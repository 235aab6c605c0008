// Package trace carries trace and span IDs through contexts, HTTP headers and
// gRPC metadata so that every log line of a conversation can be correlated.
package trace

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"time"
)

// Propagation keys, shared by HTTP headers, gRPC metadata and JSON messages.
const (
	TraceIDKey   = "x-trace-id"
	SpanIDKey    = "x-span-id"
	SessionIDKey = "x-session-id"
)

const (
	traceIDBytes = 16
	spanIDBytes  = 8
)

type ctxKey struct{}

// Context identifies one span. SessionID is set for everything that happens
// inside a conversation.
type Context struct {
	TraceID      string
	SpanID       string
	ParentSpanID string
	SessionID    string
}

// New starts a fresh trace.
func New() Context {
	return Context{TraceID: randomHex(traceIDBytes), SpanID: randomHex(spanIDBytes)}
}

// ForSession starts the root trace of a conversation. A UUID session ID
// doubles as the trace ID.
func ForSession(sessionID string) Context {
	tc := New()
	tc.SessionID = sessionID
	if id := strings.ReplaceAll(sessionID, "-", ""); validID(id, traceIDBytes) {
		tc.TraceID = strings.ToLower(id)
	}
	return tc
}

// Child returns a new span in the same trace and session.
func (c Context) Child() Context {
	if c.TraceID == "" {
		return New()
	}
	return Context{
		TraceID:      c.TraceID,
		SpanID:       randomHex(spanIDBytes),
		ParentSpanID: c.SpanID,
		SessionID:    c.SessionID,
	}
}

// FromContext returns the trace stored in ctx.
func FromContext(ctx context.Context) (Context, bool) {
	tc, ok := ctx.Value(ctxKey{}).(Context)
	return tc, ok
}

// WithContext stores tc in ctx.
func WithContext(ctx context.Context, tc Context) context.Context {
	return context.WithValue(ctx, ctxKey{}, tc)
}

// fromCarrier continues a remote trace. The caller's span becomes the parent
// and a malformed or missing trace ID starts a new trace.
func fromCarrier(get func(key string) string) Context {
	tc := Context{
		TraceID:      strings.ToLower(get(TraceIDKey)),
		SpanID:       randomHex(spanIDBytes),
		ParentSpanID: get(SpanIDKey),
		SessionID:    get(SessionIDKey),
	}
	if !validID(tc.TraceID, traceIDBytes) {
		tc.TraceID = randomHex(traceIDBytes)
		tc.ParentSpanID = ""
	}
	return tc
}

func randomHex(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

func validID(id string, n int) bool {
	if len(id) != 2*n {
		return false
	}
	_, err := hex.DecodeString(id)
	return err == nil
}

func (c Context) logArgs() []any {
	args := []any{"trace_id", c.TraceID, "span_id", c.SpanID}
	if c.ParentSpanID != "" {
		args = append(args, "parent_span_id", c.ParentSpanID)
	}
	if c.SessionID != "" {
		args = append(args, "session_id", c.SessionID)
	}
	return args
}

// Logger returns the default logger annotated with the trace in ctx.
func Logger(ctx context.Context) *slog.Logger {
	tc, ok := FromContext(ctx)
	if !ok {
		return slog.Default()
	}
	return slog.Default().With(tc.logArgs()...)
}

// Span times one operation.
type Span struct {
	Name      string
	Ctx       Context
	StartTime time.Time
	EndTime   time.Time
	Attrs     map[string]any
}

// StartSpan opens a span under the trace in ctx, or a new trace if there is none.
func StartSpan(ctx context.Context, name string) (context.Context, *Span) {
	parent, _ := FromContext(ctx)
	s := &Span{
		Name:      name,
		Ctx:       parent.Child(),
		StartTime: time.Now(),
		Attrs:     make(map[string]any),
	}
	return WithContext(ctx, s.Ctx), s
}

// SetAttr records a key/value logged when the span ends.
func (s *Span) SetAttr(key string, val any) {
	s.Attrs[key] = val
}

// End closes the span and logs it at debug level.
func (s *Span) End() {
	s.EndTime = time.Now()
	slog.Debug("span ended", "span", s)
}

// Duration is zero until End is called.
func (s *Span) Duration() time.Duration {
	if s.EndTime.IsZero() {
		return 0
	}
	return s.EndTime.Sub(s.StartTime)
}

// LogValue implements slog.LogValuer. Attributes are sorted by key.
func (s *Span) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.String("name", s.Name),
		slog.String("trace_id", s.Ctx.TraceID),
		slog.String("span_id", s.Ctx.SpanID),
		slog.Duration("duration", s.Duration()),
	}
	if s.Ctx.SessionID != "" {
		attrs = append(attrs, slog.String("session_id", s.Ctx.SessionID))
	}
	for _, k := range slices.Sorted(maps.Keys(s.Attrs)) {
		attrs = append(attrs, slog.Any(k, s.Attrs[k]))
	}
	return slog.GroupValue(attrs...)
}
