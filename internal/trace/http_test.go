package trace

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"google.golang.org/grpc/metadata"
)

func TestMiddlewarePropagatesHeader(t *testing.T) {
	var got Context
	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = FromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	req.Header.Set(TraceIDKey, clientTrace)
	req.Header.Set(SpanIDKey, clientSpan)
	req.Header.Set(SessionIDKey, "s-1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if got.TraceID != clientTrace || got.ParentSpanID != clientSpan || got.SessionID != "s-1" {
		t.Errorf("context = %+v", got)
	}
	if rec.Header().Get(TraceIDKey) != clientTrace {
		t.Errorf("response header = %q", rec.Header().Get(TraceIDKey))
	}
}

func TestMiddlewareReplacesBadTrace(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	req.Header.Set(TraceIDKey, "abc123")
	rec := httptest.NewRecorder()
	Middleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})).ServeHTTP(rec, req)

	if id := rec.Header().Get(TraceIDKey); id == "abc123" || !validID(id, traceIDBytes) {
		t.Errorf("generated trace ID = %q", id)
	}
}

func TestExtractFromJSON(t *testing.T) {
	tests := []struct {
		name   string
		msg    string
		wantOK bool
	}{
		{"trace and session", `{"type":"audio","trace_id":"` + clientTrace + `","session_id":"s-1"}`, true},
		{"no trace", `{"type":"audio"}`, false},
		{"malformed trace", `{"type":"audio","trace_id":"t1"}`, false},
		{"not json", `audio`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tc, ok := ExtractFromJSON([]byte(tt.msg))
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && (tc.TraceID != clientTrace || tc.SessionID != "s-1") {
				t.Errorf("context = %+v", tc)
			}
			if !validID(tc.TraceID, traceIDBytes) {
				t.Errorf("TraceID = %q", tc.TraceID)
			}
		})
	}
}

func TestExtractMetadata(t *testing.T) {
	md := metadata.Pairs(TraceIDKey, clientTrace, SpanIDKey, clientSpan)
	ctx := extractMetadata(metadata.NewIncomingContext(context.Background(), md))

	tc, ok := FromContext(ctx)
	if !ok {
		t.Fatal("no trace context")
	}
	if tc.TraceID != clientTrace || tc.ParentSpanID != clientSpan {
		t.Errorf("context = %+v", tc)
	}
	if _, ok := FromContext(extractMetadata(context.Background())); !ok {
		t.Error("missing metadata should still create a trace")
	}
}
