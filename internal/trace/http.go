package trace

import (
	"encoding/json"
	"net/http"
	"strings"
)

// Middleware continues the caller's trace from request headers, or starts one,
// and echoes the trace ID so clients can quote it in bug reports.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tc := fromCarrier(r.Header.Get)
		w.Header().Set(TraceIDKey, tc.TraceID)
		next.ServeHTTP(w, r.WithContext(WithContext(r.Context(), tc)))
	})
}

// ExtractFromJSON reads the optional trace_id and session_id fields of a
// WebSocket message. ok is false when the message carries no usable trace ID.
func ExtractFromJSON(data []byte) (tc Context, ok bool) {
	var msg struct {
		TraceID   string `json:"trace_id"`
		SessionID string `json:"session_id"`
	}
	if err := json.Unmarshal(data, &msg); err != nil || msg.TraceID == "" {
		return New(), false
	}
	tc = fromCarrier(func(key string) string {
		switch key {
		case TraceIDKey:
			return msg.TraceID
		case SessionIDKey:
			return msg.SessionID
		}
		return ""
	})
	return tc, strings.EqualFold(tc.TraceID, msg.TraceID)
}
