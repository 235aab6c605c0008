package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"google.golang.org/grpc/health"

	"github.com/GriffinCanCode/talking-portrait/internal/codec"
	"github.com/GriffinCanCode/talking-portrait/internal/config"
	apperr "github.com/GriffinCanCode/talking-portrait/internal/errors"
	"github.com/GriffinCanCode/talking-portrait/internal/orchestrator"
	"github.com/GriffinCanCode/talking-portrait/internal/portrait"
	"github.com/GriffinCanCode/talking-portrait/internal/trace"
	"github.com/GriffinCanCode/talking-portrait/internal/transcript"
)

// Message types.
type Message struct {
	Type string `json:"type"`
}

type AudioMessage struct {
	Type    string `json:"type"`
	Data    string `json:"data"`
	TraceID string `json:"trace_id,omitempty"`
}

type FrameMessage struct {
	Type string `json:"type"`
	Data string `json:"data"`
}

type TranscriptMessage struct {
	Type      string `json:"type"`
	Speaker   string `json:"speaker"`
	Text      string `json:"text"`
	Committed bool   `json:"committed"`
}

type StatusMessage struct {
	Type string `json:"type"`
	orchestrator.Status
}

type ErrorMessage struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// Controller is the conversation surface the server drives.
type Controller interface {
	LoadPortrait(ctx context.Context, data []byte, reference bool) (*portrait.Portrait, error)
	Start(ctx context.Context) (orchestrator.Status, error)
	Stop()
	Status() orchestrator.Status
	StatusEvents() <-chan orchestrator.Status
	Transcripts() transcript.Store
}

// AudioSink accepts microphone samples pushed by a browser.
type AudioSink interface {
	Push(samples []float32) bool
}

// rateLimiter tracks message timestamps using a sliding window.
type rateLimiter struct {
	timestamps []time.Time
	mu         sync.Mutex
}

// allow checks if a message is allowed and records the timestamp if so.
func (r *rateLimiter) allow() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-RateLimitWindow)

	valid := r.timestamps[:0]
	for _, t := range r.timestamps {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}
	r.timestamps = valid

	if len(r.timestamps) >= RateLimitMessages {
		return false
	}

	r.timestamps = append(r.timestamps, now)
	return true
}

// client is one WebSocket connection. All writes go through out and a single
// writer goroutine, so a client sees messages in the order they were sent.
type client struct {
	conn    *websocket.Conn
	out     chan any
	limiter rateLimiter
}

func newClient(conn *websocket.Conn) *client {
	return &client{conn: conn, out: make(chan any, ClientQueueSize)}
}

// send queues msg without blocking. A client that falls this far behind
// loses messages instead of stalling the broadcaster.
func (c *client) send(msg any) bool {
	select {
	case c.out <- msg:
		return true
	default:
		return false
	}
}

func (c *client) writeLoop(ctx context.Context, log *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-c.out:
			wctx, cancel := context.WithTimeout(ctx, WriteTimeout)
			err := wsjson.Write(wctx, c.conn, msg)
			cancel()
			if err != nil {
				log.Debug("websocket write error", "error", err)
				_ = c.conn.Close(websocket.StatusPolicyViolation, "write failed")
				return
			}
		}
	}
}

// Server handles HTTP and WebSocket connections.
type Server struct {
	ctrl   Controller
	mic    AudioSink
	frames *FrameHub
	health *health.Server

	mu      sync.RWMutex
	clients map[*client]struct{}
}

// New creates a server. mic may be nil when the microphone is a local device.
// frames must be the sink the controller draws into.
func New(ctrl Controller, mic AudioSink, frames *FrameHub, _ *config.Config) *Server {
	s := &Server{
		ctrl:    ctrl,
		mic:     mic,
		frames:  frames,
		health:  health.NewServer(),
		clients: make(map[*client]struct{}),
	}
	s.setHealth(ctrl.Status().State)

	go s.broadcastStatus()
	go s.broadcastTranscripts()
	go s.broadcastFrames()

	return s
}

// Health returns the gRPC health server tracking the conversation state.
func (s *Server) Health() *health.Server { return s.health }

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// WebSocket endpoint
	mux.HandleFunc("/ws", s.handleWebSocket)

	// REST API
	mux.HandleFunc("POST /api/portrait", s.handlePortrait)
	mux.HandleFunc("POST /api/session/start", s.handleSessionStart)
	mux.HandleFunc("POST /api/session/stop", s.handleSessionStop)
	mux.HandleFunc("GET /api/session", s.handleSession)
	mux.HandleFunc("GET /api/transcript", s.handleTranscript)

	// Apply middleware: trace -> CORS
	return corsMiddleware(trace.Middleware(mux))
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("websocket accept error", "error", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()
	conn.SetReadLimit(MaxMessageBytes)

	baseCtx := r.Context()
	log := trace.Logger(baseCtx)
	log.Info("websocket connected", "remote", r.RemoteAddr)

	c := newClient(conn)
	writeCtx, stopWriter := context.WithCancel(baseCtx)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.writeLoop(writeCtx, log)
	}()

	// The snapshot is queued before any broadcast can reach this client.
	s.mu.Lock()
	c.send(StatusMessage{Type: "status", Status: s.ctrl.Status()})
	if data, ok := s.frames.Latest(); ok {
		c.send(FrameMessage{Type: "frame", Data: data})
	}
	s.clients[c] = struct{}{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.clients, c)
		s.mu.Unlock()
		stopWriter()
		<-writerDone
	}()

	for {
		var msg json.RawMessage
		if err := wsjson.Read(baseCtx, conn, &msg); err != nil {
			log.Debug("websocket read error", "error", err)
			return
		}

		if !c.limiter.allow() {
			log.Warn("rate limit exceeded", "remote", r.RemoteAddr)
			c.send(ErrorMessage{Type: "error", Message: "rate limit exceeded"})
			continue
		}

		var base Message
		if err := json.Unmarshal(msg, &base); err != nil {
			continue
		}

		ctx := baseCtx
		if tc, ok := trace.ExtractFromJSON(msg); ok {
			ctx = trace.WithContext(ctx, tc)
		}

		switch base.Type {
		case "audio":
			var audio AudioMessage
			if err := json.Unmarshal(msg, &audio); err != nil {
				continue
			}
			s.handleAudio(ctx, audio)
		case "start":
			if _, err := s.ctrl.Start(ctx); err != nil {
				c.send(errorMessage(err))
			}
		case "stop":
			s.ctrl.Stop()
		}
	}
}

// handleAudio feeds one browser microphone frame into the push microphone.
// Undecodable frames are dropped.
func (s *Server) handleAudio(ctx context.Context, msg AudioMessage) {
	if s.mic == nil {
		return
	}
	log := trace.Logger(ctx)
	raw, err := codec.DecodeIncoming(msg.Data)
	if err != nil {
		log.Debug("dropping audio frame", "error", err)
		return
	}
	samples, err := codec.DecodeSamples(raw)
	if err != nil {
		log.Debug("dropping audio frame", "error", err)
		return
	}
	s.mic.Push(samples)
}

// broadcast queues msg for every client. Per-client order is preserved.
func (s *Server) broadcast(msg any) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for c := range s.clients {
		if !c.send(msg) {
			slog.Debug("dropping message for slow client")
		}
	}
}

func (s *Server) broadcastStatus() {
	for st := range s.ctrl.StatusEvents() {
		s.setHealth(st.State)
		s.broadcast(StatusMessage{Type: "status", Status: st})
	}
}

func (s *Server) broadcastTranscripts() {
	for evt := range s.ctrl.Transcripts().Events() {
		s.broadcast(TranscriptMessage{
			Type:      "transcript",
			Speaker:   string(evt.Speaker),
			Text:      evt.Text,
			Committed: evt.Committed,
		})
	}
}

func (s *Server) broadcastFrames() {
	for data := range s.frames.Encoded() {
		s.broadcast(FrameMessage{Type: "frame", Data: data})
	}
}

func (s *Server) handlePortrait(w http.ResponseWriter, r *http.Request) {
	ctx, span := trace.StartSpan(r.Context(), "handle_portrait")
	defer span.End()

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxPortraitBytes))
	if err != nil {
		writeError(w, apperr.Wrap(err, apperr.CodeInvalidArgument, "cannot read portrait upload"))
		return
	}
	reference, _ := strconv.ParseBool(r.URL.Query().Get("reference"))

	p, err := s.ctrl.LoadPortrait(ctx, data, reference)
	if err != nil {
		span.SetAttr("error", err.Error())
		trace.Logger(ctx).Warn("portrait rejected", "error", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleSessionStart(w http.ResponseWriter, r *http.Request) {
	st, err := s.ctrl.Start(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleSessionStop(w http.ResponseWriter, r *http.Request) {
	s.ctrl.Stop()
	writeJSON(w, http.StatusOK, s.ctrl.Status())
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ctrl.Status())
}

func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	entries := s.ctrl.Transcripts().Entries()
	if entries == nil {
		entries = []transcript.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}
