// Package server exposes the conversation over HTTP, WebSocket and gRPC health
package server

import "time"

// Server configuration constants
const (
	// Largest accepted portrait upload
	MaxPortraitBytes = 16 << 20

	// Per-connection WebSocket rate limiting. Browser microphones send several
	// audio frames per second, so the limit is generous.
	RateLimitMessages = 120
	RateLimitWindow   = time.Second

	// Deadline for a single write to one client
	WriteTimeout = 2 * time.Second

	// Messages queued per client before new ones are dropped. Sized for a
	// few seconds of frames plus transcript fragments.
	ClientQueueSize = 256

	// Largest inbound WebSocket message (base64 audio frames)
	MaxMessageBytes = 1 << 20

	// Service names reported by the gRPC health server
	HealthService         = "talkingportrait.Conversation"
	AnalysisHealthService = "talkingportrait.Analysis"
)
