// Package orchestrator owns the conversation lifecycle: it ties the realtime
// session, playback, animation and transcript together and tears them down.
package orchestrator

// Orchestrator configuration constants
const (
	// Committed transcript events buffered for subscribers
	TranscriptEventBuffer = 100

	// Status events buffered for subscribers
	StatusEventBuffer = 32
)
