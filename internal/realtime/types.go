// Package realtime owns the bidirectional audio session with the conversational model.
package realtime

import "context"

// State is the lifecycle state of a realtime session.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateLive
	StateError
	StateClosed
)

var stateNames = [...]string{"idle", "connecting", "live", "error", "closed"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// Open reports whether the state holds session resources.
func (s State) Open() bool { return s == StateConnecting || s == StateLive }

// Setup carries the per-session parameters negotiated at connect time.
type Setup struct {
	Model            string
	Voice            string
	Persona          string
	InputSampleRate  int
	OutputSampleRate int
}

// ServerMessage is one inbound event. Each populated field is dispatched independently.
type ServerMessage struct {
	Audio            []byte // PCM16 LE at the output rate
	InputTranscript  string
	OutputTranscript string
	TurnComplete     bool
	Interrupted      bool
}

// Microphone acquires a capture stream. Open fails with a PERMISSION_DENIED
// error when access is refused.
type Microphone interface {
	Open(ctx context.Context, sampleRate, blockSize int) (Stream, error)
}

// Stream delivers fixed-size blocks of captured samples in [-1, 1].
// Blocks is closed when the stream ends.
type Stream interface {
	Blocks() <-chan []float32
	Close() error
}

// Dialer opens the remote session. A successful Dial means the session is open.
type Dialer interface {
	Dial(ctx context.Context, setup Setup) (Conn, error)
}

// Conn is an open remote session.
type Conn interface {
	SendAudio(pcm []byte) error
	Receive() (*ServerMessage, error)
	Close() error
}

// Handler receives dispatched session events. Methods are called from the
// session's receive goroutine and must not block for long.
type Handler interface {
	OnAudio(pcm []byte)
	OnInputTranscript(text string)
	OnOutputTranscript(text string)
	OnTurnComplete()
	OnInterrupted()
	OnStateChange(from, to State)
	OnError(err error)
}
