package audio

import (
	"context"
	"log/slog"
	"sync"

	apperr "github.com/GriffinCanCode/talking-portrait/internal/errors"
	"github.com/GriffinCanCode/talking-portrait/internal/realtime"
)

// PushMicrophone is a microphone fed by a remote client (e.g. a browser over
// WebSocket). Pushed samples are re-blocked to the session's block size.
// At most one stream is open at a time.
type PushMicrophone struct {
	mu  sync.Mutex
	cur *pushStream
}

// NewPushMicrophone creates an idle push microphone.
func NewPushMicrophone() *PushMicrophone { return &PushMicrophone{} }

// Open starts a stream. It fails with PERMISSION_DENIED while another stream is open.
func (p *PushMicrophone) Open(ctx context.Context, sampleRate, blockSize int) (realtime.Stream, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cur != nil {
		return nil, apperr.New(apperr.CodePermissionDenied, "microphone already in use")
	}
	if blockSize <= 0 {
		blockSize = realtime.DefaultBlockSize
	}
	p.cur = &pushStream{
		owner:     p,
		blockSize: blockSize,
		blocks:    make(chan []float32, DefaultQueueSize),
	}
	return p.cur, nil
}

// Push feeds captured samples to the open stream. It returns false when no
// stream is open and the samples were discarded.
func (p *PushMicrophone) Push(samples []float32) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.cur
	if s == nil {
		return false
	}
	s.pending = append(s.pending, samples...)
	for len(s.pending) >= s.blockSize {
		block := append([]float32(nil), s.pending[:s.blockSize]...)
		s.pending = s.pending[s.blockSize:]
		select {
		case s.blocks <- block:
		default:
			slog.Debug("pushed audio buffer full, dropping block")
		}
	}
	return true
}

// Active reports whether a stream is open.
func (p *PushMicrophone) Active() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cur != nil
}

type pushStream struct {
	owner     *PushMicrophone
	blockSize int
	pending   []float32
	blocks    chan []float32
	closed    bool
}

func (s *pushStream) Blocks() <-chan []float32 { return s.blocks }

func (s *pushStream) Close() error {
	s.owner.mu.Lock()
	defer s.owner.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.owner.cur == s {
		s.owner.cur = nil
	}
	close(s.blocks)
	return nil
}
