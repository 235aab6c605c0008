package realtime

import (
	"context"
	"sync"

	"github.com/GriffinCanCode/talking-portrait/internal/codec"
	apperr "github.com/GriffinCanCode/talking-portrait/internal/errors"
	"github.com/GriffinCanCode/talking-portrait/internal/trace"
)

// Manager drives one session at a time through idle → connecting → live → error|closed.
// Failures are never retried; the caller starts a new session.
type Manager struct {
	mic       Microphone
	dialer    Dialer
	handler   Handler
	blockSize int

	mu     sync.Mutex
	state  State
	stream Stream
	conn   Conn
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// transitionMu is held from a state change until its notification has
	// been delivered, so handlers see transitions in the order they happened.
	transitionMu sync.Mutex
}

// NewManager creates a manager. blockSize is the number of samples per outbound frame.
func NewManager(mic Microphone, dialer Dialer, handler Handler, blockSize int) *Manager {
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	return &Manager{mic: mic, dialer: dialer, handler: handler, blockSize: blockSize}
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Start acquires the microphone, opens the remote session and begins streaming.
// It returns once the session is live or has failed.
func (m *Manager) Start(ctx context.Context, setup Setup) error {
	ctx, span := trace.StartSpan(ctx, "realtime_start")
	defer span.End()
	span.SetAttr("voice", setup.Voice)
	log := trace.Logger(ctx)

	m.transitionMu.Lock()
	m.mu.Lock()
	if m.state.Open() {
		m.mu.Unlock()
		m.transitionMu.Unlock()
		return apperr.New(apperr.CodeSessionActive, "realtime session already open")
	}
	from := m.state
	m.state = StateConnecting
	m.mu.Unlock()
	m.handler.OnStateChange(from, StateConnecting)
	m.transitionMu.Unlock()

	stream, err := m.mic.Open(ctx, setup.InputSampleRate, m.blockSize)
	if err != nil {
		if apperr.CodeOf(err) == apperr.CodeUnknown {
			err = apperr.Wrap(err, apperr.CodePermissionDenied, "microphone unavailable")
		}
		span.SetAttr("error", err.Error())
		m.fail(err)
		return err
	}
	if !m.stillConnecting() {
		_ = stream.Close()
		return apperr.New(apperr.CodeCancelled, "session stopped while connecting")
	}

	conn, err := m.dialer.Dial(ctx, setup)
	if err != nil {
		_ = stream.Close()
		err = apperr.Wrap(err, apperr.CodeConnectionFailed, "failed to open realtime session")
		span.SetAttr("error", err.Error())
		m.fail(err)
		return err
	}

	// The session outlives the request that started it.
	sessCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	m.transitionMu.Lock()
	defer m.transitionMu.Unlock()
	m.mu.Lock()
	if m.state != StateConnecting {
		m.mu.Unlock()
		cancel()
		_ = conn.Close()
		_ = stream.Close()
		return apperr.New(apperr.CodeCancelled, "session stopped while connecting")
	}
	m.stream, m.conn, m.cancel = stream, conn, cancel
	m.state = StateLive
	m.wg.Add(2)
	m.mu.Unlock()

	// A failure in either goroutine waits for the live notification below.
	go m.pumpMicrophone(sessCtx, stream, conn)
	go m.receiveLoop(sessCtx, conn)

	log.Info("realtime session live", "model", setup.Model, "voice", setup.Voice)
	m.handler.OnStateChange(StateConnecting, StateLive)
	return nil
}

// Stop closes the remote session and releases the microphone. Safe to call
// in any state and more than once.
func (m *Manager) Stop() {
	m.transitionMu.Lock()
	defer m.transitionMu.Unlock()
	m.mu.Lock()
	if !m.state.Open() {
		m.mu.Unlock()
		return
	}
	from := m.state
	m.state = StateClosed
	release := m.detachLocked()
	m.mu.Unlock()

	release()
	m.handler.OnStateChange(from, StateClosed)
}

// Wait blocks until the session goroutines have exited.
func (m *Manager) Wait() { m.wg.Wait() }

func (m *Manager) stillConnecting() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == StateConnecting
}

// fail moves an open session to error, releases everything and surfaces err.
// OnError runs after the transition lock is released, so the handler may call Stop.
func (m *Manager) fail(err error) {
	m.transitionMu.Lock()
	m.mu.Lock()
	if !m.state.Open() {
		m.mu.Unlock()
		m.transitionMu.Unlock()
		return
	}
	from := m.state
	m.state = StateError
	release := m.detachLocked()
	m.mu.Unlock()

	release()
	m.handler.OnStateChange(from, StateError)
	m.transitionMu.Unlock()
	m.handler.OnError(err)
}

// detachLocked takes ownership of the session resources and returns a func that frees them.
func (m *Manager) detachLocked() func() {
	stream, conn, cancel := m.stream, m.conn, m.cancel
	m.stream, m.conn, m.cancel = nil, nil, nil
	return func() {
		if cancel != nil {
			cancel()
		}
		if conn != nil {
			_ = conn.Close()
		}
		if stream != nil {
			_ = stream.Close()
		}
	}
}

// pumpMicrophone encodes every captured block and sends it without waiting on the model.
func (m *Manager) pumpMicrophone(ctx context.Context, stream Stream, conn Conn) {
	defer m.wg.Done()
	log := trace.Logger(ctx)
	blocks := stream.Blocks()
	for {
		select {
		case <-ctx.Done():
			return
		case block, ok := <-blocks:
			if !ok {
				if ctx.Err() == nil {
					m.fail(apperr.New(apperr.CodePermissionDenied, "microphone stream ended"))
				}
				return
			}
			if err := conn.SendAudio(codec.EncodeOutgoing(block)); err != nil {
				if ctx.Err() != nil {
					return
				}
				log.Warn("realtime send failed", "error", err)
				m.fail(apperr.Wrap(err, apperr.CodeConnectionFailed, "realtime send failed"))
				return
			}
		}
	}
}

func (m *Manager) receiveLoop(ctx context.Context, conn Conn) {
	defer m.wg.Done()
	log := trace.Logger(ctx)
	for {
		msg, err := conn.Receive()
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			log.Warn("realtime receive failed", "error", err)
			m.fail(apperr.Wrap(err, apperr.CodeConnectionFailed, "realtime session lost"))
			return
		}
		if msg != nil {
			m.dispatch(msg)
		}
	}
}

// dispatch routes each populated field of msg to its handler. An interruption
// is applied before any audio in the same message.
func (m *Manager) dispatch(msg *ServerMessage) {
	if msg.Interrupted {
		m.handler.OnInterrupted()
	}
	if len(msg.Audio) > 0 {
		m.handler.OnAudio(msg.Audio)
	}
	if msg.InputTranscript != "" {
		m.handler.OnInputTranscript(msg.InputTranscript)
	}
	if msg.OutputTranscript != "" {
		m.handler.OnOutputTranscript(msg.OutputTranscript)
	}
	if msg.TurnComplete {
		m.handler.OnTurnComplete()
	}
}
