package orchestrator

import (
	"context"
	"sync"

	"github.com/GriffinCanCode/talking-portrait/internal/animate"
	"github.com/GriffinCanCode/talking-portrait/internal/config"
	apperr "github.com/GriffinCanCode/talking-portrait/internal/errors"
	"github.com/GriffinCanCode/talking-portrait/internal/playback"
	"github.com/GriffinCanCode/talking-portrait/internal/portrait"
	"github.com/GriffinCanCode/talking-portrait/internal/realtime"
	"github.com/GriffinCanCode/talking-portrait/internal/syncx"
	"github.com/GriffinCanCode/talking-portrait/internal/trace"
	"github.com/GriffinCanCode/talking-portrait/internal/transcript"
)

// Analyzer turns an uploaded photo into an analysed portrait.
type Analyzer interface {
	Analyze(ctx context.Context, data []byte, reference bool) (*portrait.Portrait, error)
}

// OutputDevice plays rendered samples and is released when a conversation ends.
type OutputDevice interface {
	playback.Output
	Close() error
}

// Deps are the devices and remote services a conversation needs.
type Deps struct {
	Analyzer   Analyzer
	Microphone realtime.Microphone
	Dialer     realtime.Dialer

	// OpenOutput acquires the speaker. nil renders against a wall clock without sound.
	OpenOutput func(sampleRate int) (OutputDevice, error)

	// Frames receives every portrait frame, static or animated.
	Frames animate.FrameSink
}

// Status is a snapshot of the conversation, published on every transition.
type Status struct {
	SessionID  string `json:"session_id,omitempty"`
	PortraitID string `json:"portrait_id,omitempty"`
	State      string `json:"state"`
	Voice      string `json:"voice,omitempty"`
	Animated   bool   `json:"animated"`
	Error      string `json:"error,omitempty"`
}

// Manager is the session lifecycle controller. It holds the analysed portrait
// and at most one conversation at a time.
type Manager struct {
	cfg  *config.Config
	deps Deps

	portrait    *syncx.Guard[*portrait.Portrait]
	transcripts *transcript.Accumulator
	statusCh    chan Status

	mu      sync.Mutex
	session *session
}

// New creates a manager.
func New(cfg *config.Config, deps Deps) *Manager {
	return &Manager{
		cfg:         cfg,
		deps:        deps,
		portrait:    syncx.NewGuard[*portrait.Portrait](nil),
		transcripts: transcript.NewAccumulator(TranscriptEventBuffer),
		statusCh:    make(chan Status, StatusEventBuffer),
	}
}

// LoadPortrait analyses a photo and makes it the portrait for the next conversation.
// It is rejected while a conversation is open.
func (m *Manager) LoadPortrait(ctx context.Context, data []byte, reference bool) (*portrait.Portrait, error) {
	ctx, span := trace.StartSpan(ctx, "load_portrait")
	defer span.End()

	if m.Active() {
		return nil, apperr.New(apperr.CodeSessionActive, "stop the conversation before loading a new portrait")
	}
	if m.deps.Analyzer == nil {
		return nil, apperr.New(apperr.CodeConfigMissing, "no portrait analyzer configured")
	}

	p, err := m.deps.Analyzer.Analyze(ctx, data, reference)
	if err != nil {
		span.SetAttr("error", err.Error())
		return nil, err
	}
	m.portrait.Set(p)
	span.SetAttr("portrait_id", p.ID)
	if m.deps.Frames != nil {
		m.deps.Frames.PushFrame(p.Image)
	}
	m.publish(m.Status())
	return p, nil
}

// Portrait returns the current portrait, or nil before the first analysis.
func (m *Manager) Portrait() *portrait.Portrait {
	return m.portrait.Get()
}

// Start opens a conversation with the current portrait. It returns once the
// realtime session is live, or after every acquired resource has been released.
func (m *Manager) Start(ctx context.Context) (Status, error) {
	ctx, span := trace.StartSpan(ctx, "start_conversation")
	defer span.End()

	p := m.portrait.Get()
	if p == nil {
		return m.Status(), apperr.New(apperr.CodeNotFound, "no portrait loaded")
	}

	m.mu.Lock()
	if m.session != nil && m.session.active() {
		m.mu.Unlock()
		return m.Status(), apperr.New(apperr.CodeSessionActive, "a conversation is already open")
	}
	s, err := m.newSession(ctx, p)
	if err != nil {
		m.mu.Unlock()
		span.SetAttr("error", err.Error())
		return m.Status(), err
	}
	m.session = s
	m.mu.Unlock()

	span.SetAttr("session_id", s.id)
	m.transcripts.Reset()
	if err := s.start(); err != nil {
		s.teardown(err)
		span.SetAttr("error", err.Error())
		return m.Status(), err
	}
	return m.Status(), nil
}

// Stop ends the open conversation. Safe to call at any time and repeatedly.
func (m *Manager) Stop() {
	m.mu.Lock()
	s := m.session
	m.mu.Unlock()
	if s != nil {
		s.teardown(nil)
	}
}

// Close stops the conversation and waits for its goroutines.
func (m *Manager) Close() {
	m.mu.Lock()
	s := m.session
	m.mu.Unlock()
	if s != nil {
		s.teardown(nil)
		s.rt.Wait()
	}
}

// Active reports whether a conversation is open or still tearing down.
func (m *Manager) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session != nil && m.session.active()
}

// Status returns the current conversation snapshot.
func (m *Manager) Status() Status {
	m.mu.Lock()
	s := m.session
	m.mu.Unlock()
	if s != nil {
		return s.status()
	}
	st := Status{State: realtime.StateIdle.String()}
	if p := m.portrait.Get(); p != nil {
		st.PortraitID, st.Voice = p.ID, p.Voice
		st.Animated = p.Mouth != nil
	}
	return st
}

// StatusEvents delivers a Status on every transition.
func (m *Manager) StatusEvents() <-chan Status { return m.statusCh }

// Transcripts returns the conversation transcript.
func (m *Manager) Transcripts() transcript.Store { return m.transcripts }

func (m *Manager) publish(st Status) {
	select {
	case m.statusCh <- st:
	default:
	}
}

func (m *Manager) animationParams() animate.Params {
	p := animate.DefaultParams()
	if m.cfg == nil {
		return p
	}
	p.FPS = m.cfg.AnimationFPS
	p.Threshold = m.cfg.LoudnessThreshold
	p.Smoothing = m.cfg.LoudnessSmoothing
	p.Gain = m.cfg.JawGain
	p.Cap = m.cfg.JawCap
	p.MinPixels = m.cfg.JawMinPixels
	p.Split = m.cfg.JawSplit
	p.Extent = m.cfg.JawExtent
	return p
}

func (m *Manager) setup(p *portrait.Portrait) realtime.Setup {
	setup := realtime.Setup{
		Voice:            p.Voice,
		Persona:          p.Persona,
		InputSampleRate:  realtime.DefaultInputSampleRate,
		OutputSampleRate: realtime.DefaultOutputSampleRate,
	}
	if m.cfg != nil {
		setup.Model = m.cfg.GeminiLiveModel
		if m.cfg.InputSampleRate > 0 {
			setup.InputSampleRate = m.cfg.InputSampleRate
		}
		if m.cfg.OutputSampleRate > 0 {
			setup.OutputSampleRate = m.cfg.OutputSampleRate
		}
	}
	return setup
}

func (m *Manager) blockSize() int {
	if m.cfg == nil {
		return realtime.DefaultBlockSize
	}
	return m.cfg.MicBlockSize
}
