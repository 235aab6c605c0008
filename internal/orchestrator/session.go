package orchestrator

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/GriffinCanCode/talking-portrait/internal/animate"
	"github.com/GriffinCanCode/talking-portrait/internal/codec"
	apperr "github.com/GriffinCanCode/talking-portrait/internal/errors"
	"github.com/GriffinCanCode/talking-portrait/internal/playback"
	"github.com/GriffinCanCode/talking-portrait/internal/portrait"
	"github.com/GriffinCanCode/talking-portrait/internal/realtime"
	"github.com/GriffinCanCode/talking-portrait/internal/trace"
)

var _ realtime.Handler = (*session)(nil)

// session is one conversation. It owns the scheduler, the animator, the
// output device and the realtime session, and releases all of them exactly once.
type session struct {
	m        *Manager
	id       string
	portrait *portrait.Portrait
	setup    realtime.Setup

	ctx    context.Context
	cancel context.CancelFunc

	scheduler  *playback.Scheduler
	animator   *animate.Animator
	rt         *realtime.Manager
	output     OutputDevice
	renderDone chan struct{}

	once sync.Once
	done chan struct{}

	errMu sync.Mutex
	err   error
}

// newSession acquires the output device and starts the render loop. The
// realtime session is opened separately by start.
func (m *Manager) newSession(ctx context.Context, p *portrait.Portrait) (*session, error) {
	if m.deps.Microphone == nil || m.deps.Dialer == nil {
		return nil, apperr.New(apperr.CodeConfigMissing, "microphone and realtime dialer are required")
	}

	id := uuid.NewString()
	// The conversation outlives the request that started it.
	ctx, cancel := context.WithCancel(trace.WithContext(context.WithoutCancel(ctx), trace.ForSession(id)))

	s := &session{
		m:          m,
		id:         id,
		portrait:   p,
		setup:      m.setup(p),
		ctx:        ctx,
		cancel:     cancel,
		renderDone: make(chan struct{}),
		done:       make(chan struct{}),
	}
	if m.deps.OpenOutput != nil {
		out, err := m.deps.OpenOutput(s.setup.OutputSampleRate)
		if err != nil {
			cancel()
			return nil, apperr.Wrap(err, apperr.CodeUnavailable, "cannot open audio output")
		}
		s.output = out
	}

	s.scheduler = playback.NewScheduler(s.setup.OutputSampleRate, playback.WithOnIdle(s.onPlaybackIdle))
	s.animator = animate.New(p.Image, p.Mouth, s.scheduler, m.deps.Frames, m.animationParams())
	s.rt = realtime.NewManager(m.deps.Microphone, m.deps.Dialer, s, m.blockSize())

	go s.render()
	return s, nil
}

func (s *session) start() error {
	log := trace.Logger(s.ctx)
	log.Info("conversation starting", "portrait_id", s.portrait.ID, "voice", s.setup.Voice, "animated", s.animator.Enabled())
	if s.m.deps.Frames != nil {
		s.m.deps.Frames.PushFrame(s.animator.Static())
	}
	if !s.active() {
		return apperr.New(apperr.CodeCancelled, "conversation stopped before it started")
	}
	if err := s.rt.Start(s.ctx, s.setup); err != nil {
		return err
	}
	if !s.active() {
		// stopped between the check above and the session going live
		s.rt.Stop()
		return apperr.New(apperr.CodeCancelled, "conversation stopped while connecting")
	}
	return nil
}

func (s *session) render() {
	defer close(s.renderDone)
	var out playback.Output
	if s.output != nil {
		out = s.output
	}
	if err := s.scheduler.Run(s.ctx, out, playback.DefaultRenderPeriod); err != nil && s.ctx.Err() == nil {
		// teardown waits for this goroutine
		go s.teardown(apperr.Wrap(err, apperr.CodeUnavailable, "audio output failed"))
	}
}

// teardown stops the realtime session, playback and animation, restores the
// static portrait and releases the output device. Only the first call acts.
func (s *session) teardown(cause error) {
	s.once.Do(func() {
		log := trace.Logger(s.ctx)
		if cause != nil {
			s.setErr(cause)
		}
		s.rt.Stop()
		s.cancel()
		s.scheduler.Close()
		s.animator.Stop()
		<-s.renderDone
		if s.output != nil {
			if err := s.output.Close(); err != nil {
				log.Warn("closing audio output", "error", err)
			}
		}
		close(s.done)
		log.Info("conversation ended", "state", s.rt.State().String(), "error", cause)
		s.m.publish(s.status())
	})
}

func (s *session) active() bool {
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

func (s *session) status() Status {
	return s.statusAt(s.rt.State())
}

func (s *session) statusAt(state realtime.State) Status {
	st := Status{
		SessionID:  s.id,
		PortraitID: s.portrait.ID,
		State:      state.String(),
		Voice:      s.setup.Voice,
		Animated:   s.animator.Enabled(),
	}
	if err := s.failure(); err != nil {
		st.Error = err.Error()
	}
	return st
}

func (s *session) setErr(err error) {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

func (s *session) failure() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// onPlaybackIdle runs after the scheduler lock is released, so a chunk may
// have been enqueued since the callback was raised.
func (s *session) onPlaybackIdle() {
	if s.scheduler.ActiveCount() == 0 {
		s.animator.Stop()
	}
}

// OnAudio decodes a chunk, schedules it gaplessly and makes sure the jaw is moving.
// An undecodable chunk is dropped and the stream continues.
func (s *session) OnAudio(pcm []byte) {
	log := trace.Logger(s.ctx)
	raw, err := codec.DecodeIncomingBytes(pcm)
	if err == nil {
		var buf *codec.Buffer
		if buf, err = codec.ToPlayableBuffer(raw, s.setup.OutputSampleRate, 1); err == nil {
			if _, err := s.scheduler.Enqueue(buf); err != nil {
				return
			}
			s.animator.Start(s.ctx)
			return
		}
	}
	log.Debug("dropping audio chunk", "bytes", len(pcm), "error", err)
}

func (s *session) OnInputTranscript(text string) {
	s.m.transcripts.AddInput(text)
}

func (s *session) OnOutputTranscript(text string) {
	s.m.transcripts.AddOutput(text)
}

func (s *session) OnTurnComplete() {
	_, span := trace.StartSpan(s.ctx, "commit_turn")
	defer span.End()
	entries := s.m.transcripts.CommitTurn()
	span.SetAttr("entries", len(entries))
}

// OnInterrupted silences everything already scheduled; the model is being talked over.
func (s *session) OnInterrupted() {
	n := s.scheduler.Interrupt()
	s.animator.Stop()
	trace.Logger(s.ctx).Debug("playback interrupted", "sources", n)
}

func (s *session) OnStateChange(from, to realtime.State) {
	trace.Logger(s.ctx).Info("session state", "from", from.String(), "to", to.String())
	// error is published by OnError once the cause is recorded
	if to != realtime.StateError {
		s.m.publish(s.statusAt(to))
	}
}

func (s *session) OnError(err error) {
	trace.Logger(s.ctx).Error("conversation failed", "error", err, "code", apperr.CodeOf(err))
	s.teardown(err)
}
