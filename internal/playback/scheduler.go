// Package playback schedules decoded speech buffers for gapless, ordered playback
// on a monotonic output clock and supports hard interruption.
package playback

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/GriffinCanCode/talking-portrait/internal/codec"
)

// ErrClosed is returned by Enqueue after Close.
var ErrClosed = errors.New("playback: scheduler closed")

// Source is one scheduled buffer, queued or playing.
type Source struct {
	ID         uint64
	startFrame int64
	frames     int64
	rate       int
	buf        *codec.Buffer
}

// Start returns the source's start time on the playback clock.
func (s *Source) Start() time.Duration { return framesToDuration(s.startFrame, s.rate) }

// Duration returns the source's playback length.
func (s *Source) Duration() time.Duration { return framesToDuration(s.frames, s.rate) }

// End returns the computed end time on the playback clock.
func (s *Source) End() time.Duration { return framesToDuration(s.startFrame+s.frames, s.rate) }

// sample returns the mono-mixed sample at absolute frame f.
func (s *Source) sample(f int64) float32 {
	i := f - s.startFrame
	if i < 0 || i >= s.frames {
		return 0
	}
	var sum float32
	for _, ch := range s.buf.Channels {
		sum += ch[i]
	}
	return sum / float32(len(s.buf.Channels))
}

// Option configures a Scheduler.
type Option interface {
	apply(*Scheduler)
}

type onSourceEndedOption struct {
	fn func(src *Source, remaining int)
}

func (o onSourceEndedOption) apply(s *Scheduler) { s.onSourceEnded = o.fn }

// WithOnSourceEnded sets a callback fired when a source finishes naturally.
// remaining is the number of sources still active afterwards.
func WithOnSourceEnded(fn func(src *Source, remaining int)) Option {
	return onSourceEndedOption{fn: fn}
}

type onIdleOption struct{ fn func() }

func (o onIdleOption) apply(s *Scheduler) { s.onIdle = o.fn }

// WithOnIdle sets a callback fired when natural completion drains the active set.
func WithOnIdle(fn func()) Option { return onIdleOption{fn: fn} }

type tapSizeOption int

func (o tapSizeOption) apply(s *Scheduler) {
	if o > 0 {
		s.tap = make([]float32, int(o))
	}
}

// WithTapSize sets the length of the time-domain analyser window.
func WithTapSize(n int) Option { return tapSizeOption(n) }

// Scheduler owns the next-available start time and the set of active sources.
//
// It is safe to call methods on Scheduler from multiple goroutines. Callbacks
// run on the goroutine that calls Render, outside the scheduler lock.
type Scheduler struct {
	rate int

	mu        sync.Mutex
	clock     int64 // frames rendered so far
	nextStart int64 // frame at which the next source may start
	active    map[uint64]*Source
	nextID    uint64
	closed    bool

	tap    []float32 // ring of most recently rendered samples
	tapPos int

	onSourceEnded func(src *Source, remaining int)
	onIdle        func()
}

// NewScheduler creates a scheduler rendering mono audio at sampleRate.
func NewScheduler(sampleRate int, opts ...Option) *Scheduler {
	s := &Scheduler{
		rate:   sampleRate,
		active: make(map[uint64]*Source),
		tap:    make([]float32, DefaultTapSize),
	}
	for _, opt := range opts {
		opt.apply(s)
	}
	return s
}

// SampleRate returns the output rate.
func (s *Scheduler) SampleRate() int { return s.rate }

// Enqueue schedules buf at max(nextAvailableStart, now) and advances nextAvailableStart.
func (s *Scheduler) Enqueue(buf *codec.Buffer) (*Source, error) {
	if buf == nil || buf.Frames() == 0 {
		return nil, fmt.Errorf("playback: empty buffer")
	}
	if buf.SampleRate != s.rate {
		return nil, fmt.Errorf("playback: buffer rate %d does not match output rate %d", buf.SampleRate, s.rate)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}

	start := max(s.nextStart, s.clock)
	s.nextID++
	src := &Source{
		ID:         s.nextID,
		startFrame: start,
		frames:     int64(buf.Frames()),
		rate:       s.rate,
		buf:        buf,
	}
	s.nextStart = start + src.frames
	s.active[src.ID] = src
	return src, nil
}

// Render mixes the active sources into out, advances the clock by len(out) frames,
// and retires every source whose end time has been reached.
func (s *Scheduler) Render(out []float32) {
	s.mu.Lock()
	base := s.clock
	for i := range out {
		out[i] = 0
	}
	for _, src := range s.active {
		lo := max(src.startFrame, base)
		hi := min(src.startFrame+src.frames, base+int64(len(out)))
		for f := lo; f < hi; f++ {
			out[f-base] += src.sample(f)
		}
	}
	for i, v := range out {
		out[i] = clampUnit(v)
	}
	s.writeTapLocked(out)
	s.clock += int64(len(out))

	var ended []*Source
	for id, src := range s.active {
		if src.startFrame+src.frames <= s.clock {
			ended = append(ended, src)
			delete(s.active, id)
		}
	}
	remaining := len(s.active)
	onEnded, onIdle := s.onSourceEnded, s.onIdle
	s.mu.Unlock()

	if len(ended) == 0 {
		return
	}
	sort.Slice(ended, func(i, j int) bool { return ended[i].startFrame < ended[j].startFrame })
	if onEnded != nil {
		for i, src := range ended {
			onEnded(src, remaining+len(ended)-1-i)
		}
	}
	if remaining == 0 && onIdle != nil {
		onIdle()
	}
}

// Interrupt stops every active source immediately and resets nextAvailableStart to zero.
// It returns the number of sources that were stopped.
func (s *Scheduler) Interrupt() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interruptLocked()
}

func (s *Scheduler) interruptLocked() int {
	n := len(s.active)
	s.active = make(map[uint64]*Source)
	s.nextStart = 0
	for i := range s.tap {
		s.tap[i] = 0
	}
	return n
}

// Close stops all sources and rejects further Enqueue calls. It is idempotent.
func (s *Scheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interruptLocked()
	s.closed = true
}

// Now returns the current playback clock.
func (s *Scheduler) Now() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return framesToDuration(s.clock, s.rate)
}

// NextStart returns the next available start time.
func (s *Scheduler) NextStart() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return framesToDuration(s.nextStart, s.rate)
}

// ActiveCount returns the number of queued or playing sources.
func (s *Scheduler) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// Active returns a snapshot of the active sources ordered by start time.
func (s *Scheduler) Active() []*Source {
	s.mu.Lock()
	out := make([]*Source, 0, len(s.active))
	for _, src := range s.active {
		out = append(out, src)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].startFrame < out[j].startFrame })
	return out
}

// Waveform copies the most recently rendered time-domain window into dst,
// oldest sample first, and returns the number of samples written.
func (s *Scheduler) Waveform(dst []float32) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := min(len(dst), len(s.tap))
	start := s.tapPos - n
	if start < 0 {
		start += len(s.tap)
	}
	for i := 0; i < n; i++ {
		dst[i] = s.tap[(start+i)%len(s.tap)]
	}
	return n
}

func (s *Scheduler) writeTapLocked(out []float32) {
	if len(s.tap) == 0 {
		return
	}
	for _, v := range out {
		s.tap[s.tapPos] = v
		s.tapPos = (s.tapPos + 1) % len(s.tap)
	}
}

func framesToDuration(frames int64, rate int) time.Duration {
	return codec.FramesToDuration(int(frames), rate)
}

func clampUnit(v float32) float32 {
	if v > 1 {
		return 1
	}
	if v < -1 {
		return -1
	}
	return v
}
