package animate

import (
	"context"
	"image"
	"log/slog"
	"math"
	"sync"
	"time"
)

// Source exposes the rendered output signal and whether anything is playing.
type Source interface {
	Waveform(dst []float32) int
	ActiveCount() int
}

// FrameSink receives every redrawn portrait frame. PushFrame must not block.
type FrameSink interface {
	PushFrame(img image.Image)
}

// Animator runs the per-frame loudness → displacement → composite loop.
// Without a mouth region it is a no-op and only ever shows the static image.
type Animator struct {
	params Params
	src    Source
	sink   FrameSink
	comp   *Compositor
	static image.Image

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}

	loud   *Loudness
	window []float32
	disp   float64
	frames int
}

// New creates an animator for img. region may be nil when mouth detection failed.
func New(img image.Image, region *MouthRegion, src Source, sink FrameSink, p Params) *Animator {
	p = p.normalized()
	a := &Animator{
		params: p,
		src:    src,
		sink:   sink,
		static: img,
		loud:   NewLoudness(p.Threshold, p.Smoothing),
		window: make([]float32, WindowSize),
	}
	if region != nil && img != nil {
		if err := region.Validate(); err != nil {
			slog.Warn("ignoring mouth region", "error", err)
		} else if a.comp = NewCompositor(img, *region, p); a.comp == nil {
			slog.Warn("mouth region too small to animate", "region", *region)
		}
	}
	if a.comp != nil {
		a.static = a.comp.Base()
	}
	return a
}

// Enabled reports whether a usable mouth region was established.
func (a *Animator) Enabled() bool { return a.comp != nil }

// Static returns the unmodified portrait.
func (a *Animator) Static() image.Image { return a.static }

// Start launches the frame loop if it is not already running. It returns true
// when a new loop was started.
func (a *Animator) Start(ctx context.Context) bool {
	if a.comp == nil {
		return false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.running {
		return false
	}
	a.running = true
	a.stopCh = make(chan struct{})
	a.doneCh = make(chan struct{})
	go a.loop(ctx, a.stopCh, a.doneCh)
	return true
}

// Stop cancels the frame loop and waits for it to restore the static image.
// Safe to call repeatedly.
func (a *Animator) Stop() {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return
	}
	a.running = false
	close(a.stopCh)
	done := a.doneCh
	a.mu.Unlock()
	<-done
}

// Running reports whether the frame loop is active.
func (a *Animator) Running() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.running
}

// Displacement returns the displacement computed for the latest frame.
func (a *Animator) Displacement() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.disp
}

func (a *Animator) loop(ctx context.Context, stop, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(time.Duration(float64(time.Second) / a.params.FPS))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.finish(stop)
			return
		case <-stop:
			a.finish(stop)
			return
		case <-ticker.C:
			if a.src.ActiveCount() == 0 {
				a.finish(stop)
				return
			}
			a.Step()
		}
	}
}

// finish restores the static image and clears the loop state. When the loop
// exits on its own the running flag is cleared here, otherwise Stop did it.
func (a *Animator) finish(stop chan struct{}) {
	a.mu.Lock()
	defer a.mu.Unlock()
	select {
	case <-stop:
	default:
		a.running = false
	}
	a.loud.Reset()
	a.disp = 0
	a.push(a.static)
}

// Step renders one frame from the current output waveform.
func (a *Animator) Step() {
	if a.comp == nil {
		return
	}
	n := a.src.Waveform(a.window)

	a.mu.Lock()
	defer a.mu.Unlock()
	smoothed := a.loud.Update(a.window[:n])
	a.disp = a.params.Displacement(smoothed, a.comp.MouthHeight())
	a.frames++

	if a.disp < a.params.MinPixels {
		a.push(a.static)
		return
	}
	a.push(a.comp.Compose(int(math.Round(a.disp))))
}

func (a *Animator) push(img image.Image) {
	if a.sink != nil && img != nil {
		a.sink.PushFrame(img)
	}
}
