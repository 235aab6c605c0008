package animate

import (
	"context"
	"image"
	"image/color"
	"math"
	"sync"
	"testing"
	"time"
)

func constWindow(n int, v float32) []float32 {
	w := make([]float32, n)
	for i := range w {
		if i%2 == 0 {
			w[i] = v
		} else {
			w[i] = -v
		}
	}
	return w
}

func TestRMS(t *testing.T) {
	tests := []struct {
		name string
		in   []float32
		want float64
	}{
		{"empty", nil, 0},
		{"silence", make([]float32, 64), 0},
		{"square", constWindow(64, 0.5), 0.5},
		{"clamped", constWindow(8, 3), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RMS(tt.in); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("RMS = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBelowNoiseFloorYieldsNoDisplacement(t *testing.T) {
	p := DefaultParams()
	l := NewLoudness(p.Threshold, p.Smoothing)
	for i := 0; i < 100; i++ {
		s := l.Update(constWindow(WindowSize, float32(p.Threshold*0.9)))
		if d := p.Displacement(s, 40); d != 0 {
			t.Fatalf("frame %d: displacement = %v, want 0", i, d)
		}
	}
}

func TestDecayTailBelowFloorStillDisplaces(t *testing.T) {
	p := DefaultParams()
	l := NewLoudness(p.Threshold, p.Smoothing)
	for i := 0; i < 30; i++ {
		l.Update(constWindow(WindowSize, 0.3))
	}

	var tail float64
	for tail = l.Value(); tail >= p.Threshold; {
		tail = l.Update(constWindow(WindowSize, 0))
	}
	if tail <= 0 {
		t.Fatalf("smoothed = %v, want a positive tail", tail)
	}
	if d := p.Displacement(tail, 40); d <= 0 {
		t.Errorf("displacement at smoothed %v = %v, want the jaw to keep closing gradually", tail, d)
	}
}

func TestSmoothingConvergesMonotonically(t *testing.T) {
	p := DefaultParams()
	l := NewLoudness(p.Threshold, p.Smoothing)
	const level = 0.3

	prev := l.Value()
	for i := 0; i < 60; i++ {
		s := l.Update(constWindow(WindowSize, level))
		if s < prev || s > level+1e-6 {
			t.Fatalf("frame %d: smoothed %v not in [%v, %v]", i, s, prev, level)
		}
		prev = s
	}
	if math.Abs(prev-level) > 1e-6 {
		t.Errorf("did not converge: %v", prev)
	}

	// And back down toward silence.
	for i := 0; i < 60; i++ {
		s := l.Update(nil)
		if s > prev {
			t.Fatalf("decay frame %d rose: %v > %v", i, s, prev)
		}
		prev = s
	}
}

func TestDisplacementIsCapped(t *testing.T) {
	p := DefaultParams()
	tests := []struct {
		smoothed, height, want float64
	}{
		{0.05, 100, 40},
		{0.5, 100, 70},
		{1, 20, 14},
		{0.01, 100, 8},
		{0, 100, 0},
		{0.5, 0, 0},
	}
	for _, tt := range tests {
		if got := p.Displacement(tt.smoothed, tt.height); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("Displacement(%v, %v) = %v, want %v", tt.smoothed, tt.height, got, tt.want)
		}
	}
}

func TestMouthRegionRect(t *testing.T) {
	b := image.Rect(0, 0, 200, 100)
	r := MouthRegion{X: 40, Y: 60, Width: 20, Height: 10}.Rect(b)
	if want := image.Rect(80, 60, 120, 70); r != want {
		t.Errorf("Rect = %v, want %v", r, want)
	}

	invalid := []MouthRegion{
		{X: 10, Y: 10, Width: 0, Height: 5},
		{X: 90, Y: 10, Width: 20, Height: 5},
		{X: -1, Y: 10, Width: 5, Height: 5},
		{X: math.NaN(), Y: 10, Width: 5, Height: 5},
	}
	for _, m := range invalid {
		if m.Validate() == nil {
			t.Errorf("Validate(%+v) = nil, want error", m)
		}
	}
}

// striped paints each row with a distinct gray so shifts are observable.
func striped(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, color.RGBA{R: uint8(y), G: uint8(y), B: uint8(y), A: 255})
		}
	}
	return img
}

func TestCompositorShiftsJaw(t *testing.T) {
	img := striped(100, 200)
	region := MouthRegion{X: 40, Y: 50, Width: 20, Height: 10} // rows 100-120
	c := NewCompositor(img, region, DefaultParams())
	if c == nil {
		t.Fatal("compositor is nil")
	}

	const d = 4
	out := c.Compose(d)
	hinge := 110
	x := 50

	// Above the hinge is untouched.
	if got := out.RGBAAt(x, hinge-3); got != img.RGBAAt(x, hinge-3) {
		t.Errorf("upper row changed: %v", got)
	}
	// Jaw rows moved down by d.
	for _, y := range []int{hinge + d, hinge + d + 5} {
		if got, want := out.RGBAAt(x, y), img.RGBAAt(x, y-d); got != want {
			t.Errorf("row %d = %v, want %v", y, got, want)
		}
	}
	// Gap is filled with a darker strip than the seam.
	if got := out.RGBAAt(x, hinge+1); got.R >= img.RGBAAt(x, hinge).R {
		t.Errorf("gap row not shaded: %v", got)
	}
	// Outside the jaw columns nothing moves.
	if got := out.RGBAAt(2, hinge+d); got != img.RGBAAt(2, hinge+d) {
		t.Errorf("column outside jaw changed: %v", got)
	}
	// Base image is not mutated.
	if img.RGBAAt(x, hinge+d).R != uint8(hinge+d) {
		t.Error("base image mutated")
	}
}

func TestCompositorRejectsTinyRegion(t *testing.T) {
	if c := NewCompositor(striped(50, 50), MouthRegion{X: 10, Y: 10, Width: 10, Height: 1}, DefaultParams()); c != nil {
		t.Error("expected nil compositor for a one-row mouth")
	}
}

type fakeSource struct {
	mu     sync.Mutex
	level  float32
	active int
}

func (f *fakeSource) Waveform(dst []float32) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	copy(dst, constWindow(len(dst), f.level))
	return len(dst)
}

func (f *fakeSource) ActiveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active
}

func (f *fakeSource) set(level float32, active int) {
	f.mu.Lock()
	f.level, f.active = level, active
	f.mu.Unlock()
}

type recordingSink struct {
	mu     sync.Mutex
	frames []image.Image
}

func (r *recordingSink) PushFrame(img image.Image) {
	r.mu.Lock()
	r.frames = append(r.frames, img)
	r.mu.Unlock()
}

func (r *recordingSink) last() image.Image {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.frames) == 0 {
		return nil
	}
	return r.frames[len(r.frames)-1]
}

func (r *recordingSink) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.frames)
}

func TestAnimatorWithoutMouthIsNoop(t *testing.T) {
	src := &fakeSource{level: 0.5, active: 1}
	sink := &recordingSink{}
	a := New(striped(100, 100), nil, src, sink, DefaultParams())

	if a.Enabled() {
		t.Fatal("animator should be disabled")
	}
	if a.Start(context.Background()) {
		t.Error("Start should not launch a loop without a mouth region")
	}
	a.Step()
	a.Stop()
	if sink.count() != 0 {
		t.Errorf("pushed %d frames, want 0", sink.count())
	}
}

func TestAnimatorStepDrawsDisplacedFrame(t *testing.T) {
	src := &fakeSource{level: 0.5, active: 1}
	sink := &recordingSink{}
	a := New(striped(100, 200), &MouthRegion{X: 40, Y: 50, Width: 20, Height: 10}, src, sink, DefaultParams())

	for i := 0; i < 10; i++ {
		a.Step()
	}
	if a.Displacement() < 1 {
		t.Fatalf("displacement = %v, want >= 1", a.Displacement())
	}
	if sink.last() == a.Static() {
		t.Error("expected composited frame, got static image")
	}

	src.set(0, 1)
	a = New(striped(100, 200), &MouthRegion{X: 40, Y: 50, Width: 20, Height: 10}, src, sink, DefaultParams())
	a.Step()
	if sink.last() != a.Static() {
		t.Error("silent frame should redraw the static image")
	}
}

func TestAnimatorLoopLifecycle(t *testing.T) {
	src := &fakeSource{level: 0.4, active: 1}
	sink := &recordingSink{}
	p := DefaultParams()
	p.FPS = 200
	a := New(striped(100, 200), &MouthRegion{X: 40, Y: 50, Width: 20, Height: 10}, src, sink, p)

	ctx := context.Background()
	if !a.Start(ctx) {
		t.Fatal("first Start should launch the loop")
	}
	if a.Start(ctx) {
		t.Error("second Start should be a no-op")
	}
	time.Sleep(50 * time.Millisecond)
	a.Stop()
	a.Stop()

	if a.Running() {
		t.Error("loop still running after Stop")
	}
	if sink.last() != a.Static() {
		t.Error("Stop should restore the static image")
	}
	if a.Displacement() != 0 {
		t.Errorf("displacement after stop = %v", a.Displacement())
	}
}

func TestAnimatorStopsWhenPlaybackDrains(t *testing.T) {
	src := &fakeSource{level: 0.4, active: 1}
	sink := &recordingSink{}
	p := DefaultParams()
	p.FPS = 200
	a := New(striped(100, 200), &MouthRegion{X: 40, Y: 50, Width: 20, Height: 10}, src, sink, p)

	a.Start(context.Background())
	time.Sleep(20 * time.Millisecond)
	src.set(0.4, 0)

	deadline := time.Now().Add(time.Second)
	for a.Running() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if a.Running() {
		t.Fatal("loop did not stop after playback drained")
	}
	if sink.last() != a.Static() {
		t.Error("static image not restored")
	}

	// A new burst restarts it.
	src.set(0.4, 1)
	if !a.Start(context.Background()) {
		t.Error("Start after self-stop should relaunch")
	}
	a.Stop()
}
