package playback

import (
	"context"
	"time"

	"github.com/GriffinCanCode/talking-portrait/internal/trace"
)

// Output is a sink for rendered mono samples. Write blocks until the device
// has accepted the block, which paces the render loop.
type Output interface {
	Write(samples []float32) error
}

// Run renders period-sized blocks into out until ctx is cancelled.
// A nil out renders against a wall-clock ticker and discards the samples.
func (s *Scheduler) Run(ctx context.Context, out Output, period time.Duration) error {
	if period <= 0 {
		period = DefaultRenderPeriod
	}
	frames := int(int64(s.rate) * int64(period) / int64(time.Second))
	if frames <= 0 {
		frames = 1
	}
	block := make([]float32, frames)
	log := trace.Logger(ctx)

	if out == nil {
		ticker := time.NewTicker(period)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				s.Render(block)
			}
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		s.Render(block)
		if err := out.Write(block); err != nil {
			log.Warn("playback output write failed", "error", err)
			return err
		}
	}
}
