// Package playback schedules decoded speech buffers for gapless, ordered playback
// on a monotonic output clock and supports hard interruption.
package playback

import "time"

// Playback constants
const (
	// Analyser window length in samples
	DefaultTapSize = 512

	// Render period of the output loop (~20ms keeps the animator responsive)
	DefaultRenderPeriod = 20 * time.Millisecond
)
