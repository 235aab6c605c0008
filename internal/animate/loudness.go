package animate

import "math"

// RMS returns the root-mean-square of samples clamped to [-1, 1].
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := math.Max(-1, math.Min(1, float64(s)))
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// Loudness is the per-frame smoothed loudness state.
type Loudness struct {
	threshold float64
	k         float64
	smoothed  float64
}

// NewLoudness creates a smoother with the given noise floor and factor k.
func NewLoudness(threshold, k float64) *Loudness {
	return &Loudness{threshold: threshold, k: k}
}

// Update folds one analysis window into the smoothed value and returns it.
func (l *Loudness) Update(window []float32) float64 {
	instant := RMS(window)
	if instant < l.threshold {
		instant = 0
	}
	l.smoothed = l.smoothed*(1-l.k) + instant*l.k
	return l.smoothed
}

// Value returns the current smoothed loudness.
func (l *Loudness) Value() float64 { return l.smoothed }

// Reset returns the smoother to silence.
func (l *Loudness) Reset() { l.smoothed = 0 }
