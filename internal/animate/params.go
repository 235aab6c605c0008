// Package animate drives the jaw-drop portrait animation from playback loudness.
package animate

import "math"

// Params holds the loudness-to-jaw mapping. The defaults are empirical and
// meant to be tuned through configuration.
type Params struct {
	FPS       float64
	Threshold float64 // RMS noise floor; quieter windows count as silence
	Smoothing float64 // k in smoothed = smoothed*(1-k) + instant*k
	Gain      float64
	Cap       float64 // max displacement as a fraction of mouth height
	MinPixels float64 // displacements below this redraw the static image
	Split     float64 // hinge position as a fraction of mouth height
	Extent    float64 // jaw depth below the hinge, in mouth heights
}

// DefaultParams returns the stock tuning.
func DefaultParams() Params {
	return Params{
		FPS:       DefaultFPS,
		Threshold: 0.02,
		Smoothing: 0.25,
		Gain:      8,
		Cap:       0.7,
		MinPixels: 1,
		Split:     0.5,
		Extent:    1.5,
	}
}

// Displacement maps a smoothed loudness to a jaw drop in pixels for a mouth
// of the given pixel height. The noise floor is applied to the instantaneous
// level in Loudness, so a decaying tail below it still moves the jaw.
func (p Params) Displacement(smoothed, mouthHeight float64) float64 {
	if smoothed <= 0 || mouthHeight <= 0 {
		return 0
	}
	return math.Min(smoothed*p.Gain, p.Cap) * mouthHeight
}

func (p Params) normalized() Params {
	d := DefaultParams()
	if p.FPS <= 0 {
		p.FPS = d.FPS
	}
	if p.Smoothing <= 0 || p.Smoothing > 1 {
		p.Smoothing = d.Smoothing
	}
	if p.Split <= 0 || p.Split >= 1 {
		p.Split = d.Split
	}
	if p.Extent <= 0 {
		p.Extent = d.Extent
	}
	return p
}
