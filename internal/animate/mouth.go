package animate

import (
	"fmt"
	"image"
	"math"
)

// MouthRegion locates the lips as percentages (0-100) of the image dimensions.
type MouthRegion struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Validate reports whether the region lies inside the image with a positive area.
func (m MouthRegion) Validate() error {
	for _, v := range []float64{m.X, m.Y, m.Width, m.Height} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("mouth region has non-finite value: %+v", m)
		}
	}
	if m.Width <= 0 || m.Height <= 0 {
		return fmt.Errorf("mouth region has no area: %+v", m)
	}
	if m.X < 0 || m.Y < 0 || m.X+m.Width > 100 || m.Y+m.Height > 100 {
		return fmt.Errorf("mouth region outside image: %+v", m)
	}
	return nil
}

// Rect converts the region to pixels within bounds.
func (m MouthRegion) Rect(bounds image.Rectangle) image.Rectangle {
	w, h := float64(bounds.Dx()), float64(bounds.Dy())
	r := image.Rect(
		bounds.Min.X+int(math.Round(m.X/100*w)),
		bounds.Min.Y+int(math.Round(m.Y/100*h)),
		bounds.Min.X+int(math.Round((m.X+m.Width)/100*w)),
		bounds.Min.Y+int(math.Round((m.Y+m.Height)/100*h)),
	)
	return r.Intersect(bounds)
}
