package animate

// Animation constants
const (
	DefaultFPS = 30

	// Samples per analysis window
	WindowSize = 512

	// Horizontal widening of the jaw beyond the lips, as a fraction of mouth width
	jawWiden = 0.15

	// Opacity of the dark wash over the gap strip
	gapShadeAlpha = 96
)
