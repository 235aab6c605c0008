package audio

// Device constants
const (
	// Captured blocks buffered ahead of the session sender
	DefaultQueueSize = 16

	// Speaker frames per PortAudio write (~20ms at 24kHz)
	DefaultSpeakerFrames = 480
)

var (
	loopbackKeywords  = []string{"blackhole", "vb-cable", "loopback", "monitor", "soundflower"}
	preferredKeywords = []string{"macbook", "built-in", "microphone", "mic", "input"}
)
