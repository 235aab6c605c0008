package realtime

// Realtime session defaults
const (
	DefaultBlockSize        = 4096
	DefaultInputSampleRate  = 16000
	DefaultOutputSampleRate = 24000
)
