package audio

import (
	"sync"

	"github.com/gordonklaus/portaudio"

	apperr "github.com/GriffinCanCode/talking-portrait/internal/errors"
)

// Speaker plays mono float samples on the default output device.
type Speaker struct {
	stream    *portaudio.Stream
	buf       []float32
	mu        sync.Mutex
	closeOnce sync.Once
}

// OpenSpeaker opens the default output device at sampleRate.
func OpenSpeaker(sampleRate int) (*Speaker, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, apperr.Wrap(err, apperr.CodeUnavailable, "audio subsystem unavailable")
	}
	s := &Speaker{buf: make([]float32, DefaultSpeakerFrames)}
	stream, err := portaudio.OpenDefaultStream(0, 1, float64(sampleRate), len(s.buf), &s.buf)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, apperr.Wrap(err, apperr.CodeUnavailable, "cannot open output device")
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		_ = portaudio.Terminate()
		return nil, apperr.Wrap(err, apperr.CodeUnavailable, "cannot start output device")
	}
	s.stream = stream
	return s, nil
}

// Write blocks until the device has accepted every sample.
func (s *Speaker) Write(samples []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(samples) > 0 {
		n := copy(s.buf, samples)
		clear(s.buf[n:])
		if err := s.stream.Write(); err != nil {
			return err
		}
		samples = samples[n:]
	}
	return nil
}

// Close stops the device. Safe to call repeatedly.
func (s *Speaker) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		_ = s.stream.Stop()
		err = s.stream.Close()
		_ = portaudio.Terminate()
	})
	return err
}
