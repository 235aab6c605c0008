// Package audio provides microphone capture and speaker output on local devices
package audio

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/gordonklaus/portaudio"

	apperr "github.com/GriffinCanCode/talking-portrait/internal/errors"
	"github.com/GriffinCanCode/talking-portrait/internal/realtime"
)

// Microphone opens the best local input device through PortAudio.
type Microphone struct {
	excludedDevs []string
	queueSize    int
}

// NewMicrophone creates a microphone that skips devices whose names contain any of excluded.
func NewMicrophone(excluded []string) *Microphone {
	return &Microphone{excludedDevs: excluded, queueSize: DefaultQueueSize}
}

// Open starts capturing blockSize-sample mono blocks at sampleRate. Any failure to
// reach an input device is reported as PERMISSION_DENIED.
func (m *Microphone) Open(ctx context.Context, sampleRate, blockSize int) (realtime.Stream, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, apperr.Wrap(err, apperr.CodePermissionDenied, "audio subsystem unavailable")
	}

	devices, err := portaudio.Devices()
	if err != nil {
		_ = portaudio.Terminate()
		return nil, apperr.Wrap(err, apperr.CodePermissionDenied, "cannot enumerate audio devices")
	}
	dev := m.pickDevice(devices)
	if dev == nil {
		_ = portaudio.Terminate()
		return nil, apperr.New(apperr.CodePermissionDenied, "no usable microphone")
	}

	s, err := openCapture(ctx, dev, sampleRate, blockSize, m.queueSize)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, apperr.Wrap(err, apperr.CodePermissionDenied, "microphone access denied").
			WithMetadata("device", dev.Name)
	}
	slog.Info("started audio capture", "device", dev.Name, "sample_rate", sampleRate)
	return s, nil
}

// pickDevice returns the preferred microphone, or nil if none qualifies.
func (m *Microphone) pickDevice(devices []*portaudio.DeviceInfo) *portaudio.DeviceInfo {
	var best *portaudio.DeviceInfo
	for _, dev := range devices {
		if dev.MaxInputChannels < 1 || m.isExcluded(dev.Name) || isLoopback(dev.Name) {
			continue
		}
		if best == nil || preferDevice(dev.Name, best.Name) {
			best = dev
		}
	}
	return best
}

func (m *Microphone) isExcluded(name string) bool {
	for _, ex := range m.excludedDevs {
		if containsFold(name, ex) {
			return true
		}
	}
	return false
}

// isLoopback reports virtual devices that carry system output rather than a voice.
func isLoopback(name string) bool {
	for _, kw := range loopbackKeywords {
		if containsFold(name, kw) {
			return true
		}
	}
	return false
}

// preferDevice ranks a named microphone over current. Built-in mics win, then
// anything that names itself a microphone.
func preferDevice(name, current string) bool {
	return deviceRank(name) > deviceRank(current)
}

func deviceRank(name string) int {
	for i, kw := range preferredKeywords {
		if containsFold(name, kw) {
			return len(preferredKeywords) - i
		}
	}
	return 0
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

type captureStream struct {
	stream   *portaudio.Stream
	blocks   chan []float32
	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

func openCapture(ctx context.Context, dev *portaudio.DeviceInfo, sampleRate, blockSize, queue int) (*captureStream, error) {
	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   dev,
			Channels: 1,
			Latency:  dev.DefaultLowInputLatency,
		},
		SampleRate:      float64(sampleRate),
		FramesPerBuffer: blockSize,
	}

	buf := make([]float32, blockSize)
	stream, err := portaudio.OpenStream(params, buf)
	if err != nil {
		return nil, err
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, err
	}

	devCtx, cancel := context.WithCancel(ctx)
	cs := &captureStream{
		stream: stream,
		blocks: make(chan []float32, queue),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go cs.run(devCtx, buf, dev.Name)
	return cs, nil
}

func (c *captureStream) run(ctx context.Context, buf []float32, device string) {
	defer close(c.done)
	defer close(c.blocks)
	for {
		if ctx.Err() != nil {
			return
		}
		if err := c.stream.Read(); err != nil {
			if !readFatal(err) {
				// The buffer still holds a full block; only earlier samples were lost.
				slog.Debug("audio input overflowed", "device", device)
			} else {
				if ctx.Err() == nil {
					slog.Debug("audio read error", "device", device, "error", err)
				}
				return
			}
		}
		block := append([]float32(nil), buf...)
		select {
		case c.blocks <- block:
		default:
			slog.Debug("audio buffer full, dropping block", "device", device)
		}
	}
}

// readFatal reports whether a Read error ends the stream. An input overflow
// means the consumer fell behind, not that the device went away.
func readFatal(err error) bool {
	return !errors.Is(err, portaudio.InputOverflowed)
}

func (c *captureStream) Blocks() <-chan []float32 { return c.blocks }

// Close stops the device stream and releases PortAudio. Safe to call repeatedly.
func (c *captureStream) Close() error {
	var err error
	c.stopOnce.Do(func() {
		c.cancel()
		_ = c.stream.Stop()
		<-c.done
		err = c.stream.Close()
		_ = portaudio.Terminate()
	})
	return err
}
