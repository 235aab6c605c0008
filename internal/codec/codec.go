// Package codec converts audio between the capture/playback float domain and the
// 16-bit little-endian PCM wire format spoken by the realtime session.
package codec

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math"
	"time"

	apperr "github.com/GriffinCanCode/talking-portrait/internal/errors"
)

// Wire format constants
const (
	BytesPerSample = 2
	pcmScale       = 32768.0
)

// MIMEType returns the wire MIME type for PCM16 at the given rate.
func MIMEType(sampleRate int) string {
	return fmt.Sprintf("audio/pcm;rate=%d", sampleRate)
}

// DecodeError reports a truncated or misaligned PCM payload.
type DecodeError struct {
	Len      int
	Channels int
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("pcm16 payload of %d bytes is not aligned to %d channel(s)", e.Len, e.Channels)
}

// EncodeOutgoing converts float samples in [-1, 1] to PCM16 LE, clamping out-of-range values.
func EncodeOutgoing(samples []float32) []byte {
	buf := make([]byte, len(samples)*BytesPerSample)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*BytesPerSample:], uint16(toInt16(s)))
	}
	return buf
}

func toInt16(s float32) int16 {
	v := math.Round(float64(s) * pcmScale)
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}

// DecodeIncoming reverses the base64 transport encoding of an inbound audio payload.
func DecodeIncoming(payload string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeAudioDecode, "invalid base64 audio payload")
	}
	return raw, nil
}

// DecodeIncomingBytes accepts an already-binary payload. The realtime SDK delivers
// inline audio as raw bytes, so there is no transport encoding to undo.
func DecodeIncomingBytes(payload []byte) ([]byte, error) {
	if len(payload) == 0 {
		return nil, apperr.New(apperr.CodeAudioDecode, "empty audio payload")
	}
	return payload, nil
}

// EncodeBase64 applies the transport encoding used by text-framed channels.
func EncodeBase64(raw []byte) string {
	return base64.StdEncoding.EncodeToString(raw)
}

// Buffer is a decoded, playable block of audio: one float slice per channel.
type Buffer struct {
	SampleRate int
	Channels   [][]float32
}

// Frames returns the number of sample frames in the buffer.
func (b *Buffer) Frames() int {
	if b == nil || len(b.Channels) == 0 {
		return 0
	}
	return len(b.Channels[0])
}

// Duration returns the playback length of the buffer.
func (b *Buffer) Duration() time.Duration {
	if b == nil || b.SampleRate <= 0 {
		return 0
	}
	return FramesToDuration(b.Frames(), b.SampleRate)
}

// FramesToDuration converts a frame count at rate to a duration.
func FramesToDuration(frames, rate int) time.Duration {
	if rate <= 0 {
		return 0
	}
	return time.Duration(int64(frames) * int64(time.Second) / int64(rate))
}

// ToPlayableBuffer reconstructs normalised float samples from PCM16 LE bytes,
// deinterleaving them into channelCount channels.
func ToPlayableBuffer(raw []byte, sampleRate, channelCount int) (*Buffer, error) {
	if channelCount <= 0 {
		channelCount = 1
	}
	frameBytes := BytesPerSample * channelCount
	if len(raw) == 0 || len(raw)%frameBytes != 0 {
		return nil, apperr.Wrap(&DecodeError{Len: len(raw), Channels: channelCount},
			apperr.CodeAudioDecode, "cannot build playable buffer")
	}

	frames := len(raw) / frameBytes
	buf := &Buffer{SampleRate: sampleRate, Channels: make([][]float32, channelCount)}
	for ch := range buf.Channels {
		buf.Channels[ch] = make([]float32, frames)
	}
	for i := 0; i < frames; i++ {
		for ch := 0; ch < channelCount; ch++ {
			off := (i*channelCount + ch) * BytesPerSample
			s := int16(binary.LittleEndian.Uint16(raw[off:]))
			buf.Channels[ch][i] = float32(s) / pcmScale
		}
	}
	return buf, nil
}

// DecodeSamples converts mono PCM16 LE bytes into float samples.
func DecodeSamples(raw []byte) ([]float32, error) {
	buf, err := ToPlayableBuffer(raw, 0, 1)
	if err != nil {
		return nil, err
	}
	return buf.Channels[0], nil
}
