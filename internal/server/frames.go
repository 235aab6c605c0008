package server

import (
	"crypto/md5"
	"image"
	"log/slog"

	"github.com/GriffinCanCode/talking-portrait/internal/codec"
	"github.com/GriffinCanCode/talking-portrait/internal/portrait"
	"github.com/GriffinCanCode/talking-portrait/internal/syncx"
)

// FrameHub receives portrait frames from the animator, encodes them to JPEG
// off the animation loop and hands the base64 payloads to the broadcaster.
// When encoding falls behind only the newest frame is kept.
type FrameHub struct {
	quality int
	in      chan image.Image
	out     chan string
	latest  *syncx.Guard[frame]
}

type frame struct {
	data string
	hash [16]byte
}

// NewFrameHub creates a hub encoding at the given JPEG quality.
func NewFrameHub(quality int) *FrameHub {
	h := &FrameHub{
		quality: quality,
		in:      make(chan image.Image, 1),
		out:     make(chan string, 8),
		latest:  syncx.NewGuard(frame{}),
	}
	go h.run()
	return h
}

// PushFrame queues img for encoding, replacing any frame still waiting. It never blocks.
func (h *FrameHub) PushFrame(img image.Image) {
	for {
		select {
		case h.in <- img:
			return
		default:
		}
		select {
		case <-h.in:
		default:
		}
	}
}

// Encoded delivers each distinct encoded frame.
func (h *FrameHub) Encoded() <-chan string { return h.out }

// Latest returns the most recent encoded frame, for clients that just connected.
func (h *FrameHub) Latest() (string, bool) {
	f := h.latest.Get()
	return f.data, f.data != ""
}

func (h *FrameHub) run() {
	for img := range h.in {
		data, err := portrait.EncodeJPEG(img, h.quality)
		if err != nil {
			slog.Warn("frame encode failed", "error", err)
			continue
		}
		// Identical frames (e.g. repeated static portraits) are not resent.
		hash := md5.Sum(data)
		b64 := ""
		changed := h.latest.Update(func(f *frame) bool {
			if f.hash == hash {
				return false
			}
			b64 = codec.EncodeBase64(data)
			*f = frame{data: b64, hash: hash}
			return true
		})
		if !changed {
			continue
		}

		select {
		case h.out <- b64:
		default:
			slog.Debug("frame broadcast backlog, dropping frame")
		}
	}
}
