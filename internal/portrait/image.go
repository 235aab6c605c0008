// Package portrait prepares an uploaded photo and derives the persona, voice and
// mouth region that drive a conversation.
package portrait

import (
	"bytes"
	"image"
	"image/jpeg"
	_ "image/png" // PNG decoder

	"github.com/nfnt/resize"

	apperr "github.com/GriffinCanCode/talking-portrait/internal/errors"
)

// Decode reads a JPEG or PNG and bounds its longest edge to maxSize pixels.
func Decode(data []byte, maxSize int) (image.Image, error) {
	if len(data) == 0 {
		return nil, apperr.New(apperr.CodeInvalidArgument, "empty image")
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInvalidArgument, "unsupported image")
	}
	b := img.Bounds()
	if b.Dx() < MinImageSize || b.Dy() < MinImageSize {
		return nil, apperr.Newf(apperr.CodeInvalidArgument, "image too small: %dx%d", b.Dx(), b.Dy()).
			WithMetadata("format", format)
	}
	if maxSize > 0 && (b.Dx() > maxSize || b.Dy() > maxSize) {
		img = resize.Thumbnail(uint(maxSize), uint(maxSize), img, resize.Lanczos3)
	}
	return img, nil
}

// EncodeJPEG encodes img at the given quality (1-100).
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	if quality <= 0 || quality > 100 {
		quality = jpeg.DefaultQuality
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInternal, "jpeg encode failed")
	}
	return buf.Bytes(), nil
}
