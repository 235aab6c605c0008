package animate

import (
	"image"
	"image/color"

	xdraw "golang.org/x/image/draw"
)

// Compositor redraws a portrait with the region below the mouth hinge shifted down.
type Compositor struct {
	base  *image.RGBA
	mouth image.Rectangle
	jaw   image.Rectangle // hinge row to jaw bottom, widened past the lips
	shade image.Image
	mask  image.Image
}

// NewCompositor prepares a compositor for img. It returns nil when the mouth
// region does not map to at least two pixel rows.
func NewCompositor(img image.Image, region MouthRegion, p Params) *Compositor {
	p = p.normalized()
	base := toRGBA(img)
	b := base.Bounds()
	mouth := region.Rect(b)
	if mouth.Dy() < 2 || mouth.Dx() < 1 {
		return nil
	}

	mh := float64(mouth.Dy())
	hinge := mouth.Min.Y + int(p.Split*mh)
	widen := int(jawWiden * float64(mouth.Dx()))
	jaw := image.Rect(
		mouth.Min.X-widen,
		hinge,
		mouth.Max.X+widen,
		hinge+int(p.Extent*mh),
	).Intersect(b)
	if jaw.Dy() < 2 {
		return nil
	}

	return &Compositor{
		base:  base,
		mouth: mouth,
		jaw:   jaw,
		shade: image.NewUniform(color.Black),
		mask:  image.NewUniform(color.Alpha{A: gapShadeAlpha}),
	}
}

// Base returns the unmodified portrait.
func (c *Compositor) Base() *image.RGBA { return c.base }

// MouthHeight returns the mouth height in pixels.
func (c *Compositor) MouthHeight() float64 { return float64(c.mouth.Dy()) }

// Compose returns a new frame: upper region untouched, jaw shifted down by d
// pixels and the opened gap filled with a stretched, darkened seam strip.
func (c *Compositor) Compose(d int) *image.RGBA {
	out := image.NewRGBA(c.base.Bounds())
	copy(out.Pix, c.base.Pix)
	if d <= 0 {
		return out
	}
	jaw := c.jaw
	d = min(d, jaw.Dy()-1)

	src := image.Rect(jaw.Min.X, jaw.Min.Y, jaw.Max.X, jaw.Max.Y-d)
	dst := src.Add(image.Pt(0, d))
	xdraw.Draw(out, dst, c.base, src.Min, xdraw.Src)

	gap := image.Rect(jaw.Min.X, jaw.Min.Y, jaw.Max.X, jaw.Min.Y+d)
	seam := image.Rect(jaw.Min.X, jaw.Min.Y-1, jaw.Max.X, jaw.Min.Y+1).Intersect(c.base.Bounds())
	xdraw.BiLinear.Scale(out, gap, c.base, seam, xdraw.Src, nil)
	xdraw.DrawMask(out, gap, c.shade, image.Point{}, c.mask, image.Point{}, xdraw.Over)
	return out
}

func toRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok && rgba.Bounds().Min == (image.Point{}) {
		return rgba
	}
	b := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	xdraw.Draw(rgba, rgba.Bounds(), img, b.Min, xdraw.Src)
	return rgba
}
