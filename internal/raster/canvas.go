package raster

import (
	"image"
	"image/draw"
	"io"

	"github.com/gogpu/gg"
)

// Surface is a drawing target. A nil Context means the host cannot draw;
// painting onto such a surface does nothing.
type Surface interface {
	Width() int
	Height() int
	Context() *gg.Context
}

// Canvas is a Surface backed by a gg software context.
type Canvas struct {
	dc     *gg.Context
	width  int
	height int
}

func NewCanvas(width, height int) *Canvas {
	return &Canvas{dc: gg.NewContext(width, height), width: width, height: height}
}

// NewDetached returns a canvas of the given size with no drawing context.
func NewDetached(width, height int) *Canvas {
	return &Canvas{width: width, height: height}
}

// FromImage copies img into a new canvas.
func FromImage(img image.Image) *Canvas {
	b := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	return &Canvas{dc: gg.NewContextForImage(rgba), width: b.Dx(), height: b.Dy()}
}

func (c *Canvas) Width() int  { return c.width }
func (c *Canvas) Height() int { return c.height }

func (c *Canvas) Context() *gg.Context {
	if c == nil {
		return nil
	}
	return c.dc
}

// Image returns the current pixels, or a blank image for a detached canvas.
func (c *Canvas) Image() image.Image {
	if c.dc == nil {
		return image.NewRGBA(image.Rect(0, 0, c.width, c.height))
	}
	return c.dc.Image()
}

func (c *Canvas) EncodePNG(w io.Writer) error {
	if c.dc == nil {
		return gg.NewContext(c.width, c.height).EncodePNG(w)
	}
	return c.dc.EncodePNG(w)
}

// Clone returns an independent copy.
func (c *Canvas) Clone() *Canvas {
	if c.dc == nil {
		return NewDetached(c.width, c.height)
	}
	return FromImage(c.Image())
}
