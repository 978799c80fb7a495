// Package browser holds the embedder-facing value types of a browsing session:
// viewport geometry, screenshot rectangles and the typed errors surfaced to
// automation callers.
package browser

import "image"

// Viewport defines the rendering surface size in device pixels.
type Viewport struct {
	Width             int     `json:"width" yaml:"width"`
	Height            int     `json:"height" yaml:"height"`
	DeviceScaleFactor float64 `json:"device_scale_factor,omitempty" yaml:"device_scale_factor"`
}

// DefaultViewport returns the viewport used when none is configured.
func DefaultViewport() Viewport {
	return Viewport{
		Width:             1280,
		Height:            720,
		DeviceScaleFactor: 1.0,
	}
}

// Bounds returns the viewport as a top-left-origin rectangle.
func (v Viewport) Bounds() Rect {
	return Rect{Width: v.Width, Height: v.Height}
}

// Rect describes a rectangle in top-left-origin viewport coordinates.
type Rect struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Empty reports whether the rectangle covers no pixels.
func (r Rect) Empty() bool {
	return r.Width <= 0 || r.Height <= 0
}

// Intersect clips r to other. The result may be empty; an empty operand,
// including one with a negative extent, yields the zero Rect.
func (r Rect) Intersect(other Rect) Rect {
	if r.Empty() || other.Empty() {
		return Rect{}
	}
	ir := r.image().Intersect(other.image())
	return Rect{X: ir.Min.X, Y: ir.Min.Y, Width: ir.Dx(), Height: ir.Dy()}
}

// FlipY converts r to the bottom-left origin used by the rasterizer for a
// surface of the given height.
func (r Rect) FlipY(surfaceHeight int) image.Rectangle {
	y0 := surfaceHeight - (r.Y + r.Height)
	return image.Rect(r.X, y0, r.X+r.Width, y0+r.Height)
}

func (r Rect) image() image.Rectangle {
	return image.Rect(r.X, r.Y, r.X+r.Width, r.Y+r.Height)
}
