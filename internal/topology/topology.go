// Package topology computes how a single video is laid out across a set of
// displays arranged in the virtual desktop space. Everything here is pure
// geometry: no windowing or playback state is touched.
package topology

import (
	"errors"
	"fmt"
)

// ErrEmptyInput is returned when a canvas is requested for zero displays.
var ErrEmptyInput = errors.New("topology: no displays")

// Rect is a rectangle in virtual-desktop units.
type Rect struct {
	X      float64
	Y      float64
	Width  float64
	Height float64
}

func (r Rect) String() string {
	return fmt.Sprintf("%gx%g+%g+%g", r.Width, r.Height, r.X, r.Y)
}

// Display is a snapshot of one physical display as reported by the windowing
// system at request time.
type Display struct {
	ID     int
	Name   string
	Bounds Rect
}

// Canvas is the bounding box of a set of displays.
type Canvas struct {
	MinX float64
	MinY float64
	MaxX float64
	MaxY float64
}

func (c Canvas) Width() float64  { return c.MaxX - c.MinX }
func (c Canvas) Height() float64 { return c.MaxY - c.MinY }

// Degenerate reports whether the canvas has no area to divide.
func (c Canvas) Degenerate() bool {
	return c.Width() <= 0 || c.Height() <= 0
}

// CropRect is a normalized window onto a canvas. All fields are in [0,1].
// A nil *CropRect means the full video is shown without cropping.
type CropRect struct {
	X float64
	Y float64
	W float64
	H float64
}

// FullFrame is the crop covering the entire canvas.
var FullFrame = CropRect{X: 0, Y: 0, W: 1, H: 1}

// ComputeCanvas returns the smallest rectangle containing every display.
// The result does not depend on the order of displays.
func ComputeCanvas(displays []Display) (Canvas, error) {
	if len(displays) == 0 {
		return Canvas{}, ErrEmptyInput
	}

	first := displays[0].Bounds
	c := Canvas{
		MinX: first.X,
		MinY: first.Y,
		MaxX: first.X + first.Width,
		MaxY: first.Y + first.Height,
	}
	for _, d := range displays[1:] {
		b := d.Bounds
		c.MinX = min(c.MinX, b.X)
		c.MinY = min(c.MinY, b.Y)
		c.MaxX = max(c.MaxX, b.X+b.Width)
		c.MaxY = max(c.MaxY, b.Y+b.Height)
	}
	return c, nil
}

// ComputeCropRect returns the portion of the canvas covered by d. A canvas
// with zero width or height yields FullFrame rather than dividing by zero.
func ComputeCropRect(d Display, c Canvas) CropRect {
	if c.Degenerate() {
		return FullFrame
	}
	w, h := c.Width(), c.Height()
	return CropRect{
		X: (d.Bounds.X - c.MinX) / w,
		Y: (d.Bounds.Y - c.MinY) / h,
		W: d.Bounds.Width / w,
		H: d.Bounds.Height / h,
	}
}

// IsSpanning reports whether the request should render one video across all
// displays: exactly one distinct path, repeated for more than one display.
func IsSpanning(videoPaths []string) bool {
	if len(videoPaths) < 2 {
		return false
	}
	for _, p := range videoPaths[1:] {
		if p != videoPaths[0] {
			return false
		}
	}
	return true
}

// ContentFrame returns the frame of the content layer in surface-local
// coordinates. Without a crop the layer fills the surface. With a crop the
// layer is sized to the whole canvas and shifted so that only the display's
// portion falls inside the surface; the surface clips the rest.
func ContentFrame(surface Rect, crop *CropRect) Rect {
	if crop == nil {
		return Rect{Width: surface.Width, Height: surface.Height}
	}

	canvasW := surface.Width
	if crop.W > 0 {
		canvasW = surface.Width / crop.W
	}
	canvasH := surface.Height
	if crop.H > 0 {
		canvasH = surface.Height / crop.H
	}

	return Rect{
		X:      -crop.X * canvasW,
		Y:      -crop.Y * canvasH,
		Width:  canvasW,
		Height: canvasH,
	}
}
