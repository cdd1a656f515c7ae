// Package crop maps the editor's crop gesture onto source image pixels.
//
// A gesture is stored as fractions of the image, never as screen pixels, so
// resizing the editor viewport does not move the crop.
package crop

import (
	"errors"
	"image"
	"math"
)

const (
	MinZoom  = 1.0
	MaxZoom  = 4.0
	ZoomStep = 0.05
)

var ErrNoSource = errors.New("crop: source image dimensions are required")

// Gesture is the crop state. OffsetX and OffsetY move the crop centre away
// from the image centre, as a fraction of the image width and height.
type Gesture struct {
	OffsetX float64 `json:"offset_x"`
	OffsetY float64 `json:"offset_y"`
	Zoom    float64 `json:"zoom"`
}

func DefaultGesture() Gesture {
	return Gesture{Zoom: MinZoom}
}

// Normalized clamps zoom into [MinZoom, MaxZoom] and offsets into
// [-0.5, 0.5]. NaN values fall back to the defaults.
func (g Gesture) Normalized() Gesture {
	return Gesture{
		OffsetX: clampFloat(finiteOr(g.OffsetX, 0), -0.5, 0.5),
		OffsetY: clampFloat(finiteOr(g.OffsetY, 0), -0.5, 0.5),
		Zoom:    clampFloat(finiteOr(g.Zoom, MinZoom), MinZoom, MaxZoom),
	}
}

// Restrict pulls the offsets in so the crop square stays inside an image of
// the given size at the gesture's zoom.
func (g Gesture) Restrict(width, height int) Gesture {
	g = g.Normalized()
	if width <= 0 || height <= 0 {
		return g
	}
	side := float64(min(width, height)) / g.Zoom
	limitX := (float64(width) - side) / (2 * float64(width))
	limitY := (float64(height) - side) / (2 * float64(height))
	g.OffsetX = clampFloat(g.OffsetX, -limitX, limitX)
	g.OffsetY = clampFloat(g.OffsetY, -limitY, limitY)
	return g
}

// Pan applies a drag of (dx, dy) screen pixels in a square crop viewport that
// is viewport pixels wide. Dragging the image right moves the crop left.
func (g Gesture) Pan(dx, dy, viewport float64, width, height int) Gesture {
	g = g.Normalized()
	if viewport <= 0 || width <= 0 || height <= 0 {
		return g
	}
	side := float64(min(width, height)) / g.Zoom
	perScreenPixel := side / viewport
	g.OffsetX -= dx * perScreenPixel / float64(width)
	g.OffsetY -= dy * perScreenPixel / float64(height)
	return g.Restrict(width, height)
}

// ZoomBy changes zoom by delta steps of ZoomStep, the way a scroll wheel does.
func (g Gesture) ZoomBy(steps float64) Gesture {
	g = g.Normalized()
	g.Zoom = clampFloat(g.Zoom+steps*ZoomStep, MinZoom, MaxZoom)
	return g
}

// Region is a square in source pixel space.
type Region struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

func (r Region) Rect() image.Rectangle {
	return image.Rect(r.X, r.Y, r.X+r.Width, r.Y+r.Height)
}

// Within reports whether r is non-empty and lies inside [0,width) x [0,height).
func (r Region) Within(width, height int) bool {
	return r.X >= 0 && r.Y >= 0 && r.Width > 0 && r.Height > 0 &&
		r.X+r.Width <= width && r.Y+r.Height <= height
}

// Resolve converts a gesture into integer source pixels. Out-of-range input
// is clamped; the result is always square and inside the image.
func Resolve(g Gesture, width, height int) (Region, error) {
	if width <= 0 || height <= 0 {
		return Region{}, ErrNoSource
	}
	g = g.Normalized()

	short := min(width, height)
	side := int(math.Round(float64(short) / g.Zoom))
	side = clampInt(side, 1, short)

	centerX := (0.5 + g.OffsetX) * float64(width)
	centerY := (0.5 + g.OffsetY) * float64(height)
	x := int(math.Round(centerX - float64(side)/2))
	y := int(math.Round(centerY - float64(side)/2))

	return Region{
		X:      clampInt(x, 0, width-side),
		Y:      clampInt(y, 0, height-side),
		Width:  side,
		Height: side,
	}, nil
}

func finiteOr(v, fallback float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fallback
	}
	return v
}

func clampFloat(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
