// Package badge draws the attendee badge: artwork, the cropped photo with its
// filters, and the attendee's name.
package badge

import "math"

// Rect is a box in layout units.
type Rect struct {
	X, Y, W, H float64
}

func (r Rect) scaled(s float64) Rect {
	return Rect{X: r.X * s, Y: r.Y * s, W: r.W * s, H: r.H * s}
}

func (r Rect) centerX() float64 {
	return r.X + r.W/2
}

// Layout places every badge element in logical units. Rendering at scale s
// produces an image of exactly W*s by H*s pixels.
type Layout struct {
	W, H         int
	Padding      float64
	BorderWidth  float64
	CornerRadius float64

	Background  string
	Border      string
	Foreground  string
	Placeholder string

	Waves       Rect
	Logo        Rect
	LogoText    Rect
	Photo       Rect
	PhotoRadius float64
	Name        Rect
	Pill        Rect
	EventLogo   Rect
	Footer      Rect
	QR          Rect

	NameSize   float64
	PillSize   float64
	FooterSize float64
	LabelSize  float64
}

// DefaultLayout is the 500x720 event badge.
func DefaultLayout() Layout {
	return Layout{
		W:            500,
		H:            720,
		Padding:      20,
		BorderWidth:  2,
		CornerRadius: 24,

		Background:  "#22021d",
		Border:      "#ffffff",
		Foreground:  "#ffffff",
		Placeholder: "#7e7e7e",

		Waves:       Rect{X: 260, Y: 0, W: 240, H: 720},
		Logo:        Rect{X: 20, Y: 24, W: 56, H: 56},
		LogoText:    Rect{X: 88, Y: 24, W: 220, H: 56},
		Photo:       Rect{X: 100, Y: 110, W: 300, H: 300},
		PhotoRadius: 16,
		Name:        Rect{X: 20, Y: 430, W: 460, H: 48},
		Pill:        Rect{X: 140, Y: 494, W: 220, H: 44},
		EventLogo:   Rect{X: 150, Y: 566, W: 200, H: 48},
		Footer:      Rect{X: 20, Y: 650, W: 460, H: 40},
		QR:          Rect{X: 400, Y: 20, W: 80, H: 80},

		NameSize:   34,
		PillSize:   20,
		FooterSize: 17,
		LabelSize:  28,
	}
}

// PixelSize is the output size at the given scale.
func (l Layout) PixelSize(scale int) (int, int) {
	return l.W * scale, l.H * scale
}

func px(v, scale float64) int {
	return int(math.Round(v * scale))
}
