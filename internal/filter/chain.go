package filter

import (
	"fmt"
	"image"
	"math"
	"strings"

	"github.com/disintegration/imaging"
)

// matrix is a 3x4 affine colour transform over non-premultiplied sRGB
// channels in [0,1]: out = M[:3] . (r,g,b) + M[3], row by row.
type matrix [3][4]float64

// Op is one stage of a Chain.
type Op struct {
	Field Field
	m     matrix
}

// Chain is the ordered pixel transform for a Settings value. Stages that
// would be the identity are left out, so a default chain has no stages.
type Chain struct {
	settings Settings
	ops      []Op
}

// NewChain builds the chain brightness, contrast, saturation, hue, sepia,
// grayscale. That order is fixed; every caller gets the same stages.
func NewChain(s Settings) Chain {
	s = s.Clamped()
	c := Chain{settings: s}

	if s.Brightness != 100 {
		c.ops = append(c.ops, Op{Field: Brightness, m: linear(float64(s.Brightness)/100, 0)})
	}
	if s.Contrast != 100 {
		a := float64(s.Contrast) / 100
		c.ops = append(c.ops, Op{Field: Contrast, m: linear(a, 0.5-0.5*a)})
	}
	if s.Saturation != 100 {
		c.ops = append(c.ops, Op{Field: Saturation, m: saturate(float64(s.Saturation) / 100)})
	}
	if s.Hue != 0 {
		c.ops = append(c.ops, Op{Field: Hue, m: hueRotate(float64(s.Hue))})
	}
	if s.Sepia != 0 {
		c.ops = append(c.ops, Op{Field: Sepia, m: sepia(float64(s.Sepia) / 100)})
	}
	if s.Grayscale != 0 {
		c.ops = append(c.ops, Op{Field: Grayscale, m: grayscale(float64(s.Grayscale) / 100)})
	}
	return c
}

func (c Chain) Settings() Settings {
	return c.settings
}

// Stages lists the fields that actually transform pixels, in order.
func (c Chain) Stages() []Field {
	out := make([]Field, 0, len(c.ops))
	for _, op := range c.ops {
		out = append(out, op.Field)
	}
	return out
}

func (c Chain) IsIdentity() bool {
	return len(c.ops) == 0
}

// Apply returns a new image with the chain applied. The source is not
// modified. With no stages the result is an exact pixel copy.
func (c Chain) Apply(src image.Image) *image.NRGBA {
	dst := imaging.Clone(src)
	if len(c.ops) == 0 {
		return dst
	}

	pix := dst.Pix
	for i := 0; i+3 < len(pix); i += 4 {
		r := float64(pix[i]) / 255
		g := float64(pix[i+1]) / 255
		b := float64(pix[i+2]) / 255
		for _, op := range c.ops {
			r, g, b = op.m.apply(r, g, b)
		}
		pix[i] = toByte(r)
		pix[i+1] = toByte(g)
		pix[i+2] = toByte(b)
	}
	return dst
}

// CSS renders the chain as a CSS filter value for client-side previews.
func (c Chain) CSS() string {
	s := c.settings
	parts := []string{
		fmt.Sprintf("brightness(%d%%)", s.Brightness),
		fmt.Sprintf("contrast(%d%%)", s.Contrast),
		fmt.Sprintf("saturate(%d%%)", s.Saturation),
		fmt.Sprintf("hue-rotate(%ddeg)", s.Hue),
		fmt.Sprintf("sepia(%d%%)", s.Sepia),
		fmt.Sprintf("grayscale(%d%%)", s.Grayscale),
	}
	return strings.Join(parts, " ")
}

// apply clamps after every stage. The float64 conversions stop the compiler
// from fusing multiply-adds, which would change rounding on some GOARCHes.
func (m *matrix) apply(r, g, b float64) (float64, float64, float64) {
	nr := float64(m[0][0]*r) + float64(m[0][1]*g) + float64(m[0][2]*b) + m[0][3]
	ng := float64(m[1][0]*r) + float64(m[1][1]*g) + float64(m[1][2]*b) + m[1][3]
	nb := float64(m[2][0]*r) + float64(m[2][1]*g) + float64(m[2][2]*b) + m[2][3]
	return clamp01(nr), clamp01(ng), clamp01(nb)
}

func linear(slope, intercept float64) matrix {
	return matrix{
		{slope, 0, 0, intercept},
		{0, slope, 0, intercept},
		{0, 0, slope, intercept},
	}
}

func saturate(s float64) matrix {
	return matrix{
		{0.213 + 0.787*s, 0.715 - 0.715*s, 0.072 - 0.072*s, 0},
		{0.213 - 0.213*s, 0.715 + 0.285*s, 0.072 - 0.072*s, 0},
		{0.213 - 0.213*s, 0.715 - 0.715*s, 0.072 + 0.928*s, 0},
	}
}

func hueRotate(deg float64) matrix {
	rad := deg * math.Pi / 180
	cos, sin := math.Cos(rad), math.Sin(rad)
	return matrix{
		{0.213 + cos*0.787 - sin*0.213, 0.715 - cos*0.715 - sin*0.715, 0.072 - cos*0.072 + sin*0.928, 0},
		{0.213 - cos*0.213 + sin*0.143, 0.715 + cos*0.285 + sin*0.140, 0.072 - cos*0.072 - sin*0.283, 0},
		{0.213 - cos*0.213 - sin*0.787, 0.715 - cos*0.715 + sin*0.715, 0.072 + cos*0.928 + sin*0.072, 0},
	}
}

func sepia(amount float64) matrix {
	k := 1 - math.Min(1, amount)
	return matrix{
		{0.393 + 0.607*k, 0.769 - 0.769*k, 0.189 - 0.189*k, 0},
		{0.349 - 0.349*k, 0.686 + 0.314*k, 0.168 - 0.168*k, 0},
		{0.272 - 0.272*k, 0.534 - 0.534*k, 0.131 + 0.869*k, 0},
	}
}

func grayscale(amount float64) matrix {
	k := 1 - math.Min(1, amount)
	return matrix{
		{0.2126 + 0.7874*k, 0.7152 - 0.7152*k, 0.0722 - 0.0722*k, 0},
		{0.2126 - 0.2126*k, 0.7152 + 0.2848*k, 0.0722 - 0.0722*k, 0},
		{0.2126 - 0.2126*k, 0.7152 - 0.7152*k, 0.0722 + 0.9278*k, 0},
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func toByte(v float64) uint8 {
	return uint8(math.Round(v * 255))
}
