package badge

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"

	"github.com/disintegration/imaging"
	"github.com/fogleman/gg"
	"github.com/skip2/go-qrcode"
	"golang.org/x/image/font/opentype"

	"github.com/dunamismax/badgeflow/internal/filter"
	"github.com/dunamismax/badgeflow/internal/pipeline"
)

const (
	defaultLogoText = "GHCI 25"
	defaultPillText = "I am Attending"
	defaultFooter   = "December 2-4, 2025 | KTPO, Bengaluru"
	placeholderText = "Image"

	// MaxScale bounds a single render; 8 is the largest export multiplier.
	MaxScale    = 16
	minNameSize = 14
)

var ErrInvalidScale = errors.New("badge scale must be between 1 and 16")

type Options struct {
	Layout    Layout
	LogoText  string
	PillText  string
	Footer    string
	QRContent string
}

// View is everything that varies between two badges.
type View struct {
	Name    string
	Photo   *pipeline.CompositedImage
	Filters filter.Settings
}

// Renderer draws badges. It is safe for concurrent use.
type Renderer struct {
	opts   Options
	assets *assetCache
}

func NewRenderer(opts Options) *Renderer {
	if opts.Layout.W == 0 || opts.Layout.H == 0 {
		opts.Layout = DefaultLayout()
	}
	if opts.LogoText == "" {
		opts.LogoText = defaultLogoText
	}
	if opts.PillText == "" {
		opts.PillText = defaultPillText
	}
	if opts.Footer == "" {
		opts.Footer = defaultFooter
	}
	return &Renderer{opts: opts, assets: newAssetCache()}
}

func (r *Renderer) Layout() Layout {
	return r.opts.Layout
}

// Render draws the whole badge at scale onto a transparent canvas. Without a
// photo the slot shows a neutral placeholder.
func (r *Renderer) Render(ctx context.Context, v View, scale int) (*image.NRGBA, error) {
	if scale < 1 || scale > MaxScale {
		return nil, fmt.Errorf("%w: %d", ErrInvalidScale, scale)
	}
	if err := loadFonts(); err != nil {
		return nil, err
	}

	l := r.opts.Layout
	s := float64(scale)
	w, h := l.PixelSize(scale)
	dc := gg.NewContext(w, h)

	steps := []func(*gg.Context, float64) error{
		r.drawCard,
		r.drawHeader,
		r.drawQR,
		func(dc *gg.Context, s float64) error { return r.drawPhoto(dc, s, v) },
		func(dc *gg.Context, s float64) error { return r.drawName(dc, s, v.Name) },
		r.drawPill,
		r.drawFooter,
	}
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := step(dc, s); err != nil {
			return nil, err
		}
	}

	return imaging.Clone(dc.Image()), nil
}

func (r *Renderer) drawCard(dc *gg.Context, s float64) error {
	l := r.opts.Layout
	b := l.BorderWidth * s
	w, h := float64(l.W)*s, float64(l.H)*s
	radius := l.CornerRadius * s

	dc.DrawRoundedRectangle(b/2, b/2, w-b, h-b, radius)
	dc.SetHexColor(l.Background)
	dc.FillPreserve()
	dc.Clip()

	waves := l.Waves.scaled(s)
	art, err := r.assets.get("waves", wavesSVG, px(l.Waves.W, s), px(l.Waves.H, s))
	if err != nil {
		return err
	}
	// Anchored to the right edge whatever the artwork's width.
	dc.DrawImage(art, int(w)-art.Bounds().Dx(), px(waves.Y, 1))
	dc.ResetClip()

	dc.DrawRoundedRectangle(b/2, b/2, w-b, h-b, radius)
	dc.SetLineWidth(b)
	dc.SetHexColor(l.Border)
	dc.Stroke()
	return nil
}

func (r *Renderer) drawHeader(dc *gg.Context, s float64) error {
	l := r.opts.Layout
	logo, err := r.assets.get("logo", logoSVG, px(l.Logo.W, s), px(l.Logo.H, s))
	if err != nil {
		return err
	}
	dc.DrawImage(logo, px(l.Logo.X, s), px(l.Logo.Y, s))

	text := l.LogoText.scaled(s)
	if err := setFace(dc, boldFont, l.LabelSize*s); err != nil {
		return err
	}
	dc.SetHexColor(l.Foreground)
	dc.DrawStringAnchored(r.opts.LogoText, text.X, text.Y+text.H/2, 0, 0.35)
	return nil
}

func (r *Renderer) drawQR(dc *gg.Context, s float64) error {
	if r.opts.QRContent == "" {
		return nil
	}
	l := r.opts.Layout
	q, err := qrcode.New(r.opts.QRContent, qrcode.Medium)
	if err != nil {
		return fmt.Errorf("qr code: %w", err)
	}
	q.DisableBorder = true
	q.ForegroundColor = color.Black
	q.BackgroundColor = color.White

	size := px(l.QR.W, s)
	code := q.Image(size)
	// go-qrcode rounds the module grid and may return a slightly smaller image.
	if b := code.Bounds(); b.Dx() != size || b.Dy() != size {
		code = imaging.Resize(code, size, size, imaging.NearestNeighbor)
	}
	dc.DrawImage(code, px(l.QR.X, s), px(l.QR.Y, s))
	return nil
}

func (r *Renderer) drawPhoto(dc *gg.Context, s float64, v View) error {
	l := r.opts.Layout
	x, y := px(l.Photo.X, s), px(l.Photo.Y, s)
	side := px(l.Photo.W, s)
	radius := l.PhotoRadius * s

	dc.DrawRoundedRectangle(float64(x), float64(y), float64(side), float64(side), radius)
	if v.Photo == nil || v.Photo.Image() == nil {
		dc.SetHexColor(l.Placeholder)
		dc.Fill()
		if err := setFace(dc, boldFont, l.LabelSize*s); err != nil {
			return err
		}
		dc.SetHexColor(l.Foreground)
		dc.DrawStringAnchored(placeholderText, float64(x)+float64(side)/2, float64(y)+float64(side)/2, 0.5, 0.35)
	} else {
		dc.Clip()
		photo := filter.NewChain(v.Filters).Apply(v.Photo.Image())
		dc.DrawImage(imaging.Resize(photo, side, side, imaging.Lanczos), x, y)
		dc.ResetClip()
	}

	dc.DrawRoundedRectangle(float64(x), float64(y), float64(side), float64(side), radius)
	dc.SetLineWidth(l.BorderWidth * s)
	dc.SetHexColor(l.Border)
	dc.Stroke()
	return nil
}

func (r *Renderer) drawName(dc *gg.Context, s float64, name string) error {
	if name == "" {
		return nil
	}
	l := r.opts.Layout
	box := l.Name.scaled(s)

	// Long names shrink until they fit the line.
	size := l.NameSize
	for {
		if err := setFace(dc, boldFont, size*s); err != nil {
			return err
		}
		if tw, _ := dc.MeasureString(name); tw <= box.W || size <= minNameSize {
			break
		}
		size -= 2
	}
	dc.SetHexColor(l.Foreground)
	dc.DrawStringAnchored(name, box.centerX(), box.Y+box.H/2, 0.5, 0.35)
	return nil
}

func (r *Renderer) drawPill(dc *gg.Context, s float64) error {
	l := r.opts.Layout
	pill := l.Pill.scaled(s)
	dc.DrawRoundedRectangle(pill.X, pill.Y, pill.W, pill.H, pill.H/2)
	dc.SetHexColor(l.Foreground)
	dc.Fill()

	if err := setFace(dc, boldFont, l.PillSize*s); err != nil {
		return err
	}
	dc.SetHexColor(l.Background)
	dc.DrawStringAnchored(r.opts.PillText, pill.centerX(), pill.Y+pill.H/2, 0.5, 0.35)

	logo, err := r.assets.get("unbound", unboundSVG, px(l.EventLogo.W, s), px(l.EventLogo.H, s))
	if err != nil {
		return err
	}
	dc.DrawImage(logo, px(l.EventLogo.X, s), px(l.EventLogo.Y, s))
	return nil
}

func (r *Renderer) drawFooter(dc *gg.Context, s float64) error {
	l := r.opts.Layout
	box := l.Footer.scaled(s)
	if err := setFace(dc, regularFont, l.FooterSize*s); err != nil {
		return err
	}
	dc.SetHexColor(l.Foreground)
	dc.DrawStringAnchored(r.opts.Footer, box.centerX(), box.Y+box.H/2, 0.5, 0.35)
	return nil
}

func setFace(dc *gg.Context, f *opentype.Font, size float64) error {
	face, err := newFace(f, size)
	if err != nil {
		return err
	}
	dc.SetFontFace(face)
	return nil
}
