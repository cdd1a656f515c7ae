package pipeline

import (
	"image"

	"github.com/disintegration/imaging"
	xdraw "golang.org/x/image/draw"
)

// Thumbnail scales img down so neither side exceeds maxSide. Images already
// small enough are copied unchanged.
func Thumbnail(img image.Image, maxSide int) *image.NRGBA {
	b := img.Bounds()
	if maxSide <= 0 || (b.Dx() <= maxSide && b.Dy() <= maxSide) {
		return imaging.Clone(img)
	}

	w, h := maxSide, maxSide
	if b.Dx() > b.Dy() {
		h = max(1, b.Dy()*maxSide/b.Dx())
	} else if b.Dy() > b.Dx() {
		w = max(1, b.Dx()*maxSide/b.Dy())
	}

	dst := image.NewNRGBA(image.Rect(0, 0, w, h))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), img, b, xdraw.Src, nil)
	return dst
}
