package pipeline

import (
	"bytes"
	"fmt"
	"image"
	"math"

	"github.com/disintegration/imaging"
	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"
)

// defaultSVGSize is used when an SVG declares no usable viewBox.
const defaultSVGSize = 1024

// RasterizeSVG draws an SVG onto a transparent canvas.
//
// With targetW and targetH both zero the viewBox size is used. With one of
// them set the other follows the aspect ratio. With both set the drawing is
// fitted inside the box keeping its aspect ratio.
func RasterizeSVG(svgData []byte, targetW, targetH int) (*image.NRGBA, error) {
	icon, err := oksvg.ReadIconStream(bytes.NewReader(svgData), oksvg.WarnErrorMode)
	if err != nil {
		return nil, fmt.Errorf("parse svg: %w", err)
	}

	vbW, vbH := icon.ViewBox.W, icon.ViewBox.H
	if !(vbW > 0) || math.IsInf(vbW, 0) {
		vbW = defaultSVGSize
	}
	if !(vbH > 0) || math.IsInf(vbH, 0) {
		vbH = defaultSVGSize
	}
	intrW, intrH := math.Ceil(vbW), math.Ceil(vbH)

	w, h := intrW, intrH
	switch {
	case targetW <= 0 && targetH <= 0:
	case targetH <= 0:
		w = float64(targetW)
		h = math.Round(w * intrH / intrW)
	case targetW <= 0:
		h = float64(targetH)
		w = math.Round(h * intrW / intrH)
	default:
		scale := math.Min(float64(targetW)/intrW, float64(targetH)/intrH)
		w = math.Round(intrW * scale)
		h = math.Round(intrH * scale)
	}
	w = math.Max(w, 1)
	h = math.Max(h, 1)
	// Compared in float64 so huge viewBoxes cannot wrap around.
	if w*h > MaxSourcePixels {
		return nil, fmt.Errorf("svg raster %.0fx%.0f exceeds %d pixels", w, h, MaxSourcePixels)
	}
	return drawSVG(icon, int(w), int(h)), nil
}

func drawSVG(icon *oksvg.SvgIcon, w, h int) *image.NRGBA {
	icon.SetTarget(0, 0, float64(w), float64(h))

	rgba := image.NewRGBA(image.Rect(0, 0, w, h))
	scanner := rasterx.NewScannerGV(w, h, rgba, rgba.Bounds())
	dasher := rasterx.NewDasher(w, h, scanner)
	icon.Draw(dasher, 1.0)

	return imaging.Clone(rgba)
}
