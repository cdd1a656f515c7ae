//go:build govips && cgo

package pipeline

import (
	"context"
	"fmt"
	"image"

	"github.com/davidbyttow/govips/v2/vips"
)

// govipsDecoder decodes raster uploads with libvips. SVG stays on the
// oksvg path so artwork and uploads rasterize identically in both builds.
type govipsDecoder struct{}

func (govipsDecoder) Decode(ctx context.Context, data []byte, kind Kind) (image.Image, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	if kind == KindSVG {
		return RasterizeSVG(data, 0, 0)
	}

	img, err := vips.NewImageFromBuffer(data)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", kind, err)
	}
	defer img.Close()

	if err := img.AutoRotate(); err != nil {
		return nil, fmt.Errorf("auto-rotate %s: %w", kind, err)
	}

	out, err := img.ToImage(vips.NewDefaultPNGExportParams())
	if err != nil {
		return nil, fmt.Errorf("convert %s: %w", kind, err)
	}
	return out, nil
}
