package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
)

type stdlibDecoder struct{}

func (stdlibDecoder) Decode(ctx context.Context, data []byte, kind Kind) (image.Image, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	switch kind {
	case KindJPEG, KindPNG:
		img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", kind, err)
		}
		return img, nil
	case KindSVG:
		return RasterizeSVG(data, 0, 0)
	default:
		return nil, fmt.Errorf("unsupported kind: %q", kind)
	}
}
