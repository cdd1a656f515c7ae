package pipeline

import (
	"context"
	"image"
)

// Decoder turns accepted upload bytes into pixels. The build picks the
// implementation: stdlib+imaging by default, libvips with the govips tag.
type Decoder interface {
	Decode(ctx context.Context, data []byte, kind Kind) (image.Image, error)
}

// NewDecoder returns the decoder compiled into this binary.
func NewDecoder() (Decoder, error) {
	return newDecoder()
}
