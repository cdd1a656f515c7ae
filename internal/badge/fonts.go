package badge

import (
	"fmt"
	"sync"

	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
)

var (
	fontsOnce   sync.Once
	regularFont *opentype.Font
	boldFont    *opentype.Font
	fontsErr    error
)

func loadFonts() error {
	fontsOnce.Do(func() {
		regularFont, fontsErr = opentype.Parse(goregular.TTF)
		if fontsErr != nil {
			fontsErr = fmt.Errorf("parse regular font: %w", fontsErr)
			return
		}
		boldFont, fontsErr = opentype.Parse(gobold.TTF)
		if fontsErr != nil {
			fontsErr = fmt.Errorf("parse bold font: %w", fontsErr)
		}
	})
	return fontsErr
}

func newFace(f *opentype.Font, size float64) (font.Face, error) {
	face, err := opentype.NewFace(f, &opentype.FaceOptions{
		Size:    size,
		DPI:     72,
		Hinting: font.HintingNone,
	})
	if err != nil {
		return nil, fmt.Errorf("new font face: %w", err)
	}
	return face, nil
}
