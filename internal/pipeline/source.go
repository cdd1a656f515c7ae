package pipeline

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/dunamismax/badgeflow/internal/domain"
)

// MaxSourcePixels bounds decoded uploads.
const MaxSourcePixels = 50_000_000

type Kind string

const (
	KindJPEG Kind = "jpeg"
	KindPNG  Kind = "png"
	KindSVG  Kind = "svg"
)

var acceptedTypes = map[string]Kind{
	"image/jpeg":    KindJPEG,
	"image/jpg":     KindJPEG,
	"image/png":     KindPNG,
	"image/svg+xml": KindSVG,
}

// SourceImage is an accepted, decoded upload. It is never mutated after
// LoadSource returns it.
type SourceImage struct {
	Data   []byte
	Kind   Kind
	Width  int
	Height int
	Digest string

	img image.Image
}

// Image returns the decoded pixels.
func (s *SourceImage) Image() image.Image {
	return s.img
}

// LoadSource validates the declared media type against the content and
// decodes the image. A rejected kind returns domain.ErrInvalidFileType; a
// kind that fails to decode returns domain.ErrImageDecode.
func LoadSource(ctx context.Context, dec Decoder, data []byte, declaredType string) (*SourceImage, error) {
	kind, err := DetectKind(declaredType, data)
	if err != nil {
		return nil, err
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	if kind != KindSVG {
		cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("%w: read header: %v", domain.ErrImageDecode, err)
		}
		if cfg.Width*cfg.Height > MaxSourcePixels {
			return nil, fmt.Errorf("%w: %dx%d exceeds %d pixels", domain.ErrImageDecode, cfg.Width, cfg.Height, MaxSourcePixels)
		}
	}

	img, err := dec.Decode(ctx, data, kind)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrImageDecode, err)
	}
	bounds := img.Bounds()
	if bounds.Empty() {
		return nil, fmt.Errorf("%w: empty image", domain.ErrImageDecode)
	}

	sum := sha256.Sum256(data)
	return &SourceImage{
		Data:   data,
		Kind:   kind,
		Width:  bounds.Dx(),
		Height: bounds.Dy(),
		Digest: hex.EncodeToString(sum[:]),
		img:    img,
	}, nil
}

// DetectKind maps a declared media type to an accepted kind and checks that
// the bytes agree with it. An empty declaration is inferred from content.
func DetectKind(declaredType string, data []byte) (Kind, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("%w: empty upload", domain.ErrInvalidFileType)
	}

	sniffed := sniffKind(data)
	declaredType = strings.TrimSpace(declaredType)
	if declaredType == "" || declaredType == "application/octet-stream" {
		if sniffed == "" {
			return "", fmt.Errorf("%w: unrecognised content", domain.ErrInvalidFileType)
		}
		return sniffed, nil
	}

	mediaType, _, err := mime.ParseMediaType(declaredType)
	if err != nil {
		return "", fmt.Errorf("%w: %s", domain.ErrInvalidFileType, declaredType)
	}
	kind, ok := acceptedTypes[strings.ToLower(mediaType)]
	if !ok {
		return "", fmt.Errorf("%w: %s", domain.ErrInvalidFileType, mediaType)
	}
	if sniffed != kind {
		return "", fmt.Errorf("%w: declared %s but content is not %s", domain.ErrInvalidFileType, mediaType, kind)
	}
	return kind, nil
}

// TypeForFilename guesses a media type from a file extension.
func TypeForFilename(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".svg":
		return "image/svg+xml"
	default:
		return ""
	}
}

func sniffKind(data []byte) Kind {
	switch http.DetectContentType(data) {
	case "image/jpeg":
		return KindJPEG
	case "image/png":
		return KindPNG
	}
	if looksLikeSVG(data) {
		return KindSVG
	}
	return ""
}

func looksLikeSVG(data []byte) bool {
	head := data
	if len(head) > 4096 {
		head = head[:4096]
	}
	head = bytes.ToLower(head)
	return bytes.Contains(head, []byte("<svg"))
}
