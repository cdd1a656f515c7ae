package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/dunamismax/badgeflow/internal/crop"
	"github.com/dunamismax/badgeflow/internal/domain"
)

// NeutralBackground fills any canvas area the source does not cover.
var NeutralBackground = color.NRGBA{R: 0x7e, G: 0x7e, B: 0x7e, A: 0xff}

var ErrRegionOutOfBounds = errors.New("crop region outside source image")

const defaultCacheSize = 64

// CompositedImage is the frozen result of cropping a source. Filters are not
// part of it; they are applied whenever it is rendered.
type CompositedImage struct {
	PNG          []byte
	Width        int
	Height       int
	Region       crop.Region
	SourceDigest string

	img *image.NRGBA
}

// Key identifies the (source, region) pair the image was made from.
func (c *CompositedImage) Key() string {
	return CompositeKey(c.SourceDigest, c.Region)
}

// Image returns the decoded bitmap. Callers must not modify it.
func (c *CompositedImage) Image() image.Image {
	return c.img
}

// Compositor crops sources onto an opaque canvas and encodes the result.
// Results are cached by source digest and region.
type Compositor struct {
	background color.NRGBA
	decoder    Decoder
	cacheSize  int

	mu    sync.Mutex
	cache map[string]*CompositedImage
	order []string
}

func NewCompositor(decoder Decoder, cacheSize int) *Compositor {
	if cacheSize <= 0 {
		cacheSize = defaultCacheSize
	}
	return &Compositor{
		background: NeutralBackground,
		decoder:    decoder,
		cacheSize:  cacheSize,
		cache:      make(map[string]*CompositedImage),
	}
}

// Composite draws region r of src onto a region-sized canvas and returns
// it PNG-encoded. Identical inputs always yield identical bytes.
func (c *Compositor) Composite(ctx context.Context, src *SourceImage, r crop.Region) (*CompositedImage, error) {
	if src == nil {
		return nil, errors.New("source image is required")
	}
	if !r.Within(src.Width, src.Height) {
		return nil, fmt.Errorf("%w: %+v in %dx%d", ErrRegionOutOfBounds, r, src.Width, src.Height)
	}

	key := CompositeKey(src.Digest, r)
	if hit := c.lookup(key); hit != nil {
		return hit, nil
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	img := src.Image()
	if img == nil {
		if c.decoder == nil {
			return nil, fmt.Errorf("%w: source has no pixels and no decoder is configured", domain.ErrImageDecode)
		}
		decoded, err := c.decoder.Decode(ctx, src.Data, src.Kind)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrImageDecode, err)
		}
		img = decoded
	}

	rect := r.Rect().Add(img.Bounds().Min)
	canvas := imaging.New(r.Width, r.Height, c.background)
	canvas = imaging.Overlay(canvas, imaging.Crop(img, rect), image.Pt(0, 0), 1.0)

	data, err := EncodePNG(canvas)
	if err != nil {
		return nil, fmt.Errorf("composite encode stage: %w", err)
	}

	out := &CompositedImage{
		PNG:          data,
		Width:        r.Width,
		Height:       r.Height,
		Region:       r,
		SourceDigest: src.Digest,
		img:          canvas,
	}
	c.store(key, out)
	return out, nil
}

func (c *Compositor) lookup(key string) *CompositedImage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cache[key]
}

func (c *Compositor) store(key string, img *CompositedImage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.cache[key]; ok {
		return
	}
	c.cache[key] = img
	c.order = append(c.order, key)
	for len(c.order) > c.cacheSize {
		delete(c.cache, c.order[0])
		c.order = c.order[1:]
	}
}

// CompositeKey names the output of cropping the source with the given
// digest to r.
func CompositeKey(digest string, r crop.Region) string {
	return fmt.Sprintf("%s:%d,%d,%d,%d", digest, r.X, r.Y, r.Width, r.Height)
}
