package badge

import (
	_ "embed"
	"fmt"
	"image"
	"sync"

	"github.com/dunamismax/badgeflow/internal/pipeline"
)

var (
	//go:embed assets/waves.svg
	wavesSVG []byte
	//go:embed assets/logo.svg
	logoSVG []byte
	//go:embed assets/unbound.svg
	unboundSVG []byte
)

type assetKey struct {
	name string
	w, h int
}

// assetCache keeps rasterized artwork per name and pixel size.
type assetCache struct {
	mu    sync.Mutex
	items map[assetKey]image.Image
}

func newAssetCache() *assetCache {
	return &assetCache{items: make(map[assetKey]image.Image)}
}

func (c *assetCache) get(name string, data []byte, w, h int) (image.Image, error) {
	key := assetKey{name: name, w: w, h: h}

	c.mu.Lock()
	img, ok := c.items[key]
	c.mu.Unlock()
	if ok {
		return img, nil
	}

	img, err := pipeline.RasterizeSVG(data, w, h)
	if err != nil {
		return nil, fmt.Errorf("rasterize %s: %w", name, err)
	}

	c.mu.Lock()
	c.items[key] = img
	c.mu.Unlock()
	return img, nil
}
