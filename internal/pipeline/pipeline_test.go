package pipeline

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dunamismax/badgeflow/internal/crop"
	"github.com/dunamismax/badgeflow/internal/domain"
	"github.com/dunamismax/badgeflow/internal/storage"
)

const testSVG = `<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 120 80" width="120" height="80">
<rect x="0" y="0" width="120" height="80" fill="#ff0000"/>
</svg>`

func TestLoadSourcePNG(t *testing.T) {
	data := buildTestPNG(t, 240, 120)

	src, err := LoadSource(context.Background(), stdlibDecoder{}, data, "image/png")
	if err != nil {
		t.Fatalf("load source: %v", err)
	}
	if src.Kind != KindPNG {
		t.Fatalf("expected png kind, got %s", src.Kind)
	}
	if src.Width != 240 || src.Height != 120 {
		t.Fatalf("expected 240x120, got %dx%d", src.Width, src.Height)
	}
	if len(src.Digest) != 64 {
		t.Fatalf("expected sha256 hex digest, got %q", src.Digest)
	}
}

func TestLoadSourceSVG(t *testing.T) {
	src, err := LoadSource(context.Background(), stdlibDecoder{}, []byte(testSVG), "image/svg+xml")
	if err != nil {
		t.Fatalf("load svg: %v", err)
	}
	if src.Width != 120 || src.Height != 80 {
		t.Fatalf("expected 120x80, got %dx%d", src.Width, src.Height)
	}
	c := color.NRGBAModel.Convert(src.Image().At(60, 40)).(color.NRGBA)
	if c.R < 200 || c.G > 40 || c.A != 255 {
		t.Fatalf("expected opaque red centre, got %v", c)
	}
}

func TestLoadSourceRejectsUnacceptedKinds(t *testing.T) {
	pngData := buildTestPNG(t, 8, 8)
	cases := map[string]struct {
		declared string
		data     []byte
	}{
		"gif declared":       {"image/gif", []byte("GIF89a....")},
		"png declared, text": {"image/png", []byte("hello world")},
		"jpeg declared, png": {"image/jpeg", pngData},
		"unknown content":    {"", []byte("plain text")},
		"empty":              {"image/png", nil},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadSource(context.Background(), stdlibDecoder{}, tc.data, tc.declared)
			if !errors.Is(err, domain.ErrInvalidFileType) {
				t.Fatalf("expected ErrInvalidFileType, got %v", err)
			}
		})
	}
}

func TestLoadSourceCorruptImage(t *testing.T) {
	data := buildTestPNG(t, 32, 32)
	corrupt := append([]byte{}, data[:40]...)

	_, err := LoadSource(context.Background(), stdlibDecoder{}, corrupt, "image/png")
	if !errors.Is(err, domain.ErrImageDecode) {
		t.Fatalf("expected ErrImageDecode, got %v", err)
	}
}

func TestLoadSourceRejectsOversizedSVG(t *testing.T) {
	for _, viewBox := range []string{"0 0 4294967296 4294967296", "0 0 100000 100000", "0 0 1e300 1e300"} {
		svg := `<svg xmlns="http://www.w3.org/2000/svg" viewBox="` + viewBox + `"><rect width="10" height="10" fill="#000"/></svg>`
		_, err := LoadSource(context.Background(), stdlibDecoder{}, []byte(svg), "image/svg+xml")
		if !errors.Is(err, domain.ErrImageDecode) {
			t.Fatalf("viewBox %q: expected ErrImageDecode, got %v", viewBox, err)
		}
	}
}

func TestRasterizeSVGFitsTarget(t *testing.T) {
	img, err := RasterizeSVG([]byte(testSVG), 60, 60)
	if err != nil {
		t.Fatalf("rasterize: %v", err)
	}
	if got := img.Bounds().Size(); got != image.Pt(60, 40) {
		t.Fatalf("expected 60x40, got %v", got)
	}
}

func TestDetectKindAcceptsJPGAlias(t *testing.T) {
	var buf bytes.Buffer
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		t.Fatalf("encode jpeg: %v", err)
	}
	kind, err := DetectKind("image/jpg", buf.Bytes())
	if err != nil {
		t.Fatalf("detect kind: %v", err)
	}
	if kind != KindJPEG {
		t.Fatalf("expected jpeg, got %s", kind)
	}
}

func TestCompositeCopiesExactRegion(t *testing.T) {
	src := loadTestSource(t, 240, 120)
	region := crop.Region{X: 30, Y: 10, Width: 100, Height: 100}

	out, err := NewCompositor(stdlibDecoder{}, 0).Composite(context.Background(), src, region)
	if err != nil {
		t.Fatalf("composite: %v", err)
	}
	if out.Width != 100 || out.Height != 100 {
		t.Fatalf("expected 100x100, got %dx%d", out.Width, out.Height)
	}

	decoded, err := png.Decode(bytes.NewReader(out.PNG))
	if err != nil {
		t.Fatalf("decode composited png: %v", err)
	}
	for _, p := range []image.Point{{0, 0}, {99, 99}, {50, 17}} {
		got := color.NRGBAModel.Convert(decoded.At(p.X, p.Y))
		want := color.NRGBAModel.Convert(src.Image().At(p.X+30, p.Y+10))
		if got != want {
			t.Fatalf("pixel %v: expected %v, got %v", p, want, got)
		}
	}
}

func TestCompositeIsByteIdentical(t *testing.T) {
	src := loadTestSource(t, 320, 200)
	region := crop.Region{X: 60, Y: 0, Width: 200, Height: 200}

	first, err := NewCompositor(stdlibDecoder{}, 0).Composite(context.Background(), src, region)
	if err != nil {
		t.Fatalf("first composite: %v", err)
	}
	second, err := NewCompositor(stdlibDecoder{}, 0).Composite(context.Background(), src, region)
	if err != nil {
		t.Fatalf("second composite: %v", err)
	}
	if !bytes.Equal(first.PNG, second.PNG) {
		t.Fatal("expected byte-identical composites")
	}
	if first.Key() != second.Key() {
		t.Fatalf("expected equal keys, got %q and %q", first.Key(), second.Key())
	}
}

func TestCompositeCachesByKey(t *testing.T) {
	src := loadTestSource(t, 64, 64)
	c := NewCompositor(stdlibDecoder{}, 1)
	region := crop.Region{Width: 32, Height: 32}

	a, _ := c.Composite(context.Background(), src, region)
	b, _ := c.Composite(context.Background(), src, region)
	if a != b {
		t.Fatal("expected cached composite to be reused")
	}

	other, _ := c.Composite(context.Background(), src, crop.Region{X: 1, Width: 32, Height: 32})
	again, _ := c.Composite(context.Background(), src, region)
	if other == nil || again == a {
		t.Fatal("expected cache of size one to evict the older entry")
	}
}

func TestCompositeFillsTransparentAreasWithNeutralBackground(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 10, 10))
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode: %v", err)
	}
	src, err := LoadSource(context.Background(), stdlibDecoder{}, buf.Bytes(), "image/png")
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	out, err := NewCompositor(stdlibDecoder{}, 0).Composite(context.Background(), src, crop.Region{Width: 10, Height: 10})
	if err != nil {
		t.Fatalf("composite: %v", err)
	}
	got := color.NRGBAModel.Convert(out.Image().At(5, 5))
	if got != NeutralBackground {
		t.Fatalf("expected neutral background %v, got %v", NeutralBackground, got)
	}
}

func TestCompositeRejectsRegionOutsideSource(t *testing.T) {
	src := loadTestSource(t, 50, 50)
	_, err := NewCompositor(stdlibDecoder{}, 0).Composite(context.Background(), src, crop.Region{X: 10, Width: 50, Height: 50})
	if !errors.Is(err, ErrRegionOutOfBounds) {
		t.Fatalf("expected ErrRegionOutOfBounds, got %v", err)
	}
}

func TestCompositeDecodeFailure(t *testing.T) {
	src := &SourceImage{Data: []byte("not an image"), Kind: KindPNG, Width: 4, Height: 4, Digest: "bad"}
	_, err := NewCompositor(stdlibDecoder{}, 0).Composite(context.Background(), src, crop.Region{Width: 4, Height: 4})
	if !errors.Is(err, domain.ErrImageDecode) {
		t.Fatalf("expected ErrImageDecode, got %v", err)
	}
}

func TestLocalFileEmitterWritesFile(t *testing.T) {
	dir := t.TempDir()
	out, err := LocalFileEmitter{OutputDir: dir}.Emit(context.Background(), EmitRequest{
		SessionID: "sess/1",
		Name:      "GHCI-badge-2x.png",
		Data:      []byte("png-bytes"),
		Width:     1500,
		Height:    2160,
	})
	if err != nil {
		t.Fatalf("emit: %v", err)
	}
	if want := filepath.Join(dir, "sess_1", "GHCI-badge-2x.png"); out.Path != want {
		t.Fatalf("expected path %s, got %s", want, out.Path)
	}
	data, err := os.ReadFile(out.Path)
	if err != nil {
		t.Fatalf("read emitted file: %v", err)
	}
	if string(data) != "png-bytes" {
		t.Fatalf("unexpected file content %q", data)
	}
}

func TestObjectStoreEmitterReturnsPresignedLink(t *testing.T) {
	store := &fakeObjectWriter{}
	out, err := ObjectStoreEmitter{Storage: store, LinkTTL: time.Minute}.Emit(context.Background(), EmitRequest{
		SessionID: "abc",
		Name:      "GHCI-badge-5x.png",
		Data:      []byte{1, 2, 3},
		Width:     4000,
		Height:    5760,
	})
	if err != nil {
		t.Fatalf("emit: %v", err)
	}
	if store.download != "GHCI-badge-5x.png" || store.metadata["dimensions"] != "4000x5760" {
		t.Fatalf("unexpected object metadata %q %v", store.download, store.metadata)
	}
	if store.key != "exports/abc/GHCI-badge-5x.png" {
		t.Fatalf("unexpected object key %q", store.key)
	}
	if store.contentType != "image/png" {
		t.Fatalf("expected image/png content type, got %q", store.contentType)
	}
	if !strings.HasPrefix(out.URL, "https://objects.test/") {
		t.Fatalf("expected presigned url, got %q", out.URL)
	}
}

type fakeObjectWriter struct {
	key         string
	contentType string
	download    string
	metadata    map[string]string
}

func (f *fakeObjectWriter) Put(_ context.Context, obj storage.Object) error {
	f.key = obj.Key
	f.contentType = obj.ContentType
	f.download = obj.DownloadName
	f.metadata = obj.Metadata
	return nil
}

func (f *fakeObjectWriter) Link(_ context.Context, key, _ string, _ time.Duration) (string, error) {
	return "https://objects.test/" + key, nil
}

func loadTestSource(t *testing.T, w, h int) *SourceImage {
	t.Helper()
	src, err := LoadSource(context.Background(), stdlibDecoder{}, buildTestPNG(t, w, h), "image/png")
	if err != nil {
		t.Fatalf("load test source: %v", err)
	}
	return src
}

func buildTestPNG(t *testing.T, w, h int) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{
				R: uint8((x * 255) / w),
				G: uint8((y * 255) / h),
				B: 140,
				A: 255,
			})
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode source png: %v", err)
	}
	return buf.Bytes()
}

func TestThumbnailBoundsLongestSide(t *testing.T) {
	src := loadTestSource(t, 800, 400)

	thumb := Thumbnail(src.Image(), 200)
	if b := thumb.Bounds(); b.Dx() != 200 || b.Dy() != 100 {
		t.Fatalf("expected 200x100, got %dx%d", b.Dx(), b.Dy())
	}

	same := Thumbnail(src.Image(), 1000)
	if b := same.Bounds(); b.Dx() != 800 || b.Dy() != 400 {
		t.Fatalf("expected unchanged 800x400, got %dx%d", b.Dx(), b.Dy())
	}
}
