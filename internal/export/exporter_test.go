package export

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/dunamismax/badgeflow/internal/badge"
	"github.com/dunamismax/badgeflow/internal/domain"
	"github.com/dunamismax/badgeflow/internal/pipeline"
)

func TestExportDimensionsFollowMultiplier(t *testing.T) {
	sink := &recordingEmitter{}
	exp := New(badge.NewRenderer(badge.Options{}), sink, Options{})
	view := &badge.View{Name: "Ada"}

	low, err := exp.Export(context.Background(), view, Request{SessionID: "s1", Label: "1x"})
	if err != nil {
		t.Fatalf("export 1x: %v", err)
	}
	high, err := exp.Export(context.Background(), view, Request{SessionID: "s1", Label: "3x"})
	if err != nil {
		t.Fatalf("export 3x: %v", err)
	}

	if high.Width != low.Width*5 || high.Height != low.Height*5 {
		t.Fatalf("expected factor 5, got %dx%d vs %dx%d", high.Width, high.Height, low.Width, low.Height)
	}
	assertPNGSize(t, high.PNG, 2500, 3600)
	if len(sink.requests) != 2 {
		t.Fatalf("expected two deliveries, got %d", len(sink.requests))
	}
	if got := []string{sink.requests[0].Name, sink.requests[1].Name}; !cmp.Equal(got, []string{"GHCI-badge-1x.png", "GHCI-badge-3x.png"}) {
		t.Fatalf("unexpected file names %v", got)
	}
}

func TestExportUltraUsesMultiplierEight(t *testing.T) {
	exp := New(badge.NewRenderer(badge.Options{}), nil, Options{Prefix: "ada"})

	file, err := exp.Export(context.Background(), &badge.View{Name: "Ada"}, Request{Label: "Ultra"})
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if file.Name != "ada-5x.png" {
		t.Fatalf("expected ada-5x.png, got %s", file.Name)
	}
	assertPNGSize(t, file.PNG, 4000, 5760)
}

func TestExportDefaultsToMedium(t *testing.T) {
	exp := New(badge.NewRenderer(badge.Options{}), nil, Options{})
	file, err := exp.Export(context.Background(), &badge.View{}, Request{})
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if file.Resolution.Multiplier != 3 || file.Width != 1500 {
		t.Fatalf("expected the 2x entry at multiplier 3, got %+v", file.Resolution)
	}
}

func TestExportNotMountedDeliversNothing(t *testing.T) {
	sink := &recordingEmitter{}
	exp := New(badge.NewRenderer(badge.Options{}), sink, Options{})

	_, err := exp.Export(context.Background(), nil, Request{Label: "1x"})
	if !errors.Is(err, ErrNotMounted) {
		t.Fatalf("expected ErrNotMounted, got %v", err)
	}
	if len(sink.requests) != 0 {
		t.Fatalf("expected no delivery, got %d", len(sink.requests))
	}
}

func TestExportUnknownResolution(t *testing.T) {
	exp := New(badge.NewRenderer(badge.Options{}), nil, Options{})
	if _, err := exp.Export(context.Background(), &badge.View{}, Request{Label: "4x"}); !errors.Is(err, ErrUnknownResolution) {
		t.Fatalf("expected ErrUnknownResolution, got %v", err)
	}
}

func TestExportFailureIsSurfacedAndNotSticky(t *testing.T) {
	sink := &recordingEmitter{}
	r := &flakyRenderer{Renderer: badge.NewRenderer(badge.Options{}), failures: 1}
	exp := New(r, sink, Options{})

	_, err := exp.Export(context.Background(), &badge.View{}, Request{Label: "1x"})
	if !errors.Is(err, domain.ErrRasterization) || !errors.Is(err, errRenderBoom) {
		t.Fatalf("expected rasterization error wrapping the cause, got %v", err)
	}
	if len(sink.requests) != 0 {
		t.Fatalf("expected no delivery after failure, got %d", len(sink.requests))
	}

	if _, err := exp.Export(context.Background(), &badge.View{}, Request{Label: "1x"}); err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if len(sink.requests) != 1 {
		t.Fatalf("expected one delivery after retry, got %d", len(sink.requests))
	}
}

func TestExportEmitterFailure(t *testing.T) {
	sink := &recordingEmitter{err: errors.New("disk full")}
	exp := New(badge.NewRenderer(badge.Options{}), sink, Options{})
	_, err := exp.Export(context.Background(), &badge.View{}, Request{Label: "1x"})
	if !errors.Is(err, domain.ErrRasterization) {
		t.Fatalf("expected ErrRasterization, got %v", err)
	}
}

func TestParseTable(t *testing.T) {
	table, err := ParseTable("1x:1:Low, 2x:3:Medium,3x:5:High,5x:8:Ultra")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if diff := cmp.Diff(DefaultTable(), table); diff != "" {
		t.Fatalf("table mismatch (-want +got):\n%s", diff)
	}

	for _, raw := range []string{"", "1x:0:Low", "1x:1", "1x:1:Low,1X:2:Dup", "x:abc:Bad", "20x:17:Huge"} {
		if _, err := ParseTable(raw); err == nil {
			t.Fatalf("expected error for %q", raw)
		}
	}

	largest, err := ParseTable("16x:16:Max")
	if err != nil {
		t.Fatalf("expected the renderer's largest scale to be accepted: %v", err)
	}
	if largest[0].Multiplier != badge.MaxScale {
		t.Fatalf("expected multiplier %d, got %d", badge.MaxScale, largest[0].Multiplier)
	}
}

type recordingEmitter struct {
	requests []pipeline.EmitRequest
	err      error
}

func (r *recordingEmitter) Emit(_ context.Context, req pipeline.EmitRequest) (pipeline.Output, error) {
	if r.err != nil {
		return pipeline.Output{}, r.err
	}
	r.requests = append(r.requests, req)
	return pipeline.Output{Name: req.Name, Bytes: len(req.Data), Width: req.Width, Height: req.Height}, nil
}

var errRenderBoom = errors.New("boom")

type flakyRenderer struct {
	*badge.Renderer
	failures int
}

func (f *flakyRenderer) Render(ctx context.Context, v badge.View, scale int) (*image.NRGBA, error) {
	if f.failures > 0 {
		f.failures--
		return nil, errRenderBoom
	}
	return f.Renderer.Render(ctx, v, scale)
}

func assertPNGSize(t *testing.T, data []byte, w, h int) {
	t.Helper()
	cfg, err := png.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode png config: %v", err)
	}
	if cfg.Width != w || cfg.Height != h {
		t.Fatalf("expected %dx%d png, got %dx%d", w, h, cfg.Width, cfg.Height)
	}
}
