package export

import (
	"context"
	"errors"
	"fmt"
	"image"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dunamismax/badgeflow/internal/badge"
	"github.com/dunamismax/badgeflow/internal/domain"
	"github.com/dunamismax/badgeflow/internal/logging"
	"github.com/dunamismax/badgeflow/internal/pipeline"
)

const DefaultPrefix = "GHCI-badge"

// ErrNotMounted means there is no rendered badge to export yet.
var ErrNotMounted = errors.New("badge is not mounted")

type Renderer interface {
	Layout() badge.Layout
	Render(ctx context.Context, v badge.View, scale int) (*image.NRGBA, error)
}

type Request struct {
	SessionID string
	Label     string
}

// File is one delivered export.
type File struct {
	Name       string          `json:"name"`
	Resolution Resolution      `json:"resolution"`
	Width      int             `json:"width"`
	Height     int             `json:"height"`
	Output     pipeline.Output `json:"output"`

	PNG []byte `json:"-"`
}

type Options struct {
	Table  Table
	Prefix string
	Logger logrus.FieldLogger
}

// Exporter keeps no state between calls; a failed export leaves it ready
// for the next one.
type Exporter struct {
	renderer Renderer
	emitter  pipeline.Emitter
	table    Table
	prefix   string
	logger   logrus.FieldLogger
}

func New(renderer Renderer, emitter pipeline.Emitter, opts Options) *Exporter {
	if emitter == nil {
		emitter = pipeline.DiscardEmitter{}
	}
	if len(opts.Table) == 0 {
		opts.Table = DefaultTable()
	}
	if strings.TrimSpace(opts.Prefix) == "" {
		opts.Prefix = DefaultPrefix
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	return &Exporter{
		renderer: renderer,
		emitter:  emitter,
		table:    opts.Table,
		prefix:   opts.Prefix,
		logger:   opts.Logger,
	}
}

func (e *Exporter) Table() Table {
	return e.table
}

// FileName is "<prefix>-<label>.png".
func (e *Exporter) FileName(r Resolution) string {
	return fmt.Sprintf("%s-%s.png", e.prefix, r.Label)
}

// Export draws view at the requested resolution and delivers exactly one
// PNG. A nil view means nothing is mounted and nothing is delivered.
func (e *Exporter) Export(ctx context.Context, view *badge.View, req Request) (File, error) {
	if view == nil {
		return File{}, ErrNotMounted
	}
	res, err := e.table.Lookup(req.Label)
	if err != nil {
		return File{}, err
	}

	start := time.Now()
	logger := e.logger.WithFields(logrus.Fields{
		"session_id": req.SessionID,
		"resolution": res.Label,
		"multiplier": res.Multiplier,
	})

	img, err := e.renderer.Render(ctx, *view, res.Multiplier)
	if err != nil {
		logger.WithError(err).Warn("export render failed")
		return File{}, fmt.Errorf("%w: render stage: %w", domain.ErrRasterization, err)
	}
	wantW, wantH := e.renderer.Layout().PixelSize(res.Multiplier)
	if b := img.Bounds(); b.Dx() != wantW || b.Dy() != wantH {
		return File{}, fmt.Errorf("%w: rendered %dx%d, want %dx%d", domain.ErrRasterization, b.Dx(), b.Dy(), wantW, wantH)
	}

	data, err := pipeline.EncodePNG(img)
	if err != nil {
		return File{}, fmt.Errorf("%w: encode stage: %w", domain.ErrRasterization, err)
	}

	name := e.FileName(res)
	out, err := e.emitter.Emit(ctx, pipeline.EmitRequest{
		SessionID:   req.SessionID,
		Name:        name,
		ContentType: "image/png",
		Data:        data,
		Width:       wantW,
		Height:      wantH,
	})
	if err != nil {
		logger.WithError(err).Warn("export delivery failed")
		return File{}, fmt.Errorf("%w: emit stage: %w", domain.ErrRasterization, err)
	}

	logger.WithFields(logrus.Fields{
		"file":        name,
		"bytes":       len(data),
		"duration_ms": time.Since(start).Milliseconds(),
	}).Info("badge exported")

	return File{
		Name:       name,
		Resolution: res,
		Width:      wantW,
		Height:     wantH,
		Output:     out,
		PNG:        data,
	}, nil
}
