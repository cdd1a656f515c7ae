package flow

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/dunamismax/badgeflow/internal/badge"
	"github.com/dunamismax/badgeflow/internal/crop"
	"github.com/dunamismax/badgeflow/internal/domain"
	"github.com/dunamismax/badgeflow/internal/export"
	"github.com/dunamismax/badgeflow/internal/filter"
	"github.com/dunamismax/badgeflow/internal/logging"
	"github.com/dunamismax/badgeflow/internal/pipeline"
)

const (
	defaultLeadTimeout = 10 * time.Second
	defaultPreviewSize = 512
)

// ErrSuperseded means a newer change landed while the operation was running
// and its result was dropped.
var ErrSuperseded = errors.New("superseded by a newer change")

// LeadSubmitter receives the profile when a session leaves the upload form.
// Failures are logged and never affect the session.
type LeadSubmitter interface {
	SubmitLead(ctx context.Context, sessionID string, p domain.Profile) error
}

type Renderer interface {
	Render(ctx context.Context, v badge.View, scale int) (*image.NRGBA, error)
}

// Compositor is satisfied by *pipeline.Compositor.
type Compositor interface {
	Composite(ctx context.Context, src *pipeline.SourceImage, r crop.Region) (*pipeline.CompositedImage, error)
}

type Exporter interface {
	Export(ctx context.Context, view *badge.View, req export.Request) (export.File, error)
}

type Deps struct {
	Decoder    pipeline.Decoder
	Compositor Compositor
	Renderer   Renderer
	Exporter   Exporter
	Leads      LeadSubmitter
	Logger     logrus.FieldLogger

	// Group coalesces identical composites. Share one across sessions.
	Group       *singleflight.Group
	LeadTimeout time.Duration
	PreviewSize int
}

// Controller owns one session. Mutations are serialised; decode, composite
// and render run outside the lock.
type Controller struct {
	id     string
	deps   Deps
	logger logrus.FieldLogger
	tracer trace.Tracer

	mu        sync.Mutex
	state     State
	uploadGen uint64
	leads     sync.WaitGroup
}

func NewController(id string, deps Deps) *Controller {
	if deps.Logger == nil {
		deps.Logger = logging.Discard()
	}
	if deps.Group == nil {
		deps.Group = &singleflight.Group{}
	}
	if deps.LeadTimeout <= 0 {
		deps.LeadTimeout = defaultLeadTimeout
	}
	if deps.PreviewSize <= 0 {
		deps.PreviewSize = defaultPreviewSize
	}
	return &Controller{
		id:     id,
		deps:   deps,
		logger: deps.Logger.WithField("session_id", id),
		tracer: otel.Tracer("badgeflow/flow"),
		state:  NewState(),
	}
}

func (c *Controller) ID() string {
	return c.id
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) SetProfile(p domain.Profile) (State, error) {
	return c.update(StageUploading, func(s State) (State, error) {
		return s.WithProfile(p), nil
	})
}

// Upload decodes a new photo. If another upload or RemovePhoto starts before
// this one finishes, this result is discarded and ErrSuperseded returned.
// A rejected or undecodable file leaves the session as it was.
func (c *Controller) Upload(ctx context.Context, data []byte, declaredType string) (State, error) {
	ctx, span := c.tracer.Start(ctx, "flow.upload")
	defer span.End()

	c.mu.Lock()
	if c.state.Stage != StageUploading {
		s := c.state
		c.mu.Unlock()
		return s, ErrWrongStage
	}
	c.uploadGen++
	gen := c.uploadGen
	c.mu.Unlock()

	src, err := pipeline.LoadSource(ctx, c.deps.Decoder, data, declaredType)

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.uploadGen {
		c.logger.WithField("generation", gen).Debug("discarding stale upload")
		return c.state, ErrSuperseded
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "upload rejected")
		c.logger.WithError(err).Info("upload rejected")
		if errors.Is(err, domain.ErrInvalidFileType) {
			return c.state, &domain.FieldError{Field: domain.FieldPhoto, Kind: domain.ErrInvalidFileType, Message: domain.MessagePhotoType}
		}
		return c.state, err
	}
	if c.state.Stage != StageUploading {
		return c.state, ErrWrongStage
	}

	span.SetAttributes(
		attribute.String("source.kind", string(src.Kind)),
		attribute.Int("source.width", src.Width),
		attribute.Int("source.height", src.Height),
	)
	c.logger.WithFields(logrus.Fields{
		"kind":   src.Kind,
		"width":  src.Width,
		"height": src.Height,
		"bytes":  len(data),
	}).Info("photo uploaded")
	c.state = c.state.WithSource(src)
	return c.state, nil
}

// RemovePhoto drops the photo and its edits. Any upload still decoding is
// invalidated.
func (c *Controller) RemovePhoto() (State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Stage != StageUploading {
		return c.state, ErrWrongStage
	}
	c.uploadGen++
	c.state = c.state.WithoutSource()
	return c.state, nil
}

func (c *Controller) SetGesture(g crop.Gesture) (State, error) {
	return c.update(StageEditing, func(s State) (State, error) {
		return s.WithGesture(g), nil
	})
}

// Pan drags the crop by (dx, dy) pixels of a viewport pixels wide editor.
func (c *Controller) Pan(dx, dy, viewport float64) (State, error) {
	return c.update(StageEditing, func(s State) (State, error) {
		if s.Source == nil {
			return s, crop.ErrNoSource
		}
		return s.WithGesture(s.Gesture.Pan(dx, dy, viewport, s.Source.Width, s.Source.Height)), nil
	})
}

func (c *Controller) SetFilter(f filter.Field, value int) (State, error) {
	return c.update(StageEditing, func(s State) (State, error) {
		return s.WithFilter(f, value)
	})
}

func (c *Controller) ResetEdits() (State, error) {
	return c.update(StageEditing, func(s State) (State, error) {
		return s.WithFiltersReset(), nil
	})
}

// Next advances one stage. Leaving Uploading requires a valid profile and a
// photo and submits the lead. Leaving Editing composites the current crop
// once; the stage changes only after the composite exists.
func (c *Controller) Next(ctx context.Context) (State, error) {
	c.mu.Lock()
	stage := c.state.Stage
	switch stage {
	case StageUploading:
		defer c.mu.Unlock()
		if err := c.state.Validate().Err(); err != nil {
			return c.state, err
		}
		c.state = c.state.WithStage(StageEditing)
		c.submitLead(c.state.Profile)
		c.logger.Info("profile accepted")
		return c.state, nil
	case StageEditing:
		snapshot := c.state
		c.mu.Unlock()
		return c.advanceToPreview(ctx, snapshot)
	default:
		defer c.mu.Unlock()
		return c.state, ErrWrongStage
	}
}

func (c *Controller) advanceToPreview(ctx context.Context, snapshot State) (State, error) {
	ctx, span := c.tracer.Start(ctx, "flow.composite")
	defer span.End()

	region, err := snapshot.Region()
	if err != nil {
		return c.State(), err
	}
	span.SetAttributes(
		attribute.Int("crop.x", region.X),
		attribute.Int("crop.y", region.Y),
		attribute.Int("crop.side", region.Width),
	)

	composite, err := c.composite(ctx, snapshot.Source, region)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "composite failed")
		return c.State(), err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.state.Stage == StageEditing && c.state.Source == snapshot.Source && c.state.Gesture == snapshot.Gesture:
		c.state = c.state.WithComposite(composite)
		c.logger.WithFields(logrus.Fields{
			"region": fmt.Sprintf("%d,%d %dx%d", region.X, region.Y, region.Width, region.Height),
		}).Info("badge composited")
		return c.state, nil
	case c.state.Stage == StagePreviewing && c.state.Composite != nil && c.state.Composite.Key() == composite.Key():
		// A concurrent Next already mounted this composite.
		return c.state, nil
	default:
		return c.state, ErrSuperseded
	}
}

func (c *Controller) Back() (State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	next, err := c.state.Back()
	if err != nil {
		return c.state, err
	}
	c.state = next
	return c.state, nil
}

// Preview draws the badge as it currently stands. Before Previewing the
// photo slot shows the placeholder.
func (c *Controller) Preview(ctx context.Context, scale int) (*image.NRGBA, error) {
	s := c.State()
	view := s.View()
	if view == nil {
		view = &badge.View{Name: s.Profile.Name, Filters: s.Filters}
	}
	return c.deps.Renderer.Render(ctx, *view, scale)
}

// EditorPreview shows the current crop with filters applied, or without
// them when compare is set.
func (c *Controller) EditorPreview(ctx context.Context, compare bool) (*image.NRGBA, error) {
	s := c.State()
	if s.Stage == StageUploading {
		return nil, ErrWrongStage
	}
	region, err := s.Region()
	if err != nil {
		return nil, err
	}
	composite, err := c.composite(ctx, s.Source, region)
	if err != nil {
		return nil, err
	}

	img := composite.Image()
	if !compare {
		img = filter.NewChain(s.Filters).Apply(img)
	}
	return pipeline.Thumbnail(img, c.deps.PreviewSize), nil
}

// Export rasterizes the mounted badge. Outside Previewing nothing is mounted.
func (c *Controller) Export(ctx context.Context, label string) (export.File, error) {
	ctx, span := c.tracer.Start(ctx, "flow.export", trace.WithAttributes(attribute.String("export.resolution", label)))
	defer span.End()

	file, err := c.deps.Exporter.Export(ctx, c.State().View(), export.Request{SessionID: c.id, Label: label})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "export failed")
		return export.File{}, err
	}
	return file, nil
}

// Wait blocks until in-flight lead submissions return.
func (c *Controller) Wait() {
	c.leads.Wait()
}

func (c *Controller) update(stage Stage, fn func(State) (State, error)) (State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Stage != stage {
		return c.state, ErrWrongStage
	}
	next, err := fn(c.state)
	if err != nil {
		return c.state, err
	}
	c.state = next
	return c.state, nil
}

// composite shares one in-flight composite per key across sessions. The
// shared call ignores the first caller's cancellation; each caller stops
// waiting when its own ctx ends.
func (c *Controller) composite(ctx context.Context, src *pipeline.SourceImage, region crop.Region) (*pipeline.CompositedImage, error) {
	key := pipeline.CompositeKey(src.Digest, region)
	shared := context.WithoutCancel(ctx)
	ch := c.deps.Group.DoChan(key, func() (any, error) {
		return c.deps.Compositor.Composite(shared, src, region)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*pipeline.CompositedImage), nil
	}
}

func (c *Controller) submitLead(p domain.Profile) {
	if c.deps.Leads == nil {
		return
	}
	c.leads.Add(1)
	go func() {
		defer c.leads.Done()
		ctx, cancel := context.WithTimeout(context.Background(), c.deps.LeadTimeout)
		defer cancel()
		if err := c.deps.Leads.SubmitLead(ctx, c.id, p); err != nil {
			c.logger.WithError(err).Warn("lead submission failed")
		}
	}()
}
