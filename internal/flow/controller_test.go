package flow

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/sync/singleflight"

	"github.com/dunamismax/badgeflow/internal/badge"
	"github.com/dunamismax/badgeflow/internal/crop"
	"github.com/dunamismax/badgeflow/internal/domain"
	"github.com/dunamismax/badgeflow/internal/export"
	"github.com/dunamismax/badgeflow/internal/filter"
	"github.com/dunamismax/badgeflow/internal/pipeline"
)

var ada = domain.Profile{Name: "Ada", Email: "a@b.com", Company: "X", Designation: "Eng"}

func TestEndToEndAdaUltraExport(t *testing.T) {
	sink := &recordingEmitter{}
	leads := &recordingLeads{}
	c := newTestController(t, Deps{Leads: leads}, sink)
	ctx := context.Background()

	mustState(t)(c.SetProfile(ada))
	mustState(t)(c.Upload(ctx, solidPNG(t, 400, 400, color.NRGBA{R: 100, G: 80, B: 60, A: 255}), "image/png"))
	s := mustState(t)(c.Next(ctx))
	if s.Stage != StageEditing {
		t.Fatalf("expected editing, got %s", s.Stage)
	}

	mustState(t)(c.SetGesture(crop.Gesture{Zoom: 2}))
	mustState(t)(c.SetFilter(filter.Brightness, 150))
	s = mustState(t)(c.Next(ctx))
	if s.Stage != StagePreviewing {
		t.Fatalf("expected previewing, got %s", s.Stage)
	}
	if want := (crop.Region{X: 100, Y: 100, Width: 200, Height: 200}); s.Composite.Region != want {
		t.Fatalf("expected region %+v, got %+v", want, s.Composite.Region)
	}
	if s.Composite.Width != 200 || s.Composite.Height != 200 {
		t.Fatalf("expected 200x200 composite, got %dx%d", s.Composite.Width, s.Composite.Height)
	}

	shown := filter.NewChain(s.View().Filters).Apply(s.View().Photo.Image())
	if got := shown.NRGBAAt(10, 10); got != (color.NRGBA{R: 150, G: 120, B: 90, A: 255}) {
		t.Fatalf("expected photo shown at 150%% brightness, got %v", got)
	}
	if got := s.Composite.Image().(*image.NRGBA).NRGBAAt(10, 10); got.R != 100 {
		t.Fatalf("expected composite to stay unfiltered, got %v", got)
	}

	file, err := c.Export(ctx, "Ultra")
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if file.Width != 500*8 || file.Height != 720*8 {
		t.Fatalf("expected 4000x5760 export, got %dx%d", file.Width, file.Height)
	}
	if file.Name != "GHCI-badge-5x.png" {
		t.Fatalf("unexpected file name %q", file.Name)
	}
	if sink.count() != 1 {
		t.Fatalf("expected one delivery, got %d", sink.count())
	}

	c.Wait()
	if diff := cmp.Diff([]domain.Profile{ada}, leads.profiles()); diff != "" {
		t.Fatalf("lead mismatch (-want +got):\n%s", diff)
	}
}

func TestNextRequiresProfileAndPhoto(t *testing.T) {
	c := newTestController(t, Deps{}, nil)

	s, err := c.Next(context.Background())
	var fieldErrs domain.FieldErrors
	if !errors.As(err, &fieldErrs) {
		t.Fatalf("expected field errors, got %v", err)
	}
	want := map[string]string{
		"name":        "Name is required.",
		"email":       "Email is required.",
		"company":     "Company is required.",
		"designation": "Designation is required.",
		"file":        "Please upload an image.",
	}
	if diff := cmp.Diff(want, fieldErrs.Messages()); diff != "" {
		t.Fatalf("messages mismatch (-want +got):\n%s", diff)
	}
	if s.Stage != StageUploading {
		t.Fatalf("expected to stay uploading, got %s", s.Stage)
	}

	bad := ada
	bad.Email = "not-an-email"
	mustState(t)(c.SetProfile(bad))
	mustState(t)(c.Upload(context.Background(), solidPNG(t, 10, 10, color.NRGBA{A: 255}), "image/png"))
	if _, err := c.Next(context.Background()); !errors.Is(err, domain.ErrInvalidEmailFormat) {
		t.Fatalf("expected ErrInvalidEmailFormat, got %v", err)
	}
}

func TestStaleUploadIsDiscarded(t *testing.T) {
	slow := solidPNG(t, 30, 30, color.NRGBA{R: 255, A: 255})
	fast := solidPNG(t, 60, 40, color.NRGBA{B: 255, A: 255})
	dec := &gatedDecoder{inner: mustDecoder(t), blocked: slow, entered: make(chan struct{}), release: make(chan struct{})}
	c := newTestController(t, Deps{Decoder: dec}, nil)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := c.Upload(ctx, slow, "image/png")
		done <- err
	}()
	<-dec.entered

	s := mustState(t)(c.Upload(ctx, fast, "image/png"))
	if s.Source.Width != 60 {
		t.Fatalf("expected newer upload to land, got width %d", s.Source.Width)
	}

	close(dec.release)
	if err := <-done; !errors.Is(err, ErrSuperseded) {
		t.Fatalf("expected stale upload to be superseded, got %v", err)
	}
	if got := c.State().Source; got.Width != 60 || got.Height != 40 {
		t.Fatalf("expected newer source to survive, got %dx%d", got.Width, got.Height)
	}
}

func TestRemovePhotoInvalidatesInFlightUpload(t *testing.T) {
	slow := solidPNG(t, 30, 30, color.NRGBA{R: 255, A: 255})
	dec := &gatedDecoder{inner: mustDecoder(t), blocked: slow, entered: make(chan struct{}), release: make(chan struct{})}
	c := newTestController(t, Deps{Decoder: dec}, nil)

	done := make(chan error, 1)
	go func() {
		_, err := c.Upload(context.Background(), slow, "image/png")
		done <- err
	}()
	<-dec.entered
	mustState(t)(c.RemovePhoto())
	close(dec.release)

	if err := <-done; !errors.Is(err, ErrSuperseded) {
		t.Fatalf("expected ErrSuperseded, got %v", err)
	}
	if c.State().Source != nil {
		t.Fatal("expected no source after removal")
	}
}

func TestUploadFailuresKeepPriorState(t *testing.T) {
	c := newTestController(t, Deps{}, nil)
	ctx := context.Background()
	first := mustState(t)(c.Upload(ctx, solidPNG(t, 20, 20, color.NRGBA{G: 255, A: 255}), "image/png"))

	_, err := c.Upload(ctx, []byte("GIF89a"), "image/gif")
	var fe *domain.FieldError
	if !errors.As(err, &fe) || fe.Message != domain.MessagePhotoType || !errors.Is(err, domain.ErrInvalidFileType) {
		t.Fatalf("expected file type field error, got %v", err)
	}

	good := solidPNG(t, 20, 20, color.NRGBA{A: 255})
	if _, err := c.Upload(ctx, good[:len(good)-20], "image/png"); !errors.Is(err, domain.ErrImageDecode) {
		t.Fatalf("expected ErrImageDecode, got %v", err)
	}

	if c.State().Source != first.Source {
		t.Fatal("expected failed uploads to leave the previous photo in place")
	}
}

func TestConcurrentNextCoalesces(t *testing.T) {
	c := newTestController(t, Deps{}, nil)
	ctx := context.Background()
	mustState(t)(c.SetProfile(ada))
	mustState(t)(c.Upload(ctx, solidPNG(t, 300, 200, color.NRGBA{R: 9, A: 255}), "image/png"))
	mustState(t)(c.Next(ctx))

	const callers = 8
	var wg sync.WaitGroup
	results := make([]*pipeline.CompositedImage, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := c.Next(ctx)
			results[i], errs[i] = s.Composite, err
		}(i)
	}
	wg.Wait()

	mounted := c.State().Composite
	if mounted == nil || c.State().Stage != StagePreviewing {
		t.Fatal("expected session to be previewing with a composite")
	}
	for i := 0; i < callers; i++ {
		if errs[i] != nil && !errors.Is(errs[i], ErrWrongStage) {
			t.Fatalf("caller %d: unexpected error %v", i, errs[i])
		}
		if errs[i] == nil && results[i] != mounted {
			t.Fatalf("caller %d saw a different composite", i)
		}
	}
}

func TestCancelledCallerDoesNotFailSharedComposite(t *testing.T) {
	group := &singleflight.Group{}
	gate := &gatedCompositor{
		inner:   pipeline.NewCompositor(mustDecoder(t), 0),
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	photo := solidPNG(t, 200, 200, color.NRGBA{G: 80, A: 255})
	first := newTestController(t, Deps{Compositor: gate, Group: group}, nil)
	second := newTestController(t, Deps{Compositor: gate, Group: group}, nil)
	for _, c := range []*Controller{first, second} {
		mustState(t)(c.SetProfile(ada))
		mustState(t)(c.Upload(context.Background(), photo, "image/png"))
		mustState(t)(c.Next(context.Background()))
	}

	ctx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := first.Next(ctx)
		firstErr <- err
	}()
	<-gate.entered
	cancel()
	select {
	case err := <-firstErr:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected the cancelled caller to see context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled caller kept waiting for the shared composite")
	}

	type result struct {
		s   State
		err error
	}
	secondDone := make(chan result, 1)
	go func() {
		s, err := second.Next(context.Background())
		secondDone <- result{s, err}
	}()
	time.Sleep(20 * time.Millisecond)
	close(gate.release)

	res := <-secondDone
	if res.err != nil {
		t.Fatalf("expected the joined caller to succeed, got %v", res.err)
	}
	if res.s.Stage != StagePreviewing || res.s.Composite == nil {
		t.Fatalf("expected previewing with a composite, got %s", res.s.Stage)
	}
	if first.State().Stage != StageEditing {
		t.Fatalf("expected the cancelled session to stay in editing, got %s", first.State().Stage)
	}
}

func TestAdvanceWithoutSourceReturnsCurrentState(t *testing.T) {
	c := newTestController(t, Deps{}, nil)
	ctx := context.Background()
	mustState(t)(c.SetProfile(ada))
	mustState(t)(c.Upload(ctx, solidPNG(t, 40, 40, color.NRGBA{A: 255}), "image/png"))
	current := mustState(t)(c.Next(ctx))

	s, err := c.advanceToPreview(ctx, NewState().WithStage(StageEditing))
	if !errors.Is(err, crop.ErrNoSource) {
		t.Fatalf("expected ErrNoSource, got %v", err)
	}
	if s.Source != current.Source || s.Stage != StageEditing {
		t.Fatalf("expected the live state back, got stage %s source %v", s.Stage, s.Source)
	}
}

func TestBackKeepsEditsAndRecomposites(t *testing.T) {
	c := newTestController(t, Deps{}, nil)
	ctx := context.Background()
	mustState(t)(c.SetProfile(ada))
	mustState(t)(c.Upload(ctx, solidPNG(t, 400, 300, color.NRGBA{R: 50, A: 255}), "image/png"))
	mustState(t)(c.Next(ctx))
	mustState(t)(c.SetFilter(filter.Sepia, 40))
	first := mustState(t)(c.Next(ctx))

	s := mustState(t)(c.Back())
	if s.Stage != StageEditing || s.View() != nil {
		t.Fatalf("expected editing with nothing mounted, got %s", s.Stage)
	}
	if s.Filters.Sepia != 40 {
		t.Fatalf("expected filters kept, got %+v", s.Filters)
	}
	if _, err := c.Export(ctx, "1x"); !errors.Is(err, export.ErrNotMounted) {
		t.Fatalf("expected ErrNotMounted, got %v", err)
	}

	mustState(t)(c.SetGesture(crop.Gesture{Zoom: 3}))
	second := mustState(t)(c.Next(ctx))
	if second.Composite.Key() == first.Composite.Key() {
		t.Fatal("expected a fresh composite for the new crop")
	}

	mustState(t)(c.Back())
	s = mustState(t)(c.Back())
	if s.Stage != StageUploading || s.Profile != ada {
		t.Fatalf("expected uploading with profile kept, got %s %+v", s.Stage, s.Profile)
	}
	if _, err := c.Back(); !errors.Is(err, ErrWrongStage) {
		t.Fatalf("expected ErrWrongStage, got %v", err)
	}

	s = mustState(t)(c.RemovePhoto())
	if s.Source != nil || s.Filters != filter.Default() || s.Gesture != crop.DefaultGesture() {
		t.Fatalf("expected photo and edits cleared, got %+v", s)
	}
}

func TestLeadFailureDoesNotBlock(t *testing.T) {
	leads := &recordingLeads{err: errors.New("lead endpoint down")}
	c := newTestController(t, Deps{Leads: leads}, nil)
	ctx := context.Background()
	mustState(t)(c.SetProfile(ada))
	mustState(t)(c.Upload(ctx, solidPNG(t, 10, 10, color.NRGBA{A: 255}), "image/png"))

	s, err := c.Next(ctx)
	if err != nil || s.Stage != StageEditing {
		t.Fatalf("expected editing despite lead failure, got %s %v", s.Stage, err)
	}
	c.Wait()
	if len(leads.profiles()) != 1 {
		t.Fatal("expected the lead to be attempted once")
	}
}

func TestEditorPreviewCompare(t *testing.T) {
	c := newTestController(t, Deps{PreviewSize: 64}, nil)
	ctx := context.Background()
	if _, err := c.EditorPreview(ctx, false); !errors.Is(err, ErrWrongStage) {
		t.Fatalf("expected ErrWrongStage before editing, got %v", err)
	}

	mustState(t)(c.SetProfile(ada))
	mustState(t)(c.Upload(ctx, solidPNG(t, 200, 100, color.NRGBA{R: 100, G: 100, B: 100, A: 255}), "image/png"))
	mustState(t)(c.Next(ctx))
	mustState(t)(c.SetFilter(filter.Grayscale, 100))
	mustState(t)(c.SetFilter(filter.Brightness, 50))

	filtered, err := c.EditorPreview(ctx, false)
	if err != nil {
		t.Fatalf("editor preview: %v", err)
	}
	original, err := c.EditorPreview(ctx, true)
	if err != nil {
		t.Fatalf("compare preview: %v", err)
	}
	if b := filtered.Bounds(); b.Dx() != 64 || b.Dy() != 64 {
		t.Fatalf("expected 64x64 preview, got %dx%d", b.Dx(), b.Dy())
	}
	if got := original.NRGBAAt(32, 32).R; !near(got, 100) {
		t.Fatalf("expected unfiltered compare view, got %d", got)
	}
	if got := filtered.NRGBAAt(32, 32).R; !near(got, 50) {
		t.Fatalf("expected filtered view at 50%% brightness, got %d", got)
	}
}

func TestStageGuards(t *testing.T) {
	c := newTestController(t, Deps{}, nil)
	if _, err := c.SetFilter(filter.Hue, 10); !errors.Is(err, ErrWrongStage) {
		t.Fatalf("expected ErrWrongStage for filters while uploading, got %v", err)
	}
	if _, err := c.Pan(10, 10, 300); !errors.Is(err, ErrWrongStage) {
		t.Fatalf("expected ErrWrongStage for pan while uploading, got %v", err)
	}
}

func newTestController(t *testing.T, deps Deps, sink pipeline.Emitter) *Controller {
	t.Helper()
	if deps.Decoder == nil {
		deps.Decoder = mustDecoder(t)
	}
	renderer := badge.NewRenderer(badge.Options{})
	if deps.Compositor == nil {
		deps.Compositor = pipeline.NewCompositor(deps.Decoder, 0)
	}
	deps.Renderer = renderer
	deps.Exporter = export.New(renderer, sink, export.Options{})
	return NewController("test-session", deps)
}

func mustDecoder(t *testing.T) pipeline.Decoder {
	t.Helper()
	dec, err := pipeline.NewDecoder()
	if err != nil {
		t.Fatalf("new decoder: %v", err)
	}
	return dec
}

func mustState(t *testing.T) func(State, error) State {
	return func(s State, err error) State {
		t.Helper()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		return s
	}
}

func solidPNG(t *testing.T, w, h int, c color.NRGBA) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func near(got, want uint8) bool {
	d := int(got) - int(want)
	return d >= -1 && d <= 1
}

type gatedDecoder struct {
	inner   pipeline.Decoder
	blocked []byte
	entered chan struct{}
	release chan struct{}
}

func (d *gatedDecoder) Decode(ctx context.Context, data []byte, kind pipeline.Kind) (image.Image, error) {
	if bytes.Equal(data, d.blocked) {
		close(d.entered)
		<-d.release
	}
	return d.inner.Decode(ctx, data, kind)
}

type recordingEmitter struct {
	mu sync.Mutex
	n  int
}

func (r *recordingEmitter) Emit(_ context.Context, req pipeline.EmitRequest) (pipeline.Output, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.n++
	return pipeline.Output{Name: req.Name, Bytes: len(req.Data)}, nil
}

func (r *recordingEmitter) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.n
}

type recordingLeads struct {
	mu  sync.Mutex
	got []domain.Profile
	err error
}

func (r *recordingLeads) SubmitLead(_ context.Context, _ string, p domain.Profile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, p)
	return r.err
}

func (r *recordingLeads) profiles() []domain.Profile {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Profile(nil), r.got...)
}

// gatedCompositor holds its first call until release is closed and then
// honours whatever context that call was given.
type gatedCompositor struct {
	inner   *pipeline.Compositor
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (g *gatedCompositor) Composite(ctx context.Context, src *pipeline.SourceImage, r crop.Region) (*pipeline.CompositedImage, error) {
	gated := false
	g.once.Do(func() { gated = true })
	if gated {
		close(g.entered)
		<-g.release
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
	return g.inner.Composite(ctx, src, r)
}

