package crop

import (
	"errors"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestResolveDefaultIsCentredLargestSquare(t *testing.T) {
	got, err := Resolve(DefaultGesture(), 640, 480)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	want := Region{X: 80, Y: 0, Width: 480, Height: 480}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("unexpected region (-want +got):\n%s", diff)
	}
}

func TestResolveZoom(t *testing.T) {
	got, err := Resolve(Gesture{Zoom: 2}, 400, 400)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	want := Region{X: 100, Y: 100, Width: 200, Height: 200}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("unexpected region (-want +got):\n%s", diff)
	}
}

func TestResolveClampsZoom(t *testing.T) {
	high, _ := Resolve(Gesture{Zoom: 40}, 800, 600)
	atMax, _ := Resolve(Gesture{Zoom: MaxZoom}, 800, 600)
	if high != atMax {
		t.Fatalf("expected zoom 40 to clamp to %v, got %v", atMax, high)
	}

	low, _ := Resolve(Gesture{Zoom: 0.2}, 800, 600)
	atMin, _ := Resolve(Gesture{Zoom: MinZoom}, 800, 600)
	if low != atMin {
		t.Fatalf("expected zoom 0.2 to clamp to %v, got %v", atMin, low)
	}
}

func TestResolveContainmentProperty(t *testing.T) {
	dims := [][2]int{{1, 1}, {1, 900}, {900, 1}, {3, 7}, {200, 200}, {641, 479}, {4000, 3000}}
	offsets := []float64{-5, -0.5, -0.37, -0.1, 0, 0.013, 0.25, 0.5, 3, math.NaN(), math.Inf(1)}
	zooms := []float64{-1, 0, 1, 1.3, 2.05, 3.99, 4, 12, math.NaN()}

	for _, d := range dims {
		for _, ox := range offsets {
			for _, oy := range offsets {
				for _, z := range zooms {
					g := Gesture{OffsetX: ox, OffsetY: oy, Zoom: z}
					r, err := Resolve(g, d[0], d[1])
					if err != nil {
						t.Fatalf("resolve %+v on %v: %v", g, d, err)
					}
					if !r.Within(d[0], d[1]) {
						t.Fatalf("region %+v escapes %dx%d for gesture %+v", r, d[0], d[1], g)
					}
					if r.Width != r.Height {
						t.Fatalf("region %+v is not square for gesture %+v", r, g)
					}
				}
			}
		}
	}
}

func TestResolveOffsetsAreClampedNotRejected(t *testing.T) {
	got, err := Resolve(Gesture{OffsetX: 0.9, OffsetY: -0.9, Zoom: 2}, 1000, 500)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	want := Region{X: 750, Y: 0, Width: 250, Height: 250}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("unexpected region (-want +got):\n%s", diff)
	}
}

func TestPanIsViewportIndependent(t *testing.T) {
	start := Gesture{Zoom: 2}
	small := start.Pan(-30, 12, 300, 1200, 900)
	large := start.Pan(-60, 24, 600, 1200, 900)

	rs, _ := Resolve(small, 1200, 900)
	rl, _ := Resolve(large, 1200, 900)
	if rs != rl {
		t.Fatalf("expected same region for scaled viewport, got %v and %v", rs, rl)
	}

	centred, _ := Resolve(start, 1200, 900)
	if rs.X <= centred.X {
		t.Fatalf("expected dragging left to move the crop right, got x=%d from %d", rs.X, centred.X)
	}
}

func TestPanStaysInsideImage(t *testing.T) {
	g := DefaultGesture().ZoomBy(20)
	for i := 0; i < 50; i++ {
		g = g.Pan(500, 500, 300, 640, 480)
	}
	r, _ := Resolve(g, 640, 480)
	if r.X != 0 || r.Y != 0 {
		t.Fatalf("expected crop pinned to top-left corner, got %+v", r)
	}
}

func TestZoomBy(t *testing.T) {
	g := DefaultGesture().ZoomBy(2)
	if math.Abs(g.Zoom-1.1) > 1e-9 {
		t.Fatalf("expected zoom 1.1, got %v", g.Zoom)
	}
	if got := g.ZoomBy(-100).Zoom; got != MinZoom {
		t.Fatalf("expected zoom clamped to %v, got %v", MinZoom, got)
	}
}

func TestResolveWithoutSource(t *testing.T) {
	if _, err := Resolve(DefaultGesture(), 0, 10); !errors.Is(err, ErrNoSource) {
		t.Fatalf("expected ErrNoSource, got %v", err)
	}
}
