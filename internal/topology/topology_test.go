package topology

import (
	"errors"
	"math"
	"testing"

	"vidpaper/internal/media"
)

const eps = 1e-9

func near(a, b float64) bool { return math.Abs(a-b) < eps }

func display(id int, x, y, w, h float64) Display {
	return Display{ID: id, Bounds: Rect{X: x, Y: y, Width: w, Height: h}}
}

// TestCanvasSideBySide verifies the bounding box and crops for two
// 1920x1080 displays placed next to each other.
func TestCanvasSideBySide(t *testing.T) {
	left := display(0, 0, 0, 1920, 1080)
	right := display(1, 1920, 0, 1920, 1080)

	c, err := ComputeCanvas([]Display{left, right})
	if err != nil {
		t.Fatal(err)
	}
	if c != (Canvas{MinX: 0, MinY: 0, MaxX: 3840, MaxY: 1080}) {
		t.Fatalf("unexpected canvas: %+v", c)
	}

	want := map[int]CropRect{
		0: {X: 0, Y: 0, W: 0.5, H: 1},
		1: {X: 0.5, Y: 0, W: 0.5, H: 1},
	}
	for _, d := range []Display{left, right} {
		got := ComputeCropRect(d, c)
		w := want[d.ID]
		if !near(got.X, w.X) || !near(got.Y, w.Y) || !near(got.W, w.W) || !near(got.H, w.H) {
			t.Errorf("display %d: expected %+v, got %+v", d.ID, w, got)
		}
	}
}

// TestCanvasOrderIndependent verifies that shuffling the display list
// never changes the canvas.
func TestCanvasOrderIndependent(t *testing.T) {
	a := display(0, -1280, 200, 1280, 1024)
	b := display(1, 0, 0, 2560, 1440)
	c := display(2, 2560, -300, 1080, 1920)

	orders := [][]Display{
		{a, b, c},
		{c, b, a},
		{b, a, c},
		{c, a, b},
	}

	first, err := ComputeCanvas(orders[0])
	if err != nil {
		t.Fatal(err)
	}
	for i, o := range orders[1:] {
		got, err := ComputeCanvas(o)
		if err != nil {
			t.Fatal(err)
		}
		if got != first {
			t.Errorf("order %d: expected %+v, got %+v", i+1, first, got)
		}
	}

	if first.MinX != -1280 || first.MinY != -300 || first.MaxX != 3640 || first.MaxY != 1620 {
		t.Errorf("unexpected bounds: %+v", first)
	}
}

// TestCropRectsStayInside verifies every crop of an irregular layout
// lies within the unit square.
func TestCropRectsStayInside(t *testing.T) {
	displays := []Display{
		display(0, -1280, 200, 1280, 1024),
		display(1, 0, 0, 2560, 1440),
		display(2, 2560, -300, 1080, 1920),
	}
	c, err := ComputeCanvas(displays)
	if err != nil {
		t.Fatal(err)
	}

	for _, d := range displays {
		r := ComputeCropRect(d, c)
		if r.X < -eps || r.Y < -eps || r.W <= 0 || r.H <= 0 {
			t.Errorf("display %d: invalid crop %+v", d.ID, r)
		}
		if r.X+r.W > 1+eps || r.Y+r.H > 1+eps {
			t.Errorf("display %d: crop %+v exceeds canvas", d.ID, r)
		}
	}
}

func TestCanvasEmpty(t *testing.T) {
	if _, err := ComputeCanvas(nil); !errors.Is(err, ErrEmptyInput) {
		t.Fatalf("expected ErrEmptyInput, got %v", err)
	}
}

// TestCropRectDegenerateCanvas verifies a zero-area canvas yields the
// full frame instead of dividing by zero.
func TestCropRectDegenerateCanvas(t *testing.T) {
	d := display(0, 100, 100, 0, 0)
	c, err := ComputeCanvas([]Display{d})
	if err != nil {
		t.Fatal(err)
	}
	if got := ComputeCropRect(d, c); got != FullFrame {
		t.Errorf("expected full frame, got %+v", got)
	}
}

func TestIsSpanning(t *testing.T) {
	cases := []struct {
		paths []string
		want  bool
	}{
		{nil, false},
		{[]string{"a.mp4"}, false},
		{[]string{"a.mp4", "a.mp4"}, true},
		{[]string{"a.mp4", "a.mp4", "a.mp4"}, true},
		{[]string{"a.mp4", "b.mp4"}, false},
		{[]string{"a.mp4", "a.mp4", "b.mp4"}, false},
	}
	for _, tc := range cases {
		if got := IsSpanning(tc.paths); got != tc.want {
			t.Errorf("IsSpanning(%v) = %v, want %v", tc.paths, got, tc.want)
		}
	}
}

// TestContentFrameWithoutCrop verifies the content layer simply fills
// the surface when no crop is given.
func TestContentFrameWithoutCrop(t *testing.T) {
	surface := Rect{X: 1920, Y: 0, Width: 1920, Height: 1080}
	got := ContentFrame(surface, nil)
	if got != (Rect{Width: 1920, Height: 1080}) {
		t.Errorf("unexpected frame: %+v", got)
	}
}

// TestContentFrameWithCrop verifies the right half of a two-display canvas
// is shifted left by one display width.
func TestContentFrameWithCrop(t *testing.T) {
	surface := Rect{X: 1920, Y: 0, Width: 1920, Height: 1080}
	got := ContentFrame(surface, &CropRect{X: 0.5, Y: 0, W: 0.5, H: 1})
	want := Rect{X: -1920, Y: 0, Width: 3840, Height: 1080}
	if !near(got.X, want.X) || !near(got.Y, want.Y) || !near(got.Width, want.Width) || !near(got.Height, want.Height) {
		t.Errorf("expected %+v, got %+v", want, got)
	}
}

func TestContentFrameZeroCropDimension(t *testing.T) {
	surface := Rect{Width: 800, Height: 600}
	got := ContentFrame(surface, &CropRect{X: 0, Y: 0, W: 0, H: 0})
	if got.Width != 800 || got.Height != 600 {
		t.Errorf("expected surface size fallback, got %+v", got)
	}
}

func TestFit(t *testing.T) {
	container := Rect{Width: 1920, Height: 1080}

	fill := Fit(container, 1000, 1000, media.Fill)
	if !near(fill.Width, 1920) || !near(fill.Height, 1920) || !near(fill.Y, -420) {
		t.Errorf("fill: unexpected %+v", fill)
	}

	fit := Fit(container, 1000, 1000, media.Fit)
	if !near(fit.Width, 1080) || !near(fit.Height, 1080) || !near(fit.X, 420) {
		t.Errorf("fit: unexpected %+v", fit)
	}

	if got := Fit(container, 1000, 1000, media.Stretch); got != container {
		t.Errorf("stretch: expected container, got %+v", got)
	}

	if got := Fit(container, 0, 0, media.Fill); got != container {
		t.Errorf("unknown size: expected container, got %+v", got)
	}
}
