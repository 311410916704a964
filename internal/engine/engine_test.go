package engine

import (
	"context"
	"errors"
	"image"
	"math"
	"os"
	"path/filepath"
	"testing"

	"vidpaper/internal/daemon"
	"vidpaper/internal/media"
	"vidpaper/internal/playback"
	"vidpaper/internal/surface"
	"vidpaper/internal/topology"

	"go.uber.org/zap"
)

// --- fakes ---

type fakeDisplays struct {
	list []topology.Display
}

func (f *fakeDisplays) Displays() ([]topology.Display, error) { return f.list, nil }
func (f *fakeDisplays) Primary() (topology.Display, error)    { return f.list[0], nil }

func threeDisplays() *fakeDisplays {
	return &fakeDisplays{list: []topology.Display{
		{ID: 0, Bounds: topology.Rect{X: 0, Y: 0, Width: 1920, Height: 1080}},
		{ID: 1, Bounds: topology.Rect{X: 1920, Y: 0, Width: 1920, Height: 1080}},
		{ID: 2, Bounds: topology.Rect{X: 3840, Y: 0, Width: 1920, Height: 1080}},
	}}
}

type fakeDeploy struct {
	launched  []Assignment
	teardowns int
	volume    float64
	fail      map[int]error
}

func (f *fakeDeploy) Launch(ctx context.Context, a Assignment) error {
	if err := f.fail[a.Display.ID]; err != nil {
		return err
	}
	f.launched = append(f.launched, a)
	return nil
}

func (f *fakeDeploy) TeardownAll() error {
	f.teardowns++
	f.launched = nil
	return nil
}

func (f *fakeDeploy) UpdateVolume(v float64) error { f.volume = v; return nil }

type fakeCache struct {
	err   error
	calls map[string]int
}

func (f *fakeCache) GetOrGenerate(ctx context.Context, p string) (string, error) {
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[p]++
	if f.err != nil {
		return "", f.err
	}
	return "/cache/" + media.Stem(p) + ".png", nil
}

type fakeSettings struct{}

func (fakeSettings) Volume() float64            { return 0.3 }
func (fakeSettings) ScaleMode() media.ScaleMode { return media.Fit }

// --- orchestrator with fake deployment ---

func TestStartArityMismatch(t *testing.T) {
	dep := &fakeDeploy{}
	o := New(dep, threeDisplays(), &fakeCache{}, nil, zap.NewNop())

	_, err := o.Start(context.Background(), []string{"/v/a.mp4", "/v/b.mp4"}, []int{0}, Options{})
	if !errors.Is(err, ErrArityMismatch) {
		t.Fatalf("expected ErrArityMismatch, got %v", err)
	}
	if len(dep.launched) != 0 || dep.teardowns != 0 {
		t.Errorf("no work should happen: launched=%d teardowns=%d", len(dep.launched), dep.teardowns)
	}
}

// TestStartSpanning verifies one video on two displays is cropped in half.
func TestStartSpanning(t *testing.T) {
	dep := &fakeDeploy{}
	cache := &fakeCache{}
	o := New(dep, threeDisplays(), cache, fakeSettings{}, zap.NewNop())

	res, err := o.Start(context.Background(), []string{"/v/a.mp4", "/v/a.mp4"}, []int{0, 1}, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Spanning || len(dep.launched) != 2 {
		t.Fatalf("expected two spanned displays, got %+v", res)
	}
	if cache.calls["/v/a.mp4"] != 1 {
		t.Errorf("cache should be warmed once per distinct video, got %d", cache.calls["/v/a.mp4"])
	}

	right := dep.launched[1]
	if right.Crop == nil || math.Abs(right.Crop.X-0.5) > 1e-9 || math.Abs(right.Crop.W-0.5) > 1e-9 {
		t.Errorf("unexpected crop %+v", right.Crop)
	}
	if right.StaticPath != "/cache/a.png" {
		t.Errorf("static path not passed: %q", right.StaticPath)
	}
	if right.Volume != 0.3 || right.ScaleMode != media.Fit {
		t.Errorf("settings not applied: %v %s", right.Volume, right.ScaleMode)
	}
}

// TestStartIndividual verifies distinct videos get no crop and overrides
// win over stored settings.
func TestStartIndividual(t *testing.T) {
	dep := &fakeDeploy{}
	o := New(dep, threeDisplays(), &fakeCache{}, fakeSettings{}, zap.NewNop())

	vol := 0.9
	res, err := o.Start(context.Background(), []string{"/v/a.mp4", "/v/b.mp4"}, []int{0, 2}, Options{Volume: &vol, ScaleMode: "stretch"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Spanning {
		t.Error("distinct videos must not span")
	}
	for _, a := range dep.launched {
		if a.Crop != nil {
			t.Errorf("display %d got a crop", a.Display.ID)
		}
		if a.Volume != 0.9 || a.ScaleMode != media.Stretch {
			t.Errorf("overrides not applied: %v %s", a.Volume, a.ScaleMode)
		}
	}
	if dep.launched[1].Display.ID != 2 {
		t.Errorf("expected display 2, got %d", dep.launched[1].Display.ID)
	}
}

func TestStartSingleDisplayNoCrop(t *testing.T) {
	dep := &fakeDeploy{}
	o := New(dep, threeDisplays(), nil, nil, zap.NewNop())

	res, err := o.Start(context.Background(), []string{"/v/a.mp4"}, []int{1}, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Spanning || dep.launched[0].Crop != nil {
		t.Errorf("single display must not be cropped")
	}
}

// TestStartOutOfRange verifies individual mode falls back to the primary
// display while spanning mode skips the id.
func TestStartOutOfRange(t *testing.T) {
	dep := &fakeDeploy{}
	o := New(dep, threeDisplays(), nil, nil, zap.NewNop())

	if _, err := o.Start(context.Background(), []string{"/v/a.mp4", "/v/b.mp4"}, []int{1, 7}, Options{}); err != nil {
		t.Fatal(err)
	}
	if dep.launched[1].Display.ID != 0 {
		t.Errorf("expected fallback to primary, got %d", dep.launched[1].Display.ID)
	}

	res, err := o.Start(context.Background(), []string{"/v/a.mp4", "/v/a.mp4"}, []int{1, 7}, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Started) != 1 || res.Failed[7] == nil {
		t.Errorf("expected display 7 skipped, got %+v", res)
	}
	if c := res.Started[0].Crop; c == nil || *c != topology.FullFrame {
		t.Errorf("sole spanned display should cover the whole canvas, got %+v", c)
	}
}

func TestStartCacheFailureDoesNotAbort(t *testing.T) {
	dep := &fakeDeploy{}
	o := New(dep, threeDisplays(), &fakeCache{err: errors.New("ffprobe missing")}, nil, zap.NewNop())

	if _, err := o.Start(context.Background(), []string{"/v/a.mp4"}, []int{0}, Options{}); err != nil {
		t.Fatal(err)
	}
	if len(dep.launched) != 1 || dep.launched[0].StaticPath != "" {
		t.Errorf("expected launch without placeholder, got %+v", dep.launched)
	}
}

func TestStartAllFail(t *testing.T) {
	dep := &fakeDeploy{fail: map[int]error{0: errors.New("boom")}}
	o := New(dep, threeDisplays(), nil, nil, zap.NewNop())

	_, err := o.Start(context.Background(), []string{"/v/a.mp4"}, []int{0}, Options{})
	if !errors.Is(err, ErrNoDisplays) {
		t.Fatalf("expected ErrNoDisplays, got %v", err)
	}
}

// TestStartReplacesSession verifies every start tears the previous session
// down first.
func TestStartReplacesSession(t *testing.T) {
	dep := &fakeDeploy{}
	o := New(dep, threeDisplays(), nil, nil, zap.NewNop())

	for i := 0; i < 2; i++ {
		if _, err := o.Start(context.Background(), []string{"/v/a.mp4"}, []int{0}, Options{}); err != nil {
			t.Fatal(err)
		}
	}
	if dep.teardowns != 2 || len(o.Session()) != 1 {
		t.Errorf("teardowns=%d session=%d", dep.teardowns, len(o.Session()))
	}

	if err := o.Stop(); err != nil {
		t.Fatal(err)
	}
	if len(o.Session()) != 0 {
		t.Error("session not cleared on stop")
	}

	if err := o.UpdateVolume(1.5); err != nil {
		t.Fatal(err)
	}
	if dep.volume != 1 {
		t.Errorf("expected clamped volume 1, got %v", dep.volume)
	}
}

// --- orchestrator with the in-process deployment ---

type testWindowing struct {
	*fakeDisplays
	created int
}

func (w *testWindowing) CreateSurface(topology.Rect) (surface.Surface, error) {
	w.created++
	return &testSurface{}, nil
}

type testSurface struct{}

func (testSurface) AttachContent(f topology.Rect) (surface.Content, error) {
	return &testContent{frame: f}, nil
}
func (testSurface) Show() error    { return nil }
func (testSurface) Destroy() error { return nil }

type testContent struct{ frame topology.Rect }

func (c *testContent) Handle() uint32          { return 1 }
func (c *testContent) Frame() topology.Rect    { return c.frame }
func (c *testContent) Paint(image.Image) error { return nil }
func (c *testContent) Detach() error           { return nil }

type nopSource struct{}

func (nopSource) Load(string) error                   { return nil }
func (nopSource) Bind(playback.Target) error          { return nil }
func (nopSource) Play() error                         { return nil }
func (nopSource) Pause() error                        { return nil }
func (nopSource) SeekStart() error                    { return nil }
func (nopSource) SetVolume(float64) error             { return nil }
func (nopSource) SetScaleMode(media.ScaleMode) error  { return nil }
func (nopSource) OnEndOfMedia(func()) (func(), error) { return func() {}, nil }
func (nopSource) OnError(func(error)) (func(), error) { return func() {}, nil }
func (nopSource) Release() error                      { return nil }

// TestInProcessOneMissingVideo verifies a missing video on one of three
// displays leaves the other two running.
func TestInProcessOneMissingVideo(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.mp4")
	c := filepath.Join(dir, "c.mp4")
	for _, p := range []string{a, c} {
		if err := os.WriteFile(p, []byte("video"), 0644); err != nil {
			t.Fatal(err)
		}
	}

	win := &testWindowing{fakeDisplays: threeDisplays()}
	sup := playback.NewSupervisor(func() (playback.Source, error) { return nopSource{}, nil }, zap.NewNop())
	mgr := surface.NewManager(win, sup, zap.NewNop())
	o := New(NewInProcess(mgr, nil), win, nil, nil, zap.NewNop())

	res, err := o.Start(context.Background(),
		[]string{a, filepath.Join(dir, "missing.mp4"), c}, []int{0, 1, 2}, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Started) != 2 || len(mgr.Wallpapers()) != 2 {
		t.Errorf("expected 2 wallpapers, got %d started, %d live", len(res.Started), len(mgr.Wallpapers()))
	}
	if !errors.Is(res.Failed[1], surface.ErrResourceNotFound) {
		t.Errorf("expected display 1 to fail with ErrResourceNotFound, got %v", res.Failed[1])
	}
	if mgr.State(1) != surface.Uninitialized {
		t.Errorf("failed display should have no surface")
	}

	if err := o.Stop(); err != nil {
		t.Fatal(err)
	}
	if len(mgr.Wallpapers()) != 0 {
		t.Error("stop left wallpapers behind")
	}
}

// TestDaemonsOneMissingVideo verifies daemon mode skips a display whose
// video is missing without spawning a helper for it.
func TestDaemonsOneMissingVideo(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.mp4")
	c := filepath.Join(dir, "c.mp4")
	for _, p := range []string{a, c} {
		if err := os.WriteFile(p, []byte("video"), 0644); err != nil {
			t.Fatal(err)
		}
	}

	sup, err := daemon.New(daemon.Options{
		Executable:   "/bin/sh",
		Prefix:       []string{"-c", "exec sleep 30", "daemon"},
		LogDir:       filepath.Join(dir, "logs"),
		RegistryPath: filepath.Join(dir, "daemons.yaml"),
	}, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	o := New(NewDaemons(sup, zap.NewNop()), threeDisplays(), nil, nil, zap.NewNop())

	res, err := o.Start(context.Background(),
		[]string{a, filepath.Join(dir, "missing.mp4"), c}, []int{0, 1, 2}, Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer o.Stop()

	if len(res.Started) != 2 || len(sup.Records()) != 2 {
		t.Errorf("expected 2 daemons, got %d started, %d tracked", len(res.Started), len(sup.Records()))
	}
	if !errors.Is(res.Failed[1], surface.ErrResourceNotFound) {
		t.Errorf("expected display 1 to fail with ErrResourceNotFound, got %v", res.Failed[1])
	}
	for _, r := range sup.Records() {
		if r.DisplayID == 1 {
			t.Error("daemon spawned for the missing video")
		}
	}
}

func TestInProcessArityMismatchCreatesNothing(t *testing.T) {
	win := &testWindowing{fakeDisplays: threeDisplays()}
	sup := playback.NewSupervisor(func() (playback.Source, error) { return nopSource{}, nil }, zap.NewNop())
	mgr := surface.NewManager(win, sup, zap.NewNop())
	o := New(NewInProcess(mgr, nil), win, nil, nil, zap.NewNop())

	_, err := o.Start(context.Background(), []string{"/v/a.mp4"}, []int{0, 1}, Options{})
	if !errors.Is(err, ErrArityMismatch) {
		t.Fatalf("expected ErrArityMismatch, got %v", err)
	}
	if win.created != 0 {
		t.Errorf("expected no surfaces, got %d", win.created)
	}
}
