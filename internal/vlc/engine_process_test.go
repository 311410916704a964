//go:build !libvlc

package vlc

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"vidpaper/internal/media"
	"vidpaper/internal/playback"
	"vidpaper/internal/topology"

	"go.uber.org/zap"
)

type window struct{ xid uint32 }

func (w window) Handle() uint32       { return w.xid }
func (w window) Frame() topology.Rect { return topology.Rect{Width: 1920, Height: 1080} }

// scriptVLC writes a fake cvlc that logs its arguments and then runs body.
func scriptVLC(t *testing.T, body string) (bin, argsLog string) {
	t.Helper()
	dir := t.TempDir()
	argsLog = filepath.Join(dir, "args.log")
	bin = filepath.Join(dir, "cvlc")
	script := "#!/bin/sh\necho \"$@\" >> " + argsLog + "\n" + body + "\n"
	if err := os.WriteFile(bin, []byte(script), 0755); err != nil {
		t.Fatal(err)
	}
	return bin, argsLog
}

// runs counts how many times the fake cvlc was started.
func runs(t *testing.T, argsLog string) int {
	t.Helper()
	data, err := os.ReadFile(argsLog)
	if os.IsNotExist(err) {
		return 0
	}
	if err != nil {
		t.Fatal(err)
	}
	return strings.Count(string(data), "\n")
}

func testVideo(t *testing.T) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "clip.mp4")
	if err := os.WriteFile(p, []byte("not really a video"), 0644); err != nil {
		t.Fatal(err)
	}
	return p
}

// TestProcessSourceLoopsThroughSupervisor verifies a cvlc exit restarts
// playback with the embedding and aspect flags.
func TestProcessSourceLoopsThroughSupervisor(t *testing.T) {
	bin, argsLog := scriptVLC(t, "")
	video := testVideo(t)

	sup := playback.NewSupervisor(func() (playback.Source, error) {
		return newProcessSource(bin, []string{"--quiet"}, zap.NewNop()), nil
	}, zap.NewNop())

	res, err := sup.Attach(window{xid: 0x2a00001}, video, 0.5, media.Stretch)
	if err != nil {
		t.Fatal(err)
	}
	defer res.Release()

	deadline := time.Now().Add(5 * time.Second)
	for res.Loops() < 2 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	if res.Loops() < 2 {
		t.Fatalf("expected playback to loop, got %d loops", res.Loops())
	}

	data, err := os.ReadFile(argsLog)
	if err != nil {
		t.Fatal(err)
	}
	first := strings.SplitN(string(data), "\n", 2)[0]
	for _, want := range []string{"--drawable-xid 44040193", "--aspect-ratio 1920:1080", "--play-and-exit", video} {
		if !strings.Contains(first, want) {
			t.Errorf("args %q missing %q", first, want)
		}
	}
}

func TestProcessSourceLoadMissing(t *testing.T) {
	s := newProcessSource("/bin/false", nil, zap.NewNop())
	if err := s.Load(filepath.Join(t.TempDir(), "gone.mp4")); err == nil {
		t.Fatal("expected error for missing video")
	}
}

// TestProcessSourceReleaseStopsRestart verifies no end callback fires for
// a process killed by Release.
func TestProcessSourceReleaseStopsRestart(t *testing.T) {
	dir := t.TempDir()
	bin := filepath.Join(dir, "cvlc")
	if err := os.WriteFile(bin, []byte("#!/bin/sh\nexec sleep 30\n"), 0755); err != nil {
		t.Fatal(err)
	}

	s := newProcessSource(bin, nil, zap.NewNop())
	if err := s.Load(testVideo(t)); err != nil {
		t.Fatal(err)
	}
	ended := make(chan struct{}, 1)
	if _, err := s.OnEndOfMedia(func() { ended <- struct{}{} }); err != nil {
		t.Fatal(err)
	}
	if err := s.Play(); err != nil {
		t.Fatal(err)
	}
	if err := s.Release(); err != nil {
		t.Fatal(err)
	}

	select {
	case <-ended:
		t.Fatal("end of media reported after release")
	case <-time.After(200 * time.Millisecond):
	}
	if err := s.Play(); err == nil {
		t.Error("play after release should fail")
	}
}

// TestProcessSourceFailedStartIsLoadError verifies a cvlc that exits 1 at
// once fails Attach with ErrLoad and is started only once.
func TestProcessSourceFailedStartIsLoadError(t *testing.T) {
	bin, argsLog := scriptVLC(t, "echo 'main demux error' >&2\nexit 1")
	video := testVideo(t)

	sup := playback.NewSupervisor(func() (playback.Source, error) {
		return newProcessSource(bin, nil, zap.NewNop()), nil
	}, zap.NewNop())

	_, err := sup.Attach(window{xid: 7}, video, 0, media.Fill)
	if !errors.Is(err, playback.ErrLoad) {
		t.Fatalf("expected ErrLoad, got %v", err)
	}
	if sup.Live() != 0 {
		t.Error("failed attach must not be tracked")
	}

	time.Sleep(300 * time.Millisecond)
	if n := runs(t, argsLog); n != 1 {
		t.Errorf("expected a single start, got %d", n)
	}
}

// TestProcessSourceLaterFailureStopsLoop verifies a cvlc that starts fine
// but then exits 1 is not restarted.
func TestProcessSourceLaterFailureStopsLoop(t *testing.T) {
	bin, argsLog := scriptVLC(t, "sleep 0.2\nexit 1")
	video := testVideo(t)

	sup := playback.NewSupervisor(func() (playback.Source, error) {
		s := newProcessSource(bin, nil, zap.NewNop())
		s.grace = 50 * time.Millisecond
		return s, nil
	}, zap.NewNop())

	res, err := sup.Attach(window{xid: 7}, video, 0, media.Fill)
	if err != nil {
		t.Fatal(err)
	}
	defer res.Release()

	time.Sleep(time.Second)
	if n := runs(t, argsLog); n != 1 {
		t.Errorf("expected no restart after a failed exit, got %d starts", n)
	}
	if res.Loops() != 0 {
		t.Errorf("expected no loops, got %d", res.Loops())
	}
}

// TestProcessSourceInstantExitsGiveUp verifies a cvlc that keeps exiting 0
// right away, as it does for files it cannot play, is restarted a bounded
// number of times.
func TestProcessSourceInstantExitsGiveUp(t *testing.T) {
	bin, argsLog := scriptVLC(t, "exit 0")
	video := testVideo(t)

	sup := playback.NewSupervisor(func() (playback.Source, error) {
		return newProcessSource(bin, nil, zap.NewNop()), nil
	}, zap.NewNop())

	res, err := sup.Attach(window{xid: 7}, video, 0, media.Fill)
	if err != nil {
		t.Fatal(err)
	}
	defer res.Release()

	time.Sleep(time.Second)
	settled := runs(t, argsLog)
	time.Sleep(500 * time.Millisecond)
	if n := runs(t, argsLog); n != settled || n > 5 {
		t.Errorf("expected restarts to stop, got %d then %d starts", settled, n)
	}
}

// TestBuildArgsScaleModes verifies fill crops to the display ratio, stretch
// forces the aspect and fit passes the video through.
func TestBuildArgsScaleModes(t *testing.T) {
	video := testVideo(t)
	args := func(mode media.ScaleMode) string {
		s := newProcessSource("cvlc", nil, zap.NewNop())
		if err := s.Load(video); err != nil {
			t.Fatal(err)
		}
		_ = s.Bind(window{xid: 7})
		_ = s.SetScaleMode(mode)
		return strings.Join(s.buildArgs(), " ")
	}

	fill, fit, stretch := args(media.Fill), args(media.Fit), args(media.Stretch)
	if !strings.Contains(fill, "--crop 1920:1080") || strings.Contains(fill, "--aspect-ratio") {
		t.Errorf("fill args %q", fill)
	}
	if strings.Contains(fit, "--crop") || strings.Contains(fit, "--aspect-ratio") {
		t.Errorf("fit args %q", fit)
	}
	if !strings.Contains(stretch, "--aspect-ratio 1920:1080") || strings.Contains(stretch, "--crop") {
		t.Errorf("stretch args %q", stretch)
	}
	if fill == fit {
		t.Error("fill and fit must differ")
	}
}
