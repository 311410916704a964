// Package vlc plays wallpaper videos with VLC.
//
// Built with the libvlc tag it links libVLC through cgo and renders straight
// into the surface's X window. Without the tag it drives a cvlc subprocess
// per source through VLC's rc interface, embedding the video output into
// the same window with --drawable-xid.
package vlc

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"sync"

	"vidpaper/internal/media"
	"vidpaper/internal/playback"

	"go.uber.org/zap"
)

// defaultArgs apply to every VLC instance.
var defaultArgs = []string{
	"--no-video-title-show", // No filename overlay
	"--no-osd",              // No on-screen display
	"--no-spu",              // No subtitles
	"--no-snapshot-preview",
	"--avcodec-hw=any",
	"--file-caching=1000",
	"--quiet",
}

// Options configure the runtime.
type Options struct {
	// ExtraArgs are appended to the default VLC flags.
	ExtraArgs []string
}

// Runtime creates playback sources sharing one VLC setup. It is created
// once by the caller and closed after every source is released.
type Runtime struct {
	args []string
	log  *zap.Logger

	initOnce sync.Once
	initErr  error

	// vlcPath is the cvlc binary used by the subprocess backend.
	vlcPath string
	// closed is set by Close; later NewSource calls fail.
	mu     sync.Mutex
	closed bool
}

// NewRuntime prepares a runtime. VLC itself is initialized lazily on the
// first NewSource call.
func NewRuntime(opts Options, logger *zap.Logger) *Runtime {
	args := append([]string{}, defaultArgs...)
	args = append(args, opts.ExtraArgs...)
	return &Runtime{
		args: args,
		log:  logger.Named("vlc"),
	}
}

// Factory adapts the runtime to playback.Factory.
func (rt *Runtime) Factory() playback.Factory {
	return rt.NewSource
}

// NewSource creates a fresh playback source.
func (rt *Runtime) NewSource() (playback.Source, error) {
	rt.mu.Lock()
	closed := rt.closed
	rt.mu.Unlock()
	if closed {
		return nil, fmt.Errorf("vlc runtime closed")
	}

	rt.initOnce.Do(func() {
		rt.initErr = rt.init()
	})
	if rt.initErr != nil {
		return nil, rt.initErr
	}
	return rt.newSource()
}

// Close shuts the runtime down.
func (rt *Runtime) Close() error {
	rt.mu.Lock()
	if rt.closed {
		rt.mu.Unlock()
		return nil
	}
	rt.closed = true
	rt.mu.Unlock()

	if rt.initErr != nil {
		return nil
	}
	return rt.shutdown()
}

// aspectFor returns the aspect string VLC should force for mode. Stretch
// forces the target's own aspect so the picture fills it on both axes.
func aspectFor(mode media.ScaleMode, target playback.Target) string {
	if mode != media.Stretch {
		return ""
	}
	return targetRatio(target)
}

// cropFor returns the crop geometry for mode. Fill crops the video to the
// target's aspect, so the remaining picture covers the target once VLC
// fits it. Fit leaves both unset and VLC letterboxes.
func cropFor(mode media.ScaleMode, target playback.Target) string {
	if mode != media.Fill {
		return ""
	}
	return targetRatio(target)
}

func targetRatio(target playback.Target) string {
	if target == nil {
		return ""
	}
	f := target.Frame()
	w, h := int(f.Width), int(f.Height)
	if w <= 0 || h <= 0 {
		return ""
	}
	return strconv.Itoa(w) + ":" + strconv.Itoa(h)
}

// findVLC locates cvlc, falling back to the full vlc binary.
func findVLC() (string, error) {
	for _, name := range []string{"cvlc", "vlc"} {
		if path, err := exec.LookPath(name); err == nil {
			return path, nil
		}
	}

	for _, c := range []string{"/usr/bin/cvlc", "/usr/bin/vlc", "/snap/bin/vlc"} {
		if _, err := os.Stat(c); err == nil {
			return c, nil
		}
	}

	return "", fmt.Errorf("VLC not found, install with: sudo apt install vlc")
}
