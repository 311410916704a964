// Package playback owns the playback resources behind wallpaper surfaces:
// it starts them, loops them on end of media, forwards volume changes and
// releases them.
package playback

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"vidpaper/internal/media"
	"vidpaper/internal/topology"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// ErrLoad means the media layer could not open or decode the video.
var ErrLoad = errors.New("playback: load failed")

// A run shorter than minLoopDuration counts as a quick loop. More than
// maxQuickLoops of them in a row mark the resource failed.
const (
	minLoopDuration = 500 * time.Millisecond
	maxQuickLoops   = 3
)

// Target is the drawable a source renders into.
type Target interface {
	// Handle is the native window id.
	Handle() uint32
	// Frame is the drawable's geometry relative to its parent surface.
	Frame() topology.Rect
}

// Source is one decode/render pipeline. Implementations must tolerate
// Release being called once after any subset of the other calls.
type Source interface {
	Load(path string) error
	Bind(target Target) error
	Play() error
	Pause() error
	SeekStart() error
	SetVolume(v float64) error
	SetScaleMode(mode media.ScaleMode) error
	// OnEndOfMedia registers fn to run whenever playback reaches the end.
	// fn may be called from any goroutine.
	OnEndOfMedia(fn func()) (cancel func(), err error)
	// OnError registers fn to run when playback stops because of an error.
	// An error never counts as end of media.
	OnError(fn func(error)) (cancel func(), err error)
	Release() error
}

// Factory creates a fresh Source.
type Factory func() (Source, error)

// Resource is a live, looping playback bound to one target.
type Resource struct {
	mu        sync.Mutex
	src       Source
	path      string
	unsubs    []func()
	released  bool
	loops     int
	quick     int
	started   time.Time
	failed    error
	log       *zap.Logger
	onRelease func(*Resource)
}

// Path returns the video being played.
func (r *Resource) Path() string { return r.path }

// Loops returns how many times playback has wrapped around.
func (r *Resource) Loops() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loops
}

// failure returns the error that stopped playback, if any.
func (r *Resource) failure() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failed
}

func (r *Resource) restart() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.released || r.failed != nil {
		return
	}

	if time.Since(r.started) < minLoopDuration {
		r.quick++
	} else {
		r.quick = 0
	}
	if r.quick > maxQuickLoops {
		r.failLocked(fmt.Errorf("%w: %s: playback ended %d times in a row right after starting", ErrLoad, r.path, r.quick))
		return
	}

	r.loops++
	if err := r.src.SeekStart(); err != nil {
		r.log.Warn("seek to start failed", zap.Error(err))
	}
	r.started = time.Now()
	if err := r.src.Play(); err != nil {
		r.failLocked(fmt.Errorf("restart: %w", err))
		return
	}
	r.log.Debug("looped", zap.Int("loops", r.loops))
}

// fail stops looping after a playback error. The source stays allocated
// until Release.
func (r *Resource) fail(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.released || r.failed != nil {
		return
	}
	r.failLocked(err)
}

func (r *Resource) failLocked(err error) {
	r.failed = err
	r.log.Error("playback failed, not restarting", zap.Int("loops", r.loops), zap.Error(err))
}

// SetVolume forwards v, clamped to [0,1], to the source.
func (r *Resource) SetVolume(v float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.released {
		return nil
	}
	return r.src.SetVolume(media.ClampVolume(v))
}

// Pause halts playback without releasing the source.
func (r *Resource) Pause() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.released {
		return nil
	}
	return r.src.Pause()
}

// Release ends the loop subscription, pauses and frees the source. Later
// calls do nothing.
func (r *Resource) Release() error {
	r.mu.Lock()
	if r.released {
		r.mu.Unlock()
		return nil
	}
	r.released = true
	unsubs := r.unsubs
	src := r.src
	r.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
	_ = src.Pause()
	err := src.Release()

	if r.onRelease != nil {
		r.onRelease(r)
	}
	if err != nil {
		return fmt.Errorf("release %s: %w", r.path, err)
	}
	r.log.Debug("released")
	return nil
}

// Supervisor creates resources and tracks the live ones.
type Supervisor struct {
	mu        sync.Mutex
	newSource Factory
	live      map[*Resource]struct{}
	log       *zap.Logger
}

// NewSupervisor returns a supervisor creating sources with newSource.
func NewSupervisor(newSource Factory, logger *zap.Logger) *Supervisor {
	return &Supervisor{
		newSource: newSource,
		live:      make(map[*Resource]struct{}),
		log:       logger.Named("playback"),
	}
}

// Attach loads videoPath into a new source, binds it to target, applies
// volume and scale mode, subscribes the loop and starts playing. A load
// failure, or a source that dies while starting, is reported as ErrLoad.
// Nothing is retried; an error after Attach returned stops the loop.
func (s *Supervisor) Attach(target Target, videoPath string, volume float64, mode media.ScaleMode) (*Resource, error) {
	src, err := s.newSource()
	if err != nil {
		return nil, fmt.Errorf("create source: %w", err)
	}

	fail := func(err error) (*Resource, error) {
		_ = src.Release()
		return nil, err
	}

	if err := src.Load(videoPath); err != nil {
		return fail(fmt.Errorf("%w: %s: %v", ErrLoad, videoPath, err))
	}
	if err := src.Bind(target); err != nil {
		return fail(fmt.Errorf("bind %s: %w", videoPath, err))
	}
	if err := src.SetVolume(media.ClampVolume(volume)); err != nil {
		return fail(fmt.Errorf("set volume: %w", err))
	}
	if err := src.SetScaleMode(media.ParseScaleMode(string(mode))); err != nil {
		return fail(fmt.Errorf("set scale mode: %w", err))
	}

	r := &Resource{
		src:  src,
		path: videoPath,
		log: s.log.With(
			zap.String("video", videoPath),
			zap.Uint32("target", target.Handle())),
		onRelease: s.forget,
	}

	unsubscribe := func() {
		for _, u := range r.unsubs {
			u()
		}
	}
	unsub, err := src.OnEndOfMedia(r.restart)
	if err != nil {
		return fail(fmt.Errorf("subscribe end of media: %w", err))
	}
	r.unsubs = append(r.unsubs, unsub)
	unsubErr, err := src.OnError(r.fail)
	if err != nil {
		unsubscribe()
		return fail(fmt.Errorf("subscribe errors: %w", err))
	}
	r.unsubs = append(r.unsubs, unsubErr)

	r.started = time.Now()
	if err := src.Play(); err != nil {
		unsubscribe()
		if !errors.Is(err, ErrLoad) {
			err = fmt.Errorf("%w: %v", ErrLoad, err)
		}
		return fail(fmt.Errorf("play %s: %w", videoPath, err))
	}

	s.mu.Lock()
	s.live[r] = struct{}{}
	s.mu.Unlock()

	r.log.Info("playing", zap.Float64("volume", media.ClampVolume(volume)), zap.String("scale", string(mode)))
	return r, nil
}

func (s *Supervisor) forget(r *Resource) {
	s.mu.Lock()
	delete(s.live, r)
	s.mu.Unlock()
}

// Live returns the number of resources not yet released.
func (s *Supervisor) Live() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.live)
}

// SetVolume applies v to every live resource.
func (s *Supervisor) SetVolume(v float64) error {
	s.mu.Lock()
	rs := make([]*Resource, 0, len(s.live))
	for r := range s.live {
		rs = append(rs, r)
	}
	s.mu.Unlock()

	var err error
	for _, r := range rs {
		err = multierr.Append(err, r.SetVolume(v))
	}
	return err
}
