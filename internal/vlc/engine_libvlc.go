//go:build libvlc

// libVLC backend: one libvlc Player per source, rendering into the X window
// handed over by the surface. libvlc is initialized once per Runtime.
package vlc

import (
	"fmt"
	"sync"

	"vidpaper/internal/media"
	"vidpaper/internal/playback"

	libvlc "github.com/adrg/libvlc-go/v3"
	"go.uber.org/zap"
)

func (rt *Runtime) init() error {
	flags := append([]string{"--no-xlib"}, rt.args...)
	if err := libvlc.Init(flags...); err != nil {
		return fmt.Errorf("libvlc init failed: %w", err)
	}
	rt.log.Info("libVLC initialized", zap.Strings("args", flags))
	return nil
}

func (rt *Runtime) shutdown() error {
	if err := libvlc.Release(); err != nil {
		return fmt.Errorf("libvlc release: %w", err)
	}
	rt.log.Info("libVLC released")
	return nil
}

func (rt *Runtime) newSource() (playback.Source, error) {
	p, err := libvlc.NewPlayer()
	if err != nil {
		return nil, fmt.Errorf("player creation failed: %w", err)
	}
	return &libvlcSource{player: p, log: rt.log}, nil
}

// libvlcSource wraps a libvlc Player.
type libvlcSource struct {
	mu     sync.Mutex
	player *libvlc.Player
	target playback.Target
	path   string
	log    *zap.Logger
}

func (s *libvlcSource) Load(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.player.LoadMediaFromPath(path); err != nil {
		return fmt.Errorf("load media: %w", err)
	}
	s.path = path
	return nil
}

func (s *libvlcSource) Bind(target playback.Target) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.player.SetXWindow(target.Handle()); err != nil {
		return fmt.Errorf("set x window %d: %w", target.Handle(), err)
	}
	s.target = target
	return nil
}

func (s *libvlcSource) Play() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.player.Play()
}

func (s *libvlcSource) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.player.IsPlaying() {
		return nil
	}
	return s.player.SetPause(true)
}

// SeekStart rewinds. A player that reached the end must be stopped first;
// libVLC ignores seeks on ended media.
func (s *libvlcSource) SeekStart() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.player.MediaState()
	if err != nil {
		return err
	}
	if state == libvlc.MediaEnded {
		return s.player.Stop()
	}
	return s.player.SetMediaTime(0)
}

func (s *libvlcSource) SetVolume(v float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.player.SetVolume(int(media.ClampVolume(v)*100 + 0.5))
}

func (s *libvlcSource) SetScaleMode(mode media.ScaleMode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.player.SetScale(0); err != nil {
		return err
	}
	if err := s.player.SetCropGeometry(cropFor(mode, s.target)); err != nil {
		return err
	}
	return s.player.SetAspectRatio(aspectFor(mode, s.target))
}

// OnEndOfMedia runs fn on its own goroutine; libVLC must not be called
// back into from inside an event callback.
func (s *libvlcSource) OnEndOfMedia(fn func()) (func(), error) {
	em, err := s.player.EventManager()
	if err != nil {
		return nil, err
	}
	id, err := em.Attach(libvlc.MediaPlayerEndReached, func(libvlc.Event, interface{}) {
		go fn()
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("attach end reached: %w", err)
	}

	var once sync.Once
	return func() {
		once.Do(func() { em.Detach(id) })
	}, nil
}

// OnError reports MediaPlayerEncounteredError. Like end of media, fn runs
// on its own goroutine.
func (s *libvlcSource) OnError(fn func(error)) (func(), error) {
	em, err := s.player.EventManager()
	if err != nil {
		return nil, err
	}
	id, err := em.Attach(libvlc.MediaPlayerEncounteredError, func(libvlc.Event, interface{}) {
		s.log.Warn("libvlc playback error", zap.String("video", s.path))
		go fn(fmt.Errorf("%w: %s: libvlc reported an error", playback.ErrLoad, s.path))
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("attach encountered error: %w", err)
	}

	var once sync.Once
	return func() {
		once.Do(func() { em.Detach(id) })
	}, nil
}

func (s *libvlcSource) Release() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.player == nil {
		return nil
	}
	_ = s.player.Stop()
	// The player owns media loaded through it and frees it here.
	err := s.player.Release()
	s.player = nil
	s.log.Debug("player released", zap.String("video", s.path))
	return err
}
