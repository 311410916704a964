package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"vidpaper/internal/notify"
	"vidpaper/internal/playback"
	"vidpaper/internal/surface"
	"vidpaper/internal/vlc"
	"vidpaper/internal/x11"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// renderer is everything a process needs to draw wallpapers itself.
type renderer struct {
	conn    *x11.Connection
	vlc     *vlc.Runtime
	players *playback.Supervisor
	mgr     *surface.Manager
}

func (a *app) newRenderer() (*renderer, error) {
	conn, err := a.connect()
	if err != nil {
		return nil, err
	}
	rt := vlc.NewRuntime(vlc.Options{ExtraArgs: a.cfg.VLCArgs}, a.log)
	players := playback.NewSupervisor(rt.Factory(), a.log)
	return &renderer{
		conn:    conn,
		vlc:     rt,
		players: players,
		mgr:     surface.NewManager(conn, players, a.log),
	}, nil
}

// close destroys every wallpaper before shutting VLC and X down.
func (r *renderer) close() error {
	err := r.mgr.DestroyAll()
	if n := r.players.Live(); n > 0 {
		err = multierr.Append(err, fmt.Errorf("%d playback resource(s) still live after teardown", n))
	}
	err = multierr.Append(err, r.vlc.Close())
	r.conn.Close()
	return err
}

// serve blocks until SIGINT, SIGTERM or a Terminate notification. Volume
// changes, whether announced or written straight to the settings file, are
// re-read from the store and handed to apply.
func (a *app) serve(center notify.Listener, apply func(v float64) error) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	terminate := make(chan struct{}, 1)

	applyStored := func() {
		v := a.settings.Volume()
		if err := apply(v); err != nil {
			a.log.Warn("volume not applied", zap.Float64("volume", v), zap.Error(err))
			return
		}
		a.log.Info("volume applied", zap.Float64("volume", v))
	}

	if center != nil {
		cancel, err := center.Subscribe(notify.Terminate, func() {
			select {
			case terminate <- struct{}{}:
			default:
			}
		})
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", notify.Terminate, err)
		}
		defer cancel()

		cancelVol, err := center.Subscribe(notify.VolumeChanged, func() {
			if err := a.settings.Reload(); err != nil {
				a.log.Warn("settings reload failed", zap.Error(err))
				return
			}
			applyStored()
		})
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", notify.VolumeChanged, err)
		}
		defer cancelVol()
	}

	done := make(chan struct{})
	defer close(done)
	if err := a.settings.Watch(done, applyStored); err != nil {
		a.log.Warn("settings file not watched", zap.String("path", a.settings.Path()), zap.Error(err))
	}

	select {
	case sig := <-sigCh:
		a.log.Info("received signal, shutting down", zap.Stringer("signal", sig))
	case <-terminate:
		a.log.Info("terminate notification received, shutting down")
	}
	return nil
}
