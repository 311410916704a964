package main

import (
	"errors"
	"fmt"
	"os"

	"vidpaper/internal/config"
	"vidpaper/internal/daemon"
	"vidpaper/internal/surface"
	"vidpaper/internal/topology"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const daemonUsage = "usage: vidpaper daemon <video> <static-frame> <volume> <fill|fit|stretch> <display-id>"

var errDaemonUsage = errors.New(daemonUsage)

// daemonCmd renders one display until told to terminate. It is what daemon
// mode launches once per display; the arguments are positional.
func daemonCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:    "daemon <video> <static-frame> <volume> <scale> <display-id>",
		Short:  "Render a wallpaper on a single display (launched by start --mode daemon)",
		Hidden: true,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) < daemon.ArgCount {
				return errDaemonUsage
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := daemon.ParseArgs(args)
			if err != nil {
				return fmt.Errorf("%v\n%s", err, daemonUsage)
			}

			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			a, err := newAppFromConfig(cfg, "")
			if err != nil {
				return err
			}
			defer a.close()

			log := a.log.With(zap.Int("display", req.DisplayID), zap.Int("pid", os.Getpid()))
			if st, err := os.Stat(req.VideoPath); err != nil || st.IsDir() {
				log.Error("video not found", zap.String("video", req.VideoPath))
				return fmt.Errorf("%w: %s", surface.ErrResourceNotFound, req.VideoPath)
			}

			r, err := a.newRenderer()
			if err != nil {
				return err
			}
			defer func() {
				if err := r.close(); err != nil {
					log.Warn("shutdown incomplete", zap.Error(err))
				}
			}()

			all, err := r.conn.Displays()
			if err != nil {
				return err
			}
			d, err := pickDisplay(all, req.DisplayID, r.conn.Primary)
			if err != nil {
				return err
			}
			if d.ID != req.DisplayID {
				log.Warn("display out of range, using primary", zap.Int("primary", d.ID), zap.Int("available", len(all)))
			}

			if _, err := r.mgr.Create(surface.Request{
				Display:         d,
				VideoPath:       req.VideoPath,
				PlaceholderPath: req.StaticPath,
				Volume:          req.Volume,
				ScaleMode:       req.ScaleMode,
			}); err != nil {
				return err
			}
			log.Info("daemon rendering", zap.String("video", req.VideoPath), zap.Stringer("bounds", d.Bounds))

			center := a.openNotify()
			if center != nil {
				defer center.Close()
			}
			return a.serve(center, r.mgr.SetVolume)
		},
	}
}

// pickDisplay returns all[id], or the primary display when id is out of
// range.
func pickDisplay(all []topology.Display, id int, primary func() (topology.Display, error)) (topology.Display, error) {
	if id >= 0 && id < len(all) {
		return all[id], nil
	}
	p, err := primary()
	if err != nil {
		return topology.Display{}, fmt.Errorf("display %d out of range and no primary: %w", id, err)
	}
	return p, nil
}
