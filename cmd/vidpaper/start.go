package main

import (
	"fmt"
	"strconv"
	"strings"

	"vidpaper/internal/config"
	"vidpaper/internal/engine"
	"vidpaper/internal/media"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// startCmd sets a wallpaper. In-process mode keeps running until stopped;
// daemon mode launches one helper per display and returns.
func startCmd(configPath *string) *cobra.Command {
	var (
		videos   []string
		displays []int
		volume   float64
		scale    string
		mode     string
	)

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Set a video wallpaper on one or more displays",
		Example: `  vidpaper start --video ~/v/sea.mp4 --display 0
  vidpaper start --video ~/v/sea.mp4 --video ~/v/sea.mp4 --display 0 --display 1
  vidpaper start --video a.mp4 --video b.mp4 --display 0 --display 1 --mode daemon`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			if mode != "" {
				cfg.Mode = mode
				if err := cfg.Validate(); err != nil {
					return err
				}
			}
			a, err := newAppFromConfig(cfg, "")
			if err != nil {
				return err
			}
			defer a.close()
			a.log.Info("vidpaper starting", zap.String("version", version), zap.String("mode", cfg.Mode))

			opts := engine.Options{ScaleMode: scale}
			if cmd.Flags().Changed("volume") {
				opts.Volume = &volume
			}

			if cfg.Mode == config.ModeDaemon {
				center := a.openNotify()
				if center != nil {
					defer center.Close()
				}
				sup, err := a.supervisor(center)
				if err != nil {
					return err
				}
				conn, err := a.connect()
				if err != nil {
					return err
				}
				defer conn.Close()

				// The first teardown stops whatever an earlier invocation
				// left running, daemons and in-process runners alike.
				orch := engine.New(engine.NewDaemons(sup, a.log), conn, a.frameCache(), a.settings, a.log)
				res, err := orch.Start(cmd.Context(), videos, displays, opts)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				for _, as := range orch.Session() {
					fmt.Fprintf(out, "display %d: %s\n", as.Display.ID, as.VideoPath)
				}
				for id, ferr := range res.Failed {
					fmt.Fprintf(out, "display %d: skipped: %v\n", id, ferr)
				}
				fmt.Fprintf(out, "started %d daemon(s)\n", len(res.Started))
				return nil
			}

			// Stop earlier sessions before subscribing, so this process
			// does not receive its own terminate broadcast.
			if err := a.stopAll(); err != nil {
				a.log.Warn("previous session not fully stopped", zap.Error(err))
			}

			r, err := a.newRenderer()
			if err != nil {
				return err
			}
			defer func() {
				if err := r.close(); err != nil {
					a.log.Warn("shutdown incomplete", zap.Error(err))
				}
			}()

			center := a.openNotify()
			if center != nil {
				defer center.Close()
			}

			orch := engine.New(engine.NewInProcess(r.mgr, a.settings), r.conn, a.frameCache(), a.settings, a.log)
			if _, err := orch.Start(cmd.Context(), videos, displays, opts); err != nil {
				return err
			}
			defer orch.Stop()

			err = a.serve(center, r.mgr.SetVolume)
			a.log.Info("shutdown complete")
			return err
		},
	}

	cmd.Flags().StringArrayVarP(&videos, "video", "v", nil, "Video file, repeat once per display (same file on every display spans them)")
	cmd.Flags().IntSliceVarP(&displays, "display", "d", nil, "Display id, paired in order with --video")
	cmd.Flags().Float64Var(&volume, "volume", 0, "Volume between 0 and 1 (default: stored setting)")
	cmd.Flags().StringVar(&scale, "scale", "", "Scale mode: fill, fit or stretch (default: stored setting)")
	cmd.Flags().StringVar(&mode, "mode", "", "Deployment: inprocess or daemon (default: config)")
	cmd.MarkFlagRequired("video")
	cmd.MarkFlagRequired("display")
	return cmd
}

func stopCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop every running wallpaper",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*configPath)
			if err != nil {
				return err
			}
			defer a.close()

			return a.stopAll()
		},
	}
}

// scaleCmd stores the scale mode used by the next start.
func scaleCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:       "scale <fill|fit|stretch>",
		Short:     "Store the default scale mode for new wallpapers",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{string(media.Fill), string(media.Fit), string(media.Stretch)},
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*configPath)
			if err != nil {
				return err
			}
			defer a.close()

			m := media.ParseScaleMode(args[0])
			if string(m) != strings.ToLower(strings.TrimSpace(args[0])) {
				a.log.Warn("unknown scale mode, using stretch", zap.String("mode", args[0]))
			}
			if err := a.settings.SetScaleMode(m); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "scale mode set to %s\n", m)
			return nil
		},
	}
}

func volumeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "volume <0.0-1.0>",
		Short: "Change the volume of running wallpapers and store it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := strconv.ParseFloat(args[0], 64)
			if err != nil {
				return fmt.Errorf("volume %q: %w", args[0], err)
			}

			a, err := newApp(*configPath)
			if err != nil {
				return err
			}
			defer a.close()

			center := a.openNotify()
			if center != nil {
				defer center.Close()
			}
			sup, err := a.supervisor(center)
			if err != nil {
				return err
			}
			if err := sup.UpdateVolume(v); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "volume set to %s\n", strconv.FormatFloat(media.ClampVolume(v), 'f', -1, 64))
			return nil
		},
	}
}
