// vidpaper: video wallpapers for X11, spanned across displays or one video
// per display.
package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"vidpaper/internal/system"

	"github.com/spf13/cobra"
)

// Build-time variables set by the Makefile via -ldflags.
var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:          "vidpaper",
		Short:        "vidpaper: video wallpapers across X11 displays",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config.yaml (default ~/.config/vidpaper/config.yaml)")

	root.AddCommand(startCmd(&configPath))
	root.AddCommand(stopCmd(&configPath))
	root.AddCommand(volumeCmd(&configPath))
	root.AddCommand(scaleCmd(&configPath))
	root.AddCommand(daemonCmd(&configPath))
	root.AddCommand(displaysCmd(&configPath))
	root.AddCommand(statusCmd(&configPath))
	root.AddCommand(cacheCmd(&configPath))
	root.AddCommand(checkCmd(&configPath))
	root.AddCommand(versionCmd())
	return root
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "vidpaper %s\nBuilt: %s\n", version, buildTime)
		},
	}
}

func checkCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Run a system health check",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*configPath)
			if err != nil {
				return err
			}
			defer a.close()

			status := system.RunHealthCheck(a.cfg.CacheDir)
			out := cmd.OutOrStdout()
			display := status.Display
			if display == "" {
				display = "(unset)"
			}
			fmt.Fprintf(out, "DISPLAY         : %s\n", display)
			for _, tool := range []string{"ffmpeg", "ffprobe", "cvlc"} {
				p := status.Tools[tool]
				if p == "" {
					p = "not found"
				}
				fmt.Fprintf(out, "%-16s: %s\n", tool, p)
			}
			fmt.Fprintf(out, "Cache Dir       : %s\n", status.CacheDir)
			fmt.Fprintf(out, "Disk Usage      : %.1f%%\n", status.DiskUsedPct)
			fmt.Fprintf(out, "Disk Free       : %d MB\n", status.DiskFreeBytes/1024/1024)
			return nil
		},
	}
}

func displaysCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "displays",
		Short: "List connected displays with their ids and geometry",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*configPath)
			if err != nil {
				return err
			}
			defer a.close()

			conn, err := a.connect()
			if err != nil {
				return err
			}
			defer conn.Close()

			all, err := conn.Displays()
			if err != nil {
				return err
			}
			primary, perr := conn.Primary()

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tGEOMETRY\tPRIMARY")
			for _, d := range all {
				mark := ""
				if perr == nil && d.ID == primary.ID {
					mark = "*"
				}
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", d.ID, d.Name, d.Bounds, mark)
			}
			return tw.Flush()
		},
	}
}

func statusCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "List tracked wallpaper daemons",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*configPath)
			if err != nil {
				return err
			}
			defer a.close()

			sup, err := a.supervisor(nil)
			if err != nil {
				return err
			}
			recs := sup.Records()
			if len(recs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no daemons running")
				return nil
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "DISPLAY\tPID\tALIVE\tUPTIME\tVIDEO\tLOG")
			for _, r := range recs {
				fmt.Fprintf(tw, "%d\t%d\t%v\t%s\t%s\t%s\n",
					r.DisplayID, r.PID, system.ProcessAlive(r.PID),
					time.Since(r.StartedAt).Round(time.Second), r.VideoPath, r.LogPath)
			}
			return tw.Flush()
		},
	}
}

func cacheCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage cached placeholder frames",
	}

	var olderThan time.Duration
	clean := &cobra.Command{
		Use:   "clean",
		Short: "Delete cached frames older than a given age",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*configPath)
			if err != nil {
				return err
			}
			defer a.close()

			fc := a.frameCache()
			n, err := fc.Prune(olderThan)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d cached frame(s) from %s\n", n, fc.Dir())
			return nil
		},
	}
	clean.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "Remove frames not modified within this duration")

	cmd.AddCommand(clean)
	return cmd
}
