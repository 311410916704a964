package main

import (
	"fmt"
	"os"
	"path/filepath"

	"vidpaper/internal/config"
	"vidpaper/internal/daemon"
	"vidpaper/internal/framecache"
	"vidpaper/internal/logging"
	"vidpaper/internal/notify"
	"vidpaper/internal/settings"
	"vidpaper/internal/system"
	"vidpaper/internal/x11"

	"go.uber.org/zap"
)

// app holds what every command needs: configuration, the logger, the
// settings store and the per-session runtime directory.
type app struct {
	cfg        *config.Config
	log        *zap.Logger
	settings   *settings.Store
	runtimeDir string
}

func newApp(configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return newAppFromConfig(cfg, "")
}

// newAppFromConfig builds the app around cfg. logFile overrides cfg.LogFile
// when set.
func newAppFromConfig(cfg *config.Config, logFile string) (*app, error) {
	if logFile == "" {
		logFile = cfg.LogFile
	}
	logger, err := logging.New(logging.Options{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		File:   logFile,
	})
	if err != nil {
		return nil, err
	}

	store, err := settings.Open(cfg.SettingsFile)
	if err != nil {
		logger.Sync()
		return nil, fmt.Errorf("settings: %w", err)
	}

	runDir, err := system.RuntimeDir(config.AppName)
	if err != nil {
		logger.Sync()
		return nil, err
	}

	return &app{cfg: cfg, log: logger, settings: store, runtimeDir: runDir}, nil
}

func (a *app) close() {
	_ = a.log.Sync()
}

// openNotify connects the configured notification transport. Failure is
// logged and yields nil: commands still work, only broadcasts are lost.
func (a *app) openNotify() notify.Center {
	c, err := notify.Open(a.cfg.NotifyTransport, filepath.Join(a.runtimeDir, "notify"), a.log)
	if err != nil {
		a.log.Warn("notifications unavailable", zap.Error(err))
		return nil
	}
	return c
}

func (a *app) connect() (*x11.Connection, error) {
	return x11.NewConnection(a.log)
}

// frameCache always returns a usable cache. Without ffmpeg on PATH every
// generation fails and wallpapers start without a placeholder.
func (a *app) frameCache() *framecache.Cache {
	ff, err := framecache.NewFFmpeg()
	if err != nil {
		a.log.Debug("frame extraction tools missing", zap.Error(err))
		ff = &framecache.FFmpeg{FFprobePath: "ffprobe", FFmpegPath: "ffmpeg"}
	}
	return framecache.New(a.cfg.WallpaperDir(), ff, a.cfg.FrameTimeout, a.log)
}

// supervisor returns the daemon supervisor backed by the runtime registry.
// b may be nil.
func (a *app) supervisor(b notify.Broadcaster) (*daemon.Supervisor, error) {
	exe, prefix, err := a.daemonCommand()
	if err != nil {
		return nil, err
	}
	opts := daemon.Options{
		Executable:   exe,
		Prefix:       prefix,
		LogDir:       a.cfg.DaemonLogDir(),
		RegistryPath: filepath.Join(a.runtimeDir, "daemons.yaml"),
		Settings:     a.settings,
	}
	if b != nil {
		opts.Broadcaster = b
	}
	sup, err := daemon.New(opts, a.log)
	if err != nil {
		return nil, err
	}
	sup.Prune()
	return sup, nil
}

// daemonCommand resolves the per-display helper. By default it is this
// binary's own daemon subcommand.
func (a *app) daemonCommand() (string, []string, error) {
	if a.cfg.DaemonExecutable != "" {
		return a.cfg.DaemonExecutable, nil, nil
	}
	self, err := os.Executable()
	if err != nil {
		return "", nil, fmt.Errorf("locate executable: %w", err)
	}
	return self, []string{"daemon"}, nil
}

// stopAll broadcasts Terminate to in-process runners and daemons and
// signals every tracked daemon.
func (a *app) stopAll() error {
	center := a.openNotify()
	if center != nil {
		defer center.Close()
	}
	sup, err := a.supervisor(center)
	if err != nil {
		return err
	}
	return sup.TerminateAll()
}
