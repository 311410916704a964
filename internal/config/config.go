// Package config loads vidpaper's application configuration from
// ~/.config/vidpaper/config.yaml and VIDPAPER_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"vidpaper/internal/notify"

	"github.com/spf13/viper"
)

// Deployment modes.
const (
	ModeInProcess = "inprocess"
	ModeDaemon    = "daemon"
)

// AppName names the config, cache and runtime directories.
const AppName = "vidpaper"

// Config holds all application configuration.
type Config struct {
	// Mode selects in-process surfaces or one helper daemon per display.
	Mode string `mapstructure:"mode"`

	// CacheDir is the root under which wallpapers/ and wallpapers/logs/ live.
	CacheDir string `mapstructure:"cache_dir"`

	// Logging
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`
	LogFile   string `mapstructure:"log_file"`

	// DaemonExecutable is launched once per display in daemon mode. Empty
	// means this binary's own "daemon" subcommand.
	DaemonExecutable string `mapstructure:"daemon_executable"`

	FrameTimeout    time.Duration `mapstructure:"frame_timeout"`
	NotifyTransport string        `mapstructure:"notify_transport"`
	VLCArgs         []string      `mapstructure:"vlc_args"`

	// SettingsFile holds the persisted user settings (volume, scale mode).
	SettingsFile string `mapstructure:"settings_file"`
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Mode:            ModeInProcess,
		CacheDir:        defaultCacheDir(),
		LogLevel:        "info",
		LogFormat:       "console",
		FrameTimeout:    20 * time.Second,
		NotifyTransport: notify.TransportAuto,
		SettingsFile:    filepath.Join(ConfigDir(), "settings.yaml"),
	}
}

// Load reads configuration from path (or the default location when empty)
// and the environment. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(ConfigDir())
	}

	v.SetEnvPrefix("VIDPAPER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range []string{
		"mode", "cache_dir", "log_level", "log_format", "log_file",
		"daemon_executable", "frame_timeout", "notify_transport", "vlc_args", "settings_file",
	} {
		_ = v.BindEnv(key)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !(path != "" && errors.Is(err, os.ErrNotExist)) {
			return nil, fmt.Errorf("error reading config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values that would fail later in confusing ways.
func (c *Config) Validate() error {
	switch c.Mode {
	case ModeInProcess, ModeDaemon:
	default:
		return fmt.Errorf("invalid mode %q (want %s or %s)", c.Mode, ModeInProcess, ModeDaemon)
	}
	switch c.NotifyTransport {
	case notify.TransportAuto, notify.TransportDBus, notify.TransportDir:
	default:
		return fmt.Errorf("invalid notify_transport %q", c.NotifyTransport)
	}
	if c.CacheDir == "" {
		return fmt.Errorf("cache_dir must not be empty")
	}
	if c.FrameTimeout < 0 {
		return fmt.Errorf("frame_timeout must not be negative")
	}
	return nil
}

// WallpaperDir is where cached still frames are stored.
func (c *Config) WallpaperDir() string {
	return filepath.Join(c.CacheDir, "wallpapers")
}

// DaemonLogDir is where each daemon's combined output is written.
func (c *Config) DaemonLogDir() string {
	return filepath.Join(c.WallpaperDir(), "logs")
}

// ConfigDir returns ~/.config/vidpaper, honoring XDG_CONFIG_HOME.
func ConfigDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, AppName)
	}
	return filepath.Join(".", "."+AppName)
}

func defaultCacheDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, AppName)
	}
	return filepath.Join(os.TempDir(), AppName)
}
