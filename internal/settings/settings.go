// Package settings persists the user-facing wallpaper settings shared by the
// controlling process and every daemon: volume and scale mode.
package settings

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"vidpaper/internal/media"
	"vidpaper/internal/system"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Keys in the settings file.
const (
	KeyVolume    = "wallpapervolume"
	KeyScaleMode = "scale_mode"
)

// DefaultVolume is used when no volume has been stored.
const DefaultVolume = 0.0

// Store is a key/value settings file. Daemons re-read it when told the
// volume changed, so every write goes straight to disk. Writes replace the
// file atomically; a reader never sees it half written.
type Store struct {
	mu   sync.Mutex
	path string
	v    *viper.Viper
}

// Open loads the settings at path. A missing file yields the defaults and is
// created on the first write.
func Open(path string) (*Store, error) {
	s := &Store{path: path, v: newViper(path)}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

func newViper(path string) *viper.Viper {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetDefault(KeyVolume, DefaultVolume)
	v.SetDefault(KeyScaleMode, string(media.DefaultScaleMode))
	return v
}

// Path returns the settings file location.
func (s *Store) Path() string { return s.path }

// Reload re-reads the file, picking up writes from other processes.
func (s *Store) Reload() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := newViper(s.path)
	if err := v.ReadInConfig(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("read settings %s: %w", s.path, err)
	}
	s.v = v
	return nil
}

// Volume returns the stored volume clamped to [0,1].
func (s *Store) Volume() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return media.ClampVolume(s.v.GetFloat64(KeyVolume))
}

// SetVolume stores v (clamped) and writes the file.
func (s *Store) SetVolume(v float64) error {
	return s.set(KeyVolume, media.ClampVolume(v))
}

// ScaleMode returns the stored scale mode.
func (s *Store) ScaleMode() media.ScaleMode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return media.ParseScaleMode(s.v.GetString(KeyScaleMode))
}

// SetScaleMode stores m and writes the file.
func (s *Store) SetScaleMode(m media.ScaleMode) error {
	return s.set(KeyScaleMode, string(m))
}

func (s *Store) set(key string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := system.EnsureDir(filepath.Dir(s.path)); err != nil {
		return fmt.Errorf("settings dir: %w", err)
	}
	s.v.Set(key, value)
	if err := s.writeLocked(); err != nil {
		return fmt.Errorf("write settings %s: %w", s.path, err)
	}
	return nil
}

// writeLocked writes the settings to a temporary file next to the target
// and renames it into place.
func (s *Store) writeLocked() error {
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".settings-*.yaml")
	if err != nil {
		return err
	}
	name := tmp.Name()
	if err := tmp.Close(); err != nil {
		os.Remove(name)
		return err
	}
	if err := os.Chmod(name, 0644); err != nil {
		os.Remove(name)
		return err
	}
	if err := s.v.WriteConfigAs(name); err != nil {
		os.Remove(name)
		return err
	}
	if err := os.Rename(name, s.path); err != nil {
		os.Remove(name)
		return err
	}
	return nil
}

// Watch calls onChange after the file is written by any process. It stops
// when done is closed.
func (s *Store) Watch(done <-chan struct{}, onChange func()) error {
	dir := filepath.Dir(s.path)
	if err := system.EnsureDir(dir); err != nil {
		return err
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return err
	}

	go func() {
		defer fw.Close()
		for {
			select {
			case <-done:
				return
			case ev, ok := <-fw.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != filepath.Clean(s.path) {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if err := s.Reload(); err == nil && onChange != nil {
					onChange()
				}
			case _, ok := <-fw.Errors:
				if !ok {
					return
				}
			}
		}
	}()
	return nil
}
