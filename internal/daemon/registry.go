package daemon

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"vidpaper/internal/system"

	"gopkg.in/yaml.v3"
)

// Record is one tracked daemon.
type Record struct {
	PID       int       `yaml:"pid"`
	DisplayID int       `yaml:"display_id"`
	VideoPath string    `yaml:"video"`
	LogPath   string    `yaml:"log"`
	StartedAt time.Time `yaml:"started_at"`
}

type registryFile struct {
	Daemons []Record `yaml:"daemons"`
}

// registry persists records so a later invocation can stop daemons an
// earlier one started.
type registry struct {
	path string
}

func (r *registry) load() ([]Record, error) {
	data, err := os.ReadFile(r.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read registry: %w", err)
	}

	var f registryFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse registry %s: %w", r.path, err)
	}
	return f.Daemons, nil
}

func (r *registry) save(recs []Record) error {
	sort.Slice(recs, func(i, j int) bool { return recs[i].PID < recs[j].PID })

	data, err := yaml.Marshal(registryFile{Daemons: recs})
	if err != nil {
		return fmt.Errorf("marshal registry: %w", err)
	}
	if err := system.EnsureDir(filepath.Dir(r.path)); err != nil {
		return err
	}

	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, r.path)
}
