// Package daemon spawns, tracks and terminates one detached wallpaper
// process per display.
package daemon

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"vidpaper/internal/media"
	"vidpaper/internal/notify"
	"vidpaper/internal/system"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

var (
	// ErrSpawn means the daemon executable is missing or could not start.
	ErrSpawn = errors.New("daemon: spawn failed")
	// ErrProcessNotFound means the process had already exited.
	ErrProcessNotFound = errors.New("daemon: process not found")
)

// ArgCount is the number of positional arguments every daemon receives.
const ArgCount = 5

// startTolerance bounds the difference between a record's StartedAt and
// the OS start time of its pid.
const startTolerance = 3 * time.Second

// Request is what one daemon needs to render one display.
type Request struct {
	VideoPath  string
	StaticPath string
	Volume     float64
	ScaleMode  media.ScaleMode
	DisplayID  int
}

// Args returns the positional arguments in their fixed order: video,
// static frame, volume, scale mode, display id.
func (r Request) Args() []string {
	return []string{
		r.VideoPath,
		r.StaticPath,
		strconv.FormatFloat(media.ClampVolume(r.Volume), 'f', -1, 64),
		string(media.ParseScaleMode(string(r.ScaleMode))),
		strconv.Itoa(r.DisplayID),
	}
}

// ParseArgs is the inverse of Args, used by the daemon entry point. Volume
// is clamped and an unknown scale mode becomes stretch.
func ParseArgs(args []string) (Request, error) {
	if len(args) < ArgCount {
		return Request{}, fmt.Errorf("expected %d arguments, got %d", ArgCount, len(args))
	}
	vol, err := strconv.ParseFloat(args[2], 64)
	if err != nil {
		return Request{}, fmt.Errorf("volume %q: %w", args[2], err)
	}
	id, err := strconv.Atoi(args[4])
	if err != nil {
		return Request{}, fmt.Errorf("display id %q: %w", args[4], err)
	}
	return Request{
		VideoPath:  args[0],
		StaticPath: args[1],
		Volume:     media.ClampVolume(vol),
		ScaleMode:  media.ParseScaleMode(args[3]),
		DisplayID:  id,
	}, nil
}

// VolumeStore persists the volume daemons re-read on VolumeChanged.
type VolumeStore interface {
	SetVolume(v float64) error
}

// Options configure a Supervisor.
type Options struct {
	// Executable is started once per display.
	Executable string
	// Prefix arguments precede the positional ones, e.g. a subcommand.
	Prefix []string
	// LogDir receives daemon_<id>.log per display.
	LogDir string
	// RegistryPath persists tracked daemons across invocations; empty keeps
	// them in memory only.
	RegistryPath string

	Broadcaster notify.Broadcaster
	Settings    VolumeStore

	// Terminate asks pid to exit. It returns ErrProcessNotFound for a pid
	// that is already gone. Defaults to SIGTERM.
	Terminate func(pid int) error
	// StartTime reports when pid started. Defaults to the OS process table.
	StartTime func(pid int) (time.Time, error)
}

// Supervisor tracks running daemons.
type Supervisor struct {
	mu      sync.Mutex
	opts    Options
	records map[int]Record
	reg     *registry
	log     *zap.Logger
}

// New creates a supervisor, loading any persisted records.
func New(opts Options, logger *zap.Logger) (*Supervisor, error) {
	if opts.Terminate == nil {
		opts.Terminate = terminateProcess
	}
	if opts.StartTime == nil {
		opts.StartTime = system.ProcessStartTime
	}
	s := &Supervisor{
		opts:    opts,
		records: make(map[int]Record),
		log:     logger.Named("daemon"),
	}

	if opts.RegistryPath != "" {
		s.reg = &registry{path: opts.RegistryPath}
		recs, err := s.reg.load()
		if err != nil {
			return nil, err
		}
		for _, r := range recs {
			s.records[r.PID] = r
		}
	}
	return s, nil
}

// LogPath returns where the daemon for displayID writes its output.
func (s *Supervisor) LogPath(displayID int) string {
	return filepath.Join(s.opts.LogDir, fmt.Sprintf("daemon_%d.log", displayID))
}

// Launch starts a detached daemon for req and returns its pid. Nothing is
// retried on failure.
func (s *Supervisor) Launch(req Request) (int, error) {
	exe, err := exec.LookPath(s.opts.Executable)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrSpawn, s.opts.Executable, err)
	}

	if err := system.EnsureDir(s.opts.LogDir); err != nil {
		return 0, fmt.Errorf("%w: log dir: %v", ErrSpawn, err)
	}
	logPath := s.LogPath(req.DisplayID)
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return 0, fmt.Errorf("%w: log file: %v", ErrSpawn, err)
	}
	defer logFile.Close()

	args := append(append([]string{}, s.opts.Prefix...), req.Args()...)
	cmd := exec.Command(exe, args...)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	detach(cmd)

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrSpawn, err)
	}
	pid := cmd.Process.Pid

	rec := Record{
		PID:       pid,
		DisplayID: req.DisplayID,
		VideoPath: req.VideoPath,
		LogPath:   logPath,
		StartedAt: time.Now(),
	}
	s.mu.Lock()
	s.records[pid] = rec
	s.saveLocked()
	s.mu.Unlock()

	go s.reap(cmd, pid)

	s.log.Info("daemon launched",
		zap.Int("pid", pid),
		zap.Int("display", req.DisplayID),
		zap.String("video", req.VideoPath),
		zap.String("log", logPath))
	return pid, nil
}

// reap waits for a child started by this process and forgets it on exit.
func (s *Supervisor) reap(cmd *exec.Cmd, pid int) {
	err := cmd.Wait()

	s.mu.Lock()
	_, tracked := s.records[pid]
	if tracked {
		delete(s.records, pid)
		s.saveLocked()
	}
	s.mu.Unlock()

	if tracked {
		s.log.Info("daemon exited", zap.Int("pid", pid), zap.Error(err))
	}
}

// verify returns ErrProcessNotFound unless r.PID is still the process that
// was launched. A pid that now belongs to another process was reused after
// the daemon exited.
func (s *Supervisor) verify(r Record) error {
	started, err := s.opts.StartTime(r.PID)
	if err != nil {
		return fmt.Errorf("%w: pid %d: %v", ErrProcessNotFound, r.PID, err)
	}
	if r.StartedAt.IsZero() {
		return fmt.Errorf("%w: pid %d has no recorded start time", ErrProcessNotFound, r.PID)
	}
	diff := started.Sub(r.StartedAt)
	if diff < 0 {
		diff = -diff
	}
	if diff > startTolerance {
		return fmt.Errorf("%w: pid %d started at %s, daemon at %s", ErrProcessNotFound,
			r.PID, started.Format(time.RFC3339), r.StartedAt.Format(time.RFC3339))
	}
	return nil
}

// TerminateAll broadcasts Terminate, signals every tracked pid and clears
// the registry. A pid that is already gone, or reused by another process,
// counts as terminated and is not signalled. The registry is cleared even
// when signalling fails; only unexpected signal errors are returned.
func (s *Supervisor) TerminateAll() error {
	if s.opts.Broadcaster != nil {
		if err := s.opts.Broadcaster.Post(notify.Terminate); err != nil {
			s.log.Warn("terminate broadcast failed", zap.Error(err))
		}
	}

	recs := s.Records()

	var err error
	for _, r := range recs {
		if e := s.verify(r); e != nil {
			s.log.Debug("daemon already gone", zap.Int("pid", r.PID), zap.Error(e))
			continue
		}
		if e := s.opts.Terminate(r.PID); e != nil {
			if errors.Is(e, ErrProcessNotFound) {
				s.log.Debug("daemon already gone", zap.Int("pid", r.PID))
				continue
			}
			err = multierr.Append(err, fmt.Errorf("terminate pid %d: %w", r.PID, e))
			continue
		}
		s.log.Info("daemon terminated", zap.Int("pid", r.PID), zap.Int("display", r.DisplayID))
	}

	s.mu.Lock()
	s.records = make(map[int]Record)
	s.saveLocked()
	s.mu.Unlock()

	return err
}

// UpdateVolume persists v and then broadcasts VolumeChanged. Daemons pick
// the value up from the settings store, so nothing is sent if persisting
// fails. The broadcast itself is best effort.
func (s *Supervisor) UpdateVolume(v float64) error {
	v = media.ClampVolume(v)
	if s.opts.Settings != nil {
		if err := s.opts.Settings.SetVolume(v); err != nil {
			return fmt.Errorf("persist volume: %w", err)
		}
	}
	if s.opts.Broadcaster != nil {
		if err := s.opts.Broadcaster.Post(notify.VolumeChanged); err != nil {
			s.log.Warn("volume broadcast failed", zap.Error(err))
		}
	}
	s.log.Info("volume updated", zap.Float64("volume", v))
	return nil
}

// Records returns tracked daemons ordered by display id.
func (s *Supervisor) Records() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DisplayID != out[j].DisplayID {
			return out[i].DisplayID < out[j].DisplayID
		}
		return out[i].PID < out[j].PID
	})
	return out
}

// Prune forgets records whose process no longer exists or whose pid was
// reused, which happens when a daemon started by an earlier invocation
// exits on its own.
func (s *Supervisor) Prune() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for pid, r := range s.records {
		if err := s.verify(r); err != nil {
			s.log.Debug("forgetting daemon", zap.Int("pid", pid), zap.Error(err))
			delete(s.records, pid)
			n++
		}
	}
	if n > 0 {
		s.saveLocked()
		s.log.Info("pruned exited daemons", zap.Int("count", n))
	}
	return n
}

func (s *Supervisor) saveLocked() {
	if s.reg == nil {
		return
	}
	recs := make([]Record, 0, len(s.records))
	for _, r := range s.records {
		recs = append(recs, r)
	}
	if err := s.reg.save(recs); err != nil {
		s.log.Warn("registry not saved", zap.String("path", s.reg.path), zap.Error(err))
	}
}
