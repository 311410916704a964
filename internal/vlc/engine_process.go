//go:build !libvlc

// Subprocess backend: each source runs cvlc with the rc interface on stdin
// and the video output embedded into the surface window. cvlc exits at the
// end of the clip (--play-and-exit). A clean exit is reported as end of
// media and the next Play starts a fresh process from the beginning; a
// non-zero exit is reported as an error.
package vlc

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"vidpaper/internal/media"
	"vidpaper/internal/playback"

	"go.uber.org/zap"
)

// rcFullVolume is the rc interface's volume value for 100%.
const rcFullVolume = 256

// startupGrace is how long the first process must survive before Play
// reports success.
const startupGrace = 500 * time.Millisecond

func (rt *Runtime) init() error {
	path, err := findVLC()
	if err != nil {
		return err
	}
	rt.vlcPath = path
	rt.log.Info("using VLC subprocess", zap.String("path", path))
	return nil
}

func (rt *Runtime) shutdown() error { return nil }

func (rt *Runtime) newSource() (playback.Source, error) {
	return newProcessSource(rt.vlcPath, rt.args, rt.log), nil
}

type processSource struct {
	mu       sync.Mutex
	vlcPath  string
	baseArgs []string
	log      *zap.Logger

	path   string
	target playback.Target
	volume float64
	mode   media.ScaleMode

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	paused bool

	// grace is checked on the first start only.
	grace     time.Duration
	confirmed bool
	starting  bool

	subs     map[int]func()
	errSubs  map[int]func(error)
	nextSub  int
	released bool
}

func newProcessSource(vlcPath string, args []string, logger *zap.Logger) *processSource {
	return &processSource{
		vlcPath:  vlcPath,
		baseArgs: args,
		log:      logger,
		mode:     media.DefaultScaleMode,
		grace:    startupGrace,
		subs:     make(map[int]func()),
		errSubs:  make(map[int]func(error)),
	}
}

func (s *processSource) Load(path string) error {
	st, err := os.Stat(path)
	if err != nil {
		return err
	}
	if st.IsDir() {
		return fmt.Errorf("%s is a directory", path)
	}
	s.mu.Lock()
	s.path = path
	s.mu.Unlock()
	return nil
}

func (s *processSource) Bind(target playback.Target) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.target = target
	return nil
}

func (s *processSource) buildArgs() []string {
	args := append([]string{}, s.baseArgs...)
	args = append(args,
		"--intf", "rc",
		"--rc-fake-tty",
		"--play-and-exit",
		"--no-loop",
		"--no-repeat",
	)
	if s.target != nil {
		args = append(args, "--drawable-xid", strconv.FormatUint(uint64(s.target.Handle()), 10))
	}
	if aspect := aspectFor(s.mode, s.target); aspect != "" {
		args = append(args, "--aspect-ratio", aspect)
	}
	if crop := cropFor(s.mode, s.target); crop != "" {
		args = append(args, "--crop", crop)
	}
	return append(args, s.path)
}

// Play resumes a paused process or starts a new one. The first process
// must survive startup; if it exits with an error first, Play returns
// playback.ErrLoad.
func (s *processSource) Play() error {
	s.mu.Lock()

	if s.released {
		s.mu.Unlock()
		return fmt.Errorf("source released")
	}
	if s.cmd != nil {
		defer s.mu.Unlock()
		if s.paused {
			s.paused = false
			return s.send("play")
		}
		return nil
	}
	if s.path == "" {
		s.mu.Unlock()
		return fmt.Errorf("no media loaded")
	}

	cmd := exec.Command(s.vlcPath, s.buildArgs()...)
	cmd.Stdout = io.Discard
	cmd.Stderr = os.Stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("vlc stdin: %w", err)
	}
	if err := cmd.Start(); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("vlc start failed: %w", err)
	}

	s.cmd = cmd
	s.stdin = stdin
	s.paused = false
	_ = s.send("volume " + strconv.Itoa(int(media.ClampVolume(s.volume)*rcFullVolume+0.5)))

	confirm := !s.confirmed && s.grace > 0
	s.confirmed = true
	s.starting = confirm
	grace := s.grace
	s.log.Debug("vlc started", zap.Int("pid", cmd.Process.Pid), zap.String("video", s.path))

	exited := make(chan error, 1)
	go s.wait(cmd, exited)
	s.mu.Unlock()

	if !confirm {
		return nil
	}

	var exitErr error
	select {
	case exitErr = <-exited:
	case <-time.After(grace):
	}
	s.mu.Lock()
	s.starting = false
	if exitErr == nil {
		select {
		case exitErr = <-exited:
		default:
		}
	}
	s.mu.Unlock()

	if exitErr != nil {
		return fmt.Errorf("%w: %s: vlc exited during startup: %v", playback.ErrLoad, s.path, exitErr)
	}
	return nil
}

// wait reports how cmd ended. A clean exit is end of media, anything else
// an error. While Play is still confirming startup, a failed exit goes to
// Play instead of the error subscribers.
func (s *processSource) wait(cmd *exec.Cmd, exited chan<- error) {
	err := cmd.Wait()

	s.mu.Lock()
	if s.cmd != cmd {
		// Killed by Release.
		s.mu.Unlock()
		return
	}
	s.cmd = nil
	s.stdin = nil
	if s.starting {
		exited <- err
		if err != nil {
			s.mu.Unlock()
			return
		}
	}
	var ends []func()
	var errs []func(error)
	if err == nil {
		for _, fn := range s.subs {
			ends = append(ends, fn)
		}
	} else {
		for _, fn := range s.errSubs {
			errs = append(errs, fn)
		}
	}
	s.mu.Unlock()

	if err != nil {
		s.log.Warn("vlc exited with an error", zap.String("video", s.path), zap.Error(err))
		failure := fmt.Errorf("%w: %s: vlc exited: %v", playback.ErrLoad, s.path, err)
		for _, fn := range errs {
			go fn(failure)
		}
		return
	}
	for _, fn := range ends {
		go fn()
	}
}

func (s *processSource) send(command string) error {
	if s.stdin == nil {
		return nil
	}
	if _, err := io.WriteString(s.stdin, command+"\n"); err != nil {
		return fmt.Errorf("rc %q: %w", command, err)
	}
	return nil
}

func (s *processSource) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd == nil || s.paused {
		return nil
	}
	s.paused = true
	return s.send("pause")
}

// SeekStart rewinds a running process. Without one the next Play starts
// from the beginning anyway.
func (s *processSource) SeekStart() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.send("seek 0")
}

func (s *processSource) SetVolume(v float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.volume = media.ClampVolume(v)
	return s.send("volume " + strconv.Itoa(int(s.volume*rcFullVolume+0.5)))
}

// SetScaleMode takes effect on the next process start.
func (s *processSource) SetScaleMode(mode media.ScaleMode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mode = mode
	return nil
}

func (s *processSource) OnEndOfMedia(fn func()) (func(), error) {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}, nil
}

func (s *processSource) OnError(fn func(error)) (func(), error) {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.errSubs[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.errSubs, id)
		s.mu.Unlock()
	}, nil
}

func (s *processSource) Release() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.released = true
	s.kill()
	return nil
}

func (s *processSource) kill() {
	if s.cmd != nil && s.cmd.Process != nil {
		s.cmd.Process.Kill()
	}
	s.cmd = nil
	s.stdin = nil
}
