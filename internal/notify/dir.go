package notify

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"vidpaper/internal/system"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Dir broadcasts by renaming a file named after the notification into a
// shared directory. Every process watching the directory sees the rename.
// It needs nothing but a filesystem with inotify, which makes it the
// fallback when no session bus is reachable.
type Dir struct {
	dir     string
	hub     *Hub
	watcher *fsnotify.Watcher
	log     *zap.Logger

	closeOnce sync.Once
	stopCh    chan struct{}
}

// NewDir watches dir, creating it if needed.
func NewDir(dir string, logger *zap.Logger) (*Dir, error) {
	if err := system.EnsureDir(dir); err != nil {
		return nil, fmt.Errorf("notify dir %s: %w", dir, err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}

	d := &Dir{
		dir:     dir,
		hub:     NewHub(),
		watcher: fw,
		log:     logger.Named("notify.dir"),
		stopCh:  make(chan struct{}),
	}
	go d.loop()

	d.log.Debug("monitoring", zap.String("dir", dir))
	return d, nil
}

func (d *Dir) loop() {
	for {
		select {
		case <-d.stopCh:
			return

		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			if event.Op&fsnotify.Create == 0 {
				continue
			}
			name := Name(filepath.Base(event.Name))
			if !name.Valid() {
				continue
			}
			d.log.Debug("received", zap.String("name", string(name)))
			d.hub.Publish(name)

		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.log.Warn("watcher error", zap.Error(err))
		}
	}
}

// Post renames a freshly written marker file onto <dir>/<name>, which
// surfaces as a single create event for watchers.
func (d *Dir) Post(name Name) error {
	if !name.Valid() {
		return ErrUnknownName
	}

	tmp, err := os.CreateTemp(d.dir, ".post-*")
	if err != nil {
		return fmt.Errorf("post %s: %w", name, err)
	}
	_, werr := tmp.WriteString(strconv.FormatInt(time.Now().UnixNano(), 10))
	cerr := tmp.Close()
	if werr != nil || cerr != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("post %s: write marker failed", name)
	}

	if err := os.Rename(tmp.Name(), filepath.Join(d.dir, string(name))); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("post %s: %w", name, err)
	}
	return nil
}

// Subscribe registers fn for name.
func (d *Dir) Subscribe(name Name, fn func()) (func(), error) {
	return d.hub.Subscribe(name, fn)
}

// Close stops watching.
func (d *Dir) Close() error {
	var err error
	d.closeOnce.Do(func() {
		close(d.stopCh)
		d.hub.Close()
		logStats(d.log, d.hub.Stats())
		err = d.watcher.Close()
	})
	return err
}
