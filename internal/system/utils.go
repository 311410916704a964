// Package system provides OS-level helpers: directories, runtime paths,
// process liveness and the environment health check.
package system

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/process"
)

// HealthStatus is a snapshot of what wallpaper playback depends on.
type HealthStatus struct {
	Display       string            `json:"display"`
	Tools         map[string]string `json:"tools"`
	CacheDir      string            `json:"cache_dir"`
	DiskUsedPct   float64           `json:"disk_used_pct"`
	DiskFreeBytes uint64            `json:"disk_free_bytes"`
	Timestamp     time.Time         `json:"timestamp"`
}

// requiredTools are looked up on PATH by RunHealthCheck.
var requiredTools = []string{"ffmpeg", "ffprobe", "cvlc"}

// RunHealthCheck reports the X display, external tools and free space in
// the cache directory. Missing pieces are reported, not treated as errors.
func RunHealthCheck(cacheDir string) HealthStatus {
	status := HealthStatus{
		Display:   os.Getenv("DISPLAY"),
		Tools:     make(map[string]string, len(requiredTools)),
		CacheDir:  cacheDir,
		Timestamp: time.Now(),
	}

	for _, tool := range requiredTools {
		if p, err := exec.LookPath(tool); err == nil {
			status.Tools[tool] = p
		} else {
			status.Tools[tool] = ""
		}
	}

	dir := cacheDir
	for dir != "" && dir != "/" {
		if _, err := os.Stat(dir); err == nil {
			break
		}
		dir = filepath.Dir(dir)
	}
	if u, err := disk.Usage(dir); err == nil {
		status.DiskUsedPct = u.UsedPercent
		status.DiskFreeBytes = u.Free
	}

	return status
}

// EnsureDir creates a directory and all parents if it does not exist.
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0755)
}

// CleanOldFiles removes files older than maxAge from dir. When exts is not
// empty only files with one of those extensions are considered.
func CleanOldFiles(dir string, maxAge time.Duration, exts ...string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || !hasExt(entry.Name(), exts) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if time.Since(info.ModTime()) > maxAge {
			if err := os.Remove(filepath.Join(dir, entry.Name())); err == nil {
				removed++
			}
		}
	}

	return removed, nil
}

func hasExt(name string, exts []string) bool {
	if len(exts) == 0 {
		return true
	}
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range exts {
		if ext == e {
			return true
		}
	}
	return false
}

// ProcessAlive reports whether a process with the given pid exists.
func ProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	ok, err := process.PidExists(int32(pid))
	return err == nil && ok
}

// ProcessStartTime returns when pid was started, as recorded by the OS.
// The value is only accurate to about a second.
func ProcessStartTime(pid int) (time.Time, error) {
	if pid <= 0 {
		return time.Time{}, fmt.Errorf("invalid pid %d", pid)
	}
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return time.Time{}, err
	}
	ms, err := p.CreateTime()
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms), nil
}

// RuntimeDir returns a per-user directory for sockets and state that should
// not outlive the login session.
func RuntimeDir(app string) (string, error) {
	base := os.Getenv("XDG_RUNTIME_DIR")
	if base == "" {
		candidate := filepath.Join("/run/user", strconv.Itoa(os.Getuid()))
		if st, err := os.Stat(candidate); err == nil && st.IsDir() {
			base = candidate
		}
	}
	if base == "" {
		base = filepath.Join(os.TempDir(), fmt.Sprintf("%s-%d", app, os.Getuid()))
		return base, EnsureDir(base)
	}

	dir := filepath.Join(base, app)
	if err := EnsureDir(dir); err != nil {
		return "", fmt.Errorf("runtime dir %s: %w", dir, err)
	}
	return dir, nil
}
