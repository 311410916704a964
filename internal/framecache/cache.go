// Package framecache generates and keeps a representative still frame for
// each wallpaper video. The frame is painted while playback is still starting
// so the desktop never flashes empty.
package framecache

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"time"

	"vidpaper/internal/media"
	"vidpaper/internal/system"

	"github.com/nfnt/resize"
	"go.uber.org/zap"
)

var (
	// ErrAssetLoad means the video could not be opened or reports no duration.
	ErrAssetLoad = errors.New("framecache: asset load failed")
	// ErrFrameExtraction means no frame could be produced at the midpoint.
	ErrFrameExtraction = errors.New("framecache: frame extraction failed")
	// ErrEncode means the frame could not be written as PNG.
	ErrEncode = errors.New("framecache: encode failed")
)

// Asset describes an inspected video.
type Asset struct {
	Duration time.Duration
	Width    int
	Height   int
	// Rotation in degrees as stored in the container's display matrix.
	Rotation int
}

// RenderSize returns the natural size with the rotation applied.
func (a Asset) RenderSize() (int, int) {
	r := ((a.Rotation % 360) + 360) % 360
	if r == 90 || r == 270 {
		return a.Height, a.Width
	}
	return a.Width, a.Height
}

// Extractor reads metadata and decodes frames from video files.
type Extractor interface {
	Inspect(ctx context.Context, videoPath string) (Asset, error)
	FrameAt(ctx context.Context, videoPath string, at time.Duration) (image.Image, error)
}

// Cache stores one PNG per video stem inside dir.
type Cache struct {
	dir       string
	extractor Extractor
	timeout   time.Duration
	log       *zap.Logger
}

// New creates a cache rooted at dir. A zero timeout leaves generation bounded
// only by the caller's context.
func New(dir string, extractor Extractor, timeout time.Duration, logger *zap.Logger) *Cache {
	return &Cache{
		dir:       dir,
		extractor: extractor,
		timeout:   timeout,
		log:       logger.Named("framecache"),
	}
}

// Dir returns the cache directory.
func (c *Cache) Dir() string { return c.dir }

// PathFor returns where the frame for videoPath is stored. Videos sharing a
// base name share an entry.
func (c *Cache) PathFor(videoPath string) string {
	return filepath.Join(c.dir, media.Stem(videoPath)+".png")
}

// GetOrGenerate returns the cached frame for videoPath, generating it first
// when no file exists. An existing file is returned as is, without checking
// whether the video changed since.
func (c *Cache) GetOrGenerate(ctx context.Context, videoPath string) (string, error) {
	out := c.PathFor(videoPath)
	if _, err := os.Stat(out); err == nil {
		c.log.Debug("cache hit", zap.String("video", videoPath), zap.String("frame", out))
		return out, nil
	}

	if err := system.EnsureDir(c.dir); err != nil {
		return "", fmt.Errorf("%w: cache dir: %v", ErrEncode, err)
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	start := time.Now()
	if err := c.Generate(ctx, videoPath, out); err != nil {
		return "", err
	}
	c.log.Info("frame generated",
		zap.String("video", videoPath),
		zap.String("frame", out),
		zap.Duration("took", time.Since(start)))
	return out, nil
}

// Generate extracts the midpoint frame of videoPath and writes it to
// outputPath as PNG. Nothing is left at outputPath on failure.
func (c *Cache) Generate(ctx context.Context, videoPath, outputPath string) error {
	asset, err := c.extractor.Inspect(ctx, videoPath)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrAssetLoad, videoPath, err)
	}
	if asset.Duration <= 0 {
		return fmt.Errorf("%w: %s: zero duration", ErrAssetLoad, videoPath)
	}

	frame, err := c.extractor.FrameAt(ctx, videoPath, asset.Duration/2)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrFrameExtraction, videoPath, err)
	}
	if frame == nil {
		return fmt.Errorf("%w: %s: no image", ErrFrameExtraction, videoPath)
	}

	w, h := asset.RenderSize()
	if b := frame.Bounds(); w > 0 && h > 0 && (b.Dx() != w || b.Dy() != h) {
		frame = resize.Resize(uint(w), uint(h), frame, resize.Bilinear)
	}

	if err := writePNG(outputPath, frame); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrEncode, outputPath, err)
	}
	return nil
}

// writePNG encodes into a temp file beside path and renames it into place so
// readers never observe a partial image.
func writePNG(path string, img image.Image) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".frame-*.png")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if err := png.Encode(tmp, img); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

// Prune removes cached frames older than maxAge and returns how many were
// deleted.
func (c *Cache) Prune(maxAge time.Duration) (int, error) {
	n, err := system.CleanOldFiles(c.dir, maxAge, ".png")
	if err != nil {
		return 0, fmt.Errorf("prune %s: %w", c.dir, err)
	}
	c.log.Info("cache pruned", zap.Int("removed", n), zap.Duration("max_age", maxAge))
	return n, nil
}
