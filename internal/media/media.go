// Package media provides media type detection and the scale modes a video
// wallpaper can be rendered with.
package media

import (
	"path/filepath"
	"strings"
)

// Type represents the kind of media file.
type Type int

const (
	Unknown Type = iota
	Video
	Image
)

func (t Type) String() string {
	switch t {
	case Video:
		return "video"
	case Image:
		return "image"
	default:
		return "unknown"
	}
}

// Video file extensions.
var videoExts = map[string]bool{
	".mp4":  true,
	".mkv":  true,
	".avi":  true,
	".mov":  true,
	".webm": true,
	".m4v":  true,
	".hevc": true,
	".flv":  true,
	".wmv":  true,
}

// Still image extensions usable as a placeholder frame.
var imageExts = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".bmp":  true,
	".gif":  true,
	".webp": true,
}

// Detect returns the media type for a given file path based on extension.
func Detect(path string) Type {
	ext := strings.ToLower(filepath.Ext(path))
	if videoExts[ext] {
		return Video
	}
	if imageExts[ext] {
		return Image
	}
	return Unknown
}

// Stem returns the file name without directory and extension. It is the key
// under which derived artifacts such as cached frames are stored.
func Stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// ScaleMode controls how a video is fitted into its frame.
type ScaleMode string

const (
	// Fill covers the frame preserving aspect ratio; overflow is clipped.
	Fill ScaleMode = "fill"
	// Fit contains the video preserving aspect ratio; the rest is letterboxed.
	Fit ScaleMode = "fit"
	// Stretch scales each axis independently to the frame.
	Stretch ScaleMode = "stretch"
)

// DefaultScaleMode is used when the settings store has no value.
const DefaultScaleMode = Fill

// ParseScaleMode maps a user-supplied string to a ScaleMode. Anything that is
// not a recognized mode becomes Stretch.
func ParseScaleMode(s string) ScaleMode {
	switch ScaleMode(strings.ToLower(strings.TrimSpace(s))) {
	case Fill:
		return Fill
	case Fit:
		return Fit
	default:
		return Stretch
	}
}

func (m ScaleMode) String() string { return string(m) }

// ClampVolume bounds v to the [0,1] range accepted by every player.
func ClampVolume(v float64) float64 {
	if v != v || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
