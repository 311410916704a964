package framecache

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"os/exec"
	"strconv"
	"time"
)

// FFmpeg extracts metadata and frames by running ffprobe and ffmpeg.
type FFmpeg struct {
	FFprobePath string
	FFmpegPath  string
}

// NewFFmpeg locates ffprobe and ffmpeg on PATH.
func NewFFmpeg() (*FFmpeg, error) {
	probe, err := exec.LookPath("ffprobe")
	if err != nil {
		return nil, fmt.Errorf("ffprobe not found: %w", err)
	}
	mpeg, err := exec.LookPath("ffmpeg")
	if err != nil {
		return nil, fmt.Errorf("ffmpeg not found: %w", err)
	}
	return &FFmpeg{FFprobePath: probe, FFmpegPath: mpeg}, nil
}

type ffprobeOutput struct {
	Streams []struct {
		CodecType string            `json:"codec_type"`
		Width     int               `json:"width"`
		Height    int               `json:"height"`
		Tags      map[string]string `json:"tags"`
		SideData  []struct {
			Rotation float64 `json:"rotation"`
		} `json:"side_data_list"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// Inspect reads duration, size and rotation of the first video stream.
func (f *FFmpeg) Inspect(ctx context.Context, videoPath string) (Asset, error) {
	cmd := exec.CommandContext(ctx, f.FFprobePath,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		"-select_streams", "v:0",
		videoPath,
	)
	out, err := cmd.Output()
	if err != nil {
		return Asset{}, fmt.Errorf("ffprobe failed: %w", err)
	}
	return parseStreams(out)
}

func parseStreams(data []byte) (Asset, error) {
	var p ffprobeOutput
	if err := json.Unmarshal(data, &p); err != nil {
		return Asset{}, fmt.Errorf("parse ffprobe output: %w", err)
	}

	var a Asset
	if p.Format.Duration != "" {
		secs, err := strconv.ParseFloat(p.Format.Duration, 64)
		if err != nil {
			return Asset{}, fmt.Errorf("parse duration %q: %w", p.Format.Duration, err)
		}
		a.Duration = time.Duration(secs * float64(time.Second))
	}

	for _, s := range p.Streams {
		if s.CodecType != "" && s.CodecType != "video" {
			continue
		}
		a.Width = s.Width
		a.Height = s.Height
		if r, ok := s.Tags["rotate"]; ok {
			if deg, err := strconv.Atoi(r); err == nil {
				a.Rotation = deg
			}
		}
		for _, sd := range s.SideData {
			if sd.Rotation != 0 {
				a.Rotation = int(sd.Rotation)
			}
		}
		break
	}
	return a, nil
}

// FrameAt decodes a single frame at the given offset. ffmpeg applies the
// stream rotation itself, so the image comes back in display orientation.
func (f *FFmpeg) FrameAt(ctx context.Context, videoPath string, at time.Duration) (image.Image, error) {
	cmd := exec.CommandContext(ctx, f.FFmpegPath,
		"-v", "error",
		"-ss", strconv.FormatFloat(at.Seconds(), 'f', 3, 64),
		"-i", videoPath,
		"-frames:v", "1",
		"-f", "image2pipe",
		"-vcodec", "png",
		"-",
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg failed: %w: %s", err, bytes.TrimSpace(stderr.Bytes()))
	}
	if len(out) == 0 {
		return nil, nil
	}

	img, err := png.Decode(bytes.NewReader(out))
	if err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	return img, nil
}
