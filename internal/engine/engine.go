// Package engine coordinates a wallpaper session: it decides between
// spanning and per-display rendering, warms the still-frame cache and hands
// each display to a deployment (in-process surfaces or helper daemons).
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"vidpaper/internal/media"
	"vidpaper/internal/topology"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

var (
	// ErrArityMismatch means video paths and display ids differ in count.
	ErrArityMismatch = errors.New("engine: number of videos and displays differ")
	// ErrNoDisplays means not a single display could be started.
	ErrNoDisplays = errors.New("engine: no display started")
)

// Options override the persisted settings for one start.
type Options struct {
	Volume    *float64
	ScaleMode string
}

// Assignment is what one display renders.
type Assignment struct {
	Display    topology.Display
	VideoPath  string
	StaticPath string
	// Crop is set in spanning mode only.
	Crop      *topology.CropRect
	Volume    float64
	ScaleMode media.ScaleMode
}

// Result reports a start.
type Result struct {
	Spanning bool
	Started  []Assignment
	// Failed maps display ids to the reason they were skipped.
	Failed map[int]error
}

// Deployment realizes assignments.
type Deployment interface {
	Launch(ctx context.Context, a Assignment) error
	TeardownAll() error
	UpdateVolume(v float64) error
}

// Displays is the display enumeration the engine lays out against.
type Displays interface {
	Displays() ([]topology.Display, error)
	Primary() (topology.Display, error)
}

// FrameCache returns a placeholder still for a video.
type FrameCache interface {
	GetOrGenerate(ctx context.Context, videoPath string) (string, error)
}

// Settings supplies defaults for volume and scale mode.
type Settings interface {
	Volume() float64
	ScaleMode() media.ScaleMode
}

// Orchestrator owns the current session. Start, Stop and UpdateVolume are
// serialized; a new Start fully replaces the previous session.
type Orchestrator struct {
	mu       sync.Mutex
	deploy   Deployment
	displays Displays
	cache    FrameCache
	settings Settings
	session  []Assignment
	log      *zap.Logger
}

// New wires an orchestrator. cache and settings may be nil.
func New(deploy Deployment, displays Displays, cache FrameCache, settings Settings, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		deploy:   deploy,
		displays: displays,
		cache:    cache,
		settings: settings,
		log:      logger.Named("engine"),
	}
}

// Start renders videoPaths[i] on displayIDs[i]. When every path is the
// same and there is more than one display, one video spans all of them.
// Failures on individual displays are logged and skipped; Start succeeds
// if at least one display was started.
func (o *Orchestrator) Start(ctx context.Context, videoPaths []string, displayIDs []int, opts Options) (Result, error) {
	if len(videoPaths) != len(displayIDs) {
		return Result{}, fmt.Errorf("%w: %d videos, %d displays", ErrArityMismatch, len(videoPaths), len(displayIDs))
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if err := o.teardownLocked(); err != nil {
		o.log.Warn("previous session teardown incomplete", zap.Error(err))
	}

	volume, mode := o.resolve(opts)
	statics := o.warm(ctx, videoPaths)

	all, err := o.displays.Displays()
	if err != nil {
		return Result{}, fmt.Errorf("enumerate displays: %w", err)
	}

	res := Result{
		Spanning: topology.IsSpanning(videoPaths),
		Failed:   make(map[int]error),
	}

	var plan []Assignment
	if res.Spanning {
		plan = o.planSpanning(all, videoPaths[0], displayIDs, res.Failed)
	} else {
		plan = o.planIndividual(all, videoPaths, displayIDs)
	}

	for _, a := range plan {
		a.StaticPath = statics[a.VideoPath]
		a.Volume = volume
		a.ScaleMode = mode

		if err := o.deploy.Launch(ctx, a); err != nil {
			o.log.Warn("display skipped",
				zap.Int("display", a.Display.ID),
				zap.String("video", a.VideoPath),
				zap.Error(err))
			res.Failed[a.Display.ID] = err
			continue
		}
		res.Started = append(res.Started, a)
	}

	o.session = res.Started
	if len(res.Started) == 0 {
		var cause error
		for _, e := range res.Failed {
			cause = multierr.Append(cause, e)
		}
		if cause != nil {
			return res, fmt.Errorf("%w: %v", ErrNoDisplays, cause)
		}
		return res, ErrNoDisplays
	}

	o.log.Info("session started",
		zap.Bool("spanning", res.Spanning),
		zap.Int("started", len(res.Started)),
		zap.Int("failed", len(res.Failed)),
		zap.Float64("volume", volume),
		zap.String("scale", string(mode)))
	return res, nil
}

func (o *Orchestrator) resolve(opts Options) (float64, media.ScaleMode) {
	volume := 0.0
	mode := media.DefaultScaleMode
	if o.settings != nil {
		volume = o.settings.Volume()
		mode = o.settings.ScaleMode()
	}
	if opts.Volume != nil {
		volume = *opts.Volume
	}
	if opts.ScaleMode != "" {
		mode = media.ParseScaleMode(opts.ScaleMode)
	}
	return media.ClampVolume(volume), mode
}

// warm generates the placeholder for each distinct video. A failure only
// costs the placeholder.
func (o *Orchestrator) warm(ctx context.Context, videoPaths []string) map[string]string {
	out := make(map[string]string)
	if o.cache == nil {
		return out
	}
	for _, p := range videoPaths {
		if _, done := out[p]; done {
			continue
		}
		if t := media.Detect(p); t != media.Video {
			o.log.Warn("unrecognized video extension, trying anyway", zap.String("video", p), zap.Stringer("type", t))
		}
		static, err := o.cache.GetOrGenerate(ctx, p)
		if err != nil {
			o.log.Warn("no placeholder frame", zap.String("video", p), zap.Error(err))
			out[p] = ""
			continue
		}
		out[p] = static
	}
	return out
}

// planSpanning crops one video across the chosen displays. Ids outside the
// enumeration are skipped.
func (o *Orchestrator) planSpanning(all []topology.Display, video string, ids []int, failed map[int]error) []Assignment {
	var chosen []topology.Display
	for _, id := range ids {
		if id < 0 || id >= len(all) {
			o.log.Warn("display out of range, skipped", zap.Int("display", id), zap.Int("available", len(all)))
			failed[id] = fmt.Errorf("display %d out of range", id)
			continue
		}
		chosen = append(chosen, all[id])
	}

	canvas, err := topology.ComputeCanvas(chosen)
	if err != nil {
		return nil
	}

	plan := make([]Assignment, 0, len(chosen))
	for _, d := range chosen {
		crop := topology.ComputeCropRect(d, canvas)
		plan = append(plan, Assignment{Display: d, VideoPath: video, Crop: &crop})
	}
	return plan
}

// planIndividual gives each display its own full video. Ids outside the
// enumeration fall back to the primary display.
func (o *Orchestrator) planIndividual(all []topology.Display, videos []string, ids []int) []Assignment {
	plan := make([]Assignment, 0, len(ids))
	for i, id := range ids {
		var d topology.Display
		if id >= 0 && id < len(all) {
			d = all[id]
		} else {
			p, err := o.displays.Primary()
			if err != nil {
				o.log.Warn("display out of range and no primary", zap.Int("display", id), zap.Error(err))
				continue
			}
			o.log.Warn("display out of range, using primary", zap.Int("display", id), zap.Int("primary", p.ID))
			d = p
		}
		plan = append(plan, Assignment{Display: d, VideoPath: videos[i]})
	}
	return plan
}

// Stop tears down the current session.
func (o *Orchestrator) Stop() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.teardownLocked()
}

func (o *Orchestrator) teardownLocked() error {
	err := o.deploy.TeardownAll()
	if len(o.session) > 0 {
		o.log.Info("session stopped", zap.Int("displays", len(o.session)))
	}
	o.session = nil
	return err
}

// UpdateVolume changes the volume of the running session and persists it.
func (o *Orchestrator) UpdateVolume(v float64) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.deploy.UpdateVolume(media.ClampVolume(v))
}

// Session returns the assignments of the running session.
func (o *Orchestrator) Session() []Assignment {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]Assignment(nil), o.session...)
}
