package engine

import (
	"context"
	"fmt"
	"os"
	"sync"

	"vidpaper/internal/daemon"
	"vidpaper/internal/surface"

	"go.uber.org/zap"
)

// VolumeStore persists the volume for the next session.
type VolumeStore interface {
	SetVolume(v float64) error
}

// InProcess renders every display from this process.
type InProcess struct {
	surfaces *surface.Manager
	store    VolumeStore
}

// NewInProcess returns a deployment creating surfaces through m. store may
// be nil.
func NewInProcess(m *surface.Manager, store VolumeStore) *InProcess {
	return &InProcess{surfaces: m, store: store}
}

func (d *InProcess) Launch(ctx context.Context, a Assignment) error {
	_, err := d.surfaces.Create(surface.Request{
		Display:         a.Display,
		VideoPath:       a.VideoPath,
		PlaceholderPath: a.StaticPath,
		Volume:          a.Volume,
		ScaleMode:       a.ScaleMode,
		Crop:            a.Crop,
	})
	return err
}

func (d *InProcess) TeardownAll() error {
	return d.surfaces.DestroyAll()
}

func (d *InProcess) UpdateVolume(v float64) error {
	if d.store != nil {
		if err := d.store.SetVolume(v); err != nil {
			return fmt.Errorf("persist volume: %w", err)
		}
	}
	return d.surfaces.SetVolume(v)
}

// Daemons renders each display in its own helper process. The helper's
// argument contract carries no crop, so spanned displays show the full
// video.
type Daemons struct {
	sup *daemon.Supervisor
	log *zap.Logger

	warnOnce sync.Once
}

// NewDaemons returns a deployment launching through sup.
func NewDaemons(sup *daemon.Supervisor, logger *zap.Logger) *Daemons {
	return &Daemons{sup: sup, log: logger.Named("engine")}
}

// Launch starts the helper for a.Display. A missing video fails here, as
// it would for an in-process surface, instead of inside the helper.
func (d *Daemons) Launch(ctx context.Context, a Assignment) error {
	if st, err := os.Stat(a.VideoPath); err != nil || st.IsDir() {
		return fmt.Errorf("%w: %s", surface.ErrResourceNotFound, a.VideoPath)
	}
	if a.Crop != nil {
		d.warnOnce.Do(func() {
			d.log.Warn("daemon mode cannot crop, spanned displays show the full video")
		})
	}
	_, err := d.sup.Launch(daemon.Request{
		VideoPath:  a.VideoPath,
		StaticPath: a.StaticPath,
		Volume:     a.Volume,
		ScaleMode:  a.ScaleMode,
		DisplayID:  a.Display.ID,
	})
	return err
}

func (d *Daemons) TeardownAll() error {
	return d.sup.TerminateAll()
}

func (d *Daemons) UpdateVolume(v float64) error {
	return d.sup.UpdateVolume(v)
}
