// Package surface manages one desktop-level wallpaper surface per display:
// creation, the cropped content layer, the placeholder frame, playback
// attachment and teardown.
package surface

import (
	"errors"
	"fmt"
	"image"
	"image/png"
	"os"
	"sort"
	"sync"

	"vidpaper/internal/media"
	"vidpaper/internal/playback"
	"vidpaper/internal/topology"

	"github.com/nfnt/resize"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// ErrResourceNotFound means the requested video does not exist.
var ErrResourceNotFound = errors.New("surface: video not found")

// Windowing is the display server as seen by the manager.
type Windowing interface {
	// Displays enumerates physical displays; the index in the slice is the
	// display id used on the command line.
	Displays() ([]topology.Display, error)
	Primary() (topology.Display, error)
	// CreateSurface makes a borderless, input-transparent window below all
	// others, on every workspace, covering frame.
	CreateSurface(frame topology.Rect) (Surface, error)
}

// Surface is a desktop-level window. It clips its content to its bounds.
type Surface interface {
	// AttachContent creates the content layer at frame, relative to the
	// surface.
	AttachContent(frame topology.Rect) (Content, error)
	Show() error
	Destroy() error
}

// Content is the layer video is rendered into.
type Content interface {
	playback.Target
	Paint(img image.Image) error
	Detach() error
}

// State is the lifecycle position of one wallpaper.
type State int

const (
	Uninitialized State = iota
	Configured
	Playing
	Destroyed
)

func (s State) String() string {
	switch s {
	case Configured:
		return "configured"
	case Playing:
		return "playing"
	case Destroyed:
		return "destroyed"
	default:
		return "uninitialized"
	}
}

// Request describes one wallpaper to create.
type Request struct {
	Display         topology.Display
	VideoPath       string
	PlaceholderPath string
	Volume          float64
	ScaleMode       media.ScaleMode
	// Crop selects the display's portion of a spanned canvas; nil shows
	// the full video.
	Crop *topology.CropRect
}

// Wallpaper is one live surface with its content layer and playback.
type Wallpaper struct {
	mu       sync.Mutex
	req      Request
	frame    topology.Rect
	state    State
	surface  Surface
	content  Content
	playback *playback.Resource
}

// DisplayID returns the display this wallpaper covers.
func (w *Wallpaper) DisplayID() int { return w.req.Display.ID }

// VideoPath returns the video being played.
func (w *Wallpaper) VideoPath() string { return w.req.VideoPath }

// Crop returns the crop rect, nil when the full video is shown.
func (w *Wallpaper) Crop() *topology.CropRect { return w.req.Crop }

// ContentFrame returns the content layer's frame relative to the surface.
func (w *Wallpaper) ContentFrame() topology.Rect { return w.frame }

// State returns the lifecycle state.
func (w *Wallpaper) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Manager owns every wallpaper of the in-process session.
type Manager struct {
	mu     sync.Mutex
	win    Windowing
	player *playback.Supervisor
	active map[int]*Wallpaper
	log    *zap.Logger
}

// NewManager returns a manager creating surfaces through win and playback
// through player.
func NewManager(win Windowing, player *playback.Supervisor, logger *zap.Logger) *Manager {
	return &Manager{
		win:    win,
		player: player,
		active: make(map[int]*Wallpaper),
		log:    logger.Named("surface"),
	}
}

// Create builds, shows and starts playing a wallpaper for req.Display. An
// existing wallpaper on the same display is destroyed first. Anything built
// before a failure is torn down again.
func (m *Manager) Create(req Request) (*Wallpaper, error) {
	if st, err := os.Stat(req.VideoPath); err != nil || st.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrResourceNotFound, req.VideoPath)
	}

	m.mu.Lock()
	old := m.active[req.Display.ID]
	m.mu.Unlock()
	if old != nil {
		if err := m.Destroy(old); err != nil {
			m.log.Warn("replacing wallpaper", zap.Int("display", req.Display.ID), zap.Error(err))
		}
	}

	log := m.log.With(zap.Int("display", req.Display.ID), zap.String("video", req.VideoPath))
	mode := media.ParseScaleMode(string(req.ScaleMode))

	placeholder := loadPlaceholder(req.PlaceholderPath, log)

	frame := topology.ContentFrame(req.Display.Bounds, req.Crop)
	playMode := mode
	if placeholder != nil {
		b := placeholder.Bounds()
		frame = topology.Fit(frame, float64(b.Dx()), float64(b.Dy()), mode)
		// The layer already has the video's proportions for fill and fit.
		playMode = media.Stretch
	}

	w := &Wallpaper{req: req, frame: frame}

	s, err := m.win.CreateSurface(req.Display.Bounds)
	if err != nil {
		return nil, fmt.Errorf("create surface for display %d: %w", req.Display.ID, err)
	}
	w.surface = s

	content, err := s.AttachContent(frame)
	if err != nil {
		m.teardown(w)
		return nil, fmt.Errorf("attach content: %w", err)
	}
	w.content = content

	if placeholder != nil {
		img := resize.Resize(uint(frame.Width), uint(frame.Height), placeholder, resize.Bilinear)
		if err := content.Paint(img); err != nil {
			log.Warn("placeholder paint failed", zap.Error(err))
		}
	}

	w.state = Configured
	if err := s.Show(); err != nil {
		m.teardown(w)
		return nil, fmt.Errorf("show surface: %w", err)
	}

	res, err := m.player.Attach(content, req.VideoPath, req.Volume, playMode)
	if err != nil {
		m.teardown(w)
		return nil, err
	}
	w.playback = res
	w.state = Playing

	m.mu.Lock()
	m.active[req.Display.ID] = w
	m.mu.Unlock()

	log.Info("wallpaper playing",
		zap.Stringer("bounds", req.Display.Bounds),
		zap.Stringer("content", frame),
		zap.Bool("cropped", req.Crop != nil))
	return w, nil
}

func loadPlaceholder(path string, log *zap.Logger) image.Image {
	if path == "" {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		log.Debug("no placeholder", zap.String("path", path), zap.Error(err))
		return nil
	}
	defer f.Close()
	img, err := png.Decode(f)
	if err != nil {
		log.Warn("placeholder unreadable", zap.String("path", path), zap.Error(err))
		return nil
	}
	return img
}

// Destroy pauses playback, removes the content layer and closes the
// surface. It accepts nil and wallpapers that are already destroyed.
func (m *Manager) Destroy(w *Wallpaper) error {
	if w == nil {
		return nil
	}

	m.mu.Lock()
	if m.active[w.DisplayID()] == w {
		delete(m.active, w.DisplayID())
	}
	m.mu.Unlock()

	return m.teardown(w)
}

func (m *Manager) teardown(w *Wallpaper) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state == Destroyed {
		return nil
	}

	var err error
	if w.playback != nil {
		err = multierr.Append(err, w.playback.Release())
		w.playback = nil
	}
	if w.content != nil {
		err = multierr.Append(err, w.content.Detach())
		w.content = nil
	}
	if w.surface != nil {
		err = multierr.Append(err, w.surface.Destroy())
		w.surface = nil
	}
	w.state = Destroyed

	if err != nil {
		m.log.Warn("teardown incomplete", zap.Int("display", w.DisplayID()), zap.Error(err))
	}
	return err
}

// DestroyAll tears down every wallpaper.
func (m *Manager) DestroyAll() error {
	var err error
	for _, w := range m.Wallpapers() {
		err = multierr.Append(err, m.Destroy(w))
	}
	return err
}

// SetVolume applies v to every playing wallpaper.
func (m *Manager) SetVolume(v float64) error {
	return m.player.SetVolume(v)
}

// Wallpapers returns the live wallpapers ordered by display id.
func (m *Manager) Wallpapers() []*Wallpaper {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Wallpaper, 0, len(m.active))
	for _, w := range m.active {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DisplayID() < out[j].DisplayID() })
	return out
}

// State returns the state of the wallpaper on displayID.
func (m *Manager) State(displayID int) State {
	m.mu.Lock()
	w := m.active[displayID]
	m.mu.Unlock()
	if w == nil {
		return Uninitialized
	}
	return w.State()
}
