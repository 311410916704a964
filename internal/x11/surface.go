package x11

import (
	"fmt"
	"image"
	"math"
	"sync"

	"vidpaper/internal/surface"
	"vidpaper/internal/topology"

	"github.com/BurntSushi/xgb/shape"
	"github.com/BurntSushi/xgb/xproto"
	"github.com/BurntSushi/xgbutil/ewmh"
	"github.com/BurntSushi/xgbutil/motif"
	"github.com/BurntSushi/xgbutil/xgraphics"
	"github.com/BurntSushi/xgbutil/xwindow"
	"go.uber.org/zap"
)

var _ surface.Windowing = (*Connection)(nil)

// allDesktops is the _NET_WM_DESKTOP value for "visible on every workspace".
const allDesktops = 0xFFFFFFFF

var desktopStates = []string{
	"_NET_WM_STATE_BELOW",
	"_NET_WM_STATE_STICKY",
	"_NET_WM_STATE_SKIP_TASKBAR",
	"_NET_WM_STATE_SKIP_PAGER",
}

// geometry converts a rect to X window coordinates. Sizes are at least one
// pixel and at most what the protocol can carry.
func geometry(r topology.Rect) (x, y, w, h int) {
	x = int(math.Round(r.X))
	y = int(math.Round(r.Y))
	w = int(math.Round(r.Width))
	h = int(math.Round(r.Height))
	w = min(max(w, 1), math.MaxUint16)
	h = min(max(h, 1), math.MaxUint16)
	x = min(max(x, math.MinInt16), math.MaxInt16)
	y = min(max(y, math.MinInt16), math.MaxInt16)
	return x, y, w, h
}

// CreateSurface creates a borderless desktop window covering frame. It is
// kept below other windows, shown on every workspace, hidden from taskbars
// and pagers, and ignores pointer input.
func (c *Connection) CreateSurface(frame topology.Rect) (surface.Surface, error) {
	win, err := xwindow.Generate(c.XUtil)
	if err != nil {
		return nil, fmt.Errorf("generate window id: %w", err)
	}

	x, y, w, h := geometry(frame)
	if err := win.CreateChecked(c.Root, x, y, w, h, xproto.CwBackPixel, 0); err != nil {
		return nil, fmt.Errorf("create window: %w", err)
	}

	s := &desktopSurface{conn: c, win: win, frame: frame}

	if err := ewmh.WmWindowTypeSet(c.XUtil, win.Id, []string{"_NET_WM_WINDOW_TYPE_DESKTOP"}); err != nil {
		s.Destroy()
		return nil, fmt.Errorf("set window type: %w", err)
	}
	if err := ewmh.WmStateSet(c.XUtil, win.Id, desktopStates); err != nil {
		c.log.Debug("set wm state", zap.Error(err))
	}
	if err := ewmh.WmDesktopSet(c.XUtil, win.Id, allDesktops); err != nil {
		c.log.Debug("set wm desktop", zap.Error(err))
	}
	if err := motif.WmHintsSet(c.XUtil, win.Id, &motif.Hints{
		Flags:      motif.HintDecorations,
		Decoration: motif.DecorationNone,
	}); err != nil {
		c.log.Debug("set motif hints", zap.Error(err))
	}

	if c.hasShape {
		// An empty input region lets clicks fall through to the desktop.
		shape.Rectangles(c.XUtil.Conn(), shape.SoSet, shape.SkInput,
			xproto.ClipOrderingUnsorted, win.Id, 0, 0, nil)
	}

	c.log.Debug("surface created", zap.Uint32("window", uint32(win.Id)), zap.Stringer("frame", frame))
	return s, nil
}

type desktopSurface struct {
	mu      sync.Mutex
	conn    *Connection
	win     *xwindow.Window
	frame   topology.Rect
	content *contentWindow
	gone    bool
}

func (s *desktopSurface) AttachContent(frame topology.Rect) (surface.Content, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gone {
		return nil, fmt.Errorf("surface destroyed")
	}

	child, err := xwindow.Generate(s.conn.XUtil)
	if err != nil {
		return nil, fmt.Errorf("generate content id: %w", err)
	}
	x, y, w, h := geometry(frame)
	if err := child.CreateChecked(s.win.Id, x, y, w, h, xproto.CwBackPixel, 0); err != nil {
		return nil, fmt.Errorf("create content window: %w", err)
	}
	child.Map()

	s.content = &contentWindow{conn: s.conn, win: child, frame: frame}
	return s.content, nil
}

func (s *desktopSurface) Show() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gone {
		return fmt.Errorf("surface destroyed")
	}
	s.win.Map()
	// Some window managers only honor the position once mapped.
	x, y, w, h := geometry(s.frame)
	s.win.MoveResize(x, y, w, h)
	return nil
}

func (s *desktopSurface) Destroy() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gone {
		return nil
	}
	s.gone = true
	s.win.Destroy()
	return nil
}

// contentWindow is the child window VLC draws into. It can be larger than
// and offset from its parent, which clips it.
type contentWindow struct {
	mu     sync.Mutex
	conn   *Connection
	win    *xwindow.Window
	frame  topology.Rect
	canvas *xgraphics.Image
	gone   bool
}

func (cw *contentWindow) Handle() uint32       { return uint32(cw.win.Id) }
func (cw *contentWindow) Frame() topology.Rect { return cw.frame }

// Paint sets img as the window background until video covers it.
func (cw *contentWindow) Paint(img image.Image) error {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	if cw.gone {
		return fmt.Errorf("content detached")
	}

	ximg := xgraphics.NewConvert(cw.conn.XUtil, img)
	if err := ximg.XSurfaceSet(cw.win.Id); err != nil {
		ximg.Destroy()
		return fmt.Errorf("placeholder surface: %w", err)
	}
	ximg.XDraw()
	ximg.XPaint(cw.win.Id)

	if cw.canvas != nil {
		cw.canvas.Destroy()
	}
	cw.canvas = ximg
	return nil
}

func (cw *contentWindow) Detach() error {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	if cw.gone {
		return nil
	}
	cw.gone = true

	if cw.canvas != nil {
		cw.canvas.Destroy()
		cw.canvas = nil
	}
	err := xproto.UnmapWindowChecked(cw.conn.XUtil.Conn(), cw.win.Id).Check()
	cw.win.Destroy()
	if err != nil {
		return fmt.Errorf("unmap content: %w", err)
	}
	return nil
}
