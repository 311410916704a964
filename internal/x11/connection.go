// Package x11 implements wallpaper surfaces on an X11 display server: RandR
// for display enumeration, EWMH desktop windows for the surfaces and child
// windows as content layers that VLC renders into.
package x11

import (
	"fmt"
	"sync"

	"github.com/BurntSushi/xgb/randr"
	"github.com/BurntSushi/xgb/shape"
	"github.com/BurntSushi/xgb/xproto"
	"github.com/BurntSushi/xgbutil"
	"github.com/BurntSushi/xgbutil/xevent"
	"go.uber.org/zap"
)

// Connection manages the X11 connection and core X resources.
type Connection struct {
	XUtil *xgbutil.XUtil
	Root  xproto.Window

	hasShape  bool
	log       *zap.Logger
	closeOnce sync.Once
}

// NewConnection connects to $DISPLAY, initializes RandR and SHAPE, and
// starts draining X events in the background.
func NewConnection(logger *zap.Logger) (*Connection, error) {
	xu, err := xgbutil.NewConn()
	if err != nil {
		return nil, fmt.Errorf("connect to X server: %w", err)
	}

	if err := randr.Init(xu.Conn()); err != nil {
		xu.Conn().Close()
		return nil, fmt.Errorf("randr init failed: %w", err)
	}

	c := &Connection{
		XUtil: xu,
		Root:  xu.RootWin(),
		log:   logger.Named("x11"),
	}

	if err := shape.Init(xu.Conn()); err != nil {
		c.log.Warn("SHAPE extension unavailable, surfaces will not be input-transparent", zap.Error(err))
	} else {
		c.hasShape = true
	}

	go xevent.Main(xu)
	return c, nil
}

// Close stops the event loop and disconnects.
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		xevent.Quit(c.XUtil)
		c.XUtil.Conn().Close()
	})
}
