package x11

import (
	"fmt"

	"vidpaper/internal/topology"

	"github.com/BurntSushi/xgb/randr"
)

type monitor struct {
	topology.Display
	primary bool
}

// monitors queries every active CRTC. Display ids are positions in the
// returned slice, which follows CRTC order.
func (c *Connection) monitors() ([]monitor, error) {
	conn := c.XUtil.Conn()

	resources, err := randr.GetScreenResources(conn, c.Root).Reply()
	if err != nil {
		return nil, fmt.Errorf("failed to get screen resources: %w", err)
	}

	var primary randr.Output
	if reply, err := randr.GetOutputPrimary(conn, c.Root).Reply(); err == nil {
		primary = reply.Output
	}

	var out []monitor
	for i, crtc := range resources.Crtcs {
		info, err := randr.GetCrtcInfo(conn, crtc, resources.ConfigTimestamp).Reply()
		if err != nil {
			continue
		}

		// Skip disabled CRTCs
		if info.Width == 0 || info.Height == 0 || len(info.Outputs) == 0 {
			continue
		}

		name := fmt.Sprintf("Monitor%d", i)
		if oi, err := randr.GetOutputInfo(conn, info.Outputs[0], resources.ConfigTimestamp).Reply(); err == nil {
			name = string(oi.Name)
		}

		isPrimary := false
		for _, o := range info.Outputs {
			if o == primary && primary != 0 {
				isPrimary = true
			}
		}

		out = append(out, monitor{
			Display: topology.Display{
				ID:   len(out),
				Name: name,
				Bounds: topology.Rect{
					X:      float64(info.X),
					Y:      float64(info.Y),
					Width:  float64(info.Width),
					Height: float64(info.Height),
				},
			},
			primary: isPrimary,
		})
	}

	return out, nil
}

// Displays enumerates active displays.
func (c *Connection) Displays() ([]topology.Display, error) {
	mons, err := c.monitors()
	if err != nil {
		return nil, err
	}
	out := make([]topology.Display, len(mons))
	for i, m := range mons {
		out[i] = m.Display
	}
	return out, nil
}

// Primary returns the RandR primary display, or the first one when none is
// marked primary.
func (c *Connection) Primary() (topology.Display, error) {
	mons, err := c.monitors()
	if err != nil {
		return topology.Display{}, err
	}
	if len(mons) == 0 {
		return topology.Display{}, fmt.Errorf("no monitors found")
	}
	for _, m := range mons {
		if m.primary {
			return m.Display, nil
		}
	}
	return mons[0].Display, nil
}
