package topology

import "vidpaper/internal/media"

// Fit places content of the given natural size inside container according to
// mode. The result is in the container's coordinate space and may extend past
// it for media.Fill. Unknown content size yields the container unchanged.
func Fit(container Rect, contentW, contentH float64, mode media.ScaleMode) Rect {
	if contentW <= 0 || contentH <= 0 || container.Width <= 0 || container.Height <= 0 {
		return container
	}

	sx := container.Width / contentW
	sy := container.Height / contentH

	var scale float64
	switch mode {
	case media.Fill:
		scale = max(sx, sy)
	case media.Fit:
		scale = min(sx, sy)
	default:
		return container
	}

	w := contentW * scale
	h := contentH * scale
	return Rect{
		X:      container.X + (container.Width-w)/2,
		Y:      container.Y + (container.Height-h)/2,
		Width:  w,
		Height: h,
	}
}
