package notify

import (
	"fmt"

	"go.uber.org/zap"
)

// Transport names accepted by Open.
const (
	TransportAuto = "auto"
	TransportDBus = "dbus"
	TransportDir  = "dir"
)

// Open returns the Center for transport. "auto" prefers the session bus and
// falls back to watching dir.
func Open(transport, dir string, logger *zap.Logger) (Center, error) {
	switch transport {
	case TransportDBus:
		return NewDBus(logger)
	case TransportDir:
		return NewDir(dir, logger)
	case TransportAuto, "":
		c, err := NewDBus(logger)
		if err == nil {
			return c, nil
		}
		logger.Named("notify").Info("session bus unavailable, using directory transport",
			zap.String("dir", dir), zap.Error(err))
		return NewDir(dir, logger)
	default:
		return nil, fmt.Errorf("unknown notify transport %q", transport)
	}
}

func logStats(log *zap.Logger, st Stats) {
	log.Debug("closed",
		zap.Uint64("published", st.Published),
		zap.Uint64("delivered", st.Delivered),
		zap.Uint64("dropped", st.Dropped))
}
