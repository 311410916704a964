package notify

import (
	"fmt"
	"strings"
	"sync"

	"github.com/godbus/dbus/v5"
	"go.uber.org/zap"
)

// D-Bus mapping of the broadcast names.
const (
	DBusPath      = dbus.ObjectPath("/io/vidpaper/Notify")
	DBusInterface = "io.vidpaper.Notify"
)

var dbusMembers = map[Name]string{
	Terminate:     "Terminate",
	VolumeChanged: "VolumeChanged",
}

func nameForMember(member string) (Name, bool) {
	for n, m := range dbusMembers {
		if m == member {
			return n, true
		}
	}
	return "", false
}

// DBus broadcasts as session-bus signals. Every process on the session bus
// that subscribed receives them, including the sender.
type DBus struct {
	conn    *dbus.Conn
	hub     *Hub
	signals chan *dbus.Signal
	log     *zap.Logger

	closeOnce sync.Once
	done      chan struct{}
}

// NewDBus connects to the session bus and starts receiving signals.
func NewDBus(logger *zap.Logger) (*DBus, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("session bus: %w", err)
	}

	if err := conn.AddMatchSignal(
		dbus.WithMatchObjectPath(DBusPath),
		dbus.WithMatchInterface(DBusInterface),
	); err != nil {
		conn.Close()
		return nil, fmt.Errorf("add match: %w", err)
	}

	d := &DBus{
		conn:    conn,
		hub:     NewHub(),
		signals: make(chan *dbus.Signal, 16),
		log:     logger.Named("notify.dbus"),
		done:    make(chan struct{}),
	}
	conn.Signal(d.signals)
	go d.loop()
	return d, nil
}

func (d *DBus) loop() {
	for {
		select {
		case <-d.done:
			return
		case sig, ok := <-d.signals:
			if !ok {
				return
			}
			if sig == nil || sig.Path != DBusPath {
				continue
			}
			member := strings.TrimPrefix(sig.Name, DBusInterface+".")
			name, ok := nameForMember(member)
			if !ok {
				continue
			}
			d.log.Debug("received", zap.String("name", string(name)), zap.String("sender", sig.Sender))
			d.hub.Publish(name)
		}
	}
}

// Post emits the signal for name on the session bus.
func (d *DBus) Post(name Name) error {
	member, ok := dbusMembers[name]
	if !ok {
		return ErrUnknownName
	}
	if err := d.conn.Emit(DBusPath, DBusInterface+"."+member); err != nil {
		return fmt.Errorf("emit %s: %w", name, err)
	}
	return nil
}

// Subscribe registers fn for name.
func (d *DBus) Subscribe(name Name, fn func()) (func(), error) {
	return d.hub.Subscribe(name, fn)
}

// Close disconnects from the bus.
func (d *DBus) Close() error {
	var err error
	d.closeOnce.Do(func() {
		close(d.done)
		d.conn.RemoveSignal(d.signals)
		d.hub.Close()
		logStats(d.log, d.hub.Stats())
		err = d.conn.Close()
	})
	return err
}
