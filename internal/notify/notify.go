// Package notify carries payload-less broadcasts between the controlling
// process and wallpaper daemons.
//
// Delivery is at-most-once with no acknowledgement: a notification posted
// while nobody listens is lost, a subscriber that is still busy with the
// previous notification of the same name drops the new one, and there is no
// ordering between subscribers. Callers that need a guarantee must pair a
// broadcast with a direct mechanism such as a process signal.
package notify

import (
	"errors"
	"sync"
	"sync/atomic"
)

// Name identifies a broadcast.
type Name string

const (
	// Terminate asks every daemon to tear down and exit.
	Terminate Name = "terminate"
	// VolumeChanged asks every daemon to re-read the volume setting.
	VolumeChanged Name = "volume-changed"
)

// Names lists every broadcast in a stable order.
var Names = []Name{Terminate, VolumeChanged}

var (
	ErrClosed      = errors.New("notify: closed")
	ErrUnknownName = errors.New("notify: unknown name")
	ErrNilHandler  = errors.New("notify: nil handler")
)

// Valid reports whether n is one of the known names.
func (n Name) Valid() bool {
	for _, k := range Names {
		if n == k {
			return true
		}
	}
	return false
}

// Broadcaster posts notifications.
type Broadcaster interface {
	Post(name Name) error
}

// Listener registers handlers for notifications.
type Listener interface {
	Subscribe(name Name, fn func()) (cancel func(), err error)
}

// Center is both ends of a transport.
type Center interface {
	Broadcaster
	Listener
	Close() error
}

// Stats counts deliveries for one hub.
type Stats struct {
	Published uint64
	Delivered uint64
	Dropped   uint64
}

type subscriber struct {
	name Name
	fn   func()
	ch   chan struct{}
	done chan struct{}
}

// Hub fans notifications out to in-process subscribers. Each subscriber runs
// its handler on its own goroutine and holds at most one pending delivery.
type Hub struct {
	mu     sync.RWMutex
	subs   map[uint64]*subscriber
	nextID uint64
	closed bool

	published atomic.Uint64
	delivered atomic.Uint64
	dropped   atomic.Uint64
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[uint64]*subscriber)}
}

// Subscribe runs fn each time name is published until cancel is called.
func (h *Hub) Subscribe(name Name, fn func()) (func(), error) {
	if !name.Valid() {
		return nil, ErrUnknownName
	}
	if fn == nil {
		return nil, ErrNilHandler
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrClosed
	}

	id := h.nextID
	h.nextID++
	s := &subscriber{
		name: name,
		fn:   fn,
		ch:   make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	h.subs[id] = s
	go s.run()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			if cur, ok := h.subs[id]; ok && cur == s {
				delete(h.subs, id)
				close(s.done)
			}
			h.mu.Unlock()
		})
	}, nil
}

func (s *subscriber) run() {
	for {
		select {
		case <-s.done:
			return
		case <-s.ch:
			select {
			case <-s.done:
				return
			default:
			}
			s.fn()
		}
	}
}

// Publish delivers name to every matching subscriber without blocking.
func (h *Hub) Publish(name Name) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return
	}

	h.published.Add(1)
	for _, s := range h.subs {
		if s.name != name {
			continue
		}
		select {
		case s.ch <- struct{}{}:
			h.delivered.Add(1)
		default:
			h.dropped.Add(1)
		}
	}
}

// Post implements Broadcaster for purely in-process use.
func (h *Hub) Post(name Name) error {
	if !name.Valid() {
		return ErrUnknownName
	}
	h.mu.RLock()
	closed := h.closed
	h.mu.RUnlock()
	if closed {
		return ErrClosed
	}
	h.Publish(name)
	return nil
}

// Stats returns delivery counters.
func (h *Hub) Stats() Stats {
	return Stats{
		Published: h.published.Load(),
		Delivered: h.delivered.Load(),
		Dropped:   h.dropped.Load(),
	}
}

// Close stops every subscriber. It is safe to call more than once.
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	for id, s := range h.subs {
		close(s.done)
		delete(h.subs, id)
	}
	return nil
}
