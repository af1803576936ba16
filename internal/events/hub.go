package events

import (
	"sync"
	"time"

	"github.com/kstaniek/go-rfid-alarm/internal/logging"
)

// Kind classifies an Event.
type Kind string

const (
	KindMode      Kind = "mode"
	KindBadge     Kind = "badge"
	KindMotion    Kind = "motion"
	KindAlert     Kind = "alert"
	KindEnrolled  Kind = "enrolled"
	KindHeartbeat Kind = "heartbeat"
)

// Event is a controller observation published to subscribers.
type Event struct {
	Time  time.Time `json:"time"`
	Kind  Kind      `json:"kind"`
	Mode  string    `json:"mode,omitempty"`
	Label string    `json:"label,omitempty"`
	Badge string    `json:"badge,omitempty"` // masked
}

type BackpressurePolicy int

const (
	PolicyDrop BackpressurePolicy = iota
	PolicyKick
)

type Subscriber struct {
	Out       chan Event
	Closed    chan struct{}
	closeOnce sync.Once
}

// NewSubscriber returns a subscriber with an n-slot buffer.
func NewSubscriber(n int) *Subscriber {
	if n <= 0 {
		n = 1
	}
	return &Subscriber{Out: make(chan Event, n), Closed: make(chan struct{})}
}

// Close signals the subscriber is closed (idempotent).
func (c *Subscriber) Close() {
	c.closeOnce.Do(func() {
		close(c.Closed)
	})
}

// Hub fans events out to subscribers without ever blocking the publisher.
type Hub struct {
	mu         sync.RWMutex
	subs       map[*Subscriber]struct{}
	OutBufSize int
	Policy     BackpressurePolicy
	dropped    uint64
}

// New creates a Hub with default settings.
func New() *Hub { return &Hub{subs: make(map[*Subscriber]struct{}), OutBufSize: 32} }

// Subscribe registers a new subscriber sized by OutBufSize.
func (h *Hub) Subscribe() *Subscriber {
	c := NewSubscriber(h.OutBufSize)
	h.Add(c)
	return c
}

// Add registers a subscriber with the hub.
func (h *Hub) Add(c *Subscriber) {
	h.mu.Lock()
	prev := len(h.subs)
	h.subs[c] = struct{}{}
	cur := len(h.subs)
	h.mu.Unlock()
	if prev == 0 && cur == 1 {
		logging.L().Debug("events_first_subscriber")
	}
}

// Remove unregisters a subscriber; safe to call multiple times.
func (h *Hub) Remove(c *Subscriber) {
	h.mu.Lock()
	_, existed := h.subs[c]
	if existed {
		delete(h.subs, c)
	}
	cur := len(h.subs)
	h.mu.Unlock()
	c.Close()
	if existed && cur == 0 {
		logging.L().Debug("events_last_subscriber")
	}
}

// Publish sends an event to all subscribers honoring the backpressure policy.
func (h *Hub) Publish(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	for _, c := range h.Snapshot() {
		select {
		case c.Out <- ev:
		default:
			if h.Policy == PolicyKick {
				c.Close() // writer exits and removes itself
			} else {
				h.mu.Lock()
				h.dropped++
				h.mu.Unlock()
			}
		}
	}
}

// Snapshot returns a slice copy of current subscribers (read-only use).
func (h *Hub) Snapshot() []*Subscriber {
	h.mu.RLock()
	subs := make([]*Subscriber, 0, len(h.subs))
	for c := range h.subs {
		subs = append(subs, c)
	}
	h.mu.RUnlock()
	return subs
}

// Count returns the number of active subscribers.
func (h *Hub) Count() int { h.mu.RLock(); n := len(h.subs); h.mu.RUnlock(); return n }

// Dropped returns how many deliveries the drop policy discarded.
func (h *Hub) Dropped() uint64 { h.mu.RLock(); n := h.dropped; h.mu.RUnlock(); return n }
