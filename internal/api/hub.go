package api

import (
	"sync"

	"github.com/MJE43/bart-task-go/internal/session"
)

const (
	maxBufferedEvents = 4096
	subscriberBuffer  = 256
)

// StreamFrame is one message on the event stream
type StreamFrame struct {
	Type      string         `json:"type"`
	SessionID string         `json:"sessionId"`
	Event     *session.Event `json:"event,omitempty"`
}

// Frame types
const (
	FrameSession = "session"
	FrameEvent   = "event"
)

// Hub buffers the current session's events and fans them out to stream
// subscribers. Events from a replaced session are dropped.
type Hub struct {
	mu        sync.Mutex
	sessionID string
	events    []session.Event
	subs      map[chan StreamFrame]struct{}
}

// NewHub creates an empty hub
func NewHub() *Hub {
	return &Hub{subs: make(map[chan StreamFrame]struct{})}
}

// Reset switches the hub to a new session and announces it.
func (h *Hub) Reset(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sessionID = sessionID
	h.events = nil
	h.broadcastLocked(StreamFrame{Type: FrameSession, SessionID: sessionID})
}

// EmitterFor returns an emitter bound to one session.
func (h *Hub) EmitterFor(sessionID string) session.Emitter {
	return session.EmitterFunc(func(ev session.Event) {
		h.mu.Lock()
		defer h.mu.Unlock()
		if sessionID != h.sessionID {
			return
		}
		if len(h.events) >= maxBufferedEvents {
			h.events = h.events[1:]
		}
		h.events = append(h.events, ev)
		evCopy := ev
		h.broadcastLocked(StreamFrame{Type: FrameEvent, SessionID: sessionID, Event: &evCopy})
	})
}

// Since returns buffered events with Seq greater than seq.
func (h *Hub) Since(seq int64) (string, []session.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]session.Event, 0)
	for _, ev := range h.events {
		if ev.Seq > seq {
			out = append(out, ev)
		}
	}
	return h.sessionID, out
}

// Subscribe registers a stream listener. The replay holds buffered events
// after since, taken atomically with the registration.
func (h *Hub) Subscribe(since int64) (ch <-chan StreamFrame, replay []StreamFrame, cancel func()) {
	c := make(chan StreamFrame, subscriberBuffer)

	h.mu.Lock()
	if h.sessionID != "" {
		replay = append(replay, StreamFrame{Type: FrameSession, SessionID: h.sessionID})
		for i := range h.events {
			if h.events[i].Seq > since {
				ev := h.events[i]
				replay = append(replay, StreamFrame{Type: FrameEvent, SessionID: h.sessionID, Event: &ev})
			}
		}
	}
	h.subs[c] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	cancel = func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, c)
			h.mu.Unlock()
		})
	}
	return c, replay, cancel
}

// Subscribers reports the number of stream listeners
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// broadcastLocked never blocks; a subscriber that falls behind misses
// frames and can catch up from the events route.
func (h *Hub) broadcastLocked(f StreamFrame) {
	for c := range h.subs {
		select {
		case c <- f:
		default:
		}
	}
}
