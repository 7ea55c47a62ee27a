// Package events streams task lifecycle transitions (submitted, confirmed,
// assigned, reclaimed, expired, done, failed) over WebSocket to operations
// dashboards. The queue publishes from inside its serialized mutation path,
// so delivery is deliberately lossy: a subscriber that cannot keep up has
// events dropped rather than ever stalling a queue transition.
package events

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// EventType labels the kind of lifecycle transition being streamed.
type EventType string

const (
	EventTaskSubmitted EventType = "task_submitted"
	EventTaskConfirmed EventType = "task_confirmed"
	EventTaskAssigned  EventType = "task_assigned"
	EventTaskReclaimed EventType = "task_reclaimed"
	EventTaskExpired   EventType = "task_expired"
	EventTaskDone      EventType = "task_done"
	EventTaskFailed    EventType = "task_failed"
)

// Event is one task lifecycle transition as seen by subscribers.
type Event struct {
	Type      EventType `json:"type"`
	TaskID    string    `json:"task_id"`
	Model     string    `json:"model,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// subscriberBuffer is how many undelivered events a subscriber may lag
// behind before new events are dropped for it.
const subscriberBuffer = 64

// writeWait bounds how long a single socket write may take before the
// subscriber is considered dead.
const writeWait = 10 * time.Second

// subscriber is one connected dashboard: its socket plus the queue of events
// awaiting delivery. Only the subscriber's own writer goroutine touches the
// socket for writes.
type subscriber struct {
	conn *websocket.Conn
	send chan Event
}

// Hub fans task lifecycle events out to all connected subscribers.
type Hub struct {
	logger zerolog.Logger

	mu   sync.Mutex
	subs map[*subscriber]struct{}
}

// NewHub creates a Hub with no subscribers.
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		logger: logger,
		subs:   make(map[*subscriber]struct{}),
	}
}

var upgrader = websocket.Upgrader{
	// The event stream is mounted behind the shared-secret check; origins
	// are not checked separately.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ServeWS upgrades the connection, attaches it as a subscriber, and blocks
// until the peer goes away. Subscribers only listen; anything they send is
// discarded.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	sub := &subscriber{conn: conn, send: make(chan Event, subscriberBuffer)}

	h.mu.Lock()
	h.subs[sub] = struct{}{}
	n := len(h.subs)
	h.mu.Unlock()
	h.logger.Info().Int("subscribers", n).Msg("event subscriber connected")

	go h.writeLoop(sub)

	// Reading serves only to detect the close; the read result is discarded.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	h.drop(sub)
}

// Broadcast queues the event for every current subscriber. It never blocks:
// a subscriber whose buffer is full misses this event.
func (h *Hub) Broadcast(e Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		select {
		case sub.send <- e:
		default:
			h.logger.Warn().Str("event", string(e.Type)).
				Msg("slow event subscriber, dropping event")
		}
	}
}

// writeLoop drains a subscriber's event queue onto its socket. A write
// failure or timeout ends the subscription.
func (h *Hub) writeLoop(sub *subscriber) {
	for e := range sub.send {
		_ = sub.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := sub.conn.WriteJSON(e); err != nil {
			h.drop(sub)
			return
		}
	}
}

// drop detaches a subscriber and closes its socket and queue. Safe to call
// from both the read and write sides; only the first call acts.
func (h *Hub) drop(sub *subscriber) {
	h.mu.Lock()
	_, present := h.subs[sub]
	delete(h.subs, sub)
	h.mu.Unlock()
	if !present {
		return
	}
	close(sub.send)
	_ = sub.conn.Close()
}

// SubscriberCount reports how many dashboards are currently attached.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
