// Package fanout implements an in-process publish/subscribe keyed by
// executionId: event kinds, execution-scoped "rooms", and a
// register/unregister/broadcast channel-driven event loop. The subscriber
// contract is a narrow Subscriber interface rather than a concrete
// transport type, so WebSocket (or any other transport) can implement it
// without this package depending on gorilla/websocket.
package fanout

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/flowforge/flowexec/internal/domain"
)

// EventKind enumerates the event names the fan-out hub emits.
type EventKind string

const (
	EventExecutionStarted   EventKind = "execution_started"
	EventNodeExecutionUpdate EventKind = "node_execution_update"
	EventExecutionCompleted EventKind = "execution_completed"
	EventExecutionFailed    EventKind = "execution_failed"
	EventExecutionLog       EventKind = "execution_log"
	EventExecutionMetrics   EventKind = "execution_metrics"
	EventEdgeFlow           EventKind = "edge_flow"
)

// Message is one fan-out event, scoped to an execution id.
type Message struct {
	ID          string    `json:"id"`
	Kind        EventKind `json:"kind"`
	ExecutionID string    `json:"executionId"`
	Payload     any       `json:"payload"`
	Timestamp   time.Time `json:"timestamp"`
}

// Subscriber is the narrow port any transport implements to receive
// fan-out messages. Send must not block the hub's event loop; a slow or
// dead subscriber is dropped by the hub rather than stalling broadcast.
type Subscriber interface {
	ID() string
	Send(msg Message) error
}

type registration struct {
	executionID string
	sub         Subscriber
}

// Hub runs the register/unregister/broadcast event loop and maintains an
// index of subscribers per execution id ("room"). Delivery is best-effort:
// a batching window coalesces rapid-fire events and a send failure simply
// drops that subscriber — missing events can always be reconstructed by
// replaying the persisted LogEntry trail.
type Hub struct {
	register   chan registration
	unregister chan registration
	broadcast  chan Message

	batchWindow time.Duration

	mu    sync.RWMutex
	rooms map[string]map[string]Subscriber // executionID -> subscriberID -> Subscriber

	stop chan struct{}
}

// NewHub builds a Hub with the given best-effort batching window; 50ms is
// the recommended default.
func NewHub(batchWindow time.Duration) *Hub {
	if batchWindow <= 0 {
		batchWindow = 50 * time.Millisecond
	}
	return &Hub{
		register:    make(chan registration, 64),
		unregister:  make(chan registration, 64),
		broadcast:   make(chan Message, 256),
		batchWindow: batchWindow,
		rooms:       make(map[string]map[string]Subscriber),
		stop:        make(chan struct{}),
	}
}

// Run drives the hub's event loop until Stop is called. Call it once, in
// its own goroutine, at process startup.
func (h *Hub) Run() {
	ticker := time.NewTicker(h.batchWindow)
	defer ticker.Stop()

	var pending []Message

	flush := func() {
		if len(pending) == 0 {
			return
		}
		batch := pending
		pending = nil
		h.deliver(batch)
	}

	for {
		select {
		case <-h.stop:
			flush()
			return
		case reg := <-h.register:
			h.mu.Lock()
			room, ok := h.rooms[reg.executionID]
			if !ok {
				room = make(map[string]Subscriber)
				h.rooms[reg.executionID] = room
			}
			room[reg.sub.ID()] = reg.sub
			h.mu.Unlock()
		case reg := <-h.unregister:
			h.mu.Lock()
			if room, ok := h.rooms[reg.executionID]; ok {
				delete(room, reg.sub.ID())
				if len(room) == 0 {
					delete(h.rooms, reg.executionID)
				}
			}
			h.mu.Unlock()
		case msg := <-h.broadcast:
			pending = append(pending, msg)
		case <-ticker.C:
			flush()
		}
	}
}

// Stop ends the event loop after flushing any pending batch.
func (h *Hub) Stop() { close(h.stop) }

func (h *Hub) deliver(batch []Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, msg := range batch {
		room, ok := h.rooms[msg.ExecutionID]
		if !ok {
			continue
		}
		for id, sub := range room {
			if err := sub.Send(msg); err != nil {
				log.Warn().Str("subscriber", id).Str("execution_id", msg.ExecutionID).Err(err).Msg("fanout: dropping unresponsive subscriber")
				delete(room, id)
			}
		}
		if len(room) == 0 {
			delete(h.rooms, msg.ExecutionID)
		}
	}
}

// Join enrolls sub in executionID's room.
func (h *Hub) Join(executionID string, sub Subscriber) {
	h.register <- registration{executionID: executionID, sub: sub}
}

// Leave removes sub from executionID's room.
func (h *Hub) Leave(executionID string, sub Subscriber) {
	h.unregister <- registration{executionID: executionID, sub: sub}
}

// Publish enqueues msg for the next batch flush. ID and Timestamp are
// filled in when empty.
func (h *Hub) Publish(msg Message) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	h.broadcast <- msg
}

// PublishLog is a convenience wrapper emitting execution_log from a
// domain.LogEntry, keeping the fan-out and persistence representations of
// a log line in sync without the engine constructing both by hand.
func (h *Hub) PublishLog(entry domain.LogEntry) {
	payload, _ := json.Marshal(entry)
	var decoded any
	_ = json.Unmarshal(payload, &decoded)
	h.Publish(Message{Kind: EventExecutionLog, ExecutionID: entry.ExecutionID, Payload: decoded})
}
