// Package bus is the in-process publish/subscribe hub that connects the chat
// core to whatever front end renders it.
package bus

import (
	"log/slog"
	"strconv"
	"sync"
	"time"
)

// Well-known event types.
const (
	// EventArtifactOpen asks the front end to display an artifact.
	// Payload: "index" (int), "url" (string), "conversation" (string).
	EventArtifactOpen = "artifact.open"
	// EventChatStatus reports a new user-visible status line. Payload: "status", "state".
	EventChatStatus = "chat.status"
	// EventConversationUpdated is emitted after every applied progress event
	// and after user input. Payload: "conversation", "query_id", "status".
	EventConversationUpdated = "conversation.updated"
	// EventTitleSet is emitted when a title has been negotiated. Payload: "conversation", "title".
	EventTitleSet = "title.set"
	// EventChatSaved is emitted after the conversation was persisted. Payload: "conversation".
	EventChatSaved = "chat.saved"
	// EventEventDropped is emitted when the session guard rejects an event.
	// Payload: "conversation", "session", "query_id".
	EventEventDropped = "event.dropped"
)

// Event is a single notification published on the bus.
type Event struct {
	Type      string
	Source    string
	Payload   map[string]any
	Timestamp time.Time
}

// Int returns an integer payload value.
func (e Event) Int(key string) (int, bool) {
	v, ok := e.Payload[key].(int)
	return v, ok
}

// String returns a string payload value.
func (e Event) String(key string) string {
	v, _ := e.Payload[key].(string)
	return v
}

// EventHandler is a callback for events.
type EventHandler func(Event)

// EventBus is a topic-based publish/subscribe dispatcher with a bounded
// replay buffer. Handlers run synchronously on the emitting goroutine.
type EventBus struct {
	handlers   map[string][]namedHandler
	mu         sync.RWMutex
	logger     *slog.Logger
	history    []Event
	maxHistory int
	seq        int
}

type namedHandler struct {
	ID      string
	Handler EventHandler
}

// NewEventBus creates an EventBus that keeps the last 1000 events for replay.
func NewEventBus(logger *slog.Logger) *EventBus {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventBus{
		handlers:   make(map[string][]namedHandler),
		logger:     logger,
		maxHistory: 1000,
	}
}

// On registers a handler for eventType ("*" matches every type) and returns
// an id usable with Off.
func (eb *EventBus) On(eventType string, handler EventHandler) string {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.seq++
	id := eventType + "-" + strconv.Itoa(eb.seq)
	eb.handlers[eventType] = append(eb.handlers[eventType], namedHandler{ID: id, Handler: handler})
	return id
}

// Off removes a handler by its ID.
func (eb *EventBus) Off(eventType, handlerID string) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	handlers := eb.handlers[eventType]
	for i, h := range handlers {
		if h.ID == handlerID {
			eb.handlers[eventType] = append(handlers[:i:i], handlers[i+1:]...)
			return
		}
	}
}

// Emit publishes event to the handlers of its type, then to wildcard handlers.
// A panicking handler is logged and does not affect the others.
func (eb *EventBus) Emit(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	eb.mu.Lock()
	if len(eb.history) >= eb.maxHistory {
		eb.history = eb.history[1:]
	}
	eb.history = append(eb.history, event)
	handlers := make([]namedHandler, 0, len(eb.handlers[event.Type])+len(eb.handlers["*"]))
	handlers = append(handlers, eb.handlers[event.Type]...)
	handlers = append(handlers, eb.handlers["*"]...)
	eb.mu.Unlock()

	for _, h := range handlers {
		func(nh namedHandler) {
			defer func() {
				if r := recover(); r != nil {
					eb.logger.Error("event handler panic", "event", event.Type, "handler", nh.ID, "panic", r)
				}
			}()
			nh.Handler(event)
		}(h)
	}
}

// Replay returns buffered events of eventType ("*" for all) emitted at or after since.
func (eb *EventBus) Replay(eventType string, since time.Time) []Event {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	var result []Event
	for _, e := range eb.history {
		if e.Timestamp.Before(since) {
			continue
		}
		if eventType == "*" || e.Type == eventType {
			result = append(result, e)
		}
	}
	return result
}

// HistoryLen returns the current number of events in the replay buffer.
func (eb *EventBus) HistoryLen() int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return len(eb.history)
}
