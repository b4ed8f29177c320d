package runtime

import (
	"fmt"
	"sync"
	"time"

	"github.com/felixgeelhaar/bolt/v3"
	"github.com/felixgeelhaar/mnemo/internal/memory"
	"github.com/felixgeelhaar/mnemo/internal/observe"
	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
)

// EventType represents the type of memory system event.
type EventType string

const (
	EventMemoryAdded    EventType = "memory_added"
	EventMemorySearched EventType = "memory_searched"
	EventWeightUpdated  EventType = "weight_updated"
	EventSystemStarted  EventType = "system_started"
	EventSystemStopped  EventType = "system_stopped"
)

// Data keys carried by events.
const (
	DataItem    = "item"
	DataQuery   = "query"
	DataResults = "results"
	DataContent = "content"
	DataWeight  = "weight"
	DataCached  = "cached"
)

// Event represents a system event with associated data.
type Event struct {
	ID        string
	Type      EventType
	Timestamp time.Time
	Data      map[string]interface{}
}

// Item returns the memory item carried by a memory_added event.
func (e Event) Item() (memory.Item, bool) {
	item, ok := e.Data[DataItem].(memory.Item)
	return item, ok
}

// EventHandler handles a published event. A returned error is logged at the
// bus and does not affect other handlers or the publisher.
type EventHandler func(Event) error

// EventStatistics summarizes bus activity.
type EventStatistics struct {
	Published map[EventType]int64 `json:"published"`
	Failures  int64               `json:"failures"`
}

// EventBus manages event publication and subscription.
// It provides a decoupled way for memory components to communicate.
type EventBus struct {
	mu          sync.RWMutex
	handlers    map[EventType][]EventHandler
	allHandlers []EventHandler

	statsMu   sync.Mutex
	published map[EventType]int64
	failures  int64

	log *bolt.Logger
}

// NewEventBus creates a new event bus.
func NewEventBus(obs *observe.Observer) *EventBus {
	return &EventBus{
		handlers:  make(map[EventType][]EventHandler),
		published: make(map[EventType]int64),
		log:       observe.OrDiscard(obs).Component("eventbus"),
	}
}

// Subscribe registers a handler for a specific event type.
func (eb *EventBus) Subscribe(eventType EventType, handler EventHandler) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.handlers[eventType] = append(eb.handlers[eventType], handler)
}

// SubscribeAll registers a handler for all event types.
func (eb *EventBus) SubscribeAll(handler EventHandler) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.allHandlers = append(eb.allHandlers, handler)
}

// Publish delivers the event on the caller's goroutine to the handlers of its
// type in subscription order, then to the all-event handlers.
func (eb *EventBus) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}

	// Snapshot so handlers may subscribe without deadlocking.
	eb.mu.RLock()
	handlers := make([]EventHandler, 0, len(eb.handlers[event.Type])+len(eb.allHandlers))
	handlers = append(handlers, eb.handlers[event.Type]...)
	handlers = append(handlers, eb.allHandlers...)
	eb.mu.RUnlock()

	eb.statsMu.Lock()
	eb.published[event.Type]++
	eb.statsMu.Unlock()

	for i, handler := range handlers {
		if err := eb.deliver(handler, event); err != nil {
			eb.statsMu.Lock()
			eb.failures++
			eb.statsMu.Unlock()
			eb.log.Error().
				Err(err).
				Str("event", string(event.Type)).
				Int("handler", i).
				Msg("event handler failed")
		}
	}
}

func (eb *EventBus) deliver(handler EventHandler, event Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = goerr.Wrap(memory.ErrHandlerFailure, "handler panicked", goerr.V("panic", fmt.Sprint(r)))
		}
	}()
	if herr := handler(event); herr != nil {
		return goerr.Wrap(memory.ErrHandlerFailure, herr.Error())
	}
	return nil
}

// PublishSimple is a convenience method for publishing events without additional data.
func (eb *EventBus) PublishSimple(eventType EventType) {
	eb.Publish(Event{Type: eventType})
}

// PublishWithData publishes an event with associated data.
func (eb *EventBus) PublishWithData(eventType EventType, data map[string]interface{}) {
	eb.Publish(Event{
		Type: eventType,
		Data: data,
	})
}

// Statistics returns per-type publish counts.
func (eb *EventBus) Statistics() EventStatistics {
	eb.statsMu.Lock()
	defer eb.statsMu.Unlock()

	published := make(map[EventType]int64, len(eb.published))
	for k, v := range eb.published {
		published[k] = v
	}
	return EventStatistics{Published: published, Failures: eb.failures}
}
