package collection

import (
	"slices"
	"sync"

	"github.com/kimhsiao/studiovault/internal/logging"
	"github.com/kimhsiao/studiovault/internal/models"
)

// EventType names a collection event.
type EventType string

const (
	EventItemAdded    EventType = "itemAdded"
	EventItemRemoved  EventType = "itemRemoved"
	EventItemUpdated  EventType = "itemUpdated"
	EventCleared      EventType = "cleared"
	EventSyncStart    EventType = "syncStart"
	EventSyncComplete EventType = "syncComplete"
)

// Event is delivered to handlers after the mutation that caused it has
// released the collection lock.
type Event struct {
	Type       EventType
	Collection string
	// Record is a copy of the affected record for item events.
	Record   *models.Record
	RecordID string
	// Success, Count and Err describe a syncComplete event.
	Success bool
	Count   int
	Err     error
}

// Handler receives events. Handlers may call back into the collection.
type Handler func(Event)

type emitter struct {
	mu       sync.RWMutex
	handlers map[EventType]map[int]Handler
	nextID   int
}

func newEmitter() *emitter {
	return &emitter{handlers: make(map[EventType]map[int]Handler)}
}

func (e *emitter) on(t EventType, h Handler) func() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.handlers[t] == nil {
		e.handlers[t] = make(map[int]Handler)
	}
	id := e.nextID
	e.nextID++
	e.handlers[t][id] = h

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Lock()
			defer e.mu.Unlock()
			delete(e.handlers[t], id)
		})
	}
}

func (e *emitter) emit(events ...Event) {
	for _, ev := range events {
		e.mu.RLock()
		ids := make([]int, 0, len(e.handlers[ev.Type]))
		for id := range e.handlers[ev.Type] {
			ids = append(ids, id)
		}
		handlers := make([]Handler, 0, len(ids))
		slices.Sort(ids)
		for _, id := range ids {
			handlers = append(handlers, e.handlers[ev.Type][id])
		}
		e.mu.RUnlock()

		for _, h := range handlers {
			e.call(h, ev)
		}
	}
}

// call isolates the collection from a panicking handler.
func (e *emitter) call(h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			logging.Warn("event handler panicked", map[string]interface{}{
				"event":      string(ev.Type),
				"collection": ev.Collection,
				"panic":      r,
			})
		}
	}()
	h(ev)
}
