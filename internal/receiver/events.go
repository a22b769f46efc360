package receiver

import (
	"log/slog"
	"sync"
	"time"

	"bax-receiver/internal/bax"
)

// Event types
const (
	EventPacket        = "packet"
	EventDeviceLearned = "device_learned"
	EventDeviceEvicted = "device_evicted"
	EventDeviceRenamed = "device_renamed"
	EventRadioState    = "radio_state"
)

// Event represents a receiver event.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// PacketEvent is one forwarded unit as seen by the sinks.
type PacketEvent struct {
	ID         string      `json:"id"`
	Instance   string      `json:"instance"`
	DataNumber uint32      `json:"data_number"`
	Time       time.Time   `json:"time"`
	Address    string      `json:"address"`
	Name       string      `json:"name,omitempty"`
	Type       int8        `json:"type"`
	TypeName   string      `json:"type_name"`
	Outcome    string      `json:"outcome"`
	RSSI       int         `json:"rssi"`
	Sensor     *bax.Sensor `json:"sensor,omitempty"`
	Humidity   *float64    `json:"humidity,omitempty"`
	Temp       *float64    `json:"temperature,omitempty"`
	Raw        *bax.Raw    `json:"raw,omitempty"`
	Payload    string      `json:"payload"`
}

// DeviceEvent reports a change to the device table.
type DeviceEvent struct {
	Address string `json:"address"`
	Name    string `json:"name,omitempty"`
}

// EventHandler is a callback for events.
type EventHandler func(Event)

// EventBus provides pub/sub for receiver events.
type EventBus struct {
	mu          sync.RWMutex
	handlers    map[string]map[uint64]EventHandler
	allHandlers map[uint64]EventHandler
	nextID      uint64
	logger      *slog.Logger
}

// NewEventBus creates a new event bus.
func NewEventBus(logger *slog.Logger) *EventBus {
	return &EventBus{
		handlers:    make(map[string]map[uint64]EventHandler),
		allHandlers: make(map[uint64]EventHandler),
		logger:      logger,
	}
}

// On registers a handler for a specific event type.
// Returns an unsubscribe function.
func (eb *EventBus) On(eventType string, handler EventHandler) func() {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	id := eb.nextID
	eb.nextID++
	if eb.handlers[eventType] == nil {
		eb.handlers[eventType] = make(map[uint64]EventHandler)
	}
	eb.handlers[eventType][id] = handler
	return func() {
		eb.mu.Lock()
		defer eb.mu.Unlock()
		delete(eb.handlers[eventType], id)
	}
}

// OnAll registers a handler that receives all events.
// Returns an unsubscribe function.
func (eb *EventBus) OnAll(handler EventHandler) func() {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	id := eb.nextID
	eb.nextID++
	eb.allHandlers[id] = handler
	return func() {
		eb.mu.Lock()
		defer eb.mu.Unlock()
		delete(eb.allHandlers, id)
	}
}

// Emit sends an event to all matching handlers.
// Handlers are called synchronously; a panicking handler is recovered.
func (eb *EventBus) Emit(event Event) {
	eb.mu.RLock()
	handlers := make([]EventHandler, 0, len(eb.handlers[event.Type])+len(eb.allHandlers))
	for _, h := range eb.handlers[event.Type] {
		handlers = append(handlers, h)
	}
	for _, h := range eb.allHandlers {
		handlers = append(handlers, h)
	}
	eb.mu.RUnlock()

	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					eb.logger.Error("event handler panic", "type", event.Type, "panic", r)
				}
			}()
			h(event)
		}()
	}
}
