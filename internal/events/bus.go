package events

import (
	"sync"

	"github.com/sirupsen/logrus"
)

var busLog = logrus.WithField("component", "event_bus")

// Handler receives every published event. Handlers that only care about a
// subset type-switch on the payload.
type Handler func(event any)

// Bus is the injected outbound sink for engine/orchestrator events.
// Dispatch is synchronous and in subscription order, at-least-once per
// subscriber. A panicking subscriber is logged and skipped so the
// emission path can never halt the core.
type Bus struct {
	mu       sync.RWMutex
	handlers []Handler
}

func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers a handler for all subsequent events.
func (b *Bus) Subscribe(h Handler) {
	if b == nil || h == nil {
		return
	}
	b.mu.Lock()
	b.handlers = append(b.handlers, h)
	b.mu.Unlock()
}

// Publish delivers the event to every subscriber. Nil bus and nil event
// are no-ops, so emit sites never need guarding.
func (b *Bus) Publish(event any) {
	if b == nil || event == nil {
		return
	}
	b.mu.RLock()
	handlers := b.handlers
	b.mu.RUnlock()

	for _, h := range handlers {
		b.dispatch(h, event)
	}
}

func (b *Bus) dispatch(h Handler, event any) {
	defer func() {
		if r := recover(); r != nil {
			busLog.Errorf("event handler panic: %v (event %T)", r, event)
		}
	}()
	h(event)
}
