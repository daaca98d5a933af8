package events

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

type Type string

const (
	StockChanged  Type = "stockChanged"
	SaleCompleted Type = "saleCompleted"
	DrawerChanged Type = "drawerChanged"
	LowStock      Type = "lowStock"
)

type Event struct {
	Type       Type      `json:"type"`
	RegisterID string    `json:"registerId,omitempty"`
	Detail     any       `json:"detail,omitempty"`
	At         time.Time `json:"at"`
}

type Handler func(Event)

// Sink forwards events outside the process. Delivery is best effort.
type Sink interface {
	Deliver(ctx context.Context, event Event) error
}

// Bus is a process-wide publish/subscribe channel. Publishing is
// fire-and-forget: handlers run synchronously in subscription order, a
// panicking handler is isolated, and sink failures are only logged.
type Bus struct {
	mu     sync.RWMutex
	nextID uint64
	subs   []subscription
	sinks  []Sink
	logger *zap.Logger
	now    func() time.Time
}

func NewBus(logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		logger: logger.Named("events"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

type subscription struct {
	id        uint64
	eventType Type
	all       bool
	handler   Handler
}

// Subscribe registers a handler for one event type and returns a function
// that removes it.
func (b *Bus) Subscribe(eventType Type, handler Handler) func() {
	return b.add(subscription{eventType: eventType, handler: handler})
}

// SubscribeAll registers a handler that receives every event.
func (b *Bus) SubscribeAll(handler Handler) func() {
	return b.add(subscription{all: true, handler: handler})
}

func (b *Bus) add(sub subscription) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub.id = b.nextID
	b.subs = append(b.subs, sub)

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, existing := range b.subs {
			if existing.id == sub.id {
				b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
				return
			}
		}
	}
}

func (b *Bus) AddSink(sink Sink) {
	if sink == nil {
		return
	}
	b.mu.Lock()
	b.sinks = append(b.sinks, sink)
	b.mu.Unlock()
}

func (b *Bus) Publish(ctx context.Context, event Event) {
	if b == nil {
		return
	}
	if event.At.IsZero() {
		event.At = b.now()
	}

	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subs))
	for _, sub := range b.subs {
		if sub.all || sub.eventType == event.Type {
			handlers = append(handlers, sub.handler)
		}
	}
	sinks := append([]Sink(nil), b.sinks...)
	b.mu.RUnlock()

	for _, h := range handlers {
		b.dispatch(h, event)
	}
	for _, sink := range sinks {
		if err := sink.Deliver(ctx, event); err != nil {
			b.logger.Warn("event sink delivery failed",
				zap.String("type", string(event.Type)),
				zap.String("register_id", event.RegisterID),
				zap.Error(err),
			)
		}
	}
}

func (b *Bus) dispatch(h Handler, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				zap.String("type", string(event.Type)),
				zap.Any("panic", r),
			)
		}
	}()
	h(event)
}
