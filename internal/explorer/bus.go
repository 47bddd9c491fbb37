// internal/explorer/bus.go
package explorer

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-explorer/api/schemas"
)

const defaultEventBuffer = 256

var allEventTypes = []schemas.EventType{
	schemas.EventStateVisited,
	schemas.EventActionPerformed,
	schemas.EventActionFailed,
	schemas.EventIssueFound,
	schemas.EventRunFinished,
}

// EventBus fans run events out to subscribers. Publishing never blocks the
// engine: an event for a full subscriber is dropped and counted.
type EventBus struct {
	logger *zap.Logger

	mu          sync.RWMutex
	subscribers map[schemas.EventType][]chan schemas.Event
	bufferSize  int
	closed      bool

	dropped atomic.Uint64
}

// NewEventBus creates a bus whose subscriber channels hold bufferSize events.
func NewEventBus(logger *zap.Logger, bufferSize int) *EventBus {
	if bufferSize <= 0 {
		bufferSize = defaultEventBuffer
	}
	return &EventBus{
		logger:      logger.Named("event_bus"),
		subscribers: make(map[schemas.EventType][]chan schemas.Event),
		bufferSize:  bufferSize,
	}
}

// Subscribe returns a channel receiving the given event types (all types when
// none are named) and a function that unsubscribes and closes the channel.
func (b *EventBus) Subscribe(types ...schemas.EventType) (<-chan schemas.Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan schemas.Event, b.bufferSize)
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	if len(types) == 0 {
		types = allEventTypes
	}
	for _, t := range types {
		b.subscribers[t] = append(b.subscribers[t], ch)
	}

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if b.closed {
				return
			}
			for _, t := range types {
				subs := b.subscribers[t]
				for i, c := range subs {
					if c == ch {
						b.subscribers[t] = append(subs[:i:i], subs[i+1:]...)
						break
					}
				}
			}
			close(ch)
		})
	}
	return ch, unsubscribe
}

// Publish stamps and delivers an event without blocking.
func (b *EventBus) Publish(t schemas.EventType, payload interface{}) {
	ev := schemas.Event{ID: uuid.NewString(), Timestamp: time.Now().UTC(), Type: t, Payload: payload}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, ch := range b.subscribers[t] {
		select {
		case ch <- ev:
		default:
			if n := b.dropped.Add(1); n == 1 || n%100 == 0 {
				b.logger.Warn("Subscriber buffer full, dropping events.", zap.String("type", string(t)), zap.Uint64("dropped_total", n))
			}
		}
	}
}

// Dropped reports how many deliveries were skipped because a subscriber was full.
func (b *EventBus) Dropped() uint64 { return b.dropped.Load() }

// Close closes every subscriber channel. Further publishes are ignored.
func (b *EventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	unique := make(map[chan schemas.Event]struct{})
	for _, subs := range b.subscribers {
		for _, ch := range subs {
			unique[ch] = struct{}{}
		}
	}
	for ch := range unique {
		close(ch)
	}
	b.subscribers = make(map[schemas.EventType][]chan schemas.Event)
}
