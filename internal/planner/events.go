package planner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zero-day-ai/goap/internal/types"
)

// EventType identifies the type of planning event.
type EventType string

const (
	// EventPlanGenerated indicates a plan was produced by search.
	EventPlanGenerated EventType = "planner.plan_generated"

	// EventPatternReused indicates the fast path replayed a stored pattern.
	EventPatternReused EventType = "planner.pattern_reused"

	// EventPatternStale indicates a matched pattern failed replay
	// validation and control fell through to search.
	EventPatternStale EventType = "planner.pattern_stale"

	// EventPlanExhausted indicates no plan was found.
	EventPlanExhausted EventType = "planner.plan_exhausted"

	// EventPatternPromoted indicates a search-derived plan was persisted
	// as a candidate pattern.
	EventPatternPromoted EventType = "planner.pattern_promoted"

	// EventPromotionSuppressed indicates a quarantined agent's plan was
	// not persisted as a pattern.
	EventPromotionSuppressed EventType = "planner.promotion_suppressed"

	// EventReplanTriggered indicates the replanning monitor requested a
	// fresh plan.
	EventReplanTriggered EventType = "planner.replan_triggered"
)

// String returns the string representation of the event type.
func (t EventType) String() string {
	return string(t)
}

// Event is a planning lifecycle notification. Events let callers observe
// plan, replan, and promotion decisions without polling the store.
type Event struct {
	Type      EventType      `json:"type"`
	PlanID    types.ID       `json:"plan_id,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// EventEmitter publishes planning events to subscribers. Implementations
// must be thread-safe and must not block on slow consumers.
type EventEmitter interface {
	// Emit publishes an event to all subscribers without blocking.
	Emit(ctx context.Context, event Event) error

	// Subscribe returns a channel of events and a cleanup function that
	// must be called to release the subscription.
	Subscribe(ctx context.Context) (<-chan Event, func())

	// Close shuts down the emitter and all subscriptions.
	Close() error
}

// ChannelEventEmitter implements EventEmitter with buffered channels.
// Events are dropped for subscribers whose buffers are full.
type ChannelEventEmitter struct {
	mu          sync.RWMutex
	subscribers map[string]chan Event
	bufferSize  int
	closed      bool
}

// EmitterOption is a functional option for configuring ChannelEventEmitter.
type EmitterOption func(*ChannelEventEmitter)

// WithBufferSize sets the subscriber channel buffer. Default is 100.
func WithBufferSize(size int) EmitterOption {
	return func(e *ChannelEventEmitter) {
		e.bufferSize = size
	}
}

// NewChannelEventEmitter creates an emitter with the given options.
func NewChannelEventEmitter(opts ...EmitterOption) *ChannelEventEmitter {
	e := &ChannelEventEmitter{
		subscribers: make(map[string]chan Event),
		bufferSize:  100,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Emit publishes the event to every subscriber, dropping it for any whose
// buffer is full.
func (e *ChannelEventEmitter) Emit(_ context.Context, event Event) error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.closed {
		return fmt.Errorf("event emitter is closed")
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	for _, ch := range e.subscribers {
		select {
		case ch <- event:
		default:
			// Slow consumer; drop rather than block the planner.
		}
	}
	return nil
}

// Subscribe registers a new subscriber channel.
func (e *ChannelEventEmitter) Subscribe(_ context.Context) (<-chan Event, func()) {
	e.mu.Lock()
	defer e.mu.Unlock()

	id := uuid.New().String()
	ch := make(chan Event, e.bufferSize)

	if e.closed {
		close(ch)
		return ch, func() {}
	}

	e.subscribers[id] = ch

	cancel := func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if sub, ok := e.subscribers[id]; ok {
			delete(e.subscribers, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Close shuts down the emitter and closes all subscriber channels.
func (e *ChannelEventEmitter) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true

	for id, ch := range e.subscribers {
		delete(e.subscribers, id)
		close(ch)
	}
	return nil
}

// noopEmitter discards all events. Used when no emitter is configured.
type noopEmitter struct{}

func (noopEmitter) Emit(context.Context, Event) error { return nil }

func (noopEmitter) Subscribe(context.Context) (<-chan Event, func()) {
	ch := make(chan Event)
	close(ch)
	return ch, func() {}
}

func (noopEmitter) Close() error { return nil }
