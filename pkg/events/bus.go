// Package events provides the in-process publish/subscribe bus used by the
// generation engine to decouple event producers (scheduler, sessions) from
// consumers (a UI layer, the CLI).
package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Kind identifies an event category. Subscribers register per kind.
type Kind string

const (
	// KindTaskStateChanged fires whenever a task transitions state.
	KindTaskStateChanged Kind = "task-state-changed"

	// KindInitStarted fires when graph construction for a session begins.
	KindInitStarted Kind = "task-initialization-started"

	// KindInitProgress fires during graph construction.
	KindInitProgress Kind = "task-initialization-progress"

	// KindInitCompleted fires once the task graph has been built.
	KindInitCompleted Kind = "task-initialization-completed"

	// KindInitFailed fires when graph construction fails.
	KindInitFailed Kind = "task-initialization-failed"

	// KindGenerationProgress carries step-level progress updates.
	KindGenerationProgress Kind = "generation-progress"

	// KindGenerationComplete fires when a session reaches Completed.
	KindGenerationComplete Kind = "generation-complete"

	// KindGenerationFailed fires when a session reaches Failed or Cancelled.
	KindGenerationFailed Kind = "generation-failed"

	// KindLogMessage carries a single session log line.
	KindLogMessage Kind = "log-message"
)

// Event is a single occurrence published on the bus. Fields beyond ID, Kind,
// Timestamp and SessionID are populated per kind.
type Event struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	Timestamp time.Time `json:"timestamp"`
	SessionID string    `json:"session_id"`

	// TaskID and Status are set for task-state-changed events. Status uses
	// the wire format ("Pending", "Failed: <reason>", ...).
	TaskID string `json:"task_id,omitempty"`
	Status string `json:"status,omitempty"`

	// Step, Message and Progress are set for generation-progress events.
	// Progress is a fraction in [0,1].
	Step     string  `json:"step,omitempty"`
	Message  string  `json:"message,omitempty"`
	Progress float64 `json:"progress,omitempty"`

	// Reason is set for generation-failed and task-initialization-failed.
	Reason string `json:"reason,omitempty"`

	// TaskCount and TaskNames are set for task-initialization-completed.
	TaskCount int               `json:"task_count,omitempty"`
	TaskNames map[string]string `json:"task_names,omitempty"`
}

// NewEvent creates an event with a fresh ID and timestamp.
func NewEvent(kind Kind, sessionID string) Event {
	return Event{
		ID:        uuid.New().String(),
		Kind:      kind,
		Timestamp: time.Now(),
		SessionID: sessionID,
	}
}

// Handler receives published events. Handlers run synchronously on the
// publisher's goroutine, in subscription order.
type Handler func(Event)

type subscriber struct {
	id      int
	handler Handler
}

// Bus is an in-process pub/sub bus. Delivery is at-most-once, best-effort:
// there is no persistence or replay, and a subscriber that attaches after an
// event fired will not receive it. Subscribe and Unsubscribe are safe to call
// concurrently with Publish; Publish operates on a snapshot of the subscriber
// list taken at publish time.
type Bus struct {
	mu     sync.RWMutex
	subs   map[Kind][]subscriber
	nextID int
	logger zerolog.Logger
}

// NewBus creates an empty bus.
func NewBus(logger zerolog.Logger) *Bus {
	return &Bus{
		subs:   make(map[Kind][]subscriber),
		logger: logger.With().Str("component", "event_bus").Logger(),
	}
}

// Subscribe registers a handler for one event kind and returns a function
// that removes the subscription. Multiple independent subscribers per kind
// are allowed; handlers are invoked in subscription order.
func (b *Bus) Subscribe(kind Kind, handler Handler) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[kind] = append(b.subs[kind], subscriber{id: id, handler: handler})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		list := b.subs[kind]
		for i, s := range list {
			if s.id == id {
				b.subs[kind] = append(list[:i:i], list[i+1:]...)
				break
			}
		}
	}
}

// Publish delivers an event to every subscriber of its kind. A panicking
// handler does not prevent the remaining handlers from running and never
// crashes the publisher.
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	snapshot := make([]subscriber, len(b.subs[event.Kind]))
	copy(snapshot, b.subs[event.Kind])
	b.mu.RUnlock()

	for _, s := range snapshot {
		b.dispatch(s, event)
	}
}

func (b *Bus) dispatch(s subscriber, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error().
				Str("kind", string(event.Kind)).
				Str("session_id", event.SessionID).
				Interface("panic", r).
				Msg("event handler panicked")
		}
	}()
	s.handler(event)
}
