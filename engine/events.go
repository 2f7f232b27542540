package engine

import "time"

// EventType identifies a lifecycle transition
type EventType string

// Possible lifecycle event types
const (
	EventSubmitted EventType = "submitted"
	EventStarted   EventType = "started"
	EventRetried   EventType = "retried"
	EventCompleted EventType = "completed"
	EventFailed    EventType = "failed"
	EventTimedOut  EventType = "timed_out"
	EventCancelled EventType = "cancelled"
	EventEvicted   EventType = "evicted"
)

// Event describes a single task lifecycle transition.
type Event struct {
	// Type is the transition that happened.
	Type EventType

	// Record is a snapshot taken at the transition.
	Record TaskRecord

	// From is the status the task held before a terminal transition or
	// start, and the terminal status itself on evictions; empty for
	// submissions and retries.
	From Status

	// Attempt is the retry number on EventRetried, zero otherwise.
	Attempt int

	// Delay is the backoff pause chosen on EventRetried, zero otherwise.
	Delay time.Duration

	// At is when the transition happened.
	At time.Time
}

// Handler receives lifecycle events. Handlers are registered at Manager
// construction and invoked synchronously from runner goroutines, so they
// must be fast and safe for concurrent use.
type Handler func(Event)

// terminalEventType maps a terminal status to its lifecycle event type.
func terminalEventType(s Status) EventType {
	switch s {
	case StatusCompleted:
		return EventCompleted
	case StatusFailed:
		return EventFailed
	case StatusTimedOut:
		return EventTimedOut
	default:
		return EventCancelled
	}
}

// emit delivers an event to every registered handler in registration order.
func (m *Manager) emit(ev Event) {
	for _, h := range m.handlers {
		h(ev)
	}
}
