package agent

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// EventKind identifies a turn-lifecycle event.
type EventKind string

const (
	EventTurnStarted       EventKind = "turn_started"
	EventToolDispatched    EventKind = "tool_dispatched"
	EventToolCompleted     EventKind = "tool_completed"
	EventTurnCompleted     EventKind = "turn_completed"
	EventTurnAborted       EventKind = "turn_aborted"
	EventContextCompressed EventKind = "context_compressed"
	EventWarning           EventKind = "warning"
	EventError             EventKind = "error"
)

// Event is a typed notification emitted during turn processing. Hosts
// consume events to render progress; the core never blocks on them.
type Event struct {
	Kind      EventKind
	SessionID string
	Timestamp time.Time
	Data      map[string]interface{}
}

// EventEmitter fans events out to a single buffered channel. When the
// consumer falls behind and the buffer fills, events are dropped rather
// than stalling the loop.
type EventEmitter struct {
	sessionID string
	ch        chan Event
	logger    zerolog.Logger
	closeOnce sync.Once
	mu        sync.Mutex
	closed    bool
}

func NewEventEmitter(sessionID string, buffer int, logger zerolog.Logger) *EventEmitter {
	if buffer <= 0 {
		buffer = 128
	}
	return &EventEmitter{
		sessionID: sessionID,
		ch:        make(chan Event, buffer),
		logger:    logger.With().Str("component", "events").Logger(),
	}
}

// Events returns the channel hosts read from. It is closed by Close.
func (e *EventEmitter) Events() <-chan Event {
	return e.ch
}

// Emit publishes an event without blocking.
func (e *EventEmitter) Emit(kind EventKind, data map[string]interface{}) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}

	evt := Event{
		Kind:      kind,
		SessionID: e.sessionID,
		Timestamp: time.Now(),
		Data:      data,
	}
	select {
	case e.ch <- evt:
	default:
		e.logger.Debug().Str("kind", string(kind)).Msg("event buffer full, dropping event")
	}
}

// Close shuts the event channel. Safe to call more than once.
func (e *EventEmitter) Close() {
	e.closeOnce.Do(func() {
		e.mu.Lock()
		e.closed = true
		e.mu.Unlock()
		close(e.ch)
	})
}
