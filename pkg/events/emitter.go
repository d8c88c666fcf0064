package events

import (
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Emitter publishes engine events to a buffered channel.
type Emitter struct {
	events       chan Event
	droppedCount atomic.Uint64
	logger       zerolog.Logger
}

// NewEmitter creates an Emitter with the given buffer size.
func NewEmitter(bufferSize int, logger zerolog.Logger) *Emitter {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &Emitter{
		events: make(chan Event, bufferSize),
		logger: logger,
	}
}

// Emit sends an event to the channel. If the buffer is full it retries
// briefly, then drops the event rather than block the engine.
func (e *Emitter) Emit(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case e.events <- event:
		return
	default:
	}

	select {
	case e.events <- event:
	case <-time.After(100 * time.Millisecond):
		count := e.droppedCount.Add(1)
		if count%10 == 1 {
			e.logger.Warn().
				Str("type", string(event.Type)).
				Uint64("total_dropped", count).
				Msg("Event channel full, dropping event")
		}
	}
}

// Events returns the read-only event channel for subscribers.
func (e *Emitter) Events() <-chan Event {
	return e.events
}

// DroppedCount returns the total number of dropped events.
func (e *Emitter) DroppedCount() uint64 {
	return e.droppedCount.Load()
}

// Close closes the event channel. Call only after all publishers stopped.
func (e *Emitter) Close() {
	close(e.events)
}
