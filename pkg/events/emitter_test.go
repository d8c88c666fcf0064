package events

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmitterDelivers(t *testing.T) {
	e := NewEmitter(4, zerolog.Nop())
	defer e.Close()

	e.Emit(Event{Type: TypePlanCompleted, PlanCompleted: &PlanCompleted{PlanID: "p1"}})

	select {
	case ev := <-e.Events():
		assert.Equal(t, TypePlanCompleted, ev.Type)
		require.NotNil(t, ev.PlanCompleted)
		assert.Equal(t, "p1", ev.PlanCompleted.PlanID)
		assert.False(t, ev.Timestamp.IsZero(), "a missing timestamp is filled in")
	case <-time.After(time.Second):
		t.Fatal("expected an event")
	}
}

func TestEmitterKeepsExplicitTimestamp(t *testing.T) {
	e := NewEmitter(1, zerolog.Nop())
	defer e.Close()

	stamp := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	e.Emit(Event{Type: TypeItemTransition, Timestamp: stamp})

	ev := <-e.Events()
	assert.Equal(t, stamp, ev.Timestamp)
}

func TestEmitterDropsWhenFull(t *testing.T) {
	e := NewEmitter(1, zerolog.Nop())
	defer e.Close()

	e.Emit(Event{Type: TypeItemTransition})
	// No consumer; the second emit waits out the grace period and drops.
	e.Emit(Event{Type: TypeItemTransition})

	assert.Equal(t, uint64(1), e.DroppedCount())
}

func TestEmitterCloseEndsRange(t *testing.T) {
	e := NewEmitter(4, zerolog.Nop())
	e.Emit(Event{Type: TypeRoutingDecided})
	e.Close()

	n := 0
	for range e.Events() {
		n++
	}
	assert.Equal(t, 1, n)
}
