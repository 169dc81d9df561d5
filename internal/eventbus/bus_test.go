package eventbus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishSubscribeMatchesType(t *testing.T) {
	bus := New()
	ch := bus.Subscribe(AgentDiagnosis, EventFaultDetected)

	bus.Publish(Event{Type: EventFaultDetected, Source: AgentContainment, IncidentID: "inc-1"})

	select {
	case evt := <-ch:
		assert.Equal(t, EventFaultDetected, evt.Type)
		assert.Equal(t, "inc-1", evt.IncidentID)
	case <-time.After(time.Second):
		t.Fatal("expected event was not delivered")
	}
}

func TestSubscribeAllTypesWhenUnfiltered(t *testing.T) {
	bus := New()
	ch := bus.Subscribe(AgentKnowledge)

	bus.Publish(Event{Type: EventIncidentCompleted})

	select {
	case evt := <-ch:
		require.Equal(t, EventIncidentCompleted, evt.Type)
	case <-time.After(time.Second):
		t.Fatal("expected event was not delivered")
	}
}

func TestPublishDoesNotBlockOnFullSubscriber(t *testing.T) {
	bus := New()
	bus.Subscribe(AgentMetaCognitive, EventPlanSelected)

	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBuffer+10; i++ {
			bus.Publish(Event{Type: EventPlanSelected})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a full subscriber channel")
	}
}
