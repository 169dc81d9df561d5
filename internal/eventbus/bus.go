// Package eventbus implements the star-topology message bus that
// carries Event values between the four agents and the Incident
// Orchestrator. It is a Go rendering of the broadcast-channel bus in
// the original operator's eventbus package: every subscriber gets its
// own buffered channel and a full channel drops the event rather than
// blocking the publisher, with a warning logged instead of the
// original's "lagged receiver" notice.
package eventbus

import (
	"sync"

	"github.com/rs/zerolog/log"
)

const subscriberBuffer = 1024

// AgentType names one of the four cooperating agents or the
// orchestrator itself, used both as a routing label and as a log field.
type AgentType string

const (
	AgentContainment    AgentType = "containment"
	AgentDiagnosis      AgentType = "diagnosis"
	AgentMetaCognitive  AgentType = "metacognitive"
	AgentKnowledge      AgentType = "knowledge"
	AgentOrchestrator   AgentType = "orchestrator"
)

// EventType enumerates the kinds of events the bus carries.
type EventType string

const (
	EventFaultDetected      EventType = "FaultDetected"
	EventFaultCleared       EventType = "FaultCleared"
	EventIsolationApplied   EventType = "IsolationApplied"
	EventIsolationReverted  EventType = "IsolationReverted"
	EventDiagnosisReady     EventType = "DiagnosisReady"
	EventDiagnosisFailed    EventType = "DiagnosisFailed"
	EventPlanSelected       EventType = "PlanSelected"
	EventActionApplied      EventType = "ActionApplied"
	EventVerificationResult EventType = "VerificationResult"
	EventIncidentCompleted  EventType = "IncidentCompleted"
	EventIncidentFailed     EventType = "IncidentFailed"
	EventKnowledgeRecorded  EventType = "KnowledgeRecorded"
	EventProactiveAdvisory  EventType = "ProactiveAdvisory"
)

// Event is the envelope every message on the bus carries. Payload holds
// one of the model types (model.FaultSet, model.Diagnosis, model.Plan,
// model.Incident, ...); consumers type-assert on EventType.
type Event struct {
	Type       EventType
	Source     AgentType
	IncidentID string
	Payload    any
}

// Bus is a fan-out publish/subscribe channel registry. The zero value is
// not usable; construct with New.
type Bus struct {
	mu   sync.RWMutex
	subs map[AgentType][]subscription
}

type subscription struct {
	types []EventType
	ch    chan Event
}

func New() *Bus {
	return &Bus{subs: make(map[AgentType][]subscription)}
}

// Subscribe registers agent as a listener for the given event types (an
// empty list means all types) and returns a receive channel. Multiple
// calls for the same agent add independent subscriptions.
func (b *Bus) Subscribe(agent AgentType, types ...EventType) <-chan Event {
	ch := make(chan Event, subscriberBuffer)
	b.mu.Lock()
	b.subs[agent] = append(b.subs[agent], subscription{types: types, ch: ch})
	b.mu.Unlock()
	return ch
}

// Publish fans an event out to every matching subscriber. A subscriber
// whose channel is full has the event dropped for it, with a warning
// logged, rather than blocking the publisher.
func (b *Bus) Publish(evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for agent, subs := range b.subs {
		for _, sub := range subs {
			if !sub.matches(evt.Type) {
				continue
			}
			select {
			case sub.ch <- evt:
			default:
				log.Warn().Str("agent", string(agent)).Str("event", string(evt.Type)).
					Msg("event bus subscriber lagged, dropping event")
			}
		}
	}
}

func (s subscription) matches(t EventType) bool {
	if len(s.types) == 0 {
		return true
	}
	for _, want := range s.types {
		if want == t {
			return true
		}
	}
	return false
}

// SubscriberCount reports how many independent subscriptions are
// currently registered, mirroring the original bus's diagnostic hook.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := 0
	for _, subs := range b.subs {
		n += len(subs)
	}
	return n
}
