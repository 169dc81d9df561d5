package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recist/recist/internal/cluster"
	"github.com/recist/recist/internal/containment"
	"github.com/recist/recist/internal/diagnosis"
	"github.com/recist/recist/internal/eventbus"
	"github.com/recist/recist/internal/metacognitive"
	recist "github.com/recist/recist/internal/model"
	"github.com/recist/recist/internal/telemetry"
)

func TestContainmentModeEscalatesOnlyForCritical(t *testing.T) {
	assert.Equal(t, recist.IsolationHard, containmentMode(recist.SeverityCritical))
	assert.Equal(t, recist.IsolationSoft, containmentMode(recist.SeverityHigh))
	assert.Equal(t, recist.IsolationSoft, containmentMode(recist.SeverityLow))
}

func TestTransitionRejectsIllegalPhaseJump(t *testing.T) {
	o := &Orchestrator{}
	in := &recist.Incident{ID: "inc-1", Phase: recist.PhasePending}
	err := o.transition(context.Background(), in, recist.PhaseExecuting)
	assert.Error(t, err, "Pending cannot jump straight to Executing")
}

func TestNeighborTargetsOnlyIncludesAccepted(t *testing.T) {
	accepted := recist.Target{Namespace: "prod", Kind: "Deployment", Name: "cache"}
	desc := &recist.IsolationDescriptor{
		Negotiation: recist.NeighborNegotiationResult{
			Accepted: []recist.AcceptingNeighbor{{Target: accepted, Fraction: 0.5}},
			Rejected: []recist.RejectedNeighbor{{Target: recist.Target{Name: "stressed"}, Reason: "warning event"}},
		},
	}
	got := neighborTargets(desc)
	require.Len(t, got, 1)
	assert.Equal(t, accepted, got[0])
	assert.Nil(t, neighborTargets(nil))
}

// wiredOrchestrator builds a full orchestrator over fakes, the same
// two-step construction cmd/recist/main.go uses to break the
// containment/orchestrator constructor cycle.
func wiredOrchestrator(t *testing.T) (*Orchestrator, *cluster.Fake) {
	t.Helper()
	fakeCluster := cluster.NewFake()
	bus := eventbus.New()
	containmentAgent := containment.New(fakeCluster, nil, nil, bus, nil)
	diagAgent := diagnosis.New(nil, nil, nil, nil, &fakeLLM{})
	metaAgent := metacognitive.New(&fakeLLM{}, fakeCluster, bus, nil)

	orch := New(nil, containmentAgent, diagAgent, metaAgent, nil, bus, nil, recist.DefaultPolicy())
	containmentAgent.SetAdmitter(orch)
	return orch, fakeCluster
}

type fakeLLM struct{}

func (fakeLLM) Complete(context.Context, string, string) (string, error) { return "{}", nil }
func (fakeLLM) Embed(context.Context, string) ([]float32, error)         { return []float32{0.1}, nil }
func (fakeLLM) Name() string                                             { return "fake" }

func TestFailureReasonMapsKnownTypes(t *testing.T) {
	assert.Equal(t, recist.FailureLowConfidence,
		failureReason(&recist.DiagnosisInconclusive{Target: "prod/Deployment/checkout", Reason: recist.FailureLowConfidence}))

	assert.Equal(t, recist.FailureNoViablePlan,
		failureReason(fmt.Errorf("%w: 0.75", ErrNoViablePlan)))

	assert.Equal(t, recist.FailureActionError,
		failureReason(&recist.ActionError{ActionID: "act-1", Err: errors.New("boom")}))

	assert.Equal(t, "some other failure", failureReason(errors.New("some other failure")))
}

func TestCheckHealthyReportsUnhealthyOnRecurringEvent(t *testing.T) {
	target := recist.Target{Namespace: "prod", Kind: "Deployment", Name: "checkout"}
	fakeCluster := cluster.NewFake()
	fakeCluster.Events[target.Key()] = []recist.ClusterEvent{{Reason: "CrashLoopBackOff", Type: "Warning"}}

	bus := eventbus.New()
	containmentAgent := containment.New(fakeCluster, nil, nil, bus, nil)
	eventsAdapter := telemetry.NewEventsAdapter(fakeCluster)
	diagAgent := diagnosis.New(nil, nil, eventsAdapter, nil, &fakeLLM{})
	metaAgent := metacognitive.New(&fakeLLM{}, fakeCluster, bus, nil)

	orch := New(nil, containmentAgent, diagAgent, metaAgent, nil, bus, nil, recist.DefaultPolicy())
	containmentAgent.SetAdmitter(orch)

	in := &recist.Incident{ID: "inc-1", Target: target}
	healthy, err := orch.checkHealthy(context.Background(), in)
	require.NoError(t, err)
	assert.False(t, healthy, "a recurring CrashLoopBackOff event should fail verification")
}

func TestCheckHealthyReportsHealthyWithNoFaultSignal(t *testing.T) {
	target := recist.Target{Namespace: "prod", Kind: "Deployment", Name: "checkout"}
	orch, _ := wiredOrchestrator(t)

	in := &recist.Incident{ID: "inc-1", Target: target}
	healthy, err := orch.checkHealthy(context.Background(), in)
	require.NoError(t, err)
	assert.True(t, healthy)
}

func TestClaimAndReleaseTrackActiveIncidentPerTarget(t *testing.T) {
	orch, _ := wiredOrchestrator(t)
	target := recist.Target{Namespace: "prod", Kind: "Deployment", Name: "checkout"}

	orch.claim(target.Key(), "inc-1")
	orch.mu.Lock()
	got, exists := orch.active[target.Key()]
	orch.mu.Unlock()
	require.True(t, exists)
	assert.Equal(t, "inc-1", got)

	orch.release(target.Key())
	orch.mu.Lock()
	_, exists = orch.active[target.Key()]
	orch.mu.Unlock()
	assert.False(t, exists, "release should clear the target's active-incident claim")
}
