package metacognitive

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recist/recist/internal/cluster"
	recist "github.com/recist/recist/internal/model"
)

func TestSelectPlanPrefersHighestConfidenceAboveThreshold(t *testing.T) {
	plans := []recist.Plan{
		{ID: "a", Confidence: 0.4, Strategy: recist.StrategyPodRestart},
		{ID: "b", Confidence: 0.8, Strategy: recist.StrategyDependencyRestart},
		{ID: "c", Confidence: 0.8, Strategy: recist.StrategyPodRestart},
	}

	selected, ok := SelectPlan(plans, 0.5)
	require.True(t, ok)
	assert.Equal(t, "c", selected.ID, "ties on confidence should prefer the lower-ranked strategy class")
}

func TestSelectPlanBreaksTieOnDurationThenID(t *testing.T) {
	plans := []recist.Plan{
		// both ConfigUpdate (same rank), so this tier decides by duration:
		// ConfigUpdate is fixed at 60s for both, so it falls through to id.
		{ID: "z", Confidence: 0.9, Strategy: recist.StrategyConfigUpdate},
		{ID: "a", Confidence: 0.9, Strategy: recist.StrategyConfigUpdate},
	}
	selected, ok := SelectPlan(plans, 0.5)
	require.True(t, ok)
	assert.Equal(t, "a", selected.ID, "equal confidence and strategy class should fall through to lexicographic id")
}

func TestSelectPlanBreaksTieOnStrategyRank(t *testing.T) {
	plans := []recist.Plan{
		{ID: "a", Confidence: 0.9, Strategy: recist.StrategyHorizontalScale},  // rank 2, 60s
		{ID: "b", Confidence: 0.9, Strategy: recist.StrategyConfigUpdate},     // rank 3, 60s
	}
	selected, ok := SelectPlan(plans, 0.5)
	require.True(t, ok)
	assert.Equal(t, "a", selected.ID, "the lower strategy-class rank should win ahead of duration or id")
}

func TestSelectPlanReturnsFalseWhenNoneClearThreshold(t *testing.T) {
	plans := []recist.Plan{{ID: "a", Confidence: 0.2}}
	_, ok := SelectPlan(plans, 0.5)
	assert.False(t, ok)
}

func TestExecuteStopsAtFirstFailureAndRecordsEachAction(t *testing.T) {
	fake := cluster.NewFake()
	fake.Replicas["prod/Deployment/checkout"] = 2

	recorder := &fakeRecorder{}
	agent := New(nil, fake, nil, recorder)

	target := recist.Target{Namespace: "prod", Kind: "Deployment", Name: "checkout"}
	plan := recist.Plan{
		ID:         "plan-1",
		IncidentID: "inc-1",
		Actions: []recist.Action{
			{ID: "act-1", Strategy: recist.StrategyHorizontalScale, Target: target, Params: map[string]string{"replicas": "4"}},
			{ID: "act-2", Strategy: recist.StrategyType("Unsupported"), Target: target},
			{ID: "act-3", Strategy: recist.StrategyPodRestart, Target: target},
		},
	}

	applied := agent.Execute(context.Background(), "inc-1", plan)

	require.Len(t, applied, 2, "execution should stop after the second action fails")
	assert.True(t, applied[0].Succeeded)
	assert.False(t, applied[1].Succeeded)
	assert.NotEmpty(t, applied[1].Error)
	assert.Len(t, recorder.records, 4, "each action is recorded once before dispatch and once after")
	assert.Equal(t, int32(4), fake.Replicas[target.Key()])
}

func TestUnwindAppliesCompensatingActionsInReverse(t *testing.T) {
	fake := cluster.NewFake()
	target := recist.Target{Namespace: "prod", Kind: "Deployment", Name: "checkout"}
	agent := New(nil, fake, nil, nil)

	applied := []recist.AppliedAction{
		{
			Succeeded: true,
			Action: recist.Action{
				ID: "act-1", Strategy: recist.StrategyHorizontalScale, Target: target,
				Compensate: &recist.Action{ID: "comp-1", Strategy: recist.StrategyHorizontalScale, Target: target, Params: map[string]string{"replicas": "1"}},
			},
		},
		{Succeeded: false, Action: recist.Action{ID: "act-2", Strategy: recist.StrategyPodRestart, Target: target}},
	}

	agent.Unwind(context.Background(), "inc-1", applied)

	assert.Equal(t, int32(1), fake.Replicas[target.Key()], "only the succeeded action's compensate should run")
}

func TestCompensatingActionHasNoInverseForPodRestart(t *testing.T) {
	forward := recist.Action{Strategy: recist.StrategyPodRestart}
	assert.Nil(t, compensatingAction(forward))
}

type fakeRecorder struct {
	records []recist.AppliedAction
}

func (f *fakeRecorder) RecordAppliedAction(_ context.Context, _ string, applied recist.AppliedAction) error {
	f.records = append(f.records, applied)
	return nil
}

// roundCountingLLM returns an increasing-confidence plan on each
// successive call for a given angle, so the reason-and-gather loop's
// monotonicity and early-stop-at-target-confidence behavior can be
// exercised deterministically.
type roundCountingLLM struct {
	mu           sync.Mutex
	callsByAngle map[string]int
}

func (r *roundCountingLLM) Complete(_ context.Context, system string, _ string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.callsByAngle == nil {
		r.callsByAngle = map[string]int{}
	}
	r.callsByAngle[system]++
	confidence := 0.5 + float64(r.callsByAngle[system])*0.2
	if confidence > 1 {
		confidence = 1
	}
	return fmt.Sprintf(
		`{"strategy":"PodRestart","rationale":"round","confidence":%.2f,"actions":[{"strategy":"PodRestart","target":{"namespace":"prod","kind":"Deployment","name":"checkout"}}]}`,
		confidence), nil
}
func (r *roundCountingLLM) Embed(context.Context, string) ([]float32, error) { return nil, nil }
func (r *roundCountingLLM) Name() string                                     { return "fake" }

func TestProposePlansRunsMicroAgentsConcurrentlyAndStopsAtTargetConfidence(t *testing.T) {
	fake := cluster.NewFake()
	llm := &roundCountingLLM{}
	agent := New(llm, fake, nil, nil)

	diagnosis := recist.Diagnosis{IncidentID: "inc-1", Hypothesis: "oom", RootCause: recist.Target{Name: "checkout"}}
	plans := agent.ProposePlans(context.Background(), diagnosis, recist.FaultSet{}, 2, nil)

	require.Len(t, plans, 2)
	for _, p := range plans {
		assert.GreaterOrEqual(t, p.Confidence, microAgentTargetConfidence)
	}
}

func TestProposePlansPrunesActionsForbiddenByPolicy(t *testing.T) {
	fake := cluster.NewFake()
	llm := &roundCountingLLM{}
	agent := New(llm, fake, nil, nil)

	diagnosis := recist.Diagnosis{IncidentID: "inc-1"}
	plans := agent.ProposePlans(context.Background(), diagnosis, recist.FaultSet{}, 1, []recist.StrategyType{recist.StrategyHorizontalScale})

	assert.Empty(t, plans, "every proposed action is PodRestart, which the allowlist forbids")
}
