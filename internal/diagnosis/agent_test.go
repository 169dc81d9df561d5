package diagnosis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	recist "github.com/recist/recist/internal/model"
)

type fakeProvider struct {
	completion string
	err        error
}

func (f *fakeProvider) Complete(_ context.Context, _, _ string) (string, error) {
	return f.completion, f.err
}
func (f *fakeProvider) Embed(_ context.Context, _ string) ([]float32, error) {
	return []float32{0.1, 0.2, 0.3}, nil
}
func (f *fakeProvider) Name() string { return "fake" }

func TestBuildSubgraphDrawsPatternEdgeAcrossTargets(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	upstream := recist.Target{Namespace: "prod", Kind: "Deployment", Name: "billing"}
	downstream := recist.Target{Namespace: "prod", Kind: "Deployment", Name: "checkout"}

	slice := recist.TelemetrySlice{
		Target:      downstream,
		Window:      10 * time.Minute,
		AssembledAt: base.Add(5 * time.Minute),
		Logs: map[string][]recist.LogLine{
			upstream.Key():   {{Time: base, Level: "error", Message: "OOMKilled container db"}},
			downstream.Key(): {{Time: base.Add(2 * time.Minute), Level: "error", Message: "CrashLoopBackOff"}},
		},
		Neighbors: []recist.Target{upstream},
	}

	agent := New(nil, nil, nil, nil, &fakeProvider{})
	subgraph := agent.BuildSubgraph(downstream, slice)

	require.Len(t, subgraph.Nodes, 2)
	require.Len(t, subgraph.Edges, 1)
	assert.Equal(t, subgraph.Nodes[0].ID, subgraph.Edges[0].Cause)
	assert.Equal(t, subgraph.Nodes[1].ID, subgraph.Edges[0].Effect)
	assert.Equal(t, upstream, subgraph.Root, "the only in-degree-0 node is the upstream one")
	assert.Contains(t, subgraph.Edges[0].Rationale, "known pattern")
}

func TestBuildSubgraphDropsEdgeWithoutAnyRule(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	target := recist.Target{Namespace: "prod", Kind: "Deployment", Name: "checkout"}
	neighbor := recist.Target{Namespace: "prod", Kind: "Deployment", Name: "cache"}

	slice := recist.TelemetrySlice{
		Target:      target,
		Window:      10 * time.Minute,
		AssembledAt: base.Add(10 * time.Minute),
		Logs: map[string][]recist.LogLine{
			neighbor.Key(): {{Time: base, Level: "warn", Message: "slow query"}},
			target.Key():   {{Time: base.Add(5 * time.Minute), Level: "error", Message: "unrelated failure"}},
		},
		Neighbors: []recist.Target{neighbor},
	}

	agent := New(nil, nil, nil, nil, &fakeProvider{})
	subgraph := agent.BuildSubgraph(target, slice)

	assert.Empty(t, subgraph.Edges, "different targets, >1s apart, and no known pattern should draw no edge")
}

func TestBuildSubgraphDrawsSourceIdentityEdgeWithinSameTarget(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	target := recist.Target{Namespace: "prod", Kind: "Deployment", Name: "checkout"}

	slice := recist.TelemetrySlice{
		Target:      target,
		Window:      10 * time.Minute,
		AssembledAt: base.Add(10 * time.Minute),
		Logs: map[string][]recist.LogLine{
			target.Key(): {
				{Time: base, Level: "warn", Message: "first anomaly"},
				{Time: base.Add(5 * time.Minute), Level: "error", Message: "second anomaly"},
			},
		},
	}

	agent := New(nil, nil, nil, nil, &fakeProvider{})
	subgraph := agent.BuildSubgraph(target, slice)

	require.Len(t, subgraph.Edges, 1)
	assert.Contains(t, subgraph.Edges[0].Rationale, "source identity")
}

func TestBuildSubgraphNodeWeightDecaysWithAge(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	target := recist.Target{Namespace: "prod", Kind: "Deployment", Name: "checkout"}

	slice := recist.TelemetrySlice{
		Target:      target,
		Window:      10 * time.Minute,
		AssembledAt: base.Add(2 * time.Minute),
		Logs: map[string][]recist.LogLine{
			target.Key(): {{Time: base, Level: "error", Message: "stale anomaly"}},
		},
	}

	agent := New(nil, nil, nil, nil, &fakeProvider{})
	subgraph := agent.BuildSubgraph(target, slice)

	require.Len(t, subgraph.Nodes, 1)
	assert.Less(t, subgraph.Nodes[0].Weight, 1.0, "a 2-minute-old single observation should have decayed past its base frequency of 1")
	assert.Greater(t, subgraph.Nodes[0].Weight, 0.0)
}

// scriptedProvider stubs Complete to return a scripted sequence of
// responses, one per call, so a test can assert Diagnose's retry
// happened by checking the call count.
type scriptedProvider struct {
	responses []string
	errs      []error
	calls     int
}

func (s *scriptedProvider) Complete(_ context.Context, _, _ string) (string, error) {
	i := s.calls
	s.calls++
	var resp string
	var err error
	if i < len(s.responses) {
		resp = s.responses[i]
	}
	if i < len(s.errs) {
		err = s.errs[i]
	}
	return resp, err
}
func (s *scriptedProvider) Embed(_ context.Context, _ string) ([]float32, error) {
	return []float32{0.1, 0.2, 0.3}, nil
}
func (s *scriptedProvider) Name() string { return "fake" }

func TestDiagnoseRetriesOnceOnLowConfidence(t *testing.T) {
	target := recist.Target{Namespace: "prod", Kind: "Deployment", Name: "checkout"}
	provider := &scriptedProvider{
		responses: []string{
			`{"hypothesis": "maybe", "confidence": 0.3}`,
			`{"hypothesis": "root cause found", "confidence": 0.9}`,
		},
	}
	agent := New(nil, nil, nil, nil, provider)

	dx, err := agent.Diagnose(context.Background(), "inc-1", target, recist.FaultSet{}, nil, time.Minute, 0.7, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, provider.calls, "a below-threshold first attempt should trigger exactly one retry")
	assert.Equal(t, 0.9, dx.Confidence)
}

func TestDiagnoseReturnsInconclusiveWhenRetryAlsoFallsShort(t *testing.T) {
	target := recist.Target{Namespace: "prod", Kind: "Deployment", Name: "checkout"}
	provider := &scriptedProvider{
		responses: []string{
			`{"hypothesis": "maybe", "confidence": 0.2}`,
			`{"hypothesis": "still unsure", "confidence": 0.4}`,
		},
	}
	agent := New(nil, nil, nil, nil, provider)

	_, err := agent.Diagnose(context.Background(), "inc-1", target, recist.FaultSet{}, nil, time.Minute, 0.7, 0)
	require.Error(t, err)
	var inconclusive *recist.DiagnosisInconclusive
	require.ErrorAs(t, err, &inconclusive)
	assert.Equal(t, recist.FailureLowConfidence, inconclusive.Reason)
	assert.Equal(t, 2, provider.calls)
}

func TestDiagnoseReturnsInconclusiveWhenRetryFailsToParse(t *testing.T) {
	target := recist.Target{Namespace: "prod", Kind: "Deployment", Name: "checkout"}
	provider := &scriptedProvider{
		responses: []string{
			`not json`,
			`also not json`,
		},
	}
	agent := New(nil, nil, nil, nil, provider)

	_, err := agent.Diagnose(context.Background(), "inc-1", target, recist.FaultSet{}, nil, time.Minute, 0.7, 0)
	require.Error(t, err)
	var inconclusive *recist.DiagnosisInconclusive
	require.ErrorAs(t, err, &inconclusive)
	assert.Equal(t, 2, provider.calls)
}

func TestClamp(t *testing.T) {
	assert.Equal(t, 0.0, clamp(-1, 0, 1))
	assert.Equal(t, 1.0, clamp(2, 0, 1))
	assert.Equal(t, 0.5, clamp(0.5, 0, 1))
}
