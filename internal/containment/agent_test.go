package containment

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recist/recist/internal/cluster"
	"github.com/recist/recist/internal/eventbus"
	recist "github.com/recist/recist/internal/model"
)

func TestHeadroomCoversShare(t *testing.T) {
	assert.True(t, headroomCoversShare(1.0, 0.7), "0.8 cores available after margin covers a 0.7 core share")
	assert.False(t, headroomCoversShare(1.0, 0.9), "0.8 cores available after margin does not cover a 0.9 core share")
}

// fakeMetrics returns a fixed usage series for each target key.
type fakeMetrics struct {
	usage map[string]float64
}

func (f *fakeMetrics) QueryRange(_ context.Context, promQL string, _, _ time.Duration) (recist.MetricSeries, error) {
	for key, v := range f.usage {
		if strings.Contains(promQL, key) {
			return recist.MetricSeries{Points: []recist.MetricPoint{{Value: v}}}, nil
		}
	}
	return recist.MetricSeries{}, nil
}

func TestNegotiateAcceptsNeighborWithSufficientHeadroom(t *testing.T) {
	target := recist.Target{Namespace: "prod", Kind: "Deployment", Name: "checkout"}
	roomy := recist.Target{Namespace: "prod", Kind: "Deployment", Name: "roomy"}
	tight := recist.Target{Namespace: "prod", Kind: "Deployment", Name: "tight"}

	fakeCluster := cluster.NewFake()
	fakeCluster.Siblings["prod"] = []recist.Target{target, roomy, tight}
	fakeCluster.CPULimits[roomy.Key()] = 2.0
	fakeCluster.CPULimits[tight.Key()] = 0.5

	metrics := &fakeMetrics{usage: map[string]float64{
		"checkout": 1.0, // divertedShare = 1.0 / 2 siblings = 0.5
		"roomy":    0.2, // headroom 1.8 * 0.8 = 1.44 >= 0.5 -> accepted
		"tight":    0.3, // headroom 0.2 * 0.8 = 0.16 < 0.5 -> rejected
	}}

	agent := New(fakeCluster, metrics, nil, nil, nil)
	result := agent.negotiate(context.Background(), target)

	require.Len(t, result.Accepted, 1)
	assert.Equal(t, roomy, result.Accepted[0].Target)
	require.Len(t, result.Rejected, 1)
	assert.Equal(t, tight, result.Rejected[0].Target)
}

// promqlMetrics answers a QueryRange with a fixed value for the first
// substring of promQL it recognizes, letting a test stand up distinct
// CPU/memory/error-rate/latency series without a real Prometheus client.
type promqlMetrics struct {
	values map[string]float64
}

func (p *promqlMetrics) QueryRange(_ context.Context, promQL string, _, _ time.Duration) (recist.MetricSeries, error) {
	for substr, v := range p.values {
		if strings.Contains(promQL, substr) {
			return recist.MetricSeries{Points: []recist.MetricPoint{{Value: v}}}, nil
		}
	}
	return recist.MetricSeries{}, nil
}

func TestEvaluateThresholdsDetectsHighCPU(t *testing.T) {
	target := recist.Target{Namespace: "prod", Kind: "Deployment", Name: "checkout"}
	fakeCluster := cluster.NewFake()
	fakeCluster.CPULimits[target.Key()] = 1.0

	metrics := &promqlMetrics{values: map[string]float64{
		"container_cpu_usage_seconds_total": 0.95, // 0.95 cores / 1.0 core limit = 0.95 fraction
	}}
	agent := New(fakeCluster, metrics, nil, nil, nil)

	candidates := agent.EvaluateThresholds(context.Background(), target, recist.ThresholdProfile{CPU: 0.9})
	require.Len(t, candidates, 1)
	assert.Equal(t, recist.TriggerHighCPU, candidates[0].Reason)
}

func TestEvaluateThresholdsIgnoresDisabledMetrics(t *testing.T) {
	target := recist.Target{Namespace: "prod", Kind: "Deployment", Name: "checkout"}
	fakeCluster := cluster.NewFake()
	fakeCluster.CPULimits[target.Key()] = 1.0

	metrics := &promqlMetrics{values: map[string]float64{"container_cpu_usage_seconds_total": 0.99}}
	agent := New(fakeCluster, metrics, nil, nil, nil)

	candidates := agent.EvaluateThresholds(context.Background(), target, recist.ThresholdProfile{})
	assert.Empty(t, candidates, "a zero-valued threshold field disables that metric's check")
}

func TestScanThresholdsPublishesFaultClearedOnExit(t *testing.T) {
	target := recist.Target{Namespace: "prod", Kind: "Deployment", Name: "checkout"}
	fakeCluster := cluster.NewFake()
	fakeCluster.CPULimits[target.Key()] = 1.0

	metrics := &promqlMetrics{values: map[string]float64{"container_cpu_usage_seconds_total": 0.95}}
	bus := eventbus.New()
	agent := New(fakeCluster, metrics, nil, bus, admitAllStub{})

	sub := bus.Subscribe(eventbus.AgentDiagnosis, eventbus.EventFaultDetected, eventbus.EventFaultCleared)
	profile := recist.ThresholdProfile{CPU: 0.9}

	agent.ScanThresholds(context.Background(), target, profile)
	first := <-sub
	assert.Equal(t, eventbus.EventFaultDetected, first.Type)

	metrics.values["container_cpu_usage_seconds_total"] = 0.1 // drops below threshold
	agent.ScanThresholds(context.Background(), target, profile)
	cleared := <-sub
	require.Equal(t, eventbus.EventFaultCleared, cleared.Type)
	payload, ok := cleared.Payload.(recist.FaultCleared)
	require.True(t, ok)
	assert.Equal(t, recist.TriggerHighCPU, payload.Kind)
}

type admitAllStub struct{}

func (admitAllStub) Admit(context.Context, recist.FaultSet) error { return nil }

func TestNegotiateRejectsAllWhenTargetUsageUnavailable(t *testing.T) {
	target := recist.Target{Namespace: "prod", Kind: "Deployment", Name: "checkout"}
	neighbor := recist.Target{Namespace: "prod", Kind: "Deployment", Name: "cache"}

	fakeCluster := cluster.NewFake()
	fakeCluster.Siblings["prod"] = []recist.Target{target, neighbor}

	agent := New(fakeCluster, &fakeMetrics{usage: map[string]float64{}}, nil, nil, nil)
	result := agent.negotiate(context.Background(), target)

	assert.Empty(t, result.Accepted)
	require.Len(t, result.Rejected, 1)
	assert.Equal(t, "target CPU usage unavailable", result.Rejected[0].Reason)
}
