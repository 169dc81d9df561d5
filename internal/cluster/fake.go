package cluster

import (
	"context"
	"sync"
	"time"

	networkingv1 "k8s.io/api/networking/v1"

	recist "github.com/recist/recist/internal/model"
)

// Fake is an in-memory Client used by agent tests so the pipeline can be
// exercised end-to-end without a real API server.
type Fake struct {
	mu           sync.Mutex
	Replicas     map[string]int32
	Resources    map[string]map[string]string
	ConfigMaps   map[string]map[string]string
	Policies     map[string]networkingv1.NetworkPolicySpec
	Events       map[string][]recist.ClusterEvent
	Siblings     map[string][]recist.Target
	CPULimits    map[string]float64
	RestartCalls []recist.Target
}

func NewFake() *Fake {
	return &Fake{
		Replicas:   map[string]int32{},
		Resources:  map[string]map[string]string{},
		ConfigMaps: map[string]map[string]string{},
		Policies:   map[string]networkingv1.NetworkPolicySpec{},
		Events:     map[string][]recist.ClusterEvent{},
		Siblings:   map[string][]recist.Target{},
		CPULimits:  map[string]float64{},
	}
}

// CPULimitCores returns the fake CPU limit set for a target's key, or a
// generous default when the test hasn't configured one.
func (f *Fake) CPULimitCores(_ context.Context, target recist.Target) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if limit, ok := f.CPULimits[target.Key()]; ok {
		return limit, nil
	}
	return 4.0, nil
}

func (f *Fake) RestartPod(_ context.Context, target recist.Target) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.RestartCalls = append(f.RestartCalls, target)
	return nil
}

func (f *Fake) ScaleDeployment(_ context.Context, target recist.Target, replicas int32) (int32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	previous := f.Replicas[target.Key()]
	f.Replicas[target.Key()] = replicas
	return previous, nil
}

func (f *Fake) PatchResources(_ context.Context, target recist.Target, cpuLimit, memLimit string) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	previous := f.Resources[target.Key()]
	f.Resources[target.Key()] = map[string]string{"cpu": cpuLimit, "mem": memLimit}
	return previous, nil
}

func (f *Fake) UpdateConfigMap(_ context.Context, namespace, name string, data map[string]string) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := namespace + "/" + name
	previous := f.ConfigMaps[key]
	f.ConfigMaps[key] = data
	return previous, nil
}

func (f *Fake) ApplyNetworkPolicy(_ context.Context, desc recist.IsolationDescriptor, spec networkingv1.NetworkPolicySpec) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Policies[desc.NetworkPolicy] = spec
	return nil
}

func (f *Fake) RevertNetworkPolicy(_ context.Context, _ string, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.Policies, name)
	return nil
}

func (f *Fake) ListEvents(_ context.Context, target recist.Target, _ time.Duration) ([]recist.ClusterEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Events[target.Key()], nil
}

func (f *Fake) ListSiblingDeployments(_ context.Context, namespace, exclude string) ([]recist.Target, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []recist.Target
	for _, t := range f.Siblings[namespace] {
		if t.Name != exclude {
			out = append(out, t)
		}
	}
	return out, nil
}

var _ Client = (*Fake)(nil)
