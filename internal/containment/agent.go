// Package containment is the Containment Agent: the pipeline's entry
// point. It admits fault records (from its own periodic scan or the
// Alertmanager webhook), groups them per target into a FaultSet, applies
// Soft or Hard isolation via a NetworkPolicy, and negotiates load
// diversion with neighboring workloads sharing the isolated target's
// namespace, gated on each neighbor's current CPU headroom, before
// handing the FaultSet to the orchestrator.
package containment

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/recist/recist/internal/cache"
	"github.com/recist/recist/internal/cluster"
	"github.com/recist/recist/internal/eventbus"
	"github.com/recist/recist/internal/metrics"
	recist "github.com/recist/recist/internal/model"
)

// admissionTTL bounds how long a fault fingerprint is remembered for
// deduplication, long enough to span one policy check interval.
const admissionTTL = 5 * time.Minute

// neighborSafetyMargin is the fraction of a neighbor's CPU headroom
// that negotiation is allowed to offer up: a neighbor is eligible only
// if its headroom, after reserving the remaining 20%, still covers the
// diverted share.
const neighborSafetyMargin = 0.8

// Admitter is what the orchestrator implements to accept a de-duplicated
// FaultSet for a target that has no active incident.
type Admitter interface {
	Admit(ctx context.Context, faultSet recist.FaultSet) error
}

// MetricsQuerier is the slice of telemetry.MetricsAdapter that neighbor
// negotiation needs; *telemetry.MetricsAdapter satisfies it directly.
type MetricsQuerier interface {
	QueryRange(ctx context.Context, promQL string, window, step time.Duration) (recist.MetricSeries, error)
}

type Agent struct {
	cluster  cluster.Client
	metrics  MetricsQuerier
	cache    *cache.Client
	bus      *eventbus.Bus
	admitter Admitter

	thresholdMu sync.Mutex
	// openThresholdFaults tracks, per target, which trigger kinds this
	// agent's own threshold scan currently believes are firing, so the
	// next scan can compute ΔEnter/ΔExit against the prior cycle's set.
	openThresholdFaults map[string]map[recist.TriggerReason]struct{}
}

// New constructs an Agent. admitter may be nil at construction time and
// set later via SetAdmitter, since the orchestrator that implements
// Admitter is itself constructed with a reference to this Agent.
func New(clusterClient cluster.Client, metrics MetricsQuerier, cacheClient *cache.Client, bus *eventbus.Bus, admitter Admitter) *Agent {
	return &Agent{
		cluster:             clusterClient,
		metrics:             metrics,
		cache:               cacheClient,
		bus:                 bus,
		admitter:            admitter,
		openThresholdFaults: make(map[string]map[recist.TriggerReason]struct{}),
	}
}

// SetAdmitter completes construction once the orchestrator exists.
func (a *Agent) SetAdmitter(admitter Admitter) {
	a.admitter = admitter
}

// IngestFault is the api.FaultIngestor implementation: it dedups by the
// fault's ID via a cache SETNX, then hands a single-fault FaultSet to
// the orchestrator's admission check. It is the same admission path the
// periodic scan uses. The cache only catches a repeat of the same fault
// ID; a fault reaching here through both the webhook and the scan under
// different IDs is admitted twice, and the orchestrator folds the second
// admission into the target's open incident.
func (a *Agent) IngestFault(ctx context.Context, fault recist.FaultRecord) error {
	if fault.ID == "" {
		fault.ID = uuid.NewString()
	}
	key := "recist:fault:" + fault.ID
	if a.cache != nil {
		acquired, err := a.cache.SetNX(ctx, key, []byte("1"), admissionTTL)
		if err != nil {
			log.Warn().Err(err).Msg("fault dedup cache unavailable, admitting without dedup")
		} else if !acquired {
			return nil // already seen this cycle
		}
	}

	metrics.ObserveFaultDetected(string(fault.Reason))
	faultSet := recist.FaultSet{Target: fault.Target, Faults: []recist.FaultRecord{fault}, Opened: time.Now()}
	if a.bus != nil {
		a.bus.Publish(eventbus.Event{Type: eventbus.EventFaultDetected, Source: eventbus.AgentContainment, Payload: faultSet})
	}
	return a.admitter.Admit(ctx, faultSet)
}

// Isolate applies Soft or Hard containment to a target and returns the
// durable descriptor an incident carries so the compensating revert can
// happen later without re-deriving the NetworkPolicy shape.
func (a *Agent) Isolate(ctx context.Context, incidentID string, target recist.Target, mode recist.IsolationMode) (*recist.IsolationDescriptor, error) {
	if mode == recist.IsolationNone {
		return nil, nil
	}

	desc := recist.IsolationDescriptor{
		ID:            incidentID,
		Target:        target,
		Mode:          mode,
		NetworkPolicy: fmt.Sprintf("recist-isolate-%s", incidentID),
		RevertToken:   uuid.NewString(),
		Negotiation:   a.negotiate(ctx, target),
		AppliedAt:     time.Now(),
	}

	spec := cluster.BuildNetworkPolicySpec(target, mode)
	if err := a.cluster.ApplyNetworkPolicy(ctx, desc, spec); err != nil {
		return nil, err
	}

	if a.bus != nil {
		a.bus.Publish(eventbus.Event{Type: eventbus.EventIsolationApplied, Source: eventbus.AgentContainment, IncidentID: incidentID, Payload: desc})
	}
	return &desc, nil
}

// Revert removes the NetworkPolicy created by Isolate. Deleting an
// already-absent policy is not an error, so Revert is safe to call twice
// for the same incident (the compensating-action idempotence invariant).
func (a *Agent) Revert(ctx context.Context, desc recist.IsolationDescriptor) error {
	if err := a.cluster.RevertNetworkPolicy(ctx, desc.Target.Namespace, desc.NetworkPolicy); err != nil {
		return err
	}
	if a.bus != nil {
		a.bus.Publish(eventbus.Event{Type: eventbus.EventIsolationReverted, Source: eventbus.AgentContainment, IncidentID: desc.ID, Payload: desc})
	}
	return nil
}

// negotiate offers every other Deployment in the isolated target's
// namespace an equal share of its expected diverted load, admitting a
// neighbor only if its current CPU headroom covers that share after a
// 20% safety margin is reserved: headroom*neighborSafetyMargin >=
// divertedShare. A neighbor whose usage or limit can't be queried is
// rejected rather than guessed at.
func (a *Agent) negotiate(ctx context.Context, target recist.Target) recist.NeighborNegotiationResult {
	siblings, err := a.cluster.ListSiblingDeployments(ctx, target.Namespace, target.Name)
	if err != nil {
		log.Warn().Err(err).Str("target", target.Key()).Msg("neighbor negotiation: failed to list siblings")
		return recist.NeighborNegotiationResult{}
	}
	if len(siblings) == 0 {
		return recist.NeighborNegotiationResult{}
	}

	var result recist.NeighborNegotiationResult
	targetUsage, err := a.cpuUsageCores(ctx, target)
	if err != nil {
		log.Warn().Err(err).Str("target", target.Key()).Msg("neighbor negotiation: target CPU usage unavailable")
		for _, neighbor := range siblings {
			result.Rejected = append(result.Rejected, recist.RejectedNeighbor{Target: neighbor, Reason: "target CPU usage unavailable"})
		}
		return result
	}
	divertedShare := targetUsage / float64(len(siblings))

	for _, neighbor := range siblings {
		usage, uerr := a.cpuUsageCores(ctx, neighbor)
		limit, lerr := a.cluster.CPULimitCores(ctx, neighbor)
		if uerr != nil || lerr != nil {
			result.Rejected = append(result.Rejected, recist.RejectedNeighbor{Target: neighbor, Reason: "CPU headroom unavailable"})
			continue
		}
		headroom := limit - usage
		if headroomCoversShare(headroom, divertedShare) {
			result.Accepted = append(result.Accepted, recist.AcceptingNeighbor{Target: neighbor, Fraction: 1.0 / float64(len(siblings))})
			continue
		}
		result.Rejected = append(result.Rejected, recist.RejectedNeighbor{
			Target: neighbor,
			Reason: fmt.Sprintf("insufficient CPU headroom: %.3f cores available after margin, %.3f cores needed", headroom*neighborSafetyMargin, divertedShare),
		})
	}
	return result
}

// headroomCoversShare applies the 20% safety margin: only
// neighborSafetyMargin of a neighbor's raw headroom may be offered up.
func headroomCoversShare(headroom, divertedShare float64) bool {
	return headroom*neighborSafetyMargin >= divertedShare
}

func (a *Agent) cpuUsageCores(ctx context.Context, target recist.Target) (float64, error) {
	if a.metrics == nil {
		return 0, fmt.Errorf("metrics adapter not configured")
	}
	query := fmt.Sprintf(`rate(container_cpu_usage_seconds_total{namespace="%s",pod=~"%s.*"}[5m])`, target.Namespace, target.Name)
	series, err := a.metrics.QueryRange(ctx, query, 5*time.Minute, 30*time.Second)
	if err != nil {
		return 0, err
	}
	if len(series.Points) == 0 {
		return 0, fmt.Errorf("no CPU samples for %s", target.Key())
	}
	return series.Points[len(series.Points)-1].Value, nil
}

// cpuFraction returns the target's CPU usage as a fraction of its
// configured limit, the unit the threshold profile's CPU field is
// expressed in.
func (a *Agent) cpuFraction(ctx context.Context, target recist.Target) (float64, error) {
	usage, err := a.cpuUsageCores(ctx, target)
	if err != nil {
		return 0, err
	}
	limit, err := a.cluster.CPULimitCores(ctx, target)
	if err != nil || limit <= 0 {
		return 0, fmt.Errorf("CPU limit unavailable for %s", target.Key())
	}
	return usage / limit, nil
}

// memoryFraction queries the working-set-to-limit ratio directly rather
// than fetching a separate memory limit, since the cluster client has no
// memory-limit lookup of its own.
func (a *Agent) memoryFraction(ctx context.Context, target recist.Target) (float64, error) {
	query := fmt.Sprintf(
		`avg(container_memory_working_set_bytes{namespace="%s",pod=~"%s.*"} / container_spec_memory_limit_bytes{namespace="%s",pod=~"%s.*"})`,
		target.Namespace, target.Name, target.Namespace, target.Name,
	)
	return a.latestValue(ctx, query)
}

// errorRate queries the fraction of requests to target returning a 5xx
// status over the last minute.
func (a *Agent) errorRate(ctx context.Context, target recist.Target) (float64, error) {
	query := fmt.Sprintf(
		`sum(rate(http_requests_total{namespace="%s",service=~"%s.*",code=~"5.."}[1m])) / sum(rate(http_requests_total{namespace="%s",service=~"%s.*"}[1m]))`,
		target.Namespace, target.Name, target.Namespace, target.Name,
	)
	return a.latestValue(ctx, query)
}

// latencyMs queries the p95 request latency to target, in milliseconds.
func (a *Agent) latencyMs(ctx context.Context, target recist.Target) (float64, error) {
	query := fmt.Sprintf(
		`histogram_quantile(0.95, sum(rate(http_request_duration_seconds_bucket{namespace="%s",service=~"%s.*"}[5m])) by (le)) * 1000`,
		target.Namespace, target.Name,
	)
	return a.latestValue(ctx, query)
}

func (a *Agent) latestValue(ctx context.Context, query string) (float64, error) {
	if a.metrics == nil {
		return 0, fmt.Errorf("metrics adapter not configured")
	}
	series, err := a.metrics.QueryRange(ctx, query, 5*time.Minute, 30*time.Second)
	if err != nil {
		return 0, err
	}
	if len(series.Points) == 0 {
		return 0, fmt.Errorf("no samples for query %q", query)
	}
	return series.Points[len(series.Points)-1].Value, nil
}

// EvaluateThresholds queries every metric named in profile for target and
// returns the candidate fault set F' for the current cycle: one
// FaultRecord per threshold currently crossed. A zero-valued threshold
// field disables that metric's check. Individual metric-query failures
// are logged and skipped rather than failing the whole evaluation, since
// a partially-unavailable telemetry backend shouldn't block detection of
// thresholds that are queryable.
func (a *Agent) EvaluateThresholds(ctx context.Context, target recist.Target, profile recist.ThresholdProfile) []recist.FaultRecord {
	now := time.Now()
	var candidates []recist.FaultRecord

	add := func(reason recist.TriggerReason, errRate, cpuFrac, memFrac float64) {
		candidates = append(candidates, recist.FaultRecord{
			Target:      target,
			Reason:      reason,
			Severity:    recist.DeriveSeverity(reason, errRate, cpuFrac, memFrac),
			ErrorRate:   errRate,
			CPUFraction: cpuFrac,
			MemFraction: memFrac,
			DetectedAt:  now,
			Source:      "scan",
		})
	}

	if profile.CPU > 0 {
		if frac, err := a.cpuFraction(ctx, target); err != nil {
			log.Debug().Err(err).Str("target", target.Key()).Msg("threshold scan: CPU fraction unavailable")
		} else if frac >= profile.CPU {
			add(recist.TriggerHighCPU, 0, frac, 0)
		}
	}
	if profile.Memory > 0 {
		if frac, err := a.memoryFraction(ctx, target); err != nil {
			log.Debug().Err(err).Str("target", target.Key()).Msg("threshold scan: memory fraction unavailable")
		} else if frac >= profile.Memory {
			add(recist.TriggerHighMemory, 0, 0, frac)
		}
	}
	if profile.ErrorRate > 0 {
		if rate, err := a.errorRate(ctx, target); err != nil {
			log.Debug().Err(err).Str("target", target.Key()).Msg("threshold scan: error rate unavailable")
		} else if rate >= profile.ErrorRate {
			add(recist.TriggerHighErrors, rate, 0, 0)
		}
	}
	if profile.LatencyMs > 0 {
		if ms, err := a.latencyMs(ctx, target); err != nil {
			log.Debug().Err(err).Str("target", target.Key()).Msg("threshold scan: latency unavailable")
		} else if ms >= profile.LatencyMs {
			add(recist.TriggerHighLatency, 0, 0, 0)
		}
	}
	return candidates
}

// ScanThresholds is the periodic scan's per-target entry point: it
// evaluates the threshold profile, diffs the resulting candidate fault
// set F' against the kinds this agent believed were open for target on
// the prior cycle, admits every newly-crossed kind (ΔEnter) through the
// same path IngestFault uses, and publishes FaultCleared for every kind
// that stopped firing (ΔExit).
func (a *Agent) ScanThresholds(ctx context.Context, target recist.Target, profile recist.ThresholdProfile) {
	candidates := a.EvaluateThresholds(ctx, target, profile)

	current := make(map[recist.TriggerReason]struct{}, len(candidates))
	for _, c := range candidates {
		current[c.Reason] = struct{}{}
	}

	a.thresholdMu.Lock()
	previous := a.openThresholdFaults[target.Key()]
	a.openThresholdFaults[target.Key()] = current
	a.thresholdMu.Unlock()

	for _, c := range candidates {
		if previous != nil {
			if _, wasOpen := previous[c.Reason]; wasOpen {
				continue // already admitted on a prior cycle
			}
		}
		if err := a.IngestFault(ctx, c); err != nil {
			log.Warn().Err(err).Str("target", target.Key()).Str("reason", string(c.Reason)).Msg("threshold scan: failed to ingest fault")
		}
	}

	for reason := range previous {
		if _, stillOpen := current[reason]; stillOpen {
			continue
		}
		if a.bus != nil {
			a.bus.Publish(eventbus.Event{
				Type:    eventbus.EventFaultCleared,
				Source:  eventbus.AgentContainment,
				Payload: recist.FaultCleared{Target: target, Kind: reason},
			})
		}
	}
}
