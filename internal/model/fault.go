package model

import "time"

// TriggerReason names the condition that caused a workload target to be
// flagged by the Containment Agent's detection cycle.
type TriggerReason string

const (
	TriggerOOMKilled    TriggerReason = "OOMKilled"
	TriggerCrashLoop    TriggerReason = "CrashLoopBackOff"
	TriggerHighCPU      TriggerReason = "HighCpu"
	TriggerHighMemory   TriggerReason = "HighMemory"
	TriggerHighErrors   TriggerReason = "HighErrorRate"
	TriggerHighLatency  TriggerReason = "HighLatency"
	TriggerReadinessFlap TriggerReason = "ReadinessFlap"
	TriggerAlertmanager TriggerReason = "AlertmanagerAlert"
)

// eventTriggerReasons maps a Kubernetes event Reason string to the
// TriggerReason it represents: the fault kinds detectable straight off
// the cluster event stream rather than a metric threshold crossing.
var eventTriggerReasons = map[string]TriggerReason{
	"OOMKilling":       TriggerOOMKilled,
	"OOMKilled":        TriggerOOMKilled,
	"BackOff":          TriggerCrashLoop,
	"CrashLoopBackOff": TriggerCrashLoop,
	"Unhealthy":        TriggerReadinessFlap,
}

// TriggerFromEventReason resolves a Kubernetes event Reason to the
// TriggerReason it represents, used by both the periodic event scan and
// verification's re-check of the target's fault kinds.
func TriggerFromEventReason(reason string) (TriggerReason, bool) {
	t, ok := eventTriggerReasons[reason]
	return t, ok
}

// FaultCleared is published when a target's fault set no longer
// contains a trigger reason that was open on a prior scan cycle — the
// Containment Agent's ΔExit half of its threshold-diff loop.
type FaultCleared struct {
	Target Target        `json:"target"`
	Kind   TriggerReason `json:"kind"`
}

// FaultSeverity ranks how urgently a fault needs isolation, derived from
// error rate, saturation, and the trigger reason itself.
type FaultSeverity string

const (
	SeverityLow      FaultSeverity = "Low"
	SeverityMedium   FaultSeverity = "Medium"
	SeverityHigh     FaultSeverity = "High"
	SeverityCritical FaultSeverity = "Critical"
)

// Target identifies a single workload the pipeline can act on.
type Target struct {
	Namespace string `json:"namespace"`
	Kind      string `json:"kind"` // Deployment | StatefulSet | Pod
	Name      string `json:"name"`
}

func (t Target) Key() string {
	return t.Namespace + "/" + t.Kind + "/" + t.Name
}

// FaultRecord is one detected anomaly against a single target.
type FaultRecord struct {
	ID          string        `json:"id"`
	Target      Target        `json:"target"`
	Reason      TriggerReason `json:"reason"`
	Severity    FaultSeverity `json:"severity"`
	ErrorRate   float64       `json:"errorRate"`
	CPUFraction float64       `json:"cpuFraction"`
	MemFraction float64       `json:"memFraction"`
	DetectedAt  time.Time     `json:"detectedAt"`
	Source      string        `json:"source"` // "scan" | "alertmanager"
}

// DeriveSeverity implements the severity rules carried over from the
// original operator's fault model: OOM/crash-loop triggers and error
// rates above 0.5 are always critical; saturation above 0.2 error rate
// or 0.95 resource fraction is high; everything else detected is medium.
func DeriveSeverity(reason TriggerReason, errorRate, cpuFraction, memFraction float64) FaultSeverity {
	switch reason {
	case TriggerOOMKilled, TriggerCrashLoop:
		return SeverityCritical
	}
	if errorRate > 0.5 {
		return SeverityCritical
	}
	if errorRate > 0.2 {
		return SeverityHigh
	}
	if cpuFraction > 0.95 || memFraction > 0.95 {
		return SeverityHigh
	}
	return SeverityMedium
}

// FaultSet groups the fault records that share a target within one
// detection cycle, the unit the Containment Agent hands to isolation.
type FaultSet struct {
	Target  Target        `json:"target"`
	Faults  []FaultRecord `json:"faults"`
	Opened  time.Time     `json:"opened"`
}

func (fs FaultSet) MaxSeverity() FaultSeverity {
	order := map[FaultSeverity]int{SeverityLow: 0, SeverityMedium: 1, SeverityHigh: 2, SeverityCritical: 3}
	max := SeverityLow
	for _, f := range fs.Faults {
		if order[f.Severity] > order[max] {
			max = f.Severity
		}
	}
	return max
}

// IsolationMode is the shape of containment applied to a target.
type IsolationMode string

const (
	IsolationNone IsolationMode = "None"
	IsolationSoft IsolationMode = "Soft" // deny new inbound, allow existing/egress
	IsolationHard IsolationMode = "Hard" // deny all ingress and egress except DNS/control-plane
)

// AcceptingNeighbor and RejectedNeighbor record the outcome of the
// containment agent's load-diversion negotiation with adjacent
// workloads sharing the isolated target's namespace, carried over from
// the original operator's NeighborNegotiationResult.
type AcceptingNeighbor struct {
	Target   Target  `json:"target"`
	Fraction float64 `json:"fraction"`
}

type RejectedNeighbor struct {
	Target Target `json:"target"`
	Reason string `json:"reason"`
}

type NeighborNegotiationResult struct {
	Accepted []AcceptingNeighbor `json:"accepted"`
	Rejected []RejectedNeighbor  `json:"rejected"`
}

// IsolationDescriptor is the durable record of a containment action,
// including everything needed to revert it.
type IsolationDescriptor struct {
	ID           string                    `json:"id"`
	Target       Target                    `json:"target"`
	Mode         IsolationMode             `json:"mode"`
	NetworkPolicy string                   `json:"networkPolicy"` // name of the applied NetworkPolicy object
	RevertToken  string                    `json:"revertToken"`
	Negotiation  NeighborNegotiationResult `json:"negotiation"`
	AppliedAt    time.Time                 `json:"appliedAt"`
	RevertedAt   *time.Time                `json:"revertedAt,omitempty"`
}
