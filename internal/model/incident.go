package model

import (
	"encoding/json"
	"time"
)

// IncidentPhase is the Incident aggregate's state machine position. The
// allowed transition set is enforced by the orchestrator, not by this
// type: any phase may move to Failed, and Completed/Failed are terminal.
type IncidentPhase string

const (
	PhasePending    IncidentPhase = "Pending"
	PhaseContaining IncidentPhase = "Containing"
	PhaseDiagnosing IncidentPhase = "Diagnosing"
	PhasePlanning   IncidentPhase = "Planning"
	PhaseExecuting  IncidentPhase = "Executing"
	PhaseVerifying  IncidentPhase = "Verifying"
	PhaseCompleted  IncidentPhase = "Completed"
	PhaseFailed     IncidentPhase = "Failed"
)

// nextAllowed enumerates the forward edges of the phase DAG. Failed is
// reachable from every phase and is intentionally omitted here; callers
// check it separately.
var nextAllowed = map[IncidentPhase][]IncidentPhase{
	PhasePending:    {PhaseContaining},
	PhaseContaining: {PhaseDiagnosing},
	PhaseDiagnosing: {PhasePlanning},
	PhasePlanning:   {PhaseExecuting},
	PhaseExecuting:  {PhaseVerifying},
	PhaseVerifying:  {PhaseCompleted, PhasePlanning}, // re-plan on verification failure within budget
}

// CanTransition reports whether moving from `from` to `to` is a legal
// edge of the incident state machine.
func CanTransition(from, to IncidentPhase) bool {
	if to == PhaseFailed {
		return from != PhaseCompleted && from != PhaseFailed
	}
	for _, allowed := range nextAllowed[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

func (p IncidentPhase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseFailed
}

// Incident is the aggregate root the orchestrator persists before every
// side effect and resumes from on crash recovery.
type Incident struct {
	ID              string          `json:"id"`
	Target          Target          `json:"target"`
	Phase           IncidentPhase   `json:"phase"`
	FaultSet        FaultSet        `json:"faultSet"`
	Isolation       *IsolationDescriptor `json:"isolation,omitempty"`
	Diagnosis       *Diagnosis      `json:"diagnosis,omitempty"`
	SelectedPlan    *Plan           `json:"selectedPlan,omitempty"`
	AppliedActions  []AppliedAction `json:"appliedActions"`
	Attempt         int             `json:"attempt"`
	MaxAttempts     int             `json:"maxAttempts"`
	FailureReason   string          `json:"failureReason,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
	CompletedAt     *time.Time      `json:"completedAt,omitempty"`
	PolicyName      string          `json:"policyName"`
}

// CompensateSet returns the multiset of compensating actions for every
// applied action that succeeded: the set the rollback invariant is
// stated over. On failure, the compensate set applied must equal, as a
// multiset, the forward actions that had actually succeeded.
func (in *Incident) CompensateSet() []Action {
	var out []Action
	for _, a := range in.AppliedActions {
		if a.Succeeded && a.Action.Compensate != nil {
			out = append(out, *a.Action.Compensate)
		}
	}
	return out
}

// HealingEvent is the read-model / CRD-status projection of an Incident
// exposed through the API and mirrored onto the HealingEvent custom
// resource's `.status`.
type HealingEvent struct {
	IncidentID   string        `json:"incidentId"`
	Target       Target        `json:"target"`
	Phase        IncidentPhase `json:"phase"`
	Severity     FaultSeverity `json:"severity"`
	Strategy     StrategyType  `json:"strategy,omitempty"`
	Confidence   float64       `json:"confidence"`
	Attempt      int           `json:"attempt"`
	Message      string        `json:"message,omitempty"`
	CreatedAt    time.Time     `json:"createdAt"`
	UpdatedAt    time.Time     `json:"updatedAt"`
}

func (in *Incident) ToHealingEvent() HealingEvent {
	he := HealingEvent{
		IncidentID: in.ID,
		Target:     in.Target,
		Phase:      in.Phase,
		Severity:   in.FaultSet.MaxSeverity(),
		Attempt:    in.Attempt,
		CreatedAt:  in.CreatedAt,
		UpdatedAt:  in.UpdatedAt,
	}
	if in.Diagnosis != nil {
		he.Confidence = in.Diagnosis.Confidence
	}
	if in.SelectedPlan != nil {
		he.Strategy = in.SelectedPlan.Strategy
	}
	if in.FailureReason != "" {
		he.Message = in.FailureReason
	}
	return he
}

// MarshalJSON round-trip helpers used by the Postgres JSONB columns;
// kept as plain functions rather than methods so the db package can use
// them without importing encoding/json itself for every field.
func MarshalJSONB(v any) ([]byte, error) { return json.Marshal(v) }

// SelfHealingPolicy is the operator-facing configuration object (the
// `SelfHealingPolicy` custom resource) that parameterizes every phase
// of the pipeline for a set of target namespaces/selectors.
type SelfHealingPolicy struct {
	Name               string        `json:"name" yaml:"name"`
	Namespaces         []string      `json:"namespaces" yaml:"namespaces"`
	CheckInterval      time.Duration `json:"checkInterval" yaml:"checkInterval"`
	Lookback           time.Duration `json:"lookback" yaml:"lookback"`
	LLMTimeout         time.Duration `json:"llmTimeout" yaml:"llmTimeout"`
	ConfidenceThreshold float64      `json:"confidenceThreshold" yaml:"confidenceThreshold"`
	MaxMicroAgents     int           `json:"maxMicroAgents" yaml:"maxMicroAgents"`
	ActionTimeout      time.Duration `json:"actionTimeout" yaml:"actionTimeout"`
	VerificationWait   time.Duration `json:"verificationWait" yaml:"verificationWait"`
	MaxAttempts        int           `json:"maxAttempts" yaml:"maxAttempts"`
	DecisionThreshold  float64       `json:"decisionThreshold" yaml:"decisionThreshold"`
	MaxLocalEvents     int           `json:"maxLocalEvents" yaml:"maxLocalEvents"`
	KnowledgeTTL       time.Duration `json:"knowledgeTtl" yaml:"knowledgeTtl"`
	TopicSimilarity    float64       `json:"topicSimilarity" yaml:"topicSimilarity"`
	Notifications      NotificationSpec `json:"notifications" yaml:"notifications"`
	LLMProvider        string        `json:"llmProvider" yaml:"llmProvider"` // claude | openai | gemini | ollama
	AllowedActions     []StrategyType `json:"allowedActions" yaml:"allowedActions"` // empty means all strategies are allowed
	Thresholds         ThresholdProfile `json:"thresholds" yaml:"thresholds"`
}

// ThresholdProfile is the policy's per-metric fault-trigger bar the
// Containment Agent's periodic scan evaluates each in-scope target
// against. A zero value for any field disables that metric's check.
type ThresholdProfile struct {
	CPU       float64 `json:"cpu" yaml:"cpu"`             // fraction of the target's CPU limit
	Memory    float64 `json:"memory" yaml:"memory"`       // fraction of the target's memory limit
	LatencyMs float64 `json:"latencyMs" yaml:"latencyMs"` // p95 request latency
	ErrorRate float64 `json:"errorRate" yaml:"errorRate"` // fraction of requests returning 5xx
}

// Failure reason vocabulary the orchestrator writes to
// Incident.FailureReason so callers can distinguish why an incident
// terminated as Failed without parsing free-text error messages.
const (
	FailureLowConfidence = "low_confidence"
	FailureNoViablePlan  = "no_viable_plan"
	FailureActionError   = "action_error"
)

// Allows reports whether the policy authorizes a strategy. An empty
// AllowedActions list means the policy places no restriction.
func (p SelfHealingPolicy) Allows(strategy StrategyType) bool {
	if len(p.AllowedActions) == 0 {
		return true
	}
	for _, s := range p.AllowedActions {
		if s == strategy {
			return true
		}
	}
	return false
}

type NotificationSpec struct {
	Enabled      bool   `json:"enabled" yaml:"enabled"`
	SlackWebhook string `json:"slackWebhook" yaml:"slackWebhook"`
	Email        string `json:"email" yaml:"email"`
}

// DefaultPolicy mirrors the defaults named in the external interface
// contract; config.Load overrides individual fields from RECIST_*
// environment variables.
func DefaultPolicy() SelfHealingPolicy {
	return SelfHealingPolicy{
		CheckInterval:       10 * time.Second,
		Lookback:            5 * time.Minute,
		LLMTimeout:          30 * time.Second,
		ConfidenceThreshold: 0.7,
		MaxMicroAgents:      5,
		ActionTimeout:       60 * time.Second,
		VerificationWait:    30 * time.Second,
		MaxAttempts:         2,
		DecisionThreshold:   0.75,
		MaxLocalEvents:      100,
		KnowledgeTTL:        90 * 24 * time.Hour,
		TopicSimilarity:     0.8,
		LLMProvider:         "gemini",
		Thresholds: ThresholdProfile{
			CPU:       0.9,
			Memory:    0.9,
			LatencyMs: 1000,
			ErrorRate: 0.1,
		},
	}
}
