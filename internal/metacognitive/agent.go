// Package metacognitive is the MetaCognitive Agent: it runs up to
// maxMicroAgents independent micro-agents concurrently against the LLM
// provider, each working a bounded reason-and-gather loop (propose,
// then refine against its own prior rationale until confidence clears
// a target or the depth budget runs out) to arrive at one candidate
// remediation Plan pruned by the policy's allowedActions, scores and
// selects a winner across the panel, then executes its Actions through
// the cluster Action Executor, recording a durable AppliedAction entry
// before each side effect the way the orchestrator's phase-transition
// ordering requires.
package metacognitive

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/recist/recist/internal/cluster"
	"github.com/recist/recist/internal/eventbus"
	"github.com/recist/recist/internal/llm"
	"github.com/recist/recist/internal/metrics"
	recist "github.com/recist/recist/internal/model"
)

// Recorder is what the orchestrator implements to durably persist one
// AppliedAction before the Action Executor is allowed to apply its side
// effect, and again after it completes.
type Recorder interface {
	RecordAppliedAction(ctx context.Context, incidentID string, applied recist.AppliedAction) error
}

type Agent struct {
	llm      llm.Provider
	cluster  cluster.Client
	bus      *eventbus.Bus
	recorder Recorder
}

// New constructs an Agent. recorder may be nil at construction time and
// set later via SetRecorder, since the orchestrator that implements
// Recorder is itself constructed with a reference to this Agent.
func New(provider llm.Provider, clusterClient cluster.Client, bus *eventbus.Bus, recorder Recorder) *Agent {
	return &Agent{llm: provider, cluster: clusterClient, bus: bus, recorder: recorder}
}

// SetRecorder completes construction once the orchestrator exists.
func (a *Agent) SetRecorder(recorder Recorder) {
	a.recorder = recorder
}

// ProposePlans runs up to maxMicroAgents independent micro-agent rounds
// concurrently, each reasoning from a distinct strategic angle through
// a bounded reason-and-gather loop (see runMicroAgent), and returns
// every plan that parsed successfully and cleared the policy's
// allowedActions filter. A round that errors, produces malformed JSON,
// or ends up with every action forbidden by policy is skipped rather
// than aborting the whole batch, since the selection step below only
// needs one usable plan.
func (a *Agent) ProposePlans(ctx context.Context, diagnosis recist.Diagnosis, faultSet recist.FaultSet, maxMicroAgents int, allowedActions []recist.StrategyType) []recist.Plan {
	angles := microAgentAngles(maxMicroAgents)

	type result struct {
		plan recist.Plan
		err  error
	}
	results := make([]result, len(angles))
	var wg sync.WaitGroup
	for i, angle := range angles {
		wg.Add(1)
		go func(i int, angle string) {
			defer wg.Done()
			plan, err := a.runMicroAgent(ctx, diagnosis, faultSet, angle, allowedActions)
			results[i] = result{plan: plan, err: err}
		}(i, angle)
	}
	wg.Wait()

	var plans []recist.Plan
	for i, r := range results {
		if r.err != nil {
			log.Warn().Err(r.err).Str("angle", angles[i]).Msg("micro-agent plan proposal failed")
			continue
		}
		plans = append(plans, r.plan)
	}
	return plans
}

// runMicroAgent is the bounded reason-and-gather loop for one micro-agent:
// it proposes a plan, and while its confidence hasn't cleared
// microAgentTargetConfidence and depth is under microAgentMaxDepth, it
// gathers one more round of evidence (the prior round's own rationale
// fed back as context) and asks the LLM to refine the plan, keeping
// whichever round scored higher. Confidence is monotonic across rounds:
// a refinement that scores lower than what's already held is discarded.
func (a *Agent) runMicroAgent(ctx context.Context, diagnosis recist.Diagnosis, faultSet recist.FaultSet, angle string, allowedActions []recist.StrategyType) (recist.Plan, error) {
	best, err := a.proposeOne(ctx, diagnosis, faultSet, angle, "", allowedActions)
	if err != nil {
		return recist.Plan{}, err
	}

	for depth := 1; depth < microAgentMaxDepth && best.Confidence < microAgentTargetConfidence; depth++ {
		refined, err := a.proposeOne(ctx, diagnosis, faultSet, angle, best.Rationale, allowedActions)
		if err != nil {
			break
		}
		if refined.Confidence < best.Confidence {
			continue
		}
		best = refined
	}
	return best, nil
}

// microAgentMaxDepth and microAgentTargetConfidence bound the
// reason-and-gather loop each micro-agent runs: it stops refining once
// either the plan's confidence clears the target or the round budget
// is spent, whichever comes first.
const (
	microAgentMaxDepth          = 3
	microAgentTargetConfidence  = 0.8
)

// microAgentAngles gives each bounded round a distinct framing so the
// panel of proposals isn't just the same completion resampled; capped
// at four named angles, so a MaxMicroAgents above four (the policy
// default is five) yields four rounds.
func microAgentAngles(n int) []string {
	all := []string{"conservative", "aggressive", "dependency-first", "config-first"}
	if n <= 0 || n > len(all) {
		n = len(all)
	}
	return all[:n]
}

func (a *Agent) proposeOne(ctx context.Context, diagnosis recist.Diagnosis, faultSet recist.FaultSet, angle string, priorEvidence string, allowedActions []recist.StrategyType) (recist.Plan, error) {
	prompt := buildPlanPrompt(diagnosis, faultSet, angle, priorEvidence)
	completion, err := a.llm.Complete(ctx, fmt.Sprintf(planSystemPrompt, angle), prompt)
	if err != nil {
		return recist.Plan{}, err
	}

	var parsed struct {
		Strategy   string  `json:"strategy"`
		Rationale  string  `json:"rationale"`
		Confidence float64 `json:"confidence"`
		Actions    []struct {
			Strategy string            `json:"strategy"`
			Target   recist.Target     `json:"target"`
			Params   map[string]string `json:"params"`
		} `json:"actions"`
	}
	if err := json.Unmarshal([]byte(llm.ExtractJSON(completion)), &parsed); err != nil {
		return recist.Plan{}, &recist.ParseError{Backend: a.llm.Name(), Op: "propose_plan", Err: err}
	}
	if len(parsed.Actions) == 0 {
		return recist.Plan{}, fmt.Errorf("micro-agent %q proposed a plan with no actions", angle)
	}

	strategy := recist.StrategyType(parsed.Strategy)
	risk, _ := recist.StrategyProfile(strategy)

	actions := make([]recist.Action, 0, len(parsed.Actions))
	for _, pa := range parsed.Actions {
		strategy := recist.StrategyType(pa.Strategy)
		if !allowsStrategy(allowedActions, strategy) {
			continue
		}
		act := recist.Action{
			ID:       uuid.NewString(),
			Strategy: strategy,
			Target:   pa.Target,
			Params:   pa.Params,
		}
		act.Compensate = compensatingAction(act)
		actions = append(actions, act)
	}
	if len(actions) == 0 {
		return recist.Plan{}, &recist.PolicyForbidden{Reason: fmt.Sprintf("micro-agent %q proposed only actions outside allowedActions", angle)}
	}

	return recist.Plan{
		ID:           uuid.NewString(),
		IncidentID:   diagnosis.IncidentID,
		Strategy:     strategy,
		Risk:         risk,
		Actions:      actions,
		Confidence:   clamp(parsed.Confidence),
		Rationale:    parsed.Rationale,
		ProposedAt:   time.Now(),
		MicroAgentID: angle,
	}, nil
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// compensatingAction derives the inverse of a forward action so a
// failed plan can be unwound. Strategies whose effect is not
// mechanically invertible (a ConfigUpdate whose prior value the plan
// didn't capture) get no compensate and are treated as non-reversible
// by the executor, which then refuses to run them past the first
// attempt without operator confirmation via a Composite fallback.
func compensatingAction(forward recist.Action) *recist.Action {
	switch forward.Strategy {
	case recist.StrategyHorizontalScale:
		return &recist.Action{
			ID: uuid.NewString(), Strategy: recist.StrategyHorizontalScale, Target: forward.Target,
			Params: map[string]string{"replicas": forward.Params["previousReplicas"]},
		}
	case recist.StrategyVerticalScale:
		return &recist.Action{
			ID: uuid.NewString(), Strategy: recist.StrategyVerticalScale, Target: forward.Target,
			Params: map[string]string{"cpu": forward.Params["previousCpu"], "mem": forward.Params["previousMem"]},
		}
	case recist.StrategyConfigUpdate:
		return &recist.Action{
			ID: uuid.NewString(), Strategy: recist.StrategyConfigUpdate, Target: forward.Target,
			Params: forward.Params, // previous data is threaded in by the executor once it reads it back
		}
	case recist.StrategyNetworkIsolation:
		return &recist.Action{ID: uuid.NewString(), Strategy: recist.StrategyNetworkIsolation, Target: forward.Target}
	default:
		return nil // PodRestart, DependencyRestart, Composite have no mechanical inverse
	}
}

// strategyRiskRank totally orders the strategy classes for tie-breaking,
// narrowest-blast-radius first: Restart, then HorizontalScale, then
// PatchConfig, then VerticalScale, then DependencyRestart.
// NetworkIsolation ranks below all five as the most surgical action the
// planner can select; Composite ranks above all five since it bundles an
// unknown mix of the others.
var strategyRiskRank = map[recist.StrategyType]int{
	recist.StrategyNetworkIsolation:  0,
	recist.StrategyPodRestart:        1,
	recist.StrategyHorizontalScale:   2,
	recist.StrategyConfigUpdate:      3,
	recist.StrategyVerticalScale:     4,
	recist.StrategyDependencyRestart: 5,
	recist.StrategyComposite:         6,
}

// SelectPlan picks the highest-confidence plan that clears
// decisionThreshold. Ties break, in order, on lowest risk class, then
// shortest expected duration, then lexicographic candidate id, mirroring
// the original operator's plan-ranking rule.
func SelectPlan(plans []recist.Plan, decisionThreshold float64) (recist.Plan, bool) {
	var best recist.Plan
	found := false
	for _, p := range plans {
		if p.Confidence < decisionThreshold {
			continue
		}
		if !found || better(p, best) {
			best = p
			found = true
		}
	}
	return best, found
}

// better reports whether candidate should replace current as the
// selected plan: strictly higher confidence wins outright; an equal
// confidence falls through the risk-class, duration, then candidate-id
// tie-break tiers.
func better(candidate, current recist.Plan) bool {
	if candidate.Confidence != current.Confidence {
		return candidate.Confidence > current.Confidence
	}
	candidateRank, currentRank := strategyRiskRank[candidate.Strategy], strategyRiskRank[current.Strategy]
	if candidateRank != currentRank {
		return candidateRank < currentRank
	}
	_, candidateDuration := recist.StrategyProfile(candidate.Strategy)
	_, currentDuration := recist.StrategyProfile(current.Strategy)
	if candidateDuration != currentDuration {
		return candidateDuration < currentDuration
	}
	return candidate.ID < current.ID
}

const planSystemPrompt = `You are the remediation planning stage of a Kubernetes self-healing controller, reasoning from the "%s" angle. Given a diagnosis and fault set, respond with a JSON object {"strategy": string, "rationale": string, "confidence": number 0-1, "actions": [{"strategy": string, "target": {"namespace": string, "kind": string, "name": string}, "params": object}]} and nothing else. Strategy values: PodRestart, HorizontalScale, VerticalScale, ConfigUpdate, DependencyRestart, NetworkIsolation, Composite.`

func buildPlanPrompt(diagnosis recist.Diagnosis, faultSet recist.FaultSet, angle string, priorEvidence string) string {
	b, _ := json.Marshal(struct {
		Angle         string               `json:"angle"`
		Hypothesis    string               `json:"hypothesis"`
		RootCause     recist.Target        `json:"rootCause"`
		Confidence    float64              `json:"confidence"`
		Faults        []recist.FaultRecord `json:"faults"`
		PriorRationale string              `json:"priorRationale,omitempty"`
	}{angle, diagnosis.Hypothesis, diagnosis.RootCause, diagnosis.Confidence, faultSet.Faults, priorEvidence})
	return string(b)
}

// allowsStrategy reports whether a strategy is authorized; an empty
// allowlist means the policy places no restriction.
func allowsStrategy(allowed []recist.StrategyType, strategy recist.StrategyType) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, s := range allowed {
		if s == strategy {
			return true
		}
	}
	return false
}

// Execute dispatches one plan's actions in order through the cluster
// Action Executor, recording each AppliedAction before dispatch and
// again on completion so a crash mid-plan leaves a durable record of
// what was applied. Execution
// stops at the first failure; the orchestrator decides whether to
// unwind the already-applied actions.
func (a *Agent) Execute(ctx context.Context, incidentID string, plan recist.Plan) []recist.AppliedAction {
	var applied []recist.AppliedAction
	for _, action := range plan.Actions {
		entry := recist.AppliedAction{Action: action, PlanID: plan.ID, IncidentID: incidentID, DispatchedAt: time.Now()}
		if a.recorder != nil {
			if err := a.recorder.RecordAppliedAction(ctx, incidentID, entry); err != nil {
				log.Error().Err(err).Str("incident", incidentID).Msg("failed to durably record action before dispatch")
			}
		}

		err := a.dispatch(ctx, action)
		now := time.Now()
		entry.CompletedAt = &now
		entry.Succeeded = err == nil
		if err != nil {
			entry.Error = err.Error()
		}
		metrics.ObserveAction(string(action.Strategy), entry.Succeeded)
		applied = append(applied, entry)

		if a.recorder != nil {
			if rerr := a.recorder.RecordAppliedAction(ctx, incidentID, entry); rerr != nil {
				log.Error().Err(rerr).Str("incident", incidentID).Msg("failed to durably record action completion")
			}
		}
		if a.bus != nil {
			a.bus.Publish(eventbus.Event{Type: eventbus.EventActionApplied, Source: eventbus.AgentMetaCognitive, IncidentID: incidentID, Payload: entry})
		}
		if err != nil {
			break
		}
	}
	return applied
}

// Unwind applies the compensating action for every succeeded entry, in
// reverse order, restoring the target's pre-plan state as closely as
// the strategy allows.
func (a *Agent) Unwind(ctx context.Context, incidentID string, applied []recist.AppliedAction) {
	for i := len(applied) - 1; i >= 0; i-- {
		entry := applied[i]
		if !entry.Succeeded || entry.Action.Compensate == nil {
			continue
		}
		if err := a.dispatch(ctx, *entry.Action.Compensate); err != nil {
			log.Error().Err(err).Str("incident", incidentID).Str("action", entry.Action.ID).
				Msg("compensating action failed, target may be left in a partially remediated state")
		}
	}
}

func (a *Agent) dispatch(ctx context.Context, action recist.Action) error {
	switch action.Strategy {
	case recist.StrategyPodRestart, recist.StrategyDependencyRestart:
		return a.cluster.RestartPod(ctx, action.Target)
	case recist.StrategyHorizontalScale:
		replicas, err := parseReplicas(action.Params["replicas"])
		if err != nil {
			return &recist.ActionError{ActionID: action.ID, Err: err}
		}
		_, err = a.cluster.ScaleDeployment(ctx, action.Target, replicas)
		return err
	case recist.StrategyVerticalScale:
		_, err := a.cluster.PatchResources(ctx, action.Target, action.Params["cpu"], action.Params["mem"])
		return err
	case recist.StrategyConfigUpdate:
		_, err := a.cluster.UpdateConfigMap(ctx, action.Target.Namespace, action.Target.Name, action.Params)
		return err
	case recist.StrategyNetworkIsolation:
		// Remediation-time isolation lifts a policy the Containment Agent
		// already applied, rather than creating a new one; new policies
		// are only ever created by containment.Agent.Isolate.
		return a.cluster.RevertNetworkPolicy(ctx, action.Target.Namespace, action.Params["networkPolicy"])
	default:
		return &recist.ActionError{ActionID: action.ID, Err: fmt.Errorf("unsupported strategy %q", action.Strategy)}
	}
}

func parseReplicas(s string) (int32, error) {
	var n int32
	if _, err := fmt.Sscanf(s, "%d", &n); err != nil {
		return 0, fmt.Errorf("invalid replica count %q: %w", s, err)
	}
	return n, nil
}
