// Package orchestrator implements the Incident Orchestrator: the state
// machine that drives one Incident aggregate from Pending through
// Containing, Diagnosing, Planning, Executing, Verifying to a terminal
// Completed or Failed phase, persisting the aggregate before every side
// effect and re-planning on a failed verification within the policy's
// attempt budget, against the diagnosis already on file rather than
// re-running Diagnosis from scratch. It implements the seams the
// Containment Agent and the HTTP API were built against
// (containment.Admitter, api.IncidentController) so those packages
// never import this one.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/recist/recist/internal/containment"
	"github.com/recist/recist/internal/db"
	"github.com/recist/recist/internal/diagnosis"
	"github.com/recist/recist/internal/eventbus"
	"github.com/recist/recist/internal/knowledge"
	"github.com/recist/recist/internal/metacognitive"
	"github.com/recist/recist/internal/metrics"
	recist "github.com/recist/recist/internal/model"
	"github.com/recist/recist/internal/notify"
)

// ErrNoViablePlan is returned by doPlan when no proposed plan clears the
// policy's decision threshold, wrapped with the threshold value so
// callers get the context without parsing free text.
var ErrNoViablePlan = errors.New("no proposed plan cleared decision threshold")

// Orchestrator owns the in-memory active-incident index (defense in
// depth alongside the DB's unique partial index) and coordinates the
// four agents. Safe for concurrent use; each incident's own lifecycle
// runs on a single goroutine, but Admit/Retry/Cancel can be called from
// any request-handling goroutine.
type Orchestrator struct {
	repo         *db.Postgres
	containment  *containment.Agent
	diagnosis    *diagnosis.Agent
	metacog      *metacognitive.Agent
	knowledge    *knowledge.Store
	bus          *eventbus.Bus
	notifier     notify.Sender
	policy       recist.SelfHealingPolicy

	mu     sync.Mutex
	active map[string]string // target key -> incident id, mirrors the DB's partial unique index
}

func New(
	repo *db.Postgres,
	containmentAgent *containment.Agent,
	diagnosisAgent *diagnosis.Agent,
	metacogAgent *metacognitive.Agent,
	knowledgeStore *knowledge.Store,
	bus *eventbus.Bus,
	notifier notify.Sender,
	policy recist.SelfHealingPolicy,
) *Orchestrator {
	return &Orchestrator{
		repo:        repo,
		containment: containmentAgent,
		diagnosis:   diagnosisAgent,
		metacog:     metacogAgent,
		knowledge:   knowledgeStore,
		bus:         bus,
		notifier:    notifier,
		policy:      policy,
		active:      make(map[string]string),
	}
}

// Resume reloads every non-terminal incident from Postgres on process
// start and continues each from its persisted phase, the crash-recovery
// half of the durability-before-side-effect invariant.
func (o *Orchestrator) Resume(ctx context.Context) error {
	incidents, err := o.repo.ListNonTerminal(ctx)
	if err != nil {
		return err
	}
	for _, in := range incidents {
		o.claim(in.Target.Key(), in.ID)
		log.Info().Str("incident", in.ID).Str("phase", string(in.Phase)).Msg("resuming incident from persisted phase")
		go o.run(context.Background(), in)
	}
	return nil
}

// Admit is the containment.Admitter implementation: it enforces
// at-most-one-active-incident-per-target, creates a new Pending
// Incident, durably saves it, then hands it to a fresh goroutine that
// drives it through the phase machine.
func (o *Orchestrator) Admit(ctx context.Context, faultSet recist.FaultSet) error {
	key := faultSet.Target.Key()

	o.mu.Lock()
	if _, exists := o.active[key]; exists {
		o.mu.Unlock()
		log.Debug().Str("target", key).Msg("fault admitted for a target with an active incident, folding in")
		return o.foldIntoActive(ctx, key, faultSet)
	}
	incidentID := uuid.NewString()
	o.active[key] = incidentID
	o.mu.Unlock()

	incident := &recist.Incident{
		ID:          incidentID,
		Target:      faultSet.Target,
		Phase:       recist.PhasePending,
		FaultSet:    faultSet,
		MaxAttempts: o.policy.MaxAttempts,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		PolicyName:  o.policy.Name,
	}
	if err := o.repo.SaveIncident(ctx, incident); err != nil {
		o.release(key)
		return err
	}

	go o.run(context.Background(), incident)
	return nil
}

// foldIntoActive appends new fault records to the FaultSet of the
// incident already open for this target rather than opening a second
// one, preserving at-most-one-active-incident-per-target.
func (o *Orchestrator) foldIntoActive(ctx context.Context, targetKey string, faultSet recist.FaultSet) error {
	o.mu.Lock()
	incidentID := o.active[targetKey]
	o.mu.Unlock()

	incident, err := o.repo.GetIncident(ctx, incidentID)
	if err != nil {
		return err
	}
	incident.FaultSet.Faults = append(incident.FaultSet.Faults, faultSet.Faults...)
	return o.repo.SaveIncident(ctx, incident)
}

func (o *Orchestrator) claim(targetKey, incidentID string) {
	o.mu.Lock()
	o.active[targetKey] = incidentID
	o.mu.Unlock()
}

func (o *Orchestrator) release(targetKey string) {
	o.mu.Lock()
	delete(o.active, targetKey)
	o.mu.Unlock()
}

// transition durably persists a phase move before returning, enforcing
// CanTransition, so a crash between the DB write and any subsequent
// side effect always resumes from a phase the incident genuinely
// reached rather than one that was only about to be attempted.
func (o *Orchestrator) transition(ctx context.Context, in *recist.Incident, to recist.IncidentPhase) error {
	if !recist.CanTransition(in.Phase, to) {
		return fmt.Errorf("illegal transition %s -> %s for incident %s", in.Phase, to, in.ID)
	}
	in.Phase = to
	if to.Terminal() {
		now := time.Now()
		in.CompletedAt = &now
	}
	return o.repo.SaveIncident(ctx, in)
}

// run drives one incident through the full pipeline. It is the single
// writer for this incident's in-memory struct; all mutation happens
// here or in functions it calls synchronously.
func (o *Orchestrator) run(ctx context.Context, in *recist.Incident) {
	defer o.release(in.Target.Key())

	for !in.Phase.Terminal() {
		var err error
		switch in.Phase {
		case recist.PhasePending:
			err = o.doContain(ctx, in)
		case recist.PhaseContaining:
			err = o.transition(ctx, in, recist.PhaseDiagnosing)
		case recist.PhaseDiagnosing:
			err = o.doDiagnose(ctx, in)
		case recist.PhasePlanning:
			err = o.doPlan(ctx, in)
		case recist.PhaseExecuting:
			err = o.doExecute(ctx, in)
		case recist.PhaseVerifying:
			err = o.doVerify(ctx, in)
		default:
			err = fmt.Errorf("orchestrator run: unhandled phase %s", in.Phase)
		}
		if err != nil {
			o.fail(ctx, in, err)
			return
		}
	}
	o.finish(ctx, in)
}

func (o *Orchestrator) doContain(ctx context.Context, in *recist.Incident) error {
	desc, err := o.containment.Isolate(ctx, in.ID, in.Target, containmentMode(in.FaultSet.MaxSeverity()))
	if err != nil {
		return err
	}
	in.Isolation = desc
	return o.transition(ctx, in, recist.PhaseContaining)
}

// containmentMode maps fault severity onto isolation aggressiveness,
// mirroring the original operator's mode-selection table: only
// Critical faults warrant cutting off egress as well as ingress.
func containmentMode(severity recist.FaultSeverity) recist.IsolationMode {
	if severity == recist.SeverityCritical {
		return recist.IsolationHard
	}
	return recist.IsolationSoft
}

func (o *Orchestrator) doDiagnose(ctx context.Context, in *recist.Incident) error {
	neighbors := neighborTargets(in.Isolation)
	diagCtx, cancel := context.WithTimeout(ctx, o.policy.LLMTimeout)
	defer cancel()

	dx, err := o.diagnosis.Diagnose(diagCtx, in.ID, in.Target, in.FaultSet, neighbors, o.policy.Lookback, o.policy.ConfidenceThreshold, in.Attempt)
	if err != nil {
		if o.bus != nil {
			o.bus.Publish(eventbus.Event{Type: eventbus.EventDiagnosisFailed, Source: eventbus.AgentOrchestrator, IncidentID: in.ID})
		}
		return err
	}
	in.Diagnosis = &dx
	if o.bus != nil {
		o.bus.Publish(eventbus.Event{Type: eventbus.EventDiagnosisReady, Source: eventbus.AgentOrchestrator, IncidentID: in.ID, Payload: dx})
	}
	return o.transition(ctx, in, recist.PhasePlanning)
}

func neighborTargets(desc *recist.IsolationDescriptor) []recist.Target {
	if desc == nil {
		return nil
	}
	targets := make([]recist.Target, 0, len(desc.Negotiation.Accepted))
	for _, n := range desc.Negotiation.Accepted {
		targets = append(targets, n.Target)
	}
	return targets
}

func (o *Orchestrator) doPlan(ctx context.Context, in *recist.Incident) error {
	planCtx, cancel := context.WithTimeout(ctx, o.policy.LLMTimeout)
	defer cancel()

	plans := o.metacog.ProposePlans(planCtx, *in.Diagnosis, in.FaultSet, o.policy.MaxMicroAgents, o.policy.AllowedActions)
	selected, ok := metacognitive.SelectPlan(plans, o.policy.DecisionThreshold)
	if !ok {
		return fmt.Errorf("%w: %.2f", ErrNoViablePlan, o.policy.DecisionThreshold)
	}
	in.SelectedPlan = &selected
	if o.bus != nil {
		o.bus.Publish(eventbus.Event{Type: eventbus.EventPlanSelected, Source: eventbus.AgentOrchestrator, IncidentID: in.ID, Payload: selected})
	}
	return o.transition(ctx, in, recist.PhaseExecuting)
}

func (o *Orchestrator) doExecute(ctx context.Context, in *recist.Incident) error {
	execCtx, cancel := context.WithTimeout(ctx, o.policy.ActionTimeout)
	defer cancel()

	applied := o.metacog.Execute(execCtx, in.ID, *in.SelectedPlan)
	in.AppliedActions = append(in.AppliedActions, applied...)
	if err := o.repo.SaveIncident(ctx, in); err != nil {
		return err
	}

	for _, a := range applied {
		if !a.Succeeded {
			return &recist.ActionError{ActionID: a.Action.ID, Err: errors.New(a.Error)}
		}
	}
	return o.transition(ctx, in, recist.PhaseVerifying)
}

// doVerify waits VerificationWait for the target's condition to settle,
// then re-checks its telemetry for the fault's original trigger
// signature. A failed verification sends the incident back to Planning
// to re-select a plan against the existing diagnosis, within the
// attempt budget, rather than failing outright or re-running Diagnosis
// from scratch — a plan that didn't hold is not evidence the root-cause
// hypothesis was wrong.
func (o *Orchestrator) doVerify(ctx context.Context, in *recist.Incident) error {
	select {
	case <-time.After(o.policy.VerificationWait):
	case <-ctx.Done():
		return ctx.Err()
	}

	healthy, err := o.checkHealthy(ctx, in)
	if err != nil {
		return err
	}
	if o.bus != nil {
		o.bus.Publish(eventbus.Event{Type: eventbus.EventVerificationResult, Source: eventbus.AgentOrchestrator, IncidentID: in.ID, Payload: healthy})
	}

	if healthy {
		if in.Isolation != nil {
			if err := o.containment.Revert(ctx, *in.Isolation); err != nil {
				log.Warn().Err(err).Str("incident", in.ID).Msg("failed to revert isolation after successful verification")
			}
		}
		return o.transition(ctx, in, recist.PhaseCompleted)
	}

	in.Attempt++
	if in.Attempt >= in.MaxAttempts {
		return fmt.Errorf("target still unhealthy after %d attempts", in.Attempt)
	}
	return o.transition(ctx, in, recist.PhasePlanning)
}

// checkHealthy reports whether the target has recovered: the original
// fault kind must no longer fire, and no new fault kind may have
// appeared during the wait. Both conditions collapse to a single check
// — any currently-detectable fault kind, from either the threshold
// evaluator or the event stream, fails verification, whether it is the
// original kind still firing or a genuinely new one.
func (o *Orchestrator) checkHealthy(ctx context.Context, in *recist.Incident) (bool, error) {
	if candidates := o.containment.EvaluateThresholds(ctx, in.Target, o.policy.Thresholds); len(candidates) > 0 {
		return false, nil
	}

	slice, err := o.diagnosis.Assemble(ctx, in.Target, neighborTargets(in.Isolation), o.policy.Lookback)
	if err != nil {
		return false, err
	}
	for _, line := range slice.Logs[in.Target.Key()] {
		if line.Level == "error" {
			return false, nil
		}
	}
	for _, ev := range slice.Events[in.Target.Key()] {
		if _, ok := recist.TriggerFromEventReason(ev.Reason); ok {
			return false, nil
		}
	}
	return true, nil
}

func (o *Orchestrator) finish(ctx context.Context, in *recist.Incident) {
	metrics.ObserveIncident(metrics.OutcomeCompleted, time.Since(in.CreatedAt))
	summary := fmt.Sprintf("resolved %s on %s via %s", in.FaultSet.MaxSeverity(), in.Target.Key(), strategyName(in.SelectedPlan))
	if o.knowledge != nil {
		if err := o.knowledge.RecordOutcome(ctx, *in, summary); err != nil {
			log.Warn().Err(err).Str("incident", in.ID).Msg("failed to record incident outcome in knowledge store")
		}
	}
	if o.notifier != nil {
		if err := o.notifier.NotifyIncident(ctx, *in); err != nil {
			log.Warn().Err(err).Str("incident", in.ID).Msg("failed to send incident completion notification")
		}
	}
	if o.bus != nil {
		o.bus.Publish(eventbus.Event{Type: eventbus.EventIncidentCompleted, Source: eventbus.AgentOrchestrator, IncidentID: in.ID, Payload: *in})
	}
}

// failureReason maps a terminal error onto the failure-reason vocabulary
// Incident.FailureReason is documented to carry, falling back to the
// error's own text for causes outside that vocabulary (a verification
// timeout, a transition guard failure).
func failureReason(err error) string {
	var inconclusive *recist.DiagnosisInconclusive
	if errors.As(err, &inconclusive) {
		return inconclusive.Reason
	}
	if errors.Is(err, ErrNoViablePlan) {
		return recist.FailureNoViablePlan
	}
	var actionErr *recist.ActionError
	if errors.As(err, &actionErr) {
		return recist.FailureActionError
	}
	return err.Error()
}

func (o *Orchestrator) fail(ctx context.Context, in *recist.Incident, cause error) {
	metrics.ObserveIncident(metrics.OutcomeFailed, time.Since(in.CreatedAt))
	in.FailureReason = failureReason(cause)
	if err := o.transition(ctx, in, recist.PhaseFailed); err != nil {
		log.Error().Err(err).Str("incident", in.ID).Msg("failed to persist Failed phase")
	}
	if in.Isolation != nil {
		if err := o.containment.Revert(ctx, *in.Isolation); err != nil {
			log.Warn().Err(err).Str("incident", in.ID).Msg("failed to revert isolation after incident failure")
		}
	}
	if len(in.AppliedActions) > 0 {
		o.metacog.Unwind(ctx, in.ID, in.AppliedActions)
	}
	if o.knowledge != nil {
		summary := fmt.Sprintf("failed to resolve %s on %s: %s", in.FaultSet.MaxSeverity(), in.Target.Key(), cause.Error())
		if err := o.knowledge.RecordOutcome(ctx, *in, summary); err != nil {
			log.Warn().Err(err).Str("incident", in.ID).Msg("failed to record incident failure in knowledge store")
		}
	}
	if o.notifier != nil {
		if err := o.notifier.NotifyIncident(ctx, *in); err != nil {
			log.Warn().Err(err).Str("incident", in.ID).Msg("failed to send incident failure notification")
		}
	}
	if o.bus != nil {
		o.bus.Publish(eventbus.Event{Type: eventbus.EventIncidentFailed, Source: eventbus.AgentOrchestrator, IncidentID: in.ID, Payload: *in})
	}
}

func strategyName(p *recist.Plan) string {
	if p == nil {
		return "unknown"
	}
	return string(p.Strategy)
}

// RecordAppliedAction is the metacognitive.Recorder implementation: it
// reloads the incident, appends the entry, and saves, so a crash mid
// plan-execution leaves a durable partial AppliedActions list behind;
// that list is what fail unwinds if the incident later fails.
func (o *Orchestrator) RecordAppliedAction(ctx context.Context, incidentID string, applied recist.AppliedAction) error {
	in, err := o.repo.GetIncident(ctx, incidentID)
	if err != nil {
		return err
	}
	replaced := false
	for i, existing := range in.AppliedActions {
		if existing.Action.ID == applied.Action.ID {
			in.AppliedActions[i] = applied
			replaced = true
			break
		}
	}
	if !replaced {
		in.AppliedActions = append(in.AppliedActions, applied)
	}
	return o.repo.SaveIncident(ctx, in)
}

// Retry is the api.IncidentController implementation for a Failed
// incident: it resets the phase to Pending and attempt counter, and
// restarts the pipeline, satisfying at-most-one-active-incident-per-target
// by reusing the incident's own ID rather than opening a second one.
func (o *Orchestrator) Retry(ctx context.Context, incidentID string) error {
	in, err := o.repo.GetIncident(ctx, incidentID)
	if err != nil {
		return err
	}
	if in.Phase != recist.PhaseFailed {
		return fmt.Errorf("incident %s is not in a failed state", incidentID)
	}
	in.Phase = recist.PhasePending
	in.FailureReason = ""
	in.CompletedAt = nil
	if err := o.repo.SaveIncident(ctx, in); err != nil {
		return err
	}
	o.claim(in.Target.Key(), in.ID)
	go o.run(context.Background(), in)
	return nil
}

// Cancel force-terminates a non-terminal incident, reverting any active
// isolation and unwinding any applied actions, for operator-initiated
// abandonment of a pipeline that appears stuck.
func (o *Orchestrator) Cancel(ctx context.Context, incidentID string) error {
	in, err := o.repo.GetIncident(ctx, incidentID)
	if err != nil {
		return err
	}
	if in.Phase.Terminal() {
		return fmt.Errorf("incident %s is already terminal", incidentID)
	}
	o.fail(ctx, in, fmt.Errorf("cancelled by operator"))
	return nil
}
