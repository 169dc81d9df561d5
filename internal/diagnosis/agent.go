// Package diagnosis is the Diagnosis Agent: it assembles a bounded
// telemetry slice for a faulted target and its dependency neighborhood,
// scores a causal subgraph over that slice the way
// platformbuilds-mirador-rca's CausalityEngine scores upstream edges by
// timeline ordering, and asks the configured LLM provider to turn the
// strongest root-cause candidate into a natural-language hypothesis,
// biased by any priors the Knowledge Agent surfaces for the target.
package diagnosis

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	recist "github.com/recist/recist/internal/model"

	"github.com/recist/recist/internal/knowledge"
	"github.com/recist/recist/internal/llm"
	obsmetrics "github.com/recist/recist/internal/metrics"
	"github.com/recist/recist/internal/telemetry"
)

// Agent is the Diagnosis Agent: it draws evidence from the telemetry
// adapters, priors from the Knowledge Store, and hypotheses from the
// LLM provider, making at most two LLM attempts per Diagnose call.
type Agent struct {
	metrics *telemetry.MetricsAdapter
	logs    *telemetry.LogsAdapter
	events  *telemetry.EventsAdapter
	store   *knowledge.Store
	llm     llm.Provider
}

func New(metrics *telemetry.MetricsAdapter, logs *telemetry.LogsAdapter, events *telemetry.EventsAdapter, store *knowledge.Store, provider llm.Provider) *Agent {
	return &Agent{metrics: metrics, logs: logs, events: events, store: store, llm: provider}
}

// Assemble gathers the telemetry slice for a target and its declared
// neighbors within the lookback window.
func (a *Agent) Assemble(ctx context.Context, target recist.Target, neighbors []recist.Target, lookback time.Duration) (recist.TelemetrySlice, error) {
	slice := recist.TelemetrySlice{
		Target:      target,
		Window:      lookback,
		Metrics:     map[string][]recist.MetricSeries{},
		Logs:        map[string][]recist.LogLine{},
		Events:      map[string][]recist.ClusterEvent{},
		Neighbors:   neighbors,
		AssembledAt: time.Now(),
	}

	targets := append([]recist.Target{target}, neighbors...)
	for _, t := range targets {
		if a.metrics != nil {
			cpuQuery := fmt.Sprintf(`rate(container_cpu_usage_seconds_total{namespace="%s",pod=~"%s.*"}[5m])`, t.Namespace, t.Name)
			series, err := a.metrics.QueryRange(ctx, cpuQuery, lookback, 30*time.Second)
			if err == nil {
				slice.Metrics[t.Key()] = append(slice.Metrics[t.Key()], series)
			}
		}

		if a.logs != nil {
			logQuery := fmt.Sprintf(`{namespace="%s",pod=~"%s.*"}`, t.Namespace, t.Name)
			lines, err := a.logs.QueryRange(ctx, logQuery, lookback)
			if err == nil {
				slice.Logs[t.Key()] = lines
			}
		}

		if a.events != nil {
			events, err := a.events.QueryRange(ctx, t, lookback)
			if err == nil {
				slice.Events[t.Key()] = events
			}
		}
	}
	return slice, nil
}

// nodeHalfLife is the exponential-decay half-life used to age an
// observation's contribution to its node weight.
const nodeHalfLife = 60 * time.Second

// temporalProximity is the maximum gap between two observations that,
// by itself, is enough to draw an edge between them.
const temporalProximity = time.Second

// knownPatterns are cause/effect keyword pairs the operator has seen
// repeat often enough to wire an edge on sight rather than wait for
// temporal or source-identity evidence.
var knownPatterns = []struct{ cause, effect string }{
	{"oom", "crashloop"},
	{"oom", "backoff"},
	{"unhealthy", "backoff"},
	{"timeout", "5xx"},
	{"connection refused", "5xx"},
}

// BuildSubgraph derives a causal DAG over the slice's anomalous
// observations (individual log lines and Warning events, not whole
// targets). An edge cause->effect is drawn only when cause precedes
// effect in time and one of three rules holds: temporal proximity
// (≤1s apart), source/module identity (same target), or a known
// pattern rule pairing cause and effect keywords. Because edges are
// only ever drawn from an earlier observation to a later one, the
// result is a DAG by construction. Node weight is frequency (how many
// anomalies its target contributed) times recency (exponential decay
// against the slice's assembly time, half-life 60s). Root candidates
// are the nodes with in-degree 0; the highest-weighted one wins.
func (a *Agent) BuildSubgraph(target recist.Target, slice recist.TelemetrySlice) recist.CausalSubgraph {
	nodes := collectObservations(slice)
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Time.Before(nodes[j].Time) })

	frequency := map[string]int{}
	for _, n := range nodes {
		frequency[n.Target.Key()]++
	}
	reference := slice.AssembledAt
	if reference.IsZero() && len(nodes) > 0 {
		reference = nodes[len(nodes)-1].Time
	}
	for i := range nodes {
		age := reference.Sub(nodes[i].Time).Seconds()
		recency := math.Exp(-math.Ln2 * age / nodeHalfLife.Seconds())
		nodes[i].Weight = float64(frequency[nodes[i].Target.Key()]) * clamp(recency, 0, 1)
	}

	subgraph := recist.CausalSubgraph{Nodes: nodes, Root: target}
	inDegree := make([]int, len(nodes))

	for i := 0; i < len(nodes); i++ {
		for j := i + 1; j < len(nodes); j++ {
			cause, effect := nodes[i], nodes[j]
			rule, ok := edgeRule(cause, effect)
			if !ok {
				continue
			}
			inDegree[j]++
			subgraph.Edges = append(subgraph.Edges, recist.CausalEdge{
				Cause:     cause.ID,
				Effect:    effect.ID,
				Weight:    clamp(effect.Weight, 0, 1),
				Rationale: fmt.Sprintf("%s: %s (%s) preceded %s (%s)", rule, cause.Target.Key(), cause.Message, effect.Target.Key(), effect.Message),
			})
		}
	}

	subgraph.Root = rootTarget(nodes, inDegree, target)
	return subgraph
}

// edgeRule reports which rule, if any, licenses a cause->effect edge.
func edgeRule(cause, effect recist.Observation) (string, bool) {
	if !cause.Time.Before(effect.Time) {
		return "", false
	}
	if effect.Time.Sub(cause.Time) <= temporalProximity {
		return "temporal proximity", true
	}
	if cause.Target.Key() == effect.Target.Key() {
		return "source identity", true
	}
	if matchesKnownPattern(cause, effect) {
		return "known pattern", true
	}
	return "", false
}

func matchesKnownPattern(cause, effect recist.Observation) bool {
	causeText := strings.ToLower(cause.Reason + " " + cause.Message)
	effectText := strings.ToLower(effect.Reason + " " + effect.Message)
	for _, p := range knownPatterns {
		if strings.Contains(causeText, p.cause) && strings.Contains(effectText, p.effect) {
			return true
		}
	}
	return false
}

// rootTarget picks the highest-weighted in-degree-0 observation's
// target, falling back to the faulted target itself when the slice
// held no anomalous observations at all.
func rootTarget(nodes []recist.Observation, inDegree []int, fallback recist.Target) recist.Target {
	best := -1
	for i, n := range nodes {
		if inDegree[i] != 0 {
			continue
		}
		if best == -1 || n.Weight > nodes[best].Weight {
			best = i
		}
	}
	if best == -1 {
		return fallback
	}
	return nodes[best].Target
}

// collectObservations flattens every anomalous log line (level error or
// warn) and Warning event across the slice's target and neighbors into
// observation nodes.
func collectObservations(slice recist.TelemetrySlice) []recist.Observation {
	var nodes []recist.Observation
	targets := append([]recist.Target{slice.Target}, slice.Neighbors...)
	for _, t := range targets {
		for i, line := range slice.Logs[t.Key()] {
			if line.Level != "error" && line.Level != "warn" {
				continue
			}
			nodes = append(nodes, recist.Observation{
				ID:      fmt.Sprintf("log:%s:%d", t.Key(), i),
				Target:  t,
				Source:  "log",
				Time:    line.Time,
				Message: line.Message,
			})
		}
		for i, e := range slice.Events[t.Key()] {
			if e.Type != "Warning" {
				continue
			}
			nodes = append(nodes, recist.Observation{
				ID:      fmt.Sprintf("event:%s:%d", t.Key(), i),
				Target:  t,
				Source:  "event",
				Time:    e.Time,
				Reason:  e.Reason,
				Message: e.Message,
			})
		}
	}
	return nodes
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Diagnose assembles evidence, scores the causal subgraph, pulls priors
// from the Knowledge Store, and asks the LLM provider for a hypothesis
// as a JSON object (ExtractJSON strips code fences before parsing). If the
// response fails to parse or its confidence falls below
// confidenceThreshold, it retries once against a 2x lookback window —
// a wider evidence window is the one lever this stage has to recover
// from a marginal or malformed first attempt — before giving up and
// returning DiagnosisInconclusive.
func (a *Agent) Diagnose(ctx context.Context, incidentID string, target recist.Target, faultSet recist.FaultSet, neighbors []recist.Target, lookback time.Duration, confidenceThreshold float64, attempt int) (recist.Diagnosis, error) {
	dx, err := a.diagnoseOnce(ctx, incidentID, target, faultSet, neighbors, lookback, attempt)
	if err == nil && dx.Confidence >= confidenceThreshold {
		obsmetrics.ObserveDiagnosisConfidence(dx.Confidence)
		return dx, nil
	}

	dx, err = a.diagnoseOnce(ctx, incidentID, target, faultSet, neighbors, lookback*2, attempt)
	if err != nil {
		return recist.Diagnosis{}, &recist.DiagnosisInconclusive{Target: target.Key(), Reason: recist.FailureLowConfidence, Err: err}
	}
	if dx.Confidence < confidenceThreshold {
		return recist.Diagnosis{}, &recist.DiagnosisInconclusive{Target: target.Key(), Confidence: dx.Confidence, Reason: recist.FailureLowConfidence}
	}
	obsmetrics.ObserveDiagnosisConfidence(dx.Confidence)
	return dx, nil
}

func (a *Agent) diagnoseOnce(ctx context.Context, incidentID string, target recist.Target, faultSet recist.FaultSet, neighbors []recist.Target, lookback time.Duration, attempt int) (recist.Diagnosis, error) {
	slice, err := a.Assemble(ctx, target, neighbors, lookback)
	if err != nil {
		return recist.Diagnosis{}, err
	}
	subgraph := a.BuildSubgraph(target, slice)

	var priors []recist.KnowledgeRecord
	if a.store != nil {
		querySummary := fmt.Sprintf("%s fault on %s: %s", faultSet.MaxSeverity(), target.Key(), summarizeFaults(faultSet))
		if p, err := a.store.Priors(ctx, target, querySummary, 3); err == nil {
			priors = p
		}
	}

	completion, err := a.llm.Complete(ctx, diagnosisSystemPrompt, buildDiagnosisPrompt(target, faultSet, subgraph, priors))
	if err != nil {
		return recist.Diagnosis{}, err
	}

	var parsed struct {
		Hypothesis string  `json:"hypothesis"`
		Confidence float64 `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(llm.ExtractJSON(completion)), &parsed); err != nil {
		return recist.Diagnosis{}, &recist.ParseError{Backend: a.llm.Name(), Op: "diagnose", Err: err}
	}

	return recist.Diagnosis{
		IncidentID:  incidentID,
		Hypothesis:  parsed.Hypothesis,
		RootCause:   subgraph.Root,
		Confidence:  clamp(parsed.Confidence, 0, 1),
		Subgraph:    subgraph,
		Priors:      priors,
		GeneratedAt: time.Now(),
		Attempt:     attempt,
	}, nil
}

const diagnosisSystemPrompt = `You are the diagnosis stage of a Kubernetes self-healing controller. Given a fault, its causal subgraph, and similar past incidents, respond with a JSON object {"hypothesis": string, "confidence": number between 0 and 1} and nothing else.`

func buildDiagnosisPrompt(target recist.Target, faultSet recist.FaultSet, subgraph recist.CausalSubgraph, priors []recist.KnowledgeRecord) string {
	b, _ := json.Marshal(struct {
		Target   recist.Target            `json:"target"`
		Faults   []recist.FaultRecord     `json:"faults"`
		Subgraph recist.CausalSubgraph    `json:"subgraph"`
		Priors   []recist.KnowledgeRecord `json:"priors"`
	}{target, faultSet.Faults, subgraph, priors})
	return string(b)
}

func summarizeFaults(fs recist.FaultSet) string {
	if len(fs.Faults) == 0 {
		return "unknown"
	}
	return string(fs.Faults[0].Reason)
}
