// Package template renders webhook body templates for outbound
// notification webhooks (model.WebhookConfig), substituting
// {{incident.*}} and {{fault.*}} placeholders the way kube-rca-backend's
// webhook body renderer substitutes {{incident.*}} / {{alert.*}}. Its
// consumer is notify.ConfigurableSender.
package template

import (
	"strconv"
	"strings"
	"time"

	recist "github.com/recist/recist/internal/model"
)

// IncidentData is the flattened view of an Incident available to a
// webhook body template.
type IncidentData struct {
	ID         string
	Target     string
	Phase      string
	Strategy   string
	Confidence float64
	Attempt    int
	CreatedAt  time.Time
	Summary    string
}

// FaultData is the flattened view of the FaultRecord that opened the
// incident.
type FaultData struct {
	Namespace  string
	Kind       string
	Name       string
	Reason     string
	Severity   string
	DetectedAt time.Time
}

func IncidentDataFrom(inc recist.Incident) IncidentData {
	summary := ""
	confidence := 0.0
	if inc.Diagnosis != nil {
		summary = inc.Diagnosis.Hypothesis
		confidence = inc.Diagnosis.Confidence
	}
	strategy := ""
	if inc.SelectedPlan != nil {
		strategy = string(inc.SelectedPlan.Strategy)
	}
	return IncidentData{
		ID:         inc.ID,
		Target:     inc.Target.Key(),
		Phase:      string(inc.Phase),
		Strategy:   strategy,
		Confidence: confidence,
		Attempt:    inc.Attempt,
		CreatedAt:  inc.CreatedAt,
		Summary:    summary,
	}
}

func FaultDataFrom(f recist.FaultRecord) FaultData {
	return FaultData{
		Namespace:  f.Target.Namespace,
		Kind:       f.Target.Kind,
		Name:       f.Target.Name,
		Reason:     string(f.Reason),
		Severity:   string(f.Severity),
		DetectedAt: f.DetectedAt,
	}
}

// RenderBody substitutes the recognized variables in body. Either
// argument may be nil; its variables are then replaced with "".
func RenderBody(body string, incident *IncidentData, fault *FaultData) string {
	pairs := make([]string, 0, 24)

	if incident != nil {
		pairs = append(pairs,
			"{{incident.id}}", incident.ID,
			"{{incident.target}}", incident.Target,
			"{{incident.phase}}", incident.Phase,
			"{{incident.strategy}}", incident.Strategy,
			"{{incident.confidence}}", formatFloat(incident.Confidence),
			"{{incident.attempt}}", formatInt(incident.Attempt),
			"{{incident.created_at}}", incident.CreatedAt.Format(time.RFC3339),
			"{{incident.summary}}", incident.Summary,
		)
	} else {
		for _, key := range []string{"id", "target", "phase", "strategy", "confidence", "attempt", "created_at", "summary"} {
			pairs = append(pairs, "{{incident."+key+"}}", "")
		}
	}

	if fault != nil {
		pairs = append(pairs,
			"{{fault.namespace}}", fault.Namespace,
			"{{fault.kind}}", fault.Kind,
			"{{fault.name}}", fault.Name,
			"{{fault.reason}}", fault.Reason,
			"{{fault.severity}}", fault.Severity,
			"{{fault.detected_at}}", fault.DetectedAt.Format(time.RFC3339),
		)
	} else {
		for _, key := range []string{"namespace", "kind", "name", "reason", "severity", "detected_at"} {
			pairs = append(pairs, "{{fault."+key+"}}", "")
		}
	}

	return strings.NewReplacer(pairs...).Replace(body)
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', 2, 64)
}

func formatInt(i int) string {
	return strconv.Itoa(i)
}
