package model

import "time"

// AlertmanagerWebhook is the payload Alertmanager posts to a configured
// webhook receiver, translated by the alert-ingestion endpoint into
// FaultRecord entrants alongside the Containment Agent's own periodic
// scan.
type AlertmanagerWebhook struct {
	Version  string              `json:"version"`
	GroupKey string              `json:"groupKey"`
	Status   string              `json:"status"`
	Receiver string              `json:"receiver"`
	Alerts   []AlertmanagerAlert `json:"alerts"`
}

type AlertmanagerAlert struct {
	Status      string            `json:"status"`
	Labels      map[string]string `json:"labels"`
	Annotations map[string]string `json:"annotations"`
	StartsAt    time.Time         `json:"startsAt"`
	EndsAt      time.Time         `json:"endsAt"`
	Fingerprint string            `json:"fingerprint"`
}

var alertNameReasons = map[string]TriggerReason{
	"OOMKilled":         TriggerOOMKilled,
	"KubePodOOMKilled":  TriggerOOMKilled,
	"CrashLoopBackOff":  TriggerCrashLoop,
	"KubePodCrashLoop":  TriggerCrashLoop,
	"HighCpuUsage":      TriggerHighCPU,
	"KubeCPUThrottling": TriggerHighCPU,
	"HighMemoryUsage":   TriggerHighMemory,
	"HighErrorRate":     TriggerHighErrors,
	"ReadinessFlap":     TriggerReadinessFlap,
}

// ToFaultRecord converts a firing Alertmanager alert into a FaultRecord.
// It returns ok=false for alerts that don't carry enough labels to
// resolve a target, or that aren't in the firing state.
func (a AlertmanagerAlert) ToFaultRecord() (FaultRecord, bool) {
	if a.Status != "firing" {
		return FaultRecord{}, false
	}

	namespace := a.Labels["namespace"]
	name := firstNonEmpty(a.Labels["pod"], a.Labels["deployment"], a.Labels["name"])
	if namespace == "" || name == "" {
		return FaultRecord{}, false
	}

	kind := a.Labels["kind"]
	if kind == "" {
		kind = "Pod"
	}

	reason, ok := alertNameReasons[a.Labels["alertname"]]
	if !ok {
		reason = TriggerAlertmanager
	}

	severity := FaultSeverity(a.Labels["severity"])
	switch severity {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
	default:
		severity = DeriveSeverity(reason, 0, 0, 0)
	}

	detectedAt := a.StartsAt
	if detectedAt.IsZero() {
		detectedAt = time.Now()
	}

	id := a.Fingerprint
	if id == "" {
		id = namespace + "/" + name + "/" + string(reason)
	}

	return FaultRecord{
		ID:         id,
		Target:     Target{Namespace: namespace, Kind: kind, Name: name},
		Reason:     reason,
		Severity:   severity,
		DetectedAt: detectedAt,
		Source:     "alertmanager",
	}, true
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
