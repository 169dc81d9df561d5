// Package metrics exposes the operator's Prometheus collectors: incident
// throughput and duration, fault detection counts, applied-action
// outcomes, and diagnosis confidence, mounted at /metrics for the
// cluster's own Prometheus to scrape.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"

	ActionSucceeded = "succeeded"
	ActionFailed    = "failed"
)

var (
	incidentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "recist",
			Name:      "incidents_total",
			Help:      "Total number of incidents handled, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	incidentDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "recist",
			Name:      "incident_duration_seconds",
			Help:      "Time from incident admission to a terminal phase, in seconds.",
			Buckets:   []float64{5, 15, 30, 60, 120, 300, 600, 1200},
		},
	)

	faultsDetectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "recist",
			Name:      "faults_detected_total",
			Help:      "Total number of faults admitted by the Containment Agent, partitioned by trigger reason.",
		},
		[]string{"reason"},
	)

	actionsAppliedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "recist",
			Name:      "actions_applied_total",
			Help:      "Total number of remediation actions dispatched, partitioned by strategy and outcome.",
		},
		[]string{"strategy", "outcome"},
	)

	diagnosisConfidence = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "recist",
			Name:      "diagnosis_confidence",
			Help:      "Confidence score of accepted diagnoses.",
			Buckets:   []float64{0.5, 0.6, 0.7, 0.75, 0.8, 0.85, 0.9, 0.95, 1.0},
		},
	)
)

// Register attaches the recist collectors to the supplied Prometheus
// registerer, tolerating a collector that was already registered so
// callers can invoke it more than once (tests constructing multiple
// orchestrators against the default registerer, for instance).
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		incidentsTotal,
		incidentDurationSeconds,
		faultsDetectedTotal,
		actionsAppliedTotal,
		diagnosisConfidence,
	}
	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveIncident records a terminal incident's outcome and total
// duration.
func ObserveIncident(outcome string, duration time.Duration) {
	incidentsTotal.WithLabelValues(outcome).Inc()
	if duration < 0 {
		duration = 0
	}
	incidentDurationSeconds.Observe(duration.Seconds())
}

// ObserveFaultDetected records one fault admission by trigger reason.
func ObserveFaultDetected(reason string) {
	faultsDetectedTotal.WithLabelValues(reason).Inc()
}

// ObserveAction records one dispatched action's strategy and outcome.
func ObserveAction(strategy string, succeeded bool) {
	outcome := ActionSucceeded
	if !succeeded {
		outcome = ActionFailed
	}
	actionsAppliedTotal.WithLabelValues(strategy, outcome).Inc()
}

// ObserveDiagnosisConfidence records an accepted diagnosis's confidence.
func ObserveDiagnosisConfidence(confidence float64) {
	diagnosisConfidence.Observe(confidence)
}
