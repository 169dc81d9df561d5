package model

import "time"

// MetricPoint is one sample of a scalar metric series.
type MetricPoint struct {
	Time  time.Time `json:"time"`
	Value float64   `json:"value"`
}

// MetricSeries is a named, labeled set of samples returned by the
// metrics telemetry adapter.
type MetricSeries struct {
	Name   string            `json:"name"`
	Labels map[string]string `json:"labels"`
	Points []MetricPoint     `json:"points"`
}

// LogLine is one structured log record.
type LogLine struct {
	Time      time.Time `json:"time"`
	Container string    `json:"container"`
	Message   string    `json:"message"`
	Level     string    `json:"level"`
}

// ClusterEvent mirrors a Kubernetes Event object relevant to a target.
type ClusterEvent struct {
	Time    time.Time `json:"time"`
	Reason  string    `json:"reason"`
	Message string    `json:"message"`
	Type    string    `json:"type"` // Normal | Warning
}

// TelemetrySlice is the bounded evidence window the Diagnosis Agent
// assembles for one incident: metrics, logs, and events across the
// target and its immediate dependency neighborhood, all clipped to the
// policy's lookback window.
type TelemetrySlice struct {
	Target    Target                    `json:"target"`
	Window    time.Duration             `json:"window"`
	Metrics   map[string][]MetricSeries `json:"metrics"` // keyed by target key
	Logs      map[string][]LogLine      `json:"logs"`
	Events    map[string][]ClusterEvent `json:"events"`
	Neighbors []Target                  `json:"neighbors"`
	AssembledAt time.Time               `json:"assembledAt"`
}

// Observation is one causal-subgraph node: a single anomalous log line
// or cluster event, not a whole target. Weight is frequency (how many
// anomalies its target contributed to the slice) times recency (an
// exponential decay of its age against the slice's assembly time).
type Observation struct {
	ID      string    `json:"id"`
	Target  Target    `json:"target"`
	Source  string    `json:"source"` // "log" | "event"
	Time    time.Time `json:"time"`
	Reason  string    `json:"reason,omitempty"` // event reason, empty for logs
	Message string    `json:"message"`
	Weight  float64   `json:"weight"`
}

// CausalEdge is one directed edge of the causal subgraph: Cause is
// believed to precede/explain Effect. Cause and Effect are Observation
// IDs.
type CausalEdge struct {
	Cause     string  `json:"cause"`
	Effect    string  `json:"effect"`
	Weight    float64 `json:"weight"`
	Rationale string  `json:"rationale"`
}

// CausalSubgraph is a DAG of observation nodes (cycle edges are dropped
// at construction, per invariant) over the target and its telemetry
// neighborhood.
type CausalSubgraph struct {
	Nodes []Observation `json:"nodes"`
	Edges []CausalEdge  `json:"edges"`
	Root  Target        `json:"root"` // best root-cause candidate's target
}
