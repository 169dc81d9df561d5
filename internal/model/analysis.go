package model

import (
	"encoding/json"
	"time"
)

// DiagnosisArtifact is one piece of raw evidence backing a Diagnosis:
// the PromQL/LogQL query that was run and the payload it returned,
// persisted alongside the diagnosis so an operator can audit why the
// LLM reached a given hypothesis.
type DiagnosisArtifact struct {
	ArtifactID   int64           `json:"artifactId"`
	IncidentID   string          `json:"incidentId"`
	ArtifactType string          `json:"artifactType"` // "metric" | "log" | "event" | "promql"
	Query        string          `json:"query"`
	Result       json.RawMessage `json:"result"`
	Summary      string          `json:"summary"`
	CreatedAt    time.Time       `json:"createdAt"`
}
