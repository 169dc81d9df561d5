package model

// EmbeddingRequest asks the Knowledge Store to (re)compute and store the
// embedding for a completed incident's summary, used by the admin API
// to backfill records written before an embedding model change.
type EmbeddingRequest struct {
	IncidentID      string `json:"incidentId"`
	IncidentSummary string `json:"incidentSummary"`
}

type EmbeddingResponse struct {
	Status      string `json:"status"`
	RecordID    string `json:"recordId"`
	Model       string `json:"model"`
}
