package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/recist/recist/internal/db"
	"github.com/recist/recist/internal/llm"
	recist "github.com/recist/recist/internal/model"
)

// EmbeddingService backs the admin embedding-backfill endpoint: given an
// incident ID and a human-written summary, it embeds the summary and
// inserts it into the Knowledge Store directly, bypassing the usual
// incident-completion path for records an operator wants indexed by
// hand (a postmortem written after the fact, for instance).
type EmbeddingService struct {
	llm llm.Provider
	db  *db.Postgres
}

func NewEmbeddingService(provider llm.Provider, repo *db.Postgres) *EmbeddingService {
	return &EmbeddingService{llm: provider, db: repo}
}

func (s *EmbeddingService) CreateEmbedding(ctx context.Context, incidentID, summary string) (string, string, error) {
	if incidentID == "" || summary == "" {
		return "", "", fmt.Errorf("incident_id and incident_summary are required")
	}

	vector, err := s.llm.Embed(ctx, summary)
	if err != nil {
		return "", s.llm.Name(), err
	}

	record := recist.KnowledgeRecord{
		ID:         uuid.NewString(),
		IncidentID: incidentID,
		Summary:    summary,
		Embedding:  vector,
		CreatedAt:  time.Now(),
	}
	if err := s.db.InsertKnowledgeRecord(ctx, record); err != nil {
		return "", s.llm.Name(), err
	}

	return record.ID, s.llm.Name(), nil
}
