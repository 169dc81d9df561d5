package service

import (
	"context"

	"github.com/recist/recist/internal/db"
	recist "github.com/recist/recist/internal/model"
)

// EventsService is the read side of the operator API: the list/detail
// projections over persisted incidents that back the healing-events
// dashboard.
type EventsService struct {
	repo *db.Postgres
}

func NewEventsService(repo *db.Postgres) *EventsService {
	return &EventsService{repo: repo}
}

func (s *EventsService) List(ctx context.Context, limit int) ([]recist.HealingEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.repo.ListHealingEvents(ctx, limit)
}

func (s *EventsService) Get(ctx context.Context, id string) (*recist.Incident, error) {
	return s.repo.GetIncident(ctx, id)
}
