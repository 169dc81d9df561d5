package service

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/recist/recist/internal/db"
	recist "github.com/recist/recist/internal/model"
)

var ErrPolicyNotFound = errors.New("policy not found")

// PolicyService manages named SelfHealingPolicy overrides layered on top
// of the compiled-in DefaultPolicy.
type PolicyService struct {
	repo *db.Postgres
}

func NewPolicyService(repo *db.Postgres) *PolicyService {
	return &PolicyService{repo: repo}
}

func (s *PolicyService) List(ctx context.Context) ([]recist.SelfHealingPolicy, error) {
	return s.repo.ListPolicies(ctx)
}

func (s *PolicyService) Get(ctx context.Context, name string) (*recist.SelfHealingPolicy, error) {
	p, err := s.repo.GetPolicy(ctx, name)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrPolicyNotFound
	}
	return p, err
}

func (s *PolicyService) Upsert(ctx context.Context, p recist.SelfHealingPolicy) error {
	if p.Name == "" {
		return errors.New("policy name is required")
	}
	base := recist.DefaultPolicy()
	if p.CheckInterval == 0 {
		p.CheckInterval = base.CheckInterval
	}
	if p.Lookback == 0 {
		p.Lookback = base.Lookback
	}
	if p.LLMTimeout == 0 {
		p.LLMTimeout = base.LLMTimeout
	}
	if p.ConfidenceThreshold == 0 {
		p.ConfidenceThreshold = base.ConfidenceThreshold
	}
	if p.MaxMicroAgents == 0 {
		p.MaxMicroAgents = base.MaxMicroAgents
	}
	if p.ActionTimeout == 0 {
		p.ActionTimeout = base.ActionTimeout
	}
	if p.VerificationWait == 0 {
		p.VerificationWait = base.VerificationWait
	}
	if p.MaxAttempts == 0 {
		p.MaxAttempts = base.MaxAttempts
	}
	if p.DecisionThreshold == 0 {
		p.DecisionThreshold = base.DecisionThreshold
	}
	if p.MaxLocalEvents == 0 {
		p.MaxLocalEvents = base.MaxLocalEvents
	}
	if p.KnowledgeTTL == 0 {
		p.KnowledgeTTL = base.KnowledgeTTL
	}
	if p.TopicSimilarity == 0 {
		p.TopicSimilarity = base.TopicSimilarity
	}
	if p.LLMProvider == "" {
		p.LLMProvider = base.LLMProvider
	}
	return s.repo.UpsertPolicy(ctx, p)
}

func (s *PolicyService) Delete(ctx context.Context, name string) error {
	return s.repo.DeletePolicy(ctx, name)
}
