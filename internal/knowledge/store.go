// Package knowledge is the Knowledge Agent: a two-tier store over past
// incidents. The hot tier is an in-memory per-namespace LRU (grounded on
// kube-rca-backend's use of hashicorp/golang-lru for the alert-dedup cache)
// giving the Diagnosis Agent sub-millisecond priors for a namespace
// it has already touched this process's lifetime; the cold tier is the
// pgvector-indexed internal/db knowledge tables, searched when the hot
// tier misses or on process start.
package knowledge

import (
	"context"
	"math"
	"sort"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/rs/zerolog/log"

	"github.com/recist/recist/internal/db"
	"github.com/recist/recist/internal/eventbus"
	"github.com/recist/recist/internal/llm"
	recist "github.com/recist/recist/internal/model"
)

const hotBufferSize = 256

// Store is the Knowledge Agent's handle: hot per-namespace buffers plus
// the durable pgvector-backed record set.
type Store struct {
	repo *db.Postgres
	llm  llm.Provider
	bus  *eventbus.Bus

	hot map[string]*lru.Cache // namespace -> LRU of recist.KnowledgeRecord

	topicSimilarity float64
}

func New(repo *db.Postgres, provider llm.Provider, bus *eventbus.Bus, topicSimilarity float64) *Store {
	return &Store{
		repo:            repo,
		llm:             provider,
		bus:             bus,
		hot:             make(map[string]*lru.Cache),
		topicSimilarity: topicSimilarity,
	}
}

func (s *Store) hotBuffer(namespace string) *lru.Cache {
	c, ok := s.hot[namespace]
	if !ok {
		c, _ = lru.New(hotBufferSize)
		s.hot[namespace] = c
	}
	return c
}

// Priors returns the k nearest knowledge records for a target's summary
// text, consulting the hot buffer first and falling back to the durable
// vector index. Diagnosis biases its hypothesis on these.
func (s *Store) Priors(ctx context.Context, target recist.Target, querySummary string, k int) ([]recist.KnowledgeRecord, error) {
	embedding, err := s.llm.Embed(ctx, querySummary)
	if err != nil {
		return nil, err
	}

	if buf := s.hotBuffer(target.Namespace); buf.Len() >= k {
		var hits []recist.KnowledgeRecord
		for _, key := range buf.Keys() {
			if v, ok := buf.Get(key); ok {
				hits = append(hits, v.(recist.KnowledgeRecord))
			}
		}
		sort.Slice(hits, func(i, j int) bool {
			return cosineSimilarity(embedding, hits[i].Embedding) > cosineSimilarity(embedding, hits[j].Embedding)
		})
		return hits[:k], nil
	}

	return s.repo.SimilarRecords(ctx, embedding, k)
}

// RecordOutcome persists a completed incident's summary as a new
// knowledge record, assigns it to the nearest topic (creating one if no
// existing centroid is close enough), and seeds the target namespace's
// hot buffer with it.
func (s *Store) RecordOutcome(ctx context.Context, incident recist.Incident, summary string) error {
	embedding, err := s.llm.Embed(ctx, summary)
	if err != nil {
		return err
	}

	outcome := "failure"
	if incident.Phase == recist.PhaseCompleted {
		outcome = "success"
	}
	strategy := recist.StrategyType("")
	if incident.SelectedPlan != nil {
		strategy = incident.SelectedPlan.Strategy
	}

	record := recist.KnowledgeRecord{
		ID:         incident.ID,
		IncidentID: incident.ID,
		Target:     incident.Target,
		Summary:    summary,
		Strategy:   strategy,
		Outcome:    outcome,
		Embedding:  embedding,
		CreatedAt:  time.Now(),
	}

	topicID, err := s.assignTopic(ctx, &record)
	if err != nil {
		log.Warn().Err(err).Msg("topic assignment failed, storing record without a topic")
	} else {
		record.TopicID = topicID
	}

	if err := s.repo.InsertKnowledgeRecord(ctx, record); err != nil {
		return err
	}

	s.hotBuffer(incident.Target.Namespace).Add(record.ID, record)

	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.EventKnowledgeRecorded, Source: eventbus.AgentKnowledge, IncidentID: incident.ID, Payload: record})
	}
	return nil
}

// assignTopic finds the nearest topic centroid; if its cosine similarity
// to the record is at least topicSimilarity the record joins that topic and the
// centroid is recomputed as the mean of member embeddings, otherwise a
// new singleton topic is created.
func (s *Store) assignTopic(ctx context.Context, record *recist.KnowledgeRecord) (string, error) {
	nearest, distance, err := s.repo.NearestTopic(ctx, record.Embedding)
	if err == nil && nearest != nil && (1-distance) >= s.topicSimilarity {
		nearest.MemberIDs = append(nearest.MemberIDs, record.ID)
		nearest.Centroid = meanEmbedding(nearest.Centroid, len(nearest.MemberIDs)-1, record.Embedding)
		nearest.UpdatedAt = time.Now()
		if err := s.repo.UpsertTopic(ctx, *nearest); err != nil {
			return "", err
		}
		return nearest.ID, nil
	}

	topic := recist.Topic{
		ID:        record.IncidentID + "-topic",
		Label:     string(record.Strategy),
		Centroid:  record.Embedding,
		MemberIDs: []string{record.ID},
		UpdatedAt: time.Now(),
	}
	if err := s.repo.UpsertTopic(ctx, topic); err != nil {
		return "", err
	}
	return topic.ID, nil
}

// meanEmbedding folds one new vector into a running mean over n prior
// members, avoiding a full recompute over every member on each insert.
func meanEmbedding(centroid []float32, n int, next []float32) []float32 {
	if len(centroid) != len(next) || n == 0 {
		return next
	}
	out := make([]float32, len(centroid))
	for i := range centroid {
		out[i] = float32((float64(centroid[i])*float64(n) + float64(next[i])) / float64(n+1))
	}
	return out
}

// RecordUsage folds one more retrieval outcome into a prior's running
// success rate after it informed a plan that was later verified.
func (s *Store) RecordUsage(ctx context.Context, recordID string, succeeded bool, priorUsage int, priorRate float64) error {
	rec := recist.KnowledgeRecord{UsageCount: priorUsage, SuccessRate: priorRate}
	rec.RecordUsage(succeeded)
	return s.repo.UpdateKnowledgeUsage(ctx, recordID, rec.UsageCount, rec.SuccessRate)
}

// ProactiveScan compares a target's current metric trend against past
// incident embeddings already sitting in the namespace's hot buffer
// (no Postgres round trip for the common case where the namespace has
// been diagnosed earlier in this process's lifetime) and, on a miss, falls
// back to the durable vector index the way Priors does. It returns nil
// when the trend isn't worth flagging or nothing on file is similar
// enough, so a caller can skip notifying on the common non-event case.
func (s *Store) ProactiveScan(ctx context.Context, target recist.Target, series recist.MetricSeries, k int) (*recist.ProactiveAdvisory, error) {
	trend := trendFromSeries(series)
	if trend.Direction != recist.TrendIncreasing {
		return nil, nil
	}

	summary := target.Key() + " " + trend.Metric + " trending " + string(trend.Direction)
	embedding, err := s.llm.Embed(ctx, summary)
	if err != nil {
		return nil, err
	}

	var similar []recist.KnowledgeRecord
	if buf := s.hotBuffer(target.Namespace); buf.Len() > 0 {
		for _, key := range buf.Keys() {
			v, ok := buf.Get(key)
			if !ok {
				continue
			}
			rec := v.(recist.KnowledgeRecord)
			if cosineSimilarity(embedding, rec.Embedding) >= s.topicSimilarity {
				similar = append(similar, rec)
			}
		}
	}
	if len(similar) == 0 {
		similar, err = s.repo.SimilarRecords(ctx, embedding, k)
		if err != nil {
			return nil, err
		}
	}
	if len(similar) == 0 {
		return nil, nil
	}
	if len(similar) > k {
		similar = similar[:k]
	}

	advisory := &recist.ProactiveAdvisory{
		Target:      target,
		Trends:      []recist.TrendAnalysis{trend},
		SimilarTo:   similar,
		GeneratedAt: time.Now(),
	}
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.EventProactiveAdvisory, Source: eventbus.AgentKnowledge, Payload: advisory})
	}
	return advisory, nil
}

// trendFromSeries estimates direction and per-minute rate from the
// first and last sample of a range query, which is all the proactive
// scan needs to decide whether a target is worth a heads-up.
func trendFromSeries(series recist.MetricSeries) recist.TrendAnalysis {
	if len(series.Points) < 2 {
		return recist.TrendAnalysis{Metric: series.Name, Direction: recist.TrendStable}
	}
	first, last := series.Points[0], series.Points[len(series.Points)-1]
	minutes := last.Time.Sub(first.Time).Minutes()
	if minutes <= 0 {
		return recist.TrendAnalysis{Metric: series.Name, Direction: recist.TrendStable}
	}
	rate := (last.Value - first.Value) / minutes

	direction := recist.TrendStable
	switch {
	case rate > 0.01:
		direction = recist.TrendIncreasing
	case rate < -0.01:
		direction = recist.TrendDecreasing
	}
	return recist.TrendAnalysis{Metric: series.Name, Direction: direction, RatePerMinute: rate}
}

// cosineSimilarity is used by the proactive scan to compare a live
// metric trend embedding against stored incident embeddings without a
// round trip to Postgres.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
