package db

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pgvector/pgvector-go"

	recist "github.com/recist/recist/internal/model"
)

// EnsureKnowledgeSchema creates the two tables backing the Knowledge
// Store's cluster-wide tier: knowledge_records (one row per past
// incident, embedded for similarity search) and topics (cluster
// centroids). The per-namespace hot buffer is purely in-memory
// (internal/knowledge's LRU) and has no table of its own, matching the
// spec's two-tier design: hot tier is fast and volatile, cold tier is
// durable and searchable.
func (db *Postgres) EnsureKnowledgeSchema(ctx context.Context, dim int) error {
	queries := []string{
		fmt.Sprintf(`CREATE EXTENSION IF NOT EXISTS vector`),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS knowledge_records (
			id TEXT PRIMARY KEY,
			incident_id TEXT NOT NULL,
			target_key TEXT NOT NULL,
			summary TEXT NOT NULL,
			strategy TEXT NOT NULL DEFAULT '',
			outcome TEXT NOT NULL DEFAULT '',
			embedding vector(%d) NOT NULL,
			topic_id TEXT NOT NULL DEFAULT '',
			usage_count INT NOT NULL DEFAULT 0,
			success_rate DOUBLE PRECISION NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`, dim),
		`CREATE INDEX IF NOT EXISTS knowledge_records_topic_idx ON knowledge_records(topic_id)`,
		`CREATE INDEX IF NOT EXISTS knowledge_records_embedding_idx ON knowledge_records USING ivfflat (embedding vector_cosine_ops)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS topics (
			id TEXT PRIMARY KEY,
			label TEXT NOT NULL DEFAULT '',
			centroid vector(%d) NOT NULL,
			member_ids JSONB NOT NULL DEFAULT '[]',
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`, dim),
	}
	for _, q := range queries {
		if _, err := db.Pool.Exec(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (db *Postgres) InsertKnowledgeRecord(ctx context.Context, r recist.KnowledgeRecord) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO knowledge_records
			(id, incident_id, target_key, summary, strategy, outcome, embedding, topic_id, usage_count, success_rate, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, r.ID, r.IncidentID, r.Target.Key(), r.Summary, r.Strategy, r.Outcome,
		pgvector.NewVector(r.Embedding), r.TopicID, r.UsageCount, r.SuccessRate, r.CreatedAt)
	return err
}

func (db *Postgres) UpdateKnowledgeUsage(ctx context.Context, id string, usageCount int, successRate float64) error {
	_, err := db.Pool.Exec(ctx, `
		UPDATE knowledge_records SET usage_count = $2, success_rate = $3 WHERE id = $1
	`, id, usageCount, successRate)
	return err
}

// SimilarRecords returns the k nearest knowledge records to the given
// embedding by cosine distance (pgvector's <=> operator), the priors
// the Diagnosis Agent biases its hypothesis on.
func (db *Postgres) SimilarRecords(ctx context.Context, embedding []float32, k int) ([]recist.KnowledgeRecord, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT id, incident_id, target_key, summary, strategy, outcome, topic_id, usage_count, success_rate, created_at
		FROM knowledge_records
		ORDER BY embedding <=> $1
		LIMIT $2
	`, pgvector.NewVector(embedding), k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []recist.KnowledgeRecord
	for rows.Next() {
		var r recist.KnowledgeRecord
		var targetKey string
		if err := rows.Scan(&r.ID, &r.IncidentID, &targetKey, &r.Summary, &r.Strategy, &r.Outcome,
			&r.TopicID, &r.UsageCount, &r.SuccessRate, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (db *Postgres) UpsertTopic(ctx context.Context, t recist.Topic) error {
	members, err := json.Marshal(t.MemberIDs)
	if err != nil {
		return err
	}
	_, err = db.Pool.Exec(ctx, `
		INSERT INTO topics (id, label, centroid, member_ids, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			centroid = EXCLUDED.centroid,
			member_ids = EXCLUDED.member_ids,
			updated_at = EXCLUDED.updated_at
	`, t.ID, t.Label, pgvector.NewVector(t.Centroid), members, t.UpdatedAt)
	return err
}

func (db *Postgres) NearestTopic(ctx context.Context, embedding []float32) (*recist.Topic, float64, error) {
	var t recist.Topic
	var members []byte
	var centroid pgvector.Vector
	var distance float64
	err := db.Pool.QueryRow(ctx, `
		SELECT id, label, centroid, member_ids, updated_at, centroid <=> $1 AS distance
		FROM topics
		ORDER BY distance
		LIMIT 1
	`, pgvector.NewVector(embedding)).Scan(&t.ID, &t.Label, &centroid, &members, &t.UpdatedAt, &distance)
	if err != nil {
		return nil, 0, err
	}
	if err := json.Unmarshal(members, &t.MemberIDs); err != nil {
		return nil, 0, err
	}
	t.Centroid = centroid.Slice()
	return &t, distance, nil
}
