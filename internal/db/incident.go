package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	recist "github.com/recist/recist/internal/model"
)

// Postgres wraps the connection pool with every domain method the
// orchestrator, agents, and API need, following kube-rca-backend's
// "one Postgres struct, raw SQL, no ORM" shape.
type Postgres struct {
	Pool *pgxpool.Pool
}

// EnsureIncidentSchema creates the incidents table if absent and adds
// any columns a prior version didn't have, the same additive migration
// idiom kube-rca-backend's EnsureIncidentSchema uses. The full Incident
// aggregate is stored as JSONB (durability-before-side-effect requires
// writing the whole thing atomically before any action mutates the
// cluster); target_key/phase/updated_at are promoted to real columns
// for the query patterns the API and orchestrator actually run.
func (db *Postgres) EnsureIncidentSchema(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS incidents (
			id TEXT PRIMARY KEY,
			target_key TEXT NOT NULL,
			phase TEXT NOT NULL,
			policy_name TEXT NOT NULL DEFAULT '',
			body JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`ALTER TABLE incidents ADD COLUMN IF NOT EXISTS policy_name TEXT NOT NULL DEFAULT ''`,
		`CREATE INDEX IF NOT EXISTS incidents_target_key_idx ON incidents(target_key)`,
		`CREATE INDEX IF NOT EXISTS incidents_phase_idx ON incidents(phase)`,
		`CREATE INDEX IF NOT EXISTS incidents_updated_at_idx ON incidents(updated_at DESC)`,
		// enforces the at-most-one-active-incident-per-target invariant at
		// the storage layer as a defense in depth alongside the
		// orchestrator's own in-memory check.
		`CREATE UNIQUE INDEX IF NOT EXISTS incidents_active_target_idx ON incidents(target_key)
			WHERE phase NOT IN ('Completed', 'Failed')`,
	}
	for _, q := range queries {
		if _, err := db.Pool.Exec(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

// SaveIncident upserts the full Incident aggregate. Callers must write
// this before any action the incident describes is allowed to take a
// side effect on the cluster, per the durability-before-side-effect
// invariant.
func (db *Postgres) SaveIncident(ctx context.Context, in *recist.Incident) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	in.UpdatedAt = time.Now()
	_, err = db.Pool.Exec(ctx, `
		INSERT INTO incidents (id, target_key, phase, policy_name, body, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			target_key = EXCLUDED.target_key,
			phase = EXCLUDED.phase,
			policy_name = EXCLUDED.policy_name,
			body = EXCLUDED.body,
			updated_at = EXCLUDED.updated_at
	`, in.ID, in.Target.Key(), string(in.Phase), in.PolicyName, body, in.CreatedAt, in.UpdatedAt)
	return err
}

func (db *Postgres) GetIncident(ctx context.Context, id string) (*recist.Incident, error) {
	var body []byte
	err := db.Pool.QueryRow(ctx, `SELECT body FROM incidents WHERE id = $1`, id).Scan(&body)
	if err != nil {
		return nil, err
	}
	return unmarshalIncident(body)
}

// GetActiveByTarget returns the single non-terminal incident for a
// target, if any, backing the orchestrator's admission check.
func (db *Postgres) GetActiveByTarget(ctx context.Context, targetKey string) (*recist.Incident, error) {
	var body []byte
	err := db.Pool.QueryRow(ctx, `
		SELECT body FROM incidents
		WHERE target_key = $1 AND phase NOT IN ('Completed', 'Failed')
	`, targetKey).Scan(&body)
	if err != nil {
		return nil, err
	}
	return unmarshalIncident(body)
}

// ListNonTerminal returns every incident not yet in a terminal phase,
// used on process start to resume from the last persisted phase after
// a crash.
func (db *Postgres) ListNonTerminal(ctx context.Context) ([]*recist.Incident, error) {
	rows, err := db.Pool.Query(ctx, `SELECT body FROM incidents WHERE phase NOT IN ('Completed', 'Failed')`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*recist.Incident
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		in, err := unmarshalIncident(body)
		if err != nil {
			return nil, err
		}
		out = append(out, in)
	}
	return out, rows.Err()
}

// ListHealingEvents returns the read-model projection for the API,
// most recently updated first, capped at limit.
func (db *Postgres) ListHealingEvents(ctx context.Context, limit int) ([]recist.HealingEvent, error) {
	rows, err := db.Pool.Query(ctx, `SELECT body FROM incidents ORDER BY updated_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := []recist.HealingEvent{}
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		in, err := unmarshalIncident(body)
		if err != nil {
			return nil, err
		}
		events = append(events, in.ToHealingEvent())
	}
	return events, rows.Err()
}

func unmarshalIncident(body []byte) (*recist.Incident, error) {
	var in recist.Incident
	if err := json.Unmarshal(body, &in); err != nil {
		return nil, fmt.Errorf("decode incident: %w", err)
	}
	return &in, nil
}

// EnsureDiagnosisArtifactSchema creates the diagnosis_artifacts table
// that SaveDiagnosisArtifact writes to: one row per piece of raw
// evidence backing a diagnosis, for operator audit.
func (db *Postgres) EnsureDiagnosisArtifactSchema(ctx context.Context) error {
	_, err := db.Pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS diagnosis_artifacts (
			artifact_id BIGSERIAL PRIMARY KEY,
			incident_id TEXT NOT NULL REFERENCES incidents(id) ON DELETE CASCADE,
			artifact_type TEXT NOT NULL,
			query TEXT NOT NULL DEFAULT '',
			result JSONB NOT NULL DEFAULT '{}',
			summary TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`)
	return err
}

func (db *Postgres) SaveDiagnosisArtifact(ctx context.Context, a recist.DiagnosisArtifact) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO diagnosis_artifacts (incident_id, artifact_type, query, result, summary)
		VALUES ($1, $2, $3, $4, $5)
	`, a.IncidentID, a.ArtifactType, a.Query, a.Result, a.Summary)
	return err
}
