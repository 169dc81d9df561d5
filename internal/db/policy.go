package db

import (
	"context"
	"encoding/json"

	recist "github.com/recist/recist/internal/model"
)

// EnsurePolicySchema creates the table backing named SelfHealingPolicy
// records, served and edited through the policy API. The orchestrator
// runs under the single policy built at startup (DefaultPolicy plus
// environment overrides) and does not read these rows.
func (db *Postgres) EnsurePolicySchema(ctx context.Context) error {
	_, err := db.Pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS policies (
			name TEXT PRIMARY KEY,
			body JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	return err
}

func (db *Postgres) ListPolicies(ctx context.Context) ([]recist.SelfHealingPolicy, error) {
	rows, err := db.Pool.Query(ctx, `SELECT body FROM policies ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	policies := []recist.SelfHealingPolicy{}
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var p recist.SelfHealingPolicy
		if err := json.Unmarshal(body, &p); err != nil {
			return nil, err
		}
		policies = append(policies, p)
	}
	return policies, rows.Err()
}

func (db *Postgres) GetPolicy(ctx context.Context, name string) (*recist.SelfHealingPolicy, error) {
	var body []byte
	err := db.Pool.QueryRow(ctx, `SELECT body FROM policies WHERE name = $1`, name).Scan(&body)
	if err != nil {
		return nil, err
	}
	var p recist.SelfHealingPolicy
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (db *Postgres) UpsertPolicy(ctx context.Context, p recist.SelfHealingPolicy) error {
	body, err := json.Marshal(p)
	if err != nil {
		return err
	}
	_, err = db.Pool.Exec(ctx, `
		INSERT INTO policies (name, body, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (name) DO UPDATE SET body = EXCLUDED.body, updated_at = EXCLUDED.updated_at
	`, p.Name, body)
	return err
}

func (db *Postgres) DeletePolicy(ctx context.Context, name string) error {
	_, err := db.Pool.Exec(ctx, `DELETE FROM policies WHERE name = $1`, name)
	return err
}
