package db

import (
	"context"
	"encoding/json"
	"fmt"

	recist "github.com/recist/recist/internal/model"
)

// EnsureWebhookSchema creates the webhook_configs table backing the
// operator-managed notification targets ConfigurableSender fans out to
// alongside Slack.
func (p *Postgres) EnsureWebhookSchema() error {
	ctx := context.Background()
	_, err := p.Pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS webhook_configs (
			id         SERIAL       PRIMARY KEY,
			url        TEXT         NOT NULL DEFAULT '',
			method     TEXT         NOT NULL DEFAULT 'POST',
			headers    JSONB        NOT NULL DEFAULT '[]',
			body       TEXT         NOT NULL DEFAULT '',
			updated_at TIMESTAMPTZ  NOT NULL DEFAULT NOW()
		);
	`)
	if err != nil {
		return fmt.Errorf("failed to create webhook_configs table: %w", err)
	}
	return nil
}

// GetWebhookConfigs returns every registered webhook target, most
// recently updated first.
func (p *Postgres) GetWebhookConfigs(ctx context.Context) ([]recist.WebhookConfig, error) {
	rows, err := p.Pool.Query(ctx, `
		SELECT id, url, method, headers, body, updated_at
		FROM webhook_configs
		ORDER BY updated_at DESC;
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query webhook configs: %w", err)
	}
	defer rows.Close()

	var configs []recist.WebhookConfig
	for rows.Next() {
		var cfg recist.WebhookConfig
		var headersJSON []byte
		if err := rows.Scan(&cfg.ID, &cfg.URL, &cfg.Method, &headersJSON, &cfg.Body, &cfg.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan webhook config: %w", err)
		}
		if err := json.Unmarshal(headersJSON, &cfg.Headers); err != nil {
			return nil, fmt.Errorf("failed to unmarshal headers: %w", err)
		}
		configs = append(configs, cfg)
	}
	if configs == nil {
		configs = []recist.WebhookConfig{}
	}
	return configs, nil
}

// GetWebhookConfigByID looks up a single webhook target.
func (p *Postgres) GetWebhookConfigByID(ctx context.Context, id int) (*recist.WebhookConfig, error) {
	row := p.Pool.QueryRow(ctx, `
		SELECT id, url, method, headers, body, updated_at
		FROM webhook_configs
		WHERE id = $1;
	`, id)

	var cfg recist.WebhookConfig
	var headersJSON []byte
	if err := row.Scan(&cfg.ID, &cfg.URL, &cfg.Method, &headersJSON, &cfg.Body, &cfg.UpdatedAt); err != nil {
		return nil, fmt.Errorf("webhook config not found: %w", err)
	}
	if err := json.Unmarshal(headersJSON, &cfg.Headers); err != nil {
		return nil, fmt.Errorf("failed to unmarshal headers: %w", err)
	}
	return &cfg, nil
}

// CreateWebhookConfig persists a new webhook target and returns its ID.
func (p *Postgres) CreateWebhookConfig(ctx context.Context, cfg recist.WebhookConfig) (int, error) {
	headersJSON, err := json.Marshal(cfg.Headers)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal headers: %w", err)
	}

	var id int
	err = p.Pool.QueryRow(ctx, `
		INSERT INTO webhook_configs (url, method, headers, body, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		RETURNING id;
	`, cfg.URL, cfg.Method, headersJSON, cfg.Body).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert webhook config: %w", err)
	}
	return id, nil
}

// UpdateWebhookConfig replaces a webhook target's fields in place.
func (p *Postgres) UpdateWebhookConfig(ctx context.Context, id int, cfg recist.WebhookConfig) error {
	headersJSON, err := json.Marshal(cfg.Headers)
	if err != nil {
		return fmt.Errorf("failed to marshal headers: %w", err)
	}

	tag, err := p.Pool.Exec(ctx, `
		UPDATE webhook_configs
		SET url = $1, method = $2, headers = $3, body = $4, updated_at = NOW()
		WHERE id = $5;
	`, cfg.URL, cfg.Method, headersJSON, cfg.Body, id)
	if err != nil {
		return fmt.Errorf("failed to update webhook config: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("webhook config not found: id=%d", id)
	}
	return nil
}

// DeleteWebhookConfig removes a webhook target.
func (p *Postgres) DeleteWebhookConfig(ctx context.Context, id int) error {
	tag, err := p.Pool.Exec(ctx, `DELETE FROM webhook_configs WHERE id = $1;`, id)
	if err != nil {
		return fmt.Errorf("failed to delete webhook config: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("webhook config not found: id=%d", id)
	}
	return nil
}
