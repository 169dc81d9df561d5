package service

import (
	"context"

	recist "github.com/recist/recist/internal/model"
)

// webhookRepo is the slice of *db.Postgres the webhook settings
// endpoints need, narrowed so notify.ConfigurableSender can share the
// same store without importing the api layer.
type webhookRepo interface {
	GetWebhookConfigs(ctx context.Context) ([]recist.WebhookConfig, error)
	GetWebhookConfigByID(ctx context.Context, id int) (*recist.WebhookConfig, error)
	CreateWebhookConfig(ctx context.Context, cfg recist.WebhookConfig) (int, error)
	UpdateWebhookConfig(ctx context.Context, id int, cfg recist.WebhookConfig) error
	DeleteWebhookConfig(ctx context.Context, id int) error
}

// WebhookService manages the operator-registered outbound webhook
// targets that notify.ConfigurableSender fans incident and advisory
// notifications out to.
type WebhookService struct {
	db webhookRepo
}

func NewWebhookService(db webhookRepo) *WebhookService {
	return &WebhookService{db: db}
}

func (s *WebhookService) ListWebhookConfigs(ctx context.Context) ([]recist.WebhookConfig, error) {
	return s.db.GetWebhookConfigs(ctx)
}

func (s *WebhookService) GetWebhookConfig(ctx context.Context, id int) (*recist.WebhookConfig, error) {
	return s.db.GetWebhookConfigByID(ctx, id)
}

func (s *WebhookService) CreateWebhookConfig(ctx context.Context, req recist.WebhookConfigRequest) (int, error) {
	cfg := recist.WebhookConfig{
		URL:    req.URL,
		Method: req.Method,
		Body:   req.Body,
	}
	if req.Headers != nil {
		cfg.Headers = req.Headers
	} else {
		cfg.Headers = []recist.WebhookHeader{}
	}
	return s.db.CreateWebhookConfig(ctx, cfg)
}

func (s *WebhookService) UpdateWebhookConfig(ctx context.Context, id int, req recist.WebhookConfigRequest) error {
	cfg := recist.WebhookConfig{
		URL:    req.URL,
		Method: req.Method,
		Body:   req.Body,
	}
	if req.Headers != nil {
		cfg.Headers = req.Headers
	} else {
		cfg.Headers = []recist.WebhookHeader{}
	}
	return s.db.UpdateWebhookConfig(ctx, id, cfg)
}

func (s *WebhookService) DeleteWebhookConfig(ctx context.Context, id int) error {
	return s.db.DeleteWebhookConfig(ctx, id)
}
