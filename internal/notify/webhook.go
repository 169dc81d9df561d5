package notify

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	recist "github.com/recist/recist/internal/model"
	"github.com/recist/recist/internal/template"
)

// WebhookConfigStore is the slice of service.WebhookService that
// ConfigurableSender needs: the live list of operator-registered
// outbound webhook targets.
type WebhookConfigStore interface {
	ListWebhookConfigs(ctx context.Context) ([]recist.WebhookConfig, error)
}

// ConfigurableSender posts to every operator-registered webhook target,
// rendering each config's body template (internal/template) against the
// incident or advisory being delivered before sending it with the
// config's own method and headers. It re-reads the config list on every
// call rather than caching it, so an operator's edit in the settings
// API takes effect on the next notification without a restart.
type ConfigurableSender struct {
	store  WebhookConfigStore
	client *http.Client
}

func NewConfigurableSender(store WebhookConfigStore) *ConfigurableSender {
	return &ConfigurableSender{store: store, client: &http.Client{Timeout: 10 * time.Second}}
}

func (c *ConfigurableSender) NotifyIncident(ctx context.Context, incident recist.Incident) error {
	data := template.IncidentDataFrom(incident)
	var fault *template.FaultData
	if len(incident.FaultSet.Faults) > 0 {
		fd := template.FaultDataFrom(incident.FaultSet.Faults[0])
		fault = &fd
	}
	return c.broadcast(ctx, &data, fault)
}

func (c *ConfigurableSender) NotifyAdvisory(ctx context.Context, advisory recist.ProactiveAdvisory) error {
	fault := &template.FaultData{
		Namespace:  advisory.Target.Namespace,
		Kind:       advisory.Target.Kind,
		Name:       advisory.Target.Name,
		Reason:     "proactive_advisory",
		DetectedAt: advisory.GeneratedAt,
	}
	return c.broadcast(ctx, nil, fault)
}

func (c *ConfigurableSender) broadcast(ctx context.Context, incident *template.IncidentData, fault *template.FaultData) error {
	configs, err := c.store.ListWebhookConfigs(ctx)
	if err != nil {
		return err
	}

	var lastErr error
	for _, cfg := range configs {
		if cfg.URL == "" {
			continue
		}
		if err := c.send(ctx, cfg, incident, fault); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

func (c *ConfigurableSender) send(ctx context.Context, cfg recist.WebhookConfig, incident *template.IncidentData, fault *template.FaultData) error {
	body := template.RenderBody(cfg.Body, incident, fault)

	method := cfg.Method
	if method == "" {
		method = http.MethodPost
	}
	req, err := http.NewRequestWithContext(ctx, method, cfg.URL, bytes.NewReader([]byte(body)))
	if err != nil {
		return &recist.BackendUnavailable{Backend: "webhook", Op: "send", Err: err}
	}
	req.Header.Set("content-type", "application/json")
	for _, h := range cfg.Headers {
		req.Header.Set(h.Key, h.Value)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return &recist.BackendUnavailable{Backend: "webhook", Op: "send", Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return &recist.BackendUnavailable{Backend: "webhook", Op: "send", Err: fmt.Errorf("status %d from webhook %d", resp.StatusCode, cfg.ID)}
	}
	return nil
}

var _ Sender = (*ConfigurableSender)(nil)
