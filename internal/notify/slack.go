package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	recist "github.com/recist/recist/internal/model"
)

// SlackMessage and SlackAttachment mirror the shape kube-rca-backend's
// SlackClient posts to chat.postMessage; here they go to an incoming
// webhook URL instead, which accepts the same attachment payload but
// needs no bot token or channel ID.
type SlackMessage struct {
	Text        string            `json:"text,omitempty"`
	Attachments []SlackAttachment `json:"attachments,omitempty"`
}

type SlackAttachment struct {
	Color  string       `json:"color"`
	Title  string       `json:"title"`
	Text   string       `json:"text"`
	Ts     int64        `json:"ts,omitempty"`
	Fields []SlackField `json:"fields,omitempty"`
}

type SlackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

// SlackSender posts incident lifecycle and advisory notifications to a
// Slack incoming webhook URL.
type SlackSender struct {
	webhookURL string
	client     *http.Client
}

func NewSlackSender(webhookURL string) *SlackSender {
	return &SlackSender{webhookURL: webhookURL, client: &http.Client{Timeout: 10 * time.Second}}
}

func (s *SlackSender) IsConfigured() bool { return s.webhookURL != "" }

func (s *SlackSender) NotifyIncident(ctx context.Context, incident recist.Incident) error {
	if !s.IsConfigured() {
		return nil
	}
	color := "#36a64f"
	title := fmt.Sprintf("Incident %s completed", incident.ID)
	if incident.Phase == recist.PhaseFailed {
		color = "#dc3545"
		title = fmt.Sprintf("Incident %s failed", incident.ID)
	}
	fields := []SlackField{
		{Title: "Target", Value: incident.Target.Key(), Short: true},
		{Title: "Attempt", Value: fmt.Sprintf("%d/%d", incident.Attempt, incident.MaxAttempts), Short: true},
	}
	text := incident.FailureReason
	if incident.SelectedPlan != nil {
		fields = append(fields, SlackField{Title: "Strategy", Value: string(incident.SelectedPlan.Strategy), Short: true})
	}
	return s.send(ctx, SlackMessage{
		Attachments: []SlackAttachment{{
			Color:  color,
			Title:  title,
			Text:   text,
			Ts:     time.Now().Unix(),
			Fields: fields,
		}},
	})
}

func (s *SlackSender) NotifyAdvisory(ctx context.Context, advisory recist.ProactiveAdvisory) error {
	if !s.IsConfigured() {
		return nil
	}
	var fields []SlackField
	for _, t := range advisory.Trends {
		fields = append(fields, SlackField{
			Title: t.Metric,
			Value: fmt.Sprintf("%s (%.2f/min)", t.Direction, t.RatePerMinute),
			Short: true,
		})
	}
	return s.send(ctx, SlackMessage{
		Attachments: []SlackAttachment{{
			Color:  "#6f42c1",
			Title:  fmt.Sprintf("Proactive advisory for %s", advisory.Target.Key()),
			Text:   "trend matches a prior incident closely enough to warrant a heads-up",
			Ts:     time.Now().Unix(),
			Fields: fields,
		}},
	})
}

func (s *SlackSender) send(ctx context.Context, msg SlackMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(payload))
	if err != nil {
		return &recist.BackendUnavailable{Backend: "slack", Op: "send", Err: err}
	}
	req.Header.Set("content-type", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return &recist.BackendUnavailable{Backend: "slack", Op: "send", Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return &recist.BackendUnavailable{Backend: "slack", Op: "send", Err: fmt.Errorf("status %d", resp.StatusCode)}
	}
	return nil
}

var _ Sender = (*SlackSender)(nil)
