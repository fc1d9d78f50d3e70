package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/onetalk/router/internal/models"
)

// WebhookSink posts routed decisions as a JSON envelope to an
// external automation endpoint (HubSpot workflow or OpenPhone
// webhook).
type WebhookSink struct {
	SinkName string
	URL      string
	Client   *http.Client
}

func NewHubSpot(url string) *WebhookSink {
	return &WebhookSink{SinkName: "hubspot", URL: url}
}

func NewOpenPhone(url string) *WebhookSink {
	return &WebhookSink{SinkName: "openphone", URL: url}
}

func (w *WebhookSink) Name() string { return w.SinkName }

type envelope struct {
	Source string                 `json:"source"`
	Type   string                 `json:"type"`
	Data   models.RoutingDecision `json:"data"`
}

func (w *WebhookSink) Deliver(ctx context.Context, d models.RoutingDecision) error {
	client := w.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	b, _ := json.Marshal(envelope{Source: "onetalk-router", Type: "communication_routed", Data: d})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewBuffer(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s webhook returned %d", w.SinkName, resp.StatusCode)
	}
	return nil
}

// SlackSink posts a short human-readable summary to a Slack incoming
// webhook.
type SlackSink struct {
	URL    string
	Client *http.Client
}

func NewSlack(url string) *SlackSink {
	return &SlackSink{URL: url}
}

func (s *SlackSink) Name() string { return "slack" }

func (s *SlackSink) Deliver(ctx context.Context, d models.RoutingDecision) error {
	client := s.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	text := fmt.Sprintf("Routed event %s to %s", d.EventID, d.DepartmentID)
	switch {
	case d.Unhandled:
		text = fmt.Sprintf(":warning: Unhandled event %s for %s (%s)", d.EventID, d.DepartmentID, d.Reason)
	case d.Escalated:
		text = fmt.Sprintf(":rotating_light: Escalated event %s to %s, agent %s", d.EventID, d.DepartmentID, *d.AgentID)
	case d.AgentID != nil:
		text = fmt.Sprintf("Routed event %s to %s, agent %s", d.EventID, d.DepartmentID, *d.AgentID)
	}
	b, _ := json.Marshal(map[string]string{"text": text})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewBuffer(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("slack webhook returned %d", resp.StatusCode)
	}
	return nil
}
