// Package alert delivers fire-and-forget operator notifications. A
// failed delivery is logged and swallowed: an alert must never take down
// the workflow that raised it.
package alert

import (
	"context"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/talentflow/orchestrator/pkg/logger"
)

// Alert kinds raised by the orchestration core.
const (
	KindTaskExhausted   = "task_retries_exhausted"
	KindHighRisk        = "contract_high_risk"
	KindUnknownTaskType = "unknown_task_type"
	KindProviderFailure = "provider_call_failed"
)

// Event is one operator notification.
type Event struct {
	Kind    string         `json:"kind"`
	Message string         `json:"message"`
	Fields  map[string]any `json:"fields,omitempty"`
}

// Notifier is the operator alert channel. Implementations must not
// return errors and must not block the caller beyond a short delivery
// attempt.
type Notifier interface {
	Notify(ctx context.Context, ev Event)
}

// LogNotifier writes alerts to the structured log. It is the default
// channel and the fallback when no webhook is configured.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, ev Event) {
	logger.Log.Warn().
		Str("alert", ev.Kind).
		Fields(ev.Fields).
		Msg(ev.Message)
}

// WebhookNotifier posts alerts to an operator webhook (Slack-style JSON
// endpoint). Delivery errors are logged, never propagated.
type WebhookNotifier struct {
	client *resty.Client
	url    string
}

func NewWebhook(url string) *WebhookNotifier {
	client := resty.New()
	client.SetTimeout(5 * time.Second)
	return &WebhookNotifier{client: client, url: url}
}

func (w *WebhookNotifier) Notify(ctx context.Context, ev Event) {
	resp, err := w.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(ev).
		Post(w.url)
	if err != nil {
		logger.Log.Error().Err(err).Str("alert", ev.Kind).Msg("Alert webhook delivery failed")
		return
	}
	if resp.IsError() {
		logger.Log.Error().
			Int("status", resp.StatusCode()).
			Str("alert", ev.Kind).
			Msg("Alert webhook rejected event")
	}
}

// Fanout notifies every sink. Used when a webhook is configured and the
// log copy should still exist.
type Fanout []Notifier

func (f Fanout) Notify(ctx context.Context, ev Event) {
	for _, n := range f {
		n.Notify(ctx, ev)
	}
}

// FromConfig wires the channel: log-only without a webhook URL, log plus
// webhook with one.
func FromConfig(webhookURL string) Notifier {
	if webhookURL == "" {
		return LogNotifier{}
	}
	return Fanout{LogNotifier{}, NewWebhook(webhookURL)}
}
