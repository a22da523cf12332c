// Package monitoring turns run outcomes and queue state into webhook
// alerts for the acquisitions team's ops channel.
package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/homereach/contact-cli/internal/config"
	"github.com/homereach/contact-cli/internal/engine"
	"github.com/homereach/contact-cli/internal/model"
	"github.com/homereach/contact-cli/internal/resilience"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertRunFailures    AlertType = "run_failures"
	AlertSessionExpired AlertType = "session_expired"
	AlertQueueFailures  AlertType = "queue_failures"
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates run summaries and delivers alerts via webhook.
type Alerter struct {
	cfg    config.AlertingConfig
	client *http.Client
}

// NewAlerter creates an Alerter with the given alerting config.
func NewAlerter(cfg config.AlertingConfig) *Alerter {
	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
	}
}

// Evaluate inspects a finished run. A clean run produces no alerts; any
// failure produces one, critical when not a single job got through, plus
// a notice when jobs died on an expired portal session.
func (a *Alerter) Evaluate(summary model.RunSummary) []Alert {
	if summary.Failed == 0 {
		return nil
	}
	now := time.Now().UTC()

	severity := "warning"
	if summary.Succeeded == 0 {
		severity = "critical"
	}
	alerts := []Alert{{
		Type:     AlertRunFailures,
		Severity: severity,
		Message: fmt.Sprintf("%d of %d contact jobs failed on %s",
			summary.Failed, summary.Processed, summary.Portal),
		Details: map[string]any{
			"tenant":          summary.Tenant,
			"portal":          string(summary.Portal),
			"processed":       summary.Processed,
			"succeeded":       summary.Succeeded,
			"failed":          summary.Failed,
			"phones_found":    summary.PhonesFound,
			"messages_sent":   summary.MessagesSent,
			"solve_spend_usd": summary.SolveSpendUSD,
		},
		Timestamp: now,
	}}

	if expired := countCode(summary.Results, engine.CodeSessionExpired); expired > 0 {
		alerts = append(alerts, Alert{
			Type:     AlertSessionExpired,
			Severity: "notice",
			Message: fmt.Sprintf("%d job(s) on %s hit an expired session; the stored session was invalidated",
				expired, summary.Portal),
			Details: map[string]any{
				"tenant": summary.Tenant,
				"portal": string(summary.Portal),
				"count":  expired,
			},
			Timestamp: now,
		})
	}

	return alerts
}

// countCode counts results whose persisted error carries the given code.
func countCode(results []model.ContactResult, code string) int {
	n := 0
	for _, r := range results {
		if strings.HasPrefix(r.Error, code+":") {
			n++
		}
	}
	return n
}

// SendAlerts delivers alerts to the configured webhook URL. Each delivery
// gets one retry on transient failures; errors are logged and swallowed so
// alerting never takes down the run it reports on. Returns the number of
// alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	retry := resilience.RetryConfig{
		MaxAttempts:    2,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     2 * time.Second,
		OnRetry:        resilience.RetryLogger("alerting", "send_webhook"),
	}

	sent := 0
	for _, alert := range alerts {
		err := resilience.Do(ctx, retry, func(ctx context.Context) error {
			return a.sendWebhook(ctx, alert)
		})
		if err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

// sendWebhook posts a single alert to the webhook URL.
func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		err := eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return resilience.NewTransientError(err, resp.StatusCode)
		}
		return err
	}
	return nil
}
