package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/vaishaligoyal05/awaaz-e-punjab/internal/config"
	"github.com/vaishaligoyal05/awaaz-e-punjab/internal/metrics"
	"github.com/vaishaligoyal05/awaaz-e-punjab/internal/resilience"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertNeverSynced         AlertType = "never_synced"
	AlertStaleSync           AlertType = "stale_sync"
	AlertConsecutiveFailures AlertType = "consecutive_failures"
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a Snapshot against configured thresholds and sends
// alerts via webhook when thresholds are breached.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
	retry  resilience.RetryConfig
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		retry: resilience.RetryConfig{
			MaxAttempts:    3,
			InitialBackoff: time.Second,
			Multiplier:     2.0,
			OnRetry:        resilience.RetryLogger("webhook", "send_alert"),
		},
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *Snapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	staleAfter := time.Duration(a.cfg.StaleAfterHours) * time.Hour
	switch {
	case snap.LastSuccess == nil && snap.AttemptsInspected > 0:
		alerts = append(alerts, Alert{
			Type:     AlertNeverSynced,
			Severity: "high",
			Message:  fmt.Sprintf("No sync has ever succeeded (%d attempts recorded)", snap.AttemptsInspected),
			Details: map[string]any{
				"attempts":   snap.AttemptsInspected,
				"last_error": snap.LastError,
			},
			Timestamp: now,
		})
	case snap.LastSuccess != nil && staleAfter > 0 && snap.SinceLastSuccess() > staleAfter:
		age := snap.SinceLastSuccess()
		alerts = append(alerts, Alert{
			Type:     AlertStaleSync,
			Severity: "medium",
			Message: fmt.Sprintf(
				"Last successful sync was %.1fh ago, threshold is %dh",
				age.Hours(), a.cfg.StaleAfterHours,
			),
			Details: map[string]any{
				"last_success":    snap.LastSuccess.Format(time.RFC3339),
				"age_hours":       age.Hours(),
				"threshold_hours": a.cfg.StaleAfterHours,
			},
			Timestamp: now,
		})
	}

	if a.cfg.MaxConsecutiveFailures > 0 && snap.ConsecutiveFailures >= a.cfg.MaxConsecutiveFailures {
		alerts = append(alerts, Alert{
			Type:     AlertConsecutiveFailures,
			Severity: "high",
			Message: fmt.Sprintf(
				"%d consecutive sync runs failed, threshold is %d",
				snap.ConsecutiveFailures, a.cfg.MaxConsecutiveFailures,
			),
			Details: map[string]any{
				"failures":   snap.ConsecutiveFailures,
				"threshold":  a.cfg.MaxConsecutiveFailures,
				"last_error": snap.LastError,
			},
			Timestamp: now,
		})
	}

	return alerts
}

// SendAlerts logs every alert and delivers it to the configured webhook URL.
// Returns the number of alerts successfully delivered to the webhook.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	sent := 0
	for _, alert := range alerts {
		zap.L().Warn("monitoring: alert",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
			zap.String("message", alert.Message),
		)
		metrics.AlertsSent.WithLabelValues(string(alert.Type), "log").Inc()

		if a.cfg.WebhookURL == "" {
			continue
		}
		if err := resilience.Do(ctx, a.retry, func(ctx context.Context) error {
			return a.sendWebhook(ctx, alert)
		}); err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		metrics.AlertsSent.WithLabelValues(string(alert.Type), "webhook").Inc()
		sent++
	}
	return sent
}

// sendWebhook posts a single alert to the webhook URL. Server errors and 429
// are retryable; other 4xx responses are not.
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
		return resilience.NewTransientError(eris.Wrap(err, "monitoring: webhook request"), 0)
	}
	defer resp.Body.Close() //nolint:errcheck

	switch {
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return resilience.NewStatusError(resp.StatusCode, "alert webhook")
	case resp.StatusCode >= 400:
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
