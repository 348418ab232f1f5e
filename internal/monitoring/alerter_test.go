package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaishaligoyal05/awaaz-e-punjab/internal/config"
	"github.com/vaishaligoyal05/awaaz-e-punjab/internal/metrics"
)

var testMonitoring = config.MonitoringConfig{
	StaleAfterHours:        36,
	MaxConsecutiveFailures: 3,
}

func fastAlerter(cfg config.MonitoringConfig) *Alerter {
	a := NewAlerter(cfg)
	a.retry.InitialBackoff = time.Millisecond
	return a
}

func ago(d time.Duration) *time.Time {
	t := collectedAt.Add(-d)
	return &t
}

func TestAlerter_Evaluate_Healthy(t *testing.T) {
	a := NewAlerter(testMonitoring)
	snap := &Snapshot{
		LastSuccess:       ago(2 * time.Hour),
		AttemptsInspected: 4,
		CollectedAt:       collectedAt,
	}
	assert.Empty(t, a.Evaluate(snap))
}

func TestAlerter_Evaluate_NoAttemptsYet(t *testing.T) {
	a := NewAlerter(testMonitoring)
	assert.Empty(t, a.Evaluate(&Snapshot{CollectedAt: collectedAt}))
}

func TestAlerter_Evaluate_Stale(t *testing.T) {
	a := NewAlerter(testMonitoring)
	snap := &Snapshot{
		LastSuccess:       ago(48 * time.Hour),
		AttemptsInspected: 1,
		CollectedAt:       collectedAt,
	}

	alerts := a.Evaluate(snap)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertStaleSync, alerts[0].Type)
	assert.Contains(t, alerts[0].Message, "48.0h ago")
}

func TestAlerter_Evaluate_StaleDisabled(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{StaleAfterHours: 0})
	snap := &Snapshot{LastSuccess: ago(1000 * time.Hour), AttemptsInspected: 1, CollectedAt: collectedAt}
	assert.Empty(t, a.Evaluate(snap))
}

func TestAlerter_Evaluate_NeverSynced(t *testing.T) {
	a := NewAlerter(testMonitoring)
	snap := &Snapshot{
		AttemptsInspected:   2,
		ConsecutiveFailures: 2,
		LastError:           "api key is required",
		CollectedAt:         collectedAt,
	}

	alerts := a.Evaluate(snap)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertNeverSynced, alerts[0].Type)
	assert.Equal(t, "api key is required", alerts[0].Details["last_error"])
}

func TestAlerter_Evaluate_ConsecutiveFailures(t *testing.T) {
	a := NewAlerter(testMonitoring)
	snap := &Snapshot{
		LastSuccess:         ago(72 * time.Hour),
		AttemptsInspected:   4,
		ConsecutiveFailures: 3,
		LastError:           "http 503",
		CollectedAt:         collectedAt,
	}

	alerts := a.Evaluate(snap)
	require.Len(t, alerts, 2)
	types := make(map[AlertType]bool)
	for _, a := range alerts {
		types[a.Type] = true
	}
	assert.True(t, types[AlertStaleSync])
	assert.True(t, types[AlertConsecutiveFailures])
}

func TestAlerter_SendAlerts_Webhook(t *testing.T) {
	var received atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var alert Alert
		err := json.NewDecoder(r.Body).Decode(&alert)
		require.NoError(t, err)
		assert.NotEmpty(t, alert.Type)
		received.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	a := fastAlerter(config.MonitoringConfig{WebhookURL: ts.URL})
	before := testutil.ToFloat64(metrics.AlertsSent.WithLabelValues(string(AlertStaleSync), "webhook"))

	sent := a.SendAlerts(context.Background(), []Alert{
		{Type: AlertStaleSync, Severity: "medium", Message: "test alert 1"},
		{Type: AlertConsecutiveFailures, Severity: "high", Message: "test alert 2"},
	})
	assert.Equal(t, 2, sent)
	assert.Equal(t, int32(2), received.Load())
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.AlertsSent.WithLabelValues(string(AlertStaleSync), "webhook")))
}

func TestAlerter_SendAlerts_EmptyURL(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{})
	before := testutil.ToFloat64(metrics.AlertsSent.WithLabelValues(string(AlertNeverSynced), "log"))

	sent := a.SendAlerts(context.Background(), []Alert{{Type: AlertNeverSynced, Message: "test"}})
	assert.Equal(t, 0, sent)
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.AlertsSent.WithLabelValues(string(AlertNeverSynced), "log")))
}

func TestAlerter_SendAlerts_EmptyAlerts(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{WebhookURL: "http://example.com"})
	assert.Equal(t, 0, a.SendAlerts(context.Background(), nil))
}

func TestAlerter_SendAlerts_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ts.Close()

	a := fastAlerter(config.MonitoringConfig{WebhookURL: ts.URL})
	sent := a.SendAlerts(context.Background(), []Alert{{Type: AlertStaleSync, Message: "test"}})
	assert.Equal(t, 1, sent)
	assert.Equal(t, int32(3), calls.Load())
}

func TestAlerter_SendAlerts_WebhookError(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	a := fastAlerter(config.MonitoringConfig{WebhookURL: ts.URL})
	sent := a.SendAlerts(context.Background(), []Alert{{Type: AlertStaleSync, Message: "test"}})
	assert.Equal(t, 0, sent)
	assert.Equal(t, int32(3), calls.Load())
}

func TestAlerter_SendAlerts_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer ts.Close()

	a := fastAlerter(config.MonitoringConfig{WebhookURL: ts.URL})
	sent := a.SendAlerts(context.Background(), []Alert{{Type: AlertStaleSync, Message: "test"}})
	assert.Equal(t, 0, sent)
	assert.Equal(t, int32(1), calls.Load())
}
