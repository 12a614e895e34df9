package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gardetrack/gardesync/internal/config"
)

func TestAlerterEvaluateHealthy(t *testing.T) {
	a := NewAlerter(config.MonitorConfig{
		FailureRateThreshold: 0.10,
		DLQDepthThreshold:    25,
	})

	alerts := a.Evaluate(&MetricsSnapshot{
		RunsTotal:      4,
		RunsComplete:   4,
		Records:        400,
		RecordsFailed:  4,
		RecordFailRate: 0.01,
		DLQDepth:       3,
		LookbackHours:  24,
	})
	assert.Empty(t, alerts)
}

func TestAlerterEvaluateRunFailure(t *testing.T) {
	a := NewAlerter(config.MonitorConfig{FailureRateThreshold: 0.10})

	alerts := a.Evaluate(&MetricsSnapshot{
		RunsTotal:     3,
		RunsComplete:  2,
		RunsFailed:    1,
		LookbackHours: 24,
	})
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertRunFailure, alerts[0].Type)
	assert.Equal(t, "high", alerts[0].Severity)
	assert.Contains(t, alerts[0].Message, "1 sync run(s) failed")
}

func TestAlerterEvaluateRecordFailRate(t *testing.T) {
	a := NewAlerter(config.MonitorConfig{FailureRateThreshold: 0.10})

	alerts := a.Evaluate(&MetricsSnapshot{
		RunsTotal:      1,
		RunsComplete:   1,
		Records:        100,
		RecordsFailed:  30,
		RecordFailRate: 0.30,
		LookbackHours:  24,
	})
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertRecordFailRate, alerts[0].Type)
	assert.Contains(t, alerts[0].Message, "30.0%")
}

func TestAlerterEvaluateSmallRunsIgnored(t *testing.T) {
	a := NewAlerter(config.MonitorConfig{FailureRateThreshold: 0.10})

	// 2 of 5 records failing is a 40% rate, but far too small a sample.
	alerts := a.Evaluate(&MetricsSnapshot{
		RunsTotal:      1,
		RunsComplete:   1,
		Records:        5,
		RecordsFailed:  2,
		RecordFailRate: 0.40,
		LookbackHours:  24,
	})
	assert.Empty(t, alerts)
}

func TestAlerterEvaluateDLQDepth(t *testing.T) {
	a := NewAlerter(config.MonitorConfig{
		FailureRateThreshold: 0.10,
		DLQDepthThreshold:    25,
	})

	alerts := a.Evaluate(&MetricsSnapshot{DLQDepth: 30, LookbackHours: 24})
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertDLQDepth, alerts[0].Type)
	assert.Equal(t, "medium", alerts[0].Severity)
}

func TestAlerterEvaluateDLQThresholdDisabled(t *testing.T) {
	a := NewAlerter(config.MonitorConfig{FailureRateThreshold: 0.10})

	alerts := a.Evaluate(&MetricsSnapshot{DLQDepth: 500, LookbackHours: 24})
	assert.Empty(t, alerts)
}

func TestAlerterSendAlerts(t *testing.T) {
	var received atomic.Int32
	var gotType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received.Add(1)
		var alert Alert
		require.NoError(t, json.NewDecoder(r.Body).Decode(&alert))
		gotType = string(alert.Type)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	a := NewAlerter(config.MonitorConfig{WebhookURL: srv.URL})
	sent := a.SendAlerts(context.Background(), []Alert{
		{Type: AlertRunFailure, Severity: "high", Message: "1 sync run(s) failed in last 24h"},
	})
	assert.Equal(t, 1, sent)
	assert.Equal(t, int32(1), received.Load())
	assert.Equal(t, string(AlertRunFailure), gotType)
}

func TestAlerterSendAlertsWebhookError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	a := NewAlerter(config.MonitorConfig{WebhookURL: srv.URL})
	sent := a.SendAlerts(context.Background(), []Alert{
		{Type: AlertDLQDepth, Severity: "medium", Message: "dead letters piling up"},
	})
	assert.Equal(t, 0, sent)
}

func TestAlerterSendAlertsNoWebhook(t *testing.T) {
	a := NewAlerter(config.MonitorConfig{})
	sent := a.SendAlerts(context.Background(), []Alert{
		{Type: AlertRunFailure, Severity: "high", Message: "x"},
	})
	assert.Equal(t, 0, sent)
}
