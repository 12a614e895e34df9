package monitoring

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/gardetrack/gardesync/internal/config"
	"github.com/gardetrack/gardesync/internal/model"
)

func TestCheckerRunStopsOnCancel(t *testing.T) {
	st := newTestStore(t)
	cfg := config.MonitorConfig{
		CheckIntervalSecs:    1,
		LookbackWindowHours:  24,
		FailureRateThreshold: 0.10,
	}
	checker := NewChecker(NewCollector(st, ""), NewAlerter(cfg), cfg)

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		checker.Run(ctx)
		close(done)
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("checker did not stop after cancel")
	}
}

func TestCheckerCheckSendsAlerts(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	run, err := st.StartSyncRun(ctx, []string{"portal-dump"})
	require.NoError(t, err)
	require.NoError(t, st.FailSyncRun(ctx, run.ID, "all sources failed", model.SyncCounters{}))

	var received atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		received.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := config.MonitorConfig{
		WebhookURL:           srv.URL,
		LookbackWindowHours:  24,
		FailureRateThreshold: 0.10,
	}
	checker := NewChecker(NewCollector(st, ""), NewAlerter(cfg), cfg)
	checker.Check(ctx, zap.NewNop())

	assert.Equal(t, int32(1), received.Load())
}
