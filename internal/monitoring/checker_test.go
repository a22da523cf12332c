package monitoring

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/homereach/contact-cli/internal/config"
	"github.com/homereach/contact-cli/internal/model"
)

func TestChecker_AlertsOnNewFailures(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	st := newTestStore(t)
	c := NewChecker(NewCollector(st), NewAlerter(config.AlertingConfig{WebhookURL: srv.URL}), "t1", time.Minute)

	// A failure present before the baseline must not alert.
	old := seedJob(t, st, "t1", model.PortalCasalia)
	finishJob(t, st, old.ID, model.ContactResult{Error: "automation_failed: boom"})

	ctx := context.Background()
	c.check(ctx, zap.NewNop())
	assert.Equal(t, int32(0), hits.Load())

	// A fresh failure after the baseline does.
	fresh := seedJob(t, st, "t1", model.PortalHogarix)
	finishJob(t, st, fresh.ID, model.ContactResult{Error: "login_failed: portal: login failed"})

	c.check(ctx, zap.NewNop())
	assert.Equal(t, int32(1), hits.Load())

	// No change, no repeat alert.
	c.check(ctx, zap.NewNop())
	assert.Equal(t, int32(1), hits.Load())
}

func TestChecker_RunStopsOnCancel(t *testing.T) {
	st := newTestStore(t)
	c := NewChecker(NewCollector(st), NewAlerter(config.AlertingConfig{}), "t1", 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("checker did not stop after cancel")
	}
}
