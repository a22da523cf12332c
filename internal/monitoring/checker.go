package monitoring

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/homereach/contact-cli/internal/model"
)

// Checker periodically samples the queue while the intake server runs and
// alerts when failed jobs accumulate between ticks.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	tenant    string
	interval  time.Duration

	baselined  bool
	lastFailed int
}

// NewChecker creates a background queue checker.
func NewChecker(collector *Collector, alerter *Alerter, tenant string, interval time.Duration) *Checker {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Checker{
		collector: collector,
		alerter:   alerter,
		tenant:    tenant,
		interval:  interval,
	}
}

// Run starts the periodic check loop. It blocks until ctx is cancelled.
func (c *Checker) Run(ctx context.Context) {
	log := zap.L().With(zap.String("component", "monitoring.checker"))
	log.Info("starting queue checker",
		zap.String("tenant", c.tenant),
		zap.Duration("interval", c.interval),
	)

	// Seed the failure baseline so a restart does not re-alert on old
	// failures.
	c.check(ctx, log)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("queue checker stopped")
			return
		case <-ticker.C:
			c.check(ctx, log)
		}
	}
}

func (c *Checker) check(ctx context.Context, log *zap.Logger) {
	snap, err := c.collector.Collect(ctx, c.tenant)
	if err != nil {
		log.Error("monitoring: failed to collect queue snapshot", zap.Error(err))
		return
	}

	failed := snap.Jobs.ByState[string(model.JobStateFailed)]
	log.Debug("monitoring: queue snapshot",
		zap.Int("total", snap.Jobs.Total),
		zap.Int("pending", snap.Jobs.ByState[string(model.JobStatePending)]),
		zap.Int("failed", failed),
		zap.Int("stale_sessions", snap.StaleSessions),
	)

	if c.baselined && failed > c.lastFailed {
		alerts := []Alert{{
			Type:     AlertQueueFailures,
			Severity: "warning",
			Message: fmt.Sprintf("%d contact job(s) newly failed in the queue (%d failed total)",
				failed-c.lastFailed, failed),
			Details: map[string]any{
				"tenant":       c.tenant,
				"new_failures": failed - c.lastFailed,
				"failed_total": failed,
				"queue_total":  snap.Jobs.Total,
			},
			Timestamp: time.Now().UTC(),
		}}
		sent := c.alerter.SendAlerts(ctx, alerts)
		log.Info("monitoring: queue check complete",
			zap.Int("alerts_triggered", len(alerts)),
			zap.Int("alerts_sent", sent),
		)
	}

	c.baselined = true
	c.lastFailed = failed
}
