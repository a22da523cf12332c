package solver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
)

// Per-type polling defaults. Behavioral tasks are driven by the service's own
// browser farm and take noticeably longer, so they poll slower and wait longer.
const (
	defaultPollInterval    = 5 * time.Second
	behavioralPollInterval = 10 * time.Second
	checkboxPollTimeout    = 120 * time.Second
	sliderPollTimeout      = 150 * time.Second
	behavioralPollTimeout  = 180 * time.Second
)

// ErrTimeout is returned when a task does not resolve within the polling window.
var ErrTimeout = eris.New("solver: task timed out")

// ErrUnsolvable is returned when the service explicitly reports a task as
// unsolvable. Callers should re-detect a fresh challenge before retrying.
var ErrUnsolvable = eris.New("solver: challenge unsolvable")

// PollOption configures polling behavior.
type PollOption func(*pollConfig)

type pollConfig struct {
	interval time.Duration
	timeout  time.Duration
}

func defaultPollConfig(t ChallengeType) pollConfig {
	switch t {
	case ChallengeBehavioral:
		return pollConfig{interval: behavioralPollInterval, timeout: behavioralPollTimeout}
	case ChallengeSliderV3, ChallengeSliderV4:
		return pollConfig{interval: defaultPollInterval, timeout: sliderPollTimeout}
	default:
		return pollConfig{interval: defaultPollInterval, timeout: checkboxPollTimeout}
	}
}

// WithPollInterval overrides the poll interval. The interval is fixed, not
// backed off: the service bills per solve, not per status check.
func WithPollInterval(d time.Duration) PollOption {
	return func(c *pollConfig) {
		c.interval = d
	}
}

// WithPollTimeout overrides the per-type timeout (applied only if the parent
// context has no deadline).
func WithPollTimeout(d time.Duration) PollOption {
	return func(c *pollConfig) {
		c.timeout = d
	}
}

// Solve submits a challenge and polls until a solution is ready, the service
// reports failure, or the polling window elapses. A service-level "unsolvable"
// verdict maps to ErrUnsolvable; running out of time maps to ErrTimeout.
func Solve(ctx context.Context, c Client, ch Challenge, opts ...PollOption) (*Solution, error) {
	cfg := defaultPollConfig(ch.Type)
	for _, opt := range opts {
		opt(&cfg)
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.timeout)
		defer cancel()
	}

	taskID, err := c.CreateTask(ctx, ch)
	if err != nil {
		return nil, err
	}

	for {
		task, err := c.GetTask(ctx, taskID)
		if err != nil {
			return nil, eris.Wrap(err, fmt.Sprintf("solver: poll task %s", taskID))
		}

		switch task.Status {
		case TaskReady:
			if task.Solution == nil {
				return nil, eris.Errorf("solver: task %s ready with no solution", taskID)
			}
			return task.Solution, nil
		case TaskFailed:
			if task.ErrorCode == errCodeUnsolvable {
				return nil, eris.Wrap(ErrUnsolvable, fmt.Sprintf("task %s", taskID))
			}
			return nil, eris.Errorf("solver: task %s failed: %s", taskID, task.ErrorCode)
		}

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil, eris.Wrap(ctx.Err(), fmt.Sprintf("solver: task %s aborted", taskID))
			}
			return nil, eris.Wrap(ErrTimeout, fmt.Sprintf("task %s", taskID))
		case <-time.After(cfg.interval):
		}
	}
}
