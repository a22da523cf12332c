package engine

import (
	"context"
	"math/rand"
	"time"
)

// Pause blocks for a uniformly random duration in [min, max], honoring
// context cancellation. A non-positive max collapses to an immediate
// return so tests and dry runs skip the wait.
func Pause(ctx context.Context, min, max time.Duration) error {
	if max <= 0 {
		return ctx.Err()
	}
	if min < 0 {
		min = 0
	}
	if max < min {
		min, max = max, min
	}
	d := min
	if span := max - min; span > 0 {
		d += time.Duration(rand.Int63n(int64(span) + 1))
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
