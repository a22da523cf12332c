package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/homereach/contact-cli/internal/store"
)

// QueueSnapshot holds a point-in-time view of the contact queue and the
// stored portal sessions for one tenant.
type QueueSnapshot struct {
	Tenant        string         `json:"tenant"`
	Jobs          store.JobStats `json:"jobs"`
	ValidSessions int            `json:"valid_sessions"`
	StaleSessions int            `json:"stale_sessions"`
	CollectedAt   time.Time      `json:"collected_at"`
}

// Collector gathers queue metrics from the store.
type Collector struct {
	store store.Store
}

// NewCollector creates a new queue metrics collector.
func NewCollector(st store.Store) *Collector {
	return &Collector{store: st}
}

// Collect gathers a snapshot of the tenant's queue and sessions.
func (c *Collector) Collect(ctx context.Context, tenant string) (*QueueSnapshot, error) {
	snap := &QueueSnapshot{
		Tenant:      tenant,
		CollectedAt: time.Now().UTC(),
	}

	stats, err := c.store.Stats(ctx, tenant)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: job stats")
	}
	snap.Jobs = *stats

	sessions, err := c.store.ListSessions(ctx, tenant)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list sessions")
	}
	for _, s := range sessions {
		if s.IsValid {
			snap.ValidSessions++
		} else {
			snap.StaleSessions++
		}
	}

	return snap, nil
}
