package store

import (
	"context"

	"github.com/homereach/contact-cli/internal/model"
)

// JobFilter specifies criteria for listing contact jobs.
type JobFilter struct {
	Tenant string         `json:"tenant,omitempty"`
	Portal model.Portal   `json:"portal,omitempty"`
	State  model.JobState `json:"state,omitempty"`
	Limit  int            `json:"limit,omitempty"`
	Offset int            `json:"offset,omitempty"`
}

// JobStats aggregates queue counts for the stats command and alerting.
type JobStats struct {
	Total        int            `json:"total"`
	ByState      map[string]int `json:"by_state"`
	ByPortal     map[string]int `json:"by_portal"`
	PhonesFound  int            `json:"phones_found"`
	MessagesSent int            `json:"messages_sent"`
}

// Store defines the persistence interface for the contact queue and
// portal sessions.
type Store interface {
	// Jobs. State transitions are guarded in SQL: ClaimJob only moves
	// pending -> in_progress, FinishJob only in_progress -> completed/failed,
	// RequeueFailed only failed -> pending.
	CreateJob(ctx context.Context, job model.ContactJob) (*model.ContactJob, error)
	GetJob(ctx context.Context, jobID string) (*model.ContactJob, error)
	PendingJobs(ctx context.Context, tenant string, portal model.Portal, limit int) ([]model.ContactJob, error)
	ClaimJob(ctx context.Context, jobID string) error
	FinishJob(ctx context.Context, jobID string, res model.ContactResult) error
	RequeueFailed(ctx context.Context, tenant string, portal model.Portal) (int, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]model.ContactJob, error)
	Stats(ctx context.Context, tenant string) (*JobStats, error)

	// Sessions
	GetSession(ctx context.Context, tenant string, portal model.Portal) (*model.Session, error)
	SaveSession(ctx context.Context, session *model.Session) error
	InvalidateSession(ctx context.Context, tenant string, portal model.Portal) error
	ListSessions(ctx context.Context, tenant string) ([]model.Session, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
