package store

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/homereach/contact-cli/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

func TestPostgresStore_GetJob_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT .* FROM contact_jobs WHERE id = \$1`).
		WithArgs("nonexistent-job").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetJob(context.Background(), "nonexistent-job")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "job not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateJob(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO contact_jobs`).
		WithArgs(pgxmock.AnyArg(), "t1", "lead-1", "casalia", "https://casalia.example/listing/1",
			"Ático con terraza", "", 2, "pending", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	job, err := s.CreateJob(context.Background(), model.ContactJob{
		TenantID:   "t1",
		LeadID:     "lead-1",
		Portal:     model.PortalCasalia,
		ListingURL: "https://casalia.example/listing/1",
		Title:      "Ático con terraza",
		Priority:   2,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, model.JobStatePending, job.State)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ClaimJob_AlreadyClaimed(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE contact_jobs SET state = 'in_progress'`).
		WithArgs(pgxmock.AnyArg(), "job-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.ClaimJob(context.Background(), "job-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pending job not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FinishJob_Failed(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE contact_jobs`).
		WithArgs("failed", nil, false, "session_expired", pgxmock.AnyArg(), "job-2").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := s.FinishJob(context.Background(), "job-2", model.ContactResult{
		Success: false,
		Error:   "session_expired",
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_PendingJobs_OrderClause(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	rows := pgxmock.NewRows([]string{
		"id", "tenant_id", "lead_id", "portal", "listing_url", "title", "message_template",
		"priority", "state", "phone", "message_sent", "error", "attempts",
		"created_at", "updated_at", "processed_at",
	})

	mock.ExpectQuery(`ORDER BY priority DESC, created_at ASC LIMIT \$3`).
		WithArgs("t1", "pisea", 5).
		WillReturnRows(rows)

	jobs, err := s.PendingJobs(context.Background(), "t1", model.PortalPisea, 5)
	require.NoError(t, err)
	assert.Empty(t, jobs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveSession_Upsert(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`ON CONFLICT \(tenant_id, portal\) DO UPDATE`).
		WithArgs(pgxmock.AnyArg(), "t1", "ventora", "acct", []byte("cookies"), "/profiles/t1-ventora",
			true, pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.SaveSession(context.Background(), &model.Session{
		TenantID:    "t1",
		Portal:      model.PortalVentora,
		Account:     "acct",
		Cookies:     []byte("cookies"),
		UserDataDir: "/profiles/t1-ventora",
		IsValid:     true,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetSession_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT .* FROM portal_sessions`).
		WithArgs("t1", "hogarix").
		WillReturnError(pgx.ErrNoRows)

	sess, err := s.GetSession(context.Background(), "t1", model.PortalHogarix)
	require.NoError(t, err)
	assert.Nil(t, sess)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_RequeueFailed(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE contact_jobs SET state = 'pending'`).
		WithArgs(pgxmock.AnyArg(), "t1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 3))

	n, err := s.RequeueFailed(context.Background(), "t1", "")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
