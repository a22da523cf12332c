package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/homereach/contact-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS contact_jobs (
	id               TEXT PRIMARY KEY,
	tenant_id        TEXT NOT NULL,
	lead_id          TEXT NOT NULL,
	portal           TEXT NOT NULL,
	listing_url      TEXT NOT NULL,
	title            TEXT NOT NULL DEFAULT '',
	message_template TEXT NOT NULL DEFAULT '',
	priority         INTEGER NOT NULL DEFAULT 0,
	state            TEXT NOT NULL DEFAULT 'pending',
	phone            TEXT,
	message_sent     INTEGER NOT NULL DEFAULT 0,
	error            TEXT,
	attempts         INTEGER NOT NULL DEFAULT 0,
	created_at       DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at       DATETIME NOT NULL DEFAULT (datetime('now')),
	processed_at     DATETIME
);

CREATE TABLE IF NOT EXISTS portal_sessions (
	id            TEXT PRIMARY KEY,
	tenant_id     TEXT NOT NULL,
	portal        TEXT NOT NULL,
	account       TEXT NOT NULL DEFAULT '',
	cookies       BLOB,
	user_data_dir TEXT NOT NULL DEFAULT '',
	is_valid      INTEGER NOT NULL DEFAULT 1,
	created_at    DATETIME NOT NULL DEFAULT (datetime('now')),
	last_used_at  DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE(tenant_id, portal)
);

CREATE INDEX IF NOT EXISTS idx_contact_jobs_state ON contact_jobs(state);
CREATE INDEX IF NOT EXISTS idx_contact_jobs_tenant ON contact_jobs(tenant_id, portal);
CREATE INDEX IF NOT EXISTS idx_contact_jobs_queue ON contact_jobs(state, priority DESC, created_at ASC);
CREATE INDEX IF NOT EXISTS idx_portal_sessions_tenant ON portal_sessions(tenant_id, portal);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateJob(ctx context.Context, job model.ContactJob) (*model.ContactJob, error) {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	job.State = model.JobStatePending
	job.CreatedAt = now
	job.UpdatedAt = now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO contact_jobs (id, tenant_id, lead_id, portal, listing_url, title, message_template, priority, state, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.TenantID, job.LeadID, string(job.Portal), job.ListingURL, job.Title,
		job.MessageTemplate, job.Priority, string(job.State), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert job")
	}
	return &job, nil
}

func (s *SQLiteStore) GetJob(ctx context.Context, jobID string) (*model.ContactJob, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM contact_jobs WHERE id = ?`, jobID)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, eris.Errorf("job not found: %s", jobID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get job %s", jobID)
	}
	return job, nil
}

// PendingJobs returns up to limit pending jobs in queue order: highest
// priority first, oldest first within a priority.
func (s *SQLiteStore) PendingJobs(ctx context.Context, tenant string, portal model.Portal, limit int) ([]model.ContactJob, error) {
	query := `SELECT ` + jobColumns + ` FROM contact_jobs WHERE state = ? AND tenant_id = ?`
	args := []any{string(model.JobStatePending), tenant}

	if portal != "" {
		query += ` AND portal = ?`
		args = append(args, string(portal))
	}
	query += ` ORDER BY priority DESC, created_at ASC LIMIT ?`
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: pending jobs")
	}
	defer rows.Close()
	return collectJobs(rows, "sqlite: pending jobs")
}

func (s *SQLiteStore) ClaimJob(ctx context.Context, jobID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE contact_jobs SET state = ?, updated_at = ? WHERE id = ? AND state = ?`,
		string(model.JobStateInProgress), time.Now().UTC(), jobID, string(model.JobStatePending),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: claim job %s", jobID)
	}
	return checkRowsAffected(res, "pending job", jobID)
}

func (s *SQLiteStore) FinishJob(ctx context.Context, jobID string, result model.ContactResult) error {
	state := model.JobStateFailed
	if result.Success {
		state = model.JobStateCompleted
	}
	now := time.Now().UTC()

	res, err := s.db.ExecContext(ctx,
		`UPDATE contact_jobs
		 SET state = ?, phone = ?, message_sent = ?, error = ?,
		     attempts = attempts + 1, processed_at = ?, updated_at = ?
		 WHERE id = ? AND state = ?`,
		string(state), nullString(result.Phone), result.MessageSent, nullString(result.Error),
		now, now, jobID, string(model.JobStateInProgress),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: finish job %s", jobID)
	}
	return checkRowsAffected(res, "in-progress job", jobID)
}

func (s *SQLiteStore) RequeueFailed(ctx context.Context, tenant string, portal model.Portal) (int, error) {
	query := `UPDATE contact_jobs SET state = ?, error = NULL, updated_at = ? WHERE state = ? AND tenant_id = ?`
	args := []any{string(model.JobStatePending), time.Now().UTC(), string(model.JobStateFailed), tenant}
	if portal != "" {
		query += ` AND portal = ?`
		args = append(args, string(portal))
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: requeue failed jobs")
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "sqlite: rows affected")
}

func (s *SQLiteStore) ListJobs(ctx context.Context, filter JobFilter) ([]model.ContactJob, error) {
	query := `SELECT ` + jobColumns + ` FROM contact_jobs WHERE 1=1`
	var args []any

	if filter.Tenant != "" {
		query += ` AND tenant_id = ?`
		args = append(args, filter.Tenant)
	}
	if filter.Portal != "" {
		query += ` AND portal = ?`
		args = append(args, string(filter.Portal))
	}
	if filter.State != "" {
		query += ` AND state = ?`
		args = append(args, string(filter.State))
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list jobs")
	}
	defer rows.Close()
	return collectJobs(rows, "sqlite: list jobs")
}

func (s *SQLiteStore) Stats(ctx context.Context, tenant string) (*JobStats, error) {
	stats := &JobStats{ByState: map[string]int{}, ByPortal: map[string]int{}}

	rows, err := s.db.QueryContext(ctx,
		`SELECT state, COUNT(*) FROM contact_jobs WHERE tenant_id = ? GROUP BY state`, tenant)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: stats by state")
	}
	defer rows.Close()
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan state count")
		}
		stats.ByState[state] = n
		stats.Total += n
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: stats by state iterate")
	}

	prows, err := s.db.QueryContext(ctx,
		`SELECT portal, COUNT(*) FROM contact_jobs WHERE tenant_id = ? GROUP BY portal`, tenant)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: stats by portal")
	}
	defer prows.Close()
	for prows.Next() {
		var portal string
		var n int
		if err := prows.Scan(&portal, &n); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan portal count")
		}
		stats.ByPortal[portal] = n
	}
	if err := prows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: stats by portal iterate")
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT COUNT(phone), SUM(message_sent) FROM contact_jobs WHERE tenant_id = ?`, tenant)
	var phones int
	var sent sql.NullInt64
	if err := row.Scan(&phones, &sent); err != nil {
		return nil, eris.Wrap(err, "sqlite: stats outcomes")
	}
	stats.PhonesFound = phones
	stats.MessagesSent = int(sent.Int64)

	return stats, nil
}

func (s *SQLiteStore) GetSession(ctx context.Context, tenant string, portal model.Portal) (*model.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM portal_sessions WHERE tenant_id = ? AND portal = ?`,
		tenant, string(portal),
	)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get session")
	}
	return sess, nil
}

func (s *SQLiteStore) SaveSession(ctx context.Context, session *model.Session) error {
	if session.ID == "" {
		session.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	session.LastUsedAt = now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO portal_sessions (id, tenant_id, portal, account, cookies, user_data_dir, is_valid, created_at, last_used_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(tenant_id, portal) DO UPDATE SET
		   account = excluded.account,
		   cookies = excluded.cookies,
		   user_data_dir = excluded.user_data_dir,
		   is_valid = excluded.is_valid,
		   last_used_at = excluded.last_used_at`,
		session.ID, session.TenantID, string(session.Portal), session.Account,
		session.Cookies, session.UserDataDir, session.IsValid, session.CreatedAt, session.LastUsedAt,
	)
	return eris.Wrap(err, "sqlite: save session")
}

func (s *SQLiteStore) InvalidateSession(ctx context.Context, tenant string, portal model.Portal) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE portal_sessions SET is_valid = 0, last_used_at = ? WHERE tenant_id = ? AND portal = ?`,
		time.Now().UTC(), tenant, string(portal),
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: invalidate session")
	}
	return checkRowsAffected(res, "session", tenant+"/"+string(portal))
}

func (s *SQLiteStore) ListSessions(ctx context.Context, tenant string) ([]model.Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM portal_sessions WHERE tenant_id = ? ORDER BY portal`, tenant)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list sessions")
	}
	defer rows.Close()

	var sessions []model.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan session")
		}
		sessions = append(sessions, *sess)
	}
	return sessions, eris.Wrap(rows.Err(), "sqlite: list sessions iterate")
}

// helpers

const jobColumns = `id, tenant_id, lead_id, portal, listing_url, title, message_template, priority, state, phone, message_sent, error, attempts, created_at, updated_at, processed_at`

const sessionColumns = `id, tenant_id, portal, account, cookies, user_data_dir, is_valid, created_at, last_used_at`

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

type scannable interface {
	Scan(dest ...any) error
}

func scanJob(row scannable) (*model.ContactJob, error) {
	var j model.ContactJob
	var portal, state string
	var phone, jobErr sql.NullString
	var processedAt sql.NullTime

	err := row.Scan(&j.ID, &j.TenantID, &j.LeadID, &portal, &j.ListingURL, &j.Title,
		&j.MessageTemplate, &j.Priority, &state, &phone, &j.MessageSent, &jobErr,
		&j.Attempts, &j.CreatedAt, &j.UpdatedAt, &processedAt)
	if err != nil {
		return nil, err
	}

	j.Portal = model.Portal(portal)
	j.State = model.JobState(state)
	if phone.Valid {
		j.Phone = &phone.String
	}
	if jobErr.Valid {
		j.Error = &jobErr.String
	}
	if processedAt.Valid {
		t := processedAt.Time.UTC()
		j.ProcessedAt = &t
	}
	return &j, nil
}

func collectJobs(rows *sql.Rows, op string) ([]model.ContactJob, error) {
	var jobs []model.ContactJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, eris.Wrap(err, op)
		}
		jobs = append(jobs, *j)
	}
	return jobs, eris.Wrap(rows.Err(), op)
}

func scanSession(row scannable) (*model.Session, error) {
	var sess model.Session
	var portal string
	var cookies []byte

	err := row.Scan(&sess.ID, &sess.TenantID, &portal, &sess.Account, &cookies,
		&sess.UserDataDir, &sess.IsValid, &sess.CreatedAt, &sess.LastUsedAt)
	if err != nil {
		return nil, err
	}
	sess.Portal = model.Portal(portal)
	sess.Cookies = cookies
	return &sess, nil
}
