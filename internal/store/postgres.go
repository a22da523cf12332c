package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/homereach/contact-cli/internal/db"
	"github.com/homereach/contact-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the most frequently used store operations.
var preparedStatements = map[string]string{
	"insert_job":    `INSERT INTO contact_jobs (id, tenant_id, lead_id, portal, listing_url, title, message_template, priority, state, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
	"get_job":       `SELECT id, tenant_id, lead_id, portal, listing_url, title, message_template, priority, state, phone, message_sent, error, attempts, created_at, updated_at, processed_at FROM contact_jobs WHERE id = $1`,
	"claim_job":     `UPDATE contact_jobs SET state = 'in_progress', updated_at = $1 WHERE id = $2 AND state = 'pending'`,
	"finish_job":    `UPDATE contact_jobs SET state = $1, phone = $2, message_sent = $3, error = $4, attempts = attempts + 1, processed_at = $5, updated_at = $5 WHERE id = $6 AND state = 'in_progress'`,
	"get_session":   `SELECT id, tenant_id, portal, account, cookies, user_data_dir, is_valid, created_at, last_used_at FROM portal_sessions WHERE tenant_id = $1 AND portal = $2`,
	"save_session":  `INSERT INTO portal_sessions (id, tenant_id, portal, account, cookies, user_data_dir, is_valid, created_at, last_used_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) ON CONFLICT (tenant_id, portal) DO UPDATE SET account = EXCLUDED.account, cookies = EXCLUDED.cookies, user_data_dir = EXCLUDED.user_data_dir, is_valid = EXCLUDED.is_valid, last_used_at = EXCLUDED.last_used_at`,
	"invalidate_session": `UPDATE portal_sessions SET is_valid = FALSE, last_used_at = $1 WHERE tenant_id = $2 AND portal = $3`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	// Apply pool sizing from config with sensible defaults.
	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	// Prepare frequently-used statements on each new connection.
	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// Pool returns the underlying database pool for subsystems that need
// direct query access.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
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
	message_sent     BOOLEAN NOT NULL DEFAULT FALSE,
	error            TEXT,
	attempts         INTEGER NOT NULL DEFAULT 0,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	processed_at     TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS portal_sessions (
	id            TEXT PRIMARY KEY,
	tenant_id     TEXT NOT NULL,
	portal        TEXT NOT NULL,
	account       TEXT NOT NULL DEFAULT '',
	cookies       BYTEA,
	user_data_dir TEXT NOT NULL DEFAULT '',
	is_valid      BOOLEAN NOT NULL DEFAULT TRUE,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	last_used_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (tenant_id, portal)
);

CREATE INDEX IF NOT EXISTS idx_contact_jobs_state ON contact_jobs(state);
CREATE INDEX IF NOT EXISTS idx_contact_jobs_tenant ON contact_jobs(tenant_id, portal);
CREATE INDEX IF NOT EXISTS idx_contact_jobs_queue ON contact_jobs(state, priority DESC, created_at ASC);
CREATE INDEX IF NOT EXISTS idx_portal_sessions_tenant ON portal_sessions(tenant_id, portal);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateJob(ctx context.Context, job model.ContactJob) (*model.ContactJob, error) {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	job.State = model.JobStatePending
	job.CreatedAt = now
	job.UpdatedAt = now

	_, err := s.pool.Exec(ctx,
		`INSERT INTO contact_jobs (id, tenant_id, lead_id, portal, listing_url, title, message_template, priority, state, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		job.ID, job.TenantID, job.LeadID, string(job.Portal), job.ListingURL, job.Title,
		job.MessageTemplate, job.Priority, string(job.State), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert job")
	}
	return &job, nil
}

func (s *PostgresStore) GetJob(ctx context.Context, jobID string) (*model.ContactJob, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, tenant_id, lead_id, portal, listing_url, title, message_template, priority, state, phone, message_sent, error, attempts, created_at, updated_at, processed_at
		 FROM contact_jobs WHERE id = $1`, jobID)
	job, err := scanJob(row)
	if err == pgx.ErrNoRows {
		return nil, eris.Errorf("job not found: %s", jobID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get job %s", jobID)
	}
	return job, nil
}

func (s *PostgresStore) PendingJobs(ctx context.Context, tenant string, portal model.Portal, limit int) ([]model.ContactJob, error) {
	query := `SELECT id, tenant_id, lead_id, portal, listing_url, title, message_template, priority, state, phone, message_sent, error, attempts, created_at, updated_at, processed_at
	 FROM contact_jobs WHERE state = 'pending' AND tenant_id = $1`
	args := []any{tenant}

	if portal != "" {
		args = append(args, string(portal))
		query += fmt.Sprintf(` AND portal = $%d`, len(args))
	}
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	query += fmt.Sprintf(` ORDER BY priority DESC, created_at ASC LIMIT $%d`, len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: pending jobs")
	}
	defer rows.Close()
	return collectPgxJobs(rows, "postgres: pending jobs")
}

func (s *PostgresStore) ClaimJob(ctx context.Context, jobID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE contact_jobs SET state = 'in_progress', updated_at = $1 WHERE id = $2 AND state = 'pending'`,
		time.Now().UTC(), jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: claim job %s", jobID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("pending job not found: %s", jobID)
	}
	return nil
}

func (s *PostgresStore) FinishJob(ctx context.Context, jobID string, result model.ContactResult) error {
	state := model.JobStateFailed
	if result.Success {
		state = model.JobStateCompleted
	}
	now := time.Now().UTC()

	tag, err := s.pool.Exec(ctx,
		`UPDATE contact_jobs
		 SET state = $1, phone = $2, message_sent = $3, error = $4,
		     attempts = attempts + 1, processed_at = $5, updated_at = $5
		 WHERE id = $6 AND state = 'in_progress'`,
		string(state), nullString(result.Phone), result.MessageSent, nullString(result.Error),
		now, jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: finish job %s", jobID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("in-progress job not found: %s", jobID)
	}
	return nil
}

func (s *PostgresStore) RequeueFailed(ctx context.Context, tenant string, portal model.Portal) (int, error) {
	query := `UPDATE contact_jobs SET state = 'pending', error = NULL, updated_at = $1 WHERE state = 'failed' AND tenant_id = $2`
	args := []any{time.Now().UTC(), tenant}
	if portal != "" {
		args = append(args, string(portal))
		query += fmt.Sprintf(` AND portal = $%d`, len(args))
	}

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: requeue failed jobs")
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) ListJobs(ctx context.Context, filter JobFilter) ([]model.ContactJob, error) {
	query := `SELECT id, tenant_id, lead_id, portal, listing_url, title, message_template, priority, state, phone, message_sent, error, attempts, created_at, updated_at, processed_at
	 FROM contact_jobs WHERE 1=1`
	var args []any

	if filter.Tenant != "" {
		args = append(args, filter.Tenant)
		query += fmt.Sprintf(` AND tenant_id = $%d`, len(args))
	}
	if filter.Portal != "" {
		args = append(args, string(filter.Portal))
		query += fmt.Sprintf(` AND portal = $%d`, len(args))
	}
	if filter.State != "" {
		args = append(args, string(filter.State))
		query += fmt.Sprintf(` AND state = $%d`, len(args))
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	query += fmt.Sprintf(` LIMIT $%d`, len(args))

	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(` OFFSET $%d`, len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list jobs")
	}
	defer rows.Close()
	return collectPgxJobs(rows, "postgres: list jobs")
}

func (s *PostgresStore) Stats(ctx context.Context, tenant string) (*JobStats, error) {
	stats := &JobStats{ByState: map[string]int{}, ByPortal: map[string]int{}}

	rows, err := s.pool.Query(ctx,
		`SELECT state, COUNT(*) FROM contact_jobs WHERE tenant_id = $1 GROUP BY state`, tenant)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: stats by state")
	}
	defer rows.Close()
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, eris.Wrap(err, "postgres: scan state count")
		}
		stats.ByState[state] = n
		stats.Total += n
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: stats by state iterate")
	}

	prows, err := s.pool.Query(ctx,
		`SELECT portal, COUNT(*) FROM contact_jobs WHERE tenant_id = $1 GROUP BY portal`, tenant)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: stats by portal")
	}
	defer prows.Close()
	for prows.Next() {
		var portal string
		var n int
		if err := prows.Scan(&portal, &n); err != nil {
			return nil, eris.Wrap(err, "postgres: scan portal count")
		}
		stats.ByPortal[portal] = n
	}
	if err := prows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: stats by portal iterate")
	}

	row := s.pool.QueryRow(ctx,
		`SELECT COUNT(phone), COUNT(*) FILTER (WHERE message_sent) FROM contact_jobs WHERE tenant_id = $1`, tenant)
	if err := row.Scan(&stats.PhonesFound, &stats.MessagesSent); err != nil {
		return nil, eris.Wrap(err, "postgres: stats outcomes")
	}

	return stats, nil
}

func (s *PostgresStore) GetSession(ctx context.Context, tenant string, portal model.Portal) (*model.Session, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, tenant_id, portal, account, cookies, user_data_dir, is_valid, created_at, last_used_at
		 FROM portal_sessions WHERE tenant_id = $1 AND portal = $2`,
		tenant, string(portal),
	)
	sess, err := scanSession(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get session")
	}
	return sess, nil
}

func (s *PostgresStore) SaveSession(ctx context.Context, session *model.Session) error {
	if session.ID == "" {
		session.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	session.LastUsedAt = now

	_, err := s.pool.Exec(ctx,
		`INSERT INTO portal_sessions (id, tenant_id, portal, account, cookies, user_data_dir, is_valid, created_at, last_used_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (tenant_id, portal) DO UPDATE SET
		   account = EXCLUDED.account,
		   cookies = EXCLUDED.cookies,
		   user_data_dir = EXCLUDED.user_data_dir,
		   is_valid = EXCLUDED.is_valid,
		   last_used_at = EXCLUDED.last_used_at`,
		session.ID, session.TenantID, string(session.Portal), session.Account,
		session.Cookies, session.UserDataDir, session.IsValid, session.CreatedAt, session.LastUsedAt,
	)
	return eris.Wrap(err, "postgres: save session")
}

func (s *PostgresStore) InvalidateSession(ctx context.Context, tenant string, portal model.Portal) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE portal_sessions SET is_valid = FALSE, last_used_at = $1 WHERE tenant_id = $2 AND portal = $3`,
		time.Now().UTC(), tenant, string(portal),
	)
	if err != nil {
		return eris.Wrap(err, "postgres: invalidate session")
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("session not found: %s/%s", tenant, portal)
	}
	return nil
}

func (s *PostgresStore) ListSessions(ctx context.Context, tenant string) ([]model.Session, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, tenant_id, portal, account, cookies, user_data_dir, is_valid, created_at, last_used_at
		 FROM portal_sessions WHERE tenant_id = $1 ORDER BY portal`, tenant)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list sessions")
	}
	defer rows.Close()

	var sessions []model.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan session")
		}
		sessions = append(sessions, *sess)
	}
	return sessions, eris.Wrap(rows.Err(), "postgres: list sessions iterate")
}

func collectPgxJobs(rows pgx.Rows, op string) ([]model.ContactJob, error) {
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
