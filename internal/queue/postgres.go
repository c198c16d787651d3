package queue

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	// Registers the "pgx" database/sql driver.
	_ "github.com/jackc/pgx/v5/stdlib"

	"shopify-webhook-pipeline/internal/models"
)

// PostgresStore keeps jobs in the webhook_jobs table so pending retries
// survive a restart.
type PostgresStore struct {
	DB     *sql.DB
	opts   Options
	logger *slog.Logger
}

// OpenPostgres opens and pings a pgx-backed database/sql pool.
func OpenPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", classify(err))
	}
	return db, nil
}

// NewPostgresStore wraps an open database. Call Migrate before first use.
func NewPostgresStore(db *sql.DB, opts Options, logger *slog.Logger) *PostgresStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresStore{DB: db, opts: opts, logger: logger}
}

func jobColumns(prefix string) string {
	cols := []string{
		"id", "event_id", "topic", "source_domain", "received_at", "raw_payload",
		"state", "attempt_count", "next_eligible_at", "lease_expires_at",
		"last_error", "result", "created_at", "updated_at", "completed_at",
	}
	if prefix != "" {
		for i, c := range cols {
			cols[i] = prefix + "." + c
		}
	}
	return strings.Join(cols, ", ")
}

const dequeueReadySQL = `
	WITH next AS (
		SELECT id FROM webhook_jobs
		WHERE state = 'pending' AND next_eligible_at <= $1
		ORDER BY next_eligible_at ASC, created_at ASC
		LIMIT 1
		FOR UPDATE SKIP LOCKED
	)
	UPDATE webhook_jobs j
	SET state = 'running',
	    attempt_count = j.attempt_count + 1,
	    lease_expires_at = $2,
	    updated_at = $1
	FROM next
	WHERE j.id = next.id
	RETURNING `

func (s *PostgresStore) Enqueue(ctx context.Context, event models.WebhookEvent) (string, error) {
	now := s.opts.now()
	if event.ReceivedAt.IsZero() {
		event.ReceivedAt = now
	}
	id := uuid.NewString()

	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO webhook_jobs (
			id, event_id, topic, source_domain, received_at, raw_payload,
			state, attempt_count, next_eligible_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, 'pending', 0, $7, $7, $7)`,
		id, event.ID, event.Topic, event.SourceDomain, event.ReceivedAt.UTC(), event.RawPayload, now,
	)
	if err != nil {
		return "", fmt.Errorf("enqueue job: %w", classify(err))
	}
	return id, nil
}

func (s *PostgresStore) DequeueReady(ctx context.Context, now time.Time) (*models.Job, error) {
	now = now.UTC()
	row := s.DB.QueryRowContext(ctx, dequeueReadySQL+jobColumns("j"), now, now.Add(s.opts.lease()))
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dequeue ready job: %w", classify(err))
	}
	return job, nil
}

func (s *PostgresStore) MarkRunning(ctx context.Context, id string, now time.Time) (*models.Job, error) {
	now = now.UTC()
	row := s.DB.QueryRowContext(ctx, `
		UPDATE webhook_jobs
		SET state = 'running',
		    attempt_count = attempt_count + 1,
		    lease_expires_at = $3,
		    updated_at = $2
		WHERE id = $1 AND state = 'pending' AND next_eligible_at <= $2
		RETURNING `+jobColumns(""), id, now, now.Add(s.opts.lease()))
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, s.resolveMiss(ctx, id)
	}
	if err != nil {
		return nil, fmt.Errorf("mark job running: %w", classify(err))
	}
	return job, nil
}

func (s *PostgresStore) MarkSucceeded(ctx context.Context, id string, attempt int, result map[string]any) error {
	var encoded []byte
	if result != nil {
		var err error
		if encoded, err = json.Marshal(result); err != nil {
			return fmt.Errorf("encode job result: %w", err)
		}
	}
	now := s.opts.now()
	return s.transition(ctx, id, `
		UPDATE webhook_jobs
		SET state = 'succeeded',
		    result = $2,
		    last_error = NULL,
		    lease_expires_at = NULL,
		    completed_at = $3,
		    updated_at = $3
		WHERE id = $1 AND state = 'running' AND attempt_count = $4`, id, encoded, now, attempt)
}

func (s *PostgresStore) MarkFailed(ctx context.Context, id string, attempt int, errMsg string, nextEligibleAt time.Time) error {
	return s.transition(ctx, id, `
		UPDATE webhook_jobs
		SET state = 'pending',
		    last_error = $2,
		    next_eligible_at = GREATEST(next_eligible_at, $3),
		    lease_expires_at = NULL,
		    updated_at = $4
		WHERE id = $1 AND state = 'running' AND attempt_count = $5`, id, errMsg, nextEligibleAt.UTC(), s.opts.now(), attempt)
}

func (s *PostgresStore) MarkExhausted(ctx context.Context, id string, attempt int, errMsg string) error {
	now := s.opts.now()
	return s.transition(ctx, id, `
		UPDATE webhook_jobs
		SET state = 'exhausted',
		    last_error = $2,
		    lease_expires_at = NULL,
		    completed_at = $3,
		    updated_at = $3
		WHERE id = $1 AND state = 'running' AND attempt_count = $4`, id, errMsg, now, attempt)
}

func (s *PostgresStore) Heartbeat(ctx context.Context, id string, attempt int, now time.Time) error {
	now = now.UTC()
	return s.transition(ctx, id, `
		UPDATE webhook_jobs
		SET lease_expires_at = $3,
		    updated_at = $2
		WHERE id = $1 AND state = 'running' AND attempt_count = $4`, id, now, now.Add(s.opts.lease()), attempt)
}

func (s *PostgresStore) transition(ctx context.Context, id, query string, args ...any) error {
	res, err := s.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update job %s: %w", id, classify(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return s.resolveMiss(ctx, id)
	}
	return nil
}

// resolveMiss explains why a guarded update touched no rows.
func (s *PostgresStore) resolveMiss(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return ErrJobNotFound
	}
	var exists bool
	if err := s.DB.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM webhook_jobs WHERE id = $1)`, id,
	).Scan(&exists); err != nil {
		return fmt.Errorf("check job %s: %w", id, classify(err))
	}
	if !exists {
		return ErrJobNotFound
	}
	return ErrInvalidTransition
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*models.Job, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrJobNotFound
	}
	row := s.DB.QueryRowContext(ctx, `SELECT `+jobColumns("")+` FROM webhook_jobs WHERE id = $1`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", classify(err))
	}
	return job, nil
}

// reportedState mirrors models.Job.ReportedState.
const reportedState = `(CASE WHEN state = 'pending' AND attempt_count > 0 THEN 'failed' ELSE state END)`

func (s *PostgresStore) List(ctx context.Context, opts models.ListOptions) ([]*models.Job, int, error) {
	opts = normalizeList(opts)
	state := string(opts.State)

	var total int
	if err := s.DB.QueryRowContext(ctx,
		`SELECT count(*) FROM webhook_jobs WHERE ($1 = '' OR `+reportedState+` = $1)`, state,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count jobs: %w", classify(err))
	}

	rows, err := s.DB.QueryContext(ctx, `
		SELECT `+jobColumns("")+`
		FROM webhook_jobs
		WHERE ($1 = '' OR `+reportedState+` = $1)
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`, state, opts.Limit, opts.Skip)
	if err != nil {
		return nil, 0, fmt.Errorf("list jobs: %w", classify(err))
	}
	items, err := collectJobs(rows)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (s *PostgresStore) Stats(ctx context.Context) (models.JobStats, error) {
	var st models.JobStats
	err := s.DB.QueryRowContext(ctx, `
		SELECT
			count(*) FILTER (WHERE state = 'pending' AND attempt_count = 0),
			count(*) FILTER (WHERE state = 'running'),
			count(*) FILTER (WHERE state = 'succeeded'),
			count(*) FILTER (WHERE state = 'failed' OR (state = 'pending' AND attempt_count > 0)),
			count(*) FILTER (WHERE state = 'exhausted')
		FROM webhook_jobs`,
	).Scan(&st.Pending, &st.Running, &st.Succeeded, &st.Failed, &st.Exhausted)
	if err != nil {
		return models.JobStats{}, fmt.Errorf("job stats: %w", classify(err))
	}
	return st, nil
}

func (s *PostgresStore) ExpiredLeases(ctx context.Context, now time.Time) ([]*models.Job, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT `+jobColumns("")+`
		FROM webhook_jobs
		WHERE state = 'running' AND lease_expires_at IS NOT NULL AND lease_expires_at < $1
		ORDER BY lease_expires_at ASC`, now.UTC())
	if err != nil {
		return nil, fmt.Errorf("expired leases: %w", classify(err))
	}
	return collectJobs(rows)
}

func (s *PostgresStore) PurgeTerminal(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.DB.ExecContext(ctx, `
		DELETE FROM webhook_jobs
		WHERE state IN ('succeeded', 'exhausted')
		  AND completed_at IS NOT NULL
		  AND completed_at < $1`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("purge terminal jobs: %w", classify(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) Close() error {
	return s.DB.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*models.Job, error) {
	var (
		job                     models.Job
		state                   string
		leaseExpires, completed sql.NullTime
		lastError               sql.NullString
		result                  []byte
	)
	err := row.Scan(
		&job.ID,
		&job.Event.ID,
		&job.Event.Topic,
		&job.Event.SourceDomain,
		&job.Event.ReceivedAt,
		&job.Event.RawPayload,
		&state,
		&job.AttemptCount,
		&job.NextEligibleAt,
		&leaseExpires,
		&lastError,
		&result,
		&job.CreatedAt,
		&job.UpdatedAt,
		&completed,
	)
	if err != nil {
		return nil, err
	}

	job.State = models.JobState(state)
	job.Event.ReceivedAt = job.Event.ReceivedAt.UTC()
	job.NextEligibleAt = job.NextEligibleAt.UTC()
	job.CreatedAt = job.CreatedAt.UTC()
	job.UpdatedAt = job.UpdatedAt.UTC()
	job.LeaseExpiresAt = nullTime(leaseExpires)
	job.CompletedAt = nullTime(completed)
	if lastError.Valid {
		msg := lastError.String
		job.LastError = &msg
	}
	if len(result) > 0 {
		if err := json.Unmarshal(result, &job.Result); err != nil {
			return nil, fmt.Errorf("decode job result: %w", err)
		}
	}
	return &job, nil
}

func collectJobs(rows *sql.Rows) ([]*models.Job, error) {
	defer rows.Close()
	items := []*models.Job{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		items = append(items, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", classify(err))
	}
	return items, nil
}

func nullTime(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}

// classify tags errors that mean the database cannot take work right now
// with ErrQueueUnavailable, keeping the original cause in the chain.
func classify(err error) error {
	if err == nil || errors.Is(err, ErrQueueUnavailable) {
		return err
	}
	if unavailable(err) {
		return fmt.Errorf("%w: %w", ErrQueueUnavailable, err)
	}
	return err
}

func unavailable(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, sql.ErrConnDone) {
		return true
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgerrcode.IsConnectionException(pgErr.Code) ||
			pgerrcode.IsOperatorIntervention(pgErr.Code) ||
			pgerrcode.IsInsufficientResources(pgErr.Code)
	}
	return false
}

var _ Store = (*PostgresStore)(nil)
