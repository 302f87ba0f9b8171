package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

const (
	defaultMaxAttempts    = 3
	defaultRetryBaseDelay = 30 * time.Second
)

// Store is the SQLite-backed job queue. It is the single arbiter of which
// worker owns a job: every mutation after Enqueue is guarded by the
// (job id, worker id, leased status) triple.
type Store struct {
	db     *sql.DB
	logger *slog.Logger

	maxAttempts    int
	retryBaseDelay time.Duration
	now            func() time.Time
}

// Option customizes the store.
type Option func(*Store)

// WithMaxAttempts overrides the default attempt limit (defaults to 3).
func WithMaxAttempts(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// WithRetryBaseDelay overrides the base retry backoff (defaults to 30s).
// The delay doubles with every failed attempt.
func WithRetryBaseDelay(d time.Duration) Option {
	return func(s *Store) {
		if d >= 0 {
			s.retryBaseDelay = d
		}
	}
}

// WithClock overrides the time source (useful for lease-expiry tests).
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// NewStore creates a Store on an open database handle.
func NewStore(db *sql.DB, logger *slog.Logger, opts ...Option) *Store {
	s := &Store{
		db:             db,
		logger:         logger,
		maxAttempts:    defaultMaxAttempts,
		retryBaseDelay: defaultRetryBaseDelay,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// MaxAttempts returns the configured attempt limit.
func (s *Store) MaxAttempts() int {
	return s.maxAttempts
}

// EnqueueAnalysis adds a video-analysis job and returns its ID.
func (s *Store) EnqueueAnalysis(ctx context.Context, payload AnalysisPayload) (string, error) {
	if payload.ProjectID == "" || payload.VideoPath == "" {
		return "", fmt.Errorf("%w: analysis payload requires project_id and video_path", ErrValidation)
	}
	return s.enqueue(ctx, TypeAnalysis, payload)
}

// EnqueueClip adds a clip-generation job and returns its ID.
func (s *Store) EnqueueClip(ctx context.Context, payload ClipPayload) (string, error) {
	if payload.ProjectID == "" || payload.ClipID == "" || payload.VideoPath == "" {
		return "", fmt.Errorf("%w: clip payload requires project_id, clip_id and video_path", ErrValidation)
	}
	return s.enqueue(ctx, TypeClipGeneration, payload)
}

func (s *Store) enqueue(ctx context.Context, typ Type, payload any) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("%w: marshal payload: %v", ErrValidation, err)
	}

	id := uuid.NewString()
	now := s.now().UTC()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, type, status, payload, progress, attempt, run_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, 0, 0, ?, ?, ?)
	`, id, string(typ), string(StatusQueued), string(raw),
		now.UnixMilli(), now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano))
	if err != nil {
		return "", fmt.Errorf("enqueue %s job: %w", typ, err)
	}

	if s.logger != nil {
		s.logger.Info("job enqueued", "job_id", id, "type", string(typ))
	}
	return id, nil
}

// Lease atomically claims the oldest eligible job of the given type: either a
// queued job whose run-at time has passed, or a leased job whose lease has
// expired (reclaim). Returns nil when no job is eligible. The attempt counter
// increments on every claim, including reclaims.
func (s *Store) Lease(ctx context.Context, typ Type, workerID string, leaseDuration time.Duration) (*Job, error) {
	now := s.now().UTC()
	nowMs := now.UnixMilli()
	expiry := now.Add(leaseDuration).UnixMilli()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin lease tx: %w", err)
	}
	defer tx.Rollback()

	var id string
	err = tx.QueryRowContext(ctx, `
		SELECT id FROM jobs
		WHERE type = ?
		  AND ((status = 'queued' AND run_at <= ?) OR (status = 'leased' AND lease_expires_at <= ?))
		ORDER BY rowid
		LIMIT 1
	`, string(typ), nowMs, nowMs).Scan(&id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select leasable job: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'leased', leased_by = ?, lease_expires_at = ?, attempt = attempt + 1, updated_at = ?
		WHERE id = ?
		  AND ((status = 'queued' AND run_at <= ?) OR (status = 'leased' AND lease_expires_at <= ?))
	`, workerID, expiry, now.Format(time.RFC3339Nano), id, nowMs, nowMs)
	if err != nil {
		return nil, fmt.Errorf("claim job %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		// Another worker won the race between select and update.
		return nil, nil
	}

	job, err := scanJob(tx.QueryRowContext(ctx, selectJobSQL+" WHERE id = ?", id))
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit lease: %w", err)
	}

	if s.logger != nil {
		s.logger.Info("job leased", "job_id", id, "type", string(typ), "worker_id", workerID, "attempt", job.Attempt)
	}
	return job, nil
}

// Heartbeat extends the caller's lease and records progress. Progress is
// monotonic: a lower value than the current one is clamped, never written.
// Returns ErrLeaseLost when the caller no longer holds the lease.
func (s *Store) Heartbeat(ctx context.Context, jobID, workerID string, progress int, leaseDuration time.Duration) error {
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}

	now := s.now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET progress = MAX(progress, ?), lease_expires_at = ?, updated_at = ?
		WHERE id = ? AND leased_by = ? AND status = 'leased'
	`, progress, now.Add(leaseDuration).UnixMilli(), now.Format(time.RFC3339Nano), jobID, workerID)
	if err != nil {
		return fmt.Errorf("heartbeat job %s: %w", jobID, err)
	}
	return s.requireLease(res, jobID)
}

// Complete marks a leased job as finished with progress 100 and a result.
func (s *Store) Complete(ctx context.Context, jobID, workerID string, result any) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}

	now := s.now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'completed', progress = 100, result = ?,
		    leased_by = NULL, lease_expires_at = NULL, updated_at = ?
		WHERE id = ? AND leased_by = ? AND status = 'leased'
	`, string(raw), now.Format(time.RFC3339Nano), jobID, workerID)
	if err != nil {
		return fmt.Errorf("complete job %s: %w", jobID, err)
	}
	if err := s.requireLease(res, jobID); err != nil {
		return err
	}

	if s.logger != nil {
		s.logger.Info("job completed", "job_id", jobID, "worker_id", workerID)
	}
	return nil
}

// Fail records a failure on a leased job. Retryable failures below the attempt
// limit return to the queue with exponential backoff; everything else is
// dead-lettered as permanently failed. The resulting status is returned so the
// caller knows whether the failure was final.
func (s *Store) Fail(ctx context.Context, jobID, workerID string, jobErr error, retryable bool) (Status, error) {
	msg := ""
	if jobErr != nil {
		msg = jobErr.Error()
	}

	now := s.now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin fail tx: %w", err)
	}
	defer tx.Rollback()

	var attempt int
	err = tx.QueryRowContext(ctx,
		`SELECT attempt FROM jobs WHERE id = ? AND leased_by = ? AND status = 'leased'`,
		jobID, workerID).Scan(&attempt)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("%w: job %s", ErrLeaseLost, jobID)
	}
	if err != nil {
		return "", fmt.Errorf("load job %s for fail: %w", jobID, err)
	}

	status := StatusFailed
	if retryable && attempt < s.maxAttempts {
		status = StatusQueued
		delay := s.retryBaseDelay
		if attempt > 1 {
			delay <<= attempt - 1
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE jobs
			SET status = 'queued', leased_by = NULL, lease_expires_at = NULL,
			    run_at = ?, last_error = ?, updated_at = ?
			WHERE id = ?
		`, now.Add(delay).UnixMilli(), msg, now.Format(time.RFC3339Nano), jobID)
	} else {
		_, err = tx.ExecContext(ctx, `
			UPDATE jobs
			SET status = 'failed', leased_by = NULL, lease_expires_at = NULL,
			    last_error = ?, updated_at = ?
			WHERE id = ?
		`, msg, now.Format(time.RFC3339Nano), jobID)
	}
	if err != nil {
		return "", fmt.Errorf("fail job %s: %w", jobID, err)
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit fail: %w", err)
	}

	if s.logger != nil {
		s.logger.Warn("job failed",
			"job_id", jobID,
			"worker_id", workerID,
			"attempt", attempt,
			"requeued", status == StatusQueued,
			"error", msg,
		)
	}
	return status, nil
}

// Get returns a job by ID, or nil when it does not exist.
func (s *Store) Get(ctx context.Context, id string) (*Job, error) {
	job, err := scanJob(s.db.QueryRowContext(ctx, selectJobSQL+" WHERE id = ?", id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return job, err
}

// List returns the most recently created jobs, newest first.
func (s *Store) List(ctx context.Context, limit int) ([]*Job, error) {
	rows, err := s.db.QueryContext(ctx, selectJobSQL+" ORDER BY rowid DESC LIMIT ?", limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, job)
	}
	return list, rows.Err()
}

func (s *Store) requireLease(res sql.Result, jobID string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: job %s", ErrLeaseLost, jobID)
	}
	return nil
}

const selectJobSQL = `
	SELECT id, type, status, payload, progress, attempt,
	       leased_by, lease_expires_at, run_at, result, last_error,
	       created_at, updated_at
	FROM jobs`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	var j Job
	var typ, status, payload string
	var leasedBy, result, lastError sql.NullString
	var leaseExpires sql.NullInt64
	var runAt int64
	var createdAt, updatedAt string

	err := row.Scan(&j.ID, &typ, &status, &payload, &j.Progress, &j.Attempt,
		&leasedBy, &leaseExpires, &runAt, &result, &lastError,
		&createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	j.Type = Type(typ)
	j.Status = Status(status)
	j.Payload = json.RawMessage(payload)
	j.LeasedBy = leasedBy.String
	if leaseExpires.Valid {
		t := time.UnixMilli(leaseExpires.Int64).UTC()
		j.LeaseExpiresAt = &t
	}
	j.RunAt = time.UnixMilli(runAt).UTC()
	if result.Valid {
		j.Result = json.RawMessage(result.String)
	}
	j.LastError = lastError.String
	j.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	j.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return &j, nil
}
