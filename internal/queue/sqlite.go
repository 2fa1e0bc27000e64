package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/JoaoMarcos160/vet-transcription-platform/internal/priority"
	"github.com/JoaoMarcos160/vet-transcription-platform/internal/types"
)

// Config tunes retry and retention behavior of the SQLite queue.
type Config struct {
	MaxAttempts     int
	MaxStalledCount int
	BackoffBase     time.Duration
	CompletedTTL    time.Duration
	FailedTTL       time.Duration
}

func (c *Config) applyDefaults() {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.MaxStalledCount <= 0 {
		c.MaxStalledCount = 2
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 2 * time.Second
	}
	if c.CompletedTTL <= 0 {
		c.CompletedTTL = time.Hour
	}
	if c.FailedTTL <= 0 {
		c.FailedTTL = 24 * time.Hour
	}
}

// SQLiteQueue is the durable Queue implementation. All state transitions run
// on a single connection inside a transaction guarded by one mutex, which is
// what guarantees at-most-one active lease per job.
type SQLiteQueue struct {
	db     *sql.DB
	mu     sync.Mutex
	paused atomic.Bool
	cfg    Config
	logger zerolog.Logger
}

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	id               TEXT PRIMARY KEY,
	transcription_id TEXT NOT NULL,
	user_id          TEXT NOT NULL,
	audio_reference  TEXT NOT NULL,
	audio_format     TEXT NOT NULL,
	duration_seconds REAL NOT NULL,
	priority         INTEGER NOT NULL,
	state            TEXT NOT NULL,
	attempts_made    INTEGER NOT NULL DEFAULT 0,
	max_attempts     INTEGER NOT NULL,
	stalled_count    INTEGER NOT NULL DEFAULT 0,
	lock_token       TEXT,
	lock_expires_at  INTEGER,
	not_before       INTEGER NOT NULL DEFAULT 0,
	failed_reason    TEXT,
	result_json      TEXT,
	enqueued_at      INTEGER NOT NULL,
	finished_at      INTEGER
);

CREATE INDEX IF NOT EXISTS idx_jobs_lease ON jobs(state, priority);
CREATE INDEX IF NOT EXISTS idx_jobs_finished ON jobs(state, finished_at);
`

// NewSQLiteQueue opens (or creates) the queue database at dbPath.
func NewSQLiteQueue(dbPath string, cfg Config, logger zerolog.Logger) (*SQLiteQueue, error) {
	cfg.applyDefaults()

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open queue database: %w", err)
	}
	// A single connection keeps the driver away from SQLITE_BUSY and makes
	// every transaction a full serialization point.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		`PRAGMA journal_mode=WAL`,
		`PRAGMA busy_timeout=5000`,
	} {
		if _, err := db.Exec(pragma); err != nil {
			return nil, fmt.Errorf("configure queue database: %w", err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("create queue schema: %w", err)
	}

	return &SQLiteQueue{
		db:     db,
		cfg:    cfg,
		logger: logger.With().Str("component", "queue").Logger(),
	}, nil
}

// Close closes the underlying database.
func (q *SQLiteQueue) Close() error {
	return q.db.Close()
}

// Enqueue inserts the job in waiting state with a priority derived from its
// audio duration. Safe for any number of concurrent producers.
func (q *SQLiteQueue) Enqueue(ctx context.Context, job types.TranscriptionJob) (string, error) {
	jobID := uuid.NewString()
	band := priority.ForDuration(job.DurationSeconds)

	_, err := q.db.ExecContext(ctx, `
		INSERT INTO jobs (id, transcription_id, user_id, audio_reference, audio_format,
			duration_seconds, priority, state, max_attempts, enqueued_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		jobID, job.TranscriptionID, job.UserID, job.AudioReference, job.AudioFormat,
		job.DurationSeconds, band, types.JobStateWaiting, q.cfg.MaxAttempts,
		time.Now().UnixMilli())
	if err != nil {
		return "", fmt.Errorf("enqueue job: %w", err)
	}

	q.logger.Info().
		Str("job_id", jobID).
		Str("transcription_id", job.TranscriptionID).
		Int("priority", band).
		Msg("job enqueued")
	return jobID, nil
}

// Lease picks the eligible job with the lowest priority band, FIFO inside a
// band, and marks it active under a fresh lock token.
func (q *SQLiteQueue) Lease(ctx context.Context, workerID string, lockDuration time.Duration) (*JobRecord, error) {
	if q.paused.Load() {
		return nil, nil
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin lease: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()
	rec := &JobRecord{}
	err = tx.QueryRowContext(ctx, `
		SELECT id, transcription_id, user_id, audio_reference, audio_format,
			duration_seconds, priority, attempts_made, max_attempts, stalled_count
		FROM jobs
		WHERE state = ? OR (state = ? AND not_before <= ?)
		ORDER BY priority ASC, rowid ASC
		LIMIT 1`,
		types.JobStateWaiting, types.JobStateDelayed, now.UnixMilli()).Scan(
		&rec.ID, &rec.Job.TranscriptionID, &rec.Job.UserID, &rec.Job.AudioReference,
		&rec.Job.AudioFormat, &rec.Job.DurationSeconds, &rec.Priority,
		&rec.AttemptsMade, &rec.MaxAttempts, &rec.StalledCount)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select leaseable job: %w", err)
	}

	rec.State = types.JobStateActive
	rec.LockToken = uuid.NewString()
	rec.LockExpiresAt = now.Add(lockDuration)

	_, err = tx.ExecContext(ctx, `
		UPDATE jobs SET state = ?, lock_token = ?, lock_expires_at = ?
		WHERE id = ?`,
		types.JobStateActive, rec.LockToken, rec.LockExpiresAt.UnixMilli(), rec.ID)
	if err != nil {
		return nil, fmt.Errorf("mark job active: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit lease: %w", err)
	}

	q.logger.Debug().
		Str("job_id", rec.ID).
		Str("worker_id", workerID).
		Int("priority", rec.Priority).
		Msg("job leased")
	return rec, nil
}

// RenewLock extends an active lease. ErrStaleLock means it was lost.
func (q *SQLiteQueue) RenewLock(ctx context.Context, jobID, lockToken string, extension time.Duration) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE jobs SET lock_expires_at = ?
		WHERE id = ? AND lock_token = ? AND state = ?`,
		time.Now().Add(extension).UnixMilli(), jobID, lockToken, types.JobStateActive)
	if err != nil {
		return fmt.Errorf("renew lock: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrStaleLock
	}
	return nil
}

// Complete transitions an active job to completed.
func (q *SQLiteQueue) Complete(ctx context.Context, jobID, lockToken string, result *types.TranscriptionJobResult) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	var resultJSON []byte
	if result != nil {
		var err error
		resultJSON, err = json.Marshal(result)
		if err != nil {
			return fmt.Errorf("marshal job result: %w", err)
		}
	}

	res, err := q.db.ExecContext(ctx, `
		UPDATE jobs SET state = ?, result_json = ?, lock_token = NULL,
			lock_expires_at = NULL, finished_at = ?
		WHERE id = ? AND lock_token = ? AND state = ?`,
		types.JobStateCompleted, string(resultJSON), time.Now().UnixMilli(),
		jobID, lockToken, types.JobStateActive)
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrStaleLock
	}

	q.logger.Info().Str("job_id", jobID).Msg("job completed")
	return nil
}

// Fail records a failed attempt. A retryable failure with attempts remaining
// moves the job to delayed with exponential backoff; otherwise it is terminal.
func (q *SQLiteQueue) Fail(ctx context.Context, jobID, lockToken, reason string, retryable bool) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin fail: %w", err)
	}
	defer tx.Rollback()

	var attempts, maxAttempts int
	err = tx.QueryRowContext(ctx, `
		SELECT attempts_made, max_attempts FROM jobs
		WHERE id = ? AND lock_token = ? AND state = ?`,
		jobID, lockToken, types.JobStateActive).Scan(&attempts, &maxAttempts)
	if err == sql.ErrNoRows {
		return ErrStaleLock
	}
	if err != nil {
		return fmt.Errorf("load failing job: %w", err)
	}

	attempts++
	now := time.Now()

	if retryable && attempts < maxAttempts {
		notBefore := now.Add(q.backoff(attempts))
		_, err = tx.ExecContext(ctx, `
			UPDATE jobs SET state = ?, attempts_made = ?, lock_token = NULL,
				lock_expires_at = NULL, not_before = ?, failed_reason = ?
			WHERE id = ?`,
			types.JobStateDelayed, attempts, notBefore.UnixMilli(), reason, jobID)
		if err == nil {
			err = tx.Commit()
		}
		if err != nil {
			return fmt.Errorf("delay job for retry: %w", err)
		}
		q.logger.Warn().
			Str("job_id", jobID).
			Int("attempt", attempts).
			Time("retry_at", notBefore).
			Str("reason", reason).
			Msg("job attempt failed, retrying with backoff")
		return nil
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE jobs SET state = ?, attempts_made = ?, lock_token = NULL,
			lock_expires_at = NULL, failed_reason = ?, finished_at = ?
		WHERE id = ?`,
		types.JobStateFailed, attempts, reason, now.UnixMilli(), jobID)
	if err == nil {
		err = tx.Commit()
	}
	if err != nil {
		return fmt.Errorf("fail job: %w", err)
	}

	q.logger.Error().
		Str("job_id", jobID).
		Int("attempts", attempts).
		Str("reason", reason).
		Msg("job failed")
	return nil
}

// RequeueStalled recovers active jobs whose lock expired. Each stall counts
// as an attempt; a job is forced to failed once attempts run out or after
// stalling MaxStalledCount times, whichever comes first.
func (q *SQLiteQueue) RequeueStalled(ctx context.Context) (requeued, failed int, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("begin stall sweep: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()
	rows, err := tx.QueryContext(ctx, `
		SELECT id, attempts_made, max_attempts, stalled_count FROM jobs
		WHERE state = ? AND lock_expires_at IS NOT NULL AND lock_expires_at <= ?`,
		types.JobStateActive, now.UnixMilli())
	if err != nil {
		return 0, 0, fmt.Errorf("select stalled jobs: %w", err)
	}

	type stalled struct {
		id                            string
		attempts, maxAttempts, stalls int
	}
	var found []stalled
	for rows.Next() {
		var s stalled
		if err := rows.Scan(&s.id, &s.attempts, &s.maxAttempts, &s.stalls); err != nil {
			rows.Close()
			return 0, 0, fmt.Errorf("scan stalled job: %w", err)
		}
		found = append(found, s)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, 0, fmt.Errorf("iterate stalled jobs: %w", err)
	}

	for _, s := range found {
		attempts := s.attempts + 1
		stalls := s.stalls + 1

		if stalls > q.cfg.MaxStalledCount || attempts >= s.maxAttempts {
			_, err = tx.ExecContext(ctx, `
				UPDATE jobs SET state = ?, attempts_made = ?, stalled_count = ?,
					lock_token = NULL, lock_expires_at = NULL,
					failed_reason = ?, finished_at = ?
				WHERE id = ?`,
				types.JobStateFailed, attempts, stalls,
				"job stalled: lock expired without completion", now.UnixMilli(), s.id)
			if err != nil {
				return 0, 0, fmt.Errorf("fail stalled job: %w", err)
			}
			failed++
			q.logger.Error().Str("job_id", s.id).Int("stalls", stalls).Msg("stalled job forced to failed")
			continue
		}

		notBefore := now.Add(q.backoff(attempts))
		_, err = tx.ExecContext(ctx, `
			UPDATE jobs SET state = ?, attempts_made = ?, stalled_count = ?,
				lock_token = NULL, lock_expires_at = NULL, not_before = ?
			WHERE id = ?`,
			types.JobStateDelayed, attempts, stalls, notBefore.UnixMilli(), s.id)
		if err != nil {
			return 0, 0, fmt.Errorf("requeue stalled job: %w", err)
		}
		requeued++
		q.logger.Warn().Str("job_id", s.id).Int("stalls", stalls).Msg("stalled job requeued")
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("commit stall sweep: %w", err)
	}
	return requeued, failed, nil
}

// PruneFinished deletes terminal jobs past their retention window.
func (q *SQLiteQueue) PruneFinished(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now()
	var total int64
	for _, p := range []struct {
		state string
		ttl   time.Duration
	}{
		{types.JobStateCompleted, q.cfg.CompletedTTL},
		{types.JobStateFailed, q.cfg.FailedTTL},
	} {
		res, err := q.db.ExecContext(ctx, `
			DELETE FROM jobs WHERE state = ? AND finished_at IS NOT NULL AND finished_at <= ?`,
			p.state, now.Add(-p.ttl).UnixMilli())
		if err != nil {
			return int(total), fmt.Errorf("prune %s jobs: %w", p.state, err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return int(total), nil
}

// Stats counts jobs per state.
func (q *SQLiteQueue) Stats(ctx context.Context) (Stats, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT state, COUNT(*) FROM jobs GROUP BY state`)
	if err != nil {
		return Stats{}, fmt.Errorf("queue stats: %w", err)
	}
	defer rows.Close()

	var stats Stats
	for rows.Next() {
		var state string
		var count int
		if err := rows.Scan(&state, &count); err != nil {
			return Stats{}, fmt.Errorf("scan stats: %w", err)
		}
		switch state {
		case types.JobStateWaiting:
			stats.Waiting = count
		case types.JobStateActive:
			stats.Active = count
		case types.JobStateCompleted:
			stats.Completed = count
		case types.JobStateFailed:
			stats.Failed = count
		case types.JobStateDelayed:
			stats.Delayed = count
		}
	}
	return stats, rows.Err()
}

// JobStatus returns the externally visible state of one job.
func (q *SQLiteQueue) JobStatus(ctx context.Context, jobID string) (*StatusInfo, error) {
	var info StatusInfo
	var resultJSON, failedReason sql.NullString
	err := q.db.QueryRowContext(ctx, `
		SELECT state, attempts_made, result_json, failed_reason
		FROM jobs WHERE id = ?`, jobID).Scan(
		&info.State, &info.AttemptsMade, &resultJSON, &failedReason)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("job status: %w", err)
	}

	info.FailedReason = failedReason.String
	if resultJSON.Valid && resultJSON.String != "" {
		var result types.TranscriptionJobResult
		if err := json.Unmarshal([]byte(resultJSON.String), &result); err == nil {
			info.Result = &result
		}
	}
	return &info, nil
}

// Remove deletes a non-terminal job. Deleting the row drops the lock token,
// so a late Complete or Fail from the original worker is rejected.
func (q *SQLiteQueue) Remove(ctx context.Context, jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	res, err := q.db.ExecContext(ctx, `
		DELETE FROM jobs WHERE id = ? AND state IN (?, ?, ?)`,
		jobID, types.JobStateWaiting, types.JobStateActive, types.JobStateDelayed)
	if err != nil {
		return fmt.Errorf("remove job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}

	q.logger.Info().Str("job_id", jobID).Msg("job removed")
	return nil
}

// Pause stops Lease from handing out jobs until Resume.
func (q *SQLiteQueue) Pause() { q.paused.Store(true) }

// Resume lifts a pause.
func (q *SQLiteQueue) Resume() { q.paused.Store(false) }

// Paused reports whether leasing is paused.
func (q *SQLiteQueue) Paused() bool { return q.paused.Load() }

// backoff doubles per failed attempt: base, 2*base, 4*base...
func (q *SQLiteQueue) backoff(attempts int) time.Duration {
	d := q.cfg.BackoffBase
	for i := 1; i < attempts; i++ {
		d *= 2
	}
	return d
}
