// Package queue implements the durable lease job queue shared by every job
// type. Each job type lives in its own table; an Adapter supplies the table
// and the dedupe key for its payload.
package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"signalrelay/internal/constants"
	"signalrelay/internal/database"
	appErrors "signalrelay/internal/errors"
	"signalrelay/internal/metrics"
	"signalrelay/internal/models"
	"signalrelay/internal/retry"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Adapter describes one concrete job type
type Adapter[P any] interface {
	// Name is the queue name used in routes, logs and metrics
	Name() string
	// Table is the job table; it must be a plain SQL identifier
	Table() string
	// DedupeKey returns the components identifying equivalent work
	DedupeKey(payload P) []string
}

// CompleteHook runs inside the completion transaction after a successful
// transition to completed.
type CompleteHook[P any] func(ctx context.Context, tx *database.Tx, job *Job[P], outcome Outcome, now time.Time) error

// ClaimHook runs inside the claim transaction for each leased job. An error
// rolls back every lease of the call.
type ClaimHook[P any] func(ctx context.Context, tx *database.Tx, job *Job[P]) error

// Config tunes a queue; zero values take defaults
type Config[P any] struct {
	MaxAttempts int
	OnClaim     ClaimHook[P]
	OnComplete  CompleteHook[P]
}

// Job is a decoded job row
type Job[P any] struct {
	ID            string           `json:"id"`
	DedupeKey     []string         `json:"dedupeKey"`
	Status        models.JobStatus `json:"status"`
	AttemptCount  int              `json:"attemptCount"`
	MaxAttempts   int              `json:"maxAttempts"`
	RunAfter      time.Time        `json:"runAfter"`
	ClaimToken    string           `json:"claimToken,omitempty"`
	ClaimWorkerID string           `json:"claimWorkerId,omitempty"`
	ClaimedAt     *time.Time       `json:"claimedAt,omitempty"`
	LastAttemptAt *time.Time       `json:"lastAttemptAt,omitempty"`
	LastError     string           `json:"lastError,omitempty"`
	Payload       P                `json:"payload"`
	CreatedAt     time.Time        `json:"createdAt"`
	UpdatedAt     time.Time        `json:"updatedAt"`
}

// Outcome is what a worker reports for a claimed job
type Outcome struct {
	Success        bool                   `json:"success"`
	Error          string                 `json:"error,omitempty"`
	ResultMetadata map[string]interface{} `json:"resultMetadata,omitempty"`
}

// EnqueueResult reports whether a new job was created or an active one reused
type EnqueueResult struct {
	Enqueued bool   `json:"enqueued"`
	Deduped  bool   `json:"deduped"`
	JobID    string `json:"jobId"`
}

// CompleteResult is never an error for lease conflicts; those come back as
// Ignored with a reason.
type CompleteResult struct {
	OK      bool             `json:"ok"`
	Ignored bool             `json:"ignored,omitempty"`
	Reason  string           `json:"reason,omitempty"`
	Status  models.JobStatus `json:"status,omitempty"`
}

var tableName = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// Queue is the lease/claim state machine over one job table
type Queue[P any] struct {
	db          *database.Database
	adapter     Adapter[P]
	q           queries
	backoff     *retry.Backoff
	maxAttempts int
	onClaim     ClaimHook[P]
	onComplete  CompleteHook[P]
	logger      *logrus.Logger
	errLogger   *appErrors.Logger
	newToken    func() string
}

func New[P any](db *database.Database, adapter Adapter[P], cfg Config[P], logger *logrus.Logger) (*Queue[P], error) {
	if !tableName.MatchString(adapter.Table()) {
		return nil, fmt.Errorf("invalid job table name %q", adapter.Table())
	}
	if logger == nil {
		logger = logrus.New()
	}

	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = constants.DefaultJobMaxAttempts
	}

	return &Queue[P]{
		db:          db,
		adapter:     adapter,
		q:           buildQueries(adapter.Table()),
		backoff:     retry.NewBackoff(retry.JobBackoffConfig()),
		maxAttempts: maxAttempts,
		onClaim:     cfg.OnClaim,
		onComplete:  cfg.OnComplete,
		logger:      logger,
		errLogger:   appErrors.NewLogger(logger),
		newToken:    func() string { return uuid.NewString() },
	}, nil
}

func (q *Queue[P]) Name() string {
	return q.adapter.Name()
}

// Backoff is the delay before a job that has failed attemptCount times runs again
func (q *Queue[P]) Backoff(attemptCount int) time.Duration {
	return q.backoff.Delay(attemptCount)
}

// EncodeDedupeKey is the stored form of a dedupe key
func EncodeDedupeKey(parts []string) (string, error) {
	data, err := json.Marshal(parts)
	if err != nil {
		return "", fmt.Errorf("failed to encode dedupe key: %w", err)
	}
	return string(data), nil
}

// Enqueue creates a pending job, or coalesces into the active job with the
// same dedupe key: the payload is replaced and a pending job's runAfter is
// pulled forward to now if it was later.
func (q *Queue[P]) Enqueue(ctx context.Context, payload P, now time.Time) (*EnqueueResult, error) {
	key, err := EncodeDedupeKey(q.adapter.DedupeKey(payload))
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}

	var result *EnqueueResult
	for attempt := 0; attempt < 2; attempt++ {
		err = q.db.WithTx(ctx, q.Name()+" enqueue", func(tx *database.Tx) error {
			var txErr error
			result, txErr = q.enqueueInTx(ctx, tx, key, string(data), now)
			return txErr
		})
		// Lost an insert race against the active-key unique index; coalesce instead.
		if database.IsUniqueViolation(err) {
			continue
		}
		break
	}
	if err != nil {
		return nil, appErrors.NewDatabaseError(q.Name()+" enqueue", err)
	}

	outcome := "enqueued"
	if result.Deduped {
		outcome = "deduped"
	}
	metrics.IncrementCounter(metrics.QueueEnqueuedTotal, map[string]string{"queue": q.Name(), "result": outcome}, "Jobs enqueued or coalesced")
	q.logger.WithFields(logrus.Fields{
		"queue":  q.Name(),
		"job_id": result.JobID,
		"result": outcome,
	}).Debug("Enqueued job")
	return result, nil
}

func (q *Queue[P]) enqueueInTx(ctx context.Context, tx *database.Tx, key, payload string, now time.Time) (*EnqueueResult, error) {
	var (
		id       string
		status   models.JobStatus
		runAfter int64
	)
	nowMs := database.ToMillis(now)

	err := tx.QueryRow(ctx, q.q.selectActiveByKey+tx.ForUpdate(), key).Scan(&id, &status, &runAfter)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		id = uuid.NewString()
		if _, err := tx.Exec(ctx, q.q.insertJob, id, key, q.maxAttempts, nowMs, payload, nowMs, nowMs); err != nil {
			return nil, fmt.Errorf("failed to insert job: %w", err)
		}
		return &EnqueueResult{Enqueued: true, JobID: id}, nil
	case err != nil:
		return nil, fmt.Errorf("failed to find active job: %w", err)
	}

	if status == models.JobPending {
		if nowMs < runAfter {
			runAfter = nowMs
		}
		_, err = tx.Exec(ctx, q.q.coalescePending, payload, runAfter, nowMs, id)
	} else {
		_, err = tx.Exec(ctx, q.q.coalesceActive, payload, nowMs, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to coalesce job: %w", err)
	}
	return &EnqueueResult{Deduped: true, JobID: id}, nil
}

// ClampLimit bounds a requested claim size to [1, MaxClaimLimit]
func ClampLimit(limit int) int {
	if limit < 1 {
		return constants.DefaultClaimLimit
	}
	if limit > constants.MaxClaimLimit {
		return constants.MaxClaimLimit
	}
	return limit
}

// Claim leases up to limit ready jobs, oldest-ready first. Each lease is a
// conditional update from pending, so concurrent claimers never share a job.
func (q *Queue[P]) Claim(ctx context.Context, limit int, workerID string, now time.Time) ([]*Job[P], error) {
	return q.ClaimWith(ctx, limit, workerID, now, nil)
}

// ClaimWith is Claim with an extra per-call hook, run after the queue's own
// OnClaim for each leased job in the same transaction.
func (q *Queue[P]) ClaimWith(ctx context.Context, limit int, workerID string, now time.Time, hook ClaimHook[P]) ([]*Job[P], error) {
	limit = ClampLimit(limit)
	nowMs := database.ToMillis(now)

	var claimed []*Job[P]
	err := q.db.WithTx(ctx, q.Name()+" claim", func(tx *database.Tx) error {
		claimed = claimed[:0]

		rows, err := tx.Query(ctx, q.q.selectReady+tx.SkipLocked(), nowMs, limit)
		if err != nil {
			return fmt.Errorf("failed to select ready jobs: %w", err)
		}
		var ids []string
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return fmt.Errorf("failed to scan job id: %w", err)
			}
			ids = append(ids, id)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return fmt.Errorf("failed to iterate ready jobs: %w", err)
		}
		rows.Close()

		for _, id := range ids {
			token := q.newToken()
			res, err := tx.Exec(ctx, q.q.claimJob, token, database.NullString(workerID), nowMs, nowMs, nowMs, id)
			if err != nil {
				return fmt.Errorf("failed to lease job: %w", err)
			}
			if n, err := res.RowsAffected(); err != nil {
				return fmt.Errorf("failed to read lease result: %w", err)
			} else if n == 0 {
				continue
			}

			job, err := q.loadJob(ctx, tx, id, "")
			if err != nil {
				return err
			}
			for _, h := range []ClaimHook[P]{q.onClaim, hook} {
				if h == nil {
					continue
				}
				if err := h(ctx, tx, job); err != nil {
					return fmt.Errorf("claim hook failed for job %s: %w", id, err)
				}
			}
			claimed = append(claimed, job)
		}
		return nil
	})
	if err != nil {
		return nil, appErrors.NewDatabaseError(q.Name()+" claim", err)
	}

	if len(claimed) > 0 {
		metrics.AddToCounter(metrics.QueueClaimedTotal, float64(len(claimed)), map[string]string{"queue": q.Name()}, "Jobs leased to workers")
		q.logger.WithFields(logrus.Fields{
			"queue":     q.Name(),
			"worker_id": workerID,
			"count":     len(claimed),
		}).Debug("Claimed jobs")
	}
	return claimed, nil
}

// Complete finishes a leased job. Missing jobs, jobs not in processing and
// stale claim tokens are reported as ignored without touching the row.
func (q *Queue[P]) Complete(ctx context.Context, jobID, claimToken string, outcome Outcome, now time.Time) (*CompleteResult, error) {
	var result *CompleteResult
	err := q.db.WithTx(ctx, q.Name()+" complete", func(tx *database.Tx) error {
		var err error
		result, err = q.completeInTx(ctx, tx, jobID, claimToken, outcome, now)
		return err
	})
	if err != nil {
		return nil, appErrors.NewDatabaseError(q.Name()+" complete", err)
	}

	if result.Ignored {
		metrics.IncrementCounter(metrics.QueueIgnoredTotal, map[string]string{"queue": q.Name(), "reason": result.Reason}, "Completions ignored due to lease conflicts")
		q.errLogger.LogWarn(appErrors.NewClaimConflictError(jobID, result.Reason), "Ignored job completion",
			logrus.Fields{"queue": q.Name()})
		return result, nil
	}

	metrics.IncrementCounter(metrics.QueueCompletedTotal, map[string]string{"queue": q.Name(), "status": string(result.Status)}, "Job completions by resulting status")
	entry := q.logger.WithFields(logrus.Fields{
		"queue":  q.Name(),
		"job_id": jobID,
		"status": result.Status,
	})
	switch result.Status {
	case models.JobFailed:
		q.errLogger.LogError(appErrors.NewTerminalFailure("job attempts exhausted", errors.New(outcome.Error)).
			WithContext("job_id", jobID), "Job failed permanently", logrus.Fields{"queue": q.Name()})
	case models.JobPending:
		entry.WithField("error", outcome.Error).Info("Job failed, scheduled for retry")
	default:
		entry.Debug("Job completed")
	}
	return result, nil
}

func (q *Queue[P]) completeInTx(ctx context.Context, tx *database.Tx, jobID, claimToken string, outcome Outcome, now time.Time) (*CompleteResult, error) {
	job, err := q.loadJob(ctx, tx, jobID, tx.ForUpdate())
	if err != nil {
		return nil, err
	}
	if job == nil {
		return ignored(models.ReasonJobNotFound, ""), nil
	}
	if job.Status != models.JobProcessing {
		return ignored(models.ReasonJobNotProcessing, job.Status), nil
	}
	if claimToken == "" || job.ClaimToken != claimToken {
		return ignored(models.ReasonClaimTokenMismatch, job.Status), nil
	}

	nowMs := database.ToMillis(now)
	var (
		res    sql.Result
		status models.JobStatus
	)
	switch {
	case outcome.Success:
		status = models.JobCompleted
		res, err = tx.Exec(ctx, q.q.completeSuccess, nowMs, jobID, claimToken)
	case job.AttemptCount < job.MaxAttempts:
		status = models.JobPending
		runAfter := now.Add(q.Backoff(job.AttemptCount))
		res, err = tx.Exec(ctx, q.q.completeRetry, database.ToMillis(runAfter), database.NullString(truncateError(outcome.Error)), nowMs, jobID, claimToken)
	default:
		status = models.JobFailed
		res, err = tx.Exec(ctx, q.q.completeFailed, database.NullString(truncateError(outcome.Error)), nowMs, jobID, claimToken)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to complete job: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return nil, fmt.Errorf("failed to read completion result: %w", err)
	} else if n == 0 {
		return ignored(models.ReasonClaimTokenMismatch, job.Status), nil
	}

	if status == models.JobCompleted && q.onComplete != nil {
		job.Status = status
		if err := q.onComplete(ctx, tx, job, outcome, now); err != nil {
			return nil, fmt.Errorf("completion hook failed: %w", err)
		}
	}

	return &CompleteResult{OK: true, Status: status}, nil
}

func ignored(reason string, status models.JobStatus) *CompleteResult {
	return &CompleteResult{OK: false, Ignored: true, Reason: reason, Status: status}
}

func truncateError(msg string) string {
	return appErrors.TruncateMessage(msg, constants.MaxLastErrorLength)
}

// Get returns a job by id, or nil when it does not exist
func (q *Queue[P]) Get(ctx context.Context, jobID string) (*Job[P], error) {
	var job *Job[P]
	err := q.db.WithTx(ctx, q.Name()+" get", func(tx *database.Tx) error {
		var err error
		job, err = q.loadJob(ctx, tx, jobID, "")
		return err
	})
	if err != nil {
		return nil, appErrors.NewDatabaseError(q.Name()+" get", err)
	}
	return job, nil
}

func (q *Queue[P]) loadJob(ctx context.Context, tx *database.Tx, jobID, lock string) (*Job[P], error) {
	rec, err := scanRecord(tx.QueryRow(ctx, q.q.selectByID+lock, jobID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load job: %w", err)
	}
	return decodeJob[P](rec)
}

func scanRecord(row *sql.Row) (*models.JobRecord, error) {
	var (
		rec           models.JobRecord
		runAfter      int64
		createdAt     int64
		updatedAt     int64
		claimToken    sql.NullString
		claimWorkerID sql.NullString
		lastError     sql.NullString
		claimedAt     sql.NullInt64
		lastAttemptAt sql.NullInt64
		payload       string
	)
	err := row.Scan(
		&rec.ID, &rec.DedupeKey, &rec.Status, &rec.AttemptCount, &rec.MaxAttempts, &runAfter,
		&claimToken, &claimWorkerID, &claimedAt, &lastAttemptAt, &lastError,
		&payload, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.RunAfter = database.FromMillis(runAfter)
	rec.CreatedAt = database.FromMillis(createdAt)
	rec.UpdatedAt = database.FromMillis(updatedAt)
	rec.ClaimToken = claimToken.String
	rec.ClaimWorkerID = claimWorkerID.String
	rec.LastError = lastError.String
	rec.ClaimedAt = database.TimePtr(claimedAt)
	rec.LastAttemptAt = database.TimePtr(lastAttemptAt)
	rec.Payload = json.RawMessage(payload)
	return &rec, nil
}

func decodeJob[P any](rec *models.JobRecord) (*Job[P], error) {
	job := &Job[P]{
		ID:            rec.ID,
		Status:        rec.Status,
		AttemptCount:  rec.AttemptCount,
		MaxAttempts:   rec.MaxAttempts,
		RunAfter:      rec.RunAfter,
		ClaimToken:    rec.ClaimToken,
		ClaimWorkerID: rec.ClaimWorkerID,
		ClaimedAt:     rec.ClaimedAt,
		LastAttemptAt: rec.LastAttemptAt,
		LastError:     rec.LastError,
		CreatedAt:     rec.CreatedAt,
		UpdatedAt:     rec.UpdatedAt,
	}
	if err := json.Unmarshal([]byte(rec.DedupeKey), &job.DedupeKey); err != nil {
		return nil, fmt.Errorf("failed to decode dedupe key for job %s: %w", rec.ID, err)
	}
	if err := json.Unmarshal(rec.Payload, &job.Payload); err != nil {
		return nil, fmt.Errorf("failed to decode payload for job %s: %w", rec.ID, err)
	}
	return job, nil
}
