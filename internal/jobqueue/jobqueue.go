// Package jobqueue claims and finalizes rows in the image_ingest_jobs
// table, the durable work list that sits in front of the pipeline
// orchestrator.
package jobqueue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/cardvault/image-worker/internal/database"
	"github.com/cardvault/image-worker/internal/pipeline"
)

// Job is one claimed row of image_ingest_jobs.
type Job struct {
	ID         string         `db:"id"`
	CardID     string         `db:"card_id"`
	SourceURL  string         `db:"source_url"`
	SourceID   sql.NullString `db:"source_id"`
	SourceName sql.NullString `db:"source_name"`
	CardNumber sql.NullString `db:"card_number"`
	SetCode    sql.NullString `db:"set_code"`
	Priority   int            `db:"priority"`
	Attempts   int            `db:"attempts"`
}

// ImageJob adapts the claimed row to the orchestrator's job shape.
func (j Job) ImageJob() pipeline.ImageJob {
	return pipeline.ImageJob{
		CardID:     j.CardID,
		SourceURL:  j.SourceURL,
		SourceID:   j.SourceID.String,
		SourceName: j.SourceName.String,
		CardNumber: j.CardNumber.String,
		SetCode:    j.SetCode.String,
		Priority:   j.Priority,
	}
}

// Queue wraps the durable job table.
type Queue struct {
	db          *database.DB
	maxAttempts int
}

// New builds a Queue with the given per-job retry ceiling.
func New(db *database.DB, maxAttempts int) *Queue {
	return &Queue{db: db, maxAttempts: maxAttempts}
}

// ClaimNext picks the oldest eligible job ordered by priority, then age,
// and atomically marks it processing. The two-step select-then-update
// mirrors the teacher's worker claim pattern and tolerates losing the
// race to another worker: a zero rows-affected update is reported as
// "nothing to claim" rather than an error.
func (q *Queue) ClaimNext(ctx context.Context) (*Job, bool, error) {
	var j Job
	err := q.db.GetContext(ctx, &j, `
		SELECT id, card_id, source_url, source_id, source_name, card_number, set_code, priority, attempts
		FROM image_ingest_jobs
		WHERE status IN ('pending', 'failed')
		  AND attempts < $1
		  AND (next_attempt_at IS NULL OR next_attempt_at <= now())
		ORDER BY priority DESC, created_at ASC
		LIMIT 1
	`, q.maxAttempts)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("select next job: %w", err)
	}

	res, err := q.db.ExecContext(ctx, `
		UPDATE image_ingest_jobs
		SET status = 'processing', attempts = attempts + 1, claimed_at = now()
		WHERE id = $1 AND status IN ('pending', 'failed')
	`, j.ID)
	if err != nil {
		return nil, false, fmt.Errorf("claim job: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("claim job rows affected: %w", err)
	}
	if affected == 0 {
		return nil, false, nil
	}

	j.Attempts++
	return &j, true, nil
}

// MarkSucceeded records a terminal, non-retryable outcome.
func (q *Queue) MarkSucceeded(ctx context.Context, id string, status string) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE image_ingest_jobs SET status = $2, last_error = NULL, completed_at = now()
		WHERE id = $1
	`, id, status)
	if err != nil {
		return fmt.Errorf("mark job %s: %w", status, err)
	}
	return nil
}

// Requeue puts a rate-limited job back to pending immediately, refunding
// the attempt ClaimNext charged it: the job never reached the fetcher, so
// it shouldn't count against its retry budget.
func (q *Queue) Requeue(ctx context.Context, id string, reason string) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE image_ingest_jobs
		SET status = 'pending', attempts = GREATEST(attempts - 1, 0), last_error = $2, next_attempt_at = NULL
		WHERE id = $1
	`, id, reason)
	if err != nil {
		return fmt.Errorf("requeue rate-limited job: %w", err)
	}
	return nil
}

// MarkFailed requeues the job with quadratic backoff if attempts remain,
// otherwise marks it permanently dead. backoffSeconds is attempts^2, the
// same curve the teacher's retry handler uses.
func (q *Queue) MarkFailed(ctx context.Context, id string, attempts int, cause string) error {
	if attempts < q.maxAttempts {
		_, err := q.db.ExecContext(ctx, `
			UPDATE image_ingest_jobs
			SET status = 'failed', last_error = $2, next_attempt_at = now() + ($3 || ' seconds')::interval
			WHERE id = $1
		`, id, cause, attempts*attempts)
		if err != nil {
			return fmt.Errorf("requeue job: %w", err)
		}
		return nil
	}

	_, err := q.db.ExecContext(ctx, `
		UPDATE image_ingest_jobs SET status = 'dead', last_error = $2, completed_at = now()
		WHERE id = $1
	`, id, cause)
	if err != nil {
		return fmt.Errorf("mark job dead: %w", err)
	}
	return nil
}
