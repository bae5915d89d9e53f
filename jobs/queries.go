package jobs

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const jobColumns = `id, type, status, vod_id, payload, result, error, attempts, priority, progress, created_at, started_at, completed_at`

// Get returns a job by ID, or sql.ErrNoRows when it does not exist.
func (q *Queue) Get(ctx context.Context, id string) (*Job, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id=$1`, id)
	return scanJob(row)
}

// ListForVOD returns the most recent jobs attached to a VOD, newest first.
func (q *Queue) ListForVOD(ctx context.Context, vodID string, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := q.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE vod_id=$1 ORDER BY created_at DESC LIMIT $2`, vodID, limit)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()
	var out []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// PendingDepth counts jobs waiting to be claimed.
func (q *Queue) PendingDepth(ctx context.Context) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM jobs WHERE status='pending'`).Scan(&n)
	return n, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	var (
		j         Job
		vodID     sql.NullString
		payload   []byte
		result    []byte
		errMsg    sql.NullString
		started   sql.NullTime
		completed sql.NullTime
	)
	err := row.Scan(&j.ID, (*string)(&j.Type), (*string)(&j.Status), &vodID, &payload, &result,
		&errMsg, &j.Attempts, &j.Priority, &j.Progress, &j.CreatedAt, &started, &completed)
	if err != nil {
		return nil, err
	}
	j.VODID = vodID.String
	j.Payload = payload
	j.Result = result
	j.Error = errMsg.String
	if started.Valid {
		t := started.Time
		j.StartedAt = &t
	}
	if completed.Valid {
		t := completed.Time
		j.CompletedAt = &t
	}
	return &j, nil
}

// WaitTerminal polls until the job reaches a terminal status or the context
// ends. Intended for tests and synchronous callers, not for the hot path.
func (q *Queue) WaitTerminal(ctx context.Context, id string, poll time.Duration) (*Job, error) {
	if poll <= 0 {
		poll = 100 * time.Millisecond
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for {
		j, err := q.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if j.Status.Terminal() {
			return j, nil
		}
		select {
		case <-ctx.Done():
			return j, ctx.Err()
		case <-ticker.C:
		}
	}
}
