package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"

	"dtf-editor-billing/internal/domain"
	"dtf-editor-billing/internal/domain/model"
	"dtf-editor-billing/internal/domain/ports/repository"
)

var _ repository.OutboxRepository = (*outboxRepo)(nil)

type outboxRepo struct{ pool *pgxpool.Pool }

func NewOutboxRepo(pool *pgxpool.Pool) *outboxRepo {
	return &outboxRepo{pool: pool}
}

func (r *outboxRepo) Enqueue(ctx context.Context, tx repository.Tx, t *model.OutboxTask) error {
	payload, err := json.Marshal(t.Payload)
	if err != nil {
		return domain.ErrInvalidArgument
	}
	const q = `
INSERT INTO outbox_tasks (id, kind, user_id, payload, status, attempts, last_error, run_after, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10);`
	if _, err := execSQL(ctx, r.pool, tx, q,
		t.ID, t.Kind, t.UserID, payload, t.Status, t.Attempts, t.LastError,
		t.RunAfter, t.CreatedAt, t.UpdatedAt); err != nil {
		return domain.ErrOperationFailed
	}
	return nil
}

// ClaimPending bumps attempts in the same statement that selects, so a task
// crashing mid-dispatch still counts against its retry budget. run_after is
// pushed past the visibility window in the same statement: row locks end when
// the claim commits, and without the push the next tick would re-claim tasks
// a slow batch is still dispatching.
func (r *outboxRepo) ClaimPending(ctx context.Context, tx repository.Tx, now time.Time, visibility time.Duration, limit int) ([]*model.OutboxTask, error) {
	const q = `
WITH claimed AS (
    SELECT id FROM outbox_tasks
    WHERE status = 'pending' AND run_after <= $1
    ORDER BY run_after
    LIMIT $2
    FOR UPDATE SKIP LOCKED
)
UPDATE outbox_tasks t
SET attempts = t.attempts + 1, run_after = $3, updated_at = NOW()
FROM claimed
WHERE t.id = claimed.id
RETURNING t.id, t.kind, t.user_id, t.payload, t.status, t.attempts, t.last_error, t.run_after, t.created_at, t.updated_at;`
	rows, err := queryRows(ctx, r.pool, tx, q, now, limit, now.Add(visibility))
	if err != nil {
		return nil, domain.ErrOperationFailed
	}
	defer rows.Close()

	var out []*model.OutboxTask
	for rows.Next() {
		t := new(model.OutboxTask)
		var payload []byte
		if err := rows.Scan(&t.ID, &t.Kind, &t.UserID, &payload, &t.Status,
			&t.Attempts, &t.LastError, &t.RunAfter, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &t.Payload); err != nil {
				return nil, domain.ErrReadDatabaseRow
			}
		}
		out = append(out, t)
	}
	return out, nil
}

func (r *outboxRepo) MarkDone(ctx context.Context, tx repository.Tx, id string) error {
	const q = `UPDATE outbox_tasks SET status='done', last_error='', updated_at=NOW() WHERE id=$1;`
	tag, err := execSQL(ctx, r.pool, tx, q, id)
	if err != nil {
		return domain.ErrOperationFailed
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *outboxRepo) MarkFailed(ctx context.Context, tx repository.Tx, id string, lastError string, retryAt time.Time, maxAttempts int) error {
	// Tasks that exhausted their budget are parked as failed; the rest go
	// back to pending with a pushed-out run_after.
	const q = `
UPDATE outbox_tasks
SET status = CASE WHEN attempts >= $4 THEN 'failed' ELSE 'pending' END,
    last_error = $2,
    run_after = $3,
    updated_at = NOW()
WHERE id = $1;`
	tag, err := execSQL(ctx, r.pool, tx, q, id, lastError, retryAt, maxAttempts)
	if err != nil {
		return domain.ErrOperationFailed
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
