package repository

import (
	"context"
	"time"

	"dtf-editor-billing/internal/domain/model"
)

// OutboxRepository persists best-effort side-effect tasks. Enqueue is called
// inside the same transaction as the core mutation (pass the tx handle);
// Claim/Mark are called by the background worker outside any caller tx.
type OutboxRepository interface {
	Enqueue(ctx context.Context, tx Tx, t *model.OutboxTask) error
	// ClaimPending returns up to limit runnable tasks, bumps their attempt
	// counter and pushes run_after past the visibility window, so neither a
	// concurrent worker (FOR UPDATE SKIP LOCKED) nor a later tick can
	// re-claim a task still in flight. MarkDone/MarkFailed settle the final
	// state.
	ClaimPending(ctx context.Context, tx Tx, now time.Time, visibility time.Duration, limit int) ([]*model.OutboxTask, error)
	MarkDone(ctx context.Context, tx Tx, id string) error
	// MarkFailed records the error; the task is retried after backoff until
	// maxAttempts, then parked as failed.
	MarkFailed(ctx context.Context, tx Tx, id string, lastError string, retryAt time.Time, maxAttempts int) error
}
