package repository

import (
	"context"

	"dtf-editor-billing/internal/domain/model"
)

// LedgerRepository owns the append-only credit ledger and is the only path
// that moves an account's balance. All three primitives append the entry and
// adjust accounts.credits_remaining in the same statement batch, so callers
// get atomicity without read-modify-write at the application layer.
type LedgerRepository interface {
	// Append inserts the entry and applies entry.Amount to the balance.
	// For grant-bearing types with a non-nil EventID the insert is
	// conditional on the (event_id, transaction_type) unique index; a
	// conflicting replay returns domain.ErrDuplicateEvent and leaves the
	// balance untouched.
	Append(ctx context.Context, tx Tx, e *model.LedgerEntry) error

	// AppendConditional deducts -e.Amount only if the balance covers it
	// (single conditional UPDATE). Returns the new balance, or
	// domain.ErrInsufficientCredits without writing anything.
	AppendConditional(ctx context.Context, tx Tx, e *model.LedgerEntry) (int64, error)

	// AppendClamped applies e.Amount with the balance floored at zero and
	// rewrites e.Amount to the delta actually applied before inserting, so
	// the ledger sum stays consistent with the summary. Returns the applied
	// delta and the new balance.
	AppendClamped(ctx context.Context, tx Tx, e *model.LedgerEntry) (applied int64, balance int64, err error)

	ExistsByEventID(ctx context.Context, tx Tx, eventID string, txType model.TransactionType) (bool, error)
	ListByUser(ctx context.Context, tx Tx, userID string, offset, limit int) ([]*model.LedgerEntry, error)
	SumByUser(ctx context.Context, tx Tx, userID string) (int64, error)
}
