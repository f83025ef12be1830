package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"dtf-editor-billing/internal/domain"
	"dtf-editor-billing/internal/domain/model"
	"dtf-editor-billing/internal/domain/ports/repository"
)

var _ repository.LedgerRepository = (*ledgerRepo)(nil)

type ledgerRepo struct{ pool *pgxpool.Pool }

func NewLedgerRepo(pool *pgxpool.Pool) *ledgerRepo {
	return &ledgerRepo{pool: pool}
}

const ledgerColumns = `id, user_id, amount, transaction_type, description, event_id, expires_at, metadata, created_at`

// Append inserts the entry and applies its amount to the account balance in
// one statement. The partial unique index on (event_id, transaction_type)
// makes replays insert nothing, so the balance update (driven by the CTE)
// applies exactly once per provider event.
func (r *ledgerRepo) Append(ctx context.Context, tx repository.Tx, e *model.LedgerEntry) error {
	const q = `
WITH ins AS (
  INSERT INTO ledger_entries (` + ledgerColumns + `)
  VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
  ON CONFLICT (event_id, transaction_type) WHERE event_id IS NOT NULL DO NOTHING
  RETURNING user_id, amount
)
UPDATE accounts a
   SET credits_remaining = a.credits_remaining + i.amount, updated_at = NOW()
  FROM ins i
 WHERE a.id = i.user_id;`

	tag, err := execSQL(ctx, r.pool, tx, q,
		e.ID, e.UserID, e.Amount, e.Type, e.Description, e.EventID, e.ExpiresAt, e.Metadata, e.CreatedAt)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidArgument) || errors.Is(err, domain.ErrInvalidExecContext) {
			return err
		}
		return domain.ErrOperationFailed
	}
	// The user_id foreign key means a missing account fails the statement
	// outright, so zero affected rows can only be a replayed event.
	if tag.RowsAffected() == 0 {
		return domain.ErrDuplicateEvent
	}
	return nil
}

// AppendConditional deducts only when the balance covers the amount: a single
// conditional UPDATE, no application-level read-modify-write.
func (r *ledgerRepo) AppendConditional(ctx context.Context, tx repository.Tx, e *model.LedgerEntry) (int64, error) {
	const q = `
WITH upd AS (
  UPDATE accounts
     SET credits_remaining = credits_remaining + $3, updated_at = NOW()
   WHERE id = $2 AND credits_remaining + $3 >= 0
  RETURNING credits_remaining
), ins AS (
  INSERT INTO ledger_entries (` + ledgerColumns + `)
  SELECT $1, $2, $3, $4, $5, $6, $7, $8, $9 FROM upd
  RETURNING id
)
SELECT credits_remaining FROM upd;`

	row, err := pickRow(ctx, r.pool, tx, q,
		e.ID, e.UserID, e.Amount, e.Type, e.Description, e.EventID, e.ExpiresAt, e.Metadata, e.CreatedAt)
	if err != nil {
		return 0, err
	}
	var balance int64
	if err := row.Scan(&balance); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			if exists, exErr := r.accountExists(ctx, tx, e.UserID); exErr == nil && !exists {
				return 0, domain.ErrNotFound
			}
			return 0, domain.ErrInsufficientCredits
		}
		return 0, domain.ErrReadDatabaseRow
	}
	return balance, nil
}

// AppendClamped applies the amount with the balance floored at zero and
// records the delta actually applied. The FOR UPDATE lock on the account row
// serializes concurrent clawbacks for the same user, so the duplicate check
// inside the statement cannot race with itself.
func (r *ledgerRepo) AppendClamped(ctx context.Context, tx repository.Tx, e *model.LedgerEntry) (int64, int64, error) {
	const q = `
WITH prev AS (
  SELECT credits_remaining FROM accounts WHERE id = $2 FOR UPDATE
), dup AS (
  SELECT 1 FROM ledger_entries WHERE event_id = $6 AND $6 IS NOT NULL AND transaction_type = $4
), upd AS (
  UPDATE accounts
     SET credits_remaining = GREATEST(0, credits_remaining + $3), updated_at = NOW()
   WHERE id = $2 AND NOT EXISTS (SELECT 1 FROM dup)
  RETURNING credits_remaining
), ins AS (
  INSERT INTO ledger_entries (` + ledgerColumns + `)
  SELECT $1, $2, upd.credits_remaining - prev.credits_remaining, $4, $5, $6, $7, $8, $9
    FROM prev, upd
   WHERE upd.credits_remaining <> prev.credits_remaining
  RETURNING id
)
SELECT prev.credits_remaining,
       COALESCE(upd.credits_remaining, prev.credits_remaining),
       EXISTS (SELECT 1 FROM dup)
  FROM prev LEFT JOIN upd ON TRUE;`

	row, err := pickRow(ctx, r.pool, tx, q,
		e.ID, e.UserID, e.Amount, e.Type, e.Description, e.EventID, e.ExpiresAt, e.Metadata, e.CreatedAt)
	if err != nil {
		return 0, 0, err
	}
	var before, after int64
	var dup bool
	if err := row.Scan(&before, &after, &dup); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, 0, domain.ErrNotFound
		}
		return 0, 0, domain.ErrReadDatabaseRow
	}
	if dup {
		return 0, after, domain.ErrDuplicateEvent
	}
	return after - before, after, nil
}

func (r *ledgerRepo) ExistsByEventID(ctx context.Context, tx repository.Tx, eventID string, txType model.TransactionType) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM ledger_entries WHERE event_id=$1 AND transaction_type=$2);`
	row, err := pickRow(ctx, r.pool, tx, q, eventID, txType)
	if err != nil {
		return false, err
	}
	var exists bool
	if err := row.Scan(&exists); err != nil {
		return false, domain.ErrReadDatabaseRow
	}
	return exists, nil
}

func (r *ledgerRepo) ListByUser(ctx context.Context, tx repository.Tx, userID string, offset, limit int) ([]*model.LedgerEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	const q = `SELECT ` + ledgerColumns + ` FROM ledger_entries WHERE user_id=$1 ORDER BY id DESC OFFSET $2 LIMIT $3;`
	rows, err := queryRows(ctx, r.pool, tx, q, userID, offset, limit)
	if err != nil {
		return nil, domain.ErrOperationFailed
	}
	defer rows.Close()

	var out []*model.LedgerEntry
	for rows.Next() {
		e := new(model.LedgerEntry)
		if err := rows.Scan(&e.ID, &e.UserID, &e.Amount, &e.Type, &e.Description, &e.EventID, &e.ExpiresAt, &e.Metadata, &e.CreatedAt); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		out = append(out, e)
	}
	return out, nil
}

func (r *ledgerRepo) SumByUser(ctx context.Context, tx repository.Tx, userID string) (int64, error) {
	const q = `SELECT COALESCE(SUM(amount),0) FROM ledger_entries WHERE user_id=$1;`
	row, err := pickRow(ctx, r.pool, tx, q, userID)
	if err != nil {
		return 0, err
	}
	var sum int64
	if err := row.Scan(&sum); err != nil {
		return 0, domain.ErrReadDatabaseRow
	}
	return sum, nil
}

func (r *ledgerRepo) accountExists(ctx context.Context, tx repository.Tx, userID string) (bool, error) {
	row, err := pickRow(ctx, r.pool, tx, `SELECT EXISTS (SELECT 1 FROM accounts WHERE id=$1);`, userID)
	if err != nil {
		return false, err
	}
	var exists bool
	if err := row.Scan(&exists); err != nil {
		return false, domain.ErrReadDatabaseRow
	}
	return exists, nil
}
