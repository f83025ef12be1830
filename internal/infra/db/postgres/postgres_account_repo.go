package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"dtf-editor-billing/internal/domain"
	"dtf-editor-billing/internal/domain/model"
	"dtf-editor-billing/internal/domain/ports/repository"
)

var _ repository.AccountRepository = (*accountRepo)(nil)

type accountRepo struct{ pool *pgxpool.Pool }

func NewAccountRepo(pool *pgxpool.Pool) *accountRepo {
	return &accountRepo{pool: pool}
}

const accountColumns = `id, email, first_name, is_admin, credits_remaining, subscription_status, subscription_plan, stripe_customer_id, stripe_subscription_id, credit_expires_at, expiry_warned_at, current_period_start, current_period_end, canceled_at, referred_by_affiliate_id, created_at, updated_at`

func scanAccount(row pgx.Row) (*model.Account, error) {
	a := &model.Account{}
	err := row.Scan(
		&a.ID, &a.Email, &a.FirstName, &a.IsAdmin, &a.CreditsRemaining,
		&a.SubscriptionStatus, &a.SubscriptionPlan, &a.StripeCustomerID,
		&a.StripeSubscriptionID, &a.CreditExpiresAt, &a.ExpiryWarnedAt,
		&a.CurrentPeriodStart, &a.CurrentPeriodEnd, &a.CanceledAt,
		&a.ReferredByAffiliate, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	return a, nil
}

func (r *accountRepo) Save(ctx context.Context, tx repository.Tx, a *model.Account) error {
	const q = `
INSERT INTO accounts (` + accountColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
ON CONFLICT (id) DO UPDATE SET
  email=$2, first_name=$3, is_admin=$4,
  subscription_status=$6, subscription_plan=$7, stripe_customer_id=$8,
  stripe_subscription_id=$9, credit_expires_at=$10, expiry_warned_at=$11,
  current_period_start=$12, current_period_end=$13, canceled_at=$14,
  referred_by_affiliate_id=$15, updated_at=NOW();`

	// Note: credits_remaining is deliberately absent from the UPDATE set.
	// Balance moves only through the ledger primitives.
	_, err := execSQL(ctx, r.pool, tx, q,
		a.ID, a.Email, a.FirstName, a.IsAdmin, a.CreditsRemaining,
		a.SubscriptionStatus, a.SubscriptionPlan, a.StripeCustomerID,
		a.StripeSubscriptionID, a.CreditExpiresAt, a.ExpiryWarnedAt,
		a.CurrentPeriodStart, a.CurrentPeriodEnd, a.CanceledAt,
		a.ReferredByAffiliate, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidArgument) || errors.Is(err, domain.ErrInvalidExecContext) {
			return err
		}
		return domain.ErrOperationFailed
	}
	return nil
}

func (r *accountRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Account, error) {
	q := `SELECT ` + accountColumns + ` FROM accounts WHERE id=$1`
	if _, ok := tx.(pgx.Tx); ok {
		q += " FOR UPDATE"
	}
	row, err := pickRow(ctx, r.pool, tx, q, id)
	if err != nil {
		return nil, err
	}
	return scanAccount(row)
}

func (r *accountRepo) FindByStripeCustomerID(ctx context.Context, tx repository.Tx, customerID string) (*model.Account, error) {
	q := `SELECT ` + accountColumns + ` FROM accounts WHERE stripe_customer_id=$1 LIMIT 1`
	if _, ok := tx.(pgx.Tx); ok {
		q += " FOR UPDATE"
	}
	row, err := pickRow(ctx, r.pool, tx, q, customerID)
	if err != nil {
		return nil, err
	}
	return scanAccount(row)
}

func (r *accountRepo) SetStripeIDs(ctx context.Context, tx repository.Tx, userID string, customerID, subscriptionID *string) error {
	const q = `UPDATE accounts SET
  stripe_customer_id=COALESCE($2, stripe_customer_id),
  stripe_subscription_id=COALESCE($3, stripe_subscription_id),
  updated_at=NOW()
WHERE id=$1;`
	tag, err := execSQL(ctx, r.pool, tx, q, userID, customerID, subscriptionID)
	if err != nil {
		return domain.ErrOperationFailed
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *accountRepo) SetSubscriptionState(ctx context.Context, tx repository.Tx, userID string, status model.SubscriptionStatus, plan *string, periodStart, periodEnd, canceledAt *time.Time) error {
	const q = `UPDATE accounts SET
  subscription_status=$2,
  subscription_plan=COALESCE($3, subscription_plan),
  current_period_start=COALESCE($4, current_period_start),
  current_period_end=COALESCE($5, current_period_end),
  canceled_at=COALESCE($6, canceled_at),
  updated_at=NOW()
WHERE id=$1;`
	tag, err := execSQL(ctx, r.pool, tx, q, userID, status, plan, periodStart, periodEnd, canceledAt)
	if err != nil {
		return domain.ErrOperationFailed
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *accountRepo) SetCreditExpiry(ctx context.Context, tx repository.Tx, userID string, expiresAt *time.Time) error {
	const q = `UPDATE accounts SET credit_expires_at=$2, updated_at=NOW() WHERE id=$1;`
	tag, err := execSQL(ctx, r.pool, tx, q, userID, expiresAt)
	if err != nil {
		return domain.ErrOperationFailed
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *accountRepo) MarkExpiryWarned(ctx context.Context, tx repository.Tx, userID string, warnedFor time.Time) error {
	const q = `UPDATE accounts SET expiry_warned_at=$2, updated_at=NOW() WHERE id=$1;`
	tag, err := execSQL(ctx, r.pool, tx, q, userID, warnedFor)
	if err != nil {
		return domain.ErrOperationFailed
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *accountRepo) ListWithExpiringCredits(ctx context.Context, tx repository.Tx, before time.Time, limit int) ([]*model.Account, error) {
	if limit <= 0 {
		limit = 100
	}
	q := `SELECT ` + accountColumns + ` FROM accounts
WHERE credit_expires_at IS NOT NULL AND credit_expires_at < $1 AND credits_remaining > 0
ORDER BY credit_expires_at ASC LIMIT $2;`
	rows, err := queryRows(ctx, r.pool, tx, q, before, limit)
	if err != nil {
		return nil, domain.ErrOperationFailed
	}
	defer rows.Close()

	var out []*model.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}
