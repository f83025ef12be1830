package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/shopspring/decimal"

	"dtf-editor-billing/internal/domain"
	"dtf-editor-billing/internal/domain/model"
	"dtf-editor-billing/internal/domain/ports/repository"
)

var _ repository.CommissionRepository = (*commissionRepo)(nil)

type commissionRepo struct{ pool *pgxpool.Pool }

func NewCommissionRepo(pool *pgxpool.Pool) *commissionRepo {
	return &commissionRepo{pool: pool}
}

const commissionColumns = `id, affiliate_id, referred_user_id, event_id, kind, payment_cents, rate::text, amount::text, status, month, payout_id, created_at, updated_at`

func scanCommission(row pgx.Row) (*model.Commission, error) {
	c := &model.Commission{}
	var rate, amount string
	err := row.Scan(&c.ID, &c.AffiliateID, &c.ReferredUserID, &c.EventID, &c.Kind,
		&c.PaymentCents, &rate, &amount, &c.Status, &c.Month, &c.PayoutID,
		&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	if c.Rate, err = decimal.NewFromString(rate); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	if c.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return c, nil
}

func (r *commissionRepo) Insert(ctx context.Context, tx repository.Tx, c *model.Commission) error {
	const q = `
INSERT INTO commissions (id, affiliate_id, referred_user_id, event_id, kind, payment_cents, rate, amount, status, month, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
ON CONFLICT (event_id, affiliate_id) DO NOTHING;`
	tag, err := execSQL(ctx, r.pool, tx, q,
		c.ID, c.AffiliateID, c.ReferredUserID, c.EventID, c.Kind,
		c.PaymentCents, c.Rate.String(), c.Amount.String(), c.Status, c.Month,
		c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return domain.ErrOperationFailed
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrDuplicateEvent
	}
	return nil
}

func (r *commissionRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Commission, error) {
	row, err := pickRow(ctx, r.pool, tx, `SELECT `+commissionColumns+` FROM commissions WHERE id=$1;`, id)
	if err != nil {
		return nil, err
	}
	return scanCommission(row)
}

func (r *commissionRepo) UpdateStatus(ctx context.Context, tx repository.Tx, id string, status model.CommissionStatus) error {
	// Paid rows are terminal. The guard lives in the WHERE clause so a lost
	// race still cannot flip a paid commission back.
	const q = `UPDATE commissions SET status=$2, updated_at=NOW() WHERE id=$1 AND status <> 'paid';`
	tag, err := execSQL(ctx, r.pool, tx, q, id, status)
	if err != nil {
		return domain.ErrOperationFailed
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.FindByID(ctx, tx, id); err != nil {
			return err
		}
		return domain.ErrCommissionFinalized
	}
	return nil
}

func (r *commissionRepo) ListApprovedForPayout(ctx context.Context, tx repository.Tx, affiliateID string) ([]*model.Commission, error) {
	q := `SELECT ` + commissionColumns + ` FROM commissions WHERE affiliate_id=$1 AND status='approved' AND payout_id IS NULL ORDER BY created_at`
	if _, ok := tx.(pgx.Tx); ok {
		q += ` FOR UPDATE`
	}
	return r.list(ctx, tx, q+`;`, affiliateID)
}

func (r *commissionRepo) MarkPaid(ctx context.Context, tx repository.Tx, ids []string, payoutID string) error {
	if len(ids) == 0 {
		return nil
	}
	const q = `UPDATE commissions SET status='paid', payout_id=$2, updated_at=NOW() WHERE id = ANY($1) AND status='approved';`
	tag, err := execSQL(ctx, r.pool, tx, q, ids, payoutID)
	if err != nil {
		return domain.ErrOperationFailed
	}
	if tag.RowsAffected() != int64(len(ids)) {
		return domain.ErrCommissionFinalized
	}
	return nil
}

func (r *commissionRepo) ListByAffiliate(ctx context.Context, tx repository.Tx, affiliateID string, offset, limit int) ([]*model.Commission, error) {
	q := `SELECT ` + commissionColumns + ` FROM commissions WHERE affiliate_id=$1 ORDER BY created_at DESC OFFSET $2 LIMIT $3;`
	return r.list(ctx, tx, q, affiliateID, offset, limit)
}

func (r *commissionRepo) SumRecurringByMonth(ctx context.Context, tx repository.Tx, affiliateID string, months int) (map[string]decimal.Decimal, error) {
	const q = `
SELECT month, COALESCE(SUM(payment_cents), 0)
FROM commissions
WHERE affiliate_id=$1
  AND kind IN ('new_subscription', 'renewal')
  AND status <> 'rejected'
GROUP BY month
ORDER BY month DESC
LIMIT $2;`
	rows, err := queryRows(ctx, r.pool, tx, q, affiliateID, months)
	if err != nil {
		return nil, domain.ErrOperationFailed
	}
	defer rows.Close()

	out := make(map[string]decimal.Decimal, months)
	for rows.Next() {
		var month string
		var cents int64
		if err := rows.Scan(&month, &cents); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		out[month] = decimal.NewFromInt(cents).Div(decimal.NewFromInt(100))
	}
	return out, nil
}

func (r *commissionRepo) list(ctx context.Context, tx repository.Tx, q string, args ...any) ([]*model.Commission, error) {
	rows, err := queryRows(ctx, r.pool, tx, q, args...)
	if err != nil {
		return nil, domain.ErrOperationFailed
	}
	defer rows.Close()

	var out []*model.Commission
	for rows.Next() {
		c, err := scanCommission(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}
