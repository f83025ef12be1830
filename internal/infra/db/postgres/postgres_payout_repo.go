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

var _ repository.PayoutRepository = (*payoutRepo)(nil)

type payoutRepo struct{ pool *pgxpool.Pool }

func NewPayoutRepo(pool *pgxpool.Pool) *payoutRepo {
	return &payoutRepo{pool: pool}
}

const payoutColumns = `id, affiliate_id, amount::text, status, payment_method, transaction_id, notes, created_by, created_at, updated_at`

func scanPayout(row pgx.Row) (*model.Payout, error) {
	p := &model.Payout{}
	var amount string
	err := row.Scan(&p.ID, &p.AffiliateID, &amount, &p.Status, &p.PaymentMethod,
		&p.TransactionID, &p.Notes, &p.CreatedBy, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	if p.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return p, nil
}

func (r *payoutRepo) Insert(ctx context.Context, tx repository.Tx, p *model.Payout) error {
	const q = `
INSERT INTO payouts (id, affiliate_id, amount, status, payment_method, transaction_id, notes, created_by, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10);`
	_, err := execSQL(ctx, r.pool, tx, q,
		p.ID, p.AffiliateID, p.Amount.String(), p.Status, p.PaymentMethod,
		p.TransactionID, p.Notes, p.CreatedBy, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return domain.ErrOperationFailed
	}
	return nil
}

func (r *payoutRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Payout, error) {
	row, err := pickRow(ctx, r.pool, tx, `SELECT `+payoutColumns+` FROM payouts WHERE id=$1;`, id)
	if err != nil {
		return nil, err
	}
	return scanPayout(row)
}

func (r *payoutRepo) UpdateStatus(ctx context.Context, tx repository.Tx, id string, status model.PayoutStatus, transactionID *string) error {
	const q = `UPDATE payouts SET status=$2, transaction_id=COALESCE($3, transaction_id), updated_at=NOW() WHERE id=$1;`
	tag, err := execSQL(ctx, r.pool, tx, q, id, status, transactionID)
	if err != nil {
		return domain.ErrOperationFailed
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *payoutRepo) ListAll(ctx context.Context, tx repository.Tx) ([]*model.Payout, error) {
	rows, err := queryRows(ctx, r.pool, tx, `SELECT `+payoutColumns+` FROM payouts ORDER BY created_at DESC;`)
	if err != nil {
		return nil, domain.ErrOperationFailed
	}
	defer rows.Close()

	var out []*model.Payout
	for rows.Next() {
		p, err := scanPayout(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}
