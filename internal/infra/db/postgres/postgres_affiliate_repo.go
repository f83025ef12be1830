package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/shopspring/decimal"

	"dtf-editor-billing/internal/domain"
	"dtf-editor-billing/internal/domain/model"
	"dtf-editor-billing/internal/domain/ports/repository"
)

var _ repository.AffiliateRepository = (*affiliateRepo)(nil)

type affiliateRepo struct{ pool *pgxpool.Pool }

func NewAffiliateRepo(pool *pgxpool.Pool) *affiliateRepo {
	return &affiliateRepo{pool: pool}
}

// Money columns are numeric in the database; they travel as text on the wire
// and are parsed into decimals here to avoid float rounding.
const affiliateColumns = `id, user_id, referral_code, status, tier, mrr_generated::text, mrr_3month_avg::text, payment_method, paypal_email, tax_form_completed, tax_form_type, created_at, updated_at`

func scanAffiliate(row pgx.Row) (*model.Affiliate, error) {
	a := &model.Affiliate{}
	var mrrGen, mrrAvg string
	err := row.Scan(&a.ID, &a.UserID, &a.ReferralCode, &a.Status, &a.Tier,
		&mrrGen, &mrrAvg, &a.PaymentMethod, &a.PaypalEmail,
		&a.TaxFormCompleted, &a.TaxFormType, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	if a.MRRGenerated, err = decimal.NewFromString(mrrGen); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	if a.MRR3MonthAvg, err = decimal.NewFromString(mrrAvg); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return a, nil
}

func (r *affiliateRepo) Save(ctx context.Context, tx repository.Tx, a *model.Affiliate) error {
	const q = `
INSERT INTO affiliates (id, user_id, referral_code, status, tier, mrr_generated, mrr_3month_avg, payment_method, paypal_email, tax_form_completed, tax_form_type, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
ON CONFLICT (id) DO UPDATE SET
  status=$4, tier=$5, payment_method=$8, paypal_email=$9,
  tax_form_completed=$10, tax_form_type=$11, updated_at=NOW();`
	_, err := execSQL(ctx, r.pool, tx, q,
		a.ID, a.UserID, a.ReferralCode, a.Status, a.Tier,
		a.MRRGenerated.String(), a.MRR3MonthAvg.String(),
		a.PaymentMethod, a.PaypalEmail, a.TaxFormCompleted, a.TaxFormType,
		a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return domain.ErrOperationFailed
	}
	return nil
}

func (r *affiliateRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Affiliate, error) {
	row, err := pickRow(ctx, r.pool, tx, `SELECT `+affiliateColumns+` FROM affiliates WHERE id=$1;`, id)
	if err != nil {
		return nil, err
	}
	return scanAffiliate(row)
}

func (r *affiliateRepo) FindByUserID(ctx context.Context, tx repository.Tx, userID string) (*model.Affiliate, error) {
	row, err := pickRow(ctx, r.pool, tx, `SELECT `+affiliateColumns+` FROM affiliates WHERE user_id=$1 LIMIT 1;`, userID)
	if err != nil {
		return nil, err
	}
	return scanAffiliate(row)
}

func (r *affiliateRepo) FindByReferralCode(ctx context.Context, tx repository.Tx, code string) (*model.Affiliate, error) {
	row, err := pickRow(ctx, r.pool, tx, `SELECT `+affiliateColumns+` FROM affiliates WHERE referral_code=$1 LIMIT 1;`, code)
	if err != nil {
		return nil, err
	}
	return scanAffiliate(row)
}

func (r *affiliateRepo) UpdateTierAndMRR(ctx context.Context, tx repository.Tx, id string, tier model.AffiliateTier, mrrGenerated, mrr3MonthAvg decimal.Decimal) error {
	const q = `UPDATE affiliates SET tier=$2, mrr_generated=$3, mrr_3month_avg=$4, updated_at=NOW() WHERE id=$1;`
	tag, err := execSQL(ctx, r.pool, tx, q, id, tier, mrrGenerated.String(), mrr3MonthAvg.String())
	if err != nil {
		return domain.ErrOperationFailed
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *affiliateRepo) SaveReferral(ctx context.Context, tx repository.Tx, ref *model.Referral) error {
	const q = `
INSERT INTO referrals (id, affiliate_id, referred_user_id, status, signed_up_at, converted_at)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (referred_user_id) DO NOTHING;`
	_, err := execSQL(ctx, r.pool, tx, q, ref.ID, ref.AffiliateID, ref.ReferredUserID, ref.Status, ref.SignedUpAt, ref.ConvertedAt)
	if err != nil {
		return domain.ErrOperationFailed
	}
	return nil
}

func (r *affiliateRepo) FindReferralByUser(ctx context.Context, tx repository.Tx, referredUserID string) (*model.Referral, error) {
	const q = `SELECT id, affiliate_id, referred_user_id, status, signed_up_at, converted_at FROM referrals WHERE referred_user_id=$1 LIMIT 1;`
	row, err := pickRow(ctx, r.pool, tx, q, referredUserID)
	if err != nil {
		return nil, err
	}
	ref := &model.Referral{}
	if err := row.Scan(&ref.ID, &ref.AffiliateID, &ref.ReferredUserID, &ref.Status, &ref.SignedUpAt, &ref.ConvertedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	return ref, nil
}

func (r *affiliateRepo) MarkReferralConverted(ctx context.Context, tx repository.Tx, referralID string, at time.Time) error {
	const q = `UPDATE referrals SET status='converted', converted_at=COALESCE(converted_at, $2) WHERE id=$1;`
	_, err := execSQL(ctx, r.pool, tx, q, referralID, at)
	if err != nil {
		return domain.ErrOperationFailed
	}
	return nil
}

func (r *affiliateRepo) ListReferralsByAffiliate(ctx context.Context, tx repository.Tx, affiliateID string) ([]*model.Referral, error) {
	const q = `SELECT id, affiliate_id, referred_user_id, status, signed_up_at, converted_at FROM referrals WHERE affiliate_id=$1 ORDER BY signed_up_at DESC;`
	rows, err := queryRows(ctx, r.pool, tx, q, affiliateID)
	if err != nil {
		return nil, domain.ErrOperationFailed
	}
	defer rows.Close()

	var out []*model.Referral
	for rows.Next() {
		ref := new(model.Referral)
		if err := rows.Scan(&ref.ID, &ref.AffiliateID, &ref.ReferredUserID, &ref.Status, &ref.SignedUpAt, &ref.ConvertedAt); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		out = append(out, ref)
	}
	return out, nil
}
