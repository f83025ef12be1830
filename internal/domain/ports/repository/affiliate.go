package repository

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"dtf-editor-billing/internal/domain/model"
)

type AffiliateRepository interface {
	Save(ctx context.Context, tx Tx, a *model.Affiliate) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.Affiliate, error)
	FindByUserID(ctx context.Context, tx Tx, userID string) (*model.Affiliate, error)
	FindByReferralCode(ctx context.Context, tx Tx, code string) (*model.Affiliate, error)
	// UpdateTierAndMRR applies a recomputed tier and MRR figures atomically.
	UpdateTierAndMRR(ctx context.Context, tx Tx, id string, tier model.AffiliateTier, mrrGenerated, mrr3MonthAvg decimal.Decimal) error

	SaveReferral(ctx context.Context, tx Tx, r *model.Referral) error
	FindReferralByUser(ctx context.Context, tx Tx, referredUserID string) (*model.Referral, error)
	MarkReferralConverted(ctx context.Context, tx Tx, referralID string, at time.Time) error
	ListReferralsByAffiliate(ctx context.Context, tx Tx, affiliateID string) ([]*model.Referral, error)
}

type CommissionRepository interface {
	// Insert is conditional on the (event_id, affiliate_id) unique index;
	// a replay returns domain.ErrDuplicateEvent.
	Insert(ctx context.Context, tx Tx, c *model.Commission) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.Commission, error)
	// UpdateStatus moves pending->approved / pending|approved->rejected; it
	// refuses to touch paid rows (domain.ErrCommissionFinalized).
	UpdateStatus(ctx context.Context, tx Tx, id string, status model.CommissionStatus) error
	// ListApprovedForPayout locks and returns all approved, unpaid
	// commissions for one affiliate.
	ListApprovedForPayout(ctx context.Context, tx Tx, affiliateID string) ([]*model.Commission, error)
	// MarkPaid flips the given commissions to paid and stamps payout_id.
	MarkPaid(ctx context.Context, tx Tx, ids []string, payoutID string) error
	ListByAffiliate(ctx context.Context, tx Tx, affiliateID string, offset, limit int) ([]*model.Commission, error)
	// SumRecurringByMonth returns attributed recurring revenue (dollars) per
	// YYYY-MM month bucket for the trailing window, newest first.
	SumRecurringByMonth(ctx context.Context, tx Tx, affiliateID string, months int) (map[string]decimal.Decimal, error)
}

type PayoutRepository interface {
	Insert(ctx context.Context, tx Tx, p *model.Payout) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.Payout, error)
	UpdateStatus(ctx context.Context, tx Tx, id string, status model.PayoutStatus, transactionID *string) error
	ListAll(ctx context.Context, tx Tx) ([]*model.Payout, error)
}
