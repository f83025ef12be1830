package repository

import (
	"context"
	"time"

	"dtf-editor-billing/internal/domain/model"
)

// AccountRepository owns the per-user billing summary rows.
//
// Balance mutations are NOT exposed here: they happen only through
// LedgerRepository primitives so every delta leaves a ledger row behind.
type AccountRepository interface {
	Save(ctx context.Context, tx Tx, a *model.Account) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.Account, error)
	FindByStripeCustomerID(ctx context.Context, tx Tx, customerID string) (*model.Account, error)

	// SetStripeIDs stamps customer/subscription identifiers after checkout.
	SetStripeIDs(ctx context.Context, tx Tx, userID string, customerID, subscriptionID *string) error
	// SetSubscriptionState updates status/plan/period columns in one statement.
	SetSubscriptionState(ctx context.Context, tx Tx, userID string, status model.SubscriptionStatus, plan *string, periodStart, periodEnd, canceledAt *time.Time) error
	// SetCreditExpiry moves the rolling pay-as-you-go expiry clock.
	SetCreditExpiry(ctx context.Context, tx Tx, userID string, expiresAt *time.Time) error
	// MarkExpiryWarned records which expiry clock a warning was queued for,
	// so the warning scan never queues twice for the same clock.
	MarkExpiryWarned(ctx context.Context, tx Tx, userID string, warnedFor time.Time) error

	// ListWithExpiringCredits returns accounts whose credit_expires_at falls
	// before the cutoff and whose balance is still positive.
	ListWithExpiringCredits(ctx context.Context, tx Tx, before time.Time, limit int) ([]*model.Account, error)
}
