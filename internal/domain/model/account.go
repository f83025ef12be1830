package model

import (
	"time"

	"dtf-editor-billing/internal/domain"
)

type SubscriptionStatus string

const (
	SubscriptionStatusFree      SubscriptionStatus = "free"
	SubscriptionStatusPastDue   SubscriptionStatus = "past_due"
	SubscriptionStatusCancelled SubscriptionStatus = "cancelled"
)

// Account is the mutable per-user billing summary. credits_remaining is never
// written directly by callers; every change flows through a ledger append so
// the balance stays reconstructible by summing ledger entries.
type Account struct {
	ID                   string // internal user ID (issued by the auth provider)
	Email                string
	FirstName            string
	IsAdmin              bool
	CreditsRemaining     int64
	SubscriptionStatus   SubscriptionStatus // free, a plan id, past_due, or cancelled
	SubscriptionPlan     *string            // plan id, nil for free accounts
	StripeCustomerID     *string
	StripeSubscriptionID *string
	CreditExpiresAt      *time.Time // set only by pay-as-you-go purchases; last purchase resets the clock
	ExpiryWarnedAt       *time.Time // the expiry clock a warning email was queued for; one warning per clock
	CurrentPeriodStart   *time.Time
	CurrentPeriodEnd     *time.Time
	CanceledAt           *time.Time
	ReferredByAffiliate  *string // affiliate ID recorded at signup, drives commission attribution
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// PlanStatus reports whether the summary status names an active paid plan
// (the original system stores the plan id itself as the status while active).
func (a *Account) OnPaidPlan() bool {
	switch a.SubscriptionStatus {
	case SubscriptionStatusFree, SubscriptionStatusPastDue, SubscriptionStatusCancelled, "":
		return false
	default:
		return true
	}
}

func NewAccount(id, email string) (*Account, error) {
	if id == "" || email == "" {
		return nil, domain.ErrInvalidArgument
	}
	now := time.Now()
	return &Account{
		ID:                 id,
		Email:              email,
		SubscriptionStatus: SubscriptionStatusFree,
		CreatedAt:          now,
		UpdatedAt:          now,
	}, nil
}
