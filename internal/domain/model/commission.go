package model

import (
	"time"

	"github.com/shopspring/decimal"

	"dtf-editor-billing/internal/domain"
)

type CommissionStatus string

const (
	CommissionStatusPending  CommissionStatus = "pending"
	CommissionStatusApproved CommissionStatus = "approved"
	CommissionStatusPaid     CommissionStatus = "paid"
	CommissionStatusRejected CommissionStatus = "rejected"
)

type CommissionKind string

const (
	CommissionKindNewSubscription CommissionKind = "new_subscription"
	CommissionKindRenewal         CommissionKind = "renewal"
	CommissionKindOneTime         CommissionKind = "one_time"
)

// Commission is one attributed share of a referred user's payment.
// State machine: pending -> approved -> paid, or pending/approved -> rejected.
// At most one commission exists per (event_id, affiliate_id).
type Commission struct {
	ID             string // UUID
	AffiliateID    string
	ReferredUserID string
	EventID        string // originating provider event id
	Kind           CommissionKind
	PaymentCents   int64           // the referred payment this commission derives from
	Rate           decimal.Decimal // tier rate captured at attribution time
	Amount         decimal.Decimal // dollars
	Status         CommissionStatus
	Month          string  // YYYY-MM bucket for MRR rollups
	PayoutID       *string // back-reference stamped when paid
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func NewCommission(id, affiliateID, referredUserID, eventID string, kind CommissionKind, paymentCents int64, rate decimal.Decimal) (*Commission, error) {
	if id == "" || affiliateID == "" || referredUserID == "" || eventID == "" {
		return nil, domain.ErrInvalidArgument
	}
	if paymentCents <= 0 || rate.LessThanOrEqual(decimal.Zero) {
		return nil, domain.ErrInvalidArgument
	}
	now := time.Now()
	amount := decimal.NewFromInt(paymentCents).Div(decimal.NewFromInt(100)).Mul(rate).Round(2)
	return &Commission{
		ID:             id,
		AffiliateID:    affiliateID,
		ReferredUserID: referredUserID,
		EventID:        eventID,
		Kind:           kind,
		PaymentCents:   paymentCents,
		Rate:           rate,
		Amount:         amount,
		Status:         CommissionStatusPending,
		Month:          now.Format("2006-01"),
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

type PayoutStatus string

const (
	PayoutStatusPending    PayoutStatus = "pending"
	PayoutStatusProcessing PayoutStatus = "processing"
	PayoutStatusCompleted  PayoutStatus = "completed"
	PayoutStatusFailed     PayoutStatus = "failed"
)

// Payout rolls approved commissions for one affiliate into a single payment.
// Created only by the admin endpoint, never by the webhook path.
type Payout struct {
	ID            string // UUID
	AffiliateID   string
	Amount        decimal.Decimal
	Status        PayoutStatus
	PaymentMethod PaymentMethod
	TransactionID *string // external reference once completed
	Notes         string
	CreatedBy     string // admin identity
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
