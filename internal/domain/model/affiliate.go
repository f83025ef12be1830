package model

import (
	"time"

	"github.com/shopspring/decimal"

	"dtf-editor-billing/internal/domain"
)

type AffiliateTier string

const (
	AffiliateTierStandard AffiliateTier = "standard"
	AffiliateTierSilver   AffiliateTier = "silver"
	AffiliateTierGold     AffiliateTier = "gold"
)

// Tier thresholds are trailing 3-month-average MRR in whole dollars.
var (
	silverMRRThreshold = decimal.NewFromInt(500)
	goldMRRThreshold   = decimal.NewFromInt(1500)
)

// TierForMRR derives the commission tier from trailing monthly recurring revenue.
func TierForMRR(mrr3MonthAvg decimal.Decimal) AffiliateTier {
	switch {
	case mrr3MonthAvg.GreaterThanOrEqual(goldMRRThreshold):
		return AffiliateTierGold
	case mrr3MonthAvg.GreaterThanOrEqual(silverMRRThreshold):
		return AffiliateTierSilver
	default:
		return AffiliateTierStandard
	}
}

// RecurringRate is the commission rate applied to subscription payments
// (new and renewal) for this tier.
func (t AffiliateTier) RecurringRate() decimal.Decimal {
	switch t {
	case AffiliateTierGold:
		return decimal.NewFromFloat(0.25)
	case AffiliateTierSilver:
		return decimal.NewFromFloat(0.22)
	default:
		return decimal.NewFromFloat(0.20)
	}
}

// OneTimeRate is the flat rate applied to pay-as-you-go purchases.
func (t AffiliateTier) OneTimeRate() decimal.Decimal {
	return decimal.NewFromFloat(0.10)
}

type AffiliateStatus string

const (
	AffiliateStatusPending   AffiliateStatus = "pending"
	AffiliateStatusApproved  AffiliateStatus = "approved"
	AffiliateStatusRejected  AffiliateStatus = "rejected"
	AffiliateStatusSuspended AffiliateStatus = "suspended"
)

type PaymentMethod string

const (
	PaymentMethodPayPal PaymentMethod = "paypal"
	PaymentMethodCheck  PaymentMethod = "check"
)

type Affiliate struct {
	ID           string // UUID
	UserID       string
	ReferralCode string
	Status       AffiliateStatus
	Tier         AffiliateTier
	// MRRGenerated is lifetime MRR attributed to this affiliate; MRR3MonthAvg
	// is the trailing average that drives tier placement.
	MRRGenerated     decimal.Decimal
	MRR3MonthAvg     decimal.Decimal
	PaymentMethod    PaymentMethod
	PaypalEmail      string
	TaxFormCompleted bool
	TaxFormType      string // W9 | W8BEN
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func NewAffiliate(id, userID, referralCode string) (*Affiliate, error) {
	if id == "" || userID == "" || referralCode == "" {
		return nil, domain.ErrInvalidArgument
	}
	now := time.Now()
	return &Affiliate{
		ID:           id,
		UserID:       userID,
		ReferralCode: referralCode,
		Status:       AffiliateStatusPending,
		Tier:         AffiliateTierStandard,
		MRRGenerated: decimal.Zero,
		MRR3MonthAvg: decimal.Zero,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

type ReferralStatus string

const (
	ReferralStatusSignedUp  ReferralStatus = "signed_up"
	ReferralStatusConverted ReferralStatus = "converted"
	ReferralStatusExpired   ReferralStatus = "expired"
)

// Referral links a signed-up user to the affiliate whose code they used.
// It flips to converted on the user's first successful payment.
type Referral struct {
	ID             string // UUID
	AffiliateID    string
	ReferredUserID string
	Status         ReferralStatus
	SignedUpAt     time.Time
	ConvertedAt    *time.Time
}
