package model

import (
	"time"

	"dtf-editor-billing/internal/domain"
)

type PlanKind string

const (
	PlanKindSubscription PlanKind = "subscription"
	PlanKindPayAsYouGo   PlanKind = "pay_as_you_go"
)

// Plan is one purchasable offering: either a monthly subscription with a
// credit allotment, or a one-time pay-as-you-go credit pack.
type Plan struct {
	ID            string // short identifier used as subscription_plan/status ("basic", "starter", "payg-20", ...)
	Name          string
	Kind          PlanKind
	Credits       int64  // monthly allotment for subscriptions, pack size for PAYG
	PriceCents    int64  // 0 for the free plan
	StripePriceID string // empty for the free plan
	Active        bool
	CreatedAt     time.Time
}

func (p *Plan) IsZero() bool { return p == nil || p.ID == "" }

func NewPlan(id, name string, kind PlanKind, credits, priceCents int64, stripePriceID string) (*Plan, error) {
	if id == "" || name == "" || credits < 0 || priceCents < 0 {
		return nil, domain.ErrInvalidArgument
	}
	if kind != PlanKindSubscription && kind != PlanKindPayAsYouGo {
		return nil, domain.ErrInvalidArgument
	}
	return &Plan{
		ID:            id,
		Name:          name,
		Kind:          kind,
		Credits:       credits,
		PriceCents:    priceCents,
		StripePriceID: stripePriceID,
		Active:        true,
		CreatedAt:     time.Now(),
	}, nil
}
