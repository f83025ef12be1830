package adapter

import (
	"context"

	"dtf-editor-billing/internal/domain/model"
)

// ProviderSubscription is the slice of the provider's subscription object the
// reconcilers need.
type ProviderSubscription struct {
	ID                 string
	CustomerID         string
	Status             string
	PriceID            string
	CancelAtPeriodEnd  bool
	CurrentPeriodStart int64 // unix seconds
	CurrentPeriodEnd   int64
}

// BillingGateway abstracts the payment provider (Stripe in production).
// VerifyEvent must be handed the exact raw request bytes: the signature
// covers the byte stream, not the decoded JSON.
type BillingGateway interface {
	Name() string
	VerifyEvent(payload []byte, signature string) (*model.BillingEvent, error)
	GetSubscription(ctx context.Context, subscriptionID string) (*ProviderSubscription, error)
	// CancelSubscription cancels immediately; used when a plan-switch race
	// leaves a user attached to two live subscriptions.
	CancelSubscription(ctx context.Context, subscriptionID string) error
}
