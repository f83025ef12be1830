package model

import "time"

// EventType enumerates the provider webhook events this service reconciles.
// Values match Stripe's wire names so routing stays greppable against the
// provider dashboard.
type EventType string

const (
	EventCheckoutSessionCompleted EventType = "checkout.session.completed"
	EventSubscriptionCreated      EventType = "customer.subscription.created"
	EventSubscriptionUpdated      EventType = "customer.subscription.updated"
	EventSubscriptionDeleted      EventType = "customer.subscription.deleted"
	EventTrialWillEnd             EventType = "customer.subscription.trial_will_end"
	EventInvoicePaymentSucceeded  EventType = "invoice.payment_succeeded"
	EventInvoicePaymentFailed     EventType = "invoice.payment_failed"
	EventPaymentIntentSucceeded   EventType = "payment_intent.succeeded"
	EventPaymentIntentFailed      EventType = "payment_intent.payment_failed"
	EventChargeRefunded           EventType = "charge.refunded"
)

// BillingEvent is the typed envelope decoded and validated at the gateway
// boundary. Exactly one payload pointer is non-nil, matching Type; the
// reconcilers never see provider SDK types or raw metadata bags.
type BillingEvent struct {
	ID   string
	Type EventType

	Subscription  *SubscriptionEvent
	Checkout      *CheckoutEvent
	Invoice       *InvoiceEvent
	PaymentIntent *PaymentIntentEvent
	Refund        *ChargeRefundEvent
}

// SubscriptionEvent covers customer.subscription.* payloads.
type SubscriptionEvent struct {
	SubscriptionID     string
	CustomerID         string
	Status             string // provider status: active, trialing, canceled, ...
	PriceID            string
	CancelAtPeriodEnd  bool
	CurrentPeriodStart time.Time
	CurrentPeriodEnd   time.Time
	UserID             string // from metadata.userId, may be empty
}

type CheckoutMode string

const (
	CheckoutModeSubscription CheckoutMode = "subscription"
	CheckoutModePayment      CheckoutMode = "payment"
)

// CheckoutEvent covers checkout.session.completed payloads.
type CheckoutEvent struct {
	SessionID       string
	Mode            CheckoutMode
	CustomerID      string
	SubscriptionID  string // set in subscription mode
	PaymentIntentID string // set in payment mode
	AmountTotal     int64  // cents
	UserID          string
	Credits         int64 // metadata.credits for PAYG sessions
}

// InvoiceEvent covers invoice.payment_succeeded / invoice.payment_failed.
type InvoiceEvent struct {
	InvoiceID      string
	SubscriptionID string
	CustomerID     string
	BillingReason  string // subscription_cycle on renewals
	AmountPaid     int64  // cents
	PeriodStart    time.Time
	PeriodEnd      time.Time
	UserID         string
}

// PaymentIntentEvent covers payment_intent.succeeded / payment_failed.
type PaymentIntentEvent struct {
	PaymentIntentID string
	CustomerID      string
	AmountCents     int64
	UserID          string
	Credits         int64 // metadata.credits; zero when the intent is not a PAYG purchase
}

// ChargeRefundEvent covers charge.refunded.
type ChargeRefundEvent struct {
	ChargeID        string
	PaymentIntentID string
	AmountRefunded  int64 // cents
	AmountCaptured  int64 // cents, the original charge total
	UserID          string
	OriginalCredits int64 // metadata.credits recorded on the original grant
}
