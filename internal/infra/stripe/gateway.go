// Package stripe adapts the Stripe SDK to the billing gateway port. Webhook
// payloads are decoded from the raw event JSON rather than SDK structs so the
// decode path is pinned to the fields we reconcile, independent of the SDK's
// API-version struct layout.
package stripe

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	stripesdk "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"dtf-editor-billing/internal/config"
	"dtf-editor-billing/internal/domain"
	"dtf-editor-billing/internal/domain/model"
	"dtf-editor-billing/internal/domain/ports/adapter"
)

var _ adapter.BillingGateway = (*Gateway)(nil)

type Gateway struct {
	client        *stripesdk.Client
	webhookSecret string
}

func NewGateway(cfg *config.StripeConfig) *Gateway {
	return &Gateway{
		client:        stripesdk.NewClient(cfg.SecretKey, nil),
		webhookSecret: cfg.WebhookSecret,
	}
}

func (g *Gateway) Name() string { return "stripe" }

// VerifyEvent checks the signature over the raw payload bytes and decodes the
// event into the typed envelope. Events this service does not reconcile decode
// to an envelope with all payload pointers nil; the dispatcher skips them.
func (g *Gateway) VerifyEvent(payload []byte, signature string) (*model.BillingEvent, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, g.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, domain.ErrSignatureInvalid
	}

	be := &model.BillingEvent{
		ID:   event.ID,
		Type: model.EventType(event.Type),
	}

	switch be.Type {
	case model.EventCheckoutSessionCompleted:
		be.Checkout, err = decodeCheckout(event.Data.Raw)
	case model.EventSubscriptionCreated, model.EventSubscriptionUpdated,
		model.EventSubscriptionDeleted, model.EventTrialWillEnd:
		be.Subscription, err = decodeSubscription(event.Data.Raw)
	case model.EventInvoicePaymentSucceeded, model.EventInvoicePaymentFailed:
		be.Invoice, err = decodeInvoice(event.Data.Raw)
	case model.EventPaymentIntentSucceeded, model.EventPaymentIntentFailed:
		be.PaymentIntent, err = decodePaymentIntent(event.Data.Raw)
	case model.EventChargeRefunded:
		be.Refund, err = decodeRefund(event.Data.Raw)
	}
	if err != nil {
		return nil, err
	}
	return be, nil
}

func (g *Gateway) GetSubscription(ctx context.Context, subscriptionID string) (*adapter.ProviderSubscription, error) {
	sub, err := g.client.V1Subscriptions.Retrieve(ctx, subscriptionID, &stripesdk.SubscriptionRetrieveParams{})
	if err != nil {
		return nil, err
	}
	out := &adapter.ProviderSubscription{
		ID:                sub.ID,
		Status:            string(sub.Status),
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
	}
	if sub.Customer != nil {
		out.CustomerID = sub.Customer.ID
	}
	if sub.Items != nil && len(sub.Items.Data) > 0 {
		item := sub.Items.Data[0]
		if item.Price != nil {
			out.PriceID = item.Price.ID
		}
		out.CurrentPeriodStart = item.CurrentPeriodStart
		out.CurrentPeriodEnd = item.CurrentPeriodEnd
	}
	return out, nil
}

func (g *Gateway) CancelSubscription(ctx context.Context, subscriptionID string) error {
	_, err := g.client.V1Subscriptions.Cancel(ctx, subscriptionID, &stripesdk.SubscriptionCancelParams{})
	return err
}

// Wire structs for the handful of payload fields the reconcilers consume.
// Period fields are read from both the pre-Basil top-level location and the
// Basil per-item location, whichever the sending API version populated.

type wireMetadata map[string]string

func (m wireMetadata) userID() string { return m["userId"] }

func (m wireMetadata) credits() int64 {
	raw, ok := m["credits"]
	if !ok {
		return 0
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

type wireSubscription struct {
	ID                 string       `json:"id"`
	Customer           string       `json:"customer"`
	Status             string       `json:"status"`
	CancelAtPeriodEnd  bool         `json:"cancel_at_period_end"`
	CurrentPeriodStart int64        `json:"current_period_start"`
	CurrentPeriodEnd   int64        `json:"current_period_end"`
	Metadata           wireMetadata `json:"metadata"`
	Items              struct {
		Data []struct {
			CurrentPeriodStart int64 `json:"current_period_start"`
			CurrentPeriodEnd   int64 `json:"current_period_end"`
			Price              struct {
				ID string `json:"id"`
			} `json:"price"`
		} `json:"data"`
	} `json:"items"`
}

func decodeSubscription(raw json.RawMessage) (*model.SubscriptionEvent, error) {
	var w wireSubscription
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, domain.ErrInvalidArgument
	}
	ev := &model.SubscriptionEvent{
		SubscriptionID:     w.ID,
		CustomerID:         w.Customer,
		Status:             w.Status,
		CancelAtPeriodEnd:  w.CancelAtPeriodEnd,
		CurrentPeriodStart: time.Unix(w.CurrentPeriodStart, 0).UTC(),
		CurrentPeriodEnd:   time.Unix(w.CurrentPeriodEnd, 0).UTC(),
		UserID:             w.Metadata.userID(),
	}
	if len(w.Items.Data) > 0 {
		item := w.Items.Data[0]
		ev.PriceID = item.Price.ID
		if w.CurrentPeriodStart == 0 && item.CurrentPeriodStart != 0 {
			ev.CurrentPeriodStart = time.Unix(item.CurrentPeriodStart, 0).UTC()
			ev.CurrentPeriodEnd = time.Unix(item.CurrentPeriodEnd, 0).UTC()
		}
	}
	return ev, nil
}

type wireCheckout struct {
	ID            string       `json:"id"`
	Mode          string       `json:"mode"`
	Customer      string       `json:"customer"`
	Subscription  string       `json:"subscription"`
	PaymentIntent string       `json:"payment_intent"`
	AmountTotal   int64        `json:"amount_total"`
	Metadata      wireMetadata `json:"metadata"`
}

func decodeCheckout(raw json.RawMessage) (*model.CheckoutEvent, error) {
	var w wireCheckout
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, domain.ErrInvalidArgument
	}
	return &model.CheckoutEvent{
		SessionID:       w.ID,
		Mode:            model.CheckoutMode(w.Mode),
		CustomerID:      w.Customer,
		SubscriptionID:  w.Subscription,
		PaymentIntentID: w.PaymentIntent,
		AmountTotal:     w.AmountTotal,
		UserID:          w.Metadata.userID(),
		Credits:         w.Metadata.credits(),
	}, nil
}

type wireInvoice struct {
	ID            string `json:"id"`
	Customer      string `json:"customer"`
	Subscription  string `json:"subscription"`
	BillingReason string `json:"billing_reason"`
	AmountPaid    int64  `json:"amount_paid"`
	PeriodStart   int64  `json:"period_start"`
	PeriodEnd     int64  `json:"period_end"`
	Parent        struct {
		SubscriptionDetails struct {
			Subscription string       `json:"subscription"`
			Metadata     wireMetadata `json:"metadata"`
		} `json:"subscription_details"`
	} `json:"parent"`
	SubscriptionDetails struct {
		Metadata wireMetadata `json:"metadata"`
	} `json:"subscription_details"`
}

func decodeInvoice(raw json.RawMessage) (*model.InvoiceEvent, error) {
	var w wireInvoice
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, domain.ErrInvalidArgument
	}
	subID := w.Subscription
	if subID == "" {
		subID = w.Parent.SubscriptionDetails.Subscription
	}
	userID := w.SubscriptionDetails.Metadata.userID()
	if userID == "" {
		userID = w.Parent.SubscriptionDetails.Metadata.userID()
	}
	return &model.InvoiceEvent{
		InvoiceID:      w.ID,
		SubscriptionID: subID,
		CustomerID:     w.Customer,
		BillingReason:  w.BillingReason,
		AmountPaid:     w.AmountPaid,
		PeriodStart:    time.Unix(w.PeriodStart, 0).UTC(),
		PeriodEnd:      time.Unix(w.PeriodEnd, 0).UTC(),
		UserID:         userID,
	}, nil
}

type wirePaymentIntent struct {
	ID             string       `json:"id"`
	Customer       string       `json:"customer"`
	Amount         int64        `json:"amount"`
	AmountReceived int64        `json:"amount_received"`
	Metadata       wireMetadata `json:"metadata"`
}

func decodePaymentIntent(raw json.RawMessage) (*model.PaymentIntentEvent, error) {
	var w wirePaymentIntent
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, domain.ErrInvalidArgument
	}
	amount := w.AmountReceived
	if amount == 0 {
		amount = w.Amount
	}
	return &model.PaymentIntentEvent{
		PaymentIntentID: w.ID,
		CustomerID:      w.Customer,
		AmountCents:     amount,
		UserID:          w.Metadata.userID(),
		Credits:         w.Metadata.credits(),
	}, nil
}

type wireCharge struct {
	ID             string       `json:"id"`
	PaymentIntent  string       `json:"payment_intent"`
	AmountRefunded int64        `json:"amount_refunded"`
	AmountCaptured int64        `json:"amount_captured"`
	Metadata       wireMetadata `json:"metadata"`
}

func decodeRefund(raw json.RawMessage) (*model.ChargeRefundEvent, error) {
	var w wireCharge
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, domain.ErrInvalidArgument
	}
	return &model.ChargeRefundEvent{
		ChargeID:        w.ID,
		PaymentIntentID: w.PaymentIntent,
		AmountRefunded:  w.AmountRefunded,
		AmountCaptured:  w.AmountCaptured,
		UserID:          w.Metadata.userID(),
		OriginalCredits: w.Metadata.credits(),
	}, nil
}
