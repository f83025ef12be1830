package usecase

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"dtf-editor-billing/internal/domain"
	"dtf-editor-billing/internal/domain/model"
	"dtf-editor-billing/internal/domain/ports/adapter"
	"dtf-editor-billing/internal/domain/ports/repository"
	"dtf-editor-billing/internal/infra/logging"
	"dtf-editor-billing/internal/infra/metrics"
)

// Compile-time check
var _ ReconcileUseCase = (*reconcileUC)(nil)

// ReconcileUseCase applies one verified provider event to the ledger and the
// account summary. Every handler is idempotent: replaying a delivered event
// returns domain.ErrDuplicateEvent (or silently no-ops for summary-only
// updates) and never double-applies credits.
type ReconcileUseCase interface {
	HandleEvent(ctx context.Context, ev *model.BillingEvent) error
}

type reconcileUC struct {
	accounts repository.AccountRepository
	ledger   repository.LedgerRepository
	plans    repository.PlanRepository
	outbox   repository.OutboxRepository
	txm      repository.TransactionManager
	gateway  adapter.BillingGateway
	logger   *zerolog.Logger

	paygExpiry time.Duration
}

func NewReconcileUseCase(
	accounts repository.AccountRepository,
	ledger repository.LedgerRepository,
	plans repository.PlanRepository,
	outbox repository.OutboxRepository,
	txm repository.TransactionManager,
	gateway adapter.BillingGateway,
	logger *zerolog.Logger,
	paygExpiryDays int,
) *reconcileUC {
	return &reconcileUC{
		accounts:   accounts,
		ledger:     ledger,
		plans:      plans,
		outbox:     outbox,
		txm:        txm,
		gateway:    gateway,
		logger:     logger,
		paygExpiry: time.Duration(paygExpiryDays) * 24 * time.Hour,
	}
}

func (u *reconcileUC) HandleEvent(ctx context.Context, ev *model.BillingEvent) error {
	ctx = logging.WithEventID(ctx, ev.ID)
	log := logging.With(ctx, u.logger)
	defer logging.TraceDuration(log, "ReconcileUC.HandleEvent")()

	switch ev.Type {
	case model.EventCheckoutSessionCompleted:
		return u.handleCheckout(ctx, ev.ID, ev.Checkout)
	case model.EventSubscriptionCreated, model.EventSubscriptionUpdated:
		return u.handleSubscriptionUpsert(ctx, ev.ID, ev.Subscription)
	case model.EventSubscriptionDeleted:
		return u.handleSubscriptionDeleted(ctx, ev.Subscription)
	case model.EventTrialWillEnd:
		return u.handleTrialWillEnd(ctx, ev.Subscription)
	case model.EventInvoicePaymentSucceeded:
		return u.handleInvoicePaid(ctx, ev.Invoice)
	case model.EventInvoicePaymentFailed:
		return u.handleInvoiceFailed(ctx, ev.Invoice)
	case model.EventPaymentIntentSucceeded:
		return u.handlePaymentIntent(ctx, ev.PaymentIntent)
	case model.EventPaymentIntentFailed:
		log.Warn().Str("payment_intent", ev.PaymentIntent.PaymentIntentID).Msg("payment intent failed")
		return nil
	case model.EventChargeRefunded:
		return u.handleRefund(ctx, ev.Refund)
	default:
		log.Debug().Str("type", string(ev.Type)).Msg("event type not reconciled")
		return nil
	}
}

// resolveAccount maps a provider event to an internal account: metadata
// userId first, then the Stripe customer id. Events that match neither are
// orphaned and must not create accounts or credits.
func (u *reconcileUC) resolveAccount(ctx context.Context, tx repository.Tx, userID, customerID string) (*model.Account, error) {
	if userID != "" {
		acc, err := u.accounts.FindByID(ctx, tx, userID)
		if err == nil {
			return acc, nil
		}
		if err != domain.ErrNotFound {
			return nil, err
		}
	}
	if customerID != "" {
		acc, err := u.accounts.FindByStripeCustomerID(ctx, tx, customerID)
		if err == nil {
			return acc, nil
		}
		if err != domain.ErrNotFound {
			return nil, err
		}
	}
	return nil, domain.ErrUserUnresolved
}

// handleCheckout grants the subscription's initial allotment. Sessions in
// payment mode carry pay-as-you-go purchases, which are granted exclusively
// by the payment_intent.succeeded handler; granting here too would
// double-credit since the two events carry different ids.
func (u *reconcileUC) handleCheckout(ctx context.Context, eventID string, ev *model.CheckoutEvent) error {
	log := logging.With(ctx, u.logger)

	if ev.Mode != model.CheckoutModeSubscription {
		log.Debug().Str("session", ev.SessionID).Msg("payment-mode checkout, deferred to payment intent handler")
		return nil
	}

	sub, err := u.gateway.GetSubscription(ctx, ev.SubscriptionID)
	if err != nil {
		return err
	}
	plan, err := u.plans.FindByStripePriceID(ctx, repository.NoTX, sub.PriceID)
	if err != nil {
		if err == domain.ErrNotFound {
			log.Error().Str("price_id", sub.PriceID).Msg("unmapped price id on checkout")
			return domain.ErrUnknownPriceID
		}
		return err
	}

	var staleSubID string
	err = u.txm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		acc, err := u.resolveAccount(ctx, tx, ev.UserID, ev.CustomerID)
		if err != nil {
			return err
		}
		if acc.StripeSubscriptionID != nil && *acc.StripeSubscriptionID != ev.SubscriptionID {
			staleSubID = *acc.StripeSubscriptionID
		}

		sessionID := ev.SessionID
		entry, err := model.NewLedgerEntry(ulid.Make().String(), acc.ID, plan.Credits,
			model.TransactionTypeSubscription, fmt.Sprintf("%s plan subscription", plan.ID))
		if err != nil {
			return err
		}
		entry.EventID = &sessionID
		entry.Metadata = map[string]interface{}{
			"sessionId":      ev.SessionID,
			"subscriptionId": ev.SubscriptionID,
			"amountTotal":    ev.AmountTotal,
		}
		if err := u.ledger.Append(ctx, tx, entry); err != nil {
			return err
		}

		if err := u.accounts.SetStripeIDs(ctx, tx, acc.ID, strPtr(ev.CustomerID), strPtr(ev.SubscriptionID)); err != nil {
			return err
		}
		start := time.Unix(sub.CurrentPeriodStart, 0).UTC()
		end := time.Unix(sub.CurrentPeriodEnd, 0).UTC()
		planID := plan.ID
		if err := u.accounts.SetSubscriptionState(ctx, tx, acc.ID,
			model.SubscriptionStatus(plan.ID), &planID, &start, &end, nil); err != nil {
			return err
		}

		return u.enqueueAll(ctx, tx, acc.ID,
			task(model.OutboxKindSubscriptionEmail, map[string]interface{}{
				"planName":    plan.ID,
				"nextBilling": sub.CurrentPeriodEnd,
			}),
			task(model.OutboxKindCRMTag, map[string]interface{}{
				"tags": []string{"customer", "plan:" + plan.ID},
			}),
			task(model.OutboxKindAffiliateComm, map[string]interface{}{
				"eventId":      eventID,
				"kind":         string(model.CommissionKindNewSubscription),
				"paymentCents": ev.AmountTotal,
			}),
		)
	})
	if err != nil {
		return err
	}

	metrics.AddCreditsGranted(string(model.TransactionTypeSubscription), plan.Credits)
	log.Info().Str("plan", plan.ID).Int64("credits", plan.Credits).Msg("subscription checkout reconciled")

	// A plan switch that raced checkout leaves the old subscription live;
	// cancel it outside the transaction so a provider hiccup cannot roll
	// back the grant.
	if staleSubID != "" {
		u.cancelStale(ctx, staleSubID)
	}
	return nil
}

// cancelStale cancels a superseded subscription upstream. Runs after the
// reconciling transaction commits. Subscriptions the provider already
// terminated are left alone.
func (u *reconcileUC) cancelStale(ctx context.Context, subID string) {
	log := logging.With(ctx, u.logger)
	sub, err := u.gateway.GetSubscription(ctx, subID)
	if err != nil {
		log.Error().Err(err).Str("subscription", subID).Msg("stale subscription lookup failed")
		return
	}
	if sub.Status != "active" && sub.Status != "trialing" {
		log.Debug().Str("subscription", subID).Str("status", sub.Status).Msg("stale subscription already terminated")
		return
	}
	if err := u.gateway.CancelSubscription(ctx, subID); err != nil {
		log.Error().Err(err).Str("subscription", subID).Msg("failed to cancel stale subscription")
	}
}

// handleSubscriptionUpsert reconciles the account summary with the provider's
// subscription state and grants a prorated top-up on mid-cycle upgrades.
func (u *reconcileUC) handleSubscriptionUpsert(ctx context.Context, eventID string, ev *model.SubscriptionEvent) error {
	log := logging.With(ctx, u.logger)

	var staleSubID string
	err := u.txm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		acc, err := u.resolveAccount(ctx, tx, ev.UserID, ev.CustomerID)
		if err != nil {
			return err
		}

		switch ev.Status {
		case "active", "trialing":
			plan, err := u.plans.FindByStripePriceID(ctx, tx, ev.PriceID)
			if err != nil {
				if err == domain.ErrNotFound {
					return domain.ErrUnknownPriceID
				}
				return err
			}

			if acc.StripeSubscriptionID != nil && *acc.StripeSubscriptionID != ev.SubscriptionID {
				staleSubID = *acc.StripeSubscriptionID
			}

			// Mid-cycle upgrade: top up the difference between the two
			// allotments, scaled by the fraction of the period remaining.
			if acc.SubscriptionPlan != nil && *acc.SubscriptionPlan != plan.ID {
				if err := u.grantUpgradeProration(ctx, tx, acc, plan, eventID, ev); err != nil {
					return err
				}
			}

			// cancel_at_period_end keeps the provider status "active" until
			// the period lapses; the account reads cancelled immediately.
			status := model.SubscriptionStatus(plan.ID)
			var canceledAt *time.Time
			if ev.CancelAtPeriodEnd {
				now := time.Now()
				canceledAt = &now
				status = model.SubscriptionStatusCancelled
			}
			planID := plan.ID
			if err := u.accounts.SetSubscriptionState(ctx, tx, acc.ID,
				status, &planID, &ev.CurrentPeriodStart, &ev.CurrentPeriodEnd, canceledAt); err != nil {
				return err
			}
			if err := u.accounts.SetStripeIDs(ctx, tx, acc.ID, strPtr(ev.CustomerID), strPtr(ev.SubscriptionID)); err != nil {
				return err
			}
			log.Info().Str("plan", plan.ID).Str("status", string(status)).Msg("subscription state reconciled")
			return nil

		case "past_due", "unpaid":
			return u.accounts.SetSubscriptionState(ctx, tx, acc.ID,
				model.SubscriptionStatusPastDue, acc.SubscriptionPlan, nil, nil, nil)

		case "canceled", "incomplete_expired":
			now := time.Now()
			return u.accounts.SetSubscriptionState(ctx, tx, acc.ID,
				model.SubscriptionStatusCancelled, nil, nil, nil, &now)

		default:
			log.Debug().Str("status", ev.Status).Msg("subscription status not reconciled")
			return nil
		}
	})
	if err != nil {
		return err
	}
	if staleSubID != "" {
		u.cancelStale(ctx, staleSubID)
	}
	return nil
}

func (u *reconcileUC) grantUpgradeProration(ctx context.Context, tx repository.Tx, acc *model.Account, newPlan *model.Plan, eventID string, ev *model.SubscriptionEvent) error {
	oldPlan, err := u.plans.FindByID(ctx, tx, *acc.SubscriptionPlan)
	if err != nil {
		if err == domain.ErrNotFound {
			return nil // legacy plan id, nothing to prorate against
		}
		return err
	}
	diff := newPlan.Credits - oldPlan.Credits
	if diff <= 0 {
		return nil // downgrades take effect at renewal, no mid-cycle clawback
	}

	total := ev.CurrentPeriodEnd.Sub(ev.CurrentPeriodStart)
	remaining := time.Until(ev.CurrentPeriodEnd)
	if total <= 0 || remaining <= 0 {
		return nil
	}
	if remaining > total {
		remaining = total
	}
	prorated := int64(math.Round(float64(diff) * (float64(remaining) / float64(total))))
	if prorated <= 0 {
		return nil
	}

	id := eventID
	entry, err := model.NewLedgerEntry(ulid.Make().String(), acc.ID, prorated,
		model.TransactionTypeUpgrade, fmt.Sprintf("upgrade %s to %s", oldPlan.ID, newPlan.ID))
	if err != nil {
		return err
	}
	entry.EventID = &id
	entry.Metadata = map[string]interface{}{
		"fromPlan": oldPlan.ID,
		"toPlan":   newPlan.ID,
	}
	if err := u.ledger.Append(ctx, tx, entry); err != nil {
		if err == domain.ErrDuplicateEvent {
			return nil
		}
		return err
	}
	metrics.AddCreditsGranted(string(model.TransactionTypeUpgrade), prorated)
	return nil
}

func (u *reconcileUC) handleSubscriptionDeleted(ctx context.Context, ev *model.SubscriptionEvent) error {
	log := logging.With(ctx, u.logger)
	return u.txm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		acc, err := u.resolveAccount(ctx, tx, ev.UserID, ev.CustomerID)
		if err != nil {
			return err
		}
		now := time.Now()
		if err := u.accounts.SetSubscriptionState(ctx, tx, acc.ID,
			model.SubscriptionStatusCancelled, nil, nil, nil, &now); err != nil {
			return err
		}
		log.Info().Msg("subscription cancelled")
		return nil
	})
}

func (u *reconcileUC) handleTrialWillEnd(ctx context.Context, ev *model.SubscriptionEvent) error {
	return u.txm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		acc, err := u.resolveAccount(ctx, tx, ev.UserID, ev.CustomerID)
		if err != nil {
			return err
		}
		return u.enqueueAll(ctx, tx, acc.ID, task(model.OutboxKindTrialReminderEmail, nil))
	})
}

// handleInvoicePaid resets the balance to the plan allotment on renewal
// invoices. Unused credits do not roll over; the ledger row records the
// signed delta actually applied, keyed by the invoice id.
func (u *reconcileUC) handleInvoicePaid(ctx context.Context, ev *model.InvoiceEvent) error {
	log := logging.With(ctx, u.logger)

	if ev.BillingReason != "subscription_cycle" {
		// The initial invoice accompanies checkout.session.completed, which
		// owns the first grant.
		log.Debug().Str("billing_reason", ev.BillingReason).Msg("invoice not a renewal, skipped")
		return nil
	}

	var granted int64
	err := u.txm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		acc, err := u.resolveAccount(ctx, tx, ev.UserID, ev.CustomerID)
		if err != nil {
			return err
		}
		if acc.SubscriptionPlan == nil {
			log.Warn().Msg("renewal invoice for account without a plan")
			return nil
		}
		plan, err := u.plans.FindByID(ctx, tx, *acc.SubscriptionPlan)
		if err != nil {
			return err
		}

		delta := plan.Credits - acc.CreditsRemaining
		if delta != 0 {
			invoiceID := ev.InvoiceID
			entry, err := model.NewLedgerEntry(ulid.Make().String(), acc.ID, delta,
				model.TransactionTypeRenewal, fmt.Sprintf("%s plan renewal", plan.ID))
			if err != nil {
				return err
			}
			entry.EventID = &invoiceID
			entry.Metadata = map[string]interface{}{
				"invoiceId":  ev.InvoiceID,
				"amountPaid": ev.AmountPaid,
			}
			if err := u.ledger.Append(ctx, tx, entry); err != nil {
				return err
			}
			granted = delta
		}

		planID := plan.ID
		if err := u.accounts.SetSubscriptionState(ctx, tx, acc.ID,
			model.SubscriptionStatus(plan.ID), &planID, &ev.PeriodStart, &ev.PeriodEnd, nil); err != nil {
			return err
		}

		return u.enqueueAll(ctx, tx, acc.ID,
			task(model.OutboxKindAffiliateComm, map[string]interface{}{
				"eventId":      ev.InvoiceID,
				"kind":         string(model.CommissionKindRenewal),
				"paymentCents": ev.AmountPaid,
			}),
		)
	})
	if err != nil {
		return err
	}

	if granted > 0 {
		metrics.AddCreditsGranted(string(model.TransactionTypeRenewal), granted)
	}
	log.Info().Int64("delta", granted).Msg("renewal reconciled")
	return nil
}

func (u *reconcileUC) handleInvoiceFailed(ctx context.Context, ev *model.InvoiceEvent) error {
	log := logging.With(ctx, u.logger)
	return u.txm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		acc, err := u.resolveAccount(ctx, tx, ev.UserID, ev.CustomerID)
		if err != nil {
			return err
		}
		if err := u.accounts.SetSubscriptionState(ctx, tx, acc.ID,
			model.SubscriptionStatusPastDue, acc.SubscriptionPlan, nil, nil, nil); err != nil {
			return err
		}
		log.Warn().Str("invoice", ev.InvoiceID).Msg("invoice payment failed, account past due")
		return nil
	})
}

// handlePaymentIntent grants pay-as-you-go credits. The credit count comes
// from the intent's metadata; intents without it are not credit purchases.
func (u *reconcileUC) handlePaymentIntent(ctx context.Context, ev *model.PaymentIntentEvent) error {
	log := logging.With(ctx, u.logger)

	if ev.Credits <= 0 {
		log.Debug().Str("payment_intent", ev.PaymentIntentID).Msg("payment intent carries no credits, skipped")
		return nil
	}

	err := u.txm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		acc, err := u.resolveAccount(ctx, tx, ev.UserID, ev.CustomerID)
		if err != nil {
			return err
		}

		intentID := ev.PaymentIntentID
		expiresAt := time.Now().Add(u.paygExpiry)
		entry, err := model.NewLedgerEntry(ulid.Make().String(), acc.ID, ev.Credits,
			model.TransactionTypePurchase, fmt.Sprintf("%d credit purchase", ev.Credits))
		if err != nil {
			return err
		}
		entry.EventID = &intentID
		entry.ExpiresAt = &expiresAt
		entry.Metadata = map[string]interface{}{
			"paymentIntentId": ev.PaymentIntentID,
			"amountCents":     ev.AmountCents,
		}
		if err := u.ledger.Append(ctx, tx, entry); err != nil {
			return err
		}

		// Each purchase resets the rolling expiry clock for the whole balance.
		if err := u.accounts.SetCreditExpiry(ctx, tx, acc.ID, &expiresAt); err != nil {
			return err
		}

		return u.enqueueAll(ctx, tx, acc.ID,
			task(model.OutboxKindPurchaseEmail, map[string]interface{}{
				"amountCents": ev.AmountCents,
				"credits":     ev.Credits,
			}),
			task(model.OutboxKindAffiliateComm, map[string]interface{}{
				"eventId":      ev.PaymentIntentID,
				"kind":         string(model.CommissionKindOneTime),
				"paymentCents": ev.AmountCents,
			}),
		)
	})
	if err != nil {
		return err
	}

	metrics.AddCreditsGranted(string(model.TransactionTypePurchase), ev.Credits)
	log.Info().Int64("credits", ev.Credits).Msg("pay-as-you-go purchase reconciled")
	return nil
}

// handleRefund claws back credits in proportion to the refunded fraction of
// the charge, rounding against the customer and flooring the balance at zero.
func (u *reconcileUC) handleRefund(ctx context.Context, ev *model.ChargeRefundEvent) error {
	log := logging.With(ctx, u.logger)

	if ev.OriginalCredits <= 0 || ev.AmountCaptured <= 0 || ev.AmountRefunded <= 0 {
		log.Warn().Str("charge", ev.ChargeID).Msg("refund without reconstructible credit grant, skipped")
		return nil
	}

	clawback := int64(math.Ceil(float64(ev.OriginalCredits) * float64(ev.AmountRefunded) / float64(ev.AmountCaptured)))
	if clawback > ev.OriginalCredits {
		clawback = ev.OriginalCredits
	}

	var applied int64
	err := u.txm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		acc, err := u.resolveAccount(ctx, tx, ev.UserID, "")
		if err != nil {
			return err
		}

		chargeID := ev.ChargeID
		entry, err := model.NewLedgerEntry(ulid.Make().String(), acc.ID, -clawback,
			model.TransactionTypeRefund, "refund clawback")
		if err != nil {
			return err
		}
		entry.EventID = &chargeID
		entry.Metadata = map[string]interface{}{
			"chargeId":       ev.ChargeID,
			"amountRefunded": ev.AmountRefunded,
			"amountCaptured": ev.AmountCaptured,
		}
		applied, _, err = u.ledger.AppendClamped(ctx, tx, entry)
		if err != nil {
			return err
		}

		return u.enqueueAll(ctx, tx, acc.ID,
			task(model.OutboxKindRefundEmail, map[string]interface{}{
				"creditsRemoved": -applied,
			}),
		)
	})
	if err != nil {
		return err
	}

	metrics.AddCreditsClawedBack(-applied)
	log.Info().Int64("requested", clawback).Int64("applied", -applied).Msg("refund clawback reconciled")
	return nil
}

type outboxSpec struct {
	kind    model.OutboxKind
	payload map[string]interface{}
}

func task(kind model.OutboxKind, payload map[string]interface{}) outboxSpec {
	return outboxSpec{kind: kind, payload: payload}
}

func (u *reconcileUC) enqueueAll(ctx context.Context, tx repository.Tx, userID string, specs ...outboxSpec) error {
	for _, s := range specs {
		t, err := model.NewOutboxTask(ulid.Make().String(), s.kind, userID, s.payload)
		if err != nil {
			return err
		}
		if err := u.outbox.Enqueue(ctx, tx, t); err != nil {
			return err
		}
	}
	return nil
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
