package adapter

import "context"

// Mailer sends transactional email through the delivery provider. All calls
// are best-effort: callers bound them with short timeouts and swallow errors.
type Mailer interface {
	SendSubscriptionEmail(ctx context.Context, email, firstName, planName string, nextBillingUnix int64) error
	SendPurchaseEmail(ctx context.Context, email, firstName string, amountCents, credits int64) error
	SendRefundEmail(ctx context.Context, email, firstName string, creditsRemoved int64) error
	SendTrialReminderEmail(ctx context.Context, email, firstName string) error
	SendCreditExpiryWarning(ctx context.Context, email, firstName string, credits int64, daysLeft int) error
}

// CRMService tags contacts in the external CRM (GoHighLevel in production).
type CRMService interface {
	TagContact(ctx context.Context, email string, tags []string) error
}
