package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"dtf-editor-billing/internal/domain/model"
	"dtf-editor-billing/internal/domain/ports/adapter"
	"dtf-editor-billing/internal/domain/ports/repository"
	"dtf-editor-billing/internal/infra/logging"
	"dtf-editor-billing/internal/infra/metrics"
)

// Compile-time check
var _ OutboxUseCase = (*outboxUC)(nil)

// OutboxUseCase drains the side-effect queue: transactional emails, CRM tags
// and affiliate attribution. Failures are retried with backoff and never
// bubble past the worker.
type OutboxUseCase interface {
	// DispatchDue claims up to batch runnable tasks and executes them.
	// Returns the number of tasks claimed.
	DispatchDue(ctx context.Context, batch int) (int, error)
}

type outboxUC struct {
	outbox     repository.OutboxRepository
	accounts   repository.AccountRepository
	mailer     adapter.Mailer
	crm        adapter.CRMService
	affiliates AffiliateUseCase
	logger     *zerolog.Logger

	taskTimeout time.Duration
	maxAttempts int
}

func NewOutboxUseCase(
	outbox repository.OutboxRepository,
	accounts repository.AccountRepository,
	mailer adapter.Mailer,
	crm adapter.CRMService,
	affiliates AffiliateUseCase,
	logger *zerolog.Logger,
	taskTimeout time.Duration,
	maxAttempts int,
) *outboxUC {
	return &outboxUC{
		outbox:      outbox,
		accounts:    accounts,
		mailer:      mailer,
		crm:         crm,
		affiliates:  affiliates,
		logger:      logger,
		taskTimeout: taskTimeout,
		maxAttempts: maxAttempts,
	}
}

func (u *outboxUC) DispatchDue(ctx context.Context, batch int) (int, error) {
	// The visibility window covers a worst-case sequential batch, so a tick
	// firing while this one is still dispatching cannot re-claim its tasks.
	visibility := u.taskTimeout * time.Duration(batch+1)
	tasks, err := u.outbox.ClaimPending(ctx, repository.NoTX, time.Now(), visibility, batch)
	if err != nil {
		return 0, err
	}
	metrics.SetOutboxClaimed(len(tasks))

	for _, t := range tasks {
		u.dispatchOne(ctx, t)
	}
	return len(tasks), nil
}

func (u *outboxUC) dispatchOne(ctx context.Context, t *model.OutboxTask) {
	log := logging.With(logging.WithUserID(ctx, t.UserID), u.logger)

	tctx, cancel := context.WithTimeout(ctx, u.taskTimeout)
	err := u.execute(tctx, t)
	cancel()

	if err != nil {
		metrics.IncOutboxDispatch(string(t.Kind), "error")
		retryAt := time.Now().Add(backoff(t.Attempts))
		if mErr := u.outbox.MarkFailed(ctx, repository.NoTX, t.ID, err.Error(), retryAt, u.maxAttempts); mErr != nil {
			log.Error().Err(mErr).Str("task_id", t.ID).Msg("failed to mark outbox task failed")
		}
		log.Warn().Err(err).Str("task_id", t.ID).Str("kind", string(t.Kind)).
			Int("attempts", t.Attempts).Msg("outbox task failed")
		return
	}

	metrics.IncOutboxDispatch(string(t.Kind), "ok")
	if err := u.outbox.MarkDone(ctx, repository.NoTX, t.ID); err != nil {
		log.Error().Err(err).Str("task_id", t.ID).Msg("failed to mark outbox task done")
	}
}

func (u *outboxUC) execute(ctx context.Context, t *model.OutboxTask) error {
	switch t.Kind {
	case model.OutboxKindAffiliateComm:
		return u.affiliates.Attribute(ctx, t.UserID,
			payloadString(t.Payload, "eventId"),
			model.CommissionKind(payloadString(t.Payload, "kind")),
			payloadInt(t.Payload, "paymentCents"))

	case model.OutboxKindCRMTag:
		acc, err := u.accounts.FindByID(ctx, repository.NoTX, t.UserID)
		if err != nil {
			return err
		}
		return u.crm.TagContact(ctx, acc.Email, payloadStrings(t.Payload, "tags"))

	case model.OutboxKindSubscriptionEmail:
		acc, err := u.accounts.FindByID(ctx, repository.NoTX, t.UserID)
		if err != nil {
			return err
		}
		return u.mailer.SendSubscriptionEmail(ctx, acc.Email, acc.FirstName,
			payloadString(t.Payload, "planName"), payloadInt(t.Payload, "nextBilling"))

	case model.OutboxKindPurchaseEmail:
		acc, err := u.accounts.FindByID(ctx, repository.NoTX, t.UserID)
		if err != nil {
			return err
		}
		return u.mailer.SendPurchaseEmail(ctx, acc.Email, acc.FirstName,
			payloadInt(t.Payload, "amountCents"), payloadInt(t.Payload, "credits"))

	case model.OutboxKindRefundEmail:
		acc, err := u.accounts.FindByID(ctx, repository.NoTX, t.UserID)
		if err != nil {
			return err
		}
		return u.mailer.SendRefundEmail(ctx, acc.Email, acc.FirstName,
			payloadInt(t.Payload, "creditsRemoved"))

	case model.OutboxKindTrialReminderEmail:
		acc, err := u.accounts.FindByID(ctx, repository.NoTX, t.UserID)
		if err != nil {
			return err
		}
		return u.mailer.SendTrialReminderEmail(ctx, acc.Email, acc.FirstName)

	case model.OutboxKindExpiryWarningEmail:
		acc, err := u.accounts.FindByID(ctx, repository.NoTX, t.UserID)
		if err != nil {
			return err
		}
		return u.mailer.SendCreditExpiryWarning(ctx, acc.Email, acc.FirstName,
			payloadInt(t.Payload, "credits"), int(payloadInt(t.Payload, "daysLeft")))

	default:
		return fmt.Errorf("unknown outbox kind %q", t.Kind)
	}
}

func backoff(attempts int) time.Duration {
	d := time.Duration(1<<uint(attempts)) * 30 * time.Second
	if d > 30*time.Minute {
		d = 30 * time.Minute
	}
	return d
}

// Payload values round-trip through JSONB, so numbers surface as float64.

func payloadString(p map[string]interface{}, key string) string {
	s, _ := p[key].(string)
	return s
}

func payloadInt(p map[string]interface{}, key string) int64 {
	switch v := p[key].(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case int:
		return int64(v)
	default:
		return 0
	}
}

func payloadStrings(p map[string]interface{}, key string) []string {
	raw, ok := p[key].([]interface{})
	if !ok {
		// Enqueued in-process the slice may not have round-tripped yet.
		if ss, ok := p[key].([]string); ok {
			return ss
		}
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
