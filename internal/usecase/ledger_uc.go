package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"dtf-editor-billing/internal/domain"
	"dtf-editor-billing/internal/domain/model"
	"dtf-editor-billing/internal/domain/ports/repository"
	"dtf-editor-billing/internal/infra/logging"
	"dtf-editor-billing/internal/infra/metrics"
)

// Compile-time check
var _ LedgerUseCase = (*ledgerUC)(nil)

type LedgerUseCase interface {
	// Deduct removes amount credits for one operation. Admin accounts are
	// never charged: the call succeeds without a ledger row. Returns the
	// balance after the call.
	Deduct(ctx context.Context, userID string, amount int64, operation string) (int64, error)
	// Refund returns amount credits previously deducted for a failed
	// operation. A non-empty sessionID makes the refund idempotent: replays
	// for the same session return the current balance without a second grant.
	Refund(ctx context.Context, userID string, amount int64, operation, sessionID string) (int64, error)
	// Adjust applies a manual admin credit change, positive or negative.
	// Negative adjustments observe the zero floor. Returns the new balance.
	Adjust(ctx context.Context, userID string, amount int64, reason, adminID string) (int64, error)
	Balance(ctx context.Context, userID string) (int64, error)
	History(ctx context.Context, userID string, offset, limit int) ([]*model.LedgerEntry, error)

	// ExpireDueCredits zeroes pay-as-you-go balances whose expiry clock has
	// passed, one ledger row per account. Returns accounts touched.
	ExpireDueCredits(ctx context.Context, now time.Time, batch int) (int, error)
	// EnqueueExpiryWarnings queues a warning email for accounts whose
	// credits expire within the window. Best-effort; the caller runs it at
	// most once per day.
	EnqueueExpiryWarnings(ctx context.Context, now time.Time, warnWindow time.Duration, batch int) (int, error)
}

type ledgerUC struct {
	accounts repository.AccountRepository
	ledger   repository.LedgerRepository
	outbox   repository.OutboxRepository
	txm      repository.TransactionManager
	logger   *zerolog.Logger
}

func NewLedgerUseCase(
	accounts repository.AccountRepository,
	ledger repository.LedgerRepository,
	outbox repository.OutboxRepository,
	txm repository.TransactionManager,
	logger *zerolog.Logger,
) *ledgerUC {
	return &ledgerUC{accounts: accounts, ledger: ledger, outbox: outbox, txm: txm, logger: logger}
}

func (u *ledgerUC) Deduct(ctx context.Context, userID string, amount int64, operation string) (int64, error) {
	log := logging.With(logging.WithUserID(ctx, userID), u.logger)
	if amount <= 0 || operation == "" {
		return 0, domain.ErrInvalidArgument
	}

	var balance int64
	err := u.txm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		acc, err := u.accounts.FindByID(ctx, tx, userID)
		if err != nil {
			return err
		}
		if acc.IsAdmin {
			// Admins bypass deduction; the operation still proceeds.
			balance = acc.CreditsRemaining
			log.Info().Str("operation", operation).Int64("amount", amount).Msg("admin deduction bypass")
			return nil
		}

		entry, err := model.NewLedgerEntry(ulid.Make().String(), userID, -amount, model.TransactionTypeUsage, operation)
		if err != nil {
			return err
		}
		entry.Metadata = map[string]interface{}{"operation": operation}

		balance, err = u.ledger.AppendConditional(ctx, tx, entry)
		return err
	})
	if err != nil {
		if err == domain.ErrInsufficientCredits {
			metrics.IncDeductRejected("insufficient_credits")
		}
		return 0, err
	}

	metrics.AddCreditsDeducted(operation, amount)
	log.Debug().Str("operation", operation).Int64("amount", amount).Int64("balance", balance).Msg("credits deducted")
	return balance, nil
}

func (u *ledgerUC) Refund(ctx context.Context, userID string, amount int64, operation, sessionID string) (int64, error) {
	log := logging.With(logging.WithUserID(ctx, userID), u.logger)
	if amount <= 0 || operation == "" {
		return 0, domain.ErrInvalidArgument
	}

	var balance int64
	err := u.txm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		acc, err := u.accounts.FindByID(ctx, tx, userID)
		if err != nil {
			return err
		}
		if acc.IsAdmin {
			balance = acc.CreditsRemaining
			return nil
		}

		entry, err := model.NewLedgerEntry(ulid.Make().String(), userID, amount, model.TransactionTypeRefund,
			fmt.Sprintf("refund: %s failed", operation))
		if err != nil {
			return err
		}
		entry.Metadata = map[string]interface{}{"operation": operation}
		if sessionID != "" {
			sid := sessionID
			entry.EventID = &sid
			entry.Metadata["sessionId"] = sessionID
		}

		if err := u.ledger.Append(ctx, tx, entry); err != nil {
			if err == domain.ErrDuplicateEvent {
				// Optimistic-deduct flows retry refunds; the session was
				// already made whole.
				balance = acc.CreditsRemaining
				log.Debug().Str("session_id", sessionID).Msg("refund replay absorbed")
				return nil
			}
			return err
		}
		balance = acc.CreditsRemaining + amount
		return nil
	})
	if err != nil {
		return 0, err
	}

	log.Debug().Str("operation", operation).Int64("amount", amount).Msg("credits refunded")
	return balance, nil
}

func (u *ledgerUC) Adjust(ctx context.Context, userID string, amount int64, reason, adminID string) (int64, error) {
	log := logging.With(logging.WithUserID(ctx, userID), u.logger)
	if amount == 0 || reason == "" {
		return 0, domain.ErrInvalidArgument
	}

	var balance int64
	err := u.txm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		acc, err := u.accounts.FindByID(ctx, tx, userID)
		if err != nil {
			return err
		}

		entry, err := model.NewLedgerEntry(ulid.Make().String(), userID, amount, model.TransactionTypeAdjustment, reason)
		if err != nil {
			return err
		}
		entry.Metadata = map[string]interface{}{"adjustedBy": adminID}

		if amount < 0 {
			balance, err = u.ledger.AppendConditional(ctx, tx, entry)
			return err
		}
		if err := u.ledger.Append(ctx, tx, entry); err != nil {
			return err
		}
		balance = acc.CreditsRemaining + amount
		return nil
	})
	if err != nil {
		return 0, err
	}

	log.Info().Int64("amount", amount).Str("reason", reason).Str("admin", adminID).Msg("manual credit adjustment")
	return balance, nil
}

func (u *ledgerUC) Balance(ctx context.Context, userID string) (int64, error) {
	acc, err := u.accounts.FindByID(ctx, repository.NoTX, userID)
	if err != nil {
		return 0, err
	}
	return acc.CreditsRemaining, nil
}

func (u *ledgerUC) History(ctx context.Context, userID string, offset, limit int) ([]*model.LedgerEntry, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return u.ledger.ListByUser(ctx, repository.NoTX, userID, offset, limit)
}

func (u *ledgerUC) ExpireDueCredits(ctx context.Context, now time.Time, batch int) (int, error) {
	expired := 0
	err := u.txm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		due, err := u.accounts.ListWithExpiringCredits(ctx, tx, now, batch)
		if err != nil {
			return err
		}
		for _, acc := range due {
			if acc.CreditsRemaining <= 0 {
				if err := u.accounts.SetCreditExpiry(ctx, tx, acc.ID, nil); err != nil {
					return err
				}
				continue
			}
			entry, err := model.NewLedgerEntry(ulid.Make().String(), acc.ID, -acc.CreditsRemaining,
				model.TransactionTypeExpiry, "pay-as-you-go credits expired")
			if err != nil {
				return err
			}
			if err := u.ledger.Append(ctx, tx, entry); err != nil {
				return err
			}
			if err := u.accounts.SetCreditExpiry(ctx, tx, acc.ID, nil); err != nil {
				return err
			}
			metrics.AddCreditsExpired(acc.CreditsRemaining)
			expired++
			logging.With(logging.WithUserID(ctx, acc.ID), u.logger).Info().
				Int64("credits", acc.CreditsRemaining).Msg("expired pay-as-you-go credits")
		}
		return nil
	})
	return expired, err
}

func (u *ledgerUC) EnqueueExpiryWarnings(ctx context.Context, now time.Time, warnWindow time.Duration, batch int) (int, error) {
	warned := 0
	err := u.txm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		soon, err := u.accounts.ListWithExpiringCredits(ctx, tx, now.Add(warnWindow), batch)
		if err != nil {
			return err
		}
		for _, acc := range soon {
			if acc.CreditExpiresAt == nil || !acc.CreditExpiresAt.After(now) {
				continue // already due, the expiry pass owns it
			}
			if acc.ExpiryWarnedAt != nil && acc.ExpiryWarnedAt.Equal(*acc.CreditExpiresAt) {
				continue // this clock was already warned; a new purchase resets it
			}
			daysLeft := int(acc.CreditExpiresAt.Sub(now).Hours() / 24)
			task, err := model.NewOutboxTask(ulid.Make().String(), model.OutboxKindExpiryWarningEmail, acc.ID, map[string]interface{}{
				"credits":  acc.CreditsRemaining,
				"daysLeft": daysLeft,
			})
			if err != nil {
				return err
			}
			if err := u.outbox.Enqueue(ctx, tx, task); err != nil {
				return err
			}
			if err := u.accounts.MarkExpiryWarned(ctx, tx, acc.ID, *acc.CreditExpiresAt); err != nil {
				return err
			}
			warned++
		}
		return nil
	})
	return warned, err
}
