package usecase

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"dtf-editor-billing/internal/domain"
	"dtf-editor-billing/internal/domain/model"
	"dtf-editor-billing/internal/domain/ports/repository"
	"dtf-editor-billing/internal/infra/logging"
	"dtf-editor-billing/internal/infra/metrics"
)

// Compile-time check
var _ AffiliateUseCase = (*affiliateUC)(nil)

// AffiliateUseCase owns commission attribution and the admin payout flow.
// Attribution runs from the outbox, decoupled from the webhook transaction;
// the (event_id, affiliate_id) uniqueness rule makes redelivery safe.
type AffiliateUseCase interface {
	// Attribute records a commission for the affiliate who referred userID,
	// if any, and recomputes the affiliate's tier from trailing MRR.
	Attribute(ctx context.Context, userID, eventID string, kind model.CommissionKind, paymentCents int64) error

	ApproveCommission(ctx context.Context, commissionID string) error
	RejectCommission(ctx context.Context, commissionID string) error

	// CreatePayout rolls every approved commission for the affiliate into one
	// pending payout. Fails with domain.ErrTaxFormMissing until the affiliate
	// has a completed tax form on file, and domain.ErrNothingToPay when no
	// approved commissions exist.
	CreatePayout(ctx context.Context, affiliateID string, method model.PaymentMethod, notes, createdBy string) (*model.Payout, error)
	CompletePayout(ctx context.Context, payoutID, transactionID string) error
	FailPayout(ctx context.Context, payoutID string) error
	ListPayouts(ctx context.Context) ([]*model.Payout, error)

	ListCommissions(ctx context.Context, affiliateID string, offset, limit int) ([]*model.Commission, error)

	// WritePayoutsCSV streams pending PayPal payouts in the mass-payment
	// upload layout.
	WritePayoutsCSV(ctx context.Context, w io.Writer) error
	// WriteCommissionsCSV streams one affiliate's commission history.
	WriteCommissionsCSV(ctx context.Context, affiliateID string, w io.Writer) error
	// WriteReferralsCSV streams one affiliate's referral funnel.
	WriteReferralsCSV(ctx context.Context, affiliateID string, w io.Writer) error
}

type affiliateUC struct {
	affiliates  repository.AffiliateRepository
	commissions repository.CommissionRepository
	payouts     repository.PayoutRepository
	accounts    repository.AccountRepository
	txm         repository.TransactionManager
	logger      *zerolog.Logger
}

func NewAffiliateUseCase(
	affiliates repository.AffiliateRepository,
	commissions repository.CommissionRepository,
	payouts repository.PayoutRepository,
	accounts repository.AccountRepository,
	txm repository.TransactionManager,
	logger *zerolog.Logger,
) *affiliateUC {
	return &affiliateUC{
		affiliates:  affiliates,
		commissions: commissions,
		payouts:     payouts,
		accounts:    accounts,
		txm:         txm,
		logger:      logger,
	}
}

func (u *affiliateUC) Attribute(ctx context.Context, userID, eventID string, kind model.CommissionKind, paymentCents int64) error {
	log := logging.With(logging.WithUserID(logging.WithEventID(ctx, eventID), userID), u.logger)

	acc, err := u.accounts.FindByID(ctx, repository.NoTX, userID)
	if err != nil {
		return err
	}
	if acc.ReferredByAffiliate == nil {
		return nil // not a referred user
	}

	return u.txm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		aff, err := u.affiliates.FindByID(ctx, tx, *acc.ReferredByAffiliate)
		if err != nil {
			return err
		}
		if aff.Status != model.AffiliateStatusApproved {
			log.Debug().Str("affiliate_status", string(aff.Status)).Msg("affiliate not approved, no commission")
			return nil
		}

		rate := aff.Tier.RecurringRate()
		if kind == model.CommissionKindOneTime {
			rate = aff.Tier.OneTimeRate()
		}
		comm, err := model.NewCommission(uuid.NewString(), aff.ID, userID, eventID, kind, paymentCents, rate)
		if err != nil {
			return err
		}
		if err := u.commissions.Insert(ctx, tx, comm); err != nil {
			if err == domain.ErrDuplicateEvent {
				return nil // redelivery, already attributed
			}
			return err
		}

		if ref, err := u.affiliates.FindReferralByUser(ctx, tx, userID); err == nil && ref.Status == model.ReferralStatusSignedUp {
			if err := u.affiliates.MarkReferralConverted(ctx, tx, ref.ID, time.Now()); err != nil {
				return err
			}
		}

		if kind != model.CommissionKindOneTime {
			if err := u.recomputeTier(ctx, tx, aff, paymentCents); err != nil {
				return err
			}
		}

		metrics.IncCommission(string(kind))
		log.Info().Str("affiliate_id", aff.ID).Str("kind", string(kind)).
			Str("amount", comm.Amount.String()).Msg("commission attributed")
		return nil
	})
}

// recomputeTier re-derives the tier from the trailing 3-month average of
// attributed recurring revenue, including the payment just recorded.
func (u *affiliateUC) recomputeTier(ctx context.Context, tx repository.Tx, aff *model.Affiliate, paymentCents int64) error {
	byMonth, err := u.commissions.SumRecurringByMonth(ctx, tx, aff.ID, 3)
	if err != nil {
		return err
	}
	total := decimal.Zero
	for _, v := range byMonth {
		total = total.Add(v)
	}
	avg := total.Div(decimal.NewFromInt(3)).Round(2)

	payment := decimal.NewFromInt(paymentCents).Div(decimal.NewFromInt(100))
	return u.affiliates.UpdateTierAndMRR(ctx, tx, aff.ID,
		model.TierForMRR(avg), aff.MRRGenerated.Add(payment), avg)
}

func (u *affiliateUC) ApproveCommission(ctx context.Context, commissionID string) error {
	return u.commissions.UpdateStatus(ctx, repository.NoTX, commissionID, model.CommissionStatusApproved)
}

func (u *affiliateUC) RejectCommission(ctx context.Context, commissionID string) error {
	return u.commissions.UpdateStatus(ctx, repository.NoTX, commissionID, model.CommissionStatusRejected)
}

func (u *affiliateUC) CreatePayout(ctx context.Context, affiliateID string, method model.PaymentMethod, notes, createdBy string) (*model.Payout, error) {
	log := logging.With(logging.WithAffiliateID(ctx, affiliateID), u.logger)

	var payout *model.Payout
	err := u.txm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		aff, err := u.affiliates.FindByID(ctx, tx, affiliateID)
		if err != nil {
			return err
		}
		if !aff.TaxFormCompleted {
			return domain.ErrTaxFormMissing
		}

		comms, err := u.commissions.ListApprovedForPayout(ctx, tx, affiliateID)
		if err != nil {
			return err
		}
		if len(comms) == 0 {
			return domain.ErrNothingToPay
		}

		total := decimal.Zero
		ids := make([]string, 0, len(comms))
		for _, c := range comms {
			total = total.Add(c.Amount)
			ids = append(ids, c.ID)
		}

		now := time.Now()
		payout = &model.Payout{
			ID:            uuid.NewString(),
			AffiliateID:   affiliateID,
			Amount:        total,
			Status:        model.PayoutStatusPending,
			PaymentMethod: method,
			Notes:         notes,
			CreatedBy:     createdBy,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := u.payouts.Insert(ctx, tx, payout); err != nil {
			return err
		}
		return u.commissions.MarkPaid(ctx, tx, ids, payout.ID)
	})
	if err != nil {
		return nil, err
	}

	metrics.IncPayout(string(model.PayoutStatusPending))
	amount, _ := payout.Amount.Float64()
	metrics.AddPayoutAmount(amount)
	log.Info().Str("payout_id", payout.ID).Str("amount", payout.Amount.String()).Msg("payout created")
	return payout, nil
}

func (u *affiliateUC) CompletePayout(ctx context.Context, payoutID, transactionID string) error {
	if err := u.payouts.UpdateStatus(ctx, repository.NoTX, payoutID, model.PayoutStatusCompleted, &transactionID); err != nil {
		return err
	}
	metrics.IncPayout(string(model.PayoutStatusCompleted))
	return nil
}

func (u *affiliateUC) FailPayout(ctx context.Context, payoutID string) error {
	if err := u.payouts.UpdateStatus(ctx, repository.NoTX, payoutID, model.PayoutStatusFailed, nil); err != nil {
		return err
	}
	metrics.IncPayout(string(model.PayoutStatusFailed))
	return nil
}

func (u *affiliateUC) ListPayouts(ctx context.Context) ([]*model.Payout, error) {
	return u.payouts.ListAll(ctx, repository.NoTX)
}

func (u *affiliateUC) ListCommissions(ctx context.Context, affiliateID string, offset, limit int) ([]*model.Commission, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return u.commissions.ListByAffiliate(ctx, repository.NoTX, affiliateID, offset, limit)
}

// WritePayoutsCSV emits pending PayPal payouts in the mass-payment layout:
// email, amount, currency, reference, note.
func (u *affiliateUC) WritePayoutsCSV(ctx context.Context, w io.Writer) error {
	payouts, err := u.payouts.ListAll(ctx, repository.NoTX)
	if err != nil {
		return err
	}

	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"Email", "Amount", "Currency", "Reference", "Note"}); err != nil {
		return err
	}
	for _, p := range payouts {
		if p.Status != model.PayoutStatusPending || p.PaymentMethod != model.PaymentMethodPayPal {
			continue
		}
		aff, err := u.affiliates.FindByID(ctx, repository.NoTX, p.AffiliateID)
		if err != nil {
			return err
		}
		record := []string{
			aff.PaypalEmail,
			p.Amount.StringFixed(2),
			"USD",
			p.ID,
			fmt.Sprintf("Affiliate commission payout %s", time.Now().Format("2006-01")),
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func (u *affiliateUC) WriteReferralsCSV(ctx context.Context, affiliateID string, w io.Writer) error {
	refs, err := u.affiliates.ListReferralsByAffiliate(ctx, repository.NoTX, affiliateID)
	if err != nil {
		return err
	}

	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"ReferredUser", "Status", "SignedUp", "Converted"}); err != nil {
		return err
	}
	for _, ref := range refs {
		converted := ""
		if ref.ConvertedAt != nil {
			converted = ref.ConvertedAt.Format(time.RFC3339)
		}
		record := []string{
			ref.ReferredUserID,
			string(ref.Status),
			ref.SignedUpAt.Format(time.RFC3339),
			converted,
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func (u *affiliateUC) WriteCommissionsCSV(ctx context.Context, affiliateID string, w io.Writer) error {
	comms, err := u.commissions.ListByAffiliate(ctx, repository.NoTX, affiliateID, 0, 10000)
	if err != nil {
		return err
	}

	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"ID", "Kind", "Month", "Payment", "Rate", "Amount", "Status", "Created"}); err != nil {
		return err
	}
	for _, c := range comms {
		record := []string{
			c.ID,
			string(c.Kind),
			c.Month,
			decimal.NewFromInt(c.PaymentCents).Div(decimal.NewFromInt(100)).StringFixed(2),
			c.Rate.String(),
			c.Amount.StringFixed(2),
			string(c.Status),
			c.CreatedAt.Format(time.RFC3339),
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
