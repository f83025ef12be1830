//go:build !integration

package usecase_test

import (
	"context"
	"sync"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"dtf-editor-billing/internal/domain"
	"dtf-editor-billing/internal/domain/model"
	"dtf-editor-billing/internal/domain/ports/adapter"
	"dtf-editor-billing/internal/domain/ports/repository"
)

func newTestLogger() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}

type noTx struct{}

type MockTxManager struct{}

func (m *MockTxManager) WithTx(ctx context.Context, _ pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
	return fn(ctx, noTx{})
}

// MockAccountRepo is a small in-memory implementation used by unit tests.
type MockAccountRepo struct {
	mu    sync.RWMutex
	store map[string]*model.Account
}

func NewMockAccountRepo() *MockAccountRepo {
	return &MockAccountRepo{store: make(map[string]*model.Account)}
}

func (m *MockAccountRepo) Save(ctx context.Context, _ repository.Tx, a *model.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *a
	m.store[a.ID] = &cp
	return nil
}

func (m *MockAccountRepo) FindByID(ctx context.Context, _ repository.Tx, id string) (*model.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.store[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *MockAccountRepo) FindByStripeCustomerID(ctx context.Context, _ repository.Tx, customerID string) (*model.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, a := range m.store {
		if a.StripeCustomerID != nil && *a.StripeCustomerID == customerID {
			cp := *a
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *MockAccountRepo) SetStripeIDs(ctx context.Context, _ repository.Tx, userID string, customerID, subscriptionID *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.store[userID]
	if !ok {
		return domain.ErrNotFound
	}
	if customerID != nil {
		a.StripeCustomerID = customerID
	}
	if subscriptionID != nil {
		a.StripeSubscriptionID = subscriptionID
	}
	return nil
}

func (m *MockAccountRepo) SetSubscriptionState(ctx context.Context, _ repository.Tx, userID string, status model.SubscriptionStatus, plan *string, periodStart, periodEnd, canceledAt *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.store[userID]
	if !ok {
		return domain.ErrNotFound
	}
	a.SubscriptionStatus = status
	if plan != nil {
		a.SubscriptionPlan = plan
	}
	if periodStart != nil {
		a.CurrentPeriodStart = periodStart
	}
	if periodEnd != nil {
		a.CurrentPeriodEnd = periodEnd
	}
	if canceledAt != nil {
		a.CanceledAt = canceledAt
	}
	return nil
}

func (m *MockAccountRepo) MarkExpiryWarned(ctx context.Context, _ repository.Tx, userID string, warnedFor time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.store[userID]
	if !ok {
		return domain.ErrNotFound
	}
	w := warnedFor
	a.ExpiryWarnedAt = &w
	return nil
}

func (m *MockAccountRepo) SetCreditExpiry(ctx context.Context, _ repository.Tx, userID string, expiresAt *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.store[userID]
	if !ok {
		return domain.ErrNotFound
	}
	a.CreditExpiresAt = expiresAt
	return nil
}

func (m *MockAccountRepo) ListWithExpiringCredits(ctx context.Context, _ repository.Tx, before time.Time, limit int) ([]*model.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.Account
	for _, a := range m.store {
		if a.CreditExpiresAt != nil && a.CreditExpiresAt.Before(before) && a.CreditsRemaining > 0 {
			cp := *a
			out = append(out, &cp)
			if len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (m *MockAccountRepo) balance(userID string) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if a, ok := m.store[userID]; ok {
		return a.CreditsRemaining
	}
	return 0
}

// MockLedgerRepo mirrors the production semantics: every append adjusts the
// account balance atomically and grant replays hit the uniqueness rule.
type MockLedgerRepo struct {
	mu       sync.Mutex
	accounts *MockAccountRepo
	entries  []*model.LedgerEntry
}

func NewMockLedgerRepo(accounts *MockAccountRepo) *MockLedgerRepo {
	return &MockLedgerRepo{accounts: accounts}
}

func (m *MockLedgerRepo) hasEventLocked(eventID string, txType model.TransactionType) bool {
	for _, e := range m.entries {
		if e.EventID != nil && *e.EventID == eventID && e.Type == txType {
			return true
		}
	}
	return false
}

func (m *MockLedgerRepo) Append(ctx context.Context, _ repository.Tx, e *model.LedgerEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e.EventID != nil && m.hasEventLocked(*e.EventID, e.Type) {
		return domain.ErrDuplicateEvent
	}

	m.accounts.mu.Lock()
	defer m.accounts.mu.Unlock()
	a, ok := m.accounts.store[e.UserID]
	if !ok {
		return domain.ErrOperationFailed
	}
	a.CreditsRemaining += e.Amount

	cp := *e
	m.entries = append(m.entries, &cp)
	return nil
}

func (m *MockLedgerRepo) AppendConditional(ctx context.Context, _ repository.Tx, e *model.LedgerEntry) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.accounts.mu.Lock()
	defer m.accounts.mu.Unlock()
	a, ok := m.accounts.store[e.UserID]
	if !ok {
		return 0, domain.ErrNotFound
	}
	if a.CreditsRemaining+e.Amount < 0 {
		return 0, domain.ErrInsufficientCredits
	}
	a.CreditsRemaining += e.Amount

	cp := *e
	m.entries = append(m.entries, &cp)
	return a.CreditsRemaining, nil
}

func (m *MockLedgerRepo) AppendClamped(ctx context.Context, _ repository.Tx, e *model.LedgerEntry) (int64, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e.EventID != nil && m.hasEventLocked(*e.EventID, e.Type) {
		return 0, 0, domain.ErrDuplicateEvent
	}

	m.accounts.mu.Lock()
	defer m.accounts.mu.Unlock()
	a, ok := m.accounts.store[e.UserID]
	if !ok {
		return 0, 0, domain.ErrNotFound
	}
	after := a.CreditsRemaining + e.Amount
	if after < 0 {
		after = 0
	}
	applied := after - a.CreditsRemaining
	a.CreditsRemaining = after
	if applied != 0 {
		cp := *e
		cp.Amount = applied
		m.entries = append(m.entries, &cp)
	}
	return applied, after, nil
}

func (m *MockLedgerRepo) ExistsByEventID(ctx context.Context, _ repository.Tx, eventID string, txType model.TransactionType) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hasEventLocked(eventID, txType), nil
}

func (m *MockLedgerRepo) ListByUser(ctx context.Context, _ repository.Tx, userID string, offset, limit int) ([]*model.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.LedgerEntry
	for i := len(m.entries) - 1; i >= 0; i-- {
		if m.entries[i].UserID == userID {
			out = append(out, m.entries[i])
		}
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MockLedgerRepo) SumByUser(ctx context.Context, _ repository.Tx, userID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var sum int64
	for _, e := range m.entries {
		if e.UserID == userID {
			sum += e.Amount
		}
	}
	return sum, nil
}

func (m *MockLedgerRepo) entriesOf(userID string, txType model.TransactionType) []*model.LedgerEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.LedgerEntry
	for _, e := range m.entries {
		if e.UserID == userID && e.Type == txType {
			out = append(out, e)
		}
	}
	return out
}

type MockPlanRepo struct {
	mu    sync.RWMutex
	store map[string]*model.Plan
}

func NewMockPlanRepo() *MockPlanRepo {
	return &MockPlanRepo{store: make(map[string]*model.Plan)}
}

func (m *MockPlanRepo) Save(ctx context.Context, _ repository.Tx, p *model.Plan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.store[p.ID] = &cp
	return nil
}

func (m *MockPlanRepo) FindByID(ctx context.Context, _ repository.Tx, id string) (*model.Plan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.store[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *MockPlanRepo) FindByStripePriceID(ctx context.Context, _ repository.Tx, priceID string) (*model.Plan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.store {
		if p.StripePriceID != "" && p.StripePriceID == priceID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *MockPlanRepo) ListActive(ctx context.Context, _ repository.Tx) ([]*model.Plan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.Plan
	for _, p := range m.store {
		if p.Active {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

type MockOutboxRepo struct {
	mu    sync.Mutex
	tasks []*model.OutboxTask
}

func NewMockOutboxRepo() *MockOutboxRepo {
	return &MockOutboxRepo{}
}

func (m *MockOutboxRepo) Enqueue(ctx context.Context, _ repository.Tx, t *model.OutboxTask) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *t
	m.tasks = append(m.tasks, &cp)
	return nil
}

func (m *MockOutboxRepo) ClaimPending(ctx context.Context, _ repository.Tx, now time.Time, visibility time.Duration, limit int) ([]*model.OutboxTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.OutboxTask
	for _, t := range m.tasks {
		if t.Status == model.OutboxStatusPending && !t.RunAfter.After(now) {
			t.Attempts++
			t.RunAfter = now.Add(visibility)
			cp := *t
			out = append(out, &cp)
			if len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (m *MockOutboxRepo) MarkDone(ctx context.Context, _ repository.Tx, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tasks {
		if t.ID == id {
			t.Status = model.OutboxStatusDone
			return nil
		}
	}
	return domain.ErrNotFound
}

func (m *MockOutboxRepo) MarkFailed(ctx context.Context, _ repository.Tx, id string, lastError string, retryAt time.Time, maxAttempts int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tasks {
		if t.ID == id {
			t.LastError = lastError
			t.RunAfter = retryAt
			if t.Attempts >= maxAttempts {
				t.Status = model.OutboxStatusFailed
			}
			return nil
		}
	}
	return domain.ErrNotFound
}

func (m *MockOutboxRepo) ofKind(kind model.OutboxKind) []*model.OutboxTask {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.OutboxTask
	for _, t := range m.tasks {
		if t.Kind == kind {
			out = append(out, t)
		}
	}
	return out
}

type MockAffiliateRepo struct {
	mu        sync.RWMutex
	store     map[string]*model.Affiliate
	referrals map[string]*model.Referral // by referred user id
}

func NewMockAffiliateRepo() *MockAffiliateRepo {
	return &MockAffiliateRepo{store: make(map[string]*model.Affiliate), referrals: make(map[string]*model.Referral)}
}

func (m *MockAffiliateRepo) Save(ctx context.Context, _ repository.Tx, a *model.Affiliate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *a
	m.store[a.ID] = &cp
	return nil
}

func (m *MockAffiliateRepo) FindByID(ctx context.Context, _ repository.Tx, id string) (*model.Affiliate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.store[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *MockAffiliateRepo) FindByUserID(ctx context.Context, _ repository.Tx, userID string) (*model.Affiliate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, a := range m.store {
		if a.UserID == userID {
			cp := *a
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *MockAffiliateRepo) FindByReferralCode(ctx context.Context, _ repository.Tx, code string) (*model.Affiliate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, a := range m.store {
		if a.ReferralCode == code {
			cp := *a
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *MockAffiliateRepo) UpdateTierAndMRR(ctx context.Context, _ repository.Tx, id string, tier model.AffiliateTier, mrrGenerated, mrr3MonthAvg decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.store[id]
	if !ok {
		return domain.ErrNotFound
	}
	a.Tier = tier
	a.MRRGenerated = mrrGenerated
	a.MRR3MonthAvg = mrr3MonthAvg
	return nil
}

func (m *MockAffiliateRepo) SaveReferral(ctx context.Context, _ repository.Tx, r *model.Referral) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *r
	m.referrals[r.ReferredUserID] = &cp
	return nil
}

func (m *MockAffiliateRepo) FindReferralByUser(ctx context.Context, _ repository.Tx, referredUserID string) (*model.Referral, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.referrals[referredUserID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *MockAffiliateRepo) MarkReferralConverted(ctx context.Context, _ repository.Tx, referralID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.referrals {
		if r.ID == referralID {
			r.Status = model.ReferralStatusConverted
			if r.ConvertedAt == nil {
				r.ConvertedAt = &at
			}
			return nil
		}
	}
	return domain.ErrNotFound
}

func (m *MockAffiliateRepo) ListReferralsByAffiliate(ctx context.Context, _ repository.Tx, affiliateID string) ([]*model.Referral, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.Referral
	for _, r := range m.referrals {
		if r.AffiliateID == affiliateID {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

type MockCommissionRepo struct {
	mu    sync.Mutex
	store map[string]*model.Commission
}

func NewMockCommissionRepo() *MockCommissionRepo {
	return &MockCommissionRepo{store: make(map[string]*model.Commission)}
}

func (m *MockCommissionRepo) Insert(ctx context.Context, _ repository.Tx, c *model.Commission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.store {
		if existing.EventID == c.EventID && existing.AffiliateID == c.AffiliateID {
			return domain.ErrDuplicateEvent
		}
	}
	cp := *c
	m.store[c.ID] = &cp
	return nil
}

func (m *MockCommissionRepo) FindByID(ctx context.Context, _ repository.Tx, id string) (*model.Commission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.store[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *MockCommissionRepo) UpdateStatus(ctx context.Context, _ repository.Tx, id string, status model.CommissionStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.store[id]
	if !ok {
		return domain.ErrNotFound
	}
	if c.Status == model.CommissionStatusPaid {
		return domain.ErrCommissionFinalized
	}
	c.Status = status
	return nil
}

func (m *MockCommissionRepo) ListApprovedForPayout(ctx context.Context, _ repository.Tx, affiliateID string) ([]*model.Commission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Commission
	for _, c := range m.store {
		if c.AffiliateID == affiliateID && c.Status == model.CommissionStatusApproved && c.PayoutID == nil {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MockCommissionRepo) MarkPaid(ctx context.Context, _ repository.Tx, ids []string, payoutID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		c, ok := m.store[id]
		if !ok || c.Status != model.CommissionStatusApproved {
			return domain.ErrCommissionFinalized
		}
		c.Status = model.CommissionStatusPaid
		pid := payoutID
		c.PayoutID = &pid
	}
	return nil
}

func (m *MockCommissionRepo) ListByAffiliate(ctx context.Context, _ repository.Tx, affiliateID string, offset, limit int) ([]*model.Commission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Commission
	for _, c := range m.store {
		if c.AffiliateID == affiliateID {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MockCommissionRepo) SumRecurringByMonth(ctx context.Context, _ repository.Tx, affiliateID string, months int) (map[string]decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]decimal.Decimal)
	for _, c := range m.store {
		if c.AffiliateID != affiliateID || c.Status == model.CommissionStatusRejected {
			continue
		}
		if c.Kind != model.CommissionKindNewSubscription && c.Kind != model.CommissionKindRenewal {
			continue
		}
		out[c.Month] = out[c.Month].Add(decimal.NewFromInt(c.PaymentCents).Div(decimal.NewFromInt(100)))
	}
	return out, nil
}

type MockPayoutRepo struct {
	mu    sync.Mutex
	store map[string]*model.Payout
}

func NewMockPayoutRepo() *MockPayoutRepo {
	return &MockPayoutRepo{store: make(map[string]*model.Payout)}
}

func (m *MockPayoutRepo) Insert(ctx context.Context, _ repository.Tx, p *model.Payout) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.store[p.ID] = &cp
	return nil
}

func (m *MockPayoutRepo) FindByID(ctx context.Context, _ repository.Tx, id string) (*model.Payout, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.store[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *MockPayoutRepo) UpdateStatus(ctx context.Context, _ repository.Tx, id string, status model.PayoutStatus, transactionID *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.store[id]
	if !ok {
		return domain.ErrNotFound
	}
	p.Status = status
	if transactionID != nil {
		p.TransactionID = transactionID
	}
	return nil
}

func (m *MockPayoutRepo) ListAll(ctx context.Context, _ repository.Tx) ([]*model.Payout, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Payout
	for _, p := range m.store {
		cp := *p
		out = append(out, &cp)
	}
	return out, nil
}

// MockBillingGateway satisfies adapter.BillingGateway for reconciler tests.
type MockBillingGateway struct {
	Subs      map[string]*adapter.ProviderSubscription
	Cancelled []string
}

func NewMockBillingGateway() *MockBillingGateway {
	return &MockBillingGateway{Subs: make(map[string]*adapter.ProviderSubscription)}
}

func (m *MockBillingGateway) Name() string { return "mock" }

func (m *MockBillingGateway) VerifyEvent(payload []byte, signature string) (*model.BillingEvent, error) {
	return nil, domain.ErrSignatureInvalid
}

func (m *MockBillingGateway) GetSubscription(ctx context.Context, subscriptionID string) (*adapter.ProviderSubscription, error) {
	s, ok := m.Subs[subscriptionID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return s, nil
}

func (m *MockBillingGateway) CancelSubscription(ctx context.Context, subscriptionID string) error {
	m.Cancelled = append(m.Cancelled, subscriptionID)
	return nil
}

type sentMail struct {
	Template string
	To       string
}

type MockMailer struct {
	mu   sync.Mutex
	Sent []sentMail
	Err  error
}

func (m *MockMailer) record(template, to string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.Sent = append(m.Sent, sentMail{Template: template, To: to})
	return nil
}

func (m *MockMailer) SendSubscriptionEmail(ctx context.Context, email, firstName, planName string, nextBillingUnix int64) error {
	return m.record("subscription", email)
}

func (m *MockMailer) SendPurchaseEmail(ctx context.Context, email, firstName string, amountCents, credits int64) error {
	return m.record("purchase", email)
}

func (m *MockMailer) SendRefundEmail(ctx context.Context, email, firstName string, creditsRemoved int64) error {
	return m.record("refund", email)
}

func (m *MockMailer) SendTrialReminderEmail(ctx context.Context, email, firstName string) error {
	return m.record("trial", email)
}

func (m *MockMailer) SendCreditExpiryWarning(ctx context.Context, email, firstName string, credits int64, daysLeft int) error {
	return m.record("expiry-warning", email)
}

type MockCRM struct {
	mu     sync.Mutex
	Tagged map[string][]string
}

func NewMockCRM() *MockCRM {
	return &MockCRM{Tagged: make(map[string][]string)}
}

func (m *MockCRM) TagContact(ctx context.Context, email string, tags []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Tagged[email] = append(m.Tagged[email], tags...)
	return nil
}
