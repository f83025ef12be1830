//go:build !integration

package usecase_test

import (
	"context"
	"testing"
	"time"

	"dtf-editor-billing/internal/domain"
	"dtf-editor-billing/internal/domain/model"
	"dtf-editor-billing/internal/usecase"
)

type ledgerDeps struct {
	accounts *MockAccountRepo
	ledger   *MockLedgerRepo
	outbox   *MockOutboxRepo
	uc       usecase.LedgerUseCase
}

func newLedgerDeps(t *testing.T) *ledgerDeps {
	t.Helper()
	accounts := NewMockAccountRepo()
	ledger := NewMockLedgerRepo(accounts)
	outbox := NewMockOutboxRepo()
	uc := usecase.NewLedgerUseCase(accounts, ledger, outbox, &MockTxManager{}, newTestLogger())
	return &ledgerDeps{accounts: accounts, ledger: ledger, outbox: outbox, uc: uc}
}

func (d *ledgerDeps) seedAccount(t *testing.T, id string, credits int64) *model.Account {
	t.Helper()
	acc, err := model.NewAccount(id, id+"@example.com")
	if err != nil {
		t.Fatalf("new account: %v", err)
	}
	acc.CreditsRemaining = credits
	if err := d.accounts.Save(context.Background(), nil, acc); err != nil {
		t.Fatalf("save account: %v", err)
	}
	return acc
}

func TestLedgerDeduct(t *testing.T) {
	ctx := context.Background()

	t.Run("deducts and reports the new balance", func(t *testing.T) {
		// --- Arrange ---
		deps := newLedgerDeps(t)
		deps.seedAccount(t, "user-1", 10)

		// --- Act ---
		balance, err := deps.uc.Deduct(ctx, "user-1", 3, "vectorize")

		// --- Assert ---
		if err != nil {
			t.Fatalf("deduct: %v", err)
		}
		if balance != 7 {
			t.Fatalf("balance = %d, want 7", balance)
		}
		rows := deps.ledger.entriesOf("user-1", model.TransactionTypeUsage)
		if len(rows) != 1 || rows[0].Amount != -3 {
			t.Fatalf("usage rows = %+v, want one row of -3", rows)
		}
	})

	t.Run("rejects when the balance would go negative", func(t *testing.T) {
		// --- Arrange ---
		deps := newLedgerDeps(t)
		deps.seedAccount(t, "user-1", 2)

		// --- Act ---
		_, err := deps.uc.Deduct(ctx, "user-1", 3, "upscale")

		// --- Assert ---
		if err != domain.ErrInsufficientCredits {
			t.Fatalf("expected ErrInsufficientCredits, got %v", err)
		}
		if got := deps.accounts.balance("user-1"); got != 2 {
			t.Fatalf("balance = %d, want 2 (rejected deduct must not apply)", got)
		}
		if rows := deps.ledger.entriesOf("user-1", model.TransactionTypeUsage); len(rows) != 0 {
			t.Fatalf("rejected deduct must not write a ledger row, got %+v", rows)
		}
	})

	t.Run("admin accounts are never charged", func(t *testing.T) {
		// --- Arrange ---
		deps := newLedgerDeps(t)
		acc := deps.seedAccount(t, "admin-1", 5)
		acc.IsAdmin = true
		_ = deps.accounts.Save(ctx, nil, acc)

		// --- Act ---
		balance, err := deps.uc.Deduct(ctx, "admin-1", 100, "vectorize")

		// --- Assert ---
		if err != nil {
			t.Fatalf("deduct: %v", err)
		}
		if balance != 5 {
			t.Fatalf("balance = %d, want 5 unchanged", balance)
		}
		if sum, _ := deps.ledger.SumByUser(ctx, nil, "admin-1"); sum != 0 {
			t.Fatalf("admin bypass must not write ledger rows")
		}
	})

	t.Run("validates arguments", func(t *testing.T) {
		deps := newLedgerDeps(t)
		deps.seedAccount(t, "user-1", 10)

		if _, err := deps.uc.Deduct(ctx, "user-1", 0, "vectorize"); err != domain.ErrInvalidArgument {
			t.Fatalf("zero amount: expected ErrInvalidArgument, got %v", err)
		}
		if _, err := deps.uc.Deduct(ctx, "user-1", 1, ""); err != domain.ErrInvalidArgument {
			t.Fatalf("empty operation: expected ErrInvalidArgument, got %v", err)
		}
		if _, err := deps.uc.Deduct(ctx, "ghost", 1, "vectorize"); err != domain.ErrNotFound {
			t.Fatalf("unknown user: expected ErrNotFound, got %v", err)
		}
	})
}

func TestLedgerRefund(t *testing.T) {
	ctx := context.Background()

	t.Run("returns credits for a failed operation", func(t *testing.T) {
		// --- Arrange ---
		deps := newLedgerDeps(t)
		deps.seedAccount(t, "user-1", 7)

		// --- Act ---
		balance, err := deps.uc.Refund(ctx, "user-1", 3, "vectorize", "")

		// --- Assert ---
		if err != nil {
			t.Fatalf("refund: %v", err)
		}
		if balance != 10 {
			t.Fatalf("balance = %d, want 10", balance)
		}
		rows := deps.ledger.entriesOf("user-1", model.TransactionTypeRefund)
		if len(rows) != 1 || rows[0].Amount != 3 {
			t.Fatalf("refund rows = %+v, want one row of +3", rows)
		}
	})

	t.Run("retried refund for the same session credits once", func(t *testing.T) {
		// --- Arrange ---
		deps := newLedgerDeps(t)
		deps.seedAccount(t, "user-1", 7)

		// --- Act ---
		if _, err := deps.uc.Refund(ctx, "user-1", 3, "vectorize", "sess-1"); err != nil {
			t.Fatalf("first refund: %v", err)
		}
		balance, err := deps.uc.Refund(ctx, "user-1", 3, "vectorize", "sess-1")

		// --- Assert ---
		if err != nil {
			t.Fatalf("retry must be absorbed, got %v", err)
		}
		if balance != 10 {
			t.Fatalf("balance = %d, want 10", balance)
		}
		rows := deps.ledger.entriesOf("user-1", model.TransactionTypeRefund)
		if len(rows) != 1 {
			t.Fatalf("refund rows = %d, want 1", len(rows))
		}
	})

	t.Run("admin refund is a no-op", func(t *testing.T) {
		deps := newLedgerDeps(t)
		acc := deps.seedAccount(t, "admin-1", 5)
		acc.IsAdmin = true
		_ = deps.accounts.Save(ctx, nil, acc)

		balance, err := deps.uc.Refund(ctx, "admin-1", 3, "upscale", "")
		if err != nil {
			t.Fatalf("refund: %v", err)
		}
		if balance != 5 {
			t.Fatalf("balance = %d, want 5", balance)
		}
	})
}

func TestLedgerAdjust(t *testing.T) {
	ctx := context.Background()

	t.Run("grants and removes credits with an audit row", func(t *testing.T) {
		// --- Arrange ---
		deps := newLedgerDeps(t)
		deps.seedAccount(t, "user-1", 5)

		// --- Act ---
		balance, err := deps.uc.Adjust(ctx, "user-1", 10, "support goodwill", "admin@example.com")
		if err != nil {
			t.Fatalf("adjust up: %v", err)
		}
		if balance != 15 {
			t.Fatalf("balance = %d, want 15", balance)
		}
		balance, err = deps.uc.Adjust(ctx, "user-1", -5, "correction", "admin@example.com")

		// --- Assert ---
		if err != nil {
			t.Fatalf("adjust down: %v", err)
		}
		if balance != 10 {
			t.Fatalf("balance = %d, want 10", balance)
		}
		rows := deps.ledger.entriesOf("user-1", model.TransactionTypeAdjustment)
		if len(rows) != 2 {
			t.Fatalf("adjustment rows = %d, want 2", len(rows))
		}
	})

	t.Run("negative adjustment observes the zero floor", func(t *testing.T) {
		deps := newLedgerDeps(t)
		deps.seedAccount(t, "user-1", 3)

		if _, err := deps.uc.Adjust(ctx, "user-1", -5, "correction", "admin@example.com"); err != domain.ErrInsufficientCredits {
			t.Fatalf("expected ErrInsufficientCredits, got %v", err)
		}
		if got := deps.accounts.balance("user-1"); got != 3 {
			t.Fatalf("balance = %d, want 3", got)
		}
	})

	t.Run("validates arguments", func(t *testing.T) {
		deps := newLedgerDeps(t)
		deps.seedAccount(t, "user-1", 3)

		if _, err := deps.uc.Adjust(ctx, "user-1", 0, "reason", "a"); err != domain.ErrInvalidArgument {
			t.Fatalf("zero amount: expected ErrInvalidArgument, got %v", err)
		}
		if _, err := deps.uc.Adjust(ctx, "user-1", 5, "", "a"); err != domain.ErrInvalidArgument {
			t.Fatalf("empty reason: expected ErrInvalidArgument, got %v", err)
		}
		if _, err := deps.uc.Adjust(ctx, "ghost", 5, "reason", "a"); err != domain.ErrNotFound {
			t.Fatalf("unknown user: expected ErrNotFound, got %v", err)
		}
	})
}

func TestLedgerHistory(t *testing.T) {
	ctx := context.Background()

	// --- Arrange ---
	deps := newLedgerDeps(t)
	deps.seedAccount(t, "user-1", 100)
	for i := 0; i < 5; i++ {
		if _, err := deps.uc.Deduct(ctx, "user-1", 1, "vectorize"); err != nil {
			t.Fatalf("deduct %d: %v", i, err)
		}
	}

	// --- Act ---
	page, err := deps.uc.History(ctx, "user-1", 1, 2)

	// --- Assert ---
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(page) != 2 {
		t.Fatalf("page length = %d, want 2", len(page))
	}
}

func TestLedgerExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Now()

	t.Run("zeroes due balances and clears the clock", func(t *testing.T) {
		// --- Arrange ---
		deps := newLedgerDeps(t)
		acc := deps.seedAccount(t, "user-1", 12)
		past := now.Add(-time.Hour)
		acc.CreditExpiresAt = &past
		_ = deps.accounts.Save(ctx, nil, acc)

		// --- Act ---
		expired, err := deps.uc.ExpireDueCredits(ctx, now, 100)

		// --- Assert ---
		if err != nil {
			t.Fatalf("expire: %v", err)
		}
		if expired != 1 {
			t.Fatalf("expired = %d, want 1", expired)
		}
		if got := deps.accounts.balance("user-1"); got != 0 {
			t.Fatalf("balance = %d, want 0", got)
		}
		a, _ := deps.accounts.FindByID(ctx, nil, "user-1")
		if a.CreditExpiresAt != nil {
			t.Fatalf("expiry clock not cleared")
		}
		rows := deps.ledger.entriesOf("user-1", model.TransactionTypeExpiry)
		if len(rows) != 1 || rows[0].Amount != -12 {
			t.Fatalf("expiry rows = %+v, want one row of -12", rows)
		}
	})

	t.Run("accounts with a future clock are untouched", func(t *testing.T) {
		deps := newLedgerDeps(t)
		acc := deps.seedAccount(t, "user-1", 12)
		future := now.Add(24 * time.Hour)
		acc.CreditExpiresAt = &future
		_ = deps.accounts.Save(ctx, nil, acc)

		expired, err := deps.uc.ExpireDueCredits(ctx, now, 100)
		if err != nil {
			t.Fatalf("expire: %v", err)
		}
		if expired != 0 {
			t.Fatalf("expired = %d, want 0", expired)
		}
		if got := deps.accounts.balance("user-1"); got != 12 {
			t.Fatalf("balance = %d, want 12", got)
		}
	})

	t.Run("queues warnings inside the window but not for due accounts", func(t *testing.T) {
		// --- Arrange --- one account 3 days out, one already overdue.
		deps := newLedgerDeps(t)
		soonAcc := deps.seedAccount(t, "user-soon", 8)
		soon := now.Add(3 * 24 * time.Hour)
		soonAcc.CreditExpiresAt = &soon
		_ = deps.accounts.Save(ctx, nil, soonAcc)

		dueAcc := deps.seedAccount(t, "user-due", 4)
		past := now.Add(-time.Hour)
		dueAcc.CreditExpiresAt = &past
		_ = deps.accounts.Save(ctx, nil, dueAcc)

		// --- Act ---
		warned, err := deps.uc.EnqueueExpiryWarnings(ctx, now, 7*24*time.Hour, 100)

		// --- Assert ---
		if err != nil {
			t.Fatalf("warn: %v", err)
		}
		if warned != 1 {
			t.Fatalf("warned = %d, want 1", warned)
		}
		tasks := deps.outbox.ofKind(model.OutboxKindExpiryWarningEmail)
		if len(tasks) != 1 || tasks[0].UserID != "user-soon" {
			t.Fatalf("tasks = %+v, want one for user-soon", tasks)
		}
	})

	t.Run("warns once per expiry clock across daily scans", func(t *testing.T) {
		// --- Arrange --- account 3 days out; the scan runs every day.
		deps := newLedgerDeps(t)
		acc := deps.seedAccount(t, "user-1", 8)
		clock := now.Add(3 * 24 * time.Hour)
		acc.CreditExpiresAt = &clock
		_ = deps.accounts.Save(ctx, nil, acc)

		// --- Act --- three daily scans against the same clock.
		for day := 0; day < 3; day++ {
			at := now.Add(time.Duration(day) * 24 * time.Hour)
			if _, err := deps.uc.EnqueueExpiryWarnings(ctx, at, 7*24*time.Hour, 100); err != nil {
				t.Fatalf("warn day %d: %v", day, err)
			}
		}

		// --- Assert ---
		if n := len(deps.outbox.ofKind(model.OutboxKindExpiryWarningEmail)); n != 1 {
			t.Fatalf("warning tasks = %d, want 1 for an unchanged clock", n)
		}

		// A new purchase resets the clock and earns a fresh warning.
		reset := now.Add(5 * 24 * time.Hour)
		if err := deps.accounts.SetCreditExpiry(ctx, nil, "user-1", &reset); err != nil {
			t.Fatalf("set expiry: %v", err)
		}
		if _, err := deps.uc.EnqueueExpiryWarnings(ctx, now, 7*24*time.Hour, 100); err != nil {
			t.Fatalf("warn after reset: %v", err)
		}
		if n := len(deps.outbox.ofKind(model.OutboxKindExpiryWarningEmail)); n != 2 {
			t.Fatalf("warning tasks = %d, want 2 after the clock reset", n)
		}
	})
}
