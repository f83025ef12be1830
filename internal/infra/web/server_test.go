//go:build !integration

package web

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"dtf-editor-billing/internal/config"
	"dtf-editor-billing/internal/domain"
	"dtf-editor-billing/internal/domain/model"
	"dtf-editor-billing/internal/domain/ports/adapter"
)

const (
	testJWTSecret = "test-secret"
	testAdminKey  = "admin-key"
)

// ===== stubs =====

type stubGateway struct {
	event *model.BillingEvent
	err   error
}

func (g *stubGateway) Name() string { return "stub" }

func (g *stubGateway) VerifyEvent(payload []byte, signature string) (*model.BillingEvent, error) {
	return g.event, g.err
}

func (g *stubGateway) GetSubscription(ctx context.Context, id string) (*adapter.ProviderSubscription, error) {
	return nil, domain.ErrNotFound
}

func (g *stubGateway) CancelSubscription(ctx context.Context, id string) error { return nil }

type stubReconcileUC struct {
	err     error
	handled []*model.BillingEvent
}

func (u *stubReconcileUC) HandleEvent(ctx context.Context, ev *model.BillingEvent) error {
	u.handled = append(u.handled, ev)
	return u.err
}

type stubLedgerUC struct {
	balance int64
	err     error
	history []*model.LedgerEntry
}

func (u *stubLedgerUC) Deduct(ctx context.Context, userID string, amount int64, operation string) (int64, error) {
	return u.balance, u.err
}

func (u *stubLedgerUC) Refund(ctx context.Context, userID string, amount int64, operation, sessionID string) (int64, error) {
	return u.balance, u.err
}

func (u *stubLedgerUC) Adjust(ctx context.Context, userID string, amount int64, reason, adminID string) (int64, error) {
	return u.balance, u.err
}

func (u *stubLedgerUC) Balance(ctx context.Context, userID string) (int64, error) {
	return u.balance, u.err
}

func (u *stubLedgerUC) History(ctx context.Context, userID string, offset, limit int) ([]*model.LedgerEntry, error) {
	return u.history, u.err
}

func (u *stubLedgerUC) ExpireDueCredits(ctx context.Context, now time.Time, batch int) (int, error) {
	return 0, nil
}

func (u *stubLedgerUC) EnqueueExpiryWarnings(ctx context.Context, now time.Time, warnWindow time.Duration, batch int) (int, error) {
	return 0, nil
}

type stubAffiliateUC struct {
	err    error
	payout *model.Payout
}

func (u *stubAffiliateUC) Attribute(ctx context.Context, userID, eventID string, kind model.CommissionKind, paymentCents int64) error {
	return u.err
}

func (u *stubAffiliateUC) ApproveCommission(ctx context.Context, id string) error { return u.err }
func (u *stubAffiliateUC) RejectCommission(ctx context.Context, id string) error  { return u.err }

func (u *stubAffiliateUC) CreatePayout(ctx context.Context, affiliateID string, method model.PaymentMethod, notes, createdBy string) (*model.Payout, error) {
	return u.payout, u.err
}

func (u *stubAffiliateUC) CompletePayout(ctx context.Context, payoutID, transactionID string) error {
	return u.err
}

func (u *stubAffiliateUC) FailPayout(ctx context.Context, payoutID string) error { return u.err }

func (u *stubAffiliateUC) ListPayouts(ctx context.Context) ([]*model.Payout, error) {
	return nil, u.err
}

func (u *stubAffiliateUC) ListCommissions(ctx context.Context, affiliateID string, offset, limit int) ([]*model.Commission, error) {
	return nil, u.err
}

func (u *stubAffiliateUC) WritePayoutsCSV(ctx context.Context, w io.Writer) error {
	_, err := w.Write([]byte("Email,Amount,Currency,Reference,Note\n"))
	return err
}

func (u *stubAffiliateUC) WriteCommissionsCSV(ctx context.Context, affiliateID string, w io.Writer) error {
	return u.err
}

func (u *stubAffiliateUC) WriteReferralsCSV(ctx context.Context, affiliateID string, w io.Writer) error {
	return u.err
}

func newTestServer(gateway *stubGateway, reconcile *stubReconcileUC, ledger *stubLedgerUC, affiliate *stubAffiliateUC) http.Handler {
	logger := zerolog.Nop()
	cfg := &config.Config{
		HTTP: config.HTTPConfig{Port: 0},
		Auth: config.AuthConfig{JWTSecret: testJWTSecret, AdminAPIKey: testAdminKey},
	}
	s := NewServer(cfg, gateway, reconcile, ledger, affiliate, nil, &logger)
	return s.routes(&logger)
}

func sessionToken(t *testing.T, userID string) string {
	t.Helper()
	claims := &SessionClaims{
		Email: userID + "@example.com",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return tok
}

// ===== webhook =====

func TestStripeWebhookHandler(t *testing.T) {
	post := func(h http.Handler) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/webhooks/stripe", strings.NewReader(`{}`))
		req.Header.Set("Stripe-Signature", "t=1,v1=sig")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	ev := &model.BillingEvent{ID: "evt_1", Type: model.EventCheckoutSessionCompleted}

	t.Run("invalid signature returns 400", func(t *testing.T) {
		h := newTestServer(&stubGateway{err: domain.ErrSignatureInvalid}, &stubReconcileUC{}, &stubLedgerUC{}, &stubAffiliateUC{})
		if rec := post(h); rec.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("reconciled event returns 200", func(t *testing.T) {
		reconcile := &stubReconcileUC{}
		h := newTestServer(&stubGateway{event: ev}, reconcile, &stubLedgerUC{}, &stubAffiliateUC{})

		rec := post(h)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		var body map[string]bool
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil || !body["received"] {
			t.Fatalf("body = %q, want received:true", rec.Body.String())
		}
		if len(reconcile.handled) != 1 {
			t.Fatalf("handled = %d events, want 1", len(reconcile.handled))
		}
	})

	t.Run("duplicate and orphaned events are acknowledged", func(t *testing.T) {
		for _, ackErr := range []error{domain.ErrDuplicateEvent, domain.ErrUserUnresolved, domain.ErrUnknownPriceID} {
			h := newTestServer(&stubGateway{event: ev}, &stubReconcileUC{err: ackErr}, &stubLedgerUC{}, &stubAffiliateUC{})
			if rec := post(h); rec.Code != http.StatusOK {
				t.Fatalf("%v: status = %d, want 200 to stop redelivery", ackErr, rec.Code)
			}
		}
	})

	t.Run("transient failures return 500 for redelivery", func(t *testing.T) {
		h := newTestServer(&stubGateway{event: ev}, &stubReconcileUC{err: domain.ErrOperationFailed}, &stubLedgerUC{}, &stubAffiliateUC{})
		if rec := post(h); rec.Code != http.StatusInternalServerError {
			t.Fatalf("status = %d, want 500", rec.Code)
		}
	})
}

// ===== credit endpoints =====

func TestCreditEndpoints(t *testing.T) {
	t.Run("rejects requests without a session", func(t *testing.T) {
		h := newTestServer(&stubGateway{}, &stubReconcileUC{}, &stubLedgerUC{}, &stubAffiliateUC{})
		req := httptest.NewRequest(http.MethodGet, "/api/credits/balance", nil)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("status = %d, want 401", rec.Code)
		}
	})

	t.Run("deduct returns the new balance", func(t *testing.T) {
		h := newTestServer(&stubGateway{}, &stubReconcileUC{}, &stubLedgerUC{balance: 7}, &stubAffiliateUC{})
		body, _ := json.Marshal(map[string]interface{}{"credits": 3, "operation": "vectorize"})
		req := httptest.NewRequest(http.MethodPost, "/api/credits/deduct", bytes.NewReader(body))
		req.Header.Set("Authorization", "Bearer "+sessionToken(t, "user-1"))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
		}
		var resp balanceResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil || resp.Balance != 7 {
			t.Fatalf("body = %q, want balance 7", rec.Body.String())
		}
	})

	t.Run("insufficient credits maps to 402", func(t *testing.T) {
		h := newTestServer(&stubGateway{}, &stubReconcileUC{}, &stubLedgerUC{err: domain.ErrInsufficientCredits}, &stubAffiliateUC{})
		body, _ := json.Marshal(map[string]interface{}{"credits": 3, "operation": "upscale"})
		req := httptest.NewRequest(http.MethodPost, "/api/credits/deduct", bytes.NewReader(body))
		req.Header.Set("Authorization", "Bearer "+sessionToken(t, "user-1"))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusPaymentRequired {
			t.Fatalf("status = %d, want 402", rec.Code)
		}
	})

	t.Run("session cookie works like the bearer header", func(t *testing.T) {
		h := newTestServer(&stubGateway{}, &stubReconcileUC{}, &stubLedgerUC{balance: 12}, &stubAffiliateUC{})
		req := httptest.NewRequest(http.MethodGet, "/api/credits/balance", nil)
		req.AddCookie(&http.Cookie{Name: "session", Value: sessionToken(t, "user-1")})
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
	})
}

// ===== admin API =====

func TestAdminEndpoints(t *testing.T) {
	do := func(h http.Handler, method, path, key string, body []byte) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, bytes.NewReader(body))
		if key != "" {
			req.Header.Set("Authorization", "Bearer "+key)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	t.Run("requires the admin key", func(t *testing.T) {
		h := newTestServer(&stubGateway{}, &stubReconcileUC{}, &stubLedgerUC{}, &stubAffiliateUC{})
		if rec := do(h, http.MethodGet, "/api/admin/payouts", "", nil); rec.Code != http.StatusUnauthorized {
			t.Fatalf("no key: status = %d, want 401", rec.Code)
		}
		if rec := do(h, http.MethodGet, "/api/admin/payouts", "wrong", nil); rec.Code != http.StatusForbidden {
			t.Fatalf("wrong key: status = %d, want 403", rec.Code)
		}
	})

	t.Run("approve maps domain errors to status codes", func(t *testing.T) {
		h := newTestServer(&stubGateway{}, &stubReconcileUC{}, &stubLedgerUC{}, &stubAffiliateUC{err: domain.ErrNotFound})
		if rec := do(h, http.MethodPost, "/api/admin/commissions/c-1/approve", testAdminKey, nil); rec.Code != http.StatusNotFound {
			t.Fatalf("status = %d, want 404", rec.Code)
		}

		h = newTestServer(&stubGateway{}, &stubReconcileUC{}, &stubLedgerUC{}, &stubAffiliateUC{err: domain.ErrCommissionFinalized})
		if rec := do(h, http.MethodPost, "/api/admin/commissions/c-1/reject", testAdminKey, nil); rec.Code != http.StatusConflict {
			t.Fatalf("status = %d, want 409", rec.Code)
		}

		h = newTestServer(&stubGateway{}, &stubReconcileUC{}, &stubLedgerUC{}, &stubAffiliateUC{})
		if rec := do(h, http.MethodPost, "/api/admin/commissions/c-1/approve", testAdminKey, nil); rec.Code != http.StatusNoContent {
			t.Fatalf("status = %d, want 204", rec.Code)
		}
	})

	t.Run("payout creation gates and validations", func(t *testing.T) {
		valid, _ := json.Marshal(payoutCreateRequest{AffiliateID: "aff-1", PaymentMethod: "paypal", CreatedBy: "admin@example.com"})

		h := newTestServer(&stubGateway{}, &stubReconcileUC{}, &stubLedgerUC{}, &stubAffiliateUC{err: domain.ErrTaxFormMissing})
		if rec := do(h, http.MethodPost, "/api/admin/payouts", testAdminKey, valid); rec.Code != http.StatusPreconditionFailed {
			t.Fatalf("tax form: status = %d, want 412", rec.Code)
		}

		h = newTestServer(&stubGateway{}, &stubReconcileUC{}, &stubLedgerUC{}, &stubAffiliateUC{err: domain.ErrNothingToPay})
		if rec := do(h, http.MethodPost, "/api/admin/payouts", testAdminKey, valid); rec.Code != http.StatusConflict {
			t.Fatalf("nothing to pay: status = %d, want 409", rec.Code)
		}

		bad, _ := json.Marshal(payoutCreateRequest{AffiliateID: "aff-1", PaymentMethod: "venmo"})
		h = newTestServer(&stubGateway{}, &stubReconcileUC{}, &stubLedgerUC{}, &stubAffiliateUC{})
		if rec := do(h, http.MethodPost, "/api/admin/payouts", testAdminKey, bad); rec.Code != http.StatusBadRequest {
			t.Fatalf("bad method: status = %d, want 400", rec.Code)
		}

		h = newTestServer(&stubGateway{}, &stubReconcileUC{}, &stubLedgerUC{}, &stubAffiliateUC{
			payout: &model.Payout{ID: "p-1", Status: model.PayoutStatusPending},
		})
		rec := do(h, http.MethodPost, "/api/admin/payouts", testAdminKey, valid)
		if rec.Code != http.StatusCreated {
			t.Fatalf("status = %d, want 201: %s", rec.Code, rec.Body.String())
		}
	})

	t.Run("manual credit adjustment", func(t *testing.T) {
		body, _ := json.Marshal(creditAdjustRequest{Amount: 10, Reason: "support goodwill", Admin: "admin@example.com"})

		h := newTestServer(&stubGateway{}, &stubReconcileUC{}, &stubLedgerUC{balance: 30}, &stubAffiliateUC{})
		rec := do(h, http.MethodPost, "/api/admin/users/user-1/credits", testAdminKey, body)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
		}

		h = newTestServer(&stubGateway{}, &stubReconcileUC{}, &stubLedgerUC{err: domain.ErrInsufficientCredits}, &stubAffiliateUC{})
		if rec := do(h, http.MethodPost, "/api/admin/users/user-1/credits", testAdminKey, body); rec.Code != http.StatusConflict {
			t.Fatalf("negative past zero: status = %d, want 409", rec.Code)
		}
	})

	t.Run("payout csv sets the download headers", func(t *testing.T) {
		h := newTestServer(&stubGateway{}, &stubReconcileUC{}, &stubLedgerUC{}, &stubAffiliateUC{})
		rec := do(h, http.MethodGet, "/api/admin/payouts.csv", testAdminKey, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		if ct := rec.Header().Get("Content-Type"); ct != "text/csv" {
			t.Fatalf("content type = %q, want text/csv", ct)
		}
		if !strings.HasPrefix(rec.Body.String(), "Email,Amount,Currency") {
			t.Fatalf("body = %q", rec.Body.String())
		}
	})
}
