// Package notify holds thin HTTP clients for the transactional email and CRM
// providers. Both are best-effort: callers run them from the outbox with
// short timeouts and retry on failure.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"dtf-editor-billing/internal/config"
	"dtf-editor-billing/internal/domain/ports/adapter"
)

var _ adapter.Mailer = (*HTTPMailer)(nil)

type HTTPMailer struct {
	baseURL string
	apiKey  string
	from    string
	client  *http.Client
}

func NewHTTPMailer(cfg *config.EmailConfig) *HTTPMailer {
	return &HTTPMailer{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		from:    cfg.From,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

type sendRequest struct {
	From     string                 `json:"from"`
	To       string                 `json:"to"`
	Template string                 `json:"template"`
	Data     map[string]interface{} `json:"data"`
}

func (m *HTTPMailer) send(ctx context.Context, to, template string, data map[string]interface{}) error {
	body, err := json.Marshal(sendRequest{From: m.from, To: to, Template: template, Data: data})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+"/send", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+m.apiKey)

	resp, err := m.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("mail provider returned %d for template %s", resp.StatusCode, template)
	}
	return nil
}

func (m *HTTPMailer) SendSubscriptionEmail(ctx context.Context, email, firstName, planName string, nextBillingUnix int64) error {
	return m.send(ctx, email, "subscription-confirmed", map[string]interface{}{
		"firstName":   firstName,
		"planName":    planName,
		"nextBilling": time.Unix(nextBillingUnix, 0).UTC().Format("January 2, 2006"),
	})
}

func (m *HTTPMailer) SendPurchaseEmail(ctx context.Context, email, firstName string, amountCents, credits int64) error {
	return m.send(ctx, email, "purchase-confirmed", map[string]interface{}{
		"firstName": firstName,
		"amount":    fmt.Sprintf("%.2f", float64(amountCents)/100),
		"credits":   credits,
	})
}

func (m *HTTPMailer) SendRefundEmail(ctx context.Context, email, firstName string, creditsRemoved int64) error {
	return m.send(ctx, email, "refund-processed", map[string]interface{}{
		"firstName":      firstName,
		"creditsRemoved": creditsRemoved,
	})
}

func (m *HTTPMailer) SendTrialReminderEmail(ctx context.Context, email, firstName string) error {
	return m.send(ctx, email, "trial-ending", map[string]interface{}{
		"firstName": firstName,
	})
}

func (m *HTTPMailer) SendCreditExpiryWarning(ctx context.Context, email, firstName string, credits int64, daysLeft int) error {
	return m.send(ctx, email, "credits-expiring", map[string]interface{}{
		"firstName": firstName,
		"credits":   credits,
		"daysLeft":  daysLeft,
	})
}
