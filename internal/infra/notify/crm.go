package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"dtf-editor-billing/internal/config"
	"dtf-editor-billing/internal/domain/ports/adapter"
)

var _ adapter.CRMService = (*CRMClient)(nil)

// CRMClient tags contacts in the marketing CRM (GoHighLevel-compatible API).
type CRMClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewCRMClient(cfg *config.CRMConfig) *CRMClient {
	return &CRMClient{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *CRMClient) TagContact(ctx context.Context, email string, tags []string) error {
	body, err := json.Marshal(map[string]interface{}{"tags": tags})
	if err != nil {
		return err
	}
	endpoint := fmt.Sprintf("%s/contacts/%s/tags", c.baseURL, url.PathEscape(email))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("crm returned %d tagging %s", resp.StatusCode, email)
	}
	return nil
}
