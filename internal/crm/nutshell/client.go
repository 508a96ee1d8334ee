// Package nutshell is a small client for the Nutshell CRM REST API,
// covering the records SafetyNow creates for sales leads.
package nutshell

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Togather-Foundation/safetynow/internal/config"
	"github.com/Togather-Foundation/safetynow/internal/domain/leads"
	"github.com/Togather-Foundation/safetynow/internal/metrics"
	"github.com/Togather-Foundation/safetynow/internal/telemetry"
	"golang.org/x/time/rate"
)

var _ leads.CRM = (*Client)(nil)

// APIError is a non-2xx answer from Nutshell.
type APIError struct {
	Operation  string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("nutshell %s: status %d: %s", e.Operation, e.StatusCode, e.Body)
}

type Client struct {
	baseURL  string
	email    string
	apiKey   string
	tagID    string
	sourceID string
	http     *http.Client
	limiter  *rate.Limiter
}

func New(cfg config.CRMConfig, timeout time.Duration) *Client {
	perSec := cfg.PerSec
	if perSec <= 0 {
		perSec = 5
	}
	return &Client{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		email:    cfg.Email,
		apiKey:   cfg.APIKey,
		tagID:    cfg.TagID,
		sourceID: cfg.SourceID,
		http:     &http.Client{Timeout: timeout},
		limiter:  rate.NewLimiter(rate.Limit(perSec), perSec),
	}
}

type value struct {
	Value string `json:"value"`
}

type record struct {
	ID string `json:"id"`
}

func values(v string) []value {
	if v == "" {
		return nil
	}
	return []value{{Value: v}}
}

func (c *Client) CreateAccount(ctx context.Context, params leads.AccountParams) (string, error) {
	body := map[string]any{
		"accounts": []map[string]any{{
			"name":   params.Name,
			"emails": values(params.Email),
			"phones": values(params.Phone),
		}},
	}
	var out struct {
		Accounts []record `json:"accounts"`
	}
	if err := c.post(ctx, "create_account", "/accounts", body, &out); err != nil {
		return "", err
	}
	return firstID("create_account", out.Accounts)
}

func (c *Client) CreateContact(ctx context.Context, params leads.ContactParams) (string, error) {
	body := map[string]any{
		"contacts": []map[string]any{{
			"name":   params.Name,
			"emails": values(params.Email),
			"phones": values(params.Phone),
			"links":  map[string]any{"accounts": []string{params.AccountID}},
		}},
	}
	var out struct {
		Contacts []record `json:"contacts"`
	}
	if err := c.post(ctx, "create_contact", "/contacts", body, &out); err != nil {
		return "", err
	}
	return firstID("create_contact", out.Contacts)
}

func (c *Client) CreateLead(ctx context.Context, params leads.LeadParams) (string, error) {
	links := map[string]any{
		"accounts": []string{params.AccountID},
		"contacts": []string{params.ContactID},
	}
	if c.tagID != "" {
		links["tags"] = []string{c.tagID}
	}
	if c.sourceID != "" {
		links["sources"] = []string{c.sourceID}
	}
	body := map[string]any{
		"leads": []map[string]any{{
			"description": params.Description,
			"links":       links,
		}},
	}
	var out struct {
		Leads []record `json:"leads"`
	}
	if err := c.post(ctx, "create_lead", "/leads", body, &out); err != nil {
		return "", err
	}
	return firstID("create_lead", out.Leads)
}

// CreateNote attaches a note to the lead. Nutshell's note response is not
// always a record list, so a missing id is not an error.
func (c *Client) CreateNote(ctx context.Context, leadID, text string) (string, error) {
	body := map[string]any{
		"data": map[string]any{
			"body":  text,
			"links": map[string]any{"parent": leadID},
		},
	}
	var out struct {
		Notes []record `json:"notes"`
	}
	if err := c.post(ctx, "create_note", "/notes", body, &out); err != nil {
		return "", err
	}
	if len(out.Notes) == 0 {
		return "", nil
	}
	return out.Notes[0].ID, nil
}

func firstID(operation string, records []record) (string, error) {
	if len(records) == 0 || records[0].ID == "" {
		return "", fmt.Errorf("nutshell %s: response has no record id", operation)
	}
	return records[0].ID, nil
}

func (c *Client) post(ctx context.Context, operation, path string, body, out any) (err error) {
	start := time.Now()
	ctx, span := telemetry.StartIntegrationSpan(ctx, "nutshell", operation)
	defer func() {
		metrics.ObserveIntegration("nutshell", operation, start, err)
		telemetry.EndSpan(span, err)
	}()

	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("nutshell %s: rate limiter: %w", operation, err)
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("nutshell %s: encode request: %w", operation, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("nutshell %s: build request: %w", operation, err)
	}
	req.SetBasicAuth(c.email, c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("nutshell %s: %w", operation, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("nutshell %s: read response: %w", operation, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail := strings.TrimSpace(string(raw))
		if len(detail) > 512 {
			detail = detail[:512]
		}
		return &APIError{Operation: operation, StatusCode: resp.StatusCode, Body: detail}
	}

	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("nutshell %s: decode response: %w", operation, err)
	}
	return nil
}
