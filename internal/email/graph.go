package email

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Togather-Foundation/safetynow/internal/metrics"
	"github.com/Togather-Foundation/safetynow/internal/telemetry"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const (
	graphScope       = "https://graph.microsoft.com/.default"
	defaultGraphBase = "https://graph.microsoft.com/v1.0"
)

type GraphConfig struct {
	TenantID     string
	ClientID     string
	ClientSecret string
	From         string
	BaseURL      string
	// TokenURL overrides the tenant token endpoint.
	TokenURL string
}

// GraphSender sends mail as a Microsoft 365 mailbox using app-only
// credentials.
type GraphSender struct {
	from    string
	baseURL string
	client  *http.Client
	tokens  oauth2.TokenSource
}

func NewGraphSender(cfg GraphConfig, httpClient *http.Client) *GraphSender {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	tokenURL := cfg.TokenURL
	if tokenURL == "" {
		tokenURL = "https://login.microsoftonline.com/" + url.PathEscape(cfg.TenantID) + "/oauth2/v2.0/token"
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultGraphBase
	}

	cc := clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     tokenURL,
		Scopes:       []string{graphScope},
	}
	tokenCtx := context.WithValue(context.Background(), oauth2.HTTPClient, httpClient)

	return &GraphSender{
		from:    cfg.From,
		baseURL: baseURL,
		client:  httpClient,
		tokens:  oauth2.ReuseTokenSource(nil, cc.TokenSource(tokenCtx)),
	}
}

type graphAddress struct {
	EmailAddress struct {
		Address string `json:"address"`
	} `json:"emailAddress"`
}

type graphMail struct {
	Message struct {
		Subject string `json:"subject"`
		Body    struct {
			ContentType string `json:"contentType"`
			Content     string `json:"content"`
		} `json:"body"`
		ToRecipients []graphAddress `json:"toRecipients"`
	} `json:"message"`
	SaveToSentItems bool `json:"saveToSentItems"`
}

func (s *GraphSender) Send(ctx context.Context, msg Message) (err error) {
	start := time.Now()
	ctx, span := telemetry.StartIntegrationSpan(ctx, "graph", "send_mail")
	defer func() {
		metrics.ObserveIntegration("graph", "send_mail", start, err)
		telemetry.EndSpan(span, err)
	}()

	token, err := s.tokens.Token()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrTokenAcquisition, err)
	}

	var payload graphMail
	payload.Message.Subject = msg.Subject
	payload.Message.Body.ContentType = "HTML"
	payload.Message.Body.Content = msg.HTML
	for _, to := range msg.To {
		var addr graphAddress
		addr.EmailAddress.Address = to
		payload.Message.ToRecipients = append(payload.Message.ToRecipients, addr)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode graph message: %w", err)
	}

	endpoint := s.baseURL + "/users/" + url.PathEscape(s.from) + "/sendMail"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build graph request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	token.SetAuthHeader(req)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSendFailed, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusAccepted {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%w: status %d: %s", ErrSendFailed, resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	return nil
}
