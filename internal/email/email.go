// Package email delivers transactional mail through one of several
// providers and renders the messages SafetyNow sends.
package email

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/mail"
	"strings"

	"github.com/Togather-Foundation/safetynow/internal/config"
	"github.com/rs/zerolog"
)

var (
	// ErrTokenAcquisition means the provider refused the app's own
	// credentials; nothing was sent.
	ErrTokenAcquisition = errors.New("mail provider token acquisition failed")
	// ErrSendFailed means the provider did not accept the message.
	ErrSendFailed = errors.New("mail provider rejected message")
)

// Message is one HTML email.
type Message struct {
	To      []string
	Subject string
	HTML    string
}

// Sender hands a message to a mail provider.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// NewSender builds the provider selected by cfg.Provider.
func NewSender(cfg config.EmailConfig, httpClient *http.Client, logger zerolog.Logger) (Sender, error) {
	switch cfg.Provider {
	case "", "log":
		return NewLogSender(logger), nil
	case "graph":
		if err := validateEmailAddress(cfg.From); err != nil {
			return nil, fmt.Errorf("invalid sender email in config: %w", err)
		}
		return NewGraphSender(GraphConfig{
			TenantID:     cfg.TenantID,
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			From:         cfg.From,
			BaseURL:      cfg.GraphBaseURL,
		}, httpClient), nil
	case "resend":
		if err := validateEmailAddress(cfg.From); err != nil {
			return nil, fmt.Errorf("invalid sender email in config: %w", err)
		}
		return NewResendSender(cfg.ResendAPIKey, cfg.From, httpClient, logger), nil
	default:
		return nil, fmt.Errorf("unknown email provider %q", cfg.Provider)
	}
}

// validateEmailAddress rejects malformed addresses and header injection.
func validateEmailAddress(email string) error {
	addr, err := mail.ParseAddress(email)
	if err != nil {
		return fmt.Errorf("invalid email format: %w", err)
	}
	if strings.ContainsAny(addr.Address, "\r\n") {
		return fmt.Errorf("invalid email address: contains newline characters")
	}
	return nil
}

type logSender struct {
	logger zerolog.Logger
}

// NewLogSender returns a Sender that only logs. Used in development.
func NewLogSender(logger zerolog.Logger) Sender {
	return &logSender{logger: logger.With().Str("component", "email").Str("provider", "log").Logger()}
}

func (s *logSender) Send(_ context.Context, msg Message) error {
	s.logger.Info().
		Strs("to", msg.To).
		Str("subject", msg.Subject).
		Int("html_bytes", len(msg.HTML)).
		Msg("email provider disabled, message not sent")
	return nil
}
