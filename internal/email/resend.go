package email

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Togather-Foundation/safetynow/internal/metrics"
	"github.com/Togather-Foundation/safetynow/internal/telemetry"
	"github.com/resend/resend-go/v2"
	"github.com/rs/zerolog"
)

// ResendSender sends through the Resend API. Rate limit responses are
// reported, not retried.
type ResendSender struct {
	client *resend.Client
	from   string
	logger zerolog.Logger
}

func NewResendSender(apiKey, from string, httpClient *http.Client, logger zerolog.Logger) *ResendSender {
	var client *resend.Client
	if httpClient != nil {
		client = resend.NewCustomClient(httpClient, apiKey)
	} else {
		client = resend.NewClient(apiKey)
	}
	return &ResendSender{
		client: client,
		from:   from,
		logger: logger.With().Str("component", "email").Str("provider", "resend").Logger(),
	}
}

func (s *ResendSender) Send(ctx context.Context, msg Message) (err error) {
	start := time.Now()
	ctx, span := telemetry.StartIntegrationSpan(ctx, "resend", "send_mail")
	defer func() {
		metrics.ObserveIntegration("resend", "send_mail", start, err)
		telemetry.EndSpan(span, err)
	}()

	params := &resend.SendEmailRequest{
		From:    s.from,
		To:      msg.To,
		Subject: msg.Subject,
		Html:    msg.HTML,
	}

	sent, err := s.client.Emails.SendWithContext(ctx, params)
	if err != nil {
		var rateLimitErr *resend.RateLimitError
		if errors.As(err, &rateLimitErr) {
			s.logger.Warn().
				Str("limit", rateLimitErr.Limit).
				Str("remaining", rateLimitErr.Remaining).
				Str("reset", rateLimitErr.Reset).
				Msg("resend rate limit exceeded")
			return fmt.Errorf("%w: rate limit exceeded (limit: %s, resets in: %s seconds): %w",
				ErrSendFailed, rateLimitErr.Limit, rateLimitErr.Reset, err)
		}
		return fmt.Errorf("%w: %w", ErrSendFailed, err)
	}

	s.logger.Info().
		Str("email_id", sent.Id).
		Strs("to", msg.To).
		Msg("email sent via Resend")
	return nil
}
