package email

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"time"

	"github.com/Togather-Foundation/safetynow/internal/domain/tickets"
	"github.com/rs/zerolog"
)

//go:embed templates/*.html
var templateFS embed.FS

const resetCodeSubject = "Your SafetyNow password reset code"

// Service renders SafetyNow's mail and hands it to a Sender. It satisfies
// users.Mailer and tickets.Notifier.
type Service struct {
	sender    Sender
	supportTo string
	resetTTL  time.Duration
	timeout   time.Duration
	templates *template.Template
	logger    zerolog.Logger
	now       func() time.Time
}

type resetCodeData struct {
	Code             string
	ExpiresInMinutes int
	CurrentYear      int
}

type ticketData struct {
	tickets.Ticket
	CreatedAt string
}

// NewService parses the embedded templates. supportTo receives ticket
// notifications; timeout bounds each provider call.
func NewService(sender Sender, supportTo string, resetTTL, timeout time.Duration, logger zerolog.Logger) (*Service, error) {
	if sender == nil {
		return nil, errors.New("email sender cannot be nil")
	}
	templates, err := template.ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse email templates: %w", err)
	}
	return &Service{
		sender:    sender,
		supportTo: supportTo,
		resetTTL:  resetTTL,
		timeout:   timeout,
		templates: templates,
		logger:    logger.With().Str("component", "email").Logger(),
		now:       time.Now,
	}, nil
}

func (s *Service) SendPasswordResetCode(ctx context.Context, to, code string) error {
	if err := validateEmailAddress(to); err != nil {
		return fmt.Errorf("invalid recipient email: %w", err)
	}

	html, err := s.render("reset_code.html", resetCodeData{
		Code:             code,
		ExpiresInMinutes: int(s.resetTTL.Minutes()),
		CurrentYear:      s.now().Year(),
	})
	if err != nil {
		return err
	}

	if err := s.send(ctx, Message{To: []string{to}, Subject: resetCodeSubject, HTML: html}); err != nil {
		return fmt.Errorf("send reset code: %w", err)
	}
	s.logger.Info().Str("to", to).Msg("password reset code sent")
	return nil
}

func (s *Service) SendTicketNotification(ctx context.Context, ticket tickets.Ticket) error {
	if s.supportTo == "" {
		return errors.New("no support mailbox configured")
	}

	html, err := s.render("ticket_notification.html", ticketData{
		Ticket:    ticket,
		CreatedAt: ticket.CreatedAt.UTC().Format(time.RFC1123),
	})
	if err != nil {
		return err
	}

	msg := Message{
		To:      []string{s.supportTo},
		Subject: "New Safety Ticket: " + ticket.Topic,
		HTML:    html,
	}
	if err := s.send(ctx, msg); err != nil {
		return fmt.Errorf("send ticket notification: %w", err)
	}
	s.logger.Info().Int64("ticket_id", ticket.ID).Msg("ticket notification sent")
	return nil
}

func (s *Service) send(ctx context.Context, msg Message) error {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	return s.sender.Send(ctx, msg)
}

func (s *Service) render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := s.templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("failed to execute template %s: %w", name, err)
	}
	return buf.String(), nil
}
