// Package tickets records support requests and notifies staff. The stored
// ticket is the source of truth: a failed notification is logged and
// otherwise ignored.
package tickets

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Togather-Foundation/safetynow/internal/sanitize"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

const DefaultNotifyTimeout = 10 * time.Second

type Input struct {
	Name    string `validate:"required,max=200"`
	Email   string `validate:"required,email,max=254"`
	Phone   string `validate:"omitempty,max=32"`
	Topic   string `validate:"required,max=200"`
	Message string `validate:"required,max=5000"`
}

type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return "invalid ticket fields: " + strings.Join(e.Fields, ", ")
}

type Service struct {
	repo          Repository
	notifier      Notifier
	notifyTimeout time.Duration
	validator     *validator.Validate
	logger        zerolog.Logger
}

func NewService(repo Repository, notifier Notifier, notifyTimeout time.Duration, logger zerolog.Logger) *Service {
	if notifyTimeout <= 0 {
		notifyTimeout = DefaultNotifyTimeout
	}
	return &Service{
		repo:          repo,
		notifier:      notifier,
		notifyTimeout: notifyTimeout,
		validator:     validator.New(),
		logger:        logger.With().Str("component", "tickets").Logger(),
	}
}

// Create stores the ticket and then attempts the staff notification.
func (s *Service) Create(ctx context.Context, userID int64, input Input) (*Ticket, error) {
	input = Input{
		Name:    sanitize.Line(input.Name),
		Email:   strings.TrimSpace(input.Email),
		Phone:   sanitize.Line(input.Phone),
		Topic:   sanitize.Line(input.Topic),
		Message: sanitize.Text(input.Message),
	}

	if err := s.validator.Struct(input); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			verr := &ValidationError{}
			for _, fe := range fieldErrs {
				verr.Fields = append(verr.Fields, strings.ToLower(fe.Field()))
			}
			return nil, verr
		}
		return nil, fmt.Errorf("validate ticket: %w", err)
	}

	ticket, err := s.repo.Create(ctx, Ticket{
		UserID:  userID,
		Name:    input.Name,
		Email:   input.Email,
		Phone:   input.Phone,
		Topic:   input.Topic,
		Message: input.Message,
	})
	if err != nil {
		return nil, fmt.Errorf("create ticket: %w", err)
	}

	s.notify(ctx, *ticket)
	return ticket, nil
}

func (s *Service) notify(ctx context.Context, ticket Ticket) {
	if s.notifier == nil {
		return
	}

	// Detached from the request so a client disconnect after the insert
	// does not cancel the email, but still bounded.
	notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.notifyTimeout)
	defer cancel()

	if err := s.notifier.SendTicketNotification(notifyCtx, ticket); err != nil {
		s.logger.Warn().Err(err).Int64("ticket_id", ticket.ID).Msg("ticket notification failed")
		return
	}
	s.logger.Info().Int64("ticket_id", ticket.ID).Msg("ticket notification sent")
}
