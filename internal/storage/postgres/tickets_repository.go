package postgres

import (
	"context"
	"fmt"

	"github.com/Togather-Foundation/safetynow/internal/domain/tickets"
)

type TicketRepository struct {
	conn
}

func (r *TicketRepository) Create(ctx context.Context, ticket tickets.Ticket) (*tickets.Ticket, error) {
	created := ticket
	err := r.queryer().QueryRow(ctx, `
INSERT INTO tickets (user_id, name, email, phone, topic, message)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING id, created_at`,
		ticket.UserID, ticket.Name, ticket.Email, ticket.Phone, ticket.Topic, ticket.Message,
	).Scan(&created.ID, &created.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("create ticket: %w", err)
	}
	return &created, nil
}
