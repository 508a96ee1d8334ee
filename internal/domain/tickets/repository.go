package tickets

import (
	"context"
	"time"
)

// Ticket is a support request. Tickets are written once and never updated.
type Ticket struct {
	ID        int64
	UserID    int64
	Name      string
	Email     string
	Phone     string
	Topic     string
	Message   string
	CreatedAt time.Time
}

type Repository interface {
	Create(ctx context.Context, ticket Ticket) (*Ticket, error)
}

// Notifier tells support staff about a new ticket.
type Notifier interface {
	SendTicketNotification(ctx context.Context, ticket Ticket) error
}
