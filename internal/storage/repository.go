package storage

import (
	"context"

	"github.com/Togather-Foundation/safetynow/internal/domain/catalog"
	"github.com/Togather-Foundation/safetynow/internal/domain/devices"
	"github.com/Togather-Foundation/safetynow/internal/domain/history"
	"github.com/Togather-Foundation/safetynow/internal/domain/tickets"
	"github.com/Togather-Foundation/safetynow/internal/domain/users"
)

// Repository groups data access by domain. Repositories obtained inside
// WithTx share its transaction.
type Repository interface {
	Users() users.Repository
	Catalog(kind catalog.Kind) catalog.Repository
	History() history.Repository
	Tickets() tickets.Repository
	Devices() devices.Repository

	WithTx(ctx context.Context, fn func(context.Context, Repository) error) error
}
