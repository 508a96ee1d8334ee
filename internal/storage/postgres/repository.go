package postgres

import (
	"context"
	"fmt"

	"github.com/Togather-Foundation/safetynow/internal/domain/catalog"
	"github.com/Togather-Foundation/safetynow/internal/domain/devices"
	"github.com/Togather-Foundation/safetynow/internal/domain/history"
	"github.com/Togather-Foundation/safetynow/internal/domain/tickets"
	"github.com/Togather-Foundation/safetynow/internal/domain/users"
	"github.com/Togather-Foundation/safetynow/internal/storage"
	"github.com/jackc/pgx/v5/pgxpool"
)

var _ storage.Repository = (*Repository)(nil)

// Repository implements storage.Repository on PostgreSQL.
type Repository struct {
	conn
}

func NewRepository(pool *pgxpool.Pool) (*Repository, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool cannot be nil")
	}
	return &Repository{conn: conn{pool: pool}}, nil
}

func (r *Repository) Pool() *pgxpool.Pool {
	return r.pool
}

func (r *Repository) Users() users.Repository {
	return &UserRepository{conn: r.conn}
}

func (r *Repository) Catalog(kind catalog.Kind) catalog.Repository {
	return newCatalogRepository(r.conn, kind)
}

func (r *Repository) History() history.Repository {
	return &HistoryRepository{conn: r.conn}
}

func (r *Repository) Tickets() tickets.Repository {
	return &TicketRepository{conn: r.conn}
}

func (r *Repository) Devices() devices.Repository {
	return &DeviceRepository{conn: r.conn}
}

// WithTx runs fn with repositories bound to one transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, storage.Repository) error) error {
	return r.inTx(ctx, func(c conn) error {
		return fn(ctx, &Repository{conn: c})
	})
}
