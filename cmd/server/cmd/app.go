package cmd

import (
	"context"
	"fmt"
	"net/http"

	"github.com/Togather-Foundation/safetynow/internal/audit"
	"github.com/Togather-Foundation/safetynow/internal/auth"
	"github.com/Togather-Foundation/safetynow/internal/cloud"
	"github.com/Togather-Foundation/safetynow/internal/config"
	"github.com/Togather-Foundation/safetynow/internal/crm/nutshell"
	"github.com/Togather-Foundation/safetynow/internal/domain/catalog"
	"github.com/Togather-Foundation/safetynow/internal/domain/devices"
	"github.com/Togather-Foundation/safetynow/internal/domain/history"
	"github.com/Togather-Foundation/safetynow/internal/domain/leads"
	"github.com/Togather-Foundation/safetynow/internal/domain/tickets"
	"github.com/Togather-Foundation/safetynow/internal/domain/users"
	"github.com/Togather-Foundation/safetynow/internal/email"
	"github.com/Togather-Foundation/safetynow/internal/objectstore"
	"github.com/Togather-Foundation/safetynow/internal/push"
	"github.com/Togather-Foundation/safetynow/internal/storage/postgres"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// application is the wired set of services shared by serve and the
// maintenance commands.
type application struct {
	pool *pgxpool.Pool
	repo *postgres.Repository

	users   *users.Service
	talks   *catalog.Service
	tools   *catalog.Service
	history *history.Service
	tickets *tickets.Service
	leads   *leads.Service
	devices *devices.Service
}

func newApplication(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*application, error) {
	pool, err := postgres.NewPool(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}

	repo, err := postgres.NewRepository(pool)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("repository init failed: %w", err)
	}

	app := &application{pool: pool, repo: repo}
	if err := app.wire(ctx, cfg, logger); err != nil {
		pool.Close()
		return nil, err
	}
	return app, nil
}

func (a *application) wire(ctx context.Context, cfg config.Config, logger zerolog.Logger) error {
	timeout := cfg.Outbound.Timeout
	httpClient := &http.Client{Timeout: timeout}

	sender, err := email.NewSender(cfg.Email, httpClient, logger)
	if err != nil {
		return fmt.Errorf("email sender: %w", err)
	}
	mailer, err := email.NewService(sender, cfg.Email.SupportRecipient(), cfg.Auth.ResetTTL, timeout, logger)
	if err != nil {
		return fmt.Errorf("email templates: %w", err)
	}

	var images users.ImageStore
	if cfg.Storage.Enabled() {
		awsCfg, err := cloud.LoadAWSConfig(ctx, cfg.AWS, cfg.Storage.Region, timeout)
		if err != nil {
			return err
		}
		images = objectstore.New(awsCfg, cfg.Storage, timeout, logger)
	} else {
		logger.Warn().Msg("S3_BUCKET not set; profile image uploads disabled")
	}

	var pusher devices.Pusher
	if cfg.Push.Enabled() {
		awsCfg, err := cloud.LoadAWSConfig(ctx, cfg.AWS, cfg.Push.Region, timeout)
		if err != nil {
			return err
		}
		pusher = push.New(awsCfg, cfg.Push, timeout, logger)
	} else {
		logger.Warn().Msg("SNS_PLATFORM_APPLICATION_ARN not set; device registration disabled")
	}

	tokens := auth.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.JWTExpiry, cfg.Auth.Issuer)
	a.users = users.NewService(a.repo.Users(), tokens, mailer, images, audit.NewLogger(logger), cfg.Auth.ResetTTL, logger)
	a.talks = catalog.NewService(catalog.KindTalks, a.repo.Catalog(catalog.KindTalks), logger)
	a.tools = catalog.NewService(catalog.KindTools, a.repo.Catalog(catalog.KindTools), logger)
	a.history = history.NewService(a.repo.History(), logger)
	a.tickets = tickets.NewService(a.repo.Tickets(), mailer, timeout, logger)
	a.devices = devices.NewService(a.repo.Devices(), pusher, logger)

	if cfg.CRM.Enabled() {
		a.leads = leads.NewService(nutshell.New(cfg.CRM, timeout), logger)
	} else {
		logger.Warn().Msg("NUTSHELL_EMAIL/NUTSHELL_API_KEY not set; lead creation disabled")
	}
	return nil
}

func (a *application) catalog(kind catalog.Kind) *catalog.Service {
	if kind == catalog.KindTools {
		return a.tools
	}
	return a.talks
}

func (a *application) Close() {
	a.pool.Close()
}
