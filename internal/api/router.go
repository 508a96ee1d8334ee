package api

import (
	"net/http"
	"sort"
	"strings"

	"github.com/Togather-Foundation/safetynow/internal/api/handlers"
	"github.com/Togather-Foundation/safetynow/internal/api/middleware"
	"github.com/Togather-Foundation/safetynow/internal/config"
	"github.com/Togather-Foundation/safetynow/internal/domain/catalog"
	"github.com/Togather-Foundation/safetynow/internal/domain/devices"
	"github.com/Togather-Foundation/safetynow/internal/domain/history"
	"github.com/Togather-Foundation/safetynow/internal/domain/leads"
	"github.com/Togather-Foundation/safetynow/internal/domain/tickets"
	"github.com/Togather-Foundation/safetynow/internal/domain/users"
	"github.com/Togather-Foundation/safetynow/internal/metrics"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Deps carries everything the router wires into handlers. A nil service
// leaves its routes registered but answering 503.
type Deps struct {
	Config config.Config
	Logger zerolog.Logger

	Users   *users.Service
	Talks   *catalog.Service
	Tools   *catalog.Service
	History *history.Service
	Tickets *tickets.Service
	Leads   *leads.Service
	Devices *devices.Service

	Health *handlers.HealthChecker

	Version   string
	GitCommit string
	BuildDate string
}

func NewRouter(deps Deps) http.Handler {
	env := deps.Config.Environment
	logger := deps.Logger

	health := deps.Health
	if health == nil {
		health = handlers.NewHealthChecker(nil, deps.Version, deps.GitCommit)
	}

	var authn middleware.Authenticator
	if deps.Users != nil {
		authn = deps.Users
	}
	requireUser := middleware.BearerAuth(authn, env)

	limiter := middleware.NewRateLimiter(deps.Config.RateLimit, env)
	loginTier := limiter.Tier(middleware.TierLogin)
	publicTier := limiter.Tier(middleware.TierPublic)
	authedTier := limiter.Tier(middleware.TierAuthenticated)
	jsonBody := middleware.JSONRequestSize()

	// public routes: rate tier then body limit
	public := func(tier func(http.Handler) http.Handler, h http.HandlerFunc) http.Handler {
		return tier(jsonBody(h))
	}
	// protected routes authenticate before the per-user tier applies
	protected := func(h http.HandlerFunc) http.Handler {
		return requireUser(authedTier(jsonBody(h)))
	}

	authHandler := handlers.NewAuthHandler(deps.Users, env)
	profileHandler := handlers.NewProfileHandler(deps.Users, env)
	historyHandler := handlers.NewHistoryHandler(deps.History, env)
	ticketsHandler := handlers.NewTicketsHandler(deps.Tickets, env)
	leadsHandler := handlers.NewLeadsHandler(deps.Leads, env)
	devicesHandler := handlers.NewDevicesHandler(deps.Devices, env)

	mux := http.NewServeMux()

	mux.Handle("GET /health", health.Health())
	mux.Handle("GET /healthz", handlers.Healthz())
	mux.Handle("GET /readyz", health.Readyz())
	mux.Handle("GET /version", VersionHandler(deps.Version, deps.GitCommit, deps.BuildDate))
	mux.Handle("GET /metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	mux.Handle("POST /auth/register", public(loginTier, authHandler.Register))
	mux.Handle("POST /auth/login", public(loginTier, authHandler.Login))
	mux.Handle("POST /auth/forgot-password", public(loginTier, authHandler.ForgotPassword))
	mux.Handle("POST /auth/verify-reset-code", public(loginTier, authHandler.VerifyResetCode))
	mux.Handle("POST /auth/reset-password", public(loginTier, authHandler.ResetPassword))
	mux.Handle("DELETE /auth/delete-account", protected(authHandler.DeleteAccount))

	registerCatalog(mux, catalog.KindTalks, deps.Talks, env, protected)
	registerCatalog(mux, catalog.KindTools, deps.Tools, env, protected)

	historyRoot := methodMux(map[string]http.Handler{
		http.MethodGet:  protected(historyHandler.List),
		http.MethodPost: protected(historyHandler.Create),
	})
	mux.Handle("/history", historyRoot)
	mux.Handle("/history/{$}", historyRoot)
	mux.Handle("GET /history/{id}", protected(historyHandler.Get))
	mux.Handle("DELETE /history/{id}", protected(historyHandler.Delete))

	mux.Handle("POST /ticket", protected(ticketsHandler.Create))
	mux.Handle("POST /api/create-lead", protected(leadsHandler.Create))
	mux.Handle("POST /register-device-token", protected(devicesHandler.Register))
	mux.Handle("POST /profile/upload-image",
		requireUser(authedTier(middleware.UploadRequestSize()(http.HandlerFunc(profileHandler.UploadImage)))))

	mux.Handle("/", publicTier(handlers.NotFound(env)))

	var handler http.Handler = mux
	handler = middleware.CORS(deps.Config.CORS, logger)(handler)
	handler = middleware.SecurityHeaders(env == "production")(handler)
	handler = middleware.RequestLogging(logger)(handler)
	handler = metrics.HTTPMiddleware(handler)
	handler = middleware.Tracing(handler)
	handler = middleware.CorrelationID(logger)(handler)
	return handler
}

// registerCatalog mounts the talk or tool surface under /{kind}.
func registerCatalog(mux *http.ServeMux, kind catalog.Kind, service *catalog.Service, env string, protected func(http.HandlerFunc) http.Handler) {
	h := handlers.NewCatalogHandler(service, env)
	base := "/" + string(kind)

	mux.Handle("GET "+base, protected(h.List))
	mux.Handle("GET "+base+"/{$}", protected(h.List))
	mux.Handle("GET "+base+"/hazards", protected(h.Hazards))
	mux.Handle("GET "+base+"/industries", protected(h.Industries))
	mux.Handle("GET "+base+"/popular", protected(h.Popular))
	mux.Handle("GET "+base+"/{id}", protected(h.Get))
	mux.Handle("GET "+base+"/{first}/{second}", protected(h.Nested))
	mux.Handle("POST "+base+"/{id}/like", protected(h.ToggleLike))
}

func methodMux(handlers map[string]http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if handler, ok := handlers[r.Method]; ok {
			handler.ServeHTTP(w, r)
			return
		}
		w.Header().Set("Allow", allowedMethods(handlers))
		w.WriteHeader(http.StatusMethodNotAllowed)
	})
}

func allowedMethods(handlers map[string]http.Handler) string {
	methods := make([]string, 0, len(handlers))
	for method := range handlers {
		methods = append(methods, method)
	}
	sort.Strings(methods)
	return strings.Join(methods, ", ")
}
