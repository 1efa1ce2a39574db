package rest

import (
	"database/sql"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/frahmantamala/crm-authz/api"
	"github.com/frahmantamala/crm-authz/internal"
	"github.com/frahmantamala/crm-authz/internal/access"
	"github.com/frahmantamala/crm-authz/internal/auth"
	"github.com/frahmantamala/crm-authz/internal/observability"
	"github.com/frahmantamala/crm-authz/internal/transport/middleware"
	"github.com/frahmantamala/crm-authz/internal/transport/swagger"
	"github.com/go-chi/chi"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	PermissionPhoneVisibility = "settings.phone_visibility"

	mutationRateLimit  = 60
	mutationRateWindow = time.Minute
)

type Dependencies struct {
	DB             *sql.DB
	DBDriver       string
	AccessHandler  *access.Handler
	Authenticator  *auth.Authenticator
	RBAC           *auth.RBACAuthorization
	Metrics        *observability.Metrics
	Gatherer       prometheus.Gatherer
	MetricsPath    string
	AllowedOrigins string
	Logger         *slog.Logger
}

func RegisterAllRoutes(router *chi.Mux, deps Dependencies) {
	healthHandler := NewHealthHandler(deps.DB, deps.DBDriver)

	// Apply global middleware
	router.Use(middleware.CORS(deps.AllowedOrigins))
	router.Use(middleware.RequestID)
	router.Use(middleware.RecoveryMiddleware(deps.Logger))
	router.Use(middleware.LoggingMiddleware(deps.Logger))
	if deps.Metrics != nil {
		router.Use(observability.HTTPMetricsMiddleware(deps.Metrics))
	}

	router.Get(swagger.SpecURL, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/yaml")
		_, _ = w.Write(api.Spec)
	})
	router.Handle("/swagger/*", swagger.Handler())
	if deps.Gatherer != nil {
		path := deps.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		router.Handle(path, observability.Handler(deps.Gatherer))
	}

	router.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", healthHandler.healthCheckHandler)
		r.Get("/ping", healthHandler.pingHandler)

		if deps.Authenticator == nil || deps.AccessHandler == nil {
			return
		}
		h := deps.AccessHandler
		rbac := deps.RBAC

		r.Route("/access", func(ar chi.Router) {
			ar.Use(deps.Authenticator.AuthMiddleware)

			// any authenticated caller, including one without a role
			ar.Get("/me", h.Me)
			ar.Get("/check", h.Check)
			ar.Get("/pages", h.Pages)
			ar.Post("/phone/format", h.FormatPhones)
			ar.Post("/refresh", h.Refresh)

			ar.Group(func(gr chi.Router) {
				gr.Use(rbac.RequireOrgAdmin())
				gr.Get("/permissions", h.Permissions)
				gr.Get("/roles", h.Roles)
				gr.Get("/visibility", h.VisibilityRules)
				gr.Get("/audit", h.AuditTrail)
			})

			ar.Group(func(mr chi.Router) {
				mr.Use(mutationLimiter())

				mr.Group(func(gr chi.Router) {
					gr.Use(rbac.RequireOrgAdmin())
					gr.Post("/roles", h.CreateRole)
					gr.Patch("/roles/{id}", h.UpdateRole)
					gr.Delete("/roles/{id}", h.DeleteRole)
					gr.Put("/roles/{id}/permissions", h.SetRolePermissions)
					gr.Put("/roles/{id}/pages", h.SetPageVisibility)
					gr.Put("/assignments", h.AssignRole)
				})

				mr.Group(func(gr chi.Router) {
					gr.Use(rbac.Require(PermissionPhoneVisibility))
					gr.Put("/roles/{id}/phone", h.SetPhoneVisibility)
				})

				mr.Group(func(gr chi.Router) {
					gr.Use(rbac.RequireSuperAdmin())
					gr.Post("/organizations", h.CreateOrganization)
				})
			})
		})
	})
}

// mutationLimiter throttles writes per user, falling back to the client IP.
func mutationLimiter() func(http.Handler) http.Handler {
	return httprate.Limit(mutationRateLimit, mutationRateWindow,
		httprate.WithKeyFuncs(rateLimitKey),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
		}),
	)
}

func rateLimitKey(r *http.Request) (string, error) {
	if user := strings.TrimSpace(internal.UserIDFromContext(r.Context())); user != "" {
		return "user:" + user, nil
	}
	key, err := httprate.KeyByIP(r)
	if err != nil {
		return "", err
	}
	return "ip:" + key, nil
}
