package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/frahmantamala/crm-authz/internal"
	"github.com/frahmantamala/crm-authz/internal/access"
	"github.com/frahmantamala/crm-authz/internal/audit"
	"github.com/frahmantamala/crm-authz/internal/auth"
	"github.com/frahmantamala/crm-authz/internal/core/events"
	"github.com/frahmantamala/crm-authz/internal/observability"
	"github.com/frahmantamala/crm-authz/internal/transport/rest"
	"github.com/frahmantamala/crm-authz/pkg/logger"

	"github.com/go-chi/chi"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
)

var httpServerCmd = &cobra.Command{
	Use:   "server",
	Short: "Start HTTP server",
	Long:  `Start the HTTP server to handle API requests`,
	Run: func(cmd *cobra.Command, args []string) {
		startHTTPServer()
	},
}

type Dependencies struct {
	Config   *internal.Config
	Store    *store
	EventBus *events.EventBus
	Router   *chi.Mux
	Logger   *slog.Logger
}

func startHTTPServer() {
	deps, err := initializeDependencies()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize dependencies: %v\n", err)
		os.Exit(1)
	}

	addr := fmt.Sprintf(":%d", deps.Config.Server.Port)
	deps.Logger.Info("Starting HTTP server", "address", addr, "driver", deps.Config.Database.GetDriver())

	server := &http.Server{
		Addr:              addr,
		Handler:           deps.Router,
		ReadHeaderTimeout: deps.Config.Server.ReadHeaderTimeout,
		ReadTimeout:       deps.Config.Server.ReadTimeout,
		WriteTimeout:      deps.Config.Server.WriteTimeout,
		IdleTimeout:       deps.Config.Server.IdleTimeout,
	}

	// Signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	serverErrChan := make(chan error, 1)
	go func() {
		serverErrChan <- server.ListenAndServe()
	}()

	select {
	case sig := <-sigChan:
		deps.Logger.Info("Received signal, shutting down...", "signal", sig)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			deps.Logger.Error("Server shutdown error", "error", err)
		}
		// let pending audit writes finish before the pool goes away
		deps.EventBus.Wait()
		if err := deps.Store.Close(); err != nil {
			deps.Logger.Error("Database close error", "error", err)
		}
	case err := <-serverErrChan:
		if err != nil && err != http.ErrServerClosed {
			deps.Logger.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}

	deps.Logger.Info("Server stopped")
}

func initializeDependencies() (*Dependencies, error) {
	config, err := loadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	lg := logger.LoggerWrapper()

	publicKey, err := config.Security.GetPublicKey()
	if err != nil {
		return nil, fmt.Errorf("invalid JWT public key: %w", err)
	}

	st, err := openStore(config.Database, lg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	var metrics *observability.Metrics
	if config.Observability.Metrics.Enabled {
		metrics = observability.NewMetrics(registry)
	}

	bus := events.NewEventBus(lg)
	audit.NewRecorder(st.Gateway, lg).RegisterEventHandlers(bus)

	svc := access.NewService(st.Gateway, bus, metrics, lg, access.SessionOptions{
		Size: config.Session.GetCacheSize(),
		TTL:  config.Session.GetTTL(),
	})

	router := chi.NewRouter()
	routeDeps := rest.Dependencies{
		DB:             st.SQL.DB,
		DBDriver:       config.Database.GetDriver(),
		AccessHandler:  access.NewHandler(svc),
		Authenticator:  auth.NewAuthenticator(auth.NewJWTValidator(publicKey, config.Security.JWTIssuer, config.Security.GetOrgClaim()), svc, lg),
		RBAC:           auth.NewRBACAuthorization(metrics, lg),
		Metrics:        metrics,
		AllowedOrigins: config.Server.AllowedOrigins,
		Logger:         lg,
	}
	if metrics != nil {
		routeDeps.Gatherer = registry
		routeDeps.MetricsPath = config.Observability.Metrics.Path
	}
	rest.RegisterAllRoutes(router, routeDeps)

	return &Dependencies{
		Config:   config,
		Store:    st,
		EventBus: bus,
		Router:   router,
		Logger:   lg,
	}, nil
}
