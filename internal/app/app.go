// Package app wires configuration, infrastructure, and the validation
// engine into a running HTTP service.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"licgate/internal/config"
	"licgate/internal/infrastructure"
	"licgate/internal/integrity"
	"licgate/internal/license"
	customMiddleware "licgate/internal/middleware"
	"licgate/internal/notify"
	"licgate/internal/ratelimit"
	"licgate/internal/reputation"
	"licgate/internal/store"
	handlers "licgate/internal/transport/http"
	"licgate/pkg/contracts"
)

const AppName = "licgate"

// Application is the main application container. All collaborators are
// built once at startup and injected explicitly.
type Application struct {
	Config        *config.Config
	Router        *chi.Mux
	Server        *http.Server
	Engine        *license.Engine
	Logger        *slog.Logger
	OTelProviders *infrastructure.OTelProviders

	redisClient *redis.Client
	memLimiter  *ratelimit.InMemoryLimiter
}

// NewApplication creates a new application instance with dependency
// injection.
func NewApplication(ctx context.Context) (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	logger.Info("Application starting",
		slog.String("name", AppName),
		slog.String("build", contracts.GetFullVersionString()),
		slog.Int("port", cfg.Server.Port))

	otelProviders, err := infrastructure.InitializeOTel(cfg.Telemetry, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	app := &Application{
		Config:        cfg,
		Logger:        logger,
		OTelProviders: otelProviders,
	}

	if err := app.initializeServices(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	app.setupRouter()
	app.createServer()

	return app, nil
}

// initializeServices builds the validation engine and everything it
// depends on, in dependency order.
func (a *Application) initializeServices(ctx context.Context) error {
	client, err := store.NewClient(ctx, a.Config.Redis)
	if err != nil {
		return fmt.Errorf("failed to connect to keyed store: %w", err)
	}
	a.redisClient = client

	licenseStore := store.NewRedisStore(client, a.Logger)
	guard := reputation.NewGuard(client, a.Config.Security.SuspiciousAttemptThreshold, a.Logger)

	var limiter ratelimit.Limiter
	if a.Config.RateLimit.Shared {
		limiter = ratelimit.NewRedis(client, a.Config.RateLimit.Capacity, a.Config.RateLimit.Window)
		a.Logger.Info("Using shared rate limit window")
	} else {
		mem := ratelimit.NewInMemory(a.Config.RateLimit.Capacity, a.Config.RateLimit.Window)
		mem.StartSweep(a.Config.RateLimit.SweepInterval)
		a.memLimiter = mem
		limiter = mem
	}

	signingSeed := a.Config.Security.SigningSeed
	if signingSeed == "" {
		signingSeed = uuid.NewString()
		a.Logger.Warn("No signing seed configured, payloads signed with an ephemeral key")
	}
	signer, err := license.NewNaClSigner(signingSeed)
	if err != nil {
		return fmt.Errorf("failed to initialize payload signer: %w", err)
	}

	heartbeatSecret := a.Config.Security.HeartbeatSecret
	if heartbeatSecret == "" {
		heartbeatSecret = uuid.NewString()
		a.Logger.Warn("No heartbeat secret configured, tokens will not survive restarts")
	}

	metrics, err := license.NewMetrics(a.OTelProviders.Meter)
	if err != nil {
		return fmt.Errorf("failed to initialize engine metrics: %w", err)
	}

	a.Engine = license.NewEngine(license.Options{
		Store:         licenseStore,
		Guard:         guard,
		Limiter:       limiter,
		Integrity:     &integrity.Checker{RequireFingerprint: a.Config.Security.RequireFingerprint},
		Notifier:      notify.NewPublisher(client, a.Logger),
		Activity:      notify.NewActivityLog(client, a.Logger),
		Signer:        signer,
		Tokens:        license.NewTokenIssuer(heartbeatSecret),
		Metrics:       metrics,
		Tracer:        a.OTelProviders.Tracer,
		Logger:        a.Logger,
		KillThreshold: a.Config.Security.TamperKillThreshold,
	})

	return nil
}

// setupRouter configures the HTTP router with all routes.
func (a *Application) setupRouter() {
	r := chi.NewRouter()

	r.Use(customMiddleware.RequestID)
	r.Use(customMiddleware.RealIP)
	r.Use(customMiddleware.StructuredLogger(a.Logger))
	r.Use(customMiddleware.Recoverer(a.Logger))
	r.Use(customMiddleware.SecurityHeaders)

	if a.Config.Security.EnableCORS {
		r.Use(customMiddleware.CORS(customMiddleware.CORSConfig{
			AllowedOrigins: a.Config.Security.AllowedOrigins,
			Logger:         a.Logger,
		}))
	}

	if a.Config.RateLimit.Enabled {
		r.Use(customMiddleware.NewGlobalRateLimiter(
			a.Config.RateLimit.RPS,
			a.Config.RateLimit.Burst,
			a.Logger,
		).Handler)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(render.SetContentType(render.ContentTypeJSON))
		validateHandler := handlers.NewValidateHandler(a.Engine, a.Logger)
		r.Mount("/license", validateHandler.Routes(a.Config.Server.RequestTimeout))
	})

	healthHandler := handlers.NewHealthHandler(a.redisClient, a.Logger)
	r.Get("/healthz", healthHandler.Liveness)
	r.Get("/readyz", healthHandler.Readiness)

	if a.OTelProviders.PrometheusHTTP != nil {
		r.Handle("/metrics", a.OTelProviders.PrometheusHTTP)
	}

	a.Router = r
}

// createServer creates the HTTP server.
func (a *Application) createServer() {
	a.Server = &http.Server{
		Addr:         fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler:      a.Router,
		ReadTimeout:  a.Config.Server.ReadTimeout,
		WriteTimeout: a.Config.Server.WriteTimeout,
		IdleTimeout:  a.Config.Server.IdleTimeout,
	}
}

// Stop gracefully stops the application.
func (a *Application) Stop(ctx context.Context) error {
	a.Logger.InfoContext(ctx, "Shutting down application")

	shutdownCtx, cancel := context.WithTimeout(ctx, a.Config.Server.ShutdownTimeout)
	defer cancel()

	if err := a.Server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}

	// Drain in-flight notification dispatches before tearing down the
	// Redis connection they publish through.
	a.Engine.Flush()

	if a.memLimiter != nil {
		a.memLimiter.Stop()
	}

	if a.OTelProviders != nil {
		if err := a.OTelProviders.Shutdown(shutdownCtx); err != nil {
			a.Logger.ErrorContext(ctx, "Error shutting down OpenTelemetry", slog.String("error", err.Error()))
		}
	}

	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.Logger.ErrorContext(ctx, "Error closing keyed store client", slog.String("error", err.Error()))
		}
	}

	a.Logger.InfoContext(ctx, "Application shutdown complete")
	infrastructure.CloseLogFile()
	return nil
}

// Run serves until interrupted, then shuts down gracefully.
func (a *Application) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Logger.InfoContext(gctx, "Application started",
			slog.String("address", a.Server.Addr),
			slog.Bool("shared_rate_limit", a.Config.RateLimit.Shared),
			slog.Bool("require_fingerprint", a.Config.Security.RequireFingerprint))

		if err := a.Server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		return a.Stop(context.Background())
	})

	return g.Wait()
}
