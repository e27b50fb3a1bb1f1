package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/DukeRupert/formwell/internal"
	"github.com/DukeRupert/formwell/internal/auth"
	"github.com/DukeRupert/formwell/internal/domain"
	"github.com/DukeRupert/formwell/internal/email"
	"github.com/DukeRupert/formwell/internal/handler"
	"github.com/DukeRupert/formwell/internal/jobs"
	"github.com/DukeRupert/formwell/internal/metrics"
	"github.com/DukeRupert/formwell/internal/middleware"
	"github.com/DukeRupert/formwell/internal/repository"
	"github.com/DukeRupert/formwell/internal/service"
	"github.com/DukeRupert/formwell/internal/storage"
	"github.com/DukeRupert/formwell/internal/store/postgres"
	"github.com/DukeRupert/formwell/internal/worker"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// multipartMemoryBytes is how much of an upload is held in memory while the
// quota middleware sizes it.
const multipartMemoryBytes = 8 << 20

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load configuration
	cfg, err := internal.NewConfig()
	if err != nil {
		return fmt.Errorf("config initialization failed: %w", err)
	}

	// Configure logger
	logger := internal.NewLogger(os.Stdout, cfg.Env, cfg.LogLevel)

	// Initialize database connection
	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	// Run migrations
	if err := internal.RunMigrations(db); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	version, _ := internal.SchemaVersion(db)
	logger.Info("Database ready", "schema_version", version)

	repo := repository.New(db)

	// ==========================================================================
	// Quota enforcement
	// ==========================================================================

	var notifier service.Notifier = service.NewLogNotifier(logger)
	var jobWorker *worker.Worker
	if cfg.Worker.Enabled {
		jobWorker, err = newWorker(cfg, db, repo, logger)
		if err != nil {
			return err
		}
		notifier = worker.NewNotifier(repo)
	}

	quotaService := service.NewQuotaService(
		postgres.NewPlanStore(repo),
		postgres.NewUsageStore(db, repo),
		notifier,
		service.QuotaConfig{
			Location: cfg.Quota.Location,
			FreePlan: domain.FreePlanLimits(cfg.Quota.FreePlanMaxForms, cfg.Quota.FreePlanMaxSubmissions, cfg.Quota.FreePlanMaxStorageMB),
		},
		logger,
	)

	// ==========================================================================
	// Forms
	// ==========================================================================

	fileStorage, err := storage.New(storage.Config{
		Provider: cfg.Storage.Provider,
		Local:    storage.LocalConfig{BasePath: cfg.Storage.LocalPath, BaseURL: cfg.Storage.LocalURL},
		R2: storage.R2Config{
			AccountID:       cfg.Storage.R2AccountID,
			AccessKeyID:     cfg.Storage.R2AccessKeyID,
			SecretAccessKey: cfg.Storage.R2SecretAccessKey,
			BucketName:      cfg.Storage.R2BucketName,
			PublicURL:       cfg.Storage.R2PublicURL,
		},
	}, logger)
	if err != nil {
		return fmt.Errorf("storage initialization failed: %w", err)
	}
	logger.Info("Storage ready", "provider", cfg.Storage.Provider)

	maxUploadBytes := cfg.Quota.MaxUploadMB * domain.BytesPerMB
	formService := service.NewFormService(repo, fileStorage, maxUploadBytes, logger)

	// ==========================================================================
	// Middleware
	// ==========================================================================

	tokens, err := auth.NewTokens(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer)
	if err != nil {
		return fmt.Errorf("token initialization failed: %w", err)
	}

	isSecure := cfg.Env != "development"
	authMw := middleware.NewAuthMiddleware(tokens, logger)
	loggingMw := middleware.NewRequestLoggingMiddleware(logger)
	securityMw := middleware.NewSecurityHeadersMiddleware(isSecure)

	limiter := middleware.NewRateLimiter(cfg.RateLimit.Requests, cfg.RateLimit.Window)
	defer limiter.Close()
	rateLimitMw := middleware.NewRateLimitMiddleware(limiter, logger)

	quotaMw, err := middleware.NewQuotaMiddleware(quotaService, middleware.DefaultQuotaRoutes(multipartMemoryBytes), logger)
	if err != nil {
		return fmt.Errorf("quota middleware initialization failed: %w", err)
	}

	// ==========================================================================
	// Create router and register routes
	// ==========================================================================

	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", handler.Health(db, logger))
	mux.Handle("GET /metrics", middleware.MetricsAuth(cfg.Metrics.Username, cfg.Metrics.Password)(promhttp.Handler()))

	if cfg.Storage.Provider == "local" {
		mux.Handle("GET /files/", http.StripPrefix("/files/", http.FileServer(http.Dir(cfg.Storage.LocalPath))))
	}

	handler.NewFormHandler(formService, logger).RegisterRoutes(mux, authMw.RequirePrincipal)
	handler.NewUsageHandler(quotaService, logger).RegisterRoutes(mux, authMw.RequirePrincipal)

	// Multipart framing adds a little on top of the file bytes.
	bodyLimit := maxUploadBytes + domain.BytesPerMB

	app := middleware.Stack(
		loggingMw.Handler,
		metrics.Middleware,
		securityMw.Handler,
		rateLimitMw.Limit,
		middleware.MaxBodySize(bodyLimit),
		authMw.WithPrincipal,
		quotaMw.Handler,
	)(mux)

	// ==========================================================================
	// Start server
	// ==========================================================================

	if jobWorker != nil {
		jobWorker.Start(ctx)
		defer jobWorker.Stop()
	}

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           app,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("Server started", "address", server.Addr, "env", cfg.Env)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}
	logger.Info("Shutdown signal received, initiating graceful shutdown...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", "error", err)
	}

	logger.Info("Graceful shutdown complete")
	return nil
}

// newWorker builds the background worker that delivers threshold emails.
func newWorker(cfg *internal.Config, db *sql.DB, repo *repository.Queries, logger *slog.Logger) (*worker.Worker, error) {
	emailService, err := email.NewSMTPEmailService(email.SMTPConfig(cfg.SMTP), cfg.BaseURL, logger)
	if err != nil {
		return nil, fmt.Errorf("email initialization failed: %w", err)
	}

	workerCfg := worker.DefaultConfig()
	workerCfg.Concurrency = cfg.Worker.Concurrency
	workerCfg.PollInterval = cfg.Worker.PollInterval
	workerCfg.JobTimeout = cfg.Worker.JobTimeout

	w, err := worker.New(db, repo, workerCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("worker initialization failed: %w", err)
	}
	w.Register(jobs.NewQuotaThresholdHandler(postgres.NewUserStore(repo), emailService, logger))
	return w, nil
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}
