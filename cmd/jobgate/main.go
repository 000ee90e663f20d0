package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"

	"github.com/jobgate/jobgate/pkg/api"
	"github.com/jobgate/jobgate/pkg/audit"
	"github.com/jobgate/jobgate/pkg/auth"
	"github.com/jobgate/jobgate/pkg/config"
	"github.com/jobgate/jobgate/pkg/jobs"
	"github.com/jobgate/jobgate/pkg/middleware"
	"github.com/jobgate/jobgate/pkg/observability"
	"github.com/jobgate/jobgate/pkg/rbac"
	"github.com/jobgate/jobgate/pkg/scheduler"
	"github.com/jobgate/jobgate/pkg/seed"
	"github.com/jobgate/jobgate/pkg/storage/postgres"
	"github.com/jobgate/jobgate/pkg/users"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		observability.NewLogger(observability.ErrorLevel, os.Stderr).
			WithError(err).Error("failed to load configuration")
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	logger.Info("starting jobgate")

	registry := prometheus.NewRegistry()
	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(registry)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database
	db, err := postgres.Connect(ctx, cfg.Database)
	if err != nil {
		logger.WithError(err).Error("failed to connect to postgres")
		os.Exit(1)
	}
	defer db.Close()
	postgres.StartPoolMetrics(ctx, db, metrics, 15*time.Second)

	if err := rbac.RunMigrations(ctx, db); err != nil {
		logger.WithError(err).Error("failed to run migrations")
		os.Exit(1)
	}
	logger.Info("database migrations applied")

	// Stores
	roleStore := rbac.NewStore(db)
	userStore := users.NewStore(db)
	resolver := rbac.NewResolver(roleStore)
	gate := rbac.NewGate(roleStore)

	// First-boot seeding
	seeder := seed.NewSeeder(userStore, roleStore, logger)
	if err := seeder.Run(ctx, cfg.Seed); err != nil {
		logger.WithError(err).Error("failed to seed database")
		os.Exit(1)
	}

	// Redis is optional; only distributed rate limiting depends on it
	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			logger.WithError(err).Error("invalid redis URL")
			os.Exit(1)
		}
		redisClient = redis.NewClient(opts)
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.WithError(err).Warn("redis unreachable, falling back to in-process rate limiting")
			redisClient.Close()
			redisClient = nil
		} else {
			defer redisClient.Close()
		}
	}

	// External scheduler client. A failed login here is not fatal: the
	// admin may come up later and the client re-authenticates on demand.
	schedClient := scheduler.NewClient(cfg.Scheduler, logger, metrics)
	if err := schedClient.Login(ctx); err != nil {
		logger.WithError(err).Warn("initial scheduler login failed")
	} else {
		logger.WithField("admin", cfg.Scheduler.BaseURL).Info("authenticated against scheduler admin")
	}

	// Audit trail
	recorder, err := audit.NewDBRecorder(db)
	if err != nil {
		logger.WithError(err).Error("failed to initialize audit recorder")
		os.Exit(1)
	}
	defer recorder.Close()
	auditStore := audit.NewStore(db)

	// Retention cleanup on a cron schedule
	cronRunner := cron.New()
	_, err = cronRunner.AddFunc(cfg.Audit.CleanupSchedule, func() {
		defer observability.RecoverPanic(logger, "audit cleanup")

		cleanupCtx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()

		deleted, err := auditStore.Cleanup(cleanupCtx, cfg.Audit.RetentionDays)
		if err != nil {
			logger.WithError(err).Error("audit retention cleanup failed")
			return
		}
		logger.WithField("deleted", deleted).Info("audit retention cleanup completed")
	})
	if err != nil {
		logger.WithError(err).Error("invalid audit cleanup schedule")
		os.Exit(1)
	}
	cronRunner.Start()

	// Token issuer and job service
	issuer, err := auth.NewTokenIssuer(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTL, cfg.Auth.RefreshTokenTTL)
	if err != nil {
		logger.WithError(err).Error("failed to initialize token issuer")
		os.Exit(1)
	}
	jobService := jobs.NewService(gate, resolver, schedClient, recorder, logger, metrics)

	server := api.NewServer(api.Deps{
		Users:      userStore,
		Roles:      roleStore,
		Resolver:   resolver,
		Jobs:       jobService,
		AuditStore: auditStore,
		Issuer:     issuer,
		Logger:     logger,
	})

	handler := buildMiddlewareChain(ctx, server, redisClient, metrics)

	httpServer := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Health and metrics on a separate listener for probes
	healthMux := http.NewServeMux()
	checker := observability.NewHealthChecker(db, redisClient, schedClient)
	observability.RegisterHealthRoutes(healthMux, checker)
	if cfg.Observability.MetricsEnabled {
		observability.RegisterMetricsEndpoint(healthMux, registry)
	}
	healthServer := &http.Server{
		Addr:    cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler: healthMux,
	}
	go func() {
		logger.WithField("addr", healthServer.Addr).Info("health server listening")
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("health server failed")
		}
	}()

	shutdown := observability.NewShutdownManager(logger, httpServer, cfg.Server.ShutdownTimeout)
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		cronRunner.Stop()
		return nil
	})
	shutdown.RegisterShutdownFunc(healthServer.Shutdown)

	go func() {
		logger.WithField("addr", httpServer.Addr).Info("api server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("api server failed")
			os.Exit(1)
		}
	}()

	if err := shutdown.WaitForShutdown(); err != nil {
		logger.WithError(err).Error("shutdown finished with errors")
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

// buildMiddlewareChain wraps the API server with the outer middleware:
// request IDs, HTTP metrics, and rate limiting. Authentication lives
// inside the API router.
func buildMiddlewareChain(ctx context.Context, server *api.Server, redisClient *redis.Client, metrics *observability.Metrics) http.Handler {
	var handler http.Handler = server

	if redisClient != nil {
		limiter := middleware.NewDistributedRateLimiter(redisClient, middleware.DefaultRateLimitConfig(), "jobgate")
		handler = limiter.Handler(handler)
	} else {
		limiter := middleware.NewRateLimitMiddleware()
		limiter.StartCleanup(ctx)
		handler = limiter.Handler(handler)
	}

	if metrics != nil {
		handler = observability.HTTPMetricsMiddleware(metrics)(handler)
	}

	return middleware.RequestID(handler)
}
