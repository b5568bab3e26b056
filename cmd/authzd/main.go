package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/teamgrid/authz/pkg/audit"
	"github.com/teamgrid/authz/pkg/cache"
	"github.com/teamgrid/authz/pkg/catalog"
	"github.com/teamgrid/authz/pkg/config"
	"github.com/teamgrid/authz/pkg/directory"
	"github.com/teamgrid/authz/pkg/observability"
	"github.com/teamgrid/authz/pkg/rbac"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "authzd: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx := context.Background()

	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	logger.Info("starting authzd")

	db, err := openDatabase(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()
	logger.Info("database connection established")

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	cacheStore, redisClient, err := buildCache(cfg.Cache)
	if err != nil {
		return err
	}
	logger.WithField("backend", cfg.Cache.Backend).Info("decision cache ready")

	tracerProvider, err := observability.InitTracing(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}

	dbEmitter, err := audit.NewDBEmitter(db)
	if err != nil {
		return err
	}
	emitter := audit.NewAsyncEmitter(dbEmitter, logger, metrics).WithTimeout(cfg.Audit.WriteTimeout)

	resolver := rbac.NewResolver(db, cacheStore, metrics, logger)
	scopeResolver := rbac.NewScopeResolver(db, cacheStore, metrics, logger)

	router := buildRouter(cfg, logger, metrics, resolver, scopeResolver, db, dbEmitter, emitter)

	var handler http.Handler = router
	if cfg.Observability.OTelEnabled {
		handler = otelhttp.NewHandler(router, "authzd")
	}

	server := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	healthServer := buildHealthServer(cfg, registry, db, redisClient)

	shutdown := observability.NewShutdownManager(logger, server, cfg.Server.ShutdownTimeout)
	shutdown.RegisterShutdownFunc(healthServer.Shutdown)
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		return db.Close()
	})
	if redisClient != nil {
		shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
			return redisClient.Close()
		})
	}
	if tracerProvider != nil {
		shutdown.RegisterShutdownFunc(tracerProvider.Shutdown)
	}

	if sweeper := startRetentionSweep(cfg.Audit, dbEmitter, logger); sweeper != nil {
		shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
			sweepCtx := sweeper.Stop()
			select {
			case <-sweepCtx.Done():
			case <-ctx.Done():
			}
			return nil
		})
	}

	go reportPoolStats(ctx, db, metrics)

	var group errgroup.Group
	group.Go(func() error {
		logger.Infof("API server listening on %s", server.Addr)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("API server failed: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		logger.Infof("health server listening on %s", healthServer.Addr)
		if err := healthServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("health server failed: %w", err)
		}
		return nil
	})
	group.Go(shutdown.WaitForShutdown)

	return group.Wait()
}

func openDatabase(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

func buildCache(cfg config.CacheConfig) (cache.Store, *redis.Client, error) {
	switch cfg.Backend {
	case config.CacheBackendRedis:
		store, err := cache.NewRedis(cfg.RedisURL, cfg.TTL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect cache backend: %w", err)
		}
		return store, store.Client(), nil
	default:
		return cache.NewMemory(cfg.MaxEntries, cfg.TTL), nil, nil
	}
}

func buildRouter(
	cfg *config.Config,
	logger *observability.Logger,
	metrics *observability.Metrics,
	resolver *rbac.Resolver,
	scopeResolver *rbac.ScopeResolver,
	db *sql.DB,
	auditStore *audit.DBEmitter,
	emitter audit.Emitter,
) *mux.Router {
	router := mux.NewRouter()
	router.Use(recoveryMiddleware(logger))
	if cfg.Observability.MetricsEnabled {
		router.Use(metrics.HTTPMiddleware)
	}
	router.Use(rbac.ActorMiddleware)

	v1 := router.PathPrefix("/v1").Subrouter()

	rbacHandlers := rbac.NewHandlers(resolver, scopeResolver, emitter)
	rbacHandlers.RegisterDecisionRoutes(v1)

	// Everything past the decision surface needs an administrative role.
	admin := v1.NewRoute().Subrouter()
	admin.Use(rbac.RequireAnyRole(resolver, rbac.RoleAdmin, rbac.RoleSuperAdmin))

	rbacHandlers.RegisterAdminRoutes(admin)
	catalog.NewHandlers(catalog.NewStore(db), scopeResolver, emitter).RegisterRoutes(admin)
	directory.NewHandlers(directory.NewStore(db), resolver, scopeResolver, emitter).RegisterRoutes(admin)
	audit.NewHandlers(auditStore).RegisterRoutes(admin)

	return router
}

func buildHealthServer(cfg *config.Config, registry *prometheus.Registry, db *sql.DB, redisClient *redis.Client) *http.Server {
	checker := observability.NewHealthChecker(db, redisClient)

	healthMux := http.NewServeMux()
	healthMux.HandleFunc("/healthz", checker.Liveness)
	healthMux.HandleFunc("/readyz", checker.Readiness)
	if cfg.Observability.MetricsEnabled {
		healthMux.Handle("/metrics", observability.Handler(registry))
	}

	return &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler:      healthMux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
}

// startRetentionSweep schedules the audit cleanup job. Returns nil when
// retention is disabled.
func startRetentionSweep(cfg config.AuditConfig, store *audit.DBEmitter, logger *observability.Logger) *cron.Cron {
	if cfg.RetentionDays <= 0 {
		return nil
	}

	retention := time.Duration(cfg.RetentionDays) * 24 * time.Hour
	sweeper := cron.New()
	_, err := sweeper.AddFunc(cfg.CleanupSchedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()

		deleted, err := store.Cleanup(ctx, retention)
		if err != nil {
			logger.WithError(err).Error("audit retention sweep failed")
			return
		}
		logger.WithField("deleted", deleted).Info("audit retention sweep complete")
	})
	if err != nil {
		logger.WithError(err).Error("invalid audit cleanup schedule, sweep disabled")
		return nil
	}

	sweeper.Start()
	logger.WithField("schedule", cfg.CleanupSchedule).Info("audit retention sweep scheduled")
	return sweeper
}

func recoveryMiddleware(logger *observability.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.WithField("panic", rec).
						WithField("path", r.URL.Path).
						Error("panic recovered in handler")
					http.Error(w, "internal server error", http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// reportPoolStats mirrors the sql pool gauges into prometheus.
func reportPoolStats(ctx context.Context, db *sql.DB, metrics *observability.Metrics) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := db.Stats()
			metrics.DBConnectionsActive.Set(float64(stats.InUse))
			metrics.DBConnectionsIdle.Set(float64(stats.Idle))
		}
	}
}
