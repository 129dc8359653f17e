package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fluxlabs/flux/infrastructure/logging"
	"github.com/fluxlabs/flux/infrastructure/metrics"
	"github.com/fluxlabs/flux/infrastructure/middleware"
	"github.com/fluxlabs/flux/infrastructure/resilience"
	fluxruntime "github.com/fluxlabs/flux/infrastructure/runtime"
	"github.com/fluxlabs/flux/infrastructure/utils"
	"github.com/fluxlabs/flux/internal/eventlog"
	"github.com/fluxlabs/flux/internal/httpapi"
	"github.com/fluxlabs/flux/internal/namespace"
	"github.com/fluxlabs/flux/internal/platform/database"
	"github.com/fluxlabs/flux/internal/platform/migrations"
	"github.com/fluxlabs/flux/internal/ratelimit"
	"github.com/fluxlabs/flux/internal/recovery"
	"github.com/fluxlabs/flux/internal/runtimeconfig"
	"github.com/fluxlabs/flux/internal/snapshot"
	"github.com/fluxlabs/flux/internal/stateengine"
	"github.com/fluxlabs/flux/internal/ws"
)

func main() {
	boot, err := loadBootConfig()
	if err != nil {
		log.Fatalf("load boot config: %v", err)
	}

	logger := logging.NewFromEnv("flux")
	m := metrics.New("flux")
	rootCtx := context.Background()

	registry := buildNamespaceRegistry(rootCtx, logger, boot.NamespaceDSN)
	cfgStore := runtimeconfig.NewStore(runtimeconfig.FromEnv())
	limiter := ratelimit.New(func() int {
		return int(cfgStore.Get().RateLimitPerNamespacePerMinute)
	})

	eventLog, err := buildEventLog(logger, boot.NATSURL, boot.NATSStream)
	if err != nil {
		log.Fatalf("connect event log: %v", err)
	}
	defer eventLog.Close()

	engine := stateengine.New(logger, m)

	snapDir := boot.SnapshotDir
	if err := os.MkdirAll(snapDir, 0o755); err != nil {
		log.Fatalf("create snapshot dir %s: %v", snapDir, err)
	}
	startSequence := recovery.Recover(rootCtx, snapDir, engine, logger)

	replayCtx, cancelReplay := context.WithCancel(rootCtx)
	utils.SafeGo(func() {
		if err := stateengine.Run(replayCtx, engine, eventLog, eventSubjectWildcard(), startSequence); err != nil && replayCtx.Err() == nil {
			logger.WithContext(replayCtx).WithError(err).Error("replay subscriber exited")
		}
	}, func(err error) {
		logger.WithContext(replayCtx).WithError(err).Error("replay subscriber panicked")
	})

	snapManagerCfg := snapshot.DefaultManagerConfig(snapDir)
	snapManagerCfg.Enabled = fluxruntime.ResolveBool(snapManagerCfg.Enabled, "FLUX_SNAPSHOT_ENABLED")
	if secs, ok := fluxruntime.ParseEnvInt("FLUX_SNAPSHOT_INTERVAL_SECONDS"); ok && secs > 0 {
		snapManagerCfg.Interval = time.Duration(secs) * time.Second
	}
	if n, ok := fluxruntime.ParseEnvInt("FLUX_SNAPSHOT_KEEP_COUNT"); ok && n > 0 {
		snapManagerCfg.KeepCount = n
	}
	snapManager := snapshot.NewManager(snapManagerCfg, engine, logger, m)
	snapCtx, cancelSnap := context.WithCancel(rootCtx)
	utils.SafeGo(func() { snapManager.Run(snapCtx) }, func(err error) {
		logger.WithContext(snapCtx).WithError(err).Error("snapshot manager panicked")
	})

	hub := ws.NewHub(engine, logger, m)

	authEnabled := fluxruntime.ResolveBool(boot.AuthEnabled, "FLUX_AUTH_ENABLED")
	server := httpapi.NewServer(httpapi.Config{
		Registry:    registry,
		Engine:      engine,
		Log:         eventLog,
		RuntimeCfg:  cfgStore,
		Limiter:     limiter,
		Hub:         hub,
		Logger:      logger,
		Metrics:     m,
		AuthEnabled: authEnabled,
		AdminToken:  boot.AdminToken,
	})

	router := server.Router()
	router.Use(middleware.LoggingMiddleware(logger))
	router.Use(middleware.MetricsMiddleware("flux", m))
	corsOrigins := strings.Split(fluxruntime.ResolveString("", "FLUX_CORS_ALLOWED_ORIGINS", "*"), ",")
	router.Use(middleware.NewCORSMiddleware(&middleware.CORSConfig{AllowedOrigins: corsOrigins}).Handler)
	router.Use(middleware.NewRecoveryMiddleware(logger).Handler)
	router.Use(middleware.NewSecurityHeadersMiddleware(nil).Handler)
	router.Use(middleware.NewBodyLimitMiddleware(int64(cfgStore.Get().BodySizeLimitBatchBytes)).Handler)
	router.Use(middleware.NewTimeoutMiddleware(30 * time.Second).Handler)
	router.Use(middleware.NewRateLimiterWithWindow(600, time.Minute, 50, logger).Handler)

	health := middleware.NewHealthChecker("flux")
	health.RegisterCheck("event_log", func() error { return nil })
	router.HandleFunc("/healthz", health.Handler())
	router.HandleFunc("/livez", middleware.LivenessHandler())
	ready := new(bool)
	utils.SafeGo(func() {
		for engine.IsReplaying() {
			time.Sleep(50 * time.Millisecond)
		}
		*ready = true
	}, func(err error) {
		logger.WithContext(rootCtx).WithError(err).Error("readiness watcher panicked")
	})
	router.HandleFunc("/readyz", middleware.ReadinessHandler(ready))
	router.Handle("/metrics", promhttp.Handler())

	httpServer := &http.Server{
		Addr:    boot.Addr,
		Handler: router,
	}

	go func() {
		logger.WithContext(rootCtx).Info("flux listening on " + boot.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server: %v", err)
		}
	}()

	shutdown := middleware.NewGracefulShutdown(httpServer, 10*time.Second)
	shutdown.OnShutdown(cancelReplay)
	shutdown.OnShutdown(cancelSnap)
	shutdown.ListenForSignals()
	shutdown.Wait()
}

func eventSubjectWildcard() string {
	return "events.>"
}

func buildNamespaceRegistry(ctx context.Context, logger *logging.Logger, dsn string) *namespace.Registry {
	if dsn == "" {
		logger.WithContext(ctx).Info("FLUX_NAMESPACE_DB unset, using in-memory namespace store")
		return namespace.NewRegistry(namespace.NewMemoryStore())
	}

	var db *sqlx.DB
	retryErr := resilience.Retry(ctx, resilience.DefaultRetryConfig(), func() error {
		opened, err := database.Open(ctx, dsn)
		if err != nil {
			return err
		}
		db = opened
		return nil
	})
	if retryErr != nil {
		logger.WithContext(ctx).WithError(retryErr).Warn("namespace database unreachable, falling back to in-memory store")
		return namespace.NewRegistry(namespace.NewMemoryStore())
	}
	if err := migrations.Apply(ctx, db.DB); err != nil {
		log.Fatalf("apply namespace migrations: %v", err)
	}
	return namespace.NewRegistry(namespace.NewPostgresStore(db))
}

func buildEventLog(logger *logging.Logger, url, stream string) (eventlog.Log, error) {
	if url == "" {
		logger.WithContext(context.Background()).Info("FLUX_NATS_URL unset, using in-memory event log")
		return eventlog.NewMemoryLog(), nil
	}
	var natsLog *eventlog.NATSLog
	retryErr := resilience.Retry(context.Background(), resilience.DefaultRetryConfig(), func() error {
		conn, err := eventlog.Connect(eventlog.NATSConfig{
			URL:        url,
			StreamName: stream,
			Subjects:   []string{"events.>"},
		}, logger)
		if err != nil {
			return err
		}
		natsLog = conn
		return nil
	})
	if retryErr != nil {
		return nil, retryErr
	}
	return natsLog, nil
}
