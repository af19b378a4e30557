package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"
	"github.com/robfig/cron/v3"

	"github.com/skyguard-io/skyguard/pkg/api"
	"github.com/skyguard-io/skyguard/pkg/audit"
	"github.com/skyguard-io/skyguard/pkg/auth"
	"github.com/skyguard-io/skyguard/pkg/config"
	"github.com/skyguard-io/skyguard/pkg/federated"
	"github.com/skyguard-io/skyguard/pkg/middleware"
	"github.com/skyguard-io/skyguard/pkg/observability"
	"github.com/skyguard-io/skyguard/pkg/platform"
	"github.com/skyguard-io/skyguard/pkg/storage"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "skyguard: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	log := observability.NewLogger(cfg.Observability.LogLevel, nil).
		WithField("service", "skyguard")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := openDatabase(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer db.Close()

	store := storage.NewPostgresStore(db)

	recorder, err := audit.NewPostgresRecorder(db)
	if err != nil {
		return fmt.Errorf("creating audit recorder: %w", err)
	}
	if err := recorder.Migrate(ctx); err != nil {
		return fmt.Errorf("migrating audit schema: %w", err)
	}
	asyncRecorder := audit.NewAsyncRecorder(ctx, recorder, 2, log)

	issuer, err := auth.NewTokenIssuer(cfg.Auth.TokenSecret)
	if err != nil {
		return fmt.Errorf("creating token issuer: %w", err)
	}

	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(nil)
		go pollDBStats(ctx, db, metrics)
	}

	var redisClient *redis.Client
	var limiter *middleware.LoginRateLimiter
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.WithError(err).Warn("redis unreachable at startup, continuing without it")
		}
		limiter = middleware.NewLoginRateLimiter(
			redisClient, cfg.Redis.LoginLimit, cfg.Redis.LoginWindow, log, metrics)
		defer redisClient.Close()
	}

	var validator *federated.Validator
	var resolver *federated.Provisioner
	var loginFlow *federated.LoginFlow
	if cfg.Federated.Enabled() {
		keys := federated.NewKeySet(federated.KeySetConfig{
			TenantID:            cfg.Federated.TenantID,
			ClientID:            cfg.Federated.ClientID,
			Authority:           cfg.Federated.Authority,
			ExtraAudiences:      cfg.Federated.ExtraAudiences,
			AutoRefreshInterval: cfg.Federated.AutoRefreshInterval,
			MinRefreshInterval:  cfg.Federated.MinRefreshInterval,
			Metrics:             metrics,
		}, log)
		validator = federated.NewValidator(keys, log)
		resolver = federated.NewProvisioner(store, cfg.Federated.SecurityGroupID, asyncRecorder, log)
		log.WithField("tenant", cfg.Federated.TenantID).Info("federated sign-in enabled")

		// The interactive browser flow additionally needs the client
		// secret and a registered redirect URL.
		if cfg.Federated.ClientSecret != "" && cfg.Federated.RedirectURL != "" {
			loginFlow, err = federated.NewLoginFlow(ctx, federated.LoginConfig{
				TenantID:     cfg.Federated.TenantID,
				ClientID:     cfg.Federated.ClientID,
				ClientSecret: cfg.Federated.ClientSecret,
				RedirectURL:  cfg.Federated.RedirectURL,
				Authority:    cfg.Federated.Authority,
			})
			if err != nil {
				log.WithError(err).Warn("interactive federated login unavailable, continuing with bearer validation only")
				loginFlow = nil
			} else {
				log.Info("interactive federated login enabled")
			}
		}
	} else {
		log.Info("federated sign-in not configured")
	}

	incidents := platform.NewMemoryPlatform()

	deps := api.Deps{
		Log:            log,
		Metrics:        metrics,
		Store:          store,
		Authenticator:  auth.NewPasswordAuthenticator(store),
		Issuer:         issuer,
		Limiter:        limiter,
		Recorder:       asyncRecorder,
		Incidents:      incidents,
		Responses:      incidents,
		Reports:        incidents,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	}
	if validator != nil {
		deps.Validator = validator
		deps.Resolver = resolver
	}
	if loginFlow != nil {
		deps.Login = loginFlow
	}
	server := api.NewServer(deps)

	scheduler := startScheduler(ctx, store, recorder, log)

	healthSrv := startHealthServer(cfg, log, db, redisClient, metrics)

	addr := cfg.Server.Host + ":" + cfg.Server.Port
	httpSrv := &http.Server{
		Addr:         addr,
		Handler:      server.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := observability.NewShutdownManager(log, httpSrv, cfg.Server.ShutdownTimeout)
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		scheduler.Stop()
		return nil
	})
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		return healthSrv.Shutdown(ctx)
	})
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		cancel()
		return asyncRecorder.Close()
	})

	go func() {
		log.WithField("addr", addr).Info("listening")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("server stopped")
		}
	}()

	return shutdown.WaitForShutdown()
}

func openDatabase(ctx context.Context, cfg *config.Config, log *observability.Logger) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	if err := storage.NewPostgresStore(db).Migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating user schema: %w", err)
	}
	log.Info("database ready")
	return db, nil
}

// pollDBStats keeps the connection pool gauges current.
func pollDBStats(ctx context.Context, db *sql.DB, metrics *observability.Metrics) {
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

// auditRetention bounds how long audit events are kept.
const auditRetention = 90 * 24 * time.Hour

// startScheduler runs the hourly purge of expired refresh tokens and the
// daily purge of audit events past retention.
func startScheduler(ctx context.Context, store *storage.PostgresStore, recorder *audit.PostgresRecorder, log *observability.Logger) *cron.Cron {
	scheduler := cron.New()
	_, err := scheduler.AddFunc("@hourly", func() {
		n, err := store.PurgeExpiredRefreshTokens(ctx)
		if err != nil {
			log.WithError(err).Warn("refresh token purge failed")
			return
		}
		if n > 0 {
			log.WithField("purged", n).Info("cleared expired refresh tokens")
		}
	})
	if err != nil {
		log.WithError(err).Warn("could not schedule refresh token purge")
	}

	_, err = scheduler.AddFunc("@daily", func() {
		n, err := recorder.PurgeOlderThan(ctx, time.Now().Add(-auditRetention))
		if err != nil {
			log.WithError(err).Warn("audit purge failed")
			return
		}
		if n > 0 {
			log.WithField("purged", n).Info("cleared audit events past retention")
		}
	})
	if err != nil {
		log.WithError(err).Warn("could not schedule audit purge")
	}

	scheduler.Start()
	return scheduler
}

// startHealthServer serves liveness, readiness and metrics on a separate
// port so probes never compete with API traffic.
func startHealthServer(cfg *config.Config, log *observability.Logger, db *sql.DB, redisClient *redis.Client, metrics *observability.Metrics) *http.Server {
	checker := observability.NewHealthChecker(db, redisClient)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", checker.Liveness)
	mux.HandleFunc("/readyz", checker.Readiness)
	if metrics != nil {
		mux.Handle("/metrics", metrics.Handler())
	}

	srv := &http.Server{
		Addr:    cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler: mux,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("health server stopped")
		}
	}()
	return srv
}
