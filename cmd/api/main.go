package main

import (
	"context"
	"crypto/tls"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/clinicore/clinic-ops/internal/api/router"
	"github.com/clinicore/clinic-ops/internal/appointments"
	"github.com/clinicore/clinic-ops/internal/audit"
	"github.com/clinicore/clinic-ops/internal/catalog"
	appconfig "github.com/clinicore/clinic-ops/internal/config"
	"github.com/clinicore/clinic-ops/internal/directory"
	"github.com/clinicore/clinic-ops/internal/events"
	"github.com/clinicore/clinic-ops/internal/notifications"
	"github.com/clinicore/clinic-ops/internal/notify"
	"github.com/clinicore/clinic-ops/internal/observability/metrics"
	"github.com/clinicore/clinic-ops/internal/privacy"
	"github.com/clinicore/clinic-ops/internal/push"
	"github.com/clinicore/clinic-ops/internal/realtime"
	"github.com/clinicore/clinic-ops/internal/reschedule"
	"github.com/clinicore/clinic-ops/internal/wizard"
	"github.com/clinicore/clinic-ops/pkg/logging"
)

func main() {
	_ = godotenv.Load()

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting clinic-ops API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool := connectPostgresPool(ctx, cfg.DatabaseURL, logger)
	if pool == nil {
		logger.Error("DATABASE_URL is required")
		os.Exit(1)
	}
	defer pool.Close()

	auditDB := connectAuditDB(cfg.DatabaseURL, logger)
	if auditDB != nil {
		defer auditDB.Close()
	}

	rdb := connectRedis(cfg, logger)
	if rdb != nil {
		defer rdb.Close()
	}

	metricsHandler, m := setupMetrics()
	codec := privacy.NewCodec(cfg.ClinicalFieldKey, logger)
	outbox := events.NewOutboxStore(pool)
	auditSink := audit.NewSink(auditDB, logger)

	// Core services.
	apptRepo := appointments.NewRepository(pool)
	apptSvc := appointments.NewService(apptRepo, outbox, codec, auditSink, m, logger)
	reschedSvc := reschedule.NewService(reschedule.NewRepository(pool), apptSvc, outbox, auditSink, cfg.RescheduleMinLead, logger)
	wizardSvc := wizard.NewService(wizard.NewRepository(pool), apptSvc, catalog.NewRepository(), codec, m, logger)

	// Fanout pipeline.
	dirRepo := directory.NewRepository(pool).WithStaticAdmins(cfg.AdminEmails)
	records := notifications.NewStore(pool)
	hub := realtime.NewHub(logger)
	var chat *notifications.ChatNotifier
	if rdb != nil {
		chat = notifications.NewChatNotifier(rdb, hub, logger)
	}
	dispatcher := notifications.NewDispatcher(
		dirRepo, records, hub,
		setupPushService(cfg, logger),
		setupEmailSender(ctx, cfg, logger),
		m, logger,
	)
	deliverer := events.NewDeliverer(outbox, dispatcher, logger).
		WithBatchSize(int32(cfg.OutboxBatchSize)).
		WithInterval(cfg.OutboxPollInterval)
	go deliverer.Start(ctx)

	dev := cfg.IsDevelopment()
	r := router.New(&router.Config{
		Logger:             logger,
		Appointments:       appointments.NewHandler(apptSvc, logger, dev),
		Reschedule:         reschedule.NewHandler(reschedSvc, logger, dev),
		Wizard:             wizard.NewHandler(wizardSvc, logger, dev),
		Notifications:      notifications.NewHandler(records, chat, logger, dev),
		Hub:                hub,
		MetricsHandler:     metricsHandler,
		AuthJWTSecret:      cfg.AuthJWTSecret,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	// Flush whatever the poller has not picked up yet.
	deliverer.Drain(shutdownCtx)
	logger.Info("server stopped")
}

// setupMetrics builds the process registry and the appointment metrics
// bundle backing /metrics.
func setupMetrics() (http.Handler, *metrics.AppointmentMetrics) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.NewAppointmentMetrics(registry)
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{}), m
}

// connectPostgresPool opens the pgx pool, or returns nil when no URL is
// configured.
func connectPostgresPool(ctx context.Context, databaseURL string, logger *logging.Logger) *pgxpool.Pool {
	if databaseURL == "" {
		return nil
	}
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		logger.Error("postgres pool setup failed", "error", err)
		return nil
	}
	if err := pool.Ping(ctx); err != nil {
		logger.Warn("postgres not reachable at startup", "error", err)
	}
	return pool
}

// connectAuditDB opens the separate database/sql handle the audit sink
// writes through.
func connectAuditDB(databaseURL string, logger *logging.Logger) *sql.DB {
	if databaseURL == "" {
		return nil
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		logger.Error("audit db setup failed", "error", err)
		return nil
	}
	db.SetMaxOpenConns(4)
	return db
}

func connectRedis(cfg *appconfig.Config, logger *logging.Logger) *redis.Client {
	if cfg.RedisAddr == "" {
		logger.Info("redis not configured; chat notices disabled")
		return nil
	}
	opts := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return redis.NewClient(opts)
}

// setupEmailSender picks the admin email channel by provider; without one
// the stub sender logs instead of sending.
func setupEmailSender(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) notify.EmailSender {
	switch cfg.EmailProvider {
	case "sendgrid":
		sender := notify.NewSendGridSender(notify.SendGridConfig{
			APIKey:    cfg.SendGridAPIKey,
			FromEmail: cfg.SendGridFromEmail,
			FromName:  cfg.SendGridFromName,
		}, logger)
		if sender != nil {
			return sender
		}
		logger.Warn("sendgrid selected but not configured; falling back to stub sender")
	case "ses":
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
		if err != nil {
			logger.Warn("aws config load failed; falling back to stub sender", "error", err)
			break
		}
		sender := notify.NewSESSender(sesv2.NewFromConfig(awsCfg), notify.SESConfig{
			FromEmail: cfg.SESFromEmail,
			FromName:  cfg.SESFromName,
		}, logger)
		if sender != nil {
			return sender
		}
	}
	return notify.NewStubEmailSender(logger)
}

// setupPushService builds the push client, or the stub when no delivery
// service is configured.
func setupPushService(cfg *appconfig.Config, logger *logging.Logger) push.Service {
	if svc := push.NewHTTPService(cfg.PushServiceURL, cfg.PushServiceToken, logger); svc != nil {
		return svc
	}
	logger.Info("push delivery service not configured; using stub")
	return push.NewStubService(logger)
}
