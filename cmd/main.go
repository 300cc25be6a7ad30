/**
 * @description
 * Entry point for the rewards service. Wires configuration, storage, the
 * email and payout providers, background workers and the HTTP API.
 *
 * @dependencies
 * - github.com/joho/godotenv: For loading .env files during local development.
 * - github.com/jackc/pgx/v5: PostgreSQL connection pool.
 * - github.com/redis/go-redis/v9: Distributed rate limiting.
 * - github.com/rabbitmq/amqp091-go (via pkg/rabbitmq): payout status events.
 */
package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/finboost/rewards-service/internal/api"
	"github.com/finboost/rewards-service/internal/app"
	"github.com/finboost/rewards-service/internal/config"
	"github.com/finboost/rewards-service/internal/domain"
	"github.com/finboost/rewards-service/internal/logging"
	"github.com/finboost/rewards-service/internal/store"
	"github.com/finboost/rewards-service/pkg/archive"
	"github.com/finboost/rewards-service/pkg/mailer"
	"github.com/finboost/rewards-service/pkg/payoutclient"
	"github.com/finboost/rewards-service/pkg/rabbitmq"
)

func main() {
	// Load .env file for local development.
	if err := godotenv.Load(); err != nil {
		logrus.Info("No .env file found, using environment variables")
	}

	cfg, err := config.LoadConfig(".")
	if err != nil {
		logrus.WithError(err).Fatal("cannot load config")
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	bootLog := logger.WithField("component", "bootstrap")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		bootLog.WithError(err).Fatal("unable to parse database URL")
	}
	pgConfig.MaxConns = cfg.DBMaxConns
	pgConfig.MinConns = cfg.DBMinConns
	pgConfig.MaxConnLifetime = 30 * time.Minute
	pgConfig.MaxConnIdleTime = 5 * time.Minute
	pgConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(ctx, pgConfig)
	if err != nil {
		bootLog.WithError(err).Fatal("unable to connect to database")
	}
	defer dbpool.Close()
	bootLog.Info("database connection established")

	if cfg.RunMigrations {
		if err := store.Migrate(ctx, dbpool); err != nil {
			bootLog.WithError(err).Fatal("database migration failed")
		}
	}

	repository := store.NewPostgresRepository(dbpool)

	var limiter app.RateLimiter = app.NewMemoryRateLimiter()
	if cfg.RedisURL == "" {
		bootLog.Warn("redis url missing; rate limiting is per-process")
	} else if redisOptions, parseErr := redis.ParseURL(cfg.RedisURL); parseErr != nil {
		bootLog.WithError(parseErr).Warn("redis url parse failed; rate limiting is per-process")
	} else {
		redisClient := redis.NewClient(redisOptions)
		defer redisClient.Close()
		pingCtx, cancelPing := context.WithTimeout(ctx, 5*time.Second)
		if pingErr := redisClient.Ping(pingCtx).Err(); pingErr != nil {
			bootLog.WithError(pingErr).Warn("redis ping failed; falling back per request")
		} else {
			bootLog.Info("redis connected")
		}
		cancelPing()
		limiter = app.NewFallbackRateLimiter(
			app.NewRedisRateLimiter(redisClient, cfg.RedisRateLimitPrefix),
			app.NewMemoryRateLimiter(),
			logger,
		)
	}

	gate := app.NewEmailGate(newEmailProvider(cfg, logger), repository, cfg.DisposableDomains(), logger)

	var archiver app.ObjectArchiver
	if cfg.ExportArchiveBucket != "" {
		s3Archiver, archiveErr := archive.NewS3Archiver(ctx, archive.Config{
			Bucket:          cfg.ExportArchiveBucket,
			Region:          cfg.ExportArchiveRegion,
			Endpoint:        cfg.ExportArchiveEndpoint,
			AccessKeyID:     cfg.ExportArchiveAccessKey,
			SecretAccessKey: cfg.ExportArchiveSecretKey,
		})
		if archiveErr != nil {
			bootLog.WithError(archiveErr).Warn("export archive disabled")
		} else {
			archiver = s3Archiver
		}
	}

	tierShares, err := domain.ParseTierShares(cfg.TierShares)
	if err != nil {
		bootLog.WithError(err).Fatal("invalid TIER_SHARES")
	}

	tokens := app.NewTokenIssuer(cfg.JWTSecret, cfg.JWTIssuer, time.Duration(cfg.JWTTTLMinutes)*time.Minute)
	payoutClient := payoutclient.NewClient(cfg.PayoutProviderBaseURL, cfg.PayoutProviderClientID, cfg.PayoutProviderClientSecret, logger)

	payoutService := app.NewPayoutService(repository, payoutClient, logger, app.PayoutSettings{
		Currency:    cfg.PayoutCurrency,
		MaxAttempts: cfg.PayoutMaxAttempts,
		Exchange:    cfg.PayoutExchange,
		RoutingKey:  app.PayoutStatusChangedRoutingKey,
		TierShares:  tierShares,
	})
	authService := app.NewAuthService(repository, gate, tokens, app.AuthSettings{
		AppBaseURL:      cfg.AppBaseURL,
		VerificationTTL: time.Duration(cfg.VerificationTTLHours) * time.Hour,
	}, logger)
	historyService := app.NewHistoryService(repository)
	exportService := app.NewExportService(repository, archiver, logger)
	suppressionService := app.NewSuppressionService(repository, cfg.PostmarkWebhookSecret, logger)

	newPublisher := func() (rabbitmq.Publisher, error) {
		if cfg.RabbitMQURL == "" {
			return &rabbitmq.EventProducerFallback{Log: logger}, nil
		}
		producer, err := rabbitmq.NewEventProducer(cfg.RabbitMQURL, logger)
		if err != nil {
			return nil, err
		}
		return producer, nil
	}
	dispatcher := app.NewOutboxDispatcher(repository, newPublisher, time.Duration(cfg.OutboxPollSeconds)*time.Second, logger)
	go dispatcher.Run(ctx)

	if cfg.RabbitMQURL != "" {
		consumer, consumerErr := rabbitmq.NewConsumer(cfg.RabbitMQURL, logger)
		if consumerErr != nil {
			bootLog.WithError(consumerErr).Warn("failed to connect to RabbitMQ; payout notifications disabled")
		} else {
			defer consumer.Close()
			consumer.MaxRedeliveries = cfg.NotifierMaxRedeliveries
			notifier := app.NewPayoutNotifier(repository, gate, cfg.PayoutCurrency, cfg.AppBaseURL, logger)
			bindings := map[string]rabbitmq.Handler{
				app.PayoutStatusChangedRoutingKey: notifier.HandleMessage,
			}
			if err := consumer.ConsumeWithBindings(cfg.PayoutExchange, cfg.PayoutNotifierQueue, bindings); err != nil {
				bootLog.WithError(err).Warn("failed to start payout notification consumer")
			}
		}
	} else {
		bootLog.Warn("RABBITMQ_URL not set; payout events stay in the outbox")
	}

	scheduler := app.NewScheduler(app.NewJobs(payoutService, authService, logger), logger, cfg.ReconcileSchedule, cfg.TokenCleanupSchedule)
	scheduler.Start()

	handler := api.NewHandler(api.Services{
		Auth:         authService,
		History:      historyService,
		Payouts:      payoutService,
		Exports:      exportService,
		Suppressions: suppressionService,
	}, logger)
	router := api.NewRouter(handler, api.RouterConfig{
		Tokens:         tokens,
		InternalAPIKey: cfg.InternalAPIKey,
		AllowedOrigins: cfg.AllowedOrigins(),
		Limiter:        limiter,
		AuthPerMinute:  cfg.RateLimitAuthPerMin,
		AdminPerMinute: cfg.RateLimitAdminPerMin,
		Log:            logger,
	})

	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.ServerPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		bootLog.WithField("port", cfg.ServerPort).Info("starting server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			bootLog.WithError(err).Fatal("server failed to start")
		}
	}()

	<-ctx.Done()
	bootLog.Info("shutdown signal received, gracefully shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		bootLog.WithError(err).Error("server shutdown failed")
	}
	<-scheduler.Stop().Done()
	<-dispatcher.Done()

	bootLog.Info("server stopped")
}

func newEmailProvider(cfg config.Config, log logrus.FieldLogger) mailer.Provider {
	from := mailer.Sender{Name: cfg.EmailFromName, Address: cfg.EmailFrom}
	switch cfg.EmailProvider {
	case "postmark":
		return mailer.NewPostmarkProvider(cfg.PostmarkServerToken, from, log)
	case "sendgrid":
		return mailer.NewSendgridProvider(cfg.SendgridAPIKey, from, log)
	default:
		return mailer.NewLogProvider(from, log)
	}
}
