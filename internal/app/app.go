package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/utafrali/notifier/internal/breaker"
	"github.com/utafrali/notifier/internal/channel"
	"github.com/utafrali/notifier/internal/config"
	"github.com/utafrali/notifier/internal/dedup"
	"github.com/utafrali/notifier/internal/dispatcher"
	"github.com/utafrali/notifier/internal/event"
	handler "github.com/utafrali/notifier/internal/handler/http"
	"github.com/utafrali/notifier/internal/repository"
	"github.com/utafrali/notifier/internal/repository/memory"
	"github.com/utafrali/notifier/internal/repository/postgres"
	redisrepo "github.com/utafrali/notifier/internal/repository/redis"
	"github.com/utafrali/notifier/internal/service"
	"github.com/utafrali/notifier/internal/transport"
	"github.com/utafrali/notifier/migrations"
	"github.com/utafrali/notifier/pkg/database"
	"github.com/utafrali/notifier/pkg/health"
	"github.com/utafrali/notifier/pkg/httpclient"
	pkgkafka "github.com/utafrali/notifier/pkg/kafka"
	"github.com/utafrali/notifier/pkg/middleware"
	"github.com/utafrali/notifier/pkg/tracing"
)

const serviceName = "notifier"

// App wires together all dependencies and runs the notifier.
type App struct {
	cfg            *config.Config
	logger         *slog.Logger
	pool           *pgxpool.Pool
	redis          *redis.Client
	producer       *pkgkafka.Producer
	dlq            *pkgkafka.DLQProducer
	consumer       *pkgkafka.Consumer
	push           transport.AMQPPublisher
	registry       *channel.Registry
	dispatcher     *dispatcher.Dispatcher
	httpServer     *http.Server
	tracerShutdown func(context.Context) error
}

// NewApp creates a new application instance, initializing all dependencies.
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	a := &App{cfg: cfg, logger: logger}

	// Initialize OpenTelemetry tracing.
	tracerShutdown, err := tracing.InitTracer(ctx, tracing.Config{
		ServiceName:    serviceName,
		ServiceVersion: "0.1.0",
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTELEndpoint,
		SampleRate:     cfg.OTELSampleRate,
		Enabled:        cfg.OTELEnabled,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}
	a.tracerShutdown = tracerShutdown

	healthHandler := health.NewHandler()

	notificationRepo, preferenceRepo, err := a.initStore(ctx, healthHandler)
	if err != nil {
		a.closeResources()
		return nil, err
	}

	if cfg.RedisEnabled {
		client, err := database.NewRedisClient(ctx, database.RedisConfig{
			Host:     cfg.RedisHost,
			Port:     cfg.RedisPort,
			Password: cfg.RedisPass,
			DB:       cfg.RedisDB,

			PoolSize:     cfg.RedisPoolSize,
			DialTimeout:  cfg.RedisDialTimeout,
			ReadTimeout:  cfg.RedisReadTimeout,
			WriteTimeout: cfg.RedisWriteTimeout,
		})
		if err != nil {
			a.closeResources()
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		a.redis = client
		database.RegisterRedisMetrics(client, serviceName)
		logger.Info("connected to Redis",
			slog.String("host", cfg.RedisHost),
			slog.Int("port", cfg.RedisPort),
		)
		healthHandler.Register("redis", func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		})

		preferenceRepo = redisrepo.NewPreferenceCache(preferenceRepo, client, cfg.PreferenceCacheTTL, logger)
	}

	// Kafka producer for outcome events.
	var events dispatcher.EventPublisher
	if cfg.KafkaEnabled {
		a.producer = pkgkafka.NewProducer(pkgkafka.DefaultProducerConfig(cfg.KafkaBrokers), logger)
		events = event.NewProducer(a.producer, logger)
		logger.Info("kafka producer initialized", slog.Any("brokers", cfg.KafkaBrokers))

		producer := a.producer
		healthHandler.Register("kafka", func(ctx context.Context) error {
			return producer.Ping(ctx)
		})
	}

	// Channel providers.
	a.registry = channel.NewRegistry(logger)
	inbox, err := a.registerProviders()
	if err != nil {
		a.closeResources()
		return nil, err
	}

	// Build the dependency graph.
	preferenceService := service.NewPreferenceService(preferenceRepo, logger)
	notificationService := service.NewNotificationService(notificationRepo, logger)

	var guard dedup.Guard = dedup.NewMemoryGuard(cfg.DedupWindow)
	if a.redis != nil {
		guard = dedup.NewRedisGuard(a.redis, cfg.DedupWindow)
	}

	a.dispatcher = dispatcher.New(dispatcher.Config{
		MaxQueueSize:           cfg.QueueMaxSize,
		BatchSize:              cfg.QueueBatchSize,
		FlushInterval:          cfg.QueueFlushInterval,
		RetryAttempts:          cfg.RetryAttempts,
		RetryDelay:             cfg.RetryDelay,
		RetryInterval:          cfg.RetryInterval,
		RetryBatchSize:         cfg.QueueBatchSize,
		SendTimeout:            cfg.SendTimeout,
		TimeoutCountsAsFailure: cfg.TimeoutCountsAsFailure,
		RetryHonorsQuietHours:  cfg.RetryHonorsQuietHours,
		Breaker: breaker.Config{
			FailureThreshold: cfg.BreakerFailureThreshold,
			RecoveryTimeout:  cfg.BreakerRecoveryTimeout,
			SuccessThreshold: cfg.BreakerSuccessThreshold,
		},
	}, dispatcher.Deps{
		Store:       notificationRepo,
		Preferences: preferenceService,
		Registry:    a.registry,
		Dedup:       guard,
		Events:      events,
		Logger:      logger,
	})

	// Kafka consumer for notification requests.
	if cfg.KafkaEnabled {
		var store pkgkafka.IdempotencyStore = pkgkafka.NewMemoryIdempotencyStore(cfg.IdempotencyTTL)
		if a.redis != nil {
			store = pkgkafka.NewRedisIdempotencyStore(a.redis, "notifier:kafka:processed:", cfg.IdempotencyTTL)
		}
		a.dlq = pkgkafka.NewDLQProducer(cfg.KafkaBrokers, logger)
		a.consumer = event.NewConsumer(cfg.KafkaBrokers, event.NewConsumerHandler(a.dispatcher, logger), store, a.dlq, logger)
	}

	// HTTP router.
	var inboxReader handler.InboxReader
	if inbox != nil {
		inboxReader = inbox
	}
	router := handler.NewRouter(a.dispatcher, notificationService, preferenceService, inboxReader, healthHandler, logger, handler.RouterConfig{
		CORS: middleware.CORSConfig{
			AllowedOrigins: cfg.CORSAllowedOrigins,
			Environment:    cfg.Environment,
		},
		PprofAllowedCIDRs: cfg.PprofAllowedCIDRs,
	})

	a.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return a, nil
}

// initStore opens the notification and preference stores selected by the
// configured driver.
func (a *App) initStore(ctx context.Context, healthHandler *health.Handler) (repository.NotificationRepository, repository.PreferenceRepository, error) {
	cfg := a.cfg

	if cfg.StoreDriver == config.StoreDriverMemory {
		a.logger.Warn("using in-memory store, notifications are lost on restart")
		return memory.NewNotificationRepository(), memory.NewPreferenceRepository(), nil
	}

	pgCfg := database.PostgresConfig{
		Host:            cfg.PostgresHost,
		Port:            cfg.PostgresPort,
		User:            cfg.PostgresUser,
		Password:        cfg.PostgresPass,
		DBName:          cfg.PostgresDB,
		SSLMode:         cfg.PostgresSSL,
		MaxConns:        cfg.DBMaxConns,
		MinConns:        cfg.DBMinConns,
		MaxConnLifetime: time.Duration(cfg.DBMaxConnLifetimeMins) * time.Minute,
		MaxConnIdleTime: time.Duration(cfg.DBMaxConnIdleTimeMins) * time.Minute,

		SlowQueryThreshold: time.Duration(cfg.SlowQueryThresholdMs) * time.Millisecond,
	}

	pool, err := database.NewPostgresPool(ctx, &pgCfg, a.logger)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}
	a.pool = pool
	a.logger.Info("connected to PostgreSQL",
		slog.String("host", cfg.PostgresHost),
		slog.Int("port", cfg.PostgresPort),
		slog.String("database", cfg.PostgresDB),
	)
	database.RegisterPoolMetrics(pool, serviceName)

	// Run database migrations.
	if err := database.RunMigrations(ctx, pool, migrations.FS, a.logger); err != nil {
		return nil, nil, fmt.Errorf("run migrations: %w", err)
	}
	a.logger.Info("database migrations completed")

	healthHandler.Register("postgres", func(ctx context.Context) error {
		return pool.Ping(ctx)
	})

	return postgres.NewNotificationRepository(pool), postgres.NewPreferenceRepository(pool), nil
}

// registerProviders registers one provider per channel, each on the transport
// its configuration selects. The Redis inbox is returned when in-app messages
// are stored there.
func (a *App) registerProviders() (*transport.RedisInbox, error) {
	cfg := a.cfg
	logger := a.logger

	emailCfg := channel.DefaultEmailConfig()
	emailCfg.Enabled = cfg.EmailEnabled
	var emailTransport channel.Transport
	switch cfg.EmailTransport {
	case config.EmailTransportPostmark:
		pm, err := transport.NewPostmark(transport.PostmarkConfig{
			ServerToken:  cfg.PostmarkServerToken,
			AccountToken: cfg.PostmarkAccountToken,
			From:         cfg.EmailFrom,
			ReplyTo:      cfg.EmailReplyTo,
		})
		if err != nil {
			return nil, fmt.Errorf("init postmark transport: %w", err)
		}
		emailTransport = pm
	case config.EmailTransportSMTP:
		smtp, err := transport.NewSMTP(transport.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUser,
			Password: cfg.SMTPPass,
			From:     cfg.EmailFrom,
			Timeout:  cfg.SMTPTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("init smtp transport: %w", err)
		}
		emailTransport = smtp
	default:
		emailTransport = transport.NewLog("email", 0, logger)
	}
	a.registry.Register(channel.NewEmailProvider(emailCfg, emailTransport, logger))

	smsCfg := channel.DefaultSMSConfig()
	smsCfg.Enabled = cfg.SMSEnabled
	var smsTransport channel.Transport = transport.NewLog("sms", 0, logger)
	if cfg.SMSWebhookURL != "" {
		clientCfg := httpclient.DefaultConfig()
		clientCfg.Timeout = cfg.SMSWebhookTimeout
		clientCfg.MaxRetries = cfg.SMSWebhookRetries
		webhook, err := transport.NewSMSWebhook(transport.SMSWebhookConfig{
			URL:       cfg.SMSWebhookURL,
			HealthURL: cfg.SMSWebhookHealthURL,
			APIKey:    cfg.SMSWebhookAPIKey,
			Sender:    cfg.SMSSender,
		}, httpclient.New(clientCfg))
		if err != nil {
			return nil, fmt.Errorf("init sms transport: %w", err)
		}
		smsTransport = webhook
	}
	a.registry.Register(channel.NewSMSProvider(smsCfg, smsTransport, logger))

	pushCfg := channel.DefaultPushConfig()
	pushCfg.Enabled = cfg.PushEnabled
	var pushTransport channel.Transport = transport.NewLog("push", 0, logger)
	if cfg.PushAMQPURL != "" {
		pub, err := transport.DialAMQP(cfg.PushAMQPURL, cfg.PushExchange)
		if err != nil {
			return nil, fmt.Errorf("init push transport: %w", err)
		}
		a.push = pub
		pushTransport = transport.NewAMQPPush(pub, cfg.PushExchange, logger)
		logger.Info("push transport connected", slog.String("exchange", cfg.PushExchange))
	}
	a.registry.Register(channel.NewPushProvider(pushCfg, pushTransport, logger))

	inAppCfg := channel.DefaultInAppConfig()
	inAppCfg.Enabled = cfg.InAppEnabled
	var inbox *transport.RedisInbox
	var inAppTransport channel.Transport = transport.NewLog("in_app", 0, logger)
	if a.redis != nil {
		inbox = transport.NewRedisInbox(a.redis, cfg.InboxMaxSize, cfg.InboxTTL)
		inAppTransport = inbox
	}
	a.registry.Register(channel.NewInAppProvider(inAppCfg, inAppTransport, logger))

	return inbox, nil
}

// Run starts the channel health loops, the dispatcher, the Kafka consumer and
// the HTTP server, then blocks until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	a.registry.Start(ctx)
	a.dispatcher.Start(ctx)

	if a.consumer != nil {
		consumer := a.consumer
		go func() {
			if err := consumer.Start(ctx); err != nil {
				a.logger.Error("kafka consumer error", slog.String("error", err.Error()))
			}
		}()
	}

	go func() {
		a.logger.Info("starting HTTP server",
			slog.String("addr", a.httpServer.Addr),
		)
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		_ = a.Shutdown()
		return err
	}

	return a.Shutdown()
}

// Shutdown gracefully stops all components in the correct order:
// 1. HTTP server (drain in-flight requests)
// 2. Kafka consumer (stop accepting new requests)
// 3. Dispatcher (flush the queue through the still running providers)
// 4. Channel providers
// 5. Tracer
// 6. Remaining connections
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")

	var errs []error

	// 1. Drain in-flight HTTP requests (5s budget).
	httpCtx, httpCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer httpCancel()
	if err := a.httpServer.Shutdown(httpCtx); err != nil {
		a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	// 2. Stop consuming notification requests.
	if a.consumer != nil {
		if err := a.consumer.Close(); err != nil {
			a.logger.Error("kafka consumer close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	// 3. Flush what is still queued (10s budget).
	drainCtx, drainCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer drainCancel()
	if err := a.dispatcher.Stop(drainCtx); err != nil {
		a.logger.Error("dispatcher stop error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	// 4. Stop provider health loops.
	a.registry.Stop()

	// 5. Flush pending spans.
	if a.tracerShutdown != nil {
		tracerCtx, tracerCancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer tracerCancel()
		if err := a.tracerShutdown(tracerCtx); err != nil {
			a.logger.Error("tracer shutdown error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
		a.tracerShutdown = nil
	}

	// 6. Close connections.
	errs = append(errs, a.closeResources())

	a.logger.Info("application shutdown complete")
	return errors.Join(errs...)
}

// closeResources closes every connection opened so far. It is also used to
// unwind a partially initialized App.
func (a *App) closeResources() error {
	var errs []error

	if a.tracerShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := a.tracerShutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.logger.Error("kafka producer close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}
	if a.dlq != nil {
		if err := a.dlq.Close(); err != nil {
			a.logger.Error("kafka dlq producer close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}
	if a.push != nil {
		if err := a.push.Close(); err != nil {
			a.logger.Error("amqp connection close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Error("redis close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}

	return errors.Join(errs...)
}
