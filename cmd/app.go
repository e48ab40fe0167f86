package cmd

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-payment-gateway/app/archive"
	"github.com/vibast-solutions/ms-go-payment-gateway/app/events"
	"github.com/vibast-solutions/ms-go-payment-gateway/app/metrics"
	"github.com/vibast-solutions/ms-go-payment-gateway/app/provider"
	"github.com/vibast-solutions/ms-go-payment-gateway/app/repository"
	"github.com/vibast-solutions/ms-go-payment-gateway/app/service"
	"github.com/vibast-solutions/ms-go-payment-gateway/config"
)

const startupTimeout = 10 * time.Second

// application holds the wired services shared by serve and the job commands.
type application struct {
	cfg          *config.Config
	db           *sql.DB
	kv           *repository.RedisStore
	registry     *prometheus.Registry
	transactions *service.TransactionService
	tokens       *service.TokenService
	webhooks     *service.WebhookProcessor
}

func mustCreateApplication() (*application, func()) {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}
	if err := configureLogging(cfg); err != nil {
		logrus.WithError(err).Fatal("Failed to configure logging")
	}

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	db, err := sql.Open("mysql", cfg.MySQL.DSN)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to connect to database")
	}

	db.SetMaxOpenConns(cfg.MySQL.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MySQL.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.MySQL.ConnMaxLifetime)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		logrus.WithError(err).Fatal("Failed to ping database")
	}
	closers = append(closers, func() {
		if err := db.Close(); err != nil {
			logrus.WithError(err).Warn("Failed to close database")
		}
	})

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	kv := repository.NewRedisStore(redisClient)
	pingCtx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	err = kv.Ping(pingCtx)
	cancel()
	if err != nil {
		cleanup()
		_ = redisClient.Close()
		logrus.WithError(err).Fatal("Failed to ping redis")
	}
	closers = append(closers, func() {
		if err := redisClient.Close(); err != nil {
			logrus.WithError(err).Warn("Failed to close redis")
		}
	})

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	serviceMetrics := metrics.New(registry)

	keyring, ephemeral, err := service.LoadKeyring(cfg.Tokenization, cfg.App.IsProduction())
	if err != nil {
		cleanup()
		logrus.WithError(err).Fatal("Failed to load tokenization keys")
	}
	if ephemeral {
		logrus.Warn("TOKENIZATION_KEYS is not set; using an ephemeral key, tokens will not survive a restart")
	}
	tokenService := service.NewTokenService(repository.NewTokenRepository(kv), keyring, cfg.Tokenization)

	stripeProvider := provider.NewStripeProvider(provider.StripeConfig{
		SecretKey:                 cfg.Stripe.SecretKey,
		WebhookSecret:             cfg.Stripe.WebhookSecret,
		APIBaseURL:                cfg.Stripe.APIBaseURL,
		SignatureToleranceSeconds: cfg.Stripe.SignatureToleranceSeconds,
		HTTPTimeout:               cfg.Stripe.HTTPTimeout,
		Observer:                  serviceMetrics.ObserveProvider,
	})
	paypalProvider := provider.NewPayPalProvider(provider.PayPalConfig{
		ClientID:     cfg.PayPal.ClientID,
		ClientSecret: cfg.PayPal.ClientSecret,
		WebhookID:    cfg.PayPal.WebhookID,
		Environment:  cfg.PayPal.Environment,
		APIBaseURL:   cfg.PayPal.APIBaseURL,
		HTTPTimeout:  cfg.PayPal.HTTPTimeout,
		Observer:     serviceMetrics.ObserveProvider,
	})
	providerRegistry := provider.NewRegistry(stripeProvider, paypalProvider)

	transactionService := service.NewTransactionService(
		repository.NewTransactionRepository(db),
		repository.NewTransactionEventRepository(db),
		repository.NewTransactionLockRepository(kv),
		providerRegistry,
		tokenService,
		cfg.Retry,
		cfg.Refunds,
		cfg.Payments,
	)
	transactionService.SetMetrics(serviceMetrics)

	if cfg.Events.AMQPURL != "" {
		publisher, err := events.DialAMQP(cfg.Events.AMQPURL, cfg.Events.Exchange)
		if err != nil {
			cleanup()
			logrus.WithError(err).Fatal("Failed to connect to event broker")
		}
		publisher.SetSource(cfg.App.ServiceName, cfg.App.APIKey)
		transactionService.SetPublisher(publisher)
		closers = append(closers, func() {
			if err := publisher.Close(); err != nil {
				logrus.WithError(err).Warn("Failed to close event publisher")
			}
		})
	} else {
		logrus.Info("No event broker configured; status changes are not published")
		transactionService.SetPublisher(events.NoopPublisher{})
	}

	webhookProcessor := service.NewWebhookProcessor(
		providerRegistry,
		repository.NewWebhookStateRepository(kv),
		repository.NewWebhookDeliveryRepository(db),
		transactionService,
		cfg.Webhooks,
	)
	webhookProcessor.SetMetrics(serviceMetrics)
	webhookProcessor.SetReplayBatchSize(int(cfg.Retry.BatchSize))

	if cfg.Archive.Endpoint != "" {
		store, err := archive.NewStore(cfg.Archive.Endpoint, cfg.Archive.AccessKey, cfg.Archive.SecretKey, cfg.Archive.Bucket, cfg.Archive.UseSSL)
		if err != nil {
			cleanup()
			logrus.WithError(err).Fatal("Failed to initialize webhook archive")
		}
		bucketCtx, cancel := context.WithTimeout(context.Background(), startupTimeout)
		if err := store.EnsureBucket(bucketCtx); err != nil {
			logrus.WithError(err).Warn("Failed to ensure webhook archive bucket")
		}
		cancel()
		webhookProcessor.SetArchive(store)
	}

	logrus.WithField("providers", providerRegistry.Names()).Info("Payment gateway initialized")

	return &application{
		cfg:          cfg,
		db:           db,
		kv:           kv,
		registry:     registry,
		transactions: transactionService,
		tokens:       tokenService,
		webhooks:     webhookProcessor,
	}, cleanup
}
