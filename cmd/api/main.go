package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/tokenops/custody-engine/internal/auth"
	"github.com/tokenops/custody-engine/internal/config"
	"github.com/tokenops/custody-engine/internal/crypto"
	"github.com/tokenops/custody-engine/internal/handler"
	"github.com/tokenops/custody-engine/internal/infra/postgresql"
	"github.com/tokenops/custody-engine/internal/infra/postgresql/migrations"
	infraredis "github.com/tokenops/custody-engine/internal/infra/redis"
	"github.com/tokenops/custody-engine/internal/ledger"
	"github.com/tokenops/custody-engine/internal/notify"
	"github.com/tokenops/custody-engine/internal/observability"
	"github.com/tokenops/custody-engine/internal/queue"
	"github.com/tokenops/custody-engine/internal/repository"
	"github.com/tokenops/custody-engine/internal/service"
	"github.com/tokenops/custody-engine/internal/transport"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	if err := run(cfg, logger); err != nil {
		logger.Fatal("custody-engine exited", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := postgresql.NewPostgres(cfg.DatabaseDSN)
	if err != nil {
		return fmt.Errorf("postgres initialization failed: %w", err)
	}
	if err := migrations.Migrate(db); err != nil {
		return fmt.Errorf("database migrations failed: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("postgres underlying db init failed: %w", err)
	}
	defer sqlDB.Close()

	rdb, err := infraredis.NewRedis(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("redis initialization failed: %w", err)
	}
	defer rdb.Close()

	limiter, err := infraredis.NewRedisRateLimiter(rdb, cfg.RateLimitPerSec)
	if err != nil {
		return fmt.Errorf("rate limiter initialization failed: %w", err)
	}

	rmq, err := queue.NewRabbitMQ(cfg.RabbitMQURL)
	if err != nil {
		return fmt.Errorf("rabbitmq initialization failed: %w", err)
	}
	defer rmq.Close()

	publisher := queue.NewRabbitMQPublisher(rmq)
	consumer := queue.NewRabbitMQConsumer(rmq, cfg.ConsumerPrefetch, logger)

	cipher, err := crypto.NewCipher(cfg.AddressCipherKey)
	if err != nil {
		return fmt.Errorf("address cipher initialization failed: %w", err)
	}

	ledgerClient, err := newLedgerClient(cfg, logger)
	if err != nil {
		return err
	}

	batchRepo := repository.NewGormBatchRepo(db)
	detailRepo, err := repository.NewGormDetailRepo(db, cipher, cfg.MaxRetry)
	if err != nil {
		return fmt.Errorf("detail repository initialization failed: %w", err)
	}
	contractRepo := repository.NewGormContractRepo(db)
	batchWriter, err := repository.NewGormBatchWriter(db, cipher)
	if err != nil {
		return fmt.Errorf("batch writer initialization failed: %w", err)
	}

	metrics := observability.NewMetrics()

	stats, err := service.NewStatsAggregator(batchRepo, detailRepo, logger)
	if err != nil {
		return fmt.Errorf("stats aggregator initialization failed: %w", err)
	}

	dispatcher, err := service.NewDispatcher(
		batchRepo,
		detailRepo,
		stats,
		ledgerClient,
		limiter,
		service.DispatcherOptions{
			WindowSize: cfg.DispatchWindowSize,
			FetchLimit: cfg.DispatchFetchLimit,
			MaxRetry:   cfg.MaxRetry,
			RetryDelay: time.Duration(cfg.RetryDelayMillis) * time.Millisecond,
		},
		logger,
	)
	if err != nil {
		return fmt.Errorf("dispatcher initialization failed: %w", err)
	}
	dispatcher.SetMetrics(metrics)
	if cfg.WebhookURL != "" {
		dispatcher.SetNotifier(notify.NewWebhookNotifier(cfg.WebhookURL, logger))
	}

	batchService, err := service.NewBatchService(batchWriter, batchRepo, detailRepo, publisher, logger)
	if err != nil {
		return fmt.Errorf("batch service initialization failed: %w", err)
	}

	custodyService, err := service.NewCustodyService(
		contractRepo,
		ledgerClient,
		time.Duration(cfg.ConfirmTimeoutSecs)*time.Second,
		logger,
	)
	if err != nil {
		return fmt.Errorf("custody service initialization failed: %w", err)
	}
	custodyService.SetMetrics(metrics)

	verifier, err := auth.NewVerifier(cfg.APIKeys)
	if err != nil {
		return fmt.Errorf("api key setup failed: %w", err)
	}

	app := fiber.New(fiber.Config{
		AppName:      "custody-engine",
		ErrorHandler: transport.ErrorHandler(logger),
	})
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(metrics.HTTPMiddleware())

	handler.RegisterHealthRoutes(app, sqlDB, rdb)
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	api := app.Group("", auth.Middleware(verifier, "", logger))
	if err := handler.RegisterBatchRoutes(api, batchService); err != nil {
		return fmt.Errorf("failed to register batch routes: %w", err)
	}
	if err := handler.RegisterTransferRoutes(api, custodyService); err != nil {
		return fmt.Errorf("failed to register transfer routes: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("custody-engine api started", zap.Int("port", cfg.APIPort))
		if err := app.Listen(fmt.Sprintf(":%d", cfg.APIPort)); err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		logger.Info("dispatch consumer started", zap.String("queue", queue.DispatchQueue))
		return consumer.Consume(gctx, queue.DispatchQueue, func(msgCtx context.Context, msg queue.DispatchMessage) error {
			if msg.CorrelationID != "" {
				msgCtx = observability.WithCorrelationID(msgCtx, msg.CorrelationID)
			}
			return dispatcher.Run(msgCtx, msg.BatchID)
		})
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		return app.ShutdownWithTimeout(shutdownTimeout)
	})

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func newLedgerClient(cfg *config.Config, logger *zap.Logger) (ledger.Client, error) {
	if cfg.UseMockLedger() {
		logger.Warn("using in-memory mock ledger backend")
		return ledger.NewMockClient("MockFeePayer111111111111111111111111111111111"), nil
	}

	creds, err := ledger.NewCredentials(cfg.CustodianKey)
	if err != nil {
		return nil, fmt.Errorf("custodian credentials failed: %w", err)
	}
	client, err := ledger.NewSolanaClient(cfg.SolanaRPCURL, creds, logger)
	if err != nil {
		return nil, fmt.Errorf("ledger client initialization failed: %w", err)
	}
	return client, nil
}
