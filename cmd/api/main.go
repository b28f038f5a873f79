package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	httptransport "github.com/learnhub/messaging-service/internal/api/http"
	"github.com/learnhub/messaging-service/internal/api/http/handlers"
	"github.com/learnhub/messaging-service/internal/auth"
	"github.com/learnhub/messaging-service/internal/config"
	"github.com/learnhub/messaging-service/internal/events"
	"github.com/learnhub/messaging-service/internal/observability"
	"github.com/learnhub/messaging-service/internal/persistence"
	"github.com/learnhub/messaging-service/internal/repository"
	"github.com/learnhub/messaging-service/internal/service"
	"github.com/learnhub/messaging-service/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	deps := map[string]handlers.Pinger{}

	var (
		threadRepo  repository.ThreadRepository
		messageRepo repository.MessageRepository
	)
	switch cfg.Store.Driver {
	case config.StoreDriverPostgres:
		pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
		if err != nil {
			logger.Fatal("failed to connect postgres", zap.Error(err))
		}
		defer pg.Close()
		if pg.PoolHandle() == nil {
			logger.Fatal("STORE_DRIVER=postgres requires POSTGRES_DSN")
		}
		if cfg.Postgres.RunMigrations {
			if err := persistence.RunMigrations(ctx, pg.PoolHandle(), cfg.Postgres.MigrationsDir, logger); err != nil {
				logger.Fatal("failed to run migrations", zap.Error(err))
			}
		}
		threadRepo = repository.NewThreadRepository(pg.PoolHandle())
		messageRepo = repository.NewThreadMessageRepository(pg.PoolHandle())
		deps["postgres"] = pg
	case config.StoreDriverMongo:
		mongo, err := persistence.NewMongo(ctx, cfg.Mongo, logger)
		if err != nil {
			logger.Fatal("failed to connect mongo", zap.Error(err))
		}
		defer mongo.Close(context.Background())
		if err := repository.EnsureMongoIndexes(ctx, mongo.Database); err != nil {
			logger.Fatal("failed to create mongo indexes", zap.Error(err))
		}
		threadRepo = repository.NewMongoThreadRepository(mongo.Database)
		messageRepo = repository.NewMongoMessageRepository(mongo.Database)
		deps["mongo"] = mongo
	default:
		logger.Warn("using in-memory store; data is lost on restart")
		store := repository.NewMemoryStore()
		threadRepo = store.Threads()
		messageRepo = store.Messages()
	}

	feed := events.NewMemoryFeed()
	if cfg.Redis.FeedEnabled {
		redis, err := persistence.NewRedis(ctx, cfg.Redis, logger)
		if err != nil {
			logger.Fatal("REDIS_FEED_ENABLED requires a reachable redis", zap.Error(err))
		}
		defer redis.Close()
		feed = events.NewRedisFeed(redis.Client, cfg.Redis.FeedPrefix, logger)
		deps["redis"] = redis
	}

	var exporter service.EventExporter
	if len(cfg.Kafka.Brokers) > 0 {
		sink := events.NewKafkaSink(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		defer sink.Close() //nolint:errcheck
		exporter = sink
		logger.Info("exporting events to kafka", zap.Strings("brokers", cfg.Kafka.Brokers), zap.String("topic", cfg.Kafka.Topic))
	}

	metrics := observability.NewMetrics()
	dispatcher := events.NewInMemoryDispatcher(logger)
	worker.StartFeedRelay(dispatcher, feed)
	worker.StartNotificationWorker(service.NewNotificationService(dispatcher, exporter, logger, cfg.Notification))

	messagingService := service.NewMessagingService(service.MessagingDependencies{
		ThreadRepo:       threadRepo,
		MessageRepo:      messageRepo,
		Dispatcher:       dispatcher,
		Feed:             feed,
		Metrics:          metrics,
		Logger:           logger,
		OperationTimeout: cfg.Store.OperationTimeout(),
		SummaryMaxRunes:  cfg.Messaging.SummaryMaxRunes,
	})

	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTLMinutes)

	app := fiber.New(fiber.Config{AppName: cfg.App.Name})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())
	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:         handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, deps),
		Threads:        handlers.NewThreadsHandler(messagingService),
		Messages:       handlers.NewMessagesHandler(messagingService),
		Watch:          handlers.NewWatchHandler(messagingService, logger),
		AuthMiddleware: auth.NewAuthMiddleware(tokens),
		RateLimiter:    httptransport.NewUserRateLimiter(cfg.Messaging.MessageRatePerSec, cfg.Messaging.MessageBurst, logger),
		Metrics:        metrics,
	})

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		logger.Warn("shutdown", zap.Error(err))
	}
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
