package main

import (
	"context"
	"log"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/edurelay/notify-engine/internal/config"
	"github.com/edurelay/notify-engine/internal/directory"
	"github.com/edurelay/notify-engine/internal/handler"
	"github.com/edurelay/notify-engine/internal/infra/postgresql"
	"github.com/edurelay/notify-engine/internal/infra/postgresql/migrations"
	infraredis "github.com/edurelay/notify-engine/internal/infra/redis"
	"github.com/edurelay/notify-engine/internal/observability"
	"github.com/edurelay/notify-engine/internal/queue"
	"github.com/edurelay/notify-engine/internal/realtime"
	"github.com/edurelay/notify-engine/internal/repository"
	"github.com/edurelay/notify-engine/internal/service"
	"github.com/edurelay/notify-engine/internal/transport"
	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel, "notify-api")
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	db, err := postgresql.NewPostgres(cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("postgres initialization failed", zap.Error(err))
	}

	if err := migrations.Migrate(db); err != nil {
		logger.Fatal("database migrations failed", zap.Error(err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		logger.Fatal("postgres underlying db init failed", zap.Error(err))
	}
	defer sqlDB.Close()

	rdb, err := infraredis.NewRedis(cfg.RedisURL)
	if err != nil {
		logger.Fatal("redis initialization failed", zap.Error(err))
	}
	defer rdb.Close()

	rabbit, err := queue.NewRabbitMQ(cfg.RabbitMQURL)
	if err != nil {
		logger.Fatal("rabbitmq initialization failed", zap.Error(err))
	}
	defer rabbit.Close()

	publisher := queue.NewRabbitMQPublisher(rabbit)
	metrics := observability.NewMetrics()

	notifications := repository.NewGormNotificationRepo(db)
	deliveries := repository.NewGormDeliveryRepo(db)
	broadcasts := repository.NewGormBroadcastRepo(db)
	dir := directory.NewGormDirectory(db)

	hub := realtime.NewHub(logger)
	hub.SetMetrics(metrics)

	pusher, err := realtime.NewPusher(rdb, logger)
	if err != nil {
		logger.Fatal("realtime pusher init failed", zap.Error(err))
	}
	bridge, err := realtime.NewBridge(rdb, hub, logger)
	if err != nil {
		logger.Fatal("realtime bridge init failed", zap.Error(err))
	}

	dispatcher, err := service.NewDispatcherService(notifications, deliveries, dir, dir, publisher, pusher, logger)
	if err != nil {
		logger.Fatal("dispatcher init failed", zap.Error(err))
	}
	reader, err := service.NewReaderService(notifications, logger)
	if err != nil {
		logger.Fatal("reader service init failed", zap.Error(err))
	}
	scheduler, err := service.NewSchedulerService(notifications, dispatcher, 0, 0, logger)
	if err != nil {
		logger.Fatal("scheduler init failed", zap.Error(err))
	}
	broadcaster, err := service.NewBroadcastService(broadcasts, dir, publisher, logger)
	if err != nil {
		logger.Fatal("broadcast service init failed", zap.Error(err))
	}

	app := fiber.New(fiber.Config{
		ErrorHandler: transport.ErrorHandler(logger),
	})
	app.Use(metrics.HTTPMiddleware())
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	handler.RegisterHealthRoutes(app, sqlDB, rdb, rabbit)
	if err := handler.RegisterNotificationRoutes(app, dispatcher, reader); err != nil {
		logger.Fatal("notification routes init failed", zap.Error(err))
	}
	if err := handler.RegisterScheduleRoutes(app, scheduler); err != nil {
		logger.Fatal("schedule routes init failed", zap.Error(err))
	}
	if err := handler.RegisterBroadcastRoutes(app, broadcaster); err != nil {
		logger.Fatal("broadcast routes init failed", zap.Error(err))
	}
	if err := realtime.RegisterRoutes(app, hub, reader, logger); err != nil {
		logger.Fatal("realtime routes init failed", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return bridge.Run(groupCtx)
	})
	group.Go(func() error {
		logger.Info("notify-engine api started", zap.Int("port", cfg.APIPort))
		return app.Listen(":" + strconv.Itoa(cfg.APIPort))
	})
	group.Go(func() error {
		<-groupCtx.Done()
		return app.Shutdown()
	})

	if err := group.Wait(); err != nil && ctx.Err() == nil {
		logger.Fatal("api terminated", zap.Error(err))
	}
	logger.Info("notify-engine api stopped")
}
