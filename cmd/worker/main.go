package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/edurelay/notify-engine/internal/channel"
	"github.com/edurelay/notify-engine/internal/config"
	"github.com/edurelay/notify-engine/internal/directory"
	"github.com/edurelay/notify-engine/internal/infra/postgresql"
	"github.com/edurelay/notify-engine/internal/infra/postgresql/migrations"
	infraredis "github.com/edurelay/notify-engine/internal/infra/redis"
	"github.com/edurelay/notify-engine/internal/observability"
	"github.com/edurelay/notify-engine/internal/queue"
	"github.com/edurelay/notify-engine/internal/realtime"
	"github.com/edurelay/notify-engine/internal/render"
	"github.com/edurelay/notify-engine/internal/repository"
	"github.com/edurelay/notify-engine/internal/service"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel, "notify-worker")
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
	consumer := queue.NewRabbitMQConsumer(rabbit, cfg.WorkerConcurrency, logger)
	metrics := observability.NewMetrics()

	notifications := repository.NewGormNotificationRepo(db)
	deliveries := repository.NewGormDeliveryRepo(db)
	broadcasts := repository.NewGormBroadcastRepo(db)
	dir := directory.NewGormDirectory(db)

	renderer, err := render.New()
	if err != nil {
		logger.Fatal("template renderer init failed", zap.Error(err))
	}

	emailSender, err := channel.NewEmailSender(cfg.PostmarkServerToken, cfg.PostmarkAccountToken, cfg.EmailSender, renderer)
	if err != nil {
		logger.Fatal("email sender init failed", zap.Error(err))
	}
	smsSender, err := channel.NewSMSSender(cfg.SMSGatewayURL, cfg.SMSAPIKey, renderer)
	if err != nil {
		logger.Fatal("sms sender init failed", zap.Error(err))
	}
	botSender, err := channel.NewBotSender(cfg.BotToken, renderer)
	if err != nil {
		logger.Fatal("bot sender init failed", zap.Error(err))
	}
	senders := channel.NewSenderMap(emailSender, smsSender, botSender)

	rateLimiter, err := infraredis.NewRedisRateLimiter(rdb, cfg.RateLimitPerSec)
	if err != nil {
		logger.Fatal("rate limiter init failed", zap.Error(err))
	}

	pusher, err := realtime.NewPusher(rdb, logger)
	if err != nil {
		logger.Fatal("realtime pusher init failed", zap.Error(err))
	}

	dispatcher, err := service.NewDispatcherService(notifications, deliveries, dir, dir, publisher, pusher, logger)
	if err != nil {
		logger.Fatal("dispatcher init failed", zap.Error(err))
	}

	deliveryWorker, err := service.NewDeliveryWorker(deliveries, notifications, dir, senders, consumer, rateLimiter, cfg.WorkerConcurrency, logger)
	if err != nil {
		logger.Fatal("delivery worker init failed", zap.Error(err))
	}
	deliveryWorker.SetMetrics(metrics)

	retrySweeper, err := service.NewRetrySweeper(deliveries, publisher, 0, 0, logger)
	if err != nil {
		logger.Fatal("retry sweeper init failed", zap.Error(err))
	}

	scheduler, err := service.NewSchedulerService(notifications, dispatcher, 0, 0, logger)
	if err != nil {
		logger.Fatal("scheduler init failed", zap.Error(err))
	}

	broadcaster, err := service.NewBroadcastService(broadcasts, dir, publisher, logger)
	if err != nil {
		logger.Fatal("broadcast service init failed", zap.Error(err))
	}

	broadcastWorker, err := service.NewBroadcastWorker(broadcasts, dir, botSender, consumer, rateLimiter, cfg.BroadcastBatchSize, logger)
	if err != nil {
		logger.Fatal("broadcast worker init failed", zap.Error(err))
	}
	broadcastWorker.SetMetrics(metrics)

	retention, err := service.NewRetentionService(notifications, time.Duration(cfg.RetentionDays)*24*time.Hour, logger)
	if err != nil {
		logger.Fatal("retention service init failed", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error { return deliveryWorker.Start(groupCtx) })
	group.Go(func() error { return retrySweeper.Start(groupCtx) })
	group.Go(func() error { return scheduler.Start(groupCtx) })
	group.Go(func() error { return broadcaster.Start(groupCtx) })
	group.Go(func() error { return broadcastWorker.Start(groupCtx) })
	group.Go(func() error { return retention.Start(groupCtx) })

	logger.Info("notify-engine worker started",
		zap.Int("concurrency", cfg.WorkerConcurrency),
		zap.Int("broadcastBatchSize", cfg.BroadcastBatchSize),
	)

	if err := group.Wait(); err != nil && ctx.Err() == nil {
		logger.Fatal("worker terminated", zap.Error(err))
	}
	logger.Info("notify-engine worker stopped")
}
