package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/multierr"

	"github.com/angelmondragon/payments-core/internal/notifications"
	"github.com/angelmondragon/payments-core/pkg/config"
	"github.com/angelmondragon/payments-core/pkg/instance"
	"github.com/angelmondragon/payments-core/pkg/logger"
	"github.com/angelmondragon/payments-core/pkg/outbox/idempotency"
	"github.com/angelmondragon/payments-core/pkg/outbox/registry"
	"github.com/angelmondragon/payments-core/pkg/pubsub"
	"github.com/angelmondragon/payments-core/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "notifications-consumer"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "notifications-consumer"

	logg = logger.New(logger.Options{
		ServiceName: "notifications-consumer",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	if cfg.PubSub.NotificationSubscription == "" {
		logg.Error(context.Background(), "notification subscription not configured", errors.New(config.EnvPrefix+"_PUBSUB_NOTIFICATION_SUBSCRIPTION is required"))
		os.Exit(1)
	}

	psClient, err := pubsub.NewClient(context.Background(), cfg.GCP, cfg.PubSub, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap pubsub", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		_ = psClient.Close()
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := multierr.Combine(redisClient.Close(), psClient.Close()); err != nil {
			logg.Error(context.Background(), "error closing consumer resources", err)
		}
	}()

	manager, err := idempotency.NewManager(redisClient, cfg.Eventing.IdempotencyTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create idempotency manager", err)
		os.Exit(1)
	}

	consumer, err := notifications.NewConsumer(
		psClient.NotificationSubscription(),
		registry.NewPaymentDecoders(),
		manager,
		notifications.LogHandler{Logger: logg},
		logg,
	)
	if err != nil {
		logg.Error(context.Background(), "failed to create notification consumer", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithInstance(ctx, instance.ID())
	ctx = logg.WithFields(ctx, map[string]any{
		"env":          cfg.App.Env,
		"serviceKind":  cfg.Service.Kind,
		"subscription": cfg.PubSub.NotificationSubscription,
	})
	logg.Info(ctx, "starting notifications consumer")

	if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "notifications consumer stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "notifications consumer shutting down gracefully")
}
