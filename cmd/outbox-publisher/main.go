package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/multierr"

	"github.com/angelmondragon/payments-core/pkg/channel"
	"github.com/angelmondragon/payments-core/pkg/config"
	"github.com/angelmondragon/payments-core/pkg/db"
	"github.com/angelmondragon/payments-core/pkg/instance"
	"github.com/angelmondragon/payments-core/pkg/logger"
	"github.com/angelmondragon/payments-core/pkg/metrics"
	"github.com/angelmondragon/payments-core/pkg/migrate"
	"github.com/angelmondragon/payments-core/pkg/outbox"
	"github.com/angelmondragon/payments-core/pkg/outbox/registry"
	"github.com/angelmondragon/payments-core/pkg/pubsub"
	"github.com/angelmondragon/payments-core/pkg/rabbitmq"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "outbox-publisher"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "outbox-publisher"

	logg = logger.New(logger.Options{
		ServiceName: "outbox-publisher",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	sender, closeSender, err := newSender(context.Background(), cfg, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap notification channel", err)
		os.Exit(1)
	}
	defer func() {
		if err := multierr.Combine(closeSender(), dbClient.Close()); err != nil {
			logg.Error(context.Background(), "error closing outbox publisher resources", err)
		}
	}()

	eventRegistry, err := registry.NewEventRegistry(cfg.Notifications.Topic)
	if err != nil {
		logg.Error(context.Background(), "failed to build event registry", err)
		os.Exit(1)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	service, err := NewService(ServiceParams{
		Config:     cfg.Outbox,
		Logger:     logg,
		DB:         dbClient,
		Sender:     sender,
		Repository: outbox.NewRepository(dbClient.DB()),
		Registry:   eventRegistry,
		Metrics:    metrics.NewOutboxMetrics(reg),
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create outbox publisher", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithInstance(ctx, instance.ID())
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": "outbox-publisher",
		"driver":      cfg.Notifications.DriverName(),
	})

	metricsSrv := &http.Server{
		Addr:              cfg.Metrics.Addr,
		Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "metrics server stopped", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsSrv.Shutdown(shutdownCtx)
	}()

	logg.Info(ctx, "starting outbox publisher")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "outbox publisher stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "outbox publisher shutting down gracefully")
}

// newSender builds the configured channel driver. The returned close func
// releases the driver and any client it owns.
func newSender(ctx context.Context, cfg *config.Config, logg *logger.Logger) (channel.Sender, func() error, error) {
	limits := channel.Limits{
		MaxMessageBytes: cfg.Notifications.MaxMessageBytes,
		Gzip:            cfg.Notifications.Compressed(),
	}

	switch cfg.Notifications.DriverName() {
	case config.NotificationsDriverPubSub:
		client, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
		if err != nil {
			return nil, nil, err
		}
		sender, err := pubsub.NewSender(client, pubsub.SenderOptions{
			Topic:          cfg.Notifications.Topic,
			EnableOrdering: cfg.PubSub.EnableOrdering,
			Limits:         limits,
		})
		if err != nil {
			return nil, nil, multierr.Append(err, client.Close())
		}
		return sender, func() error {
			return multierr.Combine(sender.Close(), client.Close())
		}, nil
	case config.NotificationsDriverRabbitMQ:
		sender, err := rabbitmq.Dial(ctx, cfg.RabbitMQ, rabbitmq.Options{
			Exchange:   cfg.RabbitMQ.Exchange,
			RoutingKey: cfg.Notifications.Topic,
			Limits:     limits,
		}, logg)
		if err != nil {
			return nil, nil, err
		}
		return sender, sender.Close, nil
	case config.NotificationsDriverMemory:
		logg.Warn(ctx, "memory notification channel selected; messages are not delivered anywhere")
		sender := channel.NewMemory(limits)
		return sender, sender.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported notifications driver %q", cfg.Notifications.Driver)
	}
}
