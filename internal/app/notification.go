package app

import (
	"context"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/order-pipeline/db"
	"github.com/xenking/order-pipeline/internal/bus/redisstream"
	"github.com/xenking/order-pipeline/internal/domain/notification"
	"github.com/xenking/order-pipeline/internal/event"
	"github.com/xenking/order-pipeline/internal/mail"
	"github.com/xenking/order-pipeline/internal/storage/postgres"
	"github.com/xenking/order-pipeline/pkg/health"
)

// RunNotificationService consumes confirmation events and sends emails
// until ctx is done. Probes are served on cfg.Addr.
func RunNotificationService(ctx context.Context, lg *zap.Logger, m Telemetry, cfg *NotificationConfig) error {
	lg.Info("Initializing",
		zap.String("addr", cfg.Addr),
		zap.String("group", cfg.Group),
		zap.String("consumer", cfg.Consumer),
	)

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := postgres.Migrate(ctx, pool, db.NotificationSchema); err != nil {
		return errors.Wrap(err, "migrate")
	}

	rdb, err := newRedis(ctx, cfg.RedisURL)
	if err != nil {
		return err
	}
	defer func() { _ = rdb.Close() }()

	var transport mail.Transport = mail.NewSMTPTransport(mail.SMTPConfig{
		Host:     cfg.SMTP.Host,
		Port:     cfg.SMTP.Port,
		Username: cfg.SMTP.Username,
		Password: cfg.SMTP.Password,
	})
	if cfg.SMTP.Mock {
		lg.Warn("SMTP mock mode, emails are logged and not sent")
		transport = mail.LogTransport{}
	}

	consumer, err := notification.NewConsumer(notification.ConsumerConfig{
		WarmWindow:    cfg.WarmWindow,
		MeterProvider: m.MeterProvider(),
	}, postgres.NewNotificationRepository(pool), mail.NewSender(cfg.SMTP.From, transport))
	if err != nil {
		return errors.Wrap(err, "create consumer")
	}
	if err := consumer.Warm(ctx); err != nil {
		return err
	}

	subscriber, err := redisstream.NewSubscriber(rdb, redisstream.SubscriberConfig{
		Group:     cfg.Group,
		Consumer:  cfg.Consumer,
		Block:     cfg.Block,
		Count:     cfg.Count,
		Backoff:   cfg.Backoff,
		ClaimIdle: cfg.ClaimIdle,
	})
	if err != nil {
		return errors.Wrap(err, "create subscriber")
	}

	probes := health.New()
	registerChecks(probes, cfg.Health, map[string]health.Pinger{
		"postgres": pool,
		"redis":    redisPinger{client: rdb},
	})
	probes.Start(ctx, cfg.Health.Interval)

	handle := func(ctx context.Context, msg redisstream.Message) error {
		ctx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
		defer cancel()
		_, err := consumer.Handle(ctx, msg.Topic, msg.ID, msg.Envelope)
		return err
	}

	r := chi.NewRouter()
	probes.Routes(r)

	g, gctx := errgroup.WithContext(ctx)
	for _, topic := range []string{event.TopicOrder, event.TopicPayment} {
		g.Go(func() error {
			return subscriber.Subscribe(gctx, topic, handle)
		})
	}
	g.Go(func() error {
		return serve(gctx, lg, newServer(gctx, cfg.Addr, r), probes, cfg.Graceful)
	})
	probes.SetReady(true)

	return g.Wait()
}
