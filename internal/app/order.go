package app

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/xenking/order-pipeline/db"
	"github.com/xenking/order-pipeline/internal/bus/redisstream"
	"github.com/xenking/order-pipeline/internal/client"
	"github.com/xenking/order-pipeline/internal/domain/order"
	"github.com/xenking/order-pipeline/internal/event"
	"github.com/xenking/order-pipeline/internal/handler"
	"github.com/xenking/order-pipeline/internal/storage/postgres"
	"github.com/xenking/order-pipeline/pkg/health"
)

// RunOrderService wires the order service and serves HTTP until ctx is done.
func RunOrderService(ctx context.Context, lg *zap.Logger, m Telemetry, cfg *OrderConfig) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := postgres.Migrate(ctx, pool, db.OrderSchema); err != nil {
		return errors.Wrap(err, "migrate")
	}

	rdb, err := newRedis(ctx, cfg.RedisURL)
	if err != nil {
		return err
	}
	defer func() { _ = rdb.Close() }()

	clientConfig := func(c ClientConfig) client.Config {
		return client.Config{
			BaseURL:        c.URL,
			Timeout:        c.Timeout,
			TracerProvider: m.TracerProvider(),
			MeterProvider:  m.MeterProvider(),
		}
	}
	customers, err := client.NewCustomerClient(clientConfig(cfg.Customer))
	if err != nil {
		return errors.Wrap(err, "customer client")
	}
	products, err := client.NewProductClient(clientConfig(cfg.Product))
	if err != nil {
		return errors.Wrap(err, "product client")
	}
	payments, err := client.NewPaymentClient(clientConfig(cfg.Payment))
	if err != nil {
		return errors.Wrap(err, "payment client")
	}

	publisher := event.NewPublisher(
		redisstream.NewProducer(rdb, cfg.StreamMaxLen),
		event.Codec{CompressAbove: cfg.CompressAbove},
	)

	orders, err := order.NewService(order.ServiceConfig{
		Timeouts: order.Timeouts{
			Customer:     cfg.Customer.Timeout,
			Product:      cfg.Product.Timeout,
			Payment:      cfg.Payment.Timeout,
			Publish:      cfg.PublishTimeout,
			Compensation: cfg.CompensationTimeout,
		},
		TracerProvider: m.TracerProvider(),
		MeterProvider:  m.MeterProvider(),
	}, customers, products, payments, postgres.NewOrderStore(pool), publisher)
	if err != nil {
		return errors.Wrap(err, "create order service")
	}

	probes := health.New()
	registerChecks(probes, cfg.Health, map[string]health.Pinger{
		"postgres": pool,
		"redis":    redisPinger{client: rdb},
	})
	probes.Start(ctx, cfg.Health.Interval)
	probes.SetReady(true)

	r := chi.NewRouter()
	probes.Routes(r)
	r.Group(func(r chi.Router) {
		r.Use(func(next http.Handler) http.Handler {
			return otelhttp.NewHandler(next, "order-service",
				otelhttp.WithTracerProvider(m.TracerProvider()),
				otelhttp.WithMeterProvider(m.MeterProvider()),
			)
		})
		handler.NewHandler(orders).Routes(r)
	})

	return serve(ctx, lg, newServer(ctx, cfg.Addr, r), probes, cfg.Graceful)
}
