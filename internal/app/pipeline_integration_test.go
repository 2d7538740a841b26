//go:build integration

package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/go-faster/sdk/zctx"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap/zaptest"

	"github.com/xenking/order-pipeline/internal/bus/redisstream"
	"github.com/xenking/order-pipeline/internal/domain/payment"
	"github.com/xenking/order-pipeline/internal/event"
)

type noopTelemetry struct{}

func (noopTelemetry) TracerProvider() trace.TracerProvider { return tracenoop.NewTracerProvider() }
func (noopTelemetry) MeterProvider() metric.MeterProvider  { return metricnoop.NewMeterProvider() }

func startContainer(t *testing.T, req testcontainers.ContainerRequest, port string) string {
	t.Helper()
	ctx := context.Background()
	ctr, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err)

	endpoint, err := ctr.PortEndpoint(ctx, nat.Port(port), "")
	require.NoError(t, err)
	return endpoint
}

func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

// downstream fakes the customer, product and payment services.
func downstream(t *testing.T) string {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/customers/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") != "C1" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id": "C1", "firstname": "Ada", "lastname": "Lovelace", "email": "ada@example.com",
		})
	})
	mux.HandleFunc("POST /api/v1/products/purchase", func(w http.ResponseWriter, r *http.Request) {
		var reqs []struct {
			ProductID int64 `json:"productId"`
			Quantity  int   `json:"quantity"`
		}
		if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&reqs)) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		out := make([]map[string]any, 0, len(reqs))
		for _, req := range reqs {
			out = append(out, map[string]any{
				"productId": req.ProductID,
				"name":      fmt.Sprintf("Product %d", req.ProductID),
				"price":     "10.00",
				"quantity":  req.Quantity,
			})
		}
		_ = json.NewEncoder(w).Encode(out)
	})
	mux.HandleFunc("POST /api/v1/products/release", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("POST /api/v1/payments", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]int64{"id": 1})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv.URL
}

func waitReady(t *testing.T, addr string) {
	t.Helper()
	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/readyz")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 30*time.Second, 100*time.Millisecond)
}

func notificationStatus(t *testing.T, pool *pgxpool.Pool, reference, typ string) func() bool {
	return func() bool {
		var status string
		err := pool.QueryRow(context.Background(),
			`SELECT status FROM notifications WHERE reference = $1 AND type = $2`, reference, typ,
		).Scan(&status)
		return err == nil && status == "SENT"
	}
}

func TestPipeline(t *testing.T) {
	pgEndpoint := startContainer(t, testcontainers.ContainerRequest{
		Image:        "postgres:17-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "orders",
			"POSTGRES_PASSWORD": "orders",
			"POSTGRES_DB":       "orders",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(time.Minute),
	}, "5432/tcp")
	redisEndpoint := startContainer(t, testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(time.Minute),
	}, "6379/tcp")

	databaseURL := fmt.Sprintf("postgres://orders:orders@%s/orders?sslmode=disable", pgEndpoint)
	redisURL := "redis://" + redisEndpoint + "/0"
	services := downstream(t)
	graceful := GracefulConfig{ShutdownTimeout: 5 * time.Second}
	probes := HealthConfig{Interval: time.Second, MaxGoroutines: 10000}

	orderCfg := &OrderConfig{
		Addr:                freeAddr(t),
		DatabaseURL:         databaseURL,
		RedisURL:            redisURL,
		Customer:            ClientConfig{URL: services, Timeout: 5 * time.Second},
		Product:             ClientConfig{URL: services, Timeout: 5 * time.Second},
		Payment:             ClientConfig{URL: services, Timeout: 5 * time.Second},
		PublishTimeout:      5 * time.Second,
		CompensationTimeout: 5 * time.Second,
		StreamMaxLen:        1000,
		CompressAbove:       event.DefaultCompressAbove,
		Health:              probes,
		Graceful:            graceful,
	}
	notifyCfg := &NotificationConfig{
		Addr:        freeAddr(t),
		DatabaseURL: databaseURL,
		RedisURL:    redisURL,
		Group:       "notification-service",
		Consumer:    "notification-test",
		Block:       500 * time.Millisecond,
		Count:       16,
		Backoff:     100 * time.Millisecond,
		SendTimeout: 5 * time.Second,
		WarmWindow:  time.Hour,
		SMTP:        SMTPConfig{From: "orders@example.com", Mock: true},
		Health:      probes,
		Graceful:    graceful,
	}

	lg := zaptest.NewLogger(t)
	ctx, cancel := context.WithCancel(zctx.Base(context.Background(), lg))
	orderDone := make(chan error, 1)
	notifyDone := make(chan error, 1)
	go func() { orderDone <- RunOrderService(ctx, lg.Named("order"), noopTelemetry{}, orderCfg) }()
	go func() { notifyDone <- RunNotificationService(ctx, lg.Named("notification"), noopTelemetry{}, notifyCfg) }()
	waitReady(t, orderCfg.Addr)
	waitReady(t, notifyCfg.Addr)

	pool, err := pgxpool.New(context.Background(), databaseURL)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	post := func(body string) (*http.Response, map[string]any) {
		resp, err := http.Post("http://"+orderCfg.Addr+"/api/v1/orders", "application/json", strings.NewReader(body))
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		var out map[string]any
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
		return resp, out
	}

	t.Run("OrderIsConfirmedAndEmailed", func(t *testing.T) {
		resp, body := post(`{
			"customerId": "C1",
			"reference": "ORD-E2E-1",
			"amount": 20.00,
			"paymentMethod": "VISA",
			"products": [{"productId": 1, "quantity": 2}]
		}`)
		require.Equal(t, http.StatusCreated, resp.StatusCode, body)
		assert.Equal(t, "CONFIRMED", body["status"])
		assert.Equal(t, "succeeded", body["confirmation"])

		require.Eventually(t, notificationStatus(t, pool, "ORD-E2E-1", "ORDER_CONFIRMATION"),
			10*time.Second, 100*time.Millisecond)
	})

	t.Run("DuplicateReference", func(t *testing.T) {
		resp, _ := post(`{
			"customerId": "C1",
			"reference": "ORD-E2E-1",
			"amount": 20.00,
			"paymentMethod": "VISA",
			"products": [{"productId": 1, "quantity": 2}]
		}`)
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
	})

	t.Run("UnknownCustomer", func(t *testing.T) {
		resp, _ := post(`{
			"customerId": "C404",
			"reference": "ORD-E2E-2",
			"amount": 10.00,
			"paymentMethod": "PAYPAL",
			"products": [{"productId": 1, "quantity": 1}]
		}`)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("PaymentConfirmationIsEmailed", func(t *testing.T) {
		opts, err := redis.ParseURL(redisURL)
		require.NoError(t, err)
		rdb := redis.NewClient(opts)
		t.Cleanup(func() { _ = rdb.Close() })

		publisher := event.NewPublisher(redisstream.NewProducer(rdb, 0), event.Codec{})
		require.NoError(t, publisher.PublishPaymentConfirmation(context.Background(), event.PaymentConfirmation{
			OrderReference:    "ORD-E2E-1",
			Amount:            decimal.RequireFromString("20.00"),
			PaymentMethod:     payment.MethodVisa,
			CustomerFirstname: "Ada",
			CustomerLastname:  "Lovelace",
			CustomerEmail:     "ada@example.com",
		}))

		require.Eventually(t, notificationStatus(t, pool, "ORD-E2E-1", "PAYMENT_CONFIRMATION"),
			10*time.Second, 100*time.Millisecond)
	})

	cancel()
	for _, done := range []chan error{orderDone, notifyDone} {
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(30 * time.Second):
			t.Fatal("service did not stop")
		}
	}
}
