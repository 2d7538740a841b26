//go:build integration

package postgres_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/xenking/order-pipeline/db"
	"github.com/xenking/order-pipeline/internal/domain/notification"
	"github.com/xenking/order-pipeline/internal/domain/order"
	"github.com/xenking/order-pipeline/internal/domain/payment"
	"github.com/xenking/order-pipeline/internal/storage/postgres"
)

func startPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	ctr, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
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
		},
		Started: true,
	})
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err)

	endpoint, err := ctr.PortEndpoint(ctx, "5432/tcp", "")
	require.NoError(t, err)

	pool, err := postgres.NewPool(ctx, fmt.Sprintf("postgres://orders:orders@%s/orders?sslmode=disable", endpoint))
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, postgres.Migrate(ctx, pool, db.OrderSchema))
	require.NoError(t, postgres.Migrate(ctx, pool, db.NotificationSchema))
	return pool
}

func newOrder(ref string) *order.Order {
	return &order.Order{
		Reference:     ref,
		Amount:        decimal.RequireFromString("1234.56"),
		PaymentMethod: payment.MethodBitcoin,
		CustomerID:    "C1",
	}
}

func TestOrderStore(t *testing.T) {
	pool := startPostgres(t)
	store := postgres.NewOrderStore(pool)
	ctx := context.Background()

	t.Run("InsertAndFind", func(t *testing.T) {
		o := newOrder("ORD-1")
		err := store.InTx(ctx, func(ctx context.Context, tx order.Tx) error {
			if err := tx.InsertOrder(ctx, o); err != nil {
				return err
			}
			for _, pid := range []int64{7, 8} {
				if err := tx.InsertOrderLine(ctx, &order.Line{OrderID: o.ID, ProductID: pid, Quantity: 2}); err != nil {
					return err
				}
			}
			return nil
		})
		require.NoError(t, err)
		require.NotZero(t, o.ID)

		got, err := store.FindByID(ctx, o.ID)
		require.NoError(t, err)
		assert.Equal(t, "ORD-1", got.Reference)
		assert.True(t, o.Amount.Equal(got.Amount))
		assert.Equal(t, payment.MethodBitcoin, got.PaymentMethod)
		assert.Equal(t, order.StatusPending, got.Status)
		assert.False(t, got.CreatedAt.IsZero())

		byRef, err := store.FindByReference(ctx, "ORD-1")
		require.NoError(t, err)
		assert.Equal(t, o.ID, byRef.ID)

		lines, err := store.FindLines(ctx, o.ID)
		require.NoError(t, err)
		require.Len(t, lines, 2)
		assert.Equal(t, int64(7), lines[0].ProductID)
		assert.Equal(t, int64(8), lines[1].ProductID)
	})

	t.Run("RollbackOnLineFailure", func(t *testing.T) {
		err := store.InTx(ctx, func(ctx context.Context, tx order.Tx) error {
			o := newOrder("ORD-ROLLBACK")
			if err := tx.InsertOrder(ctx, o); err != nil {
				return err
			}
			return tx.InsertOrderLine(ctx, &order.Line{OrderID: o.ID + 1000, ProductID: 1, Quantity: 1})
		})
		require.ErrorIs(t, err, order.ErrUnknownOrder)

		_, err = store.FindByReference(ctx, "ORD-ROLLBACK")
		require.ErrorIs(t, err, order.ErrNotFound)
	})

	t.Run("DuplicateReference", func(t *testing.T) {
		err := store.InTx(ctx, func(ctx context.Context, tx order.Tx) error {
			return tx.InsertOrder(ctx, newOrder("ORD-1"))
		})
		require.ErrorIs(t, err, order.ErrDuplicateReference)
	})

	t.Run("UpdateStatus", func(t *testing.T) {
		o, err := store.FindByReference(ctx, "ORD-1")
		require.NoError(t, err)

		require.NoError(t, store.UpdateStatus(ctx, o.ID, order.StatusConfirmed))
		got, err := store.FindByID(ctx, o.ID)
		require.NoError(t, err)
		assert.Equal(t, order.StatusConfirmed, got.Status)

		require.ErrorIs(t, store.UpdateStatus(ctx, 999_999, order.StatusConfirmed), order.ErrNotFound)
		require.Error(t, store.UpdateStatus(ctx, o.ID, order.Status("CANCELLED")), "only saga statuses are stored")
	})

	t.Run("ConcurrentInserts", func(t *testing.T) {
		var wg sync.WaitGroup
		for i := range 10 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := store.InTx(ctx, func(ctx context.Context, tx order.Tx) error {
					o := newOrder(fmt.Sprintf("ORD-C-%d", i))
					if err := tx.InsertOrder(ctx, o); err != nil {
						return err
					}
					return tx.InsertOrderLine(ctx, &order.Line{OrderID: o.ID, ProductID: int64(i), Quantity: 1})
				})
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		all, err := store.FindAll(ctx)
		require.NoError(t, err)
		assert.Len(t, all, 11)
		for i := 1; i < len(all); i++ {
			assert.Less(t, all[i-1].ID, all[i].ID)
		}
	})
}

func TestNotificationRepository(t *testing.T) {
	pool := startPostgres(t)
	repo := postgres.NewNotificationRepository(pool)
	ctx := context.Background()

	n := &notification.Notification{
		EventID:   "order-topic:1-0",
		Type:      notification.TypeOrderConfirmation,
		Reference: "ORD-1",
		Recipient: "ada@example.com",
		Payload:   []byte(`{"orderReference":"ORD-1"}`),
		Status:    notification.StatusPending,
	}
	require.NoError(t, repo.Record(ctx, n))
	assert.NotZero(t, n.ID)
	assert.Equal(t, 1, n.Attempts)

	require.NoError(t, repo.MarkFailed(ctx, n.EventID, "smtp timeout"))
	got, err := repo.Find(ctx, n.EventID)
	require.NoError(t, err)
	assert.Equal(t, notification.StatusFailed, got.Status)
	assert.Equal(t, "smtp timeout", got.Error)
	assert.True(t, got.SentAt.IsZero())

	// A redelivered event counts another attempt on the same row.
	again := *n
	require.NoError(t, repo.Record(ctx, &again))
	assert.Equal(t, n.ID, again.ID)
	assert.Equal(t, 2, again.Attempts)

	sentAt := time.Now().UTC().Truncate(time.Millisecond)
	require.NoError(t, repo.MarkSent(ctx, n.EventID, sentAt))
	got, err = repo.Find(ctx, n.EventID)
	require.NoError(t, err)
	assert.Equal(t, notification.StatusSent, got.Status)
	assert.Empty(t, got.Error)
	assert.True(t, sentAt.Equal(got.SentAt))
	assert.JSONEq(t, `{"orderReference":"ORD-1"}`, string(got.Payload))

	ids, err := repo.SentEventIDs(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []string{"order-topic:1-0"}, ids)

	_, err = repo.Find(ctx, "order-topic:missing")
	require.True(t, errors.Is(err, notification.ErrNotFound))
	require.ErrorIs(t, repo.MarkSent(ctx, "order-topic:missing", sentAt), notification.ErrNotFound)
}
