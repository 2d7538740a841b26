package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/order-pipeline/internal/domain/notification"
)

const (
	recordNotificationSQL = `INSERT INTO notifications (event_id, type, reference, recipient, payload, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (event_id) DO UPDATE
			SET attempts = notifications.attempts + 1, status = EXCLUDED.status, error = ''
		RETURNING id, attempts, created_at`

	getNotificationSQL = `SELECT id, event_id, type, reference, recipient, payload, status, error, attempts, created_at, sent_at
		FROM notifications WHERE event_id = $1`

	markNotificationSentSQL = `UPDATE notifications SET status = 'SENT', sent_at = $2, error = ''
		WHERE event_id = $1`

	markNotificationFailedSQL = `UPDATE notifications SET status = 'FAILED', error = $2
		WHERE event_id = $1`

	listSentEventIDsSQL = `SELECT event_id FROM notifications
		WHERE status = 'SENT' AND created_at > $1`
)

var _ notification.Repository = (*NotificationRepository)(nil)

// NotificationRepository implements notification.Repository backed by
// PostgreSQL.
type NotificationRepository struct {
	pool *pgxpool.Pool
}

// NewNotificationRepository returns a NotificationRepository that uses the
// given pool.
func NewNotificationRepository(pool *pgxpool.Pool) *NotificationRepository {
	return &NotificationRepository{pool: pool}
}

// Record inserts n or, on a repeated event id, counts another attempt.
func (r *NotificationRepository) Record(ctx context.Context, n *notification.Notification) error {
	err := r.pool.QueryRow(ctx, recordNotificationSQL,
		n.EventID, string(n.Type), n.Reference, n.Recipient, n.Payload, string(n.Status),
	).Scan(&n.ID, &n.Attempts, &n.CreatedAt)
	if err != nil {
		return fmt.Errorf("recording notification %q: %w", n.EventID, err)
	}
	return nil
}

// Find returns the notification recorded for eventID.
func (r *NotificationRepository) Find(ctx context.Context, eventID string) (*notification.Notification, error) {
	rows, err := r.pool.Query(ctx, getNotificationSQL, eventID)
	if err != nil {
		return nil, fmt.Errorf("getting notification %q: %w", eventID, err)
	}

	n, err := pgx.CollectExactlyOneRow(rows, scanNotification)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notification.ErrNotFound
		}
		return nil, fmt.Errorf("getting notification %q: %w", eventID, err)
	}
	return &n, nil
}

// MarkSent records a successful delivery.
func (r *NotificationRepository) MarkSent(ctx context.Context, eventID string, at time.Time) error {
	return r.update(ctx, markNotificationSentSQL, eventID, at)
}

// MarkFailed records a failed delivery attempt.
func (r *NotificationRepository) MarkFailed(ctx context.Context, eventID string, reason string) error {
	return r.update(ctx, markNotificationFailedSQL, eventID, reason)
}

// SentEventIDs returns event ids of notifications delivered and created
// after since.
func (r *NotificationRepository) SentEventIDs(ctx context.Context, since time.Time) ([]string, error) {
	rows, err := r.pool.Query(ctx, listSentEventIDsSQL, since)
	if err != nil {
		return nil, fmt.Errorf("listing delivered notifications: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (r *NotificationRepository) update(ctx context.Context, query, eventID string, arg any) error {
	tag, err := r.pool.Exec(ctx, query, eventID, arg)
	if err != nil {
		return fmt.Errorf("updating notification %q: %w", eventID, err)
	}
	if tag.RowsAffected() == 0 {
		return notification.ErrNotFound
	}
	return nil
}

func scanNotification(row pgx.CollectableRow) (notification.Notification, error) {
	var (
		n      notification.Notification
		typ    string
		status string
		sentAt *time.Time
	)
	err := row.Scan(
		&n.ID, &n.EventID, &typ, &n.Reference, &n.Recipient, &n.Payload,
		&status, &n.Error, &n.Attempts, &n.CreatedAt, &sentAt,
	)
	n.Type = notification.Type(typ)
	n.Status = notification.Status(status)
	if sentAt != nil {
		n.SentAt = *sentAt
	}
	return n, err
}
