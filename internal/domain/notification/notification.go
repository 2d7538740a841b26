// Package notification records confirmation events and delivers them to
// customers by email.
package notification

import (
	"context"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/order-pipeline/internal/event"
)

// ErrNotFound is returned by a Repository when no notification has the
// requested event id.
var ErrNotFound = errors.New("notification not found")

// Type tells which confirmation a notification was produced for.
type Type string

const (
	TypeOrderConfirmation   Type = "ORDER_CONFIRMATION"
	TypePaymentConfirmation Type = "PAYMENT_CONFIRMATION"
)

// Status is the delivery state of a recorded notification.
type Status string

const (
	StatusPending Status = "PENDING"
	StatusSent    Status = "SENT"
	StatusFailed  Status = "FAILED"
)

// Notification is one recorded confirmation event. EventID is unique.
type Notification struct {
	ID        int64
	EventID   string
	Type      Type
	Reference string
	Recipient string
	Payload   []byte
	Status    Status
	Error     string
	Attempts  int
	CreatedAt time.Time
	SentAt    time.Time
}

// Repository stores notifications.
type Repository interface {
	// Record inserts n, or bumps the attempt counter and resets the status
	// to PENDING when a notification with the same EventID already exists.
	Record(ctx context.Context, n *Notification) error
	// Find returns the notification with the given event id.
	Find(ctx context.Context, eventID string) (*Notification, error)
	MarkSent(ctx context.Context, eventID string, at time.Time) error
	MarkFailed(ctx context.Context, eventID string, reason string) error
	// SentEventIDs returns the event ids of delivered notifications created
	// after since.
	SentEventIDs(ctx context.Context, since time.Time) ([]string, error)
}

// Sender delivers confirmations to customers.
type Sender interface {
	SendOrderConfirmation(ctx context.Context, c event.OrderConfirmation) error
	SendPaymentConfirmation(ctx context.Context, c event.PaymentConfirmation) error
}

// Outcome is the result of handling one confirmation event.
type Outcome string

const (
	// OutcomeDelivered means the notification was recorded and sent.
	OutcomeDelivered Outcome = "delivered"
	// OutcomeSentNotRecorded means the email went out but the record could
	// not be written. The event is acknowledged and needs reconciliation.
	OutcomeSentNotRecorded Outcome = "sent_not_recorded"
	// OutcomeSendFailed means the email was not sent. The event stays
	// pending on the bus and is redelivered.
	OutcomeSendFailed Outcome = "send_failed"
	// OutcomeDuplicate means the event was already delivered.
	OutcomeDuplicate Outcome = "duplicate"
	// OutcomeRejected means the event could not be decoded. It is
	// acknowledged so it does not block the stream.
	OutcomeRejected Outcome = "rejected"
)

// EventID builds the idempotency key of a bus message.
func EventID(topic, messageID string) string {
	return topic + ":" + messageID
}
