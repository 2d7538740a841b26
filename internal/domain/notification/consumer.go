package notification

import (
	"context"
	"sync"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"

	"github.com/xenking/order-pipeline/internal/event"
)

const instrumentationName = "github.com/xenking/order-pipeline/internal/domain/notification"

const (
	defaultFilterCapacity = 1_000_000
	defaultFilterFPR      = 0.001
	defaultWarmWindow     = 7 * 24 * time.Hour
)

// ConsumerConfig holds non-dependency configuration for the Consumer.
type ConsumerConfig struct {
	Codec event.Codec
	// FilterCapacity and FilterFPR size the delivered-event filter.
	FilterCapacity uint
	FilterFPR      float64
	// WarmWindow bounds how far back Warm loads delivered events.
	WarmWindow    time.Duration
	MeterProvider metric.MeterProvider
	Now           func() time.Time
}

func (cfg *ConsumerConfig) setDefaults() {
	if cfg.FilterCapacity == 0 {
		cfg.FilterCapacity = defaultFilterCapacity
	}
	if cfg.FilterFPR <= 0 {
		cfg.FilterFPR = defaultFilterFPR
	}
	if cfg.WarmWindow <= 0 {
		cfg.WarmWindow = defaultWarmWindow
	}
	if cfg.MeterProvider == nil {
		cfg.MeterProvider = metricnoop.NewMeterProvider()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
}

// Consumer handles confirmation events: it records a notification and sends
// the matching email, at most once per event id.
type Consumer struct {
	repo   Repository
	sender Sender
	codec  event.Codec
	now    func() time.Time
	window time.Duration

	mu        sync.Mutex
	delivered *bloom.BloomFilter

	handled metric.Int64Counter
}

// NewConsumer creates a Consumer.
func NewConsumer(cfg ConsumerConfig, repo Repository, sender Sender) (*Consumer, error) {
	cfg.setDefaults()

	handled, err := cfg.MeterProvider.Meter(instrumentationName).Int64Counter("notifications.handled",
		metric.WithDescription("Confirmation events handled, by type and outcome"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "notifications.handled counter")
	}

	return &Consumer{
		repo:      repo,
		sender:    sender,
		codec:     cfg.Codec,
		now:       cfg.Now,
		window:    cfg.WarmWindow,
		delivered: bloom.NewWithEstimates(cfg.FilterCapacity, cfg.FilterFPR),
		handled:   handled,
	}, nil
}

// Warm loads recently delivered event ids into the filter so redeliveries
// after a restart are still recognised.
func (c *Consumer) Warm(ctx context.Context) error {
	ids, err := c.repo.SentEventIDs(ctx, c.now().Add(-c.window))
	if err != nil {
		return errors.Wrap(err, "load delivered events")
	}

	c.mu.Lock()
	for _, id := range ids {
		c.delivered.AddString(id)
	}
	c.mu.Unlock()

	zctx.From(ctx).Info("Delivered event filter warmed", zap.Int("events", len(ids)))
	return nil
}

// Handle decodes a bus message from topic and dispatches it. A non-nil error
// means the message must stay pending for redelivery.
func (c *Consumer) Handle(ctx context.Context, topic, messageID string, env event.Envelope) (Outcome, error) {
	eventID := EventID(topic, messageID)
	lg := zctx.From(ctx).With(zap.String("event_id", eventID))

	switch topic {
	case event.TopicOrder:
		var oc event.OrderConfirmation
		if err := c.codec.Unmarshal(env, &oc); err != nil {
			lg.Error("Order confirmation rejected", zap.Error(err))
			c.count(ctx, TypeOrderConfirmation, OutcomeRejected)
			return OutcomeRejected, nil
		}
		return c.HandleOrderConfirmation(ctx, eventID, oc)
	case event.TopicPayment:
		var pc event.PaymentConfirmation
		if err := c.codec.Unmarshal(env, &pc); err != nil {
			lg.Error("Payment confirmation rejected", zap.Error(err))
			c.count(ctx, TypePaymentConfirmation, OutcomeRejected)
			return OutcomeRejected, nil
		}
		return c.HandlePaymentConfirmation(ctx, eventID, pc)
	default:
		lg.Error("Message from unexpected topic rejected", zap.String("topic", topic))
		return OutcomeRejected, nil
	}
}

// HandleOrderConfirmation records and emails an order confirmation.
func (c *Consumer) HandleOrderConfirmation(ctx context.Context, eventID string, oc event.OrderConfirmation) (Outcome, error) {
	n := &Notification{
		EventID:   eventID,
		Type:      TypeOrderConfirmation,
		Reference: oc.OrderReference,
		Recipient: oc.Customer.Email,
		Payload:   event.JSON(&oc),
	}
	return c.deliver(ctx, n, func(ctx context.Context) error {
		return c.sender.SendOrderConfirmation(ctx, oc)
	})
}

// HandlePaymentConfirmation records and emails a payment confirmation.
func (c *Consumer) HandlePaymentConfirmation(ctx context.Context, eventID string, pc event.PaymentConfirmation) (Outcome, error) {
	n := &Notification{
		EventID:   eventID,
		Type:      TypePaymentConfirmation,
		Reference: pc.OrderReference,
		Recipient: pc.CustomerEmail,
		Payload:   event.JSON(&pc),
	}
	return c.deliver(ctx, n, func(ctx context.Context) error {
		return c.sender.SendPaymentConfirmation(ctx, pc)
	})
}

func (c *Consumer) deliver(ctx context.Context, n *Notification, send func(context.Context) error) (Outcome, error) {
	lg := zctx.From(ctx).With(
		zap.String("event_id", n.EventID),
		zap.String("type", string(n.Type)),
		zap.String("reference", n.Reference),
	)

	if n.Recipient == "" {
		lg.Error("Confirmation without recipient rejected")
		c.count(ctx, n.Type, OutcomeRejected)
		return OutcomeRejected, nil
	}

	dup, err := c.isDelivered(ctx, n.EventID)
	if err != nil {
		c.count(ctx, n.Type, OutcomeSendFailed)
		return OutcomeSendFailed, errors.Wrap(err, "check delivery")
	}
	if dup {
		lg.Debug("Duplicate confirmation skipped")
		c.count(ctx, n.Type, OutcomeDuplicate)
		return OutcomeDuplicate, nil
	}

	n.Status = StatusPending
	recordErr := c.repo.Record(ctx, n)
	if recordErr != nil {
		lg.Error("Notification not recorded", zap.Error(recordErr))
	}

	if err := send(ctx); err != nil {
		if recordErr == nil {
			if markErr := c.repo.MarkFailed(ctx, n.EventID, err.Error()); markErr != nil {
				lg.Error("Notification failure not recorded", zap.Error(markErr))
			}
		}
		lg.Warn("Confirmation email not sent", zap.Error(err))
		c.count(ctx, n.Type, OutcomeSendFailed)
		return OutcomeSendFailed, errors.Wrap(err, "send email")
	}
	c.markDelivered(n.EventID)

	if recordErr == nil {
		recordErr = c.repo.MarkSent(ctx, n.EventID, c.now())
	}
	if recordErr != nil {
		lg.Error("Confirmation sent but not recorded, needs reconciliation", zap.Error(recordErr))
		c.count(ctx, n.Type, OutcomeSentNotRecorded)
		return OutcomeSentNotRecorded, nil
	}

	lg.Info("Confirmation delivered", zap.String("recipient", n.Recipient))
	c.count(ctx, n.Type, OutcomeDelivered)
	return OutcomeDelivered, nil
}

// isDelivered checks the filter first and confirms a hit against the
// repository, since the filter can report false positives.
func (c *Consumer) isDelivered(ctx context.Context, eventID string) (bool, error) {
	c.mu.Lock()
	maybe := c.delivered.TestString(eventID)
	c.mu.Unlock()
	if !maybe {
		return false, nil
	}

	n, err := c.repo.Find(ctx, eventID)
	switch {
	case errors.Is(err, ErrNotFound):
		return false, nil
	case err != nil:
		return false, errors.Wrapf(err, "find notification %s", eventID)
	}
	return n.Status == StatusSent, nil
}

func (c *Consumer) markDelivered(eventID string) {
	c.mu.Lock()
	c.delivered.AddString(eventID)
	c.mu.Unlock()
}

func (c *Consumer) count(ctx context.Context, typ Type, outcome Outcome) {
	c.handled.Add(ctx, 1, metric.WithAttributes(
		attribute.String("type", string(typ)),
		attribute.String("outcome", string(outcome)),
	))
}
