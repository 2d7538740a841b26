package event

import (
	"context"

	"github.com/go-faster/errors"
)

// Producer appends an envelope to a topic and returns the id the bus
// assigned to it.
type Producer interface {
	Produce(ctx context.Context, topic string, env Envelope) (string, error)
}

// Publisher encodes typed events and hands them to a Producer.
type Publisher struct {
	producer Producer
	codec    Codec
}

// NewPublisher returns a Publisher writing through producer.
func NewPublisher(producer Producer, codec Codec) *Publisher {
	return &Publisher{producer: producer, codec: codec}
}

// PublishOrderConfirmation writes c to TopicOrder.
func (p *Publisher) PublishOrderConfirmation(ctx context.Context, c OrderConfirmation) error {
	return p.publish(ctx, TopicOrder, &c)
}

// PublishPaymentConfirmation writes c to TopicPayment.
func (p *Publisher) PublishPaymentConfirmation(ctx context.Context, c PaymentConfirmation) error {
	return p.publish(ctx, TopicPayment, &c)
}

func (p *Publisher) publish(ctx context.Context, topic string, m Message) error {
	env, err := p.codec.Marshal(m)
	if err != nil {
		return errors.Wrapf(err, "encode %s message", topic)
	}
	if _, err := p.producer.Produce(ctx, topic, env); err != nil {
		return errors.Wrapf(err, "produce to %s", topic)
	}
	return nil
}
