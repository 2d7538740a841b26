// Package redisstream carries bus messages over Redis Streams. Every topic
// is a stream; consumers read through consumer groups and acknowledge a
// message only after it was handled.
package redisstream

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"

	"github.com/xenking/order-pipeline/internal/event"
)

// Stream entry fields.
const (
	fieldEncoding = "encoding"
	fieldPayload  = "payload"
)

var _ event.Producer = (*Producer)(nil)

// Producer appends envelopes to streams.
type Producer struct {
	client redis.Cmdable
	maxLen int64
}

// NewProducer returns a Producer. A positive maxLen trims every stream to
// roughly that many entries on write.
func NewProducer(client redis.Cmdable, maxLen int64) *Producer {
	return &Producer{client: client, maxLen: maxLen}
}

// Produce adds env to the stream named topic and returns the entry id.
func (p *Producer) Produce(ctx context.Context, topic string, env event.Envelope) (string, error) {
	id, err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: topic,
		MaxLen: p.maxLen,
		Approx: p.maxLen > 0,
		Values: map[string]any{
			fieldEncoding: env.Encoding,
			fieldPayload:  env.Payload,
		},
	}).Result()
	if err != nil {
		return "", errors.Wrapf(err, "xadd %s", topic)
	}
	return id, nil
}
