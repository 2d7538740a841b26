package redisstream

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xenking/order-pipeline/internal/event"
)

const (
	defaultBlock   = 5 * time.Second
	defaultCount   = 16
	defaultBackoff = time.Second
	defaultClaim   = time.Minute
)

// Message is one stream entry delivered to a Handler.
type Message struct {
	Topic    string
	ID       string
	Envelope event.Envelope
}

// Handler processes a message. Returning an error leaves the message
// pending so it is delivered again.
type Handler func(ctx context.Context, msg Message) error

// SubscriberConfig configures a Subscriber.
type SubscriberConfig struct {
	Group    string
	Consumer string
	// Block is how long a read waits for new entries.
	Block time.Duration
	// Count caps the entries returned by a single read.
	Count int64
	// Backoff is the pause before pending entries are retried and after a
	// failed read.
	Backoff time.Duration
	// ClaimIdle is how long an entry may sit unacknowledged with another
	// consumer of the group before this one takes it over. Consumers that
	// never come back, such as replicas with generated names, would otherwise
	// keep their pending entries forever.
	ClaimIdle time.Duration
}

// Subscriber reads streams through a consumer group.
type Subscriber struct {
	client redis.Cmdable
	cfg    SubscriberConfig
}

// NewSubscriber returns a Subscriber.
func NewSubscriber(client redis.Cmdable, cfg SubscriberConfig) (*Subscriber, error) {
	if cfg.Group == "" || cfg.Consumer == "" {
		return nil, errors.New("consumer group and consumer name are required")
	}
	if cfg.Block <= 0 {
		cfg.Block = defaultBlock
	}
	if cfg.Count <= 0 {
		cfg.Count = defaultCount
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = defaultBackoff
	}
	if cfg.ClaimIdle <= 0 {
		cfg.ClaimIdle = defaultClaim
	}
	return &Subscriber{client: client, cfg: cfg}, nil
}

// Subscribe consumes topic until ctx is done. Entries left pending for this
// consumer by an earlier run are handled first. Entries idle for longer than
// ClaimIdle in any other consumer of the group are claimed and handled too.
func (s *Subscriber) Subscribe(ctx context.Context, topic string, h Handler) error {
	ctx = zctx.With(ctx,
		zap.String("topic", topic),
		zap.String("group", s.cfg.Group),
		zap.String("consumer", s.cfg.Consumer),
	)
	lg := zctx.From(ctx)

	if err := s.ensureGroup(ctx, topic); err != nil {
		return err
	}
	lg.Info("Subscribed")

	var lastClaim time.Time
	retry := true
	for {
		if ctx.Err() != nil {
			return nil
		}
		if time.Since(lastClaim) >= s.cfg.ClaimIdle {
			claimed, err := s.claimIdle(ctx, topic)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				lg.Warn("Claim failed", zap.Error(err))
			} else {
				lastClaim = time.Now()
			}
			if claimed > 0 {
				lg.Info("Claimed idle entries", zap.Int("count", claimed))
				retry = true
			}
		}
		if retry {
			failed, err := s.drainPending(ctx, topic, h)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				lg.Warn("Pending read failed", zap.Error(err))
				s.sleep(ctx)
				continue
			}
			retry = failed > 0
		}

		failed, err := s.readNew(ctx, topic, h)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			lg.Warn("Stream read failed", zap.Error(err))
			s.sleep(ctx)
			continue
		}
		if failed > 0 {
			retry = true
			s.sleep(ctx)
		}
	}
}

func (s *Subscriber) ensureGroup(ctx context.Context, topic string) error {
	err := s.client.XGroupCreateMkStream(ctx, topic, s.cfg.Group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return errors.Wrapf(err, "create group %s on %s", s.cfg.Group, topic)
	}
	return nil
}

// claimIdle moves entries idle for at least ClaimIdle to this consumer and
// returns how many were moved. They are handled by the next drainPending.
func (s *Subscriber) claimIdle(ctx context.Context, topic string) (int, error) {
	var claimed int
	start := "0-0"
	for {
		ids, next, err := s.client.XAutoClaimJustID(ctx, &redis.XAutoClaimArgs{
			Stream:   topic,
			Group:    s.cfg.Group,
			Consumer: s.cfg.Consumer,
			MinIdle:  s.cfg.ClaimIdle,
			Start:    start,
			Count:    s.cfg.Count,
		}).Result()
		if err != nil {
			return claimed, errors.Wrap(err, "claim idle")
		}
		claimed += len(ids)
		if next == "" || next == "0-0" {
			return claimed, nil
		}
		start = next
	}
}

// drainPending walks this consumer's pending entries once and returns how
// many are still unacknowledged.
func (s *Subscriber) drainPending(ctx context.Context, topic string, h Handler) (int, error) {
	var failed int
	cursor := "0"
	for {
		streams, err := s.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    s.cfg.Group,
			Consumer: s.cfg.Consumer,
			Streams:  []string{topic, cursor},
			Count:    s.cfg.Count,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return failed, nil
			}
			return failed, errors.Wrap(err, "read pending")
		}
		entries := entries(streams)
		if len(entries) == 0 {
			return failed, nil
		}
		failed += s.handle(ctx, topic, entries, h)
		cursor = entries[len(entries)-1].ID
	}
}

// readNew waits for entries never delivered to the group and returns how
// many of them failed.
func (s *Subscriber) readNew(ctx context.Context, topic string, h Handler) (int, error) {
	streams, err := s.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    s.cfg.Group,
		Consumer: s.cfg.Consumer,
		Streams:  []string{topic, ">"},
		Count:    s.cfg.Count,
		Block:    s.cfg.Block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, errors.Wrap(err, "read new")
	}
	return s.handle(ctx, topic, entries(streams), h), nil
}

func (s *Subscriber) handle(ctx context.Context, topic string, entries []redis.XMessage, h Handler) (failed int) {
	for _, entry := range entries {
		lg := zctx.From(ctx).With(zap.String("message_id", entry.ID))

		msg, ok := toMessage(topic, entry)
		if !ok {
			// Trimmed from the stream while pending.
			lg.Warn("Dropping pending entry without payload")
			s.ack(ctx, topic, entry.ID)
			continue
		}
		if err := h(ctx, msg); err != nil {
			lg.Warn("Message left pending", zap.Error(err))
			failed++
			continue
		}
		s.ack(ctx, topic, entry.ID)
	}
	return failed
}

func (s *Subscriber) ack(ctx context.Context, topic, id string) {
	if err := s.client.XAck(ctx, topic, s.cfg.Group, id).Err(); err != nil {
		zctx.From(ctx).Warn("Ack failed", zap.String("message_id", id), zap.Error(err))
	}
}

func (s *Subscriber) sleep(ctx context.Context) {
	t := time.NewTimer(s.cfg.Backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func entries(streams []redis.XStream) []redis.XMessage {
	if len(streams) == 0 {
		return nil
	}
	return streams[0].Messages
}

func toMessage(topic string, entry redis.XMessage) (Message, bool) {
	payload, ok := entry.Values[fieldPayload].(string)
	if !ok {
		return Message{}, false
	}
	encoding, _ := entry.Values[fieldEncoding].(string)
	return Message{
		Topic: topic,
		ID:    entry.ID,
		Envelope: event.Envelope{
			Payload:  []byte(payload),
			Encoding: encoding,
		},
	}, true
}
