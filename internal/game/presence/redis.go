package presence

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// SourceRedis labels facts received from the Redis feed.
const SourceRedis = "redis"

// ParseFact decodes and validates a JSON presence fact.
//
// Postcondition: Returns a valid Fact or a non-nil error.
func ParseFact(data []byte) (Fact, error) {
	var f Fact
	if err := json.Unmarshal(data, &f); err != nil {
		return Fact{}, fmt.Errorf("decoding presence fact: %w", err)
	}
	if err := f.Validate(); err != nil {
		return Fact{}, err
	}
	return f, nil
}

// RedisFeed bridges presence facts between processes over a Redis pub/sub channel.
// Facts observed locally are published with this feed's origin; facts received
// from the channel are republished locally unless they carry the same origin.
type RedisFeed struct {
	client   *redis.Client
	channel  string
	origin   string
	notifier *Notifier
	logger   *zap.Logger
}

// NewRedisFeed creates a RedisFeed.
//
// Precondition: client, notifier, and logger must be non-nil; channel and origin must be non-empty.
func NewRedisFeed(client *redis.Client, channel, origin string, notifier *Notifier, logger *zap.Logger) *RedisFeed {
	return &RedisFeed{
		client:   client,
		channel:  channel,
		origin:   origin,
		notifier: notifier,
		logger:   logger,
	}
}

// Run subscribes to the channel and republishes facts until ctx is cancelled.
//
// Postcondition: Returns nil on cancellation, or the subscription error.
func (r *RedisFeed) Run(ctx context.Context) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("subscribing to presence channel %s: %w", r.channel, err)
	}
	r.logger.Info("presence feed subscribed", zap.String("channel", r.channel))
	r.consume(ctx, sub.Channel())
	return nil
}

func (r *RedisFeed) consume(ctx context.Context, msgs <-chan *redis.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			r.handle(ctx, []byte(msg.Payload))
		}
	}
}

// handle republishes one received payload. Malformed payloads and this
// process's own facts are dropped.
func (r *RedisFeed) handle(ctx context.Context, payload []byte) bool {
	f, err := ParseFact(payload)
	if err != nil {
		r.logger.Warn("dropping malformed presence fact", zap.Error(err))
		return false
	}
	if f.Origin == r.origin {
		return false
	}
	r.notifier.Publish(ctx, SourceRedis, f)
	return true
}

// Listener returns a Notifier listener that forwards local facts to the channel.
// Facts that already came from another process are not forwarded again.
func (r *RedisFeed) Listener() Listener {
	return func(ctx context.Context, f Fact) {
		if f.Origin != "" {
			return
		}
		f.Origin = r.origin
		data, err := json.Marshal(f)
		if err != nil {
			r.logger.Error("encoding presence fact", zap.Error(err))
			return
		}
		if err := r.client.Publish(ctx, r.channel, data).Err(); err != nil {
			r.logger.Warn("publishing presence fact",
				zap.Int64("user_id", f.UserID),
				zap.Error(err),
			)
		}
	}
}
