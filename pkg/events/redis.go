package events

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/redis/go-redis/v9"

	"github.com/dmitrymomot/subkit/pkg/subscription"
)

// ErrPublishFailed wraps transport failures when pushing events out of the
// process.
var ErrPublishFailed = errors.New("events: publish failed")

// DefaultRedisChannel is the pub/sub channel events are published to unless
// overridden with WithChannel.
const DefaultRedisChannel = "subscription.events"

// RedisPublisher pushes domain events to a Redis pub/sub channel as JSON
// envelopes, letting other services react to subscription lifecycle changes
// without sharing the database.
type RedisPublisher struct {
	client  redis.UniversalClient
	channel string
}

// RedisPublisherOption configures a RedisPublisher.
type RedisPublisherOption func(*RedisPublisher)

// WithChannel overrides the pub/sub channel name.
func WithChannel(name string) RedisPublisherOption {
	return func(p *RedisPublisher) {
		if name != "" {
			p.channel = name
		}
	}
}

// NewRedisPublisher creates a publisher on the given client. Panics when the
// client is nil: the wiring bug should surface at startup.
func NewRedisPublisher(client redis.UniversalClient, opts ...RedisPublisherOption) *RedisPublisher {
	if client == nil {
		panic("events: redis client is required")
	}
	p := &RedisPublisher{
		client:  client,
		channel: DefaultRedisChannel,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// envelope is the wire form of one event. Payload carries the event's own
// JSON representation.
type envelope struct {
	Name    string `json:"name"`
	Payload any    `json:"payload"`
}

func (p *RedisPublisher) Publish(ctx context.Context, events ...subscription.Event) error {
	var errs []error
	for _, evt := range events {
		body, err := json.Marshal(envelope{Name: evt.EventName(), Payload: evt})
		if err != nil {
			errs = append(errs, errors.Join(ErrPublishFailed, err))
			continue
		}
		if err := p.client.Publish(ctx, p.channel, body).Err(); err != nil {
			errs = append(errs, errors.Join(ErrPublishFailed, err))
		}
	}
	return errors.Join(errs...)
}
