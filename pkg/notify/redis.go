package notify

import (
	"context"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/dmitrymomot/pixelmint/pkg/logger"
)

// RedisNotifier publishes signals with PUBLISH; the message body is the event name.
type RedisNotifier struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisNotifier namespaces channels with prefix, which Relay must share.
func NewRedisNotifier(client redis.UniversalClient, prefix string) *RedisNotifier {
	return &RedisNotifier{client: client, prefix: prefix}
}

func (n *RedisNotifier) Trigger(ctx context.Context, channel, event string) error {
	if err := validate(channel, event); err != nil {
		return err
	}
	return n.client.Publish(ctx, n.prefix+channel, event).Err()
}

// Relay forwards published signals into a Hub.
type Relay struct {
	client redis.UniversalClient
	prefix string
	hub    *Hub
	log    *slog.Logger
}

func NewRelay(client redis.UniversalClient, prefix string, hub *Hub, log *slog.Logger) *Relay {
	if log == nil {
		log = logger.Discard()
	}
	return &Relay{client: client, prefix: prefix, hub: hub, log: log.With(logger.Component("notify_relay"))}
}

// Run blocks until ctx is done.
func (r *Relay) Run(ctx context.Context) error {
	ps := r.client.PSubscribe(ctx, r.prefix+"*")
	defer ps.Close()

	if _, err := ps.Receive(ctx); err != nil {
		return err
	}
	r.log.InfoContext(ctx, "notify relay subscribed", slog.String("pattern", r.prefix+"*"))

	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			channel := msg.Channel[len(r.prefix):]
			r.hub.Deliver(Signal{Channel: channel, Event: msg.Payload})
		}
	}
}
