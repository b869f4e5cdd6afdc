package socket

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// subscription is a live feed of raw payloads published to one channel.
type subscription interface {
	Channel() <-chan []byte
	Close() error
}

// pubsubBackend is the cross-process fan-out x/socket rides on, so a
// live-delivery event published on one mediator instance reaches a
// websocket connection held open on another. Grounded on the teacher's
// own `redis/go-redis/v9` pub/sub use in `x/socket/handler.go` and
// `x/timeline/keeper.go`'s remote-relay dialer.
type pubsubBackend interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) subscription
}

type redisBackend struct {
	rdb *redis.Client
}

func newRedisBackend(rdb *redis.Client) pubsubBackend {
	return &redisBackend{rdb: rdb}
}

func (b *redisBackend) Publish(ctx context.Context, channel string, payload []byte) error {
	return b.rdb.Publish(ctx, channel, payload).Err()
}

func (b *redisBackend) Subscribe(ctx context.Context, channel string) subscription {
	return &redisSubscription{pubsub: b.rdb.Subscribe(ctx, channel)}
}

type redisSubscription struct {
	pubsub *redis.PubSub
	out    chan []byte
}

func (s *redisSubscription) Channel() <-chan []byte {
	if s.out != nil {
		return s.out
	}
	s.out = make(chan []byte, 16)
	go func() {
		defer close(s.out)
		for msg := range s.pubsub.Channel() {
			s.out <- []byte(msg.Payload)
		}
	}()
	return s.out
}

func (s *redisSubscription) Close() error {
	return s.pubsub.Close()
}
