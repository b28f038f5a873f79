package events

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type redisFeed struct {
	client *redis.Client
	prefix string
	logger *zap.Logger
}

// NewRedisFeed creates a feed backed by Redis pub/sub so that watchers on one
// instance see writes made through another.
func NewRedisFeed(client *redis.Client, prefix string, logger *zap.Logger) Feed {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &redisFeed{client: client, prefix: prefix, logger: logger}
}

func (f *redisFeed) channel(topic string) string {
	if f.prefix == "" {
		return topic
	}
	return f.prefix + ":" + topic
}

func (f *redisFeed) Notify(ctx context.Context, topic string) error {
	return f.client.Publish(ctx, f.channel(topic), "1").Err()
}

func (f *redisFeed) Subscribe(ctx context.Context, topic string) (Subscription, error) {
	pubsub := f.client.Subscribe(ctx, f.channel(topic))
	// Wait for the subscribe confirmation so no notice published after
	// Subscribe returns is missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, err
	}

	sub := &redisSubscription{
		pubsub: pubsub,
		ch:     make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go sub.pump(f.logger.With(zap.String("topic", topic)))
	return sub, nil
}

type redisSubscription struct {
	pubsub *redis.PubSub
	ch     chan struct{}
	done   chan struct{}
	once   sync.Once
}

func (s *redisSubscription) pump(logger *zap.Logger) {
	defer close(s.done)
	for range s.pubsub.Channel() {
		signal(s.ch)
	}
	logger.Debug("redis feed subscription closed")
}

func (s *redisSubscription) C() <-chan struct{} { return s.ch }

func (s *redisSubscription) Close() error {
	var err error
	s.once.Do(func() {
		err = s.pubsub.Close()
		<-s.done
	})
	return err
}
