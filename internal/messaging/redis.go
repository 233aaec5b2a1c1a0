package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const channelPrefix = "cloudkitty."

// RedisBroadcaster fans casts out over redis PUBLISH/SUBSCRIBE, so every
// process subscribed to the channel, including the sender, receives them.
type RedisBroadcaster struct {
	client *redis.Client
	log    *zap.Logger

	mu     sync.Mutex
	subs   map[*redisSubscription]struct{}
	closed bool
}

type redisSubscription struct {
	b      *RedisBroadcaster
	pubsub *redis.PubSub
	done   chan struct{}
	once   sync.Once
}

func NewRedisBroadcaster(client *redis.Client, log *zap.Logger) (*RedisBroadcaster, error) {
	if client == nil {
		return nil, errors.New("redis client not configured")
	}
	return &RedisBroadcaster{
		client: client,
		log:    log.Named("messaging.redis"),
		subs:   make(map[*redisSubscription]struct{}),
	}, nil
}

func channel(topic string) string {
	return channelPrefix + topic
}

func (b *RedisBroadcaster) Cast(ctx context.Context, topic string, msg Message) error {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return ErrInvalidTopic
	}
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return ErrClosed
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, channel(topic), payload).Err()
}

func (b *RedisBroadcaster) Subscribe(ctx context.Context, topic string, handler Handler) (Subscription, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" || handler == nil {
		return nil, ErrInvalidTopic
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}

	pubsub := b.client.Subscribe(ctx, channel(topic))
	// Wait for the subscription confirmation so casts sent right after
	// Subscribe returns are not lost.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, err
	}

	sub := &redisSubscription{
		b:      b,
		pubsub: pubsub,
		done:   make(chan struct{}),
	}
	b.subs[sub] = struct{}{}
	go sub.deliver(context.WithoutCancel(ctx), handler)
	return sub, nil
}

func (b *RedisBroadcaster) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := make([]*redisSubscription, 0, len(b.subs))
	for sub := range b.subs {
		subs = append(subs, sub)
	}
	b.subs = map[*redisSubscription]struct{}{}
	b.mu.Unlock()

	var errs []error
	for _, sub := range subs {
		errs = append(errs, sub.stop())
	}
	return errors.Join(errs...)
}

func (s *redisSubscription) deliver(ctx context.Context, handler Handler) {
	ch := s.pubsub.Channel()
	for {
		select {
		case <-s.done:
			return
		case raw, ok := <-ch:
			if !ok {
				return
			}
			var msg Message
			if err := json.Unmarshal([]byte(raw.Payload), &msg); err != nil {
				s.b.log.Warn("messaging.message.invalid",
					zap.String("channel", raw.Channel),
					zap.Error(err),
				)
				continue
			}
			handler(ctx, msg)
		}
	}
}

func (s *redisSubscription) stop() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.pubsub.Close()
	})
	return err
}

func (s *redisSubscription) Close() error {
	s.b.mu.Lock()
	delete(s.b.subs, s)
	s.b.mu.Unlock()
	return s.stop()
}
