package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"

	"gopherai-cochat/internal/model"
)

// Redis fans events out across service instances with Redis Pub/Sub.
type Redis struct {
	client *redis.Client
}

func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

func (b *Redis) Publish(ctx context.Context, topic string, event model.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event failed: %w", err)
	}
	if err := b.client.Publish(ctx, topic, payload).Err(); err != nil {
		return fmt.Errorf("redis publish failed: %w", err)
	}
	return nil
}

func (b *Redis) Subscribe(ctx context.Context, topic string) (Subscription, error) {
	ps := b.client.Subscribe(ctx, topic)
	// wait for the subscribe confirmation so no publish after return is missed
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("redis subscribe failed: %w", err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &redisSub{
		ps:     ps,
		cancel: cancel,
		events: make(chan model.Event, subscriberBuffer),
	}
	sub.wg.Add(1)
	go sub.run(subCtx, topic)
	return sub, nil
}

// Close is a no-op; the client is owned by the caller.
func (b *Redis) Close() error { return nil }

type redisSub struct {
	ps     *redis.PubSub
	cancel context.CancelFunc
	events chan model.Event
	wg     sync.WaitGroup
	once   sync.Once
}

func (s *redisSub) Events() <-chan model.Event { return s.events }

func (s *redisSub) run(ctx context.Context, topic string) {
	defer s.wg.Done()
	defer close(s.events)

	ch := s.ps.Channel(redis.WithChannelSize(subscriberBuffer))
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var event model.Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				slog.Warn("redis broker decode event failed", "topic", topic, "err", err)
				continue
			}
			select {
			case s.events <- event:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (s *redisSub) Close() error {
	var err error
	s.once.Do(func() {
		s.cancel()
		err = s.ps.Close()
		s.wg.Wait()
	})
	return err
}
