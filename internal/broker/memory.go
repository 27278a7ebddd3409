package broker

import (
	"context"
	"log/slog"
	"sync"

	"gopherai-cochat/internal/metrics"
	"gopherai-cochat/internal/model"
)

// Memory is an in-process broker. Topics appear on first subscribe and
// disappear with their last subscriber.
type Memory struct {
	mu     sync.RWMutex
	topics map[string]map[*memorySub]struct{}
	closed bool
}

func NewMemory() *Memory {
	return &Memory{topics: make(map[string]map[*memorySub]struct{})}
}

func (m *Memory) Publish(ctx context.Context, topic string, event model.Event) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return ErrClosed
	}
	for sub := range m.topics[topic] {
		select {
		case sub.events <- event:
		default:
			metrics.SubscriberDrops.WithLabelValues(event.Type).Inc()
			slog.Warn("memory broker dropped event for slow subscriber", "topic", topic, "type", event.Type)
		}
	}
	return nil
}

func (m *Memory) Subscribe(ctx context.Context, topic string) (Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}
	sub := &memorySub{
		broker: m,
		topic:  topic,
		events: make(chan model.Event, subscriberBuffer),
		done:   make(chan struct{}),
	}
	subs, ok := m.topics[topic]
	if !ok {
		subs = make(map[*memorySub]struct{})
		m.topics[topic] = subs
	}
	subs[sub] = struct{}{}

	go func() {
		select {
		case <-ctx.Done():
			_ = sub.Close()
		case <-sub.done:
		}
	}()
	return sub, nil
}

// Subscribers reports the live subscriber count of a topic.
func (m *Memory) Subscribers(topic string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.topics[topic])
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	for topic, subs := range m.topics {
		for sub := range subs {
			sub.closeLocked()
		}
		delete(m.topics, topic)
	}
	return nil
}

func (m *Memory) remove(sub *memorySub) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if subs, ok := m.topics[sub.topic]; ok {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(m.topics, sub.topic)
		}
	}
	sub.closeLocked()
}

type memorySub struct {
	broker *Memory
	topic  string
	events chan model.Event
	done   chan struct{}
	once   sync.Once
}

func (s *memorySub) Events() <-chan model.Event { return s.events }

func (s *memorySub) Close() error {
	s.broker.remove(s)
	return nil
}

// closeLocked must run with the broker write lock held so no publisher is
// mid-send on events.
func (s *memorySub) closeLocked() {
	s.once.Do(func() {
		close(s.done)
		close(s.events)
	})
}
