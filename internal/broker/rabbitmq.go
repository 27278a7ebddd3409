package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"gopherai-cochat/internal/model"
)

// RabbitMQ publishes to a topic exchange using the workspace topic as the
// routing key. Each subscriber owns an exclusive auto-delete queue bound to
// that key, so the queue disappears with the connection.
type RabbitMQ struct {
	conn     *amqp.Connection
	exchange string

	mu sync.Mutex
	ch *amqp.Channel
}

func NewRabbitMQ(conn *amqp.Connection, exchange string) (*RabbitMQ, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open rabbitmq channel failed: %w", err)
	}
	if err := declareExchange(ch, exchange); err != nil {
		_ = ch.Close()
		return nil, err
	}
	return &RabbitMQ{conn: conn, exchange: exchange, ch: ch}, nil
}

func declareExchange(ch *amqp.Channel, exchange string) error {
	if err := ch.ExchangeDeclare(
		exchange,
		amqp.ExchangeTopic,
		true,
		false,
		false,
		false,
		nil,
	); err != nil {
		return fmt.Errorf("declare exchange failed: %w", err)
	}
	return nil
}

func (b *RabbitMQ) Publish(ctx context.Context, topic string, event model.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event failed: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.ch == nil || b.ch.IsClosed() {
		ch, err := b.conn.Channel()
		if err != nil {
			return fmt.Errorf("reopen rabbitmq channel failed: %w", err)
		}
		b.ch = ch
	}
	if err := b.ch.PublishWithContext(
		ctx,
		b.exchange,
		topic,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         payload,
			DeliveryMode: amqp.Transient,
		},
	); err != nil {
		return fmt.Errorf("publish event failed: %w", err)
	}
	return nil
}

func (b *RabbitMQ) Subscribe(ctx context.Context, topic string) (Subscription, error) {
	ch, err := b.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open subscriber channel failed: %w", err)
	}

	q, err := ch.QueueDeclare(
		"",
		false,
		true,
		true,
		false,
		nil,
	)
	if err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("declare subscriber queue failed: %w", err)
	}
	if err := ch.QueueBind(q.Name, topic, b.exchange, false, nil); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("bind subscriber queue failed: %w", err)
	}

	deliveries, err := ch.Consume(
		q.Name,
		"",
		true,
		true,
		false,
		false,
		nil,
	)
	if err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("consume subscriber queue failed: %w", err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &rabbitSub{
		ch:     ch,
		cancel: cancel,
		events: make(chan model.Event, subscriberBuffer),
	}
	sub.wg.Add(1)
	go sub.run(subCtx, topic, deliveries)
	return sub, nil
}

func (b *RabbitMQ) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ch == nil {
		return nil
	}
	err := b.ch.Close()
	b.ch = nil
	return err
}

type rabbitSub struct {
	ch     *amqp.Channel
	cancel context.CancelFunc
	events chan model.Event
	wg     sync.WaitGroup
	once   sync.Once
}

func (s *rabbitSub) Events() <-chan model.Event { return s.events }

func (s *rabbitSub) run(ctx context.Context, topic string, deliveries <-chan amqp.Delivery) {
	defer s.wg.Done()
	defer close(s.events)

	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				return
			}
			var event model.Event
			if err := json.Unmarshal(d.Body, &event); err != nil {
				slog.Warn("rabbitmq broker decode event failed", "topic", topic, "err", err)
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

func (s *rabbitSub) Close() error {
	var err error
	s.once.Do(func() {
		s.cancel()
		err = s.ch.Close()
		s.wg.Wait()
	})
	return err
}
