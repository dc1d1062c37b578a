package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Envelope is the JSON body of an event published to the broker.
type Envelope struct {
	Meta EnvelopeMeta   `json:"meta"`
	Data map[string]any `json:"data"`
}

type EnvelopeMeta struct {
	ID            string    `json:"id"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	Producer      string    `json:"producer"`
	Time          time.Time `json:"time"`
	Type          string    `json:"type"` // e.g. "jarvis.message.dropped.v1"
}

// Publisher sends envelopes to a broker under a routing key.
type Publisher interface {
	Publish(ctx context.Context, key string, env Envelope) error
	Close() error
}

type amqpPublisher struct {
	conn     *amqp.Connection
	exchange string
	logger   *slog.Logger
}

// DialAMQP connects to RabbitMQ and declares a durable topic exchange.
func DialAMQP(url, exchange string, logger *slog.Logger) (Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	defer ch.Close()
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	return &amqpPublisher{conn: conn, exchange: exchange, logger: logger}, nil
}

func (p *amqpPublisher) Publish(ctx context.Context, key string, env Envelope) error {
	ch, err := p.conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	body, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return ch.PublishWithContext(ctx, p.exchange, key, false, false, amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		MessageId:     env.Meta.ID,
		CorrelationId: env.Meta.CorrelationID,
		Timestamp:     env.Meta.Time,
		Body:          body,
	})
}

func (p *amqpPublisher) Close() error {
	return p.conn.Close()
}

// Forwarder relays every event of an EventBus to a Publisher. Events are
// queued so a slow broker never delays a dispatch; when the queue is full
// the event is dropped and logged.
type Forwarder struct {
	pub      Publisher
	producer string
	queue    chan Event
	timeout  time.Duration
	logger   *slog.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewForwarder(pub Publisher, producer string, logger *slog.Logger) *Forwarder {
	return &Forwarder{
		pub:      pub,
		producer: producer,
		queue:    make(chan Event, 256),
		timeout:  5 * time.Second,
		logger:   logger,
	}
}

// Attach subscribes the forwarder to every event and starts the publish loop.
func (f *Forwarder) Attach(eb *EventBus) {
	eb.On("*", func(e Event) {
		f.mu.RLock()
		defer f.mu.RUnlock()
		if f.closed {
			return
		}
		select {
		case f.queue <- e:
		default:
			f.logger.Warn("event queue full, dropping event", "type", e.Type, "id", e.ID)
		}
	})
	f.wg.Add(1)
	go f.run()
}

func (f *Forwarder) run() {
	defer f.wg.Done()
	for e := range f.queue {
		ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
		if err := f.pub.Publish(ctx, f.RoutingKey(e), f.Envelope(e)); err != nil {
			f.logger.Error("publish event failed", "type", e.Type, "err", err)
		}
		cancel()
	}
}

// RoutingKey is "<producer>.<event type>.v1".
func (f *Forwarder) RoutingKey(e Event) string {
	return f.producer + "." + e.Type + ".v1"
}

func (f *Forwarder) Envelope(e Event) Envelope {
	id := e.ID
	if id == "" {
		id = uuid.NewString()
	}
	return Envelope{
		Meta: EnvelopeMeta{
			ID:            id,
			CorrelationID: e.CorrelationID,
			Producer:      f.producer,
			Time:          e.Timestamp.UTC(),
			Type:          f.RoutingKey(e),
		},
		Data: e.Payload,
	}
}

// Close drains queued events and closes the publisher. Events emitted
// after Close are dropped.
func (f *Forwarder) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	close(f.queue)
	f.mu.Unlock()

	f.wg.Wait()
	return f.pub.Close()
}
