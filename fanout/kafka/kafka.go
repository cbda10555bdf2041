// Package kafka forwards appended events to Kafka with github.com/segmentio/kafka-go.
//
// The message key is the aggregate ID and the default balancer hashes the
// key, so events of one aggregate land on one partition in version order.
//
//	pub := kafka.New(kafka.WithBrokers("localhost:9092"), kafka.WithTopic("stoat.events"))
//	defer pub.Close()
//	store := stoat.New(backend, stoat.WithPublisher(pub))
package kafka

import (
	"context"
	"fmt"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/AshkanYarmoradi/go-stoat"
	"github.com/AshkanYarmoradi/go-stoat/fanout"
)

// DefaultTopic receives events when no topic is configured.
const DefaultTopic = "stoat.events"

// MessageWriter is the subset of *kafkago.Writer used by the publisher.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Publisher implements stoat.Publisher for Kafka.
type Publisher struct {
	brokers      []string
	balancer     kafkago.Balancer
	batchTimeout time.Duration
	topic        fanout.TopicFunc
	writer       MessageWriter
}

var _ stoat.Publisher = (*Publisher)(nil)

// Option configures a Kafka Publisher.
type Option func(*Publisher)

// WithBrokers sets the Kafka broker addresses.
func WithBrokers(brokers ...string) Option {
	return func(p *Publisher) {
		p.brokers = brokers
	}
}

// WithBalancer sets the partitioner.
func WithBalancer(balancer kafkago.Balancer) Option {
	return func(p *Publisher) {
		p.balancer = balancer
	}
}

// WithBatchTimeout sets how long the writer waits to fill a batch.
func WithBatchTimeout(d time.Duration) Option {
	return func(p *Publisher) {
		p.batchTimeout = d
	}
}

// WithTopic routes every event to topic.
func WithTopic(topic string) Option {
	return func(p *Publisher) {
		p.topic = fanout.StaticTopic(topic)
	}
}

// WithTopicFunc routes events per event, e.g. by aggregate type.
func WithTopicFunc(fn fanout.TopicFunc) Option {
	return func(p *Publisher) {
		p.topic = fn
	}
}

// WithWriter replaces the kafka-go writer.
func WithWriter(w MessageWriter) Option {
	return func(p *Publisher) {
		p.writer = w
	}
}

// New creates a Kafka Publisher.
func New(opts ...Option) *Publisher {
	p := &Publisher{
		brokers:      []string{"localhost:9092"},
		balancer:     &kafkago.Hash{},
		batchTimeout: 10 * time.Millisecond,
		topic:        fanout.StaticTopic(DefaultTopic),
	}
	for _, opt := range opts {
		opt(p)
	}

	if p.writer == nil {
		// Topic is set per message, so the writer itself has none.
		p.writer = &kafkago.Writer{
			Addr:                   kafkago.TCP(p.brokers...),
			Balancer:               p.balancer,
			BatchTimeout:           p.batchTimeout,
			RequiredAcks:           kafkago.RequireAll,
			AllowAutoTopicCreation: true,
		}
	}
	return p
}

// Message converts an event to the Kafka message the publisher writes.
func (p *Publisher) Message(e stoat.Event) (kafkago.Message, error) {
	topic := p.topic(e)
	if topic == "" {
		return kafkago.Message{}, fmt.Errorf("stoat/kafka: no topic for event %s (%s)", e.ID, e.Type)
	}

	msg := kafkago.Message{
		Topic: topic,
		Key:   []byte(e.AggregateID),
		Value: e.Data,
		Time:  e.Timestamp,
	}
	for k, v := range fanout.Headers(e) {
		msg.Headers = append(msg.Headers, kafkago.Header{Key: k, Value: []byte(v)})
	}
	return msg, nil
}

// Publish writes the event synchronously.
func (p *Publisher) Publish(ctx context.Context, e stoat.Event) error {
	msg, err := p.Message(e)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("stoat/kafka: write to topic %s: %w", msg.Topic, err)
	}
	return nil
}

// Close flushes and closes the writer.
func (p *Publisher) Close() error {
	if err := p.writer.Close(); err != nil {
		return fmt.Errorf("stoat/kafka: close writer: %w", err)
	}
	return nil
}
