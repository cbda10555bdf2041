// Package sns forwards appended events to an AWS SNS topic.
//
// Event identity travels as message attributes; the payload is the message body.
// For FIFO topics, the message group is the aggregate ID so subscribers see
// each aggregate's events in version order, and the event ID deduplicates retries.
package sns

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"

	"github.com/AshkanYarmoradi/go-stoat"
	"github.com/AshkanYarmoradi/go-stoat/fanout"
)

// Client is the subset of the SNS API used by the publisher.
type Client interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// Publisher implements stoat.Publisher for SNS.
type Publisher struct {
	client Client
	topic  fanout.TopicFunc
	fifo   bool
}

var _ stoat.Publisher = (*Publisher)(nil)

// Option configures an SNS Publisher.
type Option func(*Publisher)

// WithTopicARN publishes every event to the topic.
func WithTopicARN(arn string) Option {
	return func(p *Publisher) {
		p.topic = fanout.StaticTopic(arn)
	}
}

// WithTopicFunc chooses the topic ARN per event.
func WithTopicFunc(fn fanout.TopicFunc) Option {
	return func(p *Publisher) {
		p.topic = fn
	}
}

// WithFIFO sets the message group and deduplication IDs required by FIFO topics.
func WithFIFO() Option {
	return func(p *Publisher) {
		p.fifo = true
	}
}

// New creates an SNS Publisher over an SNS client such as *sns.Client.
func New(client Client, opts ...Option) *Publisher {
	p := &Publisher{client: client, topic: fanout.StaticTopic("")}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Input builds the publish request for an event.
func (p *Publisher) Input(e stoat.Event) (*sns.PublishInput, error) {
	arn := p.topic(e)
	if arn == "" {
		return nil, fmt.Errorf("stoat/sns: no topic ARN for event %s (%s)", e.ID, e.Type)
	}

	headers := fanout.Headers(e)
	input := &sns.PublishInput{
		TopicArn:          aws.String(arn),
		Message:           aws.String(string(e.Data)),
		MessageAttributes: make(map[string]types.MessageAttributeValue, len(headers)),
	}
	for k, v := range headers {
		input.MessageAttributes[k] = types.MessageAttributeValue{
			DataType:    aws.String("String"),
			StringValue: aws.String(v),
		}
	}
	if p.fifo {
		input.MessageGroupId = aws.String(e.AggregateID)
		input.MessageDeduplicationId = aws.String(e.ID)
	}
	return input, nil
}

// Publish sends the event.
func (p *Publisher) Publish(ctx context.Context, e stoat.Event) error {
	if p.client == nil {
		return fmt.Errorf("stoat/sns: client not configured")
	}

	input, err := p.Input(e)
	if err != nil {
		return err
	}
	if _, err := p.client.Publish(ctx, input); err != nil {
		return fmt.Errorf("stoat/sns: publish to %s: %w", aws.ToString(input.TopicArn), err)
	}
	return nil
}
