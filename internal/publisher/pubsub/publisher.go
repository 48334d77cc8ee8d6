// Package pubsub publishes scan events to Google Cloud Pub/Sub.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"
	"go.opentelemetry.io/otel"
)

// topicPublisher is the part of *pubsub.Publisher this package uses.
type topicPublisher interface {
	Publish(ctx context.Context, msg *pubsub.Message) *pubsub.PublishResult
}

// Publisher sends JSON events to one Pub/Sub topic. The topic argument of
// Publish travels as the "event" attribute so subscribers can filter.
type Publisher struct {
	publisher topicPublisher
}

// New creates a Publisher for the provided topic publisher.
func New(publisher *pubsub.Publisher) *Publisher {
	if publisher == nil {
		return &Publisher{}
	}
	return &Publisher{publisher: publisher}
}

// Publish marshals the payload to JSON and waits for the server ID.
func (p *Publisher) Publish(ctx context.Context, event string, payload any) (string, error) {
	if p.publisher == nil {
		return "", fmt.Errorf("pubsub publisher is not configured")
	}
	msg, err := newMessage(ctx, event, payload)
	if err != nil {
		return "", err
	}
	id, err := p.publisher.Publish(ctx, msg).Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish message: %w", err)
	}
	return id, nil
}

func newMessage(ctx context.Context, event string, payload any) (*pubsub.Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	msg := &pubsub.Message{Data: data, Attributes: map[string]string{}}
	if event != "" {
		msg.Attributes["event"] = event
	}
	otel.GetTextMapPropagator().Inject(ctx, &pubsubCarrier{attrs: msg.Attributes})
	return msg, nil
}

// pubsubCarrier implements propagation.TextMapCarrier for Pub/Sub attributes.
type pubsubCarrier struct {
	attrs map[string]string
}

func (c *pubsubCarrier) Get(key string) string {
	return c.attrs[key]
}

func (c *pubsubCarrier) Set(key, value string) {
	c.attrs[key] = value
}

func (c *pubsubCarrier) Keys() []string {
	keys := make([]string, 0, len(c.attrs))
	for k := range c.attrs {
		keys = append(keys, k)
	}
	return keys
}
