package pubsub

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/angelmondragon/txnflow/pkg/events"
)

const defaultPublishTimeout = 15 * time.Second

// Message attribute keys set on every published envelope.
const (
	AttrEventID       = "event_id"
	AttrEventType     = "event_type"
	AttrTransactionID = "transaction_id"
)

type topicPublisher interface {
	Publish(context.Context, *gcppubsub.Message) publishResult
	ResumePublish(orderingKey string)
	Stop()
}

type publishResult interface {
	Get(context.Context) (string, error)
}

type publisherFactory func(topic string) topicPublisher

// EventPublisher publishes envelopes with the transaction id as ordering key, so a
// single saga's messages are delivered in publish order. One underlying publisher is
// kept per topic.
type EventPublisher struct {
	factory publisherFactory
	timeout time.Duration

	mu     sync.Mutex
	topics map[string]topicPublisher
	closed bool
}

// NewEventPublisher builds a publisher on top of the client's topic handles.
func NewEventPublisher(client *Client, timeout time.Duration) *EventPublisher {
	return newEventPublisher(func(topic string) topicPublisher {
		pub := client.Publisher(topic)
		if pub == nil {
			return nil
		}
		return &gcpPublisher{Publisher: pub}
	}, timeout)
}

func newEventPublisher(factory publisherFactory, timeout time.Duration) *EventPublisher {
	if timeout <= 0 {
		timeout = defaultPublishTimeout
	}
	return &EventPublisher{
		factory: factory,
		timeout: timeout,
		topics:  map[string]topicPublisher{},
	}
}

// PublishEnvelope publishes env to topic and blocks until the broker acknowledges it.
func (p *EventPublisher) PublishEnvelope(ctx context.Context, topic string, env events.Envelope) (string, error) {
	data, err := env.Marshal()
	if err != nil {
		return "", fmt.Errorf("encode envelope %s: %w", env.ID, err)
	}
	return p.publish(ctx, topic, &gcppubsub.Message{
		Data:        data,
		OrderingKey: env.TransactionID,
		Attributes:  attributes(env),
	})
}

// PublishDeadLetter publishes a dead-letter record keyed by the original transaction.
func (p *EventPublisher) PublishDeadLetter(ctx context.Context, topic string, rec events.DeadLetterRecord) (string, error) {
	data, err := rec.Marshal()
	if err != nil {
		return "", fmt.Errorf("encode dead-letter %s: %w", rec.OriginalEvent.ID, err)
	}
	return p.publish(ctx, topic, &gcppubsub.Message{
		Data:        data,
		OrderingKey: rec.OriginalEvent.TransactionID,
		Attributes:  attributes(rec.OriginalEvent),
	})
}

func attributes(env events.Envelope) map[string]string {
	return map[string]string{
		AttrEventID:       env.ID,
		AttrEventType:     env.Type.String(),
		AttrTransactionID: env.TransactionID,
	}
}

func (p *EventPublisher) publish(ctx context.Context, topic string, msg *gcppubsub.Message) (string, error) {
	pub, err := p.topic(topic)
	if err != nil {
		return "", err
	}

	publishCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	result := pub.Publish(publishCtx, msg)
	if result == nil {
		return "", fmt.Errorf("publisher returned nil for topic %s", topic)
	}
	id, err := result.Get(publishCtx)
	if err != nil {
		// an ordered publisher pauses the key after a failure until resumed
		if msg.OrderingKey != "" {
			pub.ResumePublish(msg.OrderingKey)
		}
		return "", fmt.Errorf("publish to %s: %w", topic, err)
	}
	return id, nil
}

func (p *EventPublisher) topic(name string) (topicPublisher, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("topic name is required")
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, errors.New("publisher closed")
	}
	if pub, ok := p.topics[name]; ok {
		return pub, nil
	}
	pub := p.factory(name)
	if pub == nil {
		return nil, fmt.Errorf("publisher not configured for topic %s", name)
	}
	p.topics[name] = pub
	return pub, nil
}

// Close flushes and stops every topic publisher.
func (p *EventPublisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	for _, pub := range p.topics {
		pub.Stop()
	}
}

type gcpPublisher struct {
	*gcppubsub.Publisher
}

func (p *gcpPublisher) Publish(ctx context.Context, msg *gcppubsub.Message) publishResult {
	if p == nil || p.Publisher == nil {
		return nil
	}
	return &gcpPublishResult{PublishResult: p.Publisher.Publish(ctx, msg)}
}

type gcpPublishResult struct {
	*gcppubsub.PublishResult
}

func (r *gcpPublishResult) Get(ctx context.Context) (string, error) {
	if r == nil || r.PublishResult == nil {
		return "", errors.New("publish result is nil")
	}
	return r.PublishResult.Get(ctx)
}
