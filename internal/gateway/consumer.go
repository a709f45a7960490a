package gateway

import (
	"context"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"
	pkgerrors "github.com/angelmondragon/txnflow/pkg/errors"
	"github.com/angelmondragon/txnflow/pkg/events"
	"github.com/angelmondragon/txnflow/pkg/logger"
	"github.com/angelmondragon/txnflow/pkg/metrics"
)

// Consumer reads the events topic and hands every envelope to the hub.
type Consumer struct {
	subscription *pubsub.Subscriber
	hub          *Hub
	logg         *logger.Logger
	metrics      *metrics.GatewayMetrics
}

func NewConsumer(subscription *pubsub.Subscriber, hub *Hub, m *metrics.GatewayMetrics, logg *logger.Logger) (*Consumer, error) {
	if subscription == nil {
		return nil, fmt.Errorf("events subscription required")
	}
	if hub == nil {
		return nil, fmt.Errorf("hub required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Consumer{subscription: subscription, hub: hub, logg: logg, metrics: m}, nil
}

func (c *Consumer) Run(ctx context.Context) error {
	return c.subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		c.process(ctx, msg.Data)
		// fan-out is best effort so every message is acked
		msg.Ack()
	})
}

func (c *Consumer) process(ctx context.Context, data []byte) int {
	env, err := events.Parse(data)
	if err != nil {
		c.metrics.IncMalformed()
		c.logg.Warn(c.logg.WithFields(ctx, map[string]any{
			"error": err.Error(),
			"code":  pkgerrors.CodeMalformedMessage,
		}), "skipping malformed event")
		return 0
	}
	return c.hub.Broadcast(c.logg.WithTransactionID(ctx, env.TransactionID), env)
}
