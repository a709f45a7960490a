package deadletter

import (
	"context"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"
	pkgerrors "github.com/angelmondragon/txnflow/pkg/errors"
	"github.com/angelmondragon/txnflow/pkg/events"
	"github.com/angelmondragon/txnflow/pkg/logger"
	"github.com/angelmondragon/txnflow/pkg/metrics"
)

const (
	resultArchived  = "archived"
	resultDuplicate = "duplicate"
	resultMalformed = "malformed"
	resultFailed    = "failed"
)

// Consumer archives every record published to the dead-letter topic.
type Consumer struct {
	subscription *pubsub.Subscriber
	service      Service
	logg         *logger.Logger
	metrics      *metrics.ArchiveMetrics
}

func NewConsumer(subscription *pubsub.Subscriber, service Service, m *metrics.ArchiveMetrics, logg *logger.Logger) (*Consumer, error) {
	if subscription == nil {
		return nil, fmt.Errorf("dead-letter subscription required")
	}
	if service == nil {
		return nil, fmt.Errorf("dead-letter service required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Consumer{subscription: subscription, service: service, logg: logg, metrics: m}, nil
}

func (c *Consumer) Run(ctx context.Context) error {
	return c.subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		if c.process(ctx, msg.Data) == resultFailed {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

func (c *Consumer) process(ctx context.Context, data []byte) string {
	rec, err := events.ParseDeadLetter(data)
	if err != nil {
		c.metrics.Inc(resultMalformed)
		c.logg.Warn(c.logg.WithFields(ctx, map[string]any{
			"error": err.Error(),
			"code":  pkgerrors.CodeMalformedMessage,
		}), "skipping malformed dead-letter record")
		return resultMalformed
	}

	ctx = c.logg.WithEvent(c.logg.WithTransactionID(ctx, rec.OriginalEvent.TransactionID),
		rec.OriginalEvent.ID, string(rec.OriginalEvent.Type))
	inserted, err := c.service.Archive(ctx, rec)
	if err != nil {
		c.metrics.Inc(resultFailed)
		c.logg.Error(ctx, "failed to archive dead letter", err)
		return resultFailed
	}
	if !inserted {
		c.metrics.Inc(resultDuplicate)
		c.logg.Info(ctx, "dead letter already archived")
		return resultDuplicate
	}
	c.metrics.Inc(resultArchived)
	c.logg.Warn(c.logg.WithField(ctx, "error", rec.Error.Message), "dead letter archived")
	return resultArchived
}
