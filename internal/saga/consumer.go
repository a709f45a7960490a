package saga

import (
	"context"
	"fmt"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	pkgerrors "github.com/angelmondragon/txnflow/pkg/errors"
	"github.com/angelmondragon/txnflow/pkg/events"
	"github.com/angelmondragon/txnflow/pkg/logger"
	"go.uber.org/multierr"
)

const defaultDrainTimeout = 30 * time.Second

type commandHandler interface {
	Handle(ctx context.Context, cmd events.Envelope) (Status, error)
}

// inFlightReleaser is implemented by handlers that can give up the commands
// still running when the drain deadline passes.
type inFlightReleaser interface {
	ReleaseInFlight(ctx context.Context) int
}

// Consumer reads the command topic and feeds the keyed dispatcher.
type Consumer struct {
	subscription *pubsub.Subscriber
	handler      commandHandler
	dispatcher   *Dispatcher
	logg         *logger.Logger
	drainTimeout time.Duration
}

// NewConsumer wires handler behind a dispatcher bounded by maxConcurrent.
func NewConsumer(ctx context.Context, subscription *pubsub.Subscriber, handler commandHandler, maxConcurrent int, drainTimeout time.Duration, logg *logger.Logger) (*Consumer, error) {
	if subscription == nil {
		return nil, fmt.Errorf("command subscription required")
	}
	if handler == nil {
		return nil, fmt.Errorf("command handler required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if drainTimeout <= 0 {
		drainTimeout = defaultDrainTimeout
	}
	return &Consumer{
		subscription: subscription,
		handler:      handler,
		dispatcher:   NewDispatcher(ctx, maxConcurrent, handlerFunc(handler, logg)),
		logg:         logg,
		drainTimeout: drainTimeout,
	}, nil
}

// handlerFunc acks a command once Handle has reached a terminal status or a
// dead-letter record, and nacks it otherwise so the bus redelivers it.
func handlerFunc(handler commandHandler, logg *logger.Logger) HandlerFunc {
	return func(ctx context.Context, env events.Envelope) (ack bool) {
		defer func() {
			if r := recover(); r != nil {
				logg.Error(logg.WithTransactionID(ctx, env.TransactionID), "saga handler panicked", fmt.Errorf("panic: %v", r))
				ack = false
			}
		}()
		if _, err := handler.Handle(ctx, env); err != nil {
			logg.Warn(logg.WithField(logg.WithTransactionID(ctx, env.TransactionID), "error", err.Error()), "command returned to the bus")
			return false
		}
		return true
	}
}

// Run receives commands until ctx is cancelled, then drains in-flight sagas.
func (c *Consumer) Run(ctx context.Context) error {
	err := c.subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		settle := func(ack bool) {
			if ack {
				msg.Ack()
				return
			}
			msg.Nack()
		}
		switch c.process(ctx, msg.Data, settle) {
		case resultAck:
			msg.Ack()
		case resultNack:
			msg.Nack()
		}
	})

	return multierr.Append(err, c.drain(ctx))
}

// drain waits for queued sagas. When the deadline passes, the commands still
// running are released for redelivery.
func (c *Consumer) drain(ctx context.Context) error {
	c.dispatcher.Close()
	drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.drainTimeout)
	defer cancel()
	c.logg.Info(ctx, "draining in-flight sagas")
	err := c.dispatcher.Wait(drainCtx)
	if err == nil {
		return nil
	}
	c.logg.Warn(c.logg.WithField(ctx, "active", c.dispatcher.Active()), "saga drain timed out")
	if r, ok := c.handler.(inFlightReleaser); ok {
		released := r.ReleaseInFlight(ctx)
		c.logg.Warn(c.logg.WithField(ctx, "released", released), "unfinished commands left for redelivery")
	}
	return err
}

type processResult int

const (
	// resultDeferred leaves the ack to the dispatcher.
	resultDeferred processResult = iota
	resultAck
	resultNack
)

func (c *Consumer) process(ctx context.Context, data []byte, settle func(ack bool)) processResult {
	env, err := events.Parse(data)
	if err != nil {
		// cannot be attributed to a transaction, so it is not dead-lettered
		c.logg.Warn(c.logg.WithFields(ctx, map[string]any{
			"error": err.Error(),
			"code":  pkgerrors.CodeMalformedMessage,
		}), "skipping malformed command")
		return resultAck
	}
	if err := c.dispatcher.Submit(env, settle); err != nil {
		c.logg.Warn(c.logg.WithTransactionID(ctx, env.TransactionID), "dispatcher closed, command returned to the bus")
		return resultNack
	}
	return resultDeferred
}
