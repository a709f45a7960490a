package gateway

import (
	"context"
	"errors"
	"sync"

	pkgerrors "github.com/angelmondragon/txnflow/pkg/errors"
	"github.com/angelmondragon/txnflow/pkg/events"
	"github.com/angelmondragon/txnflow/pkg/logger"
	"github.com/angelmondragon/txnflow/pkg/metrics"
)

var (
	ErrClientClosed   = errors.New("client closed")
	ErrSendBufferFull = errors.New("send buffer full")
)

// Client is one connected push channel. Send must not block: it queues the frame
// or fails with ErrClientClosed / ErrSendBufferFull.
type Client interface {
	ID() string
	Send(frame []byte) error
}

// Hub owns the connected clients and the subscription registry and fans bus
// events out to them.
type Hub struct {
	registry *Registry
	logg     *logger.Logger
	metrics  *metrics.GatewayMetrics

	mu      sync.RWMutex
	clients map[string]Client
}

func NewHub(logg *logger.Logger, m *metrics.GatewayMetrics) *Hub {
	if logg == nil {
		logg = logger.Nop()
	}
	return &Hub{
		registry: NewRegistry(),
		logg:     logg,
		metrics:  m,
		clients:  map[string]Client{},
	}
}

func (h *Hub) Register(c Client) {
	h.mu.Lock()
	h.clients[c.ID()] = c
	n := len(h.clients)
	h.mu.Unlock()
	h.metrics.SetConnections(n)
}

// Disconnect forgets the client and removes it from every subscription key.
func (h *Hub) Disconnect(ctx context.Context, clientID string) {
	h.mu.Lock()
	delete(h.clients, clientID)
	n := len(h.clients)
	h.mu.Unlock()

	keys := h.registry.Disconnect(clientID)
	h.metrics.SetConnections(n)
	h.metrics.SetSubscriptions(h.registry.Len())
	h.logg.Info(h.logg.WithFields(ctx, map[string]any{
		"client_id": clientID,
		"keys":      len(keys),
	}), "client disconnected")
}

// Subscribe registers the client under the derived key and acks with a
// subscribed frame. Requests without ids get an error frame.
func (h *Hub) Subscribe(ctx context.Context, clientID string, req SubscriptionRequest) error {
	key, err := KeyFor(req.UserID, req.TransactionID)
	if err != nil {
		h.reject(ctx, clientID, err)
		return err
	}
	h.registry.Subscribe(clientID, key)
	h.metrics.SetSubscriptions(h.registry.Len())
	h.logg.Debug(h.logg.WithFields(ctx, map[string]any{"client_id": clientID, "key": key.String()}), "subscribed")
	return h.sendTo(ctx, clientID, FrameSubscribed, req)
}

func (h *Hub) Unsubscribe(ctx context.Context, clientID string, req SubscriptionRequest) error {
	key, err := KeyFor(req.UserID, req.TransactionID)
	if err != nil {
		h.reject(ctx, clientID, err)
		return err
	}
	h.registry.Unsubscribe(clientID, key)
	h.metrics.SetSubscriptions(h.registry.Len())
	h.logg.Debug(h.logg.WithFields(ctx, map[string]any{"client_id": clientID, "key": key.String()}), "unsubscribed")
	return nil
}

func (h *Hub) reject(ctx context.Context, clientID string, cause error) {
	msg := cause.Error()
	if typed := pkgerrors.As(cause); typed != nil {
		msg = typed.Message()
	}
	_ = h.sendTo(ctx, clientID, FrameError, ErrorMessage{Message: msg})
}

// Broadcast pushes env to every client under every matching key and returns the
// number of successful deliveries. A failing client never stops the others.
func (h *Hub) Broadcast(ctx context.Context, env events.Envelope) int {
	targets := h.registry.Match(env)
	if len(targets) == 0 {
		return 0
	}
	frame, err := encodeFrame(FrameEvent, EventPush{Type: FrameEvent, Data: env})
	if err != nil {
		h.logg.Error(h.logg.WithTransactionID(ctx, env.TransactionID), "encode event push", err)
		return 0
	}

	delivered := 0
	for _, target := range targets {
		if err := h.deliver(target.ClientID, frame); err != nil {
			h.metrics.IncDelivery("failed")
			h.logg.Warn(h.logg.WithFields(ctx, map[string]any{
				"client_id":      target.ClientID,
				"key":            target.Key.String(),
				"transaction_id": env.TransactionID,
				"event_type":     string(env.Type),
				"error":          err.Error(),
			}), "event delivery failed")
			continue
		}
		h.metrics.IncDelivery("ok")
		delivered++
	}
	h.logg.Debug(h.logg.WithFields(ctx, map[string]any{
		"event_type": string(env.Type),
		"targets":    len(targets),
		"delivered":  delivered,
	}), "event fanned out")
	return delivered
}

func (h *Hub) sendTo(ctx context.Context, clientID, event string, data any) error {
	frame, err := encodeFrame(event, data)
	if err != nil {
		return err
	}
	if err := h.deliver(clientID, frame); err != nil {
		h.logg.Warn(h.logg.WithFields(ctx, map[string]any{"client_id": clientID, "error": err.Error()}), "frame delivery failed")
		return err
	}
	return nil
}

func (h *Hub) deliver(clientID string, frame []byte) error {
	h.mu.RLock()
	c, ok := h.clients[clientID]
	h.mu.RUnlock()
	if !ok {
		return pkgerrors.Wrap(pkgerrors.CodeDelivery, ErrClientClosed, "deliver to "+clientID)
	}
	if err := c.Send(frame); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDelivery, err, "deliver to "+clientID)
	}
	return nil
}

// Stats is the gateway health snapshot.
type Stats struct {
	Connections   int `json:"connections"`
	Subscriptions int `json:"subscriptions"`
}

func (h *Hub) Stats() Stats {
	h.mu.RLock()
	n := len(h.clients)
	h.mu.RUnlock()
	return Stats{Connections: n, Subscriptions: h.registry.Len()}
}

func (h *Hub) Registry() *Registry { return h.registry }
