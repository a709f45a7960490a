package gateway

import (
	"encoding/json"

	pkgerrors "github.com/angelmondragon/txnflow/pkg/errors"
	"github.com/angelmondragon/txnflow/pkg/events"
)

// Frame names used on the push channel.
const (
	FrameSubscribe   = "subscribe"
	FrameUnsubscribe = "unsubscribe"
	FrameSubscribed  = "subscribed"
	FrameEvent       = "event"
	FrameError       = "error"
)

// Frame is one text message on the push channel.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type SubscriptionRequest struct {
	UserID        string `json:"userId,omitempty"`
	TransactionID string `json:"transactionId,omitempty"`
}

// EventPush wraps a bus envelope delivered to a subscriber.
type EventPush struct {
	Type string          `json:"type"`
	Data events.Envelope `json:"data"`
}

type ErrorMessage struct {
	Message string `json:"message"`
}

func encodeFrame(event string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode frame data")
	}
	out, err := json.Marshal(Frame{Event: event, Data: raw})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode frame")
	}
	return out, nil
}

func decodeFrame(data []byte) (Frame, error) {
	var frame Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		return Frame{}, pkgerrors.Wrap(pkgerrors.CodeMalformedMessage, err, "decode frame")
	}
	if frame.Event == "" {
		return Frame{}, pkgerrors.New(pkgerrors.CodeMalformedMessage, "frame event is required")
	}
	return frame, nil
}

func decodeSubscription(frame Frame) (SubscriptionRequest, error) {
	var req SubscriptionRequest
	if len(frame.Data) == 0 {
		return req, nil
	}
	if err := json.Unmarshal(frame.Data, &req); err != nil {
		return SubscriptionRequest{}, pkgerrors.Wrap(pkgerrors.CodeMalformedMessage, err, "decode subscription")
	}
	return req, nil
}
