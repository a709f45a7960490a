package events

import (
	"encoding/json"
	"strings"
	"time"

	pkgerrors "github.com/angelmondragon/txnflow/pkg/errors"
	"github.com/google/uuid"
)

// CurrentVersion is the only envelope schema version produced today.
const CurrentVersion = 1

var (
	newID = uuid.NewString
	now   = time.Now
)

// Envelope is the unit of communication on every topic, commands and events alike.
type Envelope struct {
	ID            string          `json:"id"`
	Type          Type            `json:"type"`
	Version       int             `json:"version"`
	TS            int64           `json:"ts"`
	TransactionID string          `json:"transactionId"`
	UserID        string          `json:"userId"`
	Payload       json.RawMessage `json:"payload"`
	CorrelationID string          `json:"correlationId,omitempty"`
}

// New builds an originating envelope with a fresh id and no correlation id.
func New(eventType Type, transactionID, userID string, payload any) (Envelope, error) {
	if !eventType.IsValid() {
		return Envelope{}, pkgerrors.New(pkgerrors.CodeValidation, "unknown event type").WithDetails(map[string]any{"type": eventType})
	}
	if strings.TrimSpace(transactionID) == "" {
		return Envelope{}, pkgerrors.New(pkgerrors.CodeValidation, "transaction id is required")
	}
	raw, err := encodePayload(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		ID:            newID(),
		Type:          eventType,
		Version:       CurrentVersion,
		TS:            now().UnixMilli(),
		TransactionID: transactionID,
		UserID:        userID,
		Payload:       raw,
	}, nil
}

// Derive builds an envelope caused by cause: it inherits the transaction and user ids
// and points its correlation id at cause.ID.
func Derive(cause Envelope, eventType Type, payload any) (Envelope, error) {
	env, err := New(eventType, cause.TransactionID, cause.UserID, payload)
	if err != nil {
		return Envelope{}, err
	}
	env.CorrelationID = cause.ID
	return env, nil
}

// Parse decodes a bus payload and checks the fields every consumer relies on.
// Envelopes whose type and version have no registered decoder are malformed.
func Parse(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, pkgerrors.Wrap(pkgerrors.CodeMalformedMessage, err, "decode envelope")
	}
	if err := env.Validate(); err != nil {
		return Envelope{}, err
	}
	if !defaultRegistry.Supports(env.Type, env.Version) {
		return Envelope{}, unsupported(env.Type, env.Version)
	}
	return env, nil
}

// Validate reports a malformed-message error for envelopes missing required fields.
func (e Envelope) Validate() error {
	missing := []string{}
	if strings.TrimSpace(e.ID) == "" {
		missing = append(missing, "id")
	}
	if strings.TrimSpace(e.TransactionID) == "" {
		missing = append(missing, "transactionId")
	}
	if len(missing) > 0 {
		return pkgerrors.New(pkgerrors.CodeMalformedMessage, "envelope missing required fields").
			WithDetails(map[string]any{"fields": missing})
	}
	if !e.Type.IsValid() {
		return pkgerrors.New(pkgerrors.CodeMalformedMessage, "unknown envelope type").
			WithDetails(map[string]any{"type": e.Type})
	}
	if e.Version < 1 {
		return pkgerrors.New(pkgerrors.CodeMalformedMessage, "invalid envelope version").
			WithDetails(map[string]any{"version": e.Version})
	}
	return nil
}

// Marshal returns the wire form of the envelope.
func (e Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// Time returns the creation instant.
func (e Envelope) Time() time.Time {
	return time.UnixMilli(e.TS).UTC()
}

// Decode unmarshals the payload into dst.
func (e Envelope) Decode(dst any) error {
	if len(e.Payload) == 0 {
		return pkgerrors.New(pkgerrors.CodeMalformedMessage, "envelope payload is empty")
	}
	if err := json.Unmarshal(e.Payload, dst); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeMalformedMessage, err, "decode payload")
	}
	return nil
}

func encodePayload(payload any) (json.RawMessage, error) {
	if payload == nil {
		return json.RawMessage("{}"), nil
	}
	if raw, ok := payload.(json.RawMessage); ok {
		return raw, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode payload")
	}
	return raw, nil
}
