package events

import (
	"encoding/json"
	"fmt"
	"sync"

	pkgerrors "github.com/angelmondragon/txnflow/pkg/errors"
)

type decoderFunc func(payload json.RawMessage) (any, error)

type registryKey struct {
	eventType Type
	version   int
}

// DecoderRegistry stores versioned payload decoders for consumers.
type DecoderRegistry struct {
	mtx      sync.RWMutex
	registry map[registryKey]decoderFunc
}

// NewDecoderRegistry builds an empty decoder registry.
func NewDecoderRegistry() *DecoderRegistry {
	return &DecoderRegistry{registry: make(map[registryKey]decoderFunc)}
}

// Register stores a decoder for the given event type and version.
func (r *DecoderRegistry) Register(eventType Type, version int, decoder decoderFunc) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	r.registry[registryKey{eventType: eventType, version: version}] = decoder
}

// Supports reports whether a decoder is registered for the event type and version.
func (r *DecoderRegistry) Supports(eventType Type, version int) bool {
	_, ok := r.lookup(eventType, version)
	return ok
}

// Decode runs the decoder registered for the event type and version. Unknown
// pairs and undecodable payloads are malformed messages.
func (r *DecoderRegistry) Decode(eventType Type, version int, payload json.RawMessage) (any, error) {
	decoder, ok := r.lookup(eventType, version)
	if !ok {
		return nil, unsupported(eventType, version)
	}
	out, err := decoder(payload)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeMalformedMessage, err, fmt.Sprintf("decode %s@v%d payload", eventType, version))
	}
	return out, nil
}

func (r *DecoderRegistry) lookup(eventType Type, version int) (decoderFunc, bool) {
	r.mtx.RLock()
	defer r.mtx.RUnlock()
	decoder, ok := r.registry[registryKey{eventType: eventType, version: version}]
	return decoder, ok
}

func unsupported(eventType Type, version int) error {
	return pkgerrors.New(pkgerrors.CodeMalformedMessage, fmt.Sprintf("decoder not registered for %s@v%d", eventType, version)).
		WithDetails(map[string]any{"type": eventType, "version": version})
}

// DecodeEnvelope decodes env's payload using its own type and version.
func (r *DecoderRegistry) DecodeEnvelope(env Envelope) (any, error) {
	return r.Decode(env.Type, env.Version, env.Payload)
}

func typed[T any](payload json.RawMessage) (any, error) {
	var out T
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, err
	}
	return out, nil
}

var defaultRegistry = DefaultRegistry()

// DefaultRegistry knows every v1 payload.
func DefaultRegistry() *DecoderRegistry {
	r := NewDecoderRegistry()
	r.Register(TypeTransactionInitiated, 1, typed[TransactionInitiated])
	r.Register(TypeFundsReserved, 1, typed[FundsReserved])
	r.Register(TypeFraudChecked, 1, typed[FraudChecked])
	r.Register(TypeCommitted, 1, typed[Committed])
	r.Register(TypeReversed, 1, typed[Reversed])
	r.Register(TypeNotified, 1, typed[Notified])
	return r
}
