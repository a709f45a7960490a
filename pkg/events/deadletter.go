package events

import (
	"encoding/json"
	"time"

	pkgerrors "github.com/angelmondragon/txnflow/pkg/errors"
)

// ErrorInfo describes why an envelope was dead-lettered.
type ErrorInfo struct {
	Message   string `json:"message"`
	Stack     string `json:"stack"`
	Timestamp int64  `json:"timestamp"`
}

// DeadLetterRecord is the body published to the dead-letter topic.
type DeadLetterRecord struct {
	OriginalEvent Envelope  `json:"originalEvent"`
	Error         ErrorInfo `json:"error"`
}

// NewDeadLetter captures err against the envelope that could not be processed.
func NewDeadLetter(original Envelope, err error, at time.Time) DeadLetterRecord {
	info := ErrorInfo{Timestamp: at.UnixMilli()}
	if err != nil {
		info.Message = err.Error()
		info.Stack = pkgerrors.Dump(err).Trace()
	}
	return DeadLetterRecord{OriginalEvent: original, Error: info}
}

func (r DeadLetterRecord) Marshal() ([]byte, error) {
	return json.Marshal(r)
}

// ParseDeadLetter decodes a dead-letter body published by the orchestrator.
func ParseDeadLetter(data []byte) (DeadLetterRecord, error) {
	var rec DeadLetterRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return DeadLetterRecord{}, pkgerrors.Wrap(pkgerrors.CodeMalformedMessage, err, "decode dead-letter record")
	}
	if err := rec.OriginalEvent.Validate(); err != nil {
		return DeadLetterRecord{}, err
	}
	return rec, nil
}
