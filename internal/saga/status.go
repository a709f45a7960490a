package saga

import (
	"fmt"

	pkgerrors "github.com/angelmondragon/txnflow/pkg/errors"
	"github.com/angelmondragon/txnflow/pkg/events"
)

// Status is the furthest stage a saga instance has reached.
type Status string

const (
	StatusNone         Status = ""
	StatusInitiated    Status = "INITIATED"
	StatusReserved     Status = "RESERVED"
	StatusFraudChecked Status = "FRAUD_CHECKED"
	StatusCommitted    Status = "COMMITTED"
	StatusNotified     Status = "NOTIFIED"
	StatusReversed     Status = "REVERSED"
	StatusDeadLettered Status = "DEAD_LETTERED"
)

var transitions = map[Status][]Status{
	StatusNone:         {StatusInitiated},
	StatusInitiated:    {StatusReserved, StatusDeadLettered},
	StatusReserved:     {StatusFraudChecked, StatusDeadLettered},
	StatusFraudChecked: {StatusCommitted, StatusReversed, StatusDeadLettered},
	StatusCommitted:    {StatusNotified, StatusDeadLettered},
}

// Terminal reports whether no further saga events may follow.
func (s Status) Terminal() bool {
	switch s {
	case StatusNotified, StatusReversed, StatusDeadLettered:
		return true
	default:
		return false
	}
}

// CanTransition reports whether next may directly follow s.
func (s Status) CanTransition(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (s Status) String() string {
	if s == StatusNone {
		return "NONE"
	}
	return string(s)
}

// StatusFor maps an envelope type onto the stage it marks.
func StatusFor(eventType events.Type) (Status, bool) {
	switch eventType {
	case events.TypeTransactionInitiated:
		return StatusInitiated, true
	case events.TypeFundsReserved:
		return StatusReserved, true
	case events.TypeFraudChecked:
		return StatusFraudChecked, true
	case events.TypeCommitted:
		return StatusCommitted, true
	case events.TypeNotified:
		return StatusNotified, true
	case events.TypeReversed:
		return StatusReversed, true
	default:
		return StatusNone, false
	}
}

// State is the saga instance folded from its envelope stream.
type State struct {
	TransactionID string
	UserID        string
	CommandID     string
	Status        Status
	Risk          events.Risk
	LedgerTxID    string
	Applied       int
}

// Apply folds env into the state, rejecting envelopes for another transaction and
// transitions the state machine does not allow.
func (s *State) Apply(env events.Envelope) error {
	if s.TransactionID != "" && env.TransactionID != s.TransactionID {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "envelope belongs to another transaction").
			WithDetails(map[string]any{"expected": s.TransactionID, "got": env.TransactionID})
	}
	next, ok := StatusFor(env.Type)
	if !ok {
		return pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("unknown envelope type %s", env.Type))
	}
	if err := s.advance(next); err != nil {
		return err
	}

	switch env.Type {
	case events.TypeTransactionInitiated:
		s.CommandID = env.ID
	case events.TypeFraudChecked:
		var payload events.FraudChecked
		if err := env.Decode(&payload); err != nil {
			return err
		}
		s.Risk = payload.Risk
	case events.TypeCommitted:
		var payload events.Committed
		if err := env.Decode(&payload); err != nil {
			return err
		}
		s.LedgerTxID = payload.LedgerTxID
	}

	if s.TransactionID == "" {
		s.TransactionID = env.TransactionID
		s.UserID = env.UserID
	}
	s.Applied++
	return nil
}

// MarkDeadLettered moves a non-terminal saga into DEAD_LETTERED.
func (s *State) MarkDeadLettered() error {
	return s.advance(StatusDeadLettered)
}

func (s *State) advance(next Status) error {
	if !s.Status.CanTransition(next) {
		return pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("transition %s -> %s not allowed", s.Status, next))
	}
	s.Status = next
	return nil
}

// Replay rebuilds the state of one saga instance from its ordered envelopes.
func Replay(envs []events.Envelope) (State, error) {
	var state State
	for i, env := range envs {
		if err := state.Apply(env); err != nil {
			return state, fmt.Errorf("replay envelope %d (%s): %w", i, env.Type, err)
		}
	}
	return state, nil
}
