package events

type Type string

const (
	TypeTransactionInitiated Type = "txn.TransactionInitiated"
	TypeFundsReserved        Type = "txn.FundsReserved"
	TypeFraudChecked         Type = "txn.FraudChecked"
	TypeCommitted            Type = "txn.Committed"
	TypeReversed             Type = "txn.Reversed"
	TypeNotified             Type = "txn.Notified"
)

var validTypes = []Type{
	TypeTransactionInitiated,
	TypeFundsReserved,
	TypeFraudChecked,
	TypeCommitted,
	TypeReversed,
	TypeNotified,
}

func (t Type) String() string {
	return string(t)
}

func (t Type) IsValid() bool {
	for _, candidate := range validTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

// IsCommand reports whether envelopes of this type travel on the commands topic.
func (t Type) IsCommand() bool {
	return t == TypeTransactionInitiated
}

// Default topic names.
const (
	TopicCommands = "txn.commands"
	TopicEvents   = "txn.events"
	TopicDLQ      = "txn.dlq"
)
