package gateway

import (
	"strings"

	pkgerrors "github.com/angelmondragon/txnflow/pkg/errors"
	"github.com/angelmondragon/txnflow/pkg/events"
)

const (
	txnKeyPrefix  = "txn:"
	userKeyPrefix = "user:"
)

// Key names one subscription bucket: txn:<transactionId> or user:<userId>.
type Key string

// KeyFor derives the subscription key for a request. A transaction id wins over
// a user id.
func KeyFor(userID, transactionID string) (Key, error) {
	userID = strings.TrimSpace(userID)
	transactionID = strings.TrimSpace(transactionID)
	switch {
	case transactionID != "":
		return Key(txnKeyPrefix + transactionID), nil
	case userID != "":
		return Key(userKeyPrefix + userID), nil
	default:
		return "", pkgerrors.New(pkgerrors.CodeValidation, "userId or transactionId is required")
	}
}

// Matches reports whether env belongs to the bucket named by k.
func (k Key) Matches(env events.Envelope) bool {
	s := string(k)
	if id, ok := strings.CutPrefix(s, txnKeyPrefix); ok {
		return id != "" && env.TransactionID == id
	}
	if id, ok := strings.CutPrefix(s, userKeyPrefix); ok {
		return id != "" && env.UserID == id
	}
	return false
}

func (k Key) String() string { return string(k) }
