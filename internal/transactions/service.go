package transactions

import (
	"context"
	"fmt"
	"strings"

	pkgerrors "github.com/angelmondragon/txnflow/pkg/errors"
	"github.com/angelmondragon/txnflow/pkg/events"
	"github.com/angelmondragon/txnflow/pkg/logger"
	"github.com/google/uuid"
)

const StatusAccepted = "accepted"

type publisher interface {
	PublishEnvelope(ctx context.Context, topic string, env events.Envelope) (string, error)
}

// Service accepts transaction requests and publishes the initiating command.
type Service interface {
	Submit(ctx context.Context, input SubmitInput) (*SubmitResult, error)
}

type SubmitInput struct {
	From     string
	To       string
	Amount   events.Amount
	Currency string
	UserID   string
}

type SubmitResult struct {
	TransactionID string `json:"transactionId"`
	Status        string `json:"status"`
}

type service struct {
	publisher publisher
	topic     string
	logg      *logger.Logger
	newID     func() string
}

func NewService(pub publisher, topic string, logg *logger.Logger) (Service, error) {
	if pub == nil {
		return nil, fmt.Errorf("publisher required")
	}
	if strings.TrimSpace(topic) == "" {
		return nil, fmt.Errorf("commands topic required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{publisher: pub, topic: topic, logg: logg, newID: uuid.NewString}, nil
}

func (s *service) Submit(ctx context.Context, input SubmitInput) (*SubmitResult, error) {
	input = input.normalized()
	if err := input.validate(); err != nil {
		return nil, err
	}

	txnID := s.newID()
	cmd, err := events.New(events.TypeTransactionInitiated, txnID, input.UserID, events.TransactionInitiated{
		From:     input.From,
		To:       input.To,
		Amount:   input.Amount,
		Currency: input.Currency,
	})
	if err != nil {
		return nil, err
	}

	ctx = s.logg.WithUserID(s.logg.WithTransactionID(ctx, txnID), input.UserID)
	msgID, err := s.publisher.PublishEnvelope(ctx, s.topic, cmd)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "publish transaction command")
	}
	ctx = s.logg.WithEvent(ctx, cmd.ID, string(cmd.Type))
	s.logg.Info(s.logg.WithField(ctx, "message_id", msgID), "transaction accepted")

	return &SubmitResult{TransactionID: txnID, Status: StatusAccepted}, nil
}

func (in SubmitInput) normalized() SubmitInput {
	in.From = strings.TrimSpace(in.From)
	in.To = strings.TrimSpace(in.To)
	in.UserID = strings.TrimSpace(in.UserID)
	in.Currency = strings.ToUpper(strings.TrimSpace(in.Currency))
	return in
}

func (in SubmitInput) validate() error {
	details := map[string]string{}
	if in.From == "" {
		details["from"] = "is required"
	}
	if in.To == "" {
		details["to"] = "is required"
	}
	if in.Currency == "" {
		details["currency"] = "is required"
	}
	if in.UserID == "" {
		details["userId"] = "is required"
	}
	if !in.Amount.IsPositive() {
		details["amount"] = "must be greater than 0"
	}
	if len(details) > 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "validation failed").WithDetails(details)
	}
	return nil
}
