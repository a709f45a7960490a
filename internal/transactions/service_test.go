package transactions

import (
	"context"
	"errors"
	"testing"

	pkgerrors "github.com/angelmondragon/txnflow/pkg/errors"
	"github.com/angelmondragon/txnflow/pkg/events"
	"github.com/angelmondragon/txnflow/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubPublisher struct {
	topic string
	envs  []events.Envelope
	err   error
}

func (p *stubPublisher) PublishEnvelope(_ context.Context, topic string, env events.Envelope) (string, error) {
	if p.err != nil {
		return "", p.err
	}
	p.topic = topic
	p.envs = append(p.envs, env)
	return "msg-1", nil
}

func newTestService(t *testing.T, pub *stubPublisher) *service {
	t.Helper()
	svc, err := NewService(pub, events.TopicCommands, logger.Nop())
	require.NoError(t, err)
	s := svc.(*service)
	s.newID = func() string { return "txn-fixed" }
	return s
}

func validInput() SubmitInput {
	return SubmitInput{From: "acc1", To: "acc2", Amount: events.AmountFromInt(100), Currency: "usd", UserID: "u1"}
}

func TestSubmitPublishesInitiatedCommand(t *testing.T) {
	pub := &stubPublisher{}
	svc := newTestService(t, pub)

	res, err := svc.Submit(context.Background(), validInput())
	require.NoError(t, err)
	assert.Equal(t, &SubmitResult{TransactionID: "txn-fixed", Status: StatusAccepted}, res)

	require.Len(t, pub.envs, 1)
	assert.Equal(t, events.TopicCommands, pub.topic)
	cmd := pub.envs[0]
	assert.Equal(t, events.TypeTransactionInitiated, cmd.Type)
	assert.Equal(t, "txn-fixed", cmd.TransactionID)
	assert.Equal(t, "u1", cmd.UserID)
	assert.Empty(t, cmd.CorrelationID)

	var payload events.TransactionInitiated
	require.NoError(t, cmd.Decode(&payload))
	assert.Equal(t, "acc1", payload.From)
	assert.Equal(t, "acc2", payload.To)
	assert.Equal(t, "USD", payload.Currency)
	assert.True(t, payload.Amount.Equal(events.AmountFromInt(100).Decimal))
}

func TestSubmitValidation(t *testing.T) {
	cases := map[string]func(*SubmitInput){
		"from":     func(in *SubmitInput) { in.From = " " },
		"to":       func(in *SubmitInput) { in.To = "" },
		"currency": func(in *SubmitInput) { in.Currency = "" },
		"userId":   func(in *SubmitInput) { in.UserID = "" },
		"amount":   func(in *SubmitInput) { in.Amount = events.AmountFromInt(0) },
	}
	for field, mutate := range cases {
		t.Run(field, func(t *testing.T) {
			pub := &stubPublisher{}
			in := validInput()
			mutate(&in)

			_, err := newTestService(t, pub).Submit(context.Background(), in)
			require.Error(t, err)
			typed := pkgerrors.As(err)
			require.NotNil(t, typed)
			assert.Equal(t, pkgerrors.CodeValidation, typed.Code())
			assert.Contains(t, typed.Details(), field)
			assert.Empty(t, pub.envs, "rejected requests never reach the bus")
		})
	}
}

func TestSubmitPublishFailureIsDependencyError(t *testing.T) {
	pub := &stubPublisher{err: errors.New("pubsub down")}
	_, err := newTestService(t, pub).Submit(context.Background(), validInput())
	require.Error(t, err)
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeDependency))
}

func TestNewServiceValidation(t *testing.T) {
	_, err := NewService(nil, events.TopicCommands, logger.Nop())
	require.Error(t, err)
	_, err = NewService(&stubPublisher{}, "", logger.Nop())
	require.Error(t, err)
	_, err = NewService(&stubPublisher{}, events.TopicCommands, nil)
	require.Error(t, err)
}
