package saga

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	pkgerrors "github.com/angelmondragon/txnflow/pkg/errors"
	"github.com/angelmondragon/txnflow/pkg/events"
	"github.com/angelmondragon/txnflow/pkg/logger"
	"github.com/angelmondragon/txnflow/pkg/metrics"
	"github.com/google/uuid"
)

const (
	consumerName = "orchestrator"

	defaultRiskTimeout       = 10 * time.Second
	defaultDeadLetterTimeout = 15 * time.Second
)

// Publisher is the bus surface the orchestrator writes to.
type Publisher interface {
	PublishEnvelope(ctx context.Context, topic string, env events.Envelope) (string, error)
	PublishDeadLetter(ctx context.Context, topic string, rec events.DeadLetterRecord) (string, error)
}

// Deduplicator remembers command ids that were already handled. Delete forgets
// an id so a redelivery runs the saga again.
type Deduplicator interface {
	CheckAndMarkProcessed(ctx context.Context, consumer, id string) (bool, error)
	Delete(ctx context.Context, consumer, id string) error
}

type Topics struct {
	Events string
	DLQ    string
}

type Params struct {
	Logger    *logger.Logger
	Publisher Publisher
	Assessor  RiskAssessor
	Topics    Topics

	// optional
	Dedup             Deduplicator
	Metrics           *metrics.SagaMetrics
	RiskTimeout       time.Duration
	DeadLetterTimeout time.Duration
	Clock             func() time.Time
	LedgerIDs         func(time.Time) string
}

// Orchestrator drives one TransactionInitiated command through the saga and
// publishes every transition.
type Orchestrator struct {
	logg              *logger.Logger
	publisher         Publisher
	assessor          RiskAssessor
	topics            Topics
	dedup             Deduplicator
	metrics           *metrics.SagaMetrics
	riskTimeout       time.Duration
	deadLetterTimeout time.Duration
	clock             func() time.Time
	ledgerIDs         func(time.Time) string
	decoders          *events.DecoderRegistry

	mu     sync.Mutex
	marked map[string]struct{}
}

func New(params Params) (*Orchestrator, error) {
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if params.Publisher == nil {
		return nil, errors.New("publisher is required")
	}
	if params.Assessor == nil {
		return nil, errors.New("risk assessor is required")
	}
	if strings.TrimSpace(params.Topics.Events) == "" {
		return nil, errors.New("events topic is required")
	}
	if strings.TrimSpace(params.Topics.DLQ) == "" {
		return nil, errors.New("dead-letter topic is required")
	}

	o := &Orchestrator{
		logg:              params.Logger,
		publisher:         params.Publisher,
		assessor:          params.Assessor,
		topics:            params.Topics,
		dedup:             params.Dedup,
		metrics:           params.Metrics,
		riskTimeout:       params.RiskTimeout,
		deadLetterTimeout: params.DeadLetterTimeout,
		clock:             params.Clock,
		ledgerIDs:         params.LedgerIDs,
		decoders:          events.DefaultRegistry(),
		marked:            map[string]struct{}{},
	}
	if o.riskTimeout <= 0 {
		o.riskTimeout = defaultRiskTimeout
	}
	if o.deadLetterTimeout <= 0 {
		o.deadLetterTimeout = defaultDeadLetterTimeout
	}
	if o.clock == nil {
		o.clock = time.Now
	}
	if o.ledgerIDs == nil {
		o.ledgerIDs = newLedgerID
	}
	return o, nil
}

func newLedgerID(at time.Time) string {
	return fmt.Sprintf("ledger-%d-%s", at.UnixMilli(), uuid.NewString()[:8])
}

// Handle runs the saga for cmd to a terminal status. Step failures, panics
// included, are published to the dead-letter topic and reported as DEAD_LETTERED
// with a nil error. A non-nil error means the saga ended with neither a terminal
// event nor a dead-letter record; the command id is then forgotten so the
// redelivered command runs again. Redelivered commands of finished sagas return
// StatusNone.
func (o *Orchestrator) Handle(ctx context.Context, cmd events.Envelope) (Status, error) {
	ctx = o.logg.WithTransactionID(ctx, cmd.TransactionID)
	ctx = o.logg.WithFields(ctx, map[string]any{
		"command_id": cmd.ID,
		"user_id":    cmd.UserID,
	})

	if !cmd.Type.IsCommand() {
		o.logg.Warn(ctx, fmt.Sprintf("ignoring %s on command topic", cmd.Type))
		return StatusNone, nil
	}

	if o.dedup != nil {
		already, err := o.dedup.CheckAndMarkProcessed(ctx, consumerName, cmd.ID)
		switch {
		case err != nil:
			o.logg.Warn(o.logg.WithField(ctx, "error", err.Error()), "idempotency check failed, processing anyway")
		case already:
			o.metrics.IncDuplicate()
			o.logg.Info(ctx, "command already processed")
			return StatusNone, nil
		default:
			o.track(cmd.ID)
			defer o.untrack(cmd.ID)
		}
	}

	o.metrics.IncInFlight()
	defer o.metrics.DecInFlight()

	state, err := o.runRecovered(ctx, cmd)
	if err == nil {
		o.metrics.IncOutcome(state.Status.String())
		o.logg.Info(o.logg.WithField(ctx, "status", state.Status.String()), "saga completed")
		return state.Status, nil
	}

	failedAt := state.Status
	if markErr := state.MarkDeadLettered(); markErr != nil {
		o.logg.Warn(o.logg.WithField(ctx, "error", markErr.Error()), "saga state could not be marked dead-lettered")
	}
	o.metrics.IncOutcome(StatusDeadLettered.String())
	o.logg.Error(o.logg.WithField(ctx, "failed_after", failedAt.String()), "saga step failed", err)

	if dlqErr := o.deadLetter(ctx, cmd, err); dlqErr != nil {
		o.logg.Error(ctx, "dead-letter publish failed, command will be redelivered", dlqErr)
		o.forget(ctx, cmd.ID)
		return StatusDeadLettered, dlqErr
	}
	return StatusDeadLettered, nil
}

// ReleaseInFlight forgets the ids of commands that are still running so that
// their redelivery is not skipped. It is called when shutdown gives up waiting.
func (o *Orchestrator) ReleaseInFlight(ctx context.Context) int {
	o.mu.Lock()
	ids := make([]string, 0, len(o.marked))
	for id := range o.marked {
		ids = append(ids, id)
	}
	o.mu.Unlock()

	for _, id := range ids {
		o.forget(ctx, id)
	}
	return len(ids)
}

func (o *Orchestrator) track(id string) {
	o.mu.Lock()
	o.marked[id] = struct{}{}
	o.mu.Unlock()
}

func (o *Orchestrator) untrack(id string) {
	o.mu.Lock()
	delete(o.marked, id)
	o.mu.Unlock()
}

func (o *Orchestrator) forget(ctx context.Context, id string) {
	if o.dedup == nil {
		return
	}
	delCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.deadLetterTimeout)
	defer cancel()
	if err := o.dedup.Delete(delCtx, consumerName, id); err != nil {
		o.logg.Warn(o.logg.WithFields(ctx, map[string]any{"error": err.Error(), "command_id": id}), "processed marker could not be cleared")
	}
}

// runRecovered turns a panic in any step into a processing error so the saga
// is dead-lettered like any other step failure.
func (o *Orchestrator) runRecovered(ctx context.Context, cmd events.Envelope) (state *State, err error) {
	state = &State{}
	defer func() {
		if r := recover(); r != nil {
			err = pkgerrors.New(pkgerrors.CodeProcessing, fmt.Sprintf("saga step panicked: %v", r)).
				WithDetails(map[string]any{"stack": string(debug.Stack())})
		}
	}()
	err = o.run(ctx, state, cmd)
	return state, err
}

func (o *Orchestrator) run(ctx context.Context, state *State, cmd events.Envelope) error {
	if err := state.Apply(cmd); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeProcessing, err, "apply command")
	}

	decoded, err := o.decoders.DecodeEnvelope(cmd)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeProcessing, err, "decode transaction")
	}
	txn, ok := decoded.(events.TransactionInitiated)
	if !ok {
		return pkgerrors.New(pkgerrors.CodeProcessing, fmt.Sprintf("unexpected payload %T", decoded))
	}
	if err := validateTransaction(txn); err != nil {
		return err
	}

	if err := o.emit(ctx, state, cmd, events.TypeFundsReserved, events.FundsReserved{
		Amount:   txn.Amount,
		Currency: txn.Currency,
		From:     txn.From,
	}); err != nil {
		return err
	}

	assessment, err := o.assess(ctx, txn)
	if err != nil {
		return err
	}

	if err := o.emit(ctx, state, cmd, events.TypeFraudChecked, events.FraudChecked{Risk: assessment.Risk}); err != nil {
		return err
	}

	if assessment.Risk == events.RiskHigh {
		return o.emit(ctx, state, cmd, events.TypeReversed, events.Reversed{
			Reason:   events.ReasonFraudHigh,
			Amount:   txn.Amount,
			Currency: txn.Currency,
		})
	}

	if err := o.emit(ctx, state, cmd, events.TypeCommitted, events.Committed{
		LedgerTxID: o.ledgerIDs(o.clock()),
		To:         txn.To,
		Amount:     txn.Amount,
		Currency:   txn.Currency,
	}); err != nil {
		return err
	}

	return o.emit(ctx, state, cmd, events.TypeNotified, events.Notified{
		Channels: []string{events.ChannelEmail, events.ChannelSMS},
		Message:  fmt.Sprintf("Transaction of %s %s completed", txn.Amount.String(), txn.Currency),
	})
}

func validateTransaction(txn events.TransactionInitiated) error {
	missing := []string{}
	if strings.TrimSpace(txn.From) == "" {
		missing = append(missing, "from")
	}
	if strings.TrimSpace(txn.To) == "" {
		missing = append(missing, "to")
	}
	if strings.TrimSpace(txn.Currency) == "" {
		missing = append(missing, "currency")
	}
	if len(missing) > 0 {
		return pkgerrors.New(pkgerrors.CodeProcessing, "transaction payload incomplete").
			WithDetails(map[string]any{"fields": missing})
	}
	if !txn.Amount.IsPositive() {
		return pkgerrors.New(pkgerrors.CodeProcessing, "transaction amount must be positive")
	}
	return nil
}

func (o *Orchestrator) assess(ctx context.Context, txn events.TransactionInitiated) (Assessment, error) {
	start := time.Now()
	riskCtx, cancel := context.WithTimeout(ctx, o.riskTimeout)
	defer cancel()

	assessment, err := o.assessor.Assess(riskCtx, txn)
	o.metrics.ObserveStep("risk_assessment", time.Since(start))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return Assessment{}, pkgerrors.Wrap(pkgerrors.CodeProcessing, err,
				fmt.Sprintf("risk assessment exceeded %s", o.riskTimeout))
		}
		return Assessment{}, pkgerrors.Wrap(pkgerrors.CodeProcessing, err, "risk assessment")
	}
	if !assessment.Risk.IsValid() {
		return Assessment{}, pkgerrors.New(pkgerrors.CodeProcessing, fmt.Sprintf("risk assessor returned %q", assessment.Risk))
	}
	o.metrics.ObserveRisk(string(assessment.Risk), assessment.Latency)
	return assessment, nil
}

// emit derives the next envelope from cmd, checks the transition against state and
// publishes it, blocking until the broker acknowledges.
func (o *Orchestrator) emit(ctx context.Context, state *State, cmd events.Envelope, eventType events.Type, payload any) error {
	start := time.Now()
	env, err := events.Derive(cmd, eventType, payload)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeProcessing, err, fmt.Sprintf("build %s", eventType))
	}
	prev := *state
	if err := state.Apply(env); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeProcessing, err, fmt.Sprintf("advance to %s", eventType))
	}
	if _, err := o.publisher.PublishEnvelope(ctx, o.topics.Events, env); err != nil {
		*state = prev
		return pkgerrors.Wrap(pkgerrors.CodeProcessing, err, fmt.Sprintf("publish %s", eventType))
	}
	o.metrics.ObserveStep(string(eventType), time.Since(start))
	o.logg.Debug(o.logg.WithEvent(ctx, env.ID, string(eventType)), "saga event published")
	return nil
}

func (o *Orchestrator) deadLetter(ctx context.Context, cmd events.Envelope, cause error) error {
	// the dead-letter publish must be attempted even when shutdown cancelled ctx
	dlqCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.deadLetterTimeout)
	defer cancel()

	rec := events.NewDeadLetter(cmd, cause, o.clock())
	if _, err := o.publisher.PublishDeadLetter(dlqCtx, o.topics.DLQ, rec); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "publish dead-letter record")
	}
	return nil
}
