package saga

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/angelmondragon/txnflow/pkg/events"
)

// Assessment is the outcome of a risk check.
type Assessment struct {
	Risk    events.Risk
	Latency time.Duration
}

// RiskAssessor classifies a transaction. Implementations must honour ctx cancellation.
type RiskAssessor interface {
	Assess(ctx context.Context, txn events.TransactionInitiated) (Assessment, error)
}

// AssessorFunc adapts a function to RiskAssessor.
type AssessorFunc func(ctx context.Context, txn events.TransactionInitiated) (Assessment, error)

func (f AssessorFunc) Assess(ctx context.Context, txn events.TransactionInitiated) (Assessment, error) {
	return f(ctx, txn)
}

// RandomAssessor is a placeholder classifier: LOW with the configured probability
// after a uniformly distributed delay.
type RandomAssessor struct {
	lowProbability float64
	minDelay       time.Duration
	maxDelay       time.Duration

	mu  sync.Mutex
	rnd *rand.Rand
}

func NewRandomAssessor(lowProbability float64, minDelay, maxDelay time.Duration, seed int64) (*RandomAssessor, error) {
	if lowProbability < 0 || lowProbability > 1 {
		return nil, errors.New("low probability must be within [0,1]")
	}
	if minDelay < 0 || maxDelay < minDelay {
		return nil, errors.New("invalid risk delay bounds")
	}
	return &RandomAssessor{
		lowProbability: lowProbability,
		minDelay:       minDelay,
		maxDelay:       maxDelay,
		rnd:            rand.New(rand.NewSource(seed)),
	}, nil
}

func (a *RandomAssessor) Assess(ctx context.Context, _ events.TransactionInitiated) (Assessment, error) {
	a.mu.Lock()
	roll := a.rnd.Float64()
	delay := a.minDelay
	if spread := a.maxDelay - a.minDelay; spread > 0 {
		delay += time.Duration(a.rnd.Int63n(int64(spread) + 1))
	}
	a.mu.Unlock()

	risk := events.RiskHigh
	if roll < a.lowProbability {
		risk = events.RiskLow
	}

	start := time.Now()
	if err := sleep(ctx, delay); err != nil {
		return Assessment{}, err
	}
	return Assessment{Risk: risk, Latency: time.Since(start)}, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
