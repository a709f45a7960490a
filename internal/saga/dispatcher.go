package saga

import (
	"context"
	"errors"
	"sync"

	"github.com/angelmondragon/txnflow/pkg/events"
	"golang.org/x/sync/semaphore"
)

var ErrDispatcherClosed = errors.New("dispatcher closed")

// HandlerFunc processes one envelope and reports whether its message should be
// acked. It runs on a context detached from the receive loop so in-flight sagas
// can finish during shutdown.
type HandlerFunc func(ctx context.Context, env events.Envelope) bool

type job struct {
	env  events.Envelope
	done func(ack bool)
}

// Dispatcher runs envelopes serially per transaction id and concurrently across
// transaction ids, with at most maxConcurrent keys active at once.
type Dispatcher struct {
	handler HandlerFunc
	workCtx context.Context
	sem     *semaphore.Weighted

	mu     sync.Mutex
	queues map[string][]job
	closed bool
	wg     sync.WaitGroup
}

func NewDispatcher(ctx context.Context, maxConcurrent int, handler HandlerFunc) *Dispatcher {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Dispatcher{
		handler: handler,
		workCtx: context.WithoutCancel(ctx),
		sem:     semaphore.NewWeighted(int64(maxConcurrent)),
		queues:  map[string][]job{},
	}
}

// Submit queues env behind any pending work for the same transaction. done, when
// set, runs after the handler returns with the handler's ack decision.
func (d *Dispatcher) Submit(env events.Envelope, done func(ack bool)) error {
	key := env.TransactionID

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrDispatcherClosed
	}
	if pending, active := d.queues[key]; active {
		d.queues[key] = append(pending, job{env: env, done: done})
		return nil
	}
	d.queues[key] = []job{{env: env, done: done}}
	d.wg.Add(1)
	go d.drain(key)
	return nil
}

func (d *Dispatcher) drain(key string) {
	defer d.wg.Done()

	// Acquire only fails on context cancellation and the background context never cancels.
	_ = d.sem.Acquire(context.Background(), 1)
	defer d.sem.Release(1)

	for {
		d.mu.Lock()
		pending := d.queues[key]
		if len(pending) == 0 {
			delete(d.queues, key)
			d.mu.Unlock()
			return
		}
		next := pending[0]
		d.queues[key] = pending[1:]
		d.mu.Unlock()

		ack := d.handler(d.workCtx, next.env)
		if next.done != nil {
			next.done(ack)
		}
	}
}

// Active returns the number of transaction ids with queued or running work.
func (d *Dispatcher) Active() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queues)
}

// Close stops accepting new work. Already queued work still runs.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
}

// Wait blocks until all queued work has finished or ctx expires.
func (d *Dispatcher) Wait(ctx context.Context) error {
	finished := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
