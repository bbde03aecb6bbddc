package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/crabzie/factory-runtime/internal/core/domain"
	"github.com/crabzie/factory-runtime/internal/core/port"
	"go.uber.org/zap"
)

// ErrNoCallback is returned by Notify when nothing is registered
var ErrNoCallback = errors.New("no completion callback registered")

// CompletionNotifier delivers completion events to every registered decision
// callback. Each callback is retried on its own, so one that already accepted
// an event is never handed it again because another one failed.
type CompletionNotifier struct {
	mu        sync.RWMutex
	callbacks []port.DecisionCallback
	clock     port.Clock

	attempts int
	backoff  time.Duration
	metrics  port.Metrics
	log      *zap.Logger
}

// NotifierOption customizes a CompletionNotifier
type NotifierOption func(*CompletionNotifier)

// WithRetry sets how many times a failing callback is invoked, waiting
// backoff*attempt between tries.
func WithRetry(attempts int, backoff time.Duration) NotifierOption {
	return func(n *CompletionNotifier) {
		if attempts > 0 {
			n.attempts = attempts
		}
		if backoff >= 0 {
			n.backoff = backoff
		}
	}
}

// WithNotifierClock times the backoff between attempts on clock instead of
// the wall clock.
func WithNotifierClock(clock port.Clock) NotifierOption {
	return func(n *CompletionNotifier) {
		n.clock = clock
	}
}

// WithNotifierMetrics records delivery outcomes
func WithNotifierMetrics(m port.Metrics) NotifierOption {
	return func(n *CompletionNotifier) {
		if m != nil {
			n.metrics = m
		}
	}
}

func NewCompletionNotifier(log *zap.Logger, opts ...NotifierOption) *CompletionNotifier {
	n := &CompletionNotifier{
		attempts: 3,
		backoff:  100 * time.Millisecond,
		metrics:  port.NopMetrics{},
		log:      log,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Register sets the decision callbacks, replacing any previous ones.
// Callbacks are notified in the order given.
func (n *CompletionNotifier) Register(callbacks ...port.DecisionCallback) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.callbacks = n.callbacks[:0:0]
	for _, cb := range callbacks {
		if cb != nil {
			n.callbacks = append(n.callbacks, cb)
		}
	}
}

// bindClock sets the backoff clock unless one was configured
func (n *CompletionNotifier) bindClock(clock port.Clock) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.clock == nil {
		n.clock = clock
	}
}

func (n *CompletionNotifier) current() ([]port.DecisionCallback, port.Clock) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.callbacks, n.clock
}

// Notify hands the event to every callback. The returned error joins the
// failures of the callbacks that gave up; it never affects machine state.
func (n *CompletionNotifier) Notify(ctx context.Context, event domain.CompletionEvent) error {
	callbacks, clock := n.current()
	if len(callbacks) == 0 {
		n.log.Warn("Dropping completion event, no callback registered",
			zap.String("machine", event.Machine),
			zap.String("order_id", event.OrderID))
		return ErrNoCallback
	}

	var errs []error
	for i, callback := range callbacks {
		if err := n.deliver(ctx, clock, i, callback, event); err != nil {
			errs = append(errs, err)
		}
	}

	err := errors.Join(errs...)
	n.metrics.ObserveNotification(event.Machine, err)
	if err != nil {
		return fmt.Errorf("notify completion of %s on %s: %w", event.OrderID, event.Machine, err)
	}
	return nil
}

// deliver retries one callback until it accepts the event or attempts run out
func (n *CompletionNotifier) deliver(
	ctx context.Context,
	clock port.Clock,
	index int,
	callback port.DecisionCallback,
	event domain.CompletionEvent,
) error {
	var err error
	for attempt := 1; attempt <= n.attempts; attempt++ {
		if err = n.invoke(ctx, callback, event); err == nil {
			n.log.Debug("Completion event delivered",
				zap.String("machine", event.Machine),
				zap.String("order_id", event.OrderID),
				zap.Int("callback", index),
				zap.Int("attempt", attempt))
			return nil
		}

		n.log.Warn("Completion callback failed",
			zap.String("machine", event.Machine),
			zap.String("order_id", event.OrderID),
			zap.Int("callback", index),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", n.attempts),
			zap.Error(err))

		if attempt == n.attempts {
			break
		}
		if waitErr := wait(ctx, clock, time.Duration(attempt)*n.backoff); waitErr != nil {
			return errors.Join(err, waitErr)
		}
	}
	return err
}

// invoke turns a panicking callback into an error
func (n *CompletionNotifier) invoke(ctx context.Context, callback port.DecisionCallback, event domain.CompletionEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("completion callback panicked: %v", r)
		}
	}()
	return callback.OnCompletion(ctx, event)
}

// wait sleeps d on clock, or on the wall clock when none is bound
func wait(ctx context.Context, clock port.Clock, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	elapsed := make(chan struct{})
	release := func() { close(elapsed) }
	var timer port.Timer
	if clock != nil {
		timer = clock.AfterFunc(d, release)
	} else {
		timer = time.AfterFunc(d, release)
	}
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-elapsed:
		return nil
	}
}
