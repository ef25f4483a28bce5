package dispatcher

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

func (d *Dispatcher) newBackOff(ctx context.Context) backoff.BackOffContext {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = d.config.RetryInitial
	exp.MaxInterval = d.config.RetryMax
	exp.MaxElapsedTime = 0 // bounded by attempts only
	exp.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(d.config.BoundaryRetries)), ctx)
}

// retryBoundary runs op until it succeeds, the attempt budget is spent or ctx ends
func (d *Dispatcher) retryBoundary(ctx context.Context, pos Position, what string, op func() error) error {
	attempts := 0
	wrapped := func() error {
		attempts++
		err := op()
		if err != nil && ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		d.observer.BoundaryRetried(pos)
		d.logger.Warn("boundary attempt failed, retrying",
			zap.Stringer("position", pos),
			zap.String("step", what),
			zap.Int("attempt", attempts),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)
	}

	if err := backoff.RetryNotify(wrapped, d.newBackOff(ctx), notify); err != nil {
		d.observer.BoundaryExhausted(pos)
		return &BoundaryError{Position: pos, Attempts: attempts, Err: err}
	}
	return nil
}
