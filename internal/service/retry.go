package service

import (
	"context"
	"time"

	ierr "github.com/branchdesk/sequencer/internal/errors"
	"github.com/branchdesk/sequencer/internal/types"
	"github.com/cenkalti/backoff/v4"
)

// withRetry runs fn, retrying the whole operation when it fails with a
// retryable error. Each attempt must open its own transaction.
//
// When ctx already carries a transaction the caller owns the boundary: the
// transaction is aborted by the failure, so fn runs once and the error goes
// back up for the owner to retry.
func (p ServiceParams) withRetry(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	if ctx.Value(types.CtxDBTransaction) != nil {
		return fn(ctx)
	}

	retryCfg := p.Config.Sequence.Retry
	b := backoff.NewExponentialBackOff()
	if retryCfg.InitialInterval > 0 {
		b.InitialInterval = retryCfg.InitialInterval
	}
	if retryCfg.MaxInterval > 0 {
		b.MaxInterval = retryCfg.MaxInterval
	}
	b.MaxElapsedTime = 0

	maxRetries := uint64(0)
	if retryCfg.MaxAttempts > 1 {
		maxRetries = retryCfg.MaxAttempts - 1
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(b, maxRetries), ctx)

	attempt := 0
	return backoff.RetryNotify(func() error {
		attempt++
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if ierr.IsRetryable(err) {
			return err
		}
		return backoff.Permanent(err)
	}, policy, func(err error, wait time.Duration) {
		p.Metrics.IncRetry(operation)
		p.Logger.Warnw("retrying operation after retryable failure",
			"operation", operation,
			"attempt", attempt,
			"wait_ms", wait.Milliseconds(),
			"error", err,
		)
	})
}
