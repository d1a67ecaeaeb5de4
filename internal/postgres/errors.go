package postgres

import (
	"context"
	"database/sql"

	ierr "github.com/branchdesk/sequencer/internal/errors"
	"github.com/cockroachdb/errors"
	"github.com/lib/pq"
)

// SQLSTATE codes the allocator cares about
const (
	pqUniqueViolation      = "23505"
	pqSerializationFailure = "40001"
	pqDeadlockDetected     = "40P01"
	pqLockNotAvailable     = "55P03"
	pqQueryCanceled        = "57014"
)

// TranslateError maps a driver error onto the domain sentinels.
// Lock timeouts, deadlocks and serialization failures abort the transaction
// and are safe to retry from scratch, so they become allocation failures.
// Unique violations are never retried.
func TranslateError(err error, op string) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, sql.ErrNoRows) {
		return ierr.WithError(err).
			WithMessage(op).
			Mark(ierr.ErrNotFound)
	}

	// A caller that gave up is not retried.
	if errors.Is(err, context.Canceled) {
		return ierr.WithError(err).
			WithMessage(op).
			WithHint("The request was canceled").
			Mark(ierr.ErrCanceled)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ierr.WithError(err).
			WithMessage(op).
			WithHint("Could not save, please retry").
			Mark(ierr.ErrAllocationFailed)
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		details := map[string]any{
			"op":         op,
			"sqlstate":   string(pqErr.Code),
			"constraint": pqErr.Constraint,
			"table":      pqErr.Table,
		}
		switch string(pqErr.Code) {
		case pqUniqueViolation:
			return ierr.WithError(err).
				WithMessage(op).
				WithHint("Could not save, please retry").
				WithReportableDetails(details).
				Mark(ierr.ErrConstraintViolation)
		case pqSerializationFailure, pqDeadlockDetected, pqLockNotAvailable, pqQueryCanceled:
			return ierr.WithError(err).
				WithMessage(op).
				WithHint("Could not save, please retry").
				WithReportableDetails(details).
				Mark(ierr.ErrAllocationFailed)
		}
		return ierr.WithError(err).
			WithMessage(op).
			WithReportableDetails(details).
			Mark(ierr.ErrDatabase)
	}

	return ierr.WithError(err).
		WithMessage(op).
		Mark(ierr.ErrDatabase)
}
