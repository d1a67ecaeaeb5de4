package postgres

import (
	"context"

	"github.com/branchdesk/sequencer/internal/domain/sequence"
	ierr "github.com/branchdesk/sequencer/internal/errors"
	"github.com/branchdesk/sequencer/internal/logger"
	"github.com/branchdesk/sequencer/internal/postgres"
	"github.com/cockroachdb/errors"
)

type counterRepository struct {
	db     *postgres.DB
	logger *logger.Logger
}

// NewCounterRepository creates the row-per-key counter store
func NewCounterRepository(db *postgres.DB, logger *logger.Logger) sequence.CounterRepository {
	return &counterRepository{db: db, logger: logger}
}

func (r *counterRepository) GetOrCreate(ctx context.Context, key sequence.Key) (*sequence.Counter, error) {
	// Concurrent first allocations race on this insert; the loser's insert is
	// a no-op and both read the same row.
	insert := `
		INSERT INTO sequence_counters (partition_key, period, current_value, created_at, updated_at)
		VALUES ($1, $2, 0, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		ON CONFLICT (partition_key, period) DO NOTHING`

	q := r.db.GetQuerier(ctx)
	if _, err := q.ExecContext(ctx, insert, key.PartitionKey, key.Period); err != nil {
		return nil, postgres.TranslateError(err, "create sequence counter")
	}

	query := `
		SELECT partition_key, period, current_value, created_at, updated_at
		FROM sequence_counters
		WHERE partition_key = $1 AND period = $2`

	var c sequence.Counter
	if err := q.GetContext(ctx, &c, query, key.PartitionKey, key.Period); err != nil {
		return nil, postgres.TranslateError(err, "get sequence counter")
	}
	return &c, nil
}

func (r *counterRepository) LockCounter(ctx context.Context, key sequence.Key) (*sequence.Counter, error) {
	if _, ok := postgres.GetTx(ctx); !ok {
		return nil, ierr.NewError("counter lock requested outside a transaction").
			WithReportableDetails(map[string]any{"key": key.String()}).
			Mark(ierr.ErrSystem)
	}

	query := `
		SELECT partition_key, period, current_value, created_at, updated_at
		FROM sequence_counters
		WHERE partition_key = $1 AND period = $2
		FOR UPDATE`

	var c sequence.Counter
	if err := r.db.GetQuerier(ctx).GetContext(ctx, &c, query, key.PartitionKey, key.Period); err != nil {
		translated := postgres.TranslateError(err, "lock sequence counter")
		if ierr.IsNotFound(translated) {
			// The row was created a moment ago in this same transaction, so
			// it can only be missing if something deleted it underneath us.
			return nil, ierr.WithError(err).
				WithHint("Could not save, please retry").
				WithReportableDetails(map[string]any{"key": key.String()}).
				Mark(ierr.ErrAllocationFailed)
		}
		return nil, translated
	}
	return &c, nil
}

func (r *counterRepository) SetCounter(ctx context.Context, key sequence.Key, expected, value int64) (int64, error) {
	query := `
		UPDATE sequence_counters
		SET current_value = $4, updated_at = CURRENT_TIMESTAMP
		WHERE partition_key = $1 AND period = $2 AND current_value = $3
		RETURNING current_value`

	var applied int64
	err := r.db.GetQuerier(ctx).GetContext(ctx, &applied, query, key.PartitionKey, key.Period, expected, value)
	if err != nil {
		translated := postgres.TranslateError(err, "update sequence counter")
		if ierr.IsNotFound(translated) {
			return 0, ierr.WithError(errors.New("counter update affected no rows")).
				WithHint("Could not save, please retry").
				WithReportableDetails(map[string]any{
					"key":      key.String(),
					"expected": expected,
					"value":    value,
				}).
				Mark(ierr.ErrAllocationFailed)
		}
		return 0, translated
	}
	return applied, nil
}

func (r *counterRepository) ListCounters(ctx context.Context) ([]*sequence.Counter, error) {
	query := `
		SELECT partition_key, period, current_value, created_at, updated_at
		FROM sequence_counters
		ORDER BY partition_key, period`

	var counters []*sequence.Counter
	if err := r.db.GetQuerier(ctx).SelectContext(ctx, &counters, query); err != nil {
		return nil, postgres.TranslateError(err, "list sequence counters")
	}
	return counters, nil
}
