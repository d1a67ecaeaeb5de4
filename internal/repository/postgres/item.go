package postgres

import (
	"context"

	"github.com/branchdesk/sequencer/internal/domain/sequence"
	"github.com/branchdesk/sequencer/internal/domain/submission"
	"github.com/branchdesk/sequencer/internal/logger"
	"github.com/branchdesk/sequencer/internal/postgres"
	"github.com/branchdesk/sequencer/internal/types"
)

type itemRepository struct {
	db     *postgres.DB
	logger *logger.Logger
}

// NewItemRepository creates the item store, which doubles as the floor reader
func NewItemRepository(db *postgres.DB, logger *logger.Logger) submission.ItemRepository {
	return &itemRepository{db: db, logger: logger}
}

const insertItemsQuery = `
	INSERT INTO sequenced_items (
		id, submission_id, partition_key, period, sequence_number,
		position, description, amount, created_at, created_by
	) VALUES (
		:id, :submission_id, :partition_key, :period, :sequence_number,
		:position, :description, :amount, :created_at, :created_by
	)`

func (r *itemRepository) ObservedFloor(ctx context.Context, key sequence.Key) (int64, error) {
	query := `
		SELECT COALESCE(MAX(sequence_number), 0)
		FROM sequenced_items
		WHERE partition_key = $1 AND period = $2`

	var floor int64
	if err := r.db.GetQuerier(ctx).GetContext(ctx, &floor, query, key.PartitionKey, key.Period); err != nil {
		return 0, postgres.TranslateError(err, "read observed floor")
	}
	return floor, nil
}

func (r *itemRepository) ListObservedFloors(ctx context.Context) (map[sequence.Key]int64, error) {
	query := `
		SELECT partition_key, period, MAX(sequence_number) AS floor
		FROM sequenced_items
		GROUP BY partition_key, period`

	var rows []struct {
		PartitionKey string       `db:"partition_key"`
		Period       types.Period `db:"period"`
		Floor        int64        `db:"floor"`
	}
	if err := r.db.GetQuerier(ctx).SelectContext(ctx, &rows, query); err != nil {
		return nil, postgres.TranslateError(err, "list observed floors")
	}

	floors := make(map[sequence.Key]int64, len(rows))
	for _, row := range rows {
		floors[sequence.Key{PartitionKey: row.PartitionKey, Period: row.Period}] = row.Floor
	}
	return floors, nil
}

func (r *itemRepository) ListBySubmission(ctx context.Context, submissionID string) ([]*submission.Item, error) {
	query := `
		SELECT id, submission_id, partition_key, period, sequence_number,
			position, description, amount, created_at, created_by
		FROM sequenced_items
		WHERE submission_id = $1
		ORDER BY position`

	var items []*submission.Item
	if err := r.db.GetQuerier(ctx).SelectContext(ctx, &items, query, submissionID); err != nil {
		return nil, postgres.TranslateError(err, "list submission items")
	}
	return items, nil
}

func (r *itemRepository) ReplaceForSubmission(ctx context.Context, submissionID string, items []*submission.Item) error {
	q := r.db.GetQuerier(ctx)
	if _, err := q.ExecContext(ctx, `DELETE FROM sequenced_items WHERE submission_id = $1`, submissionID); err != nil {
		return postgres.TranslateError(err, "delete submission items")
	}
	return r.Insert(ctx, items)
}

func (r *itemRepository) Insert(ctx context.Context, items []*submission.Item) error {
	if len(items) == 0 {
		return nil
	}
	if _, err := r.db.GetQuerier(ctx).NamedExecContext(ctx, insertItemsQuery, items); err != nil {
		return postgres.TranslateError(err, "insert submission items")
	}
	r.logger.Debugw("inserted sequenced items", "count", len(items), "submission_id", items[0].SubmissionID)
	return nil
}
